/*************************************************************************
 * HORACE - host-observation capture and forward pipeline.
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 *************************************************************************/

package main

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gdshaw/horace/endpoint"
	"github.com/gdshaw/horace/herrors"
	"github.com/gdshaw/horace/horacelog"
	"github.com/gdshaw/horace/record"
	"github.com/gdshaw/horace/session"
)

// writerAdapter lets an endpoint.SessionWriter serve as a
// session.Writer, the minimal interface the pipeline depends on.
type writerAdapter struct {
	w endpoint.SessionWriter
}

func (a writerAdapter) Write(rec *record.Record) error { return a.w.Write(rec) }
func (a writerAdapter) Writable() bool                 { return a.w.Writable() }

func runCapture(args []string) int {
	fs := flag.NewFlagSet("capture", flag.ContinueOnError)
	source := fs.String("source-id", "", "source ID for this capture session (required)")
	hashName := fs.String("hash", "sha256", "hash-chain algorithm: sha256, blake2b256, highwayhash256, or none")
	signKey := fs.String("sign-key", "", "ed25519:<pub-hex>:<sec-hex> signing keypair, as produced by genkey")
	signDelayMs := fs.Int("sign-delay-ms", 0, "simulated signer latency in milliseconds")
	syncInterval := fs.Duration("sync-interval", 5*time.Second, "interval between sync checkpoints")
	verbosity := fs.Int("v", 0, "log verbosity, 0=warn .. 2=debug")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() != 2 {
		fmt.Fprintln(os.Stderr, "usage: horace capture -source-id ID <source-endpoint> <destination-endpoint>")
		return 1
	}
	if *source == "" {
		fmt.Fprintln(os.Stderr, "horace capture: -source-id is required")
		return 1
	}

	log := horacelog.New(os.Stderr)
	log.SetAppname("horace-capture")
	if *verbosity >= 2 {
		log.SetLevel(horacelog.DEBUG)
	} else if *verbosity >= 1 {
		log.SetLevel(horacelog.INFO)
	} else {
		log.SetLevel(horacelog.WARN)
	}

	srcEP, err := endpoint.Parse(fs.Arg(0))
	if err != nil {
		log.Errorf("endpoint", "invalid source endpoint: %v", err)
		return 1
	}
	dstEP, err := endpoint.Parse(fs.Arg(1))
	if err != nil {
		log.Errorf("endpoint", "invalid destination endpoint: %v", err)
		return 1
	}

	evReader, err := endpoint.OpenEventReader(srcEP)
	if err != nil {
		log.Errorf("endpoint", "cannot open source endpoint: %v", err)
		return 1
	}
	defer evReader.Close()

	sessWriter, err := endpoint.OpenSessionWriter(dstEP, *source)
	if err != nil {
		log.Errorf("endpoint", "cannot open destination endpoint: %v", err)
		return 1
	}
	defer sessWriter.Close()

	var hashAlgo session.HashAlgorithm
	if *hashName != "none" {
		hashAlgo, err = session.HashAlgorithmByName(*hashName)
		if err != nil {
			log.Errorf("config", "%v", err)
			return 1
		}
	}

	var signPub ed25519.PublicKey
	var signPriv ed25519.PrivateKey
	if *signKey != "" {
		signPub, signPriv, err = parseSignKey(*signKey)
		if err != nil {
			log.Errorf("config", "invalid -sign-key: %v", err)
			return 1
		}
	}

	builder := session.NewBuilder(*source, record.TimestampFromTime(time.Now()))
	builder.DefineChannel("events")
	if hashAlgo != nil {
		builder.DefineHash(hashAlgo.Name())
	}
	if signPub != nil {
		builder.DefineKeypair(signPub)
	}
	startRec := builder.Build()

	pipeline := session.NewPipeline(writerAdapter{sessWriter})
	if err := pipeline.BeginSession(startRec, hashAlgo, signPriv, time.Duration(*signDelayMs)*time.Millisecond); err != nil {
		log.Errorf("session", "cannot start session: %v", err)
		return 1
	}
	log.Infof("session", "session %s started", *source)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()

	ticker := time.NewTicker(*syncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			endRec := record.NewRecord(record.ChannelSessionEnd, record.NewAttributeList(
				record.NewCompoundAttribute(record.AttrEnd, nil),
			))
			if err := pipeline.EndSession(endRec); err != nil {
				log.Errorf("session", "error ending session: %v", err)
				return 1
			}
			log.Infof("session", "session %s ended", *source)
			return 0
		case <-ticker.C:
			if err := pipeline.SyncTick(record.TimestampFromTime(time.Now())); err != nil {
				log.Errorf("session", "sync failed: %v", err)
				return 1
			}
			ack, err := sessWriter.ReadAck(ctx)
			if err != nil {
				if herrors.Is(err, herrors.Terminate) {
					continue
				}
				log.Errorf("session", "ack wait failed: %v", err)
				return 1
			}
			if err := pipeline.HandleAck(ack); err != nil {
				log.Errorf("session", "ack mismatch: %v", err)
				return 1
			}
		default:
			rec, err := evReader.ReadEvent(ctx)
			if err != nil {
				if herrors.Is(err, herrors.Terminate) {
					continue
				}
				log.Errorf("capture", "capture source failed: %v", err)
				return 1
			}
			if err := pipeline.WriteEvent(rec); err != nil {
				if herrors.KindOf(err) == herrors.Fatal {
					log.Errorf("capture", "destination not writable, terminating: %v", err)
					return 1
				}
				log.Errorf("capture", "write failed: %v", err)
			}
		}
	}
}

func parseSignKey(s string) (ed25519.PublicKey, ed25519.PrivateKey, error) {
	parts := strings.SplitN(s, ":", 3)
	if len(parts) != 3 || parts[0] != "ed25519" {
		return nil, nil, fmt.Errorf("expected ed25519:<pub-hex>:<sec-hex>")
	}
	pub, err := hex.DecodeString(parts[1])
	if err != nil || len(pub) != ed25519.PublicKeySize {
		return nil, nil, fmt.Errorf("invalid public key")
	}
	sec, err := hex.DecodeString(parts[2])
	if err != nil || len(sec) != ed25519.PrivateKeySize {
		return nil, nil, fmt.Errorf("invalid private key")
	}
	return ed25519.PublicKey(pub), ed25519.PrivateKey(sec), nil
}
