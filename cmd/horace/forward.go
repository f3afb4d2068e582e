/*************************************************************************
 * HORACE - host-observation capture and forward pipeline.
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 *************************************************************************/

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/gdshaw/horace/endpoint"
	"github.com/gdshaw/horace/herrors"
	"github.com/gdshaw/horace/horacelog"
	"github.com/gdshaw/horace/record"
	"github.com/gdshaw/horace/session"
)

// runForward listens for inbound sessions on a source (session
// listener) endpoint and relays each, record for record, to a
// destination (session writer) endpoint, logging (but not rejecting)
// any seqnum discontinuity it observes along the way.
func runForward(args []string) int {
	fs := flag.NewFlagSet("forward", flag.ContinueOnError)
	verbosity := fs.Int("v", 0, "log verbosity, 0=warn .. 2=debug")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() != 2 {
		fmt.Fprintln(os.Stderr, "usage: horace forward <source-listener-endpoint> <destination-endpoint>")
		return 1
	}

	log := horacelog.New(os.Stderr)
	log.SetAppname("horace-forward")
	switch {
	case *verbosity >= 2:
		log.SetLevel(horacelog.DEBUG)
	case *verbosity >= 1:
		log.SetLevel(horacelog.INFO)
	default:
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

	listener, err := endpoint.OpenSessionListener(srcEP)
	if err != nil {
		log.Errorf("endpoint", "cannot open source listener: %v", err)
		return 1
	}
	defer listener.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()

	for {
		upstream, err := listener.Accept(ctx)
		if err != nil {
			if herrors.Is(err, herrors.Terminate) {
				return 0
			}
			log.Errorf("forward", "accept failed: %v", err)
			return 1
		}
		if err := relaySession(ctx, upstream, dstEP, log); err != nil {
			if herrors.Is(err, herrors.Terminate) {
				upstream.Close()
				return 0
			}
			log.Errorf("forward", "session relay ended: %v", err)
		}
		upstream.Close()
	}
}

// relaySession relays one upstream session to dstEP until the upstream
// closes, the destination becomes permanently unwritable, or ctx is
// cancelled.
func relaySession(ctx context.Context, upstream endpoint.SessionReader, dstEP *endpoint.Endpoint, log *horacelog.Logger) error {
	resolver := session.NewContext()

	start, err := upstream.Read(ctx, resolver)
	if err != nil {
		return err
	}
	if start.Channel() != record.ChannelSession {
		return herrors.New(herrors.Protocol, fmt.Errorf("forward: expected session-start, got channel %d", start.Channel()))
	}
	if err := session.ApplySessionStart(resolver, start); err != nil {
		return err
	}
	sourceAttr, err := start.Attributes().FindOne(record.AttrSource)
	if err != nil {
		return herrors.New(herrors.Protocol, fmt.Errorf("forward: session-start missing source: %w", err))
	}
	sourceStr, ok := sourceAttr.(*record.StringAttribute)
	if !ok {
		return herrors.New(herrors.Protocol, fmt.Errorf("forward: source attribute has wrong format"))
	}
	sourceID := sourceStr.Value()

	downstream, err := endpoint.OpenSessionWriter(dstEP, sourceID)
	if err != nil {
		return err
	}
	defer downstream.Close()

	if err := downstream.Write(start); err != nil {
		return err
	}
	log.Infof("forward", "relaying session %s", sourceID)

	g, gctx := errgroup.WithContext(ctx)
	innerCtx, cancel := context.WithCancel(gctx)
	defer cancel()

	g.Go(func() error {
		relayAcks(innerCtx, downstream, upstream, log)
		return nil
	})
	g.Go(func() error {
		err := relayRecords(innerCtx, resolver, upstream, downstream, log)
		cancel()
		return err
	})
	return g.Wait()
}

// relayRecords copies records from upstream to downstream until the
// session ends, the upstream closes, or ctx is cancelled.
func relayRecords(ctx context.Context, resolver record.FormatResolver, upstream endpoint.SessionReader, downstream endpoint.SessionWriter, log *horacelog.Logger) error {
	var expected uint64
	started := false
	for {
		rec, err := upstream.Read(ctx, resolver)
		if err != nil {
			return err
		}
		if rec.IsEvent() {
			next := rec.UpdateSeqnum(expected)
			if started && next != expected {
				log.Warn("forward", fmt.Sprintf("seqnum discontinuity: expected %d, got %d", expected, next))
			}
			expected = next + 1
			started = true
		}

		if err := downstream.Write(rec); err != nil {
			if herrors.KindOf(err) == herrors.Fatal {
				return err
			}
			log.Errorf("forward", "downstream write failed, dropping record: %v", err)
			continue
		}
		if rec.Channel() == record.ChannelSessionEnd {
			return nil
		}
	}
}

// relayAcks copies acks flowing back from the downstream writer to the
// upstream reader, so the original source sees its sync checkpoints
// confirmed. It returns once ctx is cancelled or the downstream ack
// channel fails.
func relayAcks(ctx context.Context, downstream endpoint.SessionWriter, upstream endpoint.SessionReader, log *horacelog.Logger) {
	for {
		ack, err := downstream.ReadAck(ctx)
		if err != nil {
			if !herrors.Is(err, herrors.Terminate) {
				log.Errorf("forward", "ack relay failed: %v", err)
			}
			return
		}
		if err := upstream.WriteAck(ack); err != nil {
			log.Errorf("forward", "failed to relay ack upstream: %v", err)
		}
	}
}
