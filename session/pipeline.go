/*************************************************************************
 * HORACE - host-observation capture and forward pipeline.
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 *************************************************************************/

package session

import (
	"crypto/ed25519"
	"fmt"
	"sync"
	"time"

	"github.com/gdshaw/horace/herrors"
	"github.com/gdshaw/horace/record"
)

// State is one state of the session pipeline's state machine.
type State int

const (
	Idle State = iota
	Streaming
	AwaitAck
	Errored
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Streaming:
		return "streaming"
	case AwaitAck:
		return "await-ack"
	case Errored:
		return "errored"
	default:
		return "unknown"
	}
}

// Writer is the destination a pipeline emits records to: a session
// writer endpoint, or a spool acting as one. Defined locally (rather
// than imported from endpoint) to keep session free of a dependency on
// endpoint; every concrete session-writer satisfies it structurally.
type Writer interface {
	Write(rec *record.Record) error
	Writable() bool
}

// ErrOutOfOrder is returned by BeginSession when the pipeline is not
// idle.
var ErrOutOfOrder = fmt.Errorf("session already in progress")

// ErrAckMismatch is returned by HandleAck when the ack's (timestamp,
// seqnum) does not match the outstanding sync.
var ErrAckMismatch = fmt.Errorf("ack does not match outstanding sync")

// ErrNotWritable is returned when the destination has signalled it
// cannot currently accept writes.
var ErrNotWritable = fmt.Errorf("destination not writable")

// outstandingSync records the (timestamp, seqnum) of a sync awaiting
// acknowledgement.
type outstandingSync struct {
	ts     record.Timestamp
	seqnum uint64
}

// Pipeline drives one session's worth of records to a Writer: start,
// stream events (seqnum + optional hash chain + optional async
// signature), periodic sync/ack, end. It serialises every record
// emission under a single mutex, since it may be entered concurrently
// by several capture threads sharing one source.
type Pipeline struct {
	mu sync.Mutex

	dest   Writer
	ctx    *Context
	state  State
	source string

	seqnum   uint64
	hashAlgo HashAlgorithm
	prevHash []byte

	signer       *Signer
	signingChan  int64
	maxWriteTry  int
	retryBackoff time.Duration

	outstanding *outstandingSync
}

// NewPipeline constructs a pipeline writing to dest. ctx is seeded
// fresh for each session start.
func NewPipeline(dest Writer) *Pipeline {
	return &Pipeline{
		dest:         dest,
		ctx:          NewContext(),
		state:        Idle,
		maxWriteTry:  3,
		retryBackoff: 50 * time.Millisecond,
	}
}

// Context returns the pipeline's live session context, usable as a
// record.FormatResolver for inbound records on the same session.
func (p *Pipeline) Context() *Context {
	return p.ctx
}

// State returns the pipeline's current state.
func (p *Pipeline) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// BeginSession emits start (normally built by a Builder) and moves the
// pipeline from Idle to Streaming. It fails with ErrOutOfOrder if a
// session is already in progress.
func (p *Pipeline) BeginSession(start *record.Record, hashAlgo HashAlgorithm, signingKey ed25519.PrivateKey, signDelay time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != Idle {
		return herrors.New(herrors.Protocol, ErrOutOfOrder)
	}
	sourceAttr, err := start.Attributes().FindOne(record.AttrSource)
	if err != nil {
		return herrors.New(herrors.Protocol, fmt.Errorf("session-start: %w", err))
	}
	sourceStr, ok := sourceAttr.(*record.StringAttribute)
	if !ok {
		return herrors.New(herrors.Protocol, fmt.Errorf("session-start: source attribute has wrong format"))
	}

	ctx := NewContext()
	if err := ApplySessionStart(ctx, start); err != nil {
		return err
	}

	if err := p.writeLocked(start); err != nil {
		return err
	}

	p.ctx = ctx
	p.source = sourceStr.Value()
	p.seqnum = 0
	p.hashAlgo = hashAlgo
	p.prevHash = nil
	p.outstanding = nil
	p.state = Streaming

	if signingKey != nil {
		p.signer = NewSigner(signingKey, signDelay, p.deliverSignature)
	}
	return nil
}

// WriteEvent assigns the next seqnum and (if enabled) hash attribute
// to rec, writes it, and advances the chain. rec's channel must be
// non-negative.
func (p *Pipeline) WriteEvent(rec *record.Record) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != Streaming {
		return herrors.New(herrors.Protocol, fmt.Errorf("write-event: pipeline is %s, not streaming", p.state))
	}
	if !rec.IsEvent() {
		return herrors.New(herrors.Protocol, fmt.Errorf("write-event: channel %d is not an event channel", rec.Channel()))
	}

	attrs := rec.Attributes().Clone()
	attrs.Append(record.NewUnsignedAttribute(record.AttrSeqnum, p.seqnum))
	if p.hashAlgo != nil && p.prevHash != nil {
		attrs.Append(record.NewBinaryAttribute(record.AttrHash, p.prevHash))
	}
	toWrite := record.NewRecord(rec.Channel(), attrs)

	if err := p.writeLocked(toWrite); err != nil {
		return err
	}

	if p.hashAlgo != nil {
		encoded, err := toWrite.Encode()
		if err != nil {
			return herrors.New(herrors.Fatal, err)
		}
		p.prevHash = p.hashAlgo.Sum(encoded)
		if p.signer != nil {
			p.signer.Offer(p.seqnum, p.prevHash)
		}
	}
	p.seqnum++
	return nil
}

// SyncTick emits a sync record carrying (now, current seqnum) and
// moves the pipeline to AwaitAck.
func (p *Pipeline) SyncTick(now record.Timestamp) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != Streaming {
		return herrors.New(herrors.Protocol, fmt.Errorf("sync-tick: pipeline is %s, not streaming", p.state))
	}
	sync := record.NewRecord(record.ChannelSync, record.NewAttributeList(
		record.NewTimestampAttribute(record.AttrTS, now),
		record.NewUnsignedAttribute(record.AttrSeqnum, p.seqnum),
	))
	if err := p.writeLocked(sync); err != nil {
		return err
	}
	p.outstanding = &outstandingSync{ts: now, seqnum: p.seqnum}
	p.state = AwaitAck
	return nil
}

// HandleAck processes an inbound ack record. A matching ack returns
// the pipeline to Streaming; any mismatch moves it to Errored and
// returns ErrAckMismatch.
func (p *Pipeline) HandleAck(ack *record.Record) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != AwaitAck || p.outstanding == nil {
		return herrors.New(herrors.Protocol, fmt.Errorf("ack: no outstanding sync"))
	}
	tsAttr, err := ack.Attributes().FindOne(record.AttrTS)
	if err != nil {
		p.state = Errored
		return herrors.New(herrors.Protocol, fmt.Errorf("ack: %w: %v", ErrAckMismatch, err))
	}
	ts, ok := tsAttr.(*record.TimestampAttribute)
	if !ok {
		p.state = Errored
		return herrors.New(herrors.Protocol, ErrAckMismatch)
	}
	seqAttr, err := ack.Attributes().FindOne(record.AttrSeqnum)
	if err != nil {
		p.state = Errored
		return herrors.New(herrors.Protocol, fmt.Errorf("ack: %w: %v", ErrAckMismatch, err))
	}
	seq, ok := seqAttr.(*record.UnsignedAttribute)
	if !ok {
		p.state = Errored
		return herrors.New(herrors.Protocol, ErrAckMismatch)
	}
	if !ts.Value().Equal(p.outstanding.ts) || seq.Value() != p.outstanding.seqnum {
		p.state = Errored
		return herrors.New(herrors.Protocol, ErrAckMismatch)
	}
	p.outstanding = nil
	p.state = Streaming
	return nil
}

// EndSession writes end and returns the pipeline to Idle, stopping any
// signer goroutine.
func (p *Pipeline) EndSession(end *record.Record) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != Streaming {
		return herrors.New(herrors.Protocol, fmt.Errorf("end-session: pipeline is %s, not streaming", p.state))
	}
	if err := p.writeLocked(end); err != nil {
		return err
	}
	if p.signer != nil {
		p.signer.Close()
		p.signer = nil
	}
	p.state = Idle
	return nil
}

func (p *Pipeline) deliverSignature(seqnum uint64, sig []byte) {
	rec := record.NewRecord(p.signingChanOrDefault(), record.NewAttributeList(
		record.NewUnsignedAttribute(record.AttrSeqnum, seqnum),
		record.NewBinaryAttribute(record.AttrSig, sig),
	))
	p.mu.Lock()
	defer p.mu.Unlock()
	_ = p.writeLocked(rec)
}

func (p *Pipeline) signingChanOrDefault() int64 {
	if p.signingChan != 0 {
		return p.signingChan
	}
	return record.ChannelSignature
}

// writeLocked makes up to maxWriteTry attempts in all to write the same
// record before converting the failure to fatal-endpoint.
func (p *Pipeline) writeLocked(rec *record.Record) error {
	var lastErr error
	for attempt := 0; attempt < p.maxWriteTry; attempt++ {
		if !p.dest.Writable() {
			return herrors.New(herrors.Fatal, ErrNotWritable)
		}
		if err := p.dest.Write(rec); err != nil {
			lastErr = err
			time.Sleep(p.retryBackoff)
			continue
		}
		return nil
	}
	return herrors.New(herrors.Fatal, fmt.Errorf("write failed after %d attempts: %w", p.maxWriteTry, lastErr))
}
