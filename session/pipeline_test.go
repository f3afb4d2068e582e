/*************************************************************************
 * HORACE - host-observation capture and forward pipeline.
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 *************************************************************************/

package session

import (
	"crypto/ed25519"
	"sync"
	"testing"
	"time"

	"github.com/gdshaw/horace/herrors"
	"github.com/gdshaw/horace/record"
)

// memWriter is a Writer that keeps every record it is given, for
// assertions in the tests below.
type memWriter struct {
	mu       sync.Mutex
	recs     []*record.Record
	writable bool
	failNext int
}

func newMemWriter() *memWriter {
	return &memWriter{writable: true}
}

func (w *memWriter) Write(rec *record.Record) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.failNext > 0 {
		w.failNext--
		return errTransientWrite
	}
	w.recs = append(w.recs, rec.Clone())
	return nil
}

func (w *memWriter) Writable() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.writable
}

func (w *memWriter) all() []*record.Record {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]*record.Record, len(w.recs))
	copy(out, w.recs)
	return out
}

var errTransientWrite = &transientErr{}

type transientErr struct{}

func (*transientErr) Error() string { return "transient write failure" }

func startedPipeline(t *testing.T, w *memWriter) *Pipeline {
	t.Helper()
	p := NewPipeline(w)
	b := NewBuilder("host-a", record.TimestampFromTime(time.Now()))
	b.DefineChannel("events")
	start := b.Build()
	if err := p.BeginSession(start, nil, nil, 0); err != nil {
		t.Fatalf("BeginSession: %v", err)
	}
	return p
}

func TestPipelineBeginSessionRejectsDoubleStart(t *testing.T) {
	w := newMemWriter()
	p := startedPipeline(t, w)
	b := NewBuilder("host-a", record.TimestampFromTime(time.Now()))
	start := b.Build()
	if err := p.BeginSession(start, nil, nil, 0); err == nil {
		t.Fatal("expected ErrOutOfOrder starting a second session")
	}
}

func TestPipelineSeqnumMonotone(t *testing.T) {
	w := newMemWriter()
	p := startedPipeline(t, w)
	for i := 0; i < 5; i++ {
		ev := record.NewRecord(0, record.NewAttributeList(
			record.NewTimestampAttribute(record.AttrTS, record.TimestampFromTime(time.Now())),
		))
		if err := p.WriteEvent(ev); err != nil {
			t.Fatalf("WriteEvent %d: %v", i, err)
		}
	}
	var prev uint64
	seen := 0
	for _, rec := range w.all() {
		if !rec.IsEvent() {
			continue
		}
		seq := rec.UpdateSeqnum(^uint64(0))
		if seen > 0 && seq != prev+1 {
			t.Fatalf("seqnum not monotone: prev=%d got=%d", prev, seq)
		}
		prev = seq
		seen++
	}
	if seen != 5 {
		t.Fatalf("expected 5 events, got %d", seen)
	}
}

func TestPipelineHashChainLinksConsecutiveEvents(t *testing.T) {
	w := newMemWriter()
	p := startedPipeline(t, w)
	p.hashAlgo = SHA256Algorithm

	for i := 0; i < 3; i++ {
		ev := record.NewRecord(0, record.NewAttributeList(
			record.NewTimestampAttribute(record.AttrTS, record.TimestampFromTime(time.Now())),
		))
		if err := p.WriteEvent(ev); err != nil {
			t.Fatalf("WriteEvent %d: %v", i, err)
		}
	}

	var events []*record.Record
	for _, rec := range w.all() {
		if rec.IsEvent() {
			events = append(events, rec)
		}
	}
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	if events[0].Attributes().Contains(record.AttrHash) {
		t.Fatal("first event should carry no hash attribute")
	}
	for i := 1; i < len(events); i++ {
		hashAttr, err := events[i].Attributes().FindOne(record.AttrHash)
		if err != nil {
			t.Fatalf("event %d missing hash attribute: %v", i, err)
		}
		prevEncoded, err := events[i-1].Encode()
		if err != nil {
			t.Fatalf("encode event %d: %v", i-1, err)
		}
		wantSum := SHA256Algorithm.Sum(prevEncoded)
		gotSum := hashAttr.(*record.BinaryAttribute).Value()
		if string(gotSum) != string(wantSum) {
			t.Fatalf("event %d hash does not chain to event %d's encoding", i, i-1)
		}
	}
}

func TestPipelineAckMismatchGoesErrored(t *testing.T) {
	w := newMemWriter()
	p := startedPipeline(t, w)
	now := record.TimestampFromTime(time.Now())
	if err := p.SyncTick(now); err != nil {
		t.Fatalf("SyncTick: %v", err)
	}
	badAck := record.NewRecord(record.ChannelAck, record.NewAttributeList(
		record.NewTimestampAttribute(record.AttrTS, now),
		record.NewUnsignedAttribute(record.AttrSeqnum, 999),
	))
	if err := p.HandleAck(badAck); err == nil {
		t.Fatal("expected ack mismatch error")
	}
	if p.State() != Errored {
		t.Fatalf("expected Errored state, got %s", p.State())
	}
}

func TestPipelineAckMatchReturnsToStreaming(t *testing.T) {
	w := newMemWriter()
	p := startedPipeline(t, w)
	now := record.TimestampFromTime(time.Now())
	if err := p.SyncTick(now); err != nil {
		t.Fatalf("SyncTick: %v", err)
	}
	if p.State() != AwaitAck {
		t.Fatalf("expected AwaitAck, got %s", p.State())
	}
	goodAck := record.NewRecord(record.ChannelAck, record.NewAttributeList(
		record.NewTimestampAttribute(record.AttrTS, now),
		record.NewUnsignedAttribute(record.AttrSeqnum, 0),
	))
	if err := p.HandleAck(goodAck); err != nil {
		t.Fatalf("HandleAck: %v", err)
	}
	if p.State() != Streaming {
		t.Fatalf("expected Streaming, got %s", p.State())
	}
}

func TestPipelineWriteRetriesThenFatal(t *testing.T) {
	w := newMemWriter()
	p := startedPipeline(t, w)
	w.failNext = 3
	ev := record.NewRecord(0, nil)
	err := p.WriteEvent(ev)
	if err == nil {
		t.Fatal("expected write failure after exhausting retries")
	}
	if herrors.KindOf(err) != herrors.Fatal {
		t.Fatalf("expected a fatal-endpoint error after exhausting retries, got %v", err)
	}
}

func TestPipelineSignerDeliversSignature(t *testing.T) {
	w := newMemWriter()
	p := NewPipeline(w)
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	b := NewBuilder("host-a", record.TimestampFromTime(time.Now()))
	b.DefineChannel("events")
	b.DefineHash(SHA256Algorithm.Name())
	b.DefineKeypair(pub)
	start := b.Build()
	if err := p.BeginSession(start, SHA256Algorithm, priv, 0); err != nil {
		t.Fatalf("BeginSession: %v", err)
	}

	ev := record.NewRecord(0, record.NewAttributeList(
		record.NewTimestampAttribute(record.AttrTS, record.TimestampFromTime(time.Now())),
	))
	if err := p.WriteEvent(ev); err != nil {
		t.Fatalf("WriteEvent: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		for _, rec := range w.all() {
			if rec.Channel() == record.ChannelSignature {
				sigAttr, err := rec.Attributes().FindOne(record.AttrSig)
				if err != nil {
					t.Fatalf("signature record missing sig attribute: %v", err)
				}
				sig := sigAttr.(*record.BinaryAttribute).Value()
				if len(sig) != ed25519.SignatureSize {
					t.Fatalf("unexpected signature size %d", len(sig))
				}
				return
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("timed out waiting for a delivered signature")
}
