/*************************************************************************
 * HORACE - host-observation capture and forward pipeline.
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 *************************************************************************/

package spool

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gdshaw/horace/record"
)

func sessionStartRecord() *record.Record {
	return record.NewRecord(record.ChannelSession, record.NewAttributeList(
		record.NewStringAttribute(record.AttrSource, "host-a"),
		record.NewTimestampAttribute(record.AttrTS, record.TimestampFromTime(time.Unix(1700000000, 0))),
	))
}

func eventRecord(seqnum uint64) *record.Record {
	return record.NewRecord(0, record.NewAttributeList(
		record.NewTimestampAttribute(record.AttrTS, record.TimestampFromTime(time.Unix(1700000000, 0))),
		record.NewUnsignedAttribute(record.AttrSeqnum, seqnum),
	))
}

// TestWriterRolloverReemitsSessionStart forces a rollover on every
// event (capacity 1) and checks that each resulting spoolfile begins
// with a fresh copy of the session-start record.
func TestWriterRolloverReemitsSessionStart(t *testing.T) {
	dir := t.TempDir()
	w, err := OpenWriter(dir, 1)
	if err != nil {
		t.Fatalf("OpenWriter: %v", err)
	}
	start := sessionStartRecord()
	if err := w.StartSession(start); err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	for i := uint64(1); i <= 3; i++ {
		if err := w.Write(eventRecord(i)); err != nil {
			t.Fatalf("Write event %d: %v", i, err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	first, next, width, err := Scan(dir)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if first != 0 || next != 3 {
		t.Fatalf("expected 3 spoolfiles (0..2), got first=%d next=%d", first, next)
	}

	for n := first; n < next; n++ {
		f, err := os.Open(filepath.Join(dir, Filename(n, width)))
		if err != nil {
			t.Fatalf("open spoolfile %d: %v", n, err)
		}
		rd := record.NewReader(f)
		rec, err := record.ParseRecord(nil, rd)
		if err != nil {
			t.Fatalf("parse first record of spoolfile %d: %v", n, err)
		}
		if rec.Channel() != record.ChannelSession {
			t.Fatalf("spoolfile %d: expected session-start as first record, got channel %d", n, rec.Channel())
		}
		f.Close()
	}
}

// TestReaderAckDeletesSpoolfilesInOrder exercises the full at-least-once
// writer/reader/ack cycle: every spoolfile is eventually visited in
// order, a sync record is synthesised at each file boundary while a
// later file already exists, and each acked file is removed once a
// successor exists on disk.
func TestReaderAckDeletesSpoolfilesInOrder(t *testing.T) {
	dir := t.TempDir()
	w, err := OpenWriter(dir, 1)
	if err != nil {
		t.Fatalf("OpenWriter: %v", err)
	}
	start := sessionStartRecord()
	if err := w.StartSession(start); err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	for i := uint64(1); i <= 3; i++ {
		if err := w.Write(eventRecord(i)); err != nil {
			t.Fatalf("Write event %d: %v", i, err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	r, err := OpenReader(dir, false)
	if err != nil {
		t.Fatalf("OpenReader: %v", err)
	}
	defer r.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	// File 0: session-start, event 1, then a synthesised sync since
	// file 1 already exists.
	rec, err := r.Read(ctx, nil)
	if err != nil {
		t.Fatalf("Read session-start: %v", err)
	}
	if rec.Channel() != record.ChannelSession {
		t.Fatalf("expected session-start, got channel %d", rec.Channel())
	}

	rec, err = r.Read(ctx, nil)
	if err != nil {
		t.Fatalf("Read event 1: %v", err)
	}
	if !rec.IsEvent() {
		t.Fatalf("expected an event record, got channel %d", rec.Channel())
	}

	rec, err = r.Read(ctx, nil)
	if err != nil {
		t.Fatalf("Read sync: %v", err)
	}
	if rec.Channel() != record.ChannelSync {
		t.Fatalf("expected synthesised sync record, got channel %d", rec.Channel())
	}
	if err := r.Ack(); err != nil {
		t.Fatalf("Ack: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, Filename(0, defaultWidth))); !os.IsNotExist(err) {
		t.Fatal("expected spoolfile 0 to be removed after ack")
	}

	// File 1: session-start re-emitted, event 2, sync.
	rec, err = r.Read(ctx, nil)
	if err != nil {
		t.Fatalf("Read re-emitted session-start: %v", err)
	}
	if rec.Channel() != record.ChannelSession {
		t.Fatalf("expected re-emitted session-start, got channel %d", rec.Channel())
	}
	rec, err = r.Read(ctx, nil)
	if err != nil {
		t.Fatalf("Read event 2: %v", err)
	}
	if !rec.IsEvent() {
		t.Fatalf("expected an event record, got channel %d", rec.Channel())
	}
	rec, err = r.Read(ctx, nil)
	if err != nil {
		t.Fatalf("Read sync: %v", err)
	}
	if rec.Channel() != record.ChannelSync {
		t.Fatalf("expected synthesised sync record, got channel %d", rec.Channel())
	}
	if err := r.Ack(); err != nil {
		t.Fatalf("Ack: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, Filename(1, defaultWidth))); !os.IsNotExist(err) {
		t.Fatal("expected spoolfile 1 to be removed after ack")
	}

	// File 2 is the last file present: its session-start and event
	// are still readable, but nothing acks it yet so it must remain
	// on disk.
	rec, err = r.Read(ctx, nil)
	if err != nil {
		t.Fatalf("Read final session-start: %v", err)
	}
	if rec.Channel() != record.ChannelSession {
		t.Fatalf("expected final session-start, got channel %d", rec.Channel())
	}
	rec, err = r.Read(ctx, nil)
	if err != nil {
		t.Fatalf("Read event 3: %v", err)
	}
	if !rec.IsEvent() {
		t.Fatalf("expected an event record, got channel %d", rec.Channel())
	}
	if _, err := os.Stat(filepath.Join(dir, Filename(2, defaultWidth))); err != nil {
		t.Fatalf("expected spoolfile 2 to still be present before ack: %v", err)
	}
}

// TestReaderNodeleteRetainsSpoolfiles checks that Ack does not remove
// the acked spoolfile when the reader was opened with nodelete set.
func TestReaderNodeleteRetainsSpoolfiles(t *testing.T) {
	dir := t.TempDir()
	w, err := OpenWriter(dir, 1)
	if err != nil {
		t.Fatalf("OpenWriter: %v", err)
	}
	if err := w.StartSession(sessionStartRecord()); err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	if err := w.Write(eventRecord(1)); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := w.Write(eventRecord(2)); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	r, err := OpenReader(dir, true)
	if err != nil {
		t.Fatalf("OpenReader: %v", err)
	}
	defer r.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if _, err := r.Read(ctx, nil); err != nil { // session-start
		t.Fatalf("Read: %v", err)
	}
	if _, err := r.Read(ctx, nil); err != nil { // event 1
		t.Fatalf("Read: %v", err)
	}
	rec, err := r.Read(ctx, nil) // sync, since file 1 exists
	if err != nil {
		t.Fatalf("Read sync: %v", err)
	}
	if rec.Channel() != record.ChannelSync {
		t.Fatalf("expected sync record, got channel %d", rec.Channel())
	}
	if err := r.Ack(); err != nil {
		t.Fatalf("Ack: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, Filename(0, defaultWidth))); err != nil {
		t.Fatalf("expected spoolfile 0 to be retained under nodelete, got stat error: %v", err)
	}

	// Reading on must advance into spoolfile 1, not loop back onto the
	// still-present, already-acked spoolfile 0.
	rec, err = r.Read(ctx, nil) // re-emitted session-start, from file 1
	if err != nil {
		t.Fatalf("Read re-emitted session-start: %v", err)
	}
	if rec.Channel() != record.ChannelSession {
		t.Fatalf("expected re-emitted session-start, got channel %d", rec.Channel())
	}
	rec, err = r.Read(ctx, nil) // event 2
	if err != nil {
		t.Fatalf("Read event 2: %v", err)
	}
	seqAttr, err := rec.Attributes().FindOne(record.AttrSeqnum)
	if err != nil {
		t.Fatalf("FindOne(AttrSeqnum): %v", err)
	}
	if got := seqAttr.(*record.UnsignedAttribute).Value(); got != 2 {
		t.Fatalf("expected to advance to event 2, got seqnum %d (reader looped back onto the acked file)", got)
	}
}
