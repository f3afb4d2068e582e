/*************************************************************************
 * HORACE - host-observation capture and forward pipeline.
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 *************************************************************************/

package spool

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"

	"github.com/gdshaw/horace/herrors"
	"github.com/gdshaw/horace/record"
)

// DefaultCapacity is the default spoolfile capacity budget in octets,
// matching the file/spool endpoint's "filesize" default of 16 MiB.
const DefaultCapacity = 16 * 1024 * 1024

// Writer appends framed records to a capacity-bounded sequence of
// spoolfiles, holding the store's write lock exclusively for its
// lifetime. It implements session.Writer.
type Writer struct {
	dir      string
	capacity int64
	width    int

	lock *flock.Flock

	next        int64
	cur         *os.File
	w           *record.Writer
	curSize     int64
	hasEvent    bool
	sessionRec  *record.Record
}

// OpenWriter acquires the writer lock on dir (failing fatally if it is
// already held) and prepares to append, starting from the file number
// one past the highest already present.
func OpenWriter(dir string, capacity int64) (*Writer, error) {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, herrors.New(herrors.Fatal, err)
	}
	lock := flock.New(filepath.Join(dir, ".wrlock"))
	ok, err := lock.TryLock()
	if err != nil {
		return nil, herrors.New(herrors.Fatal, err)
	}
	if !ok {
		return nil, herrors.New(herrors.Fatal, fmt.Errorf("spool %s: store in use (writer lock held)", dir))
	}

	_, next, width, err := Scan(dir)
	if err != nil {
		lock.Unlock()
		return nil, err
	}

	return &Writer{dir: dir, capacity: capacity, width: width, lock: lock, next: next}, nil
}

// Close flushes, fsyncs, and closes the current file and releases the
// writer lock.
func (w *Writer) Close() error {
	err := w.closeCurrent()
	w.lock.Unlock()
	return err
}

func (w *Writer) closeCurrent() error {
	if w.cur == nil {
		return nil
	}
	if err := w.w.Flush(); err != nil {
		return err
	}
	if err := w.cur.Sync(); err != nil {
		return err
	}
	err := w.cur.Close()
	w.cur = nil
	w.w = nil
	return err
}

func (w *Writer) fsyncDir() error {
	d, err := os.Open(w.dir)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Sync()
}

// StartSession flushes any in-progress file, opens a fresh spoolfile,
// and writes start as its first record. Subsequent rollovers re-emit
// start at the head of each new file so a reader can begin mid-stream.
func (w *Writer) StartSession(start *record.Record) error {
	if err := w.closeCurrent(); err != nil {
		return herrors.New(herrors.Fatal, err)
	}
	w.sessionRec = start
	if err := w.openNext(); err != nil {
		return err
	}
	return w.appendRaw(start, false)
}

func (w *Writer) openNext() error {
	name := Filename(w.next, w.width)
	f, err := os.OpenFile(filepath.Join(w.dir, name), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		return herrors.New(herrors.Fatal, err)
	}
	w.next++
	w.cur = f
	w.w = record.NewWriter(f)
	w.curSize = 0
	w.hasEvent = false
	if err := w.fsyncDir(); err != nil {
		return herrors.New(herrors.Fatal, err)
	}
	return nil
}

// Write appends rec to the current spoolfile, rolling over to a new
// file first if rec would exceed the capacity budget and the current
// file already holds at least one event record.
func (w *Writer) Write(rec *record.Record) error {
	if w.cur == nil {
		return herrors.New(herrors.Fatal, fmt.Errorf("spool %s: write before session start", w.dir))
	}
	recLen := int64(recordWireLength(rec))
	if w.hasEvent && w.curSize+recLen > w.capacity {
		if err := w.rollover(); err != nil {
			return err
		}
	}
	if err := w.appendRaw(rec, true); err != nil {
		return err
	}
	return nil
}

func (w *Writer) rollover() error {
	if err := w.closeCurrent(); err != nil {
		return herrors.New(herrors.Fatal, err)
	}
	if err := w.openNext(); err != nil {
		return err
	}
	if w.sessionRec != nil {
		return w.appendRaw(w.sessionRec, false)
	}
	return nil
}

func (w *Writer) appendRaw(rec *record.Record, countSize bool) error {
	if err := rec.Write(w.w); err != nil {
		return herrors.New(herrors.Fatal, err)
	}
	if err := w.w.Flush(); err != nil {
		return herrors.New(herrors.Fatal, err)
	}
	if countSize {
		w.curSize += int64(recordWireLength(rec))
		if rec.IsEvent() {
			w.hasEvent = true
		}
	}
	return nil
}

func recordWireLength(rec *record.Record) int {
	length := rec.Length()
	return record.SignedBase128Len(rec.Channel()) + record.UnsignedBase128Len(uint64(length)) + length
}

// Sync fsyncs the current file's content, used on each sync tick.
func (w *Writer) Sync() error {
	if w.cur == nil {
		return nil
	}
	if err := w.w.Flush(); err != nil {
		return herrors.New(herrors.Fatal, err)
	}
	if err := w.cur.Sync(); err != nil {
		return herrors.New(herrors.Fatal, err)
	}
	return nil
}

// Writable always reports true; a full disk surfaces as a write error
// rather than a writability precondition.
func (w *Writer) Writable() bool { return true }

// EndSession writes end and fsyncs.
func (w *Writer) EndSession(end *record.Record) error {
	if err := w.appendRaw(end, true); err != nil {
		return err
	}
	w.sessionRec = nil
	return w.Sync()
}
