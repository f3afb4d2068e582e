/*************************************************************************
 * HORACE - host-observation capture and forward pipeline.
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 *************************************************************************/

package spool

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/gofrs/flock"

	"github.com/gdshaw/horace/herrors"
	"github.com/gdshaw/horace/record"
)

// Reader consumes spoolfiles in ascending order, holding the store's
// read lock exclusively for its lifetime.
type Reader struct {
	dir      string
	nodelete bool

	lock *flock.Flock

	watcher *fsnotify.Watcher

	cur       int64
	width     int
	file      *os.File
	r         *record.Reader
	lastSeqnum uint64
	sessionTS  record.Timestamp
	haveTS     bool
}

// OpenReader acquires the reader lock on dir (failing fatally if it is
// already held). If nodelete is set, acked spoolfiles are retained
// rather than removed.
func OpenReader(dir string, nodelete bool) (*Reader, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, herrors.New(herrors.Fatal, err)
	}
	lock := flock.New(filepath.Join(dir, ".rdlock"))
	ok, err := lock.TryLock()
	if err != nil {
		return nil, herrors.New(herrors.Fatal, err)
	}
	if !ok {
		return nil, herrors.New(herrors.Fatal, fmt.Errorf("spool %s: store in use (reader lock held)", dir))
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		lock.Unlock()
		return nil, herrors.New(herrors.Fatal, err)
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		lock.Unlock()
		return nil, herrors.New(herrors.Fatal, err)
	}
	return &Reader{dir: dir, nodelete: nodelete, lock: lock, watcher: watcher}, nil
}

// Close releases the reader lock and any open file.
func (r *Reader) Close() error {
	if r.file != nil {
		r.file.Close()
	}
	r.watcher.Close()
	return r.lock.Unlock()
}

// waitForChange blocks until the directory changes or ctx is
// cancelled, honouring cooperative termination.
func (r *Reader) waitForChange(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return herrors.New(herrors.Terminate, ctx.Err())
		case _, ok := <-r.watcher.Events:
			if !ok {
				return herrors.New(herrors.Fatal, fmt.Errorf("spool %s: watcher closed", r.dir))
			}
			return nil
		case err, ok := <-r.watcher.Errors:
			if !ok {
				return herrors.New(herrors.Fatal, fmt.Errorf("spool %s: watcher closed", r.dir))
			}
			return herrors.New(herrors.Fatal, err)
		}
	}
}

// openFile opens spoolfile number n, established at the given width.
func (r *Reader) openFile(n int64, width int) error {
	f, err := os.Open(filepath.Join(r.dir, Filename(n, width)))
	if err != nil {
		return herrors.New(herrors.Fatal, err)
	}
	r.cur = n
	r.width = width
	r.file = f
	r.r = record.NewReader(f)
	return nil
}

// nextFileExists reports whether spoolfile r.cur+1 is present.
func (r *Reader) nextFileExists() bool {
	_, err := os.Stat(filepath.Join(r.dir, Filename(r.cur+1, r.width)))
	return err == nil
}

// Read returns the next record from the spool, blocking (via
// directory-change notification) until the store becomes non-empty or
// a new file appears. On reaching the end of the current file, if a
// later file already exists it synthesises a sync record covering
// what has been read so far and returns that instead of blocking.
func (r *Reader) Read(ctx context.Context, resolver record.FormatResolver) (*record.Record, error) {
	for {
		if r.file == nil {
			first, next, width, err := Scan(r.dir)
			if err != nil {
				return nil, err
			}
			// Under nodelete, an acked file is still the lowest one
			// Scan reports; resume from r.cur, not unconditionally
			// from first, or a retained file would be read forever.
			start := first
			if r.cur > start {
				start = r.cur
			}
			if next <= start {
				if err := r.waitForChange(ctx); err != nil {
					return nil, err
				}
				continue
			}
			if err := r.openFile(start, width); err != nil {
				return nil, err
			}
		}

		rec, err := record.ParseRecord(resolver, r.r)
		if err == nil {
			if rec.Channel() == record.ChannelSession {
				if tsAttr, ferr := rec.Attributes().FindOne(record.AttrTS); ferr == nil {
					if ts, ok := tsAttr.(*record.TimestampAttribute); ok {
						r.sessionTS = ts.Value()
						r.haveTS = true
					}
				}
			}
			r.lastSeqnum = rec.UpdateSeqnum(r.lastSeqnum)
			return rec, nil
		}
		if !isEOFLike(err) {
			return nil, err
		}

		// end of current file
		if r.nextFileExists() {
			sync := record.NewRecord(record.ChannelSync, record.NewAttributeList(
				record.NewTimestampAttribute(record.AttrTS, r.sessionTS),
				record.NewUnsignedAttribute(record.AttrSeqnum, r.lastSeqnum),
			))
			return sync, nil
		}
		if err := r.waitForChange(ctx); err != nil {
			return nil, err
		}
	}
}

func isEOFLike(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF)
}

// Ack marks the current spoolfile (and every earlier one, if any
// remain) as acknowledged: unless nodelete is set, it is removed, the
// directory is fsynced, and the reader advances to the next file.
func (r *Reader) Ack() error {
	if r.file == nil {
		return nil
	}
	name := r.file.Name()
	n := r.cur
	width := r.width
	r.file.Close()
	r.file = nil
	r.r = nil

	if !r.nodelete {
		if err := os.Remove(name); err != nil {
			return herrors.New(herrors.Fatal, err)
		}
		if err := r.fsyncDir(); err != nil {
			return herrors.New(herrors.Fatal, err)
		}
	}
	r.cur = n + 1
	r.width = width
	return nil
}

func (r *Reader) fsyncDir() error {
	d, err := os.Open(r.dir)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Sync()
}

// Reset closes the current file and rewinds to the beginning of the
// file currently being read, clearing session state. Safe to call
// before any records have been read.
func (r *Reader) Reset() {
	if r.file != nil {
		r.file.Close()
		r.file = nil
		r.r = nil
	}
	r.lastSeqnum = 0
	r.haveTS = false
}
