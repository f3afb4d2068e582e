/*************************************************************************
 * HORACE - host-observation capture and forward pipeline.
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 *************************************************************************/

package endpoint

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"sync"

	bolt "go.etcd.io/bbolt"

	"github.com/gdshaw/horace/herrors"
	"github.com/gdshaw/horace/record"
)

func init() {
	Register("docstore", SchemeEntry{SessionWriter: openDocstoreSessionWriter})
}

var eventsBucket = []byte("events")

// docstoreSessionWriter persists every event keyed by
// (source, session-start-ts, seqnum), giving a downstream consumer
// idempotent replay for free: writing the same key twice overwrites
// rather than duplicates. Non-event control records (sync, ack,
// signature, end) are not persisted; session-start is remembered so
// later events can be keyed against its timestamp.
type docstoreSessionWriter struct {
	mu       sync.Mutex
	db       *bolt.DB
	sourceID string
	startTS  record.Timestamp
	haveTS   bool
}

func openDocstoreSessionWriter(ep *Endpoint, sourceID string) (SessionWriter, error) {
	db, err := bolt.Open(ep.Path, 0644, nil)
	if err != nil {
		return nil, herrors.New(herrors.Fatal, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(eventsBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, herrors.New(herrors.Fatal, err)
	}
	return &docstoreSessionWriter{db: db, sourceID: sourceID}, nil
}

func eventKey(source string, ts record.Timestamp, seqnum uint64) []byte {
	var buf bytes.Buffer
	buf.WriteString(source)
	buf.WriteByte(0)
	binary.Write(&buf, binary.BigEndian, ts.Sec)
	binary.Write(&buf, binary.BigEndian, ts.Nsec)
	binary.Write(&buf, binary.BigEndian, seqnum)
	return buf.Bytes()
}

func (d *docstoreSessionWriter) Write(rec *record.Record) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if rec.Channel() == record.ChannelSession {
		tsAttr, err := rec.Attributes().FindOne(record.AttrTS)
		if err != nil {
			return herrors.New(herrors.Protocol, err)
		}
		ts, ok := tsAttr.(*record.TimestampAttribute)
		if !ok {
			return herrors.New(herrors.Protocol, fmt.Errorf("session-start: ts attribute has wrong format"))
		}
		d.startTS = ts.Value()
		d.haveTS = true
		return nil
	}
	if !rec.IsEvent() {
		return nil
	}
	if !d.haveTS {
		return herrors.New(herrors.Protocol, fmt.Errorf("docstore: event before session-start"))
	}
	seqAttr, err := rec.Attributes().FindOne(record.AttrSeqnum)
	if err != nil {
		return herrors.New(herrors.Protocol, err)
	}
	seq, ok := seqAttr.(*record.UnsignedAttribute)
	if !ok {
		return herrors.New(herrors.Protocol, fmt.Errorf("event: seqnum attribute has wrong format"))
	}

	encoded, err := rec.Encode()
	if err != nil {
		return herrors.New(herrors.Fatal, err)
	}
	key := eventKey(d.sourceID, d.startTS, seq.Value())
	err = d.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(eventsBucket).Put(key, encoded)
	})
	if err != nil {
		return herrors.New(herrors.Transient, err)
	}
	return nil
}

func (d *docstoreSessionWriter) Writable() bool { return true }

// ReadAck is not meaningful for a document store: every write is
// immediately durable, so there is no ack back-channel to read.
func (d *docstoreSessionWriter) ReadAck(ctx context.Context) (*record.Record, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (d *docstoreSessionWriter) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.db.Close()
}
