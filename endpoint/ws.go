/*************************************************************************
 * HORACE - host-observation capture and forward pipeline.
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 *************************************************************************/

package endpoint

import (
	"bytes"
	"context"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/gdshaw/horace/herrors"
	"github.com/gdshaw/horace/record"
)

func init() {
	Register("ws", SchemeEntry{SessionWriter: openWSSessionWriter})
	Register("wss", SchemeEntry{SessionWriter: openWSSessionWriter})
}

// wsSessionWriter is an alternative transport to tcp://, carrying one
// record per binary websocket message. It offers the same ack
// semantics as tcp:// except that diode is not meaningful over a
// message-framed transport, since there is no shared byte stream to
// desynchronise; acks are simply not read if the caller never calls
// ReadAck.
type wsSessionWriter struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func openWSSessionWriter(ep *Endpoint, sourceID string) (SessionWriter, error) {
	scheme := "ws"
	if ep.Scheme == "wss" {
		scheme = "wss"
	}
	url := scheme + "://" + ep.Host + ep.Path
	conn, _, err := websocket.DefaultDialer.Dial(url, http.Header{})
	if err != nil {
		return nil, herrors.New(herrors.Transient, err)
	}
	return &wsSessionWriter{conn: conn}, nil
}

func (w *wsSessionWriter) Write(rec *record.Record) error {
	var buf bytes.Buffer
	rw := record.NewWriter(&buf)
	if err := rec.Write(rw); err != nil {
		return herrors.New(herrors.Transient, err)
	}
	if err := rw.Flush(); err != nil {
		return herrors.New(herrors.Transient, err)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return herrors.New(herrors.Transient, w.conn.WriteMessage(websocket.BinaryMessage, buf.Bytes()))
}

func (w *wsSessionWriter) Writable() bool { return w.conn != nil }

func (w *wsSessionWriter) ReadAck(ctx context.Context) (*record.Record, error) {
	type result struct {
		rec *record.Record
		err error
	}
	ch := make(chan result, 1)
	go func() {
		_, data, err := w.conn.ReadMessage()
		if err != nil {
			ch <- result{nil, err}
			return
		}
		rec, err := record.ParseRecord(nil, record.NewReader(bytes.NewReader(data)))
		ch <- result{rec, err}
	}()
	select {
	case <-ctx.Done():
		w.conn.Close()
		return nil, herrors.New(herrors.Terminate, ctx.Err())
	case res := <-ch:
		if res.err != nil {
			return nil, herrors.New(herrors.Transient, res.err)
		}
		return res.rec, nil
	}
}

func (w *wsSessionWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conn.Close()
}
