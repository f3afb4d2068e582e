/*************************************************************************
 * HORACE - host-observation capture and forward pipeline.
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 *************************************************************************/

package endpoint

import (
	"context"
	"net"
	"sync"

	"github.com/gdshaw/horace/herrors"
	"github.com/gdshaw/horace/record"
)

func init() {
	Register("tcp", SchemeEntry{
		SessionWriter:   openTCPSessionWriter,
		SessionListener: openTCPSessionListener,
	})
}

// tcpSessionWriter writes records to a single persistent TCP
// connection and reads acks back over the same connection, unless
// diode is set, in which case the ack path is disabled.
type tcpSessionWriter struct {
	mu    sync.Mutex
	conn  net.Conn
	w     *record.Writer
	r     *record.Reader
	diode bool
}

func openTCPSessionWriter(ep *Endpoint, sourceID string) (SessionWriter, error) {
	conn, err := net.Dial("tcp", ep.Host)
	if err != nil {
		return nil, herrors.New(herrors.Transient, err)
	}
	return &tcpSessionWriter{
		conn:  conn,
		w:     record.NewWriter(conn),
		r:     record.NewReader(conn),
		diode: ep.Diode,
	}, nil
}

func (t *tcpSessionWriter) Write(rec *record.Record) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := rec.Write(t.w); err != nil {
		return herrors.New(herrors.Transient, err)
	}
	return herrors.New(herrors.Transient, t.w.Flush())
}

func (t *tcpSessionWriter) Writable() bool { return t.conn != nil }

func (t *tcpSessionWriter) ReadAck(ctx context.Context) (*record.Record, error) {
	if t.diode {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	type result struct {
		rec *record.Record
		err error
	}
	ch := make(chan result, 1)
	go func() {
		rec, err := record.ParseRecord(nil, t.r)
		ch <- result{rec, err}
	}()
	select {
	case <-ctx.Done():
		t.conn.Close()
		return nil, herrors.New(herrors.Terminate, ctx.Err())
	case res := <-ch:
		return res.rec, res.err
	}
}

func (t *tcpSessionWriter) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil {
		return nil
	}
	err := t.conn.Close()
	t.conn = nil
	return err
}

// tcpSessionListener accepts connections and hands back one
// tcpSessionReader per accepted source.
type tcpSessionListener struct {
	ln    net.Listener
	diode bool
}

func openTCPSessionListener(ep *Endpoint) (SessionListener, error) {
	ln, err := net.Listen("tcp", ep.Host)
	if err != nil {
		return nil, herrors.New(herrors.Fatal, err)
	}
	return &tcpSessionListener{ln: ln, diode: ep.Diode}, nil
}

func (l *tcpSessionListener) Accept(ctx context.Context) (SessionReader, error) {
	type result struct {
		conn net.Conn
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		conn, err := l.ln.Accept()
		ch <- result{conn, err}
	}()
	select {
	case <-ctx.Done():
		l.ln.Close()
		return nil, herrors.New(herrors.Terminate, ctx.Err())
	case res := <-ch:
		if res.err != nil {
			return nil, herrors.New(herrors.Transient, res.err)
		}
		return &tcpSessionReader{
			conn:  res.conn,
			w:     record.NewWriter(res.conn),
			r:     record.NewReader(res.conn),
			diode: l.diode,
		}, nil
	}
}

func (l *tcpSessionListener) Close() error { return l.ln.Close() }

type tcpSessionReader struct {
	mu    sync.Mutex
	conn  net.Conn
	w     *record.Writer
	r     *record.Reader
	diode bool
}

func (t *tcpSessionReader) Read(ctx context.Context, resolver record.FormatResolver) (*record.Record, error) {
	type result struct {
		rec *record.Record
		err error
	}
	ch := make(chan result, 1)
	go func() {
		rec, err := record.ParseRecord(resolver, t.r)
		ch <- result{rec, err}
	}()
	select {
	case <-ctx.Done():
		t.conn.Close()
		return nil, herrors.New(herrors.Terminate, ctx.Err())
	case res := <-ch:
		return res.rec, res.err
	}
}

func (t *tcpSessionReader) WriteAck(rec *record.Record) error {
	if t.diode {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := rec.Write(t.w); err != nil {
		return herrors.New(herrors.Transient, err)
	}
	return herrors.New(herrors.Transient, t.w.Flush())
}

// Reset is unsupported over a live TCP stream: there is nothing to
// rewind to once bytes have been consumed from the socket.
func (t *tcpSessionReader) Reset() error {
	return herrors.New(herrors.Fatal, ErrUnsupportedCapability)
}

func (t *tcpSessionReader) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conn.Close()
}
