/*************************************************************************
 * HORACE - host-observation capture and forward pipeline.
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 *************************************************************************/

// Package endpoint parses URI-like endpoint handles and yields
// whichever capability (event-reader, session-writer, session-listener,
// session-reader) the requested scheme supports.
package endpoint

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/inhies/go-bytesize"

	"github.com/gdshaw/horace/herrors"
	"github.com/gdshaw/horace/record"
)

// EventReader yields captured events, blocking until one is available.
// It takes no capture filter; a scheme that filters (syslog's "filter"
// query parameter) applies it when the reader is opened.
type EventReader interface {
	ReadEvent(ctx context.Context) (*record.Record, error)
	Close() error
}

// SessionWriter is the destination side of one source's session: it
// accepts records to append and optionally reads back acks.
type SessionWriter interface {
	Write(rec *record.Record) error
	Writable() bool
	ReadAck(ctx context.Context) (*record.Record, error)
	Close() error
}

// SessionListener accepts inbound sessions on a transport, handing
// back one SessionReader per accepted source.
type SessionListener interface {
	Accept(ctx context.Context) (SessionReader, error)
	Close() error
}

// SessionReader is the source side of a forwarder: it yields records
// from an upstream session and can write acks back to it.
type SessionReader interface {
	Read(ctx context.Context, resolver record.FormatResolver) (*record.Record, error)
	WriteAck(rec *record.Record) error
	// Reset rewinds to the start of the current unit of replay, if the
	// endpoint supports it.
	Reset() error
	Close() error
}

// Endpoint is a parsed, not-yet-opened handle. Capabilities are
// requested individually since one endpoint may support more than one.
type Endpoint struct {
	URI      *url.URL
	Scheme   string
	Host     string
	Path     string
	Query    url.Values
	Poll     int
	Filesize int64
	NoDelete bool
	Snaplen  int
	Diode    bool
	Rate     float64
}

// ErrUnsupportedCapability is returned when a scheme does not support
// the requested capability.
var ErrUnsupportedCapability = fmt.Errorf("endpoint does not support this capability")

// Parse parses an endpoint URI of the form
// scheme:[//authority]path[?query][#fragment], extracting the
// recognised query parameters (poll, filesize, nodelete, snaplen,
// diode, rate).
func Parse(raw string) (*Endpoint, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, herrors.New(herrors.Fatal, fmt.Errorf("endpoint %q: %w", raw, err))
	}
	if u.Scheme == "" {
		return nil, herrors.New(herrors.Fatal, fmt.Errorf("endpoint %q: missing scheme", raw))
	}
	q := u.Query()

	ep := &Endpoint{
		URI:      u,
		Scheme:   u.Scheme,
		Host:     u.Host,
		Path:     u.Path,
		Query:    q,
		Poll:     3600,
		Filesize: 16 * 1024 * 1024,
	}
	if v := q.Get("poll"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, herrors.New(herrors.Fatal, fmt.Errorf("endpoint %q: invalid poll value %q", raw, v))
		}
		ep.Poll = n
	}
	if v := q.Get("filesize"); v != "" {
		bs, err := bytesize.Parse(v)
		if err != nil {
			return nil, herrors.New(herrors.Fatal, fmt.Errorf("endpoint %q: invalid filesize value %q", raw, v))
		}
		ep.Filesize = int64(bs)
	}
	if v := q.Get("nodelete"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return nil, herrors.New(herrors.Fatal, fmt.Errorf("endpoint %q: invalid nodelete value %q", raw, v))
		}
		ep.NoDelete = b
	}
	if v := q.Get("snaplen"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, herrors.New(herrors.Fatal, fmt.Errorf("endpoint %q: invalid snaplen value %q", raw, v))
		}
		ep.Snaplen = n
	}
	if v := q.Get("diode"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return nil, herrors.New(herrors.Fatal, fmt.Errorf("endpoint %q: invalid diode value %q", raw, v))
		}
		ep.Diode = b
	}
	if v := q.Get("rate"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f < 0 {
			return nil, herrors.New(herrors.Fatal, fmt.Errorf("endpoint %q: invalid rate value %q", raw, v))
		}
		ep.Rate = f
	}
	return ep, nil
}

// OpenEventReaderFunc constructs an EventReader for one scheme.
type OpenEventReaderFunc func(ep *Endpoint) (EventReader, error)

// OpenSessionWriterFunc constructs a SessionWriter for one scheme.
type OpenSessionWriterFunc func(ep *Endpoint, sourceID string) (SessionWriter, error)

// OpenSessionListenerFunc constructs a SessionListener for one scheme.
type OpenSessionListenerFunc func(ep *Endpoint) (SessionListener, error)

// OpenSessionReaderFunc constructs a SessionReader for one scheme.
type OpenSessionReaderFunc func(ep *Endpoint) (SessionReader, error)

// SchemeEntry bundles the capability constructors one scheme supports.
// Any field may be nil if the scheme does not support that capability.
type SchemeEntry struct {
	EventReader     OpenEventReaderFunc
	SessionWriter   OpenSessionWriterFunc
	SessionListener OpenSessionListenerFunc
	SessionReader   OpenSessionReaderFunc
}

var registry = map[string]SchemeEntry{}

// Register installs the capability constructors available for scheme.
// There is no plug-in loader: concrete endpoints register themselves
// from an init() function in this package.
func Register(scheme string, e SchemeEntry) {
	registry[scheme] = e
}

func lookup(scheme string) (SchemeEntry, error) {
	e, ok := registry[scheme]
	if !ok {
		return SchemeEntry{}, herrors.New(herrors.Fatal, fmt.Errorf("endpoint scheme %q is not recognised", scheme))
	}
	return e, nil
}

// OpenEventReader opens ep as an event reader.
func OpenEventReader(ep *Endpoint) (EventReader, error) {
	e, err := lookup(ep.Scheme)
	if err != nil {
		return nil, err
	}
	if e.EventReader == nil {
		return nil, herrors.New(herrors.Fatal, fmt.Errorf("endpoint %q: %w", ep.Scheme, ErrUnsupportedCapability))
	}
	return e.EventReader(ep)
}

// OpenSessionWriter opens ep as a session writer for sourceID.
func OpenSessionWriter(ep *Endpoint, sourceID string) (SessionWriter, error) {
	e, err := lookup(ep.Scheme)
	if err != nil {
		return nil, err
	}
	if e.SessionWriter == nil {
		return nil, herrors.New(herrors.Fatal, fmt.Errorf("endpoint %q: %w", ep.Scheme, ErrUnsupportedCapability))
	}
	return e.SessionWriter(ep, sourceID)
}

// OpenSessionListener opens ep as a session listener.
func OpenSessionListener(ep *Endpoint) (SessionListener, error) {
	e, err := lookup(ep.Scheme)
	if err != nil {
		return nil, err
	}
	if e.SessionListener == nil {
		return nil, herrors.New(herrors.Fatal, fmt.Errorf("endpoint %q: %w", ep.Scheme, ErrUnsupportedCapability))
	}
	return e.SessionListener(ep)
}

// OpenSessionReader opens ep as a session reader.
func OpenSessionReader(ep *Endpoint) (SessionReader, error) {
	e, err := lookup(ep.Scheme)
	if err != nil {
		return nil, err
	}
	if e.SessionReader == nil {
		return nil, herrors.New(herrors.Fatal, fmt.Errorf("endpoint %q: %w", ep.Scheme, ErrUnsupportedCapability))
	}
	return e.SessionReader(ep)
}
