/*************************************************************************
 * HORACE - host-observation capture and forward pipeline.
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 *************************************************************************/

package endpoint

import (
	"context"
	"time"

	"github.com/gdshaw/horace/capture/clock"
	"github.com/gdshaw/horace/capture/datagram"
	"github.com/gdshaw/horace/capture/packet"
	"github.com/gdshaw/horace/capture/syslog"
	"github.com/gdshaw/horace/record"
)

func init() {
	Register("clock", SchemeEntry{EventReader: openClockEventReader})
	Register("udp", SchemeEntry{EventReader: openDatagramEventReader})
	Register("syslog", SchemeEntry{EventReader: openSyslogEventReader})
	Register("pcap", SchemeEntry{EventReader: openPacketEventReader})
}

// eventChannel is the event channel number assigned to a single-source
// capture endpoint; the session builder defines the matching
// channel-def when the source is attached to a pipeline.
const eventChannel int64 = 0

func openClockEventReader(ep *Endpoint) (EventReader, error) {
	poll := time.Duration(ep.Poll) * time.Second
	if poll <= 0 {
		poll = time.Hour
	}
	return clockAdapter{clock.New(eventChannel, poll)}, nil
}

type clockAdapter struct{ r *clock.Reader }

func (c clockAdapter) ReadEvent(ctx context.Context) (*record.Record, error) {
	return c.r.ReadEvent(ctx)
}
func (c clockAdapter) Close() error { return c.r.Close() }

func openDatagramEventReader(ep *Endpoint) (EventReader, error) {
	r, err := datagram.Listen(eventChannel, ep.Host, ep.Snaplen, ep.Rate)
	if err != nil {
		return nil, err
	}
	return datagramAdapter{r}, nil
}

type datagramAdapter struct{ r *datagram.Reader }

func (d datagramAdapter) ReadEvent(ctx context.Context) (*record.Record, error) {
	return d.r.ReadEvent(ctx)
}
func (d datagramAdapter) Close() error { return d.r.Close() }

func openSyslogEventReader(ep *Endpoint) (EventReader, error) {
	r, err := syslog.Listen(eventChannel, ep.Host, ep.Query.Get("filter"))
	if err != nil {
		return nil, err
	}
	return syslogAdapter{r}, nil
}

type syslogAdapter struct{ r *syslog.Reader }

func (s syslogAdapter) ReadEvent(ctx context.Context) (*record.Record, error) {
	return s.r.ReadEvent(ctx)
}
func (s syslogAdapter) Close() error { return s.r.Close() }

func openPacketEventReader(ep *Endpoint) (EventReader, error) {
	r, err := packet.Open(eventChannel, ep.Path, ep.Snaplen)
	if err != nil {
		return nil, err
	}
	return packetAdapter{r}, nil
}

type packetAdapter struct{ r *packet.Reader }

func (p packetAdapter) ReadEvent(ctx context.Context) (*record.Record, error) {
	return p.r.ReadEvent(ctx)
}
func (p packetAdapter) Close() error { return p.r.Close() }
