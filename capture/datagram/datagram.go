/*************************************************************************
 * HORACE - host-observation capture and forward pipeline.
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 *************************************************************************/

// Package datagram captures raw UDP payloads as binary events, one per
// datagram received.
package datagram

import (
	"context"
	"net"
	"time"

	"golang.org/x/time/rate"

	"github.com/gdshaw/horace/herrors"
	"github.com/gdshaw/horace/record"
)

// Reader captures UDP datagrams on a bound socket.
type Reader struct {
	channel int64
	conn    *net.UDPConn
	snaplen int
	limiter *rate.Limiter
}

// Listen binds a UDP socket at addr and returns a Reader capturing
// datagrams truncated to snaplen octets (0 means unbounded, within a
// 64KiB datagram ceiling). ratePerSec caps the sustained rate at which
// ReadEvent yields datagrams to the capture pipeline (0 means
// unbounded); excess datagrams are read and discarded rather than left
// to fill the kernel socket buffer, so a burst degrades to loss at the
// capture edge instead of backing up indefinitely.
func Listen(channel int64, addr string, snaplen int, ratePerSec float64) (*Reader, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, herrors.New(herrors.Fatal, err)
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, herrors.New(herrors.Fatal, err)
	}
	if snaplen <= 0 || snaplen > 65535 {
		snaplen = 65535
	}
	var limiter *rate.Limiter
	if ratePerSec > 0 {
		limiter = rate.NewLimiter(rate.Limit(ratePerSec), int(ratePerSec)+1)
	}
	return &Reader{channel: channel, conn: conn, snaplen: snaplen, limiter: limiter}, nil
}

// ReadEvent blocks until a datagram arrives or ctx is cancelled.
func (r *Reader) ReadEvent(ctx context.Context) (*record.Record, error) {
	buf := make([]byte, r.snaplen)
	for {
		r.conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
		n, _, err := r.conn.ReadFromUDP(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				select {
				case <-ctx.Done():
					return nil, herrors.New(herrors.Terminate, ctx.Err())
				default:
					continue
				}
			}
			return nil, herrors.New(herrors.Transient, err)
		}
		if r.limiter != nil && !r.limiter.Allow() {
			continue
		}
		ts := record.TimestampFromTime(time.Now())
		attrs := record.NewAttributeList(
			record.NewTimestampAttribute(record.AttrTS, ts),
			record.NewBinaryAttribute(payloadAttr, buf[:n]),
		)
		return record.NewRecord(r.channel, attrs), nil
	}
}

// Close releases the UDP socket.
func (r *Reader) Close() error { return r.conn.Close() }

// payloadAttr is the per-session user attribute ID under which
// datagram payloads are carried. No attr-def is declared for it when
// the channel is defined, so a receiver whose context does not define
// it decodes the payload as an unrecognised attribute.
const payloadAttr int64 = 0
