/*************************************************************************
 * HORACE - host-observation capture and forward pipeline.
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 *************************************************************************/

// Package syslog captures RFC5424 syslog messages over UDP, optionally
// filtered by a glob pattern over the message text.
package syslog

import (
	"context"
	"net"
	"time"

	"github.com/crewjam/rfc5424"
	"github.com/gobwas/glob"

	"github.com/gdshaw/horace/herrors"
	"github.com/gdshaw/horace/record"
)

// Reader captures syslog messages on a bound UDP socket.
type Reader struct {
	channel int64
	conn    *net.UDPConn
	filter  glob.Glob
}

// Listen binds a UDP socket at addr. If pattern is non-empty, only
// messages whose text matches the glob pattern are returned; all
// others are silently discarded.
func Listen(channel int64, addr, pattern string) (*Reader, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, herrors.New(herrors.Fatal, err)
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, herrors.New(herrors.Fatal, err)
	}
	var filter glob.Glob
	if pattern != "" {
		filter, err = glob.Compile(pattern)
		if err != nil {
			conn.Close()
			return nil, herrors.New(herrors.Fatal, err)
		}
	}
	return &Reader{channel: channel, conn: conn, filter: filter}, nil
}

// ReadEvent blocks until a matching syslog message arrives or ctx is
// cancelled.
func (r *Reader) ReadEvent(ctx context.Context) (*record.Record, error) {
	buf := make([]byte, 16*1024)
	for {
		select {
		case <-ctx.Done():
			return nil, herrors.New(herrors.Terminate, ctx.Err())
		default:
		}
		r.conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
		n, _, err := r.conn.ReadFromUDP(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			return nil, herrors.New(herrors.Transient, err)
		}

		var msg rfc5424.Message
		if err := msg.UnmarshalBinary(buf[:n]); err != nil {
			// Malformed datagrams are dropped rather than failing the
			// whole capture source: one bad sender should not stop
			// every other source sharing this process.
			continue
		}
		text := string(msg.Message)
		if r.filter != nil && !r.filter.Match(text) {
			continue
		}

		ts := record.TimestampFromTime(msg.Timestamp)
		attrs := record.NewAttributeList(
			record.NewTimestampAttribute(record.AttrTS, ts),
			record.NewStringAttribute(hostnameAttr, msg.Hostname),
			record.NewStringAttribute(appnameAttr, msg.AppName),
			record.NewStringAttribute(messageAttr, text),
		)
		return record.NewRecord(r.channel, attrs), nil
	}
}

// Close releases the UDP socket.
func (r *Reader) Close() error { return r.conn.Close() }

const (
	hostnameAttr int64 = 0
	appnameAttr  int64 = 1
	messageAttr  int64 = 2
)
