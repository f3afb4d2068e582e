/*************************************************************************
 * HORACE - host-observation capture and forward pipeline.
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 *************************************************************************/

// Package packet captures network packets as binary events, reading
// from a pcap or pcapng capture file via gopacket/pcapgo. This avoids
// a cgo dependency on libpcap, at the cost of live-interface capture;
// an implementation targeting live capture would swap in
// pcapgo.NewEthernetHandle against an AF_PACKET socket behind the same
// packetHandle interface.
package packet

import (
	"bufio"
	"context"
	"io"
	"os"
	"strings"

	"github.com/google/gopacket"
	"github.com/google/gopacket/pcapgo"
	"github.com/klauspost/compress/gzip"

	"github.com/gdshaw/horace/herrors"
	"github.com/gdshaw/horace/record"
)

type packetHandle interface {
	ReadPacketData() (data []byte, ci gopacket.CaptureInfo, err error)
}

// Reader captures packets from a pcap/pcapng file, truncating each
// packet to snaplen octets.
type Reader struct {
	channel int64
	snaplen int
	file    *os.File
	hnd     packetHandle
}

// Open opens path as a pcap or pcapng capture file, detecting the
// format automatically. A ".gz" suffix is decompressed transparently,
// since rotated capture files are routinely archived that way.
func Open(channel int64, path string, snaplen int) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, herrors.New(herrors.Fatal, err)
	}
	gzipped := strings.HasSuffix(path, ".gz")
	src, err := reopen(f, gzipped)
	if err != nil {
		f.Close()
		return nil, err
	}

	if r, err := pcapgo.NewReader(bufio.NewReader(src)); err == nil {
		return &Reader{channel: channel, snaplen: snaplen, file: f, hnd: r}, nil
	}
	// gzip.Reader cannot seek back to the start of the stream, so a
	// failed format guess reopens it rather than rewinding in place.
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		f.Close()
		return nil, herrors.New(herrors.Fatal, err)
	}
	src, err = reopen(f, gzipped)
	if err != nil {
		f.Close()
		return nil, err
	}
	ng, err := pcapgo.NewNgReader(bufio.NewReader(src), pcapgo.NgReaderOptions{})
	if err != nil {
		f.Close()
		return nil, herrors.New(herrors.Fatal, err)
	}
	return &Reader{channel: channel, snaplen: snaplen, file: f, hnd: ng}, nil
}

// reopen wraps f in a gzip decompressor when gzipped is set, otherwise
// returns f unchanged; f must already be positioned at the start of
// the stream to decode.
func reopen(f *os.File, gzipped bool) (io.Reader, error) {
	if !gzipped {
		return f, nil
	}
	gz, err := gzip.NewReader(f)
	if err != nil {
		return nil, herrors.New(herrors.Fatal, err)
	}
	return gz, nil
}

// ReadEvent returns the next packet as a binary event carrying the
// capture timestamp and (truncated) packet bytes. ctx cancellation is
// only honoured between packets, since the underlying reader performs
// no blocking I/O once the file is open.
func (r *Reader) ReadEvent(ctx context.Context) (*record.Record, error) {
	select {
	case <-ctx.Done():
		return nil, herrors.New(herrors.Terminate, ctx.Err())
	default:
	}
	data, ci, err := r.hnd.ReadPacketData()
	if err != nil {
		if err == io.EOF {
			return nil, herrors.New(herrors.Exhausted, io.EOF)
		}
		return nil, herrors.New(herrors.Malformed, err)
	}
	if r.snaplen > 0 && len(data) > r.snaplen {
		data = data[:r.snaplen]
	}
	ts := record.TimestampFromTime(ci.Timestamp)
	attrs := record.NewAttributeList(
		record.NewTimestampAttribute(record.AttrTS, ts),
		record.NewBinaryAttribute(payloadAttr, data),
	)
	return record.NewRecord(r.channel, attrs), nil
}

// Close releases the underlying file.
func (r *Reader) Close() error { return r.file.Close() }

const payloadAttr int64 = 0
