/*************************************************************************
 * HORACE - host-observation capture and forward pipeline.
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 *************************************************************************/

package record

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/gdshaw/horace/herrors"
)

// Record pairs a signed channel number with an attribute list. Channel
// numbers below zero are reserved control channels; non-negative
// channels are events, defined per-session by a channel-def.
type Record struct {
	channel int64
	attrs   *AttributeList
}

// NewRecord constructs a record on the given channel, taking ownership
// of attrs. A nil attrs is treated as an empty list.
func NewRecord(channel int64, attrs *AttributeList) *Record {
	if attrs == nil {
		attrs = &AttributeList{}
	}
	return &Record{channel: channel, attrs: attrs}
}

// Channel returns the record's channel number.
func (rec *Record) Channel() int64 { return rec.channel }

// Attributes returns the record's attribute list.
func (rec *Record) Attributes() *AttributeList { return rec.attrs }

// IsEvent reports whether the record belongs to a non-negative (user)
// channel, as opposed to a reserved control channel.
func (rec *Record) IsEvent() bool { return rec.channel >= 0 }

// UpdateSeqnum returns the seqnum carried by rec if it is an event
// record with a seqnum attribute, otherwise it returns prev unchanged.
// This lets a forwarder realign its counter after a detected gap
// without committing to a renumbering scheme of its own.
func (rec *Record) UpdateSeqnum(prev uint64) uint64 {
	if !rec.IsEvent() {
		return prev
	}
	attr, err := rec.attrs.FindOne(AttrSeqnum)
	if err != nil {
		return prev
	}
	u, ok := attr.(*UnsignedAttribute)
	if !ok {
		return prev
	}
	return u.Value()
}

// HumanRender renders the record in canonical debug form:
// channel(\n  attr\n  attr\n).
func (rec *Record) HumanRender() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d(\n", rec.channel)
	for _, a := range rec.attrs.All() {
		fmt.Fprintf(&b, "  %s\n", a.String())
	}
	b.WriteString(")")
	return b.String()
}

// Length returns the on-wire length of the attribute list only (the
// value carried in the record's length field).
func (rec *Record) Length() int {
	return rec.attrs.Length()
}

// Write emits channel, length, and the attribute list to w.
func (rec *Record) Write(w *Writer) error {
	if err := w.WriteSignedBase128(rec.channel); err != nil {
		return err
	}
	length := rec.Length()
	if err := w.WriteUnsignedBase128(uint64(length)); err != nil {
		return err
	}
	return rec.attrs.Write(w)
}

// Encode serialises rec to a standalone byte slice, used to compute
// the hash-chain digest over a record's wire form.
func (rec *Record) Encode() ([]byte, error) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	if err := rec.Write(w); err != nil {
		return nil, err
	}
	if err := w.Flush(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ParseRecord reads one record (channel, length, attribute list) from
// r, dispatching attribute formats through resolver.
func ParseRecord(resolver FormatResolver, r *Reader) (*Record, error) {
	channel, err := r.ReadSignedBase128()
	if err != nil {
		return nil, err
	}
	length64, err := r.ReadUnsignedBase128()
	if err != nil {
		return nil, err
	}
	length := int(length64)
	start := r.Count()
	attrs, err := ParseAttributeList(resolver, r, length)
	if err != nil {
		return nil, err
	}
	if r.Count()-start != int64(length) {
		return nil, herrors.New(herrors.Malformed, fmt.Errorf("record on channel %d: attribute list consumed %d octets, declared %d: %w",
			channel, r.Count()-start, length, ErrFrameLength))
	}
	return &Record{channel: channel, attrs: attrs}, nil
}

// Equal reports whether rec and other carry the same channel and an
// equal attribute list.
func (rec *Record) Equal(other *Record) bool {
	if other == nil {
		return false
	}
	return rec.channel == other.channel && rec.attrs.Equal(other.attrs)
}

// Clone deep-copies the record.
func (rec *Record) Clone() *Record {
	return &Record{channel: rec.channel, attrs: rec.attrs.Clone()}
}
