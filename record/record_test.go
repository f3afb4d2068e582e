/*************************************************************************
 * HORACE - host-observation capture and forward pipeline.
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 *************************************************************************/

package record

import (
	"bytes"
	"errors"
	"testing"
	"time"
)

// mapResolver is a minimal record.FormatResolver standing in for a
// session context that has learned the given user attribute formats.
type mapResolver map[int64]Format

func (m mapResolver) AttrFormat(id int64) (Format, bool) {
	f, ok := m[id]
	return f, ok
}

func TestRecordRoundTrip(t *testing.T) {
	attrs := NewAttributeList(
		NewStringAttribute(AttrSource, "host-a"),
		NewTimestampAttribute(AttrTS, TimestampFromTime(time.Unix(1700000000, 123456789))),
		NewUnsignedAttribute(AttrSeqnum, 42),
		NewBinaryAttribute(AttrHash, []byte{0xde, 0xad, 0xbe, 0xef}),
		NewBooleanAttribute(200, true),
		NewCompoundAttribute(AttrDef, NewAttributeList(
			NewUnsignedAttribute(AttrCode, 7),
			NewStringAttribute(AttrLabel, "widget"),
			NewUnsignedAttribute(AttrFormatID, uint64(FormatString)),
		)),
	)
	rec := NewRecord(0, attrs)

	encoded, err := rec.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	// User ID 200 is only decodable through a context that defines it.
	r := NewReader(bytes.NewReader(encoded))
	got, err := ParseRecord(mapResolver{200: FormatBoolean}, r)
	if err != nil {
		t.Fatalf("ParseRecord: %v", err)
	}
	if !got.Equal(rec) {
		t.Fatalf("round trip mismatch:\nwant %s\ngot  %s", rec.HumanRender(), got.HumanRender())
	}
}

func TestAttributeListCanonicalOrder(t *testing.T) {
	// Reserved (negative) IDs must sort before user (non-negative)
	// IDs, and within each group by ascending magnitude, regardless of
	// insertion order.
	l := NewAttributeList(
		NewUnsignedAttribute(5, 1),
		NewStringAttribute(AttrSource, "x"),
		NewUnsignedAttribute(1, 2),
		NewTimestampAttribute(AttrTS, TimestampFromTime(time.Now())),
	)
	wantOrder := []int64{AttrSource, AttrTS, 1, 5}
	if l.Len() != len(wantOrder) {
		t.Fatalf("expected %d attributes, got %d", len(wantOrder), l.Len())
	}
	for i, id := range wantOrder {
		if got := l.At(i).ID(); got != id {
			t.Fatalf("position %d: expected ID %d, got %d", i, id, got)
		}
	}
}

func TestRecordLengthMismatchUnderrun(t *testing.T) {
	// Build a valid record, then drop its last content octet so the
	// content present falls short of the declared length.
	rec := NewRecord(0, NewAttributeList(NewUnsignedAttribute(AttrSeqnum, 1)))
	encoded, err := rec.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	// channel varint is one octet (0x00); the next octet is the
	// length varint. Truncating content while leaving the length
	// field untouched forces a declared-vs-consumed mismatch.
	truncated := append([]byte(nil), encoded...)
	truncated = truncated[:len(truncated)-1]

	r := NewReader(bytes.NewReader(truncated))
	_, err = ParseRecord(nil, r)
	if err == nil {
		t.Fatal("expected error parsing a record truncated past its declared length")
	}
}

func TestRecordLengthMismatchOverrun(t *testing.T) {
	// A record whose attribute-list length field overstates the
	// content actually present (S5: malformed attribute length).
	var buf bytes.Buffer
	w := NewWriter(&buf)
	w.WriteSignedBase128(0)    // channel
	w.WriteUnsignedBase128(50) // declared length, far larger than content
	w.WriteSignedBase128(AttrSeqnum)
	w.WriteUnsignedBase128(1)
	w.WriteUnsigned(1, 1)
	w.Flush()

	r := NewReader(bytes.NewReader(buf.Bytes()))
	_, err := ParseRecord(nil, r)
	if err == nil {
		t.Fatal("expected error parsing a record whose declared length overruns its content")
	}
	if !errors.Is(err, ErrUnexpectedEnd) {
		t.Fatalf("expected the overrun to surface as an unexpected-end read failure, got %v", err)
	}
}

func TestAttributeOverrunsDeclaredListLength(t *testing.T) {
	// An attribute whose own length field would push the list past
	// its declared end must be rejected before its content is read.
	var buf bytes.Buffer
	w := NewWriter(&buf)
	w.WriteSignedBase128(AttrSeqnum)
	w.WriteUnsignedBase128(100) // content length overruns the list
	w.Flush()

	r := NewReader(bytes.NewReader(buf.Bytes()))
	_, err := ParseAttributeList(nil, r, 3)
	if err == nil {
		t.Fatal("expected error: attribute content length overruns declared list length")
	}
	if !errors.Is(err, ErrFrameLength) {
		t.Fatalf("expected ErrFrameLength in chain, got %v", err)
	}
}

func TestUnrecognisedAttributeIsPreservedVerbatim(t *testing.T) {
	attrs := NewAttributeList(NewBinaryAttribute(999, []byte("opaque")))
	rec := NewRecord(0, attrs)
	encoded, err := rec.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	r := NewReader(bytes.NewReader(encoded))
	// No resolver: 999 is neither reserved nor known, so it must come
	// back as an UnrecognizedAttribute carrying the raw bytes.
	got, err := ParseRecord(nil, r)
	if err != nil {
		t.Fatalf("ParseRecord: %v", err)
	}
	attr, err := got.Attributes().FindOne(999)
	if err != nil {
		t.Fatalf("FindOne: %v", err)
	}
	u, ok := attr.(*UnrecognizedAttribute)
	if !ok {
		t.Fatalf("expected UnrecognizedAttribute, got %T", attr)
	}
	if string(u.Data()) != "opaque" {
		t.Fatalf("expected preserved content %q, got %q", "opaque", u.Data())
	}
}

func TestTimestampLeapSecond(t *testing.T) {
	ts := Timestamp{Sec: 100, Nsec: 1_000_000_500}
	if !ts.IsLeapSecond() {
		t.Fatal("expected leap second")
	}
	folded := ts.Time()
	if folded.Unix() != 101 {
		t.Fatalf("expected leap second to fold into the following second, got unix=%d", folded.Unix())
	}
}

func TestReservedAttributeCannotBeRedefinedByFormat(t *testing.T) {
	// ReservedFormat must win over any resolver for a reserved ID,
	// even if a (malicious or buggy) resolver claims a different
	// format for it.
	format, ok := ReservedFormat(AttrSeqnum)
	if !ok || format != FormatUnsignedInteger {
		t.Fatalf("expected AttrSeqnum to be reserved as unsigned-integer, got %v, %v", format, ok)
	}

	rec := NewRecord(0, NewAttributeList(NewUnsignedAttribute(AttrSeqnum, 7)))
	encoded, err := rec.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got, err := ParseRecord(mapResolver{AttrSeqnum: FormatString}, NewReader(bytes.NewReader(encoded)))
	if err != nil {
		t.Fatalf("ParseRecord: %v", err)
	}
	if !got.Equal(rec) {
		t.Fatalf("resolver overrode reserved format:\nwant %s\ngot  %s", rec.HumanRender(), got.HumanRender())
	}
}
