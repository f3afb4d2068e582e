/*************************************************************************
 * HORACE - host-observation capture and forward pipeline.
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 *************************************************************************/

package record

import (
	"fmt"
	"time"

	"github.com/gdshaw/horace/herrors"
)

// Timestamp is a seconds-and-nanoseconds wire timestamp. Nsec in
// [1e9, 2e9) denotes a leap second at the given Sec.
type Timestamp struct {
	Sec  uint64
	Nsec uint32
}

// TimestampFromTime returns t as a Timestamp at nanosecond resolution.
func TimestampFromTime(t time.Time) Timestamp {
	return Timestamp{Sec: uint64(t.Unix()), Nsec: uint32(t.Nanosecond())}
}

// Time converts back to a time.Time, folding a leap second into the
// following second since time.Time has no leap-second representation.
func (t Timestamp) Time() time.Time {
	nsec := t.Nsec
	sec := t.Sec
	if nsec >= 1_000_000_000 {
		nsec -= 1_000_000_000
		sec++
	}
	return time.Unix(int64(sec), int64(nsec)).UTC()
}

// IsLeapSecond reports whether Nsec falls in the leap-second range.
func (t Timestamp) IsLeapSecond() bool {
	return t.Nsec >= 1_000_000_000
}

func (t Timestamp) String() string {
	if t.IsLeapSecond() {
		return fmt.Sprintf("%d.%09d (leap)", t.Sec, t.Nsec-1_000_000_000)
	}
	return fmt.Sprintf("%d.%09d", t.Sec, t.Nsec)
}

// Before reports whether t precedes other.
func (t Timestamp) Before(other Timestamp) bool {
	if t.Sec != other.Sec {
		return t.Sec < other.Sec
	}
	return t.Nsec < other.Nsec
}

// Equal reports value equality.
func (t Timestamp) Equal(other Timestamp) bool {
	return t.Sec == other.Sec && t.Nsec == other.Nsec
}

// secWidth returns the minimal number of octets (>= 1) needed to hold
// sec as a big-endian unsigned integer.
func secWidth(sec uint64) int {
	w := 1
	for sec>>uint(8*w) != 0 {
		w++
	}
	return w
}

// TimestampAttribute holds a timestamp value.
type TimestampAttribute struct {
	id    int64
	value Timestamp
}

// NewTimestampAttribute constructs a timestamp attribute.
func NewTimestampAttribute(id int64, value Timestamp) *TimestampAttribute {
	return &TimestampAttribute{id: id, value: value}
}

// Value returns the timestamp value.
func (a *TimestampAttribute) Value() Timestamp { return a.value }

func (a *TimestampAttribute) ID() int64 { return a.id }

func (a *TimestampAttribute) Length() int {
	return secWidth(a.value.Sec) + 4
}

func (a *TimestampAttribute) Clone() Attribute {
	return &TimestampAttribute{id: a.id, value: a.value}
}

func (a *TimestampAttribute) Equal(other Attribute) bool {
	o, ok := other.(*TimestampAttribute)
	return ok && o.id == a.id && o.value.Equal(a.value)
}

func (a *TimestampAttribute) String() string {
	return fmt.Sprintf("%d: %s", a.id, a.value)
}

func (a *TimestampAttribute) Write(w *Writer) error {
	length := a.Length()
	if err := writeHeader(w, a.id, length); err != nil {
		return err
	}
	secLen := length - 4
	if err := w.WriteUnsigned(a.value.Sec, secLen); err != nil {
		return err
	}
	return w.WriteUnsigned(uint64(a.value.Nsec), 4)
}

func parseTimestampAttribute(r *Reader, id int64, length int) (Attribute, error) {
	if length < 5 || length > 12 {
		return nil, herrors.New(herrors.Malformed, fmt.Errorf("timestamp attribute %d: invalid length %d", id, length))
	}
	secLen := length - 4
	sec, err := r.ReadUnsigned(secLen)
	if err != nil {
		return nil, err
	}
	nsec, err := r.ReadUnsigned(4)
	if err != nil {
		return nil, err
	}
	if nsec >= 2_000_000_000 {
		return nil, herrors.New(herrors.Malformed, fmt.Errorf("timestamp attribute %d: nsec %d out of range", id, nsec))
	}
	return &TimestampAttribute{id: id, value: Timestamp{Sec: sec, Nsec: uint32(nsec)}}, nil
}
