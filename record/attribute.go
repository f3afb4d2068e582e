/*************************************************************************
 * HORACE - host-observation capture and forward pipeline.
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 *************************************************************************/

package record

import (
	"bytes"
	"fmt"

	"github.com/gdshaw/horace/herrors"
)

// ErrFrameLength is returned when a record or attribute list's
// declared length does not match the octets actually present.
var ErrFrameLength = fmt.Errorf("declared length does not match content")

// Attribute is the tagged-sum-type interface implemented by every
// attribute variant: unsigned/signed integer, boolean, binary, string,
// timestamp, compound, and the unrecognised fallback.
type Attribute interface {
	// ID returns the attribute's ID.
	ID() int64
	// Length returns the content length in octets, excluding the ID
	// and length-prefix fields.
	Length() int
	// Equal reports whether other has the same ID, variant, and value.
	Equal(other Attribute) bool
	// Clone returns a deep copy.
	Clone() Attribute
	// String renders the attribute in canonical debug form.
	String() string
	// Write emits ID, length, and content to w.
	Write(w *Writer) error
}

func writeHeader(w *Writer, id int64, length int) error {
	if err := w.WriteSignedBase128(id); err != nil {
		return err
	}
	return w.WriteUnsignedBase128(uint64(length))
}

// parseAttribute reads one attribute (ID, length, content) from r,
// failing if its declared content would read past the absolute stream
// position end.
func parseAttribute(resolver FormatResolver, r *Reader, end int64) (Attribute, error) {
	id, err := r.ReadSignedBase128()
	if err != nil {
		return nil, err
	}
	length64, err := r.ReadUnsignedBase128()
	if err != nil {
		return nil, err
	}
	length := int(length64)
	if r.Count()+int64(length) > end {
		return nil, herrors.New(herrors.Malformed, fmt.Errorf("attribute %d: content length %d overruns list: %w", id, length, ErrFrameLength))
	}

	format, known := ReservedFormat(id)
	if !known && resolver != nil {
		format, known = resolver.AttrFormat(id)
	}
	if !known {
		data, err := r.ReadExact(length)
		if err != nil {
			return nil, err
		}
		return &UnrecognizedAttribute{id: id, data: data}, nil
	}

	switch format {
	case FormatCompound:
		list, err := ParseAttributeList(resolver, r, length)
		if err != nil {
			return nil, err
		}
		return &CompoundAttribute{id: id, list: list}, nil
	case FormatUnsignedInteger:
		v, err := parseUnsignedContent(r, length)
		if err != nil {
			return nil, err
		}
		return &UnsignedAttribute{id: id, value: v}, nil
	case FormatSignedInteger:
		v, err := parseSignedContent(r, length)
		if err != nil {
			return nil, err
		}
		return &SignedAttribute{id: id, value: v}, nil
	case FormatBinary:
		data, err := r.ReadExact(length)
		if err != nil {
			return nil, err
		}
		return &BinaryAttribute{id: id, data: data}, nil
	case FormatString:
		data, err := r.ReadExact(length)
		if err != nil {
			return nil, err
		}
		return &StringAttribute{id: id, value: string(data)}, nil
	case FormatTimestamp:
		return parseTimestampAttribute(r, id, length)
	case FormatBoolean:
		return parseBooleanAttribute(r, id, length)
	default:
		data, err := r.ReadExact(length)
		if err != nil {
			return nil, err
		}
		return &UnrecognizedAttribute{id: id, data: data}, nil
	}
}

func parseUnsignedContent(r *Reader, length int) (uint64, error) {
	if length < 1 || length > 8 {
		return 0, herrors.New(herrors.Malformed, fmt.Errorf("invalid unsigned-integer length %d", length))
	}
	return r.ReadUnsigned(length)
}

func parseSignedContent(r *Reader, length int) (int64, error) {
	if length < 1 || length > 8 {
		return 0, herrors.New(herrors.Malformed, fmt.Errorf("invalid signed-integer length %d", length))
	}
	return r.ReadSigned(length)
}

// UnsignedAttribute holds an unsigned integer value (<= 8 octets).
type UnsignedAttribute struct {
	id    int64
	value uint64
}

// NewUnsignedAttribute constructs an unsigned-integer attribute.
func NewUnsignedAttribute(id int64, value uint64) *UnsignedAttribute {
	return &UnsignedAttribute{id: id, value: value}
}

func (a *UnsignedAttribute) ID() int64      { return a.id }
func (a *UnsignedAttribute) Value() uint64  { return a.value }
func (a *UnsignedAttribute) Length() int    { return UnsignedWidth(a.value) }
func (a *UnsignedAttribute) Clone() Attribute {
	return &UnsignedAttribute{id: a.id, value: a.value}
}
func (a *UnsignedAttribute) Equal(other Attribute) bool {
	o, ok := other.(*UnsignedAttribute)
	return ok && o.id == a.id && o.value == a.value
}
func (a *UnsignedAttribute) String() string {
	return fmt.Sprintf("%d: %d", a.id, a.value)
}
func (a *UnsignedAttribute) Write(w *Writer) error {
	if err := writeHeader(w, a.id, a.Length()); err != nil {
		return err
	}
	return w.WriteUnsigned(a.value, a.Length())
}

// SignedAttribute holds a signed integer value (<= 8 octets).
type SignedAttribute struct {
	id    int64
	value int64
}

// NewSignedAttribute constructs a signed-integer attribute.
func NewSignedAttribute(id int64, value int64) *SignedAttribute {
	return &SignedAttribute{id: id, value: value}
}

func (a *SignedAttribute) ID() int64     { return a.id }
func (a *SignedAttribute) Value() int64  { return a.value }
func (a *SignedAttribute) Length() int   { return SignedWidth(a.value) }
func (a *SignedAttribute) Clone() Attribute {
	return &SignedAttribute{id: a.id, value: a.value}
}
func (a *SignedAttribute) Equal(other Attribute) bool {
	o, ok := other.(*SignedAttribute)
	return ok && o.id == a.id && o.value == a.value
}
func (a *SignedAttribute) String() string {
	return fmt.Sprintf("%d: %d", a.id, a.value)
}
func (a *SignedAttribute) Write(w *Writer) error {
	if err := writeHeader(w, a.id, a.Length()); err != nil {
		return err
	}
	return w.WriteSigned(a.value, a.Length())
}

// BinaryAttribute holds opaque binary content.
type BinaryAttribute struct {
	id   int64
	data []byte
}

// NewBinaryAttribute constructs a binary attribute, copying data.
func NewBinaryAttribute(id int64, data []byte) *BinaryAttribute {
	return &BinaryAttribute{id: id, data: append([]byte(nil), data...)}
}

func (a *BinaryAttribute) ID() int64      { return a.id }
func (a *BinaryAttribute) Value() []byte  { return a.data }
func (a *BinaryAttribute) Length() int    { return len(a.data) }
func (a *BinaryAttribute) Clone() Attribute {
	return &BinaryAttribute{id: a.id, data: append([]byte(nil), a.data...)}
}
func (a *BinaryAttribute) Equal(other Attribute) bool {
	o, ok := other.(*BinaryAttribute)
	return ok && o.id == a.id && bytes.Equal(o.data, a.data)
}
func (a *BinaryAttribute) String() string {
	return fmt.Sprintf("%d: %x", a.id, a.data)
}
func (a *BinaryAttribute) Write(w *Writer) error {
	if err := writeHeader(w, a.id, len(a.data)); err != nil {
		return err
	}
	return w.Write(a.data)
}

// StringAttribute holds UTF-8 string content, unterminated on the wire.
type StringAttribute struct {
	id    int64
	value string
}

// NewStringAttribute constructs a string attribute.
func NewStringAttribute(id int64, value string) *StringAttribute {
	return &StringAttribute{id: id, value: value}
}

func (a *StringAttribute) ID() int64      { return a.id }
func (a *StringAttribute) Value() string  { return a.value }
func (a *StringAttribute) Length() int    { return len(a.value) }
func (a *StringAttribute) Clone() Attribute {
	return &StringAttribute{id: a.id, value: a.value}
}
func (a *StringAttribute) Equal(other Attribute) bool {
	o, ok := other.(*StringAttribute)
	return ok && o.id == a.id && o.value == a.value
}
func (a *StringAttribute) String() string {
	return fmt.Sprintf("%d: %q", a.id, a.value)
}
func (a *StringAttribute) Write(w *Writer) error {
	if err := writeHeader(w, a.id, len(a.value)); err != nil {
		return err
	}
	return w.Write([]byte(a.value))
}

// BooleanAttribute holds a single boolean octet (0 or 1).
type BooleanAttribute struct {
	id    int64
	value bool
}

// NewBooleanAttribute constructs a boolean attribute.
func NewBooleanAttribute(id int64, value bool) *BooleanAttribute {
	return &BooleanAttribute{id: id, value: value}
}

func (a *BooleanAttribute) ID() int64     { return a.id }
func (a *BooleanAttribute) Value() bool   { return a.value }
func (a *BooleanAttribute) Length() int   { return 1 }
func (a *BooleanAttribute) Clone() Attribute {
	return &BooleanAttribute{id: a.id, value: a.value}
}
func (a *BooleanAttribute) Equal(other Attribute) bool {
	o, ok := other.(*BooleanAttribute)
	return ok && o.id == a.id && o.value == a.value
}
func (a *BooleanAttribute) String() string {
	return fmt.Sprintf("%d: %t", a.id, a.value)
}
func (a *BooleanAttribute) Write(w *Writer) error {
	if err := writeHeader(w, a.id, 1); err != nil {
		return err
	}
	if a.value {
		return w.WriteByte(1)
	}
	return w.WriteByte(0)
}

func parseBooleanAttribute(r *Reader, id int64, length int) (Attribute, error) {
	if length != 1 {
		return nil, herrors.New(herrors.Malformed, fmt.Errorf("boolean attribute %d: invalid length %d", id, length))
	}
	b, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	switch b {
	case 0:
		return &BooleanAttribute{id: id, value: false}, nil
	case 1:
		return &BooleanAttribute{id: id, value: true}, nil
	default:
		return nil, herrors.New(herrors.Malformed, fmt.Errorf("boolean attribute %d: value %d out of range", id, b))
	}
}

// UnrecognizedAttribute preserves the raw bytes of an attribute whose
// ID is not known to the active session context, so that it can still
// be routed and forwarded without being interpreted.
type UnrecognizedAttribute struct {
	id   int64
	data []byte
}

func (a *UnrecognizedAttribute) ID() int64     { return a.id }
func (a *UnrecognizedAttribute) Data() []byte  { return a.data }
func (a *UnrecognizedAttribute) Length() int   { return len(a.data) }
func (a *UnrecognizedAttribute) Clone() Attribute {
	return &UnrecognizedAttribute{id: a.id, data: append([]byte(nil), a.data...)}
}
func (a *UnrecognizedAttribute) Equal(other Attribute) bool {
	o, ok := other.(*UnrecognizedAttribute)
	return ok && o.id == a.id && bytes.Equal(o.data, a.data)
}
func (a *UnrecognizedAttribute) String() string {
	return fmt.Sprintf("%d: <unrecognised %d bytes>", a.id, len(a.data))
}
func (a *UnrecognizedAttribute) Write(w *Writer) error {
	if err := writeHeader(w, a.id, len(a.data)); err != nil {
		return err
	}
	return w.Write(a.data)
}
