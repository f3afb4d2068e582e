/*************************************************************************
 * HORACE - host-observation capture and forward pipeline.
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 *************************************************************************/

package record

import "fmt"

// ErrMissingAttribute is returned by FindOne when no attribute with
// the requested ID is present.
var ErrMissingAttribute = fmt.Errorf("missing attribute")

// ErrDuplicateAttribute is returned by FindOne when more than one
// attribute with the requested ID is present.
var ErrDuplicateAttribute = fmt.Errorf("duplicate attribute")

// AttributeList is an ordered, canonicalised sequence of attributes.
// Canonical order places reserved IDs before user IDs, both in
// ascending order of |ID|; attributes sharing one ID keep insertion
// order. The zero value is an empty, usable list.
type AttributeList struct {
	attrs []Attribute
}

// NewAttributeList builds a list from attrs, inserting each one in
// turn so the result is canonicalised regardless of the input order.
func NewAttributeList(attrs ...Attribute) *AttributeList {
	l := &AttributeList{}
	for _, a := range attrs {
		l.Append(a)
	}
	return l
}

// rank gives the canonical sort key for an attribute ID: reserved IDs
// (negative) sort before user IDs (non-negative), both by |id|.
func rank(id int64) (reserved bool, magnitude int64) {
	if id < 0 {
		return true, -id
	}
	return false, id
}

func less(a, b int64) bool {
	ar, am := rank(a)
	br, bm := rank(b)
	if ar != br {
		// reserved (true) sorts first
		return ar
	}
	return am < bm
}

// Append inserts attr at the first position consistent with canonical
// order, after any existing attribute of the same or lower rank.
func (l *AttributeList) Append(attr Attribute) {
	id := attr.ID()
	i := len(l.attrs)
	for i > 0 && less(id, l.attrs[i-1].ID()) {
		i--
	}
	l.attrs = append(l.attrs, nil)
	copy(l.attrs[i+1:], l.attrs[i:])
	l.attrs[i] = attr
}

// Len returns the number of attributes in the list.
func (l *AttributeList) Len() int {
	return len(l.attrs)
}

// At returns the attribute at canonical position i.
func (l *AttributeList) At(i int) Attribute {
	return l.attrs[i]
}

// All returns the attributes in canonical order. The returned slice
// must not be mutated by the caller.
func (l *AttributeList) All() []Attribute {
	return l.attrs
}

// Contains reports whether any attribute with the given ID is present.
func (l *AttributeList) Contains(id int64) bool {
	for _, a := range l.attrs {
		if a.ID() == id {
			return true
		}
	}
	return false
}

// FindOne returns the unique attribute with the given ID. It fails
// with ErrMissingAttribute if none is present, or ErrDuplicateAttribute
// if more than one is present.
func (l *AttributeList) FindOne(id int64) (Attribute, error) {
	var found Attribute
	count := 0
	for _, a := range l.attrs {
		if a.ID() == id {
			found = a
			count++
		}
	}
	switch count {
	case 0:
		return nil, fmt.Errorf("attribute %d: %w", id, ErrMissingAttribute)
	case 1:
		return found, nil
	default:
		return nil, fmt.Errorf("attribute %d: %w", id, ErrDuplicateAttribute)
	}
}

// Length returns the on-wire byte length of the whole list: the sum,
// over every attribute, of its ID varint length, its content-length
// varint length, and its content length.
func (l *AttributeList) Length() int {
	n := 0
	for _, a := range l.attrs {
		n += SignedBase128Len(a.ID()) + UnsignedBase128Len(uint64(a.Length())) + a.Length()
	}
	return n
}

// Write emits every attribute in canonical order.
func (l *AttributeList) Write(w *Writer) error {
	for _, a := range l.attrs {
		if err := a.Write(w); err != nil {
			return err
		}
	}
	return nil
}

// Equal reports whether l and other hold the same attributes in the
// same canonical order.
func (l *AttributeList) Equal(other *AttributeList) bool {
	if l.Len() != other.Len() {
		return false
	}
	for i := range l.attrs {
		if !l.attrs[i].Equal(other.attrs[i]) {
			return false
		}
	}
	return true
}

// Subset reports whether l is a positional prefix-intersection of
// other: every attribute of l, in order, equals the attribute at the
// same canonical index of other.
func (l *AttributeList) Subset(other *AttributeList) bool {
	if l.Len() > other.Len() {
		return false
	}
	for i := range l.attrs {
		if !l.attrs[i].Equal(other.attrs[i]) {
			return false
		}
	}
	return true
}

// Clone deep-copies the list and every attribute within it.
func (l *AttributeList) Clone() *AttributeList {
	c := &AttributeList{attrs: make([]Attribute, len(l.attrs))}
	for i, a := range l.attrs {
		c.attrs[i] = a.Clone()
	}
	return c
}

// ParseAttributeList reads exactly length octets from r as a
// canonicalised attribute list, dispatching each attribute's format
// through resolver (which may be nil, in which case only reserved IDs
// are recognised). It fails if an attribute's declared content would
// overrun the remaining budget.
func ParseAttributeList(resolver FormatResolver, r *Reader, length int) (*AttributeList, error) {
	start := r.Count()
	end := start + int64(length)
	list := &AttributeList{}
	for r.Count() < end {
		attr, err := parseAttribute(resolver, r, end)
		if err != nil {
			return nil, err
		}
		list.Append(attr)
		if r.Count() > end {
			return nil, fmt.Errorf("attribute list overran its declared length: %w", ErrFrameLength)
		}
	}
	return list, nil
}
