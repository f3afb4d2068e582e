/*************************************************************************
 * HORACE - host-observation capture and forward pipeline.
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 *************************************************************************/

package record

import "fmt"

// CompoundAttribute holds a nested attribute list, used for attr-def,
// channel-def, and end-of-session markers.
type CompoundAttribute struct {
	id   int64
	list *AttributeList
}

// NewCompoundAttribute constructs a compound attribute from list,
// taking ownership of it.
func NewCompoundAttribute(id int64, list *AttributeList) *CompoundAttribute {
	if list == nil {
		list = &AttributeList{}
	}
	return &CompoundAttribute{id: id, list: list}
}

// List returns the nested attribute list.
func (a *CompoundAttribute) List() *AttributeList { return a.list }

func (a *CompoundAttribute) ID() int64   { return a.id }
func (a *CompoundAttribute) Length() int { return a.list.Length() }

func (a *CompoundAttribute) Clone() Attribute {
	return &CompoundAttribute{id: a.id, list: a.list.Clone()}
}

func (a *CompoundAttribute) Equal(other Attribute) bool {
	o, ok := other.(*CompoundAttribute)
	return ok && o.id == a.id && a.list.Equal(o.list)
}

func (a *CompoundAttribute) String() string {
	return fmt.Sprintf("%d: {%d attrs}", a.id, a.list.Len())
}

func (a *CompoundAttribute) Write(w *Writer) error {
	if err := writeHeader(w, a.id, a.Length()); err != nil {
		return err
	}
	return a.list.Write(w)
}
