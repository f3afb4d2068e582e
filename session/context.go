/*************************************************************************
 * HORACE - host-observation capture and forward pipeline.
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 *************************************************************************/

// Package session maintains the live dictionary built from a session's
// start record, the builder used to construct that record, and the
// pipeline state machine that streams events through it.
package session

import (
	"fmt"

	"github.com/gdshaw/horace/herrors"
	"github.com/gdshaw/horace/record"
)

// ErrUnrecognised is returned when a label, format, or channel label is
// requested for an ID that the context has never seen defined.
var ErrUnrecognised = fmt.Errorf("unrecognised identifier")

type attrEntry struct {
	label  string
	format record.Format
}

// Context is the live attr_id -> (label, format) and channel -> label
// dictionary built from the most recent session-start record on the
// wire. It is the only place where attribute IDs are given meaning;
// parsing without a context can only decode reserved IDs.
type Context struct {
	attrs    map[int64]attrEntry
	channels map[int64]string
}

// NewContext returns a context seeded with the reserved attribute IDs
// and reserved control channels.
func NewContext() *Context {
	c := &Context{
		attrs:    make(map[int64]attrEntry),
		channels: make(map[int64]string),
	}
	for id, label := range reservedAttrLabels() {
		format, _ := record.ReservedFormat(id)
		c.attrs[id] = attrEntry{label: label, format: format}
	}
	for ch, label := range reservedChannelLabels() {
		c.channels[ch] = label
	}
	return c
}

func reservedAttrLabels() map[int64]string {
	ids := []int64{
		record.AttrDef, record.AttrCode, record.AttrLabel, record.AttrFormatID,
		record.AttrChannelDef, record.AttrChannel, record.AttrSource, record.AttrTS,
		record.AttrSeqnum, record.AttrHash, record.AttrSig, record.AttrEnd,
		record.AttrHashAlgo, record.AttrSigningKey,
	}
	m := make(map[int64]string, len(ids))
	for _, id := range ids {
		label, _ := record.ReservedLabel(id)
		m[id] = label
	}
	return m
}

func reservedChannelLabels() map[int64]string {
	ids := []int64{
		record.ChannelSession, record.ChannelSessionEnd, record.ChannelSync,
		record.ChannelAck, record.ChannelSignature, record.ChannelError,
	}
	m := make(map[int64]string, len(ids))
	for _, ch := range ids {
		label, _ := record.ReservedChannelLabel(ch)
		m[ch] = label
	}
	return m
}

// AttrFormat implements record.FormatResolver.
func (c *Context) AttrFormat(id int64) (record.Format, bool) {
	e, ok := c.attrs[id]
	return e.format, ok
}

// AttrLabel returns the label registered for id.
func (c *Context) AttrLabel(id int64) (string, error) {
	e, ok := c.attrs[id]
	if !ok {
		return "", herrors.New(herrors.Malformed, fmt.Errorf("attribute %d: %w", id, ErrUnrecognised))
	}
	return e.label, nil
}

// ChannelLabel returns the label registered for channel ch.
func (c *Context) ChannelLabel(ch int64) (string, error) {
	label, ok := c.channels[ch]
	if !ok {
		return "", herrors.New(herrors.Malformed, fmt.Errorf("channel %d: %w", ch, ErrUnrecognised))
	}
	return label, nil
}

// HandleAttrDef applies an attr-def compound attribute: reads its
// code/label/format sub-attributes and inserts or overrides the
// corresponding entry. Reassigning a reserved ID fails.
func (c *Context) HandleAttrDef(def *record.CompoundAttribute) error {
	list := def.List()
	codeAttr, err := list.FindOne(record.AttrCode)
	if err != nil {
		return herrors.New(herrors.Protocol, err)
	}
	code, ok := codeAttr.(*record.UnsignedAttribute)
	if !ok {
		return herrors.New(herrors.Protocol, fmt.Errorf("attr-def: code attribute has wrong format"))
	}
	labelAttr, err := list.FindOne(record.AttrLabel)
	if err != nil {
		return herrors.New(herrors.Protocol, err)
	}
	label, ok := labelAttr.(*record.StringAttribute)
	if !ok {
		return herrors.New(herrors.Protocol, fmt.Errorf("attr-def: label attribute has wrong format"))
	}
	formatAttr, err := list.FindOne(record.AttrFormatID)
	if err != nil {
		return herrors.New(herrors.Protocol, err)
	}
	formatVal, ok := formatAttr.(*record.UnsignedAttribute)
	if !ok {
		return herrors.New(herrors.Protocol, fmt.Errorf("attr-def: format attribute has wrong format"))
	}

	id := int64(code.Value())
	if record.IsReserved(id) {
		return herrors.New(herrors.Protocol, fmt.Errorf("attr-def: cannot redefine reserved attribute %d", id))
	}
	c.attrs[id] = attrEntry{label: label.Value(), format: record.Format(formatVal.Value())}
	return nil
}

// HandleChannelDef applies a channel-def compound attribute: reads its
// channel/label sub-attributes and inserts the entry.
func (c *Context) HandleChannelDef(def *record.CompoundAttribute) error {
	list := def.List()
	chAttr, err := list.FindOne(record.AttrChannel)
	if err != nil {
		return herrors.New(herrors.Protocol, err)
	}
	ch, ok := chAttr.(*record.SignedAttribute)
	if !ok {
		return herrors.New(herrors.Protocol, fmt.Errorf("channel-def: channel attribute has wrong format"))
	}
	labelAttr, err := list.FindOne(record.AttrLabel)
	if err != nil {
		return herrors.New(herrors.Protocol, err)
	}
	label, ok := labelAttr.(*record.StringAttribute)
	if !ok {
		return herrors.New(herrors.Protocol, fmt.Errorf("channel-def: label attribute has wrong format"))
	}
	c.channels[ch.Value()] = label.Value()
	return nil
}

// ApplySessionStart inserts or overrides learned (non-reserved) entries
// from a session-start record's attr-def and channel-def
// sub-attributes, leaving the reserved entries untouched. Entries
// learned earlier and not redefined by start are kept.
func ApplySessionStart(c *Context, start *record.Record) error {
	for _, a := range start.Attributes().All() {
		switch a.ID() {
		case record.AttrDef:
			compound, ok := a.(*record.CompoundAttribute)
			if !ok {
				return herrors.New(herrors.Protocol, fmt.Errorf("session-start: attr-def has wrong format"))
			}
			if err := c.HandleAttrDef(compound); err != nil {
				return err
			}
		case record.AttrChannelDef:
			compound, ok := a.(*record.CompoundAttribute)
			if !ok {
				return herrors.New(herrors.Protocol, fmt.Errorf("session-start: channel-def has wrong format"))
			}
			if err := c.HandleChannelDef(compound); err != nil {
				return err
			}
		}
	}
	return nil
}
