/*************************************************************************
 * HORACE - host-observation capture and forward pipeline.
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 *************************************************************************/

package session

import (
	"crypto/ed25519"

	"github.com/gdshaw/horace/record"
)

type attrKey struct {
	label  string
	format record.Format
}

// Builder accumulates the contents of a session-start record: user
// attribute and channel definitions, optional hash-chain algorithm,
// and optional signing public key.
type Builder struct {
	sourceID  string
	start     record.Timestamp
	nextAttr  int64
	nextChan  int64
	attrIDs   map[attrKey]int64
	attrDefs  []record.Attribute
	chanDefs  []record.Attribute
	hashAlgo  string
	publicKey ed25519.PublicKey
}

// NewBuilder starts accumulating a session-start record for sourceID,
// beginning at timestamp start.
func NewBuilder(sourceID string, start record.Timestamp) *Builder {
	return &Builder{
		sourceID: sourceID,
		start:    start,
		attrIDs:  make(map[attrKey]int64),
	}
}

// DefineAttribute allocates (or reuses, if an identical label/format
// pair was already requested in this session) a user attribute ID, and
// returns it.
func (b *Builder) DefineAttribute(label string, format record.Format) int64 {
	key := attrKey{label: label, format: format}
	if id, ok := b.attrIDs[key]; ok {
		return id
	}
	id := b.nextAttr
	b.nextAttr++
	b.attrIDs[key] = id

	def := record.NewCompoundAttribute(record.AttrDef, record.NewAttributeList(
		record.NewUnsignedAttribute(record.AttrCode, uint64(id)),
		record.NewStringAttribute(record.AttrLabel, label),
		record.NewUnsignedAttribute(record.AttrFormatID, uint64(format)),
	))
	b.attrDefs = append(b.attrDefs, def)
	return id
}

// DefineChannel always allocates a fresh channel number for label, and
// returns it. extra carries any additional sub-attributes to embed in
// the channel-def (may be nil).
func (b *Builder) DefineChannel(label string, extra ...record.Attribute) int64 {
	ch := b.nextChan
	b.nextChan++

	sub := record.NewAttributeList(
		record.NewSignedAttribute(record.AttrChannel, ch),
		record.NewStringAttribute(record.AttrLabel, label),
	)
	for _, a := range extra {
		sub.Append(a)
	}
	def := record.NewCompoundAttribute(record.AttrChannelDef, sub)
	b.chanDefs = append(b.chanDefs, def)
	return ch
}

// DefineHash records the name of the hash algorithm used for the
// session's event hash chain.
func (b *Builder) DefineHash(name string) {
	b.hashAlgo = name
}

// DefineKeypair records the public half of the signing keypair used
// for this session's detached signatures.
func (b *Builder) DefineKeypair(pub ed25519.PublicKey) {
	b.publicKey = pub
}

// Build finalises the session-start record: source ID, start
// timestamp, every attribute-def and channel-def accumulated so far,
// and the optional hash-algorithm name and signing public key.
func (b *Builder) Build() *record.Record {
	attrs := record.NewAttributeList(
		record.NewStringAttribute(record.AttrSource, b.sourceID),
		record.NewTimestampAttribute(record.AttrTS, b.start),
	)
	for _, a := range b.attrDefs {
		attrs.Append(a)
	}
	for _, a := range b.chanDefs {
		attrs.Append(a)
	}
	if b.hashAlgo != "" {
		attrs.Append(record.NewStringAttribute(record.AttrHashAlgo, b.hashAlgo))
	}
	if len(b.publicKey) > 0 {
		attrs.Append(record.NewBinaryAttribute(record.AttrSigningKey, []byte(b.publicKey)))
	}
	return record.NewRecord(record.ChannelSession, attrs)
}
