// Copyright 2025 Blink Labs Software
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package transaction

import (
	"encoding/hex"
	"fmt"
	"math"

	"github.com/blinklabs-io/strata/ledger/appendix"
	"github.com/blinklabs-io/strata/ledger/chain"
	"github.com/blinklabs-io/strata/ledger/common"
	"github.com/blinklabs-io/strata/ledger/state"
	"github.com/blinklabs-io/strata/ledger/txtype"
)

func (t *Transaction) encode() []byte {
	size := HeaderSize + t.attachment.Size()
	if !t.chain.IsParent() {
		size += common.HashSize
	}
	for _, a := range t.appendages {
		size += a.Size()
	}
	w := appendix.NewWriter(size)
	w.Int32(t.chain.ID)
	w.Int8(t.typ.Key.Type)
	w.Int8(t.typ.Key.Subtype)
	w.Int8(t.version)
	w.Int32(t.timestamp)
	w.Int16(t.deadline)
	w.Fixed(t.senderPublicKey, common.PublicKeySize)
	w.Uint64(t.recipientID)
	w.Int64(t.amount)
	w.Int64(t.fee)
	w.Fixed(t.signature, common.SignatureSize)
	w.Int32(t.Flags())
	w.Int32(t.ecBlockHeight)
	w.Uint64(t.ecBlockID)
	if !t.chain.IsParent() {
		w.Fixed(t.referenced, common.HashSize)
	}
	t.attachment.Write(w)
	for _, a := range t.appendages {
		a.Write(w)
	}
	return w.Bytes()
}

// JSON is the structured form. 64-bit values are unsigned decimal strings and
// blobs are lowercase hex.
func (t *Transaction) JSON() appendix.Object {
	attachment := t.attachment.JSON()
	for _, a := range t.appendages {
		for k, v := range a.JSON() {
			attachment[k] = v
		}
	}
	o := appendix.Object{
		"chain":           t.chain.ID,
		"type":            t.typ.Key.Type,
		"subtype":         t.typ.Key.Subtype,
		"version":         t.version,
		"timestamp":       t.timestamp,
		"deadline":        t.deadline,
		"senderPublicKey": hex.EncodeToString(t.senderPublicKey),
		"sender":          common.FormatID(t.senderID),
		"amountNQT":       fmt.Sprint(t.amount),
		"feeNQT":          fmt.Sprint(t.fee),
		"ecBlockHeight":   t.ecBlockHeight,
		"ecBlockId":       common.FormatID(t.ecBlockID),
		"attachment":      attachment,
	}
	if t.recipientID != 0 {
		o["recipient"] = common.FormatID(t.recipientID)
	}
	if t.referenced != nil {
		o["referencedTransactionFullHash"] = hex.EncodeToString(t.referenced)
	}
	if t.IsSigned() {
		o["signature"] = hex.EncodeToString(t.signature)
		o["fullHash"] = hex.EncodeToString(t.fullHash)
		o["transaction"] = t.StringID()
	}
	if h := t.Height(); h != Unconfirmed {
		o["height"] = h
	}
	return o
}

// Codec decodes transactions using the read-only registries of one ledger
type Codec struct {
	chains     *chain.Registry
	types      *txtype.Table
	appendices *appendix.Registry
}

func NewCodec(chains *chain.Registry, types *txtype.Table, appendices *appendix.Registry) *Codec {
	return &Codec{chains: chains, types: types, appendices: appendices}
}

func (c *Codec) Chains() *chain.Registry        { return c.chains }
func (c *Codec) Types() *txtype.Table           { return c.types }
func (c *Codec) Appendices() *appendix.Registry { return c.appendices }

// Parse decodes the binary form. A zero signature yields an unsigned
// transaction.
func (c *Codec) Parse(data []byte) (*Transaction, error) {
	r := appendix.NewReader(data)
	chainID := r.Int32()
	key := appendix.TypeKey{Type: r.Int8(), Subtype: r.Int8()}
	t := &Transaction{
		version:         r.Int8(),
		timestamp:       r.Int32(),
		deadline:        r.Int16(),
		senderPublicKey: r.Bytes(common.PublicKeySize),
		recipientID:     r.Uint64(),
		amount:          r.Int64(),
		fee:             r.Int64(),
		signature:       r.Bytes(common.SignatureSize),
	}
	flags := r.Int32()
	t.ecBlockHeight = r.Int32()
	t.ecBlockID = r.Uint64()
	if err := r.Err(); err != nil {
		return nil, common.NewNotValid("transaction header: %w", err)
	}
	if err := c.resolve(t, chainID, key); err != nil {
		return nil, err
	}
	if common.IsZero(t.signature) {
		t.signature = nil
	}
	if !t.chain.IsParent() {
		if ref := r.Bytes(common.HashSize); !common.IsZero(ref) {
			t.referenced = ref
		}
	}
	attachment, err := t.typ.ParseAttachment(r)
	if err != nil {
		return nil, common.NewNotValid("parse %s attachment: %w", t.typ, err)
	}
	t.attachment = attachment
	if t.chain.IsParent() {
		if flags != 0 {
			return nil, common.NewNotValid("parent chain transaction with appendix flags %#x", flags)
		}
	} else if t.appendages, err = c.appendices.ParseFlagged(r, flags); err != nil {
		return nil, err
	}
	if err := r.Err(); err != nil {
		return nil, common.NewNotValid("transaction body: %w", err)
	}
	if r.Remaining() != 0 {
		return nil, common.NewNotValid("%d trailing bytes after transaction", r.Remaining())
	}
	t.seal()
	return t, nil
}

// ParseHex decodes a hex string holding the binary form
func (c *Codec) ParseHex(s string) (*Transaction, error) {
	data, err := hex.DecodeString(s)
	if err != nil {
		return nil, common.NewNotValid("transaction hex: %w", err)
	}
	return c.Parse(data)
}

// ParseJSON decodes the structured form
func (c *Codec) ParseJSON(o appendix.Object) (*Transaction, error) {
	var errs []error
	intField := func(key string, lo, hi int64) int64 {
		v, err := o.Int(key)
		if err == nil && (v < lo || v > hi) {
			err = fmt.Errorf("field %q out of range", key)
		}
		if err != nil {
			errs = append(errs, err)
		}
		return v
	}
	chainID := int32(intField("chain", math.MinInt32, math.MaxInt32))
	key := appendix.TypeKey{
		Type:    int8(intField("type", math.MinInt8, math.MaxInt8)),
		Subtype: int8(intField("subtype", math.MinInt8, math.MaxInt8)),
	}
	t := &Transaction{
		version:       int8(intField("version", math.MinInt8, math.MaxInt8)),
		timestamp:     int32(intField("timestamp", math.MinInt32, math.MaxInt32)),
		deadline:      int16(intField("deadline", math.MinInt16, math.MaxInt16)),
		amount:        intField("amountNQT", math.MinInt64, math.MaxInt64),
		fee:           intField("feeNQT", math.MinInt64, math.MaxInt64),
		ecBlockHeight: int32(intField("ecBlockHeight", math.MinInt32, math.MaxInt32)),
	}
	var err error
	if t.senderPublicKey, err = o.Hex("senderPublicKey"); err != nil {
		errs = append(errs, err)
	}
	if t.recipientID, err = o.ID("recipient"); err != nil {
		errs = append(errs, err)
	}
	if t.ecBlockID, err = o.ID("ecBlockId"); err != nil {
		errs = append(errs, err)
	}
	if t.signature, err = o.Hex("signature"); err != nil {
		errs = append(errs, err)
	}
	if t.referenced, err = o.Hex("referencedTransactionFullHash"); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return nil, common.NewNotValid("transaction fields: %w", errs[0])
	}
	if len(t.senderPublicKey) != common.PublicKeySize {
		return nil, common.NewNotValid("invalid sender public key length %d", len(t.senderPublicKey))
	}
	if t.signature != nil && len(t.signature) != common.SignatureSize {
		return nil, common.NewNotValid("invalid signature length %d", len(t.signature))
	}
	if t.referenced != nil && len(t.referenced) != common.HashSize {
		return nil, common.NewNotValid("invalid referenced full hash length %d", len(t.referenced))
	}
	if err := c.resolve(t, chainID, key); err != nil {
		return nil, err
	}
	if t.chain.IsParent() && t.referenced != nil {
		return nil, common.NewNotValid("parent chain transaction with a referenced transaction")
	}
	attachment, err := o.Child("attachment")
	if err != nil {
		attachment = appendix.Object{}
	}
	if t.attachment, err = t.typ.ParseAttachmentJSON(attachment); err != nil {
		return nil, common.NewNotValid("parse %s attachment: %w", t.typ, err)
	}
	if t.appendages, err = c.appendices.ParseObject(attachment); err != nil {
		return nil, err
	}
	if t.chain.IsParent() && len(t.appendages) > 0 {
		return nil, common.NewNotValid("parent chain transaction with appendices")
	}
	t.seal()
	return t, nil
}

// FromRecord decodes a persisted transaction and restores its block linkage
func (c *Codec) FromRecord(r *state.Record) (*Transaction, error) {
	t, err := c.Parse(r.Bytes)
	if err != nil {
		return nil, fmt.Errorf("decode stored transaction %s: %w", common.FormatID(r.ID), err)
	}
	if t.id != r.ID {
		return nil, fmt.Errorf("stored transaction %s decodes to id %s", common.FormatID(r.ID), t.StringID())
	}
	t.link = linkage{
		height:   r.Height,
		blockID:  r.BlockID,
		index:    r.Index,
		parentID: r.ParentID,
	}
	return t, nil
}

func (c *Codec) resolve(t *Transaction, chainID int32, key appendix.TypeKey) error {
	ch, err := c.chains.Chain(chainID)
	if err != nil {
		return common.NewNotValid("%w", err)
	}
	typ, err := c.types.Lookup(ch.IsParent(), key)
	if err != nil {
		return err
	}
	t.chain = ch
	t.typ = typ
	t.link = linkage{height: Unconfirmed, index: -1, blockTimestamp: -1}
	return nil
}
