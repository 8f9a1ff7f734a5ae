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

// Package transaction implements the signed transaction entity shared by the
// parent chain and every child chain, its builder and its two encodings.
package transaction

import (
	"errors"
	"math"
	"sync"

	"github.com/blinklabs-io/strata/ledger/appendix"
	"github.com/blinklabs-io/strata/ledger/chain"
	"github.com/blinklabs-io/strata/ledger/common"
	"github.com/blinklabs-io/strata/ledger/crypto"
	"github.com/blinklabs-io/strata/ledger/state"
	"github.com/blinklabs-io/strata/ledger/txtype"
)

const (
	Version int8 = 1

	// HeaderSize is the fixed part of the encoding shared by both chain kinds
	HeaderSize      = 4 + 1 + 1 + 1 + 4 + 2 + common.PublicKeySize + 8 + 8 + 8 + common.SignatureSize + 4 + 4 + 8
	SignatureOffset = 4 + 1 + 1 + 1 + 4 + 2 + common.PublicKeySize + 8 + 8 + 8

	// AnchorDistance is how far below the tip a new transaction anchors
	AnchorDistance = 720

	// Unconfirmed is the height of a transaction that is not in a block
	Unconfirmed int32 = math.MaxInt32
)

var (
	ErrNotSigned     = errors.New("transaction is not signed")
	ErrKeyMismatch   = errors.New("secret phrase does not match the sender public key")
	ErrNoBlockchain  = errors.New("builder needs a blockchain to fill in the timestamp, anchor or fee")
	ErrNoRecipientPK = errors.New("encrypted appendix needs the recipient public key")
)

// Transaction is a built transaction. Everything but its block linkage is
// immutable once built.
type Transaction struct {
	chain           *chain.Chain
	typ             *txtype.Type
	version         int8
	timestamp       int32
	deadline        int16
	senderPublicKey []byte
	senderID        uint64
	recipientID     uint64
	amount          int64
	fee             int64
	signature       []byte
	ecBlockHeight   int32
	ecBlockID       uint64
	referenced      []byte
	attachment      appendix.Attachment
	appendages      []appendix.Appendix

	bytes    []byte
	fullHash []byte
	id       uint64

	mu   sync.RWMutex
	link linkage
}

// linkage places a confirmed transaction in the chain
type linkage struct {
	height         int32
	blockID        uint64
	index          int16
	blockTimestamp int32
	parentID       uint64
}

func (t *Transaction) Chain() *chain.Chain             { return t.chain }
func (t *Transaction) ChainID() int32                  { return t.chain.ID }
func (t *Transaction) Type() *txtype.Type              { return t.typ }
func (t *Transaction) TypeKey() appendix.TypeKey       { return t.typ.Key }
func (t *Transaction) Version() int8                   { return t.version }
func (t *Transaction) Timestamp() int32                { return t.timestamp }
func (t *Transaction) Deadline() int16                 { return t.deadline }
func (t *Transaction) SenderPublicKey() []byte         { return t.senderPublicKey }
func (t *Transaction) SenderID() uint64                { return t.senderID }
func (t *Transaction) RecipientID() uint64             { return t.recipientID }
func (t *Transaction) Amount() int64                   { return t.amount }
func (t *Transaction) Fee() int64                      { return t.fee }
func (t *Transaction) Signature() []byte               { return t.signature }
func (t *Transaction) ECBlockHeight() int32            { return t.ecBlockHeight }
func (t *Transaction) ECBlockID() uint64               { return t.ecBlockID }
func (t *Transaction) ReferencedFullHash() []byte      { return t.referenced }
func (t *Transaction) Attachment() appendix.Attachment { return t.attachment }
func (t *Transaction) Appendages() []appendix.Appendix { return t.appendages }
func (t *Transaction) IsSigned() bool                  { return t.signature != nil }
func (t *Transaction) Flags() int32                    { return appendix.Flags(t.appendages) }

// Expiration is the last timestamp at which the transaction may be included
func (t *Transaction) Expiration() int32 {
	return t.timestamp + int32(t.deadline)*60
}

// ID is zero until the transaction is signed
func (t *Transaction) ID() uint64 {
	return t.id
}

// StringID renders the id as an unsigned decimal
func (t *Transaction) StringID() string {
	return common.FormatID(t.id)
}

// FullHash is nil until the transaction is signed
func (t *Transaction) FullHash() []byte {
	return t.fullHash
}

// Bytes is the binary encoding, with a zero signature when unsigned
func (t *Transaction) Bytes() []byte {
	return t.bytes
}

// UnsignedBytes is the encoding with the signature field zeroed, which is
// what gets signed
func (t *Transaction) UnsignedBytes() []byte {
	return zeroSignature(t.bytes)
}

// Size is the on-chain footprint
func (t *Transaction) Size() int {
	return len(t.bytes)
}

// FullSize is the footprint of the attachment and appendices including any
// prunable payload
func (t *Transaction) FullSize() int {
	size := t.attachment.FullSize()
	for _, a := range t.appendages {
		size += a.FullSize()
	}
	return size
}

// Phasing returns the phasing appendix, or nil
func (t *Transaction) Phasing() *appendix.Phasing {
	p, _ := appendix.Find(t, appendix.CodePhasing).(*appendix.Phasing)
	return p
}

// AttachmentIsPhased reports whether application of the attachment waits for
// a phasing condition
func (t *Transaction) AttachmentIsPhased() bool {
	return appendix.IsPhased(t.typ.Phasable, t)
}

func (t *Transaction) Height() int32 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.link.height
}

func (t *Transaction) BlockID() uint64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.link.blockID
}

// Index is the position in the block, or -1
func (t *Transaction) Index() int16 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.link.index
}

func (t *Transaction) BlockTimestamp() int32 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.link.blockTimestamp
}

// ParentID is the id of the parent chain transaction that carried a child
// transaction into a block, or 0
func (t *Transaction) ParentID() uint64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.link.parentID
}

// SetBlock links the transaction to the block that confirmed it
func (t *Transaction) SetBlock(height int32, blockID uint64, index int16, blockTimestamp int32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.link.height = height
	t.link.blockID = blockID
	t.link.index = index
	t.link.blockTimestamp = blockTimestamp
}

// UnsetBlock clears the block linkage after the block was rolled back. The
// height is kept.
func (t *Transaction) UnsetBlock() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.link.blockID = 0
	t.link.index = -1
	t.link.blockTimestamp = -1
	t.link.parentID = 0
}

// SetParent records the parent chain transaction carrying this child
// transaction
func (t *Transaction) SetParent(parentID uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.link.parentID = parentID
}

// Record converts a confirmed transaction into its persisted form
func (t *Transaction) Record() state.Record {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return state.Record{
		ID:        t.id,
		FullHash:  t.fullHash,
		Height:    t.link.height,
		BlockID:   t.link.blockID,
		Index:     t.link.index,
		Timestamp: t.timestamp,
		ParentID:  t.link.parentID,
		Bytes:     t.bytes,
	}
}

// Verify checks the signature against the sender public key
func (t *Transaction) Verify() bool {
	if !t.IsSigned() {
		return false
	}
	return crypto.Verify(t.signature, t.UnsignedBytes(), t.senderPublicKey)
}

// LoadPrunable restores the payload of every prunable appendage. Missing
// payloads are left for validation to judge.
func (t *Transaction) LoadPrunable(env state.Env) error {
	parts := make([]appendix.Appendage, 0, len(t.appendages)+1)
	parts = append(parts, t.attachment)
	for _, a := range t.appendages {
		parts = append(parts, a)
	}
	for _, part := range parts {
		p, ok := part.(appendix.Prunable)
		if !ok || p.HasPrunableData() {
			continue
		}
		if err := p.LoadPrunable(t, env); err != nil && !errors.Is(err, state.ErrNotFound) {
			return err
		}
	}
	return nil
}

func zeroSignature(b []byte) []byte {
	ret := make([]byte, len(b))
	copy(ret, b)
	clear(ret[SignatureOffset : SignatureOffset+common.SignatureSize])
	return ret
}

// identify derives the full hash and id from signed bytes
func identify(bytes []byte, signature []byte) ([]byte, uint64) {
	unsigned := crypto.Sha256(zeroSignature(bytes))
	fullHash := crypto.Sha256(unsigned, crypto.Sha256(signature))
	return fullHash, common.FullHashToID(fullHash)
}

// seal encodes t and derives its identity when signed
func (t *Transaction) seal() {
	t.senderID = common.AccountID(t.senderPublicKey)
	t.bytes = t.encode()
	if t.signature != nil {
		t.fullHash, t.id = identify(t.bytes, t.signature)
	}
}
