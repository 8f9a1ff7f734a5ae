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

// Package nesting implements the parent chain transaction that carries a
// batch of child chain transactions into a block.
//
// The attachment keeps the child chain id and the content hash on-chain. The
// child full hashes are its prunable payload, and the child transactions are
// resolved from the unconfirmed pool or the chain's transaction store.
package nesting

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/blinklabs-io/strata/ledger/appendix"
	"github.com/blinklabs-io/strata/ledger/chain"
	"github.com/blinklabs-io/strata/ledger/common"
	"github.com/blinklabs-io/strata/ledger/crypto"
	"github.com/blinklabs-io/strata/ledger/fee"
	"github.com/blinklabs-io/strata/ledger/state"
	"github.com/blinklabs-io/strata/ledger/transaction"
	"github.com/blinklabs-io/strata/ledger/txtype"
)

const ChildBlockName = "ChildBlock"

// Key is the type key of the child block transaction
var Key = txtype.Key{Type: -1, Subtype: 0}

var (
	ErrUnresolved  = errors.New("child transactions are not resolved")
	ErrNoResolver  = errors.New("environment cannot resolve child transactions")
	ErrHashMissing = errors.New("child transaction full hashes are not available")
)

// Resolver finds a pending or confirmed child transaction by full hash
type Resolver interface {
	ResolveChild(c *chain.Chain, fullHash []byte) (*transaction.Transaction, error)
}

// ChildBlock is the attachment naming a batch of child chain transactions
type ChildBlock struct {
	appendix.Base
	chainID  int32
	hash     []byte
	backFees []int64

	mu         sync.Mutex
	fullHashes [][]byte
	children   []*transaction.Transaction
}

// NewChildBlock builds the attachment over already resolved children
func NewChildBlock(c *chain.Chain, children []*transaction.Transaction, backFees []int64) *ChildBlock {
	hashes := make([][]byte, len(children))
	for i, child := range children {
		hashes[i] = child.FullHash()
	}
	return &ChildBlock{
		Base:       appendix.NewBase(1),
		chainID:    c.ID,
		hash:       contentHash(hashes),
		backFees:   backFees,
		fullHashes: hashes,
		children:   children,
	}
}

func contentHash(hashes [][]byte) []byte {
	return crypto.Sha256(hashes...)
}

func (cb *ChildBlock) Name() string        { return ChildBlockName }
func (cb *ChildBlock) TypeKey() txtype.Key { return Key }
func (cb *ChildBlock) ChainID() int32      { return cb.chainID }
func (cb *ChildBlock) Hash() []byte        { return cb.hash }
func (cb *ChildBlock) BackFees() []int64   { return cb.backFees }

func (cb *ChildBlock) Size() int {
	return 1 + 4 + common.HashSize + 1 + 8*len(cb.backFees)
}

func (cb *ChildBlock) FullSize() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.Size() + common.HashSize*len(cb.fullHashes)
}

// FullHashes returns the child full hashes, or nil while pruned
func (cb *ChildBlock) FullHashes() [][]byte {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.fullHashes
}

// Children returns the resolved child transactions, or nil
func (cb *ChildBlock) Children() []*transaction.Transaction {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.children
}

func (cb *ChildBlock) HasPrunableData() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.fullHashes != nil
}

func (cb *ChildBlock) PrunableData() []byte {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return bytes.Join(cb.fullHashes, nil)
}

// LoadPrunable restores the child full hashes from the prunable store. It is
// a no-op when they are present.
func (cb *ChildBlock) LoadPrunable(_ appendix.Tx, env state.Env) error {
	if cb.HasPrunableData() {
		return nil
	}
	data, err := env.Prunables().GetPrunable(cb.hash)
	if err != nil {
		return err
	}
	if len(data) == 0 || len(data)%common.HashSize != 0 {
		return common.NewNotValid("child block payload length %d", len(data))
	}
	hashes := make([][]byte, 0, len(data)/common.HashSize)
	for off := 0; off < len(data); off += common.HashSize {
		hashes = append(hashes, bytes.Clone(data[off:off+common.HashSize]))
	}
	if !bytes.Equal(contentHash(hashes), cb.hash) {
		return common.NewNotValid("child block payload does not match hash %x", cb.hash)
	}
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.fullHashes == nil {
		cb.fullHashes = hashes
	}
	return nil
}

// Resolve loads the child transactions once. Missing children are not
// currently valid since they may still reach the pool.
func (cb *ChildBlock) Resolve(env state.Env) ([]*transaction.Transaction, error) {
	if children := cb.Children(); children != nil {
		return children, nil
	}
	if err := cb.LoadPrunable(nil, env); err != nil {
		if errors.Is(err, state.ErrNotFound) {
			return nil, common.NewNotCurrentlyValid("%w", ErrHashMissing)
		}
		return nil, err
	}
	resolver, ok := env.(Resolver)
	if !ok {
		return nil, ErrNoResolver
	}
	c, err := env.Chains().Child(cb.chainID)
	if err != nil {
		return nil, common.NewNotValid("%w", err)
	}
	hashes := cb.FullHashes()
	children := make([]*transaction.Transaction, 0, len(hashes))
	for _, h := range hashes {
		child, err := resolver.ResolveChild(c, h)
		if err != nil {
			if errors.Is(err, state.ErrNotFound) {
				return nil, common.NewNotCurrentlyValid("child transaction %x is not available", h)
			}
			return nil, err
		}
		children = append(children, child)
	}
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.children == nil {
		cb.children = children
	}
	return cb.children, nil
}

func (cb *ChildBlock) Write(w *appendix.Writer) {
	w.Int8(cb.Version())
	w.Int32(cb.chainID)
	w.Fixed(cb.hash, common.HashSize)
	w.Uint8(uint8(len(cb.backFees))) //nolint:gosec
	for _, f := range cb.backFees {
		w.Int64(f)
	}
}

func (cb *ChildBlock) JSON() appendix.Object {
	backFees := make([]string, len(cb.backFees))
	for i, f := range cb.backFees {
		backFees[i] = strconv.FormatInt(f, 10)
	}
	o := appendix.Object{
		appendix.VersionKey(ChildBlockName): cb.Version(),
		"childChain":                        cb.chainID,
		"hash":                              fmt.Sprintf("%x", cb.hash),
		"backFees":                          backFees,
	}
	if hashes := cb.FullHashes(); hashes != nil {
		o["childTransactionFullHashes"] = appendix.HexStrings(hashes)
	}
	return o
}

func parseChildBlock(r *appendix.Reader) (appendix.Attachment, error) {
	cb := &ChildBlock{Base: appendix.NewBase(r.Int8())}
	cb.chainID = r.Int32()
	cb.hash = r.Bytes(common.HashSize)
	n := int(r.Uint8())
	if n > fee.MaxBackFees {
		r.Fail(common.NewNotValid("%d back fees exceed %d levels", n, fee.MaxBackFees))
	}
	for i := 0; i < n && r.Err() == nil; i++ {
		cb.backFees = append(cb.backFees, r.Int64())
	}
	return cb, r.Err()
}

func parseChildBlockJSON(o appendix.Object) (appendix.Attachment, error) {
	v, err := o.Version(ChildBlockName)
	if err != nil {
		return nil, err
	}
	cb := &ChildBlock{Base: appendix.NewBase(v)}
	chainID, err := o.Int("childChain")
	if err != nil {
		return nil, err
	}
	cb.chainID = int32(chainID) //nolint:gosec
	if cb.hash, err = o.Hex("hash"); err != nil {
		return nil, err
	}
	if len(cb.hash) != common.HashSize {
		return nil, common.NewNotValid("invalid child block hash length %d", len(cb.hash))
	}
	raw, _ := o["backFees"].([]any)
	if len(raw) > fee.MaxBackFees {
		return nil, common.NewNotValid("%d back fees exceed %d levels", len(raw), fee.MaxBackFees)
	}
	for i := range raw {
		f, err := appendix.Object{"f": raw[i]}.Int("f")
		if err != nil {
			return nil, fmt.Errorf("back fee %d: %w", i, err)
		}
		cb.backFees = append(cb.backFees, f)
	}
	if cb.fullHashes, err = o.HexList("childTransactionFullHashes"); err != nil {
		return nil, err
	}
	if cb.fullHashes != nil && !bytes.Equal(contentHash(cb.fullHashes), cb.hash) {
		return nil, common.NewNotValid("child transaction full hashes do not match hash")
	}
	return cb, nil
}
