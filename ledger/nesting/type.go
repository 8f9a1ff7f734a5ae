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

package nesting

import (
	"bytes"
	"encoding/hex"
	"strconv"

	"github.com/blinklabs-io/strata/ledger/chain"
	"github.com/blinklabs-io/strata/ledger/common"
	"github.com/blinklabs-io/strata/ledger/fee"
	"github.com/blinklabs-io/strata/ledger/state"
	"github.com/blinklabs-io/strata/ledger/transaction"
	"github.com/blinklabs-io/strata/ledger/txtype"
)

// childrenFee prices the attachment as the sum of the children's minimum fees
var childrenFee = fee.Func(func(a fee.Assessment) (int64, error) {
	cb, ok := a.Appendage.(*ChildBlock)
	if !ok {
		return 0, common.NewNotValid("unexpected attachment %T", a.Appendage)
	}
	children := cb.Children()
	if children == nil {
		return 0, common.NewNotCurrentlyValid("%w", ErrUnresolved)
	}
	var total int64
	for _, child := range children {
		f, err := child.MinimumFee(a.Height)
		if err != nil {
			return 0, err
		}
		if total, err = common.SafeAdd(total, f); err != nil {
			return 0, err
		}
	}
	return total, nil
})

// Type returns the child block transaction type of the parent chain
func Type() *txtype.Type {
	return &txtype.Type{
		Key:                 Key,
		Name:                ChildBlockName,
		Fees:                fee.NewSchedule(0, childrenFee),
		ParseAttachment:     parseChildBlock,
		ParseAttachmentJSON: parseChildBlockJSON,
		ValidateAttachment:  validate,
		ApplyAttachment:     apply,
		DuplicateKey: func(tx txtype.Tx) (txtype.Key, string, int, bool) {
			cb := tx.Attachment().(*ChildBlock)
			return Key, strconv.Itoa(int(cb.chainID)) + ":" + hex.EncodeToString(cb.hash), 0, true
		},
		// a block carries at most one child block per child chain, while
		// the pool may hold several that do not overlap
		BlockDuplicateKey: func(tx txtype.Tx) (txtype.Key, string, int, bool) {
			cb := tx.Attachment().(*ChildBlock)
			return Key, strconv.Itoa(int(cb.chainID)), 0, true
		},
		Overlaps: overlaps,
	}
}

func attachment(tx txtype.Tx) (*ChildBlock, error) {
	cb, ok := tx.Attachment().(*ChildBlock)
	if !ok {
		return nil, common.NewNotValid("unexpected attachment %T", tx.Attachment())
	}
	return cb, nil
}

func validate(tx txtype.Tx, env state.Env) error {
	cb, err := attachment(tx)
	if err != nil {
		return err
	}
	if cb.Version() != 1 {
		return common.NewNotValid("unsupported child block version %d", cb.Version())
	}
	if tx.Amount() != 0 {
		return common.NewNotValid("child block with amount %d", tx.Amount())
	}
	c, err := env.Chains().Child(cb.chainID)
	if err != nil {
		return common.NewNotValid("child block for chain %d: %w", cb.chainID, err)
	}
	for _, f := range cb.backFees {
		if f < 0 {
			return common.NewNotValid("negative back fee %d", f)
		}
	}
	children, err := cb.Resolve(env)
	if err != nil {
		return err
	}
	if err := validateHashes(cb.FullHashes()); err != nil {
		return err
	}
	height := env.Blockchain().Height()
	store := env.Transactions(c)
	seen := make(map[string]struct{}, len(children))
	var payload int
	var backFees []int64
	for _, child := range children {
		if err := validateChild(tx, c, child); err != nil {
			return err
		}
		confirmed, err := store.HasTransaction(child.FullHash(), height)
		if err != nil {
			return err
		}
		if confirmed {
			return common.NewNotValid("child transaction %s is already confirmed", child.StringID())
		}
		if ref := child.ReferencedFullHash(); ref != nil {
			_, earlier := seen[string(ref)]
			if !earlier {
				found, err := store.HasTransaction(ref, height)
				if err != nil {
					return err
				}
				if !found {
					return common.NewNotCurrentlyValid(
						"child transaction %s references an unconfirmed transaction",
						child.StringID(),
					)
				}
			}
		}
		seen[string(child.FullHash())] = struct{}{}
		if err := child.Validate(env); err != nil {
			return err
		}
		payload += child.FullSize()
		levels, err := child.MinimumBackFees(height)
		if err != nil {
			return err
		}
		for i, f := range levels {
			if i >= len(backFees) {
				backFees = append(backFees, 0)
			}
			if backFees[i], err = common.SafeAdd(backFees[i], f); err != nil {
				return err
			}
		}
	}
	if payload > chain.MaxChildBlockPayloadLength {
		return common.NewNotValid(
			"child block payload %d exceeds %d",
			payload,
			chain.MaxChildBlockPayloadLength,
		)
	}
	for i, f := range backFees {
		var paid int64
		if i < len(cb.backFees) {
			paid = cb.backFees[i]
		}
		if paid < f {
			return common.NewNotCurrentlyValid("back fee %d at level %d below minimum %d", paid, i, f)
		}
	}
	return nil
}

func validateHashes(hashes [][]byte) error {
	if len(hashes) == 0 {
		return common.NewNotValid("empty child block")
	}
	if len(hashes) > chain.MaxChildBlockTransactions {
		return common.NewNotValid(
			"%d child transactions exceed %d",
			len(hashes),
			chain.MaxChildBlockTransactions,
		)
	}
	seen := make(map[string]struct{}, len(hashes))
	for _, h := range hashes {
		if len(h) != common.HashSize {
			return common.NewNotValid("invalid child full hash length %d", len(h))
		}
		if _, ok := seen[string(h)]; ok {
			return common.NewNotValid("duplicate child transaction %x", h)
		}
		seen[string(h)] = struct{}{}
	}
	return nil
}

// validateChild checks that a child fits inside its container's lifetime
func validateChild(tx txtype.Tx, c *chain.Chain, child *transaction.Transaction) error {
	if child.ChainID() != c.ID {
		return common.NewNotValid(
			"child transaction %s belongs to chain %d, not %d",
			child.StringID(),
			child.ChainID(),
			c.ID,
		)
	}
	if child.Timestamp() > tx.Timestamp() {
		return common.NewNotValid(
			"child transaction %s timestamp %d is after the child block timestamp %d",
			child.StringID(),
			child.Timestamp(),
			tx.Timestamp(),
		)
	}
	if child.Expiration() < tx.Expiration() {
		return common.NewNotValid(
			"child transaction %s expires at %d before the child block expiration %d",
			child.StringID(),
			child.Expiration(),
			tx.Expiration(),
		)
	}
	return nil
}

// apply confirms every child and credits their fees to the block's sender on
// the child chain
func apply(tx txtype.Tx, env state.Env) error {
	cb, err := attachment(tx)
	if err != nil {
		return err
	}
	children, err := cb.Resolve(env)
	if err != nil {
		return err
	}
	c, err := env.Chains().Child(cb.chainID)
	if err != nil {
		return err
	}
	var fees int64
	for _, child := range children {
		child.SetParent(tx.ID())
		if err := child.Apply(env); err != nil {
			return err
		}
		if fees, err = common.SafeAdd(fees, child.Fee()); err != nil {
			return err
		}
	}
	if fees > 0 {
		if err := env.Balances(c).AddToBoth(tx.SenderID(), fees, tx.ID()); err != nil {
			return err
		}
	}
	return env.Prunables().PutPrunable(cb.hash, cb.PrunableData())
}

// overlaps reports whether two child blocks of the same chain share a child
func overlaps(existing, candidate txtype.Tx) bool {
	a, ok := existing.Attachment().(*ChildBlock)
	if !ok {
		return false
	}
	b, ok := candidate.Attachment().(*ChildBlock)
	if !ok || a.chainID != b.chainID {
		return false
	}
	for _, h := range a.FullHashes() {
		for _, g := range b.FullHashes() {
			if bytes.Equal(h, g) {
				return true
			}
		}
	}
	return false
}
