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

// Package txtype holds the per-kind transaction policy and the two-phase
// balance state machine shared by every kind. Kinds with a negative type code
// live on the parent chain, all others on child chains.
package txtype

import (
	"bytes"
	"encoding/hex"
	"fmt"

	"github.com/blinklabs-io/strata/ledger/appendix"
	"github.com/blinklabs-io/strata/ledger/chain"
	"github.com/blinklabs-io/strata/ledger/common"
	"github.com/blinklabs-io/strata/ledger/fee"
	"github.com/blinklabs-io/strata/ledger/state"
)

// Key identifies a transaction type by its type and subtype codes
type Key = appendix.TypeKey

// UnconfirmedPoolDeposit is reserved on the parent chain for every child
// transaction that references another transaction
const UnconfirmedPoolDeposit = chain.ParentOneCoin

// GenesisPublicKey is the creator key of the genesis transactions. Its
// transactions at timestamp 0 may overdraw.
var GenesisPublicKey, _ = hex.DecodeString(
	"1259ec21d31a30898d7cd1609f80d9668b4778e3d97e941044b39f0c44d2e51b",
)

// Tx is the view of a transaction the balance state machine works on
type Tx interface {
	appendix.Tx
	// ReferencedFullHash is the transaction a child transaction depends
	// on, or nil
	ReferencedFullHash() []byte
	// AttachmentIsPhased reports whether the attachment waits for a
	// phasing condition
	AttachmentIsPhased() bool
}

// Type is the policy of one transaction kind. Behavior funcs left nil default
// to accepting and doing nothing.
type Type struct {
	Key  Key
	Name string

	CanHaveRecipient  bool
	MustHaveRecipient bool
	Phasable          bool
	// PhasingSafe types are not re-checked for duplicates while phased
	PhasingSafe bool
	// Fees prices the attachment. A zero schedule charges one parent coin
	// from height 1.
	Fees fee.Schedule

	ParseAttachment     func(r *appendix.Reader) (appendix.Attachment, error)
	ParseAttachmentJSON func(o appendix.Object) (appendix.Attachment, error)

	ValidateAttachment         func(tx Tx, env state.Env) error
	ApplyAttachmentUnconfirmed func(tx Tx, env state.Env) (bool, error)
	ApplyAttachment            func(tx Tx, env state.Env) error
	UndoAttachmentUnconfirmed  func(tx Tx, env state.Env) error

	// DuplicateKey reports the key checked at block acceptance and pool
	// admission. ok is false when the type has no duplicate rule.
	DuplicateKey func(tx Tx) (key Key, dupKey string, maxCount int, ok bool)
	// BlockDuplicateKey is an additional rule checked only for blocks
	BlockDuplicateKey func(tx Tx) (key Key, dupKey string, maxCount int, ok bool)
	// Overlaps reports whether two pending transactions of this type compete
	// for the same content. The pool keeps the one with the higher fee.
	Overlaps func(existing, candidate Tx) bool
}

func (t *Type) String() string {
	return t.Name + t.Key.String()
}

// IsParent reports whether the type belongs to the parent chain
func (t *Type) IsParent() bool {
	return t.Key.IsParent()
}

// FeeSchedule returns the schedule pricing the attachment
func (t *Type) FeeSchedule() fee.Schedule {
	if t.Fees.Baseline == nil {
		return fee.NewSchedule(1, fee.Constant(chain.ParentOneCoin))
	}
	return t.Fees
}

// IsGenesis reports whether tx is a genesis transaction
func IsGenesis(tx Tx) bool {
	return tx.Timestamp() == 0 && bytes.Equal(tx.SenderPublicKey(), GenesisPublicKey)
}

func txChain(tx Tx, env state.Env) (*chain.Chain, error) {
	c, err := env.Chains().Chain(tx.ChainID())
	if err != nil {
		return nil, common.NewNotValid("%w", err)
	}
	return c, nil
}

// Validate runs the type's attachment rules
func (t *Type) Validate(tx Tx, env state.Env) error {
	if t.ValidateAttachment == nil {
		return nil
	}
	return t.ValidateAttachment(tx, env)
}

// ApplyUnconfirmed reserves the amount and fee, and for a child transaction
// with a reference the pool deposit. It returns false, with nothing changed,
// when the sender cannot cover the reservation.
func (t *Type) ApplyUnconfirmed(tx Tx, env state.Env) (bool, error) {
	c, err := txChain(tx, env)
	if err != nil {
		return false, err
	}
	total, err := common.SafeAdd(tx.Amount(), tx.Fee())
	if err != nil {
		return false, common.NewNotValid("amount plus fee: %w", err)
	}
	sender := tx.SenderID()
	id := tx.ID()
	var deposit int64
	parentBalances := env.Balances(env.Chains().Parent())
	if !t.IsParent() && tx.ReferencedFullHash() != nil {
		bal, err := parentBalances.Balance(sender)
		if err != nil {
			return false, err
		}
		if bal.Unconfirmed < UnconfirmedPoolDeposit {
			return false, nil
		}
		deposit = UnconfirmedPoolDeposit
	}
	balances := env.Balances(c)
	bal, err := balances.Balance(sender)
	if err != nil {
		return false, err
	}
	if bal.Unconfirmed < total && !IsGenesis(tx) {
		return false, nil
	}
	if deposit > 0 {
		if err := parentBalances.AddToUnconfirmed(sender, -deposit, id); err != nil {
			return false, err
		}
	}
	if err := balances.AddToUnconfirmed(sender, -total, id); err != nil {
		return false, t.rollback(env, c, tx, 0, deposit, err)
	}
	if t.ApplyAttachmentUnconfirmed != nil {
		ok, err := t.ApplyAttachmentUnconfirmed(tx, env)
		if err != nil || !ok {
			return false, t.rollback(env, c, tx, total, deposit, err)
		}
	}
	return true, nil
}

// rollback returns the reservations made by a failed ApplyUnconfirmed and
// passes cause through
func (t *Type) rollback(
	env state.Env,
	c *chain.Chain,
	tx Tx,
	total int64,
	deposit int64,
	cause error,
) error {
	if total > 0 {
		if err := env.Balances(c).AddToUnconfirmed(tx.SenderID(), total, tx.ID()); err != nil {
			return fmt.Errorf("rollback after %w: %w", cause, err)
		}
	}
	if deposit > 0 {
		err := env.Balances(env.Chains().Parent()).AddToUnconfirmed(tx.SenderID(), deposit, tx.ID())
		if err != nil {
			return fmt.Errorf("rollback after %w: %w", cause, err)
		}
	}
	return cause
}

// Apply commits the transaction's balance effects and its attachment. When
// the attachment is phased the fee was already taken at acceptance, so only
// the amount is debited.
func (t *Type) Apply(tx Tx, env state.Env) error {
	c, err := txChain(tx, env)
	if err != nil {
		return err
	}
	debit := tx.Amount()
	if !tx.AttachmentIsPhased() {
		if debit, err = common.SafeAdd(debit, tx.Fee()); err != nil {
			return err
		}
	}
	balances := env.Balances(c)
	if debit != 0 {
		if err := balances.AddToBalance(tx.SenderID(), -debit, tx.ID()); err != nil {
			return err
		}
	}
	if tx.RecipientID() != 0 && tx.Amount() != 0 {
		if err := balances.AddToBoth(tx.RecipientID(), tx.Amount(), tx.ID()); err != nil {
			return err
		}
	}
	if t.ApplyAttachment != nil {
		return t.ApplyAttachment(tx, env)
	}
	return nil
}

// ApplyFee debits only the fee, for a transaction whose attachment is
// deferred by phasing
func (t *Type) ApplyFee(tx Tx, env state.Env) error {
	c, err := txChain(tx, env)
	if err != nil {
		return err
	}
	return env.Balances(c).AddToBalance(tx.SenderID(), -tx.Fee(), tx.ID())
}

// ReleaseDeposit returns the pool deposit once a referencing child
// transaction is confirmed
func (t *Type) ReleaseDeposit(tx Tx, env state.Env) error {
	if t.IsParent() || tx.ReferencedFullHash() == nil {
		return nil
	}
	return env.Balances(env.Chains().Parent()).AddToUnconfirmed(
		tx.SenderID(),
		UnconfirmedPoolDeposit,
		tx.ID(),
	)
}

// UndoUnconfirmed releases everything ApplyUnconfirmed reserved
func (t *Type) UndoUnconfirmed(tx Tx, env state.Env) error {
	c, err := txChain(tx, env)
	if err != nil {
		return err
	}
	if t.UndoAttachmentUnconfirmed != nil {
		if err := t.UndoAttachmentUnconfirmed(tx, env); err != nil {
			return err
		}
	}
	total, err := common.SafeAdd(tx.Amount(), tx.Fee())
	if err != nil {
		return err
	}
	if err := env.Balances(c).AddToUnconfirmed(tx.SenderID(), total, tx.ID()); err != nil {
		return err
	}
	return t.ReleaseDeposit(tx, env)
}

// IsDuplicate checks the type's duplicate rule. Phased attachments are
// checked when the phasing finishes instead.
func (t *Type) IsDuplicate(tx Tx, dups Duplicates) bool {
	if tx.AttachmentIsPhased() || t.DuplicateKey == nil {
		return false
	}
	return dups.check(t.DuplicateKey(tx))
}

// IsBlockDuplicate checks the block-only rule, and the regular rule for
// phased attachments of types that are not phasing safe
func (t *Type) IsBlockDuplicate(tx Tx, dups Duplicates) bool {
	if t.BlockDuplicateKey != nil && dups.check(t.BlockDuplicateKey(tx)) {
		return true
	}
	if tx.AttachmentIsPhased() && !t.PhasingSafe && t.DuplicateKey != nil {
		return dups.check(t.DuplicateKey(tx))
	}
	return false
}

// IsUnconfirmedDuplicate checks the regular rule against the pending pool,
// whether or not the attachment is phased
func (t *Type) IsUnconfirmedDuplicate(tx Tx, dups Duplicates) bool {
	if t.DuplicateKey == nil {
		return false
	}
	return dups.check(t.DuplicateKey(tx))
}

// Overlap reports whether candidate competes with existing
func (t *Type) Overlap(existing, candidate Tx) bool {
	if t.Overlaps == nil {
		return false
	}
	return t.Overlaps(existing, candidate)
}
