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
	"github.com/blinklabs-io/strata/ledger/appendix"
	"github.com/blinklabs-io/strata/ledger/chain"
	"github.com/blinklabs-io/strata/ledger/common"
	"github.com/blinklabs-io/strata/ledger/fee"
	"github.com/blinklabs-io/strata/ledger/state"
	"github.com/blinklabs-io/strata/ledger/txtype"
)

// Validate checks the transaction against the current ledger state
func (t *Transaction) Validate(env state.Env) error {
	return t.validate(env, false)
}

// ValidateAtFinish re-checks a phased transaction once its phasing condition
// has been met
func (t *Transaction) ValidateAtFinish(env state.Env) error {
	return t.validate(env, true)
}

func (t *Transaction) validate(env state.Env, atFinish bool) error {
	if err := t.validateStructure(); err != nil {
		return err
	}
	if !atFinish || t.AttachmentIsPhased() {
		if err := t.typ.Validate(t, env); err != nil {
			return err
		}
	}
	for _, a := range t.appendages {
		phased := appendix.IsPhased(a.IsPhasable(), t)
		var err error
		switch {
		case atFinish && phased:
			err = a.ValidateAtFinish(t, env)
		case atFinish:
			continue
		default:
			err = a.Validate(t, env)
		}
		if err != nil {
			return err
		}
	}
	if size := t.FullSize(); size > chain.MaxPayloadLength {
		return common.NewNotValid("transaction full size %d exceeds %d", size, chain.MaxPayloadLength)
	}
	if err := t.validateFee(env); err != nil {
		return err
	}
	if atFinish {
		return nil
	}
	return t.validateAnchor(env.Blockchain())
}

func (t *Transaction) validateStructure() error {
	maxBalance := t.chain.MaxBalance()
	genesis := t.timestamp == 0
	switch {
	case genesis && (t.deadline != 0 || t.fee != 0):
		return common.NewNotValid("genesis transaction with deadline %d and fee %d", t.deadline, t.fee)
	case !genesis && t.deadline < 1:
		return common.NewNotValid("invalid deadline %d", t.deadline)
	case t.fee < 0 || t.fee > maxBalance:
		return common.NewNotValid("invalid fee %d", t.fee)
	case t.amount < 0 || t.amount > maxBalance:
		return common.NewNotValid("invalid amount %d", t.amount)
	case t.version != Version:
		return common.NewNotValid("unsupported transaction version %d", t.version)
	}
	if t.attachment.TypeKey() != t.typ.Key {
		return common.NewNotValid("attachment %s does not belong to type %s", t.attachment.Name(), t.typ)
	}
	if !t.typ.CanHaveRecipient && (t.recipientID != 0 || t.amount != 0) {
		return common.NewNotValid("type %s must have no recipient and no amount", t.typ)
	}
	if t.typ.MustHaveRecipient && t.recipientID == 0 {
		return common.NewNotValid("type %s requires a recipient", t.typ)
	}
	if t.chain.IsParent() {
		if len(t.appendages) > 0 || t.referenced != nil {
			return common.NewNotValid("parent chain transactions carry only their attachment")
		}
		return nil
	}
	if !genesis && t.fee <= 0 {
		return common.NewNotValid("child chain fee must be positive")
	}
	if t.referenced != nil && common.IsZero(t.referenced) {
		return common.NewNotValid("zero referenced transaction full hash")
	}
	return nil
}

func (t *Transaction) validateFee(env state.Env) error {
	if !t.chain.IsParent() {
		return nil
	}
	height := env.Blockchain().Height()
	minFee, err := t.MinimumFee(height)
	if err != nil {
		return common.NewNotValid("minimum fee: %w", err)
	}
	if t.fee < minFee {
		return common.NewNotCurrentlyValid(
			"fee %s is below the minimum %s at height %d",
			t.chain.Format(t.fee),
			t.chain.Format(minFee),
			height,
		)
	}
	return nil
}

func (t *Transaction) validateAnchor(bc state.Blockchain) error {
	if t.ecBlockID == 0 {
		return nil
	}
	if height := bc.Height(); height < t.ecBlockHeight {
		return common.NewNotCurrentlyValid("anchor height %d exceeds chain height %d", t.ecBlockHeight, height)
	}
	id, ok := bc.BlockIDAtHeight(t.ecBlockHeight)
	if !ok || id != t.ecBlockID {
		return common.NewNotValid(
			"anchor %s at height %d is not on the chain, transaction was built on a fork",
			common.FormatID(t.ecBlockID),
			t.ecBlockHeight,
		)
	}
	return nil
}

// priced pairs every appendage with the schedule pricing it
func (t *Transaction) priced() ([]appendix.Appendage, []fee.Schedule) {
	parts := []appendix.Appendage{t.attachment}
	schedules := []fee.Schedule{t.typ.FeeSchedule()}
	for _, a := range t.appendages {
		parts = append(parts, a)
		schedules = append(schedules, a.Fees(t))
	}
	return parts, schedules
}

// MinimumFee is the sum of every appendage fee at height, in parent chain
// units. It is zero while any schedule has not reached its baseline height.
func (t *Transaction) MinimumFee(height int32) (int64, error) {
	parts, schedules := t.priced()
	var total int64
	for i, s := range schedules {
		if !s.Active(height) {
			return 0, nil
		}
		f, err := s.Fee(height, parts[i])
		if err != nil {
			return 0, err
		}
		if total, err = common.SafeAdd(total, f); err != nil {
			return 0, err
		}
	}
	if t.referenced != nil {
		return common.SafeAdd(total, chain.ParentOneCoin)
	}
	return total, nil
}

// MinimumBackFees sums, level by level, the back fees of every appendage at
// height
func (t *Transaction) MinimumBackFees(height int32) ([]int64, error) {
	parts, schedules := t.priced()
	var ret []int64
	for i, s := range schedules {
		if !s.Active(height) {
			return nil, nil
		}
		strategy := s.At(height)
		f, err := strategy.Fee(fee.Assessment{Height: height, Appendage: parts[i]})
		if err != nil {
			return nil, err
		}
		for level, back := range strategy.BackFees(f) {
			if level >= len(ret) {
				ret = append(ret, 0)
			}
			if ret[level], err = common.SafeAdd(ret[level], back); err != nil {
				return nil, err
			}
		}
	}
	return ret, nil
}

// ApplyUnconfirmed reserves the sender's funds. It returns false when they
// are insufficient.
func (t *Transaction) ApplyUnconfirmed(env state.Env) (bool, error) {
	return t.typ.ApplyUnconfirmed(t, env)
}

// UndoUnconfirmed releases the reservation made by ApplyUnconfirmed
func (t *Transaction) UndoUnconfirmed(env state.Env) error {
	return t.typ.UndoUnconfirmed(t, env)
}

// Apply commits the transaction at confirmation. A phased attachment only
// pays its fee now, and phased appendices wait for ApplyPhased.
func (t *Transaction) Apply(env state.Env) error {
	if err := t.typ.ReleaseDeposit(t, env); err != nil {
		return err
	}
	var err error
	if t.AttachmentIsPhased() {
		err = t.typ.ApplyFee(t, env)
	} else {
		err = t.typ.Apply(t, env)
	}
	if err != nil {
		return err
	}
	for _, a := range t.appendages {
		if appendix.IsPhased(a.IsPhasable(), t) {
			continue
		}
		if err := a.Apply(t, env); err != nil {
			return err
		}
	}
	return nil
}

// ApplyPhased commits the deferred parts once the phasing condition holds
func (t *Transaction) ApplyPhased(env state.Env) error {
	if t.AttachmentIsPhased() {
		if err := t.typ.Apply(t, env); err != nil {
			return err
		}
	}
	for _, a := range t.appendages {
		if !appendix.IsPhased(a.IsPhasable(), t) {
			continue
		}
		if err := a.Apply(t, env); err != nil {
			return err
		}
	}
	return nil
}

// RejectPhased returns the reserved amount when the phasing condition failed
func (t *Transaction) RejectPhased(env state.Env) error {
	if !t.AttachmentIsPhased() || t.amount == 0 {
		return nil
	}
	return env.Balances(t.chain).AddToUnconfirmed(t.senderID, t.amount, t.id)
}

// IsDuplicate applies the type's duplicate rule at block acceptance
func (t *Transaction) IsDuplicate(dups txtype.Duplicates) bool {
	return t.typ.IsDuplicate(t, dups) || t.typ.IsBlockDuplicate(t, dups)
}

// IsUnconfirmedDuplicate applies the type's duplicate rule at pool admission
func (t *Transaction) IsUnconfirmedDuplicate(dups txtype.Duplicates) bool {
	return t.typ.IsUnconfirmedDuplicate(t, dups)
}
