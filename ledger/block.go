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

package ledger

import (
	"errors"
	"fmt"

	"github.com/blinklabs-io/strata/database"
	"github.com/blinklabs-io/strata/event"
	"github.com/blinklabs-io/strata/ledger/chain"
	"github.com/blinklabs-io/strata/ledger/common"
	"github.com/blinklabs-io/strata/ledger/nesting"
	"github.com/blinklabs-io/strata/ledger/transaction"
	"github.com/blinklabs-io/strata/ledger/txtype"
)

var (
	ErrNoGenesis         = errors.New("genesis has not been loaded")
	ErrInsufficientFunds = errors.New("insufficient funds")
)

// Block is a parent chain block. ChildTransactions carries the children of
// its child block transactions that may not be in the unconfirmed pool.
type Block struct {
	ID                uint64
	Timestamp         int32
	Transactions      []*transaction.Transaction
	ChildTransactions []*transaction.Transaction
}

type blockResult struct {
	linked   []*transaction.Transaction
	children int
	approved int
	rejected int
}

// ApplyBlock validates block against the current state and applies it in a
// single database transaction. Pending transactions it confirms leave the
// pool with their reservations consumed.
func (ls *LedgerState) ApplyBlock(block *Block) error {
	ls.Lock()
	defer ls.Unlock()
	prevHeight := ls.chain.Height()
	if prevHeight < 0 {
		return ErrNoGenesis
	}
	if err := ls.checkBlock(block); err != nil {
		return err
	}
	height := prevHeight + 1
	var result *blockResult
	apply := func() ([]*transaction.Transaction, error) {
		res := &blockResult{}
		txn := ls.db.Transaction(true)
		err := txn.Do(func(txn *database.Txn) error {
			return ls.applyBlock(txn, block, height, res)
		})
		if err != nil {
			for _, tx := range res.linked {
				tx.UnsetBlock()
			}
			return nil, err
		}
		result = res
		return res.linked, nil
	}
	var err error
	if pool := ls.mempool(); pool != nil {
		err = pool.Confirm(apply)
	} else {
		_, err = apply()
	}
	if err != nil {
		ls.metrics.blocksRejected.Inc()
		return fmt.Errorf("apply block %s at height %d: %w", common.FormatID(block.ID), height, err)
	}
	ls.chain.addBlock(block.ID)
	ls.recordBlock(height, block, result)
	if ls.config.EventBus != nil {
		ls.config.EventBus.Publish(
			event.BlockAppliedEventType,
			event.NewEvent(
				event.BlockAppliedEventType,
				event.BlockAppliedEvent{
					Height:           height,
					BlockID:          block.ID,
					Timestamp:        block.Timestamp,
					TransactionCount: len(result.linked),
				},
			),
		)
	}
	return nil
}

func (ls *LedgerState) checkBlock(block *Block) error {
	if block == nil || block.ID == 0 {
		return common.NewNotValid("block without id")
	}
	if now := ls.chain.Now(); block.Timestamp > now+chain.MaxTimeDrift {
		return common.NewNotCurrentlyValid("block timestamp %d is ahead of %d", block.Timestamp, now)
	}
	if len(block.Transactions) > chain.MaxBlockTransactions {
		return common.NewNotValid(
			"%d transactions exceed %d per block",
			len(block.Transactions),
			chain.MaxBlockTransactions,
		)
	}
	return nil
}

func (ls *LedgerState) applyBlock(txn *database.Txn, block *Block, height int32, res *blockResult) error {
	carried := make(map[string]*transaction.Transaction, len(block.ChildTransactions))
	for _, child := range block.ChildTransactions {
		if child.Chain().IsParent() {
			return common.NewNotValid("carried transaction %s is not a child chain transaction", child.StringID())
		}
		if _, ok := carried[string(child.FullHash())]; ok {
			return common.NewNotValid("child transaction %s carried twice", child.StringID())
		}
		carried[string(child.FullHash())] = child
	}
	view := ls.view(txn, carried)
	children, err := ls.validateBlock(view, block)
	if err != nil {
		return err
	}
	if err := ls.reserve(view, block, children); err != nil {
		return err
	}
	applyView := view.at(height, block.ID)
	parent := ls.chains.Parent()
	for i, tx := range block.Transactions {
		tx.SetBlock(height, block.ID, int16(i), block.Timestamp) //nolint:gosec
		res.linked = append(res.linked, tx)
		for j, child := range children[i] {
			child.SetBlock(height, block.ID, int16(j), block.Timestamp) //nolint:gosec
			res.linked = append(res.linked, child)
			res.children++
		}
		if err := tx.Apply(applyView); err != nil {
			return fmt.Errorf("apply %s: %w", tx.StringID(), err)
		}
		if err := save(applyView, parent, tx); err != nil {
			return err
		}
		for _, child := range children[i] {
			if err := save(applyView, child.Chain(), child); err != nil {
				return err
			}
		}
	}
	if err := ls.finishPhasing(applyView, height, res); err != nil {
		return err
	}
	return ls.db.AddBlock(height, block.ID, block.Timestamp, len(res.linked), txn)
}

// save persists a confirmed transaction and reveals its sender's public key
func save(view *LedgerView, c *chain.Chain, tx *transaction.Transaction) error {
	if err := view.Transactions(c).SaveTransaction(tx.Record()); err != nil {
		return err
	}
	return view.PublicKeys().SetPublicKey(tx.SenderID(), tx.SenderPublicKey())
}

// validateBlock checks every transaction against the state before the
// block and returns the resolved children of each child block transaction
func (ls *LedgerState) validateBlock(view *LedgerView, block *Block) ([][]*transaction.Transaction, error) {
	dups := txtype.NewDuplicates()
	seen := make(map[string]struct{})
	children := make([][]*transaction.Transaction, len(block.Transactions))
	parent := ls.chains.Parent()
	height := view.Blockchain().Height()
	for i, tx := range block.Transactions {
		if !tx.Chain().IsParent() {
			return nil, common.NewNotValid("child chain transaction %s outside a child block", tx.StringID())
		}
		if _, ok := seen[string(tx.FullHash())]; ok {
			return nil, common.NewNotValid("transaction %s included twice", tx.StringID())
		}
		seen[string(tx.FullHash())] = struct{}{}
		if err := checkTimes(block, tx); err != nil {
			return nil, err
		}
		confirmed, err := view.Transactions(parent).HasTransaction(tx.FullHash(), height)
		if err != nil {
			return nil, err
		}
		if confirmed {
			return nil, common.NewNotValid("transaction %s is already confirmed", tx.StringID())
		}
		if tx.IsDuplicate(dups) {
			return nil, common.NewNotCurrentlyValid("duplicate transaction %s", tx.StringID())
		}
		if err := prepare(view, tx); err != nil {
			return nil, err
		}
		if cb, ok := tx.Attachment().(*nesting.ChildBlock); ok {
			kids, err := cb.Resolve(view)
			if err != nil {
				return nil, err
			}
			for _, kid := range kids {
				if _, ok := seen[string(kid.FullHash())]; ok {
					return nil, common.NewNotValid("child transaction %s included twice", kid.StringID())
				}
				seen[string(kid.FullHash())] = struct{}{}
				if kid.IsDuplicate(dups) {
					return nil, common.NewNotCurrentlyValid("duplicate child transaction %s", kid.StringID())
				}
				if err := prepare(view, kid); err != nil {
					return nil, err
				}
			}
			children[i] = kids
		}
		if err := tx.Validate(view); err != nil {
			return nil, fmt.Errorf("validate %s: %w", tx.StringID(), err)
		}
	}
	return children, nil
}

// prepare loads the prunable payloads of tx and verifies its signature
func prepare(view *LedgerView, tx *transaction.Transaction) error {
	if err := tx.LoadPrunable(view); err != nil && !isNotFound(err) {
		return err
	}
	if !tx.Verify() {
		return common.NewNotValid("transaction %s has an invalid signature", tx.StringID())
	}
	return nil
}

func checkTimes(block *Block, tx *transaction.Transaction) error {
	if tx.Timestamp() > block.Timestamp+chain.MaxTimeDrift {
		return common.NewNotValid(
			"transaction %s timestamp %d is after the block timestamp %d",
			tx.StringID(),
			tx.Timestamp(),
			block.Timestamp,
		)
	}
	if tx.Expiration() < block.Timestamp {
		return common.NewNotValid("transaction %s expired at %d", tx.StringID(), tx.Expiration())
	}
	return nil
}

// reserve makes the unconfirmed reservation for every transaction the pool
// does not already hold
func (ls *LedgerState) reserve(view *LedgerView, block *Block, children [][]*transaction.Transaction) error {
	pool := ls.mempool()
	for i, tx := range block.Transactions {
		for _, t := range append([]*transaction.Transaction{tx}, children[i]...) {
			if pool != nil && pool.Contains(t.FullHash()) {
				continue
			}
			ok, err := t.ApplyUnconfirmed(view)
			if err != nil {
				return err
			}
			if !ok {
				return common.NewNotCurrentlyValid("%w for transaction %s", ErrInsufficientFunds, t.StringID())
			}
		}
	}
	return nil
}

// finishPhasing settles every poll ending at height. A poll whose condition
// no longer holds is rejected and its reserved amount released.
func (ls *LedgerState) finishPhasing(view *LedgerView, height int32, res *blockResult) error {
	polls, err := view.PhasingPolls().FinishingAt(height)
	if err != nil {
		return err
	}
	for _, poll := range polls {
		c, err := ls.chains.Chain(poll.ChainID)
		if err != nil {
			return err
		}
		rec, err := view.Transactions(c).FindTransaction(poll.FullHash, height)
		if err != nil {
			return fmt.Errorf("phased transaction %s: %w", common.FormatID(poll.TransactionID), err)
		}
		tx, err := ls.codec.FromRecord(rec)
		if err != nil {
			return err
		}
		if err := tx.LoadPrunable(view); err != nil && !isNotFound(err) {
			return err
		}
		verr := tx.ValidateAtFinish(view)
		switch {
		case verr == nil:
			if err := tx.ApplyPhased(view); err != nil {
				return fmt.Errorf("apply phased %s: %w", tx.StringID(), err)
			}
			res.approved++
		case common.IsNotValid(verr) || common.IsNotCurrentlyValid(verr):
			ls.logger.Debug("phased transaction rejected", "tx", tx.StringID(), "reason", verr)
			if err := tx.RejectPhased(view); err != nil {
				return err
			}
			res.rejected++
		default:
			return verr
		}
	}
	return nil
}

func (ls *LedgerState) recordBlock(height int32, block *Block, res *blockResult) {
	ls.metrics.height.Set(float64(height))
	ls.metrics.blocksApplied.Inc()
	for _, tx := range res.linked {
		ls.metrics.transactionsApplied.WithLabelValues(tx.Chain().Name).Inc()
	}
	ls.metrics.phasingFinished.WithLabelValues("approved").Add(float64(res.approved))
	ls.metrics.phasingFinished.WithLabelValues("rejected").Add(float64(res.rejected))
	ls.logger.Info(
		"applied block",
		"height", height,
		"id", common.FormatID(block.ID),
		"transactions", len(block.Transactions),
		"children", res.children,
	)
}
