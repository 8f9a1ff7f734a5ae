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
	"sync"
	"time"

	"github.com/blinklabs-io/strata/database"
	"github.com/blinklabs-io/strata/ledger/chain"
	"github.com/blinklabs-io/strata/ledger/state"
	"github.com/blinklabs-io/strata/ledger/transaction"
)

// LedgerView is the validation environment over the database. A view bound
// to a block transaction also resolves the child transactions the block
// carries.
type LedgerView struct {
	*database.View
	ls         *LedgerState
	txn        *database.Txn
	blockchain state.Blockchain
	children   map[string]*transaction.Transaction
}

func (ls *LedgerState) view(txn *database.Txn, children map[string]*transaction.Transaction) *LedgerView {
	return &LedgerView{
		View:       ls.db.View(txn),
		ls:         ls,
		txn:        txn,
		blockchain: ls.chain,
		children:   children,
	}
}

// at returns a copy of the view that sees the block being applied at height
func (lv *LedgerView) at(height int32, blockID uint64) *LedgerView {
	ret := *lv
	ret.blockchain = &pendingBlock{chainView: lv.ls.chain, height: height, id: blockID}
	return &ret
}

func (lv *LedgerView) Blockchain() state.Blockchain {
	return lv.blockchain
}

func (lv *LedgerView) Chains() *chain.Registry {
	return lv.ls.chains
}

// ResolveChild finds a child transaction among those carried by the block,
// then in the unconfirmed pool, then among confirmed transactions
func (lv *LedgerView) ResolveChild(c *chain.Chain, fullHash []byte) (*transaction.Transaction, error) {
	if tx, ok := lv.children[string(fullHash)]; ok && tx.ChainID() == c.ID {
		return tx, nil
	}
	if pool := lv.ls.mempool(); pool != nil {
		if tx, ok := pool.FindByFullHash(c.ID, fullHash); ok {
			return tx, nil
		}
	}
	rec, err := lv.Transactions(c).FindTransaction(fullHash, lv.blockchain.Height())
	if err != nil {
		return nil, err
	}
	return lv.ls.codec.FromRecord(rec)
}

// chainView tracks the ids of the applied parent blocks
type chainView struct {
	mu       sync.RWMutex
	blockIDs []uint64
	clock    func() time.Time
}

func newChainView(blockIDs []uint64, clock func() time.Time) *chainView {
	return &chainView{blockIDs: blockIDs, clock: clock}
}

func (c *chainView) Height() int32 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return int32(len(c.blockIDs) - 1) //nolint:gosec
}

func (c *chainView) BlockIDAtHeight(height int32) (uint64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if height < 0 || int(height) >= len(c.blockIDs) {
		return 0, false
	}
	return c.blockIDs[height], true
}

func (c *chainView) Now() int32 {
	return chain.EpochTime(c.clock())
}

func (c *chainView) addBlock(id uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.blockIDs = append(c.blockIDs, id)
}

// pendingBlock extends the chain by a block that is not yet committed
type pendingBlock struct {
	*chainView
	height int32
	id     uint64
}

func (p *pendingBlock) Height() int32 {
	return p.height
}

func (p *pendingBlock) BlockIDAtHeight(height int32) (uint64, bool) {
	if height == p.height {
		return p.id, true
	}
	return p.chainView.BlockIDAtHeight(height)
}

func isNotFound(err error) bool {
	return errors.Is(err, state.ErrNotFound)
}
