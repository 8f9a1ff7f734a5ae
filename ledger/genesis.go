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
	"context"
	"encoding/binary"
	"fmt"
	"maps"
	"slices"

	"golang.org/x/sync/errgroup"

	"github.com/blinklabs-io/strata/database"
	"github.com/blinklabs-io/strata/ledger/chain"
	"github.com/blinklabs-io/strata/ledger/common"
	"github.com/blinklabs-io/strata/ledger/crypto"
)

// GenesisEntry is an initial balance on one chain
type GenesisEntry struct {
	Chain     string
	PublicKey []byte
	Amount    int64
}

type genesisPlan struct {
	chain    *chain.Chain
	accounts []uint64
	amounts  map[uint64]int64
}

// LoadGenesis credits the initial balances and records block 0. It does
// nothing once any block has been applied.
func (ls *LedgerState) LoadGenesis(ctx context.Context, entries []GenesisEntry) error {
	ls.Lock()
	defer ls.Unlock()
	if height := ls.chain.Height(); height >= 0 {
		ls.logger.Debug("genesis already loaded", "height", height)
		return nil
	}
	byChain := make(map[int32][]GenesisEntry)
	keys := make(map[uint64][]byte)
	for i, e := range entries {
		c, err := ls.chains.ByName(e.Chain)
		if err != nil {
			return fmt.Errorf("genesis entry %d: %w", i, err)
		}
		if len(e.PublicKey) != common.PublicKeySize {
			return fmt.Errorf("genesis entry %d: invalid public key length %d", i, len(e.PublicKey))
		}
		if e.Amount <= 0 {
			return fmt.Errorf("genesis entry %d: amount must be positive", i)
		}
		byChain[c.ID] = append(byChain[c.ID], e)
		keys[common.AccountID(e.PublicKey)] = e.PublicKey
	}
	chains := ls.chains.All()
	plans := make([]genesisPlan, len(chains))
	g, ctx := errgroup.WithContext(ctx)
	for i, c := range chains {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			plan, err := newGenesisPlan(c, byChain[c.ID])
			plans[i] = plan
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	blockID := genesisBlockID(entries)
	txn := ls.db.Transaction(true)
	err := txn.Do(func(txn *database.Txn) error {
		view := ls.db.View(txn)
		for _, plan := range plans {
			balances := view.Balances(plan.chain)
			for _, account := range plan.accounts {
				if err := balances.CreditGenesis(account, plan.amounts[account]); err != nil {
					return fmt.Errorf("credit %s on %s: %w", common.FormatID(account), plan.chain, err)
				}
			}
		}
		for _, account := range slices.Sorted(maps.Keys(keys)) {
			if err := view.PublicKeys().SetPublicKey(account, keys[account]); err != nil {
				return err
			}
		}
		return ls.db.AddBlock(0, blockID, 0, 0, txn)
	})
	if err != nil {
		return fmt.Errorf("load genesis: %w", err)
	}
	ls.chain.addBlock(blockID)
	ls.metrics.height.Set(0)
	ls.logger.Info("loaded genesis", "id", common.FormatID(blockID), "entries", len(entries))
	return nil
}

// newGenesisPlan sums the entries of one chain per account and checks the
// chain's supply cap
func newGenesisPlan(c *chain.Chain, entries []GenesisEntry) (genesisPlan, error) {
	plan := genesisPlan{chain: c, amounts: make(map[uint64]int64)}
	var total int64
	for _, e := range entries {
		account := common.AccountID(e.PublicKey)
		amount, err := common.SafeAdd(plan.amounts[account], e.Amount)
		if err != nil {
			return plan, fmt.Errorf("genesis balance of %s on %s: %w", common.FormatID(account), c, err)
		}
		plan.amounts[account] = amount
		if total, err = common.SafeAdd(total, e.Amount); err != nil {
			return plan, fmt.Errorf("genesis supply of %s: %w", c, err)
		}
	}
	if total > c.MaxBalance() {
		return plan, fmt.Errorf("genesis supply %s of %s exceeds %s", c.Format(total), c, c.Format(c.MaxBalance()))
	}
	plan.accounts = slices.Sorted(maps.Keys(plan.amounts))
	return plan, nil
}

func genesisBlockID(entries []GenesisEntry) uint64 {
	parts := make([][]byte, 0, len(entries)*3)
	for _, e := range entries {
		parts = append(parts, []byte(e.Chain), e.PublicKey, binary.LittleEndian.AppendUint64(nil, uint64(e.Amount))) //nolint:gosec
	}
	return common.FullHashToID(crypto.Sha256(parts...))
}
