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

// Package ledger applies parent chain blocks to the stores of every chain
// and hosts the validation environment used by the unconfirmed pool.
package ledger

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/blinklabs-io/strata/database"
	"github.com/blinklabs-io/strata/event"
	"github.com/blinklabs-io/strata/ledger/appendix"
	"github.com/blinklabs-io/strata/ledger/asset"
	"github.com/blinklabs-io/strata/ledger/chain"
	"github.com/blinklabs-io/strata/ledger/exchange"
	"github.com/blinklabs-io/strata/ledger/nesting"
	"github.com/blinklabs-io/strata/ledger/payment"
	"github.com/blinklabs-io/strata/ledger/state"
	"github.com/blinklabs-io/strata/ledger/transaction"
	"github.com/blinklabs-io/strata/ledger/txtype"
)

type LedgerStateConfig struct {
	Logger       *slog.Logger
	DataDir      string
	EventBus     *event.EventBus
	PromRegistry prometheus.Registerer
	// Chains defaults to chain.DefaultRegistry()
	Chains *chain.Registry
	// Clock defaults to time.Now
	Clock func() time.Time
}

// Pool is the part of the unconfirmed pool block application needs
type Pool interface {
	FindByFullHash(chainID int32, fullHash []byte) (*transaction.Transaction, bool)
	Contains(fullHash []byte) bool
	Confirm(apply func() ([]*transaction.Transaction, error)) error
}

// LedgerState serializes block application under its embedded lock. Pool
// admission runs under the pool's own lock and reads through Env.
type LedgerState struct {
	sync.RWMutex
	config  LedgerStateConfig
	logger  *slog.Logger
	db      *database.Database
	chains  *chain.Registry
	types   *txtype.Table
	codec   *transaction.Codec
	chain   *chainView
	metrics stateMetrics
	poolMu  sync.RWMutex
	pool    Pool

	closeOnce sync.Once
	closeErr  error
}

func NewLedgerState(cfg LedgerStateConfig) (*LedgerState, error) {
	if cfg.Logger == nil {
		// Create logger to throw away logs
		// We do this so we don't have to add guards around every log operation
		cfg.Logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	if cfg.Chains == nil {
		cfg.Chains = chain.DefaultRegistry()
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	ls := &LedgerState{
		config: cfg,
		logger: cfg.Logger.With("component", "ledger"),
		chains: cfg.Chains,
	}
	codec, err := NewCodec(ls.chains)
	if err != nil {
		return nil, err
	}
	ls.types = codec.Types()
	ls.codec = codec
	// Init metrics
	ls.metrics.init(cfg.PromRegistry)
	// Load database
	needsRecovery := false
	db, err := database.New(&database.Config{
		Logger:       cfg.Logger,
		PromRegistry: cfg.PromRegistry,
		DataDir:      cfg.DataDir,
		Chains:       ls.chains,
	})
	if db == nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	ls.db = db
	if err != nil {
		var dbErr database.CommitMarkerError
		if !errors.As(err, &dbErr) {
			_ = db.Close()
			return nil, err
		}
		ls.logger.Warn("database initialization error, needs recovery", "error", err)
		needsRecovery = true
	}
	if needsRecovery {
		if err := ls.recoverCommitMarkerConflict(); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to recover database: %w", err)
		}
	}
	if err := ls.loadChain(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return ls, nil
}

// recoverCommitMarkerConflict restamps both stores from the metadata tip,
// which every block write updates in the same transaction
func (ls *LedgerState) recoverCommitMarkerConflict() error {
	tip, err := ls.db.GetTip(nil)
	if err != nil {
		return err
	}
	txn := ls.db.Transaction(true)
	txn.SetHeight(tip.Height)
	return txn.Do(func(*database.Txn) error { return nil })
}

// loadChain restores the block ids from the database and drops the
// reservations of the previous run, since the pool starts empty
func (ls *LedgerState) loadChain() error {
	ids, err := ls.db.BlockIDs(nil)
	if err != nil {
		return fmt.Errorf("load blocks: %w", err)
	}
	ls.chain = newChainView(ids, ls.config.Clock)
	view := ls.db.View(nil)
	for _, c := range ls.chains.All() {
		if err := view.ResetUnconfirmed(c); err != nil {
			return fmt.Errorf("reset unconfirmed balances of %s: %w", c, err)
		}
	}
	if err := view.ResetUnconfirmedAssets(); err != nil {
		return fmt.Errorf("reset unconfirmed asset balances: %w", err)
	}
	ls.metrics.height.Set(float64(ls.chain.Height()))
	ls.logger.Info("loaded ledger", "height", ls.chain.Height(), "chains", len(ls.chains.All()))
	return nil
}

// NewCodec returns the codec over every transaction type the ledger knows
func NewCodec(chains *chain.Registry) (*transaction.Codec, error) {
	types := append(payment.ParentTypes(), nesting.Type())
	types = append(types, exchange.ParentTypes()...)
	types = append(types, payment.ChildTypes()...)
	types = append(types, asset.ChildTypes()...)
	types = append(types, exchange.ChildTypes()...)
	table, err := txtype.NewTable(types...)
	if err != nil {
		return nil, err
	}
	return transaction.NewCodec(chains, table, appendix.DefaultRegistry()), nil
}

// SetMempool connects the unconfirmed pool consulted during block
// application
func (ls *LedgerState) SetMempool(pool Pool) {
	ls.poolMu.Lock()
	defer ls.poolMu.Unlock()
	ls.pool = pool
}

func (ls *LedgerState) mempool() Pool {
	ls.poolMu.RLock()
	defer ls.poolMu.RUnlock()
	return ls.pool
}

// Env returns the validation environment over the committed state. It never
// takes the block lock, so the pool may call it while a block waits on the
// pool lock.
func (ls *LedgerState) Env() state.Env {
	return ls.view(nil, nil)
}

func (ls *LedgerState) Codec() *transaction.Codec {
	return ls.codec
}

func (ls *LedgerState) Chains() *chain.Registry {
	return ls.chains
}

func (ls *LedgerState) Database() *database.Database {
	return ls.db
}

// Height returns the height of the last applied block, or -1 before genesis
func (ls *LedgerState) Height() int32 {
	return ls.chain.Height()
}

func (ls *LedgerState) Close() error {
	ls.closeOnce.Do(func() {
		ls.closeErr = ls.db.Close()
	})
	return ls.closeErr
}
