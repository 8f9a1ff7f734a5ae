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

// Package strata assembles the ledger, the unconfirmed pool and the bundlers
// of a multi-chain node.
package strata

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/blinklabs-io/strata/bundler"
	"github.com/blinklabs-io/strata/event"
	"github.com/blinklabs-io/strata/ledger"
	"github.com/blinklabs-io/strata/mempool"
)

type Node struct {
	eventBus      *event.EventBus
	mempool       *mempool.Mempool
	ledgerState   *ledger.LedgerState
	bundlers      *bundler.Registry
	shutdownFuncs []func(context.Context) error
	config        Config
	done          chan struct{}
	startOnce     sync.Once
	startErr      error
	shutdownOnce  sync.Once
}

func New(cfg Config) (*Node, error) {
	eventBus := event.NewEventBus(cfg.promRegistry, cfg.logger)
	n := &Node{
		config:   cfg,
		eventBus: eventBus,
		done:     make(chan struct{}),
	}
	if err := n.configValidate(); err != nil {
		eventBus.Stop()
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return n, nil
}

// Start opens the stores and starts the pool and the bundlers. It runs at
// most once.
func (n *Node) Start(ctx context.Context) error {
	n.startOnce.Do(func() {
		n.startErr = n.start(ctx)
	})
	return n.startErr
}

func (n *Node) start(ctx context.Context) error {
	// Configure tracing
	if n.config.tracing {
		if err := n.setupTracing(); err != nil {
			return err
		}
	}
	// Load state
	state, err := ledger.NewLedgerState(
		ledger.LedgerStateConfig{
			Logger:       n.config.logger,
			DataDir:      n.config.dataDir,
			EventBus:     n.eventBus,
			PromRegistry: n.config.promRegistry,
			Chains:       n.config.chains,
			Clock:        n.config.clock,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to load state database: %w", err)
	}
	n.ledgerState = state
	if len(n.config.genesis) > 0 {
		if err := n.ledgerState.LoadGenesis(ctx, n.config.genesis); err != nil {
			return fmt.Errorf("failed to load genesis: %w", err)
		}
	}
	// Initialize mempool
	n.mempool = mempool.NewMempool(mempool.MempoolConfig{
		MempoolCapacity: n.config.mempoolCapacity,
		Logger:          n.config.logger,
		EventBus:        n.eventBus,
		PromRegistry:    n.config.promRegistry,
		Ledger:          n.ledgerState,
	})
	n.ledgerState.SetMempool(n.mempool)
	// Start bundlers
	n.bundlers = bundler.NewRegistry(bundler.RegistryConfig{
		Logger:       n.config.logger,
		EventBus:     n.eventBus,
		PromRegistry: n.config.promRegistry,
		Ledger:       n.ledgerState,
		Pool:         n.mempool,
		WorkerPool:   n.config.BundlerWorkerPool,
	})
	for _, b := range n.config.bundlers {
		c, err := n.ledgerState.Chains().ByName(b.Chain)
		if err != nil {
			return fmt.Errorf("bundler: %w", err)
		}
		if _, err := n.bundlers.Add(bundler.Config{
			Chain:          c,
			SecretPhrase:   b.SecretPhrase,
			MinRate:        b.MinRate,
			TotalFeesLimit: b.TotalFeesLimit,
			OverpayRate:    b.OverpayRate,
		}); err != nil {
			return fmt.Errorf("bundler for %s: %w", c.Name, err)
		}
	}
	n.config.logger.Info(
		"node started",
		"component", "node",
		"height", n.ledgerState.Height(),
		"bundlers", len(n.config.bundlers),
	)
	return nil
}

// Run starts the node and blocks until ctx is done or Stop is called
func (n *Node) Run(ctx context.Context) error {
	if err := n.Start(ctx); err != nil {
		return err
	}
	select {
	case <-ctx.Done():
	case <-n.done:
	}
	return nil
}

func (n *Node) EventBus() *event.EventBus        { return n.eventBus }
func (n *Node) LedgerState() *ledger.LedgerState { return n.ledgerState }
func (n *Node) Mempool() *mempool.Mempool        { return n.mempool }
func (n *Node) Bundlers() *bundler.Registry      { return n.bundlers }

func (n *Node) Stop() error {
	var err error
	n.shutdownOnce.Do(func() {
		err = n.shutdown()
	})
	return err
}

func (n *Node) shutdown() error {
	// Create shutdown context with timeout (default 30s if not configured)
	shutdownTimeout := 30 * time.Second
	if n.config.shutdownTimeout > 0 {
		shutdownTimeout = n.config.shutdownTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var err error

	n.config.logger.Debug("starting graceful shutdown", "component", "node")

	// Phase 1: Stop producing new transactions
	if n.bundlers != nil {
		n.bundlers.Stop()
	}
	if n.mempool != nil {
		n.mempool.Stop()
	}

	// Phase 2: Flush state and close database
	if n.ledgerState != nil {
		if closeErr := n.ledgerState.Close(); closeErr != nil {
			err = errors.Join(
				err,
				fmt.Errorf("ledger state close: %w", closeErr),
			)
		}
	}

	// Phase 3: Cleanup resources
	for _, fn := range n.shutdownFuncs {
		if fnErr := fn(ctx); fnErr != nil {
			err = errors.Join(err, fmt.Errorf("shutdown function: %w", fnErr))
		}
	}
	n.shutdownFuncs = nil

	if n.eventBus != nil {
		n.eventBus.Stop()
	}

	n.config.logger.Debug("graceful shutdown complete", "component", "node")
	close(n.done)
	return err
}
