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

package bundler

import (
	"errors"
	"io"
	"log/slog"
	"slices"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/blinklabs-io/strata/event"
	"github.com/blinklabs-io/strata/ledger/common"
	"github.com/blinklabs-io/strata/ledger/nesting"
	"github.com/blinklabs-io/strata/ledger/transaction"
)

const (
	DefaultWorkerPoolSize = 2
	DefaultTaskQueueSize  = 64
)

var ErrRegistryStopped = errors.New("bundler registry stopped")

// WorkerPoolConfig bounds the goroutines running bundling passes
type WorkerPoolConfig struct {
	WorkerPoolSize int
	TaskQueueSize  int
}

type RegistryConfig struct {
	Logger       *slog.Logger
	EventBus     *event.EventBus
	PromRegistry prometheus.Registerer
	Ledger       Ledger
	Pool         Pool
	WorkerPool   WorkerPoolConfig
}

type key struct {
	chainID int32
	account uint64
}

// task tracks the scheduling of one bundler. At most one pass per bundler
// runs at a time, and triggers arriving during a pass collapse into one
// follow-up pass. A task that finds the queue full waits in the overflow
// list until a worker frees a slot.
type task struct {
	queued   bool
	running  bool
	pending  bool
	deferred bool
}

// Registry owns the bundlers of a node and runs their passes on a bounded
// worker pool, triggered by new child chain transactions and new blocks
type Registry struct {
	config  RegistryConfig
	logger  *slog.Logger
	metrics *bundlerMetrics

	mu       sync.RWMutex
	bundlers map[key]*Bundler

	taskMu   sync.Mutex
	tasks    map[key]*task
	queue    chan key
	overflow []key

	txSubId    event.EventSubscriberId
	blockSubId event.EventSubscriberId
	stopCh     chan struct{}
	stopped    bool
	wg         sync.WaitGroup
	stopOnce   sync.Once
}

func NewRegistry(cfg RegistryConfig) *Registry {
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	if cfg.WorkerPool.WorkerPoolSize <= 0 {
		cfg.WorkerPool.WorkerPoolSize = DefaultWorkerPoolSize
	}
	if cfg.WorkerPool.TaskQueueSize <= 0 {
		cfg.WorkerPool.TaskQueueSize = DefaultTaskQueueSize
	}
	r := &Registry{
		config:   cfg,
		logger:   cfg.Logger.With("component", "bundler"),
		metrics:  newBundlerMetrics(cfg.PromRegistry),
		bundlers: make(map[key]*Bundler),
		tasks:    make(map[key]*task),
		queue:    make(chan key, cfg.WorkerPool.TaskQueueSize),
		stopCh:   make(chan struct{}),
	}
	for range cfg.WorkerPool.WorkerPoolSize {
		r.wg.Add(1)
		go r.worker()
	}
	if cfg.EventBus != nil {
		var txCh, blockCh <-chan event.Event
		r.txSubId, txCh = cfg.EventBus.Subscribe(event.TransactionAddedEventType)
		r.blockSubId, blockCh = cfg.EventBus.Subscribe(event.BlockAppliedEventType)
		r.wg.Add(1)
		go r.processEvents(txCh, blockCh)
	}
	return r
}

func (r *Registry) processEvents(txCh, blockCh <-chan event.Event) {
	defer r.wg.Done()
	for txCh != nil || blockCh != nil {
		select {
		case evt, ok := <-txCh:
			if !ok {
				txCh = nil
				continue
			}
			if data, ok := evt.Data.(event.TransactionAddedEvent); ok {
				r.Trigger(data.ChainID)
			}
		case _, ok := <-blockCh:
			if !ok {
				blockCh = nil
				continue
			}
			r.TriggerAll()
		}
	}
}

// Add starts a bundler for cfg. Only one bundler per account and chain may
// exist.
func (r *Registry) Add(cfg Config) (*Bundler, error) {
	b, err := newBundler(cfg)
	if err != nil {
		return nil, err
	}
	k := key{chainID: cfg.Chain.ID, account: b.accountID}
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return nil, ErrRegistryStopped
	}
	if _, ok := r.bundlers[k]; ok {
		r.mu.Unlock()
		return nil, ErrBundlerExists
	}
	r.bundlers[k] = b
	r.metrics.active.Inc()
	r.mu.Unlock()
	r.logger.Info(
		"started bundler",
		"chain", cfg.Chain.Name,
		"account", common.FormatID(b.accountID),
		"min_rate", cfg.MinRate,
		"total_fees_limit", cfg.TotalFeesLimit,
		"overpay_rate", cfg.OverpayRate,
	)
	r.schedule(k)
	return b, nil
}

// Remove stops the bundler of account on chainID. A pass already running
// completes.
func (r *Registry) Remove(chainID int32, account uint64) bool {
	k := key{chainID: chainID, account: account}
	r.mu.Lock()
	_, ok := r.bundlers[k]
	delete(r.bundlers, k)
	if ok {
		r.metrics.active.Dec()
	}
	r.mu.Unlock()
	if ok {
		r.logger.Info("stopped bundler", "chain_id", chainID, "account", common.FormatID(account))
	}
	return ok
}

func (r *Registry) Get(chainID int32, account uint64) (*Bundler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.bundlers[key{chainID: chainID, account: account}]
	return b, ok
}

// All returns every bundler ordered by chain and account
func (r *Registry) All() []*Bundler {
	r.mu.RLock()
	ret := make([]*Bundler, 0, len(r.bundlers))
	for _, b := range r.bundlers {
		ret = append(ret, b)
	}
	r.mu.RUnlock()
	slices.SortFunc(ret, func(a, b *Bundler) int {
		if a.config.Chain.ID != b.config.Chain.ID {
			return int(a.config.Chain.ID - b.config.Chain.ID)
		}
		switch {
		case a.accountID < b.accountID:
			return -1
		case a.accountID > b.accountID:
			return 1
		}
		return 0
	})
	return ret
}

func (r *Registry) ForChain(chainID int32) []*Bundler {
	var ret []*Bundler
	for _, b := range r.All() {
		if b.config.Chain.ID == chainID {
			ret = append(ret, b)
		}
	}
	return ret
}

// Trigger schedules a pass for every bundler of chainID
func (r *Registry) Trigger(chainID int32) {
	for _, b := range r.ForChain(chainID) {
		r.schedule(key{chainID: chainID, account: b.accountID})
	}
}

func (r *Registry) TriggerAll() {
	for _, b := range r.All() {
		r.schedule(key{chainID: b.config.Chain.ID, account: b.accountID})
	}
}

func (r *Registry) schedule(k key) {
	r.taskMu.Lock()
	defer r.taskMu.Unlock()
	t, ok := r.tasks[k]
	if !ok {
		t = &task{}
		r.tasks[k] = t
	}
	switch {
	case t.running:
		t.pending = true
	case t.queued, t.deferred:
	default:
		r.enqueue(k, t)
	}
}

// enqueue must be called with taskMu held
func (r *Registry) enqueue(k key, t *task) {
	select {
	case r.queue <- k:
		t.queued = true
	default:
		r.metrics.skipped.WithLabelValues("queue_full").Inc()
		r.logger.Debug("bundler queue full, deferring pass", "chain_id", k.chainID)
		t.deferred = true
		r.overflow = append(r.overflow, k)
	}
}

// drainOverflow moves deferred tasks into the queue while it has room. It
// must be called with taskMu held.
func (r *Registry) drainOverflow() {
	for len(r.overflow) > 0 {
		k := r.overflow[0]
		select {
		case r.queue <- k:
		default:
			return
		}
		r.overflow = r.overflow[1:]
		if t, ok := r.tasks[k]; ok {
			t.deferred = false
			t.queued = true
		}
	}
}

func (r *Registry) worker() {
	defer r.wg.Done()
	for {
		select {
		case <-r.stopCh:
			return
		case k := <-r.queue:
			r.run(k)
		}
	}
}

func (r *Registry) run(k key) {
	r.taskMu.Lock()
	t := r.tasks[k]
	t.queued = false
	t.running = true
	r.taskMu.Unlock()

	r.mu.RLock()
	b, ok := r.bundlers[k]
	r.mu.RUnlock()
	if ok {
		r.runPass(b)
	}

	r.taskMu.Lock()
	t.running = false
	r.drainOverflow()
	if t.pending {
		t.pending = false
		r.enqueue(k, t)
	}
	if !ok && !t.queued && !t.deferred {
		delete(r.tasks, k)
	}
	r.taskMu.Unlock()
}

func (r *Registry) runPass(b *Bundler) {
	chainName := b.config.Chain.Name
	logger := r.logger.With("chain", chainName, "account", common.FormatID(b.accountID))
	report := func(reason string, tx *transaction.Transaction, err error) {
		r.metrics.skipped.WithLabelValues(reason).Inc()
		if tx != nil {
			logger.Debug("skipped", "reason", reason, "tx", tx.StringID(), "error", err)
		} else if err != nil {
			logger.Warn("skipped child block", "reason", reason, "error", err)
		}
	}
	r.metrics.passes.Inc()
	built, err := b.Bundle(r.config.Ledger, r.config.Pool, report)
	if err != nil {
		logger.Error("bundling pass failed", "error", err)
		return
	}
	for _, tx := range built {
		children := 0
		if cb, ok := tx.Attachment().(*nesting.ChildBlock); ok {
			children = len(cb.FullHashes())
		}
		r.metrics.bundles.WithLabelValues(chainName).Inc()
		r.metrics.committedFees.WithLabelValues(chainName).Add(float64(tx.Fee()))
		logger.Info(
			"broadcast child block",
			"tx", tx.StringID(),
			"children", children,
			"fee", tx.Chain().Format(tx.Fee()),
		)
		if r.config.EventBus != nil {
			r.config.EventBus.Publish(
				event.BundleBroadcastEventType,
				event.NewEvent(event.BundleBroadcastEventType, event.BundleBroadcastEvent{
					ChainID:       b.config.Chain.ID,
					Account:       b.accountID,
					TransactionID: tx.ID(),
					Children:      children,
					Fee:           tx.Fee(),
				}),
			)
		}
	}
}

// Stop ends event processing and waits for running passes
func (r *Registry) Stop() {
	r.stopOnce.Do(func() {
		r.mu.Lock()
		r.stopped = true
		r.mu.Unlock()
		if r.config.EventBus != nil {
			r.config.EventBus.Unsubscribe(event.TransactionAddedEventType, r.txSubId)
			r.config.EventBus.Unsubscribe(event.BlockAppliedEventType, r.blockSubId)
		}
		close(r.stopCh)
		r.wg.Wait()
	})
}
