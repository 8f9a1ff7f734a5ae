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

// Package mempool holds the unconfirmed transactions of every chain.
package mempool

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/blinklabs-io/strata/event"
	"github.com/blinklabs-io/strata/ledger/chain"
	"github.com/blinklabs-io/strata/ledger/common"
	"github.com/blinklabs-io/strata/ledger/state"
	"github.com/blinklabs-io/strata/ledger/transaction"
	"github.com/blinklabs-io/strata/ledger/txtype"
)

const DefaultCapacity = 10 * 1024 * 1024

var (
	ErrPoolFull          = errors.New("unconfirmed pool full")
	ErrDuplicate         = errors.New("duplicate unconfirmed transaction")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrNotFound          = errors.New("transaction not in pool")
)

// Ledger is the view of the ledger the pool validates against
type Ledger interface {
	Env() state.Env
	Codec() *transaction.Codec
}

type MempoolTransaction struct {
	Tx       *transaction.Transaction
	Added    time.Time
	LastSeen time.Time
}

type MempoolConfig struct {
	PromRegistry    prometheus.Registerer
	Ledger          Ledger
	Logger          *slog.Logger
	EventBus        *event.EventBus
	MempoolCapacity int64
}

// Mempool admits transactions one at a time under its embedded lock. The
// index has its own lock so that lookups never wait on an admission.
type Mempool struct {
	sync.RWMutex
	config  MempoolConfig
	metrics struct {
		txsProcessedNum prometheus.Counter
		txsInMempool    prometheus.Gauge
		mempoolBytes    prometheus.Gauge
		txsRejected     *prometheus.CounterVec
	}
	ledger   Ledger
	logger   *slog.Logger
	eventBus *event.EventBus

	indexMu      sync.RWMutex
	transactions []*MempoolTransaction
	byHash       map[string]*MempoolTransaction
	size         int

	blockSubId event.EventSubscriberId
	wg         sync.WaitGroup
	stopOnce   sync.Once
}

type MempoolFullError struct {
	CurrentSize int
	TxSize      int
	Capacity    int64
}

func (e *MempoolFullError) Error() string {
	return fmt.Sprintf(
		"unconfirmed pool full: current size=%d bytes, tx size=%d bytes, capacity=%d bytes",
		e.CurrentSize,
		e.TxSize,
		e.Capacity,
	)
}

func (e *MempoolFullError) Is(target error) bool {
	return target == ErrPoolFull
}

func NewMempool(config MempoolConfig) *Mempool {
	if config.MempoolCapacity <= 0 {
		config.MempoolCapacity = DefaultCapacity
	}
	m := &Mempool{
		config:   config,
		ledger:   config.Ledger,
		eventBus: config.EventBus,
		byHash:   make(map[string]*MempoolTransaction),
	}
	if config.Logger == nil {
		m.logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	} else {
		m.logger = config.Logger
	}
	m.logger = m.logger.With("component", "mempool")
	promautoFactory := promauto.With(config.PromRegistry)
	m.metrics.txsProcessedNum = promautoFactory.NewCounter(
		prometheus.CounterOpts{
			Name: "strata_mempool_processed_total",
			Help: "total transactions admitted to the unconfirmed pool",
		},
	)
	m.metrics.txsInMempool = promautoFactory.NewGauge(prometheus.GaugeOpts{
		Name: "strata_mempool_transactions",
		Help: "current count of unconfirmed transactions",
	})
	m.metrics.mempoolBytes = promautoFactory.NewGauge(prometheus.GaugeOpts{
		Name: "strata_mempool_bytes",
		Help: "current size of unconfirmed transactions in bytes",
	})
	m.metrics.txsRejected = promautoFactory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "strata_mempool_rejected_total",
			Help: "transactions refused by the unconfirmed pool by reason",
		},
		[]string{"reason"},
	)
	if m.eventBus != nil {
		var blockCh <-chan event.Event
		m.blockSubId, blockCh = m.eventBus.Subscribe(event.BlockAppliedEventType)
		m.wg.Add(1)
		go m.processBlockEvents(blockCh)
	}
	return m
}

// Stop ends re-validation on new blocks
func (m *Mempool) Stop() {
	m.stopOnce.Do(func() {
		if m.eventBus != nil {
			m.eventBus.Unsubscribe(event.BlockAppliedEventType, m.blockSubId)
		}
		m.wg.Wait()
	})
}

func (m *Mempool) processBlockEvents(blockCh <-chan event.Event) {
	defer m.wg.Done()
	for range blockCh {
		// Collapse a burst of blocks into one pass
		for len(blockCh) > 0 {
			if _, ok := <-blockCh; !ok {
				break
			}
		}
		m.Revalidate()
	}
}

// Revalidate drops every pending transaction that expired, was confirmed or
// no longer validates, releasing its reservation
func (m *Mempool) Revalidate() {
	m.Lock()
	defer m.Unlock()
	env := m.ledger.Env()
	for _, mtx := range slices.Backward(m.snapshot()) {
		if err := m.recheck(env, mtx.Tx); err != nil {
			if err := m.remove(env, mtx.Tx, true); err != nil {
				m.logger.Error("failed to release reservation", "tx", mtx.Tx.StringID(), "error", err)
			}
			m.logger.Debug(
				"removed transaction after re-validation failure",
				"tx", mtx.Tx.StringID(),
				"error", err,
			)
		}
	}
}

func (m *Mempool) recheck(env state.Env, tx *transaction.Transaction) error {
	if err := checkTime(env, tx); err != nil {
		return err
	}
	if err := checkConfirmed(env, tx); err != nil {
		return err
	}
	return tx.Validate(env)
}

func checkTime(env state.Env, tx *transaction.Transaction) error {
	now := env.Blockchain().Now()
	if tx.Expiration() < now {
		return common.NewNotCurrentlyValid("transaction %s expired at %d", tx.StringID(), tx.Expiration())
	}
	if tx.Timestamp() > now+chain.MaxTimeDrift {
		return common.NewNotCurrentlyValid(
			"transaction %s timestamp %d is ahead of %d",
			tx.StringID(),
			tx.Timestamp(),
			now,
		)
	}
	return nil
}

func checkConfirmed(env state.Env, tx *transaction.Transaction) error {
	confirmed, err := env.Transactions(tx.Chain()).HasTransaction(tx.FullHash(), env.Blockchain().Height())
	if err != nil {
		return err
	}
	if confirmed {
		return common.NewNotValid("transaction %s is already confirmed", tx.StringID())
	}
	return nil
}

// AddTransactionBytes decodes and admits a transaction received in binary
// form
func (m *Mempool) AddTransactionBytes(data []byte) (*transaction.Transaction, error) {
	tx, err := m.ledger.Codec().Parse(data)
	if err != nil {
		return nil, err
	}
	return tx, m.AddTransaction(tx)
}

// AddTransaction validates tx and reserves its funds. An overlapping child
// block transaction is replaced only by one paying a strictly higher fee.
func (m *Mempool) AddTransaction(tx *transaction.Transaction) error {
	err := m.addTransaction(tx)
	if err != nil {
		m.metrics.txsRejected.WithLabelValues(rejectReason(err)).Inc()
	}
	return err
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, ErrPoolFull):
		return "full"
	case errors.Is(err, ErrDuplicate):
		return "duplicate"
	case errors.Is(err, ErrInsufficientFunds):
		return "funds"
	case common.IsNotValid(err):
		return "invalid"
	case common.IsNotCurrentlyValid(err):
		return "not_currently_valid"
	}
	return "error"
}

func (m *Mempool) addTransaction(tx *transaction.Transaction) error {
	if !tx.IsSigned() {
		return common.NewNotValid("%w", transaction.ErrNotSigned)
	}
	m.Lock()
	defer m.Unlock()
	if existing := m.lookup(tx.FullHash()); existing != nil {
		m.indexMu.Lock()
		existing.LastSeen = time.Now()
		m.indexMu.Unlock()
		m.logger.Debug("updated last seen for transaction", "tx", tx.StringID())
		return nil
	}
	env := m.ledger.Env()
	if err := tx.LoadPrunable(env); err != nil && !errors.Is(err, state.ErrNotFound) {
		return err
	}
	if !tx.Verify() {
		return common.NewNotValid("transaction %s has an invalid signature", tx.StringID())
	}
	if err := m.recheck(env, tx); err != nil {
		return err
	}
	evict, err := m.competitors(tx)
	if err != nil {
		return err
	}
	if err := m.checkDuplicate(tx, evict); err != nil {
		return err
	}
	txSize := tx.FullSize()
	m.indexMu.RLock()
	currentSize := m.size
	m.indexMu.RUnlock()
	for _, old := range evict {
		currentSize -= old.FullSize()
	}
	if int64(currentSize+txSize) > m.config.MempoolCapacity {
		return &MempoolFullError{
			CurrentSize: currentSize,
			TxSize:      txSize,
			Capacity:    m.config.MempoolCapacity,
		}
	}
	for _, old := range evict {
		if err := m.remove(env, old, true); err != nil {
			return err
		}
		m.logger.Debug("replaced overlapping transaction", "old", old.StringID(), "new", tx.StringID())
	}
	ok, err := tx.ApplyUnconfirmed(env)
	if err != nil || !ok {
		m.restore(env, evict)
		if err != nil {
			return err
		}
		return common.NewNotCurrentlyValid("%w for transaction %s", ErrInsufficientFunds, tx.StringID())
	}
	m.insert(tx)
	m.logger.Debug("added transaction", "tx", tx.StringID(), "chain", tx.ChainID())
	m.metrics.txsProcessedNum.Inc()
	if m.eventBus != nil {
		m.eventBus.Publish(
			event.TransactionAddedEventType,
			event.NewEvent(
				event.TransactionAddedEventType,
				event.TransactionAddedEvent{
					ChainID:       tx.ChainID(),
					TransactionID: tx.ID(),
					FullHash:      tx.FullHash(),
					Fee:           tx.Fee(),
				},
			),
		)
	}
	return nil
}

// competitors returns the pending transactions tx outbids. A competitor with
// an equal or higher fee makes tx a duplicate.
func (m *Mempool) competitors(tx *transaction.Transaction) ([]*transaction.Transaction, error) {
	var evict []*transaction.Transaction
	for _, mtx := range m.snapshot() {
		old := mtx.Tx
		if old.Type() != tx.Type() || !tx.Type().Overlap(old, tx) {
			continue
		}
		if tx.Fee() <= old.Fee() {
			return nil, common.NewNotCurrentlyValid(
				"%w: %s overlaps %s with a fee that is not higher",
				ErrDuplicate,
				tx.StringID(),
				old.StringID(),
			)
		}
		evict = append(evict, old)
	}
	return evict, nil
}

func (m *Mempool) checkDuplicate(tx *transaction.Transaction, skip []*transaction.Transaction) error {
	dups := txtype.NewDuplicates()
	for _, mtx := range m.snapshot() {
		if slices.Contains(skip, mtx.Tx) {
			continue
		}
		mtx.Tx.IsUnconfirmedDuplicate(dups)
	}
	if tx.IsUnconfirmedDuplicate(dups) {
		return common.NewNotCurrentlyValid("%w: %s", ErrDuplicate, tx.StringID())
	}
	return nil
}

func (m *Mempool) restore(env state.Env, evicted []*transaction.Transaction) {
	for _, old := range evicted {
		ok, err := old.ApplyUnconfirmed(env)
		if err != nil || !ok {
			m.logger.Warn("could not restore replaced transaction", "tx", old.StringID(), "error", err)
			continue
		}
		m.insert(old)
	}
}

// Broadcast admits tx and asks the relay layer to forward it
func (m *Mempool) Broadcast(tx *transaction.Transaction) error {
	if err := m.AddTransaction(tx); err != nil {
		return err
	}
	if m.eventBus != nil {
		m.eventBus.Publish(
			event.TransactionBroadcastEventType,
			event.NewEvent(
				event.TransactionBroadcastEventType,
				event.TransactionBroadcastEvent{
					ChainID:       tx.ChainID(),
					TransactionID: tx.ID(),
					Bytes:         tx.Bytes(),
				},
			),
		)
	}
	return nil
}

func (m *Mempool) insert(tx *transaction.Transaction) {
	now := time.Now()
	mtx := &MempoolTransaction{Tx: tx, Added: now, LastSeen: now}
	m.indexMu.Lock()
	m.transactions = append(m.transactions, mtx)
	m.byHash[string(tx.FullHash())] = mtx
	m.size += tx.FullSize()
	m.indexMu.Unlock()
	m.metrics.txsInMempool.Inc()
	m.metrics.mempoolBytes.Add(float64(tx.FullSize()))
}

// remove drops tx and, unless it was confirmed, releases its reservation.
// The caller holds the pool lock.
func (m *Mempool) remove(env state.Env, tx *transaction.Transaction, undo bool) error {
	m.indexMu.Lock()
	key := string(tx.FullHash())
	if _, ok := m.byHash[key]; !ok {
		m.indexMu.Unlock()
		return ErrNotFound
	}
	delete(m.byHash, key)
	m.transactions = slices.DeleteFunc(m.transactions, func(mtx *MempoolTransaction) bool {
		return mtx.Tx == tx
	})
	m.size -= tx.FullSize()
	m.indexMu.Unlock()
	m.metrics.txsInMempool.Dec()
	m.metrics.mempoolBytes.Sub(float64(tx.FullSize()))
	var err error
	if undo {
		err = tx.UndoUnconfirmed(env)
	}
	if m.eventBus != nil {
		m.eventBus.Publish(
			event.TransactionRemovedEventType,
			event.NewEvent(
				event.TransactionRemovedEventType,
				event.TransactionRemovedEvent{
					ChainID:       tx.ChainID(),
					TransactionID: tx.ID(),
					Confirmed:     !undo,
				},
			),
		)
	}
	return err
}

// RemoveTransaction drops a pending transaction and releases its reservation
func (m *Mempool) RemoveTransaction(id uint64) error {
	m.Lock()
	defer m.Unlock()
	mtx := m.byID(id)
	if mtx == nil {
		return ErrNotFound
	}
	if err := m.remove(m.ledger.Env(), mtx.Tx, true); err != nil {
		return err
	}
	m.logger.Debug("removed transaction", "tx", mtx.Tx.StringID())
	return nil
}

// Confirm runs apply under the pool lock and then drops the transactions it
// reports as confirmed, keeping their reservations since confirmation has
// consumed them
func (m *Mempool) Confirm(apply func() ([]*transaction.Transaction, error)) error {
	m.Lock()
	defer m.Unlock()
	confirmed, err := apply()
	for _, tx := range confirmed {
		if mtx := m.lookup(tx.FullHash()); mtx != nil {
			if rerr := m.remove(nil, mtx.Tx, false); rerr != nil {
				err = errors.Join(err, rerr)
			}
		}
	}
	return err
}

func (m *Mempool) snapshot() []*MempoolTransaction {
	m.indexMu.RLock()
	defer m.indexMu.RUnlock()
	return slices.Clone(m.transactions)
}

func (m *Mempool) lookup(fullHash []byte) *MempoolTransaction {
	m.indexMu.RLock()
	defer m.indexMu.RUnlock()
	return m.byHash[string(fullHash)]
}

func (m *Mempool) byID(id uint64) *MempoolTransaction {
	m.indexMu.RLock()
	defer m.indexMu.RUnlock()
	for _, mtx := range m.transactions {
		if mtx.Tx.ID() == id {
			return mtx
		}
	}
	return nil
}

// GetTransaction returns a pending transaction by id
func (m *Mempool) GetTransaction(id uint64) (*transaction.Transaction, bool) {
	mtx := m.byID(id)
	if mtx == nil {
		return nil, false
	}
	return mtx.Tx, true
}

// FindByFullHash returns a pending transaction of chainID by full hash
func (m *Mempool) FindByFullHash(chainID int32, fullHash []byte) (*transaction.Transaction, bool) {
	mtx := m.lookup(fullHash)
	if mtx == nil || mtx.Tx.ChainID() != chainID || !bytes.Equal(mtx.Tx.FullHash(), fullHash) {
		return nil, false
	}
	return mtx.Tx, true
}

// Contains reports whether a transaction with fullHash is pending
func (m *Mempool) Contains(fullHash []byte) bool {
	return m.lookup(fullHash) != nil
}

// Transactions returns a copy of the pending entries in admission order
func (m *Mempool) Transactions() []MempoolTransaction {
	snap := m.snapshot()
	ret := make([]MempoolTransaction, len(snap))
	for i, mtx := range snap {
		ret[i] = *mtx
	}
	return ret
}

// Iterate yields the pending transactions of chainID accepted by filter, in
// admission order. A nil filter accepts everything.
func (m *Mempool) Iterate(
	chainID int32,
	filter func(*transaction.Transaction) bool,
) iter.Seq[*transaction.Transaction] {
	return func(yield func(*transaction.Transaction) bool) {
		for _, mtx := range m.snapshot() {
			if mtx.Tx.ChainID() != chainID {
				continue
			}
			if filter != nil && !filter(mtx.Tx) {
				continue
			}
			if !yield(mtx.Tx) {
				return
			}
		}
	}
}
