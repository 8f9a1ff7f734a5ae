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
	"iter"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/blinklabs-io/strata/event"
	testwait "github.com/blinklabs-io/strata/internal/test/testutil"
	"github.com/blinklabs-io/strata/ledger/appendix"
	"github.com/blinklabs-io/strata/ledger/chain"
	"github.com/blinklabs-io/strata/ledger/common"
	"github.com/blinklabs-io/strata/ledger/crypto"
	"github.com/blinklabs-io/strata/ledger/nesting"
	"github.com/blinklabs-io/strata/ledger/payment"
	"github.com/blinklabs-io/strata/ledger/state"
	"github.com/blinklabs-io/strata/ledger/transaction"
	"github.com/blinklabs-io/strata/ledger/txtype"
	"github.com/blinklabs-io/strata/mempool"
)

const (
	aliceSecret   = "alice bundler secret"
	bobSecret     = "bob bundler secret"
	bundlerSecret = "bundler funding secret"
	rivalSecret   = "rival bundler secret"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type testEnv struct {
	*state.MemoryEnv
	codec *transaction.Codec
	pool  *mempool.Mempool
}

func (e *testEnv) ResolveChild(c *chain.Chain, fullHash []byte) (*transaction.Transaction, error) {
	if tx, ok := e.pool.FindByFullHash(c.ID, fullHash); ok {
		return tx, nil
	}
	rec, err := e.Transactions(c).FindTransaction(fullHash, e.Chain.Height())
	if err != nil {
		return nil, err
	}
	return e.codec.FromRecord(rec)
}

type testLedger struct {
	env *testEnv
}

func (l *testLedger) Env() state.Env            { return l.env }
func (l *testLedger) Codec() *transaction.Codec { return l.env.codec }

type fixture struct {
	env    *testEnv
	ledger *testLedger
	pool   *mempool.Mempool
	bus    *event.EventBus
	types  *txtype.Table
	parent *chain.Chain
	ignis  *chain.Chain
	bob    uint64
	nonce  int64
}

func newFixture(t *testing.T, withBus bool) *fixture {
	t.Helper()
	registry := chain.DefaultRegistry()
	types, err := txtype.NewTable(
		append(append(payment.ParentTypes(), nesting.Type()), payment.ChildTypes()...)...,
	)
	require.NoError(t, err)
	mem := state.NewMemoryEnv(registry)
	for i := range 10 {
		mem.Chain.AddBlock(uint64(900 + i))
	}
	mem.Chain.SetNow(20_000)
	ignis, err := registry.ByName("IGNIS")
	require.NoError(t, err)
	env := &testEnv{
		MemoryEnv: mem,
		codec:     transaction.NewCodec(registry, types, appendix.DefaultRegistry()),
	}
	f := &fixture{
		env:    env,
		ledger: &testLedger{env: env},
		types:  types,
		parent: registry.Parent(),
		ignis:  ignis,
		bob:    common.AccountID(crypto.PublicKey(bobSecret)),
	}
	if withBus {
		f.bus = event.NewEventBus(nil, nil)
		t.Cleanup(f.bus.Stop)
	}
	f.pool = mempool.NewMempool(mempool.MempoolConfig{
		Ledger:       f.ledger,
		EventBus:     f.bus,
		PromRegistry: prometheus.NewRegistry(),
	})
	t.Cleanup(f.pool.Stop)
	env.pool = f.pool
	alice := common.AccountID(crypto.PublicKey(aliceSecret))
	require.NoError(t, mem.BalanceMap[ignis.ID].CreditGenesis(alice, 1000*ignis.OneCoin()))
	return f
}

func (f *fixture) fund(t *testing.T, secret string, amount int64) {
	t.Helper()
	account := common.AccountID(crypto.PublicKey(secret))
	require.NoError(t, f.env.BalanceMap[f.parent.ID].CreditGenesis(account, amount))
}

func (f *fixture) child(t *testing.T, childFee int64, deadline int16) *transaction.Transaction {
	t.Helper()
	typ, err := f.types.Lookup(false, payment.KeyChildPayment)
	require.NoError(t, err)
	// Distinct amounts keep otherwise identical payments apart
	f.nonce++
	tx, err := transaction.NewBuilder(
		f.ignis,
		typ,
		crypto.PublicKey(aliceSecret),
		f.ignis.OneCoin()+f.nonce,
		childFee,
		deadline,
		payment.NewChildPayment(),
	).
		Recipient(f.bob).
		Blockchain(f.env.Chain).
		Build(aliceSecret)
	require.NoError(t, err)
	require.NoError(t, f.pool.AddTransaction(tx))
	return tx
}

func (f *fixture) bundler(t *testing.T, cfg Config) *Bundler {
	t.Helper()
	if cfg.Chain == nil {
		cfg.Chain = f.ignis
	}
	if cfg.SecretPhrase == "" {
		cfg.SecretPhrase = bundlerSecret
	}
	b, err := newBundler(cfg)
	require.NoError(t, err)
	return b
}

type skips map[string]int

func (s skips) report(reason string, _ *transaction.Transaction, _ error) {
	s[reason]++
}

func TestOverpay(t *testing.T) {
	got, err := Overpay(300_000, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(300_000), got)

	got, err = Overpay(300_000, chain.ParentOneCoin/10)
	require.NoError(t, err)
	assert.Equal(t, int64(330_000), got)

	// Rounds the markup down
	got, err = Overpay(7, chain.ParentOneCoin/2)
	require.NoError(t, err)
	assert.Equal(t, int64(10), got)

	// The product overflows but the result still fits
	got, err = Overpay(1<<40, 1<<30)
	require.NoError(t, err)
	assert.Greater(t, got, int64(1<<40))

	_, err = Overpay(1<<62, chain.ParentOneCoin)
	assert.ErrorIs(t, err, common.ErrOverflow)

	_, err = Overpay(-1, 0)
	assert.ErrorIs(t, err, ErrInvalidSetting)
}

func TestNewBundlerRejectsBadSettings(t *testing.T) {
	registry := chain.DefaultRegistry()
	_, err := newBundler(Config{Chain: registry.Parent(), SecretPhrase: bundlerSecret})
	assert.ErrorIs(t, err, ErrParentChain)
	ignis, err := registry.ByName("ignis")
	require.NoError(t, err)
	_, err = newBundler(Config{Chain: ignis})
	assert.ErrorIs(t, err, ErrInvalidSetting)
	_, err = newBundler(Config{Chain: ignis, SecretPhrase: bundlerSecret, MinRate: -1})
	assert.ErrorIs(t, err, ErrInvalidSetting)
}

func TestBundleChildrenIntoOneBlock(t *testing.T) {
	f := newFixture(t, false)
	f.fund(t, bundlerSecret, 10*chain.ParentOneCoin)
	var children []*transaction.Transaction
	for range 3 {
		children = append(children, f.child(t, 100_000, 1440))
	}
	b := f.bundler(t, Config{MinRate: chain.ParentOneCoin})
	s := skips{}
	built, err := b.Bundle(f.ledger, f.pool, s.report)
	require.NoError(t, err)
	require.Len(t, built, 1)
	assert.Empty(t, s)

	tx := built[0]
	assert.Equal(t, int64(3*payment.ChildPaymentFee), tx.Fee())
	assert.Equal(t, b.AccountID(), tx.SenderID())
	assert.Equal(t, Deadline, tx.Deadline())
	cb, ok := tx.Attachment().(*nesting.ChildBlock)
	require.True(t, ok)
	assert.Equal(t, f.ignis.ID, cb.ChainID())
	require.Len(t, cb.FullHashes(), 3)
	for i, child := range children {
		assert.Equal(t, child.FullHash(), cb.FullHashes()[i])
	}
	assert.True(t, f.pool.Contains(tx.FullHash()))
	assert.Equal(t, tx.Fee(), b.CommittedFees())

	// The broadcast block now covers every child at the same fee
	built, err = b.Bundle(f.ledger, f.pool, s.report)
	require.NoError(t, err)
	assert.Empty(t, built)
	assert.Equal(t, 1, s[SkipCompetitor])
}

func TestBundleAppliesOverpay(t *testing.T) {
	f := newFixture(t, false)
	f.fund(t, bundlerSecret, 10*chain.ParentOneCoin)
	f.child(t, 100_000, 1440)
	f.child(t, 100_000, 1440)
	b := f.bundler(t, Config{OverpayRate: chain.ParentOneCoin / 4})
	built, err := b.Bundle(f.ledger, f.pool, nil)
	require.NoError(t, err)
	require.Len(t, built, 1)
	assert.Equal(t, int64(250_000), built[0].Fee())
}

func TestBundleSkipsLowRate(t *testing.T) {
	f := newFixture(t, false)
	f.fund(t, bundlerSecret, 10*chain.ParentOneCoin)
	f.child(t, 100_000, 1440)
	rich := f.child(t, 300_000, 1440)
	b := f.bundler(t, Config{MinRate: 2 * chain.ParentOneCoin})
	s := skips{}
	built, err := b.Bundle(f.ledger, f.pool, s.report)
	require.NoError(t, err)
	require.Len(t, built, 1)
	assert.Equal(t, 1, s[SkipRate])
	cb := built[0].Attachment().(*nesting.ChildBlock)
	assert.Equal(t, [][]byte{rich.FullHash()}, cb.FullHashes())
}

func TestBundleSkipsExpiringChildren(t *testing.T) {
	f := newFixture(t, false)
	f.fund(t, bundlerSecret, 10*chain.ParentOneCoin)
	f.child(t, 100_000, Deadline-1)
	b := f.bundler(t, Config{})
	s := skips{}
	built, err := b.Bundle(f.ledger, f.pool, s.report)
	require.NoError(t, err)
	assert.Empty(t, built)
	assert.Equal(t, 1, s[SkipExpiring])
}

func TestBundleRespectsFeeLimit(t *testing.T) {
	f := newFixture(t, false)
	f.fund(t, bundlerSecret, 10*chain.ParentOneCoin)
	for range 3 {
		f.child(t, 100_000, 1440)
	}
	b := f.bundler(t, Config{TotalFeesLimit: 2 * payment.ChildPaymentFee})
	s := skips{}
	built, err := b.Bundle(f.ledger, f.pool, s.report)
	require.NoError(t, err)
	require.Len(t, built, 1)
	assert.Len(t, built[0].Attachment().(*nesting.ChildBlock).FullHashes(), 2)
	assert.Equal(t, 1, s[SkipBudget])
	assert.Equal(t, int64(2*payment.ChildPaymentFee), b.CommittedFees())

	// The limit is exhausted for good
	s = skips{}
	built, err = b.Bundle(f.ledger, f.pool, s.report)
	require.NoError(t, err)
	assert.Empty(t, built)
	assert.Equal(t, 3, s[SkipBudget])
}

func TestBundleNeedsFunds(t *testing.T) {
	f := newFixture(t, false)
	f.fund(t, bundlerSecret, payment.ChildPaymentFee)
	f.child(t, 100_000, 1440)
	f.child(t, 100_000, 1440)
	b := f.bundler(t, Config{})
	s := skips{}
	built, err := b.Bundle(f.ledger, f.pool, s.report)
	require.NoError(t, err)
	assert.Empty(t, built)
	assert.Equal(t, 1, s[SkipBalance])
	assert.Zero(t, b.CommittedFees())
}

func TestBundleOutbidsLowerCompetitor(t *testing.T) {
	f := newFixture(t, false)
	f.fund(t, bundlerSecret, 10*chain.ParentOneCoin)
	f.fund(t, rivalSecret, 10*chain.ParentOneCoin)
	f.child(t, 100_000, 1440)
	rival := f.bundler(t, Config{SecretPhrase: rivalSecret})
	built, err := rival.Bundle(f.ledger, f.pool, nil)
	require.NoError(t, err)
	require.Len(t, built, 1)

	// Same fee: the rival's block stands
	same := f.bundler(t, Config{})
	s := skips{}
	built, err = same.Bundle(f.ledger, f.pool, s.report)
	require.NoError(t, err)
	assert.Empty(t, built)
	assert.Equal(t, 1, s[SkipCompetitor])

	// A markup outbids it and replaces it in the pool
	higher := f.bundler(t, Config{OverpayRate: chain.ParentOneCoin})
	built, err = higher.Bundle(f.ledger, f.pool, nil)
	require.NoError(t, err)
	require.Len(t, built, 1)
	assert.Equal(t, int64(2*payment.ChildPaymentFee), built[0].Fee())
}

func TestRegistryAddRemove(t *testing.T) {
	f := newFixture(t, false)
	r := NewRegistry(RegistryConfig{Ledger: f.ledger, Pool: f.pool, PromRegistry: prometheus.NewRegistry()})
	t.Cleanup(r.Stop)
	b, err := r.Add(Config{Chain: f.ignis, SecretPhrase: bundlerSecret})
	require.NoError(t, err)
	_, err = r.Add(Config{Chain: f.ignis, SecretPhrase: bundlerSecret})
	assert.ErrorIs(t, err, ErrBundlerExists)
	aeur, err := f.env.Chains().ByName("AEUR")
	require.NoError(t, err)
	_, err = r.Add(Config{Chain: aeur, SecretPhrase: bundlerSecret})
	require.NoError(t, err)

	got, ok := r.Get(f.ignis.ID, b.AccountID())
	require.True(t, ok)
	assert.Same(t, b, got)
	assert.Len(t, r.All(), 2)
	assert.Len(t, r.ForChain(f.ignis.ID), 1)
	assert.InDelta(t, 2, testutil.ToFloat64(r.metrics.active), 0)

	assert.True(t, r.Remove(f.ignis.ID, b.AccountID()))
	assert.False(t, r.Remove(f.ignis.ID, b.AccountID()))
	_, ok = r.Get(f.ignis.ID, b.AccountID())
	assert.False(t, ok)
	assert.InDelta(t, 1, testutil.ToFloat64(r.metrics.active), 0)

	r.Stop()
	_, err = r.Add(Config{Chain: f.ignis, SecretPhrase: rivalSecret})
	assert.ErrorIs(t, err, ErrRegistryStopped)
}

func TestRegistryBundlesOnEvents(t *testing.T) {
	f := newFixture(t, true)
	f.fund(t, bundlerSecret, 10*chain.ParentOneCoin)
	for range 3 {
		f.child(t, 100_000, 1440)
	}
	_, bundles := f.bus.Subscribe(event.BundleBroadcastEventType)
	r := NewRegistry(RegistryConfig{
		Ledger:       f.ledger,
		Pool:         f.pool,
		EventBus:     f.bus,
		PromRegistry: prometheus.NewRegistry(),
	})
	t.Cleanup(r.Stop)
	b, err := r.Add(Config{Chain: f.ignis, SecretPhrase: bundlerSecret})
	require.NoError(t, err)

	data := testwait.RequireEvent[event.BundleBroadcastEvent](t, bundles, 2*time.Second)
	assert.Equal(t, f.ignis.ID, data.ChainID)
	assert.Equal(t, b.AccountID(), data.Account)
	assert.Equal(t, 3, data.Children)
	assert.Equal(t, int64(3*payment.ChildPaymentFee), data.Fee)
	assert.InDelta(t, 1, testutil.ToFloat64(r.metrics.bundles.WithLabelValues("IGNIS")), 0)

	// A new block triggers another pass, which finds its own block pending
	f.bus.Publish(event.BlockAppliedEventType, event.NewEvent(event.BlockAppliedEventType, event.BlockAppliedEvent{Height: 10}))
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(r.metrics.skipped.WithLabelValues(SkipCompetitor)) >= 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, int64(3*payment.ChildPaymentFee), b.CommittedFees())
}

// blockingPool holds every pass inside Iterate until released
type blockingPool struct {
	entered chan struct{}
	release chan struct{}
	once    sync.Once
	calls   atomic.Int32
	active  atomic.Int32
	maxSeen atomic.Int32
}

func (p *blockingPool) Iterate(int32, func(*transaction.Transaction) bool) iter.Seq[*transaction.Transaction] {
	return func(func(*transaction.Transaction) bool) {
		p.calls.Add(1)
		n := p.active.Add(1)
		defer p.active.Add(-1)
		for {
			seen := p.maxSeen.Load()
			if n <= seen || p.maxSeen.CompareAndSwap(seen, n) {
				break
			}
		}
		p.once.Do(func() { close(p.entered) })
		<-p.release
	}
}

func (p *blockingPool) Contains([]byte) bool                     { return false }
func (p *blockingPool) Broadcast(*transaction.Transaction) error { return nil }

func TestRegistryCoalescesTriggers(t *testing.T) {
	f := newFixture(t, false)
	pool := &blockingPool{entered: make(chan struct{}), release: make(chan struct{})}
	r := NewRegistry(RegistryConfig{
		Ledger:     f.ledger,
		Pool:       pool,
		WorkerPool: WorkerPoolConfig{WorkerPoolSize: 4, TaskQueueSize: 8},
	})
	t.Cleanup(r.Stop)
	_, err := r.Add(Config{Chain: f.ignis, SecretPhrase: bundlerSecret})
	require.NoError(t, err)

	testwait.RequireReceive(t, pool.entered, 2*time.Second, "first pass")
	for range 5 {
		r.Trigger(f.ignis.ID)
	}
	// Other chains have no bundler
	r.Trigger(f.parent.ID)
	close(pool.release)

	testwait.WaitForCondition(t, func() bool {
		return pool.calls.Load() == 2
	}, 2*time.Second, "follow-up pass")
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(2), pool.calls.Load())
	assert.Equal(t, int32(1), pool.maxSeen.Load())
}

func TestRegistryDefersPassesWhenQueueFull(t *testing.T) {
	f := newFixture(t, false)
	pool := &blockingPool{entered: make(chan struct{}), release: make(chan struct{})}
	r := NewRegistry(RegistryConfig{
		Ledger:     f.ledger,
		Pool:       pool,
		WorkerPool: WorkerPoolConfig{WorkerPoolSize: 1, TaskQueueSize: 1},
	})
	t.Cleanup(r.Stop)
	_, err := r.Add(Config{Chain: f.ignis, SecretPhrase: bundlerSecret})
	require.NoError(t, err)
	testwait.RequireReceive(t, pool.entered, 2*time.Second, "first pass")

	// The second bundler fills the queue and the third overflows it
	_, err = r.Add(Config{Chain: f.ignis, SecretPhrase: rivalSecret})
	require.NoError(t, err)
	aeur, err := f.env.Chains().ByName("AEUR")
	require.NoError(t, err)
	_, err = r.Add(Config{Chain: aeur, SecretPhrase: bundlerSecret})
	require.NoError(t, err)
	// A trigger for the running bundler also overflows once its pass ends
	r.Trigger(aeur.ID)
	r.Trigger(f.ignis.ID)
	assert.InDelta(t, 1, testutil.ToFloat64(r.metrics.skipped.WithLabelValues("queue_full")), 0)
	close(pool.release)

	testwait.WaitForCondition(t, func() bool {
		return pool.calls.Load() == 4
	}, 2*time.Second, "deferred passes")
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(4), pool.calls.Load())
	assert.Equal(t, int32(1), pool.maxSeen.Load())
	r.taskMu.Lock()
	assert.Empty(t, r.overflow)
	r.taskMu.Unlock()
}
