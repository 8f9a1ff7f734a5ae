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

package mempool

import (
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/blinklabs-io/strata/event"
	"github.com/blinklabs-io/strata/ledger/appendix"
	"github.com/blinklabs-io/strata/ledger/chain"
	"github.com/blinklabs-io/strata/ledger/common"
	"github.com/blinklabs-io/strata/ledger/crypto"
	"github.com/blinklabs-io/strata/ledger/nesting"
	"github.com/blinklabs-io/strata/ledger/payment"
	"github.com/blinklabs-io/strata/ledger/state"
	"github.com/blinklabs-io/strata/ledger/transaction"
	"github.com/blinklabs-io/strata/ledger/txtype"
)

const (
	aliceSecret  = "alice pool secret"
	bobSecret    = "bob pool secret"
	forgerSecret = "forger pool secret"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// testEnv resolves children from the pool under test, then from the store
type testEnv struct {
	*state.MemoryEnv
	codec *transaction.Codec
	pool  *Mempool
}

func (e *testEnv) ResolveChild(c *chain.Chain, fullHash []byte) (*transaction.Transaction, error) {
	if e.pool != nil {
		if tx, ok := e.pool.FindByFullHash(c.ID, fullHash); ok {
			return tx, nil
		}
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
	env   *testEnv
	pool  *Mempool
	bus   *event.EventBus
	types *txtype.Table
	ignis *chain.Chain
	alice uint64
	bob   uint64
}

func newFixture(t *testing.T, capacity int64, withBus bool) *fixture {
	t.Helper()
	registry := chain.DefaultRegistry()
	types, err := txtype.NewTable(
		append(append(payment.ParentTypes(), nesting.Type()), payment.ChildTypes()...)...,
	)
	require.NoError(t, err)
	mem := state.NewMemoryEnv(registry)
	for i := range 10 {
		mem.Chain.AddBlock(uint64(700 + i))
	}
	mem.Chain.SetNow(20_000)
	ignis, err := registry.ByName("IGNIS")
	require.NoError(t, err)
	env := &testEnv{
		MemoryEnv: mem,
		codec:     transaction.NewCodec(registry, types, appendix.DefaultRegistry()),
	}
	f := &fixture{
		env:   env,
		types: types,
		ignis: ignis,
		alice: common.AccountID(crypto.PublicKey(aliceSecret)),
		bob:   common.AccountID(crypto.PublicKey(bobSecret)),
	}
	if withBus {
		f.bus = event.NewEventBus(nil, nil)
		t.Cleanup(f.bus.Stop)
	}
	f.pool = NewMempool(MempoolConfig{
		Ledger:          &testLedger{env: env},
		EventBus:        f.bus,
		PromRegistry:    prometheus.NewRegistry(),
		MempoolCapacity: capacity,
	})
	t.Cleanup(f.pool.Stop)
	env.pool = f.pool
	require.NoError(t, mem.BalanceMap[ignis.ID].CreditGenesis(f.alice, 1000*ignis.OneCoin()))
	forger := common.AccountID(crypto.PublicKey(forgerSecret))
	require.NoError(t, mem.BalanceMap[registry.Parent().ID].CreditGenesis(forger, 100*chain.ParentOneCoin))
	return f
}

func (f *fixture) child(t *testing.T, amount int64) *transaction.Transaction {
	t.Helper()
	typ, err := f.types.Lookup(false, payment.KeyChildPayment)
	require.NoError(t, err)
	tx, err := transaction.NewBuilder(
		f.ignis,
		typ,
		crypto.PublicKey(aliceSecret),
		amount,
		100_000,
		1440,
		payment.NewChildPayment(),
	).
		Recipient(f.bob).
		Blockchain(f.env.Chain).
		Build(aliceSecret)
	require.NoError(t, err)
	return tx
}

func (f *fixture) childBlock(t *testing.T, fee int64, children ...*transaction.Transaction) *transaction.Transaction {
	t.Helper()
	typ, err := f.types.Lookup(true, nesting.Key)
	require.NoError(t, err)
	tx, err := transaction.NewBuilder(
		f.env.Chains().Parent(),
		typ,
		crypto.PublicKey(forgerSecret),
		0,
		fee,
		60,
		nesting.NewChildBlock(f.ignis, children, nil),
	).
		Blockchain(f.env.Chain).
		Build(forgerSecret)
	require.NoError(t, err)
	return tx
}

func (f *fixture) balance(t *testing.T, c *chain.Chain, account uint64) state.Balance {
	t.Helper()
	bal, err := f.env.Balances(c).Balance(account)
	require.NoError(t, err)
	return bal
}

func TestAddTransactionReservesFunds(t *testing.T) {
	f := newFixture(t, 0, true)
	_, added := f.bus.Subscribe(event.TransactionAddedEventType)
	tx := f.child(t, 10*f.ignis.OneCoin())
	require.NoError(t, f.pool.AddTransaction(tx))

	bal := f.balance(t, f.ignis, f.alice)
	assert.Equal(t, 1000*f.ignis.OneCoin(), bal.Confirmed)
	assert.Equal(t, 990*f.ignis.OneCoin()-tx.Fee(), bal.Unconfirmed)

	got, ok := f.pool.GetTransaction(tx.ID())
	require.True(t, ok)
	assert.Same(t, tx, got)
	assert.True(t, f.pool.Contains(tx.FullHash()))
	_, ok = f.pool.FindByFullHash(f.env.Chains().Parent().ID, tx.FullHash())
	assert.False(t, ok)

	select {
	case evt := <-added:
		data := evt.Data.(event.TransactionAddedEvent)
		assert.Equal(t, f.ignis.ID, data.ChainID)
		assert.Equal(t, tx.ID(), data.TransactionID)
		assert.Equal(t, tx.Fee(), data.Fee)
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for add event")
	}
	assert.InDelta(t, 1, testutil.ToFloat64(f.pool.metrics.txsInMempool), 0)
	assert.InDelta(t, float64(tx.FullSize()), testutil.ToFloat64(f.pool.metrics.mempoolBytes), 0)
}

func TestAddTransactionBytes(t *testing.T) {
	f := newFixture(t, 0, false)
	tx := f.child(t, f.ignis.OneCoin())
	got, err := f.pool.AddTransactionBytes(tx.Bytes())
	require.NoError(t, err)
	assert.Equal(t, tx.ID(), got.ID())
	_, err = f.pool.AddTransactionBytes([]byte{1, 2, 3})
	require.Error(t, err)
}

func TestResubmissionUpdatesLastSeen(t *testing.T) {
	f := newFixture(t, 0, false)
	tx := f.child(t, f.ignis.OneCoin())
	require.NoError(t, f.pool.AddTransaction(tx))
	first := f.pool.Transactions()[0].LastSeen
	time.Sleep(5 * time.Millisecond)
	require.NoError(t, f.pool.AddTransaction(tx))
	entries := f.pool.Transactions()
	require.Len(t, entries, 1)
	assert.True(t, entries[0].LastSeen.After(first))
	// Reserved once
	assert.Equal(t, 999*f.ignis.OneCoin()-tx.Fee(), f.balance(t, f.ignis, f.alice).Unconfirmed)
}

func TestInsufficientFunds(t *testing.T) {
	f := newFixture(t, 0, false)
	tx := f.child(t, 2000*f.ignis.OneCoin())
	err := f.pool.AddTransaction(tx)
	require.ErrorIs(t, err, ErrInsufficientFunds)
	assert.True(t, common.IsNotCurrentlyValid(err))
	assert.Equal(t, 1000*f.ignis.OneCoin(), f.balance(t, f.ignis, f.alice).Unconfirmed)
	assert.InDelta(t, 1, testutil.ToFloat64(f.pool.metrics.txsRejected.WithLabelValues("funds")), 0)
}

func TestUnsignedAndExpired(t *testing.T) {
	f := newFixture(t, 0, false)
	typ, err := f.types.Lookup(false, payment.KeyChildPayment)
	require.NoError(t, err)
	unsigned, err := transaction.NewBuilder(
		f.ignis,
		typ,
		crypto.PublicKey(aliceSecret),
		1,
		100_000,
		1440,
		payment.NewChildPayment(),
	).
		Recipient(f.bob).
		Blockchain(f.env.Chain).
		Build("")
	require.NoError(t, err)
	err = f.pool.AddTransaction(unsigned)
	require.ErrorIs(t, err, transaction.ErrNotSigned)
	assert.True(t, common.IsNotValid(err))

	tx := f.child(t, 1)
	f.env.Chain.SetNow(tx.Expiration() + 1)
	err = f.pool.AddTransaction(tx)
	require.Error(t, err)
	assert.True(t, common.IsNotCurrentlyValid(err))
}

func TestPoolFull(t *testing.T) {
	f := newFixture(t, 0, false)
	first := f.child(t, 1)
	f.pool.config.MempoolCapacity = int64(first.FullSize())
	require.NoError(t, f.pool.AddTransaction(first))
	err := f.pool.AddTransaction(f.child(t, 2))
	require.ErrorIs(t, err, ErrPoolFull)
	var fullErr *MempoolFullError
	require.ErrorAs(t, err, &fullErr)
	assert.Equal(t, first.FullSize(), fullErr.CurrentSize)
}

func TestOverlappingChildBlocks(t *testing.T) {
	f := newFixture(t, 0, false)
	parent := f.env.Chains().Parent()
	a := f.child(t, f.ignis.OneCoin())
	b := f.child(t, 2*f.ignis.OneCoin())
	require.NoError(t, f.pool.AddTransaction(a))
	require.NoError(t, f.pool.AddTransaction(b))

	first := f.childBlock(t, 3*payment.ChildPaymentFee, a)
	require.NoError(t, f.pool.AddTransaction(first))
	forger := first.SenderID()
	assert.Equal(t, 100*chain.ParentOneCoin-first.Fee(), f.balance(t, parent, forger).Unconfirmed)

	same := f.childBlock(t, first.Fee(), a, b)
	err := f.pool.AddTransaction(same)
	require.ErrorIs(t, err, ErrDuplicate)

	better := f.childBlock(t, same.Fee()+1, a, b)
	require.NoError(t, f.pool.AddTransaction(better))
	assert.False(t, f.pool.Contains(first.FullHash()))
	assert.True(t, f.pool.Contains(better.FullHash()))
	assert.Equal(t, 100*chain.ParentOneCoin-better.Fee(), f.balance(t, parent, forger).Unconfirmed)
}

func TestRemoveTransaction(t *testing.T) {
	f := newFixture(t, 0, true)
	_, removed := f.bus.Subscribe(event.TransactionRemovedEventType)
	tx := f.child(t, 5*f.ignis.OneCoin())
	require.NoError(t, f.pool.AddTransaction(tx))
	require.NoError(t, f.pool.RemoveTransaction(tx.ID()))
	assert.Equal(t, 1000*f.ignis.OneCoin(), f.balance(t, f.ignis, f.alice).Unconfirmed)
	require.ErrorIs(t, f.pool.RemoveTransaction(tx.ID()), ErrNotFound)
	select {
	case evt := <-removed:
		assert.False(t, evt.Data.(event.TransactionRemovedEvent).Confirmed)
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for remove event")
	}
}

func TestIterate(t *testing.T) {
	f := newFixture(t, 0, false)
	var txs []*transaction.Transaction
	for i := range 4 {
		tx := f.child(t, int64(i+1)*f.ignis.OneCoin())
		require.NoError(t, f.pool.AddTransaction(tx))
		txs = append(txs, tx)
	}
	all := slices.Collect(f.pool.Iterate(f.ignis.ID, nil))
	assert.Equal(t, txs, all)

	big := slices.Collect(f.pool.Iterate(f.ignis.ID, func(tx *transaction.Transaction) bool {
		return tx.Amount() > 2*f.ignis.OneCoin()
	}))
	assert.Equal(t, txs[2:], big)

	assert.Empty(t, slices.Collect(f.pool.Iterate(f.env.Chains().Parent().ID, nil)))

	var seen int
	for range f.pool.Iterate(f.ignis.ID, nil) {
		seen++
		if seen == 2 {
			break
		}
	}
	assert.Equal(t, 2, seen)
}

func TestConfirmKeepsReservation(t *testing.T) {
	f := newFixture(t, 0, false)
	a := f.child(t, f.ignis.OneCoin())
	b := f.child(t, 2*f.ignis.OneCoin())
	require.NoError(t, f.pool.AddTransaction(a))
	require.NoError(t, f.pool.AddTransaction(b))
	reserved := f.balance(t, f.ignis, f.alice).Unconfirmed

	require.NoError(t, f.pool.Confirm(func() ([]*transaction.Transaction, error) {
		return []*transaction.Transaction{a}, nil
	}))
	assert.False(t, f.pool.Contains(a.FullHash()))
	assert.True(t, f.pool.Contains(b.FullHash()))
	assert.Equal(t, reserved, f.balance(t, f.ignis, f.alice).Unconfirmed)

	failure := errors.New("block failed")
	err := f.pool.Confirm(func() ([]*transaction.Transaction, error) {
		return nil, failure
	})
	require.ErrorIs(t, err, failure)
	assert.True(t, f.pool.Contains(b.FullHash()))
}

func TestRevalidateOnBlockApplied(t *testing.T) {
	f := newFixture(t, 0, true)
	tx := f.child(t, f.ignis.OneCoin())
	require.NoError(t, f.pool.AddTransaction(tx))

	f.env.Chain.SetNow(tx.Expiration() + 1)
	f.bus.Publish(
		event.BlockAppliedEventType,
		event.NewEvent(event.BlockAppliedEventType, event.BlockAppliedEvent{Height: 11}),
	)
	require.Eventually(t, func() bool {
		return !f.pool.Contains(tx.FullHash())
	}, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		return f.balance(t, f.ignis, f.alice).Unconfirmed == 1000*f.ignis.OneCoin()
	}, time.Second, 5*time.Millisecond)
}

func TestBroadcastPublishesBytes(t *testing.T) {
	f := newFixture(t, 0, true)
	_, broadcast := f.bus.Subscribe(event.TransactionBroadcastEventType)
	tx := f.child(t, f.ignis.OneCoin())
	require.NoError(t, f.pool.Broadcast(tx))
	select {
	case evt := <-broadcast:
		assert.Equal(t, tx.Bytes(), evt.Data.(event.TransactionBroadcastEvent).Bytes)
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for broadcast event")
	}
	err := f.pool.Broadcast(f.child(t, 5000*f.ignis.OneCoin()))
	require.ErrorIs(t, err, ErrInsufficientFunds)
}
