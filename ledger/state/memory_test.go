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

package state_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blinklabs-io/strata/ledger/chain"
	"github.com/blinklabs-io/strata/ledger/common"
	"github.com/blinklabs-io/strata/ledger/crypto"
	"github.com/blinklabs-io/strata/ledger/state"
)

func TestMemoryBalances(t *testing.T) {
	b := state.NewMemoryBalances()
	assert.ErrorIs(t, b.AddToBoth(7, 10, 0), state.ErrNullEvent)
	require.NoError(t, b.CreditGenesis(7, 100))
	require.NoError(t, b.AddToUnconfirmed(7, -30, 1))
	bal, err := b.Balance(7)
	require.NoError(t, err)
	assert.Equal(t, state.Balance{Confirmed: 100, Unconfirmed: 70}, bal)
	require.NoError(t, b.AddToBalance(7, -30, 1))
	bal, _ = b.Balance(7)
	assert.Equal(t, state.Balance{Confirmed: 70, Unconfirmed: 70}, bal)
	assert.ErrorIs(t, b.AddToBoth(7, math.MaxInt64, 2), common.ErrOverflow)
	// A failed update leaves the balance untouched
	bal, _ = b.Balance(7)
	assert.Equal(t, int64(70), bal.Confirmed)
}

func TestMemoryTransactions(t *testing.T) {
	s := state.NewMemoryTransactions()
	hash := crypto.Sha256([]byte("tx"))
	require.NoError(t, s.SaveTransaction(state.Record{ID: 5, FullHash: hash, Height: 10}))
	assert.Error(t, s.SaveTransaction(state.Record{ID: 5, FullHash: hash, Height: 10}))
	ok, err := s.HasTransaction(hash, 9)
	require.NoError(t, err)
	assert.False(t, ok)
	ok, err = s.HasTransaction(hash, 10)
	require.NoError(t, err)
	assert.True(t, ok)
	_, err = s.FindTransactionByID(6, 100)
	assert.ErrorIs(t, err, state.ErrNotFound)
	r, err := s.FindTransactionByID(5, 100)
	require.NoError(t, err)
	assert.Equal(t, int32(10), r.Height)
}

func TestMemoryPublicKeys(t *testing.T) {
	k := state.NewMemoryPublicKeys()
	pub := crypto.PublicKey("alice")
	acct := common.AccountID(pub)
	assert.Error(t, k.SetPublicKey(acct+1, pub))
	require.NoError(t, k.SetPublicKey(acct, pub))
	got, err := k.PublicKey(acct)
	require.NoError(t, err)
	assert.Equal(t, pub, got)
}

func TestMemoryEnv(t *testing.T) {
	env := state.NewMemoryEnv(chain.DefaultRegistry())
	ignis, err := env.Chains().ByName("IGNIS")
	require.NoError(t, err)
	require.NoError(t, env.Balances(ignis).AddToBoth(1, 5, 9))
	bal, err := env.Balances(env.Chains().Parent()).Balance(1)
	require.NoError(t, err)
	assert.Equal(t, int64(0), bal.Confirmed)
	assert.Equal(t, int32(0), env.Blockchain().Height())
	assert.Equal(t, int32(1), env.Chain.AddBlock(42))
	id, ok := env.Blockchain().BlockIDAtHeight(1)
	assert.True(t, ok)
	assert.Equal(t, uint64(42), id)
	_, ok = env.Blockchain().BlockIDAtHeight(2)
	assert.False(t, ok)
}

func TestMemoryAccounts(t *testing.T) {
	a := state.NewMemoryAccounts()
	_, err := a.AccountInfo(1)
	assert.ErrorIs(t, err, state.ErrNotFound)
	require.NoError(t, a.SetAccountInfo(1, state.AccountInfo{Name: "alice"}))
	info, err := a.AccountInfo(1)
	require.NoError(t, err)
	assert.Equal(t, "alice", info.Name)

	assert.Error(t, a.SetLease(state.Lease{Lessor: 1, Lessee: 1}))
	require.NoError(t, a.SetLease(state.Lease{Lessor: 1, Lessee: 2, FromHeight: 10, ToHeight: 20}))
	l, err := a.Lease(1)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), l.Lessee)
}

func TestMemoryPollsFinishingAt(t *testing.T) {
	p := state.NewMemoryPhasingPolls()
	require.NoError(t, p.AddPoll(state.Poll{ChainID: 2, TransactionID: 9, FinishHeight: 5}))
	require.NoError(t, p.AddPoll(state.Poll{ChainID: 2, TransactionID: 3, FinishHeight: 5}))
	require.NoError(t, p.AddPoll(state.Poll{ChainID: 2, TransactionID: 4, FinishHeight: 6}))
	assert.Error(t, p.AddPoll(state.Poll{ChainID: 2, TransactionID: 4, FinishHeight: 6}))
	polls, err := p.FinishingAt(5)
	require.NoError(t, err)
	require.Len(t, polls, 2)
	assert.Equal(t, uint64(3), polls[0].TransactionID)
	p.AddVote(2, 3, 7)
	votes, err := p.Votes(2, 3)
	require.NoError(t, err)
	assert.Equal(t, int64(7), votes)
}

func TestMemoryAssets(t *testing.T) {
	a := state.NewMemoryAssets()
	_, err := a.Asset(7)
	assert.ErrorIs(t, err, state.ErrNotFound)
	require.NoError(t, a.AddAsset(state.Asset{ID: 7, Name: "gold", Quantity: 100}))
	assert.Error(t, a.AddAsset(state.Asset{ID: 7, Name: "lead", Quantity: 1}))

	require.NoError(t, a.Holdings(7).AddToBoth(1, 100, 7))
	bal, err := a.Holdings(7).Balance(1)
	require.NoError(t, err)
	assert.Equal(t, int64(100), bal.Confirmed)
	bal, err = a.Holdings(8).Balance(1)
	require.NoError(t, err)
	assert.Zero(t, bal.Confirmed)
}

func TestMemoryExchangeOrders(t *testing.T) {
	o := state.NewMemoryExchangeOrders()
	require.NoError(t, o.AddOrder(state.ExchangeOrder{ID: 1, ChainID: 2, ExchangeChainID: 3, Quantity: 5, Price: 20}))
	require.NoError(t, o.AddOrder(state.ExchangeOrder{ID: 2, ChainID: 2, ExchangeChainID: 3, Quantity: 5, Price: 10, Height: 2}))
	require.NoError(t, o.AddOrder(state.ExchangeOrder{ID: 3, ChainID: 2, ExchangeChainID: 3, Quantity: 5, Price: 10, Height: 1}))
	require.NoError(t, o.AddOrder(state.ExchangeOrder{ID: 4, ChainID: 3, ExchangeChainID: 2, Quantity: 5, Price: 10}))
	assert.Error(t, o.AddOrder(state.ExchangeOrder{ID: 4}))

	offers, err := o.Offers(2, 3)
	require.NoError(t, err)
	require.Len(t, offers, 3)
	assert.Equal(t, []uint64{3, 2, 1}, []uint64{offers[0].ID, offers[1].ID, offers[2].ID})

	require.NoError(t, o.SetQuantity(3, 2))
	got, err := o.Order(3)
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.Quantity)
	require.NoError(t, o.SetQuantity(3, 0))
	_, err = o.Order(3)
	assert.ErrorIs(t, err, state.ErrNotFound)
	assert.ErrorIs(t, o.SetQuantity(3, 1), state.ErrNotFound)
}
