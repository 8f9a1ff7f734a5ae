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

package nesting_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

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
	aliceSecret  = "alice nesting secret"
	forgerSecret = "forger nesting secret"
)

// resolverEnv resolves children from a pending set, then from the store
type resolverEnv struct {
	*state.MemoryEnv
	codec   *transaction.Codec
	pending map[string]*transaction.Transaction
}

func (e *resolverEnv) ResolveChild(c *chain.Chain, fullHash []byte) (*transaction.Transaction, error) {
	if tx, ok := e.pending[string(fullHash)]; ok {
		return tx, nil
	}
	rec, err := e.Transactions(c).FindTransaction(fullHash, e.Chain.Height())
	if err != nil {
		return nil, err
	}
	return e.codec.FromRecord(rec)
}

type fixture struct {
	env   *resolverEnv
	types *txtype.Table
	ignis *chain.Chain
	bob   uint64
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	registry := chain.DefaultRegistry()
	types, err := txtype.NewTable(
		append(append(payment.ParentTypes(), nesting.Type()), payment.ChildTypes()...)...,
	)
	require.NoError(t, err)
	mem := state.NewMemoryEnv(registry)
	for i := range 10 {
		mem.Chain.AddBlock(uint64(500 + i))
	}
	mem.Chain.SetNow(20_000)
	ignis, err := registry.Child(2)
	require.NoError(t, err)
	return &fixture{
		env: &resolverEnv{
			MemoryEnv: mem,
			codec:     transaction.NewCodec(registry, types, appendix.DefaultRegistry()),
			pending:   make(map[string]*transaction.Transaction),
		},
		types: types,
		ignis: ignis,
		bob:   common.AccountID(crypto.PublicKey("bob")),
	}
}

func (f *fixture) child(t *testing.T, amount int64, deadline int16) *transaction.Transaction {
	t.Helper()
	typ, err := f.types.Lookup(false, payment.KeyChildPayment)
	require.NoError(t, err)
	tx, err := transaction.NewBuilder(
		f.ignis,
		typ,
		crypto.PublicKey(aliceSecret),
		amount,
		100_000,
		deadline,
		payment.NewChildPayment(),
	).
		Recipient(f.bob).
		Blockchain(f.env.Chain).
		Build(aliceSecret)
	require.NoError(t, err)
	f.env.pending[string(tx.FullHash())] = tx
	return tx
}

func (f *fixture) childBlock(t *testing.T, children ...*transaction.Transaction) *transaction.Transaction {
	t.Helper()
	typ, err := f.types.Lookup(true, nesting.Key)
	require.NoError(t, err)
	tx, err := transaction.NewBuilder(
		f.env.Chains().Parent(),
		typ,
		crypto.PublicKey(forgerSecret),
		0,
		0,
		60,
		nesting.NewChildBlock(f.ignis, children, nil),
	).
		Blockchain(f.env.Chain).
		Build(forgerSecret)
	require.NoError(t, err)
	return tx
}

func TestChildBlockFeeIsSumOfChildren(t *testing.T) {
	f := newFixture(t)
	tx := f.childBlock(t, f.child(t, 10, 1440), f.child(t, 20, 1440), f.child(t, 30, 1440))
	assert.Equal(t, int64(3*payment.ChildPaymentFee), tx.Fee())
	assert.Equal(t, int64(300_000), tx.Fee())
	require.NoError(t, tx.Validate(f.env))
}

func TestChildBlockWire(t *testing.T) {
	f := newFixture(t)
	children := []*transaction.Transaction{f.child(t, 10, 1440), f.child(t, 20, 1440)}
	tx := f.childBlock(t, children...)
	cb := tx.Attachment().(*nesting.ChildBlock)
	assert.Equal(t, cb.Size()+2*common.HashSize, cb.FullSize())
	assert.Equal(t, crypto.Sha256(children[0].FullHash(), children[1].FullHash()), cb.Hash())

	parsed, err := f.env.codec.Parse(tx.Bytes())
	require.NoError(t, err)
	assert.Equal(t, tx.ID(), parsed.ID())
	pcb := parsed.Attachment().(*nesting.ChildBlock)
	assert.False(t, pcb.HasPrunableData())
	assert.Nil(t, pcb.Children())

	// Without the prunable payload the children cannot be found yet
	err = parsed.Validate(f.env)
	require.Error(t, err)
	assert.False(t, common.IsNotValid(err))

	require.NoError(t, f.env.Prunables().PutPrunable(cb.Hash(), cb.PrunableData()))
	require.NoError(t, parsed.Validate(f.env))
	assert.Len(t, pcb.Children(), 2)
	assert.Equal(t, tx.Fee(), parsed.Fee())

	data, err := json.Marshal(tx.JSON())
	require.NoError(t, err)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	fromJSON, err := f.env.codec.ParseJSON(decoded)
	require.NoError(t, err)
	assert.Equal(t, tx.Bytes(), fromJSON.Bytes())
	assert.Len(t, fromJSON.Attachment().(*nesting.ChildBlock).FullHashes(), 2)
}

func TestChildExpiringBeforeContainer(t *testing.T) {
	f := newFixture(t)
	short := f.child(t, 10, 10)
	tx := f.childBlock(t, short)
	err := tx.Validate(f.env)
	require.Error(t, err)
	assert.True(t, common.IsNotValid(err))
}

func TestChildBlockRejectsConfirmedChild(t *testing.T) {
	f := newFixture(t)
	done := f.child(t, 10, 1440)
	done.SetBlock(3, 502, 0, 19_000)
	require.NoError(t, f.env.Transactions(f.ignis).SaveTransaction(done.Record()))
	tx := f.childBlock(t, done, f.child(t, 20, 1440))
	assert.True(t, common.IsNotValid(tx.Validate(f.env)))
}

func TestChildBlockUnknownChain(t *testing.T) {
	f := newFixture(t)
	typ, err := f.types.Lookup(true, nesting.Key)
	require.NoError(t, err)
	child := f.child(t, 10, 1440)
	tx, err := transaction.NewBuilder(
		f.env.Chains().Parent(),
		typ,
		crypto.PublicKey(forgerSecret),
		0,
		chain.ParentOneCoin,
		60,
		nesting.NewChildBlock(f.env.Chains().Parent(), []*transaction.Transaction{child}, nil),
	).
		Blockchain(f.env.Chain).
		Build(forgerSecret)
	require.NoError(t, err)
	assert.True(t, common.IsNotValid(tx.Validate(f.env)))
}

func TestChildBlockApply(t *testing.T) {
	f := newFixture(t)
	a := f.child(t, 10*f.ignis.OneCoin(), 1440)
	b := f.child(t, 5*f.ignis.OneCoin(), 1440)
	alice := a.SenderID()
	require.NoError(t, f.env.BalanceMap[f.ignis.ID].CreditGenesis(alice, 100*f.ignis.OneCoin()))
	for _, child := range []*transaction.Transaction{a, b} {
		ok, err := child.ApplyUnconfirmed(f.env)
		require.NoError(t, err)
		require.True(t, ok)
	}

	tx := f.childBlock(t, a, b)
	parent := f.env.Chains().Parent()
	require.NoError(t, f.env.BalanceMap[parent.ID].CreditGenesis(tx.SenderID(), chain.ParentOneCoin))
	ok, err := tx.ApplyUnconfirmed(f.env)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, tx.Apply(f.env))

	bob, err := f.env.BalanceMap[f.ignis.ID].Balance(f.bob)
	require.NoError(t, err)
	assert.Equal(t, 15*f.ignis.OneCoin(), bob.Confirmed)

	forger, err := f.env.BalanceMap[f.ignis.ID].Balance(tx.SenderID())
	require.NoError(t, err)
	assert.Equal(t, a.Fee()+b.Fee(), forger.Confirmed)
	assert.Equal(t, a.Fee()+b.Fee(), forger.Unconfirmed)

	sender, err := f.env.BalanceMap[f.ignis.ID].Balance(alice)
	require.NoError(t, err)
	assert.Equal(t, sender.Confirmed, sender.Unconfirmed)

	assert.Equal(t, tx.ID(), a.ParentID())
	assert.Equal(t, tx.ID(), b.ParentID())
	cb := tx.Attachment().(*nesting.ChildBlock)
	stored, err := f.env.Prunables().GetPrunable(cb.Hash())
	require.NoError(t, err)
	assert.Equal(t, cb.PrunableData(), stored)
}

func TestChildBlockOverlapAndDuplicates(t *testing.T) {
	f := newFixture(t)
	a := f.child(t, 10, 1440)
	b := f.child(t, 20, 1440)
	c := f.child(t, 30, 1440)
	first := f.childBlock(t, a, b)
	second := f.childBlock(t, b, c)
	third := f.childBlock(t, c)
	typ := first.Type()
	assert.True(t, typ.Overlap(first, second))
	assert.False(t, typ.Overlap(first, third))

	dups := txtype.NewDuplicates()
	assert.False(t, first.IsDuplicate(dups))
	assert.True(t, third.IsDuplicate(dups))

	pending := txtype.NewDuplicates()
	assert.False(t, first.IsUnconfirmedDuplicate(pending))
	again := f.childBlock(t, a, b)
	assert.True(t, again.IsUnconfirmedDuplicate(pending))
	assert.False(t, third.IsUnconfirmedDuplicate(pending))
}

func TestResolveWithoutResolver(t *testing.T) {
	f := newFixture(t)
	tx := f.childBlock(t, f.child(t, 10, 1440))
	parsed, err := f.env.codec.Parse(tx.Bytes())
	require.NoError(t, err)
	cb := tx.Attachment().(*nesting.ChildBlock)
	require.NoError(t, f.env.Prunables().PutPrunable(cb.Hash(), cb.PrunableData()))
	_, err = parsed.Attachment().(*nesting.ChildBlock).Resolve(f.env.MemoryEnv)
	assert.ErrorIs(t, err, nesting.ErrNoResolver)
}
