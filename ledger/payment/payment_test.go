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

package payment_test

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blinklabs-io/strata/ledger/appendix"
	"github.com/blinklabs-io/strata/ledger/chain"
	"github.com/blinklabs-io/strata/ledger/common"
	"github.com/blinklabs-io/strata/ledger/crypto"
	"github.com/blinklabs-io/strata/ledger/payment"
	"github.com/blinklabs-io/strata/ledger/state"
	"github.com/blinklabs-io/strata/ledger/transaction"
	"github.com/blinklabs-io/strata/ledger/txtype"
)

const secret = "payment test secret"

type harness struct {
	env   *state.MemoryEnv
	types *txtype.Table
	codec *transaction.Codec
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	types, err := txtype.NewTable(append(payment.ParentTypes(), payment.ChildTypes()...)...)
	require.NoError(t, err)
	env := state.NewMemoryEnv(chain.DefaultRegistry())
	for i := range 5 {
		env.Chain.AddBlock(uint64(10 + i))
	}
	env.Chain.SetNow(1000)
	return &harness{
		env:   env,
		types: types,
		codec: transaction.NewCodec(env.Registry, types, appendix.DefaultRegistry()),
	}
}

func (h *harness) build(
	t *testing.T,
	c *chain.Chain,
	key txtype.Key,
	amount int64,
	recipient uint64,
	att appendix.Attachment,
	apps ...appendix.Appendix,
) *transaction.Transaction {
	t.Helper()
	typ, err := h.types.Lookup(c.IsParent(), key)
	require.NoError(t, err)
	b := transaction.NewBuilder(c, typ, crypto.PublicKey(secret), amount, chain.ParentOneCoin, 60, att).
		Recipient(recipient).
		Blockchain(h.env.Chain)
	for _, a := range apps {
		b.Appendix(a)
	}
	tx, err := b.Build(secret)
	require.NoError(t, err)
	return tx
}

func (h *harness) ignis(t *testing.T) *chain.Chain {
	t.Helper()
	c, err := h.env.Chains().Child(2)
	require.NoError(t, err)
	return c
}

func TestTypeCodeSpaces(t *testing.T) {
	for _, typ := range payment.ParentTypes() {
		assert.True(t, typ.IsParent(), typ.String())
	}
	for _, typ := range payment.ChildTypes() {
		assert.False(t, typ.IsParent(), typ.String())
	}
}

func TestArbitraryMessage(t *testing.T) {
	h := newHarness(t)
	empty := h.build(t, h.ignis(t), payment.KeyArbitraryMessage, 0, 0, payment.NewArbitraryMessage())
	err := empty.Validate(h.env)
	assert.True(t, common.IsNotValid(err))

	withMsg := h.build(
		t,
		h.ignis(t),
		payment.KeyArbitraryMessage,
		0,
		0,
		payment.NewArbitraryMessage(),
		appendix.NewTextMessage("hello"),
	)
	require.NoError(t, withMsg.Validate(h.env))
}

func TestAccountInfo(t *testing.T) {
	h := newHarness(t)
	info := payment.NewAccountInfo("  alice ", "a description")
	tx := h.build(t, h.ignis(t), payment.KeyAccountInfo, 0, 0, info)
	require.NoError(t, tx.Validate(h.env))

	parsed, err := h.codec.Parse(tx.Bytes())
	require.NoError(t, err)
	got, ok := parsed.Attachment().(*payment.AccountInfo)
	require.True(t, ok)
	assert.Equal(t, "alice", got.AccountName())
	assert.Equal(t, "a description", got.Description())

	require.NoError(t, h.env.BalanceMap[2].CreditGenesis(tx.SenderID(), 10*chain.ParentOneCoin))
	require.NoError(t, tx.Apply(h.env))
	stored, err := h.env.Accounts().AccountInfo(tx.SenderID())
	require.NoError(t, err)
	assert.Equal(t, "alice", stored.Name)

	dups := txtype.NewDuplicates()
	assert.False(t, tx.IsDuplicate(dups))
	assert.True(t, tx.IsDuplicate(dups))

	long := h.build(t, h.ignis(t), payment.KeyAccountInfo, 0, 0,
		payment.NewAccountInfo(strings.Repeat("x", payment.MaxAccountNameLength+1), ""))
	assert.True(t, common.IsNotValid(long.Validate(h.env)))
}

func TestAccountInfoJSONNameLength(t *testing.T) {
	h := newHarness(t)
	tx := h.build(t, h.ignis(t), payment.KeyAccountInfo, 0, 0, payment.NewAccountInfo("alice", ""))
	data, err := json.Marshal(tx.JSON())
	require.NoError(t, err)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	fromJSON, err := h.codec.ParseJSON(decoded)
	require.NoError(t, err)
	assert.Equal(t, tx.Bytes(), fromJSON.Bytes())

	att, ok := decoded["attachment"].(map[string]any)
	require.True(t, ok)
	att["name"] = strings.Repeat("x", 300)
	_, err = h.codec.ParseJSON(decoded)
	require.Error(t, err)
	assert.True(t, common.IsNotValid(err))
}

func TestLeasing(t *testing.T) {
	h := newHarness(t)
	parent := h.env.Chains().Parent()
	lessee := common.AccountID(crypto.PublicKey("lessee"))

	short := h.build(t, parent, payment.KeyLeasing, 0, lessee, payment.NewLeasing(10))
	assert.True(t, common.IsNotValid(short.Validate(h.env)))

	self := h.build(t, parent, payment.KeyLeasing, 0, common.AccountID(crypto.PublicKey(secret)), payment.NewLeasing(1440))
	assert.True(t, common.IsNotValid(self.Validate(h.env)))

	tx := h.build(t, parent, payment.KeyLeasing, 0, lessee, payment.NewLeasing(2000))
	require.NoError(t, tx.Validate(h.env))
	require.NoError(t, h.env.BalanceMap[parent.ID].CreditGenesis(tx.SenderID(), 10*chain.ParentOneCoin))
	require.NoError(t, tx.Apply(h.env))
	lease, err := h.env.Accounts().Lease(tx.SenderID())
	require.NoError(t, err)
	assert.Equal(t, lessee, lease.Lessee)
	assert.Equal(t, int32(5+payment.LeasingDelay), lease.FromHeight)
	assert.Equal(t, int32(5+payment.LeasingDelay+2000), lease.ToHeight)
}

func TestPaymentAmount(t *testing.T) {
	h := newHarness(t)
	bob := common.AccountID(crypto.PublicKey("bob"))
	zero := h.build(t, h.env.Chains().Parent(), payment.KeyParentPayment, 0, bob, payment.NewParentPayment())
	assert.True(t, common.IsNotValid(zero.Validate(h.env)))
	ok := h.build(t, h.env.Chains().Parent(), payment.KeyParentPayment, 7, bob, payment.NewParentPayment())
	require.NoError(t, ok.Validate(h.env))
}
