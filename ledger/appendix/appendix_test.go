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

package appendix_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blinklabs-io/strata/ledger/appendix"
	"github.com/blinklabs-io/strata/ledger/chain"
	"github.com/blinklabs-io/strata/ledger/common"
	"github.com/blinklabs-io/strata/ledger/crypto"
	"github.com/blinklabs-io/strata/ledger/state"
)

const (
	aliceSecret = "alice secret phrase"
	bobSecret   = "bob secret phrase"
)

// testTx is a minimal transaction view
type testTx struct {
	chainID    int32
	timestamp  int32
	recipient  uint64
	id         uint64
	appendages []appendix.Appendix
}

func (t *testTx) ChainID() int32                  { return t.chainID }
func (t *testTx) TypeKey() appendix.TypeKey       { return appendix.TypeKey{Type: 1} }
func (t *testTx) Timestamp() int32                { return t.timestamp }
func (t *testTx) Expiration() int32               { return t.timestamp + 1440*60 }
func (t *testTx) SenderPublicKey() []byte         { return crypto.PublicKey(aliceSecret) }
func (t *testTx) SenderID() uint64                { return common.AccountID(t.SenderPublicKey()) }
func (t *testTx) RecipientID() uint64             { return t.recipient }
func (t *testTx) Amount() int64                   { return 0 }
func (t *testTx) Fee() int64                      { return 1 }
func (t *testTx) ID() uint64                      { return t.id }
func (t *testTx) FullHash() []byte                { return make([]byte, 32) }
func (t *testTx) Height() int32                   { return 0 }
func (t *testTx) Attachment() appendix.Attachment { return nil }
func (t *testTx) Appendages() []appendix.Appendix { return t.appendages }

func newEnv(t *testing.T) *state.MemoryEnv {
	t.Helper()
	env := state.NewMemoryEnv(chain.DefaultRegistry())
	for i := range 10 {
		env.Chain.AddBlock(uint64(100 + i))
	}
	return env
}

func roundTripWire(t *testing.T, apps []appendix.Appendix) []appendix.Appendix {
	t.Helper()
	reg := appendix.DefaultRegistry()
	w := appendix.NewWriter(256)
	size := 0
	for _, a := range apps {
		a.Write(w)
		size += a.Size()
	}
	require.Equal(t, size, w.Len(), "declared size matches encoding")
	r := appendix.NewReader(w.Bytes())
	out, err := reg.ParseFlagged(r, appendix.Flags(apps))
	require.NoError(t, err)
	assert.Equal(t, 0, r.Remaining())
	return out
}

func roundTripJSON(t *testing.T, apps []appendix.Appendix) []appendix.Appendix {
	t.Helper()
	merged := appendix.Object{}
	for _, a := range apps {
		for k, v := range a.JSON() {
			merged[k] = v
		}
	}
	data, err := json.Marshal(merged)
	require.NoError(t, err)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	out, err := appendix.DefaultRegistry().ParseObject(decoded)
	require.NoError(t, err)
	return out
}

func TestMessageRoundTrip(t *testing.T) {
	msg := appendix.NewTextMessage("hello world")
	bin := appendix.NewMessage([]byte{0, 1, 2, 0xff}, false)
	for _, a := range []appendix.Appendix{msg, bin} {
		out := roundTripWire(t, []appendix.Appendix{a})
		require.Len(t, out, 1)
		assert.Equal(t, a.JSON(), out[0].JSON())
		out = roundTripJSON(t, []appendix.Appendix{a})
		require.Len(t, out, 1)
		assert.Equal(t, a.(*appendix.Message).Message(), out[0].(*appendix.Message).Message())
	}
}

func TestFlagOrder(t *testing.T) {
	pub := crypto.PublicKey(bobSecret)
	apps := []appendix.Appendix{
		appendix.NewTextMessage("first"),
		appendix.NewPublicKeyAnnouncement(pub),
		appendix.NewPrunablePlainMessage([]byte("prunable"), true),
	}
	flags := appendix.Flags(apps)
	assert.Equal(t, int32(1<<0|1<<2|1<<5), flags)
	out := roundTripWire(t, apps)
	require.Len(t, out, 3)
	assert.Equal(t, appendix.CodeMessage, out[0].Code())
	assert.Equal(t, appendix.CodePublicKeyAnnouncement, out[1].Code())
	assert.Equal(t, appendix.CodePrunablePlainMessage, out[2].Code())
	// Unknown flag bits are rejected
	_, err := appendix.DefaultRegistry().ParseFlagged(appendix.NewReader(nil), 1<<20)
	assert.True(t, common.IsNotValid(err))
}

func TestMessageValidate(t *testing.T) {
	env := newEnv(t)
	tx := &testTx{chainID: 2}
	long := appendix.NewMessage(make([]byte, appendix.MaxMessageLength+1), false)
	assert.True(t, common.IsNotValid(long.Validate(tx, env)))
	bad := appendix.NewMessage([]byte{0xff, 0xfe}, true)
	assert.True(t, common.IsNotValid(bad.Validate(tx, env)))
	ok := appendix.NewTextMessage("fine")
	assert.NoError(t, ok.Validate(tx, env))
	// One parent coin per 32 bytes beyond the first unit
	f, err := appendix.NewMessage(make([]byte, 65), false).Fees(tx).Fee(1, appendix.NewMessage(make([]byte, 65), false))
	require.NoError(t, err)
	assert.Equal(t, 2*chain.ParentOneCoin, f)
}

func TestPrunablePlainMessage(t *testing.T) {
	env := newEnv(t)
	m := appendix.NewPrunablePlainMessage([]byte("some prunable text"), true)
	tx := &testTx{chainID: 2, appendages: []appendix.Appendix{m}}
	require.NoError(t, m.Validate(tx, env))
	assert.Equal(t, m.Size()+len("some prunable text"), m.FullSize())
	require.NoError(t, m.Apply(tx, env))

	// Parsed from the wire only the hash survives
	out := roundTripWire(t, []appendix.Appendix{m})
	pruned := out[0].(*appendix.PrunablePlainMessage)
	assert.False(t, pruned.HasPrunableData())
	assert.Equal(t, pruned.Size(), pruned.FullSize())
	assert.Equal(t, m.Hash(), pruned.Hash())

	loadsBefore := env.PrunableData.Loads()
	require.NoError(t, pruned.LoadPrunable(tx, env))
	assert.Equal(t, loadsBefore+1, env.PrunableData.Loads())
	assert.Equal(t, []byte("some prunable text"), pruned.Message())
	hash := pruned.Hash()
	// A second load is a no-op
	require.NoError(t, pruned.LoadPrunable(tx, env))
	assert.Equal(t, loadsBefore+1, env.PrunableData.Loads())
	assert.Equal(t, hash, pruned.Hash())
	assert.Equal(t, []byte("some prunable text"), pruned.Message())
}

func TestPrunableMissingPayload(t *testing.T) {
	env := newEnv(t)
	m := appendix.NewPrunablePlainMessage([]byte("never stored"), true)
	out := roundTripWire(t, []appendix.Appendix{m})
	pruned := out[0]
	env.Chain.SetNow(1000)
	tx := &testTx{chainID: 2, timestamp: 900, appendages: out}
	err := pruned.Validate(tx, env)
	assert.True(t, common.IsNotCurrentlyValid(err))
	// Past the minimum lifetime a missing payload is acceptable
	env.Chain.SetNow(900 + appendix.MinPrunableLifetime)
	assert.NoError(t, pruned.Validate(tx, env))
}

func TestEncryptedMessage(t *testing.T) {
	env := newEnv(t)
	bobPub := crypto.PublicKey(bobSecret)
	alicePub := crypto.PublicKey(aliceSecret)
	m := appendix.NewEncryptedMessage([]byte("secret note"), true, true)
	tx := &testTx{chainID: 2, recipient: common.AccountID(bobPub), appendages: []appendix.Appendix{m}}
	assert.True(t, common.IsNotValid(m.Validate(tx, env)), "unencrypted message is rejected")
	require.NoError(t, m.Encrypt(aliceSecret, bobPub))
	require.NoError(t, m.Validate(tx, env))

	out := roundTripWire(t, []appendix.Appendix{m})
	parsed := out[0].(*appendix.EncryptedMessage)
	assert.True(t, parsed.IsCompressed())
	plain, err := parsed.Decrypt(bobSecret, alicePub)
	require.NoError(t, err)
	assert.Equal(t, []byte("secret note"), plain)

	out = roundTripJSON(t, []appendix.Appendix{m})
	plain, err = out[0].(*appendix.EncryptedMessage).Decrypt(aliceSecret, bobPub)
	require.NoError(t, err)
	assert.Equal(t, []byte("secret note"), plain)

	// Parent chain and missing recipient are rejected
	assert.True(t, common.IsNotValid(m.Validate(&testTx{chainID: chain.ParentChainID, recipient: 1}, env)))
	assert.True(t, common.IsNotValid(m.Validate(&testTx{chainID: 2}, env)))
}

func TestPrunableEncryptedMessage(t *testing.T) {
	env := newEnv(t)
	bobPub := crypto.PublicKey(bobSecret)
	m := appendix.NewPrunableEncryptedMessage([]byte("pruned secret"), false, false)
	require.NoError(t, m.Encrypt(aliceSecret, bobPub))
	tx := &testTx{chainID: 2, appendages: []appendix.Appendix{m}}
	require.NoError(t, m.Validate(tx, env))
	require.NoError(t, m.Apply(tx, env))

	out := roundTripWire(t, []appendix.Appendix{m})
	pruned := out[0].(*appendix.PrunableEncryptedMessage)
	assert.False(t, pruned.HasPrunableData())
	require.NoError(t, pruned.LoadPrunable(tx, env))
	assert.True(t, pruned.HasPrunableData())
	assert.Equal(t, m.Hash(), pruned.Hash())
	plain, err := pruned.Decrypt(bobSecret, crypto.PublicKey(aliceSecret))
	require.NoError(t, err)
	assert.Equal(t, []byte("pruned secret"), plain)
}

func TestPublicKeyAnnouncement(t *testing.T) {
	env := newEnv(t)
	bobPub := crypto.PublicKey(bobSecret)
	a := appendix.NewPublicKeyAnnouncement(bobPub)
	tx := &testTx{chainID: 2, recipient: common.AccountID(bobPub), id: 77}
	require.NoError(t, a.Validate(tx, env))
	require.NoError(t, a.Apply(tx, env))
	got, err := env.PublicKeys().PublicKey(tx.recipient)
	require.NoError(t, err)
	assert.Equal(t, bobPub, got)
	wrong := &testTx{chainID: 2, recipient: tx.recipient + 1}
	assert.True(t, common.IsNotValid(a.Validate(wrong, env)))
}

func TestPhasingValidation(t *testing.T) {
	env := newEnv(t)
	height := env.Blockchain().Height()
	tx := &testTx{chainID: 2, id: 99}
	linked := crypto.Sha256([]byte("linked"))
	testDefs := []struct {
		name      string
		params    appendix.PhasingParams
		invalid   bool
		transient bool
	}{
		{
			name:   "no voting",
			params: appendix.PhasingParams{FinishHeight: height + 10, VotingModel: appendix.VotingModelNone},
		},
		{
			name:      "finish too soon",
			params:    appendix.PhasingParams{FinishHeight: height + 1, VotingModel: appendix.VotingModelNone},
			transient: true,
		},
		{
			name: "linked transaction",
			params: appendix.PhasingParams{
				FinishHeight:     height + 10,
				VotingModel:      appendix.VotingModelTransaction,
				Quorum:           1,
				LinkedFullHashes: [][]byte{linked},
			},
		},
		{
			name: "duplicate linked",
			params: appendix.PhasingParams{
				FinishHeight:     height + 10,
				VotingModel:      appendix.VotingModelTransaction,
				Quorum:           1,
				LinkedFullHashes: [][]byte{linked, linked},
			},
			invalid: true,
		},
		{
			name: "hashed secret",
			params: appendix.PhasingParams{
				FinishHeight: height + 10,
				VotingModel:  appendix.VotingModelHash,
				Quorum:       1,
				HashedSecret: crypto.Sha256([]byte("secret")),
				Algorithm:    appendix.HashAlgorithmSha256,
			},
		},
		{
			name: "hashed secret wrong algorithm",
			params: appendix.PhasingParams{
				FinishHeight: height + 10,
				VotingModel:  appendix.VotingModelHash,
				Quorum:       1,
				HashedSecret: crypto.Sha256([]byte("secret")),
				Algorithm:    1,
			},
			invalid: true,
		},
		{
			name: "secret without hash model",
			params: appendix.PhasingParams{
				FinishHeight: height + 10,
				VotingModel:  appendix.VotingModelAccount,
				Quorum:       1,
				HashedSecret: []byte{1},
			},
			invalid: true,
		},
	}
	for _, testDef := range testDefs {
		p := appendix.NewPhasing(testDef.params)
		err := p.Validate(tx, env)
		switch {
		case testDef.invalid:
			assert.True(t, common.IsNotValid(err), testDef.name)
		case testDef.transient:
			assert.True(t, common.IsNotCurrentlyValid(err), testDef.name)
		default:
			assert.NoError(t, err, testDef.name)
			out := roundTripWire(t, []appendix.Appendix{p})
			assert.Equal(t, p.JSON(), out[0].JSON(), testDef.name)
			out = roundTripJSON(t, []appendix.Appendix{p})
			assert.Equal(t, p.Size(), out[0].Size(), testDef.name)
		}
	}
}

func TestPhasingApproval(t *testing.T) {
	env := newEnv(t)
	linked := crypto.Sha256([]byte("linked"))
	p := appendix.NewPhasing(appendix.PhasingParams{
		FinishHeight:     env.Blockchain().Height() + 5,
		VotingModel:      appendix.VotingModelTransaction,
		Quorum:           1,
		LinkedFullHashes: [][]byte{linked},
	})
	tx := &testTx{chainID: 2, id: 5}
	tx.appendages = []appendix.Appendix{p}
	require.NoError(t, p.Apply(tx, env))
	assert.True(t, common.IsNotCurrentlyValid(p.ValidateAtFinish(tx, env)))
	require.NoError(t, env.TxMap[2].SaveTransaction(state.Record{ID: 1, FullHash: linked, Height: 3}))
	assert.NoError(t, p.ValidateAtFinish(tx, env))
	poll, err := env.PhasingPolls().Poll(2, 5)
	require.NoError(t, err)
	assert.Equal(t, p.FinishHeight(), poll.FinishHeight)
	assert.True(t, appendix.IsPhased(true, tx))
	assert.False(t, appendix.IsPhased(false, tx))
}

func TestReaderShortBuffer(t *testing.T) {
	r := appendix.NewReader([]byte{1, 2})
	_ = r.Int32()
	assert.ErrorIs(t, r.Err(), appendix.ErrShortBuffer)
	// Errors are sticky
	assert.Equal(t, int8(0), r.Int8())
}
