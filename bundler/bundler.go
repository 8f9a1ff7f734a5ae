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

// Package bundler packages pending child chain transactions into child block
// transactions on behalf of a funding account.
package bundler

import (
	"bytes"
	"errors"
	"fmt"
	"iter"
	"math/big"
	"sync/atomic"

	"github.com/blinklabs-io/strata/ledger/chain"
	"github.com/blinklabs-io/strata/ledger/common"
	"github.com/blinklabs-io/strata/ledger/crypto"
	"github.com/blinklabs-io/strata/ledger/fee"
	"github.com/blinklabs-io/strata/ledger/nesting"
	"github.com/blinklabs-io/strata/ledger/state"
	"github.com/blinklabs-io/strata/ledger/transaction"
	"github.com/blinklabs-io/strata/ledger/txtype"
)

// Deadline is the deadline, in minutes, of every child block transaction a
// bundler builds
const Deadline int16 = 10

var (
	ErrBundlerExists  = errors.New("bundler already exists")
	ErrParentChain    = errors.New("bundlers serve child chains only")
	ErrInvalidSetting = errors.New("invalid bundler setting")
)

// Skip reasons reported in metrics and logs
const (
	SkipExpiring    = "expiring"
	SkipRate        = "rate"
	SkipBudget      = "budget"
	SkipDuplicate   = "duplicate"
	SkipReference   = "reference"
	SkipBalance     = "balance"
	SkipCompetitor  = "competitor"
	SkipBuild       = "build"
	SkipBroadcast   = "broadcast"
	SkipBatchFailed = "batch_failed"
)

// Pool is the part of the unconfirmed pool a bundler reads and broadcasts to
type Pool interface {
	Iterate(chainID int32, filter func(*transaction.Transaction) bool) iter.Seq[*transaction.Transaction]
	Contains(fullHash []byte) bool
	Broadcast(tx *transaction.Transaction) error
}

// Ledger supplies the validation environment and the type table
type Ledger interface {
	Env() state.Env
	Codec() *transaction.Codec
}

// Config describes one bundler. Amounts are in parent chain units except
// MinRate, which is child chain units per whole parent coin.
type Config struct {
	Chain        *chain.Chain
	SecretPhrase string
	MinRate      int64
	// TotalFeesLimit caps the fees committed over the bundler's lifetime. 0
	// means unlimited
	TotalFeesLimit int64
	// OverpayRate is the markup per whole parent coin of fee
	OverpayRate int64
}

type Bundler struct {
	config    Config
	publicKey []byte
	accountID uint64
	committed atomic.Int64
}

func newBundler(cfg Config) (*Bundler, error) {
	if cfg.Chain == nil || cfg.Chain.IsParent() {
		return nil, ErrParentChain
	}
	if cfg.SecretPhrase == "" {
		return nil, fmt.Errorf("%w: empty secret phrase", ErrInvalidSetting)
	}
	if cfg.MinRate < 0 || cfg.TotalFeesLimit < 0 || cfg.OverpayRate < 0 {
		return nil, fmt.Errorf("%w: negative rate or limit", ErrInvalidSetting)
	}
	publicKey := crypto.PublicKey(cfg.SecretPhrase)
	return &Bundler{
		config:    cfg,
		publicKey: publicKey,
		accountID: common.AccountID(publicKey),
	}, nil
}

func (b *Bundler) Chain() *chain.Chain   { return b.config.Chain }
func (b *Bundler) AccountID() uint64     { return b.accountID }
func (b *Bundler) PublicKey() []byte     { return b.publicKey }
func (b *Bundler) MinRate() int64        { return b.config.MinRate }
func (b *Bundler) TotalFeesLimit() int64 { return b.config.TotalFeesLimit }
func (b *Bundler) OverpayRate() int64    { return b.config.OverpayRate }

// CommittedFees is the total fee of every child block transaction broadcast
// so far
func (b *Bundler) CommittedFees() int64 {
	return b.committed.Load()
}

// Overpay marks fee up by rate per whole parent coin, rounding down
func Overpay(amount int64, rate int64) (int64, error) {
	if amount < 0 || rate < 0 {
		return 0, fmt.Errorf("%w: negative fee or rate", ErrInvalidSetting)
	}
	markup, err := common.MulDivFloor(amount, rate, chain.ParentOneCoin)
	if err != nil {
		return 0, err
	}
	return common.SafeAdd(amount, markup)
}

// acceptsRate reports whether childFee pays at least the minimum rate for a
// child whose minimum fee is minFee parent units
func (b *Bundler) acceptsRate(childFee, minFee int64) bool {
	paid := new(big.Int).Mul(big.NewInt(childFee), big.NewInt(chain.ParentOneCoin))
	wanted := new(big.Int).Mul(big.NewInt(b.config.MinRate), big.NewInt(minFee))
	return paid.Cmp(wanted) >= 0
}

// batch accumulates children of one prospective child block transaction
type batch struct {
	children []*transaction.Transaction
	minFee   int64
	backFees []int64
	payload  int
}

func (bt *batch) add(child *transaction.Transaction, minFee int64, backFees []int64) error {
	total, err := common.SafeAdd(bt.minFee, minFee)
	if err != nil {
		return err
	}
	for i, f := range backFees {
		if i >= len(bt.backFees) {
			bt.backFees = append(bt.backFees, 0)
		}
		if bt.backFees[i], err = common.SafeAdd(bt.backFees[i], f); err != nil {
			return err
		}
	}
	bt.minFee = total
	bt.children = append(bt.children, child)
	bt.payload += child.FullSize()
	return nil
}

func (bt *batch) full() bool {
	return len(bt.children) >= chain.MaxChildBlockTransactions
}

func (bt *batch) fits(child *transaction.Transaction) bool {
	return bt.payload+child.FullSize() <= chain.MaxChildBlockPayloadLength
}

// pass holds the state of one bundling pass
type pass struct {
	b      *Bundler
	env    state.Env
	pool   Pool
	typ    *txtype.Type
	height int32
	now    int32
	report func(reason string, tx *transaction.Transaction, err error)
	built  []*transaction.Transaction
}

// Bundle runs one pass over the pending children of the bundler's chain and
// broadcasts a child block transaction for every batch that qualifies. A
// failing batch is reported and skipped.
func (b *Bundler) Bundle(
	ledger Ledger,
	pool Pool,
	report func(reason string, tx *transaction.Transaction, err error),
) ([]*transaction.Transaction, error) {
	typ, err := ledger.Codec().Types().Lookup(true, nesting.Key)
	if err != nil {
		return nil, err
	}
	if report == nil {
		report = func(string, *transaction.Transaction, error) {}
	}
	env := ledger.Env()
	p := &pass{
		b:      b,
		env:    env,
		pool:   pool,
		typ:    typ,
		height: env.Blockchain().Height(),
		now:    env.Blockchain().Now(),
		report: report,
	}
	store := env.Transactions(b.config.Chain)
	resolvable := func(tx *transaction.Transaction) bool {
		ref := tx.ReferencedFullHash()
		if ref == nil || pool.Contains(ref) {
			return true
		}
		ok, err := store.HasTransaction(ref, p.height)
		if err != nil || !ok {
			report(SkipReference, tx, err)
			return false
		}
		return true
	}
	dups := txtype.NewDuplicates()
	current := &batch{}
	for child := range pool.Iterate(b.config.Chain.ID, resolvable) {
		minFee, backFees, ok := p.admit(child, current, dups)
		if !ok {
			continue
		}
		if !current.fits(child) {
			p.flush(current)
			current = &batch{}
		}
		if err := current.add(child, minFee, backFees); err != nil {
			report(SkipBatchFailed, child, err)
			continue
		}
		if current.full() {
			p.flush(current)
			current = &batch{}
		}
	}
	p.flush(current)
	return p.built, nil
}

// admit applies the per child checks and prices the child
func (p *pass) admit(child *transaction.Transaction, current *batch, dups txtype.Duplicates) (int64, []int64, bool) {
	b := p.b
	if child.Timestamp() > p.now || child.Expiration() < p.now+int32(Deadline)*60 {
		p.report(SkipExpiring, child, nil)
		return 0, nil, false
	}
	minFee, err := child.MinimumFee(p.height)
	if err != nil {
		p.report(SkipBatchFailed, child, err)
		return 0, nil, false
	}
	if !b.acceptsRate(child.Fee(), minFee) {
		p.report(SkipRate, child, nil)
		return 0, nil, false
	}
	if limit := b.config.TotalFeesLimit; limit > 0 {
		total, err := common.SafeAdd(current.minFee, minFee)
		if err == nil {
			total, err = Overpay(total, b.config.OverpayRate)
		}
		if err == nil {
			total, err = common.SafeAdd(total, b.committed.Load())
		}
		if err != nil || total > limit {
			p.report(SkipBudget, child, err)
			return 0, nil, false
		}
	}
	if child.IsDuplicate(dups) {
		p.report(SkipDuplicate, child, nil)
		return 0, nil, false
	}
	backFees, err := child.MinimumBackFees(p.height)
	if err != nil {
		p.report(SkipBatchFailed, child, err)
		return 0, nil, false
	}
	return minFee, backFees, true
}

// flush builds, signs and broadcasts a child block transaction over bt
func (p *pass) flush(bt *batch) {
	if len(bt.children) == 0 {
		return
	}
	b := p.b
	txFee, err := Overpay(bt.minFee, b.config.OverpayRate)
	if err != nil {
		p.report(SkipBatchFailed, nil, err)
		return
	}
	hashes := make([][]byte, len(bt.children))
	for i, child := range bt.children {
		hashes[i] = child.FullHash()
	}
	if p.hasCompetitor(hashes, txFee) {
		p.report(SkipCompetitor, nil, nil)
		return
	}
	bal, err := p.env.Balances(p.env.Chains().Parent()).Balance(b.accountID)
	if err != nil && !errors.Is(err, state.ErrNotFound) {
		p.report(SkipBalance, nil, err)
		return
	}
	if bal.Unconfirmed < txFee {
		p.report(SkipBalance, nil, fmt.Errorf(
			"balance %s does not cover fee %s",
			p.env.Chains().Parent().Format(bal.Unconfirmed),
			p.env.Chains().Parent().Format(txFee),
		))
		return
	}
	backFees := bt.backFees
	if len(backFees) > fee.MaxBackFees {
		backFees = backFees[:fee.MaxBackFees]
	}
	tx, err := transaction.NewBuilder(
		p.env.Chains().Parent(),
		p.typ,
		b.publicKey,
		0,
		txFee,
		Deadline,
		nesting.NewChildBlock(b.config.Chain, bt.children, backFees),
	).
		Timestamp(p.now).
		Blockchain(p.env.Blockchain()).
		Build(b.config.SecretPhrase)
	if err != nil {
		p.report(SkipBuild, nil, err)
		return
	}
	if err := p.pool.Broadcast(tx); err != nil {
		p.report(SkipBroadcast, tx, err)
		return
	}
	b.committed.Add(txFee)
	p.built = append(p.built, tx)
}

// hasCompetitor reports whether a pending child block transaction already
// covers every hash at an equal or higher fee
func (p *pass) hasCompetitor(hashes [][]byte, txFee int64) bool {
	parent := p.env.Chains().Parent()
	isChildBlock := func(tx *transaction.Transaction) bool {
		cb, ok := tx.Attachment().(*nesting.ChildBlock)
		return ok && cb.ChainID() == p.b.config.Chain.ID && tx.Fee() >= txFee
	}
	for tx := range p.pool.Iterate(parent.ID, isChildBlock) {
		covered := tx.Attachment().(*nesting.ChildBlock).FullHashes()
		if coversAll(covered, hashes) {
			return true
		}
	}
	return false
}

func coversAll(covered [][]byte, hashes [][]byte) bool {
	for _, h := range hashes {
		found := false
		for _, c := range covered {
			if bytes.Equal(c, h) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
