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

package database

import (
	"bytes"
	"errors"
	"fmt"
	"slices"
	"sync/atomic"

	"github.com/blinklabs-io/strata/database/models"
	"github.com/blinklabs-io/strata/database/plugin/metadata/sqlite"
	"github.com/blinklabs-io/strata/database/types"
	"github.com/blinklabs-io/strata/ledger/chain"
	"github.com/blinklabs-io/strata/ledger/common"
	"github.com/blinklabs-io/strata/ledger/state"
)

// View exposes the database through the ledger state interfaces. A View
// bound to a Txn reads and writes inside it; an unbound View autocommits.
type View struct {
	db  *Database
	txn *Txn
}

// View returns the ledger stores bound to txn, which may be nil
func (d *Database) View(txn *Txn) *View {
	return &View{db: d, txn: txn}
}

func (v *View) Balances(c *chain.Chain) state.BalanceStore {
	return &balanceStore{View: v, namespace: c.Namespace()}
}

func (v *View) Transactions(c *chain.Chain) state.TransactionStore {
	return &transactionStore{View: v, namespace: c.Namespace()}
}

func (v *View) Prunables() state.PrunableStore {
	return &prunableStore{v}
}

func (v *View) PublicKeys() state.PublicKeys {
	return &publicKeyStore{v}
}

func (v *View) PhasingPolls() state.PhasingPolls {
	return &phasingPollStore{v}
}

func (v *View) Accounts() state.Accounts {
	return &accountStore{v}
}

func (v *View) Assets() state.Assets {
	return &assetStore{v}
}

func (v *View) ExchangeOrders() state.ExchangeOrders {
	return &exchangeOrderStore{v}
}

// ResetUnconfirmed makes every unconfirmed balance of c equal to its
// confirmed balance
func (v *View) ResetUnconfirmed(c *chain.Chain) error {
	return v.db.metadata.ResetUnconfirmed(c.Namespace(), v.txn.Metadata())
}

// ResetUnconfirmedAssets does the same for every asset holding
func (v *View) ResetUnconfirmedAssets() error {
	return v.db.metadata.ResetUnconfirmedAssets(v.txn.Metadata())
}

type balanceStore struct {
	*View
	namespace string
}

func (b *balanceStore) Balance(account uint64) (state.Balance, error) {
	bal, err := b.db.metadata.GetBalance(b.namespace, account, b.txn.Metadata())
	if err != nil {
		return state.Balance{}, err
	}
	return state.Balance{Confirmed: bal.Confirmed, Unconfirmed: bal.Unconfirmed}, nil
}

func (b *balanceStore) update(account uint64, confirmed, unconfirmed int64, eventID uint64) error {
	if eventID == 0 {
		return state.ErrNullEvent
	}
	return b.db.metadata.AddToBalance(b.namespace, account, confirmed, unconfirmed, b.txn.Metadata())
}

func (b *balanceStore) AddToBalance(account uint64, delta int64, eventID uint64) error {
	return b.update(account, delta, 0, eventID)
}

func (b *balanceStore) AddToUnconfirmed(account uint64, delta int64, eventID uint64) error {
	return b.update(account, 0, delta, eventID)
}

func (b *balanceStore) AddToBoth(account uint64, delta int64, eventID uint64) error {
	return b.update(account, delta, delta, eventID)
}

func (b *balanceStore) CreditGenesis(account uint64, amount int64) error {
	return b.db.metadata.AddToBalance(b.namespace, account, amount, amount, b.txn.Metadata())
}

type transactionStore struct {
	*View
	namespace string
}

func (s *transactionStore) record(tx *models.Transaction, err error) (*state.Record, error) {
	if err != nil {
		if errors.Is(err, sqlite.ErrTransactionNotFound) {
			return nil, state.ErrNotFound
		}
		return nil, err
	}
	return tx.Record(), nil
}

func (s *transactionStore) FindTransaction(fullHash []byte, maxHeight int32) (*state.Record, error) {
	return s.record(s.db.metadata.GetTransactionByFullHash(s.namespace, fullHash, maxHeight, s.txn.Metadata()))
}

func (s *transactionStore) FindTransactionByID(id uint64, maxHeight int32) (*state.Record, error) {
	return s.record(s.db.metadata.GetTransactionByID(s.namespace, id, maxHeight, s.txn.Metadata()))
}

func (s *transactionStore) HasTransaction(fullHash []byte, maxHeight int32) (bool, error) {
	_, err := s.FindTransaction(fullHash, maxHeight)
	if errors.Is(err, state.ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (s *transactionStore) SaveTransaction(record state.Record) error {
	return s.db.metadata.SetTransaction(s.namespace, models.TransactionFromRecord(record), s.txn.Metadata())
}

type prunableStore struct {
	*View
}

// Sweep expired cache entries every this many writes
const prunableCacheSweepInterval = 256

func (p *prunableStore) GetPrunable(hash []byte) ([]byte, error) {
	key := types.PrunableBlobKey(hash)
	if cached, ok := p.db.prunableCache.Get(string(key)); ok {
		return bytes.Clone(cached.([]byte)), nil
	}
	txn := p.txn.Blob()
	if txn == nil {
		txn = p.db.blob.NewTransaction(false)
		defer txn.Rollback() //nolint:errcheck
	}
	data, err := p.db.blob.Get(txn, key)
	if err != nil {
		if errors.Is(err, types.ErrBlobKeyNotFound) {
			return nil, state.ErrNotFound
		}
		return nil, err
	}
	p.cache(key, data)
	return bytes.Clone(data), nil
}

// PutPrunable stores data under its content hash. Cache entries are content
// addressed, so caching a write that is later rolled back is harmless.
func (p *prunableStore) PutPrunable(hash []byte, data []byte) error {
	key := types.PrunableBlobKey(hash)
	data = bytes.Clone(data)
	if txn := p.txn.Blob(); txn != nil {
		if err := p.db.blob.Set(txn, key, data); err != nil {
			return err
		}
	} else {
		txn := p.db.blob.NewTransaction(true)
		if err := p.db.blob.Set(txn, key, data); err != nil {
			_ = txn.Rollback()
			return err
		}
		if err := txn.Commit(); err != nil {
			return err
		}
	}
	p.cache(key, data)
	return nil
}

func (p *prunableStore) cache(key []byte, data []byte) {
	p.db.prunableCache.SetDefault(string(key), data)
	if atomic.AddUint64(&p.db.cachePuts, 1)%prunableCacheSweepInterval == 0 {
		p.db.prunableCache.DeleteExpired()
	}
}

type publicKeyStore struct {
	*View
}

func (s *publicKeyStore) PublicKey(account uint64) ([]byte, error) {
	key, err := s.db.metadata.GetPublicKey(account, s.txn.Metadata())
	if err != nil {
		return nil, err
	}
	if key == nil {
		return nil, state.ErrNotFound
	}
	return key, nil
}

func (s *publicKeyStore) SetPublicKey(account uint64, publicKey []byte) error {
	if common.AccountID(publicKey) != account {
		return fmt.Errorf("public key does not match account %s", common.FormatID(account))
	}
	return s.db.metadata.SetPublicKey(account, publicKey, s.txn.Metadata())
}

type phasingPollStore struct {
	*View
}

func (s *phasingPollStore) AddPoll(poll state.Poll) error {
	return s.db.metadata.AddPhasingPoll(models.PhasingPollFromPoll(poll), s.txn.Metadata())
}

func (s *phasingPollStore) Poll(chainID int32, transactionID uint64) (*state.Poll, error) {
	p, err := s.db.metadata.GetPhasingPoll(chainID, transactionID, s.txn.Metadata())
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, state.ErrNotFound
	}
	ret := p.Poll()
	return &ret, nil
}

func (s *phasingPollStore) Votes(chainID int32, transactionID uint64) (int64, error) {
	return s.db.metadata.GetPhasingVotes(chainID, transactionID, s.txn.Metadata())
}

func (s *phasingPollStore) FinishingAt(height int32) ([]state.Poll, error) {
	polls, err := s.db.metadata.GetPhasingPollsFinishingAt(height, s.txn.Metadata())
	if err != nil {
		return nil, err
	}
	ret := make([]state.Poll, 0, len(polls))
	for i := range polls {
		ret = append(ret, polls[i].Poll())
	}
	return ret, nil
}

// AddVote records weight in favour of a poll
func (s *phasingPollStore) AddVote(chainID int32, transactionID uint64, weight int64) error {
	return s.db.metadata.AddPhasingVote(chainID, transactionID, weight, s.txn.Metadata())
}

type accountStore struct {
	*View
}

func (s *accountStore) AccountInfo(account uint64) (*state.AccountInfo, error) {
	info, err := s.db.metadata.GetAccountInfo(account, s.txn.Metadata())
	if err != nil {
		return nil, err
	}
	if info == nil {
		return nil, state.ErrNotFound
	}
	return &state.AccountInfo{Name: info.Name, Description: info.Description}, nil
}

func (s *accountStore) SetAccountInfo(account uint64, info state.AccountInfo) error {
	return s.db.metadata.SetAccountInfo(
		models.AccountInfo{
			Account:     types.Uint64(account),
			Name:        info.Name,
			Description: info.Description,
		},
		s.txn.Metadata(),
	)
}

func (s *accountStore) Lease(lessor uint64) (*state.Lease, error) {
	l, err := s.db.metadata.GetLease(lessor, s.txn.Metadata())
	if err != nil {
		return nil, err
	}
	if l == nil {
		return nil, state.ErrNotFound
	}
	return &state.Lease{
		Lessor:     uint64(l.Lessor),
		Lessee:     uint64(l.Lessee),
		FromHeight: l.FromHeight,
		ToHeight:   l.ToHeight,
	}, nil
}

func (s *accountStore) SetLease(lease state.Lease) error {
	if lease.Lessor == lease.Lessee {
		return fmt.Errorf("account %s cannot lease to itself", common.FormatID(lease.Lessor))
	}
	return s.db.metadata.SetLease(
		models.Lease{
			Lessor:     types.Uint64(lease.Lessor),
			Lessee:     types.Uint64(lease.Lessee),
			FromHeight: lease.FromHeight,
			ToHeight:   lease.ToHeight,
		},
		s.txn.Metadata(),
	)
}

type assetStore struct {
	*View
}

func (s *assetStore) Asset(id uint64) (*state.Asset, error) {
	a, err := s.db.metadata.GetAsset(id, s.txn.Metadata())
	if err != nil {
		return nil, err
	}
	if a == nil {
		return nil, state.ErrNotFound
	}
	ret := a.State()
	return &ret, nil
}

func (s *assetStore) AddAsset(asset state.Asset) error {
	existing, err := s.Asset(asset.ID)
	if err != nil && !errors.Is(err, state.ErrNotFound) {
		return err
	}
	if existing != nil {
		return fmt.Errorf("asset %s already exists", common.FormatID(asset.ID))
	}
	return s.db.metadata.AddAsset(models.AssetFromState(asset), s.txn.Metadata())
}

func (s *assetStore) Holdings(asset uint64) state.BalanceStore {
	return &holdingStore{View: s.View, asset: asset}
}

// holdingStore is the BalanceStore of one asset
type holdingStore struct {
	*View
	asset uint64
}

func (h *holdingStore) Balance(account uint64) (state.Balance, error) {
	bal, err := h.db.metadata.GetAssetBalance(h.asset, account, h.txn.Metadata())
	if err != nil {
		return state.Balance{}, err
	}
	return state.Balance{Confirmed: bal.Confirmed, Unconfirmed: bal.Unconfirmed}, nil
}

func (h *holdingStore) update(account uint64, confirmed, unconfirmed int64, eventID uint64) error {
	if eventID == 0 {
		return state.ErrNullEvent
	}
	return h.db.metadata.AddToAssetBalance(h.asset, account, confirmed, unconfirmed, h.txn.Metadata())
}

func (h *holdingStore) AddToBalance(account uint64, delta int64, eventID uint64) error {
	return h.update(account, delta, 0, eventID)
}

func (h *holdingStore) AddToUnconfirmed(account uint64, delta int64, eventID uint64) error {
	return h.update(account, 0, delta, eventID)
}

func (h *holdingStore) AddToBoth(account uint64, delta int64, eventID uint64) error {
	return h.update(account, delta, delta, eventID)
}

func (h *holdingStore) CreditGenesis(account uint64, amount int64) error {
	return h.db.metadata.AddToAssetBalance(h.asset, account, amount, amount, h.txn.Metadata())
}

type exchangeOrderStore struct {
	*View
}

func (s *exchangeOrderStore) Order(id uint64) (*state.ExchangeOrder, error) {
	o, err := s.db.metadata.GetExchangeOrder(id, s.txn.Metadata())
	if err != nil {
		return nil, err
	}
	if o == nil {
		return nil, state.ErrNotFound
	}
	ret := o.State()
	return &ret, nil
}

func (s *exchangeOrderStore) AddOrder(order state.ExchangeOrder) error {
	return s.db.metadata.AddExchangeOrder(models.ExchangeOrderFromState(order), s.txn.Metadata())
}

func (s *exchangeOrderStore) SetQuantity(id uint64, quantity int64) error {
	ok, err := s.db.metadata.SetExchangeOrderQuantity(id, quantity, s.txn.Metadata())
	if err != nil {
		return err
	}
	if !ok {
		return state.ErrNotFound
	}
	return nil
}

func (s *exchangeOrderStore) Offers(chainID, exchangeChainID int32) ([]state.ExchangeOrder, error) {
	orders, err := s.db.metadata.GetExchangeOrders(chainID, exchangeChainID, s.txn.Metadata())
	if err != nil {
		return nil, err
	}
	ret := make([]state.ExchangeOrder, 0, len(orders))
	for i := range orders {
		ret = append(ret, orders[i].State())
	}
	// ids are stored as text, so the final tie break happens here
	slices.SortFunc(ret, state.CompareOffers)
	return ret, nil
}
