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

package state

import (
	"bytes"
	"cmp"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/blinklabs-io/strata/ledger/chain"
	"github.com/blinklabs-io/strata/ledger/common"
)

// MemoryBlockchain is a settable Blockchain
type MemoryBlockchain struct {
	mu       sync.RWMutex
	blockIDs []uint64
	now      int32
}

// NewMemoryBlockchain returns a chain whose genesis block has the given id
func NewMemoryBlockchain(genesisID uint64) *MemoryBlockchain {
	return &MemoryBlockchain{blockIDs: []uint64{genesisID}}
}

func (b *MemoryBlockchain) Height() int32 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return int32(len(b.blockIDs) - 1) //nolint:gosec
}

func (b *MemoryBlockchain) BlockIDAtHeight(height int32) (uint64, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if height < 0 || int(height) >= len(b.blockIDs) {
		return 0, false
	}
	return b.blockIDs[height], true
}

func (b *MemoryBlockchain) Now() int32 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.now
}

// SetNow sets the current epoch time
func (b *MemoryBlockchain) SetNow(now int32) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.now = now
}

// AddBlock extends the chain by one block
func (b *MemoryBlockchain) AddBlock(id uint64) int32 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.blockIDs = append(b.blockIDs, id)
	return int32(len(b.blockIDs) - 1) //nolint:gosec
}

// MemoryBalances is a BalanceStore backed by a map
type MemoryBalances struct {
	mu       sync.Mutex
	balances map[uint64]Balance
}

func NewMemoryBalances() *MemoryBalances {
	return &MemoryBalances{balances: make(map[uint64]Balance)}
}

func (m *MemoryBalances) Balance(account uint64) (Balance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balances[account], nil
}

func (m *MemoryBalances) update(
	account uint64,
	confirmed int64,
	unconfirmed int64,
	eventID uint64,
) error {
	if eventID == 0 {
		return ErrNullEvent
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.apply(account, confirmed, unconfirmed)
}

func (m *MemoryBalances) apply(account uint64, confirmed, unconfirmed int64) error {
	b := m.balances[account]
	var err error
	if b.Confirmed, err = common.SafeAdd(b.Confirmed, confirmed); err != nil {
		return fmt.Errorf("account %s balance: %w", common.FormatID(account), err)
	}
	if b.Unconfirmed, err = common.SafeAdd(b.Unconfirmed, unconfirmed); err != nil {
		return fmt.Errorf("account %s unconfirmed balance: %w", common.FormatID(account), err)
	}
	m.balances[account] = b
	return nil
}

func (m *MemoryBalances) AddToBalance(account uint64, delta int64, eventID uint64) error {
	return m.update(account, delta, 0, eventID)
}

func (m *MemoryBalances) AddToUnconfirmed(account uint64, delta int64, eventID uint64) error {
	return m.update(account, 0, delta, eventID)
}

func (m *MemoryBalances) AddToBoth(account uint64, delta int64, eventID uint64) error {
	return m.update(account, delta, delta, eventID)
}

func (m *MemoryBalances) CreditGenesis(account uint64, amount int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.apply(account, amount, amount)
}

// MemoryTransactions is an append-only TransactionStore
type MemoryTransactions struct {
	mu      sync.RWMutex
	records []Record
}

func NewMemoryTransactions() *MemoryTransactions {
	return &MemoryTransactions{}
}

func (m *MemoryTransactions) find(match func(Record) bool, maxHeight int32) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for i := len(m.records) - 1; i >= 0; i-- {
		r := m.records[i]
		if r.Height <= maxHeight && match(r) {
			return &r, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryTransactions) FindTransaction(fullHash []byte, maxHeight int32) (*Record, error) {
	return m.find(func(r Record) bool { return bytes.Equal(r.FullHash, fullHash) }, maxHeight)
}

func (m *MemoryTransactions) FindTransactionByID(id uint64, maxHeight int32) (*Record, error) {
	return m.find(func(r Record) bool { return r.ID == id }, maxHeight)
}

func (m *MemoryTransactions) HasTransaction(fullHash []byte, maxHeight int32) (bool, error) {
	_, err := m.FindTransaction(fullHash, maxHeight)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (m *MemoryTransactions) SaveTransaction(record Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.records {
		if r.ID == record.ID && r.Height == record.Height {
			return fmt.Errorf(
				"transaction %s already saved at height %d",
				common.FormatID(record.ID),
				record.Height,
			)
		}
	}
	m.records = append(m.records, record)
	return nil
}

// MemoryPrunables is a map backed PrunableStore
type MemoryPrunables struct {
	mu    sync.RWMutex
	data  map[string][]byte
	loads int
}

func NewMemoryPrunables() *MemoryPrunables {
	return &MemoryPrunables{data: make(map[string][]byte)}
}

func (m *MemoryPrunables) GetPrunable(hash []byte) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loads++
	d, ok := m.data[string(hash)]
	if !ok {
		return nil, ErrNotFound
	}
	return slices.Clone(d), nil
}

func (m *MemoryPrunables) PutPrunable(hash []byte, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[string(hash)] = slices.Clone(data)
	return nil
}

// Loads returns the number of GetPrunable calls served
func (m *MemoryPrunables) Loads() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.loads
}

// MemoryPublicKeys is a map backed PublicKeys
type MemoryPublicKeys struct {
	mu   sync.RWMutex
	keys map[uint64][]byte
}

func NewMemoryPublicKeys() *MemoryPublicKeys {
	return &MemoryPublicKeys{keys: make(map[uint64][]byte)}
}

func (m *MemoryPublicKeys) PublicKey(account uint64) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	k, ok := m.keys[account]
	if !ok {
		return nil, ErrNotFound
	}
	return k, nil
}

func (m *MemoryPublicKeys) SetPublicKey(account uint64, publicKey []byte) error {
	if common.AccountID(publicKey) != account {
		return fmt.Errorf("public key does not match account %s", common.FormatID(account))
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.keys[account]; ok && !bytes.Equal(existing, publicKey) {
		return fmt.Errorf("account %s already has a different public key", common.FormatID(account))
	}
	m.keys[account] = slices.Clone(publicKey)
	return nil
}

type pollKey struct {
	chainID int32
	txID    uint64
}

// MemoryPhasingPolls is a map backed PhasingPolls
type MemoryPhasingPolls struct {
	mu    sync.RWMutex
	polls map[pollKey]Poll
	votes map[pollKey]int64
}

func NewMemoryPhasingPolls() *MemoryPhasingPolls {
	return &MemoryPhasingPolls{
		polls: make(map[pollKey]Poll),
		votes: make(map[pollKey]int64),
	}
}

func (m *MemoryPhasingPolls) AddPoll(poll Poll) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := pollKey{poll.ChainID, poll.TransactionID}
	if _, ok := m.polls[key]; ok {
		return fmt.Errorf("poll %s already exists", common.FormatID(poll.TransactionID))
	}
	m.polls[key] = poll
	return nil
}

func (m *MemoryPhasingPolls) Poll(chainID int32, transactionID uint64) (*Poll, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.polls[pollKey{chainID, transactionID}]
	if !ok {
		return nil, ErrNotFound
	}
	return &p, nil
}

func (m *MemoryPhasingPolls) Votes(chainID int32, transactionID uint64) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.votes[pollKey{chainID, transactionID}], nil
}

func (m *MemoryPhasingPolls) FinishingAt(height int32) ([]Poll, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var ret []Poll
	for _, p := range m.polls {
		if p.FinishHeight == height {
			ret = append(ret, p)
		}
	}
	slices.SortFunc(ret, func(a, b Poll) int { return cmp.Compare(a.TransactionID, b.TransactionID) })
	return ret, nil
}

// AddVote records weight in favour of a poll
func (m *MemoryPhasingPolls) AddVote(chainID int32, transactionID uint64, weight int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.votes[pollKey{chainID, transactionID}] += weight
}

// MemoryAccounts is a map backed Accounts
type MemoryAccounts struct {
	mu     sync.RWMutex
	info   map[uint64]AccountInfo
	leases map[uint64]Lease
}

func NewMemoryAccounts() *MemoryAccounts {
	return &MemoryAccounts{
		info:   make(map[uint64]AccountInfo),
		leases: make(map[uint64]Lease),
	}
}

func (m *MemoryAccounts) AccountInfo(account uint64) (*AccountInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	info, ok := m.info[account]
	if !ok {
		return nil, ErrNotFound
	}
	return &info, nil
}

func (m *MemoryAccounts) SetAccountInfo(account uint64, info AccountInfo) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.info[account] = info
	return nil
}

func (m *MemoryAccounts) Lease(lessor uint64) (*Lease, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	l, ok := m.leases[lessor]
	if !ok {
		return nil, ErrNotFound
	}
	return &l, nil
}

func (m *MemoryAccounts) SetLease(lease Lease) error {
	if lease.Lessor == lease.Lessee {
		return fmt.Errorf("account %s cannot lease to itself", common.FormatID(lease.Lessor))
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.leases[lease.Lessor] = lease
	return nil
}

// MemoryAssets is a map backed Assets
type MemoryAssets struct {
	mu       sync.Mutex
	assets   map[uint64]Asset
	holdings map[uint64]*MemoryBalances
}

func NewMemoryAssets() *MemoryAssets {
	return &MemoryAssets{
		assets:   make(map[uint64]Asset),
		holdings: make(map[uint64]*MemoryBalances),
	}
}

func (m *MemoryAssets) Asset(id uint64) (*Asset, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.assets[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &a, nil
}

func (m *MemoryAssets) AddAsset(asset Asset) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.assets[asset.ID]; ok {
		return fmt.Errorf("asset %s already exists", common.FormatID(asset.ID))
	}
	m.assets[asset.ID] = asset
	return nil
}

func (m *MemoryAssets) Holdings(asset uint64) BalanceStore {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.holdings[asset]
	if !ok {
		h = NewMemoryBalances()
		m.holdings[asset] = h
	}
	return h
}

// MemoryExchangeOrders is a map backed ExchangeOrders
type MemoryExchangeOrders struct {
	mu     sync.RWMutex
	orders map[uint64]ExchangeOrder
}

func NewMemoryExchangeOrders() *MemoryExchangeOrders {
	return &MemoryExchangeOrders{orders: make(map[uint64]ExchangeOrder)}
}

func (m *MemoryExchangeOrders) Order(id uint64) (*ExchangeOrder, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &o, nil
}

func (m *MemoryExchangeOrders) AddOrder(order ExchangeOrder) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.orders[order.ID]; ok {
		return fmt.Errorf("exchange order %s already exists", common.FormatID(order.ID))
	}
	m.orders[order.ID] = order
	return nil
}

func (m *MemoryExchangeOrders) SetQuantity(id uint64, quantity int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return ErrNotFound
	}
	if quantity <= 0 {
		delete(m.orders, id)
		return nil
	}
	o.Quantity = quantity
	m.orders[id] = o
	return nil
}

func (m *MemoryExchangeOrders) Offers(chainID, exchangeChainID int32) ([]ExchangeOrder, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var ret []ExchangeOrder
	for _, o := range m.orders {
		if o.ChainID == chainID && o.ExchangeChainID == exchangeChainID {
			ret = append(ret, o)
		}
	}
	slices.SortFunc(ret, CompareOffers)
	return ret, nil
}

// CompareOffers orders exchange orders by price, then height, then id
func CompareOffers(a, b ExchangeOrder) int {
	return cmp.Or(
		cmp.Compare(a.Price, b.Price),
		cmp.Compare(a.Height, b.Height),
		cmp.Compare(a.ID, b.ID),
	)
}

// MemoryEnv assembles in-memory collaborators for every chain of a registry
type MemoryEnv struct {
	Chain        *MemoryBlockchain
	Registry     *chain.Registry
	BalanceMap   map[int32]*MemoryBalances
	TxMap        map[int32]*MemoryTransactions
	PrunableData *MemoryPrunables
	Keys         *MemoryPublicKeys
	Polls        *MemoryPhasingPolls
	AccountData  *MemoryAccounts
	AssetData    *MemoryAssets
	Orders       *MemoryExchangeOrders
}

func NewMemoryEnv(registry *chain.Registry) *MemoryEnv {
	e := &MemoryEnv{
		Chain:        NewMemoryBlockchain(1),
		Registry:     registry,
		BalanceMap:   make(map[int32]*MemoryBalances),
		TxMap:        make(map[int32]*MemoryTransactions),
		PrunableData: NewMemoryPrunables(),
		Keys:         NewMemoryPublicKeys(),
		Polls:        NewMemoryPhasingPolls(),
		AccountData:  NewMemoryAccounts(),
		AssetData:    NewMemoryAssets(),
		Orders:       NewMemoryExchangeOrders(),
	}
	for _, c := range registry.All() {
		e.BalanceMap[c.ID] = NewMemoryBalances()
		e.TxMap[c.ID] = NewMemoryTransactions()
	}
	return e
}

func (e *MemoryEnv) Blockchain() Blockchain                       { return e.Chain }
func (e *MemoryEnv) Chains() *chain.Registry                      { return e.Registry }
func (e *MemoryEnv) Balances(c *chain.Chain) BalanceStore         { return e.BalanceMap[c.ID] }
func (e *MemoryEnv) Transactions(c *chain.Chain) TransactionStore { return e.TxMap[c.ID] }
func (e *MemoryEnv) Prunables() PrunableStore                     { return e.PrunableData }
func (e *MemoryEnv) PublicKeys() PublicKeys                       { return e.Keys }
func (e *MemoryEnv) PhasingPolls() PhasingPolls                   { return e.Polls }
func (e *MemoryEnv) Accounts() Accounts                           { return e.AccountData }
func (e *MemoryEnv) Assets() Assets                               { return e.AssetData }
func (e *MemoryEnv) ExchangeOrders() ExchangeOrders               { return e.Orders }
