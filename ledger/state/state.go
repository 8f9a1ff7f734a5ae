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

// Package state defines the ledger collaborators that transaction validation
// and application read and mutate, along with in-memory implementations.
package state

import (
	"errors"

	"github.com/blinklabs-io/strata/ledger/chain"
)

var (
	ErrNotFound  = errors.New("not found")
	ErrNullEvent = errors.New("balance change requires an event id")
)

// Blockchain is the read-only view of the live parent chain
type Blockchain interface {
	Height() int32
	// BlockIDAtHeight returns the id of the block at height, or false if the
	// chain has not reached it
	BlockIDAtHeight(height int32) (uint64, bool)
	// Now returns the current time in seconds since chain.Epoch
	Now() int32
}

// Balance is the confirmed and unconfirmed amount held by an account
type Balance struct {
	Confirmed   int64
	Unconfirmed int64
}

// BalanceStore holds the balances of one chain. Every mutation names the
// event (normally a transaction id) that caused it.
type BalanceStore interface {
	Balance(account uint64) (Balance, error)
	AddToBalance(account uint64, delta int64, eventID uint64) error
	AddToUnconfirmed(account uint64, delta int64, eventID uint64) error
	AddToBoth(account uint64, delta int64, eventID uint64) error
	// CreditGenesis is the only mutation allowed without an event id
	CreditGenesis(account uint64, amount int64) error
}

// Record is a confirmed transaction as persisted in a chain's store
type Record struct {
	ID        uint64
	FullHash  []byte
	Height    int32
	BlockID   uint64
	Index     int16
	Timestamp int32
	// ParentID is the id of the parent chain transaction that carried a
	// child transaction into a block
	ParentID uint64
	Bytes    []byte
}

// TransactionStore holds the confirmed transactions of one chain. Lookups
// return ErrNotFound when nothing at or below maxHeight matches.
type TransactionStore interface {
	FindTransaction(fullHash []byte, maxHeight int32) (*Record, error)
	FindTransactionByID(id uint64, maxHeight int32) (*Record, error)
	HasTransaction(fullHash []byte, maxHeight int32) (bool, error)
	SaveTransaction(record Record) error
}

// PrunableStore holds payloads whose on-chain footprint is only a hash
type PrunableStore interface {
	GetPrunable(hash []byte) ([]byte, error)
	PutPrunable(hash []byte, data []byte) error
}

// PublicKeys records the public key announced or revealed for an account
type PublicKeys interface {
	PublicKey(account uint64) ([]byte, error)
	SetPublicKey(account uint64, publicKey []byte) error
}

// Poll is a pending phased transaction
type Poll struct {
	ChainID          int32
	TransactionID    uint64
	FullHash         []byte
	FinishHeight     int32
	VotingModel      int8
	Quorum           int64
	MinBalance       int64
	LinkedFullHashes [][]byte
	HashedSecret     []byte
	Algorithm        uint8
}

// PhasingPolls tracks polls and the votes cast for them
type PhasingPolls interface {
	AddPoll(poll Poll) error
	Poll(chainID int32, transactionID uint64) (*Poll, error)
	Votes(chainID int32, transactionID uint64) (int64, error)
	// FinishingAt returns the polls whose finish height is height
	FinishingAt(height int32) ([]Poll, error)
}

// AccountInfo is the self-declared name and description of an account
type AccountInfo struct {
	Name        string
	Description string
}

// Lease delegates the lessor's effective balance to the lessee between two
// heights
type Lease struct {
	Lessor     uint64
	Lessee     uint64
	FromHeight int32
	ToHeight   int32
}

// Accounts holds account properties shared by every chain
type Accounts interface {
	AccountInfo(account uint64) (*AccountInfo, error)
	SetAccountInfo(account uint64, info AccountInfo) error
	Lease(lessor uint64) (*Lease, error)
	SetLease(lease Lease) error
}

// Asset is an issued asset. Its id is the id of the issuing transaction.
type Asset struct {
	ID          uint64
	ChainID     int32
	Issuer      uint64
	Name        string
	Description string
	Quantity    int64
	Decimals    int8
	Height      int32
}

// Assets holds the issued assets and their holdings. Holdings are shared by
// every chain.
type Assets interface {
	Asset(id uint64) (*Asset, error)
	AddAsset(asset Asset) error
	// Holdings returns the balances of one asset
	Holdings(asset uint64) BalanceStore
}

// ExchangeOrder is an open coin exchange order. The account offers Quantity
// of the ChainID coin and asks Price units of the ExchangeChainID coin for
// each whole coin offered.
type ExchangeOrder struct {
	ID              uint64
	FullHash        []byte
	ChainID         int32
	ExchangeChainID int32
	Account         uint64
	Quantity        int64
	Price           int64
	Height          int32
}

// ExchangeOrders is the open order book of the coin exchange
type ExchangeOrders interface {
	Order(id uint64) (*ExchangeOrder, error)
	AddOrder(order ExchangeOrder) error
	// SetQuantity records the unfilled quantity of an order and removes
	// the order once nothing is left
	SetQuantity(id uint64, quantity int64) error
	// Offers returns the open orders offering the chainID coin for the
	// exchangeChainID coin, lowest price first, then oldest first
	Offers(chainID, exchangeChainID int32) ([]ExchangeOrder, error)
}

// Env is everything validation and application may touch
type Env interface {
	Blockchain() Blockchain
	Chains() *chain.Registry
	Balances(c *chain.Chain) BalanceStore
	Transactions(c *chain.Chain) TransactionStore
	Prunables() PrunableStore
	PublicKeys() PublicKeys
	PhasingPolls() PhasingPolls
	Accounts() Accounts
	Assets() Assets
	ExchangeOrders() ExchangeOrders
}
