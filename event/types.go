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

package event

const (
	TransactionAddedEventType     = EventType("mempool.add_tx")
	TransactionRemovedEventType   = EventType("mempool.remove_tx")
	TransactionBroadcastEventType = EventType("mempool.broadcast_tx")
	BlockAppliedEventType         = EventType("ledger.block_applied")
	BundleBroadcastEventType      = EventType("bundler.bundle_broadcast")
)

// TransactionAddedEvent is published when a transaction enters the
// unconfirmed pool
type TransactionAddedEvent struct {
	ChainID       int32
	TransactionID uint64
	FullHash      []byte
	Fee           int64
}

// TransactionRemovedEvent is published when a transaction leaves the pool
// without being confirmed, or when it is confirmed
type TransactionRemovedEvent struct {
	ChainID       int32
	TransactionID uint64
	Confirmed     bool
}

// TransactionBroadcastEvent asks the relay layer to forward a transaction
type TransactionBroadcastEvent struct {
	ChainID       int32
	TransactionID uint64
	Bytes         []byte
}

// BlockAppliedEvent is published after a block has been applied to the
// ledger
type BlockAppliedEvent struct {
	Height           int32
	BlockID          uint64
	Timestamp        int32
	TransactionCount int
}

// BundleBroadcastEvent is published by a bundler after broadcasting a child
// block transaction
type BundleBroadcastEvent struct {
	ChainID       int32
	Account       uint64
	TransactionID uint64
	Children      int
	Fee           int64
}

func (e TransactionAddedEvent) EventChainID() int32     { return e.ChainID }
func (e TransactionRemovedEvent) EventChainID() int32   { return e.ChainID }
func (e TransactionBroadcastEvent) EventChainID() int32 { return e.ChainID }
func (e BundleBroadcastEvent) EventChainID() int32      { return e.ChainID }
