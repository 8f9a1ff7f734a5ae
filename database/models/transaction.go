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

package models

import (
	"github.com/blinklabs-io/strata/database/types"
	"github.com/blinklabs-io/strata/ledger/state"
)

// Transaction is a confirmed transaction row. Every chain has its own table,
// named by TransactionTable, so the model carries no table name or index tags.
type Transaction struct {
	ID            uint         `gorm:"primarykey"`
	TransactionID types.Uint64 `gorm:"type:text"`
	FullHash      []byte
	Height        int32
	BlockID       types.Uint64 `gorm:"type:text"`
	BlockIndex    int16
	Timestamp     int32
	ParentID      types.Uint64 `gorm:"type:text"`
	Bytes         []byte
}

// TransactionTable returns the transaction table of a chain namespace
func TransactionTable(namespace string) string {
	return namespace + "_transaction"
}

func TransactionFromRecord(r state.Record) Transaction {
	return Transaction{
		TransactionID: types.Uint64(r.ID),
		FullHash:      r.FullHash,
		Height:        r.Height,
		BlockID:       types.Uint64(r.BlockID),
		BlockIndex:    r.Index,
		Timestamp:     r.Timestamp,
		ParentID:      types.Uint64(r.ParentID),
		Bytes:         r.Bytes,
	}
}

// Record converts the row back to the ledger representation
func (t *Transaction) Record() *state.Record {
	return &state.Record{
		ID:        uint64(t.TransactionID),
		FullHash:  t.FullHash,
		Height:    t.Height,
		BlockID:   uint64(t.BlockID),
		Index:     t.BlockIndex,
		Timestamp: t.Timestamp,
		ParentID:  uint64(t.ParentID),
		Bytes:     t.Bytes,
	}
}
