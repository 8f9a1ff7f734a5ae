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
	"github.com/blinklabs-io/strata/database/models"
	"github.com/blinklabs-io/strata/database/types"
)

// GetTip returns the last applied parent block. An empty database reports
// height -1
func (d *Database) GetTip(txn *Txn) (models.Tip, error) {
	return d.metadata.GetTip(txn.Metadata())
}

// AddBlock records an applied parent block and moves the tip to it
func (d *Database) AddBlock(
	height int32,
	blockID uint64,
	timestamp int32,
	txCount int,
	txn *Txn,
) error {
	if txn != nil {
		txn.SetHeight(height)
	}
	return d.metadata.AddBlock(
		models.Block{
			BlockID:          types.Uint64(blockID),
			Height:           height,
			Timestamp:        timestamp,
			TransactionCount: txCount,
		},
		txn.Metadata(),
	)
}

// BlockIDs returns the ids of every applied block indexed by height
func (d *Database) BlockIDs(txn *Txn) ([]uint64, error) {
	blocks, err := d.metadata.GetBlocks(txn.Metadata())
	if err != nil {
		return nil, err
	}
	ret := make([]uint64, 0, len(blocks))
	for _, b := range blocks {
		ret = append(ret, uint64(b.BlockID))
	}
	return ret, nil
}
