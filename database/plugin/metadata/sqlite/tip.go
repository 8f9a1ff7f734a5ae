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

// Package sqlite is the metadata store: confirmed transactions and balances
package sqlite

import (
	"errors"

	"github.com/blinklabs-io/strata/database/models"
	"github.com/blinklabs-io/strata/database/types"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const tipRowId = 1

// GetTip returns the current tip. A store without blocks returns a zero tip
// with height -1
func (d *MetadataStoreSqlite) GetTip(txn types.Txn) (models.Tip, error) {
	db, err := d.resolveDB(txn)
	if err != nil {
		return models.Tip{}, err
	}
	var tip models.Tip
	result := db.First(&tip, tipRowId)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return models.Tip{Height: -1}, nil
		}
		return models.Tip{}, result.Error
	}
	return tip, nil
}

// AddBlock records a block and moves the tip to it
func (d *MetadataStoreSqlite) AddBlock(block models.Block, txn types.Txn) error {
	db, err := d.resolveDB(txn)
	if err != nil {
		return err
	}
	if result := db.Create(&block); result.Error != nil {
		return result.Error
	}
	tip := models.Tip{
		ID:        tipRowId,
		BlockID:   block.BlockID,
		Height:    block.Height,
		Timestamp: block.Timestamp,
	}
	return db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"block_id", "height", "timestamp"}),
	}).Create(&tip).Error
}

// GetBlocks returns every block in height order
func (d *MetadataStoreSqlite) GetBlocks(txn types.Txn) ([]models.Block, error) {
	db, err := d.resolveDB(txn)
	if err != nil {
		return nil, err
	}
	var ret []models.Block
	if result := db.Order("height").Find(&ret); result.Error != nil {
		return nil, result.Error
	}
	return ret, nil
}
