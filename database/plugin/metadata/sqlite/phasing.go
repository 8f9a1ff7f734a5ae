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

func (d *MetadataStoreSqlite) AddPhasingPoll(
	poll models.PhasingPoll,
	txn types.Txn,
) error {
	db, err := d.resolveDB(txn)
	if err != nil {
		return err
	}
	return db.Create(&poll).Error
}

// GetPhasingPoll returns a poll, or nil if there is none
func (d *MetadataStoreSqlite) GetPhasingPoll(
	chainID int32,
	transactionID uint64,
	txn types.Txn,
) (*models.PhasingPoll, error) {
	db, err := d.resolveDB(txn)
	if err != nil {
		return nil, err
	}
	ret := &models.PhasingPoll{}
	result := db.First(
		ret,
		"chain_id = ? AND transaction_id = ?",
		chainID,
		types.Uint64(transactionID),
	)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, result.Error
	}
	return ret, nil
}

// GetPhasingPollsFinishingAt returns the polls finishing at height ordered
// by insertion
func (d *MetadataStoreSqlite) GetPhasingPollsFinishingAt(
	height int32,
	txn types.Txn,
) ([]models.PhasingPoll, error) {
	db, err := d.resolveDB(txn)
	if err != nil {
		return nil, err
	}
	var ret []models.PhasingPoll
	if result := db.Where("finish_height = ?", height).Order("id").Find(&ret); result.Error != nil {
		return nil, result.Error
	}
	return ret, nil
}

func (d *MetadataStoreSqlite) GetPhasingVotes(
	chainID int32,
	transactionID uint64,
	txn types.Txn,
) (int64, error) {
	db, err := d.resolveDB(txn)
	if err != nil {
		return 0, err
	}
	var vote models.PhasingVote
	result := db.First(
		&vote,
		"chain_id = ? AND transaction_id = ?",
		chainID,
		types.Uint64(transactionID),
	)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return 0, nil
		}
		return 0, result.Error
	}
	return vote.Weight, nil
}

// AddPhasingVote adds weight in favour of a poll
func (d *MetadataStoreSqlite) AddPhasingVote(
	chainID int32,
	transactionID uint64,
	weight int64,
	txn types.Txn,
) error {
	db, err := d.resolveDB(txn)
	if err != nil {
		return err
	}
	vote := models.PhasingVote{
		ChainID:       chainID,
		TransactionID: types.Uint64(transactionID),
		Weight:        weight,
	}
	return db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "chain_id"}, {Name: "transaction_id"}},
		DoUpdates: clause.Assignments(map[string]any{
			"weight": gorm.Expr("weight + ?", weight),
		}),
	}).Create(&vote).Error
}
