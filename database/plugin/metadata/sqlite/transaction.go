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
	"fmt"

	"github.com/blinklabs-io/strata/database/models"
	"github.com/blinklabs-io/strata/database/types"
	"gorm.io/gorm"
)

// ErrTransactionNotFound is returned when no confirmed transaction matches
var ErrTransactionNotFound = errors.New("transaction not found")

// SetTransaction saves a confirmed transaction. Rows are append-only and
// unique by (transaction id, height)
func (d *MetadataStoreSqlite) SetTransaction(
	namespace string,
	tx models.Transaction,
	txn types.Txn,
) error {
	db, err := d.resolveDB(txn)
	if err != nil {
		return err
	}
	if result := db.Table(models.TransactionTable(namespace)).Create(&tx); result.Error != nil {
		return fmt.Errorf("create transaction: %w", result.Error)
	}
	return nil
}

func (d *MetadataStoreSqlite) findTransaction(
	namespace string,
	maxHeight int32,
	txn types.Txn,
	query string,
	arg any,
) (*models.Transaction, error) {
	db, err := d.resolveDB(txn)
	if err != nil {
		return nil, err
	}
	ret := &models.Transaction{}
	result := db.Table(models.TransactionTable(namespace)).
		Where(query, arg).
		Where("height <= ?", maxHeight).
		Order("height DESC, id DESC").
		First(ret)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrTransactionNotFound
		}
		return nil, result.Error
	}
	return ret, nil
}

// GetTransactionByFullHash returns the most recent transaction with the
// given full hash at or below maxHeight
func (d *MetadataStoreSqlite) GetTransactionByFullHash(
	namespace string,
	fullHash []byte,
	maxHeight int32,
	txn types.Txn,
) (*models.Transaction, error) {
	return d.findTransaction(namespace, maxHeight, txn, "full_hash = ?", fullHash)
}

// GetTransactionByID returns the most recent transaction with the given id
// at or below maxHeight
func (d *MetadataStoreSqlite) GetTransactionByID(
	namespace string,
	id uint64,
	maxHeight int32,
	txn types.Txn,
) (*models.Transaction, error) {
	return d.findTransaction(namespace, maxHeight, txn, "transaction_id = ?", types.Uint64(id))
}
