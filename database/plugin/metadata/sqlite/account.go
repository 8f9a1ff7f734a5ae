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
	"bytes"
	"errors"
	"fmt"

	"github.com/blinklabs-io/strata/database/models"
	"github.com/blinklabs-io/strata/database/types"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GetAccountInfo returns the declared name and description of an account,
// or nil if it never declared one
func (d *MetadataStoreSqlite) GetAccountInfo(
	account uint64,
	txn types.Txn,
) (*models.AccountInfo, error) {
	db, err := d.resolveDB(txn)
	if err != nil {
		return nil, err
	}
	ret := &models.AccountInfo{}
	result := db.First(ret, "account = ?", types.Uint64(account))
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, result.Error
	}
	return ret, nil
}

func (d *MetadataStoreSqlite) SetAccountInfo(
	info models.AccountInfo,
	txn types.Txn,
) error {
	db, err := d.resolveDB(txn)
	if err != nil {
		return err
	}
	return db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "account"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "description"}),
	}).Create(&info).Error
}

// GetLease returns the current lease of a lessor, or nil
func (d *MetadataStoreSqlite) GetLease(
	lessor uint64,
	txn types.Txn,
) (*models.Lease, error) {
	db, err := d.resolveDB(txn)
	if err != nil {
		return nil, err
	}
	ret := &models.Lease{}
	result := db.First(ret, "lessor = ?", types.Uint64(lessor))
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, result.Error
	}
	return ret, nil
}

func (d *MetadataStoreSqlite) SetLease(lease models.Lease, txn types.Txn) error {
	db, err := d.resolveDB(txn)
	if err != nil {
		return err
	}
	return db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "lessor"}},
		DoUpdates: clause.AssignmentColumns([]string{"lessee", "from_height", "to_height"}),
	}).Create(&lease).Error
}

// GetPublicKey returns the public key recorded for an account, or nil
func (d *MetadataStoreSqlite) GetPublicKey(
	account uint64,
	txn types.Txn,
) ([]byte, error) {
	db, err := d.resolveDB(txn)
	if err != nil {
		return nil, err
	}
	var ret models.PublicKey
	result := db.First(&ret, "account = ?", types.Uint64(account))
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, result.Error
	}
	return ret.PublicKey, nil
}

// SetPublicKey records the public key of an account. A key, once set,
// cannot change.
func (d *MetadataStoreSqlite) SetPublicKey(
	account uint64,
	publicKey []byte,
	txn types.Txn,
) error {
	existing, err := d.GetPublicKey(account, txn)
	if err != nil {
		return err
	}
	if existing != nil {
		if !bytes.Equal(existing, publicKey) {
			return fmt.Errorf("account %d already has a different public key", account)
		}
		return nil
	}
	db, err := d.resolveDB(txn)
	if err != nil {
		return err
	}
	return db.Create(&models.PublicKey{
		Account:   types.Uint64(account),
		PublicKey: publicKey,
	}).Error
}
