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
	"github.com/blinklabs-io/strata/ledger/common"
	"gorm.io/gorm"
)

// GetBalance returns the balance row of an account, zero when the account
// has never been credited
func (d *MetadataStoreSqlite) GetBalance(
	namespace string,
	account uint64,
	txn types.Txn,
) (models.Balance, error) {
	db, err := d.resolveDB(txn)
	if err != nil {
		return models.Balance{}, err
	}
	return getBalance(db, namespace, account)
}

func getBalance(db *gorm.DB, namespace string, account uint64) (models.Balance, error) {
	var ret models.Balance
	result := db.Table(models.BalanceTable(namespace)).
		Where("account = ?", types.Uint64(account)).
		First(&ret)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return models.Balance{Account: types.Uint64(account)}, nil
		}
		return models.Balance{}, result.Error
	}
	return ret, nil
}

// AddToBalance adjusts the confirmed and unconfirmed balances of an account
// with overflow checks
func (d *MetadataStoreSqlite) AddToBalance(
	namespace string,
	account uint64,
	confirmed int64,
	unconfirmed int64,
	txn types.Txn,
) error {
	db, err := d.resolveDB(txn)
	if err != nil {
		return err
	}
	bal, err := getBalance(db, namespace, account)
	if err != nil {
		return err
	}
	if bal.Confirmed, err = common.SafeAdd(bal.Confirmed, confirmed); err != nil {
		return fmt.Errorf("account %s balance: %w", common.FormatID(account), err)
	}
	if bal.Unconfirmed, err = common.SafeAdd(bal.Unconfirmed, unconfirmed); err != nil {
		return fmt.Errorf("account %s unconfirmed balance: %w", common.FormatID(account), err)
	}
	table := db.Table(models.BalanceTable(namespace))
	if bal.ID == 0 {
		return table.Create(&bal).Error
	}
	return table.Save(&bal).Error
}

// ResetUnconfirmed drops every unconfirmed reservation of a chain. The
// unconfirmed pool does not survive a restart, so neither do its holds.
func (d *MetadataStoreSqlite) ResetUnconfirmed(namespace string, txn types.Txn) error {
	db, err := d.resolveDB(txn)
	if err != nil {
		return err
	}
	return db.Table(models.BalanceTable(namespace)).
		Where("unconfirmed <> confirmed").
		Update("unconfirmed", gorm.Expr("confirmed")).Error
}
