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

package sqlite

import (
	"errors"
	"fmt"

	"github.com/blinklabs-io/strata/database/models"
	"github.com/blinklabs-io/strata/database/types"
	"github.com/blinklabs-io/strata/ledger/common"
	"gorm.io/gorm"
)

// GetAsset returns an issued asset, or nil
func (d *MetadataStoreSqlite) GetAsset(
	assetID uint64,
	txn types.Txn,
) (*models.Asset, error) {
	db, err := d.resolveDB(txn)
	if err != nil {
		return nil, err
	}
	ret := &models.Asset{}
	result := db.First(ret, "asset_id = ?", types.Uint64(assetID))
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, result.Error
	}
	return ret, nil
}

func (d *MetadataStoreSqlite) AddAsset(asset models.Asset, txn types.Txn) error {
	db, err := d.resolveDB(txn)
	if err != nil {
		return err
	}
	return db.Create(&asset).Error
}

// GetAssetBalance returns the holding of an account, zero when it holds none
func (d *MetadataStoreSqlite) GetAssetBalance(
	assetID uint64,
	account uint64,
	txn types.Txn,
) (models.AssetBalance, error) {
	db, err := d.resolveDB(txn)
	if err != nil {
		return models.AssetBalance{}, err
	}
	return getAssetBalance(db, assetID, account)
}

func getAssetBalance(db *gorm.DB, assetID uint64, account uint64) (models.AssetBalance, error) {
	var ret models.AssetBalance
	result := db.Where(
		"asset = ? AND account = ?",
		types.Uint64(assetID),
		types.Uint64(account),
	).First(&ret)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return models.AssetBalance{
				Asset:   types.Uint64(assetID),
				Account: types.Uint64(account),
			}, nil
		}
		return models.AssetBalance{}, result.Error
	}
	return ret, nil
}

// AddToAssetBalance adjusts the confirmed and unconfirmed holding of an
// account with overflow checks
func (d *MetadataStoreSqlite) AddToAssetBalance(
	assetID uint64,
	account uint64,
	confirmed int64,
	unconfirmed int64,
	txn types.Txn,
) error {
	db, err := d.resolveDB(txn)
	if err != nil {
		return err
	}
	bal, err := getAssetBalance(db, assetID, account)
	if err != nil {
		return err
	}
	if bal.Confirmed, err = common.SafeAdd(bal.Confirmed, confirmed); err != nil {
		return fmt.Errorf("account %s asset %s balance: %w", common.FormatID(account), common.FormatID(assetID), err)
	}
	if bal.Unconfirmed, err = common.SafeAdd(bal.Unconfirmed, unconfirmed); err != nil {
		return fmt.Errorf(
			"account %s asset %s unconfirmed balance: %w",
			common.FormatID(account),
			common.FormatID(assetID),
			err,
		)
	}
	if bal.ID == 0 {
		return db.Create(&bal).Error
	}
	return db.Save(&bal).Error
}

// ResetUnconfirmedAssets drops every unconfirmed asset reservation
func (d *MetadataStoreSqlite) ResetUnconfirmedAssets(txn types.Txn) error {
	db, err := d.resolveDB(txn)
	if err != nil {
		return err
	}
	return db.Model(&models.AssetBalance{}).
		Where("unconfirmed <> confirmed").
		Update("unconfirmed", gorm.Expr("confirmed")).Error
}
