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

	"github.com/blinklabs-io/strata/database/models"
	"github.com/blinklabs-io/strata/database/types"
	"gorm.io/gorm"
)

// GetExchangeOrder returns an open order, or nil
func (d *MetadataStoreSqlite) GetExchangeOrder(
	orderID uint64,
	txn types.Txn,
) (*models.ExchangeOrder, error) {
	db, err := d.resolveDB(txn)
	if err != nil {
		return nil, err
	}
	ret := &models.ExchangeOrder{}
	result := db.First(ret, "order_id = ?", types.Uint64(orderID))
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, result.Error
	}
	return ret, nil
}

func (d *MetadataStoreSqlite) AddExchangeOrder(order models.ExchangeOrder, txn types.Txn) error {
	db, err := d.resolveDB(txn)
	if err != nil {
		return err
	}
	return db.Create(&order).Error
}

// SetExchangeOrderQuantity updates the unfilled quantity of an order and
// deletes the order once it is filled. It reports whether the order existed.
func (d *MetadataStoreSqlite) SetExchangeOrderQuantity(
	orderID uint64,
	quantity int64,
	txn types.Txn,
) (bool, error) {
	db, err := d.resolveDB(txn)
	if err != nil {
		return false, err
	}
	var result *gorm.DB
	if quantity <= 0 {
		result = db.Where("order_id = ?", types.Uint64(orderID)).Delete(&models.ExchangeOrder{})
	} else {
		result = db.Model(&models.ExchangeOrder{}).
			Where("order_id = ?", types.Uint64(orderID)).
			Update("quantity", quantity)
	}
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// GetExchangeOrders returns the open orders of one chain pair ordered by
// price and height
func (d *MetadataStoreSqlite) GetExchangeOrders(
	chainID int32,
	exchangeChainID int32,
	txn types.Txn,
) ([]models.ExchangeOrder, error) {
	db, err := d.resolveDB(txn)
	if err != nil {
		return nil, err
	}
	var ret []models.ExchangeOrder
	result := db.Where("chain_id = ? AND exchange_chain_id = ?", chainID, exchangeChainID).
		Order("price, height").
		Find(&ret)
	if result.Error != nil {
		return nil, result.Error
	}
	return ret, nil
}
