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

// ExchangeOrder is an open coin exchange order. Filled orders are deleted.
type ExchangeOrder struct {
	ID              uint         `gorm:"primarykey"`
	OrderID         types.Uint64 `gorm:"uniqueIndex;type:text"`
	FullHash        []byte
	ChainID         int32        `gorm:"index:idx_exchange_order_pair"`
	ExchangeChainID int32        `gorm:"index:idx_exchange_order_pair"`
	Account         types.Uint64 `gorm:"index;type:text"`
	Quantity        int64
	Price           int64
	Height          int32
}

func (ExchangeOrder) TableName() string {
	return "exchange_order"
}

func ExchangeOrderFromState(o state.ExchangeOrder) ExchangeOrder {
	return ExchangeOrder{
		OrderID:         types.Uint64(o.ID),
		FullHash:        o.FullHash,
		ChainID:         o.ChainID,
		ExchangeChainID: o.ExchangeChainID,
		Account:         types.Uint64(o.Account),
		Quantity:        o.Quantity,
		Price:           o.Price,
		Height:          o.Height,
	}
}

func (o *ExchangeOrder) State() state.ExchangeOrder {
	return state.ExchangeOrder{
		ID:              uint64(o.OrderID),
		FullHash:        o.FullHash,
		ChainID:         o.ChainID,
		ExchangeChainID: o.ExchangeChainID,
		Account:         uint64(o.Account),
		Quantity:        o.Quantity,
		Price:           o.Price,
		Height:          o.Height,
	}
}
