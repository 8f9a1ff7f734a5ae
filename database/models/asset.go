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

type Asset struct {
	ID          uint         `gorm:"primarykey"`
	AssetID     types.Uint64 `gorm:"uniqueIndex;type:text"`
	ChainID     int32
	Issuer      types.Uint64 `gorm:"index;type:text"`
	Name        string       `gorm:"size:10"`
	Description string       `gorm:"size:1000"`
	Quantity    int64
	Decimals    int8
	Height      int32
}

func (Asset) TableName() string {
	return "asset"
}

// AssetBalance is the holding of one account in one asset
type AssetBalance struct {
	ID          uint         `gorm:"primarykey"`
	Asset       types.Uint64 `gorm:"uniqueIndex:idx_asset_balance_holder;type:text"`
	Account     types.Uint64 `gorm:"uniqueIndex:idx_asset_balance_holder;type:text"`
	Confirmed   int64
	Unconfirmed int64
}

func (AssetBalance) TableName() string {
	return "asset_balance"
}

func AssetFromState(a state.Asset) Asset {
	return Asset{
		AssetID:     types.Uint64(a.ID),
		ChainID:     a.ChainID,
		Issuer:      types.Uint64(a.Issuer),
		Name:        a.Name,
		Description: a.Description,
		Quantity:    a.Quantity,
		Decimals:    a.Decimals,
		Height:      a.Height,
	}
}

func (a *Asset) State() state.Asset {
	return state.Asset{
		ID:          uint64(a.AssetID),
		ChainID:     a.ChainID,
		Issuer:      uint64(a.Issuer),
		Name:        a.Name,
		Description: a.Description,
		Quantity:    a.Quantity,
		Decimals:    a.Decimals,
		Height:      a.Height,
	}
}
