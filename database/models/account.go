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

import "github.com/blinklabs-io/strata/database/types"

type AccountInfo struct {
	ID          uint         `gorm:"primarykey"`
	Account     types.Uint64 `gorm:"uniqueIndex;type:text"`
	Name        string       `gorm:"size:100"`
	Description string       `gorm:"size:1000"`
}

func (AccountInfo) TableName() string {
	return "account_info"
}

type Lease struct {
	ID         uint         `gorm:"primarykey"`
	Lessor     types.Uint64 `gorm:"uniqueIndex;type:text"`
	Lessee     types.Uint64 `gorm:"index;type:text"`
	FromHeight int32
	ToHeight   int32
}

func (Lease) TableName() string {
	return "lease"
}

type PublicKey struct {
	ID        uint         `gorm:"primarykey"`
	Account   types.Uint64 `gorm:"uniqueIndex;type:text"`
	PublicKey []byte       `gorm:"size:32"`
}

func (PublicKey) TableName() string {
	return "public_key"
}
