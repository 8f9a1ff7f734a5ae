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

// Tip is the single row describing the last applied parent block
type Tip struct {
	ID        uint         `gorm:"primarykey"`
	BlockID   types.Uint64 `gorm:"type:text"`
	Height    int32
	Timestamp int32
}

func (Tip) TableName() string {
	return "tip"
}

// Block records the id of each applied parent block by height
type Block struct {
	ID               uint         `gorm:"primarykey"`
	BlockID          types.Uint64 `gorm:"uniqueIndex;type:text"`
	Height           int32        `gorm:"uniqueIndex"`
	Timestamp        int32
	TransactionCount int
}

func (Block) TableName() string {
	return "block"
}
