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

// Balance is the confirmed and unconfirmed balance of an account on one
// chain. Like Transaction it lives in a per-chain table.
type Balance struct {
	ID          uint         `gorm:"primarykey"`
	Account     types.Uint64 `gorm:"type:text"`
	Confirmed   int64
	Unconfirmed int64
}

// BalanceTable returns the balance table of a chain namespace
func BalanceTable(namespace string) string {
	return namespace + "_balance"
}
