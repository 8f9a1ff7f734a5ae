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

package types

import (
	"database/sql/driver"
	"errors"
	"fmt"
	"strconv"
)

var (
	// ErrBlobKeyNotFound is returned by blob reads of a missing key
	ErrBlobKeyNotFound = errors.New("blob key not found")
	// ErrTxnWrongType is returned when a store is handed another store's txn
	ErrTxnWrongType = errors.New("invalid transaction type")
	ErrNilTxn       = errors.New("nil transaction")
)

// Txn is the per-store half of a database transaction
type Txn interface {
	Commit() error
	Rollback() error
}

// CommitMarker identifies the last coordinated commit. Both stores keep a
// copy and must agree on open.
type CommitMarker struct {
	Sequence uint64
	// Height of the last parent block written, or -1 before genesis
	Height int32
}

func (m CommitMarker) IsZero() bool { return m.Sequence == 0 }

func (m CommitMarker) String() string {
	return fmt.Sprintf("#%d@%d", m.Sequence, m.Height)
}

// Uint64 stores an unsigned id as decimal text. The sqlite driver rejects
// uint64 values with the high bit set and ids use the full range.
//
//nolint:recvcheck
type Uint64 uint64

func (u Uint64) Value() (driver.Value, error) {
	return strconv.FormatUint(uint64(u), 10), nil
}

func (u *Uint64) Scan(val any) error {
	var s string
	switch v := val.(type) {
	case string:
		s = v
	case []byte:
		s = string(v)
	default:
		return fmt.Errorf("cannot scan %T into Uint64", val)
	}
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return fmt.Errorf("scan Uint64: %w", err)
	}
	*u = Uint64(n)
	return nil
}
