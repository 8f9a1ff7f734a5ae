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

package database

import (
	"errors"
	"fmt"
	"sync"

	"github.com/blinklabs-io/strata/database/types"
)

// Txn pairs a metadata and a blob transaction. A read-write Txn stamps both
// stores with the same commit marker so a torn commit is caught on open.
type Txn struct {
	db        *Database
	blob      types.Txn
	metadata  types.Txn
	mu        sync.Mutex
	done      bool
	readWrite bool
	heightSet bool
	height    int32
}

func NewTxn(db *Database, readWrite bool) *Txn {
	return &Txn{
		db:        db,
		readWrite: readWrite,
		blob:      db.blob.NewTransaction(readWrite),
		metadata:  db.metadata.Transaction(),
	}
}

func (t *Txn) DB() *Database { return t.db }

// Metadata returns the metadata half, or nil for a nil Txn so stores fall
// back to autocommit reads
func (t *Txn) Metadata() types.Txn {
	if t == nil {
		return nil
	}
	return t.metadata
}

func (t *Txn) Blob() types.Txn {
	if t == nil {
		return nil
	}
	return t.blob
}

// SetHeight records the parent block height this Txn writes. Without it
// the commit marker keeps the previous height.
func (t *Txn) SetHeight(height int32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.height = height
	t.heightSet = true
}

// Do runs fn and commits, or rolls back when fn fails
func (t *Txn) Do(fn func(*Txn) error) error {
	if err := fn(t); err != nil {
		if rbErr := t.Rollback(); rbErr != nil {
			return fmt.Errorf("rollback failed: %w: original error: %w", rbErr, err)
		}
		return err
	}
	if err := t.Commit(); err != nil {
		return fmt.Errorf("commit failed: %w", err)
	}
	return nil
}

func (t *Txn) Commit() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return nil
	}
	if !t.readWrite {
		return t.discard()
	}
	t.done = true
	marker, err := t.db.writeCommitMarker(t)
	if err != nil {
		_ = t.blob.Rollback()
		_ = t.metadata.Rollback()
		return fmt.Errorf("stage commit marker: %w", err)
	}
	// Blob goes first: a failed blob commit leaves both stores on the old
	// marker
	if err := t.blob.Commit(); err != nil {
		_ = t.metadata.Rollback()
		return fmt.Errorf("blob commit failed: %w", err)
	}
	if err := t.metadata.Commit(); err != nil {
		t.db.logger.Error(
			"partial commit: blob committed, metadata failed",
			"component", "database",
			"marker", marker.String(),
			"error", err,
		)
		return fmt.Errorf("metadata commit failed after blob commit: %w", err)
	}
	t.db.height.Store(marker.Height)
	return nil
}

func (t *Txn) Rollback() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.discard()
}

func (t *Txn) discard() error {
	if t.done {
		return nil
	}
	t.done = true
	return errors.Join(
		wrapErr("blob rollback", t.blob.Rollback()),
		wrapErr("metadata rollback", t.metadata.Rollback()),
	)
}

func wrapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}
