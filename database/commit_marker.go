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
	"fmt"

	"github.com/blinklabs-io/strata/database/types"
)

// CommitMarkerError reports stores that disagree on the last commit. The
// Database is still returned with it so the caller can recover.
type CommitMarkerError struct {
	Metadata types.CommitMarker
	Blob     types.CommitMarker
}

func (e CommitMarkerError) Error() string {
	return fmt.Sprintf(
		"commit marker mismatch: %s (metadata) != %s (blob)",
		e.Metadata,
		e.Blob,
	)
}

// CommitMarker returns the marker of the last coordinated commit
func (d *Database) CommitMarker() (types.CommitMarker, error) {
	return d.metadata.GetCommitMarker()
}

func (d *Database) checkCommitMarker() error {
	meta, err := d.metadata.GetCommitMarker()
	if err != nil {
		return fmt.Errorf("read metadata commit marker: %w", err)
	}
	blob, err := d.blob.GetCommitMarker()
	if err != nil {
		return fmt.Errorf("read blob commit marker: %w", err)
	}
	d.sequence.Store(max(meta.Sequence, blob.Sequence))
	d.height.Store(meta.Height)
	if meta != blob {
		return CommitMarkerError{Metadata: meta, Blob: blob}
	}
	return nil
}

// writeCommitMarker stages the next marker in both halves of txn
func (d *Database) writeCommitMarker(txn *Txn) (types.CommitMarker, error) {
	m := types.CommitMarker{
		Sequence: d.sequence.Add(1),
		Height:   d.height.Load(),
	}
	if txn.heightSet {
		m.Height = txn.height
	}
	if err := d.metadata.SetCommitMarker(txn.Metadata(), m); err != nil {
		return m, err
	}
	return m, d.blob.SetCommitMarker(txn.Blob(), m)
}
