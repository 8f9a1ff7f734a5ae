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

package badger

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/blinklabs-io/strata/database/types"
)

const commitMarkerLen = 12

// GetCommitMarker returns the stored marker, or a zero marker on a fresh
// store
func (d *BlobStoreBadger) GetCommitMarker() (types.CommitMarker, error) {
	txn := d.NewTransaction(false)
	defer txn.Rollback() //nolint:errcheck

	val, err := d.Get(txn, []byte(types.CommitMarkerBlobKey))
	if err != nil {
		if errors.Is(err, types.ErrBlobKeyNotFound) {
			return types.CommitMarker{Height: -1}, nil
		}
		return types.CommitMarker{}, err
	}
	if len(val) != commitMarkerLen {
		return types.CommitMarker{}, fmt.Errorf("commit marker has %d bytes", len(val))
	}
	return types.CommitMarker{
		Sequence: binary.BigEndian.Uint64(val[:8]),
		Height:   int32(binary.BigEndian.Uint32(val[8:])), //nolint:gosec
	}, nil
}

func (d *BlobStoreBadger) SetCommitMarker(txn types.Txn, m types.CommitMarker) error {
	if txn == nil {
		return types.ErrNilTxn
	}
	buf := make([]byte, commitMarkerLen)
	binary.BigEndian.PutUint64(buf, m.Sequence)
	binary.BigEndian.PutUint32(buf[8:], uint32(m.Height)) //nolint:gosec
	return d.Set(txn, []byte(types.CommitMarkerBlobKey), buf)
}
