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

	"github.com/blinklabs-io/strata/database/types"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const commitMarkerRowId = 1

// CommitMarker is the single row mirroring the blob store marker
type CommitMarker struct {
	ID       uint `gorm:"primarykey"`
	Sequence types.Uint64
	Height   int32
}

func (CommitMarker) TableName() string {
	return "commit_marker"
}

func (d *MetadataStoreSqlite) GetCommitMarker() (types.CommitMarker, error) {
	var row CommitMarker
	if err := d.DB().First(&row, commitMarkerRowId).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return types.CommitMarker{Height: -1}, nil
		}
		return types.CommitMarker{}, err
	}
	return types.CommitMarker{
		Sequence: uint64(row.Sequence),
		Height:   row.Height,
	}, nil
}

func (d *MetadataStoreSqlite) SetCommitMarker(txn types.Txn, m types.CommitMarker) error {
	if txn == nil {
		return types.ErrNilTxn
	}
	db, err := d.resolveDB(txn)
	if err != nil {
		return err
	}
	row := CommitMarker{
		ID:       commitMarkerRowId,
		Sequence: types.Uint64(m.Sequence),
		Height:   m.Height,
	}
	return db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"sequence", "height"}),
	}).Create(&row).Error
}
