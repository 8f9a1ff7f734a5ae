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
	"bytes"

	"github.com/blinklabs-io/strata/database/types"
	"github.com/blinklabs-io/strata/ledger/state"
)

// PhasingPoll is a pending phased transaction. Linked full hashes are
// stored concatenated.
type PhasingPoll struct {
	ID               uint         `gorm:"primarykey"`
	ChainID          int32        `gorm:"uniqueIndex:idx_phasing_poll_tx"`
	TransactionID    types.Uint64 `gorm:"uniqueIndex:idx_phasing_poll_tx;type:text"`
	FullHash         []byte
	FinishHeight     int32 `gorm:"index"`
	VotingModel      int8
	Quorum           int64
	MinBalance       int64
	LinkedFullHashes []byte
	HashedSecret     []byte
	Algorithm        uint8
}

func (PhasingPoll) TableName() string {
	return "phasing_poll"
}

// PhasingVote accumulates the weight cast for a poll
type PhasingVote struct {
	ID            uint         `gorm:"primarykey"`
	ChainID       int32        `gorm:"uniqueIndex:idx_phasing_vote_tx"`
	TransactionID types.Uint64 `gorm:"uniqueIndex:idx_phasing_vote_tx;type:text"`
	Weight        int64
}

func (PhasingVote) TableName() string {
	return "phasing_vote"
}

func PhasingPollFromPoll(p state.Poll) PhasingPoll {
	return PhasingPoll{
		ChainID:          p.ChainID,
		TransactionID:    types.Uint64(p.TransactionID),
		FullHash:         p.FullHash,
		FinishHeight:     p.FinishHeight,
		VotingModel:      p.VotingModel,
		Quorum:           p.Quorum,
		MinBalance:       p.MinBalance,
		LinkedFullHashes: bytes.Join(p.LinkedFullHashes, nil),
		HashedSecret:     p.HashedSecret,
		Algorithm:        p.Algorithm,
	}
}

func (p *PhasingPoll) Poll() state.Poll {
	ret := state.Poll{
		ChainID:       p.ChainID,
		TransactionID: uint64(p.TransactionID),
		FullHash:      p.FullHash,
		FinishHeight:  p.FinishHeight,
		VotingModel:   p.VotingModel,
		Quorum:        p.Quorum,
		MinBalance:    p.MinBalance,
		HashedSecret:  p.HashedSecret,
		Algorithm:     p.Algorithm,
	}
	for i := 0; i+32 <= len(p.LinkedFullHashes); i += 32 {
		ret.LinkedFullHashes = append(ret.LinkedFullHashes, p.LinkedFullHashes[i:i+32])
	}
	return ret
}
