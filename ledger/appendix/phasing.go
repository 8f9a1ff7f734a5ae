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

package appendix

import (
	"bytes"
	"encoding/hex"

	"github.com/blinklabs-io/strata/ledger/chain"
	"github.com/blinklabs-io/strata/ledger/common"
	"github.com/blinklabs-io/strata/ledger/fee"
	"github.com/blinklabs-io/strata/ledger/state"
)

const (
	PhasingName = "Phasing"

	MaxPhasingDuration    = 14 * 1440
	MaxLinkedTransactions = 10
	MaxHashedSecretLength = 100
	HashAlgorithmSha256   = 2
)

// Voting models
const (
	VotingModelNone        int8 = -1
	VotingModelAccount     int8 = 0
	VotingModelBalance     int8 = 1
	VotingModelTransaction int8 = 4
	VotingModelHash        int8 = 5
)

var phasingFee = fee.Func(func(a fee.Assessment) (int64, error) {
	p, ok := a.Appendage.(*Phasing)
	if !ok {
		return chain.ParentOneCoin, nil
	}
	units := int64(1 + len(p.linked) + (len(p.hashedSecret)+31)/32)
	return common.SafeMul(units, chain.ParentOneCoin)
})

// Phasing defers application of the phasable parts of a transaction until
// FinishHeight, subject to an approval condition
type Phasing struct {
	Base
	finishHeight int32
	votingModel  int8
	quorum       int64
	minBalance   int64
	linked       [][]byte
	hashedSecret []byte
	algorithm    uint8
}

// PhasingParams describes a new phasing appendix
type PhasingParams struct {
	FinishHeight     int32
	VotingModel      int8
	Quorum           int64
	MinBalance       int64
	LinkedFullHashes [][]byte
	HashedSecret     []byte
	Algorithm        uint8
}

func NewPhasing(p PhasingParams) *Phasing {
	return &Phasing{
		Base:         NewBase(1),
		finishHeight: p.FinishHeight,
		votingModel:  p.VotingModel,
		quorum:       p.Quorum,
		minBalance:   p.MinBalance,
		linked:       p.LinkedFullHashes,
		hashedSecret: p.HashedSecret,
		algorithm:    p.Algorithm,
	}
}

func parsePhasing(r *Reader) (Appendix, error) {
	p := &Phasing{Base: NewBase(r.Int8())}
	p.finishHeight = r.Int32()
	p.votingModel = r.Int8()
	p.quorum = r.Int64()
	p.minBalance = r.Int64()
	n := int(r.Uint8())
	if n > MaxLinkedTransactions {
		r.Fail(common.NewNotValid("too many linked transactions: %d", n))
	}
	for i := 0; i < n && r.Err() == nil; i++ {
		p.linked = append(p.linked, r.Bytes(common.HashSize))
	}
	if l := int(r.Uint8()); l > 0 {
		p.hashedSecret = r.Bytes(l)
	}
	p.algorithm = r.Uint8()
	return p, r.Err()
}

func parsePhasingJSON(o Object) (Appendix, error) {
	v, err := o.Version(PhasingName)
	if err != nil {
		return nil, err
	}
	p := &Phasing{Base: NewBase(v)}
	finish, err := o.Int("phasingFinishHeight")
	if err != nil {
		return nil, err
	}
	p.finishHeight = int32(finish) //nolint:gosec
	model, err := o.Int("phasingVotingModel")
	if err != nil {
		return nil, err
	}
	p.votingModel = int8(model) //nolint:gosec
	if p.quorum, err = o.OptInt("phasingQuorum", 0); err != nil {
		return nil, err
	}
	if p.minBalance, err = o.OptInt("phasingMinBalance", 0); err != nil {
		return nil, err
	}
	if p.linked, err = o.HexList("phasingLinkedFullHashes"); err != nil {
		return nil, err
	}
	if p.hashedSecret, err = o.Hex("phasingHashedSecret"); err != nil {
		return nil, err
	}
	alg, err := o.OptInt("phasingHashedSecretAlgorithm", 0)
	if err != nil {
		return nil, err
	}
	p.algorithm = uint8(alg) //nolint:gosec
	return p, nil
}

func (p *Phasing) Name() string               { return PhasingName }
func (p *Phasing) Code() int                  { return CodePhasing }
func (p *Phasing) IsPhasable() bool           { return false }
func (p *Phasing) FinishHeight() int32        { return p.finishHeight }
func (p *Phasing) VotingModel() int8          { return p.votingModel }
func (p *Phasing) Quorum() int64              { return p.quorum }
func (p *Phasing) LinkedFullHashes() [][]byte { return p.linked }
func (p *Phasing) Fees(Tx) fee.Schedule       { return fee.NewSchedule(0, phasingFee) }

func (p *Phasing) Size() int {
	return 1 + 4 + 1 + 8 + 8 + 1 + common.HashSize*len(p.linked) + 1 + len(p.hashedSecret) + 1
}

func (p *Phasing) FullSize() int {
	return p.Size()
}

func (p *Phasing) Write(w *Writer) {
	w.Int8(p.Version())
	w.Int32(p.finishHeight)
	w.Int8(p.votingModel)
	w.Int64(p.quorum)
	w.Int64(p.minBalance)
	w.Uint8(uint8(len(p.linked))) //nolint:gosec
	for _, h := range p.linked {
		w.Fixed(h, common.HashSize)
	}
	w.Uint8(uint8(len(p.hashedSecret))) //nolint:gosec
	w.Raw(p.hashedSecret)
	w.Uint8(p.algorithm)
}

func (p *Phasing) JSON() Object {
	o := Object{
		VersionKey(PhasingName): p.Version(),
		"phasingFinishHeight":   p.finishHeight,
		"phasingVotingModel":    p.votingModel,
		"phasingQuorum":         common.FormatID(uint64(p.quorum)),     //nolint:gosec
		"phasingMinBalance":     common.FormatID(uint64(p.minBalance)), //nolint:gosec
	}
	if len(p.linked) > 0 {
		o["phasingLinkedFullHashes"] = HexStrings(p.linked)
	}
	if len(p.hashedSecret) > 0 {
		o["phasingHashedSecret"] = hex.EncodeToString(p.hashedSecret)
		o["phasingHashedSecretAlgorithm"] = p.algorithm
	}
	return o
}

func (p *Phasing) Validate(_ Tx, env state.Env) error {
	height := env.Blockchain().Height()
	if p.finishHeight <= height+1 || p.finishHeight > height+MaxPhasingDuration {
		return common.NewNotCurrentlyValid("invalid phasing finish height %d at height %d", p.finishHeight, height)
	}
	if p.quorum < 0 || p.minBalance < 0 {
		return common.NewNotValid("phasing quorum and minimum balance must not be negative")
	}
	switch p.votingModel {
	case VotingModelNone:
		if p.quorum != 0 || p.minBalance != 0 {
			return common.NewNotValid("quorum must be 0 without voting")
		}
	case VotingModelAccount, VotingModelBalance:
		if p.quorum <= 0 {
			return common.NewNotValid("quorum must be positive")
		}
	case VotingModelTransaction:
		if len(p.linked) == 0 || len(p.linked) > MaxLinkedTransactions {
			return common.NewNotValid("invalid number of linked transactions %d", len(p.linked))
		}
		if p.quorum <= 0 || p.quorum > int64(len(p.linked)) {
			return common.NewNotValid("quorum %d must be between 1 and %d", p.quorum, len(p.linked))
		}
		for i, h := range p.linked {
			if len(h) != common.HashSize || common.IsZero(h) {
				return common.NewNotValid("invalid linked full hash")
			}
			for _, other := range p.linked[:i] {
				if bytes.Equal(h, other) {
					return common.NewNotValid("duplicate linked full hash %x", h)
				}
			}
		}
	case VotingModelHash:
		if p.quorum != 1 {
			return common.NewNotValid("quorum must be 1 for a hashed secret")
		}
		if len(p.hashedSecret) == 0 || len(p.hashedSecret) > MaxHashedSecretLength {
			return common.NewNotValid("invalid hashed secret length %d", len(p.hashedSecret))
		}
		if p.algorithm != HashAlgorithmSha256 {
			return common.NewNotValid("unsupported hashed secret algorithm %d", p.algorithm)
		}
	default:
		return common.NewNotValid("unsupported voting model %d", p.votingModel)
	}
	if p.votingModel != VotingModelTransaction && len(p.linked) > 0 {
		return common.NewNotValid("linked transactions require the transaction voting model")
	}
	if p.votingModel != VotingModelHash && (len(p.hashedSecret) > 0 || p.algorithm != 0) {
		return common.NewNotValid("hashed secret requires the hash voting model")
	}
	return nil
}

// ValidateAtFinish checks the approval condition
func (p *Phasing) ValidateAtFinish(tx Tx, env state.Env) error {
	approved, err := p.Approved(tx, env)
	if err != nil {
		return err
	}
	if !approved {
		return common.NewNotCurrentlyValid("phasing condition of %s not met", common.FormatID(tx.ID()))
	}
	return nil
}

// Approved reports whether the approval condition holds at the current
// height
func (p *Phasing) Approved(tx Tx, env state.Env) (bool, error) {
	switch p.votingModel {
	case VotingModelNone:
		return true, nil
	case VotingModelTransaction:
		c, err := env.Chains().Chain(tx.ChainID())
		if err != nil {
			return false, err
		}
		store := env.Transactions(c)
		height := env.Blockchain().Height()
		var count int64
		for _, h := range p.linked {
			ok, err := store.HasTransaction(h, height)
			if err != nil {
				return false, err
			}
			if ok {
				count++
			}
		}
		return count >= p.quorum, nil
	}
	votes, err := env.PhasingPolls().Votes(tx.ChainID(), tx.ID())
	if err != nil {
		return false, err
	}
	return votes >= p.quorum, nil
}

func (p *Phasing) Apply(tx Tx, env state.Env) error {
	return env.PhasingPolls().AddPoll(state.Poll{
		ChainID:          tx.ChainID(),
		TransactionID:    tx.ID(),
		FullHash:         tx.FullHash(),
		FinishHeight:     p.finishHeight,
		VotingModel:      p.votingModel,
		Quorum:           p.quorum,
		MinBalance:       p.minBalance,
		LinkedFullHashes: p.linked,
		HashedSecret:     p.hashedSecret,
		Algorithm:        p.algorithm,
	})
}
