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

// Package appendix implements the versioned sub-records carried by a
// transaction. Every transaction has exactly one Attachment, followed by any
// number of optional appendices selected by flag bits.
package appendix

import (
	"fmt"

	"github.com/blinklabs-io/strata/ledger/fee"
	"github.com/blinklabs-io/strata/ledger/state"
)

// TypeKey identifies a transaction type. Negative types belong to the parent
// chain, all others to child chains.
type TypeKey struct {
	Type    int8
	Subtype int8
}

// IsParent reports whether the key is in the parent chain code space
func (k TypeKey) IsParent() bool {
	return k.Type < 0
}

func (k TypeKey) String() string {
	return fmt.Sprintf("(%d,%d)", k.Type, k.Subtype)
}

// Appendage is the serialization contract shared by attachments and
// appendices
type Appendage interface {
	Name() string
	Version() int8
	// Size is the on-chain footprint, including the version byte
	Size() int
	// FullSize is the footprint including any prunable payload
	FullSize() int
	Write(w *Writer)
	JSON() Object
}

// Appendix is an optional sub-record selected by a flag bit equal to Code
type Appendix interface {
	Appendage
	Code() int
	Validate(tx Tx, env state.Env) error
	// ValidateAtFinish re-checks a phased appendix once its approval
	// condition has been met
	ValidateAtFinish(tx Tx, env state.Env) error
	// Apply commits the appendix effects at confirmation
	Apply(tx Tx, env state.Env) error
	Fees(tx Tx) fee.Schedule
	IsPhasable() bool
}

// Attachment is the mandatory first sub-record. Its validation, application
// and fees belong to the transaction type it reports.
type Attachment interface {
	Appendage
	TypeKey() TypeKey
}

// Prunable is implemented by sub-records whose payload can be dropped while
// the hash stays on-chain
type Prunable interface {
	Hash() []byte
	HasPrunableData() bool
	// LoadPrunable restores the payload from the prunable store. It is a
	// no-op when the payload is already present.
	LoadPrunable(tx Tx, env state.Env) error
	// PrunableData is the payload as kept in the prunable store
	PrunableData() []byte
}

// Encryptable is implemented by sub-records that hold plaintext until the
// transaction is built
type Encryptable interface {
	IsEncrypted() bool
	Encrypt(secret string, recipientPublicKey []byte) error
}

// Tx is the read-only view of the containing transaction
type Tx interface {
	ChainID() int32
	TypeKey() TypeKey
	Timestamp() int32
	Expiration() int32
	SenderPublicKey() []byte
	SenderID() uint64
	RecipientID() uint64
	Amount() int64
	Fee() int64
	ID() uint64
	FullHash() []byte
	// Height is the confirmation height, or math.MaxInt32 while
	// unconfirmed
	Height() int32
	Attachment() Attachment
	Appendages() []Appendix
}

// Base carries the version byte common to every sub-record
type Base struct {
	version int8
}

func NewBase(version int8) Base {
	return Base{version: version}
}

func (b Base) Version() int8 {
	return b.version
}

// Find returns the appendix with the given code, or nil
func Find(tx Tx, code int) Appendix {
	for _, a := range tx.Appendages() {
		if a.Code() == code {
			return a
		}
	}
	return nil
}

// IsPhased reports whether a phasable sub-record sits in a transaction
// carrying an active phasing appendix
func IsPhased(phasable bool, tx Tx) bool {
	return phasable && Find(tx, CodePhasing) != nil
}

