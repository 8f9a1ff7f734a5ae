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

package transaction

import (
	"bytes"
	"fmt"
	"slices"

	"github.com/blinklabs-io/strata/ledger/appendix"
	"github.com/blinklabs-io/strata/ledger/chain"
	"github.com/blinklabs-io/strata/ledger/common"
	"github.com/blinklabs-io/strata/ledger/crypto"
	"github.com/blinklabs-io/strata/ledger/state"
	"github.com/blinklabs-io/strata/ledger/txtype"
)

// Builder collects the fields of a new transaction. Signing is deferred to
// Build.
type Builder struct {
	chain           *chain.Chain
	typ             *txtype.Type
	senderPublicKey []byte
	amount          int64
	fee             int64
	deadline        int16
	attachment      appendix.Attachment
	recipientID     uint64
	recipientPK     []byte
	appendages      []appendix.Appendix
	referenced      []byte
	feeRate         int64
	blockchain      state.Blockchain

	timestamp    int32
	timestampSet bool
	ecHeight     int32
	ecID         uint64
	anchorSet    bool
}

// NewBuilder starts a transaction of typ on c. The attachment must report
// typ's key.
func NewBuilder(
	c *chain.Chain,
	typ *txtype.Type,
	senderPublicKey []byte,
	amount int64,
	fee int64,
	deadline int16,
	attachment appendix.Attachment,
) *Builder {
	return &Builder{
		chain:           c,
		typ:             typ,
		senderPublicKey: senderPublicKey,
		amount:          amount,
		fee:             fee,
		deadline:        deadline,
		attachment:      attachment,
	}
}

func (b *Builder) Recipient(id uint64) *Builder {
	b.recipientID = id
	return b
}

// RecipientPublicKey is used to encrypt appendices addressed to the
// recipient
func (b *Builder) RecipientPublicKey(publicKey []byte) *Builder {
	b.recipientPK = publicKey
	return b
}

func (b *Builder) Appendix(a appendix.Appendix) *Builder {
	b.appendages = append(b.appendages, a)
	return b
}

func (b *Builder) Timestamp(ts int32) *Builder {
	b.timestamp = ts
	b.timestampSet = true
	return b
}

// Anchor pins the recent block the transaction was built against
func (b *Builder) Anchor(height int32, blockID uint64) *Builder {
	b.ecHeight = height
	b.ecID = blockID
	b.anchorSet = true
	return b
}

// Reference makes a child transaction depend on another transaction of the
// same chain
func (b *Builder) Reference(fullHash []byte) *Builder {
	b.referenced = fullHash
	return b
}

// FeeRate is the price of one whole parent coin in child chain units. It
// prices a child transaction built without an explicit fee.
func (b *Builder) FeeRate(rate int64) *Builder {
	b.feeRate = rate
	return b
}

// Blockchain supplies the clock, anchor and height for defaults
func (b *Builder) Blockchain(bc state.Blockchain) *Builder {
	b.blockchain = bc
	return b
}

// preBuild freezes the timestamp and anchor and encrypts any appendix still
// holding plaintext
func (b *Builder) preBuild(secret string) error {
	if !b.timestampSet {
		if b.blockchain == nil {
			return ErrNoBlockchain
		}
		b.timestamp = b.blockchain.Now()
		b.timestampSet = true
	}
	if !b.anchorSet {
		if b.blockchain == nil {
			return ErrNoBlockchain
		}
		height := max(b.blockchain.Height()-AnchorDistance, 0)
		id, ok := b.blockchain.BlockIDAtHeight(height)
		if !ok {
			return fmt.Errorf("no block at anchor height %d", height)
		}
		b.ecHeight, b.ecID = height, id
		b.anchorSet = true
	}
	if secret == "" {
		return nil
	}
	for _, a := range b.appendages {
		enc, ok := a.(appendix.Encryptable)
		if !ok || enc.IsEncrypted() {
			continue
		}
		target := b.recipientPK
		if a.Code() == appendix.CodeEncryptToSelfMessage {
			target = b.senderPublicKey
		}
		if target == nil {
			return fmt.Errorf("%s: %w", a.Name(), ErrNoRecipientPK)
		}
		if err := enc.Encrypt(secret, target); err != nil {
			return fmt.Errorf("encrypt %s: %w", a.Name(), err)
		}
	}
	return nil
}

// Build produces the transaction. An empty secret leaves it unsigned, which
// is enough for fee estimation.
func (b *Builder) Build(secret string) (*Transaction, error) {
	if b.chain == nil || b.typ == nil || b.attachment == nil {
		return nil, common.NewNotValid("transaction needs a chain, a type and an attachment")
	}
	if b.attachment.TypeKey() != b.typ.Key {
		return nil, common.NewNotValid("attachment %s does not belong to type %s", b.attachment.Name(), b.typ)
	}
	if b.typ.IsParent() != b.chain.IsParent() {
		return nil, common.NewNotValid("type %s cannot be used on chain %s", b.typ, b.chain)
	}
	if b.chain.IsParent() && (len(b.appendages) > 0 || b.referenced != nil) {
		return nil, common.NewNotValid("parent chain transactions carry only their attachment")
	}
	if secret != "" && !bytes.Equal(crypto.PublicKey(secret), b.senderPublicKey) {
		return nil, ErrKeyMismatch
	}
	if err := b.preBuild(secret); err != nil {
		return nil, err
	}
	apps := slices.Clone(b.appendages)
	slices.SortFunc(apps, func(x, y appendix.Appendix) int { return x.Code() - y.Code() })
	for i := 1; i < len(apps); i++ {
		if apps[i].Code() == apps[i-1].Code() {
			return nil, common.NewNotValid("duplicate %s appendix", apps[i].Name())
		}
	}
	t := &Transaction{
		chain:           b.chain,
		typ:             b.typ,
		version:         Version,
		timestamp:       b.timestamp,
		deadline:        b.deadline,
		senderPublicKey: b.senderPublicKey,
		recipientID:     b.recipientID,
		amount:          b.amount,
		fee:             b.fee,
		ecBlockHeight:   b.ecHeight,
		ecBlockID:       b.ecID,
		referenced:      b.referenced,
		attachment:      b.attachment,
		appendages:      apps,
		link:            linkage{height: Unconfirmed, index: -1, blockTimestamp: -1},
	}
	if t.fee <= 0 {
		if err := b.fillFee(t); err != nil {
			return nil, err
		}
	}
	t.seal()
	if secret != "" {
		t.signature = crypto.Sign(t.UnsignedBytes(), secret)
		t.seal()
	}
	return t, nil
}

// fillFee prices a transaction built without a fee. The parent chain pays the
// minimum fee, a child chain pays it converted at the fee rate.
func (b *Builder) fillFee(t *Transaction) error {
	if !t.chain.IsParent() && b.feeRate <= 0 {
		return nil
	}
	if b.blockchain == nil {
		return ErrNoBlockchain
	}
	minFee, err := t.MinimumFee(b.blockchain.Height())
	if err != nil {
		return err
	}
	if t.chain.IsParent() {
		t.fee = minFee
		return nil
	}
	fee, err := common.MulDivCeil(minFee, b.feeRate, chain.ParentOneCoin)
	if err != nil {
		return fmt.Errorf("child fee at rate %d: %w", b.feeRate, err)
	}
	t.fee = fee
	return nil
}
