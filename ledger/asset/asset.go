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

// Package asset holds the child chain asset issuance and transfer types.
// Assets are global: an asset issued on one child chain can be held and
// transferred on every child chain.
package asset

import (
	"errors"
	"strconv"
	"strings"

	"github.com/blinklabs-io/strata/ledger/appendix"
	"github.com/blinklabs-io/strata/ledger/chain"
	"github.com/blinklabs-io/strata/ledger/common"
	"github.com/blinklabs-io/strata/ledger/fee"
	"github.com/blinklabs-io/strata/ledger/state"
	"github.com/blinklabs-io/strata/ledger/txtype"
)

const (
	IssuanceName = "AssetIssuance"
	TransferName = "AssetTransfer"

	MinNameLength        = 3
	MaxNameLength        = 10
	MaxDescriptionLength = 1000
	MaxDecimals          = 8
	// MaxQuantity caps the initial quantity of an asset, in its smallest unit
	MaxQuantity = 1_000_000_000 * 100_000_000
	// MaxSingletonDescriptionLength is the longest description an
	// indivisible single unit asset may carry at the reduced fee
	MaxSingletonDescriptionLength = 160

	nameAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"
)

var (
	KeyIssuance = txtype.Key{Type: 2, Subtype: 0}
	KeyTransfer = txtype.Key{Type: 2, Subtype: 1}
)

// IssuanceFee is the fee of a regular asset issuance, in parent chain units
const IssuanceFee = 1000 * chain.ParentOneCoin

// TransferFee is the fee of an asset transfer, in parent chain units
const TransferFee = chain.ParentOneCoin / 100

var singletonFee = fee.SizeBased{
	Constant: chain.ParentOneCoin,
	PerUnit:  chain.ParentOneCoin,
	UnitSize: 32,
	Size: func(a fee.Appendage) int {
		if i, ok := a.(*Issuance); ok {
			return len(i.description)
		}
		return 0
	},
}

// issuanceFee charges singletons by description size and everything else a
// flat fee, with part of it passed to the ancestor levels
var issuanceFee = fee.WithBackFees{
	Fee: fee.Func(func(a fee.Assessment) (int64, error) {
		if i, ok := a.Appendage.(*Issuance); ok && i.IsSingleton() {
			return singletonFee.Fee(a)
		}
		return IssuanceFee, nil
	}),
	Shares:      []int64{3, 2, 1},
	Denominator: 10,
}

// ChildTypes returns the child chain types of this package
func ChildTypes() []*txtype.Type {
	return []*txtype.Type{issuanceType(), transferType()}
}

// Issuance creates an asset whose whole quantity is credited to the sender
type Issuance struct {
	appendix.Base
	name        string
	description string
	quantity    int64
	decimals    int8
}

func NewIssuance(name, description string, quantity int64, decimals int8) *Issuance {
	return &Issuance{
		Base:        appendix.NewBase(1),
		name:        name,
		description: description,
		quantity:    quantity,
		decimals:    decimals,
	}
}

func (i *Issuance) Name() string        { return IssuanceName }
func (i *Issuance) TypeKey() txtype.Key { return KeyIssuance }
func (i *Issuance) AssetName() string   { return i.name }
func (i *Issuance) Description() string { return i.description }
func (i *Issuance) Quantity() int64     { return i.quantity }
func (i *Issuance) Decimals() int8      { return i.decimals }
func (i *Issuance) Size() int           { return 1 + 1 + len(i.name) + 2 + len(i.description) + 8 + 1 }
func (i *Issuance) FullSize() int       { return i.Size() }

// IsSingleton reports whether the asset is one indivisible unit with a
// short description
func (i *Issuance) IsSingleton() bool {
	return i.quantity == 1 && i.decimals == 0 && len(i.description) <= MaxSingletonDescriptionLength
}

func (i *Issuance) Write(w *appendix.Writer) {
	w.Int8(i.Version())
	w.Uint8(uint8(len(i.name))) //nolint:gosec
	w.Raw([]byte(i.name))
	w.Uint16(uint16(len(i.description))) //nolint:gosec
	w.Raw([]byte(i.description))
	w.Int64(i.quantity)
	w.Int8(i.decimals)
}

func (i *Issuance) JSON() appendix.Object {
	return appendix.Object{
		appendix.VersionKey(IssuanceName): i.Version(),
		"name":                            i.name,
		"description":                     i.description,
		"quantityQNT":                     strconv.FormatInt(i.quantity, 10),
		"decimals":                        i.decimals,
	}
}

func parseIssuance(r *appendix.Reader) (appendix.Attachment, error) {
	i := &Issuance{Base: appendix.NewBase(r.Int8())}
	i.name = string(r.Bytes(int(r.Uint8())))
	i.description = string(r.Bytes(int(r.Uint16())))
	i.quantity = r.Int64()
	i.decimals = r.Int8()
	return i, r.Err()
}

func parseIssuanceJSON(o appendix.Object) (appendix.Attachment, error) {
	v, err := o.Version(IssuanceName)
	if err != nil {
		return nil, err
	}
	i := &Issuance{Base: appendix.NewBase(v)}
	if i.name, err = o.String("name"); err != nil {
		return nil, err
	}
	if i.description, err = o.String("description"); err != nil {
		return nil, err
	}
	if len(i.name) > MaxNameLength || len(i.description) > MaxDescriptionLength {
		return nil, common.NewNotValid("asset name or description too long")
	}
	if i.quantity, err = o.Int("quantityQNT"); err != nil {
		return nil, err
	}
	decimals, err := o.Int("decimals")
	if err != nil {
		return nil, err
	}
	if decimals < 0 || decimals > MaxDecimals {
		return nil, common.NewNotValid("invalid asset decimals %d", decimals)
	}
	i.decimals = int8(decimals)
	return i, nil
}

func validateName(name string) error {
	if len(name) < MinNameLength || len(name) > MaxNameLength {
		return common.NewNotValid("asset name length %d outside %d..%d", len(name), MinNameLength, MaxNameLength)
	}
	for _, r := range strings.ToLower(name) {
		if !strings.ContainsRune(nameAlphabet, r) {
			return common.NewNotValid("invalid asset name %q", name)
		}
	}
	return nil
}

func issuanceType() *txtype.Type {
	return &txtype.Type{
		Key:                 KeyIssuance,
		Name:                IssuanceName,
		Phasable:            true,
		PhasingSafe:         true,
		Fees:                fee.NewSchedule(1, issuanceFee),
		ParseAttachment:     parseIssuance,
		ParseAttachmentJSON: parseIssuanceJSON,
		ValidateAttachment: func(tx txtype.Tx, env state.Env) error {
			i, ok := tx.Attachment().(*Issuance)
			if !ok {
				return common.NewNotValid("unexpected attachment %T", tx.Attachment())
			}
			if err := validateName(i.name); err != nil {
				return err
			}
			switch {
			case len(i.description) > MaxDescriptionLength:
				return common.NewNotValid("asset description longer than %d", MaxDescriptionLength)
			case i.decimals < 0 || i.decimals > MaxDecimals:
				return common.NewNotValid("invalid asset decimals %d", i.decimals)
			case i.quantity <= 0 || i.quantity > MaxQuantity:
				return common.NewNotValid("invalid asset quantity %d", i.quantity)
			}
			_, err := env.Assets().Asset(tx.ID())
			switch {
			case err == nil:
				return common.NewNotCurrentlyValid("duplicate asset id %s", common.FormatID(tx.ID()))
			case !errors.Is(err, state.ErrNotFound):
				return err
			}
			return nil
		},
		ApplyAttachment: func(tx txtype.Tx, env state.Env) error {
			i := tx.Attachment().(*Issuance)
			err := env.Assets().AddAsset(state.Asset{
				ID:          tx.ID(),
				ChainID:     tx.ChainID(),
				Issuer:      tx.SenderID(),
				Name:        i.name,
				Description: i.description,
				Quantity:    i.quantity,
				Decimals:    i.decimals,
				Height:      env.Blockchain().Height(),
			})
			if err != nil {
				return err
			}
			return env.Assets().Holdings(tx.ID()).AddToBoth(tx.SenderID(), i.quantity, tx.ID())
		},
		// one regular issuance per block
		BlockDuplicateKey: func(tx txtype.Tx) (txtype.Key, string, int, bool) {
			i, ok := tx.Attachment().(*Issuance)
			if !ok || i.IsSingleton() {
				return KeyIssuance, "", 0, false
			}
			return KeyIssuance, IssuanceName, 0, true
		},
	}
}

// Transfer moves a quantity of an asset from the sender to the recipient
type Transfer struct {
	appendix.Base
	asset    uint64
	quantity int64
}

func NewTransfer(asset uint64, quantity int64) *Transfer {
	return &Transfer{Base: appendix.NewBase(1), asset: asset, quantity: quantity}
}

func (t *Transfer) Name() string        { return TransferName }
func (t *Transfer) TypeKey() txtype.Key { return KeyTransfer }
func (t *Transfer) Asset() uint64       { return t.asset }
func (t *Transfer) Quantity() int64     { return t.quantity }
func (t *Transfer) Size() int           { return 1 + 8 + 8 }
func (t *Transfer) FullSize() int       { return t.Size() }

func (t *Transfer) Write(w *appendix.Writer) {
	w.Int8(t.Version())
	w.Uint64(t.asset)
	w.Int64(t.quantity)
}

func (t *Transfer) JSON() appendix.Object {
	return appendix.Object{
		appendix.VersionKey(TransferName): t.Version(),
		"asset":                           common.FormatID(t.asset),
		"quantityQNT":                     strconv.FormatInt(t.quantity, 10),
	}
}

func parseTransfer(r *appendix.Reader) (appendix.Attachment, error) {
	t := &Transfer{Base: appendix.NewBase(r.Int8())}
	t.asset = r.Uint64()
	t.quantity = r.Int64()
	return t, r.Err()
}

func parseTransferJSON(o appendix.Object) (appendix.Attachment, error) {
	v, err := o.Version(TransferName)
	if err != nil {
		return nil, err
	}
	t := &Transfer{Base: appendix.NewBase(v)}
	if t.asset, err = o.ID("asset"); err != nil {
		return nil, err
	}
	if t.quantity, err = o.Int("quantityQNT"); err != nil {
		return nil, err
	}
	return t, nil
}

func transfer(tx txtype.Tx) (*Transfer, error) {
	t, ok := tx.Attachment().(*Transfer)
	if !ok {
		return nil, common.NewNotValid("unexpected attachment %T", tx.Attachment())
	}
	return t, nil
}

func transferType() *txtype.Type {
	return &txtype.Type{
		Key:                 KeyTransfer,
		Name:                TransferName,
		CanHaveRecipient:    true,
		MustHaveRecipient:   true,
		Phasable:            true,
		PhasingSafe:         true,
		Fees:                fee.NewSchedule(1, fee.Constant(TransferFee)),
		ParseAttachment:     parseTransfer,
		ParseAttachmentJSON: parseTransferJSON,
		ValidateAttachment: func(tx txtype.Tx, env state.Env) error {
			t, err := transfer(tx)
			if err != nil {
				return err
			}
			if tx.Amount() != 0 || t.asset == 0 || t.quantity <= 0 {
				return common.NewNotValid("invalid asset transfer of %d of asset %s", t.quantity, common.FormatID(t.asset))
			}
			a, err := env.Assets().Asset(t.asset)
			if errors.Is(err, state.ErrNotFound) {
				return common.NewNotCurrentlyValid("asset %s does not exist yet", common.FormatID(t.asset))
			}
			if err != nil {
				return err
			}
			if t.quantity > a.Quantity {
				return common.NewNotValid("transfer of %d exceeds the asset quantity %d", t.quantity, a.Quantity)
			}
			return nil
		},
		ApplyAttachmentUnconfirmed: func(tx txtype.Tx, env state.Env) (bool, error) {
			t, err := transfer(tx)
			if err != nil {
				return false, err
			}
			holdings := env.Assets().Holdings(t.asset)
			bal, err := holdings.Balance(tx.SenderID())
			if err != nil {
				return false, err
			}
			if bal.Unconfirmed < t.quantity {
				return false, nil
			}
			return true, holdings.AddToUnconfirmed(tx.SenderID(), -t.quantity, tx.ID())
		},
		UndoAttachmentUnconfirmed: func(tx txtype.Tx, env state.Env) error {
			t, err := transfer(tx)
			if err != nil {
				return err
			}
			return env.Assets().Holdings(t.asset).AddToUnconfirmed(tx.SenderID(), t.quantity, tx.ID())
		},
		ApplyAttachment: func(tx txtype.Tx, env state.Env) error {
			t, err := transfer(tx)
			if err != nil {
				return err
			}
			holdings := env.Assets().Holdings(t.asset)
			if err := holdings.AddToBalance(tx.SenderID(), -t.quantity, tx.ID()); err != nil {
				return err
			}
			return holdings.AddToBoth(tx.RecipientID(), t.quantity, tx.ID())
		},
	}
}
