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

package payment

import (
	"strings"
	"unicode/utf8"

	"github.com/blinklabs-io/strata/ledger/appendix"
	"github.com/blinklabs-io/strata/ledger/chain"
	"github.com/blinklabs-io/strata/ledger/common"
	"github.com/blinklabs-io/strata/ledger/fee"
	"github.com/blinklabs-io/strata/ledger/state"
	"github.com/blinklabs-io/strata/ledger/txtype"
)

const (
	AccountInfoName = "AccountInfo"
	LeasingName     = "EffectiveBalanceLeasing"

	MaxAccountNameLength        = 100
	MaxAccountDescriptionLength = 1000

	MinLeasingPeriod = 1440
	MaxLeasingPeriod = 65535
	// LeasingDelay is the number of blocks before a new lease takes effect
	LeasingDelay = 1440
)

var accountInfoFee = fee.SizeBased{
	Constant: chain.ParentOneCoin / 10,
	PerUnit:  chain.ParentOneCoin / 10,
	UnitSize: 32,
	Size: func(a fee.Appendage) int {
		info, ok := a.(*AccountInfo)
		if !ok {
			return 0
		}
		return len(info.name) + len(info.description)
	},
}

// AccountInfo sets the name and description of the sender
type AccountInfo struct {
	appendix.Base
	name        string
	description string
}

func NewAccountInfo(name, description string) *AccountInfo {
	return &AccountInfo{
		Base:        appendix.NewBase(1),
		name:        strings.TrimSpace(name),
		description: strings.TrimSpace(description),
	}
}

func (a *AccountInfo) Name() string        { return AccountInfoName }
func (a *AccountInfo) TypeKey() txtype.Key { return KeyAccountInfo }
func (a *AccountInfo) AccountName() string { return a.name }
func (a *AccountInfo) Description() string { return a.description }
func (a *AccountInfo) Size() int           { return 1 + 1 + len(a.name) + 2 + len(a.description) }
func (a *AccountInfo) FullSize() int       { return a.Size() }

func (a *AccountInfo) Write(w *appendix.Writer) {
	w.Int8(a.Version())
	w.Uint8(uint8(len(a.name))) //nolint:gosec
	w.Raw([]byte(a.name))
	w.Uint16(uint16(len(a.description))) //nolint:gosec
	w.Raw([]byte(a.description))
}

func (a *AccountInfo) JSON() appendix.Object {
	return appendix.Object{
		appendix.VersionKey(AccountInfoName): a.Version(),
		"name":                               a.name,
		"description":                        a.description,
	}
}

func parseAccountInfo(r *appendix.Reader) (appendix.Attachment, error) {
	a := &AccountInfo{Base: appendix.NewBase(r.Int8())}
	a.name = string(r.Bytes(int(r.Uint8())))
	a.description = string(r.Bytes(int(r.Uint16())))
	return a, r.Err()
}

func parseAccountInfoJSON(o appendix.Object) (appendix.Attachment, error) {
	v, err := o.Version(AccountInfoName)
	if err != nil {
		return nil, err
	}
	a := &AccountInfo{Base: appendix.NewBase(v)}
	if a.name, err = o.String("name"); err != nil {
		return nil, err
	}
	if a.description, err = o.String("description"); err != nil {
		return nil, err
	}
	// the wire format carries the lengths in one and two bytes
	if len(a.name) > MaxAccountNameLength || len(a.description) > MaxAccountDescriptionLength {
		return nil, common.NewNotValid("account name or description too long")
	}
	return a, nil
}

func accountInfoType() *txtype.Type {
	return &txtype.Type{
		Key:                 KeyAccountInfo,
		Name:                AccountInfoName,
		Phasable:            true,
		PhasingSafe:         true,
		Fees:                fee.NewSchedule(1, accountInfoFee),
		ParseAttachment:     parseAccountInfo,
		ParseAttachmentJSON: parseAccountInfoJSON,
		ValidateAttachment: func(tx txtype.Tx, _ state.Env) error {
			a, ok := tx.Attachment().(*AccountInfo)
			if !ok {
				return common.NewNotValid("unexpected attachment %T", tx.Attachment())
			}
			if len(a.name) > MaxAccountNameLength || len(a.description) > MaxAccountDescriptionLength {
				return common.NewNotValid("account name or description too long")
			}
			if !utf8.ValidString(a.name) || !utf8.ValidString(a.description) {
				return common.NewNotValid("account name and description must be UTF-8")
			}
			return nil
		},
		ApplyAttachment: func(tx txtype.Tx, env state.Env) error {
			a := tx.Attachment().(*AccountInfo)
			return env.Accounts().SetAccountInfo(tx.SenderID(), state.AccountInfo{
				Name:        a.name,
				Description: a.description,
			})
		},
		DuplicateKey: func(tx txtype.Tx) (txtype.Key, string, int, bool) {
			return KeyAccountInfo, common.FormatID(tx.SenderID()), 0, true
		},
	}
}

// Leasing delegates the sender's effective balance to the recipient
type Leasing struct {
	appendix.Base
	period uint16
}

func NewLeasing(period uint16) *Leasing {
	return &Leasing{Base: appendix.NewBase(1), period: period}
}

func (l *Leasing) Name() string        { return LeasingName }
func (l *Leasing) TypeKey() txtype.Key { return KeyLeasing }
func (l *Leasing) Period() uint16      { return l.period }
func (l *Leasing) Size() int           { return 1 + 2 }
func (l *Leasing) FullSize() int       { return l.Size() }

func (l *Leasing) Write(w *appendix.Writer) {
	w.Int8(l.Version())
	w.Uint16(l.period)
}

func (l *Leasing) JSON() appendix.Object {
	return appendix.Object{
		appendix.VersionKey(LeasingName): l.Version(),
		"period":                         l.period,
	}
}

func parseLeasing(r *appendix.Reader) (appendix.Attachment, error) {
	l := &Leasing{Base: appendix.NewBase(r.Int8())}
	l.period = r.Uint16()
	return l, r.Err()
}

func parseLeasingJSON(o appendix.Object) (appendix.Attachment, error) {
	v, err := o.Version(LeasingName)
	if err != nil {
		return nil, err
	}
	period, err := o.Int("period")
	if err != nil {
		return nil, err
	}
	if period < 0 || period > MaxLeasingPeriod {
		return nil, common.NewNotValid("invalid leasing period %d", period)
	}
	return &Leasing{Base: appendix.NewBase(v), period: uint16(period)}, nil
}

func leasingType() *txtype.Type {
	return &txtype.Type{
		Key:                 KeyLeasing,
		Name:                LeasingName,
		CanHaveRecipient:    true,
		MustHaveRecipient:   true,
		ParseAttachment:     parseLeasing,
		ParseAttachmentJSON: parseLeasingJSON,
		ValidateAttachment: func(tx txtype.Tx, _ state.Env) error {
			l, ok := tx.Attachment().(*Leasing)
			if !ok {
				return common.NewNotValid("unexpected attachment %T", tx.Attachment())
			}
			if tx.Amount() != 0 {
				return common.NewNotValid("leasing with amount %d", tx.Amount())
			}
			if tx.RecipientID() == tx.SenderID() {
				return common.NewNotValid("account cannot lease its balance to itself")
			}
			if l.period < MinLeasingPeriod {
				return common.NewNotValid("leasing period %d below %d", l.period, MinLeasingPeriod)
			}
			return nil
		},
		ApplyAttachment: func(tx txtype.Tx, env state.Env) error {
			l := tx.Attachment().(*Leasing)
			from := env.Blockchain().Height() + LeasingDelay
			return env.Accounts().SetLease(state.Lease{
				Lessor:     tx.SenderID(),
				Lessee:     tx.RecipientID(),
				FromHeight: from,
				ToHeight:   from + int32(l.period),
			})
		},
		DuplicateKey: func(tx txtype.Tx) (txtype.Key, string, int, bool) {
			return KeyLeasing, common.FormatID(tx.SenderID()), 0, true
		},
	}
}
