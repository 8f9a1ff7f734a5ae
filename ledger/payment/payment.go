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

// Package payment holds the value transfer and account control transaction
// types of the parent chain and the child chains.
package payment

import (
	"github.com/blinklabs-io/strata/ledger/appendix"
	"github.com/blinklabs-io/strata/ledger/chain"
	"github.com/blinklabs-io/strata/ledger/common"
	"github.com/blinklabs-io/strata/ledger/fee"
	"github.com/blinklabs-io/strata/ledger/state"
	"github.com/blinklabs-io/strata/ledger/txtype"
)

const (
	OrdinaryPaymentName  = "OrdinaryPayment"
	ArbitraryMessageName = "ArbitraryMessage"
)

var (
	KeyParentPayment    = txtype.Key{Type: -2, Subtype: 0}
	KeyLeasing          = txtype.Key{Type: -3, Subtype: 0}
	KeyChildPayment     = txtype.Key{Type: 0, Subtype: 0}
	KeyArbitraryMessage = txtype.Key{Type: 1, Subtype: 0}
	KeyAccountInfo      = txtype.Key{Type: 1, Subtype: 5}
)

// ChildPaymentFee is the minimum fee of a child chain payment, in parent
// chain units
const ChildPaymentFee = chain.ParentOneCoin / 1000

// ParentTypes returns the parent chain types of this package
func ParentTypes() []*txtype.Type {
	return []*txtype.Type{parentPaymentType(), leasingType()}
}

// ChildTypes returns the child chain types of this package
func ChildTypes() []*txtype.Type {
	return []*txtype.Type{childPaymentType(), arbitraryMessageType(), accountInfoType()}
}

// NewParentPayment is the attachment of a parent chain payment
func NewParentPayment() appendix.Attachment {
	return txtype.NewEmptyAttachment(KeyParentPayment, OrdinaryPaymentName)
}

// NewChildPayment is the attachment of a child chain payment
func NewChildPayment() appendix.Attachment {
	return txtype.NewEmptyAttachment(KeyChildPayment, OrdinaryPaymentName)
}

// NewArbitraryMessage is the attachment of a message carrier
func NewArbitraryMessage() appendix.Attachment {
	return txtype.NewEmptyAttachment(KeyArbitraryMessage, ArbitraryMessageName)
}

func validatePositiveAmount(tx txtype.Tx, _ state.Env) error {
	if tx.Amount() <= 0 {
		return common.NewNotValid("payment amount must be positive, got %d", tx.Amount())
	}
	return nil
}

func parentPaymentType() *txtype.Type {
	parse, parseJSON := txtype.EmptyParsers(KeyParentPayment, OrdinaryPaymentName)
	return &txtype.Type{
		Key:                 KeyParentPayment,
		Name:                "ParentPayment",
		CanHaveRecipient:    true,
		MustHaveRecipient:   true,
		ParseAttachment:     parse,
		ParseAttachmentJSON: parseJSON,
		ValidateAttachment:  validatePositiveAmount,
	}
}

func childPaymentType() *txtype.Type {
	parse, parseJSON := txtype.EmptyParsers(KeyChildPayment, OrdinaryPaymentName)
	return &txtype.Type{
		Key:                 KeyChildPayment,
		Name:                OrdinaryPaymentName,
		CanHaveRecipient:    true,
		MustHaveRecipient:   true,
		Phasable:            true,
		PhasingSafe:         true,
		Fees:                fee.NewSchedule(1, fee.Constant(ChildPaymentFee)),
		ParseAttachment:     parse,
		ParseAttachmentJSON: parseJSON,
		ValidateAttachment:  validatePositiveAmount,
	}
}

var messageCodes = []int{
	appendix.CodeMessage,
	appendix.CodeEncryptedMessage,
	appendix.CodeEncryptToSelfMessage,
	appendix.CodePrunablePlainMessage,
	appendix.CodePrunableEncryptedMessage,
}

func arbitraryMessageType() *txtype.Type {
	parse, parseJSON := txtype.EmptyParsers(KeyArbitraryMessage, ArbitraryMessageName)
	return &txtype.Type{
		Key:                 KeyArbitraryMessage,
		Name:                ArbitraryMessageName,
		CanHaveRecipient:    true,
		Phasable:            true,
		PhasingSafe:         true,
		Fees:                fee.NewSchedule(1, fee.Constant(ChildPaymentFee)),
		ParseAttachment:     parse,
		ParseAttachmentJSON: parseJSON,
		ValidateAttachment: func(tx txtype.Tx, _ state.Env) error {
			if tx.Amount() != 0 {
				return common.NewNotValid("arbitrary message with amount %d", tx.Amount())
			}
			for _, code := range messageCodes {
				if appendix.Find(tx, code) != nil {
					return nil
				}
			}
			return common.NewNotValid("arbitrary message without a message")
		},
	}
}
