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
	"errors"

	"github.com/blinklabs-io/strata/ledger/common"
	"github.com/blinklabs-io/strata/ledger/fee"
	"github.com/blinklabs-io/strata/ledger/state"
)

const PublicKeyAnnouncementName = "PublicKeyAnnouncement"

// PublicKeyAnnouncement reveals the public key of the recipient account
type PublicKeyAnnouncement struct {
	Base
	publicKey []byte
}

func NewPublicKeyAnnouncement(publicKey []byte) *PublicKeyAnnouncement {
	return &PublicKeyAnnouncement{Base: NewBase(1), publicKey: publicKey}
}

func parsePublicKeyAnnouncement(r *Reader) (Appendix, error) {
	a := &PublicKeyAnnouncement{Base: NewBase(r.Int8())}
	a.publicKey = r.Bytes(common.PublicKeySize)
	return a, r.Err()
}

func parsePublicKeyAnnouncementJSON(o Object) (Appendix, error) {
	v, err := o.Version(PublicKeyAnnouncementName)
	if err != nil {
		return nil, err
	}
	a := &PublicKeyAnnouncement{Base: NewBase(v)}
	if a.publicKey, err = o.Hex("recipientPublicKey"); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *PublicKeyAnnouncement) Name() string         { return PublicKeyAnnouncementName }
func (a *PublicKeyAnnouncement) Code() int            { return CodePublicKeyAnnouncement }
func (a *PublicKeyAnnouncement) PublicKey() []byte    { return a.publicKey }
func (a *PublicKeyAnnouncement) IsPhasable() bool     { return false }
func (a *PublicKeyAnnouncement) Size() int            { return 1 + common.PublicKeySize }
func (a *PublicKeyAnnouncement) FullSize() int        { return a.Size() }
func (a *PublicKeyAnnouncement) Fees(Tx) fee.Schedule { return fee.Schedule{} }

func (a *PublicKeyAnnouncement) Write(w *Writer) {
	w.Int8(a.Version())
	w.Fixed(a.publicKey, common.PublicKeySize)
}

func (a *PublicKeyAnnouncement) JSON() Object {
	return Object{
		VersionKey(PublicKeyAnnouncementName): a.Version(),
		"recipientPublicKey":                  hex.EncodeToString(a.publicKey),
	}
}

func (a *PublicKeyAnnouncement) Validate(tx Tx, env state.Env) error {
	if len(a.publicKey) != common.PublicKeySize {
		return common.NewNotValid("invalid recipient public key length %d", len(a.publicKey))
	}
	if tx.RecipientID() == 0 {
		return common.NewNotValid("public key announcement requires a recipient")
	}
	if common.AccountID(a.publicKey) != tx.RecipientID() {
		return common.NewNotValid("announced public key does not match recipient %s", common.FormatID(tx.RecipientID()))
	}
	existing, err := env.PublicKeys().PublicKey(tx.RecipientID())
	if err != nil {
		if errors.Is(err, state.ErrNotFound) {
			return nil
		}
		return err
	}
	if !bytes.Equal(existing, a.publicKey) {
		return common.NewNotValid("a different public key for %s has already been announced", common.FormatID(tx.RecipientID()))
	}
	return nil
}

func (a *PublicKeyAnnouncement) ValidateAtFinish(Tx, state.Env) error {
	return nil
}

func (a *PublicKeyAnnouncement) Apply(tx Tx, env state.Env) error {
	return env.PublicKeys().SetPublicKey(tx.RecipientID(), a.publicKey)
}
