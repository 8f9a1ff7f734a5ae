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

	"github.com/blinklabs-io/strata/ledger/chain"
	"github.com/blinklabs-io/strata/ledger/common"
	"github.com/blinklabs-io/strata/ledger/crypto"
	"github.com/blinklabs-io/strata/ledger/fee"
	"github.com/blinklabs-io/strata/ledger/state"
)

const (
	EncryptedMessageName         = "EncryptedMessage"
	EncryptToSelfMessageName     = "EncryptToSelfMessage"
	PrunableEncryptedMessageName = "PrunableEncryptedMessage"

	// boxOverhead is the authenticator added by the sealing primitive
	boxOverhead                = 16
	MaxEncryptedMessageLength  = MaxMessageLength + boxOverhead
	MaxPrunableEncryptedLength = MaxPrunableMessageLength + boxOverhead

	versionCompressed   int8 = 1
	versionUncompressed int8 = 2
)

var (
	ErrNotEncrypted = errors.New("message has not been encrypted")

	encryptedMessageFee = fee.SizeBased{
		Constant: chain.ParentOneCoin,
		PerUnit:  chain.ParentOneCoin,
		UnitSize: 32,
		Size: func(a fee.Appendage) int {
			if e, ok := a.(interface{ dataLength() int }); ok {
				return e.dataLength() - boxOverhead
			}
			return a.FullSize()
		},
	}
)

// sealed is the encrypted body shared by every encrypted message appendix.
// It holds either the plaintext awaiting encryption or the sealed data.
type sealed struct {
	data         crypto.EncryptedData
	plaintext    []byte
	isText       bool
	isCompressed bool
}

func (s *sealed) IsEncrypted() bool {
	return s.data.Data != nil
}

func (s *sealed) IsText() bool       { return s.isText }
func (s *sealed) IsCompressed() bool { return s.isCompressed }

func (s *sealed) EncryptedData() crypto.EncryptedData {
	return s.data
}

func (s *sealed) version() int8 {
	if s.isCompressed {
		return versionCompressed
	}
	return versionUncompressed
}

func (s *sealed) dataLength() int {
	if s.IsEncrypted() {
		return len(s.data.Data)
	}
	return len(s.plaintext) + boxOverhead
}

// Encrypt seals the pending plaintext. Encrypting twice is a no-op.
func (s *sealed) Encrypt(secret string, recipientPublicKey []byte) error {
	if s.IsEncrypted() {
		return nil
	}
	body := s.plaintext
	if s.isCompressed && len(body) > 0 {
		var err error
		if body, err = crypto.Compress(body); err != nil {
			return err
		}
	}
	data, err := crypto.Encrypt(body, recipientPublicKey, secret)
	if err != nil {
		return err
	}
	s.data = data
	s.plaintext = nil
	return nil
}

// Decrypt opens the message with one side's secret and the other side's
// public key
func (s *sealed) Decrypt(secret string, publicKey []byte) ([]byte, error) {
	if !s.IsEncrypted() {
		return s.plaintext, nil
	}
	plain, err := crypto.Decrypt(s.data, publicKey, secret)
	if err != nil {
		return nil, err
	}
	if s.isCompressed && len(plain) > 0 {
		return crypto.Decompress(plain)
	}
	return plain, nil
}

func (s *sealed) read(r *Reader, maxLength int) {
	var n int
	n, s.isText = readLength(r, maxLength)
	s.data.Data = r.Bytes(n)
	s.data.Nonce = r.Bytes(crypto.NonceSize)
}

func (s *sealed) write(w *Writer) {
	writeLength(w, len(s.data.Data), s.isText)
	w.Raw(s.data.Data)
	w.Fixed(s.data.Nonce, crypto.NonceSize)
}

func (s *sealed) json() Object {
	return Object{
		"data":         hex.EncodeToString(s.data.Data),
		"nonce":        hex.EncodeToString(s.data.Nonce),
		"isText":       s.isText,
		"isCompressed": s.isCompressed,
	}
}

func (s *sealed) readJSON(o Object) error {
	var err error
	if s.data.Data, err = o.Hex("data"); err != nil {
		return err
	}
	if s.data.Nonce, err = o.Hex("nonce"); err != nil {
		return err
	}
	if s.isText, err = o.Bool("isText", false); err != nil {
		return err
	}
	s.isCompressed, err = o.Bool("isCompressed", true)
	return err
}

func (s *sealed) validate(maxLength int) error {
	if !s.IsEncrypted() {
		return common.NewNotValid("%w", ErrNotEncrypted)
	}
	if len(s.data.Data) > maxLength {
		return common.NewNotValid("encrypted data length %d exceeds maximum %d", len(s.data.Data), maxLength)
	}
	if len(s.data.Nonce) != crypto.NonceSize {
		return common.NewNotValid("invalid nonce length %d", len(s.data.Nonce))
	}
	return nil
}

func parseSealedVersion(v int8) (bool, error) {
	switch v {
	case versionCompressed:
		return true, nil
	case versionUncompressed:
		return false, nil
	}
	return false, common.NewNotValid("unsupported encrypted message version %d", v)
}

// EncryptedMessage is a message readable only by the sender and recipient
type EncryptedMessage struct {
	sealed
}

// NewEncryptedMessage holds plaintext until the transaction is built
func NewEncryptedMessage(plaintext []byte, isText bool, compress bool) *EncryptedMessage {
	return &EncryptedMessage{sealed{plaintext: plaintext, isText: isText, isCompressed: compress}}
}

func parseEncryptedMessage(r *Reader) (Appendix, error) {
	m := &EncryptedMessage{}
	var err error
	if m.isCompressed, err = parseSealedVersion(r.Int8()); err != nil {
		return nil, err
	}
	m.read(r, MaxEncryptedMessageLength)
	return m, r.Err()
}

func parseEncryptedMessageJSON(o Object) (Appendix, error) {
	m := &EncryptedMessage{}
	body, err := o.Child("encryptedMessage")
	if err != nil {
		return nil, err
	}
	if err := m.readJSON(body); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *EncryptedMessage) Name() string     { return EncryptedMessageName }
func (m *EncryptedMessage) Code() int        { return CodeEncryptedMessage }
func (m *EncryptedMessage) Version() int8    { return m.version() }
func (m *EncryptedMessage) IsPhasable() bool { return false }
func (m *EncryptedMessage) Size() int        { return 1 + 4 + m.dataLength() + crypto.NonceSize }
func (m *EncryptedMessage) FullSize() int    { return m.Size() }

func (m *EncryptedMessage) Fees(Tx) fee.Schedule {
	return fee.NewSchedule(0, encryptedMessageFee)
}

func (m *EncryptedMessage) Write(w *Writer) {
	w.Int8(m.Version())
	m.write(w)
}

func (m *EncryptedMessage) JSON() Object {
	return Object{
		VersionKey(EncryptedMessageName): m.Version(),
		"encryptedMessage":               m.json(),
	}
}

func (m *EncryptedMessage) Validate(tx Tx, _ state.Env) error {
	if tx.ChainID() == chain.ParentChainID {
		return common.NewNotValid("encrypted messages are not allowed on the parent chain")
	}
	if tx.RecipientID() == 0 {
		return common.NewNotValid("encrypted message requires a recipient")
	}
	return m.validate(MaxEncryptedMessageLength)
}

func (m *EncryptedMessage) ValidateAtFinish(Tx, state.Env) error {
	return nil
}

func (m *EncryptedMessage) Apply(Tx, state.Env) error {
	return nil
}

// EncryptToSelfMessage is a message only the sender can read
type EncryptToSelfMessage struct {
	sealed
}

func NewEncryptToSelfMessage(plaintext []byte, isText bool, compress bool) *EncryptToSelfMessage {
	return &EncryptToSelfMessage{sealed{plaintext: plaintext, isText: isText, isCompressed: compress}}
}

func parseEncryptToSelfMessage(r *Reader) (Appendix, error) {
	m := &EncryptToSelfMessage{}
	var err error
	if m.isCompressed, err = parseSealedVersion(r.Int8()); err != nil {
		return nil, err
	}
	m.read(r, MaxEncryptedMessageLength)
	return m, r.Err()
}

func parseEncryptToSelfMessageJSON(o Object) (Appendix, error) {
	m := &EncryptToSelfMessage{}
	body, err := o.Child("encryptToSelfMessage")
	if err != nil {
		return nil, err
	}
	if err := m.readJSON(body); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *EncryptToSelfMessage) Name() string     { return EncryptToSelfMessageName }
func (m *EncryptToSelfMessage) Code() int        { return CodeEncryptToSelfMessage }
func (m *EncryptToSelfMessage) Version() int8    { return m.version() }
func (m *EncryptToSelfMessage) IsPhasable() bool { return false }
func (m *EncryptToSelfMessage) Size() int        { return 1 + 4 + m.dataLength() + crypto.NonceSize }
func (m *EncryptToSelfMessage) FullSize() int    { return m.Size() }

func (m *EncryptToSelfMessage) Fees(Tx) fee.Schedule {
	return fee.NewSchedule(0, encryptedMessageFee)
}

func (m *EncryptToSelfMessage) Write(w *Writer) {
	w.Int8(m.Version())
	m.write(w)
}

func (m *EncryptToSelfMessage) JSON() Object {
	return Object{
		VersionKey(EncryptToSelfMessageName): m.Version(),
		"encryptToSelfMessage":               m.json(),
	}
}

func (m *EncryptToSelfMessage) Validate(tx Tx, _ state.Env) error {
	if tx.ChainID() == chain.ParentChainID {
		return common.NewNotValid("encrypted messages are not allowed on the parent chain")
	}
	return m.validate(MaxEncryptedMessageLength)
}

func (m *EncryptToSelfMessage) ValidateAtFinish(Tx, state.Env) error {
	return nil
}

func (m *EncryptToSelfMessage) Apply(Tx, state.Env) error {
	return nil
}

// PrunableEncryptedMessage keeps only the hash of an encrypted message
// on-chain
type PrunableEncryptedMessage struct {
	sealed
	hash []byte
	// pruned is set when the appendix was parsed without its payload
	pruned bool
}

func NewPrunableEncryptedMessage(plaintext []byte, isText bool, compress bool) *PrunableEncryptedMessage {
	return &PrunableEncryptedMessage{
		sealed: sealed{plaintext: plaintext, isText: isText, isCompressed: compress},
	}
}

func prunableEncryptedHash(isText, isCompressed bool, data crypto.EncryptedData) []byte {
	var flags [2]byte
	if isText {
		flags[0] = 1
	}
	if isCompressed {
		flags[1] = 1
	}
	return crypto.Sha256(flags[:], data.Data, data.Nonce)
}

func parsePrunableEncryptedMessage(r *Reader) (Appendix, error) {
	m := &PrunableEncryptedMessage{pruned: true}
	if v := r.Int8(); v != 1 {
		r.Fail(common.NewNotValid("unsupported prunable encrypted message version %d", v))
	}
	m.hash = r.Bytes(common.HashSize)
	m.isText = r.Bool()
	m.isCompressed = r.Bool()
	return m, r.Err()
}

func parsePrunableEncryptedMessageJSON(o Object) (Appendix, error) {
	m := &PrunableEncryptedMessage{}
	var err error
	if m.hash, err = o.Hex("encryptedMessageHash"); err != nil {
		return nil, err
	}
	if _, ok := o["prunableEncryptedMessage"]; !ok {
		m.pruned = true
		if m.isText, err = o.Bool("prunableEncryptedMessageIsText", false); err != nil {
			return nil, err
		}
		if m.isCompressed, err = o.Bool("prunableEncryptedMessageIsCompressed", true); err != nil {
			return nil, err
		}
		return m, nil
	}
	body, err := o.Child("prunableEncryptedMessage")
	if err != nil {
		return nil, err
	}
	if err := m.readJSON(body); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *PrunableEncryptedMessage) Name() string     { return PrunableEncryptedMessageName }
func (m *PrunableEncryptedMessage) Code() int        { return CodePrunableEncryptedMessage }
func (m *PrunableEncryptedMessage) Version() int8    { return 1 }
func (m *PrunableEncryptedMessage) IsPhasable() bool { return false }
func (m *PrunableEncryptedMessage) Size() int        { return 1 + common.HashSize + 2 }

func (m *PrunableEncryptedMessage) HasPrunableData() bool {
	return !m.pruned
}

func (m *PrunableEncryptedMessage) FullSize() int {
	if m.pruned {
		return m.Size()
	}
	return m.Size() + m.dataLength() + crypto.NonceSize
}

func (m *PrunableEncryptedMessage) Hash() []byte {
	if m.hash == nil && !m.pruned && m.IsEncrypted() {
		m.hash = prunableEncryptedHash(m.isText, m.isCompressed, m.data)
	}
	return m.hash
}

// PrunableData is the sealed data followed by its nonce
func (m *PrunableEncryptedMessage) PrunableData() []byte {
	if m.pruned {
		return nil
	}
	return append(append([]byte{}, m.data.Data...), m.data.Nonce...)
}

func (m *PrunableEncryptedMessage) LoadPrunable(_ Tx, env state.Env) error {
	if !m.pruned {
		return nil
	}
	raw, err := env.Prunables().GetPrunable(m.hash)
	if err != nil {
		return err
	}
	if len(raw) < crypto.NonceSize {
		return common.NewNotValid("prunable encrypted message is truncated")
	}
	data := crypto.EncryptedData{
		Data:  raw[:len(raw)-crypto.NonceSize],
		Nonce: raw[len(raw)-crypto.NonceSize:],
	}
	if !bytes.Equal(prunableEncryptedHash(m.isText, m.isCompressed, data), m.hash) {
		return common.NewNotValid("prunable encrypted message does not match its hash")
	}
	m.data = data
	m.pruned = false
	return nil
}

func (m *PrunableEncryptedMessage) Fees(Tx) fee.Schedule {
	return fee.NewSchedule(0, prunableMessageFee)
}

func (m *PrunableEncryptedMessage) Write(w *Writer) {
	w.Int8(m.Version())
	w.Fixed(m.Hash(), common.HashSize)
	w.Bool(m.isText)
	w.Bool(m.isCompressed)
}

func (m *PrunableEncryptedMessage) JSON() Object {
	o := Object{
		VersionKey(PrunableEncryptedMessageName): m.Version(),
		"encryptedMessageHash":                   hex.EncodeToString(m.Hash()),
	}
	if m.pruned {
		o["prunableEncryptedMessageIsText"] = m.isText
		o["prunableEncryptedMessageIsCompressed"] = m.isCompressed
	} else {
		o["prunableEncryptedMessage"] = m.json()
	}
	return o
}

func (m *PrunableEncryptedMessage) Validate(tx Tx, env state.Env) error {
	if tx.ChainID() == chain.ParentChainID {
		return common.NewNotValid("encrypted messages are not allowed on the parent chain")
	}
	if err := requirePrunable(m, tx, env); err != nil {
		return err
	}
	if !m.pruned {
		if err := m.validate(MaxPrunableEncryptedLength); err != nil {
			return err
		}
		if !bytes.Equal(prunableEncryptedHash(m.isText, m.isCompressed, m.data), m.Hash()) {
			return common.NewNotValid("prunable encrypted message does not match its hash")
		}
	}
	if len(m.Hash()) != common.HashSize {
		return common.NewNotValid("invalid prunable encrypted message hash")
	}
	if Find(tx, CodeEncryptedMessage) != nil {
		return common.NewNotValid("cannot have both an encrypted and a prunable encrypted message")
	}
	return nil
}

func (m *PrunableEncryptedMessage) ValidateAtFinish(Tx, state.Env) error {
	return nil
}

func (m *PrunableEncryptedMessage) Apply(_ Tx, env state.Env) error {
	return savePrunable(m, env)
}
