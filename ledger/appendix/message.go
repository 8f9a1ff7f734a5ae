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
	"math"
	"unicode/utf8"

	"github.com/blinklabs-io/strata/ledger/chain"
	"github.com/blinklabs-io/strata/ledger/common"
	"github.com/blinklabs-io/strata/ledger/crypto"
	"github.com/blinklabs-io/strata/ledger/fee"
	"github.com/blinklabs-io/strata/ledger/state"
)

const (
	MessageName              = "Message"
	PrunablePlainMessageName = "PrunablePlainMessage"

	MaxMessageLength         = 1000
	MaxPrunableMessageLength = 42 * 1024
	// MinPrunableLifetime is how long, in seconds, a prunable payload must
	// stay available after the transaction timestamp
	MinPrunableLifetime = 14 * 1440 * 60
)

var (
	messageFee = fee.SizeBased{
		PerUnit:  chain.ParentOneCoin,
		UnitSize: 32,
		Size: func(a fee.Appendage) int {
			if m, ok := a.(*Message); ok {
				return len(m.message)
			}
			return a.FullSize()
		},
	}
	prunableMessageFee = fee.SizeBased{
		Constant: chain.ParentOneCoin / 10,
		PerUnit:  chain.ParentOneCoin,
		UnitSize: 1024,
	}
)

func writeLength(w *Writer, n int, isText bool) {
	l := int32(n) //nolint:gosec
	if isText {
		l |= math.MinInt32
	}
	w.Int32(l)
}

func readLength(r *Reader, maxLength int) (int, bool) {
	l := r.Int32()
	isText := l < 0
	n := int(l & math.MaxInt32)
	if n > maxLength {
		r.Fail(common.NewNotValid("length %d exceeds maximum %d", n, maxLength))
		return 0, isText
	}
	return n, isText
}

func encodeMessage(msg []byte, isText bool) string {
	if isText {
		return string(msg)
	}
	return hex.EncodeToString(msg)
}

func decodeMessage(s string, isText bool) ([]byte, error) {
	if isText {
		return []byte(s), nil
	}
	return hex.DecodeString(s)
}

// Message is a plain message stored on-chain
type Message struct {
	Base
	message []byte
	isText  bool
}

func NewMessage(message []byte, isText bool) *Message {
	return &Message{Base: NewBase(1), message: message, isText: isText}
}

func NewTextMessage(message string) *Message {
	return NewMessage([]byte(message), true)
}

func parseMessage(r *Reader) (Appendix, error) {
	m := &Message{Base: NewBase(r.Int8())}
	var n int
	n, m.isText = readLength(r, MaxMessageLength)
	m.message = r.Bytes(n)
	return m, r.Err()
}

func parseMessageJSON(o Object) (Appendix, error) {
	v, err := o.Version(MessageName)
	if err != nil {
		return nil, err
	}
	m := &Message{Base: NewBase(v)}
	if m.isText, err = o.Bool("messageIsText", true); err != nil {
		return nil, err
	}
	s, err := o.String("message")
	if err != nil {
		return nil, err
	}
	if m.message, err = decodeMessage(s, m.isText); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Message) Name() string         { return MessageName }
func (m *Message) Code() int            { return CodeMessage }
func (m *Message) Message() []byte      { return m.message }
func (m *Message) IsText() bool         { return m.isText }
func (m *Message) IsPhasable() bool     { return true }
func (m *Message) Size() int            { return 1 + 4 + len(m.message) }
func (m *Message) FullSize() int        { return m.Size() }
func (m *Message) Fees(Tx) fee.Schedule { return fee.NewSchedule(0, messageFee) }

func (m *Message) Write(w *Writer) {
	w.Int8(m.Version())
	writeLength(w, len(m.message), m.isText)
	w.Raw(m.message)
}

func (m *Message) JSON() Object {
	return Object{
		VersionKey(MessageName): m.Version(),
		"message":               encodeMessage(m.message, m.isText),
		"messageIsText":         m.isText,
	}
}

func (m *Message) Validate(Tx, state.Env) error {
	if len(m.message) > MaxMessageLength {
		return common.NewNotValid("message length %d exceeds maximum %d", len(m.message), MaxMessageLength)
	}
	if m.isText && !utf8.Valid(m.message) {
		return common.NewNotValid("message is not valid UTF-8 text")
	}
	return nil
}

func (m *Message) ValidateAtFinish(tx Tx, env state.Env) error {
	return m.Validate(tx, env)
}

func (m *Message) Apply(Tx, state.Env) error {
	return nil
}

// PrunablePlainMessage keeps only the message hash on-chain
type PrunablePlainMessage struct {
	Base
	hash    []byte
	message []byte
	isText  bool
}

func NewPrunablePlainMessage(message []byte, isText bool) *PrunablePlainMessage {
	return &PrunablePlainMessage{Base: NewBase(1), message: message, isText: isText}
}

func prunableMessageHash(isText bool, message []byte) []byte {
	var flag []byte
	if isText {
		flag = []byte{1}
	} else {
		flag = []byte{0}
	}
	return crypto.Sha256(flag, message)
}

func parsePrunablePlainMessage(r *Reader) (Appendix, error) {
	m := &PrunablePlainMessage{Base: NewBase(r.Int8())}
	m.hash = r.Bytes(common.HashSize)
	m.isText = r.Bool()
	return m, r.Err()
}

func parsePrunablePlainMessageJSON(o Object) (Appendix, error) {
	v, err := o.Version(PrunablePlainMessageName)
	if err != nil {
		return nil, err
	}
	m := &PrunablePlainMessage{Base: NewBase(v)}
	if m.isText, err = o.Bool("prunableMessageIsText", true); err != nil {
		return nil, err
	}
	if m.hash, err = o.Hex("prunableMessageHash"); err != nil {
		return nil, err
	}
	if _, ok := o["prunableMessage"]; ok {
		s, err := o.String("prunableMessage")
		if err != nil {
			return nil, err
		}
		if m.message, err = decodeMessage(s, m.isText); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *PrunablePlainMessage) Name() string          { return PrunablePlainMessageName }
func (m *PrunablePlainMessage) Code() int             { return CodePrunablePlainMessage }
func (m *PrunablePlainMessage) Message() []byte       { return m.message }
func (m *PrunablePlainMessage) IsText() bool          { return m.isText }
func (m *PrunablePlainMessage) IsPhasable() bool      { return false }
func (m *PrunablePlainMessage) Size() int             { return 1 + common.HashSize + 1 }
func (m *PrunablePlainMessage) HasPrunableData() bool { return m.message != nil }
func (m *PrunablePlainMessage) PrunableData() []byte  { return m.message }

func (m *PrunablePlainMessage) FullSize() int {
	return m.Size() + len(m.message)
}

// Hash returns the on-chain hash, computing it from the message when the
// appendix was built locally
func (m *PrunablePlainMessage) Hash() []byte {
	if m.hash == nil && m.message != nil {
		m.hash = prunableMessageHash(m.isText, m.message)
	}
	return m.hash
}

func (m *PrunablePlainMessage) Fees(Tx) fee.Schedule {
	return fee.NewSchedule(0, prunableMessageFee)
}

func (m *PrunablePlainMessage) Write(w *Writer) {
	w.Int8(m.Version())
	w.Fixed(m.Hash(), common.HashSize)
	w.Bool(m.isText)
}

func (m *PrunablePlainMessage) JSON() Object {
	o := Object{
		VersionKey(PrunablePlainMessageName): m.Version(),
		"prunableMessageHash":                hex.EncodeToString(m.Hash()),
		"prunableMessageIsText":              m.isText,
	}
	if m.message != nil {
		o["prunableMessage"] = encodeMessage(m.message, m.isText)
	}
	return o
}

func (m *PrunablePlainMessage) LoadPrunable(_ Tx, env state.Env) error {
	if m.message != nil {
		return nil
	}
	data, err := env.Prunables().GetPrunable(m.hash)
	if err != nil {
		return err
	}
	if !bytes.Equal(prunableMessageHash(m.isText, data), m.hash) {
		return common.NewNotValid("prunable message does not match its hash")
	}
	m.message = data
	return nil
}

func (m *PrunablePlainMessage) Validate(tx Tx, env state.Env) error {
	if len(m.Hash()) != common.HashSize {
		return common.NewNotValid("invalid prunable message hash")
	}
	if err := requirePrunable(m, tx, env); err != nil {
		return err
	}
	if len(m.message) > MaxPrunableMessageLength {
		return common.NewNotValid("prunable message length %d exceeds maximum %d", len(m.message), MaxPrunableMessageLength)
	}
	if m.message != nil && m.isText && !utf8.Valid(m.message) {
		return common.NewNotValid("prunable message is not valid UTF-8 text")
	}
	if m.message != nil && !bytes.Equal(prunableMessageHash(m.isText, m.message), m.hash) {
		return common.NewNotValid("prunable message does not match its hash")
	}
	if Find(tx, CodeMessage) != nil {
		return common.NewNotValid("cannot have both a message and a prunable message")
	}
	return nil
}

func (m *PrunablePlainMessage) ValidateAtFinish(Tx, state.Env) error {
	return nil
}

func (m *PrunablePlainMessage) Apply(_ Tx, env state.Env) error {
	return savePrunable(m, env)
}

// requirePrunable loads a missing payload, and rejects the transaction when
// it is still missing inside the minimum lifetime
func requirePrunable(p Prunable, tx Tx, env state.Env) error {
	if p.HasPrunableData() {
		return nil
	}
	err := p.LoadPrunable(tx, env)
	if err == nil {
		return nil
	}
	if !errors.Is(err, state.ErrNotFound) {
		return err
	}
	if env.Blockchain().Now()-tx.Timestamp() < MinPrunableLifetime {
		return common.NewNotCurrentlyValid("prunable payload %x is not available", p.Hash())
	}
	return nil
}

func savePrunable(p Prunable, env state.Env) error {
	if !p.HasPrunableData() {
		return nil
	}
	return env.Prunables().PutPrunable(p.Hash(), p.PrunableData())
}
