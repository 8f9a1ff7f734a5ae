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
	"fmt"

	"github.com/blinklabs-io/strata/ledger/common"
)

// Appendix codes. A code is also the flag bit that marks the appendix as
// present in the serialized transaction, and fixes its serialization order.
const (
	CodeMessage = iota
	CodeEncryptedMessage
	CodePublicKeyAnnouncement
	CodeEncryptToSelfMessage
	CodePhasing
	CodePrunablePlainMessage
	CodePrunableEncryptedMessage
)

// Parser decodes one appendix type
type Parser struct {
	Code     int
	Name     string
	Prunable bool
	Parse    func(r *Reader) (Appendix, error)
	// ParseJSON is only called when the object carries the version marker
	// for Name
	ParseJSON func(o Object) (Appendix, error)
}

// Registry is the read-only, dense table of appendix parsers indexed by code
type Registry struct {
	parsers []Parser
}

// NewRegistry builds a registry. Codes must be dense starting at zero.
func NewRegistry(parsers ...Parser) (*Registry, error) {
	r := &Registry{parsers: make([]Parser, len(parsers))}
	seen := make([]bool, len(parsers))
	for _, p := range parsers {
		if p.Code < 0 || p.Code >= len(parsers) || seen[p.Code] {
			return nil, fmt.Errorf("appendix code %d is not dense or is duplicated", p.Code)
		}
		if p.Code >= 31 {
			return nil, fmt.Errorf("appendix code %d does not fit the flag word", p.Code)
		}
		seen[p.Code] = true
		r.parsers[p.Code] = p
	}
	return r, nil
}

// DefaultRegistry returns every appendix type known to the ledger
func DefaultRegistry() *Registry {
	r, err := NewRegistry(
		Parser{
			Code:      CodeMessage,
			Name:      MessageName,
			Parse:     parseMessage,
			ParseJSON: parseMessageJSON,
		},
		Parser{
			Code:      CodeEncryptedMessage,
			Name:      EncryptedMessageName,
			Parse:     parseEncryptedMessage,
			ParseJSON: parseEncryptedMessageJSON,
		},
		Parser{
			Code:      CodePublicKeyAnnouncement,
			Name:      PublicKeyAnnouncementName,
			Parse:     parsePublicKeyAnnouncement,
			ParseJSON: parsePublicKeyAnnouncementJSON,
		},
		Parser{
			Code:      CodeEncryptToSelfMessage,
			Name:      EncryptToSelfMessageName,
			Parse:     parseEncryptToSelfMessage,
			ParseJSON: parseEncryptToSelfMessageJSON,
		},
		Parser{
			Code:      CodePhasing,
			Name:      PhasingName,
			Parse:     parsePhasing,
			ParseJSON: parsePhasingJSON,
		},
		Parser{
			Code:      CodePrunablePlainMessage,
			Name:      PrunablePlainMessageName,
			Prunable:  true,
			Parse:     parsePrunablePlainMessage,
			ParseJSON: parsePrunablePlainMessageJSON,
		},
		Parser{
			Code:      CodePrunableEncryptedMessage,
			Name:      PrunableEncryptedMessageName,
			Prunable:  true,
			Parse:     parsePrunableEncryptedMessage,
			ParseJSON: parsePrunableEncryptedMessageJSON,
		},
	)
	if err != nil {
		panic(err)
	}
	return r
}

// Parser returns the parser registered under code
func (r *Registry) Parser(code int) (Parser, bool) {
	if code < 0 || code >= len(r.parsers) {
		return Parser{}, false
	}
	return r.parsers[code], true
}

// Parsers returns every parser in code order
func (r *Registry) Parsers() []Parser {
	ret := make([]Parser, len(r.parsers))
	copy(ret, r.parsers)
	return ret
}

// PrunableParsers returns the parsers whose payload can be pruned
func (r *Registry) PrunableParsers() []Parser {
	var ret []Parser
	for _, p := range r.parsers {
		if p.Prunable {
			ret = append(ret, p)
		}
	}
	return ret
}

// KnownFlags is the mask of every flag bit with a registered parser
func (r *Registry) KnownFlags() int32 {
	return int32(1)<<len(r.parsers) - 1 //nolint:gosec
}

// Flags computes the flag word for a list of appendices
func Flags(appendages []Appendix) int32 {
	var flags int32
	for _, a := range appendages {
		flags |= 1 << a.Code()
	}
	return flags
}

// ParseFlagged decodes, in code order, every appendix whose bit is set
func (r *Registry) ParseFlagged(rd *Reader, flags int32) ([]Appendix, error) {
	if flags&^r.KnownFlags() != 0 {
		return nil, common.NewNotValid("unknown appendix flags %#x", flags&^r.KnownFlags())
	}
	var ret []Appendix
	for _, p := range r.parsers {
		if flags&(1<<p.Code) == 0 {
			continue
		}
		a, err := p.Parse(rd)
		if err != nil {
			return nil, common.NewNotValid("parse %s: %w", p.Name, err)
		}
		if err := rd.Err(); err != nil {
			return nil, common.NewNotValid("parse %s: %w", p.Name, err)
		}
		ret = append(ret, a)
	}
	return ret, nil
}

// ParseObject decodes, in code order, every appendix whose version marker is
// present in o
func (r *Registry) ParseObject(o Object) ([]Appendix, error) {
	var ret []Appendix
	for _, p := range r.parsers {
		if !o.Has(p.Name) {
			continue
		}
		a, err := p.ParseJSON(o)
		if err != nil {
			return nil, common.NewNotValid("parse %s: %w", p.Name, err)
		}
		ret = append(ret, a)
	}
	return ret, nil
}
