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

package txtype

import (
	"fmt"
	"slices"

	"github.com/blinklabs-io/strata/ledger/appendix"
	"github.com/blinklabs-io/strata/ledger/common"
)

// Table is the read-only lookup from type key to policy, built once
type Table struct {
	types map[Key]*Type
	order []*Type
}

// NewTable builds a table. Every type needs an attachment parser and a
// unique key.
func NewTable(types ...*Type) (*Table, error) {
	t := &Table{types: make(map[Key]*Type, len(types))}
	for _, typ := range types {
		if typ.ParseAttachment == nil || typ.ParseAttachmentJSON == nil {
			return nil, fmt.Errorf("type %s has no attachment parser", typ)
		}
		if _, ok := t.types[typ.Key]; ok {
			return nil, fmt.Errorf("duplicate transaction type %s", typ.Key)
		}
		if typ.MustHaveRecipient && !typ.CanHaveRecipient {
			return nil, fmt.Errorf("type %s must have a recipient it cannot have", typ)
		}
		t.types[typ.Key] = typ
		t.order = append(t.order, typ)
	}
	return t, nil
}

// Lookup finds the type for key on a chain of the given kind. A key from the
// other code space is unknown.
func (t *Table) Lookup(parentChain bool, key Key) (*Type, error) {
	typ, ok := t.types[key]
	if !ok || key.IsParent() != parentChain {
		return nil, common.NewNotValid("unknown transaction type %s", key)
	}
	return typ, nil
}

// Types returns every type in registration order
func (t *Table) Types() []*Type {
	return slices.Clone(t.order)
}

// EmptyAttachment is the attachment of types that carry no payload
type EmptyAttachment struct {
	appendix.Base
	key  Key
	name string
}

func NewEmptyAttachment(key Key, name string) *EmptyAttachment {
	return &EmptyAttachment{Base: appendix.NewBase(0), key: key, name: name}
}

func (a *EmptyAttachment) Name() string             { return a.name }
func (a *EmptyAttachment) TypeKey() Key             { return a.key }
func (a *EmptyAttachment) Size() int                { return 1 }
func (a *EmptyAttachment) FullSize() int            { return 1 }
func (a *EmptyAttachment) Write(w *appendix.Writer) { w.Int8(a.Version()) }

func (a *EmptyAttachment) JSON() appendix.Object {
	return appendix.Object{appendix.VersionKey(a.name): a.Version()}
}

// EmptyParsers returns the binary and structured parsers of an empty
// attachment
func EmptyParsers(key Key, name string) (
	func(r *appendix.Reader) (appendix.Attachment, error),
	func(o appendix.Object) (appendix.Attachment, error),
) {
	parse := func(r *appendix.Reader) (appendix.Attachment, error) {
		a := &EmptyAttachment{Base: appendix.NewBase(r.Int8()), key: key, name: name}
		return a, r.Err()
	}
	parseJSON := func(o appendix.Object) (appendix.Attachment, error) {
		v, err := o.Version(name)
		if err != nil {
			// The structured form may omit the marker of an empty attachment
			v = 0
		}
		return &EmptyAttachment{Base: appendix.NewBase(v), key: key, name: name}, nil
	}
	return parse, parseJSON
}
