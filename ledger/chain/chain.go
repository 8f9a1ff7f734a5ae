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

package chain

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/blinklabs-io/strata/ledger/common"
)

const (
	ParentChainID int32 = 1
	// ParentDecimals is the precision of the parent chain, in which every
	// minimum fee is priced
	ParentDecimals       = 8
	ParentOneCoin  int64 = 100_000_000

	// MaxPayloadLength caps the full size of a single transaction's appendages
	MaxPayloadLength = 44880
	// MaxChildBlockTransactions caps the number of child transactions nested
	// in one parent transaction
	MaxChildBlockTransactions  = 255
	MaxChildBlockPayloadLength = 10 * MaxPayloadLength
	// MaxBlockTransactions caps the parent chain transactions of a block
	MaxBlockTransactions = 255

	// MaxCoins is the supply cap of every chain in whole coins
	MaxCoins = 1_000_000_000

	// MaxTimeDrift is how far into the future a timestamp may be, in seconds
	MaxTimeDrift = 15
)

var ErrUnknownChain = errors.New("unknown chain")

// Epoch is the zero point of all on-chain timestamps
var Epoch = time.Date(2017, time.January, 1, 0, 0, 0, 0, time.UTC)

// EpochTime converts a wall clock time into seconds since Epoch
func EpochTime(t time.Time) int32 {
	return int32(t.Sub(Epoch) / time.Second) //nolint:gosec
}

// TimeFromEpoch converts seconds since Epoch into a wall clock time
func TimeFromEpoch(ts int32) time.Time {
	return Epoch.Add(time.Duration(ts) * time.Second)
}

// Chain is either the parent chain or one of the child chains. Instances are
// created once by a Registry and shared by reference.
type Chain struct {
	ID       int32
	Name     string
	Decimals int
	oneCoin  int64
	parent   bool
}

func newChain(id int32, name string, decimals int, parent bool) *Chain {
	return &Chain{
		ID:       id,
		Name:     name,
		Decimals: decimals,
		oneCoin:  int64(math.Pow10(decimals)),
		parent:   parent,
	}
}

// OneCoin is the number of base units in one whole coin
func (c *Chain) OneCoin() int64 {
	return c.oneCoin
}

// IsParent returns true for the settlement chain
func (c *Chain) IsParent() bool {
	return c.parent
}

// Namespace returns the store namespace owned by this chain
func (c *Chain) Namespace() string {
	if c.parent {
		return "public"
	}
	return strings.ToLower(c.Name)
}

// MaxBalance is the largest balance any account may hold on this chain
func (c *Chain) MaxBalance() int64 {
	return MaxCoins * c.OneCoin()
}

// Format renders an amount in base units as whole coins
func (c *Chain) Format(amount int64) string {
	return common.FormatAmount(amount, c.Decimals) + " " + c.Name
}

func (c *Chain) String() string {
	return c.Name
}

// Registry is the fixed, read-only set of chains known to the ledger
type Registry struct {
	parent   *Chain
	children []*Chain
	byID     map[int32]*Chain
	byName   map[string]*Chain
}

// ChildDef describes a child chain to register
type ChildDef struct {
	ID       int32
	Name     string
	Decimals int
}

// NewRegistry builds a registry with the given parent and children. Ids and
// names must be unique and child ids must differ from the parent id.
func NewRegistry(parentName string, children ...ChildDef) (*Registry, error) {
	r := &Registry{
		parent: newChain(ParentChainID, parentName, ParentDecimals, true),
		byID:   make(map[int32]*Chain),
		byName: make(map[string]*Chain),
	}
	r.byID[r.parent.ID] = r.parent
	r.byName[r.parent.Name] = r.parent
	for _, def := range children {
		if def.ID <= 0 {
			return nil, fmt.Errorf("invalid child chain id %d", def.ID)
		}
		if _, ok := r.byID[def.ID]; ok {
			return nil, fmt.Errorf("duplicate chain id %d", def.ID)
		}
		if _, ok := r.byName[def.Name]; ok {
			return nil, fmt.Errorf("duplicate chain name %s", def.Name)
		}
		c := newChain(def.ID, def.Name, def.Decimals, false)
		r.children = append(r.children, c)
		r.byID[c.ID] = c
		r.byName[c.Name] = c
	}
	return r, nil
}

// DefaultRegistry returns the launch set of chains
func DefaultRegistry() *Registry {
	r, err := NewRegistry(
		"ARDR",
		ChildDef{ID: 2, Name: "IGNIS", Decimals: 8},
		ChildDef{ID: 3, Name: "AEUR", Decimals: 4},
		ChildDef{ID: 4, Name: "BITSWIFT", Decimals: 8},
		ChildDef{ID: 5, Name: "MPG", Decimals: 8},
	)
	if err != nil {
		panic(err)
	}
	return r
}

// Parent returns the settlement chain
func (r *Registry) Parent() *Chain {
	return r.parent
}

// Chain looks up a chain of either kind by id
func (r *Registry) Chain(id int32) (*Chain, error) {
	c, ok := r.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownChain, id)
	}
	return c, nil
}

// Child looks up a child chain by id. The parent id is rejected.
func (r *Registry) Child(id int32) (*Chain, error) {
	c, err := r.Chain(id)
	if err != nil {
		return nil, err
	}
	if c.parent {
		return nil, fmt.Errorf("%w: %d is not a child chain", ErrUnknownChain, id)
	}
	return c, nil
}

// ByName looks up a chain by its case-insensitive name
func (r *Registry) ByName(name string) (*Chain, error) {
	c, ok := r.byName[strings.ToUpper(name)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownChain, name)
	}
	return c, nil
}

// Children returns the child chains in registration order
func (r *Registry) Children() []*Chain {
	ret := make([]*Chain, len(r.children))
	copy(ret, r.children)
	return ret
}

// All returns the parent followed by every child chain
func (r *Registry) All() []*Chain {
	return append([]*Chain{r.parent}, r.children...)
}
