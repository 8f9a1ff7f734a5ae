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

package chain_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blinklabs-io/strata/ledger/chain"
)

func TestDefaultRegistry(t *testing.T) {
	r := chain.DefaultRegistry()
	parent := r.Parent()
	assert.True(t, parent.IsParent())
	assert.Equal(t, int32(1), parent.ID)
	assert.Equal(t, int64(100_000_000), parent.OneCoin())
	assert.Equal(t, "public", parent.Namespace())

	aeur, err := r.ByName("aeur")
	require.NoError(t, err)
	assert.Equal(t, int32(3), aeur.ID)
	assert.Equal(t, int64(10_000), aeur.OneCoin())
	assert.Equal(t, "aeur", aeur.Namespace())
	assert.False(t, aeur.IsParent())

	ignis, err := r.Child(2)
	require.NoError(t, err)
	assert.Equal(t, "IGNIS", ignis.Name)
	// Lookups share the same instance
	same, err := r.Chain(2)
	require.NoError(t, err)
	assert.Same(t, ignis, same)

	_, err = r.Child(chain.ParentChainID)
	assert.ErrorIs(t, err, chain.ErrUnknownChain)
	_, err = r.Chain(99)
	assert.ErrorIs(t, err, chain.ErrUnknownChain)
	assert.Len(t, r.Children(), 4)
	assert.Len(t, r.All(), 5)
	assert.Equal(t, "1.5 AEUR", aeur.Format(15_000))
}

func TestNewRegistryRejectsDuplicates(t *testing.T) {
	_, err := chain.NewRegistry(
		"ARDR",
		chain.ChildDef{ID: 2, Name: "IGNIS", Decimals: 8},
		chain.ChildDef{ID: 2, Name: "OTHER", Decimals: 8},
	)
	assert.Error(t, err)
	_, err = chain.NewRegistry(
		"ARDR",
		chain.ChildDef{ID: 1, Name: "IGNIS", Decimals: 8},
	)
	assert.Error(t, err)
}

func TestEpochTime(t *testing.T) {
	ts := chain.EpochTime(chain.Epoch.Add(90 * time.Second))
	assert.Equal(t, int32(90), ts)
	assert.True(t, chain.TimeFromEpoch(ts).Equal(chain.Epoch.Add(90*time.Second)))
}
