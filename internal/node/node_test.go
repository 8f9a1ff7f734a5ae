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

package node

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blinklabs-io/strata"
	"github.com/blinklabs-io/strata/internal/config"
)

func TestOptions(t *testing.T) {
	cfg := &config.Config{
		ShutdownTimeout: "1s",
		Bundlers: []config.BundlerConfig{
			{Chain: "IGNIS", SecretPhrase: "node bundler"},
		},
		Genesis: []config.GenesisConfig{
			{Chain: "ARDR", PublicKey: "0011", Amount: 5},
		},
	}
	opts, err := Options(cfg, nil)
	require.NoError(t, err)
	assert.NotEmpty(t, opts)
	n, err := strata.New(strata.NewConfig(opts...))
	require.NoError(t, err)
	require.NoError(t, n.Stop())

	cfg.Genesis[0].PublicKey = "zz"
	_, err = Options(cfg, nil)
	assert.Error(t, err)
}

func TestOptionsLoadsSecretFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ignis.secret")
	require.NoError(t, os.WriteFile(path, []byte("file bundler\n"), 0o600))
	cfg := &config.Config{
		ShutdownTimeout: "1s",
		Bundlers: []config.BundlerConfig{
			{Chain: "IGNIS", SecretPhraseFile: path},
		},
	}
	_, err := Options(cfg, nil)
	require.NoError(t, err)

	cfg.Bundlers[0].SecretPhraseFile = filepath.Join(t.TempDir(), "missing")
	_, err = Options(cfg, nil)
	assert.ErrorContains(t, err, "bundler for IGNIS")
}
