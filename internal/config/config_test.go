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

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func resetGlobalConfig() {
	globalConfig = &Config{
		DatabasePath:     ".strata",
		BindAddr:         "0.0.0.0",
		ShutdownTimeout:  DefaultShutdownTimeout,
		MempoolCapacity:  10485760,
		MetricsPort:      12799,
		BundlerWorkers:   2,
		BundlerQueueSize: 64,
	}
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "strata.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadCompareFullStruct(t *testing.T) {
	resetGlobalConfig()
	path := writeConfig(t, `
databasePath: "/var/lib/strata"
bindAddr: "127.0.0.1"
shutdownTimeout: "5s"
mempoolCapacity: 2097152
metricsPort: 8088
tracing: true
bundlerWorkers: 4
bundlerQueueSize: 16
bundlers:
  - chain: IGNIS
    secretPhrase: "bundler secret"
    minRate: 100000000
    totalFeesLimit: 500000000
    overpayRate: 10000000
genesis:
  - chain: ARDR
    publicKey: "00112233445566778899aabbccddeeff00112233445566778899aabbccddeeff"
    amount: 100000000000
`)
	expected := &Config{
		DatabasePath:     "/var/lib/strata",
		BindAddr:         "127.0.0.1",
		ShutdownTimeout:  "5s",
		MempoolCapacity:  2097152,
		MetricsPort:      8088,
		Tracing:          true,
		BundlerWorkers:   4,
		BundlerQueueSize: 16,
		Bundlers: []BundlerConfig{{
			Chain:          "IGNIS",
			SecretPhrase:   "bundler secret",
			MinRate:        100000000,
			TotalFeesLimit: 500000000,
			OverpayRate:    10000000,
		}},
		Genesis: []GenesisConfig{{
			Chain:     "ARDR",
			PublicKey: "00112233445566778899aabbccddeeff00112233445566778899aabbccddeeff",
			Amount:    100000000000,
		}},
	}
	actual, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, expected, actual)
	assert.Equal(t, 5*time.Second, actual.ShutdownDuration())
	pk, err := actual.Genesis[0].PublicKeyBytes()
	require.NoError(t, err)
	assert.Len(t, pk, 32)
}

func TestLoadConfigSection(t *testing.T) {
	resetGlobalConfig()
	path := writeConfig(t, `
config:
  metricsPort: 9999
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, uint(9999), cfg.MetricsPort)
	assert.Equal(t, ".strata", cfg.DatabasePath)
	assert.Equal(t, DefaultShutdownTimeout, cfg.ShutdownTimeout)
	assert.Equal(t, int64(10485760), cfg.MempoolCapacity)
}

func TestLoadEnvironmentOverrides(t *testing.T) {
	resetGlobalConfig()
	t.Setenv("STRATA_DATABASE_PATH", "/tmp/env-strata")
	t.Setenv("STRATA_MEMPOOL_CAPACITY", "4096")
	t.Setenv("STRATA_BUNDLER_WORKERS", "8")
	path := writeConfig(t, "databasePath: /from/file\n")
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/env-strata", cfg.DatabasePath)
	assert.Equal(t, int64(4096), cfg.MempoolCapacity)
	assert.Equal(t, 8, cfg.BundlerWorkers)
}

func TestLoadRejectsBadSettings(t *testing.T) {
	resetGlobalConfig()
	path := writeConfig(t, `
shutdownTimeout: "soon"
bundlers:
  - chain: IGNIS
genesis:
  - chain: ARDR
    publicKey: "not hex"
    amount: 1
`)
	_, err := LoadConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "shutdownTimeout")
	assert.Contains(t, err.Error(), "bundler 0")
	assert.Contains(t, err.Error(), "genesis entry 0")
}

func TestLoadMissingFile(t *testing.T) {
	resetGlobalConfig()
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "error reading config file")
}

func TestContextRoundTrip(t *testing.T) {
	resetGlobalConfig()
	assert.Nil(t, FromContext(t.Context()))
	ctx := WithContext(t.Context(), GetConfig())
	assert.Same(t, GetConfig(), FromContext(ctx))
}
