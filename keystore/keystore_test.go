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

package keystore

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blinklabs-io/strata/ledger/common"
	"github.com/blinklabs-io/strata/ledger/crypto"
)

func isWindows() bool {
	return runtime.GOOS == "windows"
}

func writeSecret(t *testing.T, body string, mode os.FileMode) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bundler.secret")
	require.NoError(t, os.WriteFile(path, []byte(body), mode))
	require.NoError(t, os.Chmod(path, mode))
	return path
}

func TestLoadPlainSecret(t *testing.T) {
	path := writeSecret(t, "plain bundler phrase\n", 0o600)
	s, err := LoadSecretFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, "plain bundler phrase", s.Phrase)
	assert.Equal(t, crypto.PublicKey("plain bundler phrase"), s.PublicKey)
	assert.Equal(t, common.AccountID(s.PublicKey), s.AccountID)
}

func TestLoadEnvelopeSecret(t *testing.T) {
	account := common.FormatID(common.AccountID(crypto.PublicKey("envelope phrase")))
	path := writeSecret(t, `{
    "type": "StrataSecretPhrase",
    "description": "IGNIS bundler",
    "secretPhrase": "envelope phrase",
    "account": "`+account+`"
}`, 0o600)
	s, err := LoadSecretFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, "envelope phrase", s.Phrase)
	assert.Equal(t, "IGNIS bundler", s.Description)
}

func TestParseSecretErrors(t *testing.T) {
	_, err := ParseSecret([]byte("  \n"))
	assert.ErrorIs(t, err, ErrEmptySecret)
	_, err = ParseSecret([]byte(`{"type":"Other","secretPhrase":"x"}`))
	assert.ErrorContains(t, err, "unknown secret file type")
	_, err = ParseSecret([]byte(`{"type":"StrataSecretPhrase","secretPhrase":"x","account":"1"}`))
	assert.ErrorIs(t, err, ErrAccountMismatch)
	_, err = ParseSecret([]byte(`{"type":`))
	assert.Error(t, err)
}

func TestLoadRejectsInsecureMode(t *testing.T) {
	if isWindows() {
		t.Skip("POSIX file modes are not checked on Windows")
	}
	path := writeSecret(t, "exposed phrase", 0o644)
	_, err := LoadSecretFromFile(path)
	assert.ErrorIs(t, err, ErrInsecureFileMode)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := LoadSecretFromFile(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}
