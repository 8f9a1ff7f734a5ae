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

package crypto_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blinklabs-io/strata/ledger/crypto"
)

func TestSignVerify(t *testing.T) {
	msg := []byte("hello strata")
	pub := crypto.PublicKey("alice secret")
	require.Len(t, pub, 32)
	sig := crypto.Sign(msg, "alice secret")
	require.Len(t, sig, 64)
	assert.True(t, crypto.Verify(sig, msg, pub))
	assert.False(t, crypto.Verify(sig, []byte("tampered"), pub))
	assert.False(t, crypto.Verify(sig, msg, crypto.PublicKey("bob secret")))
	assert.False(t, crypto.Verify(sig[:10], msg, pub))
	// Deterministic key derivation
	assert.Equal(t, pub, crypto.PublicKey("alice secret"))
}

func TestEncryptDecrypt(t *testing.T) {
	alicePub := crypto.PublicKey("alice secret")
	bobPub := crypto.PublicKey("bob secret")
	plain := []byte("a private note")
	enc, err := crypto.Encrypt(plain, bobPub, "alice secret")
	require.NoError(t, err)
	assert.Len(t, enc.Nonce, crypto.NonceSize)
	// Recipient decrypts with the sender's public key
	out, err := crypto.Decrypt(enc, alicePub, "bob secret")
	require.NoError(t, err)
	assert.Equal(t, plain, out)
	// Sender can also read it back
	out, err = crypto.Decrypt(enc, bobPub, "alice secret")
	require.NoError(t, err)
	assert.Equal(t, plain, out)
	_, err = crypto.Decrypt(enc, alicePub, "mallory secret")
	assert.ErrorIs(t, err, crypto.ErrDecrypt)
}

func TestCompress(t *testing.T) {
	data := bytes.Repeat([]byte("strata "), 100)
	c, err := crypto.Compress(data)
	require.NoError(t, err)
	assert.Less(t, len(c), len(data))
	d, err := crypto.Decompress(c)
	require.NoError(t, err)
	assert.Equal(t, data, d)
}
