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

package crypto

import (
	"bytes"
	"crypto/rand"
	"crypto/sha512"
	"errors"
	"fmt"
	"io"

	"filippo.io/edwards25519"
	"github.com/klauspost/compress/gzip"
	"golang.org/x/crypto/nacl/box"
)

const NonceSize = 24

var (
	ErrDecrypt          = errors.New("unable to decrypt data")
	ErrInvalidPublicKey = errors.New("invalid public key")
)

// EncryptedData is a nacl/box sealed payload with its nonce
type EncryptedData struct {
	Data  []byte
	Nonce []byte
}

// Size returns the on-chain footprint of the sealed payload
func (e EncryptedData) Size() int {
	return len(e.Data) + len(e.Nonce)
}

// curvePrivate converts the ed25519 seed of a secret phrase into an X25519
// scalar
func curvePrivate(secret string) *[32]byte {
	h := sha512.Sum512(KeySeed(secret))
	var priv [32]byte
	copy(priv[:], h[:32])
	priv[0] &= 248
	priv[31] &= 127
	priv[31] |= 64
	return &priv
}

// curvePublic converts an ed25519 public key into its X25519 form
func curvePublic(publicKey []byte) (*[32]byte, error) {
	p, err := new(edwards25519.Point).SetBytes(publicKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPublicKey, err)
	}
	var pub [32]byte
	copy(pub[:], p.BytesMontgomery())
	return &pub, nil
}

func sharedKey(publicKey []byte, secret string) (*[32]byte, error) {
	peer, err := curvePublic(publicKey)
	if err != nil {
		return nil, err
	}
	var shared [32]byte
	box.Precompute(&shared, peer, curvePrivate(secret))
	return &shared, nil
}

// Encrypt seals plaintext for the holder of publicKey, using the sender's
// secret phrase
func Encrypt(
	plaintext []byte,
	publicKey []byte,
	secret string,
) (EncryptedData, error) {
	shared, err := sharedKey(publicKey, secret)
	if err != nil {
		return EncryptedData{}, err
	}
	var nonce [NonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return EncryptedData{}, fmt.Errorf("generate nonce: %w", err)
	}
	sealed := box.SealAfterPrecomputation(nil, plaintext, &nonce, shared)
	return EncryptedData{Data: sealed, Nonce: nonce[:]}, nil
}

// Decrypt opens data sealed between the holder of secret and publicKey.
// Either side of the exchange can decrypt.
func Decrypt(
	data EncryptedData,
	publicKey []byte,
	secret string,
) ([]byte, error) {
	if len(data.Nonce) != NonceSize {
		return nil, ErrDecrypt
	}
	shared, err := sharedKey(publicKey, secret)
	if err != nil {
		return nil, err
	}
	var nonce [NonceSize]byte
	copy(nonce[:], data.Nonce)
	plain, ok := box.OpenAfterPrecomputation(nil, data.Data, &nonce, shared)
	if !ok {
		return nil, ErrDecrypt
	}
	return plain, nil
}

// Compress gzips a message body before encryption
func Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decompress reverses Compress
func Decompress(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}
