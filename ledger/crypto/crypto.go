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

// Package crypto wraps the signature, digest and encryption primitives used
// by the ledger. Keys are derived from a secret phrase.
package crypto

import (
	"crypto/sha256"

	"golang.org/x/crypto/ed25519"
)

// Sha256 returns the SHA-256 digest of the concatenation of parts
func Sha256(parts ...[]byte) []byte {
	h := sha256.New()
	for _, p := range parts {
		h.Write(p)
	}
	return h.Sum(nil)
}

// KeySeed derives the ed25519 seed for a secret phrase
func KeySeed(secret string) []byte {
	return Sha256([]byte(secret))
}

func privateKey(secret string) ed25519.PrivateKey {
	return ed25519.NewKeyFromSeed(KeySeed(secret))
}

// PublicKey returns the 32-byte public key for a secret phrase
func PublicKey(secret string) []byte {
	pub, _ := privateKey(secret).Public().(ed25519.PublicKey)
	return []byte(pub)
}

// Sign produces a 64-byte signature over message
func Sign(message []byte, secret string) []byte {
	return ed25519.Sign(privateKey(secret), message)
}

// Verify checks a signature against a public key
func Verify(signature []byte, message []byte, publicKey []byte) bool {
	if len(signature) != ed25519.SignatureSize ||
		len(publicKey) != ed25519.PublicKeySize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(publicKey), message, signature)
}
