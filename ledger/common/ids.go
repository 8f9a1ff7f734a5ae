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

package common

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strconv"

	"github.com/shopspring/decimal"
)

const (
	HashSize      = 32
	PublicKeySize = 32
	SignatureSize = 64
)

// FullHashToID derives a 64-bit id from the first 8 bytes of a full hash,
// read little-endian
func FullHashToID(hash []byte) uint64 {
	if len(hash) < 8 {
		return 0
	}
	return binary.LittleEndian.Uint64(hash[:8])
}

// AccountID derives the account id of a public key
func AccountID(publicKey []byte) uint64 {
	h := sha256.Sum256(publicKey)
	return FullHashToID(h[:])
}

// FormatID renders an id as an unsigned decimal string
func FormatID(id uint64) string {
	return strconv.FormatUint(id, 10)
}

// ParseID parses an unsigned decimal id. An empty string is id 0.
func ParseID(s string) (uint64, error) {
	if s == "" {
		return 0, nil
	}
	id, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid id %q: %w", s, err)
	}
	return id, nil
}

// FormatAmount renders an amount in the smallest unit as a whole-coin decimal
func FormatAmount(amount int64, decimals int) string {
	return decimal.New(amount, -int32(decimals)).String() //nolint:gosec
}

// ParseHex decodes a lowercase or uppercase hex blob. An empty string is nil.
func ParseHex(s string) ([]byte, error) {
	if s == "" {
		return nil, nil
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid hex: %w", err)
	}
	return b, nil
}

// IsZero returns true if every byte is zero
func IsZero(b []byte) bool {
	for _, v := range b {
		if v != 0 {
			return false
		}
	}
	return true
}

// ParseAmount parses a whole-coin decimal such as "1.5" into the smallest
// unit. More fractional digits than decimals is an error.
func ParseAmount(s string, decimals int) (int64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	units := d.Shift(int32(decimals)) //nolint:gosec
	if !units.IsInteger() {
		return 0, fmt.Errorf("invalid amount %q: more than %d decimals", s, decimals)
	}
	if !units.BigInt().IsInt64() {
		return 0, fmt.Errorf("invalid amount %q: %w", s, ErrOverflow)
	}
	return units.IntPart(), nil
}
