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

// Package keystore loads secret phrases for accounts the node signs with,
// such as bundler funding accounts.
package keystore

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/blinklabs-io/strata/ledger/common"
	"github.com/blinklabs-io/strata/ledger/crypto"
)

const SecretFileType = "StrataSecretPhrase"

var (
	ErrInsecureFileMode = errors.New("insecure file permissions")
	ErrEmptySecret      = errors.New("empty secret phrase")
	ErrAccountMismatch  = errors.New("secret phrase does not match the expected account")
)

// secretFileEnvelope is the JSON form of a secret file. A file that is not
// JSON is read as the bare phrase.
type secretFileEnvelope struct {
	Type         string `json:"type"`
	Description  string `json:"description"`
	SecretPhrase string `json:"secretPhrase"`
	Account      string `json:"account,omitempty"`
}

// Secret is a loaded secret phrase with the account it controls
type Secret struct {
	Phrase      string
	Description string
	PublicKey   []byte
	AccountID   uint64
}

// LoadSecretFromFile reads a secret phrase. Files readable by group or other
// are refused with ErrInsecureFileMode.
//
// Permissions are checked on the open handle so that the file checked is
// the file read.
func LoadSecretFromFile(path string) (*Secret, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open secret file %q: %w", path, err)
	}
	defer f.Close()

	if err := checkOpenFilePermissions(f); err != nil {
		return nil, err
	}
	const maxSecretFileSize = 64 << 10
	data, err := io.ReadAll(io.LimitReader(f, maxSecretFileSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read secret file %q: %w", path, err)
	}
	secret, err := ParseSecret(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse secret file %q: %w", path, err)
	}
	return secret, nil
}

// ParseSecret decodes a secret file body
func ParseSecret(data []byte) (*Secret, error) {
	trimmed := bytes.TrimSpace(data)
	var env secretFileEnvelope
	if len(trimmed) > 0 && trimmed[0] == '{' {
		if err := json.Unmarshal(trimmed, &env); err != nil {
			return nil, fmt.Errorf("could not parse secret envelope: %w", err)
		}
		if env.Type != SecretFileType {
			return nil, fmt.Errorf("unknown secret file type: %q", env.Type)
		}
	} else {
		env.SecretPhrase = string(trimmed)
	}
	phrase := strings.TrimRight(env.SecretPhrase, "\r\n")
	if phrase == "" {
		return nil, ErrEmptySecret
	}
	publicKey := crypto.PublicKey(phrase)
	s := &Secret{
		Phrase:      phrase,
		Description: env.Description,
		PublicKey:   publicKey,
		AccountID:   common.AccountID(publicKey),
	}
	if env.Account != "" {
		want, err := common.ParseID(env.Account)
		if err != nil {
			return nil, err
		}
		if want != s.AccountID {
			return nil, fmt.Errorf(
				"%w: file names %s, phrase controls %s",
				ErrAccountMismatch,
				env.Account,
				common.FormatID(s.AccountID),
			)
		}
	}
	return s, nil
}
