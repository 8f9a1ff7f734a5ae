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

package main

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/blinklabs-io/strata/ledger/common"
	"github.com/blinklabs-io/strata/ledger/crypto"
)

var errNoSecret = errors.New("a secret phrase is required")

func accountCommand() *cobra.Command {
	var secret string
	cmd := &cobra.Command{
		Use:   "account",
		Short: "Show the public key and account id of a secret phrase",
		// Skip config loading
		PersistentPreRun: func(*cobra.Command, []string) {},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return printAccount(cmd.OutOrStdout(), secret)
		},
	}
	cmd.Flags().StringVar(&secret, "secret", "", "account secret phrase")
	return cmd
}

func printAccount(w io.Writer, secret string) error {
	if secret == "" {
		return errNoSecret
	}
	publicKey := crypto.PublicKey(secret)
	_, err := fmt.Fprintf(
		w,
		"public key: %s\naccount:    %s\n",
		hex.EncodeToString(publicKey),
		common.FormatID(common.AccountID(publicKey)),
	)
	return err
}
