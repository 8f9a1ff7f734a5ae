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
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/blinklabs-io/strata/ledger"
	"github.com/blinklabs-io/strata/ledger/appendix"
	"github.com/blinklabs-io/strata/ledger/chain"
	"github.com/blinklabs-io/strata/ledger/common"
	"github.com/blinklabs-io/strata/ledger/crypto"
	"github.com/blinklabs-io/strata/ledger/payment"
	"github.com/blinklabs-io/strata/ledger/transaction"
)

var errBadSignature = errors.New("signature does not verify")

func txCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tx",
		Short: "Build and decode transactions",
		// Skip config loading
		PersistentPreRun: func(*cobra.Command, []string) {},
	}
	cmd.AddCommand(txBuildCommand())
	cmd.AddCommand(txDecodeCommand())
	return cmd
}

// buildOptions describes an offline payment. Without a live chain the
// anchor block and the timestamp come from flags.
type buildOptions struct {
	chain        string
	secret       string
	recipient    string
	amount       string
	fee          string
	feeRate      int64
	deadline     int16
	message      string
	timestamp    int32
	anchorHeight int32
	anchorID     uint64
}

// offlineChain stands in for the live chain when building without a node
type offlineChain struct {
	height int32
	id     uint64
	now    int32
}

func (o offlineChain) Height() int32 { return o.height }
func (o offlineChain) Now() int32    { return o.now }

func (o offlineChain) BlockIDAtHeight(height int32) (uint64, bool) {
	if height != o.height {
		return 0, false
	}
	return o.id, true
}

func txBuildCommand() *cobra.Command {
	opts := buildOptions{}
	cmd := &cobra.Command{
		Use:   "build",
		Short: "Build and sign a payment",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if opts.timestamp == 0 {
				opts.timestamp = chain.EpochTime(time.Now())
			}
			return buildPayment(cmd.OutOrStdout(), opts)
		},
	}
	cmd.Flags().StringVar(&opts.chain, "chain", "IGNIS", "chain name")
	cmd.Flags().StringVar(&opts.secret, "secret", "", "sender secret phrase")
	cmd.Flags().StringVar(&opts.recipient, "recipient", "", "recipient account id")
	cmd.Flags().StringVar(&opts.amount, "amount", "", "amount in whole coins")
	cmd.Flags().StringVar(&opts.fee, "fee", "", "fee in whole coins, empty for the minimum")
	cmd.Flags().Int64Var(&opts.feeRate, "fee-rate", 0, "child chain units paid per parent coin of minimum fee")
	cmd.Flags().Int16Var(&opts.deadline, "deadline", 60, "deadline in minutes")
	cmd.Flags().StringVar(&opts.message, "message", "", "attach a plain text message")
	cmd.Flags().Int32Var(&opts.timestamp, "timestamp", 0, "timestamp in epoch seconds, 0 for now")
	cmd.Flags().Int32Var(&opts.anchorHeight, "anchor-height", 0, "height of the anchor block")
	cmd.Flags().Uint64Var(&opts.anchorID, "anchor-id", 0, "id of the anchor block")
	return cmd
}

func buildPayment(w io.Writer, opts buildOptions) error {
	if opts.secret == "" {
		return errNoSecret
	}
	registry := chain.DefaultRegistry()
	c, err := registry.ByName(opts.chain)
	if err != nil {
		return err
	}
	codec, err := ledger.NewCodec(registry)
	if err != nil {
		return err
	}
	recipient, err := common.ParseID(opts.recipient)
	if err != nil {
		return err
	}
	if recipient == 0 {
		return errors.New("a recipient is required")
	}
	amount, err := common.ParseAmount(opts.amount, c.Decimals)
	if err != nil {
		return err
	}
	var fee int64
	if opts.fee != "" {
		if fee, err = common.ParseAmount(opts.fee, c.Decimals); err != nil {
			return err
		}
	}
	key := payment.KeyChildPayment
	var attachment appendix.Attachment = payment.NewChildPayment()
	if c.IsParent() {
		key = payment.KeyParentPayment
		attachment = payment.NewParentPayment()
	}
	typ, err := codec.Types().Lookup(c.IsParent(), key)
	if err != nil {
		return err
	}
	b := transaction.NewBuilder(
		c,
		typ,
		crypto.PublicKey(opts.secret),
		amount,
		fee,
		opts.deadline,
		attachment,
	).
		Recipient(recipient).
		Timestamp(opts.timestamp).
		Anchor(opts.anchorHeight, opts.anchorID).
		Blockchain(offlineChain{height: opts.anchorHeight, id: opts.anchorID, now: opts.timestamp})
	if opts.feeRate > 0 {
		b.FeeRate(opts.feeRate)
	}
	if opts.message != "" {
		b.Appendix(appendix.NewMessage([]byte(opts.message), true))
	}
	tx, err := b.Build(opts.secret)
	if err != nil {
		return err
	}
	return printTransaction(w, tx)
}

func txDecodeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "decode <hex>",
		Short: "Decode and verify transaction bytes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return decodeTransaction(cmd.OutOrStdout(), args[0])
		},
	}
}

func decodeTransaction(w io.Writer, s string) error {
	codec, err := ledger.NewCodec(chain.DefaultRegistry())
	if err != nil {
		return err
	}
	tx, err := codec.ParseHex(s)
	if err != nil {
		return err
	}
	if !tx.Verify() {
		return fmt.Errorf("transaction %s: %w", tx.StringID(), errBadSignature)
	}
	return printTransaction(w, tx)
}

func printTransaction(w io.Writer, tx *transaction.Transaction) error {
	out, err := json.MarshalIndent(struct {
		ID       string          `json:"id"`
		FullHash string          `json:"fullHash"`
		Bytes    string          `json:"bytes"`
		JSON     appendix.Object `json:"transactionJSON"`
	}{
		ID:       tx.StringID(),
		FullHash: hex.EncodeToString(tx.FullHash()),
		Bytes:    hex.EncodeToString(tx.Bytes()),
		JSON:     tx.JSON(),
	}, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(out))
	return err
}
