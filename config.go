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

package strata

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/blinklabs-io/strata/bundler"
	"github.com/blinklabs-io/strata/ledger"
	"github.com/blinklabs-io/strata/ledger/chain"
)

// BundlerConfig names the child chain a configured bundler serves. It is
// resolved against the chain registry when the node starts.
type BundlerConfig struct {
	Chain          string
	SecretPhrase   string
	MinRate        int64
	TotalFeesLimit int64
	OverpayRate    int64
}

type Config struct {
	promRegistry      prometheus.Registerer
	logger            *slog.Logger
	chains            *chain.Registry
	clock             func() time.Time
	dataDir           string
	mempoolCapacity   int64
	tracing           bool
	tracingStdout     bool
	shutdownTimeout   time.Duration
	bundlers          []BundlerConfig
	genesis           []ledger.GenesisEntry
	BundlerWorkerPool bundler.WorkerPoolConfig
}

func (n *Node) configValidate() error {
	if n.config.mempoolCapacity < 0 {
		return fmt.Errorf("invalid mempool capacity: %d", n.config.mempoolCapacity)
	}
	if n.config.shutdownTimeout < 0 {
		return fmt.Errorf("invalid shutdown timeout: %s", n.config.shutdownTimeout)
	}
	for _, b := range n.config.bundlers {
		c, err := n.config.chains.ByName(b.Chain)
		if err != nil {
			return fmt.Errorf("bundler: %w", err)
		}
		if c.IsParent() {
			return fmt.Errorf("bundler for %s: %w", c.Name, bundler.ErrParentChain)
		}
		if b.SecretPhrase == "" {
			return errors.New("bundler: missing secret phrase")
		}
	}
	return nil
}

// ConfigOptionFunc is a type that represents functions that modify the Strata config
type ConfigOptionFunc func(*Config)

// NewConfig creates a new Strata config with the specified options
func NewConfig(opts ...ConfigOptionFunc) Config {
	c := Config{
		// Default logger will throw away logs
		// We do this so we don't have to add guards around every log operation
		logger: slog.New(slog.NewJSONHandler(io.Discard, nil)),
		chains: chain.DefaultRegistry(),
	}
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

// WithDatabasePath specifies the persistent data directory to use. The default is to store everything in memory
func WithDatabasePath(dataDir string) ConfigOptionFunc {
	return func(c *Config) {
		c.dataDir = dataDir
	}
}

// WithLogger specifies the logger to use. This defaults to discarding log output
func WithLogger(logger *slog.Logger) ConfigOptionFunc {
	return func(c *Config) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithChains replaces the default chain registry
func WithChains(chains *chain.Registry) ConfigOptionFunc {
	return func(c *Config) {
		c.chains = chains
	}
}

// WithClock overrides the wall clock the ledger derives epoch time from
func WithClock(clock func() time.Time) ConfigOptionFunc {
	return func(c *Config) {
		c.clock = clock
	}
}

// WithPrometheusRegistry specifies a prometheus.Registerer instance to add metrics to. In most cases, prometheus.DefaultRegistry would be
// a good choice to get metrics working
func WithPrometheusRegistry(registry prometheus.Registerer) ConfigOptionFunc {
	return func(c *Config) {
		c.promRegistry = registry
	}
}

// WithTracing enables tracing. By default, spans are submitted to a HTTP(s) endpoint using OTLP. This can be configured
// using the OTEL_EXPORTER_OTLP_* env vars
func WithTracing(tracing bool) ConfigOptionFunc {
	return func(c *Config) {
		c.tracing = tracing
	}
}

// WithTracingStdout enables tracing output to stdout. This also requires tracing to enabled separately. This is mostly useful for debugging
func WithTracingStdout(stdout bool) ConfigOptionFunc {
	return func(c *Config) {
		c.tracingStdout = stdout
	}
}

// WithShutdownTimeout specifies the timeout for graceful shutdown. The default is 30 seconds
func WithShutdownTimeout(timeout time.Duration) ConfigOptionFunc {
	return func(c *Config) {
		c.shutdownTimeout = timeout
	}
}

// WithMempoolCapacity sets the unconfirmed pool capacity in bytes
func WithMempoolCapacity(capacity int64) ConfigOptionFunc {
	return func(c *Config) {
		c.mempoolCapacity = capacity
	}
}

// WithBundlers adds bundlers started with the node
func WithBundlers(bundlers ...BundlerConfig) ConfigOptionFunc {
	return func(c *Config) {
		c.bundlers = append(c.bundlers, bundlers...)
	}
}

// WithBundlerWorkerPoolConfig specifies the bundler worker pool configuration
func WithBundlerWorkerPoolConfig(cfg bundler.WorkerPoolConfig) ConfigOptionFunc {
	return func(c *Config) {
		c.BundlerWorkerPool = cfg
	}
}

// WithGenesis sets the initial balances loaded into an empty ledger
func WithGenesis(entries ...ledger.GenesisEntry) ConfigOptionFunc {
	return func(c *Config) {
		c.genesis = append(c.genesis, entries...)
	}
}
