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

package node

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/blinklabs-io/strata"
	"github.com/blinklabs-io/strata/bundler"
	"github.com/blinklabs-io/strata/internal/config"
	"github.com/blinklabs-io/strata/keystore"
	"github.com/blinklabs-io/strata/ledger"
)

// Options converts the loaded config into node options
func Options(cfg *config.Config, logger *slog.Logger) ([]strata.ConfigOptionFunc, error) {
	genesis := make([]ledger.GenesisEntry, 0, len(cfg.Genesis))
	for _, g := range cfg.Genesis {
		pk, err := g.PublicKeyBytes()
		if err != nil {
			return nil, err
		}
		genesis = append(genesis, ledger.GenesisEntry{
			Chain:     g.Chain,
			PublicKey: pk,
			Amount:    g.Amount,
		})
	}
	bundlers := make([]strata.BundlerConfig, 0, len(cfg.Bundlers))
	for _, b := range cfg.Bundlers {
		phrase := b.SecretPhrase
		if phrase == "" && b.SecretPhraseFile != "" {
			secret, err := keystore.LoadSecretFromFile(b.SecretPhraseFile)
			if err != nil {
				return nil, fmt.Errorf("bundler for %s: %w", b.Chain, err)
			}
			phrase = secret.Phrase
		}
		bundlers = append(bundlers, strata.BundlerConfig{
			Chain:          b.Chain,
			SecretPhrase:   phrase,
			MinRate:        b.MinRate,
			TotalFeesLimit: b.TotalFeesLimit,
			OverpayRate:    b.OverpayRate,
		})
	}
	return []strata.ConfigOptionFunc{
		strata.WithLogger(logger),
		strata.WithDatabasePath(cfg.DatabasePath),
		strata.WithMempoolCapacity(cfg.MempoolCapacity),
		strata.WithShutdownTimeout(cfg.ShutdownDuration()),
		strata.WithTracing(cfg.Tracing),
		strata.WithTracingStdout(cfg.TracingStdout),
		strata.WithGenesis(genesis...),
		strata.WithBundlers(bundlers...),
		strata.WithBundlerWorkerPoolConfig(bundler.WorkerPoolConfig{
			WorkerPoolSize: cfg.BundlerWorkers,
			TaskQueueSize:  cfg.BundlerQueueSize,
		}),
		// Enable metrics with default prometheus registry
		strata.WithPrometheusRegistry(prometheus.DefaultRegisterer),
	}, nil
}

func Run(cfg *config.Config, logger *slog.Logger) error {
	logger.Debug(fmt.Sprintf("config: %+v", cfg), "component", "node")
	opts, err := Options(cfg, logger)
	if err != nil {
		return err
	}
	n, err := strata.New(strata.NewConfig(opts...))
	if err != nil {
		return err
	}
	shutdownTimeout := cfg.ShutdownDuration()

	// Metrics listener
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	metricsAddr := fmt.Sprintf("%s:%d", cfg.BindAddr, cfg.MetricsPort)
	metricsServer := &http.Server{
		Addr:              metricsAddr,
		Handler:           mux,
		ReadHeaderTimeout: 60 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// Wait for interrupt/termination signal
	signalCtx, signalCtxStop := signal.NotifyContext(
		context.Background(),
		syscall.SIGINT,
		syscall.SIGTERM,
	)
	defer signalCtxStop()

	g, ctx := errgroup.WithContext(signalCtx)
	g.Go(func() error {
		logger.Info("serving prometheus metrics on "+metricsAddr, "component", "node")
		if err := metricsServer.ListenAndServe(); err != nil &&
			!errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics listener: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return n.Run(ctx)
	})
	g.Go(func() error {
		<-ctx.Done()
		logger.Info("initiating graceful shutdown", "component", "node")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		var err error
		if shutdownErr := metricsServer.Shutdown(shutdownCtx); shutdownErr != nil {
			err = errors.Join(err, fmt.Errorf("metrics server shutdown: %w", shutdownErr))
		}
		if stopErr := n.Stop(); stopErr != nil {
			err = errors.Join(err, stopErr)
		}
		return err
	})
	if err := g.Wait(); err != nil {
		logger.Error("node error", "component", "node", "error", err)
		return err
	}
	logger.Info("shutdown complete", "component", "node")
	return nil
}
