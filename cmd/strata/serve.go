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
	"errors"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/blinklabs-io/strata/internal/config"
	"github.com/blinklabs-io/strata/internal/node"
)

type serveFlags struct {
	databasePath string
	metricsPort  uint
	noBundlers   bool
}

// apply copies explicitly set flags over the loaded config
func (f *serveFlags) apply(cmd *cobra.Command, cfg *config.Config) {
	if cmd.Flags().Changed("database-path") {
		cfg.DatabasePath = f.databasePath
	}
	if cmd.Flags().Changed("metrics-port") {
		cfg.MetricsPort = f.metricsPort
	}
	if f.noBundlers {
		cfg.Bundlers = nil
	}
}

func serveCommand() *cobra.Command {
	flags := &serveFlags{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the ledger node and its configured bundlers",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := config.FromContext(cmd.Context())
			if cfg == nil {
				return errors.New("no config found in context")
			}
			flags.apply(cmd, cfg)
			logger := commonRun()
			if err := node.Run(cfg, logger); err != nil {
				slog.Error("node exited", "error", err)
				os.Exit(1)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&flags.databasePath, "database-path", "", "override the data directory")
	cmd.Flags().UintVar(&flags.metricsPort, "metrics-port", 0, "override the metrics listen port")
	cmd.Flags().BoolVar(&flags.noBundlers, "no-bundlers", false, "start without the configured bundlers")
	return cmd
}
