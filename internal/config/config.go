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

package config

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

type ctxKey string

const configContextKey ctxKey = "strata.config"

const DefaultShutdownTimeout = "30s"

func WithContext(ctx context.Context, cfg *Config) context.Context {
	return context.WithValue(ctx, configContextKey, cfg)
}

func FromContext(ctx context.Context) *Config {
	cfg, ok := ctx.Value(configContextKey).(*Config)
	if !ok {
		return nil
	}
	return cfg
}

// tempConfig finds an optional config section. It stays a node so the
// section decodes onto the defaults
type tempConfig struct {
	Config yaml.Node `yaml:"config"`
}

// BundlerConfig starts a bundler for one child chain. Fee amounts are in
// parent chain units; MinRate is child chain units per parent coin.
type BundlerConfig struct {
	Chain        string `yaml:"chain"`
	SecretPhrase string `yaml:"secretPhrase"`
	// SecretPhraseFile is read with the keystore when SecretPhrase is empty
	SecretPhraseFile string `yaml:"secretPhraseFile"`
	MinRate          int64  `yaml:"minRate"`
	TotalFeesLimit   int64  `yaml:"totalFeesLimit"`
	OverpayRate      int64  `yaml:"overpayRate"`
}

// GenesisConfig is one initial balance. PublicKey is hex encoded.
type GenesisConfig struct {
	Chain     string `yaml:"chain"`
	PublicKey string `yaml:"publicKey"`
	Amount    int64  `yaml:"amount"`
}

func (g GenesisConfig) PublicKeyBytes() ([]byte, error) {
	pk, err := hex.DecodeString(g.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("genesis public key %q: %w", g.PublicKey, err)
	}
	return pk, nil
}

type Config struct {
	DatabasePath     string          `yaml:"databasePath"     split_words:"true"`
	BindAddr         string          `yaml:"bindAddr"         split_words:"true"`
	ShutdownTimeout  string          `yaml:"shutdownTimeout"  split_words:"true"`
	MempoolCapacity  int64           `yaml:"mempoolCapacity"  split_words:"true"`
	MetricsPort      uint            `yaml:"metricsPort"      split_words:"true"`
	Tracing          bool            `yaml:"tracing"`
	TracingStdout    bool            `yaml:"tracingStdout"    split_words:"true"`
	BundlerWorkers   int             `yaml:"bundlerWorkers"   split_words:"true"`
	BundlerQueueSize int             `yaml:"bundlerQueueSize" split_words:"true"`
	Bundlers         []BundlerConfig `yaml:"bundlers"         ignored:"true"`
	Genesis          []GenesisConfig `yaml:"genesis"          ignored:"true"`
}

var globalConfig = &Config{
	DatabasePath:     ".strata",
	BindAddr:         "0.0.0.0",
	ShutdownTimeout:  DefaultShutdownTimeout,
	MempoolCapacity:  10485760,
	MetricsPort:      12799,
	BundlerWorkers:   2,
	BundlerQueueSize: 64,
}

func LoadConfig(configFile string) (*Config, error) {
	if configFile == "" {
		// Check for config file in this path: ~/.strata/strata.yaml
		if homeDir, err := os.UserHomeDir(); err == nil {
			userPath := filepath.Join(homeDir, ".strata", "strata.yaml")
			if _, err := os.Stat(userPath); err == nil {
				configFile = userPath
			}
		}
		if configFile == "" {
			systemPath := "/etc/strata/strata.yaml"
			if _, err := os.Stat(systemPath); err == nil {
				configFile = systemPath
			}
		}
	}
	if configFile != "" {
		buf, err := os.ReadFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		var tempCfg tempConfig
		if err := yaml.Unmarshal(buf, &tempCfg); err != nil {
			return nil, fmt.Errorf("error parsing config file: %w", err)
		}
		if !tempCfg.Config.IsZero() {
			if err := tempCfg.Config.Decode(globalConfig); err != nil {
				return nil, fmt.Errorf("error parsing config section: %w", err)
			}
		} else if err := yaml.Unmarshal(buf, globalConfig); err != nil {
			return nil, fmt.Errorf("error parsing config file: %w", err)
		}
	}
	if err := envconfig.Process("strata", globalConfig); err != nil {
		return nil, fmt.Errorf("error processing environment: %+w", err)
	}
	if err := globalConfig.Validate(); err != nil {
		return nil, err
	}
	return globalConfig, nil
}

func GetConfig() *Config {
	return globalConfig
}

// Validate checks settings that would otherwise fail late at startup
func (c *Config) Validate() error {
	var err error
	if _, parseErr := time.ParseDuration(c.ShutdownTimeout); parseErr != nil {
		err = errors.Join(err, fmt.Errorf("invalid shutdownTimeout: %w", parseErr))
	}
	if c.MempoolCapacity < 0 {
		err = errors.Join(err, fmt.Errorf("invalid mempoolCapacity: %d", c.MempoolCapacity))
	}
	for i, b := range c.Bundlers {
		if b.Chain == "" || (b.SecretPhrase == "" && b.SecretPhraseFile == "") {
			err = errors.Join(err, fmt.Errorf("bundler %d: chain and secretPhrase or secretPhraseFile are required", i))
		}
	}
	for i, g := range c.Genesis {
		if _, pkErr := g.PublicKeyBytes(); pkErr != nil {
			err = errors.Join(err, fmt.Errorf("genesis entry %d: %w", i, pkErr))
		}
	}
	return err
}

// ShutdownDuration returns the parsed shutdown timeout
func (c *Config) ShutdownDuration() time.Duration {
	d, err := time.ParseDuration(c.ShutdownTimeout)
	if err != nil || d <= 0 {
		return 30 * time.Second
	}
	return d
}
