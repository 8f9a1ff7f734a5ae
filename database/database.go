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

// Package database persists confirmed ledger state. Transactions, balances,
// blocks and account properties live in the sqlite metadata store and
// prunable payloads in the badger blob store. A Txn spans both.
package database

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/blinklabs-io/strata/database/plugin/blob/badger"
	"github.com/blinklabs-io/strata/database/plugin/metadata/sqlite"
	"github.com/blinklabs-io/strata/ledger/chain"
	cache "github.com/patrickmn/go-cache"
	"github.com/prometheus/client_golang/prometheus"
)

const DefaultPrunableCacheExpiration = 10 * time.Minute

type Config struct {
	Logger       *slog.Logger
	PromRegistry prometheus.Registerer
	// DataDir holds both stores. Empty keeps everything in memory
	DataDir string
	// Chains lists the chains whose tables are created on open
	Chains                  *chain.Registry
	PrunableCacheExpiration time.Duration
	// Store tuning. Zero values keep the store defaults
	BlobBlockCacheSize uint64
	BlobIndexCacheSize uint64
	MetadataCacheKiB   int
}

type Database struct {
	logger        *slog.Logger
	blob          *badger.BlobStoreBadger
	metadata      *sqlite.MetadataStoreSqlite
	prunableCache *cache.Cache
	dataDir       string
	cachePuts     uint64
	sequence      atomic.Uint64
	height        atomic.Int32
}

// Blob returns the underling blob store instance
func (d *Database) Blob() *badger.BlobStoreBadger {
	return d.blob
}

// DataDir returns the path to the data directory used for storage
func (d *Database) DataDir() string {
	return d.dataDir
}

// Logger returns the logger instance
func (d *Database) Logger() *slog.Logger {
	return d.logger
}

// Metadata returns the underlying metadata store instance
func (d *Database) Metadata() *sqlite.MetadataStoreSqlite {
	return d.metadata
}

// Transaction starts a new database transaction and returns a handle to it
func (d *Database) Transaction(readWrite bool) *Txn {
	return NewTxn(d, readWrite)
}

// Close cleans up the database connections
func (d *Database) Close() error {
	var err error
	if d.metadata != nil {
		err = errors.Join(err, d.metadata.Close())
	}
	if d.blob != nil {
		err = errors.Join(err, d.blob.Close())
	}
	return err
}

// New opens both stores and creates the tables of every configured chain
func New(cfg *Config) (*Database, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	logger := cfg.Logger
	if logger == nil {
		// Create logger to throw away logs
		// We do this so we don't have to add guards around every log operation
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	expiration := cfg.PrunableCacheExpiration
	if expiration <= 0 {
		expiration = DefaultPrunableCacheExpiration
	}
	metadataDb, err := sqlite.New(
		sqlite.WithDataDir(cfg.DataDir),
		sqlite.WithLogger(logger),
		sqlite.WithPromRegistry(cfg.PromRegistry),
		sqlite.WithCacheSizeKiB(cfg.MetadataCacheKiB),
	)
	if err != nil {
		return nil, fmt.Errorf("open metadata store: %w", err)
	}
	blobDb, err := badger.New(
		badger.WithDataDir(cfg.DataDir),
		badger.WithLogger(logger),
		badger.WithPromRegistry(cfg.PromRegistry),
		badger.WithCacheSizes(cfg.BlobBlockCacheSize, cfg.BlobIndexCacheSize),
	)
	if err != nil {
		_ = metadataDb.Close()
		return nil, fmt.Errorf("open blob store: %w", err)
	}
	db := &Database{
		logger:   logger,
		blob:     blobDb,
		metadata: metadataDb,
		dataDir:  cfg.DataDir,
		// No janitor goroutine: expired entries are swept on write
		prunableCache: cache.New(expiration, 0),
	}
	if cfg.Chains != nil {
		for _, c := range cfg.Chains.All() {
			if err := metadataDb.MigrateChain(c.Namespace()); err != nil {
				return db, err
			}
		}
	}
	if err := db.checkCommitMarker(); err != nil {
		// Database is available for recovery, so return it with error
		return db, err
	}
	return db, nil
}
