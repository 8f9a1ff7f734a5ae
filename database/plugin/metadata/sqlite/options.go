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

package sqlite

import (
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	DefaultBusyTimeout  = 5 * time.Second
	DefaultCacheSizeKiB = 50_000
)

type SqliteOptionFunc func(*MetadataStoreSqlite)

func WithLogger(logger *slog.Logger) SqliteOptionFunc {
	return func(m *MetadataStoreSqlite) { m.logger = logger }
}

// WithPromRegistry enables the store metrics
func WithPromRegistry(registry prometheus.Registerer) SqliteOptionFunc {
	return func(m *MetadataStoreSqlite) { m.promRegistry = registry }
}

// WithDataDir places metadata.sqlite in dataDir. Empty means in memory
func WithDataDir(dataDir string) SqliteOptionFunc {
	return func(m *MetadataStoreSqlite) { m.dataDir = dataDir }
}

// WithBusyTimeout sets how long a writer waits on a locked database file
func WithBusyTimeout(timeout time.Duration) SqliteOptionFunc {
	return func(m *MetadataStoreSqlite) {
		if timeout > 0 {
			m.busyTimeout = timeout
		}
	}
}

// WithCacheSizeKiB sets the page cache of an on-disk store
func WithCacheSizeKiB(size int) SqliteOptionFunc {
	return func(m *MetadataStoreSqlite) {
		if size > 0 {
			m.cacheSizeKiB = size
		}
	}
}
