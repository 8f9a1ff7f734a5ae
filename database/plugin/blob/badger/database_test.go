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

// Package badger is the blob store holding prunable payloads and the
package badger

import (
	"testing"

	"github.com/blinklabs-io/strata/database/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T, opts ...BlobStoreBadgerOptionFunc) *BlobStoreBadger {
	t.Helper()
	d, err := New(opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })
	return d
}

func TestSetGetDelete(t *testing.T) {
	reg := prometheus.NewRegistry()
	d := newTestStore(t, WithPromRegistry(reg))

	txn := d.NewTransaction(true)
	require.NoError(t, d.Set(txn, []byte("k"), []byte("value")))
	require.NoError(t, txn.Commit())
	assert.InDelta(t, 5, testutil.ToFloat64(d.metrics.writeBytes), 0)

	txn = d.NewTransaction(false)
	val, err := d.Get(txn, []byte("k"))
	require.NoError(t, err)
	assert.Equal(t, []byte("value"), val)
	require.NoError(t, txn.Rollback())
	assert.InDelta(t, 5, testutil.ToFloat64(d.metrics.readBytes), 0)

	txn = d.NewTransaction(true)
	require.NoError(t, d.Delete(txn, []byte("k")))
	require.NoError(t, txn.Commit())

	txn = d.NewTransaction(false)
	defer txn.Rollback() //nolint:errcheck
	_, err = d.Get(txn, []byte("k"))
	assert.ErrorIs(t, err, types.ErrBlobKeyNotFound)
}

func TestRollbackDiscardsWrites(t *testing.T) {
	d := newTestStore(t)
	txn := d.NewTransaction(true)
	require.NoError(t, d.Set(txn, []byte("k"), []byte("v")))
	require.NoError(t, txn.Rollback())
	// Second rollback and commit after rollback are no-ops
	require.NoError(t, txn.Rollback())
	require.NoError(t, txn.Commit())

	txn = d.NewTransaction(false)
	defer txn.Rollback() //nolint:errcheck
	_, err := d.Get(txn, []byte("k"))
	assert.ErrorIs(t, err, types.ErrBlobKeyNotFound)
}

type otherTxn struct{}

func (otherTxn) Commit() error   { return nil }
func (otherTxn) Rollback() error { return nil }

func TestTxnValidation(t *testing.T) {
	d := newTestStore(t)
	other := newTestStore(t)

	_, err := d.Get(nil, []byte("k"))
	assert.ErrorIs(t, err, types.ErrNilTxn)

	_, err = d.Get(otherTxn{}, []byte("k"))
	assert.ErrorIs(t, err, types.ErrTxnWrongType)

	foreign := other.NewTransaction(false)
	defer foreign.Rollback() //nolint:errcheck
	_, err = d.Get(foreign, []byte("k"))
	assert.Error(t, err)

	done := d.NewTransaction(true)
	require.NoError(t, done.Commit())
	assert.Error(t, d.Set(done, []byte("k"), []byte("v")))
}

func TestCommitMarker(t *testing.T) {
	d := newTestStore(t)
	m, err := d.GetCommitMarker()
	require.NoError(t, err)
	assert.Equal(t, types.CommitMarker{Height: -1}, m)

	assert.ErrorIs(t, d.SetCommitMarker(nil, types.CommitMarker{}), types.ErrNilTxn)

	want := types.CommitMarker{Sequence: 42, Height: 7}
	txn := d.NewTransaction(true)
	require.NoError(t, d.SetCommitMarker(txn, want))
	require.NoError(t, txn.Commit())
	m, err = d.GetCommitMarker()
	require.NoError(t, err)
	assert.Equal(t, want, m)
}

func TestPersistentStore(t *testing.T) {
	dir := t.TempDir()
	d, err := New(WithDataDir(dir), WithGc(true))
	require.NoError(t, err)
	txn := d.NewTransaction(true)
	require.NoError(t, d.Set(txn, []byte("k"), []byte("v")))
	require.NoError(t, txn.Commit())
	require.NoError(t, d.Close())

	d, err = New(WithDataDir(dir))
	require.NoError(t, err)
	defer d.Close() //nolint:errcheck
	txn = d.NewTransaction(false)
	defer txn.Rollback() //nolint:errcheck
	val, err := d.Get(txn, []byte("k"))
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), val)
}
