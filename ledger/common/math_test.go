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

package common_test

import (
	"errors"
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blinklabs-io/strata/ledger/common"
)

func TestSafeAdd(t *testing.T) {
	v, err := common.SafeAdd(1, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(3), v)
	_, err = common.SafeAdd(math.MaxInt64, 1)
	assert.ErrorIs(t, err, common.ErrOverflow)
	_, err = common.SafeAdd(math.MinInt64, -1)
	assert.ErrorIs(t, err, common.ErrOverflow)
	v, err = common.SafeAdd(math.MaxInt64, -1)
	require.NoError(t, err)
	assert.Equal(t, int64(math.MaxInt64-1), v)
}

func TestSafeSubMul(t *testing.T) {
	_, err := common.SafeSub(math.MinInt64, 1)
	assert.ErrorIs(t, err, common.ErrOverflow)
	v, err := common.SafeSub(5, 7)
	require.NoError(t, err)
	assert.Equal(t, int64(-2), v)
	_, err = common.SafeMul(math.MaxInt64/2+1, 2)
	assert.ErrorIs(t, err, common.ErrOverflow)
	_, err = common.SafeMul(-1, math.MinInt64)
	assert.ErrorIs(t, err, common.ErrOverflow)
	v, err = common.SafeMul(100_000_000, 1_000_000_000)
	require.NoError(t, err)
	assert.Equal(t, int64(100_000_000_000_000_000), v)
}

func TestMulDiv(t *testing.T) {
	// Intermediate product exceeds int64 but the result fits
	v, err := common.MulDivFloor(math.MaxInt64, 10, 20)
	require.NoError(t, err)
	assert.Equal(t, int64(math.MaxInt64/2), v)
	v, err = common.MulDivCeil(7, 3, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(11), v)
	v, err = common.MulDivCeil(0, 3, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(0), v)
	_, err = common.MulDivFloor(math.MaxInt64, 3, 1)
	assert.ErrorIs(t, err, common.ErrOverflow)
}

func TestValidationErrors(t *testing.T) {
	inner := errors.New("inner")
	permanent := common.NewNotValid("bad attachment: %w", inner)
	transient := common.NewNotCurrentlyValid("fee too low")
	assert.True(t, common.IsNotValid(permanent))
	assert.False(t, common.IsNotCurrentlyValid(permanent))
	assert.True(t, common.IsNotCurrentlyValid(transient))
	assert.True(t, common.IsValidationError(permanent))
	assert.True(t, common.IsValidationError(fmt.Errorf("wrapped: %w", transient)))
	assert.ErrorIs(t, permanent, inner)
	assert.False(t, common.IsValidationError(inner))
}

func TestIDs(t *testing.T) {
	hash := []byte{1, 0, 0, 0, 0, 0, 0, 0x80, 0xff}
	id := common.FullHashToID(hash)
	assert.Equal(t, uint64(0x8000000000000001), id)
	assert.Equal(t, "9223372036854775809", common.FormatID(id))
	parsed, err := common.ParseID("9223372036854775809")
	require.NoError(t, err)
	assert.Equal(t, id, parsed)
	_, err = common.ParseID("-1")
	assert.Error(t, err)
	assert.Equal(t, "1.5", common.FormatAmount(150_000_000, 8))
}
