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

package fee_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blinklabs-io/strata/ledger/common"
	"github.com/blinklabs-io/strata/ledger/fee"
)

type testAppendage struct {
	size     int
	fullSize int
}

func (a testAppendage) Size() int     { return a.size }
func (a testAppendage) FullSize() int { return a.fullSize }

func TestSizeBased(t *testing.T) {
	f := fee.SizeBased{Constant: 100, PerUnit: 10, UnitSize: 32}
	testDefs := []struct {
		size     int
		expected int64
	}{
		{size: 0, expected: 100},
		{size: 1, expected: 100},
		{size: 32, expected: 100},
		{size: 33, expected: 110},
		{size: 64, expected: 110},
		{size: 65, expected: 120},
	}
	for _, testDef := range testDefs {
		v, err := f.Fee(fee.Assessment{
			Appendage: testAppendage{fullSize: testDef.size},
		})
		require.NoError(t, err)
		assert.Equal(t, testDef.expected, v, "size %d", testDef.size)
	}
	// Size override measures the on-chain size instead
	f.Size = func(a fee.Appendage) int { return a.Size() }
	v, err := f.Fee(fee.Assessment{Appendage: testAppendage{size: 1, fullSize: 1000}})
	require.NoError(t, err)
	assert.Equal(t, int64(100), v)

	huge := fee.SizeBased{Constant: 1, PerUnit: math.MaxInt64, UnitSize: 1}
	_, err = huge.Fee(fee.Assessment{Appendage: testAppendage{fullSize: 3}})
	assert.ErrorIs(t, err, common.ErrOverflow)
}

func TestScheduleMonotonicity(t *testing.T) {
	s := fee.Schedule{
		BaselineHeight: 10,
		Baseline:       fee.Constant(100),
		NextHeight:     20,
		Next:           fee.Constant(250),
	}
	app := testAppendage{}
	for h := int32(0); h < 30; h++ {
		v, err := s.Fee(h, app)
		require.NoError(t, err)
		switch {
		case h < 10:
			assert.Equal(t, int64(0), v, "height %d", h)
			assert.False(t, s.Active(h))
		case h < 20:
			assert.Equal(t, int64(100), v, "height %d", h)
			assert.True(t, s.Active(h))
		default:
			assert.Equal(t, int64(250), v, "height %d", h)
		}
	}
}

func TestScheduleDefaults(t *testing.T) {
	var s fee.Schedule
	v, err := s.Fee(0, testAppendage{})
	require.NoError(t, err)
	assert.Equal(t, int64(0), v)
	s = fee.NewSchedule(1, fee.Constant(7))
	v, err = s.Fee(math.MaxInt32-1, testAppendage{})
	require.NoError(t, err)
	assert.Equal(t, int64(7), v)
}

func TestBackFees(t *testing.T) {
	f := fee.WithBackFees{
		Fee:         fee.Constant(1000),
		Shares:      []int64{1, 1, 1, 1},
		Denominator: 10,
	}
	assert.Equal(t, []int64{100, 100, 100}, f.BackFees(1000))
	assert.Nil(t, fee.None.BackFees(1000))
}
