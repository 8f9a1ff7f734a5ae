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

package fee

import "math"

// Schedule pairs a baseline fee with an optional next fee. Before
// BaselineHeight the schedule is inactive and charges nothing, so history
// accepted under an older schedule stays valid.
type Schedule struct {
	BaselineHeight int32
	Baseline       Fee
	NextHeight     int32
	Next           Fee
}

// NewSchedule returns a schedule with only a baseline fee
func NewSchedule(baselineHeight int32, baseline Fee) Schedule {
	return Schedule{
		BaselineHeight: baselineHeight,
		Baseline:       baseline,
		NextHeight:     math.MaxInt32,
	}
}

// Active reports whether the baseline has activated at height
func (s Schedule) Active(height int32) bool {
	return height >= s.BaselineHeight
}

// At returns the strategy in force at height
func (s Schedule) At(height int32) Fee {
	if !s.Active(height) {
		return None
	}
	baseline := s.Baseline
	if baseline == nil {
		baseline = None
	}
	// A zero NextHeight means no next fee was configured
	if s.NextHeight > 0 && height >= s.NextHeight {
		if s.Next != nil {
			return s.Next
		}
	}
	return baseline
}

// Fee is a shortcut for At(height).Fee
func (s Schedule) Fee(height int32, a Appendage) (int64, error) {
	return s.At(height).Fee(Assessment{Height: height, Appendage: a})
}
