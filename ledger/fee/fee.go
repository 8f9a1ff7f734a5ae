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

// Package fee holds the strategies that price a transaction sub-record and
// the height-gated schedule that selects between them.
package fee

import (
	"fmt"

	"github.com/blinklabs-io/strata/ledger/common"
)

// MaxBackFees is the number of ancestor levels a back fee array covers
const MaxBackFees = 3

// Appendage is the part of a transaction being priced
type Appendage interface {
	Size() int
	FullSize() int
}

// Assessment is the input to a fee strategy
type Assessment struct {
	Height    int32
	Appendage Appendage
}

// Fee computes the minimum payment for an appendage. Strategies are stateless
// and safe for concurrent use.
type Fee interface {
	Fee(a Assessment) (int64, error)
	// BackFees splits part of fee toward ancestor levels. The result never
	// exceeds MaxBackFees entries.
	BackFees(fee int64) []int64
}

// None is the zero fee
var None Fee = Constant(0)

// Constant charges the same amount regardless of size
type Constant int64

func (c Constant) Fee(Assessment) (int64, error) {
	return int64(c), nil
}

func (c Constant) BackFees(int64) []int64 {
	return nil
}

// SizeBased charges a constant for the first unit and PerUnit for every
// further unit of UnitSize bytes
type SizeBased struct {
	Constant int64
	PerUnit  int64
	UnitSize int
	// Size overrides the default FullSize measurement
	Size func(Appendage) int
}

func (s SizeBased) Fee(a Assessment) (int64, error) {
	if s.UnitSize <= 0 {
		return 0, fmt.Errorf("invalid fee unit size %d", s.UnitSize)
	}
	var size int
	if s.Size != nil {
		size = s.Size(a.Appendage)
	} else if a.Appendage != nil {
		size = a.Appendage.FullSize()
	}
	if size <= 0 {
		return s.Constant, nil
	}
	units := int64((size - 1) / s.UnitSize)
	extra, err := common.SafeMul(s.PerUnit, units)
	if err != nil {
		return 0, err
	}
	return common.SafeAdd(s.Constant, extra)
}

func (s SizeBased) BackFees(int64) []int64 {
	return nil
}

// Func adapts a function into a Fee with no back fees
type Func func(a Assessment) (int64, error)

func (f Func) Fee(a Assessment) (int64, error) {
	return f(a)
}

func (f Func) BackFees(int64) []int64 {
	return nil
}

// WithBackFees decorates a strategy so that each ancestor level receives
// fee*share/denominator, rounded down
type WithBackFees struct {
	Fee
	Shares      []int64
	Denominator int64
}

func (w WithBackFees) BackFees(fee int64) []int64 {
	if w.Denominator <= 0 {
		return nil
	}
	n := min(len(w.Shares), MaxBackFees)
	ret := make([]int64, n)
	for i := range n {
		v, err := common.MulDivFloor(fee, w.Shares[i], w.Denominator)
		if err != nil {
			return nil
		}
		ret[i] = v
	}
	return ret
}
