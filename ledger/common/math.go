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

package common

import (
	"errors"
	"math"
	"math/big"
)

// ErrOverflow is returned when checked arithmetic would wrap around
var ErrOverflow = errors.New("integer overflow")

// SafeAdd returns a+b, or ErrOverflow
func SafeAdd(a, b int64) (int64, error) {
	if (b > 0 && a > math.MaxInt64-b) || (b < 0 && a < math.MinInt64-b) {
		return 0, ErrOverflow
	}
	return a + b, nil
}

// SafeSub returns a-b, or ErrOverflow
func SafeSub(a, b int64) (int64, error) {
	if (b < 0 && a > math.MaxInt64+b) || (b > 0 && a < math.MinInt64+b) {
		return 0, ErrOverflow
	}
	return a - b, nil
}

// SafeMul returns a*b, or ErrOverflow
func SafeMul(a, b int64) (int64, error) {
	if a == 0 || b == 0 {
		return 0, nil
	}
	c := a * b
	if c/b != a || (a == -1 && b == math.MinInt64) ||
		(b == -1 && a == math.MinInt64) {
		return 0, ErrOverflow
	}
	return c, nil
}

// SafeSum adds all values with overflow checking
func SafeSum(values ...int64) (int64, error) {
	var total int64
	for _, v := range values {
		var err error
		total, err = SafeAdd(total, v)
		if err != nil {
			return 0, err
		}
	}
	return total, nil
}

// MulDivFloor computes floor(a*b/c) without intermediate overflow. The result
// must fit in an int64.
func MulDivFloor(a, b, c int64) (int64, error) {
	if c == 0 {
		return 0, errors.New("division by zero")
	}
	product := new(big.Int).Mul(big.NewInt(a), big.NewInt(b))
	// big.Int Div is Euclidean, which is floor for a positive divisor
	product.Div(product, big.NewInt(c))
	if !product.IsInt64() {
		return 0, ErrOverflow
	}
	return product.Int64(), nil
}

// MulDivCeil computes ceil(a*b/c) for non-negative operands without
// intermediate overflow
func MulDivCeil(a, b, c int64) (int64, error) {
	if c <= 0 {
		return 0, errors.New("divisor must be positive")
	}
	// ceil(product / c) = (product + c - 1) / c
	product := new(big.Int).Mul(big.NewInt(a), big.NewInt(b))
	product.Add(product, big.NewInt(c-1))
	product.Div(product, big.NewInt(c))
	if !product.IsInt64() {
		return 0, ErrOverflow
	}
	return product.Int64(), nil
}
