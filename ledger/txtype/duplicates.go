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

package txtype

import "math"

// Uncapped lets a duplicate key occur any number of times
const Uncapped = math.MaxInt

// Duplicates counts the keys seen in one block or one pool pass
type Duplicates map[Key]map[string]int

func NewDuplicates() Duplicates {
	return make(Duplicates)
}

// Check records key and reports whether it is a duplicate. A maxCount of 0
// makes the key exclusive, so any second occurrence is a duplicate. Otherwise
// up to maxCount occurrences are accepted, and an exclusive occurrence still
// blocks every later one.
func (d Duplicates) Check(key Key, dupKey string, maxCount int) bool {
	byKey, ok := d[key]
	if !ok {
		byKey = make(map[string]int)
		d[key] = byKey
	}
	current, seen := byKey[dupKey]
	if !seen {
		if maxCount > 0 {
			byKey[dupKey] = 1
		} else {
			byKey[dupKey] = 0
		}
		return false
	}
	if current == 0 {
		return true
	}
	if current < maxCount {
		byKey[dupKey] = current + 1
		return false
	}
	return true
}

func (d Duplicates) check(key Key, dupKey string, maxCount int, ok bool) bool {
	if !ok {
		return false
	}
	return d.Check(key, dupKey, maxCount)
}
