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

package appendix

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"strconv"

	"github.com/blinklabs-io/strata/ledger/common"
)

// Object is the structured form of one or more co-present appendages
type Object map[string]any

// VersionKey is the marker that scopes an appendage within an Object
func VersionKey(name string) string {
	return "version." + name
}

// Has reports whether the object carries the named appendage
func (o Object) Has(name string) bool {
	_, ok := o[VersionKey(name)]
	return ok
}

// Version reads the version marker of the named appendage
func (o Object) Version(name string) (int8, error) {
	v, err := o.Int(VersionKey(name))
	if err != nil {
		return 0, err
	}
	if v < math.MinInt8 || v > math.MaxInt8 {
		return 0, fmt.Errorf("version %d out of range", v)
	}
	return int8(v), nil
}

// Int reads a number, accepting the JSON number forms and decimal strings
func (o Object) Int(key string) (int64, error) {
	raw, ok := o[key]
	if !ok {
		return 0, fmt.Errorf("missing field %q", key)
	}
	switch v := raw.(type) {
	case float64:
		if v != math.Trunc(v) || v > math.MaxInt64 || v < math.MinInt64 {
			return 0, fmt.Errorf("field %q is not an integer", key)
		}
		return int64(v), nil
	case int:
		return int64(v), nil
	case int8:
		return int64(v), nil
	case int16:
		return int64(v), nil
	case int32:
		return int64(v), nil
	case int64:
		return v, nil
	case uint8:
		return int64(v), nil
	case json.Number:
		return v.Int64()
	case string:
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("field %q: %w", key, err)
		}
		return n, nil
	}
	return 0, fmt.Errorf("field %q has unexpected type %T", key, raw)
}

// OptInt reads a number, returning def when absent
func (o Object) OptInt(key string, def int64) (int64, error) {
	if _, ok := o[key]; !ok {
		return def, nil
	}
	return o.Int(key)
}

// ID reads an unsigned 64-bit value written as a decimal string
func (o Object) ID(key string) (uint64, error) {
	raw, ok := o[key]
	if !ok {
		return 0, nil
	}
	switch v := raw.(type) {
	case string:
		return common.ParseID(v)
	case uint64:
		return v, nil
	}
	return 0, fmt.Errorf("field %q must be a decimal string", key)
}

// String reads a string field, empty when absent
func (o Object) String(key string) (string, error) {
	raw, ok := o[key]
	if !ok || raw == nil {
		return "", nil
	}
	s, ok := raw.(string)
	if !ok {
		return "", fmt.Errorf("field %q must be a string", key)
	}
	return s, nil
}

// Hex reads a hex encoded blob
func (o Object) Hex(key string) ([]byte, error) {
	s, err := o.String(key)
	if err != nil {
		return nil, err
	}
	return common.ParseHex(s)
}

// Bool reads a boolean field, returning def when absent
func (o Object) Bool(key string, def bool) (bool, error) {
	raw, ok := o[key]
	if !ok || raw == nil {
		return def, nil
	}
	b, ok := raw.(bool)
	if !ok {
		return false, fmt.Errorf("field %q must be a boolean", key)
	}
	return b, nil
}

// Child reads a nested object
func (o Object) Child(key string) (Object, error) {
	raw, ok := o[key]
	if !ok || raw == nil {
		return nil, fmt.Errorf("missing field %q", key)
	}
	switch v := raw.(type) {
	case map[string]any:
		return Object(v), nil
	case Object:
		return v, nil
	}
	return nil, fmt.Errorf("field %q must be an object", key)
}

// HexList reads an array of hex encoded blobs
func (o Object) HexList(key string) ([][]byte, error) {
	raw, ok := o[key]
	if !ok || raw == nil {
		return nil, nil
	}
	var items []string
	switch v := raw.(type) {
	case []string:
		items = v
	case []any:
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("field %q must hold strings", key)
			}
			items = append(items, s)
		}
	default:
		return nil, fmt.Errorf("field %q must be an array", key)
	}
	ret := make([][]byte, 0, len(items))
	for _, s := range items {
		b, err := hex.DecodeString(s)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", key, err)
		}
		ret = append(ret, b)
	}
	return ret, nil
}

// HexStrings encodes blobs for an Object array field
func HexStrings(items [][]byte) []string {
	ret := make([]string, len(items))
	for i, b := range items {
		ret[i] = hex.EncodeToString(b)
	}
	return ret
}
