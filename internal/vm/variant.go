/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package vm

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Kind tags a Variant.
type Kind uint8

const (
	KindString Kind = iota
	KindInt
	KindBool
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindInt:
		return "int"
	case KindBool:
		return "bool"
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// Variant is a host variable value: a string, a 32-bit integer or a boolean.
// The zero Variant is the empty string.
type Variant struct {
	kind Kind
	s    string
	i    int32
	b    bool
}

// String returns a string variant.
func String(s string) Variant { return Variant{kind: KindString, s: s} }

// Int returns an integer variant.
func Int(i int32) Variant { return Variant{kind: KindInt, i: i} }

// Bool returns a boolean variant.
func Bool(b bool) Variant { return Variant{kind: KindBool, b: b} }

// Kind reports which value the variant holds.
func (v Variant) Kind() Kind { return v.kind }

func (v Variant) AsString() (string, bool) { return v.s, v.kind == KindString }
func (v Variant) AsInt() (int32, bool)     { return v.i, v.kind == KindInt }
func (v Variant) AsBool() (bool, bool)     { return v.b, v.kind == KindBool }

// ToBool applies the truthiness rule: empty string and 0 are false, any other
// string or integer is true, booleans pass through.
func (v Variant) ToBool() bool {
	switch v.kind {
	case KindString:
		return v.s != ""
	case KindInt:
		return v.i != 0
	}
	return v.b
}

// Equal reports whether both variants hold the same kind and value.
// Values of different kinds are never equal.
func (v Variant) Equal(o Variant) bool { return v == o }

func (v Variant) String() string {
	switch v.kind {
	case KindInt:
		return strconv.Itoa(int(v.i))
	case KindBool:
		return strconv.FormatBool(v.b)
	}
	return v.s
}

// Value returns the variant as a plain Go value (string, int32 or bool).
func (v Variant) Value() any {
	switch v.kind {
	case KindInt:
		return v.i
	case KindBool:
		return v.b
	}
	return v.s
}

// FromValue converts a decoded scalar into a Variant. Integers must fit in
// 32 bits; floats are accepted when integral (JSON numbers decode as float64).
func FromValue(x any) (Variant, error) {
	switch t := x.(type) {
	case Variant:
		return t, nil
	case string:
		return String(t), nil
	case bool:
		return Bool(t), nil
	case int:
		return fromInt64(int64(t))
	case int32:
		return Int(t), nil
	case int64:
		return fromInt64(t)
	case uint64:
		if t > 1<<31-1 {
			return Variant{}, fmt.Errorf("vm: integer %d out of range", t)
		}
		return Int(int32(t)), nil
	case float64:
		if t != float64(int64(t)) {
			return Variant{}, fmt.Errorf("vm: %v is not an integer", t)
		}
		return fromInt64(int64(t))
	case json.Number:
		n, err := t.Int64()
		if err != nil {
			return Variant{}, fmt.Errorf("vm: %s is not an integer", t)
		}
		return fromInt64(n)
	}
	return Variant{}, fmt.Errorf("vm: unsupported value type %T", x)
}

func fromInt64(n int64) (Variant, error) {
	if n < -1<<31 || n > 1<<31-1 {
		return Variant{}, fmt.Errorf("vm: integer %d out of range", n)
	}
	return Int(int32(n)), nil
}

// MarshalJSON encodes the variant as a JSON string, number or boolean.
func (v Variant) MarshalJSON() ([]byte, error) { return json.Marshal(v.Value()) }

// UnmarshalJSON decodes a JSON string, integer or boolean.
func (v *Variant) UnmarshalJSON(data []byte) error {
	var x any
	if err := json.Unmarshal(data, &x); err != nil {
		return err
	}
	nv, err := FromValue(x)
	if err != nil {
		return err
	}
	*v = nv
	return nil
}
