/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package bytecode

import "directscript/internal/ast"

// interner assigns each distinct key a permanent index on first sight.
type interner[K comparable, V any] struct {
	index  map[K]uint32
	values []V
}

func newInterner[K comparable, V any]() *interner[K, V] {
	return &interner[K, V]{index: make(map[K]uint32)}
}

// reserve appends v without making it findable by key.
func (in *interner[K, V]) reserve(v V) {
	in.values = append(in.values, v)
}

func (in *interner[K, V]) intern(k K, v V) uint32 {
	if i, ok := in.index[k]; ok {
		return i
	}
	i := uint32(len(in.values))
	in.index[k] = i
	in.values = append(in.values, v)
	return i
}

// textKey identifies a text entry by its content and stop offsets.
type textKey struct {
	text  ast.Text
	n     int
	stops [MaxStops]int
}

func keyOf(e TextEntry) textKey {
	k := textKey{text: e.Text, n: len(e.Stops)}
	copy(k.stops[:], e.Stops)
	return k
}
