/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package vm

import "sort"

// Environment is the host's variable store. Implementations need not be safe
// for concurrent use unless the host shares one between executions.
type Environment interface {
	Get(name string) (Variant, bool)
	Set(name string, value Variant)
}

// MapEnvironment implements Environment in memory.
type MapEnvironment map[string]Variant

func (m MapEnvironment) Get(name string) (Variant, bool) {
	v, ok := m[name]
	return v, ok
}

func (m MapEnvironment) Set(name string, value Variant) { m[name] = value }

// Names returns the bound variable names in sorted order.
func (m MapEnvironment) Names() []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Clone returns an independent copy.
func (m MapEnvironment) Clone() MapEnvironment {
	out := make(MapEnvironment, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Unset removes a binding.
func (m MapEnvironment) Unset(name string) { delete(m, name) }

// Unsetter is implemented by environments that can remove a binding.
type Unsetter interface {
	Unset(name string)
}
