/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package bytecode

import "directscript/internal/ast"

// MaxStops bounds the stop offsets kept per text entry.
const MaxStops = 12

// Sentinel is the value of strings table entry 0. No instruction refers to it
// on purpose; index 0 marks "absent" (e.g. a narration line without speaker).
const Sentinel = "<invalid: sentinel>"

// TextEntry is an interned display text plus the rune offsets at which its
// source fragments were joined.
type TextEntry struct {
	Text  ast.Text
	Stops []int
}

// LabelEntry maps a label to the instruction it resumes at.
type LabelEntry struct {
	Name   ast.Identifier
	Target int
}

// ChoiceSet is a named, ordered list of options.
type ChoiceSet struct {
	Name    ast.Identifier
	Options []ast.Option
}

// Script is a compiled program. It is immutable once built and safe to share
// between any number of executions.
type Script struct {
	code       []Instruction
	strings    []ast.Identifier
	texts      []TextEntry
	labels     []LabelEntry
	labelIndex map[ast.Identifier]int
	choices    []ChoiceSet
	source     string
}

// Len returns the number of instructions.
func (s *Script) Len() int { return len(s.code) }

// Instruction returns instruction i.
func (s *Script) Instruction(i int) (Instruction, bool) {
	if i < 0 || i >= len(s.code) {
		return Instruction{}, false
	}
	return s.code[i], true
}

// StringCount returns the size of the strings table, sentinel included.
func (s *Script) StringCount() int { return len(s.strings) }

// String returns strings table entry i. Index 0 (the sentinel) is reported as
// missing.
func (s *Script) String(i uint32) (ast.Identifier, bool) {
	if i == 0 || int(i) >= len(s.strings) {
		return ast.Identifier{}, false
	}
	return s.strings[i], true
}

// TextCount returns the size of the texts table.
func (s *Script) TextCount() int { return len(s.texts) }

// TextAt returns texts table entry i. The stops slice must not be modified.
func (s *Script) TextAt(i uint32) (TextEntry, bool) {
	if int(i) >= len(s.texts) {
		return TextEntry{}, false
	}
	return s.texts[i], true
}

// Labels returns the label table in emission order.
func (s *Script) Labels() []LabelEntry { return append([]LabelEntry(nil), s.labels...) }

// LabelTarget returns the instruction index of the named label.
func (s *Script) LabelTarget(name ast.Identifier) (int, bool) {
	i, ok := s.labelIndex[name]
	if !ok {
		return 0, false
	}
	return s.labels[i].Target, true
}

// ChoiceSets returns the choice-set table in declaration order.
func (s *Script) ChoiceSets() []ChoiceSet { return append([]ChoiceSet(nil), s.choices...) }

// ChoiceSet returns choice-set i. The options slice must not be modified.
func (s *Script) ChoiceSet(i uint32) (ChoiceSet, bool) {
	if int(i) >= len(s.choices) {
		return ChoiceSet{}, false
	}
	return s.choices[i], true
}

// Source returns the informational source path, if any.
func (s *Script) Source() string { return s.source }

// WithSource returns a copy of s that reports path as its source. The tables
// are shared with s.
func (s *Script) WithSource(path string) *Script {
	c := *s
	c.source = path
	return &c
}

// Triggers returns the distinct trigger names in instruction order.
func (s *Script) Triggers() []ast.Identifier {
	var out []ast.Identifier
	seen := map[ast.Identifier]bool{}
	for _, in := range s.code {
		if in.Op != OpTrigger {
			continue
		}
		if id, ok := s.String(in.A); ok && !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

func (s *Script) indexLabels() {
	s.labelIndex = make(map[ast.Identifier]int, len(s.labels))
	for i, l := range s.labels {
		s.labelIndex[l.Name] = i
	}
}
