/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package ast

import "unique"

// Identifier is an interned symbolic name (label, variable, choice-set or
// option). Identifiers made from equal text compare equal with ==.
// The zero Identifier means "absent" and is distinct from Ident("").
type Identifier struct {
	h unique.Handle[string]
}

// Ident interns s as an Identifier.
func Ident(s string) Identifier { return Identifier{h: unique.Make(s)} }

// IsZero reports whether i is the absent identifier.
func (i Identifier) IsZero() bool { return i == Identifier{} }

func (i Identifier) String() string {
	if i.IsZero() {
		return ""
	}
	return i.h.Value()
}

// Text returns the same interned value viewed as display text.
func (i Identifier) Text() Text { return Text(i) }

// Text is an interned run of display text. It shares the intern pool with
// Identifier so either converts to the other without copying.
type Text struct {
	h unique.Handle[string]
}

// NewText interns s as display text.
func NewText(s string) Text { return Text{h: unique.Make(s)} }

// IsZero reports whether t is the absent text.
func (t Text) IsZero() bool { return t == Text{} }

func (t Text) String() string {
	if t.IsZero() {
		return ""
	}
	return t.h.Value()
}

// Ident returns the same interned value viewed as an identifier.
func (t Text) Ident() Identifier { return Identifier(t) }
