/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package ast

import (
	"errors"
	"fmt"

	"directscript/internal/grammar"
)

// ErrorKind classifies a ValidationError.
type ErrorKind int

const (
	DuplicateLabel ErrorKind = iota
	DuplicateChoiceSet
	UnresolvedLabel
	UnresolvedChoiceSet
	DuplicateElse
	Malformed
)

var errorKindNames = [...]string{
	DuplicateLabel:      "duplicate label",
	DuplicateChoiceSet:  "duplicate choice set",
	UnresolvedLabel:     "unresolved label",
	UnresolvedChoiceSet: "unresolved choice set",
	DuplicateElse:       "duplicate else",
	Malformed:           "malformed tree",
}

func (k ErrorKind) String() string {
	if int(k) >= 0 && int(k) < len(errorKindNames) {
		return errorKindNames[k]
	}
	return fmt.Sprintf("ErrorKind(%d)", int(k))
}

// ValidationError is a semantic error found while building the tree.
type ValidationError struct {
	Kind   ErrorKind
	Symbol string
	Pos    grammar.Position
	// Hint suggests a likely fix; it may be empty.
	Hint string
}

func (e *ValidationError) Error() string {
	msg := fmt.Sprintf("line %d, column %d: %s", e.Pos.Line, e.Pos.Column, e.Kind)
	if e.Symbol != "" {
		msg += fmt.Sprintf(" %q", e.Symbol)
	}
	if e.Hint != "" {
		msg += " (" + e.Hint + ")"
	}
	return msg
}

// symbolSet is an insertion-ordered set remembering where each symbol was first seen.
type symbolSet struct {
	pos   map[Identifier]grammar.Position
	order []Identifier
}

func (s *symbolSet) add(id Identifier, at grammar.Position) bool {
	if s.pos == nil {
		s.pos = make(map[Identifier]grammar.Position)
	}
	if _, ok := s.pos[id]; ok {
		return false
	}
	s.pos[id] = at
	s.order = append(s.order, id)
	return true
}

func (s *symbolSet) has(id Identifier) bool {
	_, ok := s.pos[id]
	return ok
}

// Context tracks declarations and references while a tree is built.
type Context struct {
	labels             symbolSet
	choiceSets         symbolSet
	demandedLabels     symbolSet
	demandedChoiceSets symbolSet
	triggers           symbolSet
	// optionLike holds label blocks whose body is only `name -> "text"` lines.
	optionLike map[Identifier]grammar.Position
}

// NewContext returns an empty validation context.
func NewContext() *Context { return &Context{} }

// DeclareLabel records a label declaration. Label names share one namespace
// across block and nested labels.
func (c *Context) DeclareLabel(name Identifier, at grammar.Position) error {
	if !c.labels.add(name, at) {
		return &ValidationError{Kind: DuplicateLabel, Symbol: name.String(), Pos: at}
	}
	return nil
}

// DeclareChoiceSet records a choice-set declaration.
func (c *Context) DeclareChoiceSet(name Identifier, at grammar.Position) error {
	if !c.choiceSets.add(name, at) {
		return &ValidationError{Kind: DuplicateChoiceSet, Symbol: name.String(), Pos: at}
	}
	return nil
}

// DemandLabel records a jump target; it must be declared by Finalize.
func (c *Context) DemandLabel(name Identifier, at grammar.Position) {
	c.demandedLabels.add(name, at)
}

// DemandChoiceSet records a choice-set reference.
func (c *Context) DemandChoiceSet(name Identifier, at grammar.Position) {
	c.demandedChoiceSets.add(name, at)
}

// Invoke records a trigger name. Triggers are host-defined and never checked.
func (c *Context) Invoke(name Identifier, at grammar.Position) {
	c.triggers.add(name, at)
}

// noteOptionLike remembers a label block that reads like a choice set
// written across several lines.
func (c *Context) noteOptionLike(name Identifier, at grammar.Position) {
	if c.optionLike == nil {
		c.optionLike = make(map[Identifier]grammar.Position)
	}
	c.optionLike[name] = at
}

// Labels returns declared labels in declaration order.
func (c *Context) Labels() []Identifier { return append([]Identifier(nil), c.labels.order...) }

// ChoiceSets returns declared choice-sets in declaration order.
func (c *Context) ChoiceSets() []Identifier {
	return append([]Identifier(nil), c.choiceSets.order...)
}

// Triggers returns invoked trigger names in first-use order.
func (c *Context) Triggers() []Identifier { return append([]Identifier(nil), c.triggers.order...) }

// Finalize checks that every demanded symbol was declared. All missing
// symbols are reported, labels first, each in first-reference order.
func (c *Context) Finalize() error {
	var errs []error
	for _, id := range c.demandedLabels.order {
		if !c.labels.has(id) {
			errs = append(errs, &ValidationError{Kind: UnresolvedLabel, Symbol: id.String(), Pos: c.demandedLabels.pos[id]})
		}
	}
	for _, id := range c.demandedChoiceSets.order {
		if !c.choiceSets.has(id) {
			e := &ValidationError{Kind: UnresolvedChoiceSet, Symbol: id.String(), Pos: c.demandedChoiceSets.pos[id]}
			if at, ok := c.optionLike[id]; ok {
				e.Hint = fmt.Sprintf("%s at line %d is a label block; options go on the header line, e.g. %s: yes -> \"Yes\", no -> \"No\"", id, at.Line, id)
			}
			errs = append(errs, e)
		}
	}
	if len(errs) == 1 {
		return errs[0]
	}
	return errors.Join(errs...)
}
