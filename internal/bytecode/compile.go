/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package bytecode

import (
	"fmt"
	"unicode/utf8"

	"directscript/internal/ast"
	"directscript/internal/grammar"
)

// ErrorKind classifies a CompileError.
type ErrorKind int

const (
	UnresolvedLabel ErrorKind = iota
	UnknownChoiceSet
	Malformed
)

func (k ErrorKind) String() string {
	switch k {
	case UnresolvedLabel:
		return "unresolved label"
	case UnknownChoiceSet:
		return "unknown choice set"
	case Malformed:
		return "malformed tree"
	}
	return fmt.Sprintf("ErrorKind(%d)", int(k))
}

// CompileError reports a tree that cannot be lowered.
type CompileError struct {
	Kind   ErrorKind
	Symbol string
	Pos    grammar.Position
	Msg    string
}

func (e *CompileError) Error() string {
	msg := fmt.Sprintf("line %d, column %d: %s", e.Pos.Line, e.Pos.Column, e.Kind)
	if e.Symbol != "" {
		msg += fmt.Sprintf(" %q", e.Symbol)
	}
	if e.Msg != "" {
		msg += ": " + e.Msg
	}
	return msg
}

// Count returns the number of instructions n compiles to. It mirrors the
// emission rules exactly and is used to place labels before emission.
func Count(n ast.Node) int {
	switch n := n.(type) {
	case *ast.Label, *ast.Choices:
		return 0
	case *ast.Command, *ast.Dialog:
		return 1
	case *ast.LabelBlock:
		return countAll(n.Body)
	case *ast.IfBlock:
		c := 2 + countAll(n.Then)
		if n.HasElse {
			c += 1 + countAll(n.Else)
		}
		return c
	}
	return 0
}

func countAll(nodes []ast.Node) int {
	c := 0
	for _, n := range nodes {
		c += Count(n)
	}
	return c
}

type compiler struct {
	code        []Instruction
	strings     *interner[ast.Identifier, ast.Identifier]
	texts       *interner[textKey, TextEntry]
	labels      []LabelEntry
	labelIndex  map[ast.Identifier]int
	choices     []ChoiceSet
	choiceIndex map[ast.Identifier]uint32
}

// CompileSource parses, validates and compiles source; path is recorded as
// the script's source.
func CompileSource(source, path string) (*Script, error) {
	tree, err := ast.Parse(source)
	if err != nil {
		return nil, err
	}
	s, err := Compile(tree)
	if err != nil {
		return nil, err
	}
	s.source = path
	return s, nil
}

// Compile lowers a validated tree into a Script in three passes: choice-sets
// are collected, every label position is computed with Count, then code is
// emitted. Jumps may therefore target labels declared anywhere in the script.
func Compile(tree *ast.Tree) (*Script, error) {
	c := &compiler{
		strings:     newInterner[ast.Identifier, ast.Identifier](),
		texts:       newInterner[textKey, TextEntry](),
		labelIndex:  make(map[ast.Identifier]int),
		choiceIndex: make(map[ast.Identifier]uint32),
	}
	c.strings.reserve(ast.Ident(Sentinel))

	for _, n := range tree.Nodes {
		if ch, ok := n.(*ast.Choices); ok {
			c.choiceIndex[ch.Name] = uint32(len(c.choices))
			c.choices = append(c.choices, ChoiceSet{Name: ch.Name, Options: ch.Options})
		}
	}

	pos := 0
	for _, n := range tree.Nodes {
		switch n := n.(type) {
		case *ast.LabelBlock:
			c.place(n.Name, pos)
			c.placeAll(n.Body, pos)
			pos += Count(n)
		case *ast.Choices:
		default:
			return nil, &CompileError{Kind: Malformed, Pos: n.Position(), Msg: fmt.Sprintf("unexpected top-level %T", n)}
		}
	}

	for _, n := range tree.Nodes {
		block, ok := n.(*ast.LabelBlock)
		if !ok {
			continue
		}
		if err := c.checkLabel(block.Name, block.Pos); err != nil {
			return nil, err
		}
		if err := c.emitAll(block.Body); err != nil {
			return nil, err
		}
	}

	s := &Script{
		code:    c.code,
		strings: c.strings.values,
		texts:   c.texts.values,
		labels:  c.labels,
		choices: c.choices,
	}
	s.indexLabels()
	return s, nil
}

func (c *compiler) place(name ast.Identifier, at int) {
	if _, dup := c.labelIndex[name]; dup {
		return
	}
	c.labelIndex[name] = len(c.labels)
	c.labels = append(c.labels, LabelEntry{Name: name, Target: at})
}

// placeAll records nested labels of nodes starting at instruction pos and
// returns the position after them.
func (c *compiler) placeAll(nodes []ast.Node, pos int) int {
	for _, n := range nodes {
		switch n := n.(type) {
		case *ast.Label:
			c.place(n.Name, pos)
		case *ast.IfBlock:
			pos = c.placeAll(n.Then, pos+2)
			if n.HasElse {
				pos = c.placeAll(n.Else, pos+1)
			}
		default:
			pos += Count(n)
		}
	}
	return pos
}

func (c *compiler) checkLabel(name ast.Identifier, at grammar.Position) error {
	i, ok := c.labelIndex[name]
	if !ok || c.labels[i].Target != len(c.code) {
		return &CompileError{Kind: Malformed, Symbol: name.String(), Pos: at, Msg: "label position disagrees with instruction count"}
	}
	return nil
}

func (c *compiler) emit(in Instruction) { c.code = append(c.code, in) }

func (c *compiler) emitAll(nodes []ast.Node) error {
	for _, n := range nodes {
		if err := c.emitNode(n); err != nil {
			return err
		}
	}
	return nil
}

func (c *compiler) emitNode(n ast.Node) error {
	switch n := n.(type) {
	case *ast.Label:
		return c.checkLabel(n.Name, n.Pos)
	case *ast.Command:
		return c.emitCommand(n)
	case *ast.Dialog:
		c.emitDialog(n)
		return nil
	case *ast.IfBlock:
		return c.emitIf(n)
	}
	return &CompileError{Kind: Malformed, Pos: n.Position(), Msg: fmt.Sprintf("unexpected %T inside a block", n)}
}

func (c *compiler) emitCommand(n *ast.Command) error {
	switch n.Op {
	case ast.CmdEnd:
		c.emit(Instruction{Op: OpEnd})
	case ast.CmdJump:
		i, ok := c.labelIndex[n.Name]
		if !ok {
			return &CompileError{Kind: UnresolvedLabel, Symbol: n.Name.String(), Pos: n.Pos}
		}
		c.emit(Instruction{Op: OpJump, A: uint32(c.labels[i].Target)})
	case ast.CmdChoice:
		set, ok := c.choiceIndex[n.Set]
		if !ok {
			return &CompileError{Kind: UnknownChoiceSet, Symbol: n.Set.String(), Pos: n.Pos}
		}
		c.emit(Instruction{Op: OpChoice, A: c.strings.intern(n.Name, n.Name), B: set})
	case ast.CmdTrigger:
		c.emit(Instruction{Op: OpTrigger, A: c.strings.intern(n.Name, n.Name)})
	default:
		return &CompileError{Kind: Malformed, Pos: n.Pos, Msg: "unknown command " + n.Op.String()}
	}
	return nil
}

// emitDialog joins the fragments into one text. A stop is recorded at every
// fragment boundary, counted in runes; boundaries past MaxStops are dropped.
func (c *compiler) emitDialog(n *ast.Dialog) {
	var text []byte
	var stops []int
	runes := 0
	for i, f := range n.Fragments {
		s := f.String()
		text = append(text, s...)
		runes += utf8.RuneCountInString(s)
		if i < len(n.Fragments)-1 && len(stops) < MaxStops {
			stops = append(stops, runes)
		}
	}
	e := TextEntry{Text: ast.NewText(string(text)), Stops: stops}
	var speaker uint32
	if !n.Speaker.IsZero() {
		speaker = c.strings.intern(n.Speaker, n.Speaker)
	}
	c.emit(Instruction{Op: OpText, A: speaker, B: c.texts.intern(keyOf(e), e)})
}

// emitIf lays out
//
//	EVAL cond
//	IF   skip        ; skip = len(then) + 1 if else present
//	...then...
//	JUMP end         ; only with else
//	...else...
//	end:
func (c *compiler) emitIf(n *ast.IfBlock) error {
	c.emit(Instruction{Op: OpEvalCondition, Cond: c.condition(n.Cond)})
	skip := countAll(n.Then)
	if n.HasElse {
		skip++
	}
	c.emit(Instruction{Op: OpIf, A: uint32(skip)})
	thenEnd := len(c.code) + countAll(n.Then)
	if err := c.emitAll(n.Then); err != nil {
		return err
	}
	if len(c.code) != thenEnd {
		return &CompileError{Kind: Malformed, Pos: n.Pos, Msg: "then body length disagrees with instruction count"}
	}
	if !n.HasElse {
		return nil
	}
	target := len(c.code) + 1 + countAll(n.Else)
	c.emit(Instruction{Op: OpJump, A: uint32(target)})
	if err := c.emitAll(n.Else); err != nil {
		return err
	}
	if len(c.code) != target {
		return &CompileError{Kind: Malformed, Pos: n.Pos, Msg: "else body length disagrees with instruction count"}
	}
	return nil
}

func (c *compiler) condition(cond ast.Condition) Condition {
	out := Condition{Left: c.operand(cond.Left)}
	switch cond.Op {
	case ast.OpEq:
		out.Cmp = CompareEq
	case ast.OpNotEq:
		out.Cmp = CompareNotEq
	default:
		return out
	}
	out.Right = c.operand(cond.Right)
	return out
}

func (c *compiler) operand(v ast.Variable) Operand {
	switch v.Kind {
	case ast.VarGlobal:
		return Operand{Kind: OperandGlobal, Index: c.strings.intern(v.Name, v.Name)}
	case ast.VarString:
		id := v.Str.Ident()
		return Operand{Kind: OperandString, Index: c.strings.intern(id, id)}
	case ast.VarInt:
		return Operand{Kind: OperandInt, Int: v.Int}
	}
	return Operand{Kind: OperandBool, Bool: v.Bool}
}
