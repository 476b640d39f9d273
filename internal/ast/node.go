/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package ast

import (
	"strconv"

	"directscript/internal/grammar"
)

// Node is one of *Label, *Command, *Dialog, *Choices, *LabelBlock, *IfBlock.
type Node interface {
	Position() grammar.Position
	node()
}

// Label marks a jump target inside a block.
type Label struct {
	Name Identifier
	Pos  grammar.Position
}

// CommandOp selects the command kind.
type CommandOp int

const (
	CmdEnd CommandOp = iota
	CmdJump
	CmdChoice
	CmdTrigger
)

var commandNames = [...]string{CmdEnd: "end", CmdJump: "jump", CmdChoice: "choice", CmdTrigger: "trigger"}

func (o CommandOp) String() string {
	if int(o) >= 0 && int(o) < len(commandNames) {
		return commandNames[o]
	}
	return "CommandOp(" + strconv.Itoa(int(o)) + ")"
}

// Command is end, jump, choice or trigger.
//
//	jump:    Name is the target label
//	choice:  Name is the destination variable, Set the choice-set
//	trigger: Name is the invocation name
type Command struct {
	Op   CommandOp
	Name Identifier
	Set  Identifier
	Pos  grammar.Position
}

// Dialog is one line of dialogue. Speaker is zero for narration.
type Dialog struct {
	Speaker   Identifier
	Fragments []Text
	Pos       grammar.Position
}

// Option is one entry of a choice-set.
type Option struct {
	Name Identifier
	Text Text
}

// Choices declares a named choice-set.
type Choices struct {
	Name    Identifier
	Options []Option
	Pos     grammar.Position
}

// LabelBlock is a top-level named block.
type LabelBlock struct {
	Name Identifier
	Body []Node
	Pos  grammar.Position
}

// IfBlock is a conditional with an optional else body.
type IfBlock struct {
	Cond    Condition
	Then    []Node
	Else    []Node
	HasElse bool
	Pos     grammar.Position
}

func (n *Label) Position() grammar.Position      { return n.Pos }
func (n *Command) Position() grammar.Position    { return n.Pos }
func (n *Dialog) Position() grammar.Position     { return n.Pos }
func (n *Choices) Position() grammar.Position    { return n.Pos }
func (n *LabelBlock) Position() grammar.Position { return n.Pos }
func (n *IfBlock) Position() grammar.Position    { return n.Pos }

func (*Label) node()      {}
func (*Command) node()    {}
func (*Dialog) node()     {}
func (*Choices) node()    {}
func (*LabelBlock) node() {}
func (*IfBlock) node()    {}

// VarKind tags a Variable.
type VarKind int

const (
	VarGlobal VarKind = iota
	VarBool
	VarString
	VarInt
)

// Variable is an operand of a condition: a global reference or a literal.
type Variable struct {
	Kind VarKind
	Name Identifier // VarGlobal
	Str  Text       // VarString
	Bool bool       // VarBool
	Int  int32      // VarInt
}

func (v Variable) String() string {
	switch v.Kind {
	case VarGlobal:
		return v.Name.String()
	case VarBool:
		return strconv.FormatBool(v.Bool)
	case VarString:
		return strconv.Quote(v.Str.String())
	case VarInt:
		return strconv.Itoa(int(v.Int))
	}
	return "?"
}

// CondOp is the comparison of a Condition. OpNone tests Left for truthiness.
type CondOp int

const (
	OpNone CondOp = iota
	OpEq
	OpNotEq
)

// Condition is either a single variable or a comparison of two.
type Condition struct {
	Left  Variable
	Op    CondOp
	Right Variable
}

func (c Condition) String() string {
	switch c.Op {
	case OpEq:
		return c.Left.String() + " == " + c.Right.String()
	case OpNotEq:
		return c.Left.String() + " != " + c.Right.String()
	}
	return c.Left.String()
}

// Tree is a validated script.
type Tree struct {
	Nodes    []Node
	Triggers []Identifier
}
