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

// Parse parses and validates source in one call.
func Parse(source string) (*Tree, error) {
	root, err := grammar.Parse(source)
	if err != nil {
		return nil, err
	}
	return Build(root)
}

// Build walks a parse tree depth-first into a validated Tree. It fails on the
// first duplicate declaration or structural problem; unresolved references
// are collected and reported together once the whole tree has been walked.
func Build(root *grammar.Node) (*Tree, error) {
	if root == nil || root.Rule != grammar.RuleScript {
		return nil, malformed(root, "expected script")
	}
	b := &builder{ctx: NewContext()}
	var nodes []Node
	for _, c := range root.Children {
		switch c.Rule {
		case grammar.RuleLabelBlock:
			n, err := b.labelBlock(c)
			if err != nil {
				return nil, err
			}
			nodes = append(nodes, n)
		case grammar.RuleChoiceDecl:
			n, err := b.choices(c)
			if err != nil {
				return nil, err
			}
			nodes = append(nodes, n)
		case grammar.RuleEOI:
		default:
			return nil, malformed(c, "unexpected top-level "+c.Rule.String())
		}
	}
	if err := b.ctx.Finalize(); err != nil {
		return nil, err
	}
	return &Tree{Nodes: nodes, Triggers: b.ctx.Triggers()}, nil
}

type builder struct {
	ctx *Context
}

func malformed(n *grammar.Node, what string) error {
	e := &ValidationError{Kind: Malformed, Symbol: what}
	if n != nil {
		e.Pos = n.Span.Start
	}
	return e
}

// name returns the identifier held by the i-th RuleName child of n.
func name(n *grammar.Node, i int) (Identifier, grammar.Position, bool) {
	for _, c := range n.Children {
		if c.Rule != grammar.RuleName {
			continue
		}
		if i == 0 {
			return Ident(c.Text), c.Span.Start, true
		}
		i--
	}
	return Identifier{}, grammar.Position{}, false
}

func (b *builder) labelBlock(n *grammar.Node) (*LabelBlock, error) {
	id, at, ok := name(n, 0)
	body := n.Child(grammar.RuleBody)
	if !ok || body == nil {
		return nil, malformed(n, "label block")
	}
	if err := b.ctx.DeclareLabel(id, at); err != nil {
		return nil, err
	}
	stmts, err := b.body(body)
	if err != nil {
		return nil, err
	}
	if looksLikeOptions(stmts) {
		b.ctx.noteOptionLike(id, at)
	}
	return &LabelBlock{Name: id, Body: stmts, Pos: n.Span.Start}, nil
}

// looksLikeOptions reports whether every statement is a one-fragment dialog
// with a speaker, the shape of choice entries placed below their header.
func looksLikeOptions(stmts []Node) bool {
	if len(stmts) == 0 {
		return false
	}
	for _, s := range stmts {
		d, ok := s.(*Dialog)
		if !ok || d.Speaker.IsZero() || len(d.Fragments) != 1 {
			return false
		}
	}
	return true
}

func (b *builder) choices(n *grammar.Node) (*Choices, error) {
	id, at, ok := name(n, 0)
	if !ok {
		return nil, malformed(n, "choice declaration")
	}
	if err := b.ctx.DeclareChoiceSet(id, at); err != nil {
		return nil, err
	}
	out := &Choices{Name: id, Pos: n.Span.Start}
	for _, e := range n.Children {
		if e.Rule != grammar.RuleChoiceEntry {
			continue
		}
		opt, _, ok := name(e, 0)
		text := e.Child(grammar.RuleString)
		if !ok || text == nil {
			return nil, malformed(e, "choice entry")
		}
		out.Options = append(out.Options, Option{Name: opt, Text: NewText(text.Text)})
	}
	if len(out.Options) == 0 {
		return nil, malformed(n, "empty choice set")
	}
	return out, nil
}

func (b *builder) body(n *grammar.Node) ([]Node, error) {
	out := make([]Node, 0, len(n.Children))
	for _, c := range n.Children {
		s, err := b.statement(c)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

func (b *builder) statement(n *grammar.Node) (Node, error) {
	at := n.Span.Start
	switch n.Rule {
	case grammar.RuleLabel:
		id, pos, ok := name(n, 0)
		if !ok {
			return nil, malformed(n, "label")
		}
		if err := b.ctx.DeclareLabel(id, pos); err != nil {
			return nil, err
		}
		return &Label{Name: id, Pos: at}, nil
	case grammar.RuleDialog:
		d := &Dialog{Pos: at}
		for _, c := range n.Children {
			switch c.Rule {
			case grammar.RuleSpeaker:
				d.Speaker = Ident(c.Text)
			case grammar.RuleFragment:
				d.Fragments = append(d.Fragments, NewText(c.Text))
			}
		}
		if len(d.Fragments) == 0 {
			return nil, malformed(n, "dialog without text")
		}
		return d, nil
	case grammar.RuleEnd:
		return &Command{Op: CmdEnd, Pos: at}, nil
	case grammar.RuleJump:
		id, pos, ok := name(n, 0)
		if !ok {
			return nil, malformed(n, "jump")
		}
		b.ctx.DemandLabel(id, pos)
		return &Command{Op: CmdJump, Name: id, Pos: at}, nil
	case grammar.RuleChoice:
		v, _, ok1 := name(n, 0)
		set, pos, ok2 := name(n, 1)
		if !ok1 || !ok2 {
			return nil, malformed(n, "choice")
		}
		b.ctx.DemandChoiceSet(set, pos)
		return &Command{Op: CmdChoice, Name: v, Set: set, Pos: at}, nil
	case grammar.RuleTrigger:
		id, pos, ok := name(n, 0)
		if !ok {
			return nil, malformed(n, "trigger")
		}
		b.ctx.Invoke(id, pos)
		return &Command{Op: CmdTrigger, Name: id, Pos: at}, nil
	case grammar.RuleIfBlock:
		return b.ifBlock(n)
	}
	return nil, malformed(n, "unexpected "+n.Rule.String())
}

func (b *builder) ifBlock(n *grammar.Node) (*IfBlock, error) {
	condNode := n.Child(grammar.RuleCondition)
	thenNode := n.Child(grammar.RuleBody)
	if condNode == nil || thenNode == nil {
		return nil, malformed(n, "if block")
	}
	cond, err := condition(condNode)
	if err != nil {
		return nil, err
	}
	out := &IfBlock{Cond: cond, Pos: n.Span.Start}
	if out.Then, err = b.body(thenNode); err != nil {
		return nil, err
	}
	for _, c := range n.Children {
		if c.Rule != grammar.RuleElseClause {
			continue
		}
		if out.HasElse {
			return nil, &ValidationError{Kind: DuplicateElse, Pos: c.Span.Start}
		}
		eb := c.Child(grammar.RuleBody)
		if eb == nil {
			return nil, malformed(c, "else clause")
		}
		if out.Else, err = b.body(eb); err != nil {
			return nil, err
		}
		out.HasElse = true
	}
	return out, nil
}

func condition(n *grammar.Node) (Condition, error) {
	switch len(n.Children) {
	case 1:
		v, err := variable(n.Children[0])
		return Condition{Left: v}, err
	case 3:
		l, err := variable(n.Children[0])
		if err != nil {
			return Condition{}, err
		}
		r, err := variable(n.Children[2])
		if err != nil {
			return Condition{}, err
		}
		c := Condition{Left: l, Right: r}
		switch n.Children[1].Text {
		case "==":
			c.Op = OpEq
		case "!=":
			c.Op = OpNotEq
		default:
			return Condition{}, malformed(n.Children[1], "operator")
		}
		return c, nil
	}
	return Condition{}, malformed(n, "condition")
}

func variable(n *grammar.Node) (Variable, error) {
	switch n.Rule {
	case grammar.RuleGlobal:
		return Variable{Kind: VarGlobal, Name: Ident(n.Text)}, nil
	case grammar.RuleBoolean:
		return Variable{Kind: VarBool, Bool: n.Text == "true"}, nil
	case grammar.RuleString:
		return Variable{Kind: VarString, Str: NewText(n.Text)}, nil
	case grammar.RuleInteger:
		v, err := strconv.ParseInt(n.Text, 10, 32)
		if err != nil {
			return Variable{}, malformed(n, "integer")
		}
		return Variable{Kind: VarInt, Int: int32(v)}, nil
	}
	return Variable{}, malformed(n, "variable")
}
