/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package grammar

import (
	"fmt"
	"strings"
)

// Rule identifies the syntactic rule a parse tree node was produced by.
type Rule int

const (
	RuleScript Rule = iota
	RuleLabelBlock
	RuleChoiceDecl
	RuleChoiceEntry
	RuleLabel
	RuleDialog
	RuleSpeaker
	RuleFragment
	RuleEnd
	RuleJump
	RuleChoice
	RuleTrigger
	RuleIfBlock
	RuleElseClause
	RuleBody
	RuleCondition
	RuleOperator
	RuleBoolean
	RuleString
	RuleInteger
	RuleGlobal
	RuleName
	RuleEOI
)

var ruleNames = [...]string{
	RuleScript:      "script",
	RuleLabelBlock:  "label_block",
	RuleChoiceDecl:  "choice_decl",
	RuleChoiceEntry: "choice_entry",
	RuleLabel:       "label",
	RuleDialog:      "dialog",
	RuleSpeaker:     "speaker",
	RuleFragment:    "fragment",
	RuleEnd:         "end",
	RuleJump:        "jump",
	RuleChoice:      "choice",
	RuleTrigger:     "trigger",
	RuleIfBlock:     "if_block",
	RuleElseClause:  "else_clause",
	RuleBody:        "body",
	RuleCondition:   "condition",
	RuleOperator:    "operator",
	RuleBoolean:     "boolean",
	RuleString:      "string",
	RuleInteger:     "integer",
	RuleGlobal:      "global",
	RuleName:        "name",
	RuleEOI:         "EOI",
}

func (r Rule) String() string {
	if int(r) >= 0 && int(r) < len(ruleNames) && ruleNames[r] != "" {
		return ruleNames[r]
	}
	return fmt.Sprintf("Rule(%d)", int(r))
}

// Span is the source range covered by a node.
type Span struct {
	Start Position
	End   Position
}

// Node is a parse tree node. Leaf rules (names, fragments, literals,
// operators) carry their text; inner rules carry children in source order.
type Node struct {
	Rule     Rule
	Span     Span
	Text     string
	Children []*Node
}

// Child returns the first child with the given rule, or nil.
func (n *Node) Child(r Rule) *Node {
	for _, c := range n.Children {
		if c.Rule == r {
			return c
		}
	}
	return nil
}

// Dump renders the tree in an indented, line-per-node form for debugging.
func (n *Node) Dump() string {
	var b strings.Builder
	var walk func(*Node, int)
	walk = func(n *Node, depth int) {
		b.WriteString(strings.Repeat("  ", depth))
		b.WriteString(n.Rule.String())
		if n.Text != "" {
			fmt.Fprintf(&b, " %q", n.Text)
		}
		b.WriteString("\n")
		for _, c := range n.Children {
			walk(c, depth+1)
		}
	}
	walk(n, 0)
	return b.String()
}

// SyntaxError reports malformed input with the rule being recognised and
// the offending position.
type SyntaxError struct {
	Rule Rule
	Pos  Position
	Msg  string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("line %d, column %d: %s: %s", e.Pos.Line, e.Pos.Column, e.Rule, e.Msg)
}
