/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package grammar

import (
	"errors"
	"strings"
	"testing"
)

func TestParseLabelBlockAndDialog(t *testing.T) {
	input := `# greeting scene
start:
  alice -> "Hello, " "world!"
    "How are you?"
  "Narration without speaker."
  end
`
	root, err := Parse(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(root.Children) != 2 {
		t.Fatalf("expected label block + EOI, got %d children", len(root.Children))
	}
	if root.Children[1].Rule != RuleEOI {
		t.Fatalf("last child = %s, want EOI", root.Children[1].Rule)
	}
	block := root.Children[0]
	if block.Rule != RuleLabelBlock || block.Child(RuleName).Text != "start" {
		t.Fatalf("unexpected block: %s", block.Dump())
	}
	body := block.Child(RuleBody)
	if len(body.Children) != 3 {
		t.Fatalf("expected 3 statements, got %d:\n%s", len(body.Children), body.Dump())
	}
	d := body.Children[0]
	if d.Rule != RuleDialog || d.Child(RuleSpeaker).Text != "alice" {
		t.Fatalf("unexpected dialog: %s", d.Dump())
	}
	var frags []string
	for _, c := range d.Children {
		if c.Rule == RuleFragment {
			frags = append(frags, c.Text)
		}
	}
	if got := strings.Join(frags, "|"); got != "Hello, |world!\n|How are you?" {
		t.Fatalf("fragments = %q, want %q", got, "Hello, |world!\n|How are you?")
	}
	if body.Children[1].Child(RuleSpeaker) != nil {
		t.Fatalf("narration should have no speaker")
	}
	if body.Children[2].Rule != RuleEnd {
		t.Fatalf("third statement = %s, want end", body.Children[2].Rule)
	}
}

func TestParseCommandsAndChoiceDecl(t *testing.T) {
	input := `main:
  choice answer yes_no
  trigger door.open
  jump main

yes_no: yes -> "Yes", no -> "No"
  maybe -> "Maybe"
`
	root, err := Parse(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	body := root.Children[0].Child(RuleBody)
	want := []Rule{RuleChoice, RuleTrigger, RuleJump}
	for i, r := range want {
		if body.Children[i].Rule != r {
			t.Fatalf("statement %d = %s, want %s", i, body.Children[i].Rule, r)
		}
	}
	if got := body.Children[1].Child(RuleName).Text; got != "door.open" {
		t.Fatalf("trigger name = %q, want %q", got, "door.open")
	}
	decl := root.Children[1]
	if decl.Rule != RuleChoiceDecl {
		t.Fatalf("second declaration = %s, want choice_decl", decl.Rule)
	}
	entries := 0
	for _, c := range decl.Children {
		if c.Rule == RuleChoiceEntry {
			entries++
		}
	}
	if entries != 3 {
		t.Fatalf("expected 3 entries, got %d", entries)
	}
}

func TestParseIfElse(t *testing.T) {
	input := `door:
  if (has_key == true):
    "The door opens."
    inside:
    end
  else: "It is locked."
  if (visits != 0): jump door
`
	root, err := Parse(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	body := root.Children[0].Child(RuleBody)
	if len(body.Children) != 2 {
		t.Fatalf("expected 2 if-blocks, got %d", len(body.Children))
	}
	ifb := body.Children[0]
	cond := ifb.Child(RuleCondition)
	if len(cond.Children) != 3 || cond.Children[0].Rule != RuleGlobal || cond.Children[2].Rule != RuleBoolean {
		t.Fatalf("unexpected condition: %s", cond.Dump())
	}
	if n := len(ifb.Child(RuleBody).Children); n != 3 {
		t.Fatalf("then body has %d statements, want 3", n)
	}
	if ifb.Child(RuleBody).Children[1].Rule != RuleLabel {
		t.Fatalf("expected nested label in then body")
	}
	if ifb.Child(RuleElseClause) == nil {
		t.Fatalf("expected else clause")
	}
	second := body.Children[1]
	if second.Child(RuleCondition).Children[2].Rule != RuleInteger {
		t.Fatalf("expected integer operand")
	}
	if second.Child(RuleBody).Children[0].Rule != RuleJump {
		t.Fatalf("expected inline jump")
	}
}

func TestParseAcceptsRepeatedElse(t *testing.T) {
	input := `a:
  if (x): end
  else: end
  else: end
`
	root, err := Parse(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ifb := root.Children[0].Child(RuleBody).Children[0]
	n := 0
	for _, c := range ifb.Children {
		if c.Rule == RuleElseClause {
			n++
		}
	}
	if n != 2 {
		t.Fatalf("else clauses = %d, want 2", n)
	}
}

func TestParseEmptyScript(t *testing.T) {
	root, err := Parse("# nothing here\n\n")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(root.Children) != 1 || root.Children[0].Rule != RuleEOI {
		t.Fatalf("expected only EOI, got:\n%s", root.Dump())
	}
}

func TestParseErrors(t *testing.T) {
	cases := []struct {
		name  string
		input string
		rule  Rule
		line  int
	}{
		{"top-level statement", "end\n", RuleLabelBlock, 1},
		{"indented top level", "  a:\n    end\n", RuleScript, 1},
		{"missing body", "a:\nb:\n  end\n", RuleLabelBlock, 1},
		{"unterminated string", "a:\n  \"oops\n", RuleString, 2},
		{"dangling else", "a:\n  else: end\n", RuleIfBlock, 2},
		{"bad operator", "a:\n  if (x = 1): end\n", RuleOperator, 2},
		{"unbalanced paren", "a:\n  if (x: end\n", RuleCondition, 2},
		{"jump without target", "a:\n  jump\n", RuleJump, 2},
		{"stray indentation", "a:\n  end\n      end\n", RuleBody, 3},
		{"integer overflow", "a:\n  if (x == 4294967296): end\n", RuleInteger, 2},
		{"bad entry", "set: yes \"Yes\"\n", RuleChoiceEntry, 1},
		{"non-ascii digit", "a:\n  if (x == \u0663): end\n", RuleScript, 2},
		{"non-ascii identifier", "a:\n  jump caf\u00e9\n", RuleScript, 2},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse(tc.input)
			var se *SyntaxError
			if !errors.As(err, &se) {
				t.Fatalf("expected SyntaxError, got %v", err)
			}
			if se.Rule != tc.rule {
				t.Fatalf("rule = %s, want %s (%v)", se.Rule, tc.rule, err)
			}
			if se.Pos.Line != tc.line {
				t.Fatalf("line = %d, want %d (%v)", se.Pos.Line, tc.line, err)
			}
		})
	}
}

func TestLexStringEscapes(t *testing.T) {
	toks, err := lexLine([]rune(`"a\"b\\c\nd\te"`), 1, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(toks) != 1 || toks[0].Literal != "a\"b\\c\nd\te" {
		t.Fatalf("literal = %q", toks[0].Literal)
	}
}

func TestParseInlineElse(t *testing.T) {
	root, err := Parse("gate:\n  if (ready == true): trigger open else: trigger closed\n  end\n")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	body := root.Children[0].Child(RuleBody)
	if len(body.Children) != 2 {
		t.Fatalf("expected if-block + end, got %d", len(body.Children))
	}
	ifb := body.Children[0]
	then := ifb.Child(RuleBody).Children[0]
	if then.Rule != RuleTrigger || then.Child(RuleName).Text != "open" {
		t.Fatalf("unexpected then statement: %s", then.Dump())
	}
	els := ifb.Child(RuleElseClause)
	if els == nil {
		t.Fatalf("expected else clause")
	}
	if got := els.Child(RuleBody).Children[0].Child(RuleName).Text; got != "closed" {
		t.Fatalf("else trigger = %q, want %q", got, "closed")
	}
}
