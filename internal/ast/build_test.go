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
	"strings"
	"testing"

	"directscript/internal/grammar"
)

func TestIdentifiersInternByContent(t *testing.T) {
	a := Ident("door.open")
	b := Ident(string([]byte("door.open")))
	if a != b {
		t.Fatalf("identifiers with equal text must compare equal")
	}
	if a.Text().Ident() != a {
		t.Fatalf("Text/Ident round trip changed the value")
	}
	if !(Identifier{}).IsZero() || Ident("").IsZero() {
		t.Fatalf("zero identifier must differ from the empty name")
	}
	if got := (Identifier{}).String(); got != "" {
		t.Fatalf("zero String() = %q, want empty", got)
	}
}

func TestBuildTree(t *testing.T) {
	src := `intro:
  guide -> "Welcome, " "traveller."
  choice answer yes_no
  if (answer == "yes"):
    trigger open_gate
    later:
  else:
    jump intro
  trigger open_gate
  end

yes_no: yes -> "Yes", no -> "No"
`
	tree, err := Parse(src)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(tree.Nodes) != 2 {
		t.Fatalf("expected 2 top-level nodes, got %d", len(tree.Nodes))
	}
	block, ok := tree.Nodes[0].(*LabelBlock)
	if !ok || block.Name != Ident("intro") {
		t.Fatalf("first node = %#v, want label block intro", tree.Nodes[0])
	}
	if len(block.Body) != 5 {
		t.Fatalf("body has %d nodes, want 5", len(block.Body))
	}
	d := block.Body[0].(*Dialog)
	if d.Speaker != Ident("guide") || len(d.Fragments) != 2 || d.Fragments[1].String() != "traveller." {
		t.Fatalf("unexpected dialog %#v", d)
	}
	ch := block.Body[1].(*Command)
	if ch.Op != CmdChoice || ch.Name != Ident("answer") || ch.Set != Ident("yes_no") {
		t.Fatalf("unexpected choice command %#v", ch)
	}
	ifb := block.Body[2].(*IfBlock)
	if !ifb.HasElse || len(ifb.Then) != 2 || len(ifb.Else) != 1 {
		t.Fatalf("unexpected if block %#v", ifb)
	}
	if ifb.Cond.Op != OpEq || ifb.Cond.Right.Kind != VarString || ifb.Cond.Right.Str.String() != "yes" {
		t.Fatalf("unexpected condition %s", ifb.Cond)
	}
	if _, ok := ifb.Then[1].(*Label); !ok {
		t.Fatalf("expected nested label in then body")
	}
	set := tree.Nodes[1].(*Choices)
	if len(set.Options) != 2 || set.Options[0].Name != Ident("yes") || set.Options[1].Text.String() != "No" {
		t.Fatalf("unexpected choice set %#v", set)
	}
	if len(tree.Triggers) != 1 || tree.Triggers[0] != Ident("open_gate") {
		t.Fatalf("triggers = %v, want [open_gate] deduplicated", tree.Triggers)
	}
}

func TestBuildAllowsForwardReferences(t *testing.T) {
	src := `a:
  choice pick later_set
  jump b
b:
  end
later_set: x -> "X"
`
	if _, err := Parse(src); err != nil {
		t.Fatalf("forward references should validate: %v", err)
	}
}

func TestBuildValidationErrors(t *testing.T) {
	cases := []struct {
		name   string
		src    string
		kind   ErrorKind
		symbol string
	}{
		{"duplicate block label", "a:\n  end\na:\n  end\n", DuplicateLabel, "a"},
		{"nested label clashes with block", "a:\n  b:\n  end\nb:\n  end\n", DuplicateLabel, "b"},
		{"duplicate choice set", "s: x -> \"X\"\ns: y -> \"Y\"\n", DuplicateChoiceSet, "s"},
		{"unresolved label", "a:\n  jump nowhere\n", UnresolvedLabel, "nowhere"},
		{"unresolved choice set", "a:\n  choice v missing\n", UnresolvedChoiceSet, "missing"},
		{"second else", "a:\n  if (x): end\n  else: end\n  else: end\n", DuplicateElse, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse(tc.src)
			var ve *ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if ve.Kind != tc.kind || ve.Symbol != tc.symbol {
				t.Fatalf("got %s %q, want %s %q", ve.Kind, ve.Symbol, tc.kind, tc.symbol)
			}
		})
	}
}

func TestFinalizeReportsEveryMissingSymbol(t *testing.T) {
	_, err := Parse("a:\n  jump x\n  jump y\n  choice v s\n")
	if err == nil {
		t.Fatalf("expected error")
	}
	var missing []string
	for _, e := range err.(interface{ Unwrap() []error }).Unwrap() {
		var ve *ValidationError
		if !errors.As(e, &ve) {
			t.Fatalf("unexpected error %v", e)
		}
		missing = append(missing, ve.Symbol)
	}
	if len(missing) != 3 || missing[0] != "x" || missing[1] != "y" || missing[2] != "s" {
		t.Fatalf("missing = %v, want [x y s]", missing)
	}
}

func TestUnresolvedChoiceSetHintsAtMultilineDeclaration(t *testing.T) {
	src := "start:\n  choice answer opts\n  end\nopts:\n  yes -> \"Yes\"\n  no -> \"No\"\n"
	_, err := Parse(src)
	var ve *ValidationError
	if !errors.As(err, &ve) || ve.Kind != UnresolvedChoiceSet || ve.Symbol != "opts" {
		t.Fatalf("expected unresolved choice set opts, got %v", err)
	}
	if !strings.Contains(ve.Hint, "line 4") || !strings.Contains(ve.Hint, "header line") {
		t.Fatalf("hint = %q, want a pointer to the label block at line 4", ve.Hint)
	}
	if !strings.Contains(err.Error(), ve.Hint) {
		t.Fatalf("Error() = %q, should carry the hint", err.Error())
	}

	_, err = Parse("a:\n  choice v missing\n")
	if !errors.As(err, &ve) || ve.Hint != "" {
		t.Fatalf("plain missing choice set should have no hint, got %v", err)
	}
	_, err = Parse("a:\n  choice v talk\n  end\ntalk:\n  host -> \"Hi\" \"there\"\n")
	if !errors.As(err, &ve) || ve.Hint != "" {
		t.Fatalf("multi-fragment dialog should not trigger the hint, got %v", err)
	}
}

func TestBuildPropagatesSyntaxError(t *testing.T) {
	_, err := Parse("a:\n  jump\n")
	var se *grammar.SyntaxError
	if !errors.As(err, &se) {
		t.Fatalf("expected SyntaxError, got %v", err)
	}
}

func TestBuildRejectsForeignTree(t *testing.T) {
	_, err := Build(&grammar.Node{Rule: grammar.RuleDialog})
	var ve *ValidationError
	if !errors.As(err, &ve) || ve.Kind != Malformed {
		t.Fatalf("expected malformed error, got %v", err)
	}
}
