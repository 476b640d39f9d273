/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package bytecode

import (
	"errors"
	"strings"
	"testing"

	"directscript/internal/ast"
	"directscript/internal/grammar"
)

func TestDiagnosticsDuplicateLabel(t *testing.T) {
	_, err := CompileSource("a:\n  end\na:\n  end\n", "dup.drs")
	d := Diagnostics(err)
	if len(d) != 1 {
		t.Fatalf("diagnostics = %+v, want one", d)
	}
	if d[0].Stage != "validation" || d[0].Line != 3 {
		t.Fatalf("diagnostic = %+v, want validation on line 3", d[0])
	}
	if strings.HasPrefix(d[0].Message, "line ") || !strings.Contains(d[0].Message, `"a"`) {
		t.Fatalf("message = %q", d[0].Message)
	}
}

func TestDiagnosticsUnresolvedJump(t *testing.T) {
	_, err := CompileSource("a:\n  jump nowhere\n", "jump.drs")
	d := Diagnostics(err)
	if len(d) == 0 || d[0].Line != 2 {
		t.Fatalf("diagnostics = %+v, want one on line 2", d)
	}
	if !strings.Contains(d[0].Message, "nowhere") {
		t.Fatalf("message = %q, want the label name", d[0].Message)
	}
}

func TestDiagnosticsSyntax(t *testing.T) {
	_, err := ast.Parse("a:\n  host -> \"unterminated\n")
	if err == nil {
		t.Fatalf("expected a syntax error")
	}
	d := Diagnostics(err)
	if len(d) == 0 || d[0].Stage != "syntax" || d[0].Line == 0 {
		t.Fatalf("diagnostics = %+v", d)
	}
}

func TestDiagnosticsFlattensJoined(t *testing.T) {
	err := errors.Join(
		&ast.ValidationError{Kind: ast.DuplicateLabel, Symbol: "x", Pos: grammar.Position{Line: 4, Column: 1}},
		&CompileError{Kind: UnresolvedLabel, Symbol: "y", Pos: grammar.Position{Line: 7, Column: 3}},
		errors.New("disk full"),
	)
	d := Diagnostics(err)
	if len(d) != 3 {
		t.Fatalf("got %d diagnostics, want 3", len(d))
	}
	want := []struct {
		stage string
		line  int
	}{{"validation", 4}, {"compile", 7}, {"compile", 0}}
	for i, w := range want {
		if d[i].Stage != w.stage || d[i].Line != w.line {
			t.Fatalf("diag[%d] = %+v, want %s on line %d", i, d[i], w.stage, w.line)
		}
	}
	if d[2].Message != "disk full" {
		t.Fatalf("plain error message = %q", d[2].Message)
	}
	if Diagnostics(nil) != nil {
		t.Fatalf("Diagnostics(nil) should be nil")
	}
}
