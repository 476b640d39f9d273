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

	"directscript/internal/ast"
	"directscript/internal/grammar"
)

// Diagnostic is one problem reported while turning source into a Script.
type Diagnostic struct {
	Stage   string `json:"stage"` // syntax, validation or compile
	Line    int    `json:"line"`
	Column  int    `json:"column"`
	Message string `json:"message"`
}

// Diagnostics flattens an error returned by ast.Parse, Compile or
// CompileSource into positioned problems, in the order they were reported.
func Diagnostics(err error) []Diagnostic {
	if err == nil {
		return nil
	}
	if j, ok := err.(interface{ Unwrap() []error }); ok {
		var out []Diagnostic
		for _, e := range j.Unwrap() {
			out = append(out, Diagnostics(e)...)
		}
		return out
	}
	var (
		syn *grammar.SyntaxError
		val *ast.ValidationError
		cmp *CompileError
	)
	switch {
	case errors.As(err, &syn):
		return []Diagnostic{{Stage: "syntax", Line: syn.Pos.Line, Column: syn.Pos.Column, Message: syn.Rule.String() + ": " + syn.Msg}}
	case errors.As(err, &val):
		return []Diagnostic{{Stage: "validation", Line: val.Pos.Line, Column: val.Pos.Column, Message: trimPos(val.Error())}}
	case errors.As(err, &cmp):
		return []Diagnostic{{Stage: "compile", Line: cmp.Pos.Line, Column: cmp.Pos.Column, Message: trimPos(cmp.Error())}}
	}
	return []Diagnostic{{Stage: "compile", Message: err.Error()}}
}

// trimPos drops the "line L, column C: " prefix the typed errors carry.
func trimPos(msg string) string {
	for i := 0; i+1 < len(msg); i++ {
		if msg[i] == ':' && msg[i+1] == ' ' {
			return msg[i+2:]
		}
	}
	return msg
}
