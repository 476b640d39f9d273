/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package grammar

import "fmt"

// TokenType represents the type of a token.
type TokenType int

const (
	TokenIllegal TokenType = iota

	TokenIdent   // who, doom, door.open
	TokenString  // "Hello!"
	TokenInteger // 42, -1

	TokenColon  // :
	TokenArrow  // ->
	TokenLParen // (
	TokenRParen // )
	TokenEq     // ==
	TokenNotEq  // !=
	TokenComma  // ,

	// Reserved words
	TokenEnd
	TokenJump
	TokenChoice
	TokenTrigger
	TokenIf
	TokenElse
	TokenTrue
	TokenFalse
)

var tokenNames = map[TokenType]string{
	TokenIllegal: "ILLEGAL",
	TokenIdent:   "IDENT",
	TokenString:  "STRING",
	TokenInteger: "INTEGER",
	TokenColon:   ":",
	TokenArrow:   "->",
	TokenLParen:  "(",
	TokenRParen:  ")",
	TokenEq:      "==",
	TokenNotEq:   "!=",
	TokenComma:   ",",
	TokenEnd:     "end",
	TokenJump:    "jump",
	TokenChoice:  "choice",
	TokenTrigger: "trigger",
	TokenIf:      "if",
	TokenElse:    "else",
	TokenTrue:    "true",
	TokenFalse:   "false",
}

func (t TokenType) String() string {
	if name, ok := tokenNames[t]; ok {
		return name
	}
	return fmt.Sprintf("Token(%d)", t)
}

// reservedWords maps keywords to their token types. Keywords cannot be used
// as label, choice-set or variable names.
var reservedWords = map[string]TokenType{
	"end":     TokenEnd,
	"jump":    TokenJump,
	"choice":  TokenChoice,
	"trigger": TokenTrigger,
	"if":      TokenIf,
	"else":    TokenElse,
	"true":    TokenTrue,
	"false":   TokenFalse,
}

// Position is a 1-based line/column location in the source.
type Position struct {
	Line   int
	Column int
}

func (p Position) String() string { return fmt.Sprintf("%d:%d", p.Line, p.Column) }

// Token is a lexical token. For strings Literal holds the decoded value.
type Token struct {
	Type    TokenType
	Literal string
	Pos     Position // start
	End     Position // one past the last rune
}

func (t Token) String() string {
	if len(t.Literal) > 20 {
		return fmt.Sprintf("%s(%q...)", t.Type, t.Literal[:20])
	}
	return fmt.Sprintf("%s(%q)", t.Type, t.Literal)
}
