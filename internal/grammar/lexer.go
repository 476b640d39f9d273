/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package grammar

import (
	"math"
	"strconv"
	"strings"
)

// line is one logical source line: its indentation width and tokens.
// Blank and comment-only lines never become a line.
type line struct {
	No     int
	Indent int
	Tokens []Token
}

// splitLines tokenizes the source line by line.
func splitLines(source string) ([]line, error) {
	var out []line
	raw := strings.Split(source, "\n")
	for i, text := range raw {
		text = strings.TrimRight(text, "\r")
		lineNo := i + 1
		indent := 0
		for indent < len(text) && (text[indent] == ' ' || text[indent] == '\t') {
			indent++
		}
		toks, err := lexLine([]rune(text[indent:]), lineNo, indent+1)
		if err != nil {
			return nil, err
		}
		if len(toks) == 0 {
			continue
		}
		out = append(out, line{No: lineNo, Indent: indent, Tokens: toks})
	}
	return out, nil
}

// lexLine scans one line (without its indentation). col is the column of src[0].
func lexLine(src []rune, lineNo, col int) ([]Token, error) {
	var toks []Token
	i := 0
	pos := func(at int) Position { return Position{Line: lineNo, Column: col + at} }
	for i < len(src) {
		r := src[i]
		switch {
		case r == ' ' || r == '\t':
			i++
		case r == '#':
			return toks, nil
		case r == ':':
			toks = append(toks, Token{Type: TokenColon, Literal: ":", Pos: pos(i), End: pos(i + 1)})
			i++
		case r == '(':
			toks = append(toks, Token{Type: TokenLParen, Literal: "(", Pos: pos(i), End: pos(i + 1)})
			i++
		case r == ')':
			toks = append(toks, Token{Type: TokenRParen, Literal: ")", Pos: pos(i), End: pos(i + 1)})
			i++
		case r == ',':
			toks = append(toks, Token{Type: TokenComma, Literal: ",", Pos: pos(i), End: pos(i + 1)})
			i++
		case r == '=' || r == '!':
			if i+1 >= len(src) || src[i+1] != '=' {
				return nil, &SyntaxError{Rule: RuleOperator, Pos: pos(i), Msg: "expected '==' or '!='"}
			}
			tt := TokenEq
			if r == '!' {
				tt = TokenNotEq
			}
			toks = append(toks, Token{Type: tt, Literal: string(src[i : i+2]), Pos: pos(i), End: pos(i + 2)})
			i += 2
		case r == '-' && i+1 < len(src) && src[i+1] == '>':
			toks = append(toks, Token{Type: TokenArrow, Literal: "->", Pos: pos(i), End: pos(i + 2)})
			i += 2
		case r == '-' || isDigit(r):
			start := i
			i++
			for i < len(src) && isDigit(src[i]) {
				i++
			}
			lit := string(src[start:i])
			if lit == "-" {
				return nil, &SyntaxError{Rule: RuleInteger, Pos: pos(start), Msg: "expected digits after '-'"}
			}
			n, err := strconv.ParseInt(lit, 10, 64)
			if err != nil || n > math.MaxInt32 || n < math.MinInt32 {
				return nil, &SyntaxError{Rule: RuleInteger, Pos: pos(start), Msg: "integer out of range: " + lit}
			}
			toks = append(toks, Token{Type: TokenInteger, Literal: lit, Pos: pos(start), End: pos(i)})
		case r == '"':
			start := i
			var sb strings.Builder
			i++
			closed := false
			for i < len(src) {
				c := src[i]
				if c == '"' {
					closed = true
					i++
					break
				}
				if c == '\\' {
					if i+1 >= len(src) {
						break
					}
					switch src[i+1] {
					case 'n':
						sb.WriteRune('\n')
					case 't':
						sb.WriteRune('\t')
					case '"':
						sb.WriteRune('"')
					case '\\':
						sb.WriteRune('\\')
					default:
						return nil, &SyntaxError{Rule: RuleString, Pos: pos(i), Msg: "unknown escape \\" + string(src[i+1])}
					}
					i += 2
					continue
				}
				sb.WriteRune(c)
				i++
			}
			if !closed {
				return nil, &SyntaxError{Rule: RuleString, Pos: pos(start), Msg: "unterminated string"}
			}
			toks = append(toks, Token{Type: TokenString, Literal: sb.String(), Pos: pos(start), End: pos(i)})
		case isIdentStart(r):
			start := i
			for i < len(src) && isIdentPart(src[i]) {
				i++
			}
			lit := string(src[start:i])
			tt := TokenIdent
			if kw, ok := reservedWords[lit]; ok {
				tt = kw
			}
			toks = append(toks, Token{Type: tt, Literal: lit, Pos: pos(start), End: pos(i)})
		default:
			return nil, &SyntaxError{Rule: RuleScript, Pos: pos(i), Msg: "unexpected character " + strconv.QuoteRune(r)}
		}
	}
	return toks, nil
}

// Identifiers and integers are ASCII only.
func isDigit(r rune) bool { return '0' <= r && r <= '9' }

func isIdentStart(r rune) bool { return r == '_' || 'a' <= r && r <= 'z' || 'A' <= r && r <= 'Z' }

func isIdentPart(r rune) bool { return isIdentStart(r) || isDigit(r) || r == '.' }
