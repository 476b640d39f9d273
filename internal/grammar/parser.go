/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package grammar

import "fmt"

// Parse converts script text into a parse tree rooted at RuleScript.
// Supported syntax:
//
//   - Label blocks: a column-0 line "name:" followed by an indented body of
//     nested labels ("name:"), dialog lines, commands and if-blocks.
//   - Dialog: [speaker ->] "fragment" ["fragment" ...]. Lines indented deeper
//     than the dialog that hold only strings continue it; a fragment that
//     starts on a new line is separated from the previous one by "\n".
//   - Commands: end | jump <label> | choice <variable> <choice_set> | trigger <name>.
//   - If-blocks: if (cond): <stmt or indented body>, followed by else clauses
//     at the same indentation or "else: <stmt>" on the if line itself.
//     cond is "var" or "var == var" / "var != var".
//   - Choice declarations: a column-0 line "name: opt -> "text", ..." with
//     optional further entries on deeper-indented lines.
//
// '#' starts a comment outside strings.
func Parse(source string) (*Node, error) {
	lines, err := splitLines(source)
	if err != nil {
		return nil, err
	}
	p := &parser{lines: lines}
	return p.parseScript()
}

type parser struct {
	lines []line
	pos   int
}

func errAt(r Rule, pos Position, format string, args ...any) error {
	return &SyntaxError{Rule: r, Pos: pos, Msg: fmt.Sprintf(format, args...)}
}

func tokSpan(t Token) Span { return Span{Start: t.Pos, End: t.End} }

func leaf(r Rule, t Token) *Node { return &Node{Rule: r, Span: tokSpan(t), Text: t.Literal} }

func (p *parser) parseScript() (*Node, error) {
	root := &Node{Rule: RuleScript, Span: Span{Start: Position{Line: 1, Column: 1}}}
	for p.pos < len(p.lines) {
		ln := p.lines[p.pos]
		toks := ln.Tokens
		if ln.Indent != 0 {
			return nil, errAt(RuleScript, toks[0].Pos, "unexpected indentation at top level")
		}
		if len(toks) < 2 || toks[0].Type != TokenIdent || toks[1].Type != TokenColon {
			return nil, errAt(RuleLabelBlock, toks[0].Pos, "expected declaration 'name:', found %s", toks[0].Type)
		}
		p.pos++
		var (
			decl *Node
			err  error
		)
		if len(toks) == 2 {
			decl, err = p.parseLabelBlock(ln)
		} else {
			decl, err = p.parseChoiceDecl(ln)
		}
		if err != nil {
			return nil, err
		}
		root.Children = append(root.Children, decl)
	}
	end := Position{Line: 1, Column: 1}
	if n := len(p.lines); n > 0 {
		end = Position{Line: p.lines[n-1].No + 1, Column: 1}
	}
	root.Children = append(root.Children, &Node{Rule: RuleEOI, Span: Span{Start: end, End: end}})
	root.Span.End = end
	return root, nil
}

func (p *parser) parseLabelBlock(header line) (*Node, error) {
	name := header.Tokens[0]
	block := &Node{Rule: RuleLabelBlock, Span: Span{Start: name.Pos}}
	block.Children = append(block.Children, leaf(RuleName, name))
	body, err := p.parseBlock(header, RuleLabelBlock)
	if err != nil {
		return nil, err
	}
	block.Children = append(block.Children, body)
	block.Span.End = body.Span.End
	return block, nil
}

// parseBlock parses the statements indented deeper than owner.
func (p *parser) parseBlock(owner line, r Rule) (*Node, error) {
	if p.pos >= len(p.lines) || p.lines[p.pos].Indent <= owner.Indent {
		last := owner.Tokens[len(owner.Tokens)-1]
		return nil, errAt(r, last.End, "expected an indented block")
	}
	indent := p.lines[p.pos].Indent
	body := &Node{Rule: RuleBody, Span: Span{Start: p.lines[p.pos].Tokens[0].Pos}}
	for p.pos < len(p.lines) {
		ln := p.lines[p.pos]
		if ln.Indent < indent {
			break
		}
		if ln.Indent > indent {
			return nil, errAt(RuleBody, ln.Tokens[0].Pos, "unexpected indentation")
		}
		p.pos++
		stmt, err := p.parseStatement(ln, 0)
		if err != nil {
			return nil, err
		}
		body.Children = append(body.Children, stmt)
		body.Span.End = stmt.Span.End
	}
	return body, nil
}

// parseStatement parses the statement starting at token index start of ln.
func (p *parser) parseStatement(ln line, start int) (*Node, error) {
	toks := ln.Tokens[start:]
	first := toks[0]
	switch first.Type {
	case TokenEnd:
		if len(toks) != 1 {
			return nil, errAt(RuleEnd, toks[1].Pos, "unexpected %s after 'end'", toks[1].Type)
		}
		return &Node{Rule: RuleEnd, Span: tokSpan(first)}, nil
	case TokenJump:
		if len(toks) != 2 || toks[1].Type != TokenIdent {
			return nil, errAt(RuleJump, first.End, "expected 'jump <label>'")
		}
		return &Node{Rule: RuleJump, Span: Span{first.Pos, toks[1].End}, Children: []*Node{leaf(RuleName, toks[1])}}, nil
	case TokenChoice:
		if len(toks) != 3 || toks[1].Type != TokenIdent || toks[2].Type != TokenIdent {
			return nil, errAt(RuleChoice, first.End, "expected 'choice <variable> <choice_set>'")
		}
		return &Node{Rule: RuleChoice, Span: Span{first.Pos, toks[2].End}, Children: []*Node{leaf(RuleName, toks[1]), leaf(RuleName, toks[2])}}, nil
	case TokenTrigger:
		if len(toks) != 2 || toks[1].Type != TokenIdent {
			return nil, errAt(RuleTrigger, first.End, "expected 'trigger <name>'")
		}
		return &Node{Rule: RuleTrigger, Span: Span{first.Pos, toks[1].End}, Children: []*Node{leaf(RuleName, toks[1])}}, nil
	case TokenIf:
		return p.parseIf(ln, start)
	case TokenElse:
		return nil, errAt(RuleIfBlock, first.Pos, "'else' without matching 'if'")
	case TokenIdent:
		if len(toks) == 2 && toks[1].Type == TokenColon {
			return &Node{Rule: RuleLabel, Span: Span{first.Pos, toks[1].End}, Children: []*Node{leaf(RuleName, first)}}, nil
		}
		if len(toks) >= 2 && toks[1].Type == TokenArrow {
			return p.parseDialog(ln, toks)
		}
		return nil, errAt(RuleDialog, first.End, "expected '->' or ':' after %q", first.Literal)
	case TokenString:
		return p.parseDialog(ln, toks)
	}
	return nil, errAt(RuleBody, first.Pos, "unexpected %s", first.Type)
}

func (p *parser) parseDialog(ln line, toks []Token) (*Node, error) {
	d := &Node{Rule: RuleDialog, Span: Span{Start: toks[0].Pos}}
	rest := toks
	if toks[0].Type == TokenIdent {
		d.Children = append(d.Children, leaf(RuleSpeaker, toks[0]))
		rest = toks[2:]
		if len(rest) == 0 {
			return nil, errAt(RuleDialog, toks[1].End, "expected quoted text after '->'")
		}
	}
	var last *Node
	appendFragments := func(ts []Token) error {
		for _, t := range ts {
			if t.Type != TokenString {
				return errAt(RuleFragment, t.Pos, "expected quoted text, found %s", t.Type)
			}
			last = leaf(RuleFragment, t)
			d.Children = append(d.Children, last)
		}
		return nil
	}
	if err := appendFragments(rest); err != nil {
		return nil, err
	}
	for p.pos < len(p.lines) {
		next := p.lines[p.pos]
		if next.Indent <= ln.Indent || next.Tokens[0].Type != TokenString {
			break
		}
		p.pos++
		last.Text += "\n"
		if err := appendFragments(next.Tokens); err != nil {
			return nil, err
		}
	}
	d.Span.End = last.Span.End
	return d, nil
}

func (p *parser) parseIf(ln line, start int) (*Node, error) {
	toks := ln.Tokens[start:]
	n := &Node{Rule: RuleIfBlock, Span: Span{Start: toks[0].Pos}}
	if len(toks) < 2 || toks[1].Type != TokenLParen {
		return nil, errAt(RuleIfBlock, toks[0].End, "expected '(' after 'if'")
	}
	closeAt := -1
	for j := 2; j < len(toks); j++ {
		if toks[j].Type == TokenRParen {
			closeAt = j
			break
		}
	}
	if closeAt < 0 {
		return nil, errAt(RuleCondition, toks[len(toks)-1].End, "expected ')'")
	}
	cond, err := parseCondition(toks[2:closeAt], toks[1])
	if err != nil {
		return nil, err
	}
	i := closeAt + 1
	if i >= len(toks) || toks[i].Type != TokenColon {
		return nil, errAt(RuleIfBlock, toks[closeAt].End, "expected ':' after condition")
	}
	// An else on the same line closes the inline then-statement.
	bodyStart := start + i + 1
	head := ln
	elseAt := -1
	for j := bodyStart; j < len(ln.Tokens); j++ {
		if ln.Tokens[j].Type == TokenElse {
			elseAt = j
			break
		}
	}
	if elseAt == bodyStart {
		return nil, errAt(RuleIfBlock, ln.Tokens[elseAt].Pos, "expected statement before 'else'")
	}
	if elseAt > 0 {
		head = line{No: ln.No, Indent: ln.Indent, Tokens: ln.Tokens[:elseAt]}
	}
	body, err := p.parseClauseBody(head, bodyStart, RuleIfBlock)
	if err != nil {
		return nil, err
	}
	n.Children = append(n.Children, cond, body)
	n.Span.End = body.Span.End
	if elseAt > 0 {
		clause, err := p.parseElse(ln, elseAt)
		if err != nil {
			return nil, err
		}
		n.Children = append(n.Children, clause)
		n.Span.End = clause.Span.End
	}
	for p.pos < len(p.lines) {
		next := p.lines[p.pos]
		if next.Indent != ln.Indent || next.Tokens[0].Type != TokenElse {
			break
		}
		p.pos++
		clause, err := p.parseElse(next, 0)
		if err != nil {
			return nil, err
		}
		n.Children = append(n.Children, clause)
		n.Span.End = clause.Span.End
	}
	return n, nil
}

func (p *parser) parseElse(ln line, at int) (*Node, error) {
	et := ln.Tokens[at:]
	if len(et) < 2 || et[1].Type != TokenColon {
		return nil, errAt(RuleElseClause, et[0].End, "expected ':' after 'else'")
	}
	eb, err := p.parseClauseBody(ln, at+2, RuleElseClause)
	if err != nil {
		return nil, err
	}
	return &Node{Rule: RuleElseClause, Span: Span{et[0].Pos, eb.Span.End}, Children: []*Node{eb}}, nil
}

// parseClauseBody parses either the single statement following ':' on the
// same line or the indented block below it.
func (p *parser) parseClauseBody(ln line, start int, r Rule) (*Node, error) {
	if start < len(ln.Tokens) {
		stmt, err := p.parseStatement(ln, start)
		if err != nil {
			return nil, err
		}
		return &Node{Rule: RuleBody, Span: stmt.Span, Children: []*Node{stmt}}, nil
	}
	return p.parseBlock(ln, r)
}

func parseCondition(toks []Token, open Token) (*Node, error) {
	switch len(toks) {
	case 1:
		v, err := variableNode(toks[0])
		if err != nil {
			return nil, err
		}
		return &Node{Rule: RuleCondition, Span: v.Span, Children: []*Node{v}}, nil
	case 3:
		l, err := variableNode(toks[0])
		if err != nil {
			return nil, err
		}
		if toks[1].Type != TokenEq && toks[1].Type != TokenNotEq {
			return nil, errAt(RuleOperator, toks[1].Pos, "expected '==' or '!=', found %s", toks[1].Type)
		}
		r, err := variableNode(toks[2])
		if err != nil {
			return nil, err
		}
		return &Node{Rule: RuleCondition, Span: Span{l.Span.Start, r.Span.End}, Children: []*Node{l, leaf(RuleOperator, toks[1]), r}}, nil
	case 0:
		return nil, errAt(RuleCondition, open.End, "empty condition")
	}
	return nil, errAt(RuleCondition, toks[0].Pos, "expected 'variable' or 'variable == variable'")
}

func variableNode(t Token) (*Node, error) {
	switch t.Type {
	case TokenTrue, TokenFalse:
		return leaf(RuleBoolean, t), nil
	case TokenString:
		return leaf(RuleString, t), nil
	case TokenInteger:
		return leaf(RuleInteger, t), nil
	case TokenIdent:
		return leaf(RuleGlobal, t), nil
	}
	return nil, errAt(RuleCondition, t.Pos, "expected variable, found %s", t.Type)
}

func (p *parser) parseChoiceDecl(header line) (*Node, error) {
	name := header.Tokens[0]
	decl := &Node{Rule: RuleChoiceDecl, Span: Span{Start: name.Pos}}
	decl.Children = append(decl.Children, leaf(RuleName, name))
	entries, err := parseEntries(header.Tokens[2:])
	if err != nil {
		return nil, err
	}
	for p.pos < len(p.lines) && p.lines[p.pos].Indent > 0 {
		more, err := parseEntries(p.lines[p.pos].Tokens)
		if err != nil {
			return nil, err
		}
		entries = append(entries, more...)
		p.pos++
	}
	decl.Children = append(decl.Children, entries...)
	decl.Span.End = entries[len(entries)-1].Span.End
	return decl, nil
}

func parseEntries(toks []Token) ([]*Node, error) {
	var out []*Node
	for i := 0; i < len(toks); {
		if toks[i].Type == TokenComma && len(out) > 0 {
			i++
			continue
		}
		if i+2 >= len(toks) || toks[i].Type != TokenIdent || toks[i+1].Type != TokenArrow || toks[i+2].Type != TokenString {
			return nil, errAt(RuleChoiceEntry, toks[i].Pos, "expected 'option -> \"text\"'")
		}
		out = append(out, &Node{
			Rule:     RuleChoiceEntry,
			Span:     Span{toks[i].Pos, toks[i+2].End},
			Children: []*Node{leaf(RuleName, toks[i]), leaf(RuleString, toks[i+2])},
		})
		i += 3
	}
	if len(out) == 0 {
		return nil, errAt(RuleChoiceEntry, toks[0].Pos, "expected at least one choice entry")
	}
	return out, nil
}
