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
	"fmt"
	"unicode/utf8"

	"github.com/fxamacker/cbor/v2"

	"directscript/internal/ast"
)

// Binary format identification.
const (
	WireMagic   = "DRSC"
	WireVersion = 1
)

// ErrInvalidScript is returned when decoded data does not describe a
// well-formed script.
var ErrInvalidScript = errors.New("bytecode: invalid compiled script")

var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("bytecode: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

type wireScript struct {
	Magic   string       `cbor:"1,keyasint"`
	Version int          `cbor:"2,keyasint"`
	Source  string       `cbor:"3,keyasint,omitempty"`
	Code    []wireInstr  `cbor:"4,keyasint"`
	Strings []string     `cbor:"5,keyasint"` // without the sentinel
	Texts   []wireText   `cbor:"6,keyasint"`
	Labels  []wireLabel  `cbor:"7,keyasint"`
	Choices []wireChoice `cbor:"8,keyasint"`
}

type wireInstr struct {
	_    struct{} `cbor:",toarray"`
	Op   uint8
	A    uint32
	B    uint32
	Cond *wireCond
}

type wireCond struct {
	_     struct{} `cbor:",toarray"`
	Cmp   uint8
	Left  wireOperand
	Right wireOperand
}

type wireOperand struct {
	_     struct{} `cbor:",toarray"`
	Kind  uint8
	Index uint32
	Bool  bool
	Int   int32
}

type wireText struct {
	_     struct{} `cbor:",toarray"`
	Text  string
	Stops []int
}

type wireLabel struct {
	_      struct{} `cbor:",toarray"`
	Name   string
	Target int
}

type wireChoice struct {
	_       struct{} `cbor:",toarray"`
	Name    string
	Options [][2]string
}

// MarshalBinary encodes the script as canonical CBOR. Equal scripts encode
// to identical bytes.
func (s *Script) MarshalBinary() ([]byte, error) {
	w := wireScript{Magic: WireMagic, Version: WireVersion, Source: s.source}
	w.Code = make([]wireInstr, len(s.code))
	for i, in := range s.code {
		wi := wireInstr{Op: uint8(in.Op), A: in.A, B: in.B}
		if in.Op == OpEvalCondition {
			wi.Cond = &wireCond{Cmp: uint8(in.Cond.Cmp), Left: toWireOperand(in.Cond.Left), Right: toWireOperand(in.Cond.Right)}
		}
		w.Code[i] = wi
	}
	w.Strings = make([]string, 0, len(s.strings))
	for i := 1; i < len(s.strings); i++ {
		w.Strings = append(w.Strings, s.strings[i].String())
	}
	w.Texts = make([]wireText, len(s.texts))
	for i, t := range s.texts {
		w.Texts[i] = wireText{Text: t.Text.String(), Stops: t.Stops}
	}
	w.Labels = make([]wireLabel, len(s.labels))
	for i, l := range s.labels {
		w.Labels[i] = wireLabel{Name: l.Name.String(), Target: l.Target}
	}
	w.Choices = make([]wireChoice, len(s.choices))
	for i, cs := range s.choices {
		wc := wireChoice{Name: cs.Name.String(), Options: make([][2]string, len(cs.Options))}
		for j, o := range cs.Options {
			wc.Options[j] = [2]string{o.Name.String(), o.Text.String()}
		}
		w.Choices[i] = wc
	}
	return cborEncMode.Marshal(&w)
}

func toWireOperand(o Operand) wireOperand {
	return wireOperand{Kind: uint8(o.Kind), Index: o.Index, Bool: o.Bool, Int: o.Int}
}

// UnmarshalBinary decodes data produced by MarshalBinary into s and checks
// every stored index. On error s is left unchanged.
func (s *Script) UnmarshalBinary(data []byte) error {
	var w wireScript
	if err := cbor.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("bytecode: unmarshal script: %w", err)
	}
	if w.Magic != WireMagic {
		return fmt.Errorf("%w: bad magic %q", ErrInvalidScript, w.Magic)
	}
	if w.Version != WireVersion {
		return fmt.Errorf("%w: unsupported version %d", ErrInvalidScript, w.Version)
	}
	out := Script{source: w.Source}
	out.strings = make([]ast.Identifier, 0, len(w.Strings)+1)
	out.strings = append(out.strings, ast.Ident(Sentinel))
	for _, str := range w.Strings {
		out.strings = append(out.strings, ast.Ident(str))
	}
	for _, t := range w.Texts {
		if len(t.Stops) > MaxStops {
			return fmt.Errorf("%w: text has %d stops", ErrInvalidScript, len(t.Stops))
		}
		if err := checkStops(t.Text, t.Stops); err != nil {
			return err
		}
		out.texts = append(out.texts, TextEntry{Text: ast.NewText(t.Text), Stops: t.Stops})
	}
	for _, c := range w.Choices {
		cs := ChoiceSet{Name: ast.Ident(c.Name)}
		for _, o := range c.Options {
			cs.Options = append(cs.Options, ast.Option{Name: ast.Ident(o[0]), Text: ast.NewText(o[1])})
		}
		out.choices = append(out.choices, cs)
	}
	for _, wi := range w.Code {
		in := Instruction{Op: Opcode(wi.Op), A: wi.A, B: wi.B}
		if wi.Cond != nil {
			in.Cond = Condition{
				Cmp:   Compare(wi.Cond.Cmp),
				Left:  Operand{Kind: OperandKind(wi.Cond.Left.Kind), Index: wi.Cond.Left.Index, Bool: wi.Cond.Left.Bool, Int: wi.Cond.Left.Int},
				Right: Operand{Kind: OperandKind(wi.Cond.Right.Kind), Index: wi.Cond.Right.Index, Bool: wi.Cond.Right.Bool, Int: wi.Cond.Right.Int},
			}
		}
		out.code = append(out.code, in)
	}
	for _, l := range w.Labels {
		out.labels = append(out.labels, LabelEntry{Name: ast.Ident(l.Name), Target: l.Target})
	}
	out.indexLabels()
	if err := out.validate(); err != nil {
		return err
	}
	*s = out
	return nil
}

// checkStops requires offsets within the text's rune count and in
// non-decreasing order. Empty fragments produce equal neighbours.
func checkStops(text string, stops []int) error {
	n, prev := utf8.RuneCountInString(text), 0
	for _, st := range stops {
		if st < prev || st > n {
			return fmt.Errorf("%w: stop %d out of order or past %d runes", ErrInvalidScript, st, n)
		}
		prev = st
	}
	return nil
}

// Decode is a convenience wrapper around UnmarshalBinary.
func Decode(data []byte) (*Script, error) {
	s := new(Script)
	if err := s.UnmarshalBinary(data); err != nil {
		return nil, err
	}
	return s, nil
}

// validate checks that every index stored in the script is in range.
func (s *Script) validate() error {
	n := len(s.code)
	bad := func(format string, args ...any) error {
		return fmt.Errorf("%w: %s", ErrInvalidScript, fmt.Sprintf(format, args...))
	}
	str := func(i uint32) bool { return i > 0 && int(i) < len(s.strings) }
	if len(s.labelIndex) != len(s.labels) {
		return bad("duplicate label")
	}
	for _, l := range s.labels {
		if l.Target < 0 || l.Target > n {
			return bad("label %s targets %d", l.Name, l.Target)
		}
	}
	for i, in := range s.code {
		switch in.Op {
		case OpText:
			if (in.A != 0 && !str(in.A)) || int(in.B) >= len(s.texts) {
				return bad("instruction %d: text operands out of range", i)
			}
		case OpJump:
			if int(in.A) > n {
				return bad("instruction %d: jump target %d", i, in.A)
			}
		case OpChoice:
			if !str(in.A) || int(in.B) >= len(s.choices) {
				return bad("instruction %d: choice operands out of range", i)
			}
		case OpTrigger:
			if !str(in.A) {
				return bad("instruction %d: trigger name out of range", i)
			}
		case OpEnd:
		case OpEvalCondition:
			ops := []Operand{in.Cond.Left}
			if in.Cond.Cmp != CompareNone {
				ops = append(ops, in.Cond.Right)
			}
			if in.Cond.Cmp > CompareNotEq {
				return bad("instruction %d: unknown comparison %d", i, in.Cond.Cmp)
			}
			for _, o := range ops {
				switch o.Kind {
				case OperandGlobal, OperandString:
					if !str(o.Index) {
						return bad("instruction %d: operand index %d", i, o.Index)
					}
				case OperandBool, OperandInt:
				default:
					return bad("instruction %d: unknown operand kind %d", i, o.Kind)
				}
			}
		case OpIf:
			if i+1+int(in.A) > n {
				return bad("instruction %d: skip %d past end", i, in.A)
			}
		default:
			return bad("instruction %d: unknown opcode %s", i, in.Op)
		}
	}
	return nil
}
