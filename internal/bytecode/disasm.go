/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package bytecode

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Disassemble writes a human-readable listing of the script to w.
func (s *Script) Disassemble(w io.Writer) error {
	bw := bufio.NewWriter(w)
	if s.source != "" {
		fmt.Fprintf(bw, "; source: %s\n", s.source)
	}
	fmt.Fprintf(bw, "; %d instructions, %d strings, %d texts, %d labels, %d choice sets\n\n",
		len(s.code), max(len(s.strings)-1, 0), len(s.texts), len(s.labels), len(s.choices))

	if len(s.strings) > 1 {
		bw.WriteString("; Strings:\n")
		for i := 1; i < len(s.strings); i++ {
			fmt.Fprintf(bw, ";   [%3d] %s\n", i, s.strings[i])
		}
		bw.WriteString("\n")
	}
	if len(s.texts) > 0 {
		bw.WriteString("; Texts:\n")
		for i, t := range s.texts {
			fmt.Fprintf(bw, ";   [%3d] %s", i, shorten(t.Text.String()))
			if len(t.Stops) > 0 {
				fmt.Fprintf(bw, " stops=%v", t.Stops)
			}
			bw.WriteString("\n")
		}
		bw.WriteString("\n")
	}
	if len(s.choices) > 0 {
		bw.WriteString("; Choice sets:\n")
		for i, cs := range s.choices {
			opts := make([]string, len(cs.Options))
			for j, o := range cs.Options {
				opts[j] = o.Name.String() + "=" + shorten(o.Text.String())
			}
			fmt.Fprintf(bw, ";   [%3d] %s: %s\n", i, cs.Name, strings.Join(opts, ", "))
		}
		bw.WriteString("\n")
	}

	at := make(map[int][]string)
	for _, l := range s.labels {
		at[l.Target] = append(at[l.Target], l.Name.String())
	}
	for i, in := range s.code {
		for _, name := range at[i] {
			fmt.Fprintf(bw, "%s:\n", name)
		}
		fmt.Fprintf(bw, "%04d  %-8s %s\n", i, in.Op, s.operands(i, in))
	}
	for _, name := range at[len(s.code)] {
		fmt.Fprintf(bw, "%s:\n", name)
	}
	return bw.Flush()
}

func (s *Script) operands(pc int, in Instruction) string {
	switch in.Op {
	case OpText:
		text := "?"
		if t, ok := s.TextAt(in.B); ok {
			text = shorten(t.Text.String())
		}
		if sp, ok := s.String(in.A); ok {
			return sp.String() + " " + text
		}
		return text
	case OpJump:
		return fmt.Sprintf("-> %04d", in.A)
	case OpChoice:
		set := "?"
		if cs, ok := s.ChoiceSet(in.B); ok {
			set = cs.Name.String()
		}
		return fmt.Sprintf("%s <- %s", s.name(in.A), set)
	case OpTrigger:
		return s.name(in.A)
	case OpEvalCondition:
		c := in.Cond
		switch c.Cmp {
		case CompareEq:
			return s.operand(c.Left) + " == " + s.operand(c.Right)
		case CompareNotEq:
			return s.operand(c.Left) + " != " + s.operand(c.Right)
		}
		return s.operand(c.Left)
	case OpIf:
		return fmt.Sprintf("+%d (else -> %04d)", in.A, pc+int(in.A)+1)
	}
	return ""
}

func (s *Script) name(i uint32) string {
	if id, ok := s.String(i); ok {
		return id.String()
	}
	return fmt.Sprintf("<bad string %d>", i)
}

func (s *Script) operand(o Operand) string {
	switch o.Kind {
	case OperandGlobal:
		return s.name(o.Index)
	case OperandString:
		return strconv.Quote(s.name(o.Index))
	case OperandInt:
		return strconv.Itoa(int(o.Int))
	}
	return strconv.FormatBool(o.Bool)
}

// shorten quotes s, truncating long texts for readability.
func shorten(s string) string {
	r := []rune(s)
	if len(r) > 40 {
		s = string(r[:37]) + "..."
	}
	return strconv.Quote(s)
}
