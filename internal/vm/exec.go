/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package vm

import (
	"errors"
	"fmt"

	"directscript/internal/ast"
	"directscript/internal/bytecode"
)

var (
	// ErrCorrupt reports an instruction or table index outside the script.
	ErrCorrupt = errors.New("vm: corrupt script or cursor")
	// ErrNoProgress reports a run of control instructions that never reaches
	// an observable step, such as "a: jump a".
	ErrNoProgress = errors.New("vm: no observable step reached")
)

// maxControlSteps bounds the jumps and condition checks one Step may execute.
const maxControlSteps = 1 << 20

// UnboundVariableError is returned when a condition reads a variable the
// environment does not hold. The execution stays on the condition, so the
// host may bind the variable and call Step again.
type UnboundVariableError struct {
	Name string
	PC   int
}

func (e *UnboundVariableError) Error() string {
	return fmt.Sprintf("vm: unbound variable %q at instruction %d", e.Name, e.PC)
}

// Step is one observable effect: *TextStep, *ChoiceStep, *TriggerStep or *EndStep.
type Step interface {
	step()
}

// TextStep shows a line. Speaker is empty for narration. Stops are the rune
// offsets at which the line may pause during staged reveal.
type TextStep struct {
	Speaker string
	Text    string
	Stops   []int
}

// Option is one entry offered by a ChoiceStep.
type Option struct {
	Name string
	Text string
}

// ChoiceStep offers options; the host stores the picked option name into the
// StoreTo variable before stepping again.
type ChoiceStep struct {
	StoreTo string
	Options []Option
}

// TriggerStep asks the host to run a named side effect.
type TriggerStep struct {
	Name string
}

// EndStep terminates the dialogue. Stepping again returns EndStep again.
type EndStep struct{}

func (*TextStep) step()    {}
func (*ChoiceStep) step()  {}
func (*TriggerStep) step() {}
func (*EndStep) step()     {}

// State is the complete mutable state of an Execution.
type State struct {
	PC            int  `json:"pc"`
	LastCondition bool `json:"last_condition"`
}

// Execution is one playthrough of a Script. It is not safe for concurrent use;
// the script it reads may be shared freely.
type Execution struct {
	script *bytecode.Script
	pc     int
	last   bool
}

// Start begins execution at the named label. It reports false when the
// script has no such label.
func Start(script *bytecode.Script, label string) (*Execution, bool) {
	target, ok := script.LabelTarget(ast.Ident(label))
	if !ok {
		return nil, false
	}
	return &Execution{script: script, pc: target}, true
}

// Resume recreates an execution from a saved state.
func Resume(script *bytecode.Script, st State) (*Execution, error) {
	e := &Execution{script: script}
	if err := e.Restore(st); err != nil {
		return nil, err
	}
	return e, nil
}

// Script returns the script being executed.
func (e *Execution) Script() *bytecode.Script { return e.script }

// State snapshots the cursor.
func (e *Execution) State() State { return State{PC: e.pc, LastCondition: e.last} }

// Restore rewinds or advances the cursor to a previous snapshot.
func (e *Execution) Restore(st State) error {
	if st.PC < 0 || st.PC > e.script.Len() {
		return fmt.Errorf("%w: state pc %d", ErrCorrupt, st.PC)
	}
	e.pc, e.last = st.PC, st.LastCondition
	return nil
}

// Done reports whether the cursor rests on End or past the last instruction.
func (e *Execution) Done() bool {
	in, ok := e.script.Instruction(e.pc)
	return !ok || in.Op == bytecode.OpEnd
}

// Step runs control instructions until it reaches an observable effect and
// returns it. Running past the last instruction behaves like End.
func (e *Execution) Step(env Environment) (Step, error) {
	for n := 0; n < maxControlSteps; n++ {
		if e.pc == e.script.Len() {
			return &EndStep{}, nil
		}
		in, ok := e.script.Instruction(e.pc)
		if !ok {
			return nil, fmt.Errorf("%w: pc %d", ErrCorrupt, e.pc)
		}
		switch in.Op {
		case bytecode.OpJump:
			e.pc = int(in.A)
		case bytecode.OpEvalCondition:
			v, err := e.eval(in.Cond, env)
			if err != nil {
				return nil, err
			}
			e.last = v
			e.pc++
		case bytecode.OpIf:
			if e.last {
				e.pc++
			} else {
				e.pc += int(in.A) + 1
			}
		case bytecode.OpText:
			t, ok := e.script.TextAt(in.B)
			if !ok {
				return nil, e.corrupt("text", in.B)
			}
			step := &TextStep{Text: t.Text.String(), Stops: append([]int(nil), t.Stops...)}
			if in.A != 0 {
				sp, ok := e.script.String(in.A)
				if !ok {
					return nil, e.corrupt("speaker", in.A)
				}
				step.Speaker = sp.String()
			}
			e.pc++
			return step, nil
		case bytecode.OpChoice:
			dest, ok := e.script.String(in.A)
			if !ok {
				return nil, e.corrupt("variable", in.A)
			}
			cs, ok := e.script.ChoiceSet(in.B)
			if !ok {
				return nil, e.corrupt("choice set", in.B)
			}
			step := &ChoiceStep{StoreTo: dest.String(), Options: make([]Option, len(cs.Options))}
			for i, o := range cs.Options {
				step.Options[i] = Option{Name: o.Name.String(), Text: o.Text.String()}
			}
			e.pc++
			return step, nil
		case bytecode.OpTrigger:
			name, ok := e.script.String(in.A)
			if !ok {
				return nil, e.corrupt("trigger", in.A)
			}
			e.pc++
			return &TriggerStep{Name: name.String()}, nil
		case bytecode.OpEnd:
			return &EndStep{}, nil
		default:
			return nil, fmt.Errorf("%w: opcode %s at %d", ErrCorrupt, in.Op, e.pc)
		}
	}
	return nil, fmt.Errorf("%w after %d control instructions at pc %d", ErrNoProgress, maxControlSteps, e.pc)
}

func (e *Execution) corrupt(what string, idx uint32) error {
	return fmt.Errorf("%w: %s index %d at pc %d", ErrCorrupt, what, idx, e.pc)
}

func (e *Execution) eval(c bytecode.Condition, env Environment) (bool, error) {
	left, err := e.resolve(c.Left, env)
	if err != nil {
		return false, err
	}
	if c.Cmp == bytecode.CompareNone {
		return left.ToBool(), nil
	}
	right, err := e.resolve(c.Right, env)
	if err != nil {
		return false, err
	}
	if c.Cmp == bytecode.CompareNotEq {
		return !left.Equal(right), nil
	}
	return left.Equal(right), nil
}

func (e *Execution) resolve(o bytecode.Operand, env Environment) (Variant, error) {
	switch o.Kind {
	case bytecode.OperandBool:
		return Bool(o.Bool), nil
	case bytecode.OperandInt:
		return Int(o.Int), nil
	}
	id, ok := e.script.String(o.Index)
	if !ok {
		return Variant{}, e.corrupt("operand", o.Index)
	}
	if o.Kind == bytecode.OperandString {
		return String(id.String()), nil
	}
	var v Variant
	if env != nil {
		v, ok = env.Get(id.String())
	} else {
		ok = false
	}
	if !ok {
		return Variant{}, &UnboundVariableError{Name: id.String(), PC: e.pc}
	}
	return v, nil
}
