/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package vm

import (
	"encoding/json"
	"errors"
	"reflect"
	"testing"

	"directscript/internal/ast"
	"directscript/internal/bytecode"
)

func compile(t *testing.T, src string) *bytecode.Script {
	t.Helper()
	tree, err := ast.Parse(src)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	s, err := bytecode.Compile(tree)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	return s
}

func start(t *testing.T, s *bytecode.Script, label string) *Execution {
	t.Helper()
	e, ok := Start(s, label)
	if !ok {
		t.Fatalf("label %q not found", label)
	}
	return e
}

func step(t *testing.T, e *Execution, env Environment) Step {
	t.Helper()
	st, err := e.Step(env)
	if err != nil {
		t.Fatalf("step: %v", err)
	}
	return st
}

func TestTruthiness(t *testing.T) {
	cases := []struct {
		v    Variant
		want bool
	}{
		{Bool(false), false},
		{Bool(true), true},
		{String(""), false},
		{String("x"), true},
		{Int(0), false},
		{Int(-1), true},
		{Variant{}, false},
	}
	for _, tc := range cases {
		if got := tc.v.ToBool(); got != tc.want {
			t.Fatalf("%s(%v).ToBool() = %v, want %v", tc.v.Kind(), tc.v, got, tc.want)
		}
	}
}

func TestEqualityRequiresSameKind(t *testing.T) {
	if Int(1).Equal(String("1")) || Bool(true).Equal(Int(1)) {
		t.Fatalf("values of different kinds must not compare equal")
	}
	if !String("a").Equal(String("a")) || Int(7).Equal(Int(8)) {
		t.Fatalf("same-kind comparison broken")
	}
}

func TestScenarioA(t *testing.T) {
	s := compile(t, "label:\n  who->\"Hello!\"\n  jump doom\n  end\ndoom:\n  end\n")
	e := start(t, s, "label")
	got := step(t, e, MapEnvironment{})
	want := &TextStep{Speaker: "who", Text: "Hello!", Stops: []int{}}
	if ts, ok := got.(*TextStep); !ok || ts.Speaker != want.Speaker || ts.Text != want.Text || len(ts.Stops) != 0 {
		t.Fatalf("step 1 = %#v, want %#v", got, want)
	}
	if _, ok := step(t, e, MapEnvironment{}).(*EndStep); !ok {
		t.Fatalf("step 2 should be End")
	}
	if _, ok := step(t, e, MapEnvironment{}).(*EndStep); !ok {
		t.Fatalf("End must be idempotent")
	}
	if !e.Done() {
		t.Fatalf("Done() = false after End")
	}
}

func TestScenarioB(t *testing.T) {
	s := compile(t, "gate:\n  if (ready == true): trigger open else: trigger closed\n  end\n")
	for _, tc := range []struct {
		ready bool
		want  string
	}{{true, "open"}, {false, "closed"}} {
		e := start(t, s, "gate")
		env := MapEnvironment{"ready": Bool(tc.ready)}
		var triggers []string
		for {
			st := step(t, e, env)
			if tr, ok := st.(*TriggerStep); ok {
				triggers = append(triggers, tr.Name)
				continue
			}
			if _, ok := st.(*EndStep); ok {
				break
			}
			t.Fatalf("unexpected step %#v", st)
		}
		if !reflect.DeepEqual(triggers, []string{tc.want}) {
			t.Fatalf("ready=%v: triggers = %v, want [%s]", tc.ready, triggers, tc.want)
		}
	}
}

func TestIfWithoutElseSkipsWholeBody(t *testing.T) {
	s := compile(t, "a:\n  if (n != 0):\n    \"one\"\n    \"two\"\n  \"after\"\n  end\n")
	e := start(t, s, "a")
	st := step(t, e, MapEnvironment{"n": Int(0)})
	if ts, ok := st.(*TextStep); !ok || ts.Text != "after" {
		t.Fatalf("false branch landed on %#v, want text \"after\"", st)
	}
}

func TestChoiceRoundTrip(t *testing.T) {
	s := compile(t, "pick:\n  choice answer ab\n  if (answer == \"b\"): \"Bee\" else: \"Ay\"\n  end\nab: a -> \"A\", b -> \"B\"\n")
	e := start(t, s, "pick")
	env := MapEnvironment{}
	st := step(t, e, env)
	cs, ok := st.(*ChoiceStep)
	if !ok {
		t.Fatalf("expected choice, got %#v", st)
	}
	want := []Option{{"a", "A"}, {"b", "B"}}
	if cs.StoreTo != "answer" || !reflect.DeepEqual(cs.Options, want) {
		t.Fatalf("choice = %+v, want answer %v", cs, want)
	}
	env.Set(cs.StoreTo, String("b"))
	if ts, ok := step(t, e, env).(*TextStep); !ok || ts.Text != "Bee" {
		t.Fatalf("expected Bee after picking b")
	}
}

func TestUnboundVariableCanBeRetried(t *testing.T) {
	s := compile(t, "a:\n  if (flag): \"yes\" else: \"no\"\n")
	e := start(t, s, "a")
	env := MapEnvironment{}
	_, err := e.Step(env)
	var ub *UnboundVariableError
	if !errors.As(err, &ub) || ub.Name != "flag" {
		t.Fatalf("expected unbound flag, got %v", err)
	}
	env.Set("flag", String("set"))
	if ts, ok := step(t, e, env).(*TextStep); !ok || ts.Text != "yes" {
		t.Fatalf("retry after binding should take the then branch")
	}
}

func TestStartUnknownLabel(t *testing.T) {
	s := compile(t, "a:\n  end\n")
	if _, ok := Start(s, "b"); ok {
		t.Fatalf("Start should report a missing label")
	}
}

func TestRunningOffTheEndActsAsEnd(t *testing.T) {
	s := compile(t, "a:\n  \"only\"\n")
	e := start(t, s, "a")
	step(t, e, nil)
	if _, ok := step(t, e, nil).(*EndStep); !ok {
		t.Fatalf("expected End past the last instruction")
	}
}

func TestInfiniteJumpIsReported(t *testing.T) {
	s := compile(t, "a:\n  jump a\n")
	e := start(t, s, "a")
	if _, err := e.Step(nil); !errors.Is(err, ErrNoProgress) {
		t.Fatalf("expected ErrNoProgress, got %v", err)
	}
}

func TestStateRestore(t *testing.T) {
	s := compile(t, "a:\n  \"one\"\n  \"two\"\n  end\n")
	e := start(t, s, "a")
	saved := e.State()
	step(t, e, nil)
	if err := e.Restore(saved); err != nil {
		t.Fatalf("restore: %v", err)
	}
	if ts := step(t, e, nil).(*TextStep); ts.Text != "one" {
		t.Fatalf("after restore got %q, want one", ts.Text)
	}
	if err := e.Restore(State{PC: 99}); !errors.Is(err, ErrCorrupt) {
		t.Fatalf("expected ErrCorrupt for out-of-range state, got %v", err)
	}
	r, err := Resume(s, State{PC: 2})
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if _, ok := step(t, r, nil).(*EndStep); !ok {
		t.Fatalf("resumed execution should be at End")
	}
}

func TestSharedScriptIndependentExecutions(t *testing.T) {
	s := compile(t, "a:\n  \"one\"\n  \"two\"\n  end\n")
	e1 := start(t, s, "a")
	e2 := start(t, s, "a")
	step(t, e1, nil)
	if ts := step(t, e2, nil).(*TextStep); ts.Text != "one" {
		t.Fatalf("second execution affected by the first")
	}
}

func TestDecodedScriptBehavesTheSame(t *testing.T) {
	s := compile(t, "gate:\n  if (ready): trigger open else: trigger closed\n")
	data, err := s.MarshalBinary()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	back, err := bytecode.Decode(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	e := start(t, back, "gate")
	if tr := step(t, e, MapEnvironment{"ready": Int(0)}).(*TriggerStep); tr.Name != "closed" {
		t.Fatalf("trigger = %q, want closed", tr.Name)
	}
}

func TestVariantJSON(t *testing.T) {
	in := map[string]Variant{"s": String("x"), "i": Int(-4), "b": Bool(true)}
	data, err := json.Marshal(in)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var out map[string]Variant
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !reflect.DeepEqual(in, out) {
		t.Fatalf("round trip = %v, want %v", out, in)
	}
	var v Variant
	if err := json.Unmarshal([]byte("1.5"), &v); err == nil {
		t.Fatalf("expected error for non-integer number")
	}
}
