/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

// Package session runs a compiled script for a host: it owns one execution,
// its variables and its rewind history, and dispatches each step to callbacks.
package session

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"directscript/internal/bytecode"
	"directscript/internal/history"
	applog "directscript/internal/log"
	"directscript/internal/vm"
)

var (
	ErrNotRunning    = errors.New("session: not running")
	ErrUnknownLabel  = errors.New("session: unknown label")
	ErrChoicePending = errors.New("session: a choice must be made first")
	ErrNoChoice      = errors.New("session: no choice pending")
	ErrUnknownOption = errors.New("session: unknown option")
	ErrNoHistory     = errors.New("session: nothing to go back to")
)

// Handlers receive steps as they are produced. Any of them may be nil.
// They run with the session locked and must not call back into it.
type Handlers struct {
	OnText    func(*vm.TextStep)
	OnChoice  func(*vm.ChoiceStep)
	OnTrigger func(*vm.TriggerStep)
	OnEnd     func()
}

// Options configure a Session.
type Options struct {
	// ID keys the session's entries in History. Defaults to "default".
	ID string
	// History is shared between sessions when set; a private one is used otherwise.
	History  *history.Manager
	Handlers Handlers
	Logger   *slog.Logger
}

// Session is safe for concurrent use.
type Session struct {
	mu      sync.Mutex
	id      string
	script  *bytecode.Script
	env     vm.Environment
	exec    *vm.Execution
	pending vm.Step
	running bool
	// carry is a choice's variable change whose step failed; it rides on the
	// next successful step so Back still undoes it.
	carry    *history.VarChange
	hist     *history.Manager
	handlers Handlers
	log      *slog.Logger
}

// New prepares a session; nothing runs until Start.
func New(script *bytecode.Script, env vm.Environment, opts Options) *Session {
	if env == nil {
		env = vm.MapEnvironment{}
	}
	if opts.ID == "" {
		opts.ID = "default"
	}
	if opts.History == nil {
		opts.History = history.NewManager(history.Config{MaxPerSession: 256})
	}
	l := opts.Logger
	if l == nil {
		l = applog.WithComponent("session")
	}
	return &Session{
		id:       opts.ID,
		script:   script,
		env:      env,
		hist:     opts.History,
		handlers: opts.Handlers,
		log:      l.With(slog.String("session", opts.ID)),
	}
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Script returns the compiled script.
func (s *Session) Script() *bytecode.Script { return s.script }

// Start (re)starts the dialogue at label and produces the first step.
func (s *Session) Start(label string) (vm.Step, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	exec, ok := vm.Start(s.script, label)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownLabel, label)
	}
	s.hist.Clear(s.id)
	s.exec, s.running, s.pending, s.carry = exec, true, nil, nil
	applog.WithOperation(s.log, "start").Debug("dialogue started", slog.String("label", label))
	return s.advanceLocked(nil)
}

// Resume continues a previously saved execution state.
func (s *Session) Resume(st vm.State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	exec, err := vm.Resume(s.script, st)
	if err != nil {
		return err
	}
	s.hist.Clear(s.id)
	s.exec, s.running, s.pending, s.carry = exec, true, nil, nil
	return nil
}

// Next produces the following step. It fails while a choice is pending.
func (s *Session) Next() (vm.Step, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return nil, ErrNotRunning
	}
	if _, ok := s.pending.(*vm.ChoiceStep); ok {
		return nil, ErrChoicePending
	}
	return s.advanceLocked(nil)
}

// Choose answers the pending choice: the option name is stored as a string
// into the choice's destination variable, then the dialogue advances.
func (s *Session) Choose(option string) (vm.Step, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return nil, ErrNotRunning
	}
	cs, ok := s.pending.(*vm.ChoiceStep)
	if !ok {
		return nil, ErrNoChoice
	}
	valid := false
	for _, o := range cs.Options {
		if o.Name == option {
			valid = true
			break
		}
	}
	if !valid {
		return nil, fmt.Errorf("%w: %s", ErrUnknownOption, option)
	}
	prev, had := s.env.Get(cs.StoreTo)
	change := &history.VarChange{Name: cs.StoreTo, Prev: prev, HadPrev: had}
	s.env.Set(cs.StoreTo, vm.String(option))
	s.pending = nil
	applog.WithOperation(s.log, "choose").Debug("option chosen", slog.String("var", cs.StoreTo), slog.String("option", option))
	return s.advanceLocked(change)
}

// Back rewinds to the step shown before the current one, undoing any choice
// made in between, and returns that step again.
func (s *Session) Back() (vm.Step, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.exec == nil {
		return nil, ErrNotRunning
	}
	if s.hist.Len(s.id) < 2 {
		return nil, ErrNoHistory
	}
	s.undoLocked(s.carry)
	s.carry = nil
	cur, _ := s.hist.Pop(s.id)
	s.undoLocked(cur.Change)
	prev, _ := s.hist.Pop(s.id)
	if err := s.exec.Restore(prev.State); err != nil {
		return nil, err
	}
	s.running = true
	return s.advanceLocked(prev.Change)
}

// Bind sets a variable in the session environment.
func (s *Session) Bind(name string, v vm.Variant) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.env.Set(name, v)
}

// Running reports whether the dialogue has started and not yet ended.
func (s *Session) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Pending returns the most recent step, or nil.
func (s *Session) Pending() vm.Step {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending
}

// State returns the execution state for persistence.
func (s *Session) State() (vm.State, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.exec == nil {
		return vm.State{}, false
	}
	return s.exec.State(), true
}

func (s *Session) undoLocked(c *history.VarChange) {
	if c == nil {
		return
	}
	if c.HadPrev {
		s.env.Set(c.Name, c.Prev)
		return
	}
	if u, ok := s.env.(vm.Unsetter); ok {
		u.Unset(c.Name)
	}
}

func (s *Session) advanceLocked(change *history.VarChange) (vm.Step, error) {
	if change == nil {
		change = s.carry
	}
	s.carry = nil
	before := s.exec.State()
	st, err := s.exec.Step(s.env)
	if err != nil {
		s.pending = nil
		s.carry = change
		var ub *vm.UnboundVariableError
		if errors.As(err, &ub) {
			s.log.Warn("unbound variable", slog.String("var", ub.Name), slog.Int("pc", ub.PC))
		} else {
			s.log.Error("step failed", slog.Any("err", err))
		}
		return nil, err
	}
	s.hist.Push(history.Snapshot{Session: s.id, State: before, Change: change})
	s.pending = st
	s.dispatch(st)
	return st, nil
}

func (s *Session) dispatch(st vm.Step) {
	h := s.handlers
	switch st := st.(type) {
	case *vm.TextStep:
		if h.OnText != nil {
			h.OnText(st)
		}
	case *vm.ChoiceStep:
		if h.OnChoice != nil {
			h.OnChoice(st)
		}
	case *vm.TriggerStep:
		if h.OnTrigger != nil {
			h.OnTrigger(st)
		}
	case *vm.EndStep:
		s.running = false
		if h.OnEnd != nil {
			h.OnEnd()
		}
	}
}
