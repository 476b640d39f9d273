/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package backend

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"directscript/internal/history"
	"directscript/internal/session"
	"directscript/internal/vm"
)

var errTooManySessions = errors.New("backend: too many open sessions")

// StepView is the JSON form of a vm.Step.
type StepView struct {
	Type    string       `json:"type"` // text, choice, trigger or end
	Speaker string       `json:"speaker,omitempty"`
	Text    string       `json:"text,omitempty"`
	Stops   []int        `json:"stops,omitempty"`
	StoreTo string       `json:"store_to,omitempty"`
	Options []OptionView `json:"options,omitempty"`
	Trigger string       `json:"trigger,omitempty"`
}

type OptionView struct {
	Name string `json:"name"`
	Text string `json:"text"`
}

func stepView(st vm.Step) *StepView {
	switch st := st.(type) {
	case *vm.TextStep:
		return &StepView{Type: "text", Speaker: st.Speaker, Text: st.Text, Stops: st.Stops}
	case *vm.ChoiceStep:
		v := &StepView{Type: "choice", StoreTo: st.StoreTo}
		for _, o := range st.Options {
			v.Options = append(v.Options, OptionView{Name: o.Name, Text: o.Text})
		}
		return v
	case *vm.TriggerStep:
		return &StepView{Type: "trigger", Trigger: st.Name}
	case *vm.EndStep:
		return &StepView{Type: "end"}
	}
	return nil
}

// SessionView is returned by every session endpoint. Unbound names the
// variable a condition is waiting for; bind it and step again.
type SessionView struct {
	ID      string    `json:"id"`
	Script  string    `json:"script"`
	Running bool      `json:"running"`
	Steps   int       `json:"steps"`
	Step    *StepView `json:"step,omitempty"`
	Unbound string    `json:"unbound,omitempty"`
	Error   string    `json:"error,omitempty"`
}

type playSession struct {
	mu      sync.Mutex // serializes requests on one session
	id      string
	script  string
	subject string
	sess    *session.Session
	steps   int
	touched time.Time
}

func (p *playSession) view() SessionView {
	return SessionView{ID: p.id, Script: p.script, Running: p.sess.Running(), Steps: p.steps, Step: stepView(p.sess.Pending())}
}

// registry holds the open play sessions of one server. Rewind history is
// shared and capped per session.
type registry struct {
	mu   sync.Mutex
	m    map[string]*playSession
	hist *history.Manager
	ttl  time.Duration
	max  int
}

func newRegistry(ttl time.Duration, max, depth int) *registry {
	return &registry{
		m:    map[string]*playSession{},
		hist: history.NewManager(history.Config{MaxPerSession: depth}),
		ttl:  ttl,
		max:  max,
	}
}

func (r *registry) add(p *playSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.max > 0 && len(r.m) >= r.max {
		return errTooManySessions
	}
	p.touched = time.Now()
	r.m[p.id] = p
	return nil
}

// get returns the session when it exists and belongs to subject.
func (r *registry) get(id, subject string) (*playSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.m[id]
	if !ok || p.subject != subject {
		return nil, fmt.Errorf("%w: session %s", ErrNotFound, id)
	}
	p.touched = time.Now()
	return p, nil
}

func (r *registry) remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.m, id)
	r.hist.Clear(id)
}

// expire drops sessions idle for longer than the ttl and returns their ids.
func (r *registry) expire(now time.Time) []string {
	if r.ttl <= 0 {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	var ids []string
	for id, p := range r.m {
		if now.Sub(p.touched) > r.ttl {
			ids = append(ids, id)
			delete(r.m, id)
			r.hist.Clear(id)
		}
	}
	return ids
}

func (r *registry) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.m)
}

func newSessionID() (string, error) {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", err
	}
	return hex.EncodeToString(b[:]), nil
}
