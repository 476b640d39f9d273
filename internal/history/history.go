/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

// Package history keeps rewind stacks of execution snapshots per play session.
package history

import (
	"sync"
	"time"

	"directscript/internal/vm"
)

// VarChange records the value a variable held before a choice overwrote it.
type VarChange struct {
	Name    string
	Prev    vm.Variant
	HadPrev bool
}

// Snapshot is the execution state captured right before one observable step.
// Change is set when the step followed a choice.
type Snapshot struct {
	Session string
	State   vm.State
	Change  *VarChange
	TS      time.Time
}

// Config controls depth caps.
type Config struct {
	// MaxPerSession limits snapshots kept per session (0 means unlimited).
	MaxPerSession int
	// MaxTotal is a soft cap across all sessions; the oldest entries are
	// pruned first when exceeded.
	MaxTotal int
}

// Manager provides an in-memory rewind stack per session.
// It is safe for concurrent use.
type Manager struct {
	cfg   Config
	mu    sync.Mutex
	back  map[string][]Snapshot
	total int
}

func NewManager(cfg Config) *Manager {
	if cfg.MaxTotal <= 0 {
		cfg.MaxTotal = 100_000
	}
	return &Manager{cfg: cfg, back: make(map[string][]Snapshot)}
}

// Push records a snapshot for its session.
func (m *Manager) Push(s Snapshot) {
	if s.TS.IsZero() {
		s.TS = time.Now()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.back[s.Session] = append(m.back[s.Session], s)
	m.total++
	m.enforceCapsLocked(s.Session)
}

// Pop removes and returns the newest snapshot of a session.
func (m *Manager) Pop(session string) (Snapshot, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stack := m.back[session]
	if len(stack) == 0 {
		return Snapshot{}, false
	}
	s := stack[len(stack)-1]
	m.back[session] = stack[:len(stack)-1]
	m.total--
	return s, true
}

// Len returns the number of snapshots held for a session.
func (m *Manager) Len(session string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.back[session])
}

// Clear drops a session's stack.
func (m *Manager) Clear(session string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.total -= len(m.back[session])
	delete(m.back, session)
}

// Stats returns current sizes for diagnostics.
func (m *Manager) Stats() (sessions int, totalSnapshots int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.back), m.total
}

func (m *Manager) enforceCapsLocked(session string) {
	if m.cfg.MaxPerSession > 0 {
		stack := m.back[session]
		if len(stack) > m.cfg.MaxPerSession {
			toDrop := len(stack) - m.cfg.MaxPerSession
			m.total -= toDrop
			m.back[session] = append([]Snapshot{}, stack[toDrop:]...)
		}
	}
	for m.total > m.cfg.MaxTotal {
		oldest := ""
		var oldestTS time.Time
		found := false
		for id, stack := range m.back {
			if len(stack) == 0 {
				continue
			}
			if !found || stack[0].TS.Before(oldestTS) {
				oldest, oldestTS, found = id, stack[0].TS, true
			}
		}
		if !found {
			break
		}
		m.back[oldest] = m.back[oldest][1:]
		m.total--
		if len(m.back[oldest]) == 0 {
			delete(m.back, oldest)
		}
	}
}
