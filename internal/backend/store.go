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
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"directscript/internal/storage"
)

// ErrNotFound is returned for unknown scripts and sessions.
var ErrNotFound = errors.New("backend: not found")

// ScriptInfo is the listing projection of a published script.
type ScriptInfo struct {
	Name        string    `json:"name"`
	Hash        string    `json:"hash"`
	Version     int64     `json:"version"`
	PublishedBy string    `json:"published_by"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ScriptRecord is a published script: its source, the compiled CBOR blob
// and the symbols extracted at publish time.
type ScriptRecord struct {
	ScriptInfo
	Source  string
	Blob    []byte
	Symbols []storage.Symbol
}

// ScriptStore persists published scripts. Publishing the same source again
// keeps the version; any other change increments it.
type ScriptStore interface {
	Ping(ctx context.Context) error
	ListScripts(ctx context.Context) ([]ScriptInfo, error)
	PutScript(ctx context.Context, rec ScriptRecord) (ScriptInfo, error)
	GetScript(ctx context.Context, name string) (ScriptRecord, error)
	Search(ctx context.Context, q storage.SearchQuery) ([]storage.SearchResult, error)
	RecordSession(ctx context.Context, id, script, subject, label string) error
	EndSession(ctx context.Context, id string) error
}

// PGStore is the Postgres ScriptStore.
type PGStore struct {
	db *sql.DB
}

func NewPGStore(db *sql.DB) *PGStore { return &PGStore{db: db} }

func (s *PGStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *PGStore) ListScripts(ctx context.Context) ([]ScriptInfo, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name, hash, version, published_by, updated_at FROM scripts ORDER BY updated_at DESC, name`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var list []ScriptInfo
	for rows.Next() {
		var si ScriptInfo
		if err := rows.Scan(&si.Name, &si.Hash, &si.Version, &si.PublishedBy, &si.UpdatedAt); err != nil {
			return nil, err
		}
		list = append(list, si)
	}
	return list, rows.Err()
}

const upsertScriptSQL = `INSERT INTO scripts(name, source, hash, blob, published_by) VALUES($1, $2, $3, $4, $5)
ON CONFLICT (name) DO UPDATE SET
	source = EXCLUDED.source,
	blob = EXCLUDED.blob,
	published_by = EXCLUDED.published_by,
	version = CASE WHEN scripts.hash = EXCLUDED.hash THEN scripts.version ELSE scripts.version + 1 END,
	hash = EXCLUDED.hash,
	updated_at = now()
RETURNING id, version, updated_at`

func (s *PGStore) PutScript(ctx context.Context, rec ScriptRecord) (ScriptInfo, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ScriptInfo{}, err
	}
	defer func() { _ = tx.Rollback() }()

	var id int64
	info := rec.ScriptInfo
	if err := tx.QueryRowContext(ctx, upsertScriptSQL, rec.Name, rec.Source, rec.Hash, rec.Blob, rec.PublishedBy).
		Scan(&id, &info.Version, &info.UpdatedAt); err != nil {
		return ScriptInfo{}, fmt.Errorf("upsert script: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM script_symbols WHERE script_id = $1`, id); err != nil {
		return ScriptInfo{}, fmt.Errorf("clear symbols: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO script_symbols(script_id, kind, name, detail, line, pc, text) VALUES($1, $2, $3, $4, $5, $6, $7)`)
	if err != nil {
		return ScriptInfo{}, err
	}
	defer func() { _ = stmt.Close() }()
	for _, sym := range rec.Symbols {
		if _, err := stmt.ExecContext(ctx, id, sym.Kind, sym.Name, sym.Detail, sym.Line, sym.PC, sym.Text); err != nil {
			return ScriptInfo{}, fmt.Errorf("insert symbol: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return ScriptInfo{}, err
	}
	return info, nil
}

func (s *PGStore) GetScript(ctx context.Context, name string) (ScriptRecord, error) {
	var rec ScriptRecord
	row := s.db.QueryRowContext(ctx, `SELECT name, hash, version, published_by, updated_at, source, blob FROM scripts WHERE name = $1`, name)
	switch err := row.Scan(&rec.Name, &rec.Hash, &rec.Version, &rec.PublishedBy, &rec.UpdatedAt, &rec.Source, &rec.Blob); {
	case errors.Is(err, sql.ErrNoRows):
		return ScriptRecord{}, fmt.Errorf("%w: script %s", ErrNotFound, name)
	case err != nil:
		return ScriptRecord{}, err
	}
	return rec, nil
}

func (s *PGStore) Search(ctx context.Context, q storage.SearchQuery) ([]storage.SearchResult, error) {
	return SearchPG(ctx, s.db, q)
}

func (s *PGStore) RecordSession(ctx context.Context, id, script, subject, label string) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO session_log(id, script_id, subject, label) SELECT $1, id, $3, $4 FROM scripts WHERE name = $2`, id, script, subject, label)
	return err
}

func (s *PGStore) EndSession(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE session_log SET ended_at = now() WHERE id = $1 AND ended_at IS NULL`, id)
	return err
}

// MemStore keeps scripts in memory. It backs tests and servers started
// without a database.
type MemStore struct {
	mu       sync.RWMutex
	scripts  map[string]ScriptRecord
	sessions map[string]bool
}

func NewMemStore() *MemStore {
	return &MemStore{scripts: map[string]ScriptRecord{}, sessions: map[string]bool{}}
}

func (m *MemStore) Ping(context.Context) error { return nil }

func (m *MemStore) ListScripts(context.Context) ([]ScriptInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	list := make([]ScriptInfo, 0, len(m.scripts))
	for _, r := range m.scripts {
		list = append(list, r.ScriptInfo)
	}
	sort.Slice(list, func(i, j int) bool {
		if !list[i].UpdatedAt.Equal(list[j].UpdatedAt) {
			return list[i].UpdatedAt.After(list[j].UpdatedAt)
		}
		return list[i].Name < list[j].Name
	})
	return list, nil
}

func (m *MemStore) PutScript(_ context.Context, rec ScriptRecord) (ScriptInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec.Version = 1
	if prev, ok := m.scripts[rec.Name]; ok {
		rec.Version = prev.Version
		if prev.Hash != rec.Hash {
			rec.Version++
		}
	}
	rec.UpdatedAt = time.Now().UTC()
	rec.Symbols = append([]storage.Symbol(nil), rec.Symbols...)
	m.scripts[rec.Name] = rec
	return rec.ScriptInfo, nil
}

func (m *MemStore) GetScript(_ context.Context, name string) (ScriptRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.scripts[name]
	if !ok {
		return ScriptRecord{}, fmt.Errorf("%w: script %s", ErrNotFound, name)
	}
	return rec, nil
}

// Search matches q.Text as a case-insensitive substring of a symbol's name
// or text. Snippets are the whole text.
func (m *MemStore) Search(_ context.Context, q storage.SearchQuery) ([]storage.SearchResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	kinds := map[string]bool{}
	for _, k := range q.Kinds {
		kinds[k] = true
	}
	needle := strings.ToLower(strings.TrimSpace(q.Text))
	var out []storage.SearchResult
	for _, rec := range m.scripts {
		if q.Script != "" && rec.Name != q.Script {
			continue
		}
		for i, sym := range rec.Symbols {
			if len(kinds) > 0 && !kinds[sym.Kind] {
				continue
			}
			if q.Speaker != "" && (sym.Kind != storage.KindDialog || !strings.EqualFold(sym.Detail, q.Speaker)) {
				continue
			}
			if needle != "" && !strings.Contains(strings.ToLower(sym.Name+" "+sym.Text), needle) {
				continue
			}
			out = append(out, storage.SearchResult{
				ID: int64(i + 1), Kind: sym.Kind, Script: rec.Name, Name: sym.Name,
				Detail: sym.Detail, Line: sym.Line, PC: sym.PC, Snippet: sym.Text,
			})
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Script != out[j].Script {
			return out[i].Script < out[j].Script
		}
		if out[i].Line != out[j].Line {
			return out[i].Line < out[j].Line
		}
		return out[i].ID < out[j].ID
	})
	return page(out, q.Limit, q.Offset), nil
}

func page(rs []storage.SearchResult, limit, offset int) []storage.SearchResult {
	if limit <= 0 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	if offset >= len(rs) {
		return nil
	}
	rs = rs[offset:]
	if len(rs) > limit {
		rs = rs[:limit]
	}
	return rs
}

func (m *MemStore) RecordSession(_ context.Context, id, script, _, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.scripts[script]; !ok {
		return fmt.Errorf("%w: script %s", ErrNotFound, script)
	}
	m.sessions[id] = true
	return nil
}

func (m *MemStore) EndSession(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[id] = false
	return nil
}
