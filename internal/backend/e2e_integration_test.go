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
	"os"
	"testing"
	"time"

	"directscript/internal/ast"
	"directscript/internal/bytecode"
	"directscript/internal/storage"
)

func openPGForTest(t *testing.T) *sql.DB {
	t.Helper()
	dsn := os.Getenv("DRS_PG_DSN")
	if dsn == "" {
		dsn = os.Getenv("DATABASE_URL")
	}
	if dsn == "" {
		t.Skip("DRS_PG_DSN not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	db, err := OpenDB(ctx, dsn)
	if err != nil {
		t.Skipf("postgres not available: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func recordFor(t *testing.T, name, src string) ScriptRecord {
	t.Helper()
	tree, err := ast.Parse(src)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	script, err := bytecode.Compile(tree)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	blob, err := script.MarshalBinary()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return ScriptRecord{
		ScriptInfo: ScriptInfo{Name: name, Hash: storage.SourceHash(src), PublishedBy: "e2e"},
		Source:     src,
		Blob:       blob,
		Symbols:    storage.Symbols(name, tree, script),
	}
}

func TestE2E_PGStorePublishAndSession(t *testing.T) {
	db := openPGForTest(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	st := NewPGStore(db)
	name := "e2e-" + time.Now().Format("150405.000000")
	t.Cleanup(func() { _, _ = db.Exec(`DELETE FROM scripts WHERE name = $1`, name) })

	info, err := st.PutScript(ctx, recordFor(t, name, quiz))
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if info.Version != 1 {
		t.Fatalf("version = %d, want 1", info.Version)
	}
	if info, err = st.PutScript(ctx, recordFor(t, name, quiz)); err != nil || info.Version != 1 {
		t.Fatalf("republish = %+v, %v", info, err)
	}
	if info, err = st.PutScript(ctx, recordFor(t, name, quiz+"\nextra:\n  end\n")); err != nil || info.Version != 2 {
		t.Fatalf("changed publish = %+v, %v", info, err)
	}

	rec, err := st.GetScript(ctx, name)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	script, err := bytecode.Decode(rec.Blob)
	if err != nil {
		t.Fatalf("decode stored blob: %v", err)
	}
	if len(script.Labels()) != 2 {
		t.Fatalf("labels = %d, want 2", len(script.Labels()))
	}

	if err := st.RecordSession(ctx, name+"-s1", name, "e2e", "start"); err != nil {
		t.Fatalf("record session: %v", err)
	}
	if err := st.EndSession(ctx, name+"-s1"); err != nil {
		t.Fatalf("end session: %v", err)
	}
	var ended sql.NullTime
	if err := db.QueryRowContext(ctx, `SELECT ended_at FROM session_log WHERE id = $1`, name+"-s1").Scan(&ended); err != nil {
		t.Fatalf("select session_log: %v", err)
	}
	if !ended.Valid {
		t.Fatalf("session end not recorded")
	}
}
