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
	"os"
	"path/filepath"
	"testing"
	"time"

	"directscript/internal/domain"
	"directscript/internal/storage"
)

// TestSearchParity_SQLiteVsPG publishes a workspace script to Postgres and
// checks that both search paths agree on kinds, lines and names.
func TestSearchParity_SQLiteVsPG(t *testing.T) {
	db := openPGForTest(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	root := t.TempDir()
	wh, err := storage.InitWorkspace(root, domain.Workspace{Name: "Parity"})
	if err != nil {
		t.Fatalf("init workspace: %v", err)
	}
	name := "parity-" + time.Now().Format("150405.000000")
	ref := domain.ScriptRef{Path: storage.ScriptsDirName + "/" + name + storage.ScriptExt, Entry: "start"}
	if err := os.MkdirAll(filepath.Dir(wh.ScriptPath(ref)), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(wh.ScriptPath(ref), []byte(quiz), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := storage.AddScript(wh, ref); err != nil {
		t.Fatalf("add script: %v", err)
	}
	if _, err := storage.RebuildIndex(ctx, wh); err != nil {
		t.Fatalf("rebuild index: %v", err)
	}

	st := NewPGStore(db)
	t.Cleanup(func() { _, _ = db.Exec(`DELETE FROM scripts WHERE name = $1`, name) })
	if _, err := st.PutScript(ctx, recordFor(t, name, quiz)); err != nil {
		t.Fatalf("publish: %v", err)
	}

	queries := []storage.SearchQuery{
		{Text: "Ready"},
		{Kinds: []string{storage.KindTrigger, storage.KindChoice}},
		{Speaker: "host"},
	}
	for _, q := range queries {
		local := q
		local.Script = ref.Path
		lres, err := storage.Search(ctx, root, local)
		if err != nil {
			t.Fatalf("sqlite search %+v: %v", q, err)
		}
		remote := q
		remote.Script = name
		pres, err := SearchPG(ctx, db, remote)
		if err != nil {
			t.Fatalf("pg search %+v: %v", q, err)
		}
		if len(lres) != len(pres) {
			t.Fatalf("query %+v: sqlite %d rows, pg %d rows", q, len(lres), len(pres))
		}
		for i := range lres {
			if lres[i].Kind != pres[i].Kind || lres[i].Line != pres[i].Line || lres[i].Name != pres[i].Name {
				t.Fatalf("query %+v row %d: sqlite %+v, pg %+v", q, i, lres[i], pres[i])
			}
		}
	}
}
