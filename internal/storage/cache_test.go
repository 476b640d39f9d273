/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package storage

import (
	"bytes"
	"context"
	"testing"
)

func TestCompileCachedHitAndMiss(t *testing.T) {
	db, err := InitOrOpenIndex(t.TempDir())
	if err != nil {
		t.Fatalf("InitOrOpenIndex: %v", err)
	}
	defer db.Close()
	ctx := context.Background()

	first, hit, err := CompileCached(ctx, db, "shop.drs", shopScript)
	if err != nil || hit {
		t.Fatalf("first compile: hit=%v err=%v", hit, err)
	}
	second, hit, err := CompileCached(ctx, db, "copy.drs", shopScript)
	if err != nil || !hit {
		t.Fatalf("second compile: hit=%v err=%v", hit, err)
	}
	if second.Source() != "copy.drs" {
		t.Fatalf("Source() = %q, want copy.drs", second.Source())
	}
	var a, b bytes.Buffer
	if err := first.Disassemble(&a); err != nil {
		t.Fatal(err)
	}
	if err := second.Disassemble(&b); err != nil {
		t.Fatal(err)
	}
	if a.String() != b.String() {
		t.Fatalf("cached script differs:\n%s\n---\n%s", a.String(), b.String())
	}
	if n, _, err := CacheStats(ctx, db); err != nil || n != 1 {
		t.Fatalf("CacheStats entries = %d, %v", n, err)
	}
	if _, _, err := CompileCached(ctx, db, "bad.drs", "start:\n  jump nowhere\n"); err == nil {
		t.Fatalf("expected compile error")
	}
}

func TestLoadCompiledDropsUndecodableEntry(t *testing.T) {
	db, err := InitOrOpenIndex(t.TempDir())
	if err != nil {
		t.Fatalf("InitOrOpenIndex: %v", err)
	}
	defer db.Close()
	ctx := context.Background()
	hash := SourceHash(shopScript)
	if _, err := db.ExecContext(ctx, upsertCompiledSQL, hash, "shop.drs", []byte("garbage"), 7, nowStamp(), nowStamp()); err != nil {
		t.Fatal(err)
	}
	if _, ok, err := LoadCompiled(ctx, db, hash); ok || err != nil {
		t.Fatalf("LoadCompiled on garbage = %v, %v; want miss", ok, err)
	}
	if n, _, _ := CacheStats(ctx, db); n != 0 {
		t.Fatalf("garbage entry not dropped, %d entries", n)
	}
}

func TestPruneCompiledEvictsOldest(t *testing.T) {
	db, err := InitOrOpenIndex(t.TempDir())
	if err != nil {
		t.Fatalf("InitOrOpenIndex: %v", err)
	}
	defer db.Close()
	ctx := context.Background()
	srcs := []string{"a:\n  end\n", "b:\n  \"hi\"\n", "c:\n  trigger x\n"}
	for _, s := range srcs {
		if _, _, err := CompileCached(ctx, db, "x.drs", s); err != nil {
			t.Fatalf("CompileCached: %v", err)
		}
	}
	// touch the first entry so the second becomes the least recently used
	if _, ok, _ := LoadCompiled(ctx, db, SourceHash(srcs[0])); !ok {
		t.Fatalf("expected cached entry")
	}
	_, total, err := CacheStats(ctx, db)
	if err != nil {
		t.Fatal(err)
	}
	n, err := PruneCompiled(ctx, db, total-1)
	if err != nil || n != 1 {
		t.Fatalf("PruneCompiled = %d, %v; want 1 eviction", n, err)
	}
	if _, ok, _ := LoadCompiled(ctx, db, SourceHash(srcs[1])); ok {
		t.Fatalf("least recently used entry survived")
	}
	if _, ok, _ := LoadCompiled(ctx, db, SourceHash(srcs[0])); !ok {
		t.Fatalf("recently used entry was evicted")
	}
	if n, err := PruneCompiled(ctx, db, 1<<20); err != nil || n != 0 {
		t.Fatalf("second prune = %d, %v", n, err)
	}
	if SourceHash("a") == SourceHash("b") {
		t.Fatalf("hash collision")
	}
}
