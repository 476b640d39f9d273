/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package storage

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"time"

	"directscript/internal/ast"
	"directscript/internal/bytecode"
)

// SourceHash keys the compiled cache. The wire version is mixed in so a format
// bump invalidates every entry.
func SourceHash(source string) string {
	h := sha256.New()
	h.Write([]byte("drsc/" + strconv.Itoa(bytecode.WireVersion) + "\n"))
	h.Write([]byte(source))
	return hex.EncodeToString(h.Sum(nil))
}

// language=SQL
// dialect=SQLite
const selectCompiledSQL = `SELECT blob FROM compiled_cache WHERE hash=?`

// language=SQL
// dialect=SQLite
const upsertCompiledSQL = `INSERT INTO compiled_cache(hash, path, blob, size, updated_at, last_access)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(hash) DO UPDATE SET path=excluded.path, blob=excluded.blob, size=excluded.size,
	updated_at=excluded.updated_at, last_access=excluded.last_access`

// LoadCompiled returns the cached script for hash. An entry that no longer
// decodes is dropped and reported as a miss.
func LoadCompiled(ctx context.Context, db *sql.DB, hash string) (*bytecode.Script, bool, error) {
	var blob []byte
	err := db.QueryRowContext(ctx, selectCompiledSQL, hash).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("load compiled: %w", err)
	}
	s, err := bytecode.Decode(blob)
	if err != nil {
		_, _ = db.ExecContext(ctx, `DELETE FROM compiled_cache WHERE hash=?`, hash)
		return nil, false, nil
	}
	_, _ = db.ExecContext(ctx, `UPDATE compiled_cache SET last_access=? WHERE hash=?`, nowStamp(), hash)
	return s, true, nil
}

// StoreCompiled writes script under hash.
func StoreCompiled(ctx context.Context, db *sql.DB, hash, path string, script *bytecode.Script) error {
	blob, err := script.MarshalBinary()
	if err != nil {
		return fmt.Errorf("encode compiled: %w", err)
	}
	now := nowStamp()
	if _, err := db.ExecContext(ctx, upsertCompiledSQL, hash, path, blob, len(blob), now, now); err != nil {
		return fmt.Errorf("store compiled: %w", err)
	}
	return nil
}

// CompileCached returns the compiled form of source, compiling and caching it
// on a miss. hit reports whether the cache served the request.
func CompileCached(ctx context.Context, db *sql.DB, path, source string) (script *bytecode.Script, hit bool, err error) {
	hash := SourceHash(source)
	if s, ok, err := LoadCompiled(ctx, db, hash); err != nil {
		return nil, false, err
	} else if ok {
		return s.WithSource(path), true, nil
	}
	s, err := bytecode.CompileSource(source, path)
	if err != nil {
		return nil, false, err
	}
	if err := StoreCompiled(ctx, db, hash, path, s); err != nil {
		return nil, false, err
	}
	return s, false, nil
}

// compileTreeCached is CompileCached for callers that already hold the tree.
func compileTreeCached(ctx context.Context, db *sql.DB, path, source string, tree *ast.Tree) (*bytecode.Script, bool, error) {
	hash := SourceHash(source)
	if s, ok, err := LoadCompiled(ctx, db, hash); err != nil {
		return nil, false, err
	} else if ok {
		return s.WithSource(path), true, nil
	}
	s, err := bytecode.Compile(tree)
	if err != nil {
		return nil, false, err
	}
	s = s.WithSource(path)
	if err := StoreCompiled(ctx, db, hash, path, s); err != nil {
		return nil, false, err
	}
	return s, false, nil
}

// CacheStats reports the number of cached scripts and their total encoded size.
func CacheStats(ctx context.Context, db *sql.DB) (entries int, bytes int64, err error) {
	err = db.QueryRowContext(ctx, `SELECT COUNT(*), COALESCE(SUM(size),0) FROM compiled_cache`).Scan(&entries, &bytes)
	return entries, bytes, err
}

// PruneCompiled evicts least recently used entries until the cache holds at
// most maxBytes. It returns the number of evicted entries.
func PruneCompiled(ctx context.Context, db *sql.DB, maxBytes int64) (int, error) {
	_, total, err := CacheStats(ctx, db)
	if err != nil {
		return 0, err
	}
	if total <= maxBytes {
		return 0, nil
	}
	rows, err := db.QueryContext(ctx, `SELECT hash, size FROM compiled_cache ORDER BY last_access ASC, hash ASC`)
	if err != nil {
		return 0, fmt.Errorf("list compiled: %w", err)
	}
	var victims []string
	for rows.Next() && total > maxBytes {
		var h string
		var size int64
		if err := rows.Scan(&h, &size); err != nil {
			_ = rows.Close()
			return 0, err
		}
		victims = append(victims, h)
		total -= size
	}
	if err := rows.Close(); err != nil {
		return 0, err
	}
	for _, h := range victims {
		if _, err := db.ExecContext(ctx, `DELETE FROM compiled_cache WHERE hash=?`, h); err != nil {
			return 0, fmt.Errorf("evict compiled: %w", err)
		}
	}
	return len(victims), nil
}

// stampLayout is fixed width so stored timestamps sort as text.
const stampLayout = "2006-01-02T15:04:05.000000000Z07:00"

func nowStamp() string { return time.Now().UTC().Format(stampLayout) }
