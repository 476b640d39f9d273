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
	"fmt"
	"strings"

	"directscript/internal/storage"
)

// SearchPG runs a storage.SearchQuery over the published script_symbols
// table using tsvector matching, so results line up with the local index.
// q.Script filters by published script name.
func SearchPG(ctx context.Context, db *sql.DB, q storage.SearchQuery) ([]storage.SearchResult, error) {
	var (
		args []any
		b    strings.Builder
	)
	// Helper to add parameter and return placeholder like $n
	place := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	b.WriteString("SELECT y.id, y.kind, s.name, y.name, y.detail, y.line, y.pc, ")
	if text := strings.TrimSpace(q.Text); text != "" {
		tq := place(text)
		b.WriteString("COALESCE(ts_headline('simple', y.text, plainto_tsquery('simple', " + tq + "), 'StartSel=[, StopSel=], MaxFragments=1, MaxWords=10'), '') ")
		b.WriteString("FROM script_symbols y JOIN scripts s ON s.id = y.script_id ")
		b.WriteString("WHERE y.search_vector @@ plainto_tsquery('simple', " + tq + ") ")
	} else {
		b.WriteString("y.text FROM script_symbols y JOIN scripts s ON s.id = y.script_id WHERE TRUE ")
	}
	if len(q.Kinds) > 0 {
		b.WriteString(" AND y.kind = ANY (" + place(q.Kinds) + ") ")
	}
	if s := strings.TrimSpace(q.Script); s != "" {
		b.WriteString(" AND s.name = " + place(s) + " ")
	}
	if s := strings.TrimSpace(q.Speaker); s != "" {
		b.WriteString(" AND y.kind = 'dialog' AND lower(y.detail) = " + place(strings.ToLower(s)) + " ")
	}
	limit := q.Limit
	if limit <= 0 {
		limit = 100
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}
	b.WriteString(" ORDER BY s.name, y.line, y.id ")
	b.WriteString(" LIMIT " + place(limit) + " OFFSET " + place(offset))

	rows, err := db.QueryContext(ctx, b.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("search pg query: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []storage.SearchResult
	for rows.Next() {
		var r storage.SearchResult
		if err := rows.Scan(&r.ID, &r.Kind, &r.Script, &r.Name, &r.Detail, &r.Line, &r.PC, &r.Snippet); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
