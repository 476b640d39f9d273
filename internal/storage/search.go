/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * Licensed under the Apache License, Version 2.0.
 */
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// SearchQuery describes a symbol search.
// Text uses SQLite FTS5 syntax (simple terms, phrases in quotes, AND/OR/NOT) over symbol names and dialogue text.
// Kinds restricts results to symbol kinds (label, dialog, trigger, ...). Script restricts to one manifest path.
// Speaker matches the speaker of dialog rows case-insensitively.
// Limit/Offset implement pagination; reasonable defaults applied if zero.
type SearchQuery struct {
	Text    string
	Kinds   []string
	Script  string
	Speaker string
	Limit   int
	Offset  int
}

// SearchResult represents a single match row.
// Snippet is a highlighted excerpt using [ ] markers when FTS text is used.
// PC is -1 for rows that do not map to an instruction.
type SearchResult struct {
	ID      int64  `json:"id"`
	Kind    string `json:"kind"`
	Script  string `json:"script"`
	Name    string `json:"name,omitempty"`
	Detail  string `json:"detail,omitempty"`
	Line    int    `json:"line"`
	PC      int    `json:"pc"`
	Snippet string `json:"snippet,omitempty"`
}

// Search performs full-text search with optional filters over the workspace index.
// When q.Text is empty, it falls back to a plain scan with filters applied.
func Search(ctx context.Context, root string, q SearchQuery) ([]SearchResult, error) {
	if strings.TrimSpace(root) == "" {
		return nil, errors.New("workspace root is required")
	}
	db, err := InitOrOpenIndex(root)
	if err != nil {
		return nil, err
	}
	defer db.Close()
	return searchDB(ctx, db, q)
}

const resultCols = "s.sym_id, s.kind, s.script, s.name, s.detail, s.line, s.pc"

func searchDB(ctx context.Context, db *sql.DB, q SearchQuery) ([]SearchResult, error) {
	var args []any
	var sb strings.Builder
	if strings.TrimSpace(q.Text) != "" {
		sb.WriteString("SELECT " + resultCols + ", snippet(fts_symbols, -1, '[', ']', '…', 10)\n")
		sb.WriteString("FROM fts_symbols JOIN symbols s ON fts_symbols.rowid = s.sym_id\n")
		sb.WriteString("WHERE fts_symbols MATCH ?\n")
		args = append(args, q.Text)
	} else {
		sb.WriteString("SELECT " + resultCols + ", s.text\n")
		sb.WriteString("FROM symbols s\nWHERE 1=1\n")
	}
	if len(q.Kinds) > 0 {
		sb.WriteString(" AND s.kind IN (" + placeholders(len(q.Kinds)) + ")\n")
		for _, k := range q.Kinds {
			args = append(args, k)
		}
	}
	if s := strings.TrimSpace(q.Script); s != "" {
		sb.WriteString(" AND s.script = ?\n")
		args = append(args, s)
	}
	if s := strings.TrimSpace(q.Speaker); s != "" {
		sb.WriteString(" AND s.kind = 'dialog' AND lower(s.detail) = ?\n")
		args = append(args, strings.ToLower(s))
	}
	limit := q.Limit
	if limit <= 0 {
		limit = 100
	}
	if q.Offset < 0 {
		q.Offset = 0
	}
	sb.WriteString("ORDER BY s.script, s.line, s.sym_id\n")
	sb.WriteString("LIMIT ? OFFSET ?")
	args = append(args, limit, q.Offset)
	return queryResults(ctx, db, sb.String(), args...)
}

// WhereUsed lists the references to a symbol: jumps to a label, choice
// commands using a choice set, or the conditions and choices touching a
// variable. kind is KindLabel, KindChoiceSet or KindVar.
func WhereUsed(ctx context.Context, root, kind, name string) ([]SearchResult, error) {
	if strings.TrimSpace(name) == "" {
		return nil, errors.New("name is required")
	}
	var where string
	var args []any
	switch kind {
	case KindLabel:
		where, args = "s.kind = 'jump' AND s.name = ?", []any{name}
	case KindChoiceSet:
		where, args = "s.kind = 'choice' AND s.name = ?", []any{name}
	case KindVar:
		where, args = "(s.kind = 'var' AND s.name = ?) OR (s.kind = 'choice' AND s.detail = ?)", []any{name, name}
	default:
		return nil, fmt.Errorf("where-used: unsupported kind %q", kind)
	}
	db, err := InitOrOpenIndex(root)
	if err != nil {
		return nil, err
	}
	defer db.Close()
	q := "SELECT " + resultCols + ", s.text FROM symbols s WHERE " + where + " ORDER BY s.script, s.line, s.sym_id"
	return queryResults(ctx, db, q, args...)
}

func queryResults(ctx context.Context, db *sql.DB, q string, args ...any) ([]SearchResult, error) {
	rows, err := db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("search query: %w", err)
	}
	defer rows.Close()
	var out []SearchResult
	for rows.Next() {
		var r SearchResult
		var sn sql.NullString
		if err := rows.Scan(&r.ID, &r.Kind, &r.Script, &r.Name, &r.Detail, &r.Line, &r.PC, &sn); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		r.Snippet = sn.String
		out = append(out, r)
	}
	return out, rows.Err()
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	b := strings.Builder{}
	for i := 0; i < n; i++ {
		if i > 0 {
			b.WriteString(",")
		}
		b.WriteString("?")
	}
	return b.String()
}
