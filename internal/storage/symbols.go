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
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"directscript/internal/ast"
	"directscript/internal/bytecode"
	applog "directscript/internal/log"
)

// Symbol kinds stored in the symbols table.
const (
	KindLabel     = "label"
	KindChoiceSet = "choice_set"
	KindOption    = "option"
	KindDialog    = "dialog"
	KindTrigger   = "trigger"
	KindJump      = "jump"   // reference to a label
	KindChoice    = "choice" // reference to a choice set
	KindVar       = "var"    // variable read by a condition
)

// Symbol is one row of the index.
type Symbol struct {
	Kind   string
	Script string
	Name   string
	Detail string
	Line   int
	PC     int
	Text   string
}

// Symbols extracts the index rows of one script. script may be nil, in which
// case label rows carry no instruction index.
func Symbols(path string, tree *ast.Tree, script *bytecode.Script) []Symbol {
	var out []Symbol
	add := func(s Symbol) {
		s.Script = path
		if s.PC == 0 && s.Kind != KindLabel {
			s.PC = -1
		}
		out = append(out, s)
	}
	label := func(name ast.Identifier, line int) {
		pc := -1
		if script != nil {
			if t, ok := script.LabelTarget(name); ok {
				pc = t
			}
		}
		add(Symbol{Kind: KindLabel, Name: name.String(), Line: line, PC: pc})
	}
	vars := func(c ast.Condition, line int) {
		for _, v := range []ast.Variable{c.Left, c.Right} {
			if v.Kind == ast.VarGlobal && !v.Name.IsZero() {
				add(Symbol{Kind: KindVar, Name: v.Name.String(), Line: line, Text: c.String()})
			}
		}
	}
	var walk func(nodes []ast.Node)
	walk = func(nodes []ast.Node) {
		for _, n := range nodes {
			line := n.Position().Line
			switch n := n.(type) {
			case *ast.LabelBlock:
				label(n.Name, line)
				walk(n.Body)
			case *ast.Label:
				label(n.Name, line)
			case *ast.Choices:
				texts := make([]string, 0, len(n.Options))
				for _, o := range n.Options {
					texts = append(texts, o.Text.String())
					add(Symbol{Kind: KindOption, Name: o.Name.String(), Detail: n.Name.String(), Line: line, Text: o.Text.String()})
				}
				add(Symbol{Kind: KindChoiceSet, Name: n.Name.String(), Line: line, Text: strings.Join(texts, " / ")})
			case *ast.Dialog:
				var b strings.Builder
				for _, f := range n.Fragments {
					b.WriteString(f.String())
				}
				speaker := ""
				if !n.Speaker.IsZero() {
					speaker = n.Speaker.String()
				}
				add(Symbol{Kind: KindDialog, Detail: speaker, Line: line, Text: b.String()})
			case *ast.Command:
				switch n.Op {
				case ast.CmdJump:
					add(Symbol{Kind: KindJump, Name: n.Name.String(), Line: line})
				case ast.CmdChoice:
					add(Symbol{Kind: KindChoice, Name: n.Set.String(), Detail: n.Name.String(), Line: line})
				case ast.CmdTrigger:
					add(Symbol{Kind: KindTrigger, Name: n.Name.String(), Line: line})
				}
			case *ast.IfBlock:
				vars(n.Cond, line)
				walk(n.Then)
				walk(n.Else)
			}
		}
	}
	walk(tree.Nodes)
	return out
}

// IndexScript replaces the index rows of path with the symbols of tree.
func IndexScript(ctx context.Context, db *sql.DB, path string, tree *ast.Tree, script *bytecode.Script) (int, error) {
	syms := Symbols(path, tree, script)
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM symbols WHERE script=?;`, path); err != nil {
		_ = tx.Rollback()
		return 0, fmt.Errorf("clear symbols: %w", err)
	}
	ins, err := tx.PrepareContext(ctx, `INSERT INTO symbols(kind, script, name, detail, line, pc, text) VALUES(?,?,?,?,?,?,?);`)
	if err != nil {
		_ = tx.Rollback()
		return 0, fmt.Errorf("prepare insert: %w", err)
	}
	defer ins.Close()
	for _, s := range syms {
		if _, err := ins.ExecContext(ctx, s.Kind, s.Script, s.Name, s.Detail, s.Line, s.PC, s.Text); err != nil {
			_ = tx.Rollback()
			return 0, fmt.Errorf("insert symbol: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return len(syms), nil
}

// ScriptError ties a build failure to a manifest script.
type ScriptError struct {
	Path string
	Err  error
}

func (e *ScriptError) Error() string { return e.Path + ": " + e.Err.Error() }
func (e *ScriptError) Unwrap() error { return e.Err }

// IndexReport summarizes an index build.
type IndexReport struct {
	Scripts int
	Symbols int
	Failed  int
}

// UpdateIndex reindexes every script of the workspace, refreshing the compiled
// cache on the way. Scripts that fail to compile are reported in the returned
// error (one *ScriptError each) and skipped; the rest are still indexed.
func UpdateIndex(ctx context.Context, wh *WorkspaceHandle) (IndexReport, error) {
	db, err := InitOrOpenIndex(wh.Root)
	if err != nil {
		return IndexReport{}, err
	}
	defer db.Close()
	return indexWorkspace(ctx, db, wh)
}

// RebuildIndex drops and recreates the symbol tables and rebuilds them from the workspace.
// The compiled cache and source snapshots are kept.
func RebuildIndex(ctx context.Context, wh *WorkspaceHandle) (IndexReport, error) {
	db, err := InitOrOpenIndex(wh.Root)
	if err != nil {
		return IndexReport{}, err
	}
	defer db.Close()
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return IndexReport{}, fmt.Errorf("begin tx: %w", err)
	}
	drops := []string{
		"DROP TRIGGER IF EXISTS symbols_ai;",
		"DROP TRIGGER IF EXISTS symbols_ad;",
		"DROP TABLE IF EXISTS symbols;",
		"DROP TABLE IF EXISTS fts_symbols;",
	}
	for _, q := range drops {
		if _, err := tx.ExecContext(ctx, q); err != nil {
			_ = tx.Rollback()
			return IndexReport{}, fmt.Errorf("drop schema: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return IndexReport{}, fmt.Errorf("drop commit: %w", err)
	}
	if err := ensureIndexSchema(ctx, db); err != nil {
		return IndexReport{}, err
	}
	if _, err := db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_symbols_kind_name ON symbols(kind, name);`); err != nil {
		return IndexReport{}, fmt.Errorf("recreate symbol index: %w", err)
	}
	return indexWorkspace(ctx, db, wh)
}

// BuildIndexIfEmpty indexes the workspace when the symbols table has no rows.
func BuildIndexIfEmpty(ctx context.Context, wh *WorkspaceHandle) (bool, error) {
	db, err := InitOrOpenIndex(wh.Root)
	if err != nil {
		return false, err
	}
	defer db.Close()
	var cnt int
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM symbols;").Scan(&cnt); err != nil {
		return false, fmt.Errorf("check symbols count: %w", err)
	}
	if cnt > 0 {
		return false, nil
	}
	_, err = indexWorkspace(ctx, db, wh)
	return true, err
}

func indexWorkspace(ctx context.Context, db *sql.DB, wh *WorkspaceHandle) (IndexReport, error) {
	l := applog.WithOperation(applog.WithComponent("storage"), "index")
	var rep IndexReport
	var errs []error
	for _, ref := range wh.Workspace.Scripts {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		src, err := wh.ReadScript(ref)
		if err != nil {
			errs = append(errs, &ScriptError{Path: ref.Path, Err: err})
			rep.Failed++
			continue
		}
		tree, err := ast.Parse(src)
		if err != nil {
			errs = append(errs, &ScriptError{Path: ref.Path, Err: err})
			rep.Failed++
			continue
		}
		script, _, err := compileTreeCached(ctx, db, ref.Path, src, tree)
		if err != nil {
			errs = append(errs, &ScriptError{Path: ref.Path, Err: err})
			rep.Failed++
			continue
		}
		n, err := IndexScript(ctx, db, ref.Path, tree, script)
		if err != nil {
			return rep, err
		}
		rep.Scripts++
		rep.Symbols += n
	}
	l.InfoContext(ctx, "workspace indexed", slog.Int("scripts", rep.Scripts), slog.Int("symbols", rep.Symbols), slog.Int("failed", rep.Failed))
	return rep, errors.Join(errs...)
}
