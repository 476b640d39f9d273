/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"directscript/internal/crash"
	"directscript/internal/domain"
	"directscript/internal/storage"
)

// stringList is a repeatable string flag.
type stringList []string

func (s *stringList) String() string     { return strings.Join(*s, ",") }
func (s *stringList) Set(v string) error { *s = append(*s, v); return nil }

func (a *app) initWorkspace(args []string) error {
	if len(args) < 2 {
		fmt.Fprintln(a.stderr, "init requires <dir> and <name>")
		return errUsage
	}
	abs, err := filepath.Abs(args[0])
	if err != nil {
		return err
	}
	name := strings.Join(args[1:], " ")
	a.log.Info("init workspace", slog.String("root", abs), slog.String("name", name))
	wh, err := storage.InitWorkspace(abs, domain.Workspace{Name: name, Scripts: []domain.ScriptRef{}})
	if err != nil {
		return err
	}
	defer crash.Recover(wh)
	ref := domain.ScriptRef{Path: storage.ScriptsDirName + "/main" + storage.ScriptExt, Entry: "start"}
	if err := storage.AddScript(wh, ref); err != nil {
		return err
	}
	fmt.Fprintln(a.stdout, "Created workspace at", abs)
	fmt.Fprintln(a.stdout, "Entry script:", ref.Path)
	return nil
}

func (a *app) addScript(args []string) error {
	if len(args) < 1 || len(args) > 2 {
		return errUsage
	}
	wh, err := a.workspace()
	if err != nil {
		return err
	}
	defer crash.Recover(wh)
	abs, err := filepath.Abs(args[0])
	if err != nil {
		return err
	}
	rel, err := filepath.Rel(wh.Root, abs)
	if err != nil || strings.HasPrefix(rel, "..") {
		return fmt.Errorf("%s is outside the workspace %s", args[0], wh.Root)
	}
	ref := domain.ScriptRef{Path: filepath.ToSlash(rel)}
	if len(args) == 2 {
		ref.Entry = args[1]
	}
	if err := storage.AddScript(wh, ref); err != nil {
		return err
	}
	fmt.Fprintln(a.stdout, "Added", ref.Path)
	return nil
}

func (a *app) index(args []string) error {
	fs := a.flags("index")
	rebuild := fs.Bool("rebuild", false, "drop and rebuild the whole index")
	if err := fs.Parse(args); err != nil {
		return err
	}
	wh, err := a.workspace()
	if err != nil {
		return err
	}
	defer crash.Recover(wh)
	ctx := context.Background()
	if rebuilt, err := storage.DetectAndRebuildIndex(ctx, wh); err != nil {
		return err
	} else if rebuilt {
		fmt.Fprintln(a.stdout, "index was unreadable and has been rebuilt")
	}
	var rep storage.IndexReport
	if *rebuild {
		rep, err = storage.RebuildIndex(ctx, wh)
	} else {
		rep, err = storage.UpdateIndex(ctx, wh)
	}
	fmt.Fprintf(a.stdout, "indexed %d scripts, %d symbols, %d failed\n", rep.Scripts, rep.Symbols, rep.Failed)
	if err != nil {
		if rep.Failed == 0 {
			return err
		}
		errs := []error{err}
		if j, ok := err.(interface{ Unwrap() []error }); ok {
			errs = j.Unwrap()
		}
		for _, e := range errs {
			var se *storage.ScriptError
			if errors.As(e, &se) {
				e = &sourceError{path: se.Path, err: se.Err}
			}
			fmt.Fprintln(a.stderr, e)
		}
		return exitError{code: 1}
	}
	return nil
}

func (a *app) search(args []string) error {
	fs := a.flags("search")
	var kinds stringList
	fs.Var(&kinds, "kind", "symbol kind to include (repeatable)")
	speaker := fs.String("speaker", "", "only dialogue lines of this speaker")
	script := fs.String("script", "", "only this script path")
	limit := fs.Int("limit", 50, "maximum results")
	if err := fs.Parse(args); err != nil {
		return err
	}
	wh, err := a.workspace()
	if err != nil {
		return err
	}
	ctx := context.Background()
	if _, err := storage.BuildIndexIfEmpty(ctx, wh); err != nil {
		a.log.Warn("index build failed", slog.Any("err", err))
	}
	res, err := storage.Search(ctx, wh.Root, storage.SearchQuery{
		Text:    strings.Join(fs.Args(), " "),
		Kinds:   kinds,
		Script:  *script,
		Speaker: *speaker,
		Limit:   *limit,
	})
	if err != nil {
		return err
	}
	a.printResults(res)
	return nil
}

func (a *app) refs(args []string) error {
	if len(args) != 2 {
		return errUsage
	}
	kind := args[0]
	if kind == "choice" {
		kind = storage.KindChoiceSet
	}
	wh, err := a.workspace()
	if err != nil {
		return err
	}
	ctx := context.Background()
	if _, err := storage.BuildIndexIfEmpty(ctx, wh); err != nil {
		a.log.Warn("index build failed", slog.Any("err", err))
	}
	res, err := storage.WhereUsed(ctx, wh.Root, kind, args[1])
	if err != nil {
		return err
	}
	a.printResults(res)
	return nil
}

func (a *app) printResults(res []storage.SearchResult) {
	if len(res) == 0 {
		fmt.Fprintln(a.stdout, "no matches")
		return
	}
	tw := tabwriter.NewWriter(a.stdout, 0, 4, 2, ' ', 0)
	for _, r := range res {
		name := r.Name
		if r.Kind == storage.KindDialog {
			name = r.Detail
		}
		fmt.Fprintf(tw, "%s:%d\t%s\t%s\t%s\n", r.Script, r.Line, r.Kind, name, r.Snippet)
	}
	_ = tw.Flush()
}

func (a *app) snapshots(args []string) error {
	fs := a.flags("snapshots")
	prune := fs.Int("prune", 0, "keep only the newest N snapshots")
	show := fs.Bool("latest", false, "print the newest snapshot's text")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errUsage
	}
	wh, err := a.workspace()
	if err != nil {
		return err
	}
	ref, ok := wh.Workspace.Script(fs.Arg(0))
	if !ok {
		return fmt.Errorf("no script %q in workspace", fs.Arg(0))
	}
	ctx := context.Background()
	switch {
	case *prune > 0:
		n, err := storage.PruneSourceSnapshots(ctx, wh, ref.Path, *prune)
		if err != nil {
			return err
		}
		fmt.Fprintf(a.stdout, "removed %d snapshots\n", n)
	case *show:
		snap, ok, err := storage.LatestSourceSnapshot(ctx, wh, ref.Path)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("no snapshots of %s", ref.Path)
		}
		fmt.Fprint(a.stdout, snap.Text)
	default:
		list, err := storage.ListSourceSnapshots(ctx, wh, ref.Path, 20)
		if err != nil {
			return err
		}
		for _, s := range list {
			fmt.Fprintf(a.stdout, "%s  %d lines\n", s.TS.Local().Format(time.DateTime), strings.Count(s.Text, "\n"))
		}
	}
	return nil
}

func (a *app) cache(args []string) error {
	fs := a.flags("cache")
	prune := fs.String("prune", "", "evict least recently used entries down to this many bytes")
	if err := fs.Parse(args); err != nil {
		return err
	}
	wh, err := a.workspace()
	if err != nil {
		return err
	}
	db, err := storage.InitOrOpenIndex(wh.Root)
	if err != nil {
		return err
	}
	defer db.Close()
	ctx := context.Background()
	if *prune != "" {
		limit, err := strconv.ParseInt(*prune, 10, 64)
		if err != nil || limit < 0 {
			return fmt.Errorf("invalid byte count %q", *prune)
		}
		n, err := storage.PruneCompiled(ctx, db, limit)
		if err != nil {
			return err
		}
		fmt.Fprintf(a.stdout, "evicted %d entries\n", n)
	}
	entries, size, err := storage.CacheStats(ctx, db)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.stdout, "%d compiled scripts, %d bytes\n", entries, size)
	return nil
}
