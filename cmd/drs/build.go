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
	"os"
	"path/filepath"
	"strings"
	"time"

	"directscript/internal/bytecode"
	"directscript/internal/storage"
	"directscript/internal/telemetry"
)

// compiledExt is the file extension of binary scripts written by build.
const compiledExt = ".drsc"

// loadScript returns the compiled script at path: .drsc files are decoded,
// anything else is compiled from source.
func loadScript(path string) (*bytecode.Script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if strings.EqualFold(filepath.Ext(path), compiledExt) {
		s, err := bytecode.Decode(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		return s, nil
	}
	start := time.Now()
	s, err := bytecode.CompileSource(string(data), path)
	if err != nil {
		return nil, &sourceError{path: path, err: err}
	}
	telemetry.ScriptCompiled(len(s.Labels()), s.Len(), time.Since(start), false)
	return s, nil
}

// sourceError prints every diagnostic of a failed compile as path:line:col lines.
type sourceError struct {
	path  string
	err   error
	diags []bytecode.Diagnostic
}

func (e *sourceError) Error() string {
	var b strings.Builder
	diags := e.diags
	if diags == nil {
		diags = bytecode.Diagnostics(e.err)
	}
	for i, d := range diags {
		if i > 0 {
			b.WriteByte('\n')
		}
		if d.Line == 0 {
			fmt.Fprintf(&b, "%s: %s", e.path, d.Message)
			continue
		}
		fmt.Fprintf(&b, "%s:%d:%d: %s: %s", e.path, d.Line, d.Column, d.Stage, d.Message)
	}
	return b.String()
}

func (e *sourceError) Unwrap() error { return e.err }

// check compiles every argument; directories are searched for .drs files.
func (a *app) check(args []string) error {
	fs := a.flags("check")
	quiet := fs.Bool("q", false, "only print errors")
	if err := fs.Parse(args); err != nil {
		return err
	}
	paths, err := expandSources(fs.Args())
	if err != nil {
		return err
	}
	if len(paths) == 0 {
		return errUsage
	}
	failed := 0
	for _, p := range paths {
		s, err := loadScript(p)
		if err != nil {
			failed++
			fmt.Fprintln(a.stderr, err)
			continue
		}
		if !*quiet {
			fmt.Fprintf(a.stdout, "%s: ok (%d labels, %d instructions)\n", p, len(s.Labels()), s.Len())
		}
	}
	if failed > 0 {
		fmt.Fprintf(a.stderr, "%d of %d scripts failed\n", failed, len(paths))
		return exitError{code: 1}
	}
	return nil
}

func expandSources(args []string) ([]string, error) {
	var out []string
	for _, arg := range args {
		st, err := os.Stat(arg)
		if err != nil {
			return nil, err
		}
		if !st.IsDir() {
			out = append(out, arg)
			continue
		}
		err = filepath.WalkDir(arg, func(p string, d os.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() && d.Name() == storage.IndexDirName {
				return filepath.SkipDir
			}
			if !d.IsDir() && strings.EqualFold(filepath.Ext(p), storage.ScriptExt) {
				out = append(out, p)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

// build writes the CBOR form of a script. Inside a workspace the compiled
// cache is consulted and a source snapshot is kept.
func (a *app) build(args []string) error {
	fs := a.flags("build")
	out := fs.String("o", "", "output path (default: source with "+compiledExt+")")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errUsage
	}
	src := fs.Arg(0)
	if *out == "" {
		*out = strings.TrimSuffix(src, filepath.Ext(src)) + compiledExt
	}
	script, err := a.compileInWorkspace(context.Background(), src)
	if err != nil {
		return err
	}
	blob, err := script.MarshalBinary()
	if err != nil {
		return err
	}
	if err := os.WriteFile(*out, blob, 0o644); err != nil {
		return err
	}
	a.log.Info("script built", slog.String("src", src), slog.String("out", *out), slog.Int("bytes", len(blob)))
	fmt.Fprintf(a.stdout, "wrote %s (%d instructions, %d bytes)\n", *out, script.Len(), len(blob))
	return nil
}

// compileInWorkspace compiles src, through the workspace cache when src
// belongs to a workspace.
func (a *app) compileInWorkspace(ctx context.Context, src string) (*bytecode.Script, error) {
	abs, err := filepath.Abs(src)
	if err != nil {
		return nil, err
	}
	root, err := storage.FindRoot(filepath.Dir(abs))
	if err != nil {
		return loadScript(src)
	}
	wh, err := storage.Open(root)
	if err != nil {
		return nil, err
	}
	rel, err := filepath.Rel(root, abs)
	if err != nil {
		return nil, err
	}
	rel = filepath.ToSlash(rel)
	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, err
	}
	db, err := storage.InitOrOpenIndex(root)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	script, hit, err := storage.CompileCached(ctx, db, rel, string(data))
	_ = db.Close()
	if err != nil {
		return nil, &sourceError{path: src, err: err}
	}
	telemetry.ScriptCompiled(len(script.Labels()), script.Len(), time.Since(start), hit)
	a.log.Debug("compiled", slog.String("script", rel), slog.Bool("cache_hit", hit))
	if last, ok, err := storage.LatestSourceSnapshot(ctx, wh, rel); err == nil && (!ok || last.Text != string(data)) {
		err = storage.SaveSourceSnapshot(ctx, wh, rel, string(data), time.Now())
		if err != nil {
			a.log.Warn("source snapshot failed", slog.String("script", rel), slog.Any("err", err))
		}
	}
	return script, nil
}

func (a *app) disasm(args []string) error {
	if len(args) != 1 {
		return errUsage
	}
	s, err := loadScript(args[0])
	if err != nil {
		return err
	}
	if s.Source() == "" {
		s = s.WithSource(args[0])
	}
	return s.Disassemble(a.stdout)
}

var errNotInWorkspace = errors.New("not inside a workspace (no " + storage.ManifestFileName + " found)")

// workspace opens the workspace containing the working directory.
func (a *app) workspace() (*storage.WorkspaceHandle, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	root, err := storage.FindRoot(cwd)
	if err != nil {
		return nil, errNotInWorkspace
	}
	return storage.Open(root)
}
