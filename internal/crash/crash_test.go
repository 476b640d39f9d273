/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package crash

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"directscript/internal/ast"
	"directscript/internal/bytecode"
	"directscript/internal/domain"
	"directscript/internal/session"
	"directscript/internal/storage"
	"directscript/internal/vm"
)

// stubExit makes Recover record its exit code and capture its stderr.
func stubExit(t *testing.T) (*int, *bytes.Buffer) {
	t.Helper()
	code := -1
	var out bytes.Buffer
	oldExit, oldErr := exitFn, stderr
	exitFn = func(c int) { code = c }
	stderr = &out
	t.Cleanup(func() { exitFn, stderr = oldExit, oldErr })
	return &code, &out
}

func crashReports(t *testing.T, dir string) []string {
	t.Helper()
	entries, _ := os.ReadDir(dir)
	var out []string
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), "crash-") && strings.HasSuffix(e.Name(), ".log") {
			out = append(out, filepath.Join(dir, e.Name()))
		}
	}
	return out
}

func TestPanicInDialogueHandlerLandsInWorkspaceBackups(t *testing.T) {
	code, out := stubExit(t)
	root := t.TempDir()
	wh, err := storage.InitWorkspace(root, domain.Workspace{
		Name:    "shop",
		Scripts: []domain.ScriptRef{{Path: "scripts/shop.drs", Entry: "start"}},
	})
	if err != nil {
		t.Fatalf("init workspace: %v", err)
	}
	tree, err := ast.Parse("start:\n  clerk -> \"Welcome!\"\n  end\n")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	script, err := bytecode.Compile(tree)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	s := session.New(script, nil, session.Options{Handlers: session.Handlers{
		OnText: func(*vm.TextStep) { panic("text handler exploded") },
	}})

	func() {
		defer Recover(wh)
		_, _ = s.Start("start")
	}()

	if *code != 2 {
		t.Fatalf("exit code = %d, want 2", *code)
	}
	reports := crashReports(t, filepath.Join(root, storage.BackupsDirName))
	if len(reports) != 1 {
		t.Fatalf("crash reports = %v, want one under backups", reports)
	}
	if !strings.Contains(out.String(), reports[0]) {
		t.Fatalf("stderr = %q, want report path %s", out.String(), reports[0])
	}
	b, err := os.ReadFile(reports[0])
	if err != nil {
		t.Fatalf("read report: %v", err)
	}
	for _, want := range []string{
		"directscript crash report",
		"Workspace: " + root,
		"Script: scripts/shop.drs (entry start)",
		"Panic: text handler exploded",
		"session.(*Session).Start",
	} {
		if !strings.Contains(string(b), want) {
			t.Fatalf("report missing %q:\n%s", want, b)
		}
	}
}

func TestReportWithoutWorkspaceGoesToTemp(t *testing.T) {
	path, err := writeReport(nil, "compile cache corrupt", []byte("stack"))
	if err != nil {
		t.Fatalf("writeReport: %v", err)
	}
	t.Cleanup(func() { _ = os.Remove(path) })
	if filepath.Dir(path) != filepath.Clean(os.TempDir()) {
		t.Fatalf("report at %s, want under %s", path, os.TempDir())
	}
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read report: %v", err)
	}
	if strings.Contains(string(b), "Workspace:") || !strings.Contains(string(b), "Panic: compile cache corrupt") {
		t.Fatalf("unexpected report:\n%s", b)
	}
}

func TestRecoverWithoutPanicDoesNothing(t *testing.T) {
	code, out := stubExit(t)
	root := t.TempDir()
	func() {
		defer Recover(&storage.WorkspaceHandle{Root: root})
	}()
	if *code != -1 || out.Len() != 0 {
		t.Fatalf("exit = %d, stderr = %q; want untouched", *code, out.String())
	}
	if reports := crashReports(t, filepath.Join(root, storage.BackupsDirName)); len(reports) != 0 {
		t.Fatalf("unexpected reports: %v", reports)
	}
}
