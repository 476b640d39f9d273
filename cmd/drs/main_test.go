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
	"bytes"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"directscript/internal/backend"
	"directscript/internal/config"
)

const quiz = `start:
  host -> "Ready?"
  choice answer yes_no
  if (answer == "yes"): trigger celebrate else: "Maybe later."
  end

yes_no: yes -> "Yes", no -> "No"
`

// memTokens keeps tokens in memory instead of the OS keyring.
type memTokens map[string]string

func (m memTokens) Get(service, key string) (string, error) { return m[service+"/"+key], nil }
func (m memTokens) Set(service, key, value string) error {
	m[service+"/"+key] = value
	return nil
}
func (m memTokens) Delete(service, key string) error {
	delete(m, service+"/"+key)
	return nil
}

func isolate(t *testing.T) memTokens {
	t.Helper()
	t.Setenv(config.EnvConfigFile, filepath.Join(t.TempDir(), "config.yaml"))
	t.Setenv(config.EnvLogLevel, "error")
	t.Setenv(config.EnvTelemetryOptIn, "false")
	tokens := memTokens{}
	t.Cleanup(config.SetTokenStore(tokens))
	return tokens
}

func runCLI(t *testing.T, stdin string, args ...string) (int, string, string) {
	t.Helper()
	var out, errOut bytes.Buffer
	code := run(args, strings.NewReader(stdin), &out, &errOut)
	return code, out.String(), errOut.String()
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestVersion(t *testing.T) {
	isolate(t)
	code, out, _ := runCLI(t, "", "version")
	if code != 0 || strings.TrimSpace(out) == "" {
		t.Fatalf("version: code=%d out=%q", code, out)
	}
}

func TestUnknownCommand(t *testing.T) {
	isolate(t)
	code, _, errOut := runCLI(t, "", "frobnicate")
	if code != 2 || !strings.Contains(errOut, `unknown command "frobnicate"`) {
		t.Fatalf("code=%d stderr=%q", code, errOut)
	}
}

func TestCheckReportsPositions(t *testing.T) {
	isolate(t)
	dir := t.TempDir()
	good := writeFile(t, dir, "good.drs", quiz)
	bad := writeFile(t, dir, "bad.drs", "a:\n  jump nowhere\n")

	code, out, _ := runCLI(t, "", "check", good)
	if code != 0 || !strings.Contains(out, "good.drs: ok") {
		t.Fatalf("check good: code=%d out=%q", code, out)
	}
	code, _, errOut := runCLI(t, "", "check", dir)
	if code != 1 {
		t.Fatalf("check dir: code = %d, want 1", code)
	}
	if !strings.Contains(errOut, bad+":2:") {
		t.Fatalf("stderr %q lacks %s:2:", errOut, bad)
	}
	if !strings.Contains(errOut, "1 of 2 scripts failed") {
		t.Fatalf("stderr %q lacks summary", errOut)
	}
}

func TestBuildThenDisasm(t *testing.T) {
	isolate(t)
	dir := t.TempDir()
	src := writeFile(t, dir, "quiz.drs", quiz)
	code, out, errOut := runCLI(t, "", "build", src)
	if code != 0 {
		t.Fatalf("build: code=%d stderr=%q", code, errOut)
	}
	bin := filepath.Join(dir, "quiz.drsc")
	if !strings.Contains(out, "wrote "+bin) {
		t.Fatalf("build output = %q", out)
	}
	code, out, errOut = runCLI(t, "", "disasm", bin)
	if code != 0 {
		t.Fatalf("disasm: code=%d stderr=%q", code, errOut)
	}
	for _, want := range []string{"; source:", "Ready?", "yes_no"} {
		if !strings.Contains(out, want) {
			t.Fatalf("disasm output lacks %q:\n%s", want, out)
		}
	}
}

func TestRunPlaysDialogue(t *testing.T) {
	isolate(t)
	src := writeFile(t, t.TempDir(), "quiz.drs", quiz)
	code, out, errOut := runCLI(t, "\n1\n", "run", src)
	if code != 0 {
		t.Fatalf("run: code=%d stderr=%q", code, errOut)
	}
	for _, want := range []string{"host: Ready?", "1) Yes [yes]", "2) No [no]", "[trigger celebrate]", "[end]"} {
		if !strings.Contains(out, want) {
			t.Fatalf("output lacks %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "Maybe later.") {
		t.Fatalf("else branch shown after yes:\n%s", out)
	}
}

func TestRunPromptsForUnboundVariable(t *testing.T) {
	isolate(t)
	src := writeFile(t, t.TempDir(), "seen.drs", "a:\n  if (seen): \"again\" else: \"first\"\n")
	code, out, errOut := runCLI(t, "true\n\n", "run", src)
	if code != 0 {
		t.Fatalf("run: code=%d stderr=%q", code, errOut)
	}
	if !strings.Contains(out, "? seen = ") || !strings.Contains(out, "again") {
		t.Fatalf("output = %q", out)
	}
}

func TestRunWithSeedFile(t *testing.T) {
	isolate(t)
	dir := t.TempDir()
	src := writeFile(t, dir, "seen.drs", "a:\n  if (seen): \"again\" else: \"first\"\n")
	seed := writeFile(t, dir, "seed.toml", "seen = false\n")
	code, out, errOut := runCLI(t, "", "run", "-auto", "-vars", seed, src)
	if code != 0 {
		t.Fatalf("run: code=%d stderr=%q", code, errOut)
	}
	if !strings.Contains(out, "first") || strings.Contains(out, "?") {
		t.Fatalf("output = %q", out)
	}
}

func TestWorkspaceIndexAndSearch(t *testing.T) {
	isolate(t)
	root := filepath.Join(t.TempDir(), "ws")
	code, _, errOut := runCLI(t, "", "init", root, "Demo")
	if code != 0 {
		t.Fatalf("init: code=%d stderr=%q", code, errOut)
	}
	writeFile(t, root, "scripts/main.drs", quiz)
	t.Chdir(root)

	code, out, errOut := runCLI(t, "", "index", "-rebuild")
	if code != 0 || !strings.Contains(out, "indexed 1 scripts") {
		t.Fatalf("index: code=%d out=%q stderr=%q", code, out, errOut)
	}
	code, out, _ = runCLI(t, "", "search", "-speaker", "host")
	if code != 0 || !strings.Contains(out, "scripts/main.drs:2") {
		t.Fatalf("search: code=%d out=%q", code, out)
	}
	code, out, _ = runCLI(t, "", "refs", "choice", "yes_no")
	if code != 0 || !strings.Contains(out, "scripts/main.drs:") {
		t.Fatalf("refs: code=%d out=%q", code, out)
	}
	// A named workspace script plays from its entry label.
	code, out, _ = runCLI(t, "\n2\n\n", "run", "main")
	if code != 0 || !strings.Contains(out, "Maybe later.") {
		t.Fatalf("run main: code=%d out=%q", code, out)
	}
}

func TestIndexReportsBrokenScript(t *testing.T) {
	isolate(t)
	root := filepath.Join(t.TempDir(), "ws")
	if code, _, errOut := runCLI(t, "", "init", root, "Demo"); code != 0 {
		t.Fatalf("init: %q", errOut)
	}
	writeFile(t, root, "scripts/main.drs", "start:\n  jump nowhere\n")
	t.Chdir(root)
	code, _, errOut := runCLI(t, "", "index")
	if code != 1 || !strings.Contains(errOut, "scripts/main.drs:2:") {
		t.Fatalf("index: code=%d stderr=%q", code, errOut)
	}
}

func TestLoginPublishAndRemote(t *testing.T) {
	tokens := isolate(t)
	ts := httptest.NewServer(backend.NewServer(backend.NewMemStore(), backend.Config{Secret: "cli-test"}).Handler())
	t.Cleanup(ts.Close)
	t.Setenv(config.EnvBackendURL, ts.URL)

	code, _, errOut := runCLI(t, "", "login", "alice")
	if code != 1 || !strings.Contains(errOut, "401") {
		t.Fatalf("login without secret: code=%d stderr=%q", code, errOut)
	}
	t.Setenv(config.EnvAuthSecret, "cli-test")
	code, out, errOut := runCLI(t, "", "login", "alice")
	if code != 0 || !strings.Contains(out, "as alice") {
		t.Fatalf("login: code=%d out=%q stderr=%q", code, out, errOut)
	}
	if len(tokens) != 1 {
		t.Fatalf("token not stored: %v", tokens)
	}

	root := filepath.Join(t.TempDir(), "ws")
	if code, _, errOut := runCLI(t, "", "init", root, "Demo"); code != 0 {
		t.Fatalf("init: %q", errOut)
	}
	writeFile(t, root, "scripts/main.drs", quiz)
	t.Chdir(root)

	code, out, errOut = runCLI(t, "", "publish")
	if code != 0 || !strings.Contains(out, "-> main v1") {
		t.Fatalf("publish: code=%d out=%q stderr=%q", code, out, errOut)
	}
	code, out, _ = runCLI(t, "", "remote", "list")
	if code != 0 || !strings.Contains(out, "main") || !strings.Contains(out, "alice") {
		t.Fatalf("remote list: code=%d out=%q", code, out)
	}
	code, out, _ = runCLI(t, "", "remote", "show", "main")
	if code != 0 || !strings.Contains(out, "label start @0") || !strings.Contains(out, "trigger celebrate") {
		t.Fatalf("remote show: code=%d out=%q", code, out)
	}

	writeFile(t, root, "scripts/main.drs", "start:\n  jump nowhere\n")
	code, _, errOut = runCLI(t, "", "publish", "main")
	if code != 1 || !strings.Contains(errOut, "scripts/main.drs:2:") {
		t.Fatalf("publish broken: code=%d stderr=%q", code, errOut)
	}
}
