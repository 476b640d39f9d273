/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package storage

import (
	"os"
	"path/filepath"
	"testing"

	"directscript/internal/domain"
)

const shopScript = `start:
  host -> "Welcome to the " "shop."
  choice answer menu
  if (answer == "buy"): jump checkout
  end

checkout:
  trigger open_register
  cashier -> "That will be five coins."
  end

menu: buy -> "Buy something", leave -> "Leave"
`

// newWorkspace creates a workspace holding the given scripts (path -> source).
func newWorkspace(t *testing.T, scripts map[string]string) *WorkspaceHandle {
	t.Helper()
	root := t.TempDir()
	ws := domain.Workspace{Name: "Test"}
	for p := range scripts {
		ws.Scripts = append(ws.Scripts, domain.ScriptRef{Path: p, Entry: "start"})
	}
	wh, err := InitWorkspace(root, ws)
	if err != nil {
		t.Fatalf("InitWorkspace: %v", err)
	}
	for p, src := range scripts {
		full := filepath.Join(root, filepath.FromSlash(p))
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(full, []byte(src), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return wh
}
