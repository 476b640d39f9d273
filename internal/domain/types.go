/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany..
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package domain

import (
	"path/filepath"
	"strings"
)

// This file defines the workspace manifest (directscript.json). A workspace is a
// folder of .drs dialogue scripts plus the metadata needed to build and play them.

// Workspace is the manifest root. It serializes to human-readable JSON.
type Workspace struct {
	Name     string      `json:"name"`
	Metadata Metadata    `json:"metadata,omitempty"`
	Scripts  []ScriptRef `json:"scripts"`
	// Vars is an optional seed file (toml, yaml or json) loaded before play.
	Vars string `json:"vars,omitempty"`
}

// Metadata contains optional descriptive fields.
type Metadata struct {
	Title   string `json:"title,omitempty"`
	Authors string `json:"authors,omitempty"`
	Notes   string `json:"notes,omitempty"`
}

// ScriptRef names one script file in the workspace.
type ScriptRef struct {
	// Path is relative to the workspace root, slash separated.
	Path string `json:"path"`
	// Entry is the label play starts from.
	Entry string `json:"entry,omitempty"`
	// Name is the registry name used by `drs publish`; defaults to the file stem.
	Name string `json:"name,omitempty"`
}

// RegistryName returns Name, or the file stem of Path.
func (r ScriptRef) RegistryName() string {
	if r.Name != "" {
		return r.Name
	}
	base := filepath.Base(filepath.FromSlash(r.Path))
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// Script looks a script up by path or registry name.
func (w *Workspace) Script(key string) (ScriptRef, bool) {
	for _, s := range w.Scripts {
		if s.Path == key || s.RegistryName() == key {
			return s, true
		}
	}
	return ScriptRef{}, false
}

// AddScript appends ref unless a script with the same path is present; it
// reports whether the manifest changed.
func (w *Workspace) AddScript(ref ScriptRef) bool {
	ref.Path = filepath.ToSlash(ref.Path)
	for _, s := range w.Scripts {
		if s.Path == ref.Path {
			return false
		}
	}
	w.Scripts = append(w.Scripts, ref)
	return true
}
