/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

// Package vars loads variable seed files into an environment.
// Nested tables are flattened into dotted names, so
//
//	[door]
//	open = true
//
// binds "door.open".
package vars

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"directscript/internal/vm"
)

// Format names a seed file syntax.
type Format string

const (
	TOML Format = "toml"
	YAML Format = "yaml"
	JSON Format = "json"
)

// FormatOf infers the format from a file extension.
func FormatOf(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		return TOML, nil
	case ".yaml", ".yml":
		return YAML, nil
	case ".json":
		return JSON, nil
	}
	return "", fmt.Errorf("vars: unsupported file type %q", filepath.Ext(path))
}

// Load reads a seed file.
func Load(path string) (vm.MapEnvironment, error) {
	f, err := FormatOf(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("vars: read %s: %w", path, err)
	}
	env, err := Decode(bytes.NewReader(data), f)
	if err != nil {
		return nil, fmt.Errorf("vars: %s: %w", path, err)
	}
	return env, nil
}

// Decode reads seed values in the given format. Values must be strings,
// booleans or integers in the 32-bit range.
func Decode(r io.Reader, f Format) (vm.MapEnvironment, error) {
	raw := map[string]any{}
	switch f {
	case TOML:
		if _, err := toml.NewDecoder(r).Decode(&raw); err != nil {
			return nil, err
		}
	case YAML:
		if err := yaml.NewDecoder(r).Decode(&raw); err != nil && err != io.EOF {
			return nil, err
		}
	case JSON:
		dec := json.NewDecoder(r)
		dec.UseNumber()
		if err := dec.Decode(&raw); err != nil && err != io.EOF {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unknown format %q", f)
	}
	env := vm.MapEnvironment{}
	if err := flatten(env, "", raw); err != nil {
		return nil, err
	}
	return env, nil
}

func flatten(env vm.MapEnvironment, prefix string, m map[string]any) error {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		name := k
		if prefix != "" {
			name = prefix + "." + k
		}
		switch v := m[k].(type) {
		case map[string]any:
			if err := flatten(env, name, v); err != nil {
				return err
			}
		default:
			val, err := vm.FromValue(v)
			if err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
			env[name] = val
		}
	}
	return nil
}

// Encode writes env in the given format with dotted names kept flat.
func Encode(w io.Writer, env vm.MapEnvironment, f Format) error {
	flat := make(map[string]any, len(env))
	for _, k := range env.Names() {
		flat[k] = env[k].Value()
	}
	switch f {
	case TOML:
		return toml.NewEncoder(w).Encode(flat)
	case YAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(flat); err != nil {
			return err
		}
		return enc.Close()
	case JSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(flat)
	}
	return fmt.Errorf("vars: unknown format %q", f)
}

// Save writes env to path, choosing the format from its extension.
func Save(path string, env vm.MapEnvironment) error {
	f, err := FormatOf(path)
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	if err := Encode(&buf, env, f); err != nil {
		return err
	}
	return os.WriteFile(path, buf.Bytes(), 0o644)
}
