/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

// Package version holds build metadata, set with -ldflags at release time:
//
//	go build -ldflags "-X directscript/internal/version.Version=v0.3.0 -X directscript/internal/version.Commit=abc123"
package version

import "runtime"

var (
	Version = "dev"
	Commit  = ""
)

// String returns "<version> (<commit>, <go version>)", dropping the commit when unknown.
func String() string {
	if Commit == "" {
		return Version + " (" + runtime.Version() + ")"
	}
	return Version + " (" + Commit + ", " + runtime.Version() + ")"
}
