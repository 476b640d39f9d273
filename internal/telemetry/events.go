/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package telemetry

import "time"

// Event names. Properties carry counts and durations only, never script text.
const (
	EventScriptCompiled = "script_compiled"
	EventSessionStarted = "session_started"
	EventSessionEnded   = "session_ended"
)

// ScriptCompiled reports the size of a compiled script.
func (c *Client) ScriptCompiled(labels, instructions int, d time.Duration, cached bool) {
	c.Event(EventScriptCompiled, map[string]any{
		"labels":       labels,
		"instructions": instructions,
		"duration_ms":  d.Milliseconds(),
		"cached":       cached,
	})
}

// SessionStarted reports that a dialogue started; surface is "cli" or "server".
func (c *Client) SessionStarted(surface string) {
	c.Event(EventSessionStarted, map[string]any{"surface": surface})
}

// SessionEnded reports how many steps a finished dialogue produced.
func (c *Client) SessionEnded(surface string, steps int) {
	c.Event(EventSessionEnded, map[string]any{"surface": surface, "steps": steps})
}

func ScriptCompiled(labels, instructions int, d time.Duration, cached bool) {
	InitDefault()
	defaultClient.ScriptCompiled(labels, instructions, d, cached)
}

func SessionStarted(surface string) { InitDefault(); defaultClient.SessionStarted(surface) }

func SessionEnded(surface string, steps int) {
	InitDefault()
	defaultClient.SessionEnded(surface, steps)
}
