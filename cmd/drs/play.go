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
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"directscript/internal/bytecode"
	"directscript/internal/history"
	applog "directscript/internal/log"
	"directscript/internal/session"
	"directscript/internal/telemetry"
	"directscript/internal/vars"
	"directscript/internal/vm"
)

// playTarget is what run resolved its argument to.
type playTarget struct {
	script *bytecode.Script
	entry  string
	seed   string
}

// resolve accepts a .drs or .drsc path, or the path or registry name of a
// script in the current workspace.
func (a *app) resolve(arg string) (playTarget, error) {
	if _, err := os.Stat(arg); err == nil {
		var s *bytecode.Script
		if strings.EqualFold(filepath.Ext(arg), compiledExt) {
			s, err = loadScript(arg)
		} else {
			s, err = a.compileInWorkspace(context.Background(), arg)
		}
		return playTarget{script: s}, err
	}
	wh, err := a.workspace()
	if err != nil {
		return playTarget{}, fmt.Errorf("%s: no such file, and %w", arg, err)
	}
	ref, ok := wh.Workspace.Script(arg)
	if !ok {
		return playTarget{}, fmt.Errorf("no script %q in workspace %s", arg, wh.Workspace.Name)
	}
	s, err := a.compileInWorkspace(context.Background(), wh.ScriptPath(ref))
	if err != nil {
		return playTarget{}, err
	}
	t := playTarget{script: s, entry: ref.Entry}
	if wh.Workspace.Vars != "" {
		t.seed = filepath.Join(wh.Root, filepath.FromSlash(wh.Workspace.Vars))
	}
	return t, nil
}

// play runs a dialogue on the terminal. Enter advances text, a number or
// option name answers a choice, "back" rewinds and "quit" stops.
func (a *app) play(args []string) error {
	fs := a.flags("run")
	label := fs.String("label", "", "start label (default: workspace entry, else the first label)")
	seed := fs.String("vars", a.cfg.Run.Vars, "variable seed file (toml, yaml or json)")
	auto := fs.Bool("auto", false, "do not wait for Enter after each line")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errUsage
	}
	t, err := a.resolve(fs.Arg(0))
	if err != nil {
		return err
	}
	if *seed == "" {
		*seed = t.seed
	}
	env := vm.MapEnvironment{}
	if *seed != "" {
		if env, err = vars.Load(*seed); err != nil {
			return err
		}
	}
	start := *label
	if start == "" {
		start = t.entry
	}
	if start == "" {
		labels := t.script.Labels()
		if len(labels) == 0 {
			return errors.New("script has no labels")
		}
		start = labels[0].Name.String()
	}

	p := &player{a: a, in: bufio.NewScanner(a.stdin), auto: *auto}
	p.sess = session.New(t.script, env, session.Options{
		ID:       "cli",
		History:  history.NewManager(history.Config{MaxPerSession: a.cfg.Run.HistoryDepth}),
		Handlers: p.handlers(),
		Logger:   applog.WithComponent("session"),
	})
	ctx := applog.WithSession(applog.WithScript(context.Background(), t.script.Source()), "cli")
	a.log.InfoContext(ctx, "dialogue started", slog.String("label", start))
	telemetry.SessionStarted("cli")
	st, err := p.sess.Start(start)
	steps, err := p.loop(st, err)
	a.log.InfoContext(ctx, "dialogue stopped", slog.Int("steps", steps))
	telemetry.SessionEnded("cli", steps)
	return err
}

type player struct {
	a    *app
	sess *session.Session
	in   *bufio.Scanner
	auto bool
}

func (p *player) handlers() session.Handlers {
	out := p.a.stdout
	return session.Handlers{
		OnText: func(t *vm.TextStep) {
			if t.Speaker != "" {
				fmt.Fprintf(out, "%s: %s\n", t.Speaker, t.Text)
				return
			}
			fmt.Fprintln(out, t.Text)
		},
		OnChoice: func(c *vm.ChoiceStep) {
			for i, o := range c.Options {
				fmt.Fprintf(out, "  %d) %s [%s]\n", i+1, o.Text, o.Name)
			}
		},
		OnTrigger: func(t *vm.TriggerStep) { fmt.Fprintf(out, "[trigger %s]\n", t.Name) },
		OnEnd:     func() { fmt.Fprintln(out, "[end]") },
	}
}

// readLine returns the next input line; ok is false at end of input.
func (p *player) readLine(prompt string) (string, bool) {
	if prompt != "" {
		fmt.Fprint(p.a.stdout, prompt)
	}
	if !p.in.Scan() {
		return "", false
	}
	return strings.TrimSpace(p.in.Text()), true
}

func (p *player) loop(st vm.Step, err error) (int, error) {
	steps := 0
	for {
		var ub *vm.UnboundVariableError
		switch {
		case errors.As(err, &ub):
			line, ok := p.readLine(fmt.Sprintf("? %s = ", ub.Name))
			if !ok {
				return steps, fmt.Errorf("input closed while %s was unbound", ub.Name)
			}
			p.sess.Bind(ub.Name, parseValue(line))
			st, err = p.sess.Next()
			continue
		case errors.Is(err, session.ErrNoHistory):
			fmt.Fprintln(p.a.stdout, "(nothing to go back to)")
			st, err = p.sess.Pending(), nil
		case err != nil:
			return steps, err
		default:
			steps++
		}

		var line string
		switch cur := st.(type) {
		case *vm.EndStep:
			return steps, nil
		case *vm.TriggerStep:
			st, err = p.sess.Next()
			continue
		case *vm.TextStep:
			if p.auto {
				st, err = p.sess.Next()
				continue
			}
			l, ok := p.readLine("")
			if !ok {
				return steps, nil
			}
			line = l
		case *vm.ChoiceStep:
			l, ok := p.readLine("> ")
			if !ok {
				return steps, nil
			}
			line = l
			if opt, ok := pickOption(cur, line); ok {
				st, err = p.sess.Choose(opt)
				continue
			}
		}

		switch line {
		case "quit", "q":
			return steps, nil
		case "back", "b":
			st, err = p.sess.Back()
		case "":
			st, err = p.sess.Next()
		default:
			if _, isChoice := st.(*vm.ChoiceStep); isChoice {
				fmt.Fprintf(p.a.stdout, "(unknown option %q)\n", line)
				err = nil
				steps--
				continue
			}
			st, err = p.sess.Next()
		}
		if errors.Is(err, session.ErrChoicePending) {
			fmt.Fprintln(p.a.stdout, "(pick an option)")
			st, err = p.sess.Pending(), nil
			steps--
		}
	}
}

// pickOption accepts a 1-based option number or an option name.
func pickOption(c *vm.ChoiceStep, line string) (string, bool) {
	if n, err := strconv.Atoi(line); err == nil && n >= 1 && n <= len(c.Options) {
		return c.Options[n-1].Name, true
	}
	for _, o := range c.Options {
		if o.Name == line {
			return o.Name, true
		}
	}
	return "", false
}

// parseValue reads a typed variable from the terminal: integers and
// true/false are recognised, quotes force a string.
func parseValue(s string) vm.Variant {
	if n, err := strconv.ParseInt(s, 10, 32); err == nil {
		return vm.Int(int32(n))
	}
	switch strings.ToLower(s) {
	case "true":
		return vm.Bool(true)
	case "false":
		return vm.Bool(false)
	}
	if u, err := strconv.Unquote(s); err == nil {
		return vm.String(u)
	}
	return vm.String(s)
}
