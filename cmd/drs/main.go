/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

// Command drs compiles, inspects and plays Direct Script dialogue files.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"

	"directscript/internal/config"
	"directscript/internal/crash"
	applog "directscript/internal/log"
	"directscript/internal/telemetry"
	"directscript/internal/version"
)

// errUsage makes run print the usage text and exit with status 2.
var errUsage = errors.New("usage")

// exitError carries a specific exit status; its message has already been printed.
type exitError struct{ code int }

func (e exitError) Error() string { return fmt.Sprintf("exit status %d", e.code) }

// app is the state shared by all subcommands.
type app struct {
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
	cfg    config.AppConfig
	token  string
	log    *slog.Logger
}

func usage(w io.Writer) {
	fmt.Fprintln(w, "drs, the Direct Script compiler and player")
	fmt.Fprintf(w, "Version: %s\n", version.String())
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage:")
	fmt.Fprintln(w, "  drs version|-v|--version                 Show version")
	fmt.Fprintln(w, "  drs check <file.drs|dir>...              Report syntax, validation and compile errors")
	fmt.Fprintln(w, "  drs build [-o out.drsc] <file.drs>        Compile to a binary script")
	fmt.Fprintln(w, "  drs disasm <file.drs|file.drsc>           Print the instruction listing")
	fmt.Fprintln(w, "  drs run [-label L] [-vars seed] <script>  Play a script in the terminal")
	fmt.Fprintln(w, "  drs init <dir> <name>                     Create a workspace")
	fmt.Fprintln(w, "  drs add <path.drs> [entry]                Register a script in the current workspace")
	fmt.Fprintln(w, "  drs index [-rebuild]                      Update the workspace symbol index")
	fmt.Fprintln(w, "  drs search [-kind k] [-speaker s] [text]  Search labels, dialogue and triggers")
	fmt.Fprintln(w, "  drs refs <label|choice_set|var> <name>    List references to a symbol")
	fmt.Fprintln(w, "  drs snapshots [-prune N] <script>         List or prune saved source versions")
	fmt.Fprintln(w, "  drs cache [-prune BYTES]                  Show or trim the compiled-script cache")
	fmt.Fprintln(w, "  drs login <subject>                       Get a registry token and keep it in the keyring")
	fmt.Fprintln(w, "  drs publish [script]...                   Upload workspace scripts to the registry")
	fmt.Fprintln(w, "  drs remote list|show <name>               Browse the registry")
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) (code int) {
	cfg, token, err := config.Load()
	if err != nil {
		fmt.Fprintln(stderr, "Warning:", err)
	}
	// initialize structured logging: config file first, DRS_LOG_* already applied by config.Load
	applog.Init(applog.Options{
		Level:     cfg.Logging.Level,
		Format:    cfg.Logging.Format,
		AddSource: cfg.Logging.Source,
		File:      cfg.Logging.File,
		Console:   stderr,
	})
	telemetry.NewDefault(telemetry.FromConfig(cfg))
	defer crash.Recover(nil)

	a := &app{stdin: stdin, stdout: stdout, stderr: stderr, cfg: cfg, token: token, log: applog.WithComponent("cli")}
	if len(args) == 0 {
		usage(stdout)
		return 2
	}
	a.log.Debug("start", slog.String("cmd", args[0]), slog.Int("args", len(args)-1))

	var cmd func([]string) error
	switch args[0] {
	case "version", "--version", "-v":
		fmt.Fprintln(stdout, version.String())
		return 0
	case "help", "-h", "--help":
		usage(stdout)
		return 0
	case "check":
		cmd = a.check
	case "build":
		cmd = a.build
	case "disasm":
		cmd = a.disasm
	case "run":
		cmd = a.play
	case "init":
		cmd = a.initWorkspace
	case "add":
		cmd = a.addScript
	case "index":
		cmd = a.index
	case "search":
		cmd = a.search
	case "refs":
		cmd = a.refs
	case "snapshots":
		cmd = a.snapshots
	case "cache":
		cmd = a.cache
	case "login":
		cmd = a.login
	case "publish":
		cmd = a.publish
	case "remote":
		cmd = a.remote
	default:
		fmt.Fprintf(stderr, "unknown command %q\n", args[0])
		usage(stderr)
		return 2
	}

	err = cmd(args[1:])
	var ee exitError
	switch {
	case err == nil:
		return 0
	case errors.Is(err, flag.ErrHelp):
		return 0
	case errors.Is(err, errUsage):
		usage(stderr)
		return 2
	case errors.As(err, &ee):
		return ee.code
	}
	a.log.Error("command failed", slog.String("cmd", args[0]), slog.Any("err", err))
	fmt.Fprintln(stderr, "Error:", err)
	return 1
}

// flags returns a FlagSet for a subcommand that reports errors instead of exiting.
func (a *app) flags(name string) *flag.FlagSet {
	fs := flag.NewFlagSet("drs "+name, flag.ContinueOnError)
	fs.SetOutput(a.stderr)
	return fs
}
