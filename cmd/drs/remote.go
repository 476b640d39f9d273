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
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"text/tabwriter"
	"time"

	"directscript/internal/backend"
	"directscript/internal/config"
	"directscript/internal/crash"
	"directscript/internal/domain"
)

// client returns a registry client configured from the user config.
func (a *app) client() *backend.Client {
	c := backend.NewClient(a.cfg.Backend.BaseURL, a.token).WithTimeout(a.cfg.Backend.Timeout())
	if a.cfg.Backend.TLSInsecure {
		c.WithTransport(&http.Transport{TLSClientConfig: &tls.Config{InsecureSkipVerify: true}})
	}
	return c
}

func (a *app) login(args []string) error {
	if len(args) != 1 {
		return errUsage
	}
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Backend.Timeout())
	defer cancel()
	c := a.client()
	if secret := os.Getenv(config.EnvAuthSecret); secret != "" {
		c.WithIssuerSecret(secret)
	}
	tok, err := c.Login(ctx, args[0])
	if err != nil {
		return err
	}
	if err := config.Save(a.cfg, tok); err != nil {
		return fmt.Errorf("store token: %w", err)
	}
	a.token = tok
	fmt.Fprintf(a.stdout, "logged in to %s as %s\n", a.cfg.Backend.BaseURL, args[0])
	return nil
}

// publish uploads the named workspace scripts, or all of them.
func (a *app) publish(args []string) error {
	wh, err := a.workspace()
	if err != nil {
		return err
	}
	defer crash.Recover(wh)
	refs := wh.Workspace.Scripts
	if len(args) > 0 {
		refs = nil
		for _, key := range args {
			ref, ok := wh.Workspace.Script(key)
			if !ok {
				return fmt.Errorf("no script %q in workspace", key)
			}
			refs = append(refs, ref)
		}
	}
	if len(refs) == 0 {
		return errors.New("workspace has no scripts")
	}
	c := a.client()
	failed := 0
	for _, ref := range refs {
		if err := a.publishOne(c, wh.ReadScript, ref); err != nil {
			failed++
			fmt.Fprintln(a.stderr, err)
		}
	}
	if failed > 0 {
		return exitError{code: 1}
	}
	return nil
}

func (a *app) publishOne(c *backend.Client, read func(domain.ScriptRef) (string, error), ref domain.ScriptRef) error {
	src, err := read(ref)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Backend.Timeout())
	defer cancel()
	name := ref.RegistryName()
	res, err := c.Publish(ctx, name, src)
	var apiErr *backend.APIError
	if errors.As(err, &apiErr) && apiErr.Status == http.StatusUnprocessableEntity {
		var cf backend.CompileFailure
		if json.Unmarshal(apiErr.Body, &cf) == nil && len(cf.Diagnostics) > 0 {
			return &sourceError{path: ref.Path, err: err, diags: cf.Diagnostics}
		}
	}
	if err != nil {
		return fmt.Errorf("%s: %w", ref.Path, err)
	}
	a.log.Info("published", slog.String("script", name), slog.Int64("version", res.Version))
	fmt.Fprintf(a.stdout, "%s -> %s v%d (%d labels, %d instructions)\n", ref.Path, name, res.Version, res.Labels, res.Instructions)
	return nil
}

func (a *app) remote(args []string) error {
	if len(args) == 0 {
		return errUsage
	}
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Backend.Timeout())
	defer cancel()
	c := a.client()
	switch args[0] {
	case "list", "ls":
		list, err := c.ListScripts(ctx)
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(a.stdout, 0, 4, 2, ' ', 0)
		for _, s := range list {
			fmt.Fprintf(tw, "%s\tv%d\t%s\t%s\n", s.Name, s.Version, s.PublishedBy, s.UpdatedAt.Local().Format(time.DateTime))
		}
		return tw.Flush()
	case "show":
		if len(args) != 2 {
			return errUsage
		}
		d, err := c.GetScript(ctx, args[1], false)
		if err != nil {
			return err
		}
		fmt.Fprintf(a.stdout, "%s v%d, %d instructions\n", d.Name, d.Version, d.Instructions)
		for _, l := range d.Labels {
			fmt.Fprintf(a.stdout, "  label %s @%d\n", l.Name, l.Target)
		}
		for _, cs := range d.ChoiceSets {
			fmt.Fprintf(a.stdout, "  choices %s (%d options)\n", cs.Name, len(cs.Options))
		}
		for _, t := range d.Triggers {
			fmt.Fprintf(a.stdout, "  trigger %s\n", t)
		}
		return nil
	}
	return errUsage
}
