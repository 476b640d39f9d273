/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package backend

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"directscript/internal/storage"
	"directscript/internal/vm"
)

const quiz = `start:
  host -> "Ready?"
  choice answer yes_no
  if (answer == "yes"): trigger celebrate else: "Maybe later."
  end

yes_no: yes -> "Yes", no -> "No"
`

func newTestServer(t *testing.T, cfg Config) (*Server, *Client) {
	t.Helper()
	if cfg.Secret == "" {
		cfg.Secret = "test-secret"
	}
	srv := NewServer(NewMemStore(), cfg)
	srv.log = slog.New(slog.NewTextHandler(io.Discard, nil))
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	c := NewClient(ts.URL+"/", "").WithIssuerSecret(cfg.Secret)
	if _, err := c.Login(context.Background(), "alice"); err != nil {
		t.Fatalf("login: %v", err)
	}
	return srv, c
}

func apiStatus(t *testing.T, err error) *APIError {
	t.Helper()
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *APIError, got %v", err)
	}
	return apiErr
}

func TestHealthAndVersion(t *testing.T) {
	_, c := newTestServer(t, Config{})
	for path, want := range map[string]string{"/healthz": "ok", "/readyz": "ready"} {
		resp, err := http.Get(c.BaseURL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		b, _ := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if resp.StatusCode != http.StatusOK || string(b) != want {
			t.Fatalf("GET %s = %d %q, want 200 %q", path, resp.StatusCode, b, want)
		}
	}
	resp, err := http.Get(c.BaseURL + "/version")
	if err != nil {
		t.Fatalf("GET /version: %v", err)
	}
	b, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if !strings.HasPrefix(string(b), "drs-server ") {
		t.Fatalf("version = %q", b)
	}
}

func TestScriptsRequireToken(t *testing.T) {
	_, c := newTestServer(t, Config{})
	anon := NewClient(c.BaseURL, "")
	if _, err := anon.ListScripts(context.Background()); apiStatus(t, err).Status != http.StatusUnauthorized {
		t.Fatalf("anonymous list = %v, want 401", err)
	}
	forged := NewClient(c.BaseURL, c.Token+"x")
	if _, err := forged.ListScripts(context.Background()); apiStatus(t, err).Status != http.StatusUnauthorized {
		t.Fatalf("forged token list = %v, want 401", err)
	}
}

func TestTokenIssuanceRequiresSecret(t *testing.T) {
	_, c := newTestServer(t, Config{Secret: "issuer"})
	ctx := context.Background()
	if _, err := NewClient(c.BaseURL, "").Login(ctx, "mallory"); apiStatus(t, err).Status != http.StatusUnauthorized {
		t.Fatalf("login without secret = %v, want 401", err)
	}
	if _, err := NewClient(c.BaseURL, "").WithIssuerSecret("guess").Login(ctx, "mallory"); apiStatus(t, err).Status != http.StatusUnauthorized {
		t.Fatalf("login with wrong secret = %v, want 401", err)
	}
	// a user token is not an issuer credential
	if _, err := NewClient(c.BaseURL, "").WithIssuerSecret(c.Token).Login(ctx, "mallory"); apiStatus(t, err).Status != http.StatusUnauthorized {
		t.Fatalf("login with a user token = %v, want 401", err)
	}

	for name, cfg := range map[string]Config{
		"dev tokens": {Secret: "issuer", DevTokens: true},
		"no secret":  {},
	} {
		t.Run(name, func(t *testing.T) {
			srv := NewServer(NewMemStore(), cfg)
			ts := httptest.NewServer(srv.Handler())
			defer ts.Close()
			anon := NewClient(ts.URL, "")
			if _, err := anon.Login(ctx, "bob"); err != nil {
				t.Fatalf("dev login: %v", err)
			}
			if _, err := anon.ListScripts(ctx); err != nil {
				t.Fatalf("list with dev token: %v", err)
			}
		})
	}
}

func TestPublishListAndGet(t *testing.T) {
	_, c := newTestServer(t, Config{})
	ctx := context.Background()

	res, err := c.Publish(ctx, "quiz", quiz)
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if res.Version != 1 || res.Labels != 1 || res.Instructions == 0 || res.PublishedBy != "alice" {
		t.Fatalf("publish result = %+v", res)
	}
	again, err := c.Publish(ctx, "quiz", quiz)
	if err != nil {
		t.Fatalf("republish: %v", err)
	}
	if again.Version != 1 {
		t.Fatalf("unchanged source bumped version to %d", again.Version)
	}
	changed, err := c.Publish(ctx, "quiz", strings.Replace(quiz, "Ready?", "Ready now?", 1))
	if err != nil {
		t.Fatalf("publish change: %v", err)
	}
	if changed.Version != 2 {
		t.Fatalf("version after change = %d, want 2", changed.Version)
	}

	list, err := c.ListScripts(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 || list[0].Name != "quiz" {
		t.Fatalf("list = %+v", list)
	}

	d, err := c.GetScript(ctx, "quiz", true)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(d.Labels) != 1 || d.Labels[0].Name != "start" || d.Labels[0].Target != 0 {
		t.Fatalf("labels = %+v", d.Labels)
	}
	if len(d.ChoiceSets) != 1 || d.ChoiceSets[0].Name != "yes_no" || len(d.ChoiceSets[0].Options) != 2 {
		t.Fatalf("choice sets = %+v", d.ChoiceSets)
	}
	if len(d.Triggers) != 1 || d.Triggers[0] != "celebrate" {
		t.Fatalf("triggers = %v", d.Triggers)
	}
	if !strings.Contains(d.Source, "Ready now?") {
		t.Fatalf("source not returned: %q", d.Source)
	}

	if _, err := c.GetScript(ctx, "missing", false); apiStatus(t, err).Status != http.StatusNotFound {
		t.Fatalf("get missing = %v, want 404", err)
	}
}

func TestPublishRejectsBrokenSource(t *testing.T) {
	_, c := newTestServer(t, Config{})
	_, err := c.Publish(context.Background(), "broken", "a:\n  jump nowhere\n")
	apiErr := apiStatus(t, err)
	if apiErr.Status != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", apiErr.Status)
	}
	var cf CompileFailure
	if err := json.Unmarshal(apiErr.Body, &cf); err != nil {
		t.Fatalf("decode failure: %v", err)
	}
	if len(cf.Diagnostics) == 0 || cf.Diagnostics[0].Line != 2 {
		t.Fatalf("diagnostics = %+v", cf.Diagnostics)
	}
	if _, err := c.Publish(context.Background(), "bad name!", quiz); apiStatus(t, err).Status != http.StatusBadRequest {
		t.Fatalf("bad name = %v, want 400", err)
	}
}

func TestPlaySessionThroughChoice(t *testing.T) {
	_, c := newTestServer(t, Config{})
	ctx := context.Background()
	if _, err := c.Publish(ctx, "quiz", quiz); err != nil {
		t.Fatalf("publish: %v", err)
	}

	v, err := c.StartSession(ctx, "quiz", StartRequest{})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if v.Step == nil || v.Step.Type != "text" || v.Step.Speaker != "host" || v.Step.Text != "Ready?" {
		t.Fatalf("first step = %+v", v.Step)
	}
	id := v.ID

	v, err = c.Step(ctx, id)
	if err != nil {
		t.Fatalf("step: %v", err)
	}
	if v.Step.Type != "choice" || v.Step.StoreTo != "answer" || len(v.Step.Options) != 2 {
		t.Fatalf("choice step = %+v", v.Step)
	}
	if _, err := c.Step(ctx, id); apiStatus(t, err).Status != http.StatusConflict {
		t.Fatalf("step during choice = %v, want 409", err)
	}
	if _, err := c.Choose(ctx, id, "maybe"); apiStatus(t, err).Status != http.StatusBadRequest {
		t.Fatalf("unknown option = %v, want 400", err)
	}

	v, err = c.Choose(ctx, id, "no")
	if err != nil {
		t.Fatalf("choose: %v", err)
	}
	if v.Step.Type != "text" || v.Step.Text != "Maybe later." {
		t.Fatalf("after no = %+v", v.Step)
	}

	v, err = c.Back(ctx, id)
	if err != nil {
		t.Fatalf("back: %v", err)
	}
	if v.Step.Type != "choice" {
		t.Fatalf("back should show the choice again, got %+v", v.Step)
	}
	v, err = c.Choose(ctx, id, "yes")
	if err != nil {
		t.Fatalf("choose yes: %v", err)
	}
	if v.Step.Type != "trigger" || v.Step.Trigger != "celebrate" {
		t.Fatalf("after yes = %+v", v.Step)
	}
	v, err = c.Step(ctx, id)
	if err != nil {
		t.Fatalf("step to end: %v", err)
	}
	if v.Step.Type != "end" || v.Running {
		t.Fatalf("expected end, got %+v", v)
	}
	if _, err := c.Step(ctx, id); apiStatus(t, err).Status != http.StatusConflict {
		t.Fatalf("step after end = %v, want 409", err)
	}
	if err := c.EndSession(ctx, id); err != nil {
		t.Fatalf("end session: %v", err)
	}
	if _, err := c.Step(ctx, id); apiStatus(t, err).Status != http.StatusNotFound {
		t.Fatalf("step after delete = %v, want 404", err)
	}
}

func TestSessionUnboundVariableThenBind(t *testing.T) {
	_, c := newTestServer(t, Config{})
	ctx := context.Background()
	if _, err := c.Publish(ctx, "seen", "a:\n  if (seen): \"again\" else: \"first\"\n"); err != nil {
		t.Fatalf("publish: %v", err)
	}
	_, err := c.StartSession(ctx, "seen", StartRequest{Label: "a"})
	apiErr := apiStatus(t, err)
	if apiErr.Status != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", apiErr.Status)
	}
	var v SessionView
	if err := json.Unmarshal(apiErr.Body, &v); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if v.Unbound != "seen" || v.ID == "" {
		t.Fatalf("view = %+v", v)
	}
	if _, err := c.Bind(ctx, v.ID, map[string]vm.Variant{"seen": vm.Bool(true)}); err != nil {
		t.Fatalf("bind: %v", err)
	}
	got, err := c.Step(ctx, v.ID)
	if err != nil {
		t.Fatalf("step: %v", err)
	}
	if got.Step.Text != "again" {
		t.Fatalf("text = %q, want again", got.Step.Text)
	}
}

func TestStartSessionWithVarsAndLabel(t *testing.T) {
	_, c := newTestServer(t, Config{})
	ctx := context.Background()
	if _, err := c.Publish(ctx, "seen", "a:\n  if (seen): \"again\" else: \"first\"\n"); err != nil {
		t.Fatalf("publish: %v", err)
	}
	v, err := c.StartSession(ctx, "seen", StartRequest{Label: "a", Vars: map[string]vm.Variant{"seen": vm.Bool(false)}})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if v.Step.Text != "first" {
		t.Fatalf("text = %q, want first", v.Step.Text)
	}
	if _, err := c.StartSession(ctx, "seen", StartRequest{Label: "nope"}); apiStatus(t, err).Status != http.StatusBadRequest {
		t.Fatalf("unknown label = %v, want 400", err)
	}
}

func TestSessionsAreScopedToSubject(t *testing.T) {
	_, c := newTestServer(t, Config{})
	ctx := context.Background()
	if _, err := c.Publish(ctx, "quiz", quiz); err != nil {
		t.Fatalf("publish: %v", err)
	}
	v, err := c.StartSession(ctx, "quiz", StartRequest{})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	bob := NewClient(c.BaseURL, "").WithIssuerSecret("test-secret")
	if _, err := bob.Login(ctx, "bob"); err != nil {
		t.Fatalf("login bob: %v", err)
	}
	if _, err := bob.Step(ctx, v.ID); apiStatus(t, err).Status != http.StatusNotFound {
		t.Fatalf("foreign session = %v, want 404", err)
	}
}

func TestSearchPublishedSymbols(t *testing.T) {
	_, c := newTestServer(t, Config{})
	ctx := context.Background()
	if _, err := c.Publish(ctx, "quiz", quiz); err != nil {
		t.Fatalf("publish: %v", err)
	}
	res, err := c.Search(ctx, storage.SearchQuery{Text: "ready", Speaker: "host"})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(res) != 1 || res[0].Kind != storage.KindDialog || res[0].Line != 2 || res[0].Script != "quiz" {
		t.Fatalf("results = %+v", res)
	}
	res, err = c.Search(ctx, storage.SearchQuery{Kinds: []string{storage.KindTrigger}})
	if err != nil {
		t.Fatalf("search kinds: %v", err)
	}
	if len(res) != 1 || res[0].Name != "celebrate" {
		t.Fatalf("trigger results = %+v", res)
	}
}

func TestExpireIdleSessions(t *testing.T) {
	srv, c := newTestServer(t, Config{SessionTTL: time.Minute})
	ctx := context.Background()
	if _, err := c.Publish(ctx, "quiz", quiz); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if _, err := c.StartSession(ctx, "quiz", StartRequest{}); err != nil {
		t.Fatalf("start: %v", err)
	}
	if n := srv.ExpireSessions(ctx, time.Now()); n != 0 {
		t.Fatalf("expired %d fresh sessions", n)
	}
	if n := srv.ExpireSessions(ctx, time.Now().Add(2*time.Minute)); n != 1 {
		t.Fatalf("expired = %d, want 1", n)
	}
	if srv.sessions.count() != 0 {
		t.Fatalf("sessions left = %d", srv.sessions.count())
	}
}

func TestMaxSessions(t *testing.T) {
	_, c := newTestServer(t, Config{MaxSessions: 1})
	ctx := context.Background()
	if _, err := c.Publish(ctx, "quiz", quiz); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if _, err := c.StartSession(ctx, "quiz", StartRequest{}); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := c.StartSession(ctx, "quiz", StartRequest{}); apiStatus(t, err).Status != http.StatusServiceUnavailable {
		t.Fatalf("second session = %v, want 503", err)
	}
}
