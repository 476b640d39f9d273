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
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"directscript/internal/ast"
	"directscript/internal/bytecode"
	applog "directscript/internal/log"
	"directscript/internal/session"
	"directscript/internal/storage"
	"directscript/internal/telemetry"
	"directscript/internal/version"
	"directscript/internal/vm"
)

// Config holds server configuration.
type Config struct {
	DBURL  string
	Addr   string // http bind address, e.g., ":8080"
	Secret string
	Memory bool // keep scripts in memory instead of Postgres
	// DevTokens lets anyone mint a token for any subject. It is implied when
	// Secret is empty.
	DevTokens    bool
	SessionTTL   time.Duration
	MaxSessions  int
	HistoryDepth int
}

// LoadConfig reads the server configuration from the environment.
func LoadConfig() Config {
	cfg := Config{
		DBURL:        os.Getenv("DATABASE_URL"),
		Addr:         ":8080",
		Secret:       os.Getenv("DRS_AUTH_SECRET"),
		SessionTTL:   30 * time.Minute,
		MaxSessions:  1000,
		HistoryDepth: 256,
	}
	if v := os.Getenv("DRS_PG_DSN"); v != "" {
		cfg.DBURL = v
	}
	if v := os.Getenv("PORT"); v != "" {
		cfg.Addr = ":" + v
	}
	if v := os.Getenv("DRS_ADDR"); v != "" {
		cfg.Addr = v
	}
	if strings.EqualFold(os.Getenv("DRS_STORE"), "memory") {
		cfg.Memory = true
	}
	switch strings.ToLower(os.Getenv("DRS_DEV_TOKENS")) {
	case "1", "true", "yes", "on":
		cfg.DevTokens = true
	}
	if v, err := time.ParseDuration(os.Getenv("DRS_SESSION_TTL")); err == nil && v > 0 {
		cfg.SessionTTL = v
	}
	if n, err := strconv.Atoi(os.Getenv("DRS_MAX_SESSIONS")); err == nil && n > 0 {
		cfg.MaxSessions = n
	}
	return cfg
}

const devSecret = "dev-secret-change-me"

var scriptNameRE = regexp.MustCompile(`^[A-Za-z0-9_][A-Za-z0-9_.-]{0,127}$`)

type compiledScript struct {
	hash   string
	script *bytecode.Script
}

// Server serves the script registry and play sessions.
type Server struct {
	store     ScriptStore
	secret    string
	devTokens bool
	log       *slog.Logger
	sessions  *registry

	mu       sync.Mutex
	compiled map[string]compiledScript
}

func NewServer(store ScriptStore, cfg Config) *Server {
	l := applog.WithComponent("backend")
	if cfg.Secret == "" {
		cfg.Secret = devSecret
		cfg.DevTokens = true
		l.Warn("DRS_AUTH_SECRET not set; using insecure dev secret")
	}
	if cfg.DevTokens {
		l.Warn("dev tokens enabled; /api/auth/token issues tokens without credentials")
	}
	if cfg.HistoryDepth <= 0 {
		cfg.HistoryDepth = 256
	}
	return &Server{
		store:     store,
		secret:    cfg.Secret,
		devTokens: cfg.DevTokens,
		log:       l,
		sessions:  newRegistry(cfg.SessionTTL, cfg.MaxSessions, cfg.HistoryDepth),
		compiled:  map[string]compiledScript{},
	}
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.store.Ping(ctx); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("db not ready"))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})
	mux.HandleFunc("GET /version", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("drs-server " + version.String()))
	})
	mux.HandleFunc("POST /api/auth/token", s.handleToken)

	auth := func(h func(http.ResponseWriter, *http.Request, string)) http.HandlerFunc {
		return withAuth(s.secret, h)
	}
	mux.HandleFunc("GET /api/scripts", auth(s.handleListScripts))
	mux.HandleFunc("PUT /api/scripts/{name}", auth(s.handlePublish))
	mux.HandleFunc("GET /api/scripts/{name}", auth(s.handleGetScript))
	mux.HandleFunc("POST /api/scripts/{name}/sessions", auth(s.handleStartSession))
	mux.HandleFunc("GET /api/search", auth(s.handleSearch))
	mux.HandleFunc("GET /api/sessions/{id}", auth(s.handleGetSession))
	mux.HandleFunc("POST /api/sessions/{id}/step", auth(s.handleStep))
	mux.HandleFunc("POST /api/sessions/{id}/choose", auth(s.handleChoose))
	mux.HandleFunc("POST /api/sessions/{id}/back", auth(s.handleBack))
	mux.HandleFunc("POST /api/sessions/{id}/vars", auth(s.handleBind))
	mux.HandleFunc("DELETE /api/sessions/{id}", auth(s.handleEndSession))
	return mux
}

// POST /api/auth/token → { token, expires_at }
// Outside dev mode the caller must present the server secret as its bearer.
func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	if !s.devTokens && !hasSecret(r, s.secret) {
		writeError(w, http.StatusUnauthorized, errors.New("token issuance requires the server secret"))
		return
	}
	// Optional JSON body: { "subject": "name", "ttl_seconds": 3600 }
	var req struct {
		Subject    string `json:"subject"`
		TTLSeconds int64  `json:"ttl_seconds"`
	}
	b, _ := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	_ = r.Body.Close()
	_ = json.Unmarshal(b, &req)
	if req.Subject == "" {
		req.Subject = "dev"
	}
	if req.TTLSeconds <= 0 || req.TTLSeconds > 24*3600 {
		req.TTLSeconds = 3600
	}
	exp := time.Now().Add(time.Duration(req.TTLSeconds) * time.Second)
	tok, err := signToken(s.secret, req.Subject, exp)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"token":      tok,
		"expires_at": exp.UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleListScripts(w http.ResponseWriter, r *http.Request, _ string) {
	list, err := s.store.ListScripts(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if list == nil {
		list = []ScriptInfo{}
	}
	writeJSON(w, http.StatusOK, list)
}

// PublishResult answers a publish request.
type PublishResult struct {
	ScriptInfo
	Labels       int `json:"labels"`
	Instructions int `json:"instructions"`
}

// CompileFailure is the 422 body of a publish with errors.
type CompileFailure struct {
	Error       string                `json:"error"`
	Diagnostics []bytecode.Diagnostic `json:"diagnostics"`
}

func (s *Server) handlePublish(w http.ResponseWriter, r *http.Request, subject string) {
	name := r.PathValue("name")
	if !scriptNameRE.MatchString(name) {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid script name %q", name))
		return
	}
	var req struct {
		Source string `json:"source"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, 4<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode body: %w", err))
		return
	}
	start := time.Now()
	tree, err := ast.Parse(req.Source)
	var script *bytecode.Script
	if err == nil {
		script, err = bytecode.Compile(tree)
	}
	if err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, CompileFailure{Error: err.Error(), Diagnostics: bytecode.Diagnostics(err)})
		return
	}
	script = script.WithSource(name)
	blob, err := script.MarshalBinary()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	rec := ScriptRecord{
		ScriptInfo: ScriptInfo{Name: name, Hash: storage.SourceHash(req.Source), PublishedBy: subject},
		Source:     req.Source,
		Blob:       blob,
		Symbols:    storage.Symbols(name, tree, script),
	}
	info, err := s.store.PutScript(r.Context(), rec)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.mu.Lock()
	s.compiled[name] = compiledScript{hash: rec.Hash, script: script}
	s.mu.Unlock()
	labels := len(script.Labels())
	telemetry.ScriptCompiled(labels, script.Len(), time.Since(start), false)
	s.log.Info("script published", slog.String("script", name), slog.Int64("version", info.Version), slog.String("by", subject))
	writeJSON(w, http.StatusOK, PublishResult{ScriptInfo: info, Labels: labels, Instructions: script.Len()})
}

// scriptFor returns the compiled form of a published script, decoding the
// stored blob when the cached copy is missing or stale.
func (s *Server) scriptFor(ctx context.Context, name string) (ScriptRecord, *bytecode.Script, error) {
	rec, err := s.store.GetScript(ctx, name)
	if err != nil {
		return ScriptRecord{}, nil, err
	}
	s.mu.Lock()
	c, ok := s.compiled[name]
	s.mu.Unlock()
	if ok && c.hash == rec.Hash {
		return rec, c.script, nil
	}
	script, err := bytecode.Decode(rec.Blob)
	if err != nil {
		return ScriptRecord{}, nil, fmt.Errorf("decode %s: %w", name, err)
	}
	s.mu.Lock()
	s.compiled[name] = compiledScript{hash: rec.Hash, script: script}
	s.mu.Unlock()
	return rec, script, nil
}

// ScriptDetail describes a published script.
type ScriptDetail struct {
	ScriptInfo
	Instructions int             `json:"instructions"`
	Labels       []LabelView     `json:"labels"`
	ChoiceSets   []ChoiceSetView `json:"choice_sets"`
	Triggers     []string        `json:"triggers"`
	Source       string          `json:"source,omitempty"`
}

type LabelView struct {
	Name   string `json:"name"`
	Target int    `json:"target"`
}

type ChoiceSetView struct {
	Name    string       `json:"name"`
	Options []OptionView `json:"options"`
}

func (s *Server) handleGetScript(w http.ResponseWriter, r *http.Request, _ string) {
	rec, script, err := s.scriptFor(r.Context(), r.PathValue("name"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	d := ScriptDetail{ScriptInfo: rec.ScriptInfo, Instructions: script.Len(), Labels: []LabelView{}, ChoiceSets: []ChoiceSetView{}, Triggers: []string{}}
	for _, l := range script.Labels() {
		d.Labels = append(d.Labels, LabelView{Name: l.Name.String(), Target: l.Target})
	}
	for _, cs := range script.ChoiceSets() {
		v := ChoiceSetView{Name: cs.Name.String()}
		for _, o := range cs.Options {
			v.Options = append(v.Options, OptionView{Name: o.Name.String(), Text: o.Text.String()})
		}
		d.ChoiceSets = append(d.ChoiceSets, v)
	}
	for _, t := range script.Triggers() {
		d.Triggers = append(d.Triggers, t.String())
	}
	if r.URL.Query().Get("source") == "1" {
		d.Source = rec.Source
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request, _ string) {
	qv := r.URL.Query()
	q := storage.SearchQuery{
		Text:    qv.Get("q"),
		Kinds:   qv["kind"],
		Script:  qv.Get("script"),
		Speaker: qv.Get("speaker"),
	}
	q.Limit, _ = strconv.Atoi(qv.Get("limit"))
	q.Offset, _ = strconv.Atoi(qv.Get("offset"))
	res, err := s.store.Search(r.Context(), q)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if res == nil {
		res = []storage.SearchResult{}
	}
	writeJSON(w, http.StatusOK, res)
}

// StartRequest opens a play session. An empty label starts at the first
// label of the script.
type StartRequest struct {
	Label string                `json:"label"`
	Vars  map[string]vm.Variant `json:"vars"`
}

func (s *Server) handleStartSession(w http.ResponseWriter, r *http.Request, subject string) {
	name := r.PathValue("name")
	var req StartRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, fmt.Errorf("decode body: %w", err))
			return
		}
	}
	_, script, err := s.scriptFor(r.Context(), name)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if req.Label == "" {
		labels := script.Labels()
		if len(labels) == 0 {
			writeError(w, http.StatusBadRequest, fmt.Errorf("script %s has no labels", name))
			return
		}
		req.Label = labels[0].Name.String()
	}
	id, err := newSessionID()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	env := vm.MapEnvironment{}
	for k, v := range req.Vars {
		env.Set(k, v)
	}
	p := &playSession{id: id, script: name, subject: subject}
	p.sess = session.New(script, env, session.Options{
		ID:      id,
		History: s.sessions.hist,
		Logger:  s.log,
		Handlers: session.Handlers{OnEnd: func() {
			s.sessionEnded(p)
		}},
	})
	p.mu.Lock()
	defer p.mu.Unlock()
	st, err := p.sess.Start(req.Label)
	if errors.Is(err, session.ErrUnknownLabel) {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.sessions.add(p); err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	if rerr := s.store.RecordSession(r.Context(), id, name, subject, req.Label); rerr != nil {
		s.log.Warn("record session failed", slog.String("session", id), slog.Any("err", rerr))
	}
	telemetry.SessionStarted("server")
	s.writeStep(w, p, st, err)
}

func (s *Server) sessionEnded(p *playSession) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.store.EndSession(ctx, p.id); err != nil {
		s.log.Warn("end session failed", slog.String("session", p.id), slog.Any("err", err))
	}
	telemetry.SessionEnded("server", p.steps+1)
}

// withSession resolves {id} and runs fn with the session locked.
func (s *Server) withSession(w http.ResponseWriter, r *http.Request, subject string, fn func(p *playSession)) {
	p, err := s.sessions.get(r.PathValue("id"), subject)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	fn(p)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request, subject string) {
	s.withSession(w, r, subject, func(p *playSession) {
		writeJSON(w, http.StatusOK, p.view())
	})
}

func (s *Server) handleStep(w http.ResponseWriter, r *http.Request, subject string) {
	s.withSession(w, r, subject, func(p *playSession) {
		st, err := p.sess.Next()
		s.writeStep(w, p, st, err)
	})
}

func (s *Server) handleChoose(w http.ResponseWriter, r *http.Request, subject string) {
	var req struct {
		Option string `json:"option"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<16)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode body: %w", err))
		return
	}
	s.withSession(w, r, subject, func(p *playSession) {
		st, err := p.sess.Choose(req.Option)
		s.writeStep(w, p, st, err)
	})
}

func (s *Server) handleBack(w http.ResponseWriter, r *http.Request, subject string) {
	s.withSession(w, r, subject, func(p *playSession) {
		st, err := p.sess.Back()
		s.writeStep(w, p, st, err)
	})
}

// handleBind sets variables, typically the one a condition reported unbound.
func (s *Server) handleBind(w http.ResponseWriter, r *http.Request, subject string) {
	var vars map[string]vm.Variant
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&vars); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode body: %w", err))
		return
	}
	s.withSession(w, r, subject, func(p *playSession) {
		for k, v := range vars {
			p.sess.Bind(k, v)
		}
		writeJSON(w, http.StatusOK, p.view())
	})
}

func (s *Server) handleEndSession(w http.ResponseWriter, r *http.Request, subject string) {
	s.withSession(w, r, subject, func(p *playSession) {
		s.sessions.remove(p.id)
		if err := s.store.EndSession(r.Context(), p.id); err != nil {
			s.log.Warn("end session failed", slog.String("session", p.id), slog.Any("err", err))
		}
		w.WriteHeader(http.StatusNoContent)
	})
}

// writeStep answers a session operation. p must be locked.
func (s *Server) writeStep(w http.ResponseWriter, p *playSession, st vm.Step, err error) {
	if err == nil {
		p.steps++
		v := p.view()
		v.Step = stepView(st)
		writeJSON(w, http.StatusOK, v)
		return
	}
	var ub *vm.UnboundVariableError
	switch {
	case errors.As(err, &ub):
		v := p.view()
		v.Step, v.Unbound, v.Error = nil, ub.Name, err.Error()
		writeJSON(w, http.StatusUnprocessableEntity, v)
	case errors.Is(err, session.ErrUnknownOption), errors.Is(err, session.ErrUnknownLabel):
		writeError(w, http.StatusBadRequest, err)
	case errors.Is(err, session.ErrChoicePending), errors.Is(err, session.ErrNoChoice),
		errors.Is(err, session.ErrNotRunning), errors.Is(err, session.ErrNoHistory):
		writeError(w, http.StatusConflict, err)
	default:
		s.log.Error("session step failed", slog.String("session", p.id), slog.Any("err", err))
		writeError(w, http.StatusInternalServerError, err)
	}
}

func writeStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, ErrNotFound) {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeError(w, http.StatusInternalServerError, err)
}

// ExpireSessions drops idle sessions and returns how many were dropped.
func (s *Server) ExpireSessions(ctx context.Context, now time.Time) int {
	ids := s.sessions.expire(now)
	for _, id := range ids {
		if err := s.store.EndSession(ctx, id); err != nil {
			s.log.Warn("end session failed", slog.String("session", id), slog.Any("err", err))
		}
	}
	if len(ids) > 0 {
		s.log.Info("expired idle sessions", slog.Int("count", len(ids)))
	}
	return len(ids)
}

// Start runs the HTTP server until ctx is cancelled. Postgres migrations are
// applied at startup unless cfg.Memory is set.
func Start(ctx context.Context, cfg Config) error {
	l := applog.WithComponent("backend")
	var store ScriptStore
	if cfg.Memory {
		store = NewMemStore()
	} else {
		db, err := OpenDB(ctx, cfg.DBURL)
		if err != nil {
			return err
		}
		defer func() {
			if err := db.Close(); err != nil {
				l.Error("db close", slog.Any("err", err))
			}
		}()
		store = NewPGStore(db)
	}
	srv := NewServer(store, cfg)
	hs := &http.Server{Addr: cfg.Addr, Handler: srv.Handler(), ReadHeaderTimeout: 10 * time.Second}

	go func() {
		t := time.NewTicker(time.Minute)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-t.C:
				srv.ExpireSessions(ctx, now)
			}
		}
	}()
	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = hs.Shutdown(sctx)
	}()

	l.Info("drs-server listening", slog.String("addr", cfg.Addr), slog.Bool("memory", cfg.Memory))
	if err := hs.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
