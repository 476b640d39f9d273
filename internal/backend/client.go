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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"directscript/internal/storage"
	"directscript/internal/vm"
)

// Client is a minimal HTTP client for the script registry API.
type Client struct {
	BaseURL string
	Token   string // bearer token
	client  *http.Client
	issuer  string
}

// NewClient creates a new backend client. baseURL may include a trailing slash; it will be normalized.
func NewClient(baseURL string, token string) *Client {
	b := strings.TrimRight(baseURL, "/")
	return &Client{
		BaseURL: b,
		Token:   token,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// WithTimeout replaces the request timeout.
func (c *Client) WithTimeout(d time.Duration) *Client {
	if d > 0 {
		c.client.Timeout = d
	}
	return c
}

// WithTransport replaces the HTTP transport, e.g. for custom TLS settings.
func (c *Client) WithTransport(rt http.RoundTripper) *Client {
	c.client.Transport = rt
	return c
}

// APIError is a non-2xx answer. Body holds the raw response for callers
// that need the structured error, such as a CompileFailure.
type APIError struct {
	Method string
	Path   string
	Status int
	Msg    string
	Body   []byte
}

func (e *APIError) Error() string {
	if e.Msg != "" {
		return fmt.Sprintf("server %s %s: %d: %s", e.Method, e.Path, e.Status, e.Msg)
	}
	return fmt.Sprintf("server %s %s: %d", e.Method, e.Path, e.Status)
}

func (c *Client) doJSON(ctx context.Context, method, path string, body, dest any) error {
	return c.do(ctx, method, path, c.Token, body, dest)
}

func (c *Client) do(ctx context.Context, method, path, credential string, body, dest any) error {
	u, err := url.Parse(c.BaseURL + path)
	if err != nil {
		return err
	}
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if credential != "" {
		req.Header.Set("Authorization", "Bearer "+credential)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		apiErr := &APIError{Method: method, Path: u.Path, Status: resp.StatusCode, Body: raw}
		var m struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(raw, &m) == nil {
			apiErr.Msg = m.Error
		}
		return apiErr
	}
	if dest == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(dest)
}

// WithIssuerSecret sets the server secret presented by Login. Servers not
// in dev-token mode refuse to issue tokens without it.
func (c *Client) WithIssuerSecret(secret string) *Client {
	c.issuer = secret
	return c
}

// Login requests a bearer token for subject and keeps it on the client.
func (c *Client) Login(ctx context.Context, subject string) (string, error) {
	var out struct {
		Token string `json:"token"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/auth/token", c.issuer, map[string]any{"subject": subject}, &out); err != nil {
		return "", err
	}
	c.Token = out.Token
	return out.Token, nil
}

// ListScripts returns the published scripts, most recently updated first.
func (c *Client) ListScripts(ctx context.Context) ([]ScriptInfo, error) {
	var list []ScriptInfo
	if err := c.doJSON(ctx, http.MethodGet, "/api/scripts", nil, &list); err != nil {
		return nil, err
	}
	return list, nil
}

// Publish uploads source under name. The server compiles it; compile
// errors come back as an *APIError with status 422.
func (c *Client) Publish(ctx context.Context, name, source string) (*PublishResult, error) {
	var out PublishResult
	if err := c.doJSON(ctx, http.MethodPut, "/api/scripts/"+url.PathEscape(name), map[string]string{"source": source}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetScript fetches the labels, choice sets and triggers of a published script.
func (c *Client) GetScript(ctx context.Context, name string, withSource bool) (*ScriptDetail, error) {
	p := "/api/scripts/" + url.PathEscape(name)
	if withSource {
		p += "?source=1"
	}
	var d ScriptDetail
	if err := c.doJSON(ctx, http.MethodGet, p, nil, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

// StartSession opens a play session on a published script.
func (c *Client) StartSession(ctx context.Context, script string, req StartRequest) (*SessionView, error) {
	var v SessionView
	if err := c.doJSON(ctx, http.MethodPost, "/api/scripts/"+url.PathEscape(script)+"/sessions", req, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

// Step advances a session.
func (c *Client) Step(ctx context.Context, id string) (*SessionView, error) {
	return c.sessionOp(ctx, id, "step", struct{}{})
}

// Choose answers the pending choice of a session.
func (c *Client) Choose(ctx context.Context, id, option string) (*SessionView, error) {
	return c.sessionOp(ctx, id, "choose", map[string]string{"option": option})
}

// Back rewinds a session by one step.
func (c *Client) Back(ctx context.Context, id string) (*SessionView, error) {
	return c.sessionOp(ctx, id, "back", struct{}{})
}

// Bind sets session variables, typically the one a step reported unbound.
func (c *Client) Bind(ctx context.Context, id string, vars map[string]vm.Variant) (*SessionView, error) {
	return c.sessionOp(ctx, id, "vars", vars)
}

// Search queries the symbols of the published scripts.
func (c *Client) Search(ctx context.Context, q storage.SearchQuery) ([]storage.SearchResult, error) {
	v := url.Values{}
	if q.Text != "" {
		v.Set("q", q.Text)
	}
	for _, k := range q.Kinds {
		v.Add("kind", k)
	}
	if q.Script != "" {
		v.Set("script", q.Script)
	}
	if q.Speaker != "" {
		v.Set("speaker", q.Speaker)
	}
	if q.Limit > 0 {
		v.Set("limit", strconv.Itoa(q.Limit))
	}
	if q.Offset > 0 {
		v.Set("offset", strconv.Itoa(q.Offset))
	}
	var out []storage.SearchResult
	if err := c.doJSON(ctx, http.MethodGet, "/api/search?"+v.Encode(), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// EndSession closes a session.
func (c *Client) EndSession(ctx context.Context, id string) error {
	return c.doJSON(ctx, http.MethodDelete, "/api/sessions/"+url.PathEscape(id), nil, nil)
}

func (c *Client) sessionOp(ctx context.Context, id, op string, body any) (*SessionView, error) {
	var v SessionView
	if err := c.doJSON(ctx, http.MethodPost, "/api/sessions/"+url.PathEscape(id)+"/"+op, body, &v); err != nil {
		return nil, err
	}
	return &v, nil
}
