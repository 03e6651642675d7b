// Package client is a typed HTTP client for the gitagentd Control API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ssd-technologies/gitagent/internal/storage"
)

// APIError is a non-2xx response from the server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

// IsNotFound reports whether err is a 404 from the server.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// Client talks to one gitagentd instance.
type Client struct {
	baseURL    *url.URL
	token      string
	httpClient *http.Client
}

// New creates a Client for baseURL. token is sent as a bearer token when set.
func New(baseURL, token string) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse server url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("server url %q must be http or https", baseURL)
	}
	return &Client{
		baseURL:    u,
		token:      token,
		httpClient: &http.Client{Timeout: 2 * time.Minute},
	}, nil
}

// Ref names an agent by hash or by repository and branch.
type Ref struct {
	BranchHash string `json:"branch_hash,omitempty"`
	RepoURL    string `json:"repo_url,omitempty"`
	BranchName string `json:"branch_name,omitempty"`
}

func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/health", nil, nil)
}

// ListAgents returns all agents, or those of repoURL when non-empty.
func (c *Client) ListAgents(ctx context.Context, repoURL string) ([]storage.Agent, error) {
	path := "/api/agents"
	if repoURL != "" {
		path += "?repo_url=" + url.QueryEscape(repoURL)
	}
	var out struct {
		Agents []storage.Agent `json:"agents"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	return out.Agents, nil
}

func (c *Client) GetAgent(ctx context.Context, hash string) (*storage.Agent, error) {
	var out struct {
		Agent *storage.Agent `json:"agent"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/agents/"+url.PathEscape(hash), nil, &out); err != nil {
		return nil, fmt.Errorf("get agent: %w", err)
	}
	return out.Agent, nil
}

// RestartAgent relaunches the agent and returns its updated record.
func (c *Client) RestartAgent(ctx context.Context, hash string) (*storage.Agent, error) {
	var out struct {
		Agent *storage.Agent `json:"agent"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/agents/"+url.PathEscape(hash)+"/restart", nil, &out); err != nil {
		return nil, fmt.Errorf("restart agent: %w", err)
	}
	return out.Agent, nil
}

func (c *Client) SetSecret(ctx context.Context, ref Ref, key, value string) error {
	body := struct {
		Ref
		Key   string `json:"key"`
		Value string `json:"value"`
	}{ref, key, value}
	if err := c.do(ctx, http.MethodPost, "/api/secrets", body, nil); err != nil {
		return fmt.Errorf("set secret: %w", err)
	}
	return nil
}

// SecretKeys lists the names of an agent's secrets.
func (c *Client) SecretKeys(ctx context.Context, hash string) ([]string, error) {
	var out struct {
		Keys []string `json:"keys"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/agents/"+url.PathEscape(hash)+"/secrets", nil, &out); err != nil {
		return nil, fmt.Errorf("list secret keys: %w", err)
	}
	return out.Keys, nil
}

// Metrics returns the newest metrics first. limit <= 0 uses the server default.
func (c *Client) Metrics(ctx context.Context, hash string, limit int) ([]storage.Metric, error) {
	path := "/api/metrics/" + url.PathEscape(hash)
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var out struct {
		Metrics []storage.Metric `json:"metrics"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, fmt.Errorf("list metrics: %w", err)
	}
	return out.Metrics, nil
}

func (c *Client) Stats(ctx context.Context, hash string) (*storage.AgentStats, error) {
	var out struct {
		Stats *storage.AgentStats `json:"stats"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/stats/"+url.PathEscape(hash), nil, &out); err != nil {
		return nil, fmt.Errorf("agent stats: %w", err)
	}
	return out.Stats, nil
}

// Logs returns the last lines of the agent's log. lines <= 0 uses the
// server default.
func (c *Client) Logs(ctx context.Context, hash string, lines int) ([]string, error) {
	path := "/api/logs/" + url.PathEscape(hash)
	if lines > 0 {
		path += "?lines=" + strconv.Itoa(lines)
	}
	var out struct {
		Logs []string `json:"logs"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, fmt.Errorf("get logs: %w", err)
	}
	return out.Logs, nil
}

// FollowLogs streams appended log lines to fn until ctx is done, the server
// closes the stream, or fn returns an error.
func (c *Client) FollowLogs(ctx context.Context, hash string, fn func(line string) error) error {
	u := *c.baseURL
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	u.Path += "/api/logs/" + hash + "/follow"

	header := http.Header{}
	c.authorize(header)
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), header)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("follow logs: %w", responseError(resp))
		}
		return fmt.Errorf("follow logs: %w", err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	for {
		var msg struct {
			Type string `json:"type"`
			Line string `json:"line"`
		}
		if err := conn.ReadJSON(&msg); err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return nil
			}
			return fmt.Errorf("follow logs: %w", err)
		}
		if msg.Type == "error" {
			return fmt.Errorf("follow logs: server: %s", msg.Line)
		}
		if err := fn(msg.Line); err != nil {
			return err
		}
	}
}

func (c *Client) authorize(h http.Header) {
	if c.token != "" {
		h.Set("Authorization", "Bearer "+c.token)
	}
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL.String()+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.authorize(req.Header)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return responseError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// responseError builds an APIError from the server's {"error": msg} body.
func responseError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var payload struct {
		Error string `json:"error"`
	}
	msg := strings.TrimSpace(string(data))
	if json.Unmarshal(data, &payload) == nil && payload.Error != "" {
		msg = payload.Error
	}
	return &APIError{StatusCode: resp.StatusCode, Message: msg}
}
