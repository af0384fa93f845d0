/*
Package rest implements record.Store against the Firebase Realtime Database
REST API.

PROTOCOL:
  GET   <root>/<path>.json          read subtree
  PUT   <root>/<path>.json  <json>  replace subtree
  PATCH <root>/<path>.json  <json>  shallow merge

  Any non-2xx response is a failure carrying the HTTP status. There is no
  retry and no cache. With a zero timeout a stalled call blocks until the
  caller's context is cancelled.

AUTH:
  Open database rules need no auth. When Auth is set it is sent
  as the "auth" query parameter (database secret or ID token).

USAGE:
  store, err := rest.New(rest.Options{URL: "https://<db>.firebasedatabase.app"})
  raw, err := store.Get(ctx, "users/a@b,com/points")
*/
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/warp/points-engine/record"
)

// Options configures a Client.
type Options struct {
	URL        string
	Auth       string
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// Client talks to one hosted database.
type Client struct {
	base string
	auth string
	http *http.Client
	log  *zap.Logger
}

var _ record.Store = (*Client)(nil)

// New validates the root URL and returns a Client.
func New(opts Options) (*Client, error) {
	u, err := url.Parse(strings.TrimSpace(opts.URL))
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("database url %q: scheme must be http or https", opts.URL)
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: opts.Timeout}
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		base: strings.TrimRight(u.String(), "/"),
		auth: opts.Auth,
		http: hc,
		log:  log,
	}, nil
}

// Get reads the subtree at path.
func (c *Client) Get(ctx context.Context, path string) (json.RawMessage, error) {
	status, body, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, &record.ReadError{Path: path, Err: err}
	}
	if status < 200 || status > 299 {
		return nil, &record.ReadError{Path: path, Status: status, Err: remoteError(body)}
	}
	if record.IsNull(body) {
		return nil, nil
	}
	return body, nil
}

// Put replaces the subtree at path.
func (c *Client) Put(ctx context.Context, path string, value any) (json.RawMessage, error) {
	return c.write(ctx, http.MethodPut, "put", path, value)
}

// Patch merges fields into the subtree at path.
func (c *Client) Patch(ctx context.Context, path string, fields map[string]any) (json.RawMessage, error) {
	return c.write(ctx, http.MethodPatch, "patch", path, fields)
}

func (c *Client) write(ctx context.Context, method, op, path string, value any) (json.RawMessage, error) {
	payload, err := json.Marshal(value)
	if err != nil {
		return nil, &record.WriteError{Op: op, Path: path, Err: err}
	}
	status, body, err := c.do(ctx, method, path, payload)
	if err != nil {
		return nil, &record.WriteError{Op: op, Path: path, Err: err}
	}
	if status < 200 || status > 299 {
		return nil, &record.WriteError{Op: op, Path: path, Status: status, Err: remoteError(body)}
	}
	return body, nil
}

func (c *Client) do(ctx context.Context, method, path string, payload []byte) (int, json.RawMessage, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(path), body)
	if err != nil {
		return 0, nil, fmt.Errorf("build request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.log.Warn("database request failed",
			zap.String("method", method), zap.String("path", path), zap.Error(err))
		return 0, nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("read response: %w", err)
	}
	c.log.Debug("database request",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("took", time.Since(start)))
	return resp.StatusCode, bytes.TrimSpace(data), nil
}

// endpoint builds <root>/<escaped path>.json[?auth=...].
func (c *Client) endpoint(path string) string {
	p := &url.URL{Path: "/" + strings.Join(record.Split(path), "/") + ".json"}
	u := c.base + p.EscapedPath()
	if c.auth != "" {
		u += "?auth=" + url.QueryEscape(c.auth)
	}
	return u
}

// remoteError extracts the {"error": "..."} message the database returns.
func remoteError(body []byte) error {
	var payload struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && payload.Error != "" {
		return errors.New(payload.Error)
	}
	return nil
}
