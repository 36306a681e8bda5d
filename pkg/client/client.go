// Package client is a Go client for the craftd HTTP API.
package client

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
)

const (
	DefaultBaseURL = "http://127.0.0.1:8089/api"
	DefaultTimeout = 10 * time.Second
)

// Client provides HTTP client functionality to communicate with a craftd daemon
type Client struct {
	baseURL string
	token   string
	client  *http.Client
	logger  *slog.Logger
}

// Config holds client configuration
type Config struct {
	BaseURL string
	// Token is sent as "Authorization: Bearer <token>" when set.
	Token   string
	Timeout time.Duration
	Logger  *slog.Logger
	// CACert replaces the system roots with a PEM bundle, typically the
	// daemon's generated tls.crt.
	CACert   string
	Insecure bool // Skip TLS verification
}

// APIError is returned for non-2xx replies.
type APIError struct {
	Status  int
	Kind    string
	Message string
}

func (e *APIError) Error() string {
	if e.Kind != "" {
		return fmt.Sprintf("API error (%s): %s", e.Kind, e.Message)
	}
	return "API error: " + e.Message
}

// New creates a new craftd API client
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	transport := &http.Transport{Proxy: http.ProxyFromEnvironment}
	if cfg.CACert != "" || cfg.Insecure {
		tc, err := clientTLS(cfg)
		if err != nil {
			return nil, err
		}
		transport.TLSClientConfig = tc
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		token:   cfg.Token,
		logger:  cfg.Logger,
		client:  &http.Client{Timeout: cfg.Timeout, Transport: transport},
	}, nil
}

func clientTLS(cfg Config) (*tls.Config, error) {
	tc := &tls.Config{MinVersion: tls.VersionTLS12}
	if cfg.Insecure {
		tc.InsecureSkipVerify = true // #nosec G402 operator opt-in
		return tc, nil
	}
	pem, err := os.ReadFile(cfg.CACert)
	if err != nil {
		return nil, fmt.Errorf("failed to read CA certificate file: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, errors.New("failed to parse CA certificate")
	}
	tc.RootCAs = pool
	return tc, nil
}

// IsReachable checks if the daemon is running and reachable
func (c *Client) IsReachable(ctx context.Context) bool {
	resp, err := c.do(ctx, http.MethodGet, "/status", nil)
	if err != nil {
		c.logger.Debug("daemon unreachable", "error", err)
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	return resp.StatusCode != http.StatusNotFound
}

func (c *Client) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		r = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, r)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return c.client.Do(req)
}

// call performs one request and decodes a 2xx JSON reply into out when out
// is non-nil.
func (c *Client) call(ctx context.Context, method, path string, body, out any) error {
	resp, err := c.do(ctx, method, path, body)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var er ErrorResponse
		if err := json.NewDecoder(resp.Body).Decode(&er); err != nil || er.Error == "" {
			er.Error = resp.Status
		}
		c.logger.Debug("API request failed", "path", path, "status", resp.StatusCode, "error", er.Error)
		return &APIError{Status: resp.StatusCode, Kind: er.Kind, Message: er.Error}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Client) Status(ctx context.Context) (Status, error) {
	var st Status
	err := c.call(ctx, http.MethodGet, "/status", nil, &st)
	return st, err
}

// Start, Stop and Restart return the status after the operation.
func (c *Client) Start(ctx context.Context) (Status, error)   { return c.lifecycle(ctx, "/start") }
func (c *Client) Stop(ctx context.Context) (Status, error)    { return c.lifecycle(ctx, "/stop") }
func (c *Client) Restart(ctx context.Context) (Status, error) { return c.lifecycle(ctx, "/restart") }

func (c *Client) lifecycle(ctx context.Context, path string) (Status, error) {
	var st Status
	err := c.call(ctx, http.MethodPost, path, nil, &st)
	return st, err
}

// SendCommand writes one console command to the server.
func (c *Client) SendCommand(ctx context.Context, line string) error {
	return c.call(ctx, http.MethodPost, "/command", map[string]string{"command": line}, nil)
}

func (c *Client) Versions(ctx context.Context) ([]string, error) {
	var out struct {
		Versions []string `json:"versions"`
	}
	err := c.call(ctx, http.MethodGet, "/versions", nil, &out)
	return out.Versions, err
}

func (c *Client) Fetch(ctx context.Context, req FetchRequest) (FetchResult, error) {
	var res FetchResult
	err := c.call(ctx, http.MethodPost, "/fetch", req, &res)
	return res, err
}

// Compat checks the current profile, or version v when non-empty.
func (c *Client) Compat(ctx context.Context, v string) (Compat, error) {
	path := "/compat"
	if v != "" {
		path += "?version=" + url.QueryEscape(v)
	}
	var rep Compat
	err := c.call(ctx, http.MethodGet, path, nil, &rep)
	return rep, err
}

// Advise assesses moving the current profile to v.
func (c *Client) Advise(ctx context.Context, v string) (Advice, error) {
	var adv Advice
	err := c.call(ctx, http.MethodGet, "/advise?version="+url.QueryEscape(v), nil, &adv)
	return adv, err
}

func (c *Client) Profiles(ctx context.Context) (ProfileList, error) {
	var out ProfileList
	err := c.call(ctx, http.MethodGet, "/profiles", nil, &out)
	return out, err
}

// UseProfile makes ref (id or name) current.
func (c *Client) UseProfile(ctx context.Context, ref string) (Profile, error) {
	var p Profile
	err := c.call(ctx, http.MethodPost, "/profiles/current", map[string]string{"profile": ref}, &p)
	return p, err
}
