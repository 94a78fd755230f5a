// Package httpc is a small client for the liveness REST API. It uses a
// shared HTTP client with sensible timeouts instead of http.DefaultClient.
package httpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/teslashibe/go-liveness/pkg/protocol"
	"github.com/teslashibe/go-liveness/pkg/server"
)

// Default timeouts for HTTP operations.
const (
	DefaultTimeout         = 10 * time.Second
	DefaultConnectTimeout  = 5 * time.Second
	DefaultKeepAlive       = 30 * time.Second
	DefaultIdleConnTimeout = 90 * time.Second
)

// ErrNotFound is returned when the server answers 404.
var ErrNotFound = errors.New("not found")

// APIError is a non-2xx response.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api: %d %s", e.Status, http.StatusText(e.Status))
	}
	return fmt.Sprintf("api: %d: %s", e.Status, e.Message)
}

// Unwrap maps 404 to ErrNotFound.
func (e *APIError) Unwrap() error {
	if e.Status == http.StatusNotFound {
		return ErrNotFound
	}
	return nil
}

// NewHTTPClient creates an HTTP client with the specified timeout.
func NewHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout:   DefaultConnectTimeout,
				KeepAlive: DefaultKeepAlive,
			}).DialContext,
			MaxIdleConns:          10,
			MaxIdleConnsPerHost:   10,
			IdleConnTimeout:       DefaultIdleConnTimeout,
			TLSHandshakeTimeout:   5 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		},
	}
}

// Client talks to one liveness server.
type Client struct {
	base string
	http *http.Client
}

// New creates a client for the server at baseURL, e.g. http://localhost:8090.
// A nil httpClient uses NewHTTPClient(DefaultTimeout).
func New(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = NewHTTPClient(DefaultTimeout)
	}
	return &Client{base: strings.TrimRight(baseURL, "/"), http: httpClient}
}

// Health returns nil when the server reports ok.
func (c *Client) Health(ctx context.Context) error {
	var out struct {
		Status string `json:"status"`
	}
	if err := c.get(ctx, "/api/health", &out); err != nil {
		return err
	}
	if out.Status != "ok" {
		return fmt.Errorf("health: status %q", out.Status)
	}
	return nil
}

// Challenge describes the configured challenge. An empty locale uses the
// server's.
func (c *Client) Challenge(ctx context.Context, locale string) (*protocol.SessionData, error) {
	path := "/api/challenge"
	if locale != "" {
		path += "?locale=" + url.QueryEscape(locale)
	}
	var out protocol.SessionData
	if err := c.get(ctx, path, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Stats returns the server counters.
func (c *Client) Stats(ctx context.Context) (*server.Stats, error) {
	var out server.Stats
	if err := c.get(ctx, "/api/stats", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Sessions lists connected sessions.
func (c *Client) Sessions(ctx context.Context) ([]server.SessionInfo, error) {
	var out struct {
		Sessions []server.SessionInfo `json:"sessions"`
	}
	if err := c.get(ctx, "/api/sessions/", &out); err != nil {
		return nil, err
	}
	return out.Sessions, nil
}

// Session returns one session including its machine state.
func (c *Client) Session(ctx context.Context, id string) (*server.SessionInfo, error) {
	var out server.SessionInfo
	if err := c.get(ctx, "/api/sessions/"+url.PathEscape(id), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("GET %s: %w", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{Status: resp.StatusCode}
		var e struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(body, &e) == nil {
			apiErr.Message = e.Error
		}
		return apiErr
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}
