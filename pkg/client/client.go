package client

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"
)

// DefaultBaseURL matches the daemon's default listen address and base path.
const DefaultBaseURL = "http://127.0.0.1:9615/api"

// ErrNotFound is returned when the daemon does not know the app.
var ErrNotFound = errors.New("app not found")

// APIError is a non-200 response from the daemon.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("API error (HTTP %d): %s", e.StatusCode, e.Message)
}

func (e *APIError) Is(target error) bool {
	return target == ErrNotFound && e.StatusCode == http.StatusNotFound
}

// Client provides HTTP client functionality to communicate with the keepr daemon
type Client struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// Config holds client configuration
type Config struct {
	BaseURL string
	Timeout time.Duration
	Logger  *slog.Logger // Optional logger for client operations
	TLS     *tls.Config  // for https daemons with a private CA
}

// DefaultConfig returns default client configuration
func DefaultConfig() Config {
	return Config{
		BaseURL: DefaultBaseURL,
		Timeout: 10 * time.Second,
	}
}

// New creates a new keepr API client.
func New(config Config) *Client {
	if config.BaseURL == "" {
		config.BaseURL = DefaultBaseURL
	}
	if config.Timeout == 0 {
		config.Timeout = 10 * time.Second
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	hc := &http.Client{Timeout: config.Timeout}
	if config.TLS != nil {
		tr := http.DefaultTransport.(*http.Transport).Clone()
		tr.TLSClientConfig = config.TLS
		hc.Transport = tr
	}
	return &Client{
		baseURL: config.BaseURL,
		logger:  config.Logger,
		client:  hc,
	}
}

// IsReachable checks if the daemon is running and reachable
func (c *Client) IsReachable(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/status", nil)
	if err != nil {
		c.logger.Debug("Failed to create request for reachability check", "error", err)
		return false
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Debug("Daemon unreachable", "error", err)
		return false
	}
	defer func() { _ = resp.Body.Close() }()

	reachable := resp.StatusCode == http.StatusOK
	c.logger.Debug("Daemon reachability check", "reachable", reachable, "status", resp.StatusCode)
	return reachable
}

// StatusAll returns every app's status in configuration order.
func (c *Client) StatusAll(ctx context.Context) ([]AppStatus, error) {
	var out []AppStatus
	if err := c.do(ctx, http.MethodGet, "/status", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Status returns one app's status.
func (c *Client) Status(ctx context.Context, name string) (AppStatus, error) {
	var out AppStatus
	err := c.do(ctx, http.MethodGet, "/status/"+url.PathEscape(name), &out)
	return out, err
}

func (c *Client) Start(ctx context.Context, name string) error {
	return c.action(ctx, "start", name)
}

func (c *Client) Stop(ctx context.Context, name string) error {
	return c.action(ctx, "stop", name)
}

// Restart restarts the app and resets its restart count.
func (c *Client) Restart(ctx context.Context, name string) error {
	return c.action(ctx, "restart", name)
}

func (c *Client) action(ctx context.Context, verb, name string) error {
	c.logger.Debug("Sending request", "action", verb, "app", name)
	if err := c.do(ctx, http.MethodPost, "/"+verb+"/"+url.PathEscape(name), nil); err != nil {
		return err
	}
	c.logger.Debug("Request completed", "action", verb, "app", name)
	return nil
}

// do performs the request and decodes a 200 body into out when out is non-nil.
func (c *Client) do(ctx context.Context, method, path string, out any) error {
	u := c.baseURL + path
	req, err := http.NewRequestWithContext(ctx, method, u, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Error("HTTP request failed", "error", err, "url", u)
		return fmt.Errorf("do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return c.handleErrorResponse(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// handleErrorResponse handles HTTP error responses
func (c *Client) handleErrorResponse(resp *http.Response) error {
	var errorResp ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&errorResp); err != nil {
		c.logger.Error("Failed to decode error response", "status", resp.StatusCode)
		return &APIError{StatusCode: resp.StatusCode}
	}
	c.logger.Debug("API request failed", "error", errorResp.Error, "status", resp.StatusCode)
	return &APIError{StatusCode: resp.StatusCode, Message: errorResp.Error}
}
