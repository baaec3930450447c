// Package remote talks to the job service that executes transcription,
// summary and question answering jobs.
package remote

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"scribeflow/internal/errs"
)

// Config configures the job service client.
type Config struct {
	BaseURL string
	APIKey  string        // optional, sent as Bearer
	Timeout time.Duration // per request, default 5m
}

// Client is an HTTP client for the job service.
type Client struct {
	cfg    Config
	client *http.Client
}

// NewClient creates a job service client.
func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Minute
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Client{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

// BaseURL returns the configured service root without a trailing slash.
func (c *Client) BaseURL() string {
	return c.cfg.BaseURL
}

// DownloadURL resolves the download location of a job artifact.
func (c *Client) DownloadURL(jobID, format string) string {
	return c.jobURL(jobID, "download") + "?format=" + url.QueryEscape(format)
}

func (c *Client) jobURL(jobID, action string) string {
	return fmt.Sprintf("%s/api/v1/jobs/%s/%s", c.cfg.BaseURL, url.PathEscape(jobID), action)
}

func (c *Client) newRequest(ctx context.Context, method, target string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}
	return req, nil
}

// do sends req and returns the body of a 2xx response. Everything else is a
// *errs.RequestError.
func (c *Client) do(op string, req *http.Request) ([]byte, error) {
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &errs.RequestError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &errs.RequestError{Op: op, Err: fmt.Errorf("read response body: %w", err)}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &errs.RequestError{Op: op, Status: resp.StatusCode, Body: truncate(body, 200)}
	}
	return body, nil
}

func truncate(b []byte, max int) string {
	if len(b) <= max {
		return string(b)
	}
	return string(b[:max]) + "..."
}
