package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// TokenSource yields the bearer token attached to engine requests.
type TokenSource interface {
	Token() (string, error)
}

// StatusError reports a non-2xx engine response. Transport failures are
// returned as plain wrapped errors, so callers can tell the two apart.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream responded %d: %s", e.Code, e.Body)
}

// IsNotFound reports whether err is a 404 from the engine.
func IsNotFound(err error) bool {
	se, ok := err.(*StatusError)
	return ok && se.Code == http.StatusNotFound
}

// Client talks to the analysis engine HTTP API.
type Client struct {
	BaseURL string
	HTTP    *http.Client
	Tokens  TokenSource
}

// NewClient builds a Client with a sane default timeout.
func NewClient(baseURL string, tokens TokenSource, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP:    &http.Client{Timeout: timeout},
		Tokens:  tokens,
	}
}

// StartAnalysis kicks off a job for a company. The engine replies
// immediately; completion is observed via JobStatus polling.
func (c *Client) StartAnalysis(ctx context.Context, companyID string, params JobParams) error {
	body, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("encode params: %w", err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, "/analysis/"+url.PathEscape(companyID), bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, nil)
}

// JobStatus fetches the current job snapshot for a company.
func (c *Client) JobStatus(ctx context.Context, companyID string) (StatusSnapshot, error) {
	var snap StatusSnapshot
	req, err := c.newRequest(ctx, http.MethodGet, "/analysis/"+url.PathEscape(companyID)+"/status", nil)
	if err != nil {
		return snap, err
	}
	if err := c.do(req, &snap); err != nil {
		return StatusSnapshot{}, err
	}
	return snap, nil
}

// Reports lists completed reports for a company, newest first.
func (c *Client) Reports(ctx context.Context, companyID string) ([]Report, error) {
	var out []Report
	req, err := c.newRequest(ctx, http.MethodGet, "/analysis/"+url.PathEscape(companyID)+"/reports", nil)
	if err != nil {
		return nil, err
	}
	if err := c.do(req, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// DeleteReport removes a report. A 404 surfaces as a StatusError; the
// report may already have been deleted by another session.
func (c *Client) DeleteReport(ctx context.Context, reportID string) error {
	req, err := c.newRequest(ctx, http.MethodDelete, "/analysis/report/"+url.PathEscape(reportID), nil)
	if err != nil {
		return err
	}
	return c.do(req, nil)
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.Tokens != nil {
		tok, err := c.Tokens.Token()
		if err != nil {
			return nil, fmt.Errorf("resolve token: %w", err)
		}
		if tok != "" {
			req.Header.Set("Authorization", "Bearer "+tok)
		}
	}
	return req, nil
}

func (c *Client) do(req *http.Request, out interface{}) error {
	httpc := c.HTTP
	if httpc == nil {
		httpc = http.DefaultClient
	}
	resp, err := httpc.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
