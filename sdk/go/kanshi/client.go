// Package kanshi provides a Go client for the Kanshi telemetry ingest API.
//
// Agents construct a Client once and call Observe after every text-to-SQL
// request they serve:
//
//	client, err := kanshi.NewClient(kanshi.Config{
//	    BaseURL: "https://kanshi.internal",
//	    APIKey:  os.Getenv("KANSHI_API_KEY"),
//	})
//	...
//	result, err := client.Observe(ctx, kanshi.Event{
//	    QueryText:       "how many orders shipped last week?",
//	    Status:          kanshi.StatusSuccess,
//	    SQL:             kanshi.String(generatedSQL),
//	    ExecutionTimeMS: elapsed.Milliseconds(),
//	})
//
// Observe is fire-and-forget by design: the platform evaluates the event in
// the background, so a successful call only confirms the raw event was
// persisted.
package kanshi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Config holds the settings needed to construct a Client.
type Config struct {
	// BaseURL is the root URL of the Kanshi server (e.g. "http://localhost:8080").
	BaseURL string

	// APIKey is the agent's key minted at registration ("ak_<agent>_<hex>").
	APIKey string

	// HTTPClient is an optional custom HTTP client. If nil, a default client
	// with a 10-second timeout is used.
	HTTPClient *http.Client

	// Timeout applies to individual requests when HTTPClient is nil.
	// Defaults to 10 seconds.
	Timeout time.Duration
}

// Client is an HTTP client for the Kanshi ingest API.
// All methods are safe for concurrent use.
type Client struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewClient creates a Client from the given configuration.
// Returns an error if BaseURL or APIKey is empty.
func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("kanshi: BaseURL is required")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("kanshi: APIKey is required")
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = 10 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		client:  httpClient,
	}, nil
}

// Observe reports one telemetry event. The server assigns the query id and
// schedules drift detection, evaluation, and error classification.
func (c *Client) Observe(ctx context.Context, ev Event) (*IngestResult, error) {
	if err := ev.validate(); err != nil {
		return nil, err
	}

	var result IngestResult
	if err := c.post(ctx, "/api/v1/monitor/ingest/sdk", ev, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ObserveSuccess is shorthand for a successful request with generated SQL.
func (c *Client) ObserveSuccess(ctx context.Context, queryText, sql string, elapsed time.Duration) (*IngestResult, error) {
	return c.Observe(ctx, Event{
		QueryText:       queryText,
		Status:          StatusSuccess,
		SQL:             String(sql),
		ExecutionTimeMS: float64(elapsed.Milliseconds()),
	})
}

// ObserveError is shorthand for a failed request.
func (c *Client) ObserveError(ctx context.Context, queryText, errMsg string) (*IngestResult, error) {
	return c.Observe(ctx, Event{
		QueryText: queryText,
		Status:    StatusError,
		Error:     String(errMsg),
	})
}

// Health checks server liveness. It needs no authentication.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("kanshi: build request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("kanshi: health request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return newAPIError(resp)
	}
	return nil
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("kanshi: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("kanshi: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("kanshi: request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return newAPIError(resp)
	}

	if out == nil {
		return nil
	}
	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&envelope); err != nil {
		return fmt.Errorf("kanshi: decode response: %w", err)
	}
	if err := json.Unmarshal(envelope.Data, out); err != nil {
		return fmt.Errorf("kanshi: decode response data: %w", err)
	}
	return nil
}

// String returns a pointer to s, for optional request fields.
func String(s string) *string { return &s }
