// ABOUTME: HTTP client for the hosted agent run endpoint
// ABOUTME: Posts the conversation and hands back the streaming response body

package agentapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/2389/coven-relay/internal/history"
)

const (
	DefaultDatabase = "SNOWFLAKE_INTELLIGENCE"
	DefaultSchema   = "AGENTS"

	tokenTypeHeader = "X-Snowflake-Authorization-Token-Type"
	tokenType       = "PROGRAMMATIC_ACCESS_TOKEN"

	maxErrorBody = 2048
)

// StatusError is returned when the agent answers with a non-2xx status.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("agent returned status %d", e.Code)
	}
	return fmt.Sprintf("agent returned status %d: %s", e.Code, e.Body)
}

// Config describes how to reach the agent endpoint.
type Config struct {
	// Account builds https://<account>.snowflakecomputing.com when BaseURL
	// is empty.
	Account  string
	BaseURL  string
	Token    string
	Database string
	Schema   string

	HTTPClient *http.Client
}

// RunRequest is the body posted to the run endpoint.
type RunRequest struct {
	Messages []history.Message `json:"messages"`
}

// Client posts run requests.
type Client struct {
	baseURL  string
	token    string
	database string
	schema   string
	http     *http.Client
	logger   *slog.Logger
}

// NewClient validates cfg and builds a client.
func NewClient(cfg Config, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}

	base := strings.TrimSuffix(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		if cfg.Account == "" {
			return nil, fmt.Errorf("agent account or base URL is required")
		}
		base = "https://" + cfg.Account + ".snowflakecomputing.com"
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("parsing agent base URL: %w", err)
	}
	if cfg.Token == "" {
		return nil, fmt.Errorf("agent token is required")
	}

	c := &Client{
		baseURL:  base,
		token:    cfg.Token,
		database: cfg.Database,
		schema:   cfg.Schema,
		http:     cfg.HTTPClient,
		logger:   logger.With("component", "agentapi"),
	}
	if c.database == "" {
		c.database = DefaultDatabase
	}
	if c.schema == "" {
		c.schema = DefaultSchema
	}
	if c.http == nil {
		// no client timeout: the caller's context bounds the whole stream
		c.http = &http.Client{}
	}
	return c, nil
}

// RunURL returns the endpoint for agentName.
func (c *Client) RunURL(agentName string) string {
	return fmt.Sprintf("%s/api/v2/databases/%s/schemas/%s/agents/%s:run",
		c.baseURL, url.PathEscape(c.database), url.PathEscape(c.schema), url.PathEscape(agentName))
}

// Open posts messages to the agent and returns the event stream body. The
// caller must close it. Non-2xx responses are returned as *StatusError.
func (c *Client) Open(ctx context.Context, agentName string, messages []history.Message) (io.ReadCloser, error) {
	body, err := json.Marshal(RunRequest{Messages: messages})
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.RunURL(agentName), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set(tokenTypeHeader, tokenType)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	c.logger.Debug("opening agent run", "agent", agentName, "messages", len(messages))

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sending request: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}

	return resp.Body, nil
}
