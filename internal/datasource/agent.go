package datasource

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	// DefaultAgentURL is the loopback address of the local proxy agent
	DefaultAgentURL = "http://127.0.0.1:8585"
	// DefaultFetchTimeout bounds a single per-cluster request
	DefaultFetchTimeout = 15 * time.Second
	// maxBodyBytes caps how much of an agent response is read
	maxBodyBytes = 32 << 20
)

// AgentHealth is the body of the agent's /health endpoint
type AgentHealth struct {
	Status    string `json:"status,omitempty"`
	Version   string `json:"version,omitempty"`
	Clusters  int    `json:"clusters,omitempty"`
	HasClaude bool   `json:"hasClaude"`
	HasBob    bool   `json:"hasBob"`
}

// StatusError is returned for non-2xx agent responses
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("agent returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("agent returned status %d: %s", e.StatusCode, e.Body)
}

// AgentClient talks to the local proxy agent over HTTP
type AgentClient struct {
	baseURL    *url.URL
	httpClient *http.Client
	logger     *zap.Logger
}

// NewAgentClient creates a client for the agent at baseURL.
// Request deadlines come from the caller's context.
func NewAgentClient(baseURL string, logger *zap.Logger) (*AgentClient, error) {
	if baseURL == "" {
		baseURL = DefaultAgentURL
	}
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid agent url %q: %w", baseURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid agent url %q: scheme must be http or https", baseURL)
	}

	logger.Info("Agent client initialized", zap.String("url", u.String()))

	return &AgentClient{
		baseURL:    u,
		httpClient: &http.Client{},
		logger:     logger,
	}, nil
}

// URL returns the agent base URL
func (c *AgentClient) URL() string {
	return c.baseURL.String()
}

// Get issues GET {base}/{path}?{query} and returns the body of a 2xx response
func (c *AgentClient) Get(ctx context.Context, path string, query url.Values) ([]byte, error) {
	target := *c.baseURL
	target.Path = c.baseURL.Path + "/" + strings.TrimLeft(path, "/")
	target.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call agent: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read agent response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet := strings.TrimSpace(string(body))
		if len(snippet) > 200 {
			snippet = snippet[:200]
		}
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: snippet}
	}

	return body, nil
}

// Health calls the agent's /health endpoint
func (c *AgentClient) Health(ctx context.Context) (*AgentHealth, error) {
	body, err := c.Get(ctx, "/health", nil)
	if err != nil {
		return nil, err
	}

	var health AgentHealth
	if err := json.Unmarshal(body, &health); err != nil {
		return nil, fmt.Errorf("failed to decode agent health: %w", err)
	}
	return &health, nil
}
