// Package hosted talks to a hosted data platform: a PostgREST-style REST API
// for queries and writes plus a websocket for change feeds and presence.
package hosted

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

	"github.com/adamavenir/threadline/internal/core"
)

const restPrefix = "/rest/v1/"

// APIError represents a non-2xx response from the hosted API.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code != "" && e.Message != "" {
		return fmt.Sprintf("hosted api error: %s (%d): %s", e.Code, e.Status, e.Message)
	}
	if e.Code != "" {
		return fmt.Sprintf("hosted api error: %s (%d)", e.Code, e.Status)
	}
	if e.Message != "" {
		return fmt.Sprintf("hosted api error (%d): %s", e.Status, e.Message)
	}
	return fmt.Sprintf("hosted api error (%d)", e.Status)
}

type apiErrorPayload struct {
	Code    string `json:"code"`
	Error   string `json:"error"`
	Message string `json:"message"`
	Details string `json:"details"`
}

// Client carries the credentials and HTTP client shared by Store and Realtime.
type Client struct {
	baseURL    string
	apiKey     string
	token      string
	httpClient *http.Client
}

// NewClient constructs a client for cfg.URL.
func NewClient(cfg core.HostedConfig) (*Client, error) {
	normalized, err := NormalizeBaseURL(cfg.URL)
	if err != nil {
		return nil, err
	}
	return &Client{
		baseURL: normalized,
		apiKey:  cfg.APIKey,
		token:   cfg.Token,
		httpClient: &http.Client{
			Timeout: 20 * time.Second,
		},
	}, nil
}

// NormalizeBaseURL normalizes a hosted base URL and ensures it has a scheme.
func NormalizeBaseURL(raw string) (string, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return "", fmt.Errorf("hosted url cannot be empty")
	}
	parsed, err := url.Parse(value)
	if err != nil {
		return "", fmt.Errorf("invalid hosted url: %w", err)
	}
	if parsed.Scheme == "" {
		return "", fmt.Errorf("hosted url must include scheme (https://)")
	}
	value = strings.TrimRight(value, "/")
	return value, nil
}

// BaseURL returns the normalized base URL.
func (c *Client) BaseURL() string { return c.baseURL }

type requestOptions struct {
	query  url.Values
	prefer []string
	body   any
}

func (c *Client) doJSON(ctx context.Context, method, table string, opts requestOptions, respBody any) error {
	endpoint, err := c.buildURL(restPrefix+table, opts.query)
	if err != nil {
		return err
	}

	var body io.Reader
	if opts.body != nil {
		data, err := json.Marshal(opts.body)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return err
	}
	if opts.body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if len(opts.prefer) > 0 {
		req.Header.Set("Prefer", strings.Join(opts.prefer, ","))
	}
	c.authorize(req.Header)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respData, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode}
		var payload apiErrorPayload
		if err := json.Unmarshal(respData, &payload); err == nil {
			apiErr.Code = payload.Code
			if apiErr.Code == "" {
				apiErr.Code = payload.Error
			}
			apiErr.Message = payload.Message
		} else {
			apiErr.Message = strings.TrimSpace(string(respData))
		}
		return apiErr
	}

	if respBody == nil {
		return nil
	}
	if len(respData) == 0 {
		return nil
	}
	return json.Unmarshal(respData, respBody)
}

func (c *Client) authorize(header http.Header) {
	if c.apiKey != "" {
		header.Set("apikey", c.apiKey)
	}
	token := c.token
	if token == "" {
		token = c.apiKey
	}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
}

func (c *Client) buildURL(path string, query url.Values) (string, error) {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	base, err := url.Parse(c.baseURL)
	if err != nil {
		return "", err
	}
	ref, err := url.Parse(path)
	if err != nil {
		return "", err
	}
	endpoint := base.ResolveReference(ref)
	if len(query) > 0 {
		endpoint.RawQuery = query.Encode()
	}
	return endpoint.String(), nil
}
