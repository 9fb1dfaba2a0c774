// Package client is an HTTP client for the splitfeature API.
package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/TimurManjosov/splitfeature/internal/api"
	"github.com/TimurManjosov/splitfeature/internal/provider"
)

// Client is an HTTP client for the splitfeature API
type Client struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

// NewClient creates a new API client
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		APIKey:  apiKey,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// APIError is a non-2xx answer from the server.
type APIError struct {
	StatusCode int
	Response   api.ErrorResponse
	Body       string
}

func (e *APIError) Error() string {
	if e.Response.Message != "" {
		return fmt.Sprintf("API error (status %d, %s): %s", e.StatusCode, e.Response.Code, e.Response.Message)
	}
	return fmt.Sprintf("API error (status %d): %s", e.StatusCode, e.Body)
}

// Evaluation is the outcome of Evaluate. For a failed resolution the server still
// reports the detail that was served, so Detail is set together with Err.
type Evaluation struct {
	Detail provider.ResolutionDetail[any] `json:"detail"`
	Err    *APIError                      `json:"-"`
}

// Evaluate resolves flagKey as valueType ("boolean", "string", "number", "integer"
// or "object"). Resolution errors are returned in Evaluation.Err; transport and
// request errors are returned as error.
func (c *Client) Evaluate(ctx context.Context, flagKey, valueType string, defaultValue any, evalCtx provider.EvaluationContext) (*Evaluation, error) {
	reqBody := struct {
		Context provider.EvaluationContext `json:"context,omitempty"`
		Default any                        `json:"default,omitempty"`
	}{Context: evalCtx, Default: defaultValue}

	u, err := url.Parse(c.BaseURL + "/v1/flags/" + url.PathEscape(flagKey) + "/evaluate")
	if err != nil {
		return nil, fmt.Errorf("failed to parse URL: %w", err)
	}
	if valueType != "" {
		q := u.Query()
		q.Set("type", valueType)
		u.RawQuery = q.Encode()
	}

	resp, err := c.do(ctx, http.MethodPost, u.String(), reqBody)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		var ev Evaluation
		if err := json.NewDecoder(resp.Body).Decode(&ev.Detail); err != nil {
			return nil, fmt.Errorf("failed to decode response: %w", err)
		}
		return &ev, nil
	}

	apiErr := readAPIError(resp)
	if apiErr.Response.Detail == nil {
		return nil, apiErr
	}
	// the detail round-trips as a generic map; re-decode it into the typed form
	ev := &Evaluation{Err: apiErr}
	raw, err := json.Marshal(apiErr.Response.Detail)
	if err != nil {
		return nil, fmt.Errorf("failed to re-encode detail: %w", err)
	}
	if err := json.Unmarshal(raw, &ev.Detail); err != nil {
		return nil, fmt.Errorf("failed to decode detail: %w", err)
	}
	return ev, nil
}

// Track sends a tracking event. It needs an API key accepted by the server.
func (c *Client) Track(ctx context.Context, req api.TrackRequest) error {
	resp, err := c.do(ctx, http.MethodPost, c.BaseURL+"/v1/track", req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted && resp.StatusCode != http.StatusOK {
		return readAPIError(resp)
	}
	return nil
}

// ReadyStatus is the body of GET /readyz.
type ReadyStatus struct {
	Provider string         `json:"provider"`
	Status   provider.State `json:"status"`
}

// Ready reports the provider state. A not-ready provider is not an error.
func (c *Client) Ready(ctx context.Context) (*ReadyStatus, error) {
	resp, err := c.do(ctx, http.MethodGet, c.BaseURL+"/readyz", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusServiceUnavailable {
		return nil, readAPIError(resp)
	}
	var status ReadyStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &status, nil
}

// StreamEvent is one server-sent event. Name is "init" for the first event and
// the provider event type afterwards.
type StreamEvent struct {
	Name string
	Data json.RawMessage
}

// Event decodes the payload of a provider event.
func (e StreamEvent) Event() (provider.Event, error) {
	var ev provider.Event
	err := json.Unmarshal(e.Data, &ev)
	return ev, err
}

// Events streams provider events to fn until ctx is done, the server closes the
// stream or fn returns an error. Heartbeat comments are skipped.
func (c *Client) Events(ctx context.Context, fn func(StreamEvent) error) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/v1/events", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	c.authorize(req)

	// the stream is long-lived; only ctx bounds it
	hc := *c.HTTPClient
	hc.Timeout = 0
	resp, err := hc.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return readAPIError(resp)
	}

	scanner := bufio.NewScanner(resp.Body)
	var name string
	var data []byte
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, ":"):
			// heartbeat
		case strings.HasPrefix(line, "event:"):
			name = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data = append(data, strings.TrimSpace(strings.TrimPrefix(line, "data:"))...)
		case line == "":
			if name == "" {
				continue
			}
			if err := fn(StreamEvent{Name: name, Data: json.RawMessage(data)}); err != nil {
				return err
			}
			name, data = "", nil
		}
	}
	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("read stream: %w", err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, rawURL string, body any) (*http.Response, error) {
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		r = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, r)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.authorize(req)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	return resp, nil
}

func (c *Client) authorize(req *http.Request) {
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}
}

func readAPIError(resp *http.Response) *APIError {
	bodyBytes, _ := io.ReadAll(resp.Body)
	apiErr := &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(bodyBytes))}
	_ = json.Unmarshal(bodyBytes, &apiErr.Response)
	return apiErr
}
