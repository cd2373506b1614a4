// Package upstream is the portal's client for the clinic backend REST API.
// It owns bearer-token attachment, the single 401 refresh-and-retry cycle,
// and the translation of backend failures into the portal error taxonomy.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/cabinetmed/cabinet-portal/pkg/logging"
)

const defaultTimeout = 5 * time.Second

// Credential supplies the bearer token for one portal session and can rotate
// it. Refresh must swap the stored token pair atomically and return the new
// access token; a refresh failure means the session is dead.
type Credential interface {
	AccessToken(ctx context.Context) (string, error)
	Refresh(ctx context.Context) (string, error)
}

// Observer receives request and token-refresh outcomes, typically backed
// by prometheus counters.
type Observer interface {
	ObserveUpstream(method, status string, seconds float64)
	ObserveTokenRefresh(success bool)
}

// Client is a JSON client for the clinic backend.
type Client struct {
	baseURL    string
	httpClient *http.Client
	rawClient  *http.Client
	logger     *logging.Logger
	tracer     trace.Tracer
	observer   Observer
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout bounds each JSON request.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.httpClient.Timeout = d
		}
	}
}

// WithDownloadTimeout bounds raw (binary) requests, which may stream larger
// bodies than JSON calls.
func WithDownloadTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.rawClient.Timeout = d
		}
	}
}

// WithObserver attaches request metrics.
func WithObserver(o Observer) Option {
	return func(c *Client) {
		c.observer = o
	}
}

// WithHTTPClient replaces both underlying HTTP clients (tests).
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		c.httpClient = h
		c.rawClient = h
	}
}

// New creates a backend client rooted at baseURL.
func New(baseURL string, logger *logging.Logger, opts ...Option) *Client {
	if logger == nil {
		logger = logging.Default()
	}
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: defaultTimeout},
		rawClient:  &http.Client{Timeout: 30 * time.Second},
		logger:     logger.Component("upstream"),
		tracer:     otel.Tracer("cabinet.internal.upstream"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) refresh(ctx context.Context, cred Credential) (string, error) {
	token, err := cred.Refresh(ctx)
	if c.observer != nil {
		c.observer.ObserveTokenRefresh(err == nil)
	}
	return token, err
}

// Get issues an authenticated GET and decodes the JSON response into out.
func (c *Client) Get(ctx context.Context, cred Credential, path string, query url.Values, out any) error {
	if len(query) > 0 {
		path = path + "?" + query.Encode()
	}
	return c.Do(ctx, cred, http.MethodGet, path, nil, out)
}

// Post issues an authenticated POST with a JSON body.
func (c *Client) Post(ctx context.Context, cred Credential, path string, body, out any) error {
	return c.Do(ctx, cred, http.MethodPost, path, body, out)
}

// Put issues an authenticated PUT with a JSON body.
func (c *Client) Put(ctx context.Context, cred Credential, path string, body, out any) error {
	return c.Do(ctx, cred, http.MethodPut, path, body, out)
}

// Delete issues an authenticated DELETE.
func (c *Client) Delete(ctx context.Context, cred Credential, path string) error {
	return c.Do(ctx, cred, http.MethodDelete, path, nil, nil)
}

// Do performs one backend call. A nil cred sends the request unauthenticated
// (login, refresh, register). On a 401 the credential is refreshed exactly
// once and the request replayed; a second 401 surfaces as *AuthError.
func (c *Client) Do(ctx context.Context, cred Credential, method, path string, body, out any) error {
	ctx, span := c.tracer.Start(ctx, "upstream.request", trace.WithAttributes(
		attribute.String("http.method", method),
		attribute.String("http.path", path),
	))
	defer span.End()

	var token string
	if cred != nil {
		var err error
		if token, err = cred.AccessToken(ctx); err != nil {
			span.RecordError(err)
			return fmt.Errorf("upstream: load access token: %w", err)
		}
	}

	status, data, err := c.roundTrip(ctx, method, path, token, body)
	if err != nil {
		span.RecordError(err)
		return err
	}

	if status == http.StatusUnauthorized && cred != nil {
		// One refresh-and-retry. The replay is never retried again, so a
		// stale or revoked refresh token cannot loop.
		newToken, refreshErr := c.refresh(ctx, cred)
		if refreshErr != nil {
			span.RecordError(refreshErr)
			return &AuthError{Message: "token refresh failed", Err: refreshErr}
		}
		status, data, err = c.roundTrip(ctx, method, path, newToken, body)
		if err != nil {
			span.RecordError(err)
			return err
		}
		if status == http.StatusUnauthorized {
			span.SetAttributes(attribute.Bool("auth.retry_exhausted", true))
			return &AuthError{Message: "request rejected after token refresh"}
		}
	}

	span.SetAttributes(attribute.Int("http.status_code", status))

	if status == http.StatusUnauthorized {
		return &AuthError{Message: messageFromBody(data)}
	}
	if status < 200 || status >= 300 {
		return apiErrorFromBody(status, data)
	}
	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("upstream: decode %s %s response: %w", method, path, err)
		}
	}
	return nil
}

// PostMultipart uploads a pre-encoded multipart body (record attachments).
// The body must be rewindable for the 401 replay, so it is buffered here.
func (c *Client) PostMultipart(ctx context.Context, cred Credential, path, contentType string, body io.Reader, out any) error {
	payload, err := io.ReadAll(body)
	if err != nil {
		return fmt.Errorf("upstream: read multipart body: %w", err)
	}

	send := func(token string) (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
		if err != nil {
			return nil, fmt.Errorf("upstream: build request: %w", err)
		}
		req.Header.Set("Content-Type", contentType)
		req.Header.Set("Accept", "application/json")
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		return c.rawClient.Do(req)
	}

	var token string
	if cred != nil {
		if token, err = cred.AccessToken(ctx); err != nil {
			return fmt.Errorf("upstream: load access token: %w", err)
		}
	}

	resp, err := send(token)
	if err != nil {
		return fmt.Errorf("upstream: POST %s: %w", path, err)
	}
	if resp.StatusCode == http.StatusUnauthorized && cred != nil {
		_ = resp.Body.Close()
		newToken, refreshErr := c.refresh(ctx, cred)
		if refreshErr != nil {
			return &AuthError{Message: "token refresh failed", Err: refreshErr}
		}
		if resp, err = send(newToken); err != nil {
			return fmt.Errorf("upstream: POST %s: %w", path, err)
		}
		if resp.StatusCode == http.StatusUnauthorized {
			_ = resp.Body.Close()
			return &AuthError{Message: "request rejected after token refresh"}
		}
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("upstream: read POST %s response: %w", path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return apiErrorFromBody(resp.StatusCode, data)
	}
	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("upstream: decode POST %s response: %w", path, err)
		}
	}
	return nil
}

// DoRaw fetches a binary resource (ICS files, PDFs, record attachments) with
// the bearer header on a plain request. The caller owns closing the body.
func (c *Client) DoRaw(ctx context.Context, cred Credential, method, path string) (io.ReadCloser, string, error) {
	var token string
	if cred != nil {
		var err error
		if token, err = cred.AccessToken(ctx); err != nil {
			return nil, "", fmt.Errorf("upstream: load access token: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return nil, "", fmt.Errorf("upstream: build request: %w", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.rawClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("upstream: %s %s: %w", method, path, err)
	}
	if resp.StatusCode == http.StatusUnauthorized && cred != nil {
		_ = resp.Body.Close()
		newToken, refreshErr := c.refresh(ctx, cred)
		if refreshErr != nil {
			return nil, "", &AuthError{Message: "token refresh failed", Err: refreshErr}
		}
		req.Header.Set("Authorization", "Bearer "+newToken)
		if resp, err = c.rawClient.Do(req); err != nil {
			return nil, "", fmt.Errorf("upstream: %s %s: %w", method, path, err)
		}
		if resp.StatusCode == http.StatusUnauthorized {
			_ = resp.Body.Close()
			return nil, "", &AuthError{Message: "request rejected after token refresh"}
		}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
		_ = resp.Body.Close()
		return nil, "", apiErrorFromBody(resp.StatusCode, data)
	}
	return resp.Body, resp.Header.Get("Content-Type"), nil
}

func (c *Client) roundTrip(ctx context.Context, method, path, token string, body any) (int, []byte, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return 0, nil, fmt.Errorf("upstream: encode %s %s body: %w", method, path, err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return 0, nil, fmt.Errorf("upstream: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if c.observer != nil {
			c.observer.ObserveUpstream(method, "error", time.Since(start).Seconds())
		}
		return 0, nil, fmt.Errorf("upstream: %s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if c.observer != nil {
		c.observer.ObserveUpstream(method, strconv.Itoa(resp.StatusCode), time.Since(start).Seconds())
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return 0, nil, fmt.Errorf("upstream: read %s %s response: %w", method, path, err)
	}
	return resp.StatusCode, data, nil
}

// apiErrorFromBody extracts the backend's message shape: either
// {"error": ...}/{"detail": ...} or a field→errors map.
func apiErrorFromBody(status int, data []byte) *APIError {
	apiErr := &APIError{Status: status}
	if len(data) == 0 {
		return apiErr
	}

	var body map[string]json.RawMessage
	if err := json.Unmarshal(data, &body); err != nil {
		apiErr.Message = strings.TrimSpace(string(data))
		return apiErr
	}

	for _, key := range []string{"error", "detail", "message"} {
		if raw, ok := body[key]; ok {
			var msg string
			if json.Unmarshal(raw, &msg) == nil && msg != "" {
				apiErr.Message = msg
			}
			delete(body, key)
		}
	}

	for field, raw := range body {
		var list []string
		if json.Unmarshal(raw, &list) == nil && len(list) > 0 {
			if apiErr.Fields == nil {
				apiErr.Fields = make(map[string][]string)
			}
			apiErr.Fields[field] = list
			continue
		}
		var single string
		if json.Unmarshal(raw, &single) == nil && single != "" {
			if apiErr.Fields == nil {
				apiErr.Fields = make(map[string][]string)
			}
			apiErr.Fields[field] = []string{single}
		}
	}
	if apiErr.Message == "" && len(apiErr.Fields) > 0 {
		apiErr.Message = apiErr.FieldMessage()
	}
	return apiErr
}

func messageFromBody(data []byte) string {
	var body struct {
		Error  string `json:"error"`
		Detail string `json:"detail"`
	}
	if json.Unmarshal(data, &body) == nil {
		if body.Error != "" {
			return body.Error
		}
		if body.Detail != "" {
			return body.Detail
		}
	}
	return "unauthorized"
}
