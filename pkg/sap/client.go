// Package sap talks to an SAP-style time recording backend. The transport
// is intentionally thin; callers wrap it with the resilience package.
package sap

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/valyala/fasthttp"
)

// TimeEntry is a submission-ready time recording.
type TimeEntry struct {
	Date          string  `json:"date"`
	DurationHours float64 `json:"duration_hours"`
	Description   string  `json:"description"`
	WBSCode       string  `json:"wbs_code"`
}

// Validate checks the fields a backend will reject anyway.
func (e *TimeEntry) Validate() error {
	if e.WBSCode == "" {
		return newError(CategoryValidation, "missing WBS code")
	}
	if e.Date == "" {
		return newError(CategoryValidation, "missing entry date")
	}
	if e.DurationHours <= 0 || e.DurationHours > 24 {
		return newError(CategoryValidation, fmt.Sprintf("duration %.2fh out of range", e.DurationHours))
	}
	return nil
}

// Client is the backend port the forwarder and scheduler depend on.
type Client interface {
	// ForwardEntry submits one time entry, returning the backend entry id.
	ForwardEntry(ctx context.Context, entry *TimeEntry) (string, error)

	// ValidateWBS reports whether the code is bookable.
	ValidateWBS(ctx context.Context, code string) (bool, error)

	// Health checks backend reachability.
	Health(ctx context.Context) error
}

// TokenProvider supplies a bearer token, refreshing it when asked.
type TokenProvider func(ctx context.Context) (string, error)

// StaticToken wraps a fixed token as a provider.
func StaticToken(token string) TokenProvider {
	return func(context.Context) (string, error) { return token, nil }
}

// ClientConfig configures the HTTP client.
type ClientConfig struct {
	BaseURL   string
	Timeout   time.Duration
	UserAgent string
}

// DefaultClientConfig returns standard transport settings for a base URL.
func DefaultClientConfig(baseURL string) ClientConfig {
	return ClientConfig{
		BaseURL:   baseURL,
		Timeout:   5 * time.Second,
		UserAgent: "pulsearc-core/1.0",
	}
}

// HTTPClient is the fasthttp-backed Client implementation.
type HTTPClient struct {
	cfg    ClientConfig
	hc     *fasthttp.Client
	tokens TokenProvider
	logger *slog.Logger

	mu          sync.Mutex
	cachedToken string
}

// NewHTTPClient builds a client over the given token provider. A nil logger
// defaults to slog.Default().
func NewHTTPClient(cfg ClientConfig, tokens TokenProvider, logger *slog.Logger) (*HTTPClient, error) {
	if cfg.BaseURL == "" {
		return nil, newError(CategoryValidation, "base URL cannot be empty")
	}
	if tokens == nil {
		return nil, newError(CategoryValidation, "token provider cannot be nil")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPClient{
		cfg:    cfg,
		hc:     &fasthttp.Client{ReadTimeout: cfg.Timeout, WriteTimeout: cfg.Timeout},
		tokens: tokens,
		logger: logger,
	}, nil
}

// ForwardEntry submits one time entry.
func (c *HTTPClient) ForwardEntry(ctx context.Context, entry *TimeEntry) (string, error) {
	if err := entry.Validate(); err != nil {
		return "", err
	}
	body, err := json.Marshal(entry)
	if err != nil {
		return "", &Error{Category: CategoryValidation, Message: "entry not serializable", Err: err}
	}

	respBody, err := c.do(ctx, fasthttp.MethodPost, "/api/time-entries", body)
	if err != nil {
		return "", err
	}
	var resp struct {
		EntryID string `json:"entry_id"`
	}
	if err := json.Unmarshal(respBody, &resp); err != nil || resp.EntryID == "" {
		return "", &Error{Category: CategoryUnknown, Message: "response missing entry id", Err: err}
	}
	return resp.EntryID, nil
}

// ValidateWBS checks a code against the backend.
func (c *HTTPClient) ValidateWBS(ctx context.Context, code string) (bool, error) {
	if code == "" {
		return false, nil
	}
	respBody, err := c.do(ctx, fasthttp.MethodGet, "/api/wbs/"+url.PathEscape(code), nil)
	if err != nil {
		var sapErr *Error
		if errors.As(err, &sapErr) && sapErr.Category == CategoryValidation {
			return false, nil
		}
		return false, err
	}
	var resp struct {
		Valid bool `json:"valid"`
	}
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return false, &Error{Category: CategoryUnknown, Message: "undecodable WBS response", Err: err}
	}
	return resp.Valid, nil
}

// Health checks backend reachability.
func (c *HTTPClient) Health(ctx context.Context) error {
	_, err := c.do(ctx, fasthttp.MethodGet, "/health", nil)
	return err
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	token, err := c.bearerToken(ctx)
	if err != nil {
		return nil, err
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(strings.TrimSuffix(c.cfg.BaseURL, "/") + path)
	req.Header.SetMethod(method)
	req.Header.SetUserAgent(c.cfg.UserAgent)
	req.Header.Set(fasthttp.HeaderAuthorization, "Bearer "+token)
	if body != nil {
		req.Header.SetContentType("application/json")
		req.SetBody(body)
	}

	deadline := time.Now().Add(c.cfg.Timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := c.hc.DoDeadline(req, resp, deadline); err != nil {
		return nil, transportError(err)
	}

	status := resp.StatusCode()
	if status >= 200 && status < 300 {
		out := make([]byte, len(resp.Body()))
		copy(out, resp.Body())
		return out, nil
	}
	return nil, statusError(status, string(resp.Body()))
}

// bearerToken returns a cached token, refreshing through the provider when
// the cached one is absent or past its exp claim.
func (c *HTTPClient) bearerToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cachedToken != "" && !tokenExpired(c.cachedToken) {
		return c.cachedToken, nil
	}
	token, err := c.tokens(ctx)
	if err != nil {
		return "", &Error{Category: CategoryAuthentication, Message: "token provider failed", Err: err}
	}
	if token == "" {
		return "", newError(CategoryAuthentication, "token provider returned empty token")
	}
	if tokenExpired(token) {
		return "", newError(CategoryAuthentication, "bearer token is expired")
	}
	c.cachedToken = token
	return token, nil
}

// tokenExpired inspects a JWT's exp claim without verifying the signature.
// Verification belongs to the backend; here we only avoid sending a token we
// already know is dead. Opaque non-JWT tokens pass through unchecked.
func tokenExpired(token string) bool {
	claims := jwt.MapClaims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return false
	}
	return exp.Before(time.Now())
}

func statusError(status int, body string) *Error {
	msg := strings.TrimSpace(body)
	if len(msg) > 200 {
		msg = msg[:200]
	}
	e := &Error{StatusCode: status, Message: msg}
	switch {
	case status == fasthttp.StatusUnauthorized || status == fasthttp.StatusForbidden:
		e.Category = CategoryAuthentication
	case status == fasthttp.StatusRequestTimeout:
		e.Category = CategoryNetworkTimeout
	case status == fasthttp.StatusTooManyRequests:
		e.Category = CategoryRateLimited
	case status == fasthttp.StatusBadRequest || status == fasthttp.StatusUnprocessableEntity:
		e.Category = CategoryValidation
	case status >= 500:
		e.Category = CategoryServerUnavailable
	default:
		e.Category = CategoryUnknown
	}
	return e
}

func transportError(err error) *Error {
	switch {
	case errors.Is(err, fasthttp.ErrTimeout), errors.Is(err, fasthttp.ErrDialTimeout):
		return &Error{Category: CategoryNetworkTimeout, Message: "request timed out", Err: err}
	case errors.Is(err, fasthttp.ErrConnectionClosed):
		return &Error{Category: CategoryNetworkOffline, Message: "connection closed", Err: err}
	default:
		msg := err.Error()
		if strings.Contains(msg, "connection refused") || strings.Contains(msg, "no such host") ||
			strings.Contains(msg, "network is unreachable") {
			return &Error{Category: CategoryNetworkOffline, Message: "backend unreachable", Err: err}
		}
		return &Error{Category: CategoryUnknown, Message: "transport failure", Err: err}
	}
}
