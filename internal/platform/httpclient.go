package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/roach88/grantlink/internal/access"
)

// HTTPClientOptions configures an HTTPClient.
type HTTPClientOptions struct {
	// BaseURLs maps each platform to its gateway base URL.
	BaseURLs   map[access.Platform]string
	HTTPClient *http.Client
	UserAgent  string
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// HTTPClient implements Client over a per-platform HTTP gateway.
//
//	GET  {base}/v1/services/{service}/entities/{entity}/users[?identity=...]
//	POST {base}/v1/services/{service}/entities/{entity}/grants
//
// Requests carry the session token as a bearer token. 429 and 5xx responses
// and transport errors are retried with exponential backoff, honoring
// Retry-After.
type HTTPClient struct {
	baseURLs   map[access.Platform]string
	httpClient *http.Client
	userAgent  string
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
}

// StatusError is returned for non-retryable HTTP failures.
type StatusError struct {
	Status  int
	Code    string
	Message string
}

func (e *StatusError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("platform request failed: status=%d code=%s message=%s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("platform request failed: status=%d message=%s", e.Status, e.Message)
}

// NewHTTPClient creates a client, filling defaults for unset options.
func NewHTTPClient(opts HTTPClientOptions) *HTTPClient {
	baseURLs := make(map[access.Platform]string, len(opts.BaseURLs))
	for p, u := range opts.BaseURLs {
		if u = strings.TrimRight(strings.TrimSpace(u), "/"); u != "" {
			baseURLs[p] = u
		}
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 20 * time.Second}
	}
	maxRetries := opts.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}
	baseDelay := opts.BaseDelay
	if baseDelay <= 0 {
		baseDelay = 100 * time.Millisecond
	}
	maxDelay := opts.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 2 * time.Second
	}
	return &HTTPClient{
		baseURLs:   baseURLs,
		httpClient: httpClient,
		userAgent:  strings.TrimSpace(opts.UserAgent),
		maxRetries: maxRetries,
		baseDelay:  baseDelay,
		maxDelay:   maxDelay,
	}
}

type entityUsersResponse struct {
	Users []access.EntityUser `json:"users"`
}

type grantBody struct {
	AccessType      access.AccessType `json:"access_type"`
	PermissionLevel string            `json:"permission_level,omitempty"`
	Identity        string            `json:"identity"`
}

// QueryEntityUsers returns the users of an entity in platform order.
func (c *HTTPClient) QueryEntityUsers(ctx context.Context, req EntityUsersRequest) ([]access.EntityUser, error) {
	endpoint, err := c.endpoint(req.Platform, req.Service, req.EntityID, "users")
	if err != nil {
		return nil, err
	}
	if req.AgencyFilter != "" {
		endpoint += "?" + url.Values{"identity": {req.AgencyFilter}}.Encode()
	}

	body, err := c.do(ctx, http.MethodGet, endpoint, req.Credentials, nil)
	if err != nil {
		return nil, fmt.Errorf("query entity users %s/%s: %w", req.Service, req.EntityID, err)
	}

	var resp entityUsersResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("query entity users %s/%s: decode response: %w", req.Service, req.EntityID, err)
	}
	if resp.Users == nil {
		resp.Users = []access.EntityUser{}
	}
	return resp.Users, nil
}

// GrantAccess asks the platform to grant access to the agency identity.
func (c *HTTPClient) GrantAccess(ctx context.Context, req GrantRequest) error {
	endpoint, err := c.endpoint(req.Platform, req.Service, req.EntityID, "grants")
	if err != nil {
		return err
	}
	payload, err := json.Marshal(grantBody{
		AccessType:      req.AccessType,
		PermissionLevel: req.PermissionLevel,
		Identity:        req.AgencyIdentity,
	})
	if err != nil {
		return err
	}
	if _, err := c.do(ctx, http.MethodPost, endpoint, req.Credentials, payload); err != nil {
		return fmt.Errorf("grant access %s/%s: %w", req.Service, req.EntityID, err)
	}
	return nil
}

func (c *HTTPClient) endpoint(p access.Platform, service, entityID, leaf string) (string, error) {
	base, ok := c.baseURLs[p]
	if !ok {
		return "", fmt.Errorf("no base URL configured for platform %q", p)
	}
	return fmt.Sprintf("%s/v1/services/%s/entities/%s/%s",
		base, url.PathEscape(service), url.PathEscape(entityID), leaf), nil
}

func (c *HTTPClient) do(ctx context.Context, method, endpoint string, creds Credentials, payload []byte) ([]byte, error) {
	token := strings.TrimSpace(creds.Token)
	if token == "" {
		return nil, ErrUnauthorized
	}
	correlationID := uuid.NewString()

	for attempt := 0; ; attempt++ {
		var body io.Reader
		if payload != nil {
			body = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Accept", "application/json")
		req.Header.Set("X-Correlation-Id", correlationID)
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if c.userAgent != "" {
			req.Header.Set("User-Agent", c.userAgent)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if attempt < c.maxRetries {
				if waitErr := sleepContext(ctx, c.retryDelay(attempt+1, "")); waitErr != nil {
					return nil, waitErr
				}
				continue
			}
			return nil, err
		}

		respBody, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			return nil, readErr
		}
		if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
			return respBody, nil
		}

		if (resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500) && attempt < c.maxRetries {
			if waitErr := sleepContext(ctx, c.retryDelay(attempt+1, resp.Header.Get("Retry-After"))); waitErr != nil {
				return nil, waitErr
			}
			continue
		}

		return nil, statusError(resp.StatusCode, respBody)
	}
}

func statusError(status int, body []byte) error {
	se := &StatusError{Status: status, Message: strings.TrimSpace(string(body))}
	var parsed map[string]any
	if json.Unmarshal(body, &parsed) == nil {
		if code, ok := parsed["code"].(string); ok {
			se.Code = code
		}
		if message, ok := parsed["message"].(string); ok && strings.TrimSpace(message) != "" {
			se.Message = message
		}
	}
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return errors.Join(ErrUnauthorized, se)
	case http.StatusNotFound:
		return errors.Join(ErrEntityNotFound, se)
	}
	return se
}

func (c *HTTPClient) retryDelay(attempt int, retryAfterHeader string) time.Duration {
	if retryAfter := parseRetryAfterSeconds(retryAfterHeader); retryAfter > 0 {
		if retryAfter > c.maxDelay {
			return c.maxDelay
		}
		return retryAfter
	}
	delay := c.baseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= c.maxDelay {
			return c.maxDelay
		}
	}
	if delay > c.maxDelay {
		return c.maxDelay
	}
	return delay
}

func parseRetryAfterSeconds(header string) time.Duration {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0
	}
	seconds, err := strconv.Atoi(header)
	if err != nil || seconds < 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}

func sleepContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
