// Package client implements the kiosk's connection to the VisitMaster
// backend: endpoint resolution across candidate hosts, resilient HTTP with
// retry and backoff, and the typed visitor API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/Masterminds/semver/v3"
)

// Client issues HTTP requests against the resolved base URL with consistent
// headers, timeout, retry, and error semantics. Callers work with domain
// results rather than raw transport failures.
type Client struct {
	// Timeout bounds each individual attempt, aborting the in-flight call.
	Timeout time.Duration
	// MaxAttempts caps the total attempts for one logical request.
	MaxAttempts int
	// InitialBackoff is the wait before the second attempt; it doubles
	// between subsequent attempts.
	InitialBackoff time.Duration

	resolver   *EndpointResolver
	httpClient *http.Client
	version    string

	mu    sync.RWMutex
	token string
}

// NewClient creates a client over the given resolver. version is reported in
// the User-Agent header and checked against the backend's minimum supported
// kiosk version.
func NewClient(resolver *EndpointResolver, version string) *Client {
	return &Client{
		Timeout:        15 * time.Second,
		MaxAttempts:    3,
		InitialBackoff: time.Second,
		resolver:       resolver,
		httpClient:     &http.Client{},
		version:        version,
	}
}

// SetToken updates the bearer token attached to subsequent requests.
// An empty token removes the Authorization header.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
}

// GetToken retrieves the current bearer token
func (c *Client) GetToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// Resolver returns the underlying endpoint resolver for reuse by other
// subsystems.
func (c *Client) Resolver() *EndpointResolver {
	return c.resolver
}

// doJSON performs a JSON request. reqBody and respBody may be nil. A 204
// response leaves respBody untouched.
func (c *Client) doJSON(ctx context.Context, method, path string, reqBody, respBody interface{}) error {
	var body []byte
	if reqBody != nil {
		data, err := json.Marshal(reqBody)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = data
	}
	data, _, err := c.do(ctx, method, path, "application/json", body, nil)
	if err != nil {
		return err
	}
	if respBody != nil && len(data) > 0 {
		if err := json.Unmarshal(data, respBody); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

// do performs one logical request with endpoint resolution, default headers,
// per-attempt timeout, and bounded retry with doubling backoff for HTTP 5xx
// and 429. It returns the response body and headers on success.
func (c *Client) do(ctx context.Context, method, path, contentType string, body []byte, extraHeaders map[string]string) ([]byte, http.Header, error) {
	url, usedResolver, err := c.buildURL(ctx, path)
	if err != nil {
		return nil, nil, err
	}

	logDebug("HTTP request", "method", method, "url", url)

	delay := c.InitialBackoff
	var lastErr error
	for attempt := 1; attempt <= c.MaxAttempts; attempt++ {
		if attempt > 1 {
			logInfo("Retrying request", "method", method, "url", url, "attempt", attempt, "wait", delay.String())
			select {
			case <-ctx.Done():
				return nil, nil, translateContextErr(ctx.Err())
			case <-time.After(delay):
			}
			delay *= 2
		}

		status, data, headers, err := c.send(ctx, method, url, contentType, body, extraHeaders)
		if err != nil {
			// Transport errors are not retried here; the resolver's candidate
			// fallback handles connectivity churn on the next logical call.
			if errors.Is(err, ErrNetwork) && usedResolver {
				c.resolver.Invalidate()
			}
			logError("Request failed", "method", method, "url", url, "error", err)
			return nil, nil, err
		}

		logDebug("HTTP response", "method", method, "url", url, "status", status)

		if status >= 200 && status < 300 {
			if status == http.StatusNoContent {
				return nil, headers, nil
			}
			return data, headers, nil
		}

		apiErr := newAPIError(status, data)
		if !apiErr.Retryable() {
			return nil, nil, apiErr
		}
		lastErr = apiErr
	}

	logError("Request failed after retries", "method", method, "url", url, "attempts", c.MaxAttempts, "error", lastErr)
	return nil, nil, lastErr
}

// send issues a single attempt and translates transport errors into the
// client's taxonomy.
func (c *Client) send(ctx context.Context, method, url, contentType string, body []byte, extraHeaders map[string]string) (int, []byte, http.Header, error) {
	attemptCtx := ctx
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(attemptCtx, method, url, bodyReader)
	if err != nil {
		return 0, nil, nil, fmt.Errorf("failed to create request: %w", err)
	}

	if contentType != "" && body != nil {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "VisitMaster-Kiosk/"+c.version)
	if token := c.GetToken(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for k, v := range extraHeaders {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, nil, translateTransportErr(ctx, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, nil, translateTransportErr(ctx, err)
	}

	return resp.StatusCode, data, resp.Header, nil
}

// buildURL resolves relative paths against the working base URL. Absolute
// URLs bypass endpoint resolution entirely.
func (c *Client) buildURL(ctx context.Context, path string) (string, bool, error) {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path, false, nil
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	base, err := c.resolver.Resolve(ctx)
	if err != nil {
		if !errors.Is(err, ErrNoReachableEndpoint) {
			return "", false, err
		}
		// Best-effort URL: the kiosk must still attempt to function.
		logWarn("Proceeding with unverified endpoint", "url", base)
	}
	return base + path, true, nil
}

// translateTransportErr maps low-level failures onto the distinct timeout and
// network errors. Caller-initiated cancellation passes through unchanged.
func translateTransportErr(ctx context.Context, err error) error {
	if ctx.Err() != nil && errors.Is(ctx.Err(), context.Canceled) {
		return ctx.Err()
	}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return fmt.Errorf("%w", ErrTimeout)
	}
	return fmt.Errorf("%w (%v)", ErrNetwork, err)
}

func translateContextErr(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w", ErrTimeout)
	}
	return err
}

// HealthInfo is the probe endpoint's optional version advertisement.
type HealthInfo struct {
	ServerVersion   string `json:"server_version"`
	MinKioskVersion string `json:"min_kiosk_version"`
}

// Health probes the backend and, when the server advertises a minimum kiosk
// version, checks this build against it. Incompatibility is logged, never
// fatal: an old kiosk keeps limping along rather than going dark.
func (c *Client) Health(ctx context.Context) (*HealthInfo, error) {
	probePath := c.resolver.probePath

	data, _, err := c.do(ctx, http.MethodGet, probePath, "", nil, nil)
	if err != nil {
		return nil, err
	}

	info := &HealthInfo{}
	if len(data) > 0 {
		// Probe bodies without version fields are fine
		_ = json.Unmarshal(data, info)
	}

	if info.MinKioskVersion != "" && c.version != "" {
		minVer, err1 := semver.NewVersion(info.MinKioskVersion)
		ourVer, err2 := semver.NewVersion(strings.TrimPrefix(c.version, "v"))
		if err1 == nil && err2 == nil && ourVer.LessThan(minVer) {
			logWarn("Kiosk version below server minimum",
				"version", c.version, "min_version", info.MinKioskVersion)
		}
	}

	return info, nil
}
