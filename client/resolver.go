package client

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// resolvedEndpointKey is the secret-store key for the persisted endpoint, so
// cold starts can skip re-probing.
const resolvedEndpointKey = "resolved_endpoint"

// EndpointStore is the minimal persistence the resolver needs. Satisfied by
// storage.SecretStore.
type EndpointStore interface {
	Get(key string) (string, error)
	Set(key, value string) error
	Delete(key string) error
}

// EndpointResolver determines, at runtime, which of several candidate base
// URLs actually reaches the backend. Candidates are probed sequentially and
// the first success is cached for the rest of the process run; callers report
// live failures via Invalidate to force a re-probe.
type EndpointResolver struct {
	mu           sync.Mutex
	candidates   []string
	probePath    string
	probeTimeout time.Duration
	httpClient   *http.Client
	store        EndpointStore // optional
	resolved     string
	storeChecked bool
}

// NewEndpointResolver creates a resolver over an ordered candidate list.
// Candidates are normalized and deduplicated; empty entries are dropped.
// store may be nil, in which case the resolved endpoint is not persisted
// across restarts.
func NewEndpointResolver(candidates []string, probePath string, store EndpointStore) *EndpointResolver {
	if probePath == "" {
		probePath = "/visitors/active/"
	}
	if !strings.HasPrefix(probePath, "/") {
		probePath = "/" + probePath
	}
	r := &EndpointResolver{
		probePath:    probePath,
		probeTimeout: 5 * time.Second,
		httpClient:   &http.Client{},
		store:        store,
	}
	for _, c := range candidates {
		r.addLocked(c)
	}
	return r
}

// SetProbeTimeout overrides the per-candidate probe timeout.
func (r *EndpointResolver) SetProbeTimeout(d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.probeTimeout = d
}

// AddCandidates appends further candidate URLs (LAN discovery results).
// Duplicates and empty strings are ignored.
func (r *EndpointResolver) AddCandidates(urls ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range urls {
		r.addLocked(u)
	}
}

func (r *EndpointResolver) addLocked(raw string) {
	normalized, err := normalizeBaseURL(raw)
	if err != nil {
		return
	}
	for _, existing := range r.candidates {
		if existing == normalized {
			return
		}
	}
	r.candidates = append(r.candidates, normalized)
}

// Candidates returns a copy of the current candidate list in probe order.
func (r *EndpointResolver) Candidates() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.candidates...)
}

// Resolve returns the working base URL. A previously resolved URL is returned
// without any network I/O. Otherwise candidates are probed in order and the
// first success is cached and persisted. If every probe fails, the first
// candidate is returned together with ErrNoReachableEndpoint so callers
// always have a usable (if unverified) value.
func (r *EndpointResolver) Resolve(ctx context.Context) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.resolved != "" {
		return r.resolved, nil
	}
	if len(r.candidates) == 0 {
		return "", fmt.Errorf("no candidate endpoints configured")
	}

	// A previously persisted endpoint gets one verification probe before the
	// full scan; stale entries are dropped.
	if r.store != nil && !r.storeChecked {
		r.storeChecked = true
		if persisted, err := r.store.Get(resolvedEndpointKey); err == nil && persisted != "" {
			if r.probe(ctx, persisted) {
				logDebug("Using persisted endpoint", "url", persisted)
				r.resolved = persisted
				return persisted, nil
			}
			logWarn("Persisted endpoint no longer reachable", "url", persisted)
			_ = r.store.Delete(resolvedEndpointKey)
		}
	}

	for _, candidate := range r.candidates {
		if ctx.Err() != nil {
			break
		}
		if r.probe(ctx, candidate) {
			logInfo("Endpoint resolved", "url", candidate)
			r.resolved = candidate
			if r.store != nil {
				if err := r.store.Set(resolvedEndpointKey, candidate); err != nil {
					logWarn("Failed to persist resolved endpoint", "error", err)
				}
			}
			return candidate, nil
		}
		logDebug("Candidate probe failed", "url", candidate)
	}

	logWarn("No candidate endpoint reachable, falling back to first candidate", "url", r.candidates[0])
	return r.candidates[0], ErrNoReachableEndpoint
}

// Invalidate clears the cached endpoint after a live request failed against
// it. The next Resolve call re-probes from scratch.
func (r *EndpointResolver) Invalidate() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.resolved != "" {
		logInfo("Invalidating resolved endpoint", "url", r.resolved)
	}
	r.resolved = ""
	if r.store != nil {
		_ = r.store.Delete(resolvedEndpointKey)
	}
}

// probe issues a single health-check GET against base. Any error or non-2xx
// status marks the candidate unreachable; probe errors never propagate.
func (r *EndpointResolver) probe(ctx context.Context, base string) bool {
	probeCtx, cancel := context.WithTimeout(ctx, r.probeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, base+r.probePath, nil)
	if err != nil {
		return false
	}
	req.Header.Set("Accept", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

// normalizeBaseURL validates a candidate and strips its trailing slash.
// Scheme-less entries default to http, matching how LAN addresses appear in
// kiosk configs.
func normalizeBaseURL(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", fmt.Errorf("endpoint is required")
	}
	if !strings.Contains(trimmed, "://") {
		trimmed = "http://" + trimmed
	}
	u, err := url.Parse(trimmed)
	if err != nil {
		return "", fmt.Errorf("invalid endpoint: %w", err)
	}
	if u.Host == "" {
		return "", fmt.Errorf("endpoint missing host")
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
	default:
		return "", fmt.Errorf("unsupported scheme %s", u.Scheme)
	}
	return strings.TrimRight(u.String(), "/"), nil
}
