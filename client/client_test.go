package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func newTestClient(baseURL string) *Client {
	c := NewClient(NewEndpointResolver([]string{baseURL}, "", nil), "test")
	c.InitialBackoff = 10 * time.Millisecond
	return c
}

func TestDoRetriesServerErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/thing/" {
			w.WriteHeader(http.StatusOK) // resolver probe
			return
		}
		if atomic.AddInt32(&calls, 1) <= 3 {
			http.Error(w, `{"error":"boom"}`, http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	c.MaxAttempts = 4

	start := time.Now()
	body, _, err := c.do(context.Background(), http.MethodGet, "/thing/", "", nil, nil)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	if string(body) != `{"ok":true}` {
		t.Fatalf("body = %q", body)
	}
	if got := atomic.LoadInt32(&calls); got != 4 {
		t.Fatalf("server saw %d attempts, want 4", got)
	}
	// Three waits with doubling backoff: 10 + 20 + 40 ms minimum.
	if elapsed := time.Since(start); elapsed < 70*time.Millisecond {
		t.Fatalf("retries completed in %v, backoff not applied", elapsed)
	}
}

func TestDoRetriesRateLimited(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/thing/" {
			w.WriteHeader(http.StatusOK) // resolver probe
			return
		}
		if atomic.AddInt32(&calls, 1) == 1 {
			http.Error(w, `{"message":"slow down"}`, http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	if _, _, err := c.do(context.Background(), http.MethodGet, "/thing/", "", nil, nil); err != nil {
		t.Fatalf("do: %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Fatalf("server saw %d attempts, want 2", got)
	}
}

func TestDoClientErrorNotRetried(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/thing/" {
			w.WriteHeader(http.StatusOK) // resolver probe
			return
		}
		atomic.AddInt32(&calls, 1)
		http.Error(w, `{"message":"no such visit"}`, http.StatusNotFound)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	_, _, err := c.do(context.Background(), http.MethodGet, "/thing/", "", nil, nil)

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("err = %v, want *APIError", err)
	}
	if apiErr.StatusCode != http.StatusNotFound {
		t.Fatalf("StatusCode = %d, want 404", apiErr.StatusCode)
	}
	if apiErr.Message != "no such visit" {
		t.Fatalf("Message = %q", apiErr.Message)
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("server saw %d attempts, want 1", got)
	}
}

func TestDoExhaustedRetriesReturnsLastError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/thing/" {
			w.WriteHeader(http.StatusOK) // resolver probe
			return
		}
		http.Error(w, `{"detail":"still broken"}`, http.StatusBadGateway)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	c.MaxAttempts = 2

	_, _, err := c.do(context.Background(), http.MethodGet, "/thing/", "", nil, nil)
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("err = %v, want *APIError", err)
	}
	if apiErr.StatusCode != http.StatusBadGateway || apiErr.Message != "still broken" {
		t.Fatalf("unexpected error: %v", apiErr)
	}
}

func TestDoTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/thing/" {
			w.WriteHeader(http.StatusOK) // resolver probe
			return
		}
		time.Sleep(500 * time.Millisecond)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	c.Timeout = 50 * time.Millisecond
	c.MaxAttempts = 1

	_, _, err := c.do(context.Background(), http.MethodGet, "/thing/", "", nil, nil)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("err = %v, want ErrTimeout", err)
	}
}

func TestDoNetworkErrorInvalidatesEndpoint(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	c := newTestClient(srv.URL)
	if _, _, err := c.do(context.Background(), http.MethodGet, "/thing/", "", nil, nil); err != nil {
		t.Fatalf("warm-up request: %v", err)
	}

	srv.Close()

	_, _, err := c.do(context.Background(), http.MethodGet, "/thing/", "", nil, nil)
	if !errors.Is(err, ErrNetwork) {
		t.Fatalf("err = %v, want ErrNetwork", err)
	}

	// The cached endpoint must be gone so the next call re-probes.
	c.Resolver().mu.Lock()
	resolved := c.Resolver().resolved
	c.Resolver().mu.Unlock()
	if resolved != "" {
		t.Fatalf("resolved endpoint %q survived a network failure", resolved)
	}
}

func TestDoSendsAuthAndAgentHeaders(t *testing.T) {
	var gotAuth, gotAgent, gotAccept string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotAgent = r.Header.Get("User-Agent")
		gotAccept = r.Header.Get("Accept")
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	c.SetToken("admin_token_123_abc")

	if _, _, err := c.do(context.Background(), http.MethodGet, "/thing/", "", nil, nil); err != nil {
		t.Fatalf("do: %v", err)
	}
	if gotAuth != "Bearer admin_token_123_abc" {
		t.Fatalf("Authorization = %q", gotAuth)
	}
	if gotAgent != "VisitMaster-Kiosk/test" {
		t.Fatalf("User-Agent = %q", gotAgent)
	}
	if gotAccept != "application/json" {
		t.Fatalf("Accept = %q", gotAccept)
	}
}

func TestDoAbsoluteURLBypassesResolver(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	// Resolver only knows a dead candidate; the absolute URL must not
	// touch it.
	c := newTestClient("http://127.0.0.1:1")
	if _, _, err := c.do(context.Background(), http.MethodGet, srv.URL+"/thing/", "", nil, nil); err != nil {
		t.Fatalf("do: %v", err)
	}
}

func TestDoContextCancellation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/thing/" {
			w.WriteHeader(http.StatusOK) // resolver probe
			return
		}
		http.Error(w, "{}", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	c.InitialBackoff = time.Hour // cancellation must cut the backoff wait short

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, _, err := c.do(ctx, http.MethodGet, "/thing/", "", nil, nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if time.Since(start) > 5*time.Second {
		t.Fatal("cancellation did not interrupt the backoff wait")
	}
}

func TestHealth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/visitors/active/" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		w.Write([]byte(`{"server_version":"2.1.0","min_kiosk_version":"1.0.0"}`))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	info, err := c.Health(context.Background())
	if err != nil {
		t.Fatalf("Health: %v", err)
	}
	if info.ServerVersion != "2.1.0" || info.MinKioskVersion != "1.0.0" {
		t.Fatalf("unexpected health info: %+v", info)
	}
}
