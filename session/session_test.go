package session

import (
	"errors"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"visitmaster/kiosk/storage"
)

var testCreds = Credentials{Username: "admin", Password: "admin123"}

func newTestManager(store storage.SecretStore) *Manager {
	return NewManager(testCreds, Config{}, store)
}

func TestLoginValidCredentials(t *testing.T) {
	m := newTestManager(nil)

	token, err := m.Login("admin", "admin123")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if !strings.HasPrefix(token, "admin_token_") {
		t.Fatalf("token = %q, want admin_token_ prefix", token)
	}
	if !m.IsAuthenticated() {
		t.Fatal("not authenticated after login")
	}
	if m.Token() != token {
		t.Fatal("Token() does not match issued token")
	}
	if m.Username() != "admin" {
		t.Fatalf("Username() = %q", m.Username())
	}
}

func TestLoginUsernameCaseInsensitive(t *testing.T) {
	m := newTestManager(nil)
	if _, err := m.Login("  ADMIN  ", "admin123"); err != nil {
		t.Fatalf("Login with cased/padded username: %v", err)
	}
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	m := newTestManager(nil)

	cases := []struct{ user, pass string }{
		{"admin", "ADMIN123"}, // password is case-sensitive
		{"admin", "wrong"},
		{"root", "admin123"},
		{"", ""},
	}
	for _, c := range cases {
		if _, err := m.Login(c.user, c.pass); !errors.Is(err, ErrInvalidCredentials) {
			t.Errorf("Login(%q, %q) err = %v, want ErrInvalidCredentials", c.user, c.pass, err)
		}
	}
	if m.IsAuthenticated() {
		t.Fatal("authenticated after failed logins")
	}
	if !errors.Is(m.LastError(), ErrInvalidCredentials) {
		t.Fatalf("LastError() = %v", m.LastError())
	}

	if _, err := m.Login("admin", "admin123"); err != nil {
		t.Fatalf("Login: %v", err)
	}
	if m.LastError() != nil {
		t.Fatalf("LastError() = %v after successful login", m.LastError())
	}
}

func TestLoginTokensAreUnique(t *testing.T) {
	m := newTestManager(nil)
	t1, _ := m.Login("admin", "admin123")
	t2, _ := m.Login("admin", "admin123")
	if t1 == t2 {
		t.Fatal("consecutive logins issued identical tokens")
	}
}

func TestLogoutClearsState(t *testing.T) {
	store := storage.NewMemorySecretStore()
	m := newTestManager(store)

	if _, err := m.Login("admin", "admin123"); err != nil {
		t.Fatalf("Login: %v", err)
	}
	if _, err := store.Get("admin_auth_token"); err != nil {
		t.Fatalf("token not persisted: %v", err)
	}

	m.Logout()

	if m.IsAuthenticated() {
		t.Fatal("authenticated after logout")
	}
	if m.Token() != "" {
		t.Fatal("token survived logout")
	}
	for _, key := range []string{"admin_auth_token", "admin_username", "admin_token_expiry"} {
		if _, err := store.Get(key); !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("persisted %s survived logout", key)
		}
	}

	// Logout when already logged out is a no-op.
	m.Logout()
}

func TestCheckAuthStateRestoresSession(t *testing.T) {
	store := storage.NewMemorySecretStore()

	first := newTestManager(store)
	token, err := first.Login("admin", "admin123")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	// Simulate a restart with the same store.
	second := newTestManager(store)
	if !second.CheckAuthState() {
		t.Fatal("persisted session not restored")
	}
	if second.Token() != token {
		t.Fatal("restored token does not match issued token")
	}
	if second.Username() != "admin" {
		t.Fatalf("Username() = %q", second.Username())
	}
}

func TestCheckAuthStateRejectsExpiredToken(t *testing.T) {
	store := storage.NewMemorySecretStore()
	store.Set("admin_auth_token", "admin_token_1_abc")
	store.Set("admin_username", "admin")
	expired := time.Now().Add(-time.Minute).UnixMilli()
	store.Set("admin_token_expiry", strconv.FormatInt(expired, 10))

	m := newTestManager(store)
	if m.CheckAuthState() {
		t.Fatal("expired session restored")
	}
	if _, err := store.Get("admin_auth_token"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatal("expired session not cleared from store")
	}
}

func TestCheckAuthStateRejectsPartialState(t *testing.T) {
	store := storage.NewMemorySecretStore()
	store.Set("admin_auth_token", "admin_token_1_abc")
	// username and expiry missing

	m := newTestManager(store)
	if m.CheckAuthState() {
		t.Fatal("partial session restored")
	}
	if _, err := store.Get("admin_auth_token"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatal("partial session not cleared from store")
	}
}

func TestCheckAuthStateRejectsGarbageExpiry(t *testing.T) {
	store := storage.NewMemorySecretStore()
	store.Set("admin_auth_token", "admin_token_1_abc")
	store.Set("admin_username", "admin")
	store.Set("admin_token_expiry", "not-a-number")

	m := newTestManager(store)
	if m.CheckAuthState() {
		t.Fatal("session with unparseable expiry restored")
	}
}

func TestIdleTimeoutForcesLogout(t *testing.T) {
	m := NewManager(testCreds, Config{IdleTimeout: 50 * time.Millisecond}, nil)

	var mu sync.Mutex
	var reason string
	done := make(chan struct{})
	m.OnLogout(func(r string) {
		mu.Lock()
		reason = r
		mu.Unlock()
		close(done)
	})

	if _, err := m.Login("admin", "admin123"); err != nil {
		t.Fatalf("Login: %v", err)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("idle timeout never fired")
	}

	if m.IsAuthenticated() {
		t.Fatal("authenticated after idle timeout")
	}
	mu.Lock()
	defer mu.Unlock()
	if reason != "idle timeout" {
		t.Fatalf("logout reason = %q", reason)
	}
}

func TestExpiredTokenNotReturned(t *testing.T) {
	m := NewManager(testCreds, Config{TokenValidity: time.Millisecond}, nil)
	if _, err := m.Login("admin", "admin123"); err != nil {
		t.Fatalf("Login: %v", err)
	}

	m.now = func() time.Time { return time.Now().Add(time.Hour) }

	if m.IsAuthenticated() {
		t.Fatal("authenticated past token validity")
	}
	if m.Token() != "" {
		t.Fatal("expired token still returned")
	}
}
