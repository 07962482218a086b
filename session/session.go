// Package session manages the kiosk's admin login: credential checking,
// opaque token issuance, persistence across restarts, and idle-timeout
// auto-logout.
package session

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"visitmaster/kiosk/storage"
)

// Secret-store keys for the persisted session. All three must be present and
// consistent for a restart to restore the session.
const (
	keyAuthToken   = "admin_auth_token"
	keyUsername    = "admin_username"
	keyTokenExpiry = "admin_token_expiry"
)

// ErrInvalidCredentials is returned by Login for a wrong username or
// password. The message is shown to the admin, so it stays deliberately
// vague about which field was wrong.
var ErrInvalidCredentials = errors.New("invalid username or password")

// Credentials is the configured admin login pair. Username comparison is
// case-insensitive, password comparison is exact.
type Credentials struct {
	Username string
	Password string
}

// Config carries the session policy knobs.
type Config struct {
	// TokenValidity is how long an issued token is accepted. Zero means
	// the 24 hour default.
	TokenValidity time.Duration

	// IdleTimeout is how long after login the session is force-closed.
	// The window is fixed at login, not extended by activity. Zero means
	// the 30 minute default.
	IdleTimeout time.Duration
}

const (
	defaultTokenValidity = 24 * time.Hour
	defaultIdleTimeout   = 30 * time.Minute
)

// Manager owns the admin session state. All methods are safe for concurrent
// use.
type Manager struct {
	creds Credentials
	cfg   Config
	store storage.SecretStore

	mu            sync.Mutex
	authenticated bool
	username      string
	token         string
	expiry        time.Time
	idleTimer     *time.Timer
	lastErr       error

	// onLogout is invoked (without the lock held) whenever the session
	// ends for any reason, including idle timeout.
	onLogout func(reason string)

	now func() time.Time // test hook
}

// NewManager creates a session manager. store may be nil, in which case the
// session only lives for the process lifetime.
func NewManager(creds Credentials, cfg Config, store storage.SecretStore) *Manager {
	if cfg.TokenValidity <= 0 {
		cfg.TokenValidity = defaultTokenValidity
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = defaultIdleTimeout
	}
	return &Manager{
		creds: creds,
		cfg:   cfg,
		store: store,
		now:   time.Now,
	}
}

// OnLogout registers a callback fired when the session ends. Used to clear
// the API client's token and to surface the idle logout in the UI.
func (m *Manager) OnLogout(fn func(reason string)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onLogout = fn
}

// Login validates the supplied credentials and, on success, issues a token
// and starts the idle-timeout clock. Persistence failures are ignored: a
// session that cannot be saved still works until the process exits.
func (m *Manager) Login(username, password string) (string, error) {
	username = strings.TrimSpace(username)

	m.mu.Lock()
	defer m.mu.Unlock()

	if !strings.EqualFold(username, m.creds.Username) || password != m.creds.Password {
		m.lastErr = ErrInvalidCredentials
		return "", ErrInvalidCredentials
	}

	m.lastErr = nil
	now := m.now()
	m.authenticated = true
	m.username = username
	m.token = newToken(now)
	m.expiry = now.Add(m.cfg.TokenValidity)

	if m.store != nil {
		// Best effort: losing persistence only costs a re-login after restart.
		_ = m.store.Set(keyAuthToken, m.token)
		_ = m.store.Set(keyUsername, m.username)
		_ = m.store.Set(keyTokenExpiry, strconv.FormatInt(m.expiry.UnixMilli(), 10))
	}

	m.armIdleTimerLocked()

	return m.token, nil
}

// Logout ends the session. Safe to call when not logged in.
func (m *Manager) Logout() {
	m.endSession("logout")
}

// ForceLogout ends the session with an explicit reason, used by the idle
// timer and by operators.
func (m *Manager) ForceLogout(reason string) {
	m.endSession(reason)
}

// CheckAuthState restores a persisted session if its token is still valid.
// Incomplete or expired persisted state is cleared so the store never holds
// a partial session. Returns whether the kiosk is now authenticated.
func (m *Manager) CheckAuthState() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.authenticated {
		return true
	}
	if m.store == nil {
		return false
	}

	token, errTok := m.store.Get(keyAuthToken)
	username, errUser := m.store.Get(keyUsername)
	expiryRaw, errExp := m.store.Get(keyTokenExpiry)

	if errTok != nil || errUser != nil || errExp != nil || token == "" || username == "" {
		m.clearStoredLocked()
		return false
	}

	expiryMillis, err := strconv.ParseInt(expiryRaw, 10, 64)
	if err != nil {
		m.clearStoredLocked()
		return false
	}
	expiry := time.UnixMilli(expiryMillis)
	if !m.now().Before(expiry) {
		m.clearStoredLocked()
		return false
	}

	m.authenticated = true
	m.username = username
	m.token = token
	m.expiry = expiry
	m.armIdleTimerLocked()

	return true
}

// IsAuthenticated reports whether a live, unexpired session exists.
func (m *Manager) IsAuthenticated() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.authenticated && m.now().Before(m.expiry)
}

// Token returns the current session token, or empty when logged out.
func (m *Manager) Token() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.authenticated || !m.now().Before(m.expiry) {
		return ""
	}
	return m.token
}

// LastError returns the most recent login failure, cleared by a successful
// login.
func (m *Manager) LastError() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}

// Username returns the logged-in username, or empty when logged out.
func (m *Manager) Username() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.authenticated {
		return ""
	}
	return m.username
}

func (m *Manager) endSession(reason string) {
	m.mu.Lock()

	wasAuthenticated := m.authenticated
	m.authenticated = false
	m.username = ""
	m.token = ""
	m.expiry = time.Time{}
	if m.idleTimer != nil {
		m.idleTimer.Stop()
		m.idleTimer = nil
	}
	m.clearStoredLocked()
	callback := m.onLogout

	m.mu.Unlock()

	if wasAuthenticated && callback != nil {
		callback(reason)
	}
}

// armIdleTimerLocked starts (or restarts) the fixed idle-logout window.
// Callers must hold m.mu.
func (m *Manager) armIdleTimerLocked() {
	if m.idleTimer != nil {
		m.idleTimer.Stop()
	}
	m.idleTimer = time.AfterFunc(m.cfg.IdleTimeout, func() {
		m.endSession("idle timeout")
	})
}

// clearStoredLocked removes all persisted session keys. Callers must hold
// m.mu.
func (m *Manager) clearStoredLocked() {
	if m.store == nil {
		return
	}
	_ = m.store.Delete(keyAuthToken)
	_ = m.store.Delete(keyUsername)
	_ = m.store.Delete(keyTokenExpiry)
}

// newToken produces an opaque session token. The backend never inspects it;
// it only needs to be unguessable and unique per login.
func newToken(now time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	return fmt.Sprintf("admin_token_%d_%s", now.UnixMilli(), suffix)
}
