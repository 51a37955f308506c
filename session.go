package energygrid

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/Shaloh69/EnergyGridCSR-sub003/internal/singleflight"
)

// SessionState is the lifecycle state of the stored credential.
type SessionState int

const (
	// SessionAnonymous means no credential is stored.
	SessionAnonymous SessionState = iota
	// SessionAuthenticated means the access token is valid with margin to spare.
	SessionAuthenticated
	// SessionExpiring means less than the expiry buffer remains; requests go
	// out anonymous until a refresh succeeds.
	SessionExpiring
	// SessionExpired means the access token's exp claim has passed.
	SessionExpired
)

func (s SessionState) String() string {
	switch s {
	case SessionAuthenticated:
		return "authenticated"
	case SessionExpiring:
		return "expiring"
	case SessionExpired:
		return "expired"
	default:
		return "anonymous"
	}
}

// Credential is the stored bearer credential triple plus the user identity.
type Credential struct {
	AccessToken  string         `json:"accessToken"`
	RefreshToken string         `json:"refreshToken"`
	User         map[string]any `json:"user,omitempty"`
	ExpiresAt    time.Time      `json:"expiresAt"`
}

// SessionStore persists the credential. Implementations must treat the
// triple as a unit: a Set either stores everything or nothing.
type SessionStore interface {
	Get() (*Credential, bool)
	Set(cred *Credential) error
	Clear()
}

// MemorySessionStore keeps the credential in process memory.
type MemorySessionStore struct {
	mu   sync.RWMutex
	cred *Credential
}

// NewMemorySessionStore returns an empty in-memory store.
func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{}
}

func (s *MemorySessionStore) Get() (*Credential, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.cred == nil {
		return nil, false
	}
	copied := *s.cred
	return &copied, true
}

func (s *MemorySessionStore) Set(cred *Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *cred
	s.cred = &copied
	return nil
}

func (s *MemorySessionStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cred = nil
}

// FileSessionStore persists the credential as one JSON file, written
// atomically so a crash cannot leave a partial triple on disk.
type FileSessionStore struct {
	mu   sync.Mutex
	path string
}

// NewFileSessionStore stores the credential at path.
func NewFileSessionStore(path string) *FileSessionStore {
	return &FileSessionStore{path: path}
}

func (s *FileSessionStore) Get() (*Credential, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	raw, err := os.ReadFile(s.path)
	if err != nil {
		return nil, false
	}
	var cred Credential
	if err := json.Unmarshal(raw, &cred); err != nil {
		// Unreadable session file: clear the unit rather than return parts.
		_ = os.Remove(s.path)
		return nil, false
	}
	return &cred, true
}

func (s *FileSessionStore) Set(cred *Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	raw, err := json.Marshal(cred)
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

func (s *FileSessionStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = os.Remove(s.path)
}

// RefreshFunc exchanges the stored refresh token for a new credential pair.
type RefreshFunc func(ctx context.Context, refreshToken string) (*Credential, error)

// DefaultExpiryBuffer is how much remaining lifetime a token needs before it
// is treated as expiring. Deliberately conservative so an in-flight request
// never races true expiry.
const DefaultExpiryBuffer = 5 * time.Minute

// SessionManager validates, stores and proactively refreshes bearer
// credentials. All refresh attempts are funneled through a single in-flight
// guard so concurrent callers share one network refresh.
type SessionManager struct {
	store      SessionStore
	buffer     time.Duration
	refreshFn  RefreshFunc
	flights    *singleflight.Group
	onFailure  func()
	authFailed atomic.Bool
	now        func() time.Time

	logger  Logger
	debug   *DebugConfig
	metrics *MetricsCollector
}

// NewSessionManager creates a manager over the given store. A nil store
// defaults to in-memory.
func NewSessionManager(store SessionStore) *SessionManager {
	if store == nil {
		store = NewMemorySessionStore()
	}
	return &SessionManager{
		store:   store,
		buffer:  DefaultExpiryBuffer,
		flights: singleflight.New(),
		now:     time.Now,
	}
}

// SetRefreshFunc installs the refresh exchange.
func (m *SessionManager) SetRefreshFunc(fn RefreshFunc) { m.refreshFn = fn }

// SetExpiryBuffer overrides the expiring-soon margin. Non-positive values
// are clamped to the default.
func (m *SessionManager) SetExpiryBuffer(d time.Duration) {
	if d <= 0 {
		d = DefaultExpiryBuffer
	}
	m.buffer = d
}

// SetOnAuthFailure installs the hook invoked exactly once when a terminal
// auth failure clears the session (typically a redirect to login).
func (m *SessionManager) SetOnAuthFailure(fn func()) { m.onFailure = fn }

// ValidateToken checks the structural shape of a bearer token: three
// dot-separated base64url segments with a decodable header carrying the
// algorithm and type fields. No signature verification happens client-side.
func ValidateToken(token string) error {
	if strings.Count(token, ".") != 2 {
		return fmt.Errorf("%w: expected three segments", ErrInvalidToken)
	}
	parsed, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if _, ok := parsed.Header["alg"]; !ok {
		return fmt.Errorf("%w: header missing alg", ErrInvalidToken)
	}
	if _, ok := parsed.Header["typ"]; !ok {
		return fmt.Errorf("%w: header missing typ", ErrInvalidToken)
	}
	return nil
}

// TokenExpiry reads the embedded exp claim. Zero time when the claim is absent.
func TokenExpiry(token string) (time.Time, error) {
	parsed, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	exp, err := parsed.Claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, nil
	}
	return exp.Time, nil
}

// Store validates and persists the credential. Fails closed: any invalid or
// already-expired token clears the whole session before returning the error,
// so a partial credential is never observable.
func (m *SessionManager) Store(cred *Credential) error {
	if cred == nil || cred.AccessToken == "" || cred.RefreshToken == "" {
		m.store.Clear()
		return ErrMissingTokens
	}
	if err := ValidateToken(cred.AccessToken); err != nil {
		m.store.Clear()
		return err
	}
	if err := ValidateToken(cred.RefreshToken); err != nil {
		m.store.Clear()
		return err
	}

	if cred.ExpiresAt.IsZero() {
		exp, err := TokenExpiry(cred.AccessToken)
		if err != nil {
			m.store.Clear()
			return err
		}
		cred.ExpiresAt = exp
	}
	if !cred.ExpiresAt.IsZero() && !cred.ExpiresAt.After(m.now()) {
		m.store.Clear()
		return fmt.Errorf("%w: token already expired", ErrInvalidToken)
	}

	if err := m.store.Set(cred); err != nil {
		m.store.Clear()
		return err
	}
	m.authFailed.Store(false)

	if m.debug != nil && m.debug.Enabled && m.debug.LogSession && m.logger != nil {
		m.logger.Debug("Session stored", "expiresAt", cred.ExpiresAt)
	}
	return nil
}

// Credential returns the stored credential after re-validating it. A stored
// credential that fails structural validation is cleared as a unit.
func (m *SessionManager) Credential() (*Credential, bool) {
	cred, ok := m.store.Get()
	if !ok {
		return nil, false
	}
	if cred.AccessToken == "" || cred.RefreshToken == "" || ValidateToken(cred.AccessToken) != nil {
		m.store.Clear()
		return nil, false
	}
	return cred, true
}

// State reports the current lifecycle state under the configured buffer.
func (m *SessionManager) State() SessionState {
	cred, ok := m.Credential()
	if !ok {
		return SessionAnonymous
	}
	return m.stateOf(cred)
}

func (m *SessionManager) stateOf(cred *Credential) SessionState {
	exp := cred.ExpiresAt
	if exp.IsZero() {
		if t, err := TokenExpiry(cred.AccessToken); err == nil {
			exp = t
		}
	}
	if exp.IsZero() {
		// No exp claim: trust the token until the server says otherwise.
		return SessionAuthenticated
	}
	now := m.now()
	if !exp.After(now) {
		return SessionExpired
	}
	if exp.Sub(now) < m.buffer {
		return SessionExpiring
	}
	return SessionAuthenticated
}

// Token returns an access token suitable for attaching to a request: only a
// structurally valid, non-expiring token is ever handed out. When the stored
// token is expiring or expired and a refresh exchange is configured, a
// refresh is attempted first; if it fails the request proceeds anonymous.
func (m *SessionManager) Token(ctx context.Context) (string, bool) {
	cred, ok := m.Credential()
	if !ok {
		return "", false
	}
	switch m.stateOf(cred) {
	case SessionAuthenticated:
		return cred.AccessToken, true
	case SessionExpiring, SessionExpired:
		if m.refreshFn == nil {
			return "", false
		}
		if err := m.Refresh(ctx); err != nil {
			return "", false
		}
		if fresh, ok := m.Credential(); ok && m.stateOf(fresh) == SessionAuthenticated {
			return fresh.AccessToken, true
		}
		return "", false
	default:
		return "", false
	}
}

// Refresh exchanges the stored refresh token for a new pair. On success both
// tokens and the user identity are replaced atomically; on failure the
// session is cleared, never partially updated. Concurrent callers share one
// in-flight refresh.
func (m *SessionManager) Refresh(ctx context.Context) error {
	_, err := m.flights.Do("session-refresh", func() (any, error) {
		cred, ok := m.store.Get()
		if !ok || cred.RefreshToken == "" {
			return nil, ErrNoSession
		}
		if m.refreshFn == nil {
			return nil, ErrNoSession
		}

		next, err := m.refreshFn(ctx, cred.RefreshToken)
		if err != nil {
			m.store.Clear()
			if m.metrics != nil {
				m.metrics.RecordTokenRefresh("failure")
			}
			if m.debug != nil && m.debug.Enabled && m.debug.LogSession && m.logger != nil {
				m.logger.Warn("Token refresh failed", "error", err.Error())
			}
			return nil, err
		}
		if next != nil && next.User == nil {
			next.User = cred.User
		}
		if err := m.Store(next); err != nil {
			if m.metrics != nil {
				m.metrics.RecordTokenRefresh("failure")
			}
			return nil, err
		}
		if m.metrics != nil {
			m.metrics.RecordTokenRefresh("success")
		}
		if m.debug != nil && m.debug.Enabled && m.debug.LogSession && m.logger != nil {
			m.logger.Debug("Token refresh succeeded")
		}
		return nil, nil
	})
	return err
}

// HandleAuthFailure clears the session unconditionally and invokes the
// configured hook exactly once. Repeat failures while already logged out do
// not re-trigger the hook, so the caller cannot loop on its login entry point.
func (m *SessionManager) HandleAuthFailure() {
	m.store.Clear()
	if m.metrics != nil {
		m.metrics.RecordAuthFailure()
	}
	if m.onFailure != nil && m.authFailed.CompareAndSwap(false, true) {
		if m.debug != nil && m.debug.Enabled && m.debug.LogSession && m.logger != nil {
			m.logger.Info("Auth failure: session cleared, redirecting to login")
		}
		m.onFailure()
	}
}

// Clear drops the stored credential.
func (m *SessionManager) Clear() {
	m.store.Clear()
}

// CredentialFromPayload extracts the credential from a normalized auth
// response payload (client key convention). Absence of either token is a
// hard failure; the caller must not fall back to a partial session.
func CredentialFromPayload(payload any) (*Credential, error) {
	obj, ok := payload.(map[string]any)
	if !ok {
		return nil, ErrMissingTokens
	}
	access, _ := stringAlias(obj, "accessToken", "token")
	refresh, _ := stringAlias(obj, "refreshToken")
	if access == "" || refresh == "" {
		return nil, ErrMissingTokens
	}
	cred := &Credential{AccessToken: access, RefreshToken: refresh}
	if user, ok := obj["user"].(map[string]any); ok {
		cred.User = user
	}
	return cred, nil
}

func stringAlias(obj map[string]any, keys ...string) (string, bool) {
	for _, k := range keys {
		if v, ok := obj[k].(string); ok && v != "" {
			return v, true
		}
	}
	return "", false
}
