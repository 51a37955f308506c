package energygrid

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var testSigningKey = []byte("test-signing-key")

// mintToken signs a structurally valid HS256 token with the given expiry.
// Zero exp omits the claim.
func mintToken(t *testing.T, exp time.Time) string {
	t.Helper()
	claims := jwt.MapClaims{"sub": "user-1"}
	if !exp.IsZero() {
		claims["exp"] = exp.Unix()
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(testSigningKey)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

func validCredential(t *testing.T, exp time.Time) *Credential {
	t.Helper()
	return &Credential{
		AccessToken:  mintToken(t, exp),
		RefreshToken: mintToken(t, exp.Add(24*time.Hour)),
		User:         map[string]any{"id": "user-1"},
	}
}

func TestValidateToken(t *testing.T) {
	good := mintToken(t, time.Now().Add(time.Hour))
	if err := ValidateToken(good); err != nil {
		t.Errorf("Expected valid token, got %v", err)
	}

	tests := []struct {
		name  string
		token string
	}{
		{"empty", ""},
		{"two segments", "aaaa.bbbb"},
		{"four segments", "a.b.c.d"},
		{"garbage segments", "not.base64url.!!!"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateToken(tt.token)
			if !errors.Is(err, ErrInvalidToken) {
				t.Errorf("Expected ErrInvalidToken, got %v", err)
			}
		})
	}
}

func TestTokenExpiry(t *testing.T) {
	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	got, err := TokenExpiry(mintToken(t, exp))
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if !got.Equal(exp) {
		t.Errorf("Expected %v, got %v", exp, got)
	}

	// Token without exp claim yields zero time, not an error.
	got, err = TokenExpiry(mintToken(t, time.Time{}))
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if !got.IsZero() {
		t.Errorf("Expected zero time for missing exp, got %v", got)
	}
}

func TestSessionStoreAndState(t *testing.T) {
	m := NewSessionManager(nil)

	if m.State() != SessionAnonymous {
		t.Errorf("Expected anonymous before store, got %s", m.State())
	}

	cred := validCredential(t, time.Now().Add(time.Hour))
	if err := m.Store(cred); err != nil {
		t.Fatalf("Store failed: %v", err)
	}
	if m.State() != SessionAuthenticated {
		t.Errorf("Expected authenticated, got %s", m.State())
	}

	got, ok := m.Credential()
	if !ok {
		t.Fatal("Expected stored credential")
	}
	if got.User["id"] != "user-1" {
		t.Errorf("User not preserved: %v", got.User)
	}
	if got.ExpiresAt.IsZero() {
		t.Error("ExpiresAt must be derived from the exp claim")
	}
}

func TestSessionExpiringWithinBuffer(t *testing.T) {
	// Token expires in 3 minutes; the default 5-minute buffer marks it
	// expiring, a 1-minute buffer does not.
	cred := validCredential(t, time.Now().Add(3*time.Minute))

	m := NewSessionManager(nil)
	if err := m.Store(cred); err != nil {
		t.Fatalf("Store failed: %v", err)
	}
	if m.State() != SessionExpiring {
		t.Errorf("Expected expiring under 5m buffer, got %s", m.State())
	}

	m2 := NewSessionManager(nil)
	m2.SetExpiryBuffer(time.Minute)
	if err := m2.Store(validCredential(t, time.Now().Add(3*time.Minute))); err != nil {
		t.Fatalf("Store failed: %v", err)
	}
	if m2.State() != SessionAuthenticated {
		t.Errorf("Expected authenticated under 1m buffer, got %s", m2.State())
	}
}

func TestSessionStoreFailsClosed(t *testing.T) {
	tests := []struct {
		name string
		cred *Credential
	}{
		{"nil credential", nil},
		{"missing access token", &Credential{RefreshToken: "a.b.c"}},
		{"malformed access token", &Credential{AccessToken: "junk", RefreshToken: "a.b.c"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewSessionManager(nil)
			// Seed a valid session first; the failed store must clear it.
			if err := m.Store(validCredential(t, time.Now().Add(time.Hour))); err != nil {
				t.Fatalf("Seed store failed: %v", err)
			}
			if err := m.Store(tt.cred); err == nil {
				t.Fatal("Expected store to fail")
			}
			if _, ok := m.Credential(); ok {
				t.Error("Failed store must clear the whole session")
			}
		})
	}
}

func TestSessionStoreRejectsExpiredToken(t *testing.T) {
	m := NewSessionManager(nil)
	cred := validCredential(t, time.Now().Add(-time.Minute))
	if err := m.Store(cred); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("Expected ErrInvalidToken for expired token, got %v", err)
	}
	if m.State() != SessionAnonymous {
		t.Errorf("Expected anonymous after rejected store, got %s", m.State())
	}
}

func TestSessionTokenAuthenticated(t *testing.T) {
	m := NewSessionManager(nil)
	cred := validCredential(t, time.Now().Add(time.Hour))
	if err := m.Store(cred); err != nil {
		t.Fatal(err)
	}

	token, ok := m.Token(context.Background())
	if !ok {
		t.Fatal("Expected token")
	}
	if token != cred.AccessToken {
		t.Error("Expected the stored access token")
	}
}

func TestSessionTokenExpiringTriggersRefresh(t *testing.T) {
	var refreshes int32
	fresh := validCredential(t, time.Now().Add(time.Hour))

	m := NewSessionManager(nil)
	m.SetRefreshFunc(func(ctx context.Context, refreshToken string) (*Credential, error) {
		atomic.AddInt32(&refreshes, 1)
		return fresh, nil
	})
	if err := m.Store(validCredential(t, time.Now().Add(2*time.Minute))); err != nil {
		t.Fatal(err)
	}

	token, ok := m.Token(context.Background())
	if !ok {
		t.Fatal("Expected token after refresh")
	}
	if token != fresh.AccessToken {
		t.Error("Expected the refreshed access token")
	}
	if got := atomic.LoadInt32(&refreshes); got != 1 {
		t.Errorf("Expected 1 refresh, got %d", got)
	}
}

func TestSessionTokenRefreshFailureGoesAnonymous(t *testing.T) {
	m := NewSessionManager(nil)
	m.SetRefreshFunc(func(ctx context.Context, refreshToken string) (*Credential, error) {
		return nil, errors.New("refresh endpoint down")
	})
	if err := m.Store(validCredential(t, time.Now().Add(2*time.Minute))); err != nil {
		t.Fatal(err)
	}

	// The request proceeds without a token rather than failing outright.
	if _, ok := m.Token(context.Background()); ok {
		t.Error("Expected no token after failed refresh")
	}
	if m.State() != SessionAnonymous {
		t.Errorf("Expected session cleared after failed refresh, got %s", m.State())
	}
}

func TestSessionRefreshPreservesUser(t *testing.T) {
	m := NewSessionManager(nil)
	m.SetRefreshFunc(func(ctx context.Context, refreshToken string) (*Credential, error) {
		// Refresh responses often omit the user.
		return &Credential{
			AccessToken:  mintToken(t, time.Now().Add(time.Hour)),
			RefreshToken: mintToken(t, time.Now().Add(24*time.Hour)),
		}, nil
	})
	if err := m.Store(validCredential(t, time.Now().Add(time.Hour))); err != nil {
		t.Fatal(err)
	}

	if err := m.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	cred, ok := m.Credential()
	if !ok {
		t.Fatal("Expected credential after refresh")
	}
	if cred.User["id"] != "user-1" {
		t.Errorf("User identity must survive refresh, got %v", cred.User)
	}
}

func TestSessionConcurrentRefreshSharesFlight(t *testing.T) {
	var refreshes int32
	m := NewSessionManager(nil)
	m.SetRefreshFunc(func(ctx context.Context, refreshToken string) (*Credential, error) {
		atomic.AddInt32(&refreshes, 1)
		time.Sleep(20 * time.Millisecond)
		return validCredential(t, time.Now().Add(time.Hour)), nil
	})
	if err := m.Store(validCredential(t, time.Now().Add(time.Hour))); err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = m.Refresh(context.Background())
		}()
	}
	wg.Wait()

	if got := atomic.LoadInt32(&refreshes); got != 1 {
		t.Errorf("Expected concurrent refreshes to share one exchange, got %d", got)
	}
}

func TestHandleAuthFailureFiresHookOnce(t *testing.T) {
	var fired int32
	m := NewSessionManager(nil)
	m.SetOnAuthFailure(func() { atomic.AddInt32(&fired, 1) })
	if err := m.Store(validCredential(t, time.Now().Add(time.Hour))); err != nil {
		t.Fatal(err)
	}

	m.HandleAuthFailure()
	m.HandleAuthFailure()
	m.HandleAuthFailure()

	if got := atomic.LoadInt32(&fired); got != 1 {
		t.Errorf("Hook must fire exactly once, got %d", got)
	}
	if m.State() != SessionAnonymous {
		t.Errorf("Expected cleared session, got %s", m.State())
	}

	// A fresh login re-arms the hook.
	if err := m.Store(validCredential(t, time.Now().Add(time.Hour))); err != nil {
		t.Fatal(err)
	}
	m.HandleAuthFailure()
	if got := atomic.LoadInt32(&fired); got != 2 {
		t.Errorf("Hook must re-arm after a successful store, got %d", got)
	}
}

func TestCredentialFromPayload(t *testing.T) {
	payload := map[string]any{
		"accessToken":  "a.b.c",
		"refreshToken": "d.e.f",
		"user":         map[string]any{"id": "u1"},
	}
	cred, err := CredentialFromPayload(payload)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if cred.AccessToken != "a.b.c" || cred.RefreshToken != "d.e.f" {
		t.Errorf("Tokens not extracted: %+v", cred)
	}
	if cred.User["id"] != "u1" {
		t.Errorf("User not extracted: %v", cred.User)
	}

	// "token" alias for the access token.
	cred, err = CredentialFromPayload(map[string]any{"token": "a.b.c", "refreshToken": "d.e.f"})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if cred.AccessToken != "a.b.c" {
		t.Error("token alias not honored")
	}

	// Missing refresh token is a hard failure.
	if _, err := CredentialFromPayload(map[string]any{"accessToken": "a.b.c"}); !errors.Is(err, ErrMissingTokens) {
		t.Errorf("Expected ErrMissingTokens, got %v", err)
	}
	if _, err := CredentialFromPayload("not an object"); !errors.Is(err, ErrMissingTokens) {
		t.Errorf("Expected ErrMissingTokens for non-object, got %v", err)
	}
}

func TestFileSessionStoreRoundTrip(t *testing.T) {
	path := t.TempDir() + "/session.json"
	store := NewFileSessionStore(path)

	cred := &Credential{
		AccessToken:  "a.b.c",
		RefreshToken: "d.e.f",
		ExpiresAt:    time.Now().Add(time.Hour).Truncate(time.Second),
	}
	if err := store.Set(cred); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	got, ok := store.Get()
	if !ok {
		t.Fatal("Expected persisted credential")
	}
	if got.AccessToken != cred.AccessToken || got.RefreshToken != cred.RefreshToken {
		t.Errorf("Tokens not round-tripped: %+v", got)
	}

	store.Clear()
	if _, ok := store.Get(); ok {
		t.Error("Expected miss after clear")
	}
}
