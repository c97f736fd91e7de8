package auth

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/alexandertaboriskiy/navixmind/internal/rpc"
)

var testSecret = []byte("test-secret")

func signedToken(t *testing.T, expiresAt time.Time) string {
	t.Helper()
	claims := jwt.RegisteredClaims{Subject: "user-1"}
	if !expiresAt.IsZero() {
		claims.ExpiresAt = jwt.NewNumericDate(expiresAt)
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(testSecret)
	if err != nil {
		t.Fatal(err)
	}
	return token
}

type fakeSource struct {
	mu     sync.Mutex
	tokens []string
	err    error
	calls  int
}

func (s *fakeSource) Refresh(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return "", s.err
	}
	if len(s.tokens) == 0 {
		return "", errors.New("no tokens configured")
	}
	token := s.tokens[0]
	if len(s.tokens) > 1 {
		s.tokens = s.tokens[1:]
	}
	return token, nil
}

func (s *fakeSource) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func TestCredentials_ValidTokenReturnedWithoutRefresh(t *testing.T) {
	source := &fakeSource{}
	creds := NewCredentials(source, nil)
	token := signedToken(t, time.Now().Add(time.Hour))
	creds.SetToken(token)

	got, err := creds.Token(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if got != token {
		t.Error("token should be returned unchanged")
	}
	if source.callCount() != 0 {
		t.Errorf("refresh calls = %d, want 0", source.callCount())
	}
}

func TestCredentials_ExpiredTokenRefreshed(t *testing.T) {
	fresh := signedToken(t, time.Now().Add(time.Hour))
	source := &fakeSource{tokens: []string{fresh}}
	creds := NewCredentials(source, nil)
	creds.SetToken(signedToken(t, time.Now().Add(-time.Minute)))

	got, err := creds.Token(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if got != fresh {
		t.Error("expired token should be replaced")
	}
	if source.callCount() != 1 {
		t.Errorf("refresh calls = %d, want 1", source.callCount())
	}
}

func TestCredentials_TokenExpiringWithinLeewayRefreshed(t *testing.T) {
	fresh := signedToken(t, time.Now().Add(time.Hour))
	source := &fakeSource{tokens: []string{fresh}}
	creds := NewCredentials(source, nil)
	// Expires in 10s, inside the 30s leeway.
	creds.SetToken(signedToken(t, time.Now().Add(10*time.Second)))

	got, err := creds.Token(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if got != fresh {
		t.Error("near-expiry token should be replaced")
	}
}

func TestCredentials_OpaqueTokenAssumedValid(t *testing.T) {
	source := &fakeSource{}
	creds := NewCredentials(source, nil)
	creds.SetToken("not-a-jwt-at-all")

	got, err := creds.Token(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if got != "not-a-jwt-at-all" {
		t.Errorf("got %q", got)
	}
	if source.callCount() != 0 {
		t.Error("opaque token must not trigger refresh")
	}
}

func TestCredentials_NoExpClaimAssumedValid(t *testing.T) {
	source := &fakeSource{}
	creds := NewCredentials(source, nil)
	token := signedToken(t, time.Time{})
	creds.SetToken(token)

	got, err := creds.Token(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if got != token || source.callCount() != 0 {
		t.Error("token without exp must be used as-is")
	}
}

func TestCredentials_RefreshFailureRequiresReauth(t *testing.T) {
	source := &fakeSource{err: errors.New("provider down")}
	creds := NewCredentials(source, nil)

	_, err := creds.Token(context.Background())
	if !errors.Is(err, ErrReauthRequired) {
		t.Fatalf("err = %v, want ErrReauthRequired", err)
	}
	if !creds.ReauthRequired() {
		t.Error("ReauthRequired should be set")
	}

	// No further refresh attempts while re-auth is pending.
	calls := source.callCount()
	if _, err := creds.Token(context.Background()); !errors.Is(err, ErrReauthRequired) {
		t.Errorf("err = %v", err)
	}
	if source.callCount() != calls {
		t.Error("refresh retried while re-auth pending")
	}

	// Sign-in clears the state.
	creds.SetToken(signedToken(t, time.Now().Add(time.Hour)))
	if creds.ReauthRequired() {
		t.Error("SetToken should clear re-auth state")
	}
	if _, err := creds.Token(context.Background()); err != nil {
		t.Errorf("Token after sign-in: %v", err)
	}
}

func TestCredentials_DoRefreshesOnceOnAuthError(t *testing.T) {
	fresh := signedToken(t, time.Now().Add(time.Hour))
	source := &fakeSource{tokens: []string{fresh}}
	creds := NewCredentials(source, nil)
	// A different expiry keeps the stale token valid but distinct from
	// fresh; identical claims signed in the same second would collide.
	stale := signedToken(t, time.Now().Add(30*time.Minute))
	creds.SetToken(stale)

	var seen []string
	err := creds.Do(context.Background(), func(ctx context.Context, token string) error {
		seen = append(seen, token)
		if token == stale {
			return &rpc.Error{Code: rpc.ErrCodeAuth, Message: "token rejected"}
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(seen) != 2 || seen[0] != stale || seen[1] != fresh {
		t.Errorf("op calls = %v", seen)
	}
}

func TestCredentials_DoSecondAuthFailureRequiresReauth(t *testing.T) {
	source := &fakeSource{tokens: []string{signedToken(t, time.Now().Add(time.Hour))}}
	creds := NewCredentials(source, nil)
	creds.SetToken(signedToken(t, time.Now().Add(time.Hour)))

	calls := 0
	err := creds.Do(context.Background(), func(ctx context.Context, token string) error {
		calls++
		return &rpc.Error{Code: rpc.ErrCodeAuth, Message: "token rejected"}
	})
	if !errors.Is(err, ErrReauthRequired) {
		t.Fatalf("err = %v, want ErrReauthRequired", err)
	}
	if calls != 2 {
		t.Errorf("op called %d times, want exactly 2", calls)
	}
	if !creds.ReauthRequired() {
		t.Error("ReauthRequired should be set after second rejection")
	}
}

func TestCredentials_DoPassesThroughNonAuthErrors(t *testing.T) {
	source := &fakeSource{}
	creds := NewCredentials(source, nil)
	creds.SetToken("opaque")

	wantErr := &rpc.Error{Code: rpc.ErrCodeRateLimit, Message: "slow down"}
	err := creds.Do(context.Background(), func(ctx context.Context, token string) error {
		return wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Errorf("err = %v, want the rate limit error unchanged", err)
	}
	if source.callCount() != 0 {
		t.Error("non-auth error must not trigger refresh")
	}
}
