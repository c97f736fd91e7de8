// Package auth holds the access credential used to talk to the remote
// reasoning engine: expiry inspection, one-shot refresh on auth failure,
// and the re-authentication state surfaced to the UI.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/alexandertaboriskiy/navixmind/internal/rpc"
)

// ErrReauthRequired means automatic refresh has been exhausted and the
// user must sign in again.
var ErrReauthRequired = errors.New("re-authentication required")

// TokenSource obtains a fresh access token from the identity provider.
type TokenSource interface {
	Refresh(ctx context.Context) (string, error)
}

// Credentials holds the current access token. JWT tokens are inspected
// for their exp claim so a stale token is refreshed before use; opaque
// tokens are assumed valid until the engine rejects them.
type Credentials struct {
	source TokenSource
	logger *slog.Logger
	now    func() time.Time

	// leeway treats tokens expiring this soon as already expired.
	leeway time.Duration

	mu             sync.Mutex
	token          string
	reauthRequired bool
}

// NewCredentials creates a credential holder backed by source.
func NewCredentials(source TokenSource, logger *slog.Logger) *Credentials {
	if logger == nil {
		logger = slog.Default()
	}
	return &Credentials{
		source: source,
		logger: logger.With("component", "auth"),
		now:    time.Now,
		leeway: 30 * time.Second,
	}
}

// SetToken installs a token obtained out of band (initial sign-in) and
// clears any re-authentication state.
func (c *Credentials) SetToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
	c.reauthRequired = false
}

// ReauthRequired reports whether automatic refresh has given up.
func (c *Credentials) ReauthRequired() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reauthRequired
}

// Token returns a currently-valid access token, refreshing if the held
// token is missing or expired.
func (c *Credentials) Token(ctx context.Context) (string, error) {
	c.mu.Lock()
	token := c.token
	blocked := c.reauthRequired
	c.mu.Unlock()

	if blocked {
		return "", ErrReauthRequired
	}
	if token != "" && !c.expired(token) {
		return token, nil
	}
	return c.Refresh(ctx)
}

// Refresh forces a new token from the source. Failure flips the holder
// into the re-authentication state rather than retrying indefinitely.
func (c *Credentials) Refresh(ctx context.Context) (string, error) {
	fresh, err := c.source.Refresh(ctx)
	if err != nil || fresh == "" {
		c.mu.Lock()
		c.reauthRequired = true
		c.mu.Unlock()
		c.logger.Warn("token refresh failed", "error", err)
		if err == nil {
			err = errors.New("provider returned empty token")
		}
		return "", fmt.Errorf("refresh token: %w (%w)", err, ErrReauthRequired)
	}

	c.mu.Lock()
	c.token = fresh
	c.reauthRequired = false
	c.mu.Unlock()
	return fresh, nil
}

// Do runs op with a valid token and performs the one-shot
// refresh-and-retry on an auth rejection. A second auth rejection marks
// the credentials as needing re-authentication.
func (c *Credentials) Do(ctx context.Context, op func(ctx context.Context, token string) error) error {
	token, err := c.Token(ctx)
	if err != nil {
		return err
	}

	err = op(ctx, token)
	if !isAuthError(err) {
		return err
	}

	c.logger.Info("auth rejected, refreshing token once")
	fresh, rerr := c.Refresh(ctx)
	if rerr != nil {
		return rerr
	}
	if err := op(ctx, fresh); err != nil {
		if isAuthError(err) {
			c.mu.Lock()
			c.reauthRequired = true
			c.mu.Unlock()
			return fmt.Errorf("auth rejected after refresh: %w", ErrReauthRequired)
		}
		return err
	}
	return nil
}

// expired reports whether a JWT's exp claim is at or past now, within
// leeway. Tokens that are not JWTs or carry no exp claim are treated as
// valid here.
func (c *Credentials) expired(token string) bool {
	claims := jwt.RegisteredClaims{}
	parser := jwt.NewParser(jwt.WithoutClaimsValidation())
	if _, _, err := parser.ParseUnverified(token, &claims); err != nil {
		return false
	}
	if claims.ExpiresAt == nil {
		return false
	}
	return !c.now().Add(c.leeway).Before(claims.ExpiresAt.Time)
}

func isAuthError(err error) bool {
	var rpcErr *rpc.Error
	return errors.As(err, &rpcErr) && rpcErr.Code == rpc.ErrCodeAuth
}
