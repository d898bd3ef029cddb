package gateway

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"github.com/rezonia/facturx-gateway/internal/logging"
	"github.com/rezonia/facturx-gateway/internal/model"
)

// Defaults for token handling
const (
	DefaultAuthRetries   = 3
	DefaultExpirySkew    = 30 * time.Second
	DefaultFlightTimeout = time.Minute
)

// Token is a bearer token with its expiry. A zero Expiry never expires.
type Token struct {
	AccessToken string
	Expiry      time.Time
}

// FetchFunc obtains a fresh token from the provider
type FetchFunc func(ctx context.Context) (Token, error)

// OAuth2Fetch adapts an oauth2.TokenSource factory into a FetchFunc.
// The source is rebuilt on every call so that oauth2 does not cache.
func OAuth2Fetch(source func(ctx context.Context) oauth2.TokenSource) FetchFunc {
	return func(ctx context.Context) (Token, error) {
		tok, err := source(ctx).Token()
		if err != nil {
			return Token{}, err
		}
		return Token{AccessToken: tok.AccessToken, Expiry: tok.Expiry}, nil
	}
}

// TokenManager keeps one provider token and refreshes it on demand.
// Concurrent refreshes collapse into a single provider call.
type TokenManager struct {
	provider model.Provider
	fetch    FetchFunc

	mu    sync.RWMutex
	token Token

	group         singleflight.Group
	now           func() time.Time
	skew          time.Duration
	flightTimeout time.Duration
	maxTries      uint
	newBackOff    func() backoff.BackOff
	logger        *slog.Logger
}

// TokenOption configures a TokenManager
type TokenOption func(*TokenManager)

// WithTokenClock overrides the time source
func WithTokenClock(now func() time.Time) TokenOption {
	return func(m *TokenManager) {
		m.now = now
	}
}

// WithExpirySkew refreshes tokens this long before they expire
func WithExpirySkew(d time.Duration) TokenOption {
	return func(m *TokenManager) {
		m.skew = d
	}
}

// WithFlightTimeout bounds a shared refresh. The refresh outlives the
// cancellation of the caller that started it.
func WithFlightTimeout(d time.Duration) TokenOption {
	return func(m *TokenManager) {
		if d > 0 {
			m.flightTimeout = d
		}
	}
}

// WithAuthRetries sets the maximum number of authentication attempts
func WithAuthRetries(n int) TokenOption {
	return func(m *TokenManager) {
		if n > 0 {
			m.maxTries = uint(n)
		}
	}
}

// WithBackOff sets the retry policy factory
func WithBackOff(f func() backoff.BackOff) TokenOption {
	return func(m *TokenManager) {
		m.newBackOff = f
	}
}

// WithTokenLogger sets the logger
func WithTokenLogger(l *slog.Logger) TokenOption {
	return func(m *TokenManager) {
		m.logger = l
	}
}

// NewTokenManager creates a manager that calls fetch to authenticate
func NewTokenManager(provider model.Provider, fetch FetchFunc, opts ...TokenOption) *TokenManager {
	m := &TokenManager{
		provider: provider,
		fetch:    fetch,
		now:      time.Now,
		skew:     DefaultExpirySkew,
		maxTries: DefaultAuthRetries,

		flightTimeout: DefaultFlightTimeout,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 200 * time.Millisecond
			b.MaxInterval = 2 * time.Second
			return b
		},
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = logging.OrDefault(m.logger)
	return m
}

// Valid reports whether a usable token is held
func (m *TokenManager) Valid() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.validLocked()
}

func (m *TokenManager) validLocked() bool {
	if m.token.AccessToken == "" {
		return false
	}
	if m.token.Expiry.IsZero() {
		return true
	}
	return m.now().Add(m.skew).Before(m.token.Expiry)
}

// EnsureAuthenticated returns the held token, authenticating first when no
// token is held or it has expired.
func (m *TokenManager) EnsureAuthenticated(ctx context.Context) (string, error) {
	m.mu.RLock()
	if m.validLocked() {
		tok := m.token.AccessToken
		m.mu.RUnlock()
		return tok, nil
	}
	m.mu.RUnlock()

	return m.refresh(ctx, false)
}

// Authenticate forces a new token to be fetched
func (m *TokenManager) Authenticate(ctx context.Context) error {
	_, err := m.refresh(ctx, true)
	return err
}

// Invalidate drops the held token, e.g. after the provider answered 401
func (m *TokenManager) Invalidate() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.token = Token{}
}

func (m *TokenManager) refresh(ctx context.Context, force bool) (string, error) {
	ch := m.group.DoChan("token", func() (interface{}, error) {
		if !force {
			// Another flight may have finished between our check and now
			m.mu.RLock()
			if m.validLocked() {
				tok := m.token.AccessToken
				m.mu.RUnlock()
				return tok, nil
			}
			m.mu.RUnlock()
		}

		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.flightTimeout)
		defer cancel()

		tok, err := backoff.Retry(fctx, func() (Token, error) {
			tok, err := m.fetch(fctx)
			if err != nil && !retryableAuthError(err) {
				return Token{}, backoff.Permanent(err)
			}
			return tok, err
		}, backoff.WithBackOff(m.newBackOff()), backoff.WithMaxTries(m.maxTries))
		if err != nil {
			m.logger.Warn("authentication failed", "provider", m.provider, "error", err)
			return "", model.NewAuthenticationError(m.provider, "token request failed", err)
		}
		if tok.AccessToken == "" {
			return "", model.NewAuthenticationError(m.provider, "empty access token", nil)
		}

		m.mu.Lock()
		m.token = tok
		m.mu.Unlock()

		m.logger.Debug("authenticated", "provider", m.provider, "expiry", tok.Expiry)
		return tok.AccessToken, nil
	})

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		if res.Shared {
			m.logger.Debug("shared token refresh", "provider", m.provider)
		}
		return res.Val.(string), nil
	}
}

// retryableAuthError treats 5xx, 429 and transport errors as transient
func retryableAuthError(err error) bool {
	var provErr *model.ProviderError
	if errors.As(err, &provErr) {
		return provErr.Retryable()
	}
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) && retrieveErr.Response != nil {
		code := retrieveErr.Response.StatusCode
		return code >= 500 || code == 429
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return true
}
