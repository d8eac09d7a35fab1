package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"

	"golang.org/x/sync/singleflight"
)

// TokenStore holds the bearer token sent with every request.
type TokenStore interface {
	Token() string
	SetToken(token string)
	Clear()
}

// MemoryTokens is a TokenStore kept in process memory.
type MemoryTokens struct {
	mu    sync.RWMutex
	token string
}

func NewMemoryTokens(token string) *MemoryTokens {
	return &MemoryTokens{token: token}
}

func (m *MemoryTokens) Token() string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.token
}

func (m *MemoryTokens) SetToken(token string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.token = token
}

func (m *MemoryTokens) Clear() {
	m.SetToken("")
}

// RefreshFunc exchanges the current token for a new one.
type RefreshFunc func(ctx context.Context, token string) (string, error)

// AuthTransport adds the bearer token to requests. On a 401 it refreshes the
// token once for all concurrent callers and retries each request one time
// with the new token. When the refresh fails the token is cleared, every
// waiting request fails with *AuthError and onExpired runs once.
type AuthTransport struct {
	base      http.RoundTripper
	tokens    TokenStore
	refresh   RefreshFunc
	onExpired func()
	group     singleflight.Group
	logger    *slog.Logger
}

func NewAuthTransport(base http.RoundTripper, tokens TokenStore, refresh RefreshFunc, onExpired func(), logger *slog.Logger) *AuthTransport {
	if base == nil {
		base = http.DefaultTransport
	}

	return &AuthTransport{
		base:      base,
		tokens:    tokens,
		refresh:   refresh,
		onExpired: onExpired,
		logger:    logger,
	}
}

func (t *AuthTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	sent := t.tokens.Token()

	resp, err := t.base.RoundTrip(withToken(req, sent))
	if err != nil || resp.StatusCode != http.StatusUnauthorized {
		return resp, err
	}

	drain(resp)

	token, err := t.renew(req.Context(), sent)
	if err != nil {
		return nil, err
	}

	retry, err := rewind(req)
	if err != nil {
		return nil, err
	}

	resp, err = t.base.RoundTrip(withToken(retry, token))
	if err != nil {
		return nil, err
	}

	if resp.StatusCode == http.StatusUnauthorized {
		drain(resp)

		return nil, &AuthError{Err: errors.New("request rejected after token refresh")}
	}

	return resp, nil
}

// renew returns a token newer than stale, refreshing it when no other
// request already has.
func (t *AuthTransport) renew(ctx context.Context, stale string) (string, error) {
	if stale == "" || t.refresh == nil {
		return "", &AuthError{Err: ErrSessionExpired}
	}

	token, err, shared := t.group.Do(stale, func() (any, error) {
		// A cleared store means an earlier refresh already ended the session.
		if current := t.tokens.Token(); current != stale {
			if current == "" {
				return "", &AuthError{Err: ErrSessionExpired}
			}

			return current, nil
		}

		token, err := t.refresh(context.WithoutCancel(ctx), stale)
		if err != nil {
			t.logger.WarnContext(ctx, "token refresh failed, ending session", "error", err)
			t.tokens.Clear()

			if t.onExpired != nil {
				t.onExpired()
			}

			return "", &AuthError{Err: fmt.Errorf("%w: %w", ErrSessionExpired, err)}
		}

		t.tokens.SetToken(token)

		return token, nil
	})
	if err != nil {
		return "", err
	}

	t.logger.DebugContext(ctx, "token refreshed", "shared", shared)

	return token.(string), nil
}

func withToken(req *http.Request, token string) *http.Request {
	out := req.Clone(req.Context())
	if token != "" {
		out.Header.Set("Authorization", "Bearer "+token)
	}

	return out
}

func rewind(req *http.Request) (*http.Request, error) {
	if req.Body == nil || req.Body == http.NoBody {
		return req, nil
	}

	if req.GetBody == nil {
		return nil, errors.New("request body cannot be replayed")
	}

	body, err := req.GetBody()
	if err != nil {
		return nil, fmt.Errorf("failed to replay request body: %w", err)
	}

	out := req.Clone(req.Context())
	out.Body = body

	return out, nil
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
}
