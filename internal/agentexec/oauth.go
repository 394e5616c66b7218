package agentexec

import (
	"sync"
	"time"
)

// OAuthRefreshBuffer mirrors the buffer used for GitHub App installation
// tokens: refresh this long before expiry rather than waiting for a
// request to fail on an expired token.
const OAuthRefreshBuffer = 5 * time.Minute

// TokenSource produces a fresh OAuth access token and its expiry.
type TokenSource interface {
	FetchToken() (token string, expiresAt time.Time, err error)
}

// OAuthCache caches a TokenSource's output, refreshing only when the
// cached token is within OAuthRefreshBuffer of expiring. Agent phases
// call Token() on every launch; most calls should be served from cache
// since phases run far more often than a token's lifetime.
type OAuthCache struct {
	mu        sync.RWMutex
	source    TokenSource
	token     string
	expiresAt time.Time
	nowFunc   func() time.Time
}

// NewOAuthCache wraps source with freshness tracking.
func NewOAuthCache(source TokenSource) *OAuthCache {
	return &OAuthCache{source: source, nowFunc: time.Now}
}

// Token returns a valid token, refreshing via the source if the cached
// one is missing or near expiry.
func (c *OAuthCache) Token() (string, error) {
	c.mu.RLock()
	if c.validLocked() {
		tok := c.token
		c.mu.RUnlock()
		return tok, nil
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.validLocked() {
		return c.token, nil
	}
	token, expiresAt, err := c.source.FetchToken()
	if err != nil {
		return "", err
	}
	c.token = token
	c.expiresAt = expiresAt
	return c.token, nil
}

func (c *OAuthCache) validLocked() bool {
	if c.token == "" {
		return false
	}
	return c.expiresAt.After(c.nowFunc().Add(OAuthRefreshBuffer))
}
