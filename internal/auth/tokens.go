package auth

import (
	"context"
	"sync"
	"time"

	"github.com/braintrustdata/braintrust-eval-server/logger"
)

// DefaultTokenTTL is how long a verified playground token is trusted before
// it is checked against the app again.
const DefaultTokenTTL = 10 * time.Minute

type tokenKey struct {
	token   string
	orgName string
}

type tokenEntry struct {
	info    *Info
	expires time.Time
}

// TokenCache verifies the tokens playground callers send and remembers the
// successful ones. Failed logins are never cached.
type TokenCache struct {
	appURL string
	ttl    time.Duration
	logger logger.Logger
	now    func() time.Time
	login  func(context.Context, Options) (*Info, error)

	mu      sync.Mutex
	entries map[tokenKey]tokenEntry
}

// NewTokenCache returns a cache that logs tokens in against appURL.
func NewTokenCache(appURL string, ttl time.Duration, log logger.Logger) *TokenCache {
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	if log == nil {
		log = logger.Discard()
	}
	return &TokenCache{
		appURL:  appURL,
		ttl:     ttl,
		logger:  log,
		now:     time.Now,
		login:   Login,
		entries: make(map[tokenKey]tokenEntry),
	}
}

// Resolve returns the login info for token scoped to orgName.
func (c *TokenCache) Resolve(ctx context.Context, token, orgName string) (*Info, error) {
	key := tokenKey{token: token, orgName: orgName}
	now := c.now()

	c.mu.Lock()
	if e, ok := c.entries[key]; ok && now.Before(e.expires) {
		c.mu.Unlock()
		return e.info, nil
	}
	c.mu.Unlock()

	info, err := c.login(ctx, Options{
		AppURL:  c.appURL,
		APIKey:  token,
		OrgName: orgName,
		Logger:  c.logger,
	})
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for k, e := range c.entries {
		if !now.Before(e.expires) {
			delete(c.entries, k)
		}
	}
	c.entries[key] = tokenEntry{info: info, expires: now.Add(c.ttl)}
	return info, nil
}

// Len reports the number of cached tokens.
func (c *TokenCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
