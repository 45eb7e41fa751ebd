// Package auth guards the backend credential behind a single process-wide
// token slot with scheduled refresh.
package auth

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// FetchFunc obtains a fresh access token.
type FetchFunc func(ctx context.Context) (string, error)

// Cache holds one current access token shared by every session's outbound
// calls. Token fetches on a cache miss are coalesced: concurrent callers
// block on the mutex and receive the token fetched by the first.
type Cache struct {
	fetch    FetchFunc
	interval time.Duration
	logger   zerolog.Logger

	mu        sync.Mutex
	token     string
	fetchedAt time.Time
}

// NewCache creates a token cache. interval is the scheduled refresh period
// and should sit slightly under the backend token's lifetime.
func NewCache(fetch FetchFunc, interval time.Duration, logger zerolog.Logger) *Cache {
	if interval <= 0 {
		interval = 59 * time.Minute
	}
	return &Cache{
		fetch:    fetch,
		interval: interval,
		logger:   logger.With().Str("component", "tokencache").Logger(),
	}
}

// Token returns the cached token, fetching synchronously on a miss. A fetch
// failure on the miss path propagates to the caller.
func (c *Cache) Token(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" {
		return c.token, nil
	}

	tok, err := c.fetch(ctx)
	if err != nil {
		return "", err
	}
	c.token = tok
	c.fetchedAt = time.Now()
	c.logger.Debug().Msg("access token fetched on miss")
	return tok, nil
}

// FetchedAt reports when the current token was cached. Zero when empty.
func (c *Cache) FetchedAt() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fetchedAt
}

// Run refreshes the token on the configured interval until ctx is done.
// Refresh failures keep the previous token; a successful refresh overwrites
// the slot wholesale (last write wins).
func (c *Cache) Run(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	c.logger.Info().Dur("interval", c.interval).Msg("token refresh schedule started")

	for {
		select {
		case <-ctx.Done():
			c.logger.Info().Msg("token refresh schedule stopped")
			return
		case <-ticker.C:
			c.refresh(ctx)
		}
	}
}

func (c *Cache) refresh(ctx context.Context) {
	tok, err := c.fetch(ctx)
	if err != nil {
		c.logger.Warn().Err(err).Msg("scheduled token refresh failed, keeping previous token")
		return
	}

	c.mu.Lock()
	c.token = tok
	c.fetchedAt = time.Now()
	c.mu.Unlock()

	c.logger.Debug().Msg("access token refreshed")
}
