package firmware

import (
	"context"
	"time"

	"printlink-backend/internal/logger"
)

// Checker refreshes a Cache on a fixed interval.
type Checker struct {
	cache    *Cache
	interval time.Duration
	log      logger.Logger
}

// NewChecker creates a checker for cache.
func NewChecker(cache *Cache, interval time.Duration, log logger.Logger) *Checker {
	return &Checker{cache: cache, interval: interval, log: log.WithComponent("firmware")}
}

// Run refreshes immediately and then every interval until ctx is done.
func (c *Checker) Run(ctx context.Context) {
	c.log.Info().Dur("interval", c.interval).Msg("starting firmware checker")

	c.CheckOnce(ctx)

	timer := time.NewTimer(c.interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			c.log.Info().Msg("firmware checker shutting down")
			return
		case <-timer.C:
			c.CheckOnce(ctx)
			timer.Reset(c.interval)
		}
	}
}

// CheckOnce performs a single refresh. Failures keep the previous versions.
func (c *Checker) CheckOnce(ctx context.Context) {
	if err := c.cache.Refresh(ctx); err != nil {
		c.log.Warn().Err(err).Msg("firmware check failed")
		return
	}
	c.log.Debug().Interface("versions", c.cache.Snapshot()).Msg("firmware versions refreshed")
}
