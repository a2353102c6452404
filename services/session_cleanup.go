package services

import (
	"context"
	"log/slog"
	"time"
)

// Sweeper marks expired sessions inactive.
type Sweeper interface {
	SweepExpired(ctx context.Context) (int64, error)
}

// Purger drops expired entries from a backing store, such as the relational
// cache table.
type Purger interface {
	Purge(ctx context.Context) (int64, error)
}

// RunSweep runs one sweep plus the given purgers and returns the number of
// sessions swept. Purge failures are logged, not returned.
func RunSweep(ctx context.Context, logger *slog.Logger, sweeper Sweeper, purgers ...Purger) (int64, error) {
	count, err := sweeper.SweepExpired(ctx)
	if err != nil {
		return 0, err
	}
	if count > 0 {
		logger.Info("Swept expired sessions", "count", count)
	}

	for _, p := range purgers {
		purged, err := p.Purge(ctx)
		if err != nil {
			logger.Error("Failed to purge expired cache entries", "error", err)
			continue
		}
		if purged > 0 {
			logger.Info("Purged expired cache entries", "count", purged)
		}
	}
	return count, nil
}

// StartSessionCleanup starts a background goroutine that periodically sweeps
// expired sessions until ctx is cancelled. A non-positive interval disables it.
func StartSessionCleanup(ctx context.Context, logger *slog.Logger, sweeper Sweeper, interval time.Duration, purgers ...Purger) {
	if interval <= 0 {
		logger.Info("Session cleanup disabled")
		return
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				logger.Info("Session cleanup stopped")
				return
			case <-ticker.C:
				cleanupCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
				if _, err := RunSweep(cleanupCtx, logger, sweeper, purgers...); err != nil {
					logger.Error("Failed to cleanup expired sessions", "error", err)
				}
				cancel()
			}
		}
	}()

	logger.Info("Session cleanup started", "interval", interval.String())
}
