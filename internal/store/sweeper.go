package store

import (
	"context"
	"log/slog"
	"time"
)

// EvictCallback is called after a session is removed by the sweeper, so the
// caller can release resources bound to the session id (e.g. the live
// event channel).
type EvictCallback func(sessionID string)

// StartSweeper runs a background goroutine that periodically removes
// sessions idle longer than the TTL.
func StartSweeper(ctx context.Context, s SessionStore, interval, ttl time.Duration, onEvict EvictCallback) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		slog.Info("Session sweeper started", "interval", interval, "ttl", ttl)

		for {
			select {
			case <-ticker.C:
				sweepExpired(ctx, s, ttl, onEvict)
			case <-ctx.Done():
				slog.Info("Session sweeper shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

func sweepExpired(ctx context.Context, s SessionStore, ttl time.Duration, onEvict EvictCallback) {
	ids, err := s.ExpiredSessionIDs(ctx, ttl)
	if err != nil {
		slog.Error("Sweeper failed to list expired sessions", "error", err)
		return
	}
	if len(ids) == 0 {
		return
	}

	slog.Info("Sweeper found expired sessions", "count", len(ids))

	for _, id := range ids {
		if err := s.Delete(ctx, id); err != nil {
			slog.Warn("Sweeper failed to delete session", "error", err, "session_id", id)
			continue
		}
		if onEvict != nil {
			onEvict(id)
		}
	}

	slog.Info("Sweeper cleanup completed", "cleaned", len(ids))
}
