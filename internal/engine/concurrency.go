package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jpillora/backoff"

	"positionCore/internal/domain"
	"positionCore/internal/ports"
)

// controller arbitrates concurrent access to a single position using
// optimistic versioning rather than a long-held mutex: a mutation reads the
// current record, computes new values, and commits only if the stored version
// is unchanged. Conflicts are retried with fresh data a bounded number of
// times before ErrConflict surfaces to the caller. Hundreds of tickers can
// therefore revalue in parallel without serializing behind a global lock.
type controller struct {
	store      ports.PositionStore
	logger     ports.Logger
	maxRetries int
}

// mutate applies fn to a fresh copy of the position and commits it under a
// compare-and-swap version check. fn must not perform I/O; no lock is held
// across store calls.
func (c *controller) mutate(ctx context.Context, id string, fn func(*domain.Position) error) (*domain.Position, error) {
	b := &backoff.Backoff{Min: 2 * time.Millisecond, Max: 50 * time.Millisecond, Jitter: true}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		pos, err := c.store.GetOpen(ctx, id)
		if err != nil {
			return nil, err
		}

		next := pos.Clone()
		if err := fn(next); err != nil {
			return nil, err
		}
		next.Version = pos.Version + 1

		err = c.store.UpdateOpen(ctx, next, pos.Version)
		if err == nil {
			return next, nil
		}
		if !errors.Is(err, ports.ErrConflict) {
			return nil, err
		}
		lastErr = err
		c.logger.Debug(ctx, "Version conflict, retrying mutation", map[string]interface{}{
			"positionID": id,
			"attempt":    attempt + 1,
		})
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(b.Duration()):
		}
	}
	return nil, fmt.Errorf("mutation retries exhausted for position %s: %w", id, lastErr)
}
