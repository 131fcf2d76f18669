package ports

import (
	"context"

	"positionCore/internal/domain"
)

// ClosedFilter narrows GetClosed queries. The zero value matches everything.
type ClosedFilter struct {
	Ticker   string
	Strategy string
	Limit    int // 0 means no limit
}

// PositionStore defines durable, crash-consistent storage for open and closed
// positions. Every write must be durable before the call returns so a crash
// between "operation accepted" and "return to caller" never loses state.
//
// Open positions live in a point-updatable table guarded by a version column;
// closed positions are an append-only audit log, never rewritten.
type PositionStore interface {
	// PutOpen persists a new open position. Fails with ErrDuplicateEntry if
	// the id already exists.
	PutOpen(ctx context.Context, pos *domain.Position) error
	// GetOpen retrieves an open position by id. Fails with ErrNotFound.
	GetOpen(ctx context.Context, id string) (*domain.Position, error)
	// GetOpenByTicker retrieves all open positions for a ticker.
	GetOpenByTicker(ctx context.Context, ticker string) ([]*domain.Position, error)
	// ListOpen returns a snapshot of every open position.
	ListOpen(ctx context.Context) ([]*domain.Position, error)
	// UpdateOpen overwrites the mutable fields of an open position iff the
	// stored version equals expectedVersion; entry-time fields are never
	// rewritten. Fails with ErrConflict on a version mismatch and
	// ErrNotFound if the id is no longer open.
	UpdateOpen(ctx context.Context, pos *domain.Position, expectedVersion int64) error
	// RemoveOpen deletes an open position under the same version guard as UpdateOpen.
	RemoveOpen(ctx context.Context, id string, expectedVersion int64) error
	// AppendClosed appends a closed-position audit record. Fails with
	// ErrDuplicateEntry if a record for the id already exists.
	AppendClosed(ctx context.Context, cp *domain.ClosedPosition) error
	// MoveToClosed atomically removes the open record and appends the closed
	// record in a single transaction. Version guard as UpdateOpen.
	MoveToClosed(ctx context.Context, cp *domain.ClosedPosition, expectedVersion int64) error
	// GetClosedByID retrieves a closed position by id. Fails with ErrNotFound.
	GetClosedByID(ctx context.Context, id string) (*domain.ClosedPosition, error)
	// GetClosed retrieves closed positions matching the filter, most recent first.
	GetClosed(ctx context.Context, filter ClosedFilter) ([]*domain.ClosedPosition, error)
	// Compact bounds the size of the write-ahead log relative to live data.
	// Must not run concurrently with writers.
	Compact(ctx context.Context) error
	// Close releases the underlying storage.
	Close() error
}
