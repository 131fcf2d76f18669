package ports

import (
	"context"

	"github.com/shopspring/decimal"

	"positionCore/internal/domain"
)

// FilledOrder is the execution report the broker collaborator delivers when
// an entry order fills. Only opaque ids are carried; the engine never holds a
// back-reference into broker objects.
type FilledOrder struct {
	OrderID  string
	Ticker   string
	Side     domain.Side
	Quantity int64
	Price    decimal.Decimal
}

// ExitRequest asks the execution collaborator to unwind a position. The
// broker is expected to eventually report a fill back, which the caller turns
// into the exit price passed to ClosePosition.
type ExitRequest struct {
	PositionID string
	Ticker     string
	Quantity   int64
	Side       domain.Side
	Reason     domain.ExitReason
}

// Broker consumes exit requests emitted when positions are force-closed or
// closed manually.
type Broker interface {
	RequestExit(ctx context.Context, req ExitRequest) error
}

// Notifier receives closed-position events for downstream alerting. Delivery
// is best effort and must not block the close path.
type Notifier interface {
	PositionClosed(ctx context.Context, cp *domain.ClosedPosition)
}
