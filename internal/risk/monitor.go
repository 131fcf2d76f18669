package risk

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"positionCore/internal/domain"
	"positionCore/internal/engine"
	"positionCore/internal/ports"
)

// ShouldStopLoss reports whether pos has breached its stop-loss level.
// Side-aware: a LONG stop triggers when the price falls to or below the stop,
// a SHORT stop triggers when the price rises to or above it.
func ShouldStopLoss(pos *domain.Position) bool {
	if pos.StopLossPrice == nil {
		return false
	}
	if pos.Side == domain.Short {
		return pos.CurrentPrice.GreaterThanOrEqual(*pos.StopLossPrice)
	}
	return pos.CurrentPrice.LessThanOrEqual(*pos.StopLossPrice)
}

// ShouldTakeProfit reports whether pos has reached its take-profit level,
// the mirror image of ShouldStopLoss.
func ShouldTakeProfit(pos *domain.Position) bool {
	if pos.TakeProfitPrice == nil {
		return false
	}
	if pos.Side == domain.Short {
		return pos.CurrentPrice.LessThanOrEqual(*pos.TakeProfitPrice)
	}
	return pos.CurrentPrice.GreaterThanOrEqual(*pos.TakeProfitPrice)
}

// Trigger pairs a position with the exit reason that fired for it.
type Trigger struct {
	Position *domain.Position
	Reason   domain.ExitReason
}

// ScanTriggers evaluates both exit predicates over a snapshot. When stop and
// target bracket the price on the same revaluation, stop-loss wins.
func ScanTriggers(positions []*domain.Position) []Trigger {
	triggers := make([]Trigger, 0)
	for _, pos := range positions {
		switch {
		case ShouldStopLoss(pos):
			triggers = append(triggers, Trigger{Position: pos, Reason: domain.ExitReasonStopLoss})
		case ShouldTakeProfit(pos):
			triggers = append(triggers, Trigger{Position: pos, Reason: domain.ExitReasonTakeProfit})
		}
	}
	return triggers
}

// PositionCloser is the slice of the lifecycle manager the monitor needs.
type PositionCloser interface {
	ListOpen(ctx context.Context) ([]*domain.Position, error)
	ClosePosition(ctx context.Context, id string, exitPrice decimal.Decimal, reason domain.ExitReason, opts engine.CloseOptions) (*domain.ClosedPosition, error)
}

// Monitor force-closes positions whose stop-loss or take-profit levels have
// been breached. It holds no state of its own; every scan works over a fresh
// snapshot.
type Monitor struct {
	closer PositionCloser
	logger ports.Logger
}

// NewMonitor creates a risk monitor over the given lifecycle manager.
func NewMonitor(closer PositionCloser, logger ports.Logger) (*Monitor, error) {
	if closer == nil || logger == nil {
		return nil, fmt.Errorf("missing required dependencies for risk monitor")
	}
	return &Monitor{closer: closer, logger: logger}, nil
}

// AutoCloseTriggered closes every triggered position at its current price
// with the triggering reason. Individual failures from racing manual closes
// are no-ops thanks to close idempotence and never abort the batch.
func (m *Monitor) AutoCloseTriggered(ctx context.Context, positions []*domain.Position) []*domain.ClosedPosition {
	closed := make([]*domain.ClosedPosition, 0)
	for _, trig := range ScanTriggers(positions) {
		pos := trig.Position
		cp, err := m.closer.ClosePosition(ctx, pos.ID, pos.CurrentPrice, trig.Reason, engine.CloseOptions{})
		if err != nil {
			if errors.Is(err, ports.ErrNotFound) || errors.Is(err, ports.ErrConflict) {
				m.logger.Warn(ctx, "Triggered position already being closed elsewhere", map[string]interface{}{
					"positionID": pos.ID,
					"reason":     trig.Reason,
				})
				continue
			}
			m.logger.Error(ctx, err, "Failed to close triggered position", map[string]interface{}{
				"positionID": pos.ID,
				"reason":     trig.Reason,
			})
			continue
		}
		m.logger.Info(ctx, "Triggered position closed", map[string]interface{}{
			"positionID":  cp.ID,
			"ticker":      cp.Ticker,
			"reason":      cp.ExitReason,
			"realizedPnL": cp.RealizedPnL.String(),
		})
		closed = append(closed, cp)
	}
	return closed
}

// ScanAndClose takes a fresh open-position snapshot and closes everything
// that has tripped. Intended for the periodic risk loop.
func (m *Monitor) ScanAndClose(ctx context.Context) ([]*domain.ClosedPosition, error) {
	snapshot, err := m.closer.ListOpen(ctx)
	if err != nil {
		return nil, fmt.Errorf("risk scan failed to snapshot open positions: %w", err)
	}
	return m.AutoCloseTriggered(ctx, snapshot), nil
}
