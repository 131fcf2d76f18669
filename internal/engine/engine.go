package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"positionCore/internal/domain"
	"positionCore/internal/ports"
)

const (
	defaultMaxRetries     = 5
	defaultPersistTimeout = 5 * time.Second
)

// Engine owns the lifecycle of every position: open, revalue, close. It is
// safe for concurrent use by multiple callers (a price-update loop, a risk
// monitor loop, and ad-hoc manual closes); per-position linearization comes
// from the store's version column, not from a global lock.
type Engine struct {
	store          ports.PositionStore
	logger         ports.Logger
	clock          func() time.Time
	broker         ports.Broker
	notifier       ports.Notifier
	persistTimeout time.Duration
	ctrl           *controller
}

// Config holds the engine's injected dependencies. Store and Logger are
// required; Broker and Notifier are optional collaborators.
type Config struct {
	Store          ports.PositionStore
	Logger         ports.Logger
	Clock          func() time.Time // defaults to time.Now
	Broker         ports.Broker
	Notifier       ports.Notifier
	MaxRetries     int           // CAS conflict retry cap, default 5
	PersistTimeout time.Duration // per-operation store timeout, default 5s
}

// New creates an engine instance with its dependencies injected. No global
// state: multiple isolated engines can coexist in one process.
func New(cfg Config) (*Engine, error) {
	if cfg.Store == nil || cfg.Logger == nil {
		return nil, fmt.Errorf("missing required dependencies for engine")
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	if cfg.PersistTimeout <= 0 {
		cfg.PersistTimeout = defaultPersistTimeout
	}
	return &Engine{
		store:          cfg.Store,
		logger:         cfg.Logger,
		clock:          cfg.Clock,
		broker:         cfg.Broker,
		notifier:       cfg.Notifier,
		persistTimeout: cfg.PersistTimeout,
		ctrl: &controller{
			store:      cfg.Store,
			logger:     cfg.Logger,
			maxRetries: cfg.MaxRetries,
		},
	}, nil
}

// OpenOptions carries the optional attributes of a new position.
type OpenOptions struct {
	SignalID        string
	Strategy        string
	StopLossPrice   *decimal.Decimal
	TakeProfitPrice *decimal.Decimal
	Metadata        map[string]string
}

// CloseOptions carries the optional attributes of a close request.
type CloseOptions struct {
	ExitOrderID     string
	ExpectedVersion *int64 // when set, a stale value fails with ErrConflict
}

// persistCtx bounds a store operation so a hung write surfaces as
// ErrPersistence instead of blocking the caller indefinitely.
func (e *Engine) persistCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, e.persistTimeout)
}

func mapTimeout(err error) error {
	if err != nil && errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, ports.ErrPersistence) {
		return fmt.Errorf("%v: %w", err, ports.ErrPersistence)
	}
	return err
}

// OpenPosition records a filled entry order as a new open position. The
// position is durable before the call returns; nothing is exposed in-memory
// that the store has not accepted.
func (e *Engine) OpenPosition(ctx context.Context, order ports.FilledOrder, opts OpenOptions) (*domain.Position, error) {
	if err := validateOrder(order); err != nil {
		return nil, err
	}
	if opts.StopLossPrice != nil && !opts.StopLossPrice.IsPositive() {
		return nil, fmt.Errorf("stop loss price must be positive: %w", ports.ErrValidation)
	}
	if opts.TakeProfitPrice != nil && !opts.TakeProfitPrice.IsPositive() {
		return nil, fmt.Errorf("take profit price must be positive: %w", ports.ErrValidation)
	}

	now := e.clock().UTC()
	pos := &domain.Position{
		ID:              uuid.NewString(),
		Ticker:          order.Ticker,
		Side:            order.Side,
		Quantity:        order.Quantity,
		EntryPrice:      order.Price,
		CostBasis:       order.Price.Mul(decimal.NewFromInt(order.Quantity)),
		StopLossPrice:   opts.StopLossPrice,
		TakeProfitPrice: opts.TakeProfitPrice,
		OpenedAt:        now,
		UpdatedAt:       now,
		EntryOrderID:    order.OrderID,
		SignalID:        opts.SignalID,
		Strategy:        opts.Strategy,
		Version:         0,
		Metadata:        opts.Metadata,
	}
	if pos.Metadata == nil {
		pos.Metadata = map[string]string{}
	}
	pos.Revalue(order.Price)

	pctx, cancel := e.persistCtx(ctx)
	defer cancel()
	if err := e.store.PutOpen(pctx, pos); err != nil {
		return nil, mapTimeout(err)
	}
	e.logger.Info(ctx, "Position opened", map[string]interface{}{
		"positionID": pos.ID,
		"ticker":     pos.Ticker,
		"side":       pos.Side,
		"quantity":   pos.Quantity,
		"entryPrice": pos.EntryPrice.String(),
	})
	return pos, nil
}

func validateOrder(order ports.FilledOrder) error {
	if order.Ticker == "" {
		return fmt.Errorf("ticker is required: %w", ports.ErrValidation)
	}
	if !order.Side.IsValid() {
		return fmt.Errorf("side %q is not LONG or SHORT: %w", order.Side, ports.ErrValidation)
	}
	if order.Quantity <= 0 {
		return fmt.Errorf("quantity must be positive, got %d: %w", order.Quantity, ports.ErrValidation)
	}
	if !order.Price.IsPositive() {
		return fmt.Errorf("entry price must be positive: %w", ports.ErrValidation)
	}
	return nil
}

// UpdatePrices revalues every open position whose ticker appears in prices
// and returns the revalued set. This is the hot path: each position commits
// under its own short-lived compare-and-swap, so a batch across hundreds of
// tickers never serializes behind a single lock. Positions closed by a
// concurrent caller mid-batch are skipped.
func (e *Engine) UpdatePrices(ctx context.Context, prices map[string]decimal.Decimal) ([]*domain.Position, error) {
	if len(prices) == 0 {
		return nil, nil
	}

	sctx, cancel := e.persistCtx(ctx)
	snapshot, err := e.store.ListOpen(sctx)
	cancel()
	if err != nil {
		return nil, mapTimeout(err)
	}

	updated := make([]*domain.Position, 0, len(snapshot))
	for _, pos := range snapshot {
		price, ok := prices[pos.Ticker]
		if !ok {
			continue
		}
		if !price.IsPositive() {
			e.logger.Warn(ctx, "Ignoring non-positive price", map[string]interface{}{"ticker": pos.Ticker, "price": price.String()})
			continue
		}

		pctx, cancel := e.persistCtx(ctx)
		next, err := e.ctrl.mutate(pctx, pos.ID, func(p *domain.Position) error {
			p.Revalue(price)
			p.UpdatedAt = e.clock().UTC()
			return nil
		})
		cancel()
		if err != nil {
			if errors.Is(err, ports.ErrNotFound) {
				// Closed by a concurrent caller between snapshot and commit.
				continue
			}
			e.logger.Error(ctx, err, "Failed to revalue position", map[string]interface{}{"positionID": pos.ID, "ticker": pos.Ticker})
			return updated, mapTimeout(err)
		}
		updated = append(updated, next)
	}
	return updated, nil
}

// ClosePosition closes an open position at exitPrice, atomically removing the
// open record and appending the closed audit record. It is idempotent: a
// repeat call for an already-closed id returns the previously recorded
// ClosedPosition, so callers can safely retry after a failure of unknown
// outcome.
func (e *Engine) ClosePosition(ctx context.Context, id string, exitPrice decimal.Decimal, reason domain.ExitReason, opts CloseOptions) (*domain.ClosedPosition, error) {
	if !reason.IsValid() {
		return nil, fmt.Errorf("exit reason %q is not recognized: %w", reason, ports.ErrValidation)
	}
	if !exitPrice.IsPositive() {
		return nil, fmt.Errorf("exit price must be positive: %w", ports.ErrValidation)
	}

	if cp, err := e.getClosed(ctx, id); err == nil {
		e.logger.Debug(ctx, "Close replayed for already-closed position", map[string]interface{}{"positionID": id})
		return cp, nil
	} else if !errors.Is(err, ports.ErrNotFound) {
		return nil, err
	}

	var lastConflict error
	for attempt := 0; attempt <= e.ctrl.maxRetries; attempt++ {
		pctx, cancel := e.persistCtx(ctx)
		pos, err := e.store.GetOpen(pctx, id)
		cancel()
		if err != nil {
			if errors.Is(err, ports.ErrNotFound) {
				// Lost a race with another closer, or the id never existed.
				if cp, cerr := e.getClosed(ctx, id); cerr == nil {
					return cp, nil
				}
				return nil, fmt.Errorf("position %s was never opened: %w", id, ports.ErrNotFound)
			}
			return nil, mapTimeout(err)
		}
		if opts.ExpectedVersion != nil && *opts.ExpectedVersion != pos.Version {
			return nil, fmt.Errorf("position %s expected version %d, stored %d: %w",
				id, *opts.ExpectedVersion, pos.Version, ports.ErrConflict)
		}

		cp := e.buildClosed(pos, exitPrice, reason, opts.ExitOrderID)

		pctx, cancel = e.persistCtx(ctx)
		err = e.store.MoveToClosed(pctx, cp, pos.Version)
		cancel()
		if err == nil {
			e.logger.Info(ctx, "Position closed", map[string]interface{}{
				"positionID":  cp.ID,
				"ticker":      cp.Ticker,
				"reason":      cp.ExitReason,
				"realizedPnL": cp.RealizedPnL.String(),
			})
			e.emitClose(ctx, cp)
			return cp, nil
		}
		if errors.Is(err, ports.ErrConflict) {
			// A concurrent revaluation bumped the version; re-read and retry.
			lastConflict = err
			continue
		}
		if errors.Is(err, ports.ErrNotFound) || errors.Is(err, ports.ErrDuplicateEntry) {
			if cp, cerr := e.getClosed(ctx, id); cerr == nil {
				return cp, nil
			}
			return nil, fmt.Errorf("position %s was never opened: %w", id, ports.ErrNotFound)
		}
		return nil, mapTimeout(err)
	}
	return nil, fmt.Errorf("close retries exhausted for position %s: %w", id, lastConflict)
}

// buildClosed snapshots pos into its audit record. Realized P&L reuses the
// same side-aware formula as unrealized P&L, with the exit price as the mark.
func (e *Engine) buildClosed(pos *domain.Position, exitPrice decimal.Decimal, reason domain.ExitReason, exitOrderID string) *domain.ClosedPosition {
	closedAt := e.clock().UTC()
	realized := domain.PnL(pos.Side, pos.EntryPrice, exitPrice, pos.Quantity)
	return &domain.ClosedPosition{
		Position:       *pos.Clone(),
		ExitPrice:      exitPrice,
		ExitReason:     reason,
		ExitOrderID:    exitOrderID,
		ClosedAt:       closedAt,
		HoldDuration:   closedAt.Sub(pos.OpenedAt),
		RealizedPnL:    realized,
		RealizedPnLPct: domain.PnLPct(realized, pos.CostBasis),
	}
}

// emitClose notifies the external collaborators after the close has
// committed. Failures here never unwind the close.
func (e *Engine) emitClose(ctx context.Context, cp *domain.ClosedPosition) {
	if e.broker != nil {
		req := ports.ExitRequest{
			PositionID: cp.ID,
			Ticker:     cp.Ticker,
			Quantity:   cp.Quantity,
			Side:       cp.Side,
			Reason:     cp.ExitReason,
		}
		if err := e.broker.RequestExit(ctx, req); err != nil {
			e.logger.Error(ctx, err, "Failed to emit exit request", map[string]interface{}{"positionID": cp.ID})
		}
	}
	if e.notifier != nil {
		e.notifier.PositionClosed(ctx, cp)
	}
}

func (e *Engine) getClosed(ctx context.Context, id string) (*domain.ClosedPosition, error) {
	pctx, cancel := e.persistCtx(ctx)
	defer cancel()
	cp, err := e.store.GetClosedByID(pctx, id)
	if err != nil {
		return nil, mapTimeout(err)
	}
	return cp, nil
}

// --- Query surface ---

// GetPosition retrieves an open position by id.
func (e *Engine) GetPosition(ctx context.Context, id string) (*domain.Position, error) {
	pctx, cancel := e.persistCtx(ctx)
	defer cancel()
	pos, err := e.store.GetOpen(pctx, id)
	return pos, mapTimeout(err)
}

// GetPositionsByTicker retrieves the open positions for a ticker.
func (e *Engine) GetPositionsByTicker(ctx context.Context, ticker string) ([]*domain.Position, error) {
	pctx, cancel := e.persistCtx(ctx)
	defer cancel()
	positions, err := e.store.GetOpenByTicker(pctx, ticker)
	return positions, mapTimeout(err)
}

// ListOpen returns a snapshot of every open position.
func (e *Engine) ListOpen(ctx context.Context) ([]*domain.Position, error) {
	pctx, cancel := e.persistCtx(ctx)
	defer cancel()
	positions, err := e.store.ListOpen(pctx)
	return positions, mapTimeout(err)
}

// GetClosed retrieves closed positions matching the filter, most recent first.
func (e *Engine) GetClosed(ctx context.Context, filter ports.ClosedFilter) ([]*domain.ClosedPosition, error) {
	pctx, cancel := e.persistCtx(ctx)
	defer cancel()
	closed, err := e.store.GetClosed(pctx, filter)
	return closed, mapTimeout(err)
}
