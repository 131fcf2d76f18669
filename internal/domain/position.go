package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Position represents an open trading position. ID and Side are immutable
// after creation; every other mutation bumps Version so concurrent writers
// can detect lost updates.
type Position struct {
	ID               string          // Opaque unique identifier, never reused
	Ticker           string          // Trading symbol (e.g., "AAPL", "ETHUSDT")
	Side             Side            // LONG or SHORT, set exactly once at open
	Quantity         int64           // Whole units, always > 0 while open
	EntryPrice       decimal.Decimal // Price at which the position was entered
	CurrentPrice     decimal.Decimal // Last price the position was revalued against
	CostBasis        decimal.Decimal // EntryPrice * Quantity
	MarketValue      decimal.Decimal // CurrentPrice * Quantity
	UnrealizedPnL    decimal.Decimal // Side-aware P&L against CurrentPrice
	UnrealizedPnLPct decimal.Decimal // UnrealizedPnL / CostBasis
	StopLossPrice    *decimal.Decimal
	TakeProfitPrice  *decimal.Decimal
	OpenedAt         time.Time
	UpdatedAt        time.Time
	EntryOrderID     string // Opaque id into the broker collaborator, never a back-reference
	SignalID         string
	Strategy         string
	Version          int64 // Monotonic counter for optimistic concurrency
	Metadata         map[string]string
}

// Clone returns a deep copy so concurrent readers never observe a mutation in flight.
func (p *Position) Clone() *Position {
	cp := *p
	if p.StopLossPrice != nil {
		sl := *p.StopLossPrice
		cp.StopLossPrice = &sl
	}
	if p.TakeProfitPrice != nil {
		tp := *p.TakeProfitPrice
		cp.TakeProfitPrice = &tp
	}
	if p.Metadata != nil {
		cp.Metadata = make(map[string]string, len(p.Metadata))
		for k, v := range p.Metadata {
			cp.Metadata[k] = v
		}
	}
	return &cp
}

// Revalue recomputes the derived money fields against price.
func (p *Position) Revalue(price decimal.Decimal) {
	p.CurrentPrice = price
	p.MarketValue = price.Mul(decimal.NewFromInt(p.Quantity))
	p.UnrealizedPnL = PnL(p.Side, p.EntryPrice, price, p.Quantity)
	p.UnrealizedPnLPct = PnLPct(p.UnrealizedPnL, p.CostBasis)
}

// ClosedPosition is the append-only audit record produced when a position
// closes. It carries the full position snapshot at the moment of closing and
// is never mutated after creation.
type ClosedPosition struct {
	Position

	ExitPrice      decimal.Decimal
	ExitReason     ExitReason
	ExitOrderID    string
	ClosedAt       time.Time
	HoldDuration   time.Duration
	RealizedPnL    decimal.Decimal
	RealizedPnLPct decimal.Decimal
}
