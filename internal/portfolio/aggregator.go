package portfolio

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"positionCore/internal/domain"
	"positionCore/internal/risk"
)

// ComputeMetrics derives portfolio-level risk metrics from an open-position
// snapshot in a single pass. It never mutates state and is safe to call on an
// arbitrarily stale snapshot; the caller picks freshness vs. contention by
// how it obtains the slice.
//
// Exposure is the absolute market value; net exposure signs it by side (long
// positive, short negative). When accountValue is non-nil and positive, the
// largest-position percentage denominates against it instead of total
// exposure.
func ComputeMetrics(positions []*domain.Position, accountValue *decimal.Decimal) domain.PortfolioMetrics {
	m := domain.PortfolioMetrics{
		TotalExposure:      decimal.Zero,
		LongExposure:       decimal.Zero,
		ShortExposure:      decimal.Zero,
		NetExposure:        decimal.Zero,
		TotalUnrealizedPnL: decimal.Zero,
		LargestPositionPct: decimal.Zero,
	}

	largest := decimal.Zero
	for _, pos := range positions {
		m.TotalPositions++
		value := pos.MarketValue.Abs()
		m.TotalExposure = m.TotalExposure.Add(value)
		m.TotalUnrealizedPnL = m.TotalUnrealizedPnL.Add(pos.UnrealizedPnL)

		if pos.Side == domain.Short {
			m.ShortPositions++
			m.ShortExposure = m.ShortExposure.Add(value)
			m.NetExposure = m.NetExposure.Sub(value)
		} else {
			m.LongPositions++
			m.LongExposure = m.LongExposure.Add(value)
			m.NetExposure = m.NetExposure.Add(value)
		}

		if value.GreaterThan(largest) {
			largest = value
		}
		if risk.ShouldStopLoss(pos) {
			m.PositionsAtStopLoss++
		}
		if risk.ShouldTakeProfit(pos) {
			m.PositionsAtTakeProfit++
		}
	}

	denom := m.TotalExposure
	if accountValue != nil && accountValue.IsPositive() {
		denom = *accountValue
	}
	if denom.IsPositive() {
		m.LargestPositionPct = largest.Div(denom)
	}
	return m
}

// OpenLister supplies the open-position snapshot the aggregator reads.
type OpenLister interface {
	ListOpen(ctx context.Context) ([]*domain.Position, error)
}

// Aggregator answers portfolio-level queries over a lifecycle manager's open set.
type Aggregator struct {
	lister OpenLister
}

// NewAggregator creates an aggregator over the given snapshot source.
func NewAggregator(lister OpenLister) (*Aggregator, error) {
	if lister == nil {
		return nil, fmt.Errorf("open-position lister is required for aggregator")
	}
	return &Aggregator{lister: lister}, nil
}

// Metrics snapshots the open set and computes portfolio metrics from it.
func (a *Aggregator) Metrics(ctx context.Context, accountValue *decimal.Decimal) (domain.PortfolioMetrics, error) {
	snapshot, err := a.lister.ListOpen(ctx)
	if err != nil {
		return domain.PortfolioMetrics{}, fmt.Errorf("failed to snapshot open positions for metrics: %w", err)
	}
	return ComputeMetrics(snapshot, accountValue), nil
}
