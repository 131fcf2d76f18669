package domain

import "github.com/shopspring/decimal"

// PortfolioMetrics is a derived, point-in-time view over an open-position
// snapshot. It is never persisted; callers recompute it on demand.
type PortfolioMetrics struct {
	TotalPositions        int
	LongPositions         int
	ShortPositions        int
	TotalExposure         decimal.Decimal // Sum of |MarketValue|
	LongExposure          decimal.Decimal
	ShortExposure         decimal.Decimal
	NetExposure           decimal.Decimal // Long minus short
	TotalUnrealizedPnL    decimal.Decimal
	LargestPositionPct    decimal.Decimal // Largest single MarketValue as a fraction of total exposure
	PositionsAtStopLoss   int
	PositionsAtTakeProfit int
}
