package portfolio

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"positionCore/internal/domain"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func decPtr(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

func openPos(id string, side domain.Side, marketValue, unrealized string) *domain.Position {
	return &domain.Position{
		ID:            id,
		Ticker:        id,
		Side:          side,
		Quantity:      1,
		MarketValue:   dec(marketValue),
		UnrealizedPnL: dec(unrealized),
	}
}

func TestComputeMetricsEmpty(t *testing.T) {
	m := ComputeMetrics(nil, nil)
	assert.Zero(t, m.TotalPositions)
	assert.True(t, m.TotalExposure.IsZero())
	assert.True(t, m.NetExposure.IsZero())
	assert.True(t, m.LargestPositionPct.IsZero())
}

func TestComputeMetricsExposures(t *testing.T) {
	// Two $1,000 longs and one $500 short.
	positions := []*domain.Position{
		openPos("l1", domain.Long, "1000", "25"),
		openPos("l2", domain.Long, "1000", "-10"),
		openPos("s1", domain.Short, "500", "5"),
	}

	m := ComputeMetrics(positions, nil)

	assert.Equal(t, 3, m.TotalPositions)
	assert.Equal(t, 2, m.LongPositions)
	assert.Equal(t, 1, m.ShortPositions)
	assert.True(t, m.TotalExposure.Equal(dec("2500")), "total exposure %s", m.TotalExposure)
	assert.True(t, m.LongExposure.Equal(dec("2000")))
	assert.True(t, m.ShortExposure.Equal(dec("500")))
	assert.True(t, m.NetExposure.Equal(dec("1500")), "net exposure %s", m.NetExposure)
	assert.True(t, m.TotalUnrealizedPnL.Equal(dec("20")))
	assert.True(t, m.LargestPositionPct.Equal(dec("0.4")), "largest pct %s", m.LargestPositionPct)
}

func TestComputeMetricsAdditivity(t *testing.T) {
	positions := []*domain.Position{
		openPos("a", domain.Long, "123.45", "0"),
		openPos("b", domain.Short, "67.89", "0"),
		openPos("c", domain.Long, "0.01", "0"),
	}

	m := ComputeMetrics(positions, nil)

	total, net := decimal.Zero, decimal.Zero
	for _, p := range positions {
		total = total.Add(p.MarketValue)
		if p.Side == domain.Short {
			net = net.Sub(p.MarketValue)
		} else {
			net = net.Add(p.MarketValue)
		}
	}
	assert.True(t, m.TotalExposure.Equal(total))
	assert.True(t, m.NetExposure.Equal(net))
}

func TestComputeMetricsTriggerCounts(t *testing.T) {
	atStop := openPos("stop", domain.Long, "940", "-60")
	atStop.CurrentPrice = dec("9.40")
	atStop.StopLossPrice = decPtr("9.50")

	atTarget := openPos("target", domain.Short, "875", "125")
	atTarget.CurrentPrice = dec("17.50")
	atTarget.TakeProfitPrice = decPtr("18.00")

	m := ComputeMetrics([]*domain.Position{atStop, atTarget}, nil)
	assert.Equal(t, 1, m.PositionsAtStopLoss)
	assert.Equal(t, 1, m.PositionsAtTakeProfit)
}

func TestComputeMetricsAccountValueDenominator(t *testing.T) {
	positions := []*domain.Position{openPos("l1", domain.Long, "1000", "0")}
	account := dec("10000")

	m := ComputeMetrics(positions, &account)
	assert.True(t, m.LargestPositionPct.Equal(dec("0.1")), "largest pct %s", m.LargestPositionPct)
}

type staticLister struct {
	positions []*domain.Position
}

func (s *staticLister) ListOpen(ctx context.Context) ([]*domain.Position, error) {
	return s.positions, nil
}

func TestAggregatorMetrics(t *testing.T) {
	agg, err := NewAggregator(&staticLister{positions: []*domain.Position{
		openPos("l1", domain.Long, "1000", "0"),
		openPos("s1", domain.Short, "400", "0"),
	}})
	require.NoError(t, err)

	m, err := agg.Metrics(context.Background(), nil)
	require.NoError(t, err)
	assert.True(t, m.NetExposure.Equal(dec("600")))
}
