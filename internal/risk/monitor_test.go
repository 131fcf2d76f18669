package risk

import (
	"context"
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"positionCore/internal/domain"
	"positionCore/internal/engine"
	"positionCore/internal/ports"
)

type mockLogger struct{}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func decPtr(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

func pos(id string, side domain.Side, current string, stop, target *decimal.Decimal) *domain.Position {
	return &domain.Position{
		ID:              id,
		Ticker:          "XYZ",
		Side:            side,
		Quantity:        100,
		CurrentPrice:    dec(current),
		StopLossPrice:   stop,
		TakeProfitPrice: target,
	}
}

func TestShouldStopLoss(t *testing.T) {
	tests := []struct {
		name string
		pos  *domain.Position
		want bool
	}{
		{name: "long below stop", pos: pos("p", domain.Long, "9.40", decPtr("9.50"), nil), want: true},
		{name: "long exactly at stop", pos: pos("p", domain.Long, "9.50", decPtr("9.50"), nil), want: true},
		{name: "long above stop", pos: pos("p", domain.Long, "9.60", decPtr("9.50"), nil), want: false},
		{name: "short above stop", pos: pos("p", domain.Short, "21.50", decPtr("21.00"), nil), want: true},
		{name: "short exactly at stop", pos: pos("p", domain.Short, "21.00", decPtr("21.00"), nil), want: true},
		{name: "short below stop", pos: pos("p", domain.Short, "20.50", decPtr("21.00"), nil), want: false},
		{name: "no stop configured", pos: pos("p", domain.Long, "0.01", nil, nil), want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ShouldStopLoss(tt.pos))
		})
	}
}

func TestShouldTakeProfit(t *testing.T) {
	tests := []struct {
		name string
		pos  *domain.Position
		want bool
	}{
		{name: "long above target", pos: pos("p", domain.Long, "11.10", nil, decPtr("11.00")), want: true},
		{name: "long exactly at target", pos: pos("p", domain.Long, "11.00", nil, decPtr("11.00")), want: true},
		{name: "long below target", pos: pos("p", domain.Long, "10.90", nil, decPtr("11.00")), want: false},
		{name: "short below target", pos: pos("p", domain.Short, "17.90", nil, decPtr("18.00")), want: true},
		{name: "short exactly at target", pos: pos("p", domain.Short, "18.00", nil, decPtr("18.00")), want: true},
		{name: "short above target", pos: pos("p", domain.Short, "18.10", nil, decPtr("18.00")), want: false},
		{name: "no target configured", pos: pos("p", domain.Short, "1.00", nil, nil), want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ShouldTakeProfit(tt.pos))
		})
	}
}

func TestScanTriggers(t *testing.T) {
	quiet := pos("quiet", domain.Long, "10.00", decPtr("9.50"), decPtr("11.00"))
	stopped := pos("stopped", domain.Long, "9.40", decPtr("9.50"), decPtr("11.00"))
	target := pos("target", domain.Short, "17.50", decPtr("21.00"), decPtr("18.00"))
	// Stop and target bracket the entry so both predicates fire at once.
	both := pos("both", domain.Long, "10.00", decPtr("10.50"), decPtr("9.75"))

	triggers := ScanTriggers([]*domain.Position{quiet, stopped, target, both})
	require.Len(t, triggers, 3)

	byID := make(map[string]domain.ExitReason, len(triggers))
	for _, trig := range triggers {
		byID[trig.Position.ID] = trig.Reason
	}
	assert.Equal(t, domain.ExitReasonStopLoss, byID["stopped"])
	assert.Equal(t, domain.ExitReasonTakeProfit, byID["target"])
	assert.Equal(t, domain.ExitReasonStopLoss, byID["both"], "stop-loss must win when both fire")
	assert.NotContains(t, byID, "quiet")
}

type mockCloser struct {
	open      []*domain.Position
	closeErrs map[string]error
	closed    []string
}

func (m *mockCloser) ListOpen(ctx context.Context) ([]*domain.Position, error) {
	return m.open, nil
}

func (m *mockCloser) ClosePosition(ctx context.Context, id string, exitPrice decimal.Decimal, reason domain.ExitReason, opts engine.CloseOptions) (*domain.ClosedPosition, error) {
	if err := m.closeErrs[id]; err != nil {
		return nil, err
	}
	m.closed = append(m.closed, id)
	return &domain.ClosedPosition{
		Position:   domain.Position{ID: id, Ticker: "XYZ"},
		ExitPrice:  exitPrice,
		ExitReason: reason,
	}, nil
}

func TestAutoCloseTriggered(t *testing.T) {
	stopped := pos("stopped", domain.Long, "9.40", decPtr("9.50"), nil)
	racing := pos("racing", domain.Long, "9.30", decPtr("9.50"), nil)
	conflicted := pos("conflicted", domain.Short, "17.00", nil, decPtr("18.00"))
	quiet := pos("quiet", domain.Long, "10.00", decPtr("9.50"), nil)

	closer := &mockCloser{
		closeErrs: map[string]error{
			"racing":     fmt.Errorf("gone: %w", ports.ErrNotFound),
			"conflicted": fmt.Errorf("stale: %w", ports.ErrConflict),
		},
	}
	monitor, err := NewMonitor(closer, &mockLogger{})
	require.NoError(t, err)

	closed := monitor.AutoCloseTriggered(context.Background(), []*domain.Position{stopped, racing, conflicted, quiet})

	// Racing closes are swallowed, the rest of the batch still completes.
	require.Len(t, closed, 1)
	assert.Equal(t, "stopped", closed[0].ID)
	assert.Equal(t, domain.ExitReasonStopLoss, closed[0].ExitReason)
	assert.True(t, closed[0].ExitPrice.Equal(dec("9.40")), "exit must be at the position's current price")
}

func TestScanAndClose(t *testing.T) {
	closer := &mockCloser{
		open: []*domain.Position{
			pos("stopped", domain.Long, "9.40", decPtr("9.50"), nil),
			pos("quiet", domain.Long, "10.00", decPtr("9.50"), nil),
		},
	}
	monitor, err := NewMonitor(closer, &mockLogger{})
	require.NoError(t, err)

	closed, err := monitor.ScanAndClose(context.Background())
	require.NoError(t, err)
	require.Len(t, closed, 1)
	assert.Equal(t, []string{"stopped"}, closer.closed)
}
