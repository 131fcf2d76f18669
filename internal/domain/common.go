package domain

// Side indicates whether a position profits from rising (LONG) or falling (SHORT) prices.
type Side string

const (
	Long  Side = "LONG"
	Short Side = "SHORT"
)

// IsValid reports whether s is one of the two known sides.
func (s Side) IsValid() bool {
	return s == Long || s == Short
}

// ExitReason indicates why a position was closed.
type ExitReason string

const (
	ExitReasonStopLoss   ExitReason = "stop_loss"
	ExitReasonTakeProfit ExitReason = "take_profit"
	ExitReasonManual     ExitReason = "manual"
	ExitReasonTimeout    ExitReason = "timeout"
)

// IsValid reports whether r is one of the known exit reasons.
func (r ExitReason) IsValid() bool {
	switch r {
	case ExitReasonStopLoss, ExitReasonTakeProfit, ExitReasonManual, ExitReasonTimeout:
		return true
	}
	return false
}
