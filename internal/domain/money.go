package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// MoneyScale is the fixed number of decimal places used when money values are
// stored as integer minor units. Eight places cover both equity and crypto
// tick sizes. Money is never persisted as floating point.
const MoneyScale = 8

// ToMinorUnits converts a decimal money value to integer minor units at
// MoneyScale. Values whose scaled magnitude exceeds the int64 range fail
// rather than silently wrapping.
func ToMinorUnits(d decimal.Decimal) (int64, error) {
	scaled := d.Shift(MoneyScale).Round(0)
	if bi := scaled.BigInt(); bi.IsInt64() {
		return bi.Int64(), nil
	}
	return 0, fmt.Errorf("money value %s overflows minor-unit storage", d)
}

// FromMinorUnits converts integer minor units back to a decimal money value.
func FromMinorUnits(u int64) decimal.Decimal {
	return decimal.New(u, -MoneyScale)
}

// PnL computes the profit or loss of a move from entry to mark over qty units.
// LONG gains when the mark rises; SHORT is the exact mirror. Both unrealized
// and realized P&L go through this single helper so the two can never diverge.
func PnL(side Side, entry, mark decimal.Decimal, qty int64) decimal.Decimal {
	q := decimal.NewFromInt(qty)
	if side == Short {
		return entry.Sub(mark).Mul(q)
	}
	return mark.Sub(entry).Mul(q)
}

// PnLPct returns pnl as a fraction of costBasis, quantized at MoneyScale so
// the value survives the persistence boundary unchanged. Zero when the cost
// basis is zero.
func PnLPct(pnl, costBasis decimal.Decimal) decimal.Decimal {
	if costBasis.IsZero() {
		return decimal.Zero
	}
	return pnl.Div(costBasis).Round(MoneyScale)
}
