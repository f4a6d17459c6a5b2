package valueobject

import (
	"errors"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// PercentOf returns pct percent of amount in minor units, rounded half up
func PercentOf(amount int64, pct decimal.Decimal) int64 {
	return decimal.NewFromInt(amount).Mul(pct).Div(hundred).Round(0).IntPart()
}

// ConvertMinorUnits converts an amount in currency minor units to ledger base units,
// rounding up so that the converted amount never undercharges
func ConvertMinorUnits(amount int64, rate decimal.Decimal) (int64, error) {
	if rate.Sign() <= 0 {
		return 0, errors.New("conversion rate must be positive")
	}
	if amount < 0 {
		return 0, errors.New("amount cannot be negative")
	}
	converted := decimal.NewFromInt(amount).Mul(rate).Ceil()
	if !converted.IsInteger() || converted.GreaterThan(decimal.NewFromInt(maxInt64)) {
		return 0, errors.New("converted amount overflows")
	}
	return converted.IntPart(), nil
}

const maxInt64 = int64(^uint64(0) >> 1)
