package payout

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

var (
	ErrNonPositiveAmount = errors.New("payout: amount must be positive")
	ErrPrecision         = errors.New("payout: amount finer than token base unit")
)

// ToBaseUnits scales a human-readable token amount into its smallest unit.
func ToBaseUnits(amount decimal.Decimal, decimals int32) (*big.Int, error) {
	if !amount.IsPositive() {
		return nil, ErrNonPositiveAmount
	}
	if decimals < 0 {
		return nil, fmt.Errorf("payout: invalid token decimals %d", decimals)
	}
	scaled := amount.Shift(decimals)
	if !scaled.Equal(scaled.Truncate(0)) {
		return nil, fmt.Errorf("%w: %s with %d decimals", ErrPrecision, amount.String(), decimals)
	}
	return scaled.BigInt(), nil
}
