package model

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// TokenDecimals is the native token precision.
const TokenDecimals = 18

// ParseWei parses a wei decimal string. Empty input is zero.
func ParseWei(amount string) (decimal.Decimal, error) {
	if amount == "" {
		return decimal.Zero, nil
	}
	value, err := decimal.NewFromString(amount)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid wei amount %q: %w", amount, err)
	}
	return value, nil
}

// FormatTokens renders a wei amount in whole tokens with two decimals.
func FormatTokens(wei decimal.Decimal) string {
	return wei.Shift(-TokenDecimals).StringFixed(2)
}
