package core

import (
	"math/big"

	"github.com/shopspring/decimal"
)

// FormatUnits renders a base-unit amount with the given number of decimals,
// e.g. FormatUnits(1500000, 6) == "1.5".
func FormatUnits(amount uint64, decimals int32) string {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(amount), -decimals).String()
}

// ParseUnits converts a decimal string into base units. Fractional digits
// beyond the given precision are rejected rather than rounded.
func ParseUnits(s string, decimals int32) (uint64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, err
	}
	scaled := d.Shift(decimals)
	if !scaled.Equal(scaled.Truncate(0)) {
		return 0, ErrInvalidAssetAmount
	}
	if scaled.IsNegative() || scaled.BigInt().BitLen() > 64 {
		return 0, ErrInvalidAssetAmount
	}
	return scaled.BigInt().Uint64(), nil
}

// FeePercent renders basis points as a percentage string: 50 → "0.5".
func FeePercent(bps uint16) string {
	return decimal.NewFromInt(int64(bps)).Shift(-2).String()
}
