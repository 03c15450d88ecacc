package core

import (
	"fmt"
	"math/bits"
)

// DutchPrice returns the Dutch auction price after elapsed seconds:
// max(startingPrice - elapsed*rate, floor). Both the multiplication and the
// subtraction saturate, so the price never wraps and never drops below floor.
func DutchPrice(startingPrice, rate, floor uint64, elapsed int64) uint64 {
	if elapsed < 0 {
		elapsed = 0
	}
	hi, decay := bits.Mul64(uint64(elapsed), rate)
	price := uint64(0)
	if hi == 0 && decay < startingPrice {
		price = startingPrice - decay
	}
	if price < floor {
		return floor
	}
	return price
}

// ComputeFee splits amount into the protocol fee and the creator payout.
// fee = amount * feeBps / 10000. The multiplication is checked: a product that
// does not fit in 64 bits returns ErrFeeCalculationOverflow.
func ComputeFee(amount uint64, feeBps uint16) (fee, payout uint64, err error) {
	hi, lo := bits.Mul64(amount, uint64(feeBps))
	if hi != 0 {
		return 0, 0, fmt.Errorf("%w: %d * %d bps", ErrFeeCalculationOverflow, amount, feeBps)
	}
	fee = lo / BasisPointsDenominator
	return fee, amount - fee, nil
}

// SaturatingFee computes amount * feeBps / 10000 over 128 bits and clamps the
// result to MaxUint64. Used for aggregate reporting where one pathological
// amount must not abort the whole computation.
func SaturatingFee(amount uint64, feeBps uint16) uint64 {
	hi, lo := bits.Mul64(amount, uint64(feeBps))
	if hi >= BasisPointsDenominator {
		return ^uint64(0)
	}
	q, _ := bits.Div64(hi, lo, BasisPointsDenominator)
	return q
}

// SaturatingAdd returns a+b clamped to MaxUint64.
func SaturatingAdd(a, b uint64) uint64 {
	sum, carry := bits.Add64(a, b, 0)
	if carry != 0 {
		return ^uint64(0)
	}
	return sum
}

// MaxCollateral bounds escrowed bid amounts so that sums of two never wrap.
const MaxCollateral = ^uint64(0) / 2
