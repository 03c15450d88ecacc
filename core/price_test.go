package core

import (
	"errors"
	"math"
	"testing"

	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"
)

func TestDutchPrice(t *testing.T) {
	tests := []struct {
		name    string
		start   uint64
		rate    uint64
		floor   uint64
		elapsed int64
		want    uint64
	}{
		{"at start", 1000, 10, 200, 0, 1000},
		{"partial decay", 1000, 10, 200, 30, 700},
		{"reaches floor exactly", 1000, 10, 200, 80, 200},
		{"floored not zero", 1000, 10, 200, 100, 200},
		{"decay past start saturates", 1000, 10, 0, 1000, 0},
		{"multiplication saturates", 1000, math.MaxUint64, 5, math.MaxInt64, 5},
		{"negative elapsed treated as zero", 1000, 10, 200, -5, 1000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			check.Equal(t, tt.want, DutchPrice(tt.start, tt.rate, tt.floor, tt.elapsed))
		})
	}
}

func TestDutchPrice_NonIncreasing(t *testing.T) {
	prev := DutchPrice(5000, 37, 1234, 0)
	for elapsed := int64(1); elapsed < 500; elapsed++ {
		price := DutchPrice(5000, 37, 1234, elapsed)
		check.True(t, price <= prev)
		check.True(t, price >= 1234)
		prev = price
	}
}

func TestComputeFee(t *testing.T) {
	fee, payout, err := ComputeFee(10000, 50)
	assert.NoError(t, err)
	check.Equal(t, uint64(50), fee)
	check.Equal(t, uint64(9950), payout)

	fee, payout, err = ComputeFee(999, 50)
	assert.NoError(t, err)
	check.Equal(t, uint64(4), fee)
	check.Equal(t, uint64(995), payout)

	fee, payout, err = ComputeFee(123456, 0)
	assert.NoError(t, err)
	check.Equal(t, uint64(0), fee)
	check.Equal(t, uint64(123456), payout)
}

func TestComputeFee_Overflow(t *testing.T) {
	_, _, err := ComputeFee(math.MaxUint64/2, 500)
	check.Error(t, err)
	check.True(t, errors.Is(err, ErrFeeCalculationOverflow))
}

func TestSaturatingFee(t *testing.T) {
	check.Equal(t, uint64(50), SaturatingFee(10000, 50))
	// 128-bit intermediate keeps the exact quotient when it fits.
	check.Equal(t, uint64(461168601842738790), SaturatingFee(math.MaxUint64/2, 500))
	check.Equal(t, uint64(math.MaxUint64), SaturatingFee(math.MaxUint64, math.MaxUint16))
	check.Equal(t, uint64(math.MaxUint64), SaturatingAdd(math.MaxUint64, 1))
	check.Equal(t, uint64(3), SaturatingAdd(1, 2))
}
