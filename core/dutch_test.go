package core

import (
	"testing"

	"github.com/peterldowns/testy/check"
)

func TestVerifyDutchBid(t *testing.T) {
	params := DutchParams{StartingPrice: 1000, PriceDecreaseRate: 10, MinimumPriceFloor: 200, Elapsed: 30}

	tests := []struct {
		name        string
		bid         uint64
		reserve     uint64
		wantVerdict DutchVerdict
		wantAmount  uint64
	}{
		{"meets price and reserve below price", 750, 500, DutchSuccess, 700},
		{"reserve above current price", 900, 800, DutchSuccess, 800},
		{"below current price", 699, 100, DutchPriceNotMet, 0},
		{"meets price but not hidden reserve", 750, 760, DutchReserveNotMet, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := VerifyDutchBid(params, tt.bid, tt.reserve)
			check.Equal(t, tt.wantVerdict, out.Verdict)
			check.Equal(t, tt.wantAmount, out.WinningAmount)
			check.Equal(t, uint64(700), out.CurrentPrice)
			check.Equal(t, tt.bid, out.ActualBid)
			check.Equal(t, tt.wantVerdict == DutchSuccess, out.ReserveMet())
		})
	}
}

func TestVerifyDutchBid_AtFloor(t *testing.T) {
	params := DutchParams{StartingPrice: 1000, PriceDecreaseRate: 10, MinimumPriceFloor: 200, Elapsed: 100}

	out := VerifyDutchBid(params, 200, 150)

	check.Equal(t, DutchSuccess, out.Verdict)
	check.Equal(t, uint64(200), out.CurrentPrice)
	check.Equal(t, uint64(200), out.WinningAmount)
}
