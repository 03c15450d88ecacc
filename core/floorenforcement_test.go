package core

import (
	"testing"

	"github.com/peterldowns/testy/check"
)

func TestBidMeetsFloor(t *testing.T) {
	tests := []struct {
		name     string
		amount   uint64
		floor    uint64
		expected bool
	}{
		{"bid above floor", 300, 250, true},
		{"bid at floor", 250, 250, true},
		{"bid below floor", 249, 250, false},
		{"zero floor - always passes", 1, 0, true},
		{"zero floor with zero bid", 0, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			check.Equal(t, tt.expected, BidMeetsFloor(tt.amount, tt.floor))
		})
	}
}

func TestBidQualifies(t *testing.T) {
	tests := []struct {
		name     string
		amount   uint64
		minimum  uint64
		reserve  uint64
		expected bool
	}{
		{"meets both", 500, 100, 400, true},
		{"meets minimum only", 300, 100, 400, false},
		{"meets reserve only", 300, 350, 200, false},
		{"exactly at both", 400, 400, 400, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			check.Equal(t, tt.expected, BidQualifies(tt.amount, tt.minimum, tt.reserve))
		})
	}
}

func TestEnforceBidFloor(t *testing.T) {
	bids := []PlainBid{
		{Bidder: addr(1), Amount: 500},
		{Bidder: addr(2), Amount: 50},
		{Bidder: addr(3), Amount: 150},
		{Bidder: addr(4), Amount: 200},
	}

	eligible, rejected := EnforceBidFloor(bids, 100, 180)

	check.Equal(t, []PlainBid{bids[0], bids[3]}, eligible)
	check.Equal(t, []Address{addr(2), addr(3)}, rejected)
}
