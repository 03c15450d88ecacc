package core

// PlainBid is a decrypted sealed bid. It only exists inside the sandbox.
type PlainBid struct {
	Bidder Address
	Amount uint64
}

// AuctionOutcome is the result of sealed-bid winner determination.
// HasWinner false is the NoWinner variant; the remaining fields are zero.
type AuctionOutcome struct {
	HasWinner      bool
	Winner         Address
	WinningAmount  uint64
	HasSecondPrice bool
	SecondPrice    uint64
	QualifyingBids int
}

// DetermineWinner runs sealed-bid winner determination in a single pass.
//
// A bid qualifies if it meets both minimumBid and reserve. A qualifying bid
// strictly above the running highest becomes the new winner and pushes the
// previous highest down to second place. A bid strictly above second place
// that does not beat the highest only updates second place, so equal amounts
// never displace the incumbent.
//
// The winning amount is the highest bid under first price. Under second price
// it is the second highest qualifying bid, or the reserve if the winner was
// the only qualifying bidder.
func DetermineWinner(bids []PlainBid, minimumBid, reserve uint64, mode PricingMode) AuctionOutcome {
	var (
		out     AuctionOutcome
		highest uint64
		second  uint64
	)

	for _, bid := range bids {
		if !BidQualifies(bid.Amount, minimumBid, reserve) {
			continue
		}
		out.QualifyingBids++

		switch {
		case !out.HasWinner:
			out.HasWinner = true
			out.Winner = bid.Bidder
			highest = bid.Amount
		case bid.Amount > highest:
			second = highest
			out.HasSecondPrice = true
			out.Winner = bid.Bidder
			highest = bid.Amount
		case !out.HasSecondPrice || bid.Amount > second:
			second = bid.Amount
			out.HasSecondPrice = true
		}
	}

	if !out.HasWinner {
		return AuctionOutcome{}
	}

	if out.HasSecondPrice {
		out.SecondPrice = second
	}
	switch mode {
	case PricingFirstPrice:
		out.WinningAmount = highest
	default:
		if out.HasSecondPrice {
			out.WinningAmount = second
		} else {
			out.WinningAmount = reserve
		}
	}
	return out
}
