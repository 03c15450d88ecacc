package core

// BidMeetsFloor returns true if the bid meets or exceeds the floor.
func BidMeetsFloor(amount, floor uint64) bool {
	return amount >= floor
}

// BidQualifies reports whether a sealed bid can win: it must meet both the
// public minimum bid and the hidden reserve.
func BidQualifies(amount, minimumBid, reserve uint64) bool {
	return BidMeetsFloor(amount, minimumBid) && BidMeetsFloor(amount, reserve)
}

// EnforceBidFloor splits bids into those that qualify and the bidders that
// were rejected, preserving submission order.
func EnforceBidFloor(bids []PlainBid, minimumBid, reserve uint64) (eligible []PlainBid, rejected []Address) {
	eligible = make([]PlainBid, 0, len(bids))
	for _, bid := range bids {
		if BidQualifies(bid.Amount, minimumBid, reserve) {
			eligible = append(eligible, bid)
		} else {
			rejected = append(rejected, bid.Bidder)
		}
	}
	return eligible, rejected
}
