package core

// DutchVerdict is the outcome class of a Dutch bid verification.
type DutchVerdict uint8

const (
	DutchSuccess DutchVerdict = iota
	DutchReserveNotMet
	DutchPriceNotMet
)

func (v DutchVerdict) String() string {
	switch v {
	case DutchSuccess:
		return "success"
	case DutchReserveNotMet:
		return "reserve_not_met"
	case DutchPriceNotMet:
		return "price_not_met"
	default:
		return "unknown"
	}
}

// DutchParams are the public parameters of a Dutch auction at verification time.
type DutchParams struct {
	StartingPrice     uint64
	PriceDecreaseRate uint64
	MinimumPriceFloor uint64
	Elapsed           int64
}

// DutchOutcome is the result of verifying one Dutch bid against the hidden reserve.
type DutchOutcome struct {
	Verdict       DutchVerdict
	CurrentPrice  uint64
	WinningAmount uint64
	ActualBid     uint64
}

// ReserveMet reports whether the bid was accepted.
func (o DutchOutcome) ReserveMet() bool {
	return o.Verdict == DutchSuccess
}

// VerifyDutchBid recomputes the current price and checks the bid against it
// and against the hidden reserve. A bid can clear the visible price yet still
// miss the reserve; those two failures are reported separately.
func VerifyDutchBid(p DutchParams, bid, reserve uint64) DutchOutcome {
	price := DutchPrice(p.StartingPrice, p.PriceDecreaseRate, p.MinimumPriceFloor, p.Elapsed)
	out := DutchOutcome{CurrentPrice: price, ActualBid: bid}

	if bid < price || price < p.MinimumPriceFloor {
		out.Verdict = DutchPriceNotMet
		return out
	}
	if bid < reserve {
		out.Verdict = DutchReserveNotMet
		return out
	}

	out.Verdict = DutchSuccess
	out.WinningAmount = max(price, reserve)
	return out
}
