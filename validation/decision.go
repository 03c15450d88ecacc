package validation

import (
	"fmt"

	"github.com/cloudx-io/sealedsettle/core"
	"github.com/cloudx-io/sealedsettle/enclaveapi"
)

// Decision is what the authority needs from a validated result: the
// commitment to authorize and the (winner, amount) pair to execute.
type Decision struct {
	AuctionID  uint64          `json:"auction_id"`
	Kind       string          `json:"kind"`
	HasWinner  bool            `json:"has_winner"`
	Winner     core.Address    `json:"winner,omitempty"`
	Amount     uint64          `json:"amount"`
	Commitment core.Commitment `json:"commitment"`
}

// OpenDecision decrypts a per-auction result with the recipient key. A whole
// batch result has no single decision; open its entries instead.
func OpenDecision(recipient *enclaveapi.KeyPair, r *enclaveapi.SealedResult) (*Decision, error) {
	d := &Decision{AuctionID: r.SubjectID, Kind: r.Kind.String(), Commitment: r.Commitment}
	switch r.Kind {
	case core.AuctionTypeSealedBid:
		o, err := enclaveapi.OpenAuctionResult(recipient, r)
		if err != nil {
			return nil, err
		}
		d.HasWinner, d.Winner, d.Amount = o.HasWinner, o.Winner, o.WinningAmount
	case core.AuctionTypeDutch:
		o, err := enclaveapi.OpenDutchResult(recipient, r)
		if err != nil {
			return nil, err
		}
		d.HasWinner, d.Amount = o.ReserveMet(), o.WinningAmount
	case core.AuctionTypeBatch:
		if r.FieldOffset == 0 {
			return nil, fmt.Errorf("batch %d: open the per-auction entry results", r.SubjectID)
		}
		e, err := enclaveapi.OpenBatchEntry(recipient, r)
		if err != nil {
			return nil, err
		}
		d.HasWinner, d.Winner, d.Amount = e.Successful(), e.Winner, e.WinningAmount
	default:
		return nil, fmt.Errorf("%w: %s", core.ErrInvalidAuctionType, r.Kind)
	}
	return d, nil
}
