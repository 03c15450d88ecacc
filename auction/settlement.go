package auction

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/google/uuid"

	"github.com/cloudx-io/sealedsettle/computation"
	"github.com/cloudx-io/sealedsettle/core"
	"github.com/cloudx-io/sealedsettle/enclaveapi"
	"github.com/cloudx-io/sealedsettle/ledger"
	"github.com/cloudx-io/sealedsettle/protocol"
	"github.com/cloudx-io/sealedsettle/store"
)

// ErrStaleResult is returned by a continuation whose request is no longer the
// auction's pending computation. The result is dropped.
var ErrStaleResult = errors.New("computation result superseded")

// RequestSettlement ends an auction whose end time has passed and dispatches
// winner determination. A Dutch auction that already has a winner but whose
// reserve verification failed is re-verified instead.
func (e *Engine) RequestSettlement(ctx context.Context, auctionID uint64) (*computation.Call, error) {
	var req *enclaveapi.ComputationRequest
	var cont computation.Continuation

	err := e.store.Update(ctx, func(tx store.Tx) error {
		cfg, err := store.GetConfig(tx)
		if err != nil {
			return err
		}
		a, err := store.GetAuction(tx, auctionID)
		if err != nil {
			return err
		}
		if a.Status == core.AuctionStatusSettled {
			return core.ErrAuctionAlreadySettled
		}
		if a.Status != core.AuctionStatusActive && a.Status != core.AuctionStatusEnded {
			return fmt.Errorf("%w: auction %d is %s", core.ErrInvalidAuctionStatus, a.ID, a.Status)
		}
		if err := protocol.RequireActive(cfg); err != nil {
			return err
		}
		if a.PendingRequest != uuid.Nil {
			return fmt.Errorf("%w: request %s", core.ErrComputationPending, uuid.UUID(a.PendingRequest))
		}
		if a.ResultCommitment != nil {
			return fmt.Errorf("%w: result already delivered", core.ErrInvalidAuctionStatus)
		}

		switch a.Type {
		case core.AuctionTypeBatch:
			return fmt.Errorf("%w: batch auctions settle through a batch", core.ErrInvalidAuctionType)

		case core.AuctionTypeDutch:
			if a.Status == core.AuctionStatusActive {
				if e.unixNow() < a.EndTime {
					return core.ErrAuctionNotEnded
				}
				return fmt.Errorf("%w: dutch auction %d expired without a bid", core.ErrInvalidAuctionStatus, a.ID)
			}
			if a.Winner == nil {
				return fmt.Errorf("%w: dutch auction %d has no winner", core.ErrInvalidAuctionStatus, a.ID)
			}
			bid, err := store.GetBid(tx, a.ID, *a.Winner)
			if err != nil {
				return err
			}
			req = e.newRequest(enclaveapi.RequestTypeDutch)
			req.Dutch = dutchInput(a, bid)
			cont = e.dutchContinuation(a.ID, req.RequestID)

		default:
			if e.unixNow() < a.EndTime {
				return core.ErrAuctionNotEnded
			}
			in, err := BuildSealedBidInput(tx, a)
			if err != nil {
				return err
			}
			req = e.newRequest(enclaveapi.RequestTypeSealedBid)
			req.SealedBid = in
			cont = e.sealedContinuation(a.ID, req.RequestID)
		}

		a.Status = core.AuctionStatusEnded
		a.PendingRequest = req.RequestID
		return store.PutAuction(tx, a)
	})
	if err != nil {
		return nil, err
	}
	log.Printf("INFO: Settlement requested for auction %d", auctionID)
	return e.dispatch(ctx, auctionID, req, cont)
}

// failed marks a computation failure that is recorded, not rolled back.
type failed struct{ err error }

func (f failed) Error() string { return f.err.Error() }
func (f failed) Unwrap() error { return f.err }

// deliver applies out to the auction if reqID is still its pending request.
// The pending marker is cleared even when apply reports a failed outcome or
// the transaction itself fails.
func (e *Engine) deliver(ctx context.Context, auctionID uint64, reqID uuid.UUID, apply func(tx store.Tx, a *core.Auction) error) error {
	var outcome error
	err := e.store.Update(ctx, func(tx store.Tx) error {
		outcome = nil
		a, err := store.GetAuction(tx, auctionID)
		if err != nil {
			return err
		}
		if a.PendingRequest != reqID {
			outcome = fmt.Errorf("%w: %s for auction %d", ErrStaleResult, reqID, auctionID)
			return nil
		}
		a.PendingRequest = [16]byte{}
		var f failed
		if err := apply(tx, a); errors.As(err, &f) {
			outcome = f.err
		} else if err != nil {
			return err
		}
		return store.PutAuction(tx, a)
	})
	if err != nil {
		log.Printf("ERROR: Failed to apply computation %s to auction %d: %v", reqID, auctionID, err)
		e.clearPending(ctx, auctionID, reqID)
		return err
	}
	if outcome != nil {
		log.Printf("WARNING: Computation %s for auction %d: %v", reqID, auctionID, outcome)
	}
	return outcome
}

// resultOf extracts and verifies the sealed result for one auction.
func resultOf(out enclaveapi.ComputationOutput, kind core.AuctionType, auctionID uint64) (*enclaveapi.SealedResult, error) {
	switch o := out.(type) {
	case enclaveapi.OutputError:
		return nil, failed{fmt.Errorf("%w: %s", core.ErrComputationFailed, o.Message)}
	case enclaveapi.OutputCiphertexts:
		r, err := enclaveapi.ResultFromResponse(o.Response, kind, auctionID)
		if err != nil {
			return nil, failed{err}
		}
		return r, nil
	default:
		return nil, failed{fmt.Errorf("%w: unexpected output %T", core.ErrComputationFailed, out)}
	}
}

func (e *Engine) sealedContinuation(auctionID uint64, reqID uuid.UUID) computation.Continuation {
	return func(ctx context.Context, out enclaveapi.ComputationOutput) error {
		return e.deliver(ctx, auctionID, reqID, func(tx store.Tx, a *core.Auction) error {
			r, err := resultOf(out, core.AuctionTypeSealedBid, a.ID)
			if err != nil {
				return err
			}
			r.DeliveredAt = e.unixNow()
			log.Printf("INFO: Result for auction %d delivered, commitment %s", a.ID, r.Commitment)
			return AttachResult(tx, a, r)
		})
	}
}

// dutchContinuation applies the reserve verdict. A met reserve leaves the
// auction Ended awaiting authorization; a missed reserve cancels the sale,
// refunding the bidder and returning the asset.
func (e *Engine) dutchContinuation(auctionID uint64, reqID uuid.UUID) computation.Continuation {
	return func(ctx context.Context, out enclaveapi.ComputationOutput) error {
		return e.deliver(ctx, auctionID, reqID, func(tx store.Tx, a *core.Auction) error {
			r, err := resultOf(out, core.AuctionTypeDutch, a.ID)
			if err != nil {
				return err
			}
			if r.ReserveMet == nil {
				return failed{fmt.Errorf("%w: dutch result carries no reserve verdict", core.ErrMpcVerificationFailed)}
			}
			r.DeliveredAt = e.unixNow()
			if err := AttachResult(tx, a, r); err != nil {
				return err
			}
			if *r.ReserveMet {
				log.Printf("INFO: Dutch auction %d met its reserve, commitment %s", a.ID, r.Commitment)
				return nil
			}
			return e.cancelUnmetReserve(tx, a)
		})
	}
}

func (e *Engine) cancelUnmetReserve(tx store.Tx, a *core.Auction) error {
	if a.Winner != nil {
		bid, err := store.GetBid(tx, a.ID, *a.Winner)
		if err != nil {
			return err
		}
		if err := e.releaseCollateral(tx, bid); err != nil {
			return err
		}
	}
	if err := e.returnAsset(tx, a); err != nil {
		return err
	}
	a.Status = core.AuctionStatusCancelled
	a.Winner = nil
	a.WinningAmount = 0
	log.Printf("INFO: Dutch auction %d cancelled: reserve not met", a.ID)
	return nil
}

// AuthorizeSettlement records the authority's verification commitment. It
// must equal the commitment of the result delivered for the auction.
func (e *Engine) AuthorizeSettlement(ctx context.Context, caller core.Address, auctionID uint64, commitment core.Commitment) error {
	err := e.store.Update(ctx, func(tx store.Tx) error {
		cfg, err := store.GetConfig(tx)
		if err != nil {
			return err
		}
		a, err := store.GetAuction(tx, auctionID)
		if err != nil {
			return err
		}
		if err := protocol.RequireAuthority(cfg, caller); err != nil {
			return err
		}
		if a.Status != core.AuctionStatusEnded {
			return fmt.Errorf("%w: auction %d is %s", core.ErrInvalidAuctionStatus, a.ID, a.Status)
		}
		if a.SettlementAuthorized {
			return core.ErrAuctionAlreadySettled
		}
		if a.ResultCommitment == nil {
			return fmt.Errorf("%w: no result delivered for auction %d", core.ErrMpcVerificationFailed, a.ID)
		}
		if *a.ResultCommitment != commitment {
			return fmt.Errorf("%w: commitment does not match delivered result", core.ErrMpcVerificationFailed)
		}
		a.VerificationCommitment = &commitment
		a.SettlementAuthorized = true
		return store.PutAuction(tx, a)
	})
	if err != nil {
		return err
	}
	log.Printf("INFO: Settlement authorized for auction %d with commitment %s", auctionID, commitment)
	return nil
}

// ExecuteSettlement moves value for an authorized auction: the asset to the
// winner, the payment minus the protocol fee to the creator and the fee to
// the fee recipient. Payment is drawn from the winner's escrowed collateral
// first and any shortfall from the winner's account; unused collateral is
// refunded. Sealed and batch auctions are executed by the authority; a Dutch
// auction also by its winner, paying between the recorded price and the offer.
func (e *Engine) ExecuteSettlement(ctx context.Context, caller core.Address, auctionID uint64, winner core.Address, amount uint64) error {
	var fee, payout uint64
	err := e.store.Update(ctx, func(tx store.Tx) error {
		cfg, err := store.GetConfig(tx)
		if err != nil {
			return err
		}
		if err := protocol.RequireActive(cfg); err != nil {
			return err
		}
		a, err := store.GetAuction(tx, auctionID)
		if err != nil {
			return err
		}
		if !a.SettlementAuthorized {
			return core.ErrSettlementNotAuthorized
		}
		if a.Status != core.AuctionStatusEnded {
			return fmt.Errorf("%w: auction %d is %s", core.ErrInvalidAuctionStatus, a.ID, a.Status)
		}
		if amount == 0 {
			return fmt.Errorf("%w: winning amount must be positive", core.ErrInvalidAssetAmount)
		}
		vault := ledger.Account{Owner: a.AssetVault, Asset: a.AssetMint}
		held, err := e.ledger.Balance(tx, vault)
		if err != nil {
			return err
		}
		if held < a.AssetAmount {
			return fmt.Errorf("%w: vault holds %d of %d", core.ErrInvalidAssetAmount, held, a.AssetAmount)
		}
		if winner.IsZero() {
			return fmt.Errorf("%w: winner not set", core.ErrInvalidWinnerDetermination)
		}
		if err := requireExecutor(cfg, a, caller, winner); err != nil {
			return err
		}
		bid, err := store.GetBid(tx, a.ID, winner)
		if errors.Is(err, core.ErrBidNotFound) {
			return fmt.Errorf("%w: %s did not bid on auction %d", core.ErrInvalidWinnerDetermination, winner, a.ID)
		}
		if err != nil {
			return err
		}
		if a.Type == core.AuctionTypeDutch && (amount < a.WinningAmount || amount > bid.Amount) {
			return fmt.Errorf("%w: dutch payment %d outside [%d, %d]", core.ErrInvalidWinnerDetermination, amount, a.WinningAmount, bid.Amount)
		}

		fee, payout, err = core.ComputeFee(amount, cfg.ProtocolFeeBps)
		if err != nil {
			return err
		}

		moves := e.paymentMovements(a, bid, cfg.FeeRecipient, fee, payout)
		moves = append(moves, ledger.Movement{
			From:   vault,
			To:     ledger.Account{Owner: winner, Asset: a.AssetMint},
			Amount: a.AssetAmount,
		})
		if err := e.transfer(tx, moves...); err != nil {
			return err
		}

		bid.IsWinner = true
		bid.CollateralReleased = true
		if err := store.PutBid(tx, bid); err != nil {
			return err
		}

		settledAt := e.unixNow()
		w := winner
		a.Winner = &w
		a.WinningAmount = amount
		a.Status = core.AuctionStatusSettled
		a.SettledAt = &settledAt
		return store.PutAuction(tx, a)
	})
	if err != nil {
		return err
	}
	log.Printf("INFO: Auction %d settled: winner=%s fee=%d payout=%d", auctionID, winner, fee, payout)
	return nil
}

// requireExecutor admits the authority for every auction type and the
// recorded winner for Dutch auctions.
func requireExecutor(cfg *core.ProtocolConfig, a *core.Auction, caller, winner core.Address) error {
	if a.Type != core.AuctionTypeDutch {
		if caller != cfg.Authority {
			return fmt.Errorf("%w: only the authority may execute %s auctions", core.ErrUnauthorized, a.Type)
		}
		return nil
	}
	if caller != winner && caller != cfg.Authority {
		return fmt.Errorf("%w: only the winner or the authority may execute", core.ErrUnauthorized)
	}
	if a.Winner == nil || *a.Winner != winner {
		return fmt.Errorf("%w: %s is not the recorded dutch winner", core.ErrInvalidWinnerDetermination, winner)
	}
	return nil
}

// paymentMovements draws fee then payout from the winner's escrow, the rest
// from the winner's account, and refunds whatever collateral is left.
func (e *Engine) paymentMovements(a *core.Auction, bid *core.Bid, feeRecipient core.Address, fee, payout uint64) []ledger.Movement {
	escrow := e.escrowAccount(a.ID, bid.Bidder)
	wallet := e.paymentAccount(bid.Bidder)
	creator := e.paymentAccount(a.Creator)
	protocolFee := e.paymentAccount(feeRecipient)

	available := bid.Collateral
	if bid.CollateralReleased {
		available = 0
	}
	take := func(n uint64) (fromEscrow, fromWallet uint64) {
		fromEscrow = min(n, available)
		available -= fromEscrow
		return fromEscrow, n - fromEscrow
	}

	feeEscrow, feeWallet := take(fee)
	payEscrow, payWallet := take(payout)
	return []ledger.Movement{
		{From: escrow, To: protocolFee, Amount: feeEscrow},
		{From: wallet, To: protocolFee, Amount: feeWallet},
		{From: escrow, To: creator, Amount: payEscrow},
		{From: wallet, To: creator, Amount: payWallet},
		{From: escrow, To: wallet, Amount: available},
	}
}

// ReclaimCollateral returns a losing bidder's collateral once the auction is
// Settled or Cancelled. Collateral is released at most once.
func (e *Engine) ReclaimCollateral(ctx context.Context, bidder core.Address, auctionID uint64) (uint64, error) {
	var amount uint64
	err := e.store.Update(ctx, func(tx store.Tx) error {
		a, err := store.GetAuction(tx, auctionID)
		if err != nil {
			return err
		}
		if a.Status != core.AuctionStatusSettled && a.Status != core.AuctionStatusCancelled {
			return fmt.Errorf("%w: auction %d is %s", core.ErrInvalidAuctionStatus, a.ID, a.Status)
		}
		bid, err := store.GetBid(tx, a.ID, bidder)
		if err != nil {
			return err
		}
		if bid.CollateralReleased {
			return fmt.Errorf("%w: collateral already released", core.ErrAssetTransferFailed)
		}
		amount = bid.Collateral
		return e.releaseCollateral(tx, bid)
	})
	if err != nil {
		return 0, err
	}
	log.Printf("INFO: Released %d collateral to %s for auction %d", amount, bidder, auctionID)
	return amount, nil
}

func (e *Engine) releaseCollateral(tx store.Tx, bid *core.Bid) error {
	if err := e.transfer(tx, ledger.Movement{
		From:   e.escrowAccount(bid.AuctionID, bid.Bidder),
		To:     e.paymentAccount(bid.Bidder),
		Amount: bid.Collateral,
	}); err != nil {
		return err
	}
	bid.CollateralReleased = true
	return store.PutBid(tx, bid)
}
