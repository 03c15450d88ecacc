package auction

import (
	"context"
	"fmt"
	"log"

	"github.com/cloudx-io/sealedsettle/computation"
	"github.com/cloudx-io/sealedsettle/core"
	"github.com/cloudx-io/sealedsettle/enclaveapi"
	"github.com/cloudx-io/sealedsettle/ledger"
	"github.com/cloudx-io/sealedsettle/protocol"
	"github.com/cloudx-io/sealedsettle/store"
)

// SealedBidParams is one encrypted bid. Amount must be sealed to the sandbox
// key; Collateral is escrowed in the clear.
type SealedBidParams struct {
	AuctionID  uint64               `json:"auction_id"`
	Amount     core.EncryptedAmount `json:"amount"`
	Collateral uint64               `json:"collateral"`
}

type DutchBidParams struct {
	AuctionID  uint64 `json:"auction_id"`
	BidAmount  uint64 `json:"bid_amount"`
	Collateral uint64 `json:"collateral"`
}

// SubmitSealedBid escrows collateral and appends the bid. A bidder holds at
// most one bid per auction: a second submission collides on the bid key.
func (e *Engine) SubmitSealedBid(ctx context.Context, bidder core.Address, p SealedBidParams) (*core.Bid, error) {
	if p.Amount.PublicKey.IsZero() {
		return nil, fmt.Errorf("%w: bid is not sealed", core.ErrInvalidEncryption)
	}

	var bid *core.Bid
	var count uint64
	err := e.store.Update(ctx, func(tx store.Tx) error {
		cfg, err := store.GetConfig(tx)
		if err != nil {
			return err
		}
		if err := protocol.RequireActive(cfg); err != nil {
			return err
		}
		a, err := store.GetAuction(tx, p.AuctionID)
		if err != nil {
			return err
		}
		if a.Type == core.AuctionTypeDutch {
			return fmt.Errorf("%w: dutch auctions take public bids", core.ErrInvalidAuctionType)
		}
		if a.Status != core.AuctionStatusActive {
			return fmt.Errorf("%w: auction %d is %s", core.ErrInvalidAuctionStatus, a.ID, a.Status)
		}
		now := e.unixNow()
		if now >= a.EndTime {
			return core.ErrAuctionEnded
		}
		if a.BidCount >= core.MaxBidsPerAuction {
			return core.ErrMaxBidsExceeded
		}
		if p.Collateral < a.MinimumBid {
			return fmt.Errorf("%w: %d below minimum bid %d", core.ErrInsufficientCollateral, p.Collateral, a.MinimumBid)
		}
		if p.Collateral > core.MaxCollateral {
			return fmt.Errorf("%w: collateral %d too large", core.ErrInvalidAssetAmount, p.Collateral)
		}
		if err := e.requireFunds(tx, bidder, p.Collateral); err != nil {
			return err
		}

		bid = &core.Bid{
			AuctionID:           a.ID,
			Bidder:              bidder,
			EncryptedAmount:     p.Amount.Ciphertext,
			EncryptionPublicKey: p.Amount.PublicKey,
			Nonce:               p.Amount.Nonce,
			Timestamp:           now,
			Collateral:          p.Collateral,
		}
		if err := store.InsertBid(tx, bid); err != nil {
			return err
		}
		if err := e.transfer(tx, ledger.Movement{
			From:   e.paymentAccount(bidder),
			To:     e.escrowAccount(a.ID, bidder),
			Amount: p.Collateral,
		}); err != nil {
			return err
		}
		a.BidCount++
		count = a.BidCount
		return store.PutAuction(tx, a)
	})
	if err != nil {
		return nil, err
	}
	log.Printf("INFO: Bid on auction %d from %s accepted (bid_count=%d)", bid.AuctionID, bidder, count)
	return bid, nil
}

// SubmitDutchBid accepts the first bid that meets the current price. The
// auction ends in the same transaction with the bidder recorded as winner at
// the current price, so no later bid can contest it. The bid is then checked
// against the hidden reserve by the sandbox; the returned call completes when
// that verdict has been applied.
func (e *Engine) SubmitDutchBid(ctx context.Context, bidder core.Address, p DutchBidParams) (*computation.Call, error) {
	req := e.newRequest(enclaveapi.RequestTypeDutch)

	var price uint64
	err := e.store.Update(ctx, func(tx store.Tx) error {
		cfg, err := store.GetConfig(tx)
		if err != nil {
			return err
		}
		if err := protocol.RequireActive(cfg); err != nil {
			return err
		}
		a, err := store.GetAuction(tx, p.AuctionID)
		if err != nil {
			return err
		}
		if a.Type != core.AuctionTypeDutch {
			return fmt.Errorf("%w: auction %d is %s", core.ErrInvalidAuctionType, a.ID, a.Type)
		}
		if a.Status != core.AuctionStatusActive {
			return fmt.Errorf("%w: auction %d is %s", core.ErrInvalidAuctionStatus, a.ID, a.Status)
		}
		now := e.unixNow()
		if now >= a.EndTime {
			return core.ErrAuctionEnded
		}
		if p.Collateral < p.BidAmount {
			return fmt.Errorf("%w: %d below bid %d", core.ErrInsufficientCollateral, p.Collateral, p.BidAmount)
		}
		if p.BidAmount > core.MaxCollateral {
			return fmt.Errorf("%w: bid %d too large", core.ErrInvalidAssetAmount, p.BidAmount)
		}
		if err := e.requireFunds(tx, bidder, p.Collateral); err != nil {
			return err
		}

		elapsed := now - a.StartTime
		price = core.DutchPrice(a.StartingPrice, a.PriceDecreaseRate, a.MinimumPriceFloor, elapsed)
		if p.BidAmount < price {
			return fmt.Errorf("%w: bid %d below current price %d", core.ErrDutchPriceNotMet, p.BidAmount, price)
		}
		if price < a.MinimumPriceFloor {
			return core.ErrPriceBelowMinimumFloor
		}

		bid := &core.Bid{
			AuctionID:  a.ID,
			Bidder:     bidder,
			Timestamp:  now,
			Amount:     p.BidAmount,
			Collateral: p.Collateral,
		}
		if err := store.InsertBid(tx, bid); err != nil {
			return err
		}
		if err := e.transfer(tx, ledger.Movement{
			From:   e.paymentAccount(bidder),
			To:     e.escrowAccount(a.ID, bidder),
			Amount: p.Collateral,
		}); err != nil {
			return err
		}

		winner := bidder
		a.Status = core.AuctionStatusEnded
		a.Winner = &winner
		a.WinningAmount = price
		a.CurrentPrice = price
		a.BidCount = 1
		a.PendingRequest = req.RequestID
		req.Dutch = dutchInput(a, bid)
		return store.PutAuction(tx, a)
	})
	if err != nil {
		return nil, err
	}
	log.Printf("INFO: Dutch auction %d ended by %s at price %d; verifying reserve", p.AuctionID, bidder, price)
	return e.dispatch(ctx, p.AuctionID, req, e.dutchContinuation(p.AuctionID, req.RequestID))
}

func dutchInput(a *core.Auction, bid *core.Bid) *enclaveapi.DutchInput {
	return &enclaveapi.DutchInput{
		AuctionID:         a.ID,
		Bidder:            bid.Bidder,
		BidAmount:         bid.Amount,
		StartingPrice:     a.StartingPrice,
		PriceDecreaseRate: a.PriceDecreaseRate,
		MinimumPriceFloor: a.MinimumPriceFloor,
		Elapsed:           bid.Timestamp - a.StartTime,
		Reserve:           a.Reserve,
	}
}

func (e *Engine) requireFunds(tx store.Tx, owner core.Address, amount uint64) error {
	held, err := e.ledger.Balance(tx, e.paymentAccount(owner))
	if err != nil {
		return err
	}
	if held < amount {
		return fmt.Errorf("%w: holds %d, needs %d", core.ErrInsufficientFunds, held, amount)
	}
	return nil
}
