package auction

import (
	"context"
	"fmt"
	"log"

	"github.com/cloudx-io/sealedsettle/core"
	"github.com/cloudx-io/sealedsettle/ledger"
	"github.com/cloudx-io/sealedsettle/protocol"
	"github.com/cloudx-io/sealedsettle/store"
)

// SealedParams describes a new sealed-bid auction. Type may be SealedBid or
// Batch; Batch auctions are settled only as part of a batch.
type SealedParams struct {
	Type        core.AuctionType     `json:"type"`
	AssetMint   core.Address         `json:"asset_mint"`
	AssetAmount uint64               `json:"asset_amount"`
	Duration    int64                `json:"duration"` // seconds
	MinimumBid  uint64               `json:"minimum_bid"`
	PricingMode core.PricingMode     `json:"pricing_mode"`
	Reserve     core.EncryptedAmount `json:"reserve"`
}

// DutchParams describes a new Dutch auction.
type DutchParams struct {
	AssetMint         core.Address         `json:"asset_mint"`
	AssetAmount       uint64               `json:"asset_amount"`
	Duration          int64                `json:"duration"`
	StartingPrice     uint64               `json:"starting_price"`
	PriceDecreaseRate uint64               `json:"price_decrease_rate"` // per second
	MinimumPriceFloor uint64               `json:"minimum_price_floor"`
	Reserve           core.EncryptedAmount `json:"reserve"`
}

func (e *Engine) CreateSealedAuction(ctx context.Context, creator core.Address, p SealedParams) (*core.Auction, error) {
	if p.Type != core.AuctionTypeSealedBid && p.Type != core.AuctionTypeBatch {
		return nil, fmt.Errorf("%w: %s auctions take sealed bids", core.ErrInvalidAuctionType, p.Type)
	}
	return e.create(ctx, creator, p.AssetMint, p.AssetAmount, p.Duration, p.Reserve, func(a *core.Auction) error {
		a.Type = p.Type
		a.MinimumBid = p.MinimumBid
		a.PricingMode = p.PricingMode
		return nil
	})
}

func (e *Engine) CreateDutchAuction(ctx context.Context, creator core.Address, p DutchParams) (*core.Auction, error) {
	return e.create(ctx, creator, p.AssetMint, p.AssetAmount, p.Duration, p.Reserve, func(a *core.Auction) error {
		if p.PriceDecreaseRate == 0 {
			return core.ErrInvalidPriceDecreaseRate
		}
		if p.MinimumPriceFloor > p.StartingPrice {
			return fmt.Errorf("%w: floor %d exceeds starting price %d", core.ErrPriceBelowMinimumFloor, p.MinimumPriceFloor, p.StartingPrice)
		}
		a.Type = core.AuctionTypeDutch
		a.StartingPrice = p.StartingPrice
		a.CurrentPrice = p.StartingPrice
		a.PriceDecreaseRate = p.PriceDecreaseRate
		a.MinimumPriceFloor = p.MinimumPriceFloor
		return nil
	})
}

// create validates the common parameters, assigns the next id, escrows the
// asset in the auction vault and stores the auction as Active.
func (e *Engine) create(ctx context.Context, creator, mint core.Address, amount uint64, duration int64, reserve core.EncryptedAmount, apply func(*core.Auction) error) (*core.Auction, error) {
	var a *core.Auction
	err := e.store.Update(ctx, func(tx store.Tx) error {
		cfg, err := store.GetConfig(tx)
		if err != nil {
			return err
		}
		if err := protocol.RequireActive(cfg); err != nil {
			return err
		}
		if amount == 0 {
			return fmt.Errorf("%w: asset amount must be positive", core.ErrInvalidAssetAmount)
		}
		if duration <= 0 {
			return fmt.Errorf("%w: duration must be positive", core.ErrInvalidTimestamp)
		}
		if duration > core.MaxAuctionDuration {
			return fmt.Errorf("%w: %ds exceeds %ds", core.ErrAuctionDurationTooLong, duration, core.MaxAuctionDuration)
		}
		if reserve.PublicKey.IsZero() {
			return fmt.Errorf("%w: reserve is not sealed", core.ErrInvalidReservePrice)
		}

		source := ledger.Account{Owner: creator, Asset: mint}
		held, err := e.ledger.Balance(tx, source)
		if err != nil {
			return err
		}
		if held < amount {
			return fmt.Errorf("%w: creator holds %d of %d", core.ErrInsufficientFunds, held, amount)
		}

		id, err := protocol.NextAuctionID(tx, cfg)
		if err != nil {
			return err
		}
		now := e.unixNow()
		a = &core.Auction{
			ID:          id,
			Creator:     creator,
			AssetMint:   mint,
			AssetVault:  ledger.VaultAddress(id),
			AssetAmount: amount,
			Status:      core.AuctionStatusActive,
			StartTime:   now,
			EndTime:     now + duration,
			Reserve:     reserve,
		}
		if err := apply(a); err != nil {
			return err
		}

		if err := e.transfer(tx, ledger.Movement{
			From:   source,
			To:     ledger.Account{Owner: a.AssetVault, Asset: mint},
			Amount: amount,
		}); err != nil {
			return err
		}
		return store.InsertAuction(tx, a)
	})
	if err != nil {
		return nil, err
	}
	log.Printf("INFO: Created %s auction %d: creator=%s asset_amount=%d end_time=%d",
		a.Type, a.ID, a.Creator, a.AssetAmount, a.EndTime)
	return a, nil
}

// CancelAuction returns the escrowed asset to the creator. The creator may
// cancel an Active auction that has no bids; the authority may cancel an
// Ended auction that has not been authorized, which is how a computation that
// found no winner is closed out. Bidders reclaim collateral afterwards.
func (e *Engine) CancelAuction(ctx context.Context, caller core.Address, auctionID uint64) error {
	err := e.store.Update(ctx, func(tx store.Tx) error {
		cfg, err := store.GetConfig(tx)
		if err != nil {
			return err
		}
		a, err := store.GetAuction(tx, auctionID)
		if err != nil {
			return err
		}

		switch a.Status {
		case core.AuctionStatusActive:
			if caller != a.Creator {
				return fmt.Errorf("%w: only the creator may cancel an active auction", core.ErrUnauthorized)
			}
			if a.BidCount > 0 {
				return fmt.Errorf("%w: auction %d already has bids", core.ErrInvalidAuctionStatus, a.ID)
			}
		case core.AuctionStatusEnded:
			if err := protocol.RequireAuthority(cfg, caller); err != nil {
				return err
			}
			if a.SettlementAuthorized {
				return fmt.Errorf("%w: settlement already authorized", core.ErrInvalidAuctionStatus)
			}
		case core.AuctionStatusSettled:
			return core.ErrAuctionAlreadySettled
		default:
			return fmt.Errorf("%w: auction %d is %s", core.ErrInvalidAuctionStatus, a.ID, a.Status)
		}

		if err := e.returnAsset(tx, a); err != nil {
			return err
		}
		a.Status = core.AuctionStatusCancelled
		a.Winner = nil
		a.WinningAmount = 0
		a.PendingRequest = [16]byte{}
		return store.PutAuction(tx, a)
	})
	if err != nil {
		return err
	}
	log.Printf("INFO: Auction %d cancelled", auctionID)
	return nil
}

func (e *Engine) returnAsset(tx store.Tx, a *core.Auction) error {
	return e.transfer(tx, ledger.Movement{
		From:   ledger.Account{Owner: a.AssetVault, Asset: a.AssetMint},
		To:     ledger.Account{Owner: a.Creator, Asset: a.AssetMint},
		Amount: a.AssetAmount,
	})
}
