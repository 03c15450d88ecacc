// Package auction is the auction state machine. Every operation runs as one
// serializable store transaction covering the auction, its bids, the protocol
// configuration and the ledger movements it causes. Winner determination is
// delegated to the sandbox through the computation dispatcher; the engine
// only ever stores the sealed result.
package auction

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/cloudx-io/sealedsettle/computation"
	"github.com/cloudx-io/sealedsettle/core"
	"github.com/cloudx-io/sealedsettle/enclaveapi"
	"github.com/cloudx-io/sealedsettle/ledger"
	"github.com/cloudx-io/sealedsettle/store"
)

// Config holds the settlement parameters shared by every auction.
type Config struct {
	// RecipientPublicKey is the key sandbox results are encrypted to.
	RecipientPublicKey core.PublicKey
	// PaymentAsset is the asset bids, collateral and fees are paid in.
	PaymentAsset core.Address
}

// Engine runs auction operations against the store, the ledger and the
// computation dispatcher.
type Engine struct {
	store      store.Store
	ledger     ledger.Ledger
	dispatcher *computation.Dispatcher
	cfg        Config
	now        func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock replaces the wall clock.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// NewEngine returns an Engine. cfg.RecipientPublicKey is required.
func NewEngine(st store.Store, l ledger.Ledger, d *computation.Dispatcher, cfg Config, opts ...Option) (*Engine, error) {
	if cfg.RecipientPublicKey.IsZero() {
		return nil, fmt.Errorf("settlement recipient public key is required")
	}
	e := &Engine{store: st, ledger: l, dispatcher: d, cfg: cfg, now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Store is the engine's record store.
func (e *Engine) Store() store.Store {
	return e.store
}

func (e *Engine) Ledger() ledger.Ledger {
	return e.ledger
}

// Dispatcher is the channel used for sandbox computations.
func (e *Engine) Dispatcher() *computation.Dispatcher {
	return e.dispatcher
}

func (e *Engine) RecipientPublicKey() core.PublicKey {
	return e.cfg.RecipientPublicKey
}

func (e *Engine) PaymentAsset() core.Address {
	return e.cfg.PaymentAsset
}

// Now is the engine's clock.
func (e *Engine) Now() time.Time {
	return e.now()
}

func (e *Engine) unixNow() int64 {
	return e.now().Unix()
}

// Auction returns one auction.
func (e *Engine) Auction(ctx context.Context, id uint64) (*core.Auction, error) {
	var a *core.Auction
	err := e.store.View(ctx, func(tx store.Tx) error {
		var err error
		a, err = store.GetAuction(tx, id)
		return err
	})
	return a, err
}

// Auctions returns every auction in id order.
func (e *Engine) Auctions(ctx context.Context) ([]*core.Auction, error) {
	var out []*core.Auction
	err := e.store.View(ctx, func(tx store.Tx) error {
		var err error
		out, err = store.ListAuctions(tx)
		return err
	})
	return out, err
}

// Bids returns an auction's bids. Amounts stay sealed.
func (e *Engine) Bids(ctx context.Context, auctionID uint64) ([]*core.Bid, error) {
	var out []*core.Bid
	err := e.store.View(ctx, func(tx store.Tx) error {
		if _, err := store.GetAuction(tx, auctionID); err != nil {
			return err
		}
		var err error
		out, err = store.ListBids(tx, auctionID)
		return err
	})
	return out, err
}

// Result returns the sealed computation result delivered for an auction.
// Until one arrives it returns ErrComputationPending.
func (e *Engine) Result(ctx context.Context, auctionID uint64) (*enclaveapi.SealedResult, error) {
	var r *enclaveapi.SealedResult
	err := e.store.View(ctx, func(tx store.Tx) error {
		if _, err := store.GetAuction(tx, auctionID); err != nil {
			return err
		}
		var err error
		r, err = store.GetResult(tx, store.AuctionResultKey(auctionID))
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("%w: no result for auction %d", core.ErrComputationPending, auctionID)
		}
		return err
	})
	return r, err
}

// CurrentPrice is the Dutch price at the current time.
func (e *Engine) CurrentPrice(ctx context.Context, auctionID uint64) (uint64, error) {
	a, err := e.Auction(ctx, auctionID)
	if err != nil {
		return 0, err
	}
	if a.Type != core.AuctionTypeDutch {
		return 0, fmt.Errorf("%w: auction %d is %s", core.ErrInvalidAuctionType, a.ID, a.Type)
	}
	if a.Status != core.AuctionStatusActive {
		return a.CurrentPrice, nil
	}
	return core.DutchPrice(a.StartingPrice, a.PriceDecreaseRate, a.MinimumPriceFloor, e.unixNow()-a.StartTime), nil
}

// BuildSealedBidInput collects an auction's sealed bids for the sandbox.
func BuildSealedBidInput(tx store.Tx, a *core.Auction) (*enclaveapi.SealedBidInput, error) {
	bids, err := store.ListBids(tx, a.ID)
	if err != nil {
		return nil, err
	}
	in := &enclaveapi.SealedBidInput{
		AuctionID:   a.ID,
		MinimumBid:  a.MinimumBid,
		PricingMode: a.PricingMode,
		Reserve:     a.Reserve,
		Bids:        make([]enclaveapi.EncryptedBid, 0, len(bids)),
	}
	for _, b := range bids {
		in.Bids = append(in.Bids, enclaveapi.EncryptedBid{Bidder: b.Bidder, Amount: b.Sealed()})
	}
	return in, nil
}

// AttachResult stores a delivered result against an auction and records its
// commitment for authorization.
func AttachResult(tx store.Tx, a *core.Auction, r *enclaveapi.SealedResult) error {
	if err := store.PutResult(tx, store.AuctionResultKey(a.ID), r); err != nil {
		return err
	}
	commitment := r.Commitment
	a.ResultCommitment = &commitment
	a.PendingRequest = [16]byte{}
	return nil
}

func (e *Engine) paymentAccount(owner core.Address) ledger.Account {
	return ledger.Account{Owner: owner, Asset: e.cfg.PaymentAsset}
}

func (e *Engine) escrowAccount(auctionID uint64, bidder core.Address) ledger.Account {
	return e.paymentAccount(ledger.EscrowAddress(auctionID, bidder))
}

// transfer maps ledger shortfalls onto the protocol's error set.
func (e *Engine) transfer(tx store.Tx, moves ...ledger.Movement) error {
	err := e.ledger.Transfer(tx, moves...)
	if errors.Is(err, ledger.ErrInsufficientBalance) {
		return fmt.Errorf("%w: %v", core.ErrInsufficientFunds, err)
	}
	if err != nil {
		return fmt.Errorf("%w: %v", core.ErrAssetTransferFailed, err)
	}
	return nil
}

// dispatch sends req once its id has been committed as the auction's pending
// request. If the dispatcher refuses it the pending marker is cleared again.
func (e *Engine) dispatch(ctx context.Context, auctionID uint64, req *enclaveapi.ComputationRequest, cont computation.Continuation) (*computation.Call, error) {
	call, err := e.dispatcher.Dispatch(ctx, req, cont)
	if err == nil {
		return call, nil
	}
	log.Printf("ERROR: Failed to dispatch computation for auction %d: %v", auctionID, err)
	e.clearPending(ctx, auctionID, req.RequestID)
	return nil, fmt.Errorf("%w: %v", core.ErrComputationFailed, err)
}

// clearPending releases the auction for a fresh request if reqID is still
// its pending computation.
func (e *Engine) clearPending(ctx context.Context, auctionID uint64, reqID uuid.UUID) {
	err := e.store.Update(ctx, func(tx store.Tx) error {
		a, err := store.GetAuction(tx, auctionID)
		if err != nil {
			return err
		}
		if a.PendingRequest != reqID {
			return nil
		}
		a.PendingRequest = [16]byte{}
		return store.PutAuction(tx, a)
	})
	if err != nil {
		log.Printf("ERROR: Failed to clear pending request for auction %d: %v", auctionID, err)
	}
}

func (e *Engine) newRequest(kind string) *enclaveapi.ComputationRequest {
	return &enclaveapi.ComputationRequest{
		Type:               kind,
		RequestID:          uuid.New(),
		RecipientPublicKey: e.cfg.RecipientPublicKey,
		Timestamp:          e.now(),
	}
}
