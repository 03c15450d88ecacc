package store

import (
	"errors"
	"fmt"

	"github.com/cloudx-io/sealedsettle/core"
	"github.com/cloudx-io/sealedsettle/enclaveapi"
)

// Typed accessors. Missing records are reported with the matching core
// sentinel so callers outside the store never see ErrNotFound.

func GetConfig(tx Tx) (*core.ProtocolConfig, error) {
	raw, err := tx.Get(ConfigKey())
	if errors.Is(err, ErrNotFound) {
		return nil, core.ErrProtocolNotInitialized
	}
	if err != nil {
		return nil, err
	}
	return DecodeConfig(raw)
}

func PutConfig(tx Tx, c *core.ProtocolConfig) error {
	return tx.Put(ConfigKey(), EncodeConfig(c))
}

// InsertConfig fails with ErrProtocolAlreadyInitialized if a configuration exists.
func InsertConfig(tx Tx, c *core.ProtocolConfig) error {
	err := tx.Insert(ConfigKey(), EncodeConfig(c))
	if errors.Is(err, ErrKeyExists) {
		return core.ErrProtocolAlreadyInitialized
	}
	return err
}

func GetAuction(tx Tx, id uint64) (*core.Auction, error) {
	raw, err := tx.Get(AuctionKey(id))
	if errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("%w: %d", core.ErrAuctionNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return DecodeAuction(raw)
}

func PutAuction(tx Tx, a *core.Auction) error {
	return tx.Put(AuctionKey(a.ID), EncodeAuction(a))
}

// InsertAuction fails with ErrAuctionIDAlreadyExists on an id collision.
func InsertAuction(tx Tx, a *core.Auction) error {
	err := tx.Insert(AuctionKey(a.ID), EncodeAuction(a))
	if errors.Is(err, ErrKeyExists) {
		return fmt.Errorf("%w: %d", core.ErrAuctionIDAlreadyExists, a.ID)
	}
	return err
}

// ListAuctions returns every auction in id order.
func ListAuctions(tx Tx) ([]*core.Auction, error) {
	var out []*core.Auction
	err := tx.Scan(RecordAuction, "", func(_ Key, raw []byte) error {
		a, err := DecodeAuction(raw)
		if err != nil {
			return err
		}
		out = append(out, a)
		return nil
	})
	return out, err
}

func GetBid(tx Tx, auctionID uint64, bidder core.Address) (*core.Bid, error) {
	raw, err := tx.Get(BidKey(auctionID, bidder))
	if errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("%w: auction %d bidder %s", core.ErrBidNotFound, auctionID, bidder)
	}
	if err != nil {
		return nil, err
	}
	return DecodeBid(raw)
}

func PutBid(tx Tx, b *core.Bid) error {
	return tx.Put(BidKey(b.AuctionID, b.Bidder), EncodeBid(b))
}

// InsertBid fails with ErrBidAlreadySubmitted if the bidder already holds a
// bid on the auction.
func InsertBid(tx Tx, b *core.Bid) error {
	err := tx.Insert(BidKey(b.AuctionID, b.Bidder), EncodeBid(b))
	if errors.Is(err, ErrKeyExists) {
		return fmt.Errorf("%w: auction %d bidder %s", core.ErrBidAlreadySubmitted, b.AuctionID, b.Bidder)
	}
	return err
}

// ListBids returns an auction's bids ordered by bidder.
func ListBids(tx Tx, auctionID uint64) ([]*core.Bid, error) {
	var out []*core.Bid
	err := tx.Scan(RecordBid, BidPrefix(auctionID), func(_ Key, raw []byte) error {
		b, err := DecodeBid(raw)
		if err != nil {
			return err
		}
		out = append(out, b)
		return nil
	})
	return out, err
}

func GetBatch(tx Tx, id uint64) (*core.BatchSettlement, error) {
	raw, err := tx.Get(BatchKey(id))
	if errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("%w: %d", core.ErrBatchNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return DecodeBatch(raw)
}

func PutBatch(tx Tx, b *core.BatchSettlement) error {
	raw, err := EncodeBatch(b)
	if err != nil {
		return err
	}
	return tx.Put(BatchKey(b.BatchID), raw)
}

func InsertBatch(tx Tx, b *core.BatchSettlement) error {
	raw, err := EncodeBatch(b)
	if err != nil {
		return err
	}
	if err := tx.Insert(BatchKey(b.BatchID), raw); errors.Is(err, ErrKeyExists) {
		return fmt.Errorf("%w: batch id %d already assigned", core.ErrBatchSettlementFailed, b.BatchID)
	} else if err != nil {
		return err
	}
	return nil
}

// GetResult returns ErrNotFound when no result has been delivered.
func GetResult(tx Tx, key Key) (*enclaveapi.SealedResult, error) {
	raw, err := tx.Get(key)
	if err != nil {
		return nil, err
	}
	return DecodeResult(raw)
}

func PutResult(tx Tx, key Key, r *enclaveapi.SealedResult) error {
	raw, err := EncodeResult(r)
	if err != nil {
		return err
	}
	return tx.Put(key, raw)
}
