// Package store is key-addressed record storage. Every record lives under a
// (record type, id) key; ids are derived deterministically from the entity
// they name. All writes happen inside serializable Update transactions.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/cloudx-io/sealedsettle/core"
)

var (
	ErrNotFound  = errors.New("record not found")
	ErrKeyExists = errors.New("record key already exists")
	ErrReadOnly  = errors.New("write in read-only transaction")
)

// RecordType namespaces record ids.
type RecordType uint8

const (
	RecordProtocolConfig RecordType = iota + 1
	RecordAuction
	RecordBid
	RecordBatch
	RecordResult
	RecordBalance
)

func (t RecordType) String() string {
	switch t {
	case RecordProtocolConfig:
		return "protocol_config"
	case RecordAuction:
		return "auction"
	case RecordBid:
		return "bid"
	case RecordBatch:
		return "batch"
	case RecordResult:
		return "result"
	case RecordBalance:
		return "balance"
	default:
		return fmt.Sprintf("record_type(%d)", uint8(t))
	}
}

// Key addresses one record.
type Key struct {
	Type RecordType
	ID   string
}

func (k Key) String() string {
	return k.Type.String() + "/" + k.ID
}

// ConfigKey is the key of the protocol configuration singleton.
func ConfigKey() Key {
	return Key{Type: RecordProtocolConfig, ID: "protocol"}
}

// AuctionKey orders auctions by id: ids are fixed-width hex.
func AuctionKey(id uint64) Key {
	return Key{Type: RecordAuction, ID: fmt.Sprintf("%016x", id)}
}

// BidPrefix is the id prefix shared by every bid on an auction.
func BidPrefix(auctionID uint64) string {
	return fmt.Sprintf("%016x/", auctionID)
}

// BidKey is keyed by (auction, bidder), so a bidder can hold at most one bid
// per auction.
func BidKey(auctionID uint64, bidder core.Address) Key {
	return Key{Type: RecordBid, ID: BidPrefix(auctionID) + bidder.String()}
}

func BatchKey(id uint64) Key {
	return Key{Type: RecordBatch, ID: fmt.Sprintf("%016x", id)}
}

// AuctionResultKey holds the sealed computation result for an auction.
func AuctionResultKey(auctionID uint64) Key {
	return Key{Type: RecordResult, ID: "auction/" + fmt.Sprintf("%016x", auctionID)}
}

// BatchResultKey holds the sealed computation result for a batch.
func BatchResultKey(batchID uint64) Key {
	return Key{Type: RecordResult, ID: "batch/" + fmt.Sprintf("%016x", batchID)}
}

// BalanceKey addresses one owner's holding of one asset.
func BalanceKey(owner, asset core.Address) Key {
	return Key{Type: RecordBalance, ID: owner.String() + "/" + asset.String()}
}

// Tx is a view of the store inside one transaction.
type Tx interface {
	// Get returns ErrNotFound if the key is absent.
	Get(key Key) ([]byte, error)
	// Put creates or replaces a record.
	Put(key Key, value []byte) error
	// Insert creates a record, returning ErrKeyExists if one is present.
	Insert(key Key, value []byte) error
	Delete(key Key) error
	// Scan visits records of type t whose id starts with prefix, in id order.
	Scan(t RecordType, prefix string, fn func(key Key, value []byte) error) error
}

// Store runs transactions. Update applies fn's writes atomically if fn
// returns nil and discards them otherwise; concurrent updates are serializable.
type Store interface {
	View(ctx context.Context, fn func(Tx) error) error
	Update(ctx context.Context, fn func(Tx) error) error
	Close() error
}
