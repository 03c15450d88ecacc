// Package ledger moves value between accounts. Balances are records in the
// same store as auction state, so a transfer commits or rolls back together
// with the state change that caused it.
package ledger

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/cloudx-io/sealedsettle/core"
	"github.com/cloudx-io/sealedsettle/store"
)

var (
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrBalanceOverflow     = errors.New("balance overflow")
	ErrInvalidMovement     = errors.New("invalid movement")
)

// Account is one owner's holding of one asset.
type Account struct {
	Owner core.Address `json:"owner"`
	Asset core.Address `json:"asset"`
}

func (a Account) String() string {
	return a.Owner.String() + "/" + a.Asset.String()
}

// Movement transfers Amount of From.Asset from From to To.
type Movement struct {
	From   Account
	To     Account
	Amount uint64
}

// Ledger is the value-transfer collaborator used by the auction engine.
// Transfer is all-or-nothing: either every movement applies or none does.
type Ledger interface {
	Balance(tx store.Tx, acct Account) (uint64, error)
	Transfer(tx store.Tx, moves ...Movement) error
}

// StoreLedger keeps balances as store records.
type StoreLedger struct{}

func NewStoreLedger() *StoreLedger {
	return &StoreLedger{}
}

func (l *StoreLedger) Balance(tx store.Tx, acct Account) (uint64, error) {
	raw, err := tx.Get(store.BalanceKey(acct.Owner, acct.Asset))
	if errors.Is(err, store.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return store.DecodeBalance(raw)
}

// Transfer applies moves in order. Balances are read through the
// transaction, so a later movement sees the effect of an earlier one.
func (l *StoreLedger) Transfer(tx store.Tx, moves ...Movement) error {
	for i, m := range moves {
		if m.From.Asset != m.To.Asset {
			return fmt.Errorf("%w: movement %d crosses assets", ErrInvalidMovement, i)
		}
		if m.Amount == 0 || m.From == m.To {
			continue
		}
		from, err := l.Balance(tx, m.From)
		if err != nil {
			return err
		}
		if from < m.Amount {
			return fmt.Errorf("%w: %s holds %d, needs %d", ErrInsufficientBalance, m.From, from, m.Amount)
		}
		to, err := l.Balance(tx, m.To)
		if err != nil {
			return err
		}
		if to+m.Amount < to {
			return fmt.Errorf("%w: %s", ErrBalanceOverflow, m.To)
		}
		if err := l.put(tx, m.From, from-m.Amount); err != nil {
			return err
		}
		if err := l.put(tx, m.To, to+m.Amount); err != nil {
			return err
		}
	}
	return nil
}

// Mint credits an account from outside the ledger.
func (l *StoreLedger) Mint(tx store.Tx, acct Account, amount uint64) error {
	bal, err := l.Balance(tx, acct)
	if err != nil {
		return err
	}
	if bal+amount < bal {
		return fmt.Errorf("%w: %s", ErrBalanceOverflow, acct)
	}
	return l.put(tx, acct, bal+amount)
}

func (l *StoreLedger) put(tx store.Tx, acct Account, amount uint64) error {
	return tx.Put(store.BalanceKey(acct.Owner, acct.Asset), store.EncodeBalance(amount))
}

// Escrow owners are derived from the entity they hold value for, so nobody
// can own them and they never need to be registered.

// VaultAddress holds an auction's escrowed asset.
func VaultAddress(auctionID uint64) core.Address {
	return derive("asset_vault", auctionID, nil)
}

// EscrowAddress holds one bidder's collateral for one auction.
func EscrowAddress(auctionID uint64, bidder core.Address) core.Address {
	return derive("bid_escrow", auctionID, bidder[:])
}

func derive(seed string, id uint64, extra []byte) core.Address {
	h := sha256.New()
	h.Write([]byte("sealedsettle/" + seed))
	h.Write(binary.LittleEndian.AppendUint64(nil, id))
	h.Write(extra)
	var a core.Address
	copy(a[:], h.Sum(nil))
	return a
}
