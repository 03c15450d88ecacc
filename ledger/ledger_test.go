package ledger

import (
	"context"
	"errors"
	"testing"

	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"

	"github.com/cloudx-io/sealedsettle/core"
	"github.com/cloudx-io/sealedsettle/store"
)

func account(owner, asset byte) Account {
	return Account{Owner: core.Address{owner}, Asset: core.Address{asset}}
}

func balance(t *testing.T, s store.Store, l *StoreLedger, a Account) uint64 {
	t.Helper()
	var bal uint64
	assert.NoError(t, s.View(context.Background(), func(tx store.Tx) error {
		var err error
		bal, err = l.Balance(tx, a)
		return err
	}))
	return bal
}

func TestTransferIsAllOrNothing(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	l := NewStoreLedger()
	alice, bob, carol := account(1, 9), account(2, 9), account(3, 9)

	assert.NoError(t, s.Update(ctx, func(tx store.Tx) error { return l.Mint(tx, alice, 100) }))

	err := s.Update(ctx, func(tx store.Tx) error {
		return l.Transfer(tx,
			Movement{From: alice, To: bob, Amount: 60},
			Movement{From: alice, To: carol, Amount: 60},
		)
	})
	check.True(t, errors.Is(err, ErrInsufficientBalance))
	check.Equal(t, uint64(100), balance(t, s, l, alice))
	check.Equal(t, uint64(0), balance(t, s, l, bob))

	assert.NoError(t, s.Update(ctx, func(tx store.Tx) error {
		return l.Transfer(tx,
			Movement{From: alice, To: bob, Amount: 60},
			Movement{From: bob, To: carol, Amount: 10},
		)
	}))
	check.Equal(t, uint64(40), balance(t, s, l, alice))
	check.Equal(t, uint64(50), balance(t, s, l, bob))
	check.Equal(t, uint64(10), balance(t, s, l, carol))
}

func TestTransferRejectsCrossAsset(t *testing.T) {
	s := store.NewMemoryStore()
	l := NewStoreLedger()
	err := s.Update(context.Background(), func(tx store.Tx) error {
		return l.Transfer(tx, Movement{From: account(1, 1), To: account(2, 2), Amount: 1})
	})
	check.True(t, errors.Is(err, ErrInvalidMovement))
}

func TestMintOverflow(t *testing.T) {
	s := store.NewMemoryStore()
	l := NewStoreLedger()
	a := account(1, 1)
	err := s.Update(context.Background(), func(tx store.Tx) error {
		if err := l.Mint(tx, a, ^uint64(0)); err != nil {
			return err
		}
		return l.Mint(tx, a, 1)
	})
	check.True(t, errors.Is(err, ErrBalanceOverflow))
}

func TestDerivedAddresses(t *testing.T) {
	check.Equal(t, VaultAddress(1), VaultAddress(1))
	check.NotEqual(t, VaultAddress(1), VaultAddress(2))
	check.NotEqual(t, EscrowAddress(1, core.Address{1}), EscrowAddress(1, core.Address{2}))
	check.NotEqual(t, VaultAddress(1), EscrowAddress(1, core.Address{}))
}
