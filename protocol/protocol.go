// Package protocol owns the ProtocolConfig singleton: creation, pause, fee
// settings and the timelocked two-phase authority transfer.
package protocol

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/cloudx-io/sealedsettle/core"
	"github.com/cloudx-io/sealedsettle/store"
)

// DefaultAuthorityTimelock is the delay between initiating and completing an
// authority transfer.
const DefaultAuthorityTimelock = 48 * time.Hour

// Service applies governance operations to the stored configuration.
type Service struct {
	store    store.Store
	now      func() time.Time
	timelock time.Duration
}

// Option configures a Service.
type Option func(*Service)

// WithClock replaces the wall clock used for timelock deadlines.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithTimelock overrides DefaultAuthorityTimelock.
func WithTimelock(d time.Duration) Option {
	return func(s *Service) { s.timelock = d }
}

// NewService returns a Service over st.
func NewService(st store.Store, opts ...Option) *Service {
	s := &Service{store: st, now: time.Now, timelock: DefaultAuthorityTimelock}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Initialize creates the configuration exactly once with the default fee.
// Auction and batch ids start at 1.
func (s *Service) Initialize(ctx context.Context, authority, feeRecipient core.Address) (*core.ProtocolConfig, error) {
	if authority.IsZero() {
		return nil, fmt.Errorf("%w: authority must be set", core.ErrUnauthorized)
	}
	cfg := &core.ProtocolConfig{
		Authority:      authority,
		ProtocolFeeBps: core.DefaultProtocolFeeBps,
		FeeRecipient:   feeRecipient,
		NextAuctionID:  1,
		NextBatchID:    1,
	}
	if err := s.store.Update(ctx, func(tx store.Tx) error {
		return store.InsertConfig(tx, cfg)
	}); err != nil {
		return nil, err
	}
	log.Printf("INFO: Protocol initialized: authority=%s fee_recipient=%s fee_bps=%d",
		cfg.Authority, cfg.FeeRecipient, cfg.ProtocolFeeBps)
	return cfg, nil
}

func (s *Service) Config(ctx context.Context) (*core.ProtocolConfig, error) {
	var cfg *core.ProtocolConfig
	err := s.store.View(ctx, func(tx store.Tx) error {
		var err error
		cfg, err = store.GetConfig(tx)
		return err
	})
	return cfg, err
}

func (s *Service) SetPaused(ctx context.Context, caller core.Address, paused bool) error {
	return s.mutate(ctx, caller, func(cfg *core.ProtocolConfig) error {
		cfg.Paused = paused
		log.Printf("INFO: Protocol pause state updated: %t", paused)
		return nil
	})
}

func (s *Service) UpdateFee(ctx context.Context, caller core.Address, feeBps uint16) error {
	if feeBps > core.MaxProtocolFeeBps {
		return fmt.Errorf("%w: %d bps exceeds %d", core.ErrInvalidProtocolFee, feeBps, core.MaxProtocolFeeBps)
	}
	return s.mutate(ctx, caller, func(cfg *core.ProtocolConfig) error {
		cfg.ProtocolFeeBps = feeBps
		log.Printf("INFO: Protocol fee updated to %d basis points (%s%%)", feeBps, core.FeePercent(feeBps))
		return nil
	})
}

func (s *Service) UpdateFeeRecipient(ctx context.Context, caller, recipient core.Address) error {
	return s.mutate(ctx, caller, func(cfg *core.ProtocolConfig) error {
		cfg.FeeRecipient = recipient
		log.Printf("INFO: Fee recipient updated to %s", recipient)
		return nil
	})
}

// InitiateAuthorityTransfer records newAuthority as pending until the
// timelock elapses.
func (s *Service) InitiateAuthorityTransfer(ctx context.Context, caller, newAuthority core.Address) (int64, error) {
	if newAuthority.IsZero() {
		return 0, fmt.Errorf("%w: new authority must be set", core.ErrUnauthorized)
	}
	var deadline int64
	err := s.mutate(ctx, caller, func(cfg *core.ProtocolConfig) error {
		if cfg.PendingAuthority != nil {
			return core.ErrAuthorityTransferPending
		}
		deadline = s.now().Add(s.timelock).Unix()
		pending := newAuthority
		cfg.PendingAuthority = &pending
		cfg.TimelockDeadline = deadline
		log.Printf("INFO: Authority transfer to %s initiated, completes after %d", newAuthority, deadline)
		return nil
	})
	return deadline, err
}

// CompleteAuthorityTransfer swaps in the pending authority once the deadline
// has passed. It succeeds at most once per initiation.
func (s *Service) CompleteAuthorityTransfer(ctx context.Context, caller core.Address) error {
	return s.mutate(ctx, caller, func(cfg *core.ProtocolConfig) error {
		if cfg.PendingAuthority == nil {
			return core.ErrNoPendingAuthorityTransfer
		}
		if now := s.now().Unix(); now < cfg.TimelockDeadline {
			return fmt.Errorf("%w: %ds remaining", core.ErrAuthorityTransferTimelockNotElapsed, cfg.TimelockDeadline-now)
		}
		log.Printf("INFO: Authority transferred from %s to %s", cfg.Authority, *cfg.PendingAuthority)
		cfg.Authority = *cfg.PendingAuthority
		cfg.PendingAuthority = nil
		cfg.TimelockDeadline = 0
		return nil
	})
}

func (s *Service) CancelAuthorityTransfer(ctx context.Context, caller core.Address) error {
	return s.mutate(ctx, caller, func(cfg *core.ProtocolConfig) error {
		if cfg.PendingAuthority == nil {
			return core.ErrNoPendingAuthorityTransfer
		}
		log.Printf("INFO: Authority transfer to %s cancelled", *cfg.PendingAuthority)
		cfg.PendingAuthority = nil
		cfg.TimelockDeadline = 0
		return nil
	})
}

// mutate applies fn to the configuration if caller is the current authority.
func (s *Service) mutate(ctx context.Context, caller core.Address, fn func(*core.ProtocolConfig) error) error {
	return s.store.Update(ctx, func(tx store.Tx) error {
		cfg, err := store.GetConfig(tx)
		if err != nil {
			return err
		}
		if err := RequireAuthority(cfg, caller); err != nil {
			return err
		}
		if err := fn(cfg); err != nil {
			return err
		}
		return store.PutConfig(tx, cfg)
	})
}

// RequireAuthority fails unless caller is the configured authority.
func RequireAuthority(cfg *core.ProtocolConfig, caller core.Address) error {
	if caller != cfg.Authority {
		return fmt.Errorf("%w: %s is not the protocol authority", core.ErrUnauthorized, caller)
	}
	return nil
}

// RequireActive fails while the protocol is paused.
func RequireActive(cfg *core.ProtocolConfig) error {
	if cfg.Paused {
		return core.ErrProtocolPaused
	}
	return nil
}

// NextAuctionID assigns the next auction id inside tx. The counter never
// wraps, so an id is assigned at most once.
func NextAuctionID(tx store.Tx, cfg *core.ProtocolConfig) (uint64, error) {
	id := cfg.NextAuctionID
	if id == ^uint64(0) {
		return 0, fmt.Errorf("%w: auction id space exhausted", core.ErrAuctionIDAlreadyExists)
	}
	cfg.NextAuctionID++
	return id, store.PutConfig(tx, cfg)
}

// NextBatchID assigns the next batch id inside tx.
func NextBatchID(tx store.Tx, cfg *core.ProtocolConfig) (uint64, error) {
	id := cfg.NextBatchID
	if id == ^uint64(0) {
		return 0, fmt.Errorf("%w: batch id space exhausted", core.ErrBatchSettlementFailed)
	}
	cfg.NextBatchID++
	return id, store.PutConfig(tx, cfg)
}
