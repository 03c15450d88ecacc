// Package batch settles several sealed-bid auctions with one confidential
// computation. A batch references its auctions by id; each auction receives
// its own slice of the result, with its own commitment, and is then
// authorized and executed individually through the auction engine.
package batch

import (
	"context"
	"errors"
	"fmt"
	"log"
	"slices"

	"github.com/google/uuid"

	"github.com/cloudx-io/sealedsettle/auction"
	"github.com/cloudx-io/sealedsettle/computation"
	"github.com/cloudx-io/sealedsettle/core"
	"github.com/cloudx-io/sealedsettle/enclaveapi"
	"github.com/cloudx-io/sealedsettle/protocol"
	"github.com/cloudx-io/sealedsettle/store"
)

type Coordinator struct {
	engine *auction.Engine
}

func NewCoordinator(engine *auction.Engine) *Coordinator {
	return &Coordinator{engine: engine}
}

// Batch returns one batch settlement record.
func (c *Coordinator) Batch(ctx context.Context, id uint64) (*core.BatchSettlement, error) {
	var b *core.BatchSettlement
	err := c.engine.Store().View(ctx, func(tx store.Tx) error {
		var err error
		b, err = store.GetBatch(tx, id)
		return err
	})
	return b, err
}

// Result returns the full sealed batch result, aggregate fields included.
func (c *Coordinator) Result(ctx context.Context, id uint64) (*enclaveapi.SealedResult, error) {
	var r *enclaveapi.SealedResult
	err := c.engine.Store().View(ctx, func(tx store.Tx) error {
		if _, err := store.GetBatch(tx, id); err != nil {
			return err
		}
		var err error
		r, err = store.GetResult(tx, store.BatchResultKey(id))
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("%w: no result for batch %d", core.ErrComputationPending, id)
		}
		return err
	})
	return r, err
}

// EntryResult returns the slice of a batch result belonging to one auction.
func (c *Coordinator) EntryResult(ctx context.Context, batchID, auctionID uint64) (*enclaveapi.SealedResult, error) {
	b, err := c.Batch(ctx, batchID)
	if err != nil {
		return nil, err
	}
	if !slices.Contains(b.AuctionIDs, auctionID) {
		return nil, fmt.Errorf("%w: auction %d, batch %d", core.ErrAuctionNotInBatch, auctionID, batchID)
	}
	return c.engine.Result(ctx, auctionID)
}

// CreateBatch groups ended sealed-bid auctions into one computation. The
// batch is stored as Created, moves to Settling once the computation is
// dispatched and ends Settled or Failed when the result is applied. Failed
// is terminal; its auctions are released for a fresh settlement request.
func (c *Coordinator) CreateBatch(ctx context.Context, creator core.Address, auctionIDs []uint64) (*core.BatchSettlement, *computation.Call, error) {
	if err := core.ValidateBatchSize(len(auctionIDs)); err != nil {
		return nil, nil, err
	}

	req := &enclaveapi.ComputationRequest{
		Type:               enclaveapi.RequestTypeBatch,
		RequestID:          uuid.New(),
		RecipientPublicKey: c.engine.RecipientPublicKey(),
		Timestamp:          c.engine.Now(),
	}

	var b *core.BatchSettlement
	err := c.engine.Store().Update(ctx, func(tx store.Tx) error {
		cfg, err := store.GetConfig(tx)
		if err != nil {
			return err
		}
		if err := protocol.RequireActive(cfg); err != nil {
			return err
		}

		now := c.engine.Now().Unix()
		in := &enclaveapi.BatchInput{
			FeeBps:        cfg.ProtocolFeeBps,
			DeclaredCount: len(auctionIDs),
			Auctions:      make([]enclaveapi.SealedBidInput, 0, len(auctionIDs)),
		}

		// A repeated id is passed through unchanged so the sandbox integrity
		// check rejects the batch.
		seen := make(map[uint64]*enclaveapi.SealedBidInput, len(auctionIDs))
		for _, id := range auctionIDs {
			if prev, ok := seen[id]; ok {
				in.Auctions = append(in.Auctions, *prev)
				continue
			}
			a, err := store.GetAuction(tx, id)
			if err != nil {
				return err
			}
			if err := eligible(a, now); err != nil {
				return err
			}
			sealed, err := auction.BuildSealedBidInput(tx, a)
			if err != nil {
				return err
			}
			seen[id] = sealed
			in.Auctions = append(in.Auctions, *sealed)

			a.Status = core.AuctionStatusEnded
			a.PendingRequest = req.RequestID
			if err := store.PutAuction(tx, a); err != nil {
				return err
			}
		}

		id, err := protocol.NextBatchID(tx, cfg)
		if err != nil {
			return err
		}
		in.BatchID = id
		req.Batch = in

		b = &core.BatchSettlement{
			BatchID:        id,
			Creator:        creator,
			AuctionIDs:     append([]uint64(nil), auctionIDs...),
			Status:         core.BatchStatusCreated,
			CreatedAt:      now,
			PendingRequest: req.RequestID,
		}
		return store.InsertBatch(tx, b)
	})
	if err != nil {
		return nil, nil, err
	}
	log.Printf("INFO: Created batch %d with %d auctions", b.BatchID, len(b.AuctionIDs))

	call, err := c.engine.Dispatcher().Dispatch(ctx, req, c.continuation(b.BatchID, req.RequestID))
	if err != nil {
		log.Printf("ERROR: Failed to dispatch batch %d: %v", b.BatchID, err)
		if failErr := c.fail(ctx, b.BatchID, req.RequestID); failErr != nil {
			log.Printf("ERROR: Failed to record batch %d failure: %v", b.BatchID, failErr)
		}
		return nil, nil, fmt.Errorf("%w: %v", core.ErrComputationFailed, err)
	}

	err = c.engine.Store().Update(ctx, func(tx store.Tx) error {
		stored, err := store.GetBatch(tx, b.BatchID)
		if err != nil {
			return err
		}
		// The result may already have been applied.
		if stored.Status != core.BatchStatusCreated {
			b = stored
			return nil
		}
		stored.Status = core.BatchStatusSettling
		b = stored
		return store.PutBatch(tx, stored)
	})
	if err != nil {
		return nil, nil, err
	}
	return b, call, nil
}

// eligible checks that an auction can join a batch at time now.
func eligible(a *core.Auction, now int64) error {
	if a.Type != core.AuctionTypeSealedBid && a.Type != core.AuctionTypeBatch {
		return fmt.Errorf("%w: auction %d is %s", core.ErrInvalidAuctionType, a.ID, a.Type)
	}
	switch a.Status {
	case core.AuctionStatusActive, core.AuctionStatusEnded:
	case core.AuctionStatusSettled:
		return fmt.Errorf("%w: auction %d", core.ErrAuctionAlreadySettled, a.ID)
	default:
		return fmt.Errorf("%w: auction %d is %s", core.ErrInvalidAuctionStatus, a.ID, a.Status)
	}
	if now < a.EndTime {
		return fmt.Errorf("%w: auction %d", core.ErrAuctionNotEnded, a.ID)
	}
	if a.PendingRequest != uuid.Nil {
		return fmt.Errorf("%w: auction %d", core.ErrComputationPending, a.ID)
	}
	if a.ResultCommitment != nil {
		return fmt.Errorf("%w: auction %d already has a result", core.ErrInvalidAuctionStatus, a.ID)
	}
	return nil
}

func (c *Coordinator) continuation(batchID uint64, reqID uuid.UUID) computation.Continuation {
	return func(ctx context.Context, out enclaveapi.ComputationOutput) error {
		var outcome error
		err := c.engine.Store().Update(ctx, func(tx store.Tx) error {
			outcome = nil
			b, err := store.GetBatch(tx, batchID)
			if err != nil {
				return err
			}
			if b.PendingRequest != reqID {
				outcome = fmt.Errorf("%w: %s for batch %d", auction.ErrStaleResult, reqID, batchID)
				return nil
			}

			results, err := c.results(out, b)
			if err != nil {
				outcome = err
				return c.markFailed(tx, b, reqID)
			}
			return c.markSettled(tx, b, reqID, results)
		})
		if err != nil {
			log.Printf("ERROR: Failed to apply computation %s to batch %d: %v", reqID, batchID, err)
			if failErr := c.fail(ctx, batchID, reqID); failErr != nil {
				log.Printf("ERROR: Failed to record batch %d failure: %v", batchID, failErr)
			}
			return err
		}
		if outcome != nil {
			log.Printf("WARNING: Batch %d failed: %v", batchID, outcome)
		}
		return outcome
	}
}

type delivered struct {
	batch   *enclaveapi.SealedResult
	entries []*enclaveapi.SealedResult
}

// results verifies the batch commitment and every per-auction commitment,
// and that entries line up with the batch's auctions.
func (c *Coordinator) results(out enclaveapi.ComputationOutput, b *core.BatchSettlement) (*delivered, error) {
	var resp *enclaveapi.ComputationResponse
	switch o := out.(type) {
	case enclaveapi.OutputError:
		return nil, fmt.Errorf("%w: %s", core.ErrBatchSettlementFailed, o.Message)
	case enclaveapi.OutputCiphertexts:
		resp = o.Response
	default:
		return nil, fmt.Errorf("%w: unexpected output %T", core.ErrComputationFailed, out)
	}

	whole, err := enclaveapi.ResultFromResponse(resp, core.AuctionTypeBatch, b.BatchID)
	if err != nil {
		return nil, err
	}
	entries, err := enclaveapi.EntryResults(resp)
	if err != nil {
		return nil, err
	}
	if len(entries) != len(b.AuctionIDs) {
		return nil, fmt.Errorf("%w: %d entries for %d auctions", core.ErrBatchSettlementFailed, len(entries), len(b.AuctionIDs))
	}
	for i, e := range entries {
		if e.SubjectID != b.AuctionIDs[i] {
			return nil, fmt.Errorf("%w: entry %d is auction %d, expected %d", core.ErrBatchSettlementFailed, i, e.SubjectID, b.AuctionIDs[i])
		}
	}
	return &delivered{batch: whole, entries: entries}, nil
}

func (c *Coordinator) markSettled(tx store.Tx, b *core.BatchSettlement, reqID uuid.UUID, r *delivered) error {
	now := c.engine.Now().Unix()
	r.batch.DeliveredAt = now
	if err := store.PutResult(tx, store.BatchResultKey(b.BatchID), r.batch); err != nil {
		return err
	}

	for _, entry := range r.entries {
		a, err := store.GetAuction(tx, entry.SubjectID)
		if err != nil {
			return err
		}
		if a.PendingRequest != reqID {
			log.Printf("WARNING: Auction %d left batch %d before its result arrived", a.ID, b.BatchID)
			continue
		}
		entry.DeliveredAt = now
		if err := auction.AttachResult(tx, a, entry); err != nil {
			return err
		}
		if err := store.PutAuction(tx, a); err != nil {
			return err
		}
	}

	b.Status = core.BatchStatusSettled
	b.SettledAt = &now
	b.PendingRequest = uuid.Nil
	log.Printf("INFO: Batch %d settled, commitment %s", b.BatchID, r.batch.Commitment)
	return store.PutBatch(tx, b)
}

// markFailed records the terminal failure and releases the batch's auctions.
func (c *Coordinator) markFailed(tx store.Tx, b *core.BatchSettlement, reqID uuid.UUID) error {
	for _, id := range b.AuctionIDs {
		a, err := store.GetAuction(tx, id)
		if err != nil {
			return err
		}
		if a.PendingRequest != reqID {
			continue
		}
		a.PendingRequest = uuid.Nil
		if err := store.PutAuction(tx, a); err != nil {
			return err
		}
	}
	b.Status = core.BatchStatusFailed
	b.PendingRequest = uuid.Nil
	return store.PutBatch(tx, b)
}

func (c *Coordinator) fail(ctx context.Context, batchID uint64, reqID uuid.UUID) error {
	return c.engine.Store().Update(ctx, func(tx store.Tx) error {
		b, err := store.GetBatch(tx, batchID)
		if err != nil {
			return err
		}
		if b.PendingRequest != reqID {
			return nil
		}
		return c.markFailed(tx, b, reqID)
	})
}
