package enclave

import (
	"fmt"
	"log"
	"time"

	"github.com/cloudx-io/sealedsettle/core"
	"github.com/cloudx-io/sealedsettle/enclaveapi"
)

// Processor runs the confidential computations. Plaintext amounts exist only
// inside its methods; every output is re-encrypted to the request's recipient.
type Processor struct {
	attester   EnclaveAttester
	keyManager *KeyManager
}

func NewProcessor(attester EnclaveAttester, keyManager *KeyManager) *Processor {
	return &Processor{attester: attester, keyManager: keyManager}
}

// Process dispatches on the request type. Failures are reported in the
// response, never as Go errors across the wire.
func (p *Processor) Process(req *enclaveapi.ComputationRequest) *enclaveapi.ComputationResponse {
	startTime := time.Now()

	var (
		resp *enclaveapi.ComputationResponse
		err  error
	)
	switch req.Type {
	case enclaveapi.RequestTypeSealedBid:
		resp, err = p.processSealedBid(req)
	case enclaveapi.RequestTypeDutch:
		resp, err = p.processDutch(req)
	case enclaveapi.RequestTypeBatch:
		resp, err = p.processBatch(req)
	default:
		err = fmt.Errorf("unknown computation type: %s", req.Type)
	}

	if err != nil {
		log.Printf("ERROR: Computation %s (%s) failed: %v", req.RequestID, req.Type, err)
		resp = enclaveapi.ErrorResponse(req.RequestID, err.Error())
	}
	resp.ProcessingTime = time.Since(startTime).Milliseconds()
	return resp
}

func (p *Processor) processSealedBid(req *enclaveapi.ComputationRequest) (*enclaveapi.ComputationResponse, error) {
	in := req.SealedBid
	if in == nil {
		return nil, fmt.Errorf("missing sealed bid payload")
	}
	log.Printf("INFO: Determining winner for auction %d with %d sealed bids", in.AuctionID, len(in.Bids))

	outcome, err := p.determineWinner(in)
	if err != nil {
		return nil, err
	}

	log.Printf("INFO: Auction %d complete: qualifying=%d winner=%t", in.AuctionID, outcome.QualifyingBids, outcome.HasWinner)

	return p.seal(req, core.AuctionTypeSealedBid, in.AuctionID, len(in.Bids), enclaveapi.EncodeAuctionOutcome(outcome), nil)
}

// determineWinner opens the reserve and every bid. A bid that fails to
// decrypt aborts the computation rather than being silently dropped.
func (p *Processor) determineWinner(in *enclaveapi.SealedBidInput) (core.AuctionOutcome, error) {
	reserve, err := p.keyManager.OpenAmount(in.Reserve)
	if err != nil {
		return core.AuctionOutcome{}, fmt.Errorf("%w: reserve for auction %d", core.ErrDecryptionFailed, in.AuctionID)
	}

	bids := make([]core.PlainBid, 0, len(in.Bids))
	for i, b := range in.Bids {
		amount, err := p.keyManager.OpenAmount(b.Amount)
		if err != nil {
			return core.AuctionOutcome{}, fmt.Errorf("%w: bid %d of auction %d", core.ErrDecryptionFailed, i, in.AuctionID)
		}
		bids = append(bids, core.PlainBid{Bidder: b.Bidder, Amount: amount})
	}

	eligible, rejected := core.EnforceBidFloor(bids, in.MinimumBid, reserve)
	if len(rejected) > 0 {
		log.Printf("INFO: Auction %d: %d bids below minimum or reserve", in.AuctionID, len(rejected))
	}
	return core.DetermineWinner(eligible, in.MinimumBid, reserve, in.PricingMode), nil
}

func (p *Processor) processDutch(req *enclaveapi.ComputationRequest) (*enclaveapi.ComputationResponse, error) {
	in := req.Dutch
	if in == nil {
		return nil, fmt.Errorf("missing dutch payload")
	}

	reserve, err := p.keyManager.OpenAmount(in.Reserve)
	if err != nil {
		return nil, fmt.Errorf("%w: reserve for auction %d", core.ErrDecryptionFailed, in.AuctionID)
	}

	outcome := core.VerifyDutchBid(core.DutchParams{
		StartingPrice:     in.StartingPrice,
		PriceDecreaseRate: in.PriceDecreaseRate,
		MinimumPriceFloor: in.MinimumPriceFloor,
		Elapsed:           in.Elapsed,
	}, in.BidAmount, reserve)

	log.Printf("INFO: Dutch auction %d verified: %s", in.AuctionID, outcome.Verdict)

	met := outcome.ReserveMet()
	return p.seal(req, core.AuctionTypeDutch, in.AuctionID, 1, enclaveapi.EncodeDutchOutcome(outcome), &met)
}

func (p *Processor) processBatch(req *enclaveapi.ComputationRequest) (*enclaveapi.ComputationResponse, error) {
	in := req.Batch
	if in == nil {
		return nil, fmt.Errorf("missing batch payload")
	}

	ids := make([]uint64, len(in.Auctions))
	for i, a := range in.Auctions {
		ids[i] = a.AuctionID
	}
	if err := core.VerifyBatchIntegrity(ids, in.DeclaredCount); err != nil {
		return nil, err
	}

	entries := make([]core.SettlementEntry, 0, len(in.Auctions))
	for i := range in.Auctions {
		outcome, err := p.determineWinner(&in.Auctions[i])
		if err != nil {
			return nil, err
		}
		entries = append(entries, core.SettlementEntry{
			AuctionID:     in.Auctions[i].AuctionID,
			Winner:        outcome.Winner,
			WinningAmount: outcome.WinningAmount,
			ReserveMet:    outcome.HasWinner,
		})
	}
	summary := core.AggregateBatch(entries, in.FeeBps)

	log.Printf("INFO: Batch %d aggregated: successful=%d failed=%d", in.BatchID, summary.Successful, summary.Failed)

	return p.seal(req, core.AuctionTypeBatch, in.BatchID, len(in.Auctions), enclaveapi.EncodeBatchOutcome(summary, entries), nil)
}

// seal encrypts fields to the recipient under a fresh sandbox key pair,
// commits to the ciphertexts and attests the commitment.
func (p *Processor) seal(req *enclaveapi.ComputationRequest, kind core.AuctionType, subject uint64, inputs int, fields []enclaveapi.Field, reserveMet *bool) (*enclaveapi.ComputationResponse, error) {
	if req.RecipientPublicKey.IsZero() {
		return nil, fmt.Errorf("%w: missing recipient public key", core.ErrInvalidEncryption)
	}

	eph, err := enclaveapi.GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	c, err := eph.NewFieldCipher(req.RecipientPublicKey)
	if err != nil {
		return nil, err
	}
	nonce, err := enclaveapi.RandomNonce()
	if err != nil {
		return nil, err
	}

	resp := &enclaveapi.ComputationResponse{
		Type:             enclaveapi.ResponseTypeComputation,
		RequestID:        req.RequestID,
		Success:          true,
		SandboxPublicKey: eph.Public,
		Nonce:            nonce,
		Ciphertexts:      c.SealFields(nonce, fields),
		ReserveMet:       reserveMet,
	}
	resp.Commitment = core.ComputeResultCommitment(req.RequestID, kind, subject, nonce, resp.Ciphertexts)

	if kind == core.AuctionTypeBatch {
		for i, a := range req.Batch.Auctions {
			off := enclaveapi.BatchEntryOffset(i)
			resp.EntryCommitments = append(resp.EntryCommitments, enclaveapi.EntryCommitment{
				AuctionID:  a.AuctionID,
				Offset:     off,
				Commitment: core.ComputeResultCommitment(req.RequestID, kind, a.AuctionID, nonce, resp.Ciphertexts[off:off+enclaveapi.BatchEntryFields]),
			})
		}
	}

	attestation, err := GenerateResultAttestation(p.attester, &enclaveapi.ResultAttestationUserData{
		RequestID:          req.RequestID.String(),
		Kind:               kind.String(),
		SubjectID:          subject,
		InputCount:         inputs,
		Commitment:         resp.Commitment,
		EntryCommitments:   resp.EntryCommitments,
		ReserveMet:         reserveMet,
		RecipientPublicKey: req.RecipientPublicKey,
		Timestamp:          time.Now().UTC(),
	})
	if err != nil {
		return nil, err
	}
	resp.AttestationCOSEBase64 = attestation.EncodeBase64()
	return resp, nil
}
