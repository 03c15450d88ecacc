package enclaveapi

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/cloudx-io/sealedsettle/core"
)

// SealedResult is one computation output as stored against an auction or a
// batch. Anyone may read it; only the holder of the recipient key can open it.
type SealedResult struct {
	RequestID        uuid.UUID           `json:"request_id" cbor:"1,keyasint"`
	Kind             core.AuctionType    `json:"kind" cbor:"2,keyasint"`
	SubjectID        uint64              `json:"subject_id" cbor:"3,keyasint"`
	SandboxPublicKey core.PublicKey      `json:"sandbox_public_key" cbor:"4,keyasint"`
	Nonce            core.Nonce          `json:"nonce" cbor:"5,keyasint"`
	FieldOffset      uint64              `json:"field_offset" cbor:"6,keyasint"`
	Ciphertexts      []core.Ciphertext   `json:"ciphertexts" cbor:"7,keyasint"`
	Commitment       core.Commitment     `json:"commitment" cbor:"8,keyasint"`
	ReserveMet       *bool               `json:"reserve_met,omitempty" cbor:"9,keyasint,omitempty"`
	Attestation      AttestationCOSEGzip `json:"attestation_cose_gzip,omitempty" cbor:"10,keyasint,omitempty"`
	DeliveredAt      int64               `json:"delivered_at" cbor:"11,keyasint"`
}

// ComputeCommitment recomputes the result commitment from the stored fields.
func (r *SealedResult) ComputeCommitment() core.Commitment {
	return core.ComputeResultCommitment(r.RequestID, r.Kind, r.SubjectID, r.Nonce, r.Ciphertexts)
}

// Open decrypts the result with the recipient's key pair.
func (r *SealedResult) Open(recipient *KeyPair) ([]Field, error) {
	c, err := recipient.NewFieldCipher(r.SandboxPublicKey)
	if err != nil {
		return nil, err
	}
	return c.OpenFields(r.Nonce, r.FieldOffset, r.Ciphertexts)
}

// ResultFromResponse extracts the result for a single-subject computation
// and checks that its commitment matches the delivered ciphertexts.
func ResultFromResponse(resp *ComputationResponse, kind core.AuctionType, subjectID uint64) (*SealedResult, error) {
	r := &SealedResult{
		RequestID:        resp.RequestID,
		Kind:             kind,
		SubjectID:        subjectID,
		SandboxPublicKey: resp.SandboxPublicKey,
		Nonce:            resp.Nonce,
		Ciphertexts:      resp.Ciphertexts,
		Commitment:       resp.Commitment,
		ReserveMet:       resp.ReserveMet,
	}
	if err := r.attach(resp.AttestationCOSEBase64); err != nil {
		return nil, err
	}
	if r.ComputeCommitment() != resp.Commitment {
		return nil, fmt.Errorf("%w: commitment does not match result", core.ErrMpcVerificationFailed)
	}
	return r, nil
}

// EntryResults splits a batch response into one result per auction, each
// with its own commitment so it can be authorized individually.
func EntryResults(resp *ComputationResponse) ([]*SealedResult, error) {
	out := make([]*SealedResult, 0, len(resp.EntryCommitments))
	for i, ec := range resp.EntryCommitments {
		start := ec.Offset
		end := start + BatchEntryFields
		if start != BatchEntryOffset(i) || end > len(resp.Ciphertexts) {
			return nil, fmt.Errorf("%w: batch entry %d out of range", core.ErrMpcVerificationFailed, i)
		}
		r := &SealedResult{
			RequestID:        resp.RequestID,
			Kind:             core.AuctionTypeBatch,
			SubjectID:        ec.AuctionID,
			SandboxPublicKey: resp.SandboxPublicKey,
			Nonce:            resp.Nonce,
			FieldOffset:      uint64(start),
			Ciphertexts:      resp.Ciphertexts[start:end],
			Commitment:       ec.Commitment,
		}
		if err := r.attach(resp.AttestationCOSEBase64); err != nil {
			return nil, err
		}
		if r.ComputeCommitment() != ec.Commitment {
			return nil, fmt.Errorf("%w: commitment mismatch for auction %d", core.ErrMpcVerificationFailed, ec.AuctionID)
		}
		out = append(out, r)
	}
	return out, nil
}

func (r *SealedResult) attach(att AttestationCOSEBase64) error {
	if att == "" {
		return nil
	}
	gz, err := att.CompressGzip()
	if err != nil {
		return fmt.Errorf("compress attestation: %w", err)
	}
	r.Attestation = gz
	return nil
}

// OpenAuctionResult decrypts a sealed-bid result.
func OpenAuctionResult(recipient *KeyPair, r *SealedResult) (core.AuctionOutcome, error) {
	fields, err := r.Open(recipient)
	if err != nil {
		return core.AuctionOutcome{}, err
	}
	return DecodeAuctionOutcome(fields)
}

// OpenDutchResult decrypts a Dutch verification result.
func OpenDutchResult(recipient *KeyPair, r *SealedResult) (core.DutchOutcome, error) {
	fields, err := r.Open(recipient)
	if err != nil {
		return core.DutchOutcome{}, err
	}
	return DecodeDutchOutcome(fields)
}

// OpenBatchEntry decrypts one auction's slice of a batch result.
func OpenBatchEntry(recipient *KeyPair, r *SealedResult) (core.SettlementEntry, error) {
	fields, err := r.Open(recipient)
	if err != nil {
		return core.SettlementEntry{}, err
	}
	e, err := DecodeBatchEntry(fields)
	e.AuctionID = r.SubjectID
	return e, err
}

// OpenBatchResult decrypts a full batch response.
func OpenBatchResult(recipient *KeyPair, resp *ComputationResponse) (BatchOutcome, error) {
	c, err := recipient.NewFieldCipher(resp.SandboxPublicKey)
	if err != nil {
		return BatchOutcome{}, err
	}
	fields, err := c.OpenFields(resp.Nonce, 0, resp.Ciphertexts)
	if err != nil {
		return BatchOutcome{}, err
	}
	ids := make([]uint64, len(resp.EntryCommitments))
	for i, ec := range resp.EntryCommitments {
		ids[i] = ec.AuctionID
	}
	return DecodeBatchOutcome(fields, ids)
}
