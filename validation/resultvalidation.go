package validation

import (
	"encoding/json"
	"fmt"

	"github.com/cloudx-io/sealedsettle/core"
	"github.com/cloudx-io/sealedsettle/enclaveapi"
)

// ValidateResultAttestation validates the attestation carried by a stored
// computation result and verifies:
// - the attestation names this result's request, kind and subject
// - the stored ciphertexts hash to the attested commitment
// - the result was encrypted to the expected recipient
// - the cleartext reserve verdict, if any, is the attested one
//
// A batch entry (a slice of a batch result) is checked against its entry
// commitment. A passing result's Commitment is what authorize_settlement
// expects.
func (v *Validator) ValidateResultAttestation(r *enclaveapi.SealedResult, recipient core.PublicKey) (*ResultValidationResult, error) {
	if r.Attestation == "" {
		return nil, fmt.Errorf("result carries no attestation")
	}
	coseBytes, err := r.Attestation.Decompress()
	if err != nil {
		return nil, fmt.Errorf("decompress attestation: %w", err)
	}

	baseResult, _, userDataBytes, err := v.validateCommon(coseBytes)
	if err != nil {
		return nil, err
	}

	result := &ResultValidationResult{
		BaseValidationResult: *baseResult,
	}

	if len(userDataBytes) == 0 {
		result.detail("Attestation user data missing")
		return result, nil
	}
	var userData enclaveapi.ResultAttestationUserData
	if err := json.Unmarshal(userDataBytes, &userData); err != nil {
		return nil, fmt.Errorf("parse user data: %w", err)
	}

	attested, ok := validateBinding(r, &userData, result)
	result.BindingValid = ok
	result.CommitmentValid = validateCommitment(r, attested, result)
	result.RecipientMatch = validateRecipient(recipient, &userData, result)
	result.ReserveValid = validateReserve(r, &userData, result)

	return result, nil
}

// validateBinding returns the commitment the attestation vouches for this
// result.
func validateBinding(r *enclaveapi.SealedResult, userData *enclaveapi.ResultAttestationUserData, result *ResultValidationResult) (core.Commitment, bool) {
	if userData.RequestID != r.RequestID.String() {
		result.detail("Request id mismatch: result %s, attestation %s", r.RequestID, userData.RequestID)
		return core.Commitment{}, false
	}
	if userData.Kind != r.Kind.String() {
		result.detail("Kind mismatch: result %s, attestation %s", r.Kind, userData.Kind)
		return core.Commitment{}, false
	}

	if r.Kind == core.AuctionTypeBatch && r.FieldOffset != 0 {
		for _, ec := range userData.EntryCommitments {
			if ec.AuctionID == r.SubjectID && uint64(ec.Offset) == r.FieldOffset {
				result.detail("Result is entry for auction %d of batch %d", ec.AuctionID, userData.SubjectID)
				return ec.Commitment, true
			}
		}
		result.detail("Auction %d is not an entry of attested batch %d", r.SubjectID, userData.SubjectID)
		return core.Commitment{}, false
	}

	if userData.SubjectID != r.SubjectID {
		result.detail("Subject mismatch: result %d, attestation %d", r.SubjectID, userData.SubjectID)
		return core.Commitment{}, false
	}
	result.detail("Attestation bound to %s request %s for subject %d", userData.Kind, userData.RequestID, userData.SubjectID)
	return userData.Commitment, true
}

func validateCommitment(r *enclaveapi.SealedResult, attested core.Commitment, result *ResultValidationResult) bool {
	if attested.IsZero() {
		result.detail("No attested commitment to compare")
		return false
	}
	computed := r.ComputeCommitment()
	if computed != attested {
		result.detail("Commitment mismatch: computed %s, attestation has %s", computed, attested)
		return false
	}
	if r.Commitment != attested {
		result.detail("Stored commitment %s differs from attested %s", r.Commitment, attested)
		return false
	}
	result.detail("Commitment verified: %s", computed)
	return true
}

func validateRecipient(expected core.PublicKey, userData *enclaveapi.ResultAttestationUserData, result *ResultValidationResult) bool {
	if expected.IsZero() {
		result.detail("Recipient not checked")
		return true
	}
	if userData.RecipientPublicKey != expected {
		result.detail("Recipient mismatch: result encrypted to %s", userData.RecipientPublicKey)
		return false
	}
	result.detail("Result encrypted to expected recipient")
	return true
}

func validateReserve(r *enclaveapi.SealedResult, userData *enclaveapi.ResultAttestationUserData, result *ResultValidationResult) bool {
	switch {
	case r.ReserveMet == nil && userData.ReserveMet == nil:
		return true
	case r.ReserveMet == nil || userData.ReserveMet == nil:
		result.detail("Reserve verdict present on only one side")
		return false
	case *r.ReserveMet != *userData.ReserveMet:
		result.detail("Reserve verdict mismatch: result %v, attestation %v", *r.ReserveMet, *userData.ReserveMet)
		return false
	}
	result.detail("Reserve verdict verified: %v", *r.ReserveMet)
	return true
}
