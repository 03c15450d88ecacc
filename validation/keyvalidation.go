package validation

import (
	"encoding/json"
	"fmt"

	"github.com/cloudx-io/sealedsettle/core"
	"github.com/cloudx-io/sealedsettle/enclaveapi"
)

// ValidateKeyAttestation validates a sandbox key attestation.
//
// Parameters:
//   - resp: the sandbox key response (public key plus attestation)
//   - expectedNonce: the nonce sent with the key request; empty skips the freshness check
//
// Returns:
//   - KeyValidationResult with detailed results (call result.IsValid() to check overall status)
//   - error if validation cannot be performed (e.g., malformed input)
func (v *Validator) ValidateKeyAttestation(resp *enclaveapi.KeyResponse, expectedNonce string) (*KeyValidationResult, error) {
	coseBytes, err := resp.AttestationCOSEBase64.Decode()
	if err != nil {
		return nil, fmt.Errorf("decode COSE bytes: %w", err)
	}

	baseResult, _, userDataBytes, err := v.validateCommon(coseBytes)
	if err != nil {
		return nil, err
	}

	var userData enclaveapi.KeyAttestationUserData
	if len(userDataBytes) > 0 {
		if err := json.Unmarshal(userDataBytes, &userData); err != nil {
			return nil, fmt.Errorf("parse user data: %w", err)
		}
	}

	result := &KeyValidationResult{
		BaseValidationResult: *baseResult,
	}

	if userData.PublicKey == "" {
		result.detail("Public key missing from attestation")
		return result, nil
	}

	if userData.PublicKey == resp.PublicKey.String() {
		result.PublicKeyMatch = true
		result.detail("Public key matches attestation")
	} else {
		result.detail("Public key mismatch: provided key does not match attested key")
	}

	switch {
	case expectedNonce != "" && userData.RequestNonce != expectedNonce:
		result.detail("Request nonce mismatch: expected %q, attestation has %q", expectedNonce, userData.RequestNonce)
	case core.ComputeKeyRequestHash(resp.PublicKey, userData.RequestNonce) != userData.RequestHash:
		result.detail("Request hash mismatch")
	default:
		result.RequestHashValid = true
		result.detail("Request hash verified")
	}

	return result, nil
}
