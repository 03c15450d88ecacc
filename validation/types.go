package validation

import "fmt"

// BaseValidationResult contains common validation results for all attestation types
type BaseValidationResult struct {
	PCRsValid         bool     `json:"pcrs_valid"`
	CertificateValid  bool     `json:"certificate_valid"`
	SignatureValid    bool     `json:"signature_valid"`
	ValidationDetails []string `json:"details"`
}

func (r *BaseValidationResult) detail(format string, args ...any) {
	r.ValidationDetails = append(r.ValidationDetails, fmt.Sprintf(format, args...))
}

// KeyValidationResult contains validation results specific to key attestations
type KeyValidationResult struct {
	BaseValidationResult
	PublicKeyMatch   bool `json:"public_key_match"`
	RequestHashValid bool `json:"request_hash_valid"`
}

// IsValid returns true if all key validation checks passed
func (r *KeyValidationResult) IsValid() bool {
	return r.PCRsValid && r.CertificateValid && r.SignatureValid && r.PublicKeyMatch && r.RequestHashValid
}

// ResultValidationResult contains validation results for a sandbox
// computation result as stored against an auction or batch.
type ResultValidationResult struct {
	BaseValidationResult
	// BindingValid: the attested request id, kind and subject are the stored result's.
	BindingValid bool `json:"binding_valid"`
	// CommitmentValid: the stored ciphertexts hash to the attested commitment.
	CommitmentValid bool `json:"commitment_valid"`
	RecipientMatch  bool `json:"recipient_match"`
	ReserveValid    bool `json:"reserve_valid"`
}

func (r *ResultValidationResult) IsValid() bool {
	return r.PCRsValid && r.CertificateValid && r.SignatureValid &&
		r.BindingValid && r.CommitmentValid && r.RecipientMatch && r.ReserveValid
}

// PCRSet represents a known-good set of PCR measurements
type PCRSet struct {
	PCR0       string `json:"pcr0"`
	PCR1       string `json:"pcr1"`
	PCR2       string `json:"pcr2"`
	CommitHash string `json:"commit_hash"` // source commit the sandbox image was built from
}

// PCRConfig represents the PCR configuration file structure
type PCRConfig struct {
	PCRSets []PCRSet `json:"pcr_sets"`
}
