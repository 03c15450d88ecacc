// Package validation is the authority-side check of sandbox attestations:
// the COSE signature, the certificate chain up to the Nitro root, the PCR
// measurements, and the user data binding a key or a computation result.
package validation

import (
	"crypto/x509"
	"fmt"

	"github.com/cloudx-io/sealedsettle/enclaveapi"
	"github.com/cloudx-io/sealedsettle/enclaveapi/parsing"
)

// Validator holds the trust anchors attestations are checked against.
type Validator struct {
	KnownPCRs []PCRSet
	// Roots defaults to the AWS Nitro root when nil.
	Roots *x509.CertPool
}

// NewValidator loads known PCR sets from pcrPath and trusts the Nitro root.
func NewValidator(pcrPath string) (*Validator, error) {
	known, err := LoadPCRsFromFile(pcrPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load PCR configuration: %w", err)
	}
	return &Validator{KnownPCRs: known}, nil
}

// validateCommon parses the COSE bytes and validates PCRs, certificate chain
// and signature. It returns the parsed document and its raw user data for the
// type-specific checks.
func (v *Validator) validateCommon(coseBytes enclaveapi.AttestationCOSE) (*BaseValidationResult, enclaveapi.AttestationDoc, []byte, error) {
	attestationDoc, userData, err := parsing.ParseAttestationDoc(coseBytes)
	if err != nil {
		return nil, attestationDoc, nil, fmt.Errorf("parse attestation document: %w", err)
	}

	result := &BaseValidationResult{
		ValidationDetails: []string{},
	}

	pcrMatch, matchedSet := ValidatePCRs(attestationDoc.PCRs, v.KnownPCRs)
	result.PCRsValid = pcrMatch
	if !pcrMatch {
		result.detail("PCR0: %s (no match)", attestationDoc.PCRs.ImageFileHash)
		result.detail("PCR1: %s (no match)", attestationDoc.PCRs.KernelHash)
		result.detail("PCR2: %s (no match)", attestationDoc.PCRs.ApplicationHash)
	} else {
		result.detail("PCR measurements valid")
		result.detail("Matched PCR set: #%d (commit: %s)", matchedSet, v.KnownPCRs[matchedSet].CommitHash)
	}

	switch {
	case attestationDoc.Certificate == "":
		result.detail("Missing certificate")
	case len(attestationDoc.CABundle) == 0:
		result.detail("Missing CA bundle")
	default:
		err = ValidateCertificateChain(attestationDoc.Certificate, attestationDoc.CABundle, attestationDoc.Timestamp, v.Roots)
		if err != nil {
			result.detail("Certificate chain validation failed: %v", err)
		} else {
			result.CertificateValid = true
			result.detail("Certificate chain verified")
		}
	}

	if attestationDoc.Certificate == "" {
		result.detail("COSE signature not checked: no certificate")
	} else if err := VerifyCOSESignature(coseBytes, attestationDoc.Certificate); err != nil {
		result.detail("COSE signature verification failed: %v", err)
	} else {
		result.SignatureValid = true
		result.detail("COSE signature verified")
	}

	return result, attestationDoc, userData, nil
}
