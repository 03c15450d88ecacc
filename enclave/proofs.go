package enclave

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"

	nitro "github.com/edgebitio/nitro-enclaves-sdk-go"

	"github.com/cloudx-io/sealedsettle/core"
	"github.com/cloudx-io/sealedsettle/enclaveapi"
)

// EnclaveAttester interface for dependency injection and testing
type EnclaveAttester interface {
	Attest(options nitro.AttestationOptions) ([]byte, error)
}

// generateSecureRandomBytes draws from crypto/rand, which inside the enclave
// is fed by the NSM-seeded kernel entropy pool.
func generateSecureRandomBytes(length int) ([]byte, error) {
	randomBytes := make([]byte, length)
	if _, err := rand.Read(randomBytes); err != nil {
		return nil, fmt.Errorf("entropy generation failed: %w", err)
	}
	return randomBytes, nil
}

func generateNonce() (string, error) {
	randomBytes, err := generateSecureRandomBytes(32) // 256 bits of entropy
	if err != nil {
		return "", fmt.Errorf("failed to generate secure nonce - %w", err)
	}
	return hex.EncodeToString(randomBytes), nil
}

// GenerateResultAttestation attests a computation result. The user data
// carries the result commitment so the authority can tie an authorization
// to exactly this output.
func GenerateResultAttestation(attester EnclaveAttester, userData *enclaveapi.ResultAttestationUserData) (enclaveapi.AttestationCOSE, error) {
	if attester == nil {
		return nil, fmt.Errorf("enclave attester is nil")
	}

	userDataBytes, err := json.Marshal(userData)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal user data: %w", err)
	}
	return attest(attester, userDataBytes, "result")
}

// GenerateKeyAttestation attests the sandbox's x25519 public key.
func GenerateKeyAttestation(attester EnclaveAttester, publicKey core.PublicKey, requestNonce string) (enclaveapi.AttestationCOSE, error) {
	if attester == nil {
		return nil, fmt.Errorf("enclave attester is nil")
	}

	keyUserData := &enclaveapi.KeyAttestationUserData{
		KeyAlgorithm: "X25519",
		PublicKey:    publicKey.String(),
		RequestNonce: requestNonce,
		RequestHash:  core.ComputeKeyRequestHash(publicKey, requestNonce),
	}

	userDataBytes, err := json.Marshal(keyUserData)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal key user data: %w", err)
	}
	return attest(attester, userDataBytes, "key")
}

func attest(attester EnclaveAttester, userData []byte, kind string) (enclaveapi.AttestationCOSE, error) {
	randomNonce, err := generateNonce()
	if err != nil {
		return nil, fmt.Errorf("failed to generate attestation nonce: %w", err)
	}

	attestationCBOR, err := attester.Attest(nitro.AttestationOptions{
		UserData: userData,
		Nonce:    []byte(randomNonce),
	})
	if err != nil {
		log.Printf("ERROR: NSM %s attestation failed: %v", kind, err)
		return nil, fmt.Errorf("NSM %s attestation failed: %w", kind, err)
	}

	log.Printf("INFO: NSM %s attestation generated: %d bytes", kind, len(attestationCBOR))
	return enclaveapi.AttestationCOSE(attestationCBOR), nil
}
