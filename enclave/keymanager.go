package enclave

import (
	"fmt"
	"log"

	"github.com/cloudx-io/sealedsettle/core"
	"github.com/cloudx-io/sealedsettle/enclaveapi"
)

// KeyManager holds the sandbox's x25519 key pair. Bid amounts and reserves are
// sealed to its public key; the private half never leaves the sandbox.
type KeyManager struct {
	keys *enclaveapi.KeyPair
}

// NewKeyManager creates a new KeyManager with a fresh key pair.
func NewKeyManager() (*KeyManager, error) {
	keys, err := enclaveapi.GenerateKeyPair()
	if err != nil {
		return nil, fmt.Errorf("failed to generate key pair: %w", err)
	}
	return &KeyManager{keys: keys}, nil
}

// PublicKey returns the key bidders seal to.
func (km *KeyManager) PublicKey() core.PublicKey {
	return km.keys.Public
}

// OpenAmount decrypts an amount sealed to the sandbox.
func (km *KeyManager) OpenAmount(enc core.EncryptedAmount) (uint64, error) {
	return km.keys.OpenAmount(enc)
}

// HandleKeyRequest returns the public key together with a key attestation.
func HandleKeyRequest(attester EnclaveAttester, keyManager *KeyManager, req enclaveapi.KeyRequest) (*enclaveapi.KeyResponse, error) {
	attestation, err := GenerateKeyAttestation(attester, keyManager.PublicKey(), req.Nonce)
	if err != nil {
		return nil, fmt.Errorf("failed to generate key attestation: %w", err)
	}

	log.Printf("INFO: Key request served (public key %s)", keyManager.PublicKey())

	return &enclaveapi.KeyResponse{
		Type:                  enclaveapi.ResponseTypeKey,
		PublicKey:             keyManager.PublicKey(),
		AttestationCOSEBase64: attestation.EncodeBase64(),
	}, nil
}
