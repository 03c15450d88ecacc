package enclave

import (
	"encoding/hex"
	"fmt"
	"testing"

	nitro "github.com/edgebitio/nitro-enclaves-sdk-go"
	"github.com/fxamacker/cbor/v2"
)

// MockEnclaveHandle implements the Attest method for testing
type MockEnclaveHandle struct {
	AttestFunc func(options nitro.AttestationOptions) ([]byte, error)
}

func (m *MockEnclaveHandle) Attest(options nitro.AttestationOptions) ([]byte, error) {
	if m.AttestFunc != nil {
		return m.AttestFunc(options)
	}
	return nil, fmt.Errorf("mock not configured")
}

// Test PCR values reported by CreateMockEnclave.
const (
	MockPCR0 = "3b4cef27e672fdbcc808960a88ddfe7329dd2e367b6850c9a8d910315f0b47e4224d6db361b75e010c87691d86ca9c57"
	MockPCR1 = "4b4d5b3661b3efc12920900c80e126e4ce783c522de6c02a2a5bf7af3a2b9327b86776f188e4be1c1c404a129dbda493"
	MockPCR2 = "2bdd28c1d85bb3872da3617a29a6bfeb50c65750c995f92e7dac6b5f2c4c72e0f9976bdee62a0b25864d10dffb535e11"
)

func mustDecodeHex(hexStr string) []byte {
	b, err := hex.DecodeString(hexStr)
	if err != nil {
		panic(fmt.Sprintf("invalid hex string: %s", hexStr))
	}
	return b
}

// CreateMockEnclave returns an attester producing an unsigned Nitro-shaped
// COSE_Sign1 document that embeds the caller's user data and nonce.
func CreateMockEnclave(t testing.TB) *MockEnclaveHandle {
	t.Helper()
	return NewDevelopmentAttester()
}

// NewDevelopmentAttester is the mock attester for running the sandbox
// in-process outside an enclave. Its documents are unsigned and carry the
// Mock PCR values; no production validator accepts them.
func NewDevelopmentAttester() *MockEnclaveHandle {
	pcrs := map[uint64][]byte{
		0: mustDecodeHex(MockPCR0),
		1: mustDecodeHex(MockPCR1),
		2: mustDecodeHex(MockPCR2),
	}
	return &MockEnclaveHandle{
		AttestFunc: func(options nitro.AttestationOptions) ([]byte, error) {
			nestedDoc := map[string]any{
				"module_id":   "test-enclave-12345",
				"digest":      "SHA384",
				"timestamp":   uint64(1234567890000),
				"pcrs":        pcrs,
				"certificate": []byte("test-certificate-data"),
				"cabundle":    [][]byte{[]byte("test-ca-cert")},
				"public_key":  []byte("test-public-key-data"),
				"user_data":   options.UserData,
				"nonce":       options.Nonce,
			}

			nestedBytes, err := cbor.Marshal(nestedDoc)
			if err != nil {
				return nil, err
			}

			// AWS Nitro 4-element array format: [protected, unprotected, payload, signature]
			return cbor.Marshal([]any{
				[]byte{0x01, 0x02, 0x03},
				map[string]any{},
				nestedBytes,
				[]byte{0x04, 0x05, 0x06},
			})
		},
	}
}
