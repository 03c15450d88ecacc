package validation

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/hex"
	"encoding/json"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	nitro "github.com/edgebitio/nitro-enclaves-sdk-go"
	"github.com/fxamacker/cbor/v2"
	"github.com/peterldowns/testy/assert"
	"github.com/veraison/go-cose"

	"github.com/cloudx-io/sealedsettle/enclave"
	"github.com/cloudx-io/sealedsettle/enclaveapi/parsing"
)

// testPKI is a P-384 root and leaf standing in for the Nitro hierarchy.
type testPKI struct {
	root    *x509.Certificate
	rootDER []byte
	leafDER []byte
	leafKey *ecdsa.PrivateKey
	issued  time.Time
}

func newTestPKI(t *testing.T) *testPKI {
	t.Helper()
	issued := time.Now().Add(-time.Hour).Truncate(time.Second)

	rootKey, err := ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
	assert.NoError(t, err)
	rootTmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "test-nitro-root"},
		NotBefore:             issued,
		NotAfter:              issued.Add(48 * time.Hour),
		IsCA:                  true,
		BasicConstraintsValid: true,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature,
	}
	rootDER, err := x509.CreateCertificate(rand.Reader, rootTmpl, rootTmpl, &rootKey.PublicKey, rootKey)
	assert.NoError(t, err)
	root, err := x509.ParseCertificate(rootDER)
	assert.NoError(t, err)

	leafKey, err := ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
	assert.NoError(t, err)
	leafTmpl := &x509.Certificate{
		SerialNumber: big.NewInt(2),
		Subject:      pkix.Name{CommonName: "test-enclave"},
		NotBefore:    issued,
		NotAfter:     issued.Add(3 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
	}
	leafDER, err := x509.CreateCertificate(rand.Reader, leafTmpl, root, &leafKey.PublicKey, rootKey)
	assert.NoError(t, err)

	return &testPKI{root: root, rootDER: rootDER, leafDER: leafDER, leafKey: leafKey, issued: issued}
}

func (p *testPKI) roots() *x509.CertPool {
	pool := x509.NewCertPool()
	pool.AddCert(p.root)
	return pool
}

// attester returns an attester signing Nitro-shaped documents with the leaf
// key, reporting the mock PCRs and the given timestamp.
func (p *testPKI) attester(t *testing.T, at time.Time) enclave.EnclaveAttester {
	t.Helper()
	pcrs := map[uint64][]byte{}
	for i, h := range []string{enclave.MockPCR0, enclave.MockPCR1, enclave.MockPCR2} {
		b, err := hex.DecodeString(h)
		assert.NoError(t, err)
		pcrs[uint64(i)] = b
	}
	signer, err := cose.NewSigner(cose.AlgorithmES384, p.leafKey)
	assert.NoError(t, err)

	return &enclave.MockEnclaveHandle{
		AttestFunc: func(options nitro.AttestationOptions) ([]byte, error) {
			payload, err := cbor.Marshal(parsing.NitroAttestationDocument{
				ModuleID:    "test-enclave",
				Digest:      "SHA384",
				Timestamp:   uint64(at.UnixMilli()),
				PCRs:        pcrs,
				Certificate: p.leafDER,
				CABundle:    [][]byte{p.rootDER},
				UserData:    options.UserData,
				Nonce:       options.Nonce,
			})
			if err != nil {
				return nil, err
			}
			protected, err := cbor.Marshal(map[int]int{1: int(cose.AlgorithmES384)})
			if err != nil {
				return nil, err
			}
			tbs, err := SigStructure(protected, payload)
			if err != nil {
				return nil, err
			}
			sig, err := signer.Sign(rand.Reader, tbs)
			if err != nil {
				return nil, err
			}
			return cbor.Marshal([]any{protected, map[int]any{}, payload, sig})
		},
	}
}

func mockPCRSet() PCRSet {
	return PCRSet{PCR0: enclave.MockPCR0, PCR1: enclave.MockPCR1, PCR2: enclave.MockPCR2, CommitHash: "abc123"}
}

func (p *testPKI) validator() *Validator {
	return &Validator{KnownPCRs: []PCRSet{mockPCRSet()}, Roots: p.roots()}
}

func writePCRFile(t *testing.T, sets ...PCRSet) string {
	t.Helper()
	data, err := json.Marshal(PCRConfig{PCRSets: sets})
	assert.NoError(t, err)
	path := filepath.Join(t.TempDir(), "pcrs.json")
	assert.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}
