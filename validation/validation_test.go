package validation

import (
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"

	"github.com/cloudx-io/sealedsettle/core"
	"github.com/cloudx-io/sealedsettle/enclave"
	"github.com/cloudx-io/sealedsettle/enclaveapi"
)

var (
	bidder1 = core.Address{0xb0, 1}
	bidder2 = core.Address{0xb0, 2}
)

func keyResponse(t *testing.T, attester enclave.EnclaveAttester, nonce string) *enclaveapi.KeyResponse {
	t.Helper()
	kp, err := enclaveapi.GenerateKeyPair()
	assert.NoError(t, err)
	att, err := enclave.GenerateKeyAttestation(attester, kp.Public, nonce)
	assert.NoError(t, err)
	return &enclaveapi.KeyResponse{
		Type:                  enclaveapi.ResponseTypeKey,
		PublicKey:             kp.Public,
		AttestationCOSEBase64: att.EncodeBase64(),
	}
}

func TestValidateKeyAttestation(t *testing.T) {
	pki := newTestPKI(t)
	resp := keyResponse(t, pki.attester(t, time.Now()), "nonce-1")

	result, err := pki.validator().ValidateKeyAttestation(resp, "nonce-1")
	assert.NoError(t, err)
	check.True(t, result.PCRsValid)
	check.True(t, result.CertificateValid)
	check.True(t, result.SignatureValid)
	check.True(t, result.PublicKeyMatch)
	check.True(t, result.RequestHashValid)
	check.True(t, result.IsValid())

	// Freshness check is skipped without an expected nonce.
	result, err = pki.validator().ValidateKeyAttestation(resp, "")
	assert.NoError(t, err)
	check.True(t, result.IsValid())
}

func TestValidateKeyAttestationFailures(t *testing.T) {
	pki := newTestPKI(t)

	t.Run("stale nonce", func(t *testing.T) {
		resp := keyResponse(t, pki.attester(t, time.Now()), "nonce-1")
		result, err := pki.validator().ValidateKeyAttestation(resp, "nonce-2")
		assert.NoError(t, err)
		check.True(t, result.PublicKeyMatch)
		check.False(t, result.RequestHashValid)
		check.False(t, result.IsValid())
	})

	t.Run("substituted key", func(t *testing.T) {
		resp := keyResponse(t, pki.attester(t, time.Now()), "nonce-1")
		other, err := enclaveapi.GenerateKeyPair()
		assert.NoError(t, err)
		resp.PublicKey = other.Public
		result, err := pki.validator().ValidateKeyAttestation(resp, "nonce-1")
		assert.NoError(t, err)
		check.True(t, result.SignatureValid)
		check.False(t, result.PublicKeyMatch)
		check.False(t, result.IsValid())
	})

	t.Run("unknown PCRs", func(t *testing.T) {
		resp := keyResponse(t, pki.attester(t, time.Now()), "nonce-1")
		v := pki.validator()
		v.KnownPCRs = []PCRSet{{PCR0: "00", PCR1: "11", PCR2: "22"}}
		result, err := v.ValidateKeyAttestation(resp, "nonce-1")
		assert.NoError(t, err)
		check.False(t, result.PCRsValid)
		check.True(t, result.CertificateValid)
		check.False(t, result.IsValid())
	})

	t.Run("untrusted root", func(t *testing.T) {
		resp := keyResponse(t, pki.attester(t, time.Now()), "nonce-1")
		v := pki.validator()
		v.Roots = newTestPKI(t).roots()
		result, err := v.ValidateKeyAttestation(resp, "nonce-1")
		assert.NoError(t, err)
		check.False(t, result.CertificateValid)
		check.True(t, result.SignatureValid)
		check.False(t, result.IsValid())
	})

	t.Run("nitro root rejects test chain", func(t *testing.T) {
		resp := keyResponse(t, pki.attester(t, time.Now()), "nonce-1")
		v := pki.validator()
		v.Roots = nil
		result, err := v.ValidateKeyAttestation(resp, "nonce-1")
		assert.NoError(t, err)
		check.False(t, result.CertificateValid)
	})

	t.Run("attested after leaf expiry", func(t *testing.T) {
		resp := keyResponse(t, pki.attester(t, pki.issued.Add(5*time.Hour)), "nonce-1")
		result, err := pki.validator().ValidateKeyAttestation(resp, "nonce-1")
		assert.NoError(t, err)
		check.False(t, result.CertificateValid)
		check.True(t, result.SignatureValid)
	})

	t.Run("unsigned development attester", func(t *testing.T) {
		resp := keyResponse(t, enclave.NewDevelopmentAttester(), "nonce-1")
		result, err := pki.validator().ValidateKeyAttestation(resp, "nonce-1")
		assert.NoError(t, err)
		check.True(t, result.PCRsValid)
		check.False(t, result.CertificateValid)
		check.False(t, result.SignatureValid)
		check.True(t, result.PublicKeyMatch)
		check.False(t, result.IsValid())
	})

	t.Run("malformed attestation", func(t *testing.T) {
		resp := keyResponse(t, pki.attester(t, time.Now()), "nonce-1")
		resp.AttestationCOSEBase64 = "bm90LWNib3I="
		_, err := pki.validator().ValidateKeyAttestation(resp, "nonce-1")
		check.Error(t, err)
	})
}

// sandbox runs the real contract processor with a signing attester.
type sandbox struct {
	processor *enclave.Processor
	keys      *enclave.KeyManager
	recipient *enclaveapi.KeyPair
}

func newSandbox(t *testing.T, attester enclave.EnclaveAttester) *sandbox {
	t.Helper()
	km, err := enclave.NewKeyManager()
	assert.NoError(t, err)
	recipient, err := enclaveapi.GenerateKeyPair()
	assert.NoError(t, err)
	return &sandbox{processor: enclave.NewProcessor(attester, km), keys: km, recipient: recipient}
}

func (s *sandbox) sealedInput(t *testing.T, auctionID uint64, reserve uint64, bids map[core.Address]uint64) enclaveapi.SealedBidInput {
	t.Helper()
	res, err := enclaveapi.SealAmount(s.keys.PublicKey(), reserve)
	assert.NoError(t, err)
	in := enclaveapi.SealedBidInput{AuctionID: auctionID, MinimumBid: 100, PricingMode: core.PricingSecondPrice, Reserve: res}
	for bidder, amount := range bids {
		enc, err := enclaveapi.SealAmount(s.keys.PublicKey(), amount)
		assert.NoError(t, err)
		in.Bids = append(in.Bids, enclaveapi.EncryptedBid{Bidder: bidder, Amount: enc})
	}
	return in
}

func (s *sandbox) run(t *testing.T, req *enclaveapi.ComputationRequest) *enclaveapi.ComputationResponse {
	t.Helper()
	req.RequestID = uuid.New()
	req.RecipientPublicKey = s.recipient.Public
	req.Timestamp = time.Now()
	resp := s.processor.Process(req)
	assert.True(t, resp.Success)
	return resp
}

func TestValidateSealedBidResult(t *testing.T) {
	pki := newTestPKI(t)
	sb := newSandbox(t, pki.attester(t, time.Now()))

	in := sb.sealedInput(t, 7, 150, map[core.Address]uint64{bidder1: 300, bidder2: 500})
	resp := sb.run(t, &enclaveapi.ComputationRequest{Type: enclaveapi.RequestTypeSealedBid, SealedBid: &in})
	r, err := enclaveapi.ResultFromResponse(resp, core.AuctionTypeSealedBid, 7)
	assert.NoError(t, err)

	result, err := pki.validator().ValidateResultAttestation(r, sb.recipient.Public)
	assert.NoError(t, err)
	check.True(t, result.BindingValid)
	check.True(t, result.CommitmentValid)
	check.True(t, result.RecipientMatch)
	check.True(t, result.ReserveValid)
	check.True(t, result.IsValid())

	d, err := OpenDecision(sb.recipient, r)
	assert.NoError(t, err)
	check.True(t, d.HasWinner)
	check.Equal(t, bidder2, d.Winner)
	check.Equal(t, uint64(300), d.Amount)
	check.Equal(t, r.Commitment, d.Commitment)
	check.Equal(t, uint64(7), d.AuctionID)
}

func TestValidateResultTampering(t *testing.T) {
	pki := newTestPKI(t)
	sb := newSandbox(t, pki.attester(t, time.Now()))

	fresh := func(t *testing.T) *enclaveapi.SealedResult {
		in := sb.sealedInput(t, 7, 150, map[core.Address]uint64{bidder1: 300})
		resp := sb.run(t, &enclaveapi.ComputationRequest{Type: enclaveapi.RequestTypeSealedBid, SealedBid: &in})
		r, err := enclaveapi.ResultFromResponse(resp, core.AuctionTypeSealedBid, 7)
		assert.NoError(t, err)
		return r
	}

	t.Run("swapped ciphertext", func(t *testing.T) {
		r := fresh(t)
		r.Ciphertexts[2][0] ^= 0xff
		result, err := pki.validator().ValidateResultAttestation(r, sb.recipient.Public)
		assert.NoError(t, err)
		check.True(t, result.BindingValid)
		check.False(t, result.CommitmentValid)
		check.False(t, result.IsValid())
	})

	t.Run("attestation from another result", func(t *testing.T) {
		r, other := fresh(t), fresh(t)
		r.Attestation = other.Attestation
		result, err := pki.validator().ValidateResultAttestation(r, sb.recipient.Public)
		assert.NoError(t, err)
		check.False(t, result.BindingValid)
		check.False(t, result.IsValid())
	})

	t.Run("relabelled subject", func(t *testing.T) {
		r := fresh(t)
		r.SubjectID = 8
		result, err := pki.validator().ValidateResultAttestation(r, sb.recipient.Public)
		assert.NoError(t, err)
		check.False(t, result.BindingValid)
	})

	t.Run("wrong recipient", func(t *testing.T) {
		other, err := enclaveapi.GenerateKeyPair()
		assert.NoError(t, err)
		result, err := pki.validator().ValidateResultAttestation(fresh(t), other.Public)
		assert.NoError(t, err)
		check.False(t, result.RecipientMatch)
		check.False(t, result.IsValid())
	})

	t.Run("missing attestation", func(t *testing.T) {
		r := fresh(t)
		r.Attestation = ""
		_, err := pki.validator().ValidateResultAttestation(r, sb.recipient.Public)
		check.Error(t, err)
	})
}

func TestValidateDutchResult(t *testing.T) {
	pki := newTestPKI(t)
	sb := newSandbox(t, pki.attester(t, time.Now()))

	reserve, err := enclaveapi.SealAmount(sb.keys.PublicKey(), 600)
	assert.NoError(t, err)
	resp := sb.run(t, &enclaveapi.ComputationRequest{Type: enclaveapi.RequestTypeDutch, Dutch: &enclaveapi.DutchInput{
		AuctionID:         3,
		Bidder:            bidder1,
		BidAmount:         700,
		StartingPrice:     1000,
		PriceDecreaseRate: 10,
		MinimumPriceFloor: 200,
		Elapsed:           30,
		Reserve:           reserve,
	}})
	r, err := enclaveapi.ResultFromResponse(resp, core.AuctionTypeDutch, 3)
	assert.NoError(t, err)
	assert.True(t, r.ReserveMet != nil)

	result, err := pki.validator().ValidateResultAttestation(r, sb.recipient.Public)
	assert.NoError(t, err)
	check.True(t, result.IsValid())

	flipped := !*r.ReserveMet
	r.ReserveMet = &flipped
	result, err = pki.validator().ValidateResultAttestation(r, sb.recipient.Public)
	assert.NoError(t, err)
	check.False(t, result.ReserveValid)
	check.False(t, result.IsValid())

	d, err := OpenDecision(sb.recipient, r)
	assert.NoError(t, err)
	check.True(t, d.HasWinner)
	check.Equal(t, uint64(700), d.Amount)
}

func TestValidateBatchEntries(t *testing.T) {
	pki := newTestPKI(t)
	sb := newSandbox(t, pki.attester(t, time.Now()))

	resp := sb.run(t, &enclaveapi.ComputationRequest{Type: enclaveapi.RequestTypeBatch, Batch: &enclaveapi.BatchInput{
		BatchID:       1,
		FeeBps:        50,
		DeclaredCount: 2,
		Auctions: []enclaveapi.SealedBidInput{
			sb.sealedInput(t, 4, 100, map[core.Address]uint64{bidder1: 200}),
			sb.sealedInput(t, 5, 900, map[core.Address]uint64{bidder2: 300}),
		},
	}})

	whole, err := enclaveapi.ResultFromResponse(resp, core.AuctionTypeBatch, 1)
	assert.NoError(t, err)
	result, err := pki.validator().ValidateResultAttestation(whole, sb.recipient.Public)
	assert.NoError(t, err)
	check.True(t, result.IsValid())
	_, err = OpenDecision(sb.recipient, whole)
	check.Error(t, err)

	entries, err := enclaveapi.EntryResults(resp)
	assert.NoError(t, err)
	assert.Equal(t, 2, len(entries))
	for _, e := range entries {
		result, err := pki.validator().ValidateResultAttestation(e, sb.recipient.Public)
		assert.NoError(t, err)
		check.True(t, result.IsValid())
	}

	d, err := OpenDecision(sb.recipient, entries[0])
	assert.NoError(t, err)
	check.True(t, d.HasWinner)
	check.Equal(t, bidder1, d.Winner)
	check.Equal(t, uint64(100), d.Amount)

	d, err = OpenDecision(sb.recipient, entries[1])
	assert.NoError(t, err)
	check.False(t, d.HasWinner)

	// An entry presented under another auction's id is not vouched for.
	entries[1].SubjectID = 4
	result, err = pki.validator().ValidateResultAttestation(entries[1], sb.recipient.Public)
	assert.NoError(t, err)
	check.False(t, result.BindingValid)
}

func TestNewValidator(t *testing.T) {
	v, err := NewValidator(writePCRFile(t, mockPCRSet()))
	assert.NoError(t, err)
	check.Equal(t, 1, len(v.KnownPCRs))
	check.Equal(t, "abc123", v.KnownPCRs[0].CommitHash)

	_, err = NewValidator(writePCRFile(t))
	check.Error(t, err)

	upper := mockPCRSet()
	upper.PCR0 = strings.ToUpper(upper.PCR0)
	v, err = NewValidator(writePCRFile(t, upper))
	assert.NoError(t, err)
	check.Equal(t, enclave.MockPCR0, v.KnownPCRs[0].PCR0)

	short := mockPCRSet()
	short.PCR2 = "abcd"
	_, err = NewValidator(writePCRFile(t, short))
	check.Error(t, err)
}

func TestValidatePCRs(t *testing.T) {
	known := []PCRSet{{PCR0: "a", PCR1: "b", PCR2: "c"}, mockPCRSet()}
	ok, idx := ValidatePCRs(enclaveapi.PCRs{ImageFileHash: enclave.MockPCR0, KernelHash: enclave.MockPCR1, ApplicationHash: enclave.MockPCR2}, known)
	check.True(t, ok)
	check.Equal(t, 1, idx)

	ok, idx = ValidatePCRs(enclaveapi.PCRs{ImageFileHash: "a", KernelHash: "b", ApplicationHash: "x"}, known)
	check.False(t, ok)
	check.Equal(t, -1, idx)
}
