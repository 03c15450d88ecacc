package enclave

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"

	"github.com/cloudx-io/sealedsettle/core"
	"github.com/cloudx-io/sealedsettle/enclaveapi"
	"github.com/cloudx-io/sealedsettle/enclaveapi/parsing"
)

type sandboxFixture struct {
	km        *KeyManager
	recipient *enclaveapi.KeyPair
	processor *Processor
}

func newSandboxFixture(t *testing.T) *sandboxFixture {
	t.Helper()
	km, err := NewKeyManager()
	assert.NoError(t, err)
	recipient, err := enclaveapi.GenerateKeyPair()
	assert.NoError(t, err)
	return &sandboxFixture{km: km, recipient: recipient, processor: NewProcessor(CreateMockEnclave(t), km)}
}

func (f *sandboxFixture) seal(t *testing.T, amount uint64) core.EncryptedAmount {
	t.Helper()
	enc, err := enclaveapi.SealAmount(f.km.PublicKey(), amount)
	assert.NoError(t, err)
	return enc
}

func bidderAddr(b byte) core.Address {
	var a core.Address
	a[0] = b
	return a
}

func (f *sandboxFixture) sealedBidInput(t *testing.T, auctionID, reserve uint64, amounts ...uint64) enclaveapi.SealedBidInput {
	t.Helper()
	in := enclaveapi.SealedBidInput{
		AuctionID:   auctionID,
		MinimumBid:  100,
		PricingMode: core.PricingSecondPrice,
		Reserve:     f.seal(t, reserve),
	}
	for i, amount := range amounts {
		in.Bids = append(in.Bids, enclaveapi.EncryptedBid{Bidder: bidderAddr(byte(i + 1)), Amount: f.seal(t, amount)})
	}
	return in
}

func TestProcess_SealedBid(t *testing.T) {
	f := newSandboxFixture(t)
	in := f.sealedBidInput(t, 7, 300, 500, 900, 700)

	resp := f.processor.Process(&enclaveapi.ComputationRequest{
		Type:               enclaveapi.RequestTypeSealedBid,
		RequestID:          uuid.New(),
		RecipientPublicKey: f.recipient.Public,
		SealedBid:          &in,
	})

	assert.True(t, resp.Success)
	check.Equal(t, enclaveapi.AuctionResultFields, len(resp.Ciphertexts))
	check.Nil(t, resp.ReserveMet)

	result, err := enclaveapi.ResultFromResponse(resp, core.AuctionTypeSealedBid, 7)
	assert.NoError(t, err)

	outcome, err := enclaveapi.OpenAuctionResult(f.recipient, result)
	assert.NoError(t, err)
	check.True(t, outcome.HasWinner)
	check.Equal(t, bidderAddr(2), outcome.Winner)
	check.Equal(t, uint64(700), outcome.WinningAmount)

	// The sandbox's own key cannot open the result.
	_, err = enclaveapi.OpenAuctionResult(f.km.keys, result)
	check.Error(t, err)

	// The attestation commits to the same output.
	cose, err := resp.AttestationCOSEBase64.Decode()
	assert.NoError(t, err)
	_, raw, err := parsing.ParseAttestationDoc(cose)
	assert.NoError(t, err)
	var userData enclaveapi.ResultAttestationUserData
	assert.NoError(t, json.Unmarshal(raw, &userData))
	check.Equal(t, resp.Commitment, userData.Commitment)
	check.Equal(t, 3, userData.InputCount)
	check.Equal(t, "sealed_bid", userData.Kind)
}

func TestProcess_SealedBidDecryptionFailure(t *testing.T) {
	f := newSandboxFixture(t)
	in := f.sealedBidInput(t, 7, 300, 500)
	in.Bids[0].Amount.Ciphertext[3] ^= 0x01

	resp := f.processor.Process(&enclaveapi.ComputationRequest{
		Type:               enclaveapi.RequestTypeSealedBid,
		RequestID:          uuid.New(),
		RecipientPublicKey: f.recipient.Public,
		SealedBid:          &in,
	})

	check.False(t, resp.Success)
	check.True(t, strings.Contains(resp.Message, "decryption failed"))
	_, isErr := resp.Output().(enclaveapi.OutputError)
	check.True(t, isErr)
}

func TestProcess_MissingRecipient(t *testing.T) {
	f := newSandboxFixture(t)
	in := f.sealedBidInput(t, 7, 300, 500)

	resp := f.processor.Process(&enclaveapi.ComputationRequest{
		Type:      enclaveapi.RequestTypeSealedBid,
		RequestID: uuid.New(),
		SealedBid: &in,
	})

	check.False(t, resp.Success)
}

func TestProcess_Dutch(t *testing.T) {
	tests := []struct {
		name       string
		bid        uint64
		reserve    uint64
		wantMet    bool
		wantAmount uint64
	}{
		{"reserve met", 750, 500, true, 700},
		{"reserve hidden above bid", 750, 800, false, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newSandboxFixture(t)
			resp := f.processor.Process(&enclaveapi.ComputationRequest{
				Type:               enclaveapi.RequestTypeDutch,
				RequestID:          uuid.New(),
				RecipientPublicKey: f.recipient.Public,
				Dutch: &enclaveapi.DutchInput{
					AuctionID:         3,
					Bidder:            bidderAddr(1),
					BidAmount:         tt.bid,
					StartingPrice:     1000,
					PriceDecreaseRate: 10,
					MinimumPriceFloor: 200,
					Elapsed:           30,
					Reserve:           f.seal(t, tt.reserve),
				},
			})

			assert.True(t, resp.Success)
			assert.NotNil(t, resp.ReserveMet)
			check.Equal(t, tt.wantMet, *resp.ReserveMet)

			result, err := enclaveapi.ResultFromResponse(resp, core.AuctionTypeDutch, 3)
			assert.NoError(t, err)
			outcome, err := enclaveapi.OpenDutchResult(f.recipient, result)
			assert.NoError(t, err)
			check.Equal(t, tt.wantAmount, outcome.WinningAmount)
			check.Equal(t, tt.bid, outcome.ActualBid)
		})
	}
}

func TestProcess_Batch(t *testing.T) {
	f := newSandboxFixture(t)
	a := f.sealedBidInput(t, 5, 300, 500, 900)
	b := f.sealedBidInput(t, 7, 5000, 600)

	resp := f.processor.Process(&enclaveapi.ComputationRequest{
		Type:               enclaveapi.RequestTypeBatch,
		RequestID:          uuid.New(),
		RecipientPublicKey: f.recipient.Public,
		Batch: &enclaveapi.BatchInput{
			BatchID:       1,
			FeeBps:        50,
			DeclaredCount: 2,
			Auctions:      []enclaveapi.SealedBidInput{a, b},
		},
	})

	assert.True(t, resp.Success)
	check.Equal(t, 2, len(resp.EntryCommitments))

	outcome, err := enclaveapi.OpenBatchResult(f.recipient, resp)
	assert.NoError(t, err)
	check.Equal(t, uint64(1), outcome.Summary.Successful)
	check.Equal(t, uint64(1), outcome.Summary.Failed)
	check.Equal(t, uint64(500), outcome.Summary.TotalVolume)
	check.Equal(t, uint64(2), outcome.Summary.TotalFees)
	check.Equal(t, bidderAddr(2), outcome.Entries[0].Winner)
	check.False(t, outcome.Entries[1].ReserveMet)

	entries, err := enclaveapi.EntryResults(resp)
	assert.NoError(t, err)
	check.Equal(t, uint64(7), entries[1].SubjectID)
}

func TestProcess_BatchIntegrityFailure(t *testing.T) {
	f := newSandboxFixture(t)
	a := f.sealedBidInput(t, 5, 300, 500)
	c := f.sealedBidInput(t, 7, 300, 500)

	tests := []struct {
		name     string
		auctions []enclaveapi.SealedBidInput
		declared int
	}{
		{"duplicate auction", []enclaveapi.SealedBidInput{a, c, a}, 3},
		{"count mismatch", []enclaveapi.SealedBidInput{a, c}, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := f.processor.Process(&enclaveapi.ComputationRequest{
				Type:               enclaveapi.RequestTypeBatch,
				RequestID:          uuid.New(),
				RecipientPublicKey: f.recipient.Public,
				Batch:              &enclaveapi.BatchInput{BatchID: 1, DeclaredCount: tt.declared, Auctions: tt.auctions},
			})
			check.False(t, resp.Success)
			check.True(t, strings.Contains(resp.Message, core.ErrBatchSettlementFailed.Error()))
		})
	}
}

func TestProcess_UnknownType(t *testing.T) {
	f := newSandboxFixture(t)
	resp := f.processor.Process(&enclaveapi.ComputationRequest{Type: "english_auction", RequestID: uuid.New()})
	check.False(t, resp.Success)
}
