package enclave

import (
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"

	"github.com/cloudx-io/sealedsettle/enclaveapi"
)

func newTestServer(t *testing.T, maxWorkers int) *Server {
	t.Helper()
	km, err := NewKeyManager()
	assert.NoError(t, err)
	return NewServer(CreateMockEnclave(t), km, maxWorkers)
}

func TestHandleRequest_Ping(t *testing.T) {
	s := newTestServer(t, 1)

	resp, ok := s.HandleRequest([]byte(`{"type":"ping"}`)).(map[string]any)
	assert.True(t, ok)
	check.Equal(t, "pong", resp["type"])
}

func TestHandleRequest_Errors(t *testing.T) {
	s := newTestServer(t, 1)

	tests := []struct {
		name string
		raw  string
	}{
		{"malformed json", `{"type":`},
		{"unknown type", `{"type":"settle_everything"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, ok := s.HandleRequest([]byte(tt.raw)).(map[string]any)
			assert.True(t, ok)
			check.Equal(t, "error", resp["type"])
		})
	}
}

func TestHandleRequest_Key(t *testing.T) {
	s := newTestServer(t, 1)

	resp, ok := s.HandleRequest([]byte(`{"type":"key_request","nonce":"n1"}`)).(*enclaveapi.KeyResponse)
	assert.True(t, ok)
	check.Equal(t, s.KeyManager().PublicKey(), resp.PublicKey)
	check.NotEqual(t, "", resp.AttestationCOSEBase64.String())
}

func TestServe_RoundTrip(t *testing.T) {
	s := newTestServer(t, 2)
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	assert.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- s.Serve(listener) }()

	recipient, err := enclaveapi.GenerateKeyPair()
	assert.NoError(t, err)
	reserve, err := enclaveapi.SealAmount(s.KeyManager().PublicKey(), 100)
	assert.NoError(t, err)
	bid, err := enclaveapi.SealAmount(s.KeyManager().PublicKey(), 150)
	assert.NoError(t, err)

	req := enclaveapi.ComputationRequest{
		Type:               enclaveapi.RequestTypeSealedBid,
		RequestID:          uuid.New(),
		RecipientPublicKey: recipient.Public,
		SealedBid: &enclaveapi.SealedBidInput{
			AuctionID: 1,
			Reserve:   reserve,
			Bids:      []enclaveapi.EncryptedBid{{Bidder: bidderAddr(1), Amount: bid}},
		},
	}

	conn, err := net.Dial("tcp", listener.Addr().String())
	assert.NoError(t, err)
	_ = conn.SetDeadline(time.Now().Add(5 * time.Second))
	assert.NoError(t, json.NewEncoder(conn).Encode(req))

	var resp enclaveapi.ComputationResponse
	assert.NoError(t, json.NewDecoder(conn).Decode(&resp))
	assert.NoError(t, conn.Close())

	check.True(t, resp.Success)
	check.Equal(t, req.RequestID, resp.RequestID)

	assert.NoError(t, listener.Close())
	select {
	case err := <-done:
		check.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop after listener close")
	}
}
