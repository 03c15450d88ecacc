package computation

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"

	"github.com/cloudx-io/sealedsettle/core"
	"github.com/cloudx-io/sealedsettle/enclave"
	"github.com/cloudx-io/sealedsettle/enclaveapi"
)

// stubTransport answers with fixed responses; block holds Send until released.
type stubTransport struct {
	resp  *enclaveapi.ComputationResponse
	err   error
	block chan struct{}
}

func (s *stubTransport) Send(ctx context.Context, req *enclaveapi.ComputationRequest) (*enclaveapi.ComputationResponse, error) {
	if s.block != nil {
		select {
		case <-s.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if s.err != nil {
		return nil, s.err
	}
	resp := *s.resp
	resp.RequestID = req.RequestID
	return &resp, nil
}

func (s *stubTransport) FetchKey(context.Context, string) (*enclaveapi.KeyResponse, error) {
	return nil, errors.New("not supported")
}

func recordingContinuation(got *[]enclaveapi.ComputationOutput, mu *sync.Mutex, ret error) Continuation {
	return func(_ context.Context, out enclaveapi.ComputationOutput) error {
		mu.Lock()
		defer mu.Unlock()
		*got = append(*got, out)
		return ret
	}
}

func TestDispatch_DeliversOnce(t *testing.T) {
	transport := &stubTransport{resp: &enclaveapi.ComputationResponse{Success: true, Ciphertexts: []core.Ciphertext{{1}}}}
	d := NewDispatcher(transport)

	var (
		mu  sync.Mutex
		got []enclaveapi.ComputationOutput
	)
	req := &enclaveapi.ComputationRequest{Type: enclaveapi.RequestTypeSealedBid, RequestID: uuid.New()}
	call, err := d.Dispatch(context.Background(), req, recordingContinuation(&got, &mu, nil))
	assert.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	assert.NoError(t, call.Wait(ctx))

	mu.Lock()
	check.Equal(t, 1, len(got))
	_, ok := got[0].(enclaveapi.OutputCiphertexts)
	mu.Unlock()
	check.True(t, ok)
	check.Equal(t, 0, d.Pending())

	// A second delivery for the same id is rejected.
	err = d.Deliver(context.Background(), enclaveapi.OutputError{ID: req.RequestID, Message: "late"})
	check.True(t, errors.Is(err, ErrUnknownRequest))
}

func TestDispatch_RejectsMissingAndDuplicateIDs(t *testing.T) {
	transport := &stubTransport{block: make(chan struct{})}
	defer close(transport.block)
	d := NewDispatcher(transport)
	noop := func(context.Context, enclaveapi.ComputationOutput) error { return nil }

	_, err := d.Dispatch(context.Background(), &enclaveapi.ComputationRequest{}, noop)
	check.Error(t, err)

	req := &enclaveapi.ComputationRequest{RequestID: uuid.New()}
	_, err = d.Dispatch(context.Background(), req, noop)
	assert.NoError(t, err)
	_, err = d.Dispatch(context.Background(), req, noop)
	check.Error(t, err)
}

func TestDispatch_TransportErrorBecomesOutputError(t *testing.T) {
	d := NewDispatcher(&stubTransport{err: errors.New("connection refused")})

	var (
		mu  sync.Mutex
		got []enclaveapi.ComputationOutput
	)
	wantErr := errors.New("applied failure")
	call, err := d.Dispatch(context.Background(), &enclaveapi.ComputationRequest{RequestID: uuid.New()}, recordingContinuation(&got, &mu, wantErr))
	assert.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	check.Equal(t, wantErr, call.Wait(ctx))

	mu.Lock()
	defer mu.Unlock()
	errOut, ok := got[0].(enclaveapi.OutputError)
	check.True(t, ok)
	check.Equal(t, "transport: connection refused", errOut.Message)
}

func TestExpireOverdue(t *testing.T) {
	transport := &stubTransport{block: make(chan struct{})}
	defer close(transport.block)

	now := time.Unix(1000, 0)
	var clockMu sync.Mutex
	clock := func() time.Time {
		clockMu.Lock()
		defer clockMu.Unlock()
		return now
	}
	d := NewDispatcher(transport, WithTimeout(time.Minute), WithClock(clock))

	var (
		mu  sync.Mutex
		got []enclaveapi.ComputationOutput
	)
	call, err := d.Dispatch(context.Background(), &enclaveapi.ComputationRequest{RequestID: uuid.New()}, recordingContinuation(&got, &mu, nil))
	assert.NoError(t, err)

	check.Equal(t, 0, d.ExpireOverdue(context.Background()))
	check.Equal(t, 1, d.Pending())

	clockMu.Lock()
	now = now.Add(2 * time.Minute)
	clockMu.Unlock()

	check.Equal(t, 1, d.ExpireOverdue(context.Background()))
	check.Equal(t, 0, d.Pending())
	<-call.Done()

	mu.Lock()
	defer mu.Unlock()
	errOut, ok := got[0].(enclaveapi.OutputError)
	check.True(t, ok)
	check.Equal(t, ErrTimedOut.Error(), errOut.Message)
}

func TestCallWait_ContextDone(t *testing.T) {
	transport := &stubTransport{block: make(chan struct{})}
	defer close(transport.block)
	d := NewDispatcher(transport)

	call, err := d.Dispatch(context.Background(), &enclaveapi.ComputationRequest{RequestID: uuid.New()},
		func(context.Context, enclaveapi.ComputationOutput) error { return nil })
	assert.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = call.Wait(ctx)
	check.True(t, errors.Is(err, core.ErrComputationPending))
}

func newSandbox(t *testing.T) *enclave.Server {
	t.Helper()
	km, err := enclave.NewKeyManager()
	assert.NoError(t, err)
	return enclave.NewServer(enclave.CreateMockEnclave(t), km, 4)
}

func sealedBidRequest(t *testing.T, sandboxKey, recipient core.PublicKey) *enclaveapi.ComputationRequest {
	t.Helper()
	reserve, err := enclaveapi.SealAmount(sandboxKey, 100)
	assert.NoError(t, err)
	bid, err := enclaveapi.SealAmount(sandboxKey, 250)
	assert.NoError(t, err)
	return &enclaveapi.ComputationRequest{
		Type:               enclaveapi.RequestTypeSealedBid,
		RequestID:          uuid.New(),
		RecipientPublicKey: recipient,
		SealedBid: &enclaveapi.SealedBidInput{
			AuctionID: 9,
			Reserve:   reserve,
			Bids:      []enclaveapi.EncryptedBid{{Amount: bid}},
		},
	}
}

func TestLocalTransport(t *testing.T) {
	sandbox := newSandbox(t)
	transport := &LocalTransport{Server: sandbox}
	recipient, err := enclaveapi.GenerateKeyPair()
	assert.NoError(t, err)

	key, err := transport.FetchKey(context.Background(), "n")
	assert.NoError(t, err)
	check.Equal(t, sandbox.KeyManager().PublicKey(), key.PublicKey)

	req := sealedBidRequest(t, key.PublicKey, recipient.Public)
	resp, err := transport.Send(context.Background(), req)
	assert.NoError(t, err)
	check.True(t, resp.Success)
	check.Equal(t, req.RequestID, resp.RequestID)

	result, err := enclaveapi.ResultFromResponse(resp, core.AuctionTypeSealedBid, 9)
	assert.NoError(t, err)
	outcome, err := enclaveapi.OpenAuctionResult(recipient, result)
	assert.NoError(t, err)
	check.Equal(t, uint64(100), outcome.WinningAmount)
}

func TestConnTransport(t *testing.T) {
	sandbox := newSandbox(t)
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	assert.NoError(t, err)
	go func() { _ = sandbox.Serve(listener) }()
	defer listener.Close()

	transport := &ConnTransport{Dial: TCPDialer(listener.Addr().String())}
	recipient, err := enclaveapi.GenerateKeyPair()
	assert.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	key, err := transport.FetchKey(ctx, "")
	assert.NoError(t, err)
	check.Equal(t, sandbox.KeyManager().PublicKey(), key.PublicKey)

	resp, err := transport.Send(ctx, sealedBidRequest(t, key.PublicKey, recipient.Public))
	assert.NoError(t, err)
	check.True(t, resp.Success)

	// Unknown types come back as an error response, not a transport error.
	resp, err = transport.Send(ctx, &enclaveapi.ComputationRequest{Type: "bogus", RequestID: uuid.New()})
	assert.NoError(t, err)
	check.False(t, resp.Success)
}
