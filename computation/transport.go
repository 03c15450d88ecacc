package computation

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"time"

	"github.com/mdlayher/vsock"

	"github.com/cloudx-io/sealedsettle/enclave"
	"github.com/cloudx-io/sealedsettle/enclaveapi"
)

// LocalTransport runs the sandbox in-process. Requests still go through the
// JSON wire encoding so the local and remote paths behave the same.
type LocalTransport struct {
	Server *enclave.Server
}

func (t *LocalTransport) Send(_ context.Context, req *enclaveapi.ComputationRequest) (*enclaveapi.ComputationResponse, error) {
	raw, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	var resp enclaveapi.ComputationResponse
	if err := roundTripJSON(t.Server.HandleRequest(raw), &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (t *LocalTransport) FetchKey(_ context.Context, nonce string) (*enclaveapi.KeyResponse, error) {
	raw, err := json.Marshal(enclaveapi.KeyRequest{Type: enclaveapi.RequestTypeKey, Nonce: nonce})
	if err != nil {
		return nil, fmt.Errorf("encode key request: %w", err)
	}
	return decodeKeyResponse(t.Server.HandleRequest(raw))
}

func roundTripJSON(v any, out any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode response: %w", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func decodeKeyResponse(v any) (*enclaveapi.KeyResponse, error) {
	var resp struct {
		enclaveapi.KeyResponse
		Message string `json:"message"`
	}
	if err := roundTripJSON(v, &resp); err != nil {
		return nil, err
	}
	if resp.Type != enclaveapi.ResponseTypeKey {
		return nil, fmt.Errorf("key request failed: %s", resp.Message)
	}
	return &resp.KeyResponse, nil
}

// Dialer opens a connection to the sandbox.
type Dialer func(ctx context.Context) (net.Conn, error)

// VsockDialer dials the enclave over vsock.
func VsockDialer(cid, port uint32) Dialer {
	return func(context.Context) (net.Conn, error) {
		conn, err := vsock.Dial(cid, port, nil)
		if err != nil {
			return nil, fmt.Errorf("vsock dial %d:%d: %w", cid, port, err)
		}
		return conn, nil
	}
}

// TCPDialer dials a sandbox server exposed over TCP, as in local development.
func TCPDialer(addr string) Dialer {
	return func(ctx context.Context) (net.Conn, error) {
		var d net.Dialer
		return d.DialContext(ctx, "tcp", addr)
	}
}

// ConnTransport sends each request on a fresh connection: one JSON request,
// one JSON response.
type ConnTransport struct {
	Dial Dialer
}

func (t *ConnTransport) Send(ctx context.Context, req *enclaveapi.ComputationRequest) (*enclaveapi.ComputationResponse, error) {
	var resp enclaveapi.ComputationResponse
	if err := t.roundTrip(ctx, req, &resp); err != nil {
		return nil, err
	}
	if resp.Type == enclaveapi.ResponseTypeError {
		resp.Success = false
	}
	return &resp, nil
}

func (t *ConnTransport) FetchKey(ctx context.Context, nonce string) (*enclaveapi.KeyResponse, error) {
	var raw json.RawMessage
	if err := t.roundTrip(ctx, enclaveapi.KeyRequest{Type: enclaveapi.RequestTypeKey, Nonce: nonce}, &raw); err != nil {
		return nil, err
	}
	return decodeKeyResponse(raw)
}

func (t *ConnTransport) roundTrip(ctx context.Context, req, resp any) error {
	conn, err := t.Dial(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	} else {
		_ = conn.SetDeadline(time.Now().Add(DefaultTimeout))
	}

	if err := json.NewEncoder(conn).Encode(req); err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	if err := json.NewDecoder(conn).Decode(resp); err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	return nil
}
