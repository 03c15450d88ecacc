// Package computation is the request/response channel between the settlement
// engine and the confidential sandbox. Each dispatched request owns a
// single-use continuation keyed by its request id; the continuation runs when
// the sandbox result is delivered or when the operator timeout expires.
package computation

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cloudx-io/sealedsettle/core"
	"github.com/cloudx-io/sealedsettle/enclaveapi"
)

var (
	// ErrUnknownRequest is returned when delivering a result for a request
	// that was never dispatched or has already been completed.
	ErrUnknownRequest = errors.New("unknown or already completed computation request")
	// ErrTimedOut is reported to continuations whose result never arrived.
	ErrTimedOut = errors.New("computation timed out")
)

// DefaultTimeout bounds how long a dispatched computation may stay pending.
const DefaultTimeout = 2 * time.Minute

// Continuation applies a computation output. It runs exactly once.
type Continuation func(ctx context.Context, out enclaveapi.ComputationOutput) error

// Transport carries requests to the sandbox.
type Transport interface {
	Send(ctx context.Context, req *enclaveapi.ComputationRequest) (*enclaveapi.ComputationResponse, error)
	FetchKey(ctx context.Context, nonce string) (*enclaveapi.KeyResponse, error)
}

// Call is one in-flight computation.
type Call struct {
	ID       uuid.UUID
	Type     string
	Deadline time.Time

	cont Continuation
	done chan struct{}
	err  error
}

// Done is closed once the continuation has run.
func (c *Call) Done() <-chan struct{} {
	return c.done
}

// Wait blocks until the continuation has run and returns its error.
func (c *Call) Wait(ctx context.Context) error {
	select {
	case <-c.done:
		return c.err
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", core.ErrComputationPending, ctx.Err())
	}
}

// Dispatcher owns the pending continuations.
type Dispatcher struct {
	transport Transport
	timeout   time.Duration
	now       func() time.Time

	mu      sync.Mutex
	pending map[uuid.UUID]*Call
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithTimeout sets the operator timeout for pending computations.
func WithTimeout(d time.Duration) Option {
	return func(disp *Dispatcher) { disp.timeout = d }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(disp *Dispatcher) { disp.now = now }
}

func NewDispatcher(transport Transport, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		transport: transport,
		timeout:   DefaultTimeout,
		now:       time.Now,
		pending:   make(map[uuid.UUID]*Call),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Transport returns the underlying transport.
func (d *Dispatcher) Transport() Transport {
	return d.transport
}

// Dispatch registers cont under req.RequestID and sends the request. The
// request id must be fresh; callers persist it before dispatching so the
// continuation can recognise stale deliveries.
func (d *Dispatcher) Dispatch(ctx context.Context, req *enclaveapi.ComputationRequest, cont Continuation) (*Call, error) {
	if req.RequestID == uuid.Nil {
		return nil, fmt.Errorf("computation request has no id")
	}

	call := &Call{
		ID:       req.RequestID,
		Type:     req.Type,
		Deadline: d.now().Add(d.timeout),
		cont:     cont,
		done:     make(chan struct{}),
	}

	d.mu.Lock()
	if _, exists := d.pending[call.ID]; exists {
		d.mu.Unlock()
		return nil, fmt.Errorf("computation request %s already pending", call.ID)
	}
	d.pending[call.ID] = call
	d.mu.Unlock()

	log.Printf("INFO: Dispatched computation %s (%s)", call.ID, call.Type)

	// The computation outlives the caller's request context.
	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
	go func() {
		defer cancel()
		var out enclaveapi.ComputationOutput
		resp, err := d.transport.Send(sendCtx, req)
		if err != nil {
			out = enclaveapi.OutputError{ID: call.ID, Message: fmt.Sprintf("transport: %v", err)}
		} else {
			if resp.RequestID == uuid.Nil {
				resp.RequestID = call.ID
			}
			out = resp.Output()
		}
		if err := d.Deliver(context.WithoutCancel(ctx), out); errors.Is(err, ErrUnknownRequest) {
			log.Printf("WARNING: Dropping result for computation %s: %v", call.ID, err)
		}
	}()

	return call, nil
}

// Deliver resumes the continuation waiting on out's request id. A request id
// can be delivered at most once; later deliveries return ErrUnknownRequest.
func (d *Dispatcher) Deliver(ctx context.Context, out enclaveapi.ComputationOutput) error {
	d.mu.Lock()
	call, ok := d.pending[out.RequestID()]
	if ok {
		delete(d.pending, out.RequestID())
	}
	d.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownRequest, out.RequestID())
	}

	if e, isErr := out.(enclaveapi.OutputError); isErr {
		log.Printf("WARNING: Computation %s failed: %s", call.ID, e.Message)
	} else {
		log.Printf("INFO: Computation %s delivered", call.ID)
	}

	call.err = call.cont(ctx, out)
	close(call.done)
	return call.err
}

// Pending returns the number of calls awaiting a result.
func (d *Dispatcher) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

// ExpireOverdue fails every call past its deadline. The continuation sees an
// OutputError wrapping ErrTimedOut; no state is rolled back automatically.
func (d *Dispatcher) ExpireOverdue(ctx context.Context) int {
	now := d.now()

	d.mu.Lock()
	var overdue []uuid.UUID
	for id, call := range d.pending {
		if now.After(call.Deadline) {
			overdue = append(overdue, id)
		}
	}
	d.mu.Unlock()

	expired := 0
	for _, id := range overdue {
		out := enclaveapi.OutputError{ID: id, Message: ErrTimedOut.Error()}
		if err := d.Deliver(ctx, out); errors.Is(err, ErrUnknownRequest) {
			continue
		}
		expired++
	}
	if expired > 0 {
		log.Printf("WARNING: Expired %d overdue computations", expired)
	}
	return expired
}

// Run sweeps overdue computations every interval until ctx is done.
func (d *Dispatcher) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.ExpireOverdue(ctx)
		}
	}
}
