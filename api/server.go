// Package api exposes the auction engine, the batch coordinator and protocol
// governance over HTTP.
//
// The caller's identity is taken from the X-Caller-Address header. The
// daemon is expected to sit behind a gateway that authenticates requests and
// sets the header; nothing in this package verifies signatures.
//
// Operations that start a confidential computation answer 202 Accepted with
// the request id. Passing ?wait=true holds the response until the result has
// been applied and reports the computation's outcome instead.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/cloudx-io/sealedsettle/auction"
	"github.com/cloudx-io/sealedsettle/batch"
	"github.com/cloudx-io/sealedsettle/computation"
	"github.com/cloudx-io/sealedsettle/core"
	"github.com/cloudx-io/sealedsettle/ledger"
	"github.com/cloudx-io/sealedsettle/protocol"
	"github.com/cloudx-io/sealedsettle/store"
)

// CallerHeader carries the address the request acts as.
const CallerHeader = "X-Caller-Address"

// Config tunes presentation and waiting behaviour.
type Config struct {
	// Decimals is the payment asset's display precision.
	Decimals int32
	// WaitTimeout bounds ?wait=true requests.
	WaitTimeout time.Duration
	// AllowedOrigins enables CORS for browser clients when non-empty.
	AllowedOrigins []string
}

type Server struct {
	engine   *auction.Engine
	batches  *batch.Coordinator
	protocol *protocol.Service
	cfg      Config
}

func NewServer(engine *auction.Engine, batches *batch.Coordinator, gov *protocol.Service, cfg Config) *Server {
	if cfg.WaitTimeout <= 0 {
		cfg.WaitTimeout = 30 * time.Second
	}
	return &Server{engine: engine, batches: batches, protocol: gov, cfg: cfg}
}

// Handler returns the router with the standard middleware stack.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	if len(s.cfg.AllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: s.cfg.AllowedOrigins,
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Content-Type", CallerHeader},
			MaxAge:         300,
		}))
	}
	s.RegisterRoutes(r)
	return r
}

func (s *Server) RegisterRoutes(r chi.Router) {
	r.Get("/health", s.handleHealth)
	r.Get("/sandbox/key", s.handleSandboxKey)
	r.Get("/balances/{owner}/{asset}", s.handleBalance)

	r.Route("/protocol", func(r chi.Router) {
		r.Get("/", s.handleGetProtocol)
		r.Post("/pause", s.handleSetPaused)
		r.Post("/fee", s.handleUpdateFee)
		r.Post("/fee-recipient", s.handleUpdateFeeRecipient)
		r.Post("/authority/initiate", s.handleInitiateAuthorityTransfer)
		r.Post("/authority/complete", s.handleCompleteAuthorityTransfer)
		r.Post("/authority/cancel", s.handleCancelAuthorityTransfer)
	})

	r.Route("/auctions", func(r chi.Router) {
		r.Get("/", s.handleListAuctions)
		r.Post("/sealed", s.handleCreateSealed)
		r.Post("/dutch", s.handleCreateDutch)
		r.Route("/{auctionID}", func(r chi.Router) {
			r.Get("/", s.handleGetAuction)
			r.Get("/bids", s.handleListBids)
			r.Post("/bids", s.handleSubmitSealedBid)
			r.Post("/dutch-bid", s.handleSubmitDutchBid)
			r.Get("/price", s.handleCurrentPrice)
			r.Get("/result", s.handleAuctionResult)
			r.Post("/settlement", s.handleRequestSettlement)
			r.Post("/authorize", s.handleAuthorize)
			r.Post("/execute", s.handleExecute)
			r.Post("/cancel", s.handleCancel)
			r.Post("/reclaim", s.handleReclaim)
		})
	})

	r.Route("/batches", func(r chi.Router) {
		r.Post("/", s.handleCreateBatch)
		r.Get("/{batchID}", s.handleGetBatch)
		r.Get("/{batchID}/result", s.handleBatchResult)
		r.Get("/{batchID}/auctions/{auctionID}/result", s.handleBatchEntryResult)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":              "ok",
		"pending_computation": s.engine.Dispatcher().Pending(),
	})
}

// handleSandboxKey relays the sandbox's attested encryption key. Clients seal
// bids and reserves to it after validating the attestation.
func (s *Server) handleSandboxKey(w http.ResponseWriter, r *http.Request) {
	resp, err := s.engine.Dispatcher().Transport().FetchKey(r.Context(), r.URL.Query().Get("nonce"))
	if err != nil {
		writeError(w, fmt.Errorf("%w: %v", core.ErrComputationFailed, err))
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

type balanceResponse struct {
	Owner   core.Address `json:"owner"`
	Asset   core.Address `json:"asset"`
	Amount  uint64       `json:"amount"`
	Display string       `json:"display"`
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	owner, err := core.ParseAddress(chi.URLParam(r, "owner"))
	if err != nil {
		writeError(w, fmt.Errorf("%w: owner: %v", errBadRequest, err))
		return
	}
	asset, err := core.ParseAddress(chi.URLParam(r, "asset"))
	if err != nil {
		writeError(w, fmt.Errorf("%w: asset: %v", errBadRequest, err))
		return
	}
	var amount uint64
	err = s.engine.Store().View(r.Context(), func(tx store.Tx) error {
		var err error
		amount, err = s.engine.Ledger().Balance(tx, ledger.Account{Owner: owner, Asset: asset})
		return err
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, balanceResponse{
		Owner:   owner,
		Asset:   asset,
		Amount:  amount,
		Display: core.FormatUnits(amount, s.cfg.Decimals),
	})
}

type computationResponse struct {
	RequestID string `json:"request_id"`
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
}

// respondCall reports a dispatched computation, waiting for it if asked to.
func (s *Server) respondCall(w http.ResponseWriter, r *http.Request, call *computation.Call) {
	resp := computationResponse{RequestID: call.ID.String(), Status: "pending"}
	if r.URL.Query().Get("wait") != "true" {
		writeJSON(w, http.StatusAccepted, resp)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.WaitTimeout)
	defer cancel()
	err := call.Wait(ctx)
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		writeJSON(w, http.StatusAccepted, resp)
	case err != nil:
		resp.Status = "failed"
		resp.Error = err.Error()
		writeJSON(w, statusFor(err), resp)
	default:
		resp.Status = "delivered"
		writeJSON(w, http.StatusOK, resp)
	}
}

func caller(r *http.Request) (core.Address, error) {
	raw := r.Header.Get(CallerHeader)
	if raw == "" {
		return core.Address{}, fmt.Errorf("%w: missing %s header", core.ErrUnauthorized, CallerHeader)
	}
	addr, err := core.ParseAddress(raw)
	if err != nil {
		return core.Address{}, fmt.Errorf("%w: %s: %v", errBadRequest, CallerHeader, err)
	}
	return addr, nil
}

func uintParam(r *http.Request, name string) (uint64, error) {
	v, err := strconv.ParseUint(chi.URLParam(r, name), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", errBadRequest, name, err)
	}
	return v, nil
}

func decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("WARNING: Failed to write response: %v", err)
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		log.Printf("ERROR: Request failed: %v", err)
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
