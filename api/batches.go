package api

import (
	"net/http"
)

type createBatchRequest struct {
	AuctionIDs []uint64 `json:"auction_ids"`
}

type createBatchResponse struct {
	BatchID     uint64 `json:"batch_id"`
	BatchStatus string `json:"batch_status"`
	computationResponse
}

func (s *Server) handleCreateBatch(w http.ResponseWriter, r *http.Request) {
	who, err := caller(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req createBatchRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	b, call, err := s.batches.CreateBatch(r.Context(), who, req.AuctionIDs)
	if err != nil {
		writeError(w, err)
		return
	}
	if r.URL.Query().Get("wait") == "true" {
		s.respondCall(w, r, call)
		return
	}
	writeJSON(w, http.StatusAccepted, createBatchResponse{
		BatchID:             b.BatchID,
		BatchStatus:         b.Status.String(),
		computationResponse: computationResponse{RequestID: call.ID.String(), Status: "pending"},
	})
}

func (s *Server) handleGetBatch(w http.ResponseWriter, r *http.Request) {
	id, err := uintParam(r, "batchID")
	if err != nil {
		writeError(w, err)
		return
	}
	b, err := s.batches.Batch(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (s *Server) handleBatchResult(w http.ResponseWriter, r *http.Request) {
	id, err := uintParam(r, "batchID")
	if err != nil {
		writeError(w, err)
		return
	}
	res, err := s.batches.Result(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleBatchEntryResult(w http.ResponseWriter, r *http.Request) {
	batchID, err := uintParam(r, "batchID")
	if err != nil {
		writeError(w, err)
		return
	}
	auctionID, err := uintParam(r, "auctionID")
	if err != nil {
		writeError(w, err)
		return
	}
	res, err := s.batches.EntryResult(r.Context(), batchID, auctionID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
