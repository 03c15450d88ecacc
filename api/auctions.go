package api

import (
	"net/http"

	"github.com/cloudx-io/sealedsettle/auction"
	"github.com/cloudx-io/sealedsettle/core"
)

func (s *Server) handleListAuctions(w http.ResponseWriter, r *http.Request) {
	auctions, err := s.engine.Auctions(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if auctions == nil {
		auctions = []*core.Auction{}
	}
	writeJSON(w, http.StatusOK, auctions)
}

func (s *Server) handleGetAuction(w http.ResponseWriter, r *http.Request) {
	id, err := uintParam(r, "auctionID")
	if err != nil {
		writeError(w, err)
		return
	}
	a, err := s.engine.Auction(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (s *Server) handleListBids(w http.ResponseWriter, r *http.Request) {
	id, err := uintParam(r, "auctionID")
	if err != nil {
		writeError(w, err)
		return
	}
	bids, err := s.engine.Bids(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	if bids == nil {
		bids = []*core.Bid{}
	}
	writeJSON(w, http.StatusOK, bids)
}

// sealedAuctionRequest accepts the pricing mode by name.
type sealedAuctionRequest struct {
	auction.SealedParams
	Type        string `json:"type"`
	PricingMode string `json:"pricing_mode"`
}

func (s *Server) handleCreateSealed(w http.ResponseWriter, r *http.Request) {
	who, err := caller(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req sealedAuctionRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	p := req.SealedParams
	switch req.Type {
	case "", "sealed_bid":
		p.Type = core.AuctionTypeSealedBid
	case "batch":
		p.Type = core.AuctionTypeBatch
	default:
		writeError(w, core.ErrInvalidAuctionType)
		return
	}
	if p.PricingMode, err = core.ParsePricingMode(req.PricingMode); err != nil {
		writeError(w, err)
		return
	}

	a, err := s.engine.CreateSealedAuction(r.Context(), who, p)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, a)
}

func (s *Server) handleCreateDutch(w http.ResponseWriter, r *http.Request) {
	who, err := caller(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var p auction.DutchParams
	if err := decode(r, &p); err != nil {
		writeError(w, err)
		return
	}
	a, err := s.engine.CreateDutchAuction(r.Context(), who, p)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, a)
}

func (s *Server) handleSubmitSealedBid(w http.ResponseWriter, r *http.Request) {
	who, err := caller(r)
	if err != nil {
		writeError(w, err)
		return
	}
	id, err := uintParam(r, "auctionID")
	if err != nil {
		writeError(w, err)
		return
	}
	var p auction.SealedBidParams
	if err := decode(r, &p); err != nil {
		writeError(w, err)
		return
	}
	p.AuctionID = id
	bid, err := s.engine.SubmitSealedBid(r.Context(), who, p)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, bid)
}

func (s *Server) handleSubmitDutchBid(w http.ResponseWriter, r *http.Request) {
	who, err := caller(r)
	if err != nil {
		writeError(w, err)
		return
	}
	id, err := uintParam(r, "auctionID")
	if err != nil {
		writeError(w, err)
		return
	}
	var p auction.DutchBidParams
	if err := decode(r, &p); err != nil {
		writeError(w, err)
		return
	}
	p.AuctionID = id
	call, err := s.engine.SubmitDutchBid(r.Context(), who, p)
	if err != nil {
		writeError(w, err)
		return
	}
	s.respondCall(w, r, call)
}

type priceResponse struct {
	AuctionID uint64 `json:"auction_id"`
	Price     uint64 `json:"price"`
	Display   string `json:"display"`
}

func (s *Server) handleCurrentPrice(w http.ResponseWriter, r *http.Request) {
	id, err := uintParam(r, "auctionID")
	if err != nil {
		writeError(w, err)
		return
	}
	price, err := s.engine.CurrentPrice(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, priceResponse{
		AuctionID: id,
		Price:     price,
		Display:   core.FormatUnits(price, s.cfg.Decimals),
	})
}

func (s *Server) handleAuctionResult(w http.ResponseWriter, r *http.Request) {
	id, err := uintParam(r, "auctionID")
	if err != nil {
		writeError(w, err)
		return
	}
	res, err := s.engine.Result(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleRequestSettlement(w http.ResponseWriter, r *http.Request) {
	id, err := uintParam(r, "auctionID")
	if err != nil {
		writeError(w, err)
		return
	}
	call, err := s.engine.RequestSettlement(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	s.respondCall(w, r, call)
}

type authorizeRequest struct {
	Commitment core.Commitment `json:"commitment"`
}

func (s *Server) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	who, err := caller(r)
	if err != nil {
		writeError(w, err)
		return
	}
	id, err := uintParam(r, "auctionID")
	if err != nil {
		writeError(w, err)
		return
	}
	var req authorizeRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := s.engine.AuthorizeSettlement(r.Context(), who, id, req.Commitment); err != nil {
		writeError(w, err)
		return
	}
	s.respondAuction(w, r, id)
}

type executeRequest struct {
	Winner core.Address `json:"winner"`
	Amount uint64       `json:"amount"`
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	who, err := caller(r)
	if err != nil {
		writeError(w, err)
		return
	}
	id, err := uintParam(r, "auctionID")
	if err != nil {
		writeError(w, err)
		return
	}
	var req executeRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := s.engine.ExecuteSettlement(r.Context(), who, id, req.Winner, req.Amount); err != nil {
		writeError(w, err)
		return
	}
	s.respondAuction(w, r, id)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	who, err := caller(r)
	if err != nil {
		writeError(w, err)
		return
	}
	id, err := uintParam(r, "auctionID")
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.engine.CancelAuction(r.Context(), who, id); err != nil {
		writeError(w, err)
		return
	}
	s.respondAuction(w, r, id)
}

func (s *Server) handleReclaim(w http.ResponseWriter, r *http.Request) {
	who, err := caller(r)
	if err != nil {
		writeError(w, err)
		return
	}
	id, err := uintParam(r, "auctionID")
	if err != nil {
		writeError(w, err)
		return
	}
	amount, err := s.engine.ReclaimCollateral(r.Context(), who, id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"auction_id": id,
		"bidder":     who,
		"released":   amount,
	})
}

func (s *Server) respondAuction(w http.ResponseWriter, r *http.Request, id uint64) {
	a, err := s.engine.Auction(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}
