package api

import (
	"net/http"

	"github.com/cloudx-io/sealedsettle/core"
)

type protocolResponse struct {
	*core.ProtocolConfig
	FeePercent string `json:"fee_percent"`
}

func (s *Server) handleGetProtocol(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.protocol.Config(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, protocolResponse{ProtocolConfig: cfg, FeePercent: core.FeePercent(cfg.ProtocolFeeBps)})
}

// govern runs an authority-only operation and answers with the new config.
func (s *Server) govern(w http.ResponseWriter, r *http.Request, op func(who core.Address) error) {
	who, err := caller(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := op(who); err != nil {
		writeError(w, err)
		return
	}
	s.handleGetProtocol(w, r)
}

func (s *Server) handleSetPaused(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Paused bool `json:"paused"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	s.govern(w, r, func(who core.Address) error {
		return s.protocol.SetPaused(r.Context(), who, req.Paused)
	})
}

func (s *Server) handleUpdateFee(w http.ResponseWriter, r *http.Request) {
	var req struct {
		FeeBps uint16 `json:"fee_bps"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	s.govern(w, r, func(who core.Address) error {
		return s.protocol.UpdateFee(r.Context(), who, req.FeeBps)
	})
}

func (s *Server) handleUpdateFeeRecipient(w http.ResponseWriter, r *http.Request) {
	var req struct {
		FeeRecipient core.Address `json:"fee_recipient"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	s.govern(w, r, func(who core.Address) error {
		return s.protocol.UpdateFeeRecipient(r.Context(), who, req.FeeRecipient)
	})
}

func (s *Server) handleInitiateAuthorityTransfer(w http.ResponseWriter, r *http.Request) {
	var req struct {
		NewAuthority core.Address `json:"new_authority"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	s.govern(w, r, func(who core.Address) error {
		_, err := s.protocol.InitiateAuthorityTransfer(r.Context(), who, req.NewAuthority)
		return err
	})
}

func (s *Server) handleCompleteAuthorityTransfer(w http.ResponseWriter, r *http.Request) {
	s.govern(w, r, func(who core.Address) error {
		return s.protocol.CompleteAuthorityTransfer(r.Context(), who)
	})
}

func (s *Server) handleCancelAuthorityTransfer(w http.ResponseWriter, r *http.Request) {
	s.govern(w, r, func(who core.Address) error {
		return s.protocol.CancelAuthorityTransfer(r.Context(), who)
	})
}
