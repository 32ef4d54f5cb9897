package rpc

import (
	"context"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/nickbax/ump-auction-test/native/escrow"
)

type escrowJSON struct {
	Address           string `json:"address"`
	Payee             string `json:"payee"`
	Storefront        string `json:"storefront"`
	Arbiter           string `json:"arbiter"`
	Payer             string `json:"payer,omitempty"`
	Affiliate         string `json:"affiliate,omitempty"`
	AffiliateShareBps uint64 `json:"affiliateShareBps"`
	Status            string `json:"status"`
	IsDisputed        bool   `json:"isDisputed"`
	IsSettled         bool   `json:"isSettled"`
	SettleTime        uint64 `json:"settleTime"`
	EscapeAddress     string `json:"escapeAddress,omitempty"`
	ProposedArbiter   string `json:"proposedArbiter,omitempty"`
	CreatedAt         uint64 `json:"createdAt"`
}

func escrowFrom(esc *escrow.Escrow) escrowJSON {
	affiliate, share := esc.AffiliateAddress()
	return escrowJSON{
		Address:           esc.Address.Hex(),
		Payee:             esc.Payee.Hex(),
		Storefront:        esc.Storefront.Hex(),
		Arbiter:           esc.Arbiter.Hex(),
		Payer:             optionalAddress(esc.PayerAddress()),
		Affiliate:         optionalAddress(affiliate),
		AffiliateShareBps: share,
		Status:            esc.Status().String(),
		IsDisputed:        esc.IsDisputed,
		IsSettled:         esc.IsSettled,
		SettleTime:        esc.SettleTime,
		EscapeAddress:     optionalAddress(esc.EscapeAddress),
		ProposedArbiter:   optionalAddress(esc.ProposedArbiter),
		CreatedAt:         esc.CreatedAt,
	}
}

// fundsRequest names a currency and amount. An empty currency means native
// value.
type fundsRequest struct {
	Currency string `json:"currency"`
	Amount   string `json:"amount"`
}

func (f fundsRequest) parse() (common.Address, *uint256.Int, error) {
	currency, err := parseOptionalAddress("currency", f.Currency)
	if err != nil {
		return common.Address{}, nil, err
	}
	amount, err := parseAmount("amount", f.Amount)
	if err != nil {
		return common.Address{}, nil, err
	}
	return currency, amount, nil
}

type resolveRequest struct {
	fundsRequest
	ShouldSettle bool `json:"shouldSettle"`
}

type escapeRequest struct {
	fundsRequest
	To string `json:"to"`
}

type addressRequest struct {
	Address string `json:"address"`
}

func (s *Server) handleGetEscrow(w http.ResponseWriter, r *http.Request) {
	addr, err := pathAddress(r, "addr")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	esc, err := s.engines.Escrow.Get(r.Context(), addr)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, escrowFrom(esc))
}

// escrowCall decodes the body into req, runs fn as the caller and answers
// with the escrow's resulting state.
func (s *Server) escrowCall(w http.ResponseWriter, r *http.Request, req interface{}, fn func(ctx context.Context, caller, addr common.Address) error) {
	caller, err := callerOf(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	addr, err := pathAddress(r, "addr")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if req != nil {
		if err := decodeJSON(w, r, req); err != nil {
			s.writeError(w, r, err)
			return
		}
	}
	if err := fn(r.Context(), caller, addr); err != nil {
		s.writeError(w, r, err)
		return
	}
	esc, err := s.engines.Escrow.Get(r.Context(), addr)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, escrowFrom(esc))
}

func (s *Server) handleSettle(w http.ResponseWriter, r *http.Request) {
	var req fundsRequest
	s.escrowCall(w, r, &req, func(ctx context.Context, caller, addr common.Address) error {
		currency, amount, err := req.parse()
		if err != nil {
			return err
		}
		return s.engines.Escrow.Settle(ctx, caller, addr, currency, amount)
	})
}

func (s *Server) handleRefund(w http.ResponseWriter, r *http.Request) {
	var req fundsRequest
	s.escrowCall(w, r, &req, func(ctx context.Context, caller, addr common.Address) error {
		currency, amount, err := req.parse()
		if err != nil {
			return err
		}
		return s.engines.Escrow.Refund(ctx, caller, addr, currency, amount)
	})
}

func (s *Server) handleDispute(w http.ResponseWriter, r *http.Request) {
	s.escrowCall(w, r, nil, s.engines.Escrow.Dispute)
}

func (s *Server) handleRemoveDispute(w http.ResponseWriter, r *http.Request) {
	s.escrowCall(w, r, nil, s.engines.Escrow.RemoveDispute)
}

func (s *Server) handleResolveDispute(w http.ResponseWriter, r *http.Request) {
	var req resolveRequest
	s.escrowCall(w, r, &req, func(ctx context.Context, caller, addr common.Address) error {
		currency, amount, err := req.parse()
		if err != nil {
			return err
		}
		return s.engines.Escrow.ResolveDispute(ctx, caller, addr, req.ShouldSettle, currency, amount)
	})
}

func (s *Server) handleSetEscapeAddress(w http.ResponseWriter, r *http.Request) {
	var req addressRequest
	s.escrowCall(w, r, &req, func(ctx context.Context, caller, addr common.Address) error {
		escapeAddr, err := parseAddress("address", req.Address)
		if err != nil {
			return err
		}
		return s.engines.Escrow.SetEscapeAddress(ctx, caller, addr, escapeAddr)
	})
}

func (s *Server) handleEscape(w http.ResponseWriter, r *http.Request) {
	var req escapeRequest
	s.escrowCall(w, r, &req, func(ctx context.Context, caller, addr common.Address) error {
		currency, amount, err := req.parse()
		if err != nil {
			return err
		}
		to, err := parseAddress("to", req.To)
		if err != nil {
			return err
		}
		return s.engines.Escrow.Escape(ctx, caller, addr, currency, amount, to)
	})
}

func (s *Server) handleProposeArbiter(w http.ResponseWriter, r *http.Request) {
	var req addressRequest
	s.escrowCall(w, r, &req, func(ctx context.Context, caller, addr common.Address) error {
		proposed, err := parseAddress("address", req.Address)
		if err != nil {
			return err
		}
		return s.engines.Escrow.ChangeArbiter(ctx, caller, addr, proposed)
	})
}

func (s *Server) handleApproveArbiter(w http.ResponseWriter, r *http.Request) {
	var req addressRequest
	s.escrowCall(w, r, &req, func(ctx context.Context, caller, addr common.Address) error {
		proposed, err := parseAddress("address", req.Address)
		if err != nil {
			return err
		}
		return s.engines.Escrow.ApproveArbiter(ctx, caller, addr, proposed)
	})
}
