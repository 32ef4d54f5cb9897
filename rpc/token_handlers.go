package rpc

import (
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

type allowanceJSON struct {
	Token   string `json:"token"`
	Owner   string `json:"owner"`
	Spender string `json:"spender"`
	Amount  string `json:"amount"`
}

type balanceJSON struct {
	Holder string `json:"holder"`
	Token  string `json:"token,omitempty"`
	Amount string `json:"amount"`
}

type approveRequest struct {
	Spender string `json:"spender"`
	Amount  string `json:"amount"`
}

func allowanceFrom(token, owner, spender common.Address, amount *uint256.Int) allowanceJSON {
	return allowanceJSON{
		Token:   token.Hex(),
		Owner:   owner.Hex(),
		Spender: spender.Hex(),
		Amount:  amountString(amount),
	}
}

// handleApprove lets the caller allow a storefront protocol or auction house
// to pull its tokens.
func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	caller, err := callerOf(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	token, err := pathAddress(r, "token")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req approveRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	spender, err := parseAddress("spender", req.Spender)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.engines.Bank.Grant(r.Context(), token, caller, spender, amount); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, allowanceFrom(token, caller, spender, amount))
}

func (s *Server) handleGetAllowance(w http.ResponseWriter, r *http.Request) {
	token, err := pathAddress(r, "token")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	owner, err := pathAddress(r, "owner")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	spender, err := pathAddress(r, "spender")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	amount, err := s.engines.Bank.AllowanceOf(r.Context(), token, owner, spender)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, allowanceFrom(token, owner, spender, amount))
}

// handleGetBalance answers with the native balance, or the balance of the
// token named by the token query parameter.
func (s *Server) handleGetBalance(w http.ResponseWriter, r *http.Request) {
	holder, err := pathAddress(r, "addr")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	token, err := parseOptionalAddress("token", r.URL.Query().Get("token"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	amount, err := s.engines.Bank.BalanceOf(r.Context(), token, holder)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, balanceJSON{Holder: holder.Hex(), Token: optionalAddress(token), Amount: amountString(amount)})
}
