package rpc

import (
	"net/http"

	"github.com/nickbax/ump-auction-test/native/auction"
)

type houseJSON struct {
	Address        string `json:"address"`
	Owner          string `json:"owner"`
	Arbiter        string `json:"arbiter"`
	SettleDelay    uint64 `json:"settleDelay"`
	NextAuctionID  uint64 `json:"nextAuctionId"`
	ActiveAuctions uint64 `json:"activeAuctions"`
}

type auctionJSON struct {
	ID                 uint64       `json:"id"`
	House              string       `json:"house"`
	Status             string       `json:"status"`
	ItemContract       string       `json:"itemContract"`
	ItemID             uint64       `json:"itemId"`
	Owner              string       `json:"owner"`
	Escrow             string       `json:"escrow"`
	Arbiter            string       `json:"arbiter"`
	Currency           string       `json:"currency,omitempty"`
	StartTime          uint64       `json:"startTime"`
	EndTime            uint64       `json:"endTime"`
	ReservePrice       string       `json:"reservePrice"`
	HighestBid         string       `json:"highestBid"`
	CurrentBidder      string       `json:"currentBidder,omitempty"`
	Affiliate          string       `json:"affiliate,omitempty"`
	AffiliateFeeBps    uint64       `json:"affiliateFeeBps"`
	MinBidIncrementBps uint64       `json:"minBidIncrementBps"`
	IsPremium          bool         `json:"isPremium"`
	PremiumBps         uint64       `json:"premiumBps"`
	TimeExtension      uint64       `json:"timeExtension"`
	PremiumsPaid       string       `json:"premiumsPaid"`
	PaymentAmount      string       `json:"paymentAmount"`
	BidCount           uint64       `json:"bidCount"`
	Message            *messageJSON `json:"message,omitempty"`
	FinalMessage       *messageJSON `json:"finalMessage,omitempty"`
	CreatedAt          uint64       `json:"createdAt"`
}

func auctionFrom(a *auction.Auction, now uint64) auctionJSON {
	return auctionJSON{
		ID:                 a.ID,
		House:              a.House.Hex(),
		Status:             a.Status(now).String(),
		ItemContract:       a.ItemContract.Hex(),
		ItemID:             a.ItemID,
		Owner:              a.Owner.Hex(),
		Escrow:             a.Escrow.Hex(),
		Arbiter:            a.Arbiter.Hex(),
		Currency:           optionalAddress(a.Currency),
		StartTime:          a.StartTime,
		EndTime:            a.EndTime,
		ReservePrice:       amountString(a.ReservePrice),
		HighestBid:         amountString(a.HighestBid),
		CurrentBidder:      optionalAddress(a.CurrentBidder),
		Affiliate:          optionalAddress(a.Affiliate),
		AffiliateFeeBps:    a.AffiliateFeeBps,
		MinBidIncrementBps: a.MinBidIncrementBps,
		IsPremium:          a.IsPremium,
		PremiumBps:         a.PremiumBps,
		TimeExtension:      a.TimeExtension,
		PremiumsPaid:       amountString(a.PremiumsPaid),
		PaymentAmount:      amountString(a.PaymentAmount),
		BidCount:           a.BidCount,
		Message:            messageFrom(a.Message),
		FinalMessage:       messageFrom(a.FinalMessage),
		CreatedAt:          a.CreatedAt,
	}
}

type lockItemRequest struct {
	ItemContract string `json:"itemContract"`
	ItemID       uint64 `json:"itemId"`
}

type createAuctionRequest struct {
	ItemContract       string `json:"itemContract"`
	ItemID             uint64 `json:"itemId"`
	StartTime          uint64 `json:"startTime"`
	EndTime            uint64 `json:"endTime"`
	ReservePrice       string `json:"reservePrice"`
	AffiliateFeeBps    uint64 `json:"affiliateFeeBps"`
	Currency           string `json:"currency"`
	MinBidIncrementBps uint64 `json:"minBidIncrementBps"`
	IsPremium          bool   `json:"isPremium"`
	PremiumBps         uint64 `json:"premiumBps"`
	TimeExtension      uint64 `json:"timeExtension"`
}

func (req createAuctionRequest) params() (auction.Params, error) {
	contract, err := parseAddress("itemContract", req.ItemContract)
	if err != nil {
		return auction.Params{}, err
	}
	reserve, err := parseAmount("reservePrice", req.ReservePrice)
	if err != nil {
		return auction.Params{}, err
	}
	currency, err := parseOptionalAddress("currency", req.Currency)
	if err != nil {
		return auction.Params{}, err
	}
	return auction.Params{
		ItemContract:       contract,
		ItemID:             req.ItemID,
		StartTime:          req.StartTime,
		EndTime:            req.EndTime,
		ReservePrice:       reserve,
		AffiliateFeeBps:    req.AffiliateFeeBps,
		Currency:           currency,
		MinBidIncrementBps: req.MinBidIncrementBps,
		IsPremium:          req.IsPremium,
		PremiumBps:         req.PremiumBps,
		TimeExtension:      req.TimeExtension,
	}, nil
}

// bidRequest places a bid of Amount. Value is the native value attached to
// the call; it must equal Amount for native auctions and be zero otherwise.
type bidRequest struct {
	Amount    string       `json:"amount"`
	Value     string       `json:"value"`
	Affiliate string       `json:"affiliate,omitempty"`
	Message   *messageJSON `json:"message,omitempty"`
}

type batchEndRequest struct {
	AuctionIDs []uint64 `json:"auctionIds"`
}

type batchResultJSON struct {
	AuctionID uint64 `json:"auctionId"`
	Outcome   string `json:"outcome"`
	Reason    string `json:"reason,omitempty"`
	Error     string `json:"error,omitempty"`
}

func (s *Server) writeAuction(w http.ResponseWriter, r *http.Request, status int, a *auction.Auction) {
	writeJSON(w, status, auctionFrom(a, s.engines.Auction.Now(r.Context())))
}

func (s *Server) handleGetHouse(w http.ResponseWriter, r *http.Request) {
	addr, err := pathAddress(r, "addr")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	h, err := s.engines.Auction.GetHouse(r.Context(), addr)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, houseJSON{
		Address:        h.Address.Hex(),
		Owner:          h.Owner.Hex(),
		Arbiter:        h.Arbiter.Hex(),
		SettleDelay:    h.SettleDelay,
		NextAuctionID:  h.NextAuctionID,
		ActiveAuctions: h.ActiveAuctions,
	})
}

func (s *Server) handleGetAuction(w http.ResponseWriter, r *http.Request) {
	addr, err := pathAddress(r, "addr")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	id, err := pathUint(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	a, err := s.engines.Auction.GetAuction(r.Context(), addr, id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeAuction(w, r, http.StatusOK, a)
}

func (s *Server) handleLockItem(w http.ResponseWriter, r *http.Request) {
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
	var req lockItemRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	contract, err := parseAddress("itemContract", req.ItemContract)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.engines.Auction.LockItem(r.Context(), caller, addr, contract, req.ItemID); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCreateAuction(w http.ResponseWriter, r *http.Request) {
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
	var req createAuctionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	p, err := req.params()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	a, err := s.engines.Auction.CreateAuction(r.Context(), caller, addr, p)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeAuction(w, r, http.StatusCreated, a)
}

func (s *Server) handleBid(w http.ResponseWriter, r *http.Request) {
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
	id, err := pathUint(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req bidRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	value, err := parseAmount("value", req.Value)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	affiliate, err := parseOptionalAddress("affiliate", req.Affiliate)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	a, err := s.engines.Auction.CreateBid(r.Context(), caller, addr, id, affiliate, req.Message.toMessage(), amount, value)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeAuction(w, r, http.StatusOK, a)
}

// handleEndAuction is open to any authenticated caller once the auction has
// expired.
func (s *Server) handleEndAuction(w http.ResponseWriter, r *http.Request) {
	addr, err := pathAddress(r, "addr")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	id, err := pathUint(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	a, err := s.engines.Auction.EndAuction(r.Context(), addr, id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeAuction(w, r, http.StatusOK, a)
}

func (s *Server) handleCancelAuction(w http.ResponseWriter, r *http.Request) {
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
	id, err := pathUint(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	a, err := s.engines.Auction.CancelAuction(r.Context(), caller, addr, id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeAuction(w, r, http.StatusOK, a)
}

func (s *Server) handleAuctionFinalMessage(w http.ResponseWriter, r *http.Request) {
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
	id, err := pathUint(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req finalMessageRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.engines.Auction.UpdateFinalMessage(r.Context(), caller, addr, id, req.Message.toMessage()); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleBatchEnd(w http.ResponseWriter, r *http.Request) {
	addr, err := pathAddress(r, "addr")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req batchEndRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	results, err := s.engines.Auction.BatchEndExpiredAuctions(r.Context(), addr, req.AuctionIDs)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := make([]batchResultJSON, 0, len(results))
	for _, res := range results {
		entry := batchResultJSON{AuctionID: res.AuctionID, Outcome: res.Outcome.String(), Reason: res.Reason}
		if res.Err != nil {
			entry.Error = res.Err.Error()
		}
		out = append(out, entry)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"results": out})
}
