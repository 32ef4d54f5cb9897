package rpc

import (
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/nickbax/ump-auction-test/native/listing"
	"github.com/nickbax/ump-auction-test/native/storefront"
)

type storefrontJSON struct {
	Address       string `json:"address"`
	Owner         string `json:"owner"`
	ItemContract  string `json:"itemContract"`
	Protocol      string `json:"protocol"`
	Arbiter       string `json:"arbiter"`
	SettleDelay   uint64 `json:"settleDelay"`
	Ready         bool   `json:"ready"`
	CurrentEscrow string `json:"currentEscrow"`
	SaleCount     uint64 `json:"saleCount"`
}

type listingJSON struct {
	ItemID          uint64 `json:"itemId"`
	Price           string `json:"price"`
	PaymentToken    string `json:"paymentToken,omitempty"`
	AffiliateFeeBps uint64 `json:"affiliateFeeBps"`
	ListingTime     uint64 `json:"listingTime"`
}

func listingFrom(l *listing.Listing) listingJSON {
	return listingJSON{
		ItemID:          l.ItemID,
		Price:           amountString(l.Price),
		PaymentToken:    optionalAddress(l.PaymentToken),
		AffiliateFeeBps: l.AffiliateFeeBps,
		ListingTime:     l.ListingTime,
	}
}

type saleJSON struct {
	ID                uint64       `json:"id"`
	Storefront        string       `json:"storefront"`
	ItemID            uint64       `json:"itemId"`
	Buyer             string       `json:"buyer"`
	Escrow            string       `json:"escrow"`
	Price             string       `json:"price"`
	PaymentToken      string       `json:"paymentToken,omitempty"`
	Affiliate         string       `json:"affiliate,omitempty"`
	AffiliateShareBps uint64       `json:"affiliateShareBps"`
	Message           *messageJSON `json:"message,omitempty"`
	FinalMessage      *messageJSON `json:"finalMessage,omitempty"`
	Timestamp         uint64       `json:"timestamp"`
}

type itemJSON struct {
	ItemType   string `json:"itemType"`
	Token      string `json:"token,omitempty"`
	Identifier uint64 `json:"identifier"`
	Amount     string `json:"amount"`
	Recipient  string `json:"recipient,omitempty"`
}

type orderJSON struct {
	OrderHash     string     `json:"orderHash,omitempty"`
	Nonce         uint64     `json:"nonce,omitempty"`
	Offer         []itemJSON `json:"offer"`
	Consideration []itemJSON `json:"consideration"`
}

func orderFrom(offer []storefront.SpentItem, consideration []storefront.ReceivedItem) orderJSON {
	out := orderJSON{Offer: make([]itemJSON, 0, len(offer)), Consideration: make([]itemJSON, 0, len(consideration))}
	for _, item := range offer {
		out.Offer = append(out.Offer, itemJSON{
			ItemType:   item.ItemType.String(),
			Token:      optionalAddress(item.Token),
			Identifier: item.Identifier,
			Amount:     amountString(item.Amount),
		})
	}
	for _, item := range consideration {
		out.Consideration = append(out.Consideration, itemJSON{
			ItemType:   item.ItemType.String(),
			Token:      optionalAddress(item.Token),
			Identifier: item.Identifier,
			Amount:     amountString(item.Amount),
			Recipient:  optionalAddress(item.Recipient),
		})
	}
	return out
}

type readyRequest struct {
	Ready bool `json:"ready"`
}

type listingRequest struct {
	ItemID          uint64 `json:"itemId"`
	Price           string `json:"price"`
	PaymentToken    string `json:"paymentToken"`
	AffiliateFeeBps uint64 `json:"affiliateFeeBps"`
}

// orderRequest asks for one unit of ItemID. MaxSpend, when set, bounds the
// payment the fulfiller accepts in the listing currency.
type orderRequest struct {
	ItemID    uint64       `json:"itemId"`
	Fulfiller string       `json:"fulfiller,omitempty"`
	MaxSpend  string       `json:"maxSpend,omitempty"`
	Currency  string       `json:"currency,omitempty"`
	Affiliate string       `json:"affiliate,omitempty"`
	Message   *messageJSON `json:"message,omitempty"`
}

func (s *Server) handleGetStorefront(w http.ResponseWriter, r *http.Request) {
	addr, err := pathAddress(r, "addr")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	sf, err := s.engines.Storefront.Get(r.Context(), addr)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, storefrontJSON{
		Address:       sf.Address.Hex(),
		Owner:         sf.Owner.Hex(),
		ItemContract:  sf.ItemContract.Hex(),
		Protocol:      sf.Protocol.Hex(),
		Arbiter:       sf.Arbiter.Hex(),
		SettleDelay:   sf.SettleDelay,
		Ready:         sf.Ready,
		CurrentEscrow: sf.CurrentEscrow.Hex(),
		SaleCount:     sf.SaleCount,
	})
}

func (s *Server) handleSetReady(w http.ResponseWriter, r *http.Request) {
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
	var req readyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.engines.Storefront.SetReady(r.Context(), caller, addr, req.Ready); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListListings(w http.ResponseWriter, r *http.Request) {
	addr, err := pathAddress(r, "addr")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	listings, err := s.engines.Storefront.Listings(r.Context(), addr)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := make([]listingJSON, 0, len(listings))
	for _, l := range listings {
		out = append(out, listingFrom(l))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"listings": out})
}

func (s *Server) writeListing(w http.ResponseWriter, r *http.Request, itemID uint64, update bool) {
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
	var req listingRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if !update {
		itemID = req.ItemID
	}
	price, err := parseAmount("price", req.Price)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	token, err := parseOptionalAddress("paymentToken", req.PaymentToken)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var l *listing.Listing
	status := http.StatusCreated
	if update {
		l, err = s.engines.Storefront.UpdateListing(r.Context(), caller, addr, itemID, price, token, req.AffiliateFeeBps)
		status = http.StatusOK
	} else {
		l, err = s.engines.Storefront.ListItem(r.Context(), caller, addr, itemID, price, token, req.AffiliateFeeBps)
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, status, listingFrom(l))
}

func (s *Server) handleListItem(w http.ResponseWriter, r *http.Request) {
	s.writeListing(w, r, 0, false)
}

func (s *Server) handleUpdateListing(w http.ResponseWriter, r *http.Request) {
	itemID, err := pathUint(r, "itemId")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeListing(w, r, itemID, true)
}

func (s *Server) handleRemoveListing(w http.ResponseWriter, r *http.Request) {
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
	itemID, err := pathUint(r, "itemId")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.engines.Storefront.RemoveListing(r.Context(), caller, addr, itemID); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// minimumReceived asks the storefront at addr for one unit of itemID.
func (s *Server) minimumReceived(r *http.Request, addr common.Address, itemID uint64) ([]storefront.SpentItem, error) {
	sf, err := s.engines.Storefront.Get(r.Context(), addr)
	if err != nil {
		return nil, err
	}
	return []storefront.SpentItem{{
		ItemType:   storefront.ItemMultiToken,
		Token:      sf.ItemContract,
		Identifier: itemID,
		Amount:     uint256.NewInt(1),
	}}, nil
}

func (s *Server) handlePreviewOrder(w http.ResponseWriter, r *http.Request) {
	addr, err := pathAddress(r, "addr")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req orderRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	fulfiller, err := parseOptionalAddress("fulfiller", req.Fulfiller)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	wanted, err := s.minimumReceived(r, addr, req.ItemID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	offer, consideration, err := s.engines.Storefront.PreviewOrder(r.Context(), addr, fulfiller, wanted)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, orderFrom(offer, consideration))
}

// handleFulfill buys one item as the caller through the order protocol.
func (s *Server) handleFulfill(w http.ResponseWriter, r *http.Request) {
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
	var req orderRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	affiliate, err := parseOptionalAddress("affiliate", req.Affiliate)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var maximumSpent []storefront.SpentItem
	if req.MaxSpend != "" {
		currency, err := parseOptionalAddress("currency", req.Currency)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		limit, err := parseAmount("maxSpend", req.MaxSpend)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		kind := storefront.ItemNative
		if currency != (common.Address{}) {
			kind = storefront.ItemFungible
		}
		maximumSpent = []storefront.SpentItem{{ItemType: kind, Token: currency, Amount: limit}}
	}
	orderContext, err := storefront.EncodeContext(&storefront.OrderContext{Affiliate: affiliate, Message: req.Message.toMessage()})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	wanted, err := s.minimumReceived(r, addr, req.ItemID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	result, err := s.engines.Protocol.Fulfill(r.Context(), s.engines.Storefront.Offerer(addr), caller, wanted, maximumSpent, orderContext)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := orderFrom(result.Offer, result.Consideration)
	out.OrderHash = result.OrderHash.Hex()
	out.Nonce = result.Nonce
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetSale(w http.ResponseWriter, r *http.Request) {
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
	sale, err := s.engines.Storefront.GetSale(r.Context(), addr, id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, saleJSON{
		ID:                sale.ID,
		Storefront:        sale.Storefront.Hex(),
		ItemID:            sale.ItemID,
		Buyer:             sale.Buyer.Hex(),
		Escrow:            sale.Escrow.Hex(),
		Price:             amountString(sale.Price),
		PaymentToken:      optionalAddress(sale.PaymentToken),
		Affiliate:         optionalAddress(sale.Affiliate),
		AffiliateShareBps: sale.AffiliateShareBps,
		Message:           messageFrom(sale.Message),
		FinalMessage:      messageFrom(sale.FinalMessage),
		Timestamp:         sale.Timestamp,
	})
}

func (s *Server) handleSaleFinalMessage(w http.ResponseWriter, r *http.Request) {
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
	if err := s.engines.Storefront.UpdateFinalMessage(r.Context(), caller, addr, id, req.Message.toMessage()); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
