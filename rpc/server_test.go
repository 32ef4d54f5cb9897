package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/nickbax/ump-auction-test/core/state"
	"github.com/nickbax/ump-auction-test/native/auction"
	"github.com/nickbax/ump-auction-test/native/bank"
	"github.com/nickbax/ump-auction-test/native/escrow"
	"github.com/nickbax/ump-auction-test/native/listing"
	"github.com/nickbax/ump-auction-test/native/storefront"
	"github.com/nickbax/ump-auction-test/observability"
	"github.com/nickbax/ump-auction-test/storage"
)

var (
	shopAddr     = common.HexToAddress("0x0000000000000000000000000000000000005401")
	houseAddr    = common.HexToAddress("0x000000000000000000000000000000000000a0c7")
	ownerAddr    = common.HexToAddress("0x0000000000000000000000000000000000000001")
	sellerAddr   = common.HexToAddress("0x0000000000000000000000000000000000005e11")
	buyerAddr    = common.HexToAddress("0x000000000000000000000000000000000000b0b0")
	strangerAddr = common.HexToAddress("0x000000000000000000000000000000000000dead")
	itemsAddr    = common.HexToAddress("0x00000000000000000000000000000000000001e7")
	protocolAddr = common.HexToAddress("0x0000000000000000000000000000000000005ea9")
	arbiterAddr  = common.HexToAddress("0x0000000000000000000000000000000000000a4b")
	factoryAddr  = common.HexToAddress("0x000000000000000000000000000000000000fac7")
)

const testSecret = "rpc-test-secret"

type fixture struct {
	t       *testing.T
	ctx     context.Context
	now     int64
	state   *state.Manager
	bank    *bank.Ledger
	engines Engines
	metrics *observability.MarketMetrics
	handler http.Handler
}

func newFixture(t *testing.T, configure func(*Options)) *fixture {
	t.Helper()
	db := storage.NewMemDB()
	t.Cleanup(db.Close)
	f := &fixture{t: t, ctx: context.Background(), now: 1_000}
	f.state = state.NewManager(db)
	f.state.SetNowFunc(func() int64 { return f.now })
	f.bank = bank.NewLedger(f.state)
	escrows := escrow.NewEngine(f.state, f.bank, factoryAddr)
	shops := storefront.NewEngine(f.state, f.bank, escrows, listing.NewRegistry(f.state), storefront.NewStaticVerifier())
	houses := auction.NewEngine(f.state, f.bank, escrows)
	f.engines = Engines{
		Escrow:     escrows,
		Storefront: shops,
		Protocol:   storefront.NewProtocol(protocolAddr, f.state, f.bank),
		Auction:    houses,
		Bank:       f.bank,
	}
	_, err := shops.Deploy(f.ctx, storefront.Config{
		Address:      shopAddr,
		Owner:        ownerAddr,
		ItemContract: itemsAddr,
		Protocol:     protocolAddr,
		Arbiter:      arbiterAddr,
		SettleDelay:  3_600,
	})
	require.NoError(t, err)
	_, err = houses.Deploy(f.ctx, auction.HouseConfig{Address: houseAddr, Owner: ownerAddr, Arbiter: arbiterAddr, SettleDelay: 3_600})
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	f.metrics = observability.NewMarketMetrics(reg)
	opts := Options{Metrics: f.metrics, Gatherer: reg}
	if configure != nil {
		configure(&opts)
	}
	f.handler = NewServer(f.engines, opts).Handler()
	return f
}

func (f *fixture) do(fn func(ctx context.Context) error) {
	f.t.Helper()
	require.NoError(f.t, f.state.Atomic(f.ctx, "", fn))
}

func (f *fixture) native(addr common.Address) uint64 {
	var out uint64
	_ = f.state.View(f.ctx, func(context.Context) error {
		bal, err := f.bank.NativeBalance(addr)
		require.NoError(f.t, err)
		out = bal.Uint64()
		return nil
	})
	return out
}

// call issues a request as caller. A zero caller sends no identity.
func (f *fixture) call(method, path string, caller common.Address, body interface{}) *httptest.ResponseRecorder {
	f.t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(f.t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if caller != (common.Address{}) {
		req.Header.Set(HeaderCaller, caller.Hex())
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, out interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), out))
}

func requireProblem(t *testing.T, rec *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	require.Equal(t, status, rec.Code, rec.Body.String())
	var env errorEnvelope
	decode(t, rec, &env)
	require.Equal(t, code, env.Error.Code)
}

func TestHealthAndRequestID(t *testing.T) {
	f := newFixture(t, nil)
	rec := f.call(http.MethodGet, "/healthz", common.Address{}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotEmpty(t, rec.Header().Get(HeaderRequestID))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(HeaderRequestID, "trace-me")
	rec = httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	require.Equal(t, "trace-me", rec.Header().Get(HeaderRequestID))
}

func TestMutationsRequireCaller(t *testing.T) {
	f := newFixture(t, nil)
	rec := f.call(http.MethodPost, "/v1/storefronts/"+shopAddr.Hex()+"/ready", common.Address{}, readyRequest{Ready: true})
	requireProblem(t, rec, http.StatusUnauthorized, "Unauthenticated")
}

func TestErrorMapping(t *testing.T) {
	f := newFixture(t, nil)
	rec := f.call(http.MethodPost, "/v1/storefronts/"+shopAddr.Hex()+"/ready", strangerAddr, readyRequest{Ready: true})
	requireProblem(t, rec, http.StatusForbidden, "Unauthorized")

	rec = f.call(http.MethodGet, "/v1/escrows/"+strangerAddr.Hex(), common.Address{}, nil)
	requireProblem(t, rec, http.StatusNotFound, "EscrowNotFound")

	rec = f.call(http.MethodGet, "/v1/auctions/"+houseAddr.Hex()+"/auctions/9", common.Address{}, nil)
	requireProblem(t, rec, http.StatusNotFound, "AuctionNotFound")

	rec = f.call(http.MethodGet, "/v1/escrows/not-an-address", common.Address{}, nil)
	requireProblem(t, rec, http.StatusBadRequest, "InvalidParameters")

	rec = f.call(http.MethodPost, "/v1/storefronts/"+shopAddr.Hex()+"/ready", ownerAddr, map[string]interface{}{"ready": true, "bogus": 1})
	requireProblem(t, rec, http.StatusBadRequest, "InvalidParameters")

	// listing an item the storefront does not hold
	rec = f.call(http.MethodPost, "/v1/storefronts/"+shopAddr.Hex()+"/listings", ownerAddr, listingRequest{ItemID: 4, Price: "10"})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code, rec.Body.String())
	var env errorEnvelope
	decode(t, rec, &env)
	require.Equal(t, "resource", env.Error.Kind)
}

func TestStorefrontPurchaseFlow(t *testing.T) {
	f := newFixture(t, nil)
	shop := "/v1/storefronts/" + shopAddr.Hex()
	f.do(func(context.Context) error { return f.bank.MintItem(itemsAddr, 1, shopAddr, 1) })

	rec := f.call(http.MethodPost, shop+"/listings", ownerAddr, listingRequest{ItemID: 1, Price: "100"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	rec = f.call(http.MethodPut, shop+"/listings/1", ownerAddr, listingRequest{Price: "120"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var listings struct {
		Listings []listingJSON `json:"listings"`
	}
	decode(t, f.call(http.MethodGet, shop+"/listings", common.Address{}, nil), &listings)
	require.Len(t, listings.Listings, 1)
	require.Equal(t, "120", listings.Listings[0].Price)

	rec = f.call(http.MethodPost, shop+"/preview", common.Address{}, orderRequest{ItemID: 1})
	requireProblem(t, rec, http.StatusConflict, "NotReady")

	require.Equal(t, http.StatusNoContent, f.call(http.MethodPost, shop+"/ready", ownerAddr, readyRequest{Ready: true}).Code)

	var sf storefrontJSON
	decode(t, f.call(http.MethodGet, shop, common.Address{}, nil), &sf)
	require.True(t, sf.Ready)
	firstEscrow := sf.CurrentEscrow

	var preview orderJSON
	rec = f.call(http.MethodPost, shop+"/preview", common.Address{}, orderRequest{ItemID: 1})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	decode(t, rec, &preview)
	require.Len(t, preview.Consideration, 1)
	require.Equal(t, "120", preview.Consideration[0].Amount)
	require.Equal(t, "native", preview.Consideration[0].ItemType)
	require.Equal(t, firstEscrow, preview.Consideration[0].Recipient)
	require.Equal(t, "multi_token", preview.Offer[0].ItemType)

	f.do(func(context.Context) error { return f.bank.Credit(buyerAddr, uint256.NewInt(120)) })
	rec = f.call(http.MethodPost, shop+"/fulfill", buyerAddr, orderRequest{ItemID: 1, MaxSpend: "100"})
	requireProblem(t, rec, http.StatusBadRequest, "InvalidParameters")

	msg := &messageJSON{EncryptedData: []byte{0xca, 0xfe}}
	rec = f.call(http.MethodPost, shop+"/fulfill", buyerAddr, orderRequest{ItemID: 1, MaxSpend: "120", Message: msg})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var filled orderJSON
	decode(t, rec, &filled)
	require.NotEmpty(t, filled.OrderHash)
	require.Equal(t, uint64(0), f.native(buyerAddr))

	var sale saleJSON
	rec = f.call(http.MethodGet, shop+"/sales/1", common.Address{}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	decode(t, rec, &sale)
	require.Equal(t, buyerAddr.Hex(), sale.Buyer)
	require.Equal(t, firstEscrow, sale.Escrow)
	require.NotNil(t, sale.Message)
	require.Equal(t, []byte{0xca, 0xfe}, []byte(sale.Message.EncryptedData))

	decode(t, f.call(http.MethodGet, shop, common.Address{}, nil), &sf)
	require.NotEqual(t, firstEscrow, sf.CurrentEscrow)
	require.Equal(t, uint64(1), sf.SaleCount)

	var esc escrowJSON
	decode(t, f.call(http.MethodGet, "/v1/escrows/"+firstEscrow, common.Address{}, nil), &esc)
	require.Equal(t, "payer_set", esc.Status)
	require.Equal(t, buyerAddr.Hex(), esc.Payer)

	rec = f.call(http.MethodPost, "/v1/escrows/"+firstEscrow+"/settle", ownerAddr, fundsRequest{Amount: "120"})
	requireProblem(t, rec, http.StatusConflict, "InvalidState")

	rec = f.call(http.MethodPost, "/v1/escrows/"+firstEscrow+"/settle", buyerAddr, fundsRequest{Amount: "120"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	decode(t, rec, &esc)
	require.Equal(t, "settled", esc.Status)
	require.Equal(t, uint64(120), f.native(ownerAddr))

	rec = f.call(http.MethodPost, shop+"/sales/1/final-message", buyerAddr, finalMessageRequest{Message: &messageJSON{IV: []byte{1}}})
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())
}

func TestAuctionFlow(t *testing.T) {
	f := newFixture(t, nil)
	house := "/v1/auctions/" + houseAddr.Hex()
	f.do(func(context.Context) error { return f.bank.MintItem(itemsAddr, 2, sellerAddr, 1) })

	rec := f.call(http.MethodPost, house+"/items", sellerAddr, lockItemRequest{ItemContract: itemsAddr.Hex(), ItemID: 2})
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())

	rec = f.call(http.MethodPost, house+"/auctions", sellerAddr, createAuctionRequest{
		ItemContract:       itemsAddr.Hex(),
		ItemID:             2,
		StartTime:          1_100,
		EndTime:            2_000,
		ReservePrice:       "100",
		MinBidIncrementBps: 500,
		TimeExtension:      300,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var a auctionJSON
	decode(t, rec, &a)
	require.Equal(t, uint64(1), a.ID)
	require.Equal(t, "scheduled", a.Status)
	require.Equal(t, "95", a.HighestBid)
	require.Equal(t, sellerAddr.Hex(), a.Owner)

	var h houseJSON
	decode(t, f.call(http.MethodGet, house, common.Address{}, nil), &h)
	require.Equal(t, uint64(1), h.ActiveAuctions)

	f.now = 1_200
	f.do(func(context.Context) error { return f.bank.Credit(buyerAddr, uint256.NewInt(100)) })
	rec = f.call(http.MethodPost, house+"/auctions/1/bids", buyerAddr, bidRequest{Amount: "99", Value: "99"})
	requireProblem(t, rec, http.StatusBadRequest, "BidTooLow")
	rec = f.call(http.MethodPost, house+"/auctions/1/bids", buyerAddr, bidRequest{Amount: "100", Value: "100"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	decode(t, rec, &a)
	require.Equal(t, "open", a.Status)
	require.Equal(t, buyerAddr.Hex(), a.CurrentBidder)

	rec = f.call(http.MethodPost, house+"/auctions/1/end", strangerAddr, nil)
	requireProblem(t, rec, http.StatusConflict, "NotYetComplete")
	rec = f.call(http.MethodPost, house+"/auctions/1/cancel", sellerAddr, nil)
	requireProblem(t, rec, http.StatusConflict, "BidsAlreadyPlaced")

	f.now = 2_100
	rec = f.call(http.MethodPost, house+"/auctions/1/end", strangerAddr, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	decode(t, rec, &a)
	require.Equal(t, "ended", a.Status)
	require.Equal(t, "100", a.PaymentAmount)

	rec = f.call(http.MethodPost, house+"/batch-end", strangerAddr, batchEndRequest{AuctionIDs: []uint64{1, 9}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var batch struct {
		Results []batchResultJSON `json:"results"`
	}
	decode(t, rec, &batch)
	require.Equal(t, []batchResultJSON{
		{AuctionID: 1, Outcome: "skipped", Reason: "not active"},
		{AuctionID: 9, Outcome: "skipped", Reason: "not found"},
	}, batch.Results)

	rec = f.call(http.MethodPost, house+"/auctions/1/final-message", strangerAddr, finalMessageRequest{})
	requireProblem(t, rec, http.StatusForbidden, "Unauthorized")
	rec = f.call(http.MethodPost, house+"/auctions/1/final-message", buyerAddr, finalMessageRequest{Message: &messageJSON{IV: []byte{7}}})
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())

	decode(t, f.call(http.MethodGet, house, common.Address{}, nil), &h)
	require.Zero(t, h.ActiveAuctions)

	rec = f.call(http.MethodPost, house+"/rescue", ownerAddr, rescueRequest{Kind: "native", To: ownerAddr.Hex(), Amount: "1"})
	requireProblem(t, rec, http.StatusUnprocessableEntity, "InsufficientBalance")
	rec = f.call(http.MethodPost, house+"/rescue", ownerAddr, rescueRequest{Kind: "gold", To: ownerAddr.Hex(), Amount: "1"})
	requireProblem(t, rec, http.StatusBadRequest, "InvalidParameters")
}

func signToken(t *testing.T, subject string, expires time.Time) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   subject,
		Issuer:    "marketd",
		Audience:  jwt.ClaimStrings{"market"},
		ExpiresAt: jwt.NewNumericDate(expires),
	})
	signed, err := token.SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}

func TestBearerAuthentication(t *testing.T) {
	f := newFixture(t, func(o *Options) {
		o.Auth = AuthConfig{Enabled: true, HMACSecret: testSecret, Issuer: "marketd", Audience: "market"}
	})
	path := "/v1/storefronts/" + shopAddr.Hex() + "/ready"
	send := func(header string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader([]byte(`{"ready":true}`)))
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		req.Header.Set(HeaderCaller, ownerAddr.Hex())
		rec := httptest.NewRecorder()
		f.handler.ServeHTTP(rec, req)
		return rec
	}

	requireProblem(t, send(""), http.StatusUnauthorized, "Unauthenticated")
	requireProblem(t, send("Bearer "+signToken(t, ownerAddr.Hex(), time.Now().Add(-time.Hour))), http.StatusUnauthorized, "Unauthenticated")
	requireProblem(t, send("Bearer "+signToken(t, "not-an-address", time.Now().Add(time.Hour))), http.StatusUnauthorized, "Unauthenticated")
	requireProblem(t, send("Bearer "+signToken(t, strangerAddr.Hex(), time.Now().Add(time.Hour))), http.StatusForbidden, "Unauthorized")
	require.Equal(t, http.StatusNoContent, send("Bearer "+signToken(t, ownerAddr.Hex(), time.Now().Add(time.Hour))).Code)
}

func TestRateLimitedMutations(t *testing.T) {
	f := newFixture(t, func(o *Options) {
		o.RateLimits = map[string]RateLimit{GroupMutations: {RequestsPerMinute: 1, Burst: 1}}
	})
	path := "/v1/storefronts/" + shopAddr.Hex() + "/ready"
	require.Equal(t, http.StatusNoContent, f.call(http.MethodPost, path, ownerAddr, readyRequest{Ready: true}).Code)
	requireProblem(t, f.call(http.MethodPost, path, ownerAddr, readyRequest{Ready: true}), http.StatusTooManyRequests, "RateLimited")

	// queries have no limit configured
	for i := 0; i < 3; i++ {
		require.Equal(t, http.StatusOK, f.call(http.MethodGet, "/v1/storefronts/"+shopAddr.Hex(), common.Address{}, nil).Code)
	}
	body := f.call(http.MethodGet, "/metrics", common.Address{}, nil).Body.String()
	require.Contains(t, body, `market_http_throttles_total{group="mutations"} 1`)
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t, nil)
	f.call(http.MethodGet, "/v1/storefronts/"+shopAddr.Hex(), common.Address{}, nil)
	rec := f.call(http.MethodGet, "/metrics", common.Address{}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `market_http_requests_total{method="GET",route="/v1/storefronts/{addr}",status="200"} 1`)
}

func TestTokenApprovalAndBalances(t *testing.T) {
	f := newFixture(t, nil)
	token := common.HexToAddress("0x00000000000000000000000000000000000070c3")
	f.do(func(context.Context) error {
		return f.bank.MintToken(token, buyerAddr, uint256.NewInt(700))
	})

	approvePath := "/v1/tokens/" + token.Hex() + "/approve"
	rec := f.call(http.MethodPost, approvePath, common.Address{}, approveRequest{Spender: houseAddr.Hex(), Amount: "300"})
	requireProblem(t, rec, http.StatusUnauthorized, "Unauthenticated")

	rec = f.call(http.MethodPost, approvePath, buyerAddr, approveRequest{Spender: houseAddr.Hex(), Amount: "300"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var granted allowanceJSON
	decode(t, rec, &granted)
	require.Equal(t, buyerAddr.Hex(), granted.Owner)
	require.Equal(t, "300", granted.Amount)

	rec = f.call(http.MethodGet, "/v1/tokens/"+token.Hex()+"/allowances/"+buyerAddr.Hex()+"/"+houseAddr.Hex(), common.Address{}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var stored allowanceJSON
	decode(t, rec, &stored)
	require.Equal(t, "300", stored.Amount)

	rec = f.call(http.MethodGet, "/v1/accounts/"+buyerAddr.Hex()+"/balance?token="+token.Hex(), common.Address{}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var bal balanceJSON
	decode(t, rec, &bal)
	require.Equal(t, "700", bal.Amount)

	rec = f.call(http.MethodGet, "/v1/accounts/"+buyerAddr.Hex()+"/balance", common.Address{}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	decode(t, rec, &bal)
	require.Equal(t, "0", bal.Amount)
	require.Empty(t, bal.Token)

	rec = f.call(http.MethodPost, "/v1/tokens/"+(common.Address{}).Hex()+"/approve", buyerAddr, approveRequest{Spender: houseAddr.Hex(), Amount: "1"})
	requireProblem(t, rec, http.StatusBadRequest, "InvalidAddress")
}
