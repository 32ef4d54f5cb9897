// Package rpc exposes the escrow, storefront and auction engines over a JSON
// HTTP API. Reads are public; every mutation runs as the caller resolved by
// the Authenticator.
package rpc

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/nickbax/ump-auction-test/native/auction"
	"github.com/nickbax/ump-auction-test/native/bank"
	"github.com/nickbax/ump-auction-test/native/escrow"
	"github.com/nickbax/ump-auction-test/native/storefront"
	"github.com/nickbax/ump-auction-test/observability"
)

// Route groups used for rate limiting.
const (
	GroupMutations = "mutations"
	GroupQueries   = "queries"
)

// Engines bundles the state machines the API drives.
type Engines struct {
	Escrow     *escrow.Engine
	Storefront *storefront.Engine
	Protocol   *storefront.Protocol
	Auction    *auction.Engine
	Bank       *bank.Ledger
}

// Options configure a Server. Zero values fall back to no-op collaborators.
type Options struct {
	Logger     *slog.Logger
	Metrics    *observability.MarketMetrics
	Gatherer   prometheus.Gatherer
	Tracer     trace.Tracer
	Auth       AuthConfig
	RateLimits map[string]RateLimit
}

type Server struct {
	engines Engines
	logger  *slog.Logger
	metrics *observability.MarketMetrics
	gather  prometheus.Gatherer
	tracer  trace.Tracer
	auth    *Authenticator
	limiter *RateLimiter
}

func NewServer(engines Engines, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	tracer := opts.Tracer
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("market/rpc")
	}
	gather := opts.Gatherer
	if gather == nil {
		gather = prometheus.DefaultGatherer
	}
	return &Server{
		engines: engines,
		logger:  logger.With("component", "rpc"),
		metrics: opts.Metrics,
		gather:  gather,
		tracer:  tracer,
		auth:    NewAuthenticator(opts.Auth, logger),
		limiter: NewRateLimiter(opts.RateLimits, opts.Metrics),
	}
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(observe(s.tracer, s.metrics, s.logger))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.HandlerFor(s.gather, promhttp.HandlerOpts{}))

	r.Route("/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(s.limiter.Middleware(GroupQueries))
			r.Get("/escrows/{addr}", s.handleGetEscrow)
			r.Get("/storefronts/{addr}", s.handleGetStorefront)
			r.Get("/storefronts/{addr}/listings", s.handleListListings)
			r.Post("/storefronts/{addr}/preview", s.handlePreviewOrder)
			r.Get("/storefronts/{addr}/sales/{id}", s.handleGetSale)
			r.Get("/auctions/{addr}", s.handleGetHouse)
			r.Get("/auctions/{addr}/auctions/{id}", s.handleGetAuction)
			r.Get("/accounts/{addr}/balance", s.handleGetBalance)
			r.Get("/tokens/{token}/allowances/{owner}/{spender}", s.handleGetAllowance)
		})
		r.Group(func(r chi.Router) {
			r.Use(s.limiter.Middleware(GroupMutations))
			r.Use(s.auth.Middleware)

			r.Post("/escrows/{addr}/settle", s.handleSettle)
			r.Post("/escrows/{addr}/refund", s.handleRefund)
			r.Post("/escrows/{addr}/dispute", s.handleDispute)
			r.Post("/escrows/{addr}/dispute/remove", s.handleRemoveDispute)
			r.Post("/escrows/{addr}/dispute/resolve", s.handleResolveDispute)
			r.Post("/escrows/{addr}/escape-address", s.handleSetEscapeAddress)
			r.Post("/escrows/{addr}/escape", s.handleEscape)
			r.Post("/escrows/{addr}/arbiter/propose", s.handleProposeArbiter)
			r.Post("/escrows/{addr}/arbiter/approve", s.handleApproveArbiter)

			r.Post("/storefronts/{addr}/ready", s.handleSetReady)
			r.Post("/storefronts/{addr}/listings", s.handleListItem)
			r.Put("/storefronts/{addr}/listings/{itemId}", s.handleUpdateListing)
			r.Delete("/storefronts/{addr}/listings/{itemId}", s.handleRemoveListing)
			r.Post("/storefronts/{addr}/fulfill", s.handleFulfill)
			r.Post("/storefronts/{addr}/sales/{id}/final-message", s.handleSaleFinalMessage)
			r.Post("/storefronts/{addr}/rescue", func(w http.ResponseWriter, r *http.Request) {
				s.rescue(w, r, s.engines.Storefront)
			})

			r.Post("/auctions/{addr}/items", s.handleLockItem)
			r.Post("/auctions/{addr}/auctions", s.handleCreateAuction)
			r.Post("/auctions/{addr}/auctions/{id}/bids", s.handleBid)
			r.Post("/auctions/{addr}/auctions/{id}/end", s.handleEndAuction)
			r.Post("/auctions/{addr}/auctions/{id}/cancel", s.handleCancelAuction)
			r.Post("/auctions/{addr}/auctions/{id}/final-message", s.handleAuctionFinalMessage)
			r.Post("/auctions/{addr}/batch-end", s.handleBatchEnd)
			r.Post("/auctions/{addr}/rescue", func(w http.ResponseWriter, r *http.Request) {
				s.rescue(w, r, s.engines.Auction)
			})

			r.Post("/tokens/{token}/approve", s.handleApprove)
		})
	})
	return r
}
