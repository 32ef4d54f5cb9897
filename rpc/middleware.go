package rpc

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/nickbax/ump-auction-test/observability"
)

type contextKey string

const (
	contextKeyCaller    contextKey = "market.caller"
	contextKeyRequestID contextKey = "market.request_id"
)

// HeaderCaller names the calling address when authentication is disabled.
// It is ignored once bearer tokens are required.
const HeaderCaller = "X-Caller-Address"

// HeaderRequestID carries the request identifier in both directions.
const HeaderRequestID = "X-Request-ID"

// CallerFromContext returns the authenticated caller address.
func CallerFromContext(ctx context.Context) (common.Address, bool) {
	caller, ok := ctx.Value(contextKeyCaller).(common.Address)
	return caller, ok
}

// RequestIDFromContext returns the identifier assigned to the request.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(contextKeyRequestID).(string)
	return id
}

// AuthConfig mirrors the [auth] config section.
type AuthConfig struct {
	Enabled    bool
	HMACSecret string
	Issuer     string
	Audience   string
	ClockSkew  time.Duration
}

// Authenticator resolves the caller address of mutating requests. With
// authentication enabled the caller is the subject of an HMAC-signed bearer
// token; otherwise it is read from HeaderCaller.
type Authenticator struct {
	cfg    AuthConfig
	logger *slog.Logger
	secret []byte
}

func NewAuthenticator(cfg AuthConfig, logger *slog.Logger) *Authenticator {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ClockSkew <= 0 {
		cfg.ClockSkew = 2 * time.Minute
	}
	return &Authenticator{cfg: cfg, logger: logger, secret: []byte(strings.TrimSpace(cfg.HMACSecret))}
}

func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var (
			caller common.Address
			err    error
		)
		if a.cfg.Enabled {
			caller, err = a.callerFromToken(extractBearer(r.Header.Get("Authorization")))
		} else {
			caller, err = callerFromHeader(r.Header.Get(HeaderCaller))
		}
		if err != nil {
			a.logger.Warn("rejecting unauthenticated request", "path", r.URL.Path, "error", err, "request_id", RequestIDFromContext(r.Context()))
			writeProblem(w, http.StatusUnauthorized, "Unauthenticated", err.Error())
			return
		}
		ctx := context.WithValue(r.Context(), contextKeyCaller, caller)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (a *Authenticator) callerFromToken(tokenString string) (common.Address, error) {
	if tokenString == "" {
		return common.Address{}, errors.New("missing bearer token")
	}
	if len(a.secret) == 0 {
		return common.Address{}, errors.New("auth secret not configured")
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}),
		jwt.WithLeeway(a.cfg.ClockSkew),
		jwt.WithExpirationRequired(),
	}
	if a.cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.cfg.Issuer))
	}
	if a.cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(a.cfg.Audience))
	}
	token, err := jwt.Parse(tokenString, func(*jwt.Token) (interface{}, error) { return a.secret, nil }, opts...)
	if err != nil {
		return common.Address{}, err
	}
	subject, err := token.Claims.GetSubject()
	if err != nil {
		return common.Address{}, err
	}
	return callerFromHeader(subject)
}

func callerFromHeader(raw string) (common.Address, error) {
	raw = strings.TrimSpace(raw)
	if !common.IsHexAddress(raw) {
		return common.Address{}, errors.New("caller must be a hex address")
	}
	caller := common.HexToAddress(raw)
	if caller == (common.Address{}) {
		return common.Address{}, errors.New("caller must not be the zero address")
	}
	return caller, nil
}

func extractBearer(header string) string {
	scheme, token, found := strings.Cut(strings.TrimSpace(header), " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// RateLimit bounds requests per client for one route group.
type RateLimit struct {
	RequestsPerMinute float64
	Burst             int
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter applies token buckets per route group and client.
type RateLimiter struct {
	limits   map[string]RateLimit
	metrics  *observability.MarketMetrics
	idleTTL  time.Duration
	clockNow func() time.Time

	mu       sync.Mutex
	visitors map[string]*visitor
	swept    time.Time
}

func NewRateLimiter(limits map[string]RateLimit, metrics *observability.MarketMetrics) *RateLimiter {
	return &RateLimiter{
		limits:   limits,
		metrics:  metrics,
		idleTTL:  5 * time.Minute,
		clockNow: time.Now,
		visitors: make(map[string]*visitor),
	}
}

func (r *RateLimiter) Middleware(group string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			limit, ok := r.limits[group]
			if !ok {
				next.ServeHTTP(w, req)
				return
			}
			if !r.allow(group+"|"+clientID(req), limit) {
				r.metrics.RecordThrottle(group)
				writeProblem(w, http.StatusTooManyRequests, "RateLimited", http.StatusText(http.StatusTooManyRequests))
				return
			}
			next.ServeHTTP(w, req)
		})
	}
}

func (r *RateLimiter) allow(key string, cfg RateLimit) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.clockNow()
	if now.Sub(r.swept) > r.idleTTL {
		for id, v := range r.visitors {
			if now.Sub(v.lastSeen) > r.idleTTL {
				delete(r.visitors, id)
			}
		}
		r.swept = now
	}
	v, ok := r.visitors[key]
	if !ok {
		perSecond := cfg.RequestsPerMinute / 60.0
		if perSecond <= 0 {
			perSecond = 1
		}
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		v = &visitor{limiter: rate.NewLimiter(rate.Limit(perSecond), burst)}
		r.visitors[key] = v
	}
	v.lastSeen = now
	return v.limiter.AllowN(now, 1)
}

func clientID(r *http.Request) string {
	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		if parsed := net.ParseIP(strings.TrimSpace(first)); parsed != nil {
			return parsed.String()
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// requestID assigns every request an identifier, honouring one supplied by
// the client.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(HeaderRequestID))
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}
		w.Header().Set(HeaderRequestID, id)
		ctx := context.WithValue(r.Context(), contextKeyRequestID, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// observe records a span, request metrics and an access log line per request.
func observe(tracer trace.Tracer, metrics *observability.MarketMetrics, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ctx, span := tracer.Start(r.Context(), r.Method+" "+r.URL.Path, trace.WithAttributes(
				attribute.String("http.method", r.Method),
				attribute.String("market.request_id", RequestIDFromContext(r.Context())),
			))
			defer span.End()
			recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(recorder, r.WithContext(ctx))

			route := r.URL.Path
			if rctx := chi.RouteContext(r.Context()); rctx != nil {
				if pattern := rctx.RoutePattern(); pattern != "" {
					route = pattern
				}
			}
			span.SetName(r.Method + " " + route)
			span.SetAttributes(attribute.String("http.route", route), attribute.Int("http.status_code", recorder.status))
			elapsed := time.Since(start)
			metrics.ObserveRequest(route, r.Method, recorder.status, elapsed)
			logger.Debug("request served",
				"method", r.Method,
				"route", route,
				"status", recorder.status,
				"duration_ms", float64(elapsed.Microseconds())/1000,
				"request_id", RequestIDFromContext(r.Context()))
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}
