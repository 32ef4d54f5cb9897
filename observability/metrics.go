package observability

import (
	"math/big"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"
)

// MarketMetrics holds the prometheus collectors for the market daemon.
type MarketMetrics struct {
	events    *prometheus.CounterVec
	released  *prometheus.CounterVec
	requests  *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	throttles *prometheus.CounterVec
}

var (
	marketMetricsOnce sync.Once
	marketRegistry    *MarketMetrics
)

// Market returns the lazily-initialised collectors registered with the
// default prometheus registerer.
func Market() *MarketMetrics {
	marketMetricsOnce.Do(func() {
		marketRegistry = NewMarketMetrics(prometheus.DefaultRegisterer)
	})
	return marketRegistry
}

// NewMarketMetrics creates the collectors and registers them with reg.
func NewMarketMetrics(reg prometheus.Registerer) *MarketMetrics {
	m := &MarketMetrics{
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "market",
			Subsystem: "events",
			Name:      "total",
			Help:      "Committed market events segmented by module and type.",
		}, []string{"module", "type"}),
		released: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "market",
			Subsystem: "escrow",
			Name:      "released_total",
			Help:      "Value released by escrow settlements in smallest currency units.",
		}, []string{"currency"}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "market",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests segmented by route, method and status code.",
		}, []string{"route", "method", "status"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "market",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Latency distribution for HTTP handlers.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "method"}),
		throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "market",
			Subsystem: "http",
			Name:      "throttles_total",
			Help:      "Requests rejected by rate limiting.",
		}, []string{"group"}),
	}
	if reg != nil {
		reg.MustRegister(m.events, m.released, m.requests, m.latency, m.throttles)
	}
	return m
}

// RecordEvent counts one committed event.
func (m *MarketMetrics) RecordEvent(eventType string, attrs map[string]string) {
	if m == nil {
		return
	}
	module, _, found := strings.Cut(eventType, ".")
	if !found || module == "" {
		module = "unknown"
	}
	m.events.WithLabelValues(module, eventType).Inc()
	if eventType != "escrow.settled" {
		return
	}
	currency := attrs["currency"]
	if currency == "" {
		currency = "native"
	}
	total := amountToFloat(attrs["payeeAmount"]) + amountToFloat(attrs["affiliateAmount"])
	if total > 0 {
		m.released.WithLabelValues(currency).Add(total)
	}
}

// ObserveRequest records the outcome of an HTTP request. The status code should
// be the one ultimately written to the response writer.
func (m *MarketMetrics) ObserveRequest(route, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unknown"
	}
	m.requests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	m.latency.WithLabelValues(route, method).Observe(duration.Seconds())
}

// RecordThrottle counts a request rejected by the rate limiter of group.
func (m *MarketMetrics) RecordThrottle(group string) {
	if m == nil {
		return
	}
	if group == "" {
		group = "unspecified"
	}
	m.throttles.WithLabelValues(group).Inc()
}

func amountToFloat(raw string) float64 {
	if raw == "" {
		return 0
	}
	v, err := uint256.FromDecimal(raw)
	if err != nil {
		return 0
	}
	f, _ := new(big.Float).SetInt(v.ToBig()).Float64()
	return f
}
