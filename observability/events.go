package observability

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nickbax/ump-auction-test/core/events"
	"github.com/nickbax/ump-auction-test/core/types"
)

// MetricsEmitter counts committed events.
type MetricsEmitter struct {
	metrics *MarketMetrics
}

func NewMetricsEmitter(m *MarketMetrics) *MetricsEmitter {
	return &MetricsEmitter{metrics: m}
}

// Emit implements events.Emitter.
func (e *MetricsEmitter) Emit(evt events.Event) {
	e.metrics.RecordEvent(evt.EventType(), attributesOf(evt))
}

// LogEmitter writes each committed event as a structured log line.
type LogEmitter struct {
	logger *slog.Logger
}

func NewLogEmitter(logger *slog.Logger) *LogEmitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogEmitter{logger: logger}
}

// Emit implements events.Emitter.
func (e *LogEmitter) Emit(evt events.Event) {
	attrs := attributesOf(evt)
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	args := make([]any, 0, 2*len(keys)+2)
	args = append(args, "type", evt.EventType())
	for _, k := range keys {
		args = append(args, k, attrs[k])
	}
	e.logger.Info("market event", args...)
}

func attributesOf(evt events.Event) map[string]string {
	if typed, ok := evt.(*types.Event); ok && typed != nil {
		return typed.Attributes
	}
	return nil
}

// Publisher is the subset of the redis client used for fan-out.
type Publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// EventMessage is the JSON document published for each event.
type EventMessage struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
	EmittedAt  time.Time         `json:"emittedAt"`
}

// RedisEmitter publishes committed events to a redis channel for external
// indexers. Publishing happens on a background goroutine so commits never
// wait on the network; when the queue is full events are dropped and
// logged.
type RedisEmitter struct {
	client  Publisher
	channel string
	logger  *slog.Logger
	timeout time.Duration
	now     func() time.Time

	mu     sync.RWMutex
	closed bool
	queue  chan EventMessage
	done   chan struct{}
}

// NewRedisClient parses url and verifies connectivity.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}

func NewRedisEmitter(client Publisher, channel string, logger *slog.Logger) *RedisEmitter {
	if logger == nil {
		logger = slog.Default()
	}
	e := &RedisEmitter{
		client:  client,
		channel: channel,
		logger:  logger,
		timeout: 2 * time.Second,
		now:     time.Now,
		queue:   make(chan EventMessage, 1024),
		done:    make(chan struct{}),
	}
	go e.run()
	return e
}

// Emit implements events.Emitter.
func (e *RedisEmitter) Emit(evt events.Event) {
	msg := EventMessage{Type: evt.EventType(), Attributes: attributesOf(evt), EmittedAt: e.now().UTC()}
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		e.logger.Warn("event emitted after close, dropping", "type", msg.Type)
		return
	}
	select {
	case e.queue <- msg:
	default:
		e.logger.Warn("event queue full, dropping event", "type", msg.Type)
	}
}

func (e *RedisEmitter) run() {
	defer close(e.done)
	for msg := range e.queue {
		data, err := json.Marshal(msg)
		if err != nil {
			e.logger.Error("encode event", "type", msg.Type, "error", err)
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), e.timeout)
		err = e.client.Publish(ctx, e.channel, string(data)).Err()
		cancel()
		if err != nil {
			e.logger.Error("publish event", "type", msg.Type, "channel", e.channel, "error", err)
		}
	}
}

// Close stops accepting events and waits for queued ones to be published.
// Events emitted afterwards are dropped.
func (e *RedisEmitter) Close() {
	e.mu.Lock()
	if !e.closed {
		e.closed = true
		close(e.queue)
	}
	e.mu.Unlock()
	<-e.done
}
