package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// DefaultEscrowFactory is the factory address used when none is configured.
const DefaultEscrowFactory = "0x00000000000000000000000000000000000e5c40"

type Config struct {
	ListenAddress string           `toml:"ListenAddress"`
	DataDir       string           `toml:"DataDir"`
	Environment   string           `toml:"Environment"`
	ServiceName   string           `toml:"ServiceName"`
	Escrow        EscrowConfig     `toml:"escrow"`
	Storefront    StorefrontConfig `toml:"storefront"`
	Auction       AuctionConfig    `toml:"auction"`
	Auth          AuthConfig       `toml:"auth"`
	Telemetry     TelemetryConfig  `toml:"telemetry"`
	Pauses        Pauses           `toml:"pauses"`
	RateLimits    []RateLimit      `toml:"rateLimits"`
	Events        EventsConfig     `toml:"events"`
	Genesis       GenesisConfig    `toml:"genesis"`
	Logging       LoggingConfig    `toml:"logging"`
}

// Load loads the configuration from the given path. A missing file is
// created with defaults.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	cfg := Default()
	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("config file %s has unknown key %s", path, undecoded[0].String())
	}
	cfg.applyDefaults()
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}
	return cfg, nil
}

// Default returns the configuration written for a fresh installation.
func Default() *Config {
	return &Config{
		ListenAddress: ":8080",
		DataDir:       "./market-data",
		Environment:   "dev",
		ServiceName:   "marketd",
		Escrow:        EscrowConfig{Factory: DefaultEscrowFactory},
		Telemetry:     TelemetryConfig{Endpoint: "localhost:4318", Insecure: true},
		RateLimits: []RateLimit{
			{ID: RateLimitMutations, RequestsPerMinute: 120, Burst: 20},
			{ID: RateLimitQueries, RequestsPerMinute: 600, Burst: 60},
		},
		Events: EventsConfig{Channel: "market.events"},
	}
}

// Rate limit group identifiers understood by the HTTP server.
const (
	RateLimitMutations = "mutations"
	RateLimitQueries   = "queries"
)

func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.ServiceName) == "" {
		c.ServiceName = "marketd"
	}
	if strings.TrimSpace(c.Escrow.Factory) == "" {
		c.Escrow.Factory = DefaultEscrowFactory
	}
	if strings.TrimSpace(c.Events.Channel) == "" {
		c.Events.Channel = "market.events"
	}
}

// ApplyEnv overrides secrets and endpoints from the environment so they can
// stay out of the config file.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	if v, ok := lookup("MARKET_LISTEN_ADDRESS"); ok && strings.TrimSpace(v) != "" {
		c.ListenAddress = strings.TrimSpace(v)
	}
	if v, ok := lookup("MARKET_AUTH_SECRET"); ok && v != "" {
		c.Auth.HMACSecret = v
	}
	if v, ok := lookup("MARKET_REDIS_URL"); ok && v != "" {
		c.Events.RedisURL = v
	}
	if v, ok := lookup("OTEL_EXPORTER_OTLP_ENDPOINT"); ok && strings.TrimSpace(v) != "" {
		c.Telemetry.Endpoint = strings.TrimSpace(v)
	}
	if v, ok := lookup("OTEL_EXPORTER_OTLP_HEADERS"); ok && v != "" {
		c.Telemetry.Headers = v
	}
}

// RateLimit returns the limit configured for id.
func (c *Config) RateLimit(id string) (RateLimit, bool) {
	for _, rl := range c.RateLimits {
		if rl.ID == id {
			return rl, true
		}
	}
	return RateLimit{}, false
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	cfg := Default()
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}
