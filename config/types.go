package config

// EscrowConfig controls the escrow factory.
type EscrowConfig struct {
	Factory            string `toml:"Factory"`
	SettleDelaySeconds uint64 `toml:"SettleDelaySeconds"`
}

// Affiliate seeds the static affiliate verifier.
type Affiliate struct {
	Address       string `toml:"Address"`
	MultiplierBps uint64 `toml:"MultiplierBps"`
}

// StorefrontConfig describes the storefront deployed at startup. An empty
// Address skips deployment.
type StorefrontConfig struct {
	Address            string      `toml:"Address"`
	Owner              string      `toml:"Owner"`
	ItemContract       string      `toml:"ItemContract"`
	Protocol           string      `toml:"Protocol"`
	Arbiter            string      `toml:"Arbiter"`
	SettleDelaySeconds uint64      `toml:"SettleDelaySeconds"`
	Affiliates         []Affiliate `toml:"Affiliates"`
}

// AuctionConfig describes the auction house deployed at startup. An empty
// Address skips deployment.
type AuctionConfig struct {
	Address            string `toml:"Address"`
	Owner              string `toml:"Owner"`
	Arbiter            string `toml:"Arbiter"`
	SettleDelaySeconds uint64 `toml:"SettleDelaySeconds"`
}

// AuthConfig configures bearer token validation on the HTTP surface. The
// token subject names the calling address.
type AuthConfig struct {
	Enabled          bool   `toml:"Enabled"`
	HMACSecret       string `toml:"HMACSecret"`
	Issuer           string `toml:"Issuer"`
	Audience         string `toml:"Audience"`
	ClockSkewSeconds int    `toml:"ClockSkewSeconds"`
}

type TelemetryConfig struct {
	Endpoint string `toml:"Endpoint"`
	Insecure bool   `toml:"Insecure"`
	Metrics  bool   `toml:"Metrics"`
	Traces   bool   `toml:"Traces"`
	// Headers uses the OTEL_EXPORTER_OTLP_HEADERS syntax: key=value,foo=bar.
	Headers string `toml:"Headers"`
}

// Pauses halts mutating operations per module.
type Pauses struct {
	Escrow     bool `toml:"Escrow"`
	Storefront bool `toml:"Storefront"`
	Auction    bool `toml:"Auction"`
}

// RateLimit bounds requests per client for the route group named by ID.
type RateLimit struct {
	ID                string  `toml:"ID"`
	RequestsPerMinute float64 `toml:"RequestsPerMinute"`
	Burst             int     `toml:"Burst"`
}

// EventsConfig selects where committed events are published in addition to
// metrics.
type EventsConfig struct {
	RedisURL  string `toml:"RedisURL"`
	Channel   string `toml:"Channel"`
	LogEvents bool   `toml:"LogEvents"`
}

// NativeAlloc credits native value to an address.
type NativeAlloc struct {
	Address string `toml:"Address"`
	Amount  string `toml:"Amount"`
}

// TokenAlloc mints a fungible token balance.
type TokenAlloc struct {
	Token  string `toml:"Token"`
	Holder string `toml:"Holder"`
	Amount string `toml:"Amount"`
}

// ItemAlloc mints units of a multi-token item. ERC721-style items use Amount 1.
type ItemAlloc struct {
	Contract string `toml:"Contract"`
	ItemID   uint64 `toml:"ItemID"`
	Holder   string `toml:"Holder"`
	Amount   uint64 `toml:"Amount"`
}

// GenesisConfig seeds balances the first time the daemon opens a database.
// Amounts are decimal strings in base units.
type GenesisConfig struct {
	Native []NativeAlloc `toml:"native"`
	Tokens []TokenAlloc  `toml:"tokens"`
	Items  []ItemAlloc   `toml:"items"`
}

// LoggingConfig sends logs to a rotated file instead of stdout when File is
// set.
type LoggingConfig struct {
	File       string `toml:"File"`
	MaxSizeMB  int    `toml:"MaxSizeMB"`
	MaxBackups int    `toml:"MaxBackups"`
	MaxAgeDays int    `toml:"MaxAgeDays"`
	Compress   bool   `toml:"Compress"`
}
