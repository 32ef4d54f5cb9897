package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/nickbax/ump-auction-test/config"
	coreerrors "github.com/nickbax/ump-auction-test/core/errors"
	"github.com/nickbax/ump-auction-test/core/events"
	"github.com/nickbax/ump-auction-test/core/genesis"
	"github.com/nickbax/ump-auction-test/core/state"
	"github.com/nickbax/ump-auction-test/native/auction"
	"github.com/nickbax/ump-auction-test/native/bank"
	nativecommon "github.com/nickbax/ump-auction-test/native/common"
	"github.com/nickbax/ump-auction-test/native/escrow"
	"github.com/nickbax/ump-auction-test/native/listing"
	"github.com/nickbax/ump-auction-test/native/storefront"
	"github.com/nickbax/ump-auction-test/observability"
	"github.com/nickbax/ump-auction-test/observability/logging"
	telemetry "github.com/nickbax/ump-auction-test/observability/otel"
	"github.com/nickbax/ump-auction-test/rpc"
	"github.com/nickbax/ump-auction-test/storage"
)

func main() {
	defaultConfig := strings.TrimSpace(os.Getenv("MARKET_CONFIG"))
	if defaultConfig == "" {
		defaultConfig = "./config.toml"
	}
	var (
		cfgPath      string
		allowMigrate bool
	)
	flag.StringVar(&cfgPath, "config", defaultConfig, "path to marketd configuration")
	flag.BoolVar(&allowMigrate, "allow-migrate", false, "tolerate an on-disk state version mismatch")
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("load config", "path", cfgPath, "error", err)
		os.Exit(1)
	}
	cfg.ApplyEnv(os.LookupEnv)
	if err := config.Validate(cfg); err != nil {
		slog.Error("invalid configuration after environment overrides", "error", err)
		os.Exit(1)
	}

	logOut, closeLog := logging.Output(logging.FileOptions{
		Path:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
		Compress:   cfg.Logging.Compress,
	})
	logger := logging.Setup(logOut, cfg.ServiceName, cfg.Environment, os.Getenv("MARKET_LOG_LEVEL"))
	logger.Info("configuration loaded",
		"path", cfgPath,
		"authEnabled", cfg.Auth.Enabled,
		"hmacSecret", cfg.Auth.HMACSecret,
		"redisURL", cfg.Events.RedisURL,
		"otlpHeaders", cfg.Telemetry.Headers)
	err = run(cfg, allowMigrate, logger)
	if err != nil {
		logger.Error("marketd stopped", "error", err)
	}
	_ = closeLog()
	if err != nil {
		os.Exit(1)
	}
}

func run(cfg *config.Config, allowMigrate bool, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName: cfg.ServiceName,
		Environment: cfg.Environment,
		Endpoint:    cfg.Telemetry.Endpoint,
		Insecure:    cfg.Telemetry.Insecure,
		Headers:     telemetry.ParseHeaders(cfg.Telemetry.Headers),
		Metrics:     cfg.Telemetry.Metrics,
		Traces:      cfg.Telemetry.Traces,
	})
	if err != nil {
		return err
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(flushCtx); err != nil {
			logger.Warn("telemetry shutdown", "error", err)
		}
	}()

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return err
	}
	db, err := storage.NewLevelDB(filepath.Join(cfg.DataDir, "state"))
	if err != nil {
		return err
	}
	defer db.Close()

	manager := state.NewManager(db)
	if err := state.EnsureStateVersion(ctx, manager, allowMigrate); err != nil {
		return err
	}

	metrics := observability.Market()
	emitters := events.Multi{observability.NewMetricsEmitter(metrics)}
	if cfg.Events.LogEvents {
		emitters = append(emitters, observability.NewLogEmitter(logger.With("component", "events")))
	}
	if url := strings.TrimSpace(cfg.Events.RedisURL); url != "" {
		client, err := observability.NewRedisClient(ctx, url)
		if err != nil {
			return err
		}
		defer client.Close()
		publisher := observability.NewRedisEmitter(client, cfg.Events.Channel, logger.With("component", "events"))
		defer publisher.Close()
		emitters = append(emitters, publisher)
		logger.Info("publishing events to redis", "channel", cfg.Events.Channel)
	}

	engines, err := buildEngines(ctx, cfg, manager, emitters, logger)
	if err != nil {
		return err
	}

	limits := make(map[string]rpc.RateLimit, len(cfg.RateLimits))
	for _, rl := range cfg.RateLimits {
		limits[rl.ID] = rpc.RateLimit{RequestsPerMinute: rl.RequestsPerMinute, Burst: rl.Burst}
	}
	server := rpc.NewServer(engines, rpc.Options{
		Logger:  logger,
		Metrics: metrics,
		Tracer:  telemetry.Tracer("marketd/rpc"),
		Auth: rpc.AuthConfig{
			Enabled:    cfg.Auth.Enabled,
			HMACSecret: cfg.Auth.HMACSecret,
			Issuer:     cfg.Auth.Issuer,
			Audience:   cfg.Auth.Audience,
			ClockSkew:  time.Duration(cfg.Auth.ClockSkewSeconds) * time.Second,
		},
		RateLimits: limits,
	})
	handler := server.Handler()
	if cfg.Telemetry.Traces {
		handler = otelhttp.NewHandler(handler, cfg.ServiceName)
	}

	httpServer := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("marketd listening", "listen", cfg.ListenAddress, "datadir", cfg.DataDir)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err, ok := <-errCh:
		if ok {
			return err
		}
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

// buildEngines wires the state machines and deploys the configured storefront
// and auction house on first start.
func buildEngines(ctx context.Context, cfg *config.Config, manager *state.Manager, emitter events.Emitter, logger *slog.Logger) (rpc.Engines, error) {
	factory, err := config.ParseAddress("escrow.Factory", cfg.Escrow.Factory)
	if err != nil {
		return rpc.Engines{}, err
	}
	pauses := nativecommon.NewPauses(map[string]bool{
		nativecommon.ModuleEscrow:     cfg.Pauses.Escrow,
		nativecommon.ModuleStorefront: cfg.Pauses.Storefront,
		nativecommon.ModuleAuction:    cfg.Pauses.Auction,
	})

	ledger := bank.NewLedger(manager)
	applied, err := genesis.Apply(ctx, ledger, cfg.Genesis)
	if err != nil {
		return rpc.Engines{}, err
	}
	if applied {
		logger.Info("genesis allocations applied",
			"native", len(cfg.Genesis.Native),
			"tokens", len(cfg.Genesis.Tokens),
			"items", len(cfg.Genesis.Items))
	}

	escrows := escrow.NewEngine(manager, ledger, factory)
	escrows.SetEmitter(emitter)
	escrows.SetPauses(pauses)

	listings := listing.NewRegistry(manager)
	listings.SetEmitter(emitter)

	verifier := storefront.NewStaticVerifier()
	for _, aff := range cfg.Storefront.Affiliates {
		addr, err := config.ParseAddress("storefront.Affiliates.Address", aff.Address)
		if err != nil {
			return rpc.Engines{}, err
		}
		if err := verifier.Set(addr, aff.MultiplierBps); err != nil {
			return rpc.Engines{}, err
		}
	}
	shops := storefront.NewEngine(manager, ledger, escrows, listings, verifier)
	shops.SetEmitter(emitter)
	shops.SetPauses(pauses)

	houses := auction.NewEngine(manager, ledger, escrows)
	houses.SetEmitter(emitter)
	houses.SetPauses(pauses)

	var protocolAddr common.Address
	if cfg.Storefront.Address != "" {
		sfCfg, err := storefrontConfig(cfg)
		if err != nil {
			return rpc.Engines{}, err
		}
		protocolAddr = sfCfg.Protocol
		if _, err := shops.Deploy(ctx, sfCfg); err != nil && !errors.Is(err, coreerrors.ErrAlreadyInitialized) {
			return rpc.Engines{}, err
		}
		logger.Info("storefront ready", "address", sfCfg.Address.Hex())
	}
	if cfg.Auction.Address != "" {
		houseCfg, err := houseConfig(cfg)
		if err != nil {
			return rpc.Engines{}, err
		}
		if _, err := houses.Deploy(ctx, houseCfg); err != nil && !errors.Is(err, coreerrors.ErrAlreadyInitialized) {
			return rpc.Engines{}, err
		}
		logger.Info("auction house ready", "address", houseCfg.Address.Hex())
	}

	return rpc.Engines{
		Escrow:     escrows,
		Storefront: shops,
		Protocol:   storefront.NewProtocol(protocolAddr, manager, ledger),
		Auction:    houses,
		Bank:       ledger,
	}, nil
}

func settleDelay(own uint64, cfg *config.Config) uint64 {
	if own != 0 {
		return own
	}
	return cfg.Escrow.SettleDelaySeconds
}

func storefrontConfig(cfg *config.Config) (storefront.Config, error) {
	sc := cfg.Storefront
	var (
		out storefront.Config
		err error
	)
	if out.Address, err = config.ParseAddress("storefront.Address", sc.Address); err != nil {
		return out, err
	}
	if out.Owner, err = config.ParseAddress("storefront.Owner", sc.Owner); err != nil {
		return out, err
	}
	if out.ItemContract, err = config.ParseAddress("storefront.ItemContract", sc.ItemContract); err != nil {
		return out, err
	}
	if out.Protocol, err = config.ParseAddress("storefront.Protocol", sc.Protocol); err != nil {
		return out, err
	}
	if out.Arbiter, err = config.ParseAddress("storefront.Arbiter", sc.Arbiter); err != nil {
		return out, err
	}
	out.SettleDelay = settleDelay(sc.SettleDelaySeconds, cfg)
	return out, nil
}

func houseConfig(cfg *config.Config) (auction.HouseConfig, error) {
	ac := cfg.Auction
	var (
		out auction.HouseConfig
		err error
	)
	if out.Address, err = config.ParseAddress("auction.Address", ac.Address); err != nil {
		return out, err
	}
	if out.Owner, err = config.ParseAddress("auction.Owner", ac.Owner); err != nil {
		return out, err
	}
	if out.Arbiter, err = config.ParseAddress("auction.Arbiter", ac.Arbiter); err != nil {
		return out, err
	}
	out.SettleDelay = settleDelay(ac.SettleDelaySeconds, cfg)
	return out, nil
}
