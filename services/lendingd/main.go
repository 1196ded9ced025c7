package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	protocfg "tierlend/config"
	"tierlend/core/types"
	"tierlend/crypto"
	"tierlend/native/creditscore"
	"tierlend/native/lending"
	"tierlend/native/permissions"
	"tierlend/native/pricing"
	"tierlend/observability"
	"tierlend/observability/logging"
	"tierlend/observability/otel"
	svccfg "tierlend/services/lendingd/config"
	"tierlend/services/lendingd/server"
	"tierlend/state"
	"tierlend/storage"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "lendingd.yaml", "path to the service configuration file")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("TIERLEND_ENV"))
	if env == "" {
		env = "development"
	}
	logger := logging.Setup("lendingd", env)

	if err := run(configPath, env, logger); err != nil {
		logger.Error("lendingd exited", "error", err)
		os.Exit(1)
	}
}

func run(configPath, env string, logger *slog.Logger) error {
	cfg, err := svccfg.Load(configPath)
	if err != nil {
		return fmt.Errorf("load service config: %w", err)
	}
	proto, err := protocfg.Load(cfg.ProtocolConfig)
	if err != nil {
		return fmt.Errorf("load protocol config: %w", err)
	}
	if err := protocfg.ValidateConfig(proto); err != nil {
		return fmt.Errorf("validate protocol config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := otel.Init(ctx, otel.Config{
		ServiceName: "lendingd",
		Environment: env,
		Endpoint:    os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		Insecure:    strings.EqualFold(os.Getenv("OTEL_EXPORTER_OTLP_INSECURE"), "true"),
		Headers:     otel.ParseHeaders(os.Getenv("OTEL_EXPORTER_OTLP_HEADERS")),
		Metrics:     true,
		Traces:      true,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			logger.Error("telemetry shutdown", "error", err)
		}
	}()

	db, err := storage.NewLevelDB(proto.DataDir)
	if err != nil {
		return fmt.Errorf("open ledger database: %w", err)
	}
	defer db.Close()

	manager := state.NewManager(db)

	addresses, err := proto.Addresses()
	if err != nil {
		return err
	}
	registry := permissions.NewRegistry(manager)
	if err := manager.WithTransaction(func() error {
		return registry.Bootstrap(addresses.Admin)
	}); err != nil {
		return fmt.Errorf("bootstrap roles: %w", err)
	}

	classes, err := proto.TokenClasses()
	if err != nil {
		return err
	}
	oracle := pricing.NewAggregator(5*time.Minute, time.Hour)
	for token, class := range classes {
		oracle.SetTokenClass(token, class)
	}
	oracle.SetTokenClass(proto.PrincipalToken, pricing.ClassStable)
	bootstrapPrices, err := proto.BootstrapPrices()
	if err != nil {
		return err
	}
	for symbol, price := range bootstrapPrices {
		if err := oracle.SetManualPrice(symbol, price, time.Now()); err != nil {
			return fmt.Errorf("bootstrap price %s: %w", symbol, err)
		}
	}

	scores := creditscore.NewEngine(registry)
	scores.SetState(manager)
	scores.SetPauses(proto.Pauses)
	scores.SetValidityWindow(proto.CreditScore.ValidityWindowSeconds)
	if cfg.Verifier.URL != "" {
		scores.SetVerifier(server.NewHTTPVerifier(cfg.Verifier.URL, cfg.Verifier.Timeout()))
	}
	scores.SetEventSink(func(evt *creditscore.EventRecord) {
		if _, err := manager.AppendEvent(evt); err == nil {
			observability.Events().RecordEvent(evt.Type)
		}
	})

	model, err := proto.BuildRateModel()
	if err != nil {
		return err
	}
	tiers, err := proto.ValidatedTiers()
	if err != nil {
		return err
	}

	engine := lending.NewEngine(addresses.Pool, addresses.Vault, addresses.Reserve, proto.Lending)
	engine.SetState(manager)
	if err := engine.SetTiers(tiers); err != nil {
		return err
	}
	engine.SetRateModel(model)
	engine.SetPriceSource(server.InstrumentPriceSource(oracle))
	engine.SetScoreSource(scores)
	engine.SetRoles(registry)
	engine.SetPauses(proto.Pauses)
	engine.SetPrincipalToken(proto.PrincipalToken)
	engine.SetCollateralTokens(proto.CollateralSymbols())
	engine.SetEventSink(func(evt *types.Event) {
		if _, err := manager.AppendEvent(evt); err == nil {
			observability.Events().RecordEvent(evt.Type)
		}
	})

	srv := server.New(logger, manager, engine, scores, registry, oracle, server.Config{
		APITokens:         cfg.Auth.APITokens,
		RequestsPerMinute: cfg.RateLimit.RequestsPerMinute,
		Burst:             cfg.RateLimit.Burst,
	})

	if cfg.Keeper.Enabled {
		keeperAddr, err := crypto.DecodeAddress(cfg.Keeper.Address)
		if err != nil {
			return fmt.Errorf("keeper address: %w", err)
		}
		if err := manager.WithTransaction(func() error {
			return registry.Grant(addresses.Admin, keeperAddr, permissions.RoleKeeper)
		}); err != nil {
			return fmt.Errorf("grant keeper role: %w", err)
		}
		keeper := server.NewKeeper(logger, manager, engine, keeperAddr, cfg.Keeper.Interval())
		go keeper.Run(ctx)
	}

	httpServer := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("lendingd listening", "address", cfg.ListenAddress, "tls", cfg.TLS.CertPath != "")
		var serveErr error
		if cfg.TLS.CertPath != "" {
			serveErr = httpServer.ListenAndServeTLS(cfg.TLS.CertPath, cfg.TLS.KeyPath)
		} else {
			serveErr = httpServer.ListenAndServe()
		}
		if serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			errCh <- serveErr
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}
	return <-errCh
}
