// Command engine runs the perp matching/liquidity engine as a standalone
// process: it loads the market registry and every persisted collaborator,
// serves the REST/WebSocket API, runs the per-market funding loop, and
// snapshots engine state to disk on shutdown.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/perpmesh/engine/params"
	"github.com/perpmesh/engine/pkg/api"
	"github.com/perpmesh/engine/pkg/crypto"
	"github.com/perpmesh/engine/pkg/engine"
	"github.com/perpmesh/engine/pkg/market"
	"github.com/perpmesh/engine/pkg/oracle"
	"github.com/perpmesh/engine/pkg/retry"
	"github.com/perpmesh/engine/pkg/storage"
	"github.com/perpmesh/engine/pkg/transaction"
	"github.com/perpmesh/engine/pkg/util"
	"github.com/perpmesh/engine/pkg/vault"
)

func main() {
	cfg := params.LoadFromEnv("")

	logFile := os.Getenv("LOG_FILE")
	if logFile == "" {
		logFile = "data/engine.log"
	}
	logger, err := util.NewLoggerWithFile(logFile)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()
	logger.Sugar().Infow("logger_initialized", "log_file", logFile)

	reg, err := market.LoadRegistry(cfg.Storage.MarketConfigPath)
	if err != nil {
		logger.Sugar().Fatalw("market_registry_load_failed", "err", err)
	}

	v, err := vault.NewVault(cfg.Storage.VaultDBPath, vault.DefaultRateModel())
	if err != nil {
		logger.Sugar().Fatalw("vault_open_failed", "err", err)
	}
	defer v.Close()

	retryLedger, err := retry.NewLedger(cfg.Storage.RetryDBPath)
	if err != nil {
		logger.Sugar().Fatalw("retry_ledger_open_failed", "err", err)
	}
	defer retryLedger.Close()

	var oc oracle.Client
	if cfg.Oracle.Fake {
		oc = oracle.NewFake()
	} else {
		oc = oracle.NewHTTPClient(cfg.Oracle.BaseURL)
	}

	store, err := storage.NewStore(cfg.Storage.EngineDBPath)
	if err != nil {
		logger.Sugar().Fatalw("engine_store_open_failed", "err", err)
	}
	defer store.Close()

	eng := engine.New(reg, v, oc, retryLedger, util.RealClock{}, logger)

	if err := eng.LoadFrom(store); err != nil {
		logger.Sugar().Warnw("engine_state_restore_failed", "err", err)
	}

	verifier := transaction.NewVerifier(crypto.DefaultDomain())
	apiServer := api.NewServer(eng, verifier, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Sugar().Infow("api_server_starting", "addr", cfg.API.ListenAddr)
		if err := apiServer.Start(cfg.API.ListenAddr); err != nil && ctx.Err() == nil {
			logger.Sugar().Fatalw("api_server_failed", "err", err)
		}
	}()

	metricsAddr := os.Getenv("METRICS_ADDR")
	if metricsAddr == "" {
		metricsAddr = ":9090"
	}
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(eng.Registry(), promhttp.HandlerOpts{}))
		logger.Sugar().Infow("metrics_server_starting", "addr", metricsAddr)
		if err := http.ListenAndServe(metricsAddr, mux); err != nil && ctx.Err() == nil {
			logger.Sugar().Errorw("metrics_server_failed", "err", err)
		}
	}()

	go eng.RunFundingLoop(ctx)

	logger.Sugar().Infow("engine_started", "markets", len(reg.ListMarkets()))

	<-ctx.Done()

	logger.Sugar().Info("shutting down, persisting engine state")
	if err := eng.PersistTo(store); err != nil {
		logger.Sugar().Errorw("engine_state_persist_failed", "err", err)
	}
}
