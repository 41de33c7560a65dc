package cmd

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"

	"github.com/louloulin/agentmem/internal/config"
	"github.com/louloulin/agentmem/internal/logging"
	"github.com/louloulin/agentmem/internal/retrieval"
	"github.com/louloulin/agentmem/internal/store"
	"github.com/louloulin/agentmem/internal/telemetry"
)

// app is the wired engine and stores one command works with.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	backends *store.Backends
	engine   *retrieval.Engine
	metrics  *telemetry.QueryMetrics
	tstore   *telemetry.SQLiteMetricsStore
	closeLog func()
}

// loadConfig loads the configuration for the working directory and applies
// --data-dir.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(".")
	if err != nil {
		return nil, err
	}
	if dataDirFlag != "" {
		cfg.Storage.DataDir = dataDirFlag
	}
	return cfg, nil
}

// newLogger returns a file-only logger. stdout is reserved for command
// output and, in serve mode, for JSON-RPC.
func newLogger(cfg *config.Config) (*slog.Logger, func()) {
	if debugMode {
		return slog.Default(), func() {}
	}
	logger, cleanup, err := logging.Setup(logging.ServerConfig(cfg.Server.LogLevel))
	if err != nil {
		return slog.Default(), func() {}
	}
	return logger, cleanup
}

// newEngine builds a retrieval engine from cfg. opts supply the searchers.
func newEngine(cfg *config.Config, logger *slog.Logger, opts ...retrieval.EngineOption) (*retrieval.Engine, error) {
	opts = append(opts,
		retrieval.WithClassifier(retrieval.NewClassifier(cfg.Retrieval.ClassifierCacheSize)),
		retrieval.WithThresholdCalculator(retrieval.NewThresholdCalculator(cfg.ThresholdConfig())),
		retrieval.WithLogger(logger),
	)
	return retrieval.NewEngine(cfg.EngineConfig(), opts...)
}

// openApp opens the memory store, builds the engine and, when enabled,
// starts query telemetry. Callers must Close the app.
func openApp(ctx context.Context) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	logger, closeLog := newLogger(cfg)
	a := &app{cfg: cfg, logger: logger, closeLog: closeLog}

	opts := cfg.StoreOptions()
	opts.Logger = logger
	a.backends, err = store.OpenBackends(ctx, opts)
	if err != nil {
		closeLog()
		return nil, err
	}

	a.engine, err = newEngine(cfg, logger, a.backends.EngineOptions()...)
	if err != nil {
		_ = a.Close()
		return nil, err
	}

	if cfg.Telemetry.Enabled {
		a.startTelemetry()
	}

	logger.Debug("app_opened",
		slog.String("data_dir", cfg.Storage.DataDir),
		slog.String("lexical_backend", cfg.Storage.LexicalBackend),
		slog.Bool("telemetry", a.metrics != nil))
	return a, nil
}

// startTelemetry opens telemetry.db. Failure only disables telemetry.
func (a *app) startTelemetry() {
	ts, err := telemetry.OpenSQLiteMetricsStore(filepath.Join(a.cfg.Storage.DataDir, telemetry.DBFile))
	if err != nil {
		a.logger.Warn("telemetry_open_failed", slog.String("error", err.Error()))
		return
	}

	mc := telemetry.DefaultQueryMetricsConfig()
	if interval, err := a.cfg.FlushInterval(); err == nil {
		mc.FlushInterval = interval
	}
	a.tstore = ts
	a.metrics = telemetry.NewQueryMetrics(ts, mc, a.logger)
}

// record adds a finished search to telemetry.
func (a *app) record(query string, resp *retrieval.SearchResponse) {
	if a.metrics != nil {
		a.metrics.Record(telemetry.EventFromResponse(query, resp))
	}
}

// Close flushes telemetry and closes every store.
func (a *app) Close() error {
	var errs []error
	if a.metrics != nil {
		errs = append(errs, a.metrics.Close())
	}
	if a.tstore != nil {
		errs = append(errs, a.tstore.Close())
	}
	if a.backends != nil {
		errs = append(errs, a.backends.Close())
	}
	if a.closeLog != nil {
		a.closeLog()
	}
	return errors.Join(errs...)
}
