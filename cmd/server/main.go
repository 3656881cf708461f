// FraudLens - online transaction fraud scoring service
package main

import (
	"context"
	"database/sql"
	"log/slog"
	"os"
	"time"

	_ "github.com/lib/pq"

	"github.com/karanmehta/fraudlens/internal/config"
	"github.com/karanmehta/fraudlens/internal/explain"
	"github.com/karanmehta/fraudlens/internal/logging"
	"github.com/karanmehta/fraudlens/internal/metrics"
	"github.com/karanmehta/fraudlens/internal/pipeline"
	"github.com/karanmehta/fraudlens/internal/retry"
	"github.com/karanmehta/fraudlens/internal/scorer"
	"github.com/karanmehta/fraudlens/internal/server"
	"github.com/karanmehta/fraudlens/internal/traces"
	"github.com/karanmehta/fraudlens/internal/transaction"
)

// Build info - set by ldflags
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.New("info", "text").Error("failed to load config", "error", err)
		os.Exit(1)
	}

	format := "text"
	if cfg.IsProduction() {
		format = "json"
	}
	logger := logging.New(cfg.LogLevel, format)
	slog.SetDefault(logger)

	logger.Info("starting fraudlens",
		"version", Version,
		"commit", Commit,
		"build_time", BuildTime,
		"env", cfg.Env,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Model first: a service that cannot score must not come up.
	model, err := scorer.Load(cfg.ModelPath)
	if err != nil {
		logger.Error("failed to load model artifact", "path", cfg.ModelPath, "error", err)
		os.Exit(1)
	}
	logger.Info("model loaded",
		"version", model.Version(),
		"features", len(model.FeatureNames()),
	)

	shutdownTraces, err := traces.Init(ctx, cfg.OTLPEndpoint, logger)
	if err != nil {
		logger.Error("failed to initialize tracing", "error", err)
		os.Exit(1)
	}
	defer func() {
		shutdownCtx, c := context.WithTimeout(context.Background(), 5*time.Second)
		defer c()
		_ = shutdownTraces(shutdownCtx)
	}()

	var store transaction.Store
	var db *sql.DB
	if cfg.DatabaseURL != "" {
		db, err = sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			logger.Error("failed to open database", "error", err)
			os.Exit(1)
		}
		defer func() { _ = db.Close() }()
		// The database often comes up after the service in compose setups.
		if err := retry.Do(ctx, 5, time.Second, db.Ping); err != nil {
			logger.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
		store = transaction.NewPostgresStore(db)
		logger.Info("using postgres store")

		go metrics.StartDBStatsCollector(ctx, db, 15*time.Second)
	} else {
		store = transaction.NewMemoryStore()
		logger.Warn("DATABASE_URL not set, using in-memory store (data is lost on restart)")
	}

	p := pipeline.New(pipeline.Config{
		Store:            store,
		Model:            model,
		Attributer:       explain.NewLinear(model),
		Logger:           logger,
		FlagThreshold:    cfg.FlagThreshold,
		ExplainCutoffPct: cfg.ExplainCutoffPct,
	})

	srv := server.New(cfg, p,
		server.WithLogger(logger),
		server.WithDB(db),
		server.WithScorerVersion(model.Version()),
	)

	if err := srv.Run(ctx); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}
