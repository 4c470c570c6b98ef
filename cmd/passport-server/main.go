// Package main provides the entry point for the agent passport server
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/agent-passport/go-core/internal/agent"
	"github.com/agent-passport/go-core/internal/appcred"
	"github.com/agent-passport/go-core/internal/audit"
	"github.com/agent-passport/go-core/internal/cache"
	"github.com/agent-passport/go-core/internal/challenge"
	"github.com/agent-passport/go-core/internal/config"
	"github.com/agent-passport/go-core/internal/db"
	"github.com/agent-passport/go-core/internal/httpapi"
	"github.com/agent-passport/go-core/internal/humanverify"
	"github.com/agent-passport/go-core/internal/metrics"
	"github.com/agent-passport/go-core/internal/ratelimit"
	"github.com/agent-passport/go-core/internal/risk"
	"github.com/agent-passport/go-core/internal/token"
	"github.com/agent-passport/go-core/internal/verify"
)

var (
	// Version information (set at build time)
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	var (
		configPath      = flag.String("config", "", "Path to YAML configuration file")
		logLevel        = flag.String("log-level", "", "Log level override (debug, info, warn, error)")
		logFormat       = flag.String("log-format", "", "Log format override (json, console)")
		skipMigrations  = flag.Bool("skip-migrations", false, "Skip running database migrations on startup")
		showVersion     = flag.Bool("version", false, "Show version information")
		gracefulTimeout = flag.Duration("shutdown-timeout", 30*time.Second, "Graceful shutdown timeout")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("passport-server %s\n", Version)
		fmt.Printf("  Build Time: %s\n", BuildTime)
		fmt.Printf("  Git Commit: %s\n", GitCommit)
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	if *logFormat != "" {
		cfg.LogFormat = *logFormat
	}

	logger, err := initLogger(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Starting passport server",
		zap.String("version", Version),
		zap.String("environment", cfg.Environment),
		zap.Int("port", cfg.Port),
	)

	// Durable store
	pool, err := db.Connect(db.DefaultConfig(cfg.DatabaseURL))
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer pool.Close()

	if !*skipMigrations {
		runner, err := db.NewMigrationRunner(pool, logger)
		if err != nil {
			logger.Fatal("Failed to create migration runner", zap.Error(err))
		}
		if err := runner.Up(); err != nil {
			logger.Fatal("Failed to run migrations", zap.Error(err))
		}
	}

	// Ephemeral store
	cacheCfg := cache.DefaultConfig()
	cacheCfg.URL = cfg.RedisURL
	cacheClient, err := cache.New(cacheCfg)
	if err != nil {
		logger.Fatal("Failed to connect to redis", zap.Error(err))
	}
	defer cacheClient.Close()

	// Token signing
	minter, err := token.NewMinter(&token.MinterConfig{
		SigningJWK: cfg.SigningJWK,
		TTL:        cfg.TokenTTL(),
		Logger:     logger,
	})
	if err != nil {
		logger.Fatal("Failed to load signing key", zap.Error(err))
	}
	revoker := token.NewRevoker(cacheClient.Raw())

	// Audit trail
	auditSink, err := buildAuditSink(cfg, pool)
	if err != nil {
		logger.Fatal("Failed to create audit sink", zap.Error(err))
	}
	auditLogger := audit.NewAsyncLogger(auditSink, audit.Config{Logger: logger})
	defer auditLogger.Close()

	// Core services
	agentStore := agent.NewPostgresStore(pool)
	challenges := challenge.NewManager(agentStore, cacheClient, challenge.Config{
		TTL:    cfg.ChallengeTTL(),
		Logger: logger,
	})
	agentSvc := agent.NewService(agentStore, challenges, minter, auditLogger, logger)
	appSvc := appcred.NewService(appcred.NewPostgresStore(pool), auditLogger, logger)
	riskEngine := risk.NewEngine(cacheClient, risk.NewPostgresSnapshots(pool), logger)
	verifySvc := verify.NewService(
		minter,
		revoker,
		agentStore,
		riskEngine,
		humanverify.NewPostgresReader(pool),
		verify.NewPostgresEvents(pool),
		auditLogger,
		logger,
	)

	limiter := ratelimit.NewRedisLimiter(cacheClient.Raw(), cfg.RateLimitFailOpen, logger)
	collectors := metrics.New("passport")

	serverCfg := httpapi.DefaultConfig()
	serverCfg.Port = cfg.Port
	serverCfg.CORSOrigins = cfg.CORSAllowedOrigins
	serverCfg.Production = cfg.IsProduction()

	srv, err := httpapi.New(serverCfg, httpapi.Deps{
		Agents:  agentSvc,
		Apps:    appSvc,
		Verify:  verifySvc,
		Minter:  minter,
		Revoker: revoker,
		Limiter: limiter,
		Risk:    riskEngine,
		Metrics: collectors,
		Logger:  logger,
	})
	if err != nil {
		logger.Fatal("Failed to create HTTP server", zap.Error(err))
	}

	errChan := make(chan error, 1)
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		errChan <- srv.Start()
	}()

	select {
	case err := <-errChan:
		if err != nil {
			logger.Fatal("Server error", zap.Error(err))
		}
	case sig := <-sigChan:
		logger.Info("Received shutdown signal", zap.String("signal", sig.String()))

		ctx, cancel := context.WithTimeout(context.Background(), *gracefulTimeout)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("Shutdown error", zap.Error(err))
		}
	}

	logger.Info("Server stopped successfully")
}

// buildAuditSink selects the audit sink per configuration
func buildAuditSink(cfg *config.Config, pool *sql.DB) (audit.Sink, error) {
	switch cfg.Audit.Sink {
	case "postgres", "":
		return audit.NewPostgresSink(pool), nil
	case "stdout":
		return audit.NewStdoutSink(), nil
	case "file":
		return audit.NewFileSink(cfg.Audit.FilePath, cfg.Audit.MaxSizeMB, cfg.Audit.MaxAgeDays, cfg.Audit.MaxBackups), nil
	default:
		return nil, fmt.Errorf("unknown audit sink %q", cfg.Audit.Sink)
	}
}

// initLogger initializes the zap logger
func initLogger(level, format string) (*zap.Logger, error) {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "info":
		zapLevel = zapcore.InfoLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	var zapCfg zap.Config
	if format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}
	zapCfg.Level = zap.NewAtomicLevelAt(zapLevel)

	return zapCfg.Build()
}
