// Package main provides the API server entry point for the household ledger service.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/household-ledger/internal/api"
	"github.com/household-ledger/internal/config"
	"github.com/household-ledger/internal/engine"
	"github.com/household-ledger/internal/logging"
	"github.com/household-ledger/internal/provider"
	"github.com/household-ledger/internal/recat"
	"github.com/household-ledger/internal/storage"
	"github.com/household-ledger/internal/syncer"
	"github.com/household-ledger/internal/twofactor"
	"github.com/household-ledger/internal/vault"
)

func main() {
	fmt.Println("Household Ledger API Server")
	log.Println("Server starting...")

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize structured logging
	logLevel := logging.ParseLogLevel(cfg.Logging.Level)
	logFormat := logging.ParseLogFormat(cfg.Logging.Format)
	logging.InitGlobalLogger(logLevel, logFormat)

	logger := logging.GetGlobalLogger()
	logger.WithFields(map[string]interface{}{
		"level":  cfg.Logging.Level,
		"format": cfg.Logging.Format,
	}).Info("Structured logging initialized")

	// Initialize database connections
	logger.Info("Connecting to databases...")

	// Connect to Postgres
	postgres, err := storage.NewPostgresDB(&cfg.Postgres)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to Postgres")
	}
	defer postgres.Close()

	// Two-factor sessions live in Redis so any replica can complete a
	// challenge another replica started. The in-process store is for
	// single-instance deployments.
	var sessions twofactor.SessionStore
	if cfg.Sync.UseMemorySession {
		sessions = twofactor.NewMemoryStore(cfg.Sync.SessionTTL)
		logger.Info("Using in-process two-factor session store")
	} else {
		redis, err := storage.NewRedisCache(&cfg.Redis)
		if err != nil {
			logger.WithError(err).Fatal("Failed to connect to Redis")
		}
		defer redis.Close()

		sessions, err = twofactor.NewRedisStore(redis.Client(), cfg.Sync.SessionTTL)
		if err != nil {
			logger.WithError(err).Fatal("Failed to create two-factor session store")
		}
	}

	logger.Info("Database connections established")

	// Credential vault
	credVault, err := vault.NewFromHex(cfg.Vault.Key)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize credential vault")
	}

	// Initialize provider adapters
	logger.Info("Initializing provider adapters...")
	registry := provider.NewRegistry()

	if err := registry.Register(provider.NewDemoBankAdapter(&cfg.Providers.DemoBank)); err != nil {
		logger.WithError(err).Fatal("Failed to register demobank adapter")
	}
	otpBank, err := provider.NewOTPBankAdapter(&cfg.Providers.OTPBank, sessions)
	if err != nil {
		logger.WithError(err).Fatal("Failed to create otpbank adapter")
	}
	if err := registry.Register(otpBank); err != nil {
		logger.WithError(err).Fatal("Failed to register otpbank adapter")
	}

	// Initialize repositories
	connectionRepo := storage.NewConnectionRepository(postgres)
	jobRepo := storage.NewSyncJobRepository(postgres)
	accountRepo := storage.NewAccountRepository(postgres)
	categoryRepo := storage.NewCategoryRepository(postgres)
	ruleRepo := storage.NewRuleRepository(postgres)
	txRepo := storage.NewTransactionRepository(postgres)

	// Initialize services
	logger.Info("Initializing services...")

	// Categorization engine. No suggester is wired here; accepted
	// suggestions persist rules through the rule repository.
	catEngine := engine.NewEngine(nil, ruleRepo.Create)

	syncService, err := syncer.NewService(&syncer.ServiceConfig{
		Connections:   connectionRepo,
		Jobs:          jobRepo,
		Accounts:      accountRepo,
		Categories:    categoryRepo,
		Rules:         ruleRepo,
		Transactions:  txRepo,
		Vault:         credVault,
		Registry:      registry,
		Engine:        catEngine,
		ScrapeTimeout: cfg.Sync.ScrapeTimeout,
		StartWindow:   cfg.Sync.StartWindow,
	})
	if err != nil {
		logger.WithError(err).Fatal("Failed to create sync service")
	}

	recatService, err := recat.NewService(&recat.ServiceConfig{
		Transactions: txRepo,
		Categories:   categoryRepo,
		Rules:        ruleRepo,
		Engine:       catEngine,
		BatchSize:    cfg.Sync.BulkBatchSize,
	})
	if err != nil {
		logger.WithError(err).Fatal("Failed to create recategorization service")
	}

	logger.Info("Services initialized")

	// Create server configuration
	serverConfig := &api.ServerConfig{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		ReadTimeout:     15 * time.Second,
		WriteTimeout:    15 * time.Second,
		IdleTimeout:     60 * time.Second,
		ShutdownTimeout: 10 * time.Second,
	}

	server := api.NewServer(serverConfig, syncService, recatService, postgres, nil)

	// Start server in a goroutine
	go func() {
		if err := server.Start(); err != nil {
			logger.WithError(err).Fatal("Server failed to start")
		}
	}()

	logger.WithFields(map[string]interface{}{
		"host": cfg.Server.Host,
		"port": cfg.Server.Port,
	}).Info("Server started successfully")

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	// Create shutdown context with timeout
	ctx, cancel := context.WithTimeout(context.Background(), serverConfig.ShutdownTimeout)
	defer cancel()

	// Attempt graceful shutdown
	if err := server.Shutdown(ctx); err != nil {
		logger.WithError(err).Fatal("Server forced to shutdown")
	}

	logger.Info("Server exited")
}
