// Package main provides the sync worker entry point for the household ledger service.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/household-ledger/internal/config"
	"github.com/household-ledger/internal/engine"
	"github.com/household-ledger/internal/logging"
	"github.com/household-ledger/internal/provider"
	"github.com/household-ledger/internal/storage"
	"github.com/household-ledger/internal/syncer"
	"github.com/household-ledger/internal/twofactor"
	"github.com/household-ledger/internal/vault"
	"github.com/household-ledger/internal/worker"
)

func main() {
	fmt.Println("Household Ledger Sync Worker")
	log.Println("Worker starting...")

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize structured logging
	logging.InitGlobalLogger(
		logging.ParseLogLevel(cfg.Logging.Level),
		logging.ParseLogFormat(cfg.Logging.Format),
	)

	// Initialize database connections
	log.Println("Connecting to databases...")

	// Connect to Postgres
	postgres, err := storage.NewPostgresDB(&cfg.Postgres)
	if err != nil {
		log.Fatalf("Failed to connect to Postgres: %v", err)
	}
	defer postgres.Close()

	// The worker never initiates two-factor challenges, but the otpbank
	// adapter still needs a session store to construct. Interactive
	// challenges belong to the API server.
	var sessions twofactor.SessionStore
	if cfg.Sync.UseMemorySession {
		sessions = twofactor.NewMemoryStore(cfg.Sync.SessionTTL)
	} else {
		redis, err := storage.NewRedisCache(&cfg.Redis)
		if err != nil {
			log.Fatalf("Failed to connect to Redis: %v", err)
		}
		defer redis.Close()

		sessions, err = twofactor.NewRedisStore(redis.Client(), cfg.Sync.SessionTTL)
		if err != nil {
			log.Fatalf("Failed to create two-factor session store: %v", err)
		}
	}

	log.Println("Database connections established")

	// Credential vault
	credVault, err := vault.NewFromHex(cfg.Vault.Key)
	if err != nil {
		log.Fatalf("Failed to initialize credential vault: %v", err)
	}

	// Initialize provider adapters
	log.Println("Initializing provider adapters...")
	registry := provider.NewRegistry()

	if err := registry.Register(provider.NewDemoBankAdapter(&cfg.Providers.DemoBank)); err != nil {
		log.Fatalf("Failed to register demobank adapter: %v", err)
	}
	otpBank, err := provider.NewOTPBankAdapter(&cfg.Providers.OTPBank, sessions)
	if err != nil {
		log.Fatalf("Failed to create otpbank adapter: %v", err)
	}
	if err := registry.Register(otpBank); err != nil {
		log.Fatalf("Failed to register otpbank adapter: %v", err)
	}

	// Initialize repositories
	connectionRepo := storage.NewConnectionRepository(postgres)
	jobRepo := storage.NewSyncJobRepository(postgres)
	accountRepo := storage.NewAccountRepository(postgres)
	categoryRepo := storage.NewCategoryRepository(postgres)
	ruleRepo := storage.NewRuleRepository(postgres)
	txRepo := storage.NewTransactionRepository(postgres)

	// Categorization engine
	catEngine := engine.NewEngine(nil, ruleRepo.Create)

	// Sync orchestrator
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
		log.Fatalf("Failed to create sync service: %v", err)
	}

	// Start the sync worker
	log.Println("Starting sync worker...")
	ctx := context.Background()

	syncWorker, err := worker.NewSyncWorker(&worker.SyncWorkerConfig{
		SyncService:  syncService,
		Households:   connectionRepo,
		PollInterval: cfg.Sync.PollInterval,
	})
	if err != nil {
		log.Fatalf("Failed to create sync worker: %v", err)
	}

	if err := syncWorker.Start(ctx); err != nil {
		log.Fatalf("Failed to start sync worker: %v", err)
	}

	log.Printf("Sync worker started (poll interval: %v)", cfg.Sync.PollInterval)

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down worker...")

	stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := syncWorker.Stop(stopCtx); err != nil {
		log.Printf("Worker did not stop cleanly: %v", err)
	}

	log.Println("Worker exited")
}
