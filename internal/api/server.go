// Package api provides the HTTP API server implementation.
package api

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/household-ledger/internal/models"
	"github.com/household-ledger/internal/provider"
	"github.com/household-ledger/internal/recat"
	"github.com/household-ledger/internal/syncer"
	"github.com/household-ledger/internal/worker"
)

// Service interfaces for dependency injection and testing

// SyncServiceInterface defines the sync operations the API exposes
type SyncServiceInterface interface {
	SyncConnection(ctx context.Context, householdID, connectionID string) (*syncer.ConnectionSyncResult, error)
	SyncAll(ctx context.Context, householdID string) (*syncer.HouseholdSyncResult, error)
	InitConnectionTwoFactor(ctx context.Context, householdID, connectionID string) (*provider.TwoFactorInit, error)
	CompleteConnectionTwoFactor(ctx context.Context, householdID, connectionID, code, sessionID string) (*provider.TwoFactorResult, error)
}

// RecatServiceInterface defines the categorization operations the API exposes
type RecatServiceInterface interface {
	Recategorize(ctx context.Context, householdID, transactionID, categoryID string, createRule bool) (*models.Transaction, error)
	BulkApply(ctx context.Context, householdID string) (*recat.BulkApplyResult, error)
	MoveCategory(ctx context.Context, householdID, categoryID string, newParentID *string) error
}

// Pinger reports backend reachability for the health endpoint
type Pinger interface {
	Ping(ctx context.Context) error
}

// WorkerStatusProvider reports the background worker's state
type WorkerStatusProvider interface {
	GetStatus() *worker.WorkerStatus
}

// Server represents the HTTP API server.
type Server struct {
	router       *mux.Router
	httpServer   *http.Server
	syncService  SyncServiceInterface
	recatService RecatServiceInterface
	db           Pinger
	workerStatus WorkerStatusProvider
	config       *ServerConfig
}

// ServerConfig holds server configuration.
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// NewServer creates a new API server instance. db and workerStatus are
// optional; without them the health endpoint reports less.
func NewServer(
	config *ServerConfig,
	syncService SyncServiceInterface,
	recatService RecatServiceInterface,
	db Pinger,
	workerStatus WorkerStatusProvider,
) *Server {
	s := &Server{
		router:       mux.NewRouter(),
		syncService:  syncService,
		recatService: recatService,
		db:           db,
		workerStatus: workerStatus,
		config:       config,
	}

	s.setupRouter()

	return s
}

// setupRouter configures the router with middleware and routes
func (s *Server) setupRouter() {
	// Order matters
	s.router.Use(LoggingMiddleware)
	s.router.Use(RecoveryMiddleware)
	s.router.Use(CORSMiddleware)

	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%s", s.config.Host, s.config.Port),
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}
}

// setupRoutes configures all API routes.
func (s *Server) setupRoutes() {
	// Health check endpoint, outside household scoping
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
	s.router.HandleFunc("/api/v1/health", s.handleHealth).Methods("GET")

	// API v1 routes, all household-scoped
	api := s.router.PathPrefix("/api/v1").Subrouter()
	api.Use(HouseholdMiddleware)

	api.HandleFunc("/sync", s.handleSyncAll).Methods("POST")
	api.HandleFunc("/sync/connections/{id}", s.handleSyncConnection).Methods("POST")

	api.HandleFunc("/connections/{id}/twofactor/init", s.handleTwoFactorInit).Methods("POST")
	api.HandleFunc("/connections/{id}/twofactor/complete", s.handleTwoFactorComplete).Methods("POST")

	api.HandleFunc("/categorize/bulk", s.handleBulkApply).Methods("POST")
	api.HandleFunc("/transactions/{id}/category", s.handleRecategorize).Methods("POST")
	api.HandleFunc("/categories/{id}/parent", s.handleMoveCategory).Methods("POST")
}

// Router returns the underlying router, for tests
func (s *Server) Router() http.Handler {
	return s.router
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	log.Printf("Starting API server on %s", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	log.Println("Shutting down API server...")
	return s.httpServer.Shutdown(ctx)
}
