// Package api provides the HTTP API server implementation.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/GoofyComponent/GoofyChain/internal/logging"
	"github.com/GoofyComponent/GoofyChain/internal/models"
)

// AnalysisServiceInterface defines the interface for wallet analysis operations
type AnalysisServiceInterface interface {
	AnalyzeWallet(ctx context.Context, address, currency string) (*models.WalletAnalysis, error)
	GetAnalysis(ctx context.Context, address string) (*models.WalletAnalysis, error)
}

// PortfolioServiceInterface defines the interface for portfolio reporting operations
type PortfolioServiceInterface interface {
	GetStats(ctx context.Context, address string) (*models.PortfolioStats, error)
	GetHistory(ctx context.Context, address, currency string) ([]models.DataPoint, error)
	GetSummary(ctx context.Context, address string) (*models.TransactionsSummary, error)
}

// HealthChecker reports whether a backing dependency is reachable
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// Server represents the HTTP API server.
type Server struct {
	router           *mux.Router
	httpServer       *http.Server
	analysisService  AnalysisServiceInterface
	portfolioService PortfolioServiceInterface
	dependencies     map[string]HealthChecker
	config           *ServerConfig
}

// ServerConfig holds server configuration.
type ServerConfig struct {
	Host              string
	Port              string
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	ShutdownTimeout   time.Duration
	RequestsPerSecond int
	Burst             int
}

// NewServer creates a new API server instance.
func NewServer(
	config *ServerConfig,
	analysisService AnalysisServiceInterface,
	portfolioService PortfolioServiceInterface,
	dependencies map[string]HealthChecker,
) *Server {
	s := &Server{
		router:           mux.NewRouter(),
		analysisService:  analysisService,
		portfolioService: portfolioService,
		dependencies:     dependencies,
		config:           config,
	}

	s.setupRouter()

	return s
}

// setupRouter configures the router with middleware and routes
func (s *Server) setupRouter() {
	rateLimiter := NewRateLimiter(s.config.RequestsPerSecond, s.config.Burst)

	// Middleware order matters
	s.router.Use(LoggingMiddleware)
	s.router.Use(RecoveryMiddleware)
	s.router.Use(CORSMiddleware)
	s.router.Use(RateLimitMiddleware(rateLimiter))

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
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")

	api := s.router.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/wallet-analysis/analyze", s.handleAnalyzeWallet).Methods("POST")
	api.HandleFunc("/wallet-analysis/{address}", s.handleGetAnalysis).Methods("GET")
	api.HandleFunc("/wallet-analysis/{address}/history", s.handleGetHistory).Methods("GET")
	api.HandleFunc("/wallet-analysis/{address}/stats", s.handleGetStats).Methods("GET")
	api.HandleFunc("/wallet-analysis/{address}/summary", s.handleGetSummary).Methods("GET")
}

// handleHealth handles health check requests.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := "healthy"
	checks := make(map[string]string, len(s.dependencies))
	for name, dep := range s.dependencies {
		if err := dep.Ping(ctx); err != nil {
			status = "degraded"
			checks[name] = err.Error()
		} else {
			checks[name] = "ok"
		}
	}

	code := http.StatusOK
	if status != "healthy" {
		code = http.StatusServiceUnavailable
	}
	respondJSON(w, code, map[string]interface{}{
		"status":  status,
		"service": "goofychain",
		"checks":  checks,
	})
}

// Router returns the underlying router, for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	logging.GetGlobalLogger().WithField("addr", s.httpServer.Addr).Info("Starting API server")
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	logging.GetGlobalLogger().Info("Shutting down API server")
	return s.httpServer.Shutdown(ctx)
}
