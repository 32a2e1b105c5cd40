// Package gateway serves the HTTP surface of the coordination service: the
// strict and general A2A endpoints, search, registry management,
// coordination protocols, audit queries and the A2A JSON-RPC bridge.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"agentlink/internal/domain"
	"agentlink/internal/infra/config"
	"agentlink/internal/infra/middleware"
	"agentlink/internal/usecase"
	"agentlink/internal/usecase/coordination"
	"agentlink/internal/usecase/multiagent"
	"agentlink/internal/usecase/scheduling"
)

const (
	maxBodyBytes    = 1 << 20
	shutdownTimeout = 10 * time.Second
)

// MessageRouter routes inbound messages and search queries.
type MessageRouter interface {
	Route(ctx context.Context, req usecase.RouteRequest) (*usecase.RouteResult, error)
	Search(ctx context.Context, req usecase.SearchRequest) (*usecase.SearchResult, error)
}

// AgentRegistry is the registry surface the gateway manages.
type AgentRegistry interface {
	List() []domain.AgentRecord
	Refresh(ctx context.Context) ([]domain.AgentRecord, error)
	RegisterManual(id, endpoint, description string) (domain.AgentRecord, error)
	RemoveManual(id string) error
	Info() multiagent.SnapshotInfo
}

// Coordinator runs coordination protocols.
type Coordinator interface {
	Run(ctx context.Context, req coordination.Request) (*domain.ProtocolRun, error)
}

// TaskLister reports scheduled housekeeping tasks.
type TaskLister interface {
	Tasks() []scheduling.TaskInfo
}

// BreakerReporter lists remote endpoints whose circuit breaker is not closed.
type BreakerReporter interface {
	OpenBreakers() map[string]string
}

// MetricsSink exposes the metrics handler and records served requests.
type MetricsSink interface {
	middleware.HTTPRecorder
	Handler() http.Handler
}

// Deps are the collaborators the gateway serves. Audit, Tasks and Metrics
// are optional.
type Deps struct {
	Router      MessageRouter
	Registry    AgentRegistry
	Coordinator Coordinator
	Audit       domain.AuditQuerier
	Tasks       TaskLister
	Metrics     MetricsSink
	Breakers    BreakerReporter
}

// Server is the HTTP gateway.
type Server struct {
	deps    Deps
	cfg     config.GatewayConfig
	agent   config.AgentConfig
	baseURL string
	metrics string
	rounds  int
	logger  *slog.Logger
	started time.Time
	now     func() time.Time

	mu        sync.Mutex
	httpSrv   *http.Server
	boundAddr string
}

// NewServer creates a gateway for cfg. The handler tree is built by Handler.
func NewServer(deps Deps, cfg *config.Config, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	metricsPath := cfg.Metrics.Path
	if metricsPath == "" {
		metricsPath = "/metrics"
	}
	return &Server{
		deps:    deps,
		cfg:     cfg.Gateway,
		agent:   cfg.Agent,
		baseURL: cfg.BaseURL(),
		metrics: metricsPath,
		rounds:  cfg.Coordination.DefaultRounds,
		logger:  logger,
		started: time.Now(),
		now:     time.Now,
	}
}

// Handler builds the routed handler with the middleware chain. The rate
// limiter janitor stops when ctx is done.
func (s *Server) Handler(ctx context.Context) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)

	var rec middleware.HTTPRecorder
	if s.deps.Metrics != nil {
		rec = s.deps.Metrics
	}
	r.Use(middleware.Observe(rec))
	r.Use(middleware.SecurityHeaders)
	if s.cfg.RateLimit.Enabled {
		r.Use(middleware.RateLimit(ctx, middleware.RateLimitConfig{
			Rate:           s.cfg.RateLimit.Rate,
			Burst:          s.cfg.RateLimit.Burst,
			TrustedProxies: s.cfg.TrustedProxies,
		}))
	}

	r.Get("/", s.handleRoot)
	r.Get("/health", s.handleHealth)
	r.Get("/agentfacts", s.handleAgentFacts)

	r.Post("/a2a", s.handleA2A)
	r.Post("/query", s.handleQuery)
	r.Post("/search", s.handleSearch)

	r.Get("/agents", s.handleListAgents)
	r.Group(func(r chi.Router) {
		r.Use(adminAuth(s.cfg.AdminToken))
		r.Post("/agents/register", s.handleRegister)
		r.Delete("/agents/{id}", s.handleRemove)
		r.Post("/agents/refresh", s.handleRefresh)
	})

	r.Post("/coordinate/{protocol}", s.handleCoordinate)
	r.Get("/audit", s.handleAudit)

	if s.deps.Metrics != nil {
		r.Method(http.MethodGet, s.metrics, s.deps.Metrics.Handler())
	}
	if s.cfg.A2ARPC {
		s.mountA2A(r)
	}
	return r
}

// Start listens on the configured address and serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("gateway listen: %w", err)
	}

	srv := &http.Server{
		Handler:           s.Handler(ctx),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.mu.Lock()
	s.httpSrv = srv
	s.boundAddr = listener.Addr().String()
	s.mu.Unlock()

	s.logger.Info("gateway started", "addr", s.BoundAddr(), "base_url", s.baseURL)

	go func() {
		<-ctx.Done()
		stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = s.Stop(stopCtx)
	}()

	if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("gateway serve: %w", err)
	}
	return nil
}

// Stop gracefully shuts down the gateway server.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv := s.httpSrv
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	s.logger.Info("gateway stopping")
	return srv.Shutdown(ctx)
}

// BoundAddr returns the actual address the server is listening on.
// Only valid after Start has been called.
func (s *Server) BoundAddr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.boundAddr
}

func (s *Server) timestamp() string {
	return s.now().UTC().Format(time.RFC3339Nano)
}
