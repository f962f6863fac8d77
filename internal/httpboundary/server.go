// Package httpboundary is the HTTP Boundary (spec §6.1): request
// parsing, header-based auth, CORS, body limits, and response
// serialization in front of the Chat Orchestrator and the identity,
// credit, sync, and memory leaves.
package httpboundary

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/r3labs/sse/v2"

	"github.com/nextlevelbuilder/nanobot-gateway/internal/config"
	"github.com/nextlevelbuilder/nanobot-gateway/internal/credit"
	"github.com/nextlevelbuilder/nanobot-gateway/internal/identity"
	"github.com/nextlevelbuilder/nanobot-gateway/internal/memory"
	"github.com/nextlevelbuilder/nanobot-gateway/internal/orchestrator"
	"github.com/nextlevelbuilder/nanobot-gateway/internal/providers"
	"github.com/nextlevelbuilder/nanobot-gateway/internal/sessions"
	"github.com/nextlevelbuilder/nanobot-gateway/internal/sync"
)

// maxBodyBytes is the "1 MiB request body limit" from §6.1.
const maxBodyBytes = 1 << 20

// Server wires the §6.1 endpoints onto a stdlib mux. Shaped after the
// teacher's gateway.Server: one struct holding every dependency, a
// BuildMux that registers routes once and caches the mux, and a Start
// that runs http.Server with graceful shutdown on context cancellation.
type Server struct {
	cfg          *config.Config
	resolver     *identity.Resolver
	sessions     *sessions.Manager
	ledger       *credit.Ledger
	syncTracker  *sync.Tracker
	memory       *memory.Store
	orchestrator *orchestrator.Orchestrator
	provider     *providers.LoadBalancedProvider
	logger       *slog.Logger

	sse         *sse.Server
	limiters    *rateLimiterSet
	statusCache *statusCache

	mux        *http.ServeMux
	httpServer *http.Server
}

// Deps bundles every leaf component the HTTP boundary needs.
type Deps struct {
	Config       *config.Config
	Resolver     *identity.Resolver
	Sessions     *sessions.Manager
	Ledger       *credit.Ledger
	Sync         *sync.Tracker
	Memory       *memory.Store
	Orchestrator *orchestrator.Orchestrator
	Provider     *providers.LoadBalancedProvider
	Logger       *slog.Logger
}

// NewServer builds a Server from Deps, matching the teacher's
// NewServer(cfg, ...) constructor shape.
func NewServer(deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:          deps.Config,
		resolver:     deps.Resolver,
		sessions:     deps.Sessions,
		ledger:       deps.Ledger,
		syncTracker:  deps.Sync,
		memory:       deps.Memory,
		orchestrator: deps.Orchestrator,
		provider:     deps.Provider,
		logger:       logger,
		sse:          sse.New(),
		limiters:     newRateLimiterSet(deps.Config.Gateway.RateLimitRPM),
		statusCache:  newStatusCache(),
	}
	s.sse.AutoReplay = false
	return s
}

// BuildMux creates and caches the HTTP mux with every §6.1 route
// registered, in the teacher's BuildMux style.
func (s *Server) BuildMux() *http.ServeMux {
	if s.mux != nil {
		return s.mux
	}
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)

	mux.HandleFunc("POST /api/v1/chat", s.withAuth(s.handleChat))
	mux.HandleFunc("POST /api/v1/chat/stream", s.withAuth(s.handleChatStream))
	mux.HandleFunc("POST /api/v1/chat/explore", s.withAuth(s.handleChatExplore))

	mux.HandleFunc("GET /api/v1/sessions/{id}", s.withAuth(s.handleGetSession))
	mux.HandleFunc("DELETE /api/v1/sessions/{id}", s.withAuth(s.handleDeleteSession))

	mux.HandleFunc("GET /api/v1/sync/poll", s.withAuth(s.handleSyncPoll))

	mux.HandleFunc("GET /api/v1/usage", s.withAuth(s.handleUsage))
	mux.HandleFunc("GET /api/v1/account/{id}", s.withAuth(s.handleAccount))

	mux.HandleFunc("GET /api/v1/memory", s.withAuth(s.handleGetMemory))
	mux.HandleFunc("DELETE /api/v1/memory", s.withAuth(s.handleDeleteMemory))

	mux.HandleFunc("POST /api/v1/partner/grant-credits", s.handlePartnerGrantCredits)

	s.mux = mux
	return mux
}

// Start serves the mux behind the shared middleware chain (CORS,
// security headers, body-size limit, compression) until ctx is
// cancelled, mirroring the teacher's Start's graceful-shutdown shape.
func (s *Server) Start(ctx context.Context) error {
	mux := s.BuildMux()
	handler := s.withGlobalMiddleware(mux)

	addr := fmt.Sprintf("%s:%d", s.cfg.Gateway.Host, s.cfg.Gateway.Port)
	s.httpServer = &http.Server{Addr: addr, Handler: handler}

	s.logger.Info("httpboundary starting", "addr", addr)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	if err := s.httpServer.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("httpboundary: %w", err)
	}
	return nil
}

// handleHealth reports liveness plus provider availability (§5, §9): the
// latter is expensive enough under load (every slot's circuit checked)
// that it's worth serving from the 60-second status cache rather than
// recomputing on every ping.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := s.statusCache.get(s.provider)
	writeJSON(w, http.StatusOK, status)
}
