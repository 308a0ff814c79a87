// Package gateway is the HTTP front of the relay: it owns the listener,
// the readiness lifecycle, and the direct agent routes, and it binds
// whatever routes the protocol adapters contribute.
package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"agentrelay/internal/adapter/protocol"
	"agentrelay/internal/domain"
	"agentrelay/internal/infra/config"
	"agentrelay/internal/infra/middleware"
)

// State is the gateway lifecycle phase. Agent-dependent routes serve
// traffic only in StateReady; in every other phase they answer with the
// same unavailable payload so callers cannot distinguish which phase they
// hit.
type State int32

const (
	StateUninitialized State = iota
	StateInitializing
	StateReady
	StateShuttingDown
)

func (s State) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateShuttingDown:
		return "shutting_down"
	default:
		return "uninitialized"
	}
}

// Server serves the gateway's own routes plus all adapter routes on one
// mux. The agent reference is shared by everything the server hosts;
// exactly one agent exists per process.
type Server struct {
	cfg       *config.Config
	agent     domain.Agent
	registry  *protocol.Registry
	manifests *protocol.ManifestGenerator
	logger    *slog.Logger

	mux       *http.ServeMux
	httpSrv   *http.Server
	boundAddr string
	state     atomic.Int32
}

func NewServer(cfg *config.Config, registry *protocol.Registry, logger *slog.Logger) *Server {
	s := &Server{
		cfg:      cfg,
		registry: registry,
		logger:   logger,
		mux:      http.NewServeMux(),
	}
	s.state.Store(int32(StateUninitialized))
	s.registerCoreRoutes()
	return s
}

// SetAgent binds the process agent and its manifest generator. Called once
// during startup, before Start.
func (s *Server) SetAgent(agent domain.Agent, manifests *protocol.ManifestGenerator) {
	s.agent = agent
	s.manifests = manifests
}

// SetState moves the lifecycle phase.
func (s *Server) SetState(state State) {
	s.state.Store(int32(state))
	s.logger.Info("gateway state change", "state", state.String())
}

// State returns the current lifecycle phase.
func (s *Server) State() State {
	return State(s.state.Load())
}

// Bind implements protocol.RouteBinder. Every adapter route is wrapped in
// the readiness guard so agent-dependent surfaces fail closed uniformly.
func (s *Server) Bind(route domain.Route) {
	s.mux.HandleFunc(route.Method+" "+route.Path, s.requireReady(route.Handler))
}

// ReserveUnavailable claims the given adapter prefixes with handlers that
// always answer unavailable. Used when agent initialization failed and no
// adapters exist: the protocol surfaces still respond, uniformly, instead
// of 404ing.
func (s *Server) ReserveUnavailable(prefixes []string) {
	for _, prefix := range prefixes {
		s.mux.HandleFunc("/"+prefix, s.writeUnavailable)
		s.mux.HandleFunc("/"+prefix+"/", s.writeUnavailable)
	}
}

// Start begins serving. Blocks until ctx is cancelled or the listener
// fails.
func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.cfg.Server.Addr)
	if err != nil {
		return fmt.Errorf("gateway listen: %w", err)
	}
	s.boundAddr = listener.Addr().String()

	s.httpSrv = &http.Server{Handler: s.buildHandler(ctx)}

	s.logger.Info("gateway started", "addr", s.boundAddr)

	go func() {
		<-ctx.Done()
		s.Stop(context.Background())
	}()

	if err := s.httpSrv.Serve(listener); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("gateway serve: %w", err)
	}
	return nil
}

// Stop drains in-flight requests and shuts the listener down.
func (s *Server) Stop(ctx context.Context) error {
	s.SetState(StateShuttingDown)
	if s.httpSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return s.httpSrv.Shutdown(shutdownCtx)
	}
	return nil
}

// BoundAddr returns the actual address the server bound to. Only valid
// after Start.
func (s *Server) BoundAddr() string { return s.boundAddr }

// buildHandler wraps the mux in the middleware chain once, at Start; ctx
// bounds the rate limiter's cleanup goroutine.
func (s *Server) buildHandler(ctx context.Context) http.Handler {
	var h http.Handler = s.mux
	if s.cfg.Server.RateLimit.Enabled {
		h = middleware.RateLimit(ctx, s.cfg.Server.RateLimit.RequestsPerMin, s.cfg.Server.RateLimit.BurstSize)(h)
	}
	h = middleware.SecurityHeaders(h)
	h = middleware.Recover(s.logger.Error)(h)
	return h
}

// requireReady guards agent-dependent handlers. Anything short of
// StateReady answers with the one unavailable payload.
func (s *Server) requireReady(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.State() != StateReady || s.agent == nil {
			s.writeUnavailable(w, r)
			return
		}
		h(w, r)
	}
}

func (s *Server) writeUnavailable(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusServiceUnavailable, map[string]any{
		"detail": "Agent not initialized",
	})
}
