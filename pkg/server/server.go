// Package server exposes the simulation service as a JSON HTTP API.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-go-golems/conflict-sim/pkg/events"
	"github.com/go-go-golems/conflict-sim/pkg/metrics"
	"github.com/go-go-golems/conflict-sim/pkg/settings"
	"github.com/go-go-golems/conflict-sim/pkg/simulation"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

const (
	Version         = "1.0.0"
	ShutdownTimeout = 10 * time.Second
)

type Server struct {
	service  *simulation.Service
	bus      *events.Bus
	metrics  *metrics.Collector
	settings *settings.Settings

	production bool
	mux        *http.ServeMux

	// streams is cancelled when the HTTP server starts shutting down so
	// that open event streams let go of their connections.
	streams     context.Context
	stopStreams context.CancelFunc
}

type Option func(*Server)

// WithBus enables the event stream endpoint.
func WithBus(bus *events.Bus) Option {
	return func(s *Server) {
		s.bus = bus
	}
}

// WithMetrics instruments every route and serves /metrics.
func WithMetrics(c *metrics.Collector) Option {
	return func(s *Server) {
		s.metrics = c
	}
}

func WithSettings(st *settings.Settings) Option {
	return func(s *Server) {
		s.settings = st
		s.production = st.IsProduction()
	}
}

func NewServer(service *simulation.Service, options ...Option) *Server {
	ret := &Server{
		service: service,
		mux:     http.NewServeMux(),
	}
	for _, o := range options {
		o(ret)
	}
	ret.streams, ret.stopStreams = context.WithCancel(context.Background())
	ret.registerRoutes()
	return ret
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /{$}", s.handleRoot)
	s.mux.HandleFunc("GET /health", s.handleHealth)
	if s.metrics != nil {
		s.mux.Handle("GET /metrics", s.metrics.Handler())
	}

	s.mux.HandleFunc("POST /api/agents/{$}", s.handleCreateAgent)
	s.mux.HandleFunc("GET /api/agents/{$}", s.handleListAgents)
	s.mux.HandleFunc("GET /api/agents/{id}", s.handleGetAgent)
	s.mux.HandleFunc("DELETE /api/agents/{id}", s.handleDeleteAgent)

	s.mux.HandleFunc("POST /api/conversations/create", s.handleCreateConversation)
	s.mux.HandleFunc("POST /api/conversations/create-with-agents", s.handleCreateConversationWithAgents)
	s.mux.HandleFunc("POST /api/conversations/generate-response", s.handleGenerateResponse)
	s.mux.HandleFunc("POST /api/conversations/user-response", s.handleUserResponse)
	s.mux.HandleFunc("POST /api/conversations/apply-intervention", s.handleApplyIntervention)
	s.mux.HandleFunc("GET /api/conversations/{$}", s.handleListConversations)
	s.mux.HandleFunc("GET /api/conversations/{id}/tree", s.handleGetTree)
	s.mux.HandleFunc("GET /api/conversations/{id}/messages/{node}", s.handleGetMessages)
	s.mux.HandleFunc("POST /api/conversations/{id}/branch/{node}", s.handleBranch)
	s.mux.HandleFunc("GET /api/conversations/{id}/nodes/{node}/siblings", s.handleSiblings)
	s.mux.HandleFunc("POST /api/conversations/{id}/analyze", s.handleAnalyze)
	s.mux.HandleFunc("DELETE /api/conversations/{id}", s.handleDeleteConversation)
	s.mux.HandleFunc("GET /api/conversations/{id}/events", s.handleEvents)

	s.mux.HandleFunc("GET /api/visualization/{id}/tree-data", s.handleTreeData)
	s.mux.HandleFunc("GET /api/visualization/{id}/graph-data", s.handleGraphData)
}

// Handler returns the mux wrapped in the middleware chain. The metrics
// middleware sits directly on the mux so it sees the matched pattern.
func (s *Server) Handler() http.Handler {
	var h http.Handler = s.mux
	if s.metrics != nil {
		h = s.metrics.Middleware(h)
	}
	h = cors(h)
	h = logRequests(h)
	h = requestID(h)
	return s.recoverPanics(h)
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully. The
// event bus router, if any, runs alongside the server.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	srv.RegisterOnShutdown(s.stopStreams)

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		log.Info().Str("addr", addr).Str("version", Version).Msg("Starting HTTP server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "http server failed")
		}
		return nil
	})
	eg.Go(func() error {
		<-ctx.Done()
		log.Info().Msg("Shutting down HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if s.bus != nil {
		eg.Go(func() error {
			return s.bus.Run(ctx)
		})
	}
	return eg.Wait()
}
