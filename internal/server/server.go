package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/keeperlabs/stakekeeper/internal/ports"
)

const defaultMaxPage = 200

// Config holds server configuration and the ports the handlers read from.
type Config struct {
	Port    int
	MaxPage int

	AttestationPrice float64
	AttestationAsset string

	Chain    ports.ChainGateway
	Registry ports.StakeRegistry
	Ledger   ports.Ledger
}

// Server exposes the keeper's read API and the attestation endpoint.
// It never writes to the chain; the only ledger write is the
// attestation fee booked on a payment receipt.
type Server struct {
	router *chi.Mux
	server *http.Server

	chain    ports.ChainGateway
	registry ports.StakeRegistry
	ledger   ports.Ledger

	attestationPrice float64
	attestationAsset string
	maxPage          int
	started          time.Time
}

// New creates the HTTP server.
func New(cfg Config) *Server {
	if cfg.MaxPage <= 0 {
		cfg.MaxPage = defaultMaxPage
	}
	s := &Server{
		router:           chi.NewRouter(),
		chain:            cfg.Chain,
		registry:         cfg.Registry,
		ledger:           cfg.Ledger,
		attestationPrice: cfg.AttestationPrice,
		attestationAsset: cfg.AttestationAsset,
		maxPage:          cfg.MaxPage,
		started:          time.Now(),
	}

	s.setupMiddleware()
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(middleware.Timeout(60 * time.Second))

	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Payment-Receipt"},
		ExposedHeaders: []string{"X-Payment-Amount", "X-Payment-Asset", "X-Payment-Address"},
		MaxAge:         300,
	}))
}

func (s *Server) setupRoutes() {
	s.router.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/status", s.handleStatus)
		r.Get("/treasury", s.handleTreasury)
		r.Get("/actions", s.handleActions)
		r.Get("/series", s.handleSeries)
	})

	s.router.Get("/attestation/{wallet}", s.handleAttestation)
}

// Start blocks serving requests until Shutdown or a listen failure.
func (s *Server) Start() error {
	slog.Info("server: listening", "addr", s.server.Addr)
	return s.server.ListenAndServe()
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	slog.Info("server: shutting down")
	return s.server.Shutdown(ctx)
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		slog.Info("server: request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()))
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("server: encode response failed", "err", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}
