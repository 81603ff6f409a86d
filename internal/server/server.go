// Package server exposes the HTTP surface: the inbound notification endpoint, the account
// API, health, and metrics.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

const webhookPath = "/api/v1/webhooks/moralis"

// Options configure the HTTP listener.
type Options struct {
	ListenAddr      string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	MetricsPath     string
}

// Routes are the handlers mounted by the server. Nil entries are not mounted.
type Routes struct {
	Webhook  http.Handler
	Accounts *AccountAPI
	Metrics  http.Handler
	// Ready reports whether dependencies (e.g. the database) are reachable.
	Ready func(ctx context.Context) error
}

// Server wraps an http.Server with graceful shutdown.
type Server struct {
	opts    Options
	handler http.Handler
	logger  zerolog.Logger
}

// New assembles the router.
func New(opts Options, routes Routes, logger zerolog.Logger) *Server {
	if opts.ListenAddr == "" {
		opts.ListenAddr = ":8080"
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 15 * time.Second
	}
	if opts.MetricsPath == "" {
		opts.MetricsPath = "/metrics"
	}
	logger = logger.With().Str("component", "http").Logger()

	mux := http.NewServeMux()
	if routes.Webhook != nil {
		mux.Handle(webhookPath, routes.Webhook)
	}
	if routes.Accounts != nil {
		routes.Accounts.register(mux)
	}
	if routes.Metrics != nil {
		mux.Handle("GET "+opts.MetricsPath, routes.Metrics)
	}
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		if routes.Ready != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := routes.Ready(ctx); err != nil {
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	return &Server{
		opts:    opts,
		handler: withRecovery(logger, withLogging(logger, mux)),
		logger:  logger,
	}
}

// Handler returns the fully wrapped router.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Run serves until ctx is cancelled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.opts.ListenAddr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, listener)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	srv := &http.Server{
		Handler:           s.handler,
		ReadTimeout:       s.opts.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      s.opts.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", listener.Addr().String()).Msg("http server listening")
		errCh <- srv.Serve(listener)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.ShutdownTimeout)
	defer cancel()
	s.logger.Info().Msg("http server shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
