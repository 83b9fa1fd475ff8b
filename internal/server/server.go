// Package server assembles the HTTP mux and middleware chain around the API
// handlers and realtime hub.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"pollrooms/internal/api"
	"pollrooms/internal/hub"
	"pollrooms/internal/observability/metrics"
	"pollrooms/internal/serverutil"
)

type TLSConfig struct {
	CertFile string
	KeyFile  string
}

type Config struct {
	Addr            string
	TLS             TLSConfig
	Throttle        ThrottleConfig
	Security        SecurityConfig
	Logger          *slog.Logger
	Metrics         *metrics.Recorder
	ShutdownTimeout time.Duration
	// Ready is closed once the listener accepts connections.
	Ready chan<- struct{}
}

type Server struct {
	httpServer      *http.Server
	logger          *slog.Logger
	tlsCertFile     string
	tlsKeyFile      string
	shutdownTimeout time.Duration
	ready           chan<- struct{}
}

// New wires handlers, hub, and middleware into a runnable server.
func New(handler *api.Handler, broadcaster *hub.Hub, cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	recorder := cfg.Metrics
	if recorder == nil {
		recorder = metrics.Default()
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", handler.Health)
	mux.Handle("/metrics", recorder.Handler())
	mux.HandleFunc("/api/polls", handler.Polls)
	mux.HandleFunc("/api/polls/", handler.PollByID)
	if broadcaster != nil {
		mux.HandleFunc("/api/ws", broadcaster.HandleWS)
	}
	// Unknown /api routes and everything else get the JSON 404; there are no
	// HTML pages to serve.
	mux.HandleFunc("/api/", handler.NotFound)
	mux.HandleFunc("/", handler.NotFound)

	chain := http.Handler(mux)
	chain = securityHeadersMiddleware(cfg.Security, chain)
	chain = throttleMiddleware(newThrottle(cfg.Throttle), logger, chain)
	chain = metrics.HTTPMiddleware(recorder, chain)
	chain = loggingMiddleware(logger, chain)
	chain = requestIDMiddleware(chain)

	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           chain,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		// WriteTimeout stays unset so long-lived WebSocket connections on
		// /api/ws are not severed by the server.
		IdleTimeout: 60 * time.Second,
	}

	return &Server{
		httpServer:      httpServer,
		logger:          logger,
		tlsCertFile:     cfg.TLS.CertFile,
		tlsKeyFile:      cfg.TLS.KeyFile,
		shutdownTimeout: cfg.ShutdownTimeout,
		ready:           cfg.Ready,
	}
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr, "tls", s.tlsCertFile != "")
	return serverutil.Run(ctx, serverutil.Config{
		Server:          s.httpServer,
		TLS:             serverutil.TLSConfig{CertFile: s.tlsCertFile, KeyFile: s.tlsKeyFile},
		ShutdownTimeout: s.shutdownTimeout,
		Ready:           s.ready,
	})
}

// Handler exposes the middleware-wrapped handler for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

func loggingMiddleware(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		recorder := metrics.NewResponseRecorder(w)
		start := time.Now()
		next.ServeHTTP(recorder, r)
		requestLogger(logger, r).Info("request completed",
			"method", r.Method,
			"path", r.URL.Path,
			"status", recorder.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"remote_addr", r.RemoteAddr,
		)
	})
}
