// Package web serves the optional status endpoint: liveness, the last cycle
// report and Prometheus metrics.
package web

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/meko-christian/imap2smtp/internal/config"
)

const shutdownTimeout = 5 * time.Second

// Server is the HTTP status endpoint. It only reads from its Tracker.
type Server struct {
	addr    string
	auth    *AuthManager
	tracker *Tracker
	log     *slog.Logger
	server  *http.Server
}

// NewServer returns a server for cfg; call Start to listen.
func NewServer(cfg config.Web, tracker *Tracker, log *slog.Logger) *Server {
	return &Server{
		addr:    cfg.Listen,
		auth:    NewAuthManager(cfg),
		tracker: tracker,
		log:     log,
	}
}

// Handler returns the router. /healthz is public; everything else requires
// credentials when they are configured.
func (s *Server) Handler() http.Handler {
	router := mux.NewRouter()
	router.Use(s.loggingMiddleware)

	router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)

	protected := router.NewRoute().Subrouter()
	protected.Use(s.auth.RequireAuth)
	protected.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	protected.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	return router
}

// Start listens on the configured address and serves until ctx is done. A
// listen failure is returned immediately.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}

	s.server = &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("Status server starting", "address", ln.Addr().String())
		errCh <- s.server.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("status server failed: %w", err)
	case <-ctx.Done():
	}

	s.log.Info("Shutting down status server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	return s.server.Shutdown(shutdownCtx)
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.log.Debug("HTTP request", "method", r.Method, "path", r.URL.Path,
			"remote", r.RemoteAddr, "duration", time.Since(start))
	})
}
