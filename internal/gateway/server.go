package gateway

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server is the gateway HTTP server.
type Server struct {
	httpServer *http.Server
}

// NewServer wires the handler into a router and returns the Server.
// WriteTimeout stays generous because streaming responses hold the
// connection for the whole generation.
func NewServer(addr string, h *Handler, requestTimeout time.Duration) *Server {
	r := mux.NewRouter()
	r.HandleFunc("/v1/chat/completions", h.ChatCompletions).Methods(http.MethodPost)
	r.HandleFunc("/v1/models", h.Models).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	r.Use(recoveryMiddleware, loggingMiddleware)

	return &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      r,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: requestTimeout + 10*time.Second,
			IdleTimeout:  60 * time.Second,
		},
	}
}

// Start begins listening and blocks until the server is stopped.
func (s *Server) Start() error {
	return s.httpServer.ListenAndServe()
}

// Handler returns the underlying http.Handler (for httptest in tests).
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
