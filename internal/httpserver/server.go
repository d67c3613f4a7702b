// Package httpserver exposes the data client over HTTP for the dashboard
// gateway.
package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/TONwisdomyang/crypto-stock-tracker/datafetch"
)

// Options configures the server.
type Options struct {
	Addr           string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	MetricsPath    string
	MetricsHandler http.Handler
}

// Server represents the gateway HTTP server
type Server struct {
	client  *datafetch.Client
	logger  *zap.Logger
	options Options
	server  *http.Server
}

// NewServer creates a new gateway HTTP server
func NewServer(client *datafetch.Client, options Options, logger *zap.Logger) *Server {
	s := &Server{
		client:  client,
		logger:  logger,
		options: options,
	}
	s.server = &http.Server{
		Addr:         options.Addr,
		Handler:      s.Router(),
		ReadTimeout:  options.ReadTimeout,
		WriteTimeout: options.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Start listens on the configured address until Stop is called. A clean
// shutdown returns nil.
func (s *Server) Start() error {
	s.logger.Info("Starting gateway HTTP server", zap.String("addr", s.options.Addr))
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop stops the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping gateway HTTP server")
	return s.server.Shutdown(ctx)
}

// Router creates and configures the HTTP router
func (s *Server) Router() *mux.Router {
	router := mux.NewRouter()

	router.HandleFunc("/data/{path:.+}", s.handleGet).Methods(http.MethodGet)
	router.HandleFunc("/data/{path:.+}", s.handleInvalidate).Methods(http.MethodDelete)
	router.HandleFunc("/data", s.handleInvalidateAll).Methods(http.MethodDelete)

	router.HandleFunc("/debug/summary", s.handleSummary).Methods(http.MethodGet)
	router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)

	if s.options.MetricsHandler != nil {
		path := s.options.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		router.Handle(path, s.options.MetricsHandler).Methods(http.MethodGet)
	}

	return router
}

// handleGet serves a document, from cache when fresh. ?refresh=true
// bypasses the cache.
func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	path := mux.Vars(r)["path"]
	cfg := s.client.Defaults()

	var (
		res *datafetch.Result
		err error
	)
	if refresh, _ := strconv.ParseBool(r.URL.Query().Get("refresh")); refresh {
		res, err = s.client.Refresh(r.Context(), path, cfg)
	} else {
		res, err = s.client.Fetch(r.Context(), path, cfg)
	}
	if err != nil {
		s.writeFetchError(w, path, err)
		return
	}

	cache := "miss"
	switch {
	case res.FromCache:
		cache = "hit"
	case res.Shared:
		cache = "shared"
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Cache", cache)
	w.Header().Set("X-Fetch-Attempts", strconv.Itoa(res.Attempts))
	w.Header().Set("Last-Modified", res.StoredAt.UTC().Format(http.TimeFormat))
	if _, err := w.Write(res.Data); err != nil {
		s.logger.Error("Failed to write response", zap.String("path", path), zap.Error(err))
	}
}

func (s *Server) handleInvalidate(w http.ResponseWriter, r *http.Request) {
	path := mux.Vars(r)["path"]
	s.client.Invalidate(path, s.client.Defaults())
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleInvalidateAll(w http.ResponseWriter, r *http.Request) {
	s.client.InvalidateAll()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	s.writeResponse(w, s.client.Summaries())
}

// handleHealth handles health check requests
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeResponse(w, map[string]interface{}{
		"status":     "healthy",
		"time":       time.Now().UTC(),
		"version":    datafetch.GetVersionInfo(),
		"in_flight":  s.client.InFlight(),
		"cache_size": s.client.Store().Len(),
	})
}

func (s *Server) writeFetchError(w http.ResponseWriter, path string, err error) {
	status := StatusFor(err)
	kind := datafetch.KindOf(err)
	if status >= http.StatusInternalServerError {
		s.logger.Warn("Fetch failed", zap.String("path", path), zap.String("kind", string(kind)), zap.Error(err))
	}
	s.writeErrorResponse(w, err.Error(), string(kind), status)
}

// StatusFor maps a fetch error to the status the gateway answers with.
func StatusFor(err error) int {
	var fe *datafetch.FetchError
	switch datafetch.KindOf(err) {
	case datafetch.KindClient:
		if errors.As(err, &fe) && fe.StatusCode >= 400 && fe.StatusCode < 500 {
			return fe.StatusCode
		}
		return http.StatusBadRequest
	case datafetch.KindTimeout:
		return http.StatusGatewayTimeout
	case datafetch.KindAborted:
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadGateway
	}
}

// writeResponse writes JSON response
func (s *Server) writeResponse(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Failed to write response", zap.Error(err))
	}
}

// writeErrorResponse writes error response
func (s *Server) writeErrorResponse(w http.ResponseWriter, message, kind string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	response := map[string]interface{}{
		"success": false,
		"error":   message,
		"kind":    kind,
	}
	if err := json.NewEncoder(w).Encode(response); err != nil {
		s.logger.Error("Failed to write error response", zap.Error(err))
	}
}
