// Package api exposes the inbound webhook endpoint and a small read-only
// JSON API over the collected state.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strconv"
	"time"

	"github.com/tubone24/switchbot-hub/internal/model"
	"github.com/tubone24/switchbot-hub/internal/registry"
	"github.com/tubone24/switchbot-hub/internal/store"
)

// Sink receives webhook readings. Implemented by the ingest router.
type Sink interface {
	Ingest(ctx context.Context, reading model.Reading) error
}

// Server is the HTTP surface: the vendor webhook plus status endpoints.
type Server struct {
	listen      string
	webhookPath string
	store       *store.Store
	reg         *registry.Registry
	sink        Sink
	startedAt   time.Time
}

// New creates the server. webhookPath may be empty to disable the inbound
// webhook endpoint.
func New(listen, webhookPath string, st *store.Store, reg *registry.Registry, sink Sink) *Server {
	return &Server{
		listen:      listen,
		webhookPath: webhookPath,
		store:       st,
		reg:         reg,
		sink:        sink,
		startedAt:   time.Now(),
	}
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	if s.webhookPath != "" {
		mux.HandleFunc("POST "+s.webhookPath, s.handleWebhook)
	}
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.HandleFunc("GET /api/devices", s.handleDevices)
	mux.HandleFunc("GET /api/devices/{id}/history", s.handleHistory)
	mux.HandleFunc("GET /api/summary/{id}", s.handleSummary)
	return s.recoverMiddleware(s.logMiddleware(mux))
}

// Run serves until the context is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server started", "listen", s.listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("http shutdown failed", "error", err)
		}
		slog.Info("http server stopped")
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *Server) logMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		slog.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"remote", r.RemoteAddr,
			"duration", time.Since(start).Round(time.Millisecond))
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				slog.Error("handler panic", "path", r.URL.Path, "panic", rec, "stack", string(debug.Stack()))
				http.Error(w, "internal server error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	lastPolls := map[string]string{}
	for id, t := range s.reg.LastPolls() {
		lastPolls[id] = t.UTC().Format(time.RFC3339)
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"status":     "ok",
		"uptime":     time.Since(s.startedAt).Round(time.Second).String(),
		"devices":    len(s.reg.Snapshot()),
		"last_polls": lastPolls,
	})
}

func (s *Server) handleDevices(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.reg.Snapshot())
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	deviceID := r.PathValue("id")

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 || parsed > 1000 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = parsed
	}

	events, err := s.store.History(deviceID, limit)
	if err != nil {
		slog.Error("history query failed", "device_id", deviceID, "error", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	respondJSON(w, http.StatusOK, events)
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	deviceID := r.PathValue("id")

	date := r.URL.Query().Get("date")
	if date == "" {
		date = time.Now().Format("2006-01-02")
	} else if _, err := time.Parse("2006-01-02", date); err != nil {
		http.Error(w, "invalid date, want YYYY-MM-DD", http.StatusBadRequest)
		return
	}

	summary, err := s.store.DailySensorSummary(deviceID, date)
	if err != nil {
		slog.Error("summary query failed", "device_id", deviceID, "error", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	if summary == nil {
		http.Error(w, "no samples for date", http.StatusNotFound)
		return
	}
	respondJSON(w, http.StatusOK, summary)
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encoding response failed", "error", err)
	}
}
