// Package schedule exposes the latest schedule and the persisted pass history
// over HTTP.
package schedule

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/kilianp07/obsched/core/store"
	"github.com/kilianp07/obsched/infra/logger"
	"github.com/kilianp07/obsched/pkg/export"
)

// Latest provides the rows of the most recent cycle.
type Latest interface {
	Latest() (cycleID string, rows []export.Row, ok bool)
}

func authorized(w http.ResponseWriter, r *http.Request, token string) bool {
	if token == "" || r.Header.Get("Authorization") == "Bearer "+token {
		return true
	}
	http.Error(w, "unauthorized", http.StatusUnauthorized)
	return false
}

// NewScheduleHandler serves GET /api/schedule. The format query parameter
// selects json (default), csv, table or html.
func NewScheduleHandler(src Latest, token string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if !authorized(w, r, token) {
			return
		}
		id, rows, ok := src.Latest()
		if !ok {
			http.Error(w, "no cycle has completed yet", http.StatusServiceUnavailable)
			return
		}
		format := r.URL.Query().Get("format")
		switch format {
		case "", "json":
			format = "json"
			w.Header().Set("Content-Type", "application/json")
		case "csv":
			w.Header().Set("Content-Type", "text/csv")
		case "html":
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
		case "table":
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		default:
			http.Error(w, "unknown format", http.StatusBadRequest)
			return
		}
		w.Header().Set("X-Cycle-ID", id)
		if err := export.Write(w, format, rows); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	})
}

// NewHistoryHandler serves GET /api/schedule/history with optional start and
// end (RFC3339), resource and pass filters.
func NewHistoryHandler(st store.Store, token string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if !authorized(w, r, token) {
			return
		}
		q := store.Query{
			Resource: r.URL.Query().Get("resource"),
			Pass:     r.URL.Query().Get("pass"),
		}
		if s := r.URL.Query().Get("start"); s != "" {
			if t, err := time.Parse(time.RFC3339, s); err == nil {
				q.Start = t
			}
		}
		if s := r.URL.Query().Get("end"); s != "" {
			if t, err := time.Parse(time.RFC3339, s); err == nil {
				q.End = t
			}
		}
		records, err := st.Query(r.Context(), q)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if records == nil {
			records = []store.CycleRecord{}
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(records); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	})
}

// NewMux routes both handlers.
func NewMux(src Latest, st store.Store, token string) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/api/schedule", NewScheduleHandler(src, token))
	mux.Handle("/api/schedule/history", NewHistoryHandler(st, token))
	return mux
}

// Serve runs an HTTP server for h on addr until ctx is canceled.
func Serve(ctx context.Context, addr string, h http.Handler) error {
	srv := &http.Server{Addr: addr, Handler: h, ReadHeaderTimeout: 5 * time.Second}
	log := logger.New("api_server")
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Errorf("api server shutdown: %v", err)
		}
		cancel()
	}()
	log.Infof("serving schedule api on %s", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
