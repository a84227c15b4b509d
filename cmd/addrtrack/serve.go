package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/quaylane/addrtrack/shield"
	"github.com/quaylane/addrtrack/tracker"
)

// serve exposes the generated reports and a small JSON API over the
// tracker database.
func serve(ctx context.Context, svc *tracker.Service, cfg *config, logger *slog.Logger) error {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	for _, mw := range shield.DefaultStack() {
		r.Use(mw)
	}

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Get("/api/snapshots", func(w http.ResponseWriter, r *http.Request) {
		snaps, err := svc.Snapshots(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, snaps)
	})

	r.Get("/api/diff", func(w http.ResponseWriter, r *http.Request) {
		oldID, err1 := strconv.ParseInt(r.URL.Query().Get("old"), 10, 64)
		newID, err2 := strconv.ParseInt(r.URL.Query().Get("new"), 10, 64)
		if err1 != nil || err2 != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "old and new snapshot ids are required"})
			return
		}
		d, err := svc.Diff(r.Context(), oldID, newID)
		if err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, tracker.ErrNoSnapshot) {
				status = http.StatusNotFound
			}
			writeError(w, status, err)
			return
		}
		writeJSON(w, http.StatusOK, d)
	})

	r.Get("/api/diff/latest", func(w http.ResponseWriter, r *http.Request) {
		d, oldSnap, newSnap, err := svc.DiffLatest(r.Context())
		if err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, tracker.ErrInsufficientHistory) {
				status = http.StatusConflict
			}
			writeError(w, status, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"old_snapshot": oldSnap,
			"new_snapshot": newSnap,
			"diff":         d,
		})
	})

	// Static site: the index page plus the generated reports.
	r.Handle("/reports/*", http.StripPrefix("/reports/",
		http.FileServer(http.Dir(cfg.Report.ReportsDir))))
	r.Handle("/*", http.FileServer(http.Dir(cfg.Report.DocsDir)))

	srv := &http.Server{
		Addr:              cfg.Serve.Addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("serving", "addr", cfg.Serve.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
