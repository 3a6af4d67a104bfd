// Package server exposes the operational HTTP surface: a health probe and
// read-only queue introspection for delayed and dead-lettered signals.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	logger "github.com/sirupsen/logrus"

	"tradeflow/src/model"
	"tradeflow/src/queue"
)

func Routes(q *queue.SignalQueue, cfg *Config) *chi.Mux {
	r := chi.NewRouter()

	r.Get("/healthcheck", func(w http.ResponseWriter, r *http.Request) {
		if _, err := w.Write([]byte("OK")); err != nil {
			logger.WithError(err).Error("/healthcheck write error")
		}
	})

	r.Get("/queue/delayed", func(w http.ResponseWriter, r *http.Request) {
		entries, err := q.PeekDelayed(r.Context(), cfg.PeekLimit)
		writeEntries(w, entries, err)
	})

	r.Get("/queue/dead", func(w http.ResponseWriter, r *http.Request) {
		minScore, _ := strconv.ParseFloat(r.URL.Query().Get("min_score"), 64)
		maxAge := 24 * time.Hour
		if raw := r.URL.Query().Get("max_age"); raw != "" {
			if parsed, err := time.ParseDuration(raw); err == nil {
				maxAge = parsed
			}
		}
		entries, err := q.PeekDead(r.Context(), minScore, maxAge, cfg.PeekLimit)
		writeEntries(w, entries, err)
	})

	return r
}

func writeEntries(w http.ResponseWriter, entries []model.SignalEntry, err error) {
	if err != nil {
		logger.WithError(err).Error("Queue peek failed")
		http.Error(w, "queue unavailable", http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []model.SignalEntry{}
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(entries); err != nil {
		logger.WithError(err).Error("Queue peek encode failed")
	}
}

// StartServer blocks until SIGINT or SIGTERM, then shuts down gracefully.
func StartServer(q *queue.SignalQueue, cfg *Config) {
	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:    addr,
		Handler: Routes(q, cfg),
	}

	go func() {
		logger.Infof("Listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("Server crashed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("Shutting down gracefully...")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.WithError(err).Error("Shutdown error")
	}
}
