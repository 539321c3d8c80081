package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/LokaMart/ParcelPulse/config"
	"github.com/LokaMart/ParcelPulse/internal/models"
	"github.com/LokaMart/ParcelPulse/internal/services/processor"
	"github.com/LokaMart/ParcelPulse/internal/services/scheduler"
	"github.com/LokaMart/ParcelPulse/internal/services/trackings"
	"github.com/go-chi/chi/v5"
	httpSwagger "github.com/swaggo/http-swagger"
)

type jobsHTTPOpts struct {
	httpAddr    string
	swaggerPath string
	onListen    func(httpAddr string)

	proc  *processor.Processor
	sched *scheduler.Scheduler
	svc   *trackings.Service
	cfg   *config.Config
}

func runJobsHTTPServer(ctx context.Context, opts jobsHTTPOpts) error {
	if opts.httpAddr == "" {
		opts.httpAddr = ":8082"
	}
	if opts.swaggerPath == "" {
		opts.swaggerPath = "docs/swagger.json"
	}
	if _, err := os.Stat(opts.swaggerPath); os.IsNotExist(err) {
		return fmt.Errorf("swagger file not found: %s", opts.swaggerPath)
	}

	lis, err := net.Listen("tcp", opts.httpAddr)
	if err != nil {
		return err
	}
	if opts.onListen != nil {
		opts.onListen(lis.Addr().String())
	}

	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ready"}`))
	})

	r.Get("/stats", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if opts.proc == nil {
			_, _ = w.Write([]byte(`{"error":"processor not wired"}`))
			return
		}
		_ = json.NewEncoder(w).Encode(opts.proc.Stats())
	})

	r.Get("/config", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if opts.cfg == nil {
			_, _ = w.Write([]byte(`{"error":"config not wired"}`))
			return
		}
		// Avoid dumping secrets; show only operational settings.
		out := map[string]any{
			"batchSize":               opts.cfg.Tracking.BatchSize,
			"maxConcurrent":           opts.cfg.Tracking.MaxConcurrent,
			"maxAttempts":             opts.cfg.Tracking.MaxAttempts,
			"enqueueLimit":            opts.cfg.Tracking.EnqueueLimit,
			"rateLimitPerMinute":      opts.cfg.Tracking.RateLimitPerMinute,
			"trackingIntervalSeconds": opts.cfg.Tracking.TrackingIntervalSeconds,
			"cleanupIntervalSeconds":  opts.cfg.Tracking.CleanupIntervalSeconds,
			"courierMode":             opts.cfg.Tracking.CourierMode,
		}
		_ = json.NewEncoder(w).Encode(out)
	})

	r.Post("/trigger", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if opts.sched == nil {
			_, _ = w.Write([]byte(`{"error":"scheduler not wired"}`))
			return
		}
		opts.sched.Trigger()
		_, _ = w.Write([]byte(`{"triggered":true}`))
	})

	r.Post("/caches", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		var in []models.TrackingCacheCreateInput
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			writeJSONError(w, http.StatusBadRequest, err.Error())
			return
		}
		created, err := opts.svc.RegisterShipments(r.Context(), in)
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, err.Error())
			return
		}
		_ = json.NewEncoder(w).Encode(created)
	})

	r.Get("/caches/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		id, ok := parseID(w, r)
		if !ok {
			return
		}
		caches, err := opts.svc.GetCachesByIDs(r.Context(), []uint64{id})
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if len(caches) == 0 {
			writeJSONError(w, http.StatusNotFound, "cache not found")
			return
		}
		_ = json.NewEncoder(w).Encode(caches[0])
	})

	r.Get("/caches/{id}/events", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		id, ok := parseID(w, r)
		if !ok {
			return
		}
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
		events, err := opts.svc.ListCacheEvents(r.Context(), id, limit, offset)
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, err.Error())
			return
		}
		_ = json.NewEncoder(w).Encode(events)
	})

	r.Get("/caches/{id}/logs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		id, ok := parseID(w, r)
		if !ok {
			return
		}
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		logs, err := opts.svc.ListUpdateLogs(r.Context(), id, limit)
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, err.Error())
			return
		}
		_ = json.NewEncoder(w).Encode(logs)
	})

	r.Post("/caches/{id}/refresh", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		id, ok := parseID(w, r)
		if !ok {
			return
		}
		enqueued, err := opts.svc.RequestManualUpdate(r.Context(), id)
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, err.Error())
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"enqueued": enqueued})
	})

	// Serve swagger with no-cache + cachebuster.
	r.Get("/swagger.json", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-store")
		http.ServeFile(w, r, opts.swaggerPath)
	})

	swaggerURL := "/swagger.json"
	if fi, err := os.Stat(opts.swaggerPath); err == nil {
		swaggerURL = fmt.Sprintf("/swagger.json?v=%d", fi.ModTime().Unix())
	}
	r.Get("/docs/*", httpSwagger.Handler(httpSwagger.URL(swaggerURL)))

	srv := &http.Server{Handler: r}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		_ = lis.Close()
	}()

	return srv.Serve(lis)
}

func parseID(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id == 0 {
		writeJSONError(w, http.StatusBadRequest, "invalid id")
		return 0, false
	}
	return id, true
}

func writeJSONError(w http.ResponseWriter, code int, msg string) {
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
