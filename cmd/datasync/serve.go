package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/ruslano69/datasync/pkg/resultlog"
)

// NewRouter exposes health, metrics and run results of the App
func NewRouter(app *App, logger zerolog.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(requestLogger(logger))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", handleHealthz(app))
	r.Method(http.MethodGet, "/metrics", app.metrics.Handler())

	r.Get("/breakers", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, app.Breakers())
	})

	r.Get("/runs/last", handleLastRuns(app))
	r.Get("/runs/last/{pipeline}", handleLastRun(app))
	r.Get("/runs/history/{pipeline}", handleHistory(app))

	r.With(middleware.Timeout(10*time.Minute)).Post("/pipelines/{pipeline}/run", handleRunPipeline(app))

	return r
}

// requestLogger logs every HTTP request with method, path, status, and latency.
func requestLogger(logger zerolog.Logger) func(http.Handler) http.Handler {
	log := logger.With().Str("component", "http").Logger()
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			log.Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Dur("latency_ms", time.Since(start)).
				Msg("request")
		})
	}
}

// handleHealthz pings the destination database and the result log
func handleHealthz(app *App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		status := http.StatusOK
		checks := make(map[string]string)
		for name, err := range app.Ping(ctx) {
			checks[name] = "ok"
			if err != nil {
				checks[name] = err.Error()
				status = http.StatusServiceUnavailable
			}
		}
		writeJSON(w, status, checks)
	}
}

func handleLastRuns(app *App) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, app.LastRuns())
	}
}

// handleLastRun serves the last run made by this process, falling back
// to the result log when the pipeline has not run here yet.
func handleLastRun(app *App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "pipeline")
		if run, ok := app.LastRun(name); ok {
			writeJSON(w, http.StatusOK, run)
			return
		}
		if app.results == nil {
			writeError(w, http.StatusNotFound, "no run result for "+name)
			return
		}
		raw, err := app.results.Last(r.Context(), name)
		switch {
		case errors.Is(err, resultlog.ErrNoResult):
			writeError(w, http.StatusNotFound, "no run result for "+name)
		case err != nil:
			writeError(w, http.StatusBadGateway, err.Error())
		default:
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write(raw)
		}
	}
}

func handleHistory(app *App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if app.results == nil {
			writeError(w, http.StatusNotFound, "result_log is not configured")
			return
		}
		runs, err := app.results.History(r.Context(), chi.URLParam(r, "pipeline"))
		if err != nil {
			writeError(w, http.StatusBadGateway, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, runs)
	}
}

// handleRunPipeline runs a configured pipeline synchronously.
// Optional JSON body overrides the configured interface params.
func handleRunPipeline(app *App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "pipeline")
		pc, ok := app.cfg.Pipeline(name)
		if !ok {
			writeError(w, http.StatusNotFound, "unknown pipeline "+name)
			return
		}
		if r.ContentLength > 0 {
			var params map[string]any
			if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
				writeError(w, http.StatusBadRequest, "invalid params: "+err.Error())
				return
			}
			pc.Params = params
		}

		run, err := app.Run(r.Context(), pc)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		status := http.StatusOK
		if !run.Succeeded() {
			status = http.StatusUnprocessableEntity
		}
		writeJSON(w, status, run)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// serve runs the HTTP server until ctx is canceled
func serve(ctx context.Context, addr string, handler http.Handler, logger zerolog.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", addr).Msg("http server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
