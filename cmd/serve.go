package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/goccy/go-json"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/finscreen/internal/ingest"
	"github.com/sells-group/finscreen/internal/resilience"
	"github.com/sells-group/finscreen/pkg/marketdata"
)

var servePort int

// passThrough lists the provider resources exposed at /{resource}/{symbol}.
var passThrough = map[string]bool{
	"info":                  true,
	"history":               true,
	"actions":               true,
	"dividends":             true,
	"splits":                true,
	"financials":            true,
	"quarterly_financials":  true,
	"sustainability":        true,
	"recommendations":       true,
	"earnings":              true,
	"quarterly_earnings":    true,
	"major_holders":         true,
	"institutional_holders": true,
	"calendar":              true,
	"options":               true,
	"isin":                  true,
	"news":                  true,
}

// batchRunner runs an ingest batch.
type batchRunner interface {
	RunBatch(ctx context.Context, symbols []string) ingest.Report
}

// rawFetcher proxies provider resources.
type rawFetcher interface {
	Raw(ctx context.Context, parts ...string) ([]byte, error)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}
		cfg.Server.Port = port
		if err := cfg.Validate("serve"); err != nil {
			return err
		}

		pool, err := openPool(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()

		provider := newProvider()
		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           buildRouter(newOrchestrator(pool, provider), provider),
			ReadHeaderTimeout: 10 * time.Second,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}

func buildRouter(runner batchRunner, provider rawFetcher) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	// Outcomes are keyed by the symbols as sent.
	r.Post("/scrap", func(w http.ResponseWriter, req *http.Request) {
		var body struct {
			Symbols []string `json:"symbols"`
		}
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
			return
		}
		if len(body.Symbols) == 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "symbols is required"})
			return
		}
		writeJSON(w, http.StatusOK, runner.RunBatch(req.Context(), body.Symbols))
	})

	r.Get("/option_chain/{symbol}/{expiration}", func(w http.ResponseWriter, req *http.Request) {
		proxy(w, req, provider, "option_chain", chi.URLParam(req, "symbol"), chi.URLParam(req, "expiration"))
	})

	r.Get("/{resource}/{symbol}", func(w http.ResponseWriter, req *http.Request) {
		resource := chi.URLParam(req, "resource")
		if !passThrough[resource] {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown resource " + resource})
			return
		}
		proxy(w, req, provider, resource, chi.URLParam(req, "symbol"))
	})

	return r
}

func proxy(w http.ResponseWriter, req *http.Request, provider rawFetcher, parts ...string) {
	body, err := provider.Raw(req.Context(), parts...)
	if err != nil {
		status := http.StatusBadGateway
		switch {
		case errors.Is(err, marketdata.ErrNotFound):
			status = http.StatusNotFound
		case errors.Is(err, resilience.ErrCircuitOpen):
			status = http.StatusServiceUnavailable
		}
		zap.L().Warn("provider pass-through failed",
			zap.String("component", "serve"),
			zap.Strings("path", parts),
			zap.Error(err),
		)
		writeJSON(w, status, map[string]string{"error": err.Error()})
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
