package main

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/finscreen/internal/db"
	"github.com/sells-group/finscreen/internal/ingest"
	"github.com/sells-group/finscreen/internal/refdata"
	"github.com/sells-group/finscreen/internal/resilience"
	"github.com/sells-group/finscreen/pkg/marketdata"
)

// openPool connects to the configured database.
func openPool(ctx context.Context) (*pgxpool.Pool, error) {
	pool, err := db.Open(ctx, cfg.Store.DatabaseURL, db.PoolConfig{
		MaxConns: cfg.Store.MaxConns,
		MinConns: cfg.Store.MinConns,
	})
	if err != nil {
		return nil, eris.Wrap(err, "open database")
	}
	return pool, nil
}

// newProvider builds the market-data client from config.
func newProvider() *marketdata.Client {
	p := cfg.Provider
	retry := resilience.DefaultRetryConfig()
	retry.MaxAttempts = p.MaxRetries + 1

	return marketdata.NewClient(p.BaseURL,
		marketdata.WithAPIKey(p.APIKey),
		marketdata.WithTimeout(p.Timeout()),
		marketdata.WithRateLimit(p.RateLimit),
		marketdata.WithRetry(retry),
		marketdata.WithCircuitBreaker(p.BreakerThreshold, p.BreakerReset()),
	)
}

// newOrchestrator wires the batch pipeline against pool and provider.
func newOrchestrator(pool *pgxpool.Pool, provider ingest.Fetcher) *ingest.Orchestrator {
	coordinator := ingest.NewCoordinator(pool, refdata.NewResolver())
	return ingest.NewOrchestrator(provider, coordinator,
		ingest.WithConcurrency(cfg.Batch.MaxConcurrentSymbols),
		ingest.WithSymbolTimeout(cfg.Batch.SymbolTimeout()),
		ingest.WithRunLog(ingest.NewRunLog(pool)),
	)
}
