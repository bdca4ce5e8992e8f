package ingest

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/finscreen/internal/normalize"
)

// Fetcher retrieves the raw provider payload for one symbol.
type Fetcher interface {
	Fetch(ctx context.Context, symbol string) (map[string]any, error)
}

// Applier persists one normalized bundle.
type Applier interface {
	Apply(ctx context.Context, b *normalize.Bundle) (*ApplyResult, error)
}

// RunRecorder records per-symbol progress of a batch.
type RunRecorder interface {
	Start(ctx context.Context, runID uuid.UUID, symbol string) (int64, error)
	Complete(ctx context.Context, entryID int64, res *ApplyResult) error
	Fail(ctx context.Context, entryID int64, stage Stage, errMsg string) error
}

// Status is the per-symbol result of a batch.
type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// Outcome is the result for one symbol.
type Outcome struct {
	Status  Status       `json:"status"`
	Message string       `json:"message,omitempty"`
	Stage   Stage        `json:"-"`
	Result  *ApplyResult `json:"-"`
}

// Report maps every requested symbol to its outcome.
type Report map[string]Outcome

// Symbols returns the report's symbols in sorted order.
func (r Report) Symbols() []string {
	out := make([]string, 0, len(r))
	for s := range r {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Counts returns the number of successful and failed symbols.
func (r Report) Counts() (succeeded, failed int) {
	for _, o := range r {
		if o.Status == StatusSuccess {
			succeeded++
		} else {
			failed++
		}
	}
	return succeeded, failed
}

const msgCancelled = "batch cancelled before symbol was processed"

// Orchestrator runs ingestion for many symbols with bounded parallelism.
type Orchestrator struct {
	fetcher       Fetcher
	applier       Applier
	runLog        RunRecorder
	concurrency   int
	symbolTimeout time.Duration
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithConcurrency bounds how many symbols are processed at once.
func WithConcurrency(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.concurrency = n
		}
	}
}

// WithSymbolTimeout bounds each provider call.
func WithSymbolTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.symbolTimeout = d
		}
	}
}

// WithRunLog records each symbol in the ingest run log.
func WithRunLog(r RunRecorder) Option {
	return func(o *Orchestrator) { o.runLog = r }
}

// NewOrchestrator creates an Orchestrator.
func NewOrchestrator(fetcher Fetcher, applier Applier, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		fetcher:       fetcher,
		applier:       applier,
		concurrency:   4,
		symbolTimeout: 60 * time.Second,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// RunBatch ingests symbols and returns an outcome for every requested
// symbol, keyed by the requested spelling with surrounding blanks trimmed.
// Spellings of the same canonical symbol are processed once and share its
// outcome; blank entries are dropped. One symbol's failure never affects
// another. If ctx is cancelled, symbols not yet started are reported as
// errors and completed outcomes are kept.
func (o *Orchestrator) RunBatch(ctx context.Context, requested []string) Report {
	symbols, spellings := dedupe(requested)
	runID := uuid.New()
	log := zap.L().With(zap.String("component", "ingest.batch"), zap.String("run_id", runID.String()))

	log.Info("processing batch",
		zap.Int("symbols", len(symbols)),
		zap.Int("concurrency", o.concurrency),
	)

	var (
		mu     sync.Mutex
		report = make(Report, len(symbols))
	)
	record := func(symbol string, out Outcome) {
		mu.Lock()
		report[symbol] = out
		mu.Unlock()
	}

	var g errgroup.Group
	g.SetLimit(o.concurrency)

	var succeeded, failed atomic.Int64
	start := time.Now()

	for _, symbol := range symbols {
		if ctx.Err() != nil {
			record(symbol, Outcome{Status: StatusError, Message: msgCancelled})
			failed.Add(1)
			continue
		}
		g.Go(func() error {
			if ctx.Err() != nil {
				record(symbol, Outcome{Status: StatusError, Message: msgCancelled})
				failed.Add(1)
				return nil
			}

			out := o.processSymbol(ctx, runID, symbol)
			record(symbol, out)
			if out.Status == StatusSuccess {
				succeeded.Add(1)
			} else {
				failed.Add(1)
			}
			return nil // don't abort batch on individual failure
		})
	}
	_ = g.Wait()

	log.Info("batch complete",
		zap.Int64("succeeded", succeeded.Load()),
		zap.Int64("failed", failed.Load()),
		zap.Duration("elapsed", time.Since(start)),
	)
	return report.bySpelling(spellings)
}

// bySpelling re-keys a canonical report by the caller's spellings.
func (r Report) bySpelling(spellings map[string]string) Report {
	out := make(Report, len(spellings))
	for spelling, canonical := range spellings {
		out[spelling] = r[canonical]
	}
	return out
}

func (o *Orchestrator) processSymbol(ctx context.Context, runID uuid.UUID, symbol string) Outcome {
	log := zap.L().With(zap.String("component", "ingest.batch"), zap.String("symbol", symbol))
	start := time.Now()

	// Run-log writes must land even when the batch is being cancelled.
	logCtx := context.WithoutCancel(ctx)
	var entryID int64
	if o.runLog != nil {
		id, err := o.runLog.Start(logCtx, runID, symbol)
		if err != nil {
			log.Warn("run log start failed", zap.Error(err))
		}
		entryID = id
	}

	res, err := o.ingest(ctx, symbol)
	if err != nil {
		stage := StageOf(err)
		log.Error("ingest failed", zap.String("stage", string(stage)), zap.Error(err))
		if o.runLog != nil && entryID != 0 {
			if lerr := o.runLog.Fail(logCtx, entryID, stage, err.Error()); lerr != nil {
				log.Warn("run log fail failed", zap.Error(lerr))
			}
		}
		return Outcome{Status: StatusError, Message: err.Error(), Stage: stage}
	}

	if len(res.Warnings) > 0 {
		log.Warn("ingested with warnings", zap.Strings("warnings", res.Warnings))
	}
	log.Info("ingest complete",
		zap.Int64("company_id", res.CompanyID),
		zap.Duration("elapsed", time.Since(start)),
	)
	if o.runLog != nil && entryID != 0 {
		if lerr := o.runLog.Complete(logCtx, entryID, res); lerr != nil {
			log.Warn("run log complete failed", zap.Error(lerr))
		}
	}
	return Outcome{Status: StatusSuccess, Result: res}
}

func (o *Orchestrator) ingest(ctx context.Context, symbol string) (*ApplyResult, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, o.symbolTimeout)
	payload, err := o.fetcher.Fetch(fetchCtx, symbol)
	cancel()
	if err != nil {
		return nil, &FetchError{Symbol: symbol, Err: err}
	}

	bundle, err := normalize.Normalize(symbol, payload)
	if err != nil {
		return nil, &NormalizationError{Symbol: symbol, Err: err}
	}

	res, err := o.applier.Apply(ctx, bundle)
	if err != nil {
		var pe *PersistenceError
		if !errors.As(err, &pe) {
			err = &PersistenceError{Symbol: symbol, Err: err}
		}
		return nil, err
	}
	return res, nil
}

// dedupe canonicalizes symbols, dropping blanks and repeats while keeping
// first-seen order. spellings maps each trimmed requested spelling to its
// canonical symbol.
func dedupe(symbols []string) (canonical []string, spellings map[string]string) {
	seen := make(map[string]bool, len(symbols))
	spellings = make(map[string]string, len(symbols))
	canonical = make([]string, 0, len(symbols))
	for _, s := range symbols {
		spelling := strings.TrimSpace(s)
		c := normalize.CanonicalSymbol(spelling)
		if c == "" {
			continue
		}
		spellings[spelling] = c
		if seen[c] {
			continue
		}
		seen[c] = true
		canonical = append(canonical, c)
	}
	return canonical, spellings
}
