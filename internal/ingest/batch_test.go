package ingest

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/finscreen/internal/normalize"
)

type fakeFetcher struct {
	payloads map[string]map[string]any
	errs     map[string]error
	delay    time.Duration
	calls    atomic.Int64
}

func (f *fakeFetcher) Fetch(ctx context.Context, symbol string) (map[string]any, error) {
	f.calls.Add(1)
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err := f.errs[symbol]; err != nil {
		return nil, err
	}
	if p, ok := f.payloads[symbol]; ok {
		return p, nil
	}
	return map[string]any{}, nil
}

type fakeApplier struct {
	mu      sync.Mutex
	applied []string
	fail    map[string]error
}

func (a *fakeApplier) Apply(_ context.Context, b *normalize.Bundle) (*ApplyResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.fail[b.Symbol]; err != nil {
		return nil, err
	}
	a.applied = append(a.applied, b.Symbol)
	return &ApplyResult{CompanyID: int64(len(a.applied)), Officers: len(b.Officers)}, nil
}

type fakeRunLog struct {
	mu       sync.Mutex
	started  []string
	complete int
	failed   map[int64]Stage
	startErr error
}

func (l *fakeRunLog) Start(_ context.Context, _ uuid.UUID, symbol string) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.startErr != nil {
		return 0, l.startErr
	}
	l.started = append(l.started, symbol)
	return int64(len(l.started)), nil
}

func (l *fakeRunLog) Complete(_ context.Context, _ int64, _ *ApplyResult) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.complete++
	return nil
}

func (l *fakeRunLog) Fail(_ context.Context, id int64, stage Stage, _ string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.failed == nil {
		l.failed = make(map[int64]Stage)
	}
	l.failed[id] = stage
	return nil
}

func TestRunBatch_MixedOutcomes(t *testing.T) {
	fetcher := &fakeFetcher{
		payloads: map[string]map[string]any{
			"GOOD":  {"longName": "Good Co"},
			"WRONG": {"symbol": "OTHER"},
		},
		errs: map[string]error{"MISSING": errors.New("marketdata: unknown symbol")},
	}
	applier := &fakeApplier{fail: map[string]error{"DBFAIL": errors.New("unique violation")}}

	report := NewOrchestrator(fetcher, applier, WithConcurrency(2)).
		RunBatch(context.Background(), []string{"GOOD", "MISSING", "WRONG", "DBFAIL"})

	require.Len(t, report, 4)
	assert.Equal(t, StatusSuccess, report["GOOD"].Status)
	assert.Empty(t, report["GOOD"].Message)
	require.NotNil(t, report["GOOD"].Result)

	assert.Equal(t, StatusError, report["MISSING"].Status)
	assert.Equal(t, StageFetch, report["MISSING"].Stage)
	assert.Contains(t, report["MISSING"].Message, "unknown symbol")

	assert.Equal(t, StatusError, report["WRONG"].Status)
	assert.Equal(t, StageNormalize, report["WRONG"].Stage)

	assert.Equal(t, StatusError, report["DBFAIL"].Status)
	assert.Equal(t, StagePersist, report["DBFAIL"].Stage)
	assert.Contains(t, report["DBFAIL"].Message, "unique violation")

	ok, failed := report.Counts()
	assert.Equal(t, 1, ok)
	assert.Equal(t, 3, failed)
	assert.Equal(t, []string{"DBFAIL", "GOOD", "MISSING", "WRONG"}, report.Symbols())
}

func TestRunBatch_DedupesAndKeysByRequestedSpelling(t *testing.T) {
	fetcher := &fakeFetcher{}
	applier := &fakeApplier{}

	report := NewOrchestrator(fetcher, applier).
		RunBatch(context.Background(), []string{"aapl", " AAPL ", "", "msft", "MSFT", "   "})

	assert.Equal(t, []string{"AAPL", "MSFT", "aapl", "msft"}, report.Symbols())
	assert.Equal(t, int64(2), fetcher.calls.Load())
	assert.ElementsMatch(t, []string{"AAPL", "MSFT"}, applier.applied)

	assert.Equal(t, StatusSuccess, report["aapl"].Status)
	assert.Equal(t, report["AAPL"], report["aapl"])
	assert.Equal(t, report["MSFT"], report["msft"])
}

func TestRunBatch_LowercaseFailureReportedUnderRequestedKey(t *testing.T) {
	fetcher := &fakeFetcher{errs: map[string]error{"ZZZZ": errors.New("marketdata: unknown symbol")}}

	report := NewOrchestrator(fetcher, &fakeApplier{}).
		RunBatch(context.Background(), []string{"zzzz"})

	require.Contains(t, report, "zzzz")
	assert.Equal(t, StatusError, report["zzzz"].Status)
	assert.Equal(t, StageFetch, report["zzzz"].Stage)
	_, ok := report["ZZZZ"]
	assert.False(t, ok)
}

func TestRunBatch_Empty(t *testing.T) {
	report := NewOrchestrator(&fakeFetcher{}, &fakeApplier{}).RunBatch(context.Background(), nil)
	assert.Empty(t, report)
}

func TestRunBatch_SymbolTimeoutIsFetchError(t *testing.T) {
	fetcher := &fakeFetcher{delay: time.Second}
	report := NewOrchestrator(fetcher, &fakeApplier{}, WithSymbolTimeout(10*time.Millisecond)).
		RunBatch(context.Background(), []string{"SLOW"})

	require.Contains(t, report, "SLOW")
	assert.Equal(t, StatusError, report["SLOW"].Status)
	assert.Equal(t, StageFetch, report["SLOW"].Stage)
	assert.Contains(t, report["SLOW"].Message, "deadline exceeded")
}

func TestRunBatch_CancelledBatchReportsEverySymbol(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	fetcher := &fakeFetcher{}
	report := NewOrchestrator(fetcher, &fakeApplier{}).
		RunBatch(ctx, []string{"A", "B", "C"})

	require.Len(t, report, 3)
	for _, s := range []string{"A", "B", "C"} {
		assert.Equal(t, StatusError, report[s].Status)
		assert.Equal(t, msgCancelled, report[s].Message)
	}
	assert.Equal(t, int64(0), fetcher.calls.Load())
}

func TestRunBatch_CancelMidBatchKeepsCompleted(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	applier := &fakeApplier{}
	fetcher := &cancellingFetcher{cancelOn: "SECOND", cancel: cancel}

	report := NewOrchestrator(fetcher, applier, WithConcurrency(1)).
		RunBatch(ctx, []string{"FIRST", "SECOND", "THIRD"})

	require.Len(t, report, 3)
	assert.Equal(t, StatusSuccess, report["FIRST"].Status)
	assert.Equal(t, StatusError, report["SECOND"].Status)
	assert.Equal(t, StatusError, report["THIRD"].Status)
	assert.Equal(t, msgCancelled, report["THIRD"].Message)
}

// cancellingFetcher cancels the batch when it sees cancelOn.
type cancellingFetcher struct {
	cancelOn string
	cancel   context.CancelFunc
}

func (f *cancellingFetcher) Fetch(ctx context.Context, symbol string) (map[string]any, error) {
	if symbol == f.cancelOn {
		f.cancel()
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return map[string]any{}, nil
}

func TestRunBatch_RespectsConcurrencyLimit(t *testing.T) {
	var inFlight, peak atomic.Int64
	fetcher := fetchFunc(func(_ context.Context, _ string) (map[string]any, error) {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		inFlight.Add(-1)
		return map[string]any{}, nil
	})

	symbols := []string{"A", "B", "C", "D", "E", "F", "G", "H"}
	report := NewOrchestrator(fetcher, &fakeApplier{}, WithConcurrency(3)).RunBatch(context.Background(), symbols)

	assert.Len(t, report, len(symbols))
	assert.LessOrEqual(t, peak.Load(), int64(3))
}

type fetchFunc func(ctx context.Context, symbol string) (map[string]any, error)

func (f fetchFunc) Fetch(ctx context.Context, symbol string) (map[string]any, error) {
	return f(ctx, symbol)
}

func TestRunBatch_RecordsRunLog(t *testing.T) {
	runLog := &fakeRunLog{}
	fetcher := &fakeFetcher{errs: map[string]error{"BAD": errors.New("boom")}}

	report := NewOrchestrator(fetcher, &fakeApplier{}, WithConcurrency(1), WithRunLog(runLog)).
		RunBatch(context.Background(), []string{"OK", "BAD"})

	require.Len(t, report, 2)
	assert.ElementsMatch(t, []string{"OK", "BAD"}, runLog.started)
	assert.Equal(t, 1, runLog.complete)
	require.Len(t, runLog.failed, 1)
	for _, stage := range runLog.failed {
		assert.Equal(t, StageFetch, stage)
	}
}

func TestRunBatch_RunLogFailureDoesNotChangeOutcome(t *testing.T) {
	runLog := &fakeRunLog{startErr: errors.New("ingest_log missing")}
	report := NewOrchestrator(&fakeFetcher{}, &fakeApplier{}, WithRunLog(runLog)).
		RunBatch(context.Background(), []string{"OK"})

	assert.Equal(t, StatusSuccess, report["OK"].Status)
	assert.Equal(t, 0, runLog.complete)
}

func TestStageOf(t *testing.T) {
	cause := errors.New("cause")
	assert.Equal(t, StageFetch, StageOf(&FetchError{Symbol: "A", Err: cause}))
	assert.Equal(t, StageNormalize, StageOf(&NormalizationError{Symbol: "A", Err: cause}))
	assert.Equal(t, StagePersist, StageOf(&PersistenceError{Symbol: "A", Err: cause}))
	assert.Equal(t, Stage(""), StageOf(cause))

	err := &FetchError{Symbol: "A", Err: cause}
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "fetch A: cause", err.Error())
}

func TestOptions_IgnoreNonPositive(t *testing.T) {
	o := NewOrchestrator(nil, nil, WithConcurrency(0), WithSymbolTimeout(-1))
	assert.Equal(t, 4, o.concurrency)
	assert.Equal(t, 60*time.Second, o.symbolTimeout)
}
