package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errUpstream = errors.New("upstream down")

func failing(context.Context) error { return errUpstream }
func passing(context.Context) error { return nil }

func testBreaker(threshold int) (*CircuitBreaker, *time.Time) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: threshold, ResetTimeout: time.Minute})
	cb.now = func() time.Time { return now }
	return cb, &now
}

func TestCircuitBreaker_OpensAfterThreshold(t *testing.T) {
	cb, _ := testBreaker(3)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		assert.ErrorIs(t, cb.Execute(ctx, failing), errUpstream)
	}
	assert.Equal(t, CircuitOpen, cb.State())

	called := false
	err := cb.Execute(ctx, func(context.Context) error { called = true; return nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called)
}

func TestCircuitBreaker_SuccessResetsCount(t *testing.T) {
	cb, _ := testBreaker(2)
	ctx := context.Background()

	_ = cb.Execute(ctx, failing)
	require.NoError(t, cb.Execute(ctx, passing))
	_ = cb.Execute(ctx, failing)
	assert.Equal(t, CircuitClosed, cb.State())
}

func TestCircuitBreaker_HalfOpenProbe(t *testing.T) {
	cb, now := testBreaker(1)
	ctx := context.Background()

	var transitions []string
	cb.cfg.OnStateChange = func(from, to CircuitState) {
		transitions = append(transitions, from.String()+"->"+to.String())
	}

	_ = cb.Execute(ctx, failing)
	assert.Equal(t, CircuitOpen, cb.State())

	*now = now.Add(2 * time.Minute)
	require.NoError(t, cb.Execute(ctx, passing))
	assert.Equal(t, CircuitClosed, cb.State())
	assert.Equal(t, []string{"closed->open", "open->half-open", "half-open->closed"}, transitions)
}

func TestCircuitBreaker_FailedProbeReopens(t *testing.T) {
	cb, now := testBreaker(1)
	ctx := context.Background()

	_ = cb.Execute(ctx, failing)
	*now = now.Add(2 * time.Minute)
	assert.ErrorIs(t, cb.Execute(ctx, failing), errUpstream)
	assert.Equal(t, CircuitOpen, cb.State())
	assert.ErrorIs(t, cb.Execute(ctx, passing), ErrCircuitOpen)
}

func TestCircuitBreaker_ShouldTrip(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 1, ShouldTrip: IsTransient})
	ctx := context.Background()

	_ = cb.Execute(ctx, failing)
	assert.Equal(t, CircuitClosed, cb.State())

	_ = cb.Execute(ctx, func(context.Context) error { return NewTransientError(errUpstream, 503) })
	assert.Equal(t, CircuitOpen, cb.State())
}

func TestExecuteVal(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{})
	v, err := ExecuteVal(context.Background(), cb, func(context.Context) (int, error) { return 42, nil })
	require.NoError(t, err)
	assert.Equal(t, 42, v)
	assert.Equal(t, 5, cb.cfg.FailureThreshold)
	assert.Equal(t, 30*time.Second, cb.cfg.ResetTimeout)
}

func TestCircuitState_String(t *testing.T) {
	assert.Equal(t, "closed", CircuitClosed.String())
	assert.Equal(t, "open", CircuitOpen.String())
	assert.Equal(t, "half-open", CircuitHalfOpen.String())
	assert.Equal(t, "unknown", CircuitState(9).String())
}
