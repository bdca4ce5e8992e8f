package resilience

import (
	"errors"
	"fmt"
	"net/http"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain", errors.New("bad request"), false},
		{"transient", NewTransientError(errors.New("429"), 429), true},
		{"wrapped transient", fmt.Errorf("fetch: %w", NewTransientError(errors.New("503"), 503)), true},
		{"net timeout", timeoutErr{}, true},
		{"conn refused", fmt.Errorf("dial: %w", syscall.ECONNREFUSED), true},
		{"conn reset", syscall.ECONNRESET, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTransient(tt.err))
		})
	}
}

func TestIsTransientHTTPStatus(t *testing.T) {
	for _, code := range []int{408, 429, 500, 502, 503, 504} {
		assert.True(t, IsTransientHTTPStatus(code), code)
	}
	for _, code := range []int{200, 400, 401, 403, 404, 501} {
		assert.False(t, IsTransientHTTPStatus(code), code)
	}
}

func TestTransientError_Unwrap(t *testing.T) {
	cause := errors.New("upstream " + http.StatusText(502))
	err := NewTransientError(cause, 502)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "upstream Bad Gateway", err.Error())
	assert.Equal(t, 502, err.StatusCode)
}
