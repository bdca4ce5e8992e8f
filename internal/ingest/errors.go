package ingest

import (
	"errors"
	"fmt"
)

// Stage names the pipeline step at which a symbol failed.
type Stage string

const (
	StageFetch     Stage = "fetch"
	StageNormalize Stage = "normalize"
	StagePersist   Stage = "persist"
)

// FetchError means the provider call failed: unknown symbol, network
// failure, timeout or malformed response.
type FetchError struct {
	Symbol string
	Err    error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.Symbol, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// NormalizationError means the payload could not be mapped at all, e.g. it
// carries no usable symbol.
type NormalizationError struct {
	Symbol string
	Err    error
}

func (e *NormalizationError) Error() string {
	return fmt.Sprintf("normalize %s: %v", e.Symbol, e.Err)
}

func (e *NormalizationError) Unwrap() error { return e.Err }

// PersistenceError means the store rejected the write; the symbol's
// transaction was rolled back.
type PersistenceError struct {
	Symbol string
	Err    error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist %s: %v", e.Symbol, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// StageOf reports which stage produced err, or "" if err is not a stage error.
func StageOf(err error) Stage {
	var (
		fe *FetchError
		ne *NormalizationError
		pe *PersistenceError
	)
	switch {
	case errors.As(err, &fe):
		return StageFetch
	case errors.As(err, &ne):
		return StageNormalize
	case errors.As(err, &pe):
		return StagePersist
	default:
		return ""
	}
}
