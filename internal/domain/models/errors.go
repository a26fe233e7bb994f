package models

import (
	"context"
	"errors"
)

var (
	ErrDataUnavailable  = errors.New("price data unavailable")
	ErrTokenNotFound    = errors.New("token not found")
	ErrInvalidSample    = errors.New("invalid price sample")
	ErrSignalStale      = errors.New("signal stale")
	ErrSignalMalformed  = errors.New("signal malformed")
	ErrExecutionFailure = errors.New("execution failure")
	ErrSuperseded       = errors.New("superseded by emergency exit")
	ErrConfiguration    = errors.New("configuration error")
	ErrPositionNotFound = errors.New("position not found")
	ErrPositionExists   = errors.New("position already open")
	ErrNotFound         = errors.New("not found")
)

// ReasonCode maps an error to the audit ledger reason code.
func ReasonCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrSuperseded):
		return "superseded"
	case errors.Is(err, ErrDataUnavailable), errors.Is(err, ErrTokenNotFound), errors.Is(err, ErrInvalidSample):
		return "data_unavailable"
	case errors.Is(err, ErrSignalStale), errors.Is(err, ErrSignalMalformed):
		return "signal_stale"
	case errors.Is(err, ErrExecutionFailure), errors.Is(err, context.DeadlineExceeded):
		return "execution_failure"
	case errors.Is(err, ErrConfiguration):
		return "configuration"
	case errors.Is(err, ErrPositionNotFound), errors.Is(err, ErrPositionExists):
		return "position_state"
	default:
		return "internal"
	}
}
