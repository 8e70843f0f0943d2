package model

import "errors"

// Sentinel errors shared across the engine. Handlers translate these
// into HTTP status codes; everything else surfaces as an internal error.
var (
	ErrInvalidURL        = errors.New("invalid url")
	ErrInvalidInput      = errors.New("invalid input")
	ErrEmptyContent      = errors.New("empty content")
	ErrNoContent         = errors.New("job has no stored content")
	ErrIllegalTransition = errors.New("illegal status transition")
	ErrJobNotFound       = errors.New("job not found")
	ErrCircuitOpen       = errors.New("circuit breaker is open")
	ErrRateLimited       = errors.New("rate limited")
	ErrUnavailable       = errors.New("downstream unavailable")
)
