package types

import "errors"

// Error kinds. Components wrap these with context, callers match with errors.Is.
var (
	ErrValidation     = errors.New("validation error")
	ErrNotFound       = errors.New("not found")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrInvalidState   = errors.New("invalid state")
	ErrProbeFailure   = errors.New("probe failure")
	ErrCircuitOpen    = errors.New("circuit breaker is open")
	ErrServicePaused  = errors.New("service is paused")
	ErrReleasePending = errors.New("release pending further approval")
)
