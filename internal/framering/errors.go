package framering

import "errors"

// Sentinel errors returned by Ring operations. Callers distinguish them
// with errors.Is; every condition is recoverable by the caller.
var (
	ErrInvalidArgument  = errors.New("framering: invalid argument")
	ErrAllocationFailed = errors.New("framering: slot allocation failed")
	ErrPayloadTooLarge  = errors.New("framering: payload exceeds slot size")
	ErrClosed           = errors.New("framering: ring closed")
)
