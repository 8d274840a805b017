package aggregator

import "errors"

var (
	// ErrInvalidInterval is returned for a non-positive interval
	ErrInvalidInterval = errors.New("aggregation interval must be positive")

	// ErrStopped is returned when reconfiguring a stopped aggregator
	ErrStopped = errors.New("aggregator stopped")
)
