package engine

import "errors"

var (
	// ErrMissingSource is returned when ingesting a notice without a source
	ErrMissingSource = errors.New("notice source is required")

	// ErrUnknownCommand is returned by Handle for unsupported command types
	ErrUnknownCommand = errors.New("unknown command")
)
