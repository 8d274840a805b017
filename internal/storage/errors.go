package storage

import (
	"errors"
	"fmt"
)

var (
	// ErrNilAlert is returned when upserting a nil alert
	ErrNilAlert = errors.New("alert is nil")

	// ErrMissingID is returned when upserting an alert without an id
	ErrMissingID = errors.New("alert id is empty")

	// ErrUnknownField is returned when a predicate names an unmapped field
	ErrUnknownField = errors.New("unknown predicate field")
)

// StoreError wraps every failure returned by an AlertStore
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("alert store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

func storeErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StoreError{Op: op, Err: err}
}
