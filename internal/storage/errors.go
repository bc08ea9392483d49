package storage

import (
	"errors"
	"fmt"
)

// WriteErrorKind separates failures worth retrying from failures caused by the data.
type WriteErrorKind string

const (
	Connectivity WriteErrorKind = "connectivity"
	Data         WriteErrorKind = "data"
)

// WriteError classifies a failed batch write.
type WriteError struct {
	Kind WriteErrorKind
	Err  error
}

// Error implements the error interface
func (e *WriteError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err == nil {
		return fmt.Sprintf("storage: %s error", e.Kind)
	}
	return fmt.Sprintf("storage: %s error: %v", e.Kind, e.Err)
}

func (e *WriteError) Unwrap() error {
	return e.Err
}

// Is allows errors.Is to compare WriteError values by Kind
func (e *WriteError) Is(target error) bool {
	if e == nil {
		return false
	}
	t, ok := target.(*WriteError)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

var (
	ErrWriteConnectivity = &WriteError{Kind: Connectivity}
	ErrWriteData         = &WriteError{Kind: Data}

	ErrInsecureConnection = errors.New("storage: refusing unencrypted database connection")
	ErrUnknownDriver      = errors.New("storage: unknown driver")
)

func connectivityError(err error) error {
	return &WriteError{Kind: Connectivity, Err: err}
}

func dataError(err error) error {
	return &WriteError{Kind: Data, Err: err}
}

// IsRetryable reports whether a failed write may succeed if attempted again.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrWriteConnectivity)
}
