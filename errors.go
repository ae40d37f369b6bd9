package cachegate

import (
	"errors"

	"github.com/cachegate/cachegate/store"
	"github.com/cachegate/cachegate/wire"
)

// ClientError is a client-visible failure: parse error, bad argument, not
// found, duplicate key, memory limit, or bad event kind. It always maps to
// a response frame; no client-visible error ever closes the connection.
type ClientError struct {
	Code    wire.Code
	Message string
}

func (e *ClientError) Error() string { return e.Message }

func badArgs(msg string) error   { return &ClientError{wire.CodeBadArgs, msg} }
func badKind(msg string) error   { return &ClientError{wire.CodeBadArgs, msg} }
func notFound(msg string) error  { return &ClientError{wire.CodeNotFound, msg} }
func conflict(msg string) error  { return &ClientError{wire.CodeConflict, msg} }
func memoryLimit(msg string) error {
	return &ClientError{wire.CodeInternal, msg}
}

// storeErrorToClientError maps a store package error to the wire code the
// command table assigns it.
func storeErrorToClientError(err error) error {
	switch {
	case errors.Is(err, store.ErrDuplicateKey):
		return conflict("Key already exists")
	case errors.Is(err, store.ErrNotFound):
		return notFound("Key not found")
	case errors.Is(err, store.ErrMemoryLimit):
		return memoryLimit("Would exceed memory ceiling")
	default:
		return err
	}
}
