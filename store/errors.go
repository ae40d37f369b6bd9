package store

import "errors"

// Errors returned by Store operations. Callers map these to wire.Code via
// the taxonomy in package cachegate; Store itself knows nothing about the
// wire format.
var (
	ErrDuplicateKey = errors.New("duplicate key")
	ErrNotFound     = errors.New("key not found")
	ErrMemoryLimit  = errors.New("would exceed memory ceiling")
)
