// Package errors defines all exported error sentinels for the permafrost library.
//
// This is the single source of truth for error values. The top-level
// permafrost package imports from here, so callers can match the returned
// errors with errors.Is against these sentinels.
package errors

import "errors"

// Schema and registration errors
var (
	ErrDuplicateType     = errors.New("permafrost: type is already registered")
	ErrInvalidSchema     = errors.New("permafrost: invalid schema")
	ErrUnknownField      = errors.New("permafrost: field is not declared in the schema")
	ErrFieldTypeMismatch = errors.New("permafrost: field value does not match the declared field type")
)

// Cycle lifecycle errors
var (
	ErrCycleNotPrepared = errors.New("permafrost: write cycle has not been prepared")
	ErrCyclePrepared    = errors.New("permafrost: records cannot be staged after the cycle is prepared for write")
)

// Hash key binding errors. ErrNotBindable is recoverable: the encoder logs a
// warning and falls back to staged bucket hints. The others abort the cycle.
var (
	ErrNotBindable         = errors.New("permafrost: hash key field could not be bound to a type in the state")
	ErrInvalidHashKey      = errors.New("permafrost: malformed hash key")
	ErrHashKeyTypeMismatch = errors.New("permafrost: hash key field has an unhashable type")
)

// Blob writing errors
var (
	ErrBlobSizeExceeded = errors.New("permafrost: blob exceeds the pre-allocated file size")
	ErrWriterClosed     = errors.New("permafrost: blob file writer is closed")
)
