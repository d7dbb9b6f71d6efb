package chat

import "errors"

// Sentinel errors for message and user operations.
var (
	// ErrNotFound is returned when a message or user does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInferenceFailure indicates the embedding endpoint returned no usable vector.
	ErrInferenceFailure = errors.New("inference failure")

	// ErrStoreFailure indicates a relational or vector-index backend error.
	ErrStoreFailure = errors.New("store failure")

	// ErrInvalidInput indicates a request that is missing required fields.
	ErrInvalidInput = errors.New("invalid input")
)
