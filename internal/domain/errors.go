package domain

import "errors"

var (
	// ErrModelUnavailable is returned when the embedder or extractor cannot be
	// initialised or fails to run. It is fatal for the current request.
	ErrModelUnavailable = errors.New("model unavailable")

	// ErrIndexInconsistency marks a mismatch between the chunk and vector tables.
	ErrIndexInconsistency = errors.New("index inconsistency")

	// ErrFetchGateway wraps provider failures during a fallback fetch.
	ErrFetchGateway = errors.New("fetch gateway failure")

	ErrNotFound     = errors.New("not found")
	ErrInvalidInput = errors.New("invalid input")
)
