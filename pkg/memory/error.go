package memory

import "errors"

// Sentinel errors for the memory system. Backend failures wrap these so the
// protocol layer can map any error chain onto a wire code via CodeOf.
var (
	// ErrInvalidParameter indicates malformed or out-of-range input,
	// rejected before any I/O.
	ErrInvalidParameter = errors.New("invalid parameter")

	// ErrMemoryNotFound indicates the referenced memory id is absent or not
	// owned by the caller's user.
	ErrMemoryNotFound = errors.New("memory not found")

	// ErrEmbedding indicates an embedding backend failure.
	ErrEmbedding = errors.New("embedding failed")

	// ErrStorage indicates a persistence layer failure.
	ErrStorage = errors.New("storage failed")

	// ErrRateLimit indicates upstream provider throttling.
	ErrRateLimit = errors.New("rate limited")
)

// Code is a wire-level error code.
type Code string

const (
	CodeInvalidParameter Code = "INVALID_PARAMETER"
	CodeMemoryNotFound   Code = "MEMORY_NOT_FOUND"
	CodeEmbeddingError   Code = "EMBEDDING_ERROR"
	CodeStorageError     Code = "STORAGE_ERROR"
	CodeRateLimit        Code = "RATE_LIMIT"
)

// CodeOf maps an error chain onto its wire code. Unrecognized errors are
// reported as storage errors so the caller always receives a well-formed
// envelope.
func CodeOf(err error) Code {
	switch {
	case errors.Is(err, ErrInvalidParameter):
		return CodeInvalidParameter
	case errors.Is(err, ErrMemoryNotFound):
		return CodeMemoryNotFound
	case errors.Is(err, ErrRateLimit):
		return CodeRateLimit
	case errors.Is(err, ErrEmbedding):
		return CodeEmbeddingError
	default:
		return CodeStorageError
	}
}
