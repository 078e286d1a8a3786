package models

import "errors"

// Failure taxonomy. Components wrap these with fmt.Errorf("%w: ...") so callers
// can branch with errors.Is.
var (
	ErrInvalidConfig         = errors.New("invalid config")
	ErrEmbeddingUnavailable  = errors.New("embedding unavailable")
	ErrGenerationUnavailable = errors.New("generation unavailable")
	ErrRerankUnavailable     = errors.New("rerank unavailable")
	ErrDimensionMismatch     = errors.New("dimension mismatch")
	ErrIncompatibleIndex     = errors.New("incompatible index")
	ErrRetrievalUnavailable  = errors.New("retrieval unavailable")
	ErrIndexNotFound         = errors.New("index not found")
)
