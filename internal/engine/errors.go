package engine

import "fmt"

// Kind classifies an engine failure so the HTTP layer can choose status and copy.
type Kind int

const (
	KindInternal Kind = iota
	KindRetrieval
	KindGeneration
	KindRateLimited
	KindUnavailable
)

func (k Kind) String() string {
	switch k {
	case KindRetrieval:
		return "retrieval"
	case KindGeneration:
		return "generation"
	case KindRateLimited:
		return "rate_limited"
	case KindUnavailable:
		return "unavailable"
	default:
		return "internal"
	}
}

// Error is a classified engine failure.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}
