// Package llm provides the text generation capability used by the conversation engine.
package llm

import (
	"context"
	"errors"
)

// Generator produces a text completion for an assembled prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Structured capability signals. The engine substitutes canned user-facing
// messages for these instead of surfacing them as protocol errors.
var (
	// ErrRateLimited indicates the capability rejected the request as overloaded (HTTP 429).
	ErrRateLimited = errors.New("generation capability rate limited")
	// ErrUnavailable indicates the capability is unreachable or unavailable (HTTP 503, timeout, network failure).
	ErrUnavailable = errors.New("generation capability unavailable")
)
