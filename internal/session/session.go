// Package session provides per-identifier ordered conversation memory.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/edanesia/eda/internal/models"
)

// Session is one caller's conversation history. Turns are append only and
// ordered by append order.
type Session struct {
	ID string

	mu         sync.Mutex
	turns      []models.Turn
	lastActive time.Time
}

// History returns a copy of the session's turns in append order.
func (s *Session) History() []models.Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Turn, len(s.turns))
	copy(out, s.turns)
	return out
}

func (s *Session) append(turns ...models.Turn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turns = append(s.turns, turns...)
	s.lastActive = time.Now()
}

// Store maps session identifiers to ordered conversation histories.
// Sessions are created lazily; two identifiers never share state.
type Store interface {
	// GetOrCreate returns the session for id, registering an empty one if absent.
	GetOrCreate(ctx context.Context, id string) (*Session, error)
	// Append adds turns to the end of id's history, creating the session if needed.
	Append(ctx context.Context, id string, turns ...models.Turn) error
	// History returns id's turns in append order; empty for unknown ids.
	History(ctx context.Context, id string) ([]models.Turn, error)
	Close() error
}
