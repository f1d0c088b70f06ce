package session

import (
	"context"
	"sync"
	"time"

	"github.com/edanesia/eda/internal/models"
)

// MemoryStore is an in-process session store. Histories live for the life of
// the process unless a TTL is configured, in which case sessions idle longer
// than the TTL are evicted by a background janitor (the assistant promises
// users their history is cleared hourly; the janitor is what makes that true).
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	ttl      time.Duration
	stop     chan struct{}
	stopOnce sync.Once
}

// NewMemoryStore creates a memory store. ttl zero disables eviction.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	s := &MemoryStore{
		sessions: make(map[string]*Session),
		ttl:      ttl,
		stop:     make(chan struct{}),
	}
	if ttl > 0 {
		go s.janitor()
	}
	return s
}

func (s *MemoryStore) janitor() {
	interval := s.ttl / 4
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.evictIdle()
		case <-s.stop:
			return
		}
	}
}

func (s *MemoryStore) evictIdle() {
	cutoff := time.Now().Add(-s.ttl)
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, sess := range s.sessions {
		sess.mu.Lock()
		idle := sess.lastActive.Before(cutoff)
		sess.mu.Unlock()
		if idle {
			delete(s.sessions, id)
		}
	}
}

// GetOrCreate returns the session for id, creating an empty one if absent.
// Calls for the same id always return the same *Session.
func (s *MemoryStore) GetOrCreate(ctx context.Context, id string) (*Session, error) {
	s.mu.RLock()
	sess, ok := s.sessions[id]
	s.mu.RUnlock()
	if ok {
		return sess, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[id]; ok {
		return sess, nil
	}
	sess = &Session{ID: id, lastActive: time.Now()}
	s.sessions[id] = sess
	return sess, nil
}

// Append adds turns to id's history.
func (s *MemoryStore) Append(ctx context.Context, id string, turns ...models.Turn) error {
	sess, err := s.GetOrCreate(ctx, id)
	if err != nil {
		return err
	}
	sess.append(turns...)
	return nil
}

// History returns id's turns. Unknown ids yield an empty history without
// registering a session.
func (s *MemoryStore) History(ctx context.Context, id string) ([]models.Turn, error) {
	s.mu.RLock()
	sess, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	return sess.History(), nil
}

// Len returns the number of registered sessions.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Close stops the eviction janitor.
func (s *MemoryStore) Close() error {
	s.stopOnce.Do(func() { close(s.stop) })
	return nil
}
