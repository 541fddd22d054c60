package session

import (
	"context"
	"sync"
	"time"
)

// MemoryOptions configures the in-memory store.
type MemoryOptions struct {
	// TTLSeconds evicts sessions idle for longer than this; zero disables
	// the sweep.
	TTLSeconds int

	// SweepInterval overrides the eviction cadence. Zero picks a default
	// derived from the TTL.
	SweepInterval time.Duration
}

// MemoryStore is a mutex-guarded map store. It is the default backend and
// the one used by tests.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	ttl    time.Duration
	done   chan struct{}
	closed sync.Once
}

// NewMemoryStore constructs an in-memory store and, when a TTL is
// configured, starts the idle-session sweeper.
func NewMemoryStore(opts MemoryOptions) *MemoryStore {
	s := &MemoryStore{
		sessions: make(map[string]*Session),
		done:     make(chan struct{}),
	}
	if opts.TTLSeconds > 0 {
		s.ttl = time.Duration(opts.TTLSeconds) * time.Second
		interval := opts.SweepInterval
		if interval <= 0 {
			interval = s.ttl / 4
			if interval < time.Second {
				interval = time.Second
			}
		}
		go s.sweep(interval)
	}
	return s
}

func (s *MemoryStore) GetOrCreate(_ context.Context, id string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	// Hand out a snapshot, not the live session: callers read Turns
	// outside the lock while AppendTurn mutates the original under it.
	return s.getOrCreateLocked(id).snapshot(), nil
}

func (s *MemoryStore) getOrCreateLocked(id string) *Session {
	if sess, ok := s.sessions[id]; ok {
		return sess
	}
	now := time.Now()
	sess := &Session{ID: id, CreatedAt: now, UpdatedAt: now}
	s.sessions[id] = sess
	return sess
}

func (s *MemoryStore) AppendTurn(_ context.Context, id string, turn Turn) error {
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	sess := s.getOrCreateLocked(id)
	sess.Turns = append(sess.Turns, turn)
	sess.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryStore) History(_ context.Context, id string) ([]Turn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	turns := make([]Turn, len(sess.Turns))
	copy(turns, sess.Turns)
	return turns, nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
	return nil
}

func (s *MemoryStore) ListActive(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	return ids, nil
}

// Close stops the TTL sweeper.
func (s *MemoryStore) Close() error {
	s.closed.Do(func() { close(s.done) })
	return nil
}

func (s *MemoryStore) sweep(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-s.ttl)
			s.mu.Lock()
			for id, sess := range s.sessions {
				if sess.UpdatedAt.Before(cutoff) {
					delete(s.sessions, id)
				}
			}
			s.mu.Unlock()
		}
	}
}
