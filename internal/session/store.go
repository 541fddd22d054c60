package session

import (
	"context"
	"errors"
	"fmt"
)

// ErrSessionNotFound is returned by reads of sessions that were never
// created or have already been deleted. Delete never returns it.
var ErrSessionNotFound = errors.New("session not found")

// Store holds per-session conversation history. Implementations must be
// safe for concurrent use from multiple request handlers; sessions are
// logically isolated even when physically stored together.
type Store interface {
	// GetOrCreate returns a snapshot of the session for id, creating
	// the session on first reference. Concurrent first access for the
	// same id must not produce two distinct logical sessions. The
	// returned value is the caller's to read freely; it never aliases
	// state a concurrent AppendTurn mutates.
	GetOrCreate(ctx context.Context, id string) (*Session, error)

	// AppendTurn appends a turn to the session history, creating the
	// session if needed. Append order is the history order.
	AppendTurn(ctx context.Context, id string, turn Turn) error

	// History returns the session turns in insertion order. The returned
	// slice is a copy; callers may not mutate stored state through it.
	History(ctx context.Context, id string) ([]Turn, error)

	// Delete removes the session. Deleting a missing session is a no-op.
	Delete(ctx context.Context, id string) error

	// ListActive returns the ids of all live sessions.
	ListActive(ctx context.Context) ([]string, error)

	// Close releases backend resources.
	Close() error
}

// Backend names accepted by the store factory.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

// FactoryConfig selects and configures a store backend.
type FactoryConfig struct {
	Backend     string `mapstructure:"backend"`
	PostgresDSN string `mapstructure:"postgres_dsn"`
	RedisAddr   string `mapstructure:"redis_addr"`
	RedisDB     int    `mapstructure:"redis_db"`
	// TTL in seconds; zero disables expiry.
	TTLSeconds int `mapstructure:"ttl_seconds"`
}

// NewStore builds the configured store backend. An empty backend name
// selects the in-memory store.
func NewStore(ctx context.Context, cfg FactoryConfig) (Store, error) {
	switch cfg.Backend {
	case "", BackendMemory:
		return NewMemoryStore(MemoryOptions{TTLSeconds: cfg.TTLSeconds}), nil
	case BackendPostgres:
		store, err := NewPostgresStore(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("postgres session store: %w", err)
		}
		return store, nil
	case BackendRedis:
		return NewRedisStore(RedisOptions{
			Addr:       cfg.RedisAddr,
			DB:         cfg.RedisDB,
			TTLSeconds: cfg.TTLSeconds,
		}), nil
	default:
		return nil, fmt.Errorf("unknown session store backend %q", cfg.Backend)
	}
}
