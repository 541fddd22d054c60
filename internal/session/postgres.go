package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"concierge/internal/logging"
)

const sessionTable = "support_sessions"

var sessionIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

func isSafeSessionID(id string) bool {
	return id != "" && len(id) <= 128 && sessionIDPattern.MatchString(id)
}

// PostgresStore persists sessions in a Postgres table with JSONB turns.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *logging.Logger
}

// NewPostgresStore connects a pool and ensures the schema exists.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	store := &PostgresStore{
		pool:   pool,
		logger: logging.NewComponentLogger("SessionPostgresStore"),
	}
	if err := store.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return store, nil
}

// EnsureSchema creates the session table if it does not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("session store not initialized")
	}

	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
    id TEXT PRIMARY KEY,
    turns JSONB NOT NULL DEFAULT '[]'::jsonb,
    created_at TIMESTAMPTZ NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_support_sessions_updated_at ON %s (updated_at DESC);
`, sessionTable, sessionTable)

	_, err := s.pool.Exec(ctx, query)
	return err
}

func (s *PostgresStore) GetOrCreate(ctx context.Context, id string) (*Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !isSafeSessionID(id) {
		return nil, fmt.Errorf("invalid session ID")
	}

	now := time.Now()
	query := fmt.Sprintf(`
INSERT INTO %s (id, turns, created_at, updated_at)
VALUES ($1, '[]'::jsonb, $2, $2)
ON CONFLICT (id) DO UPDATE SET updated_at = %s.updated_at
RETURNING id, turns, created_at, updated_at
`, sessionTable, sessionTable)

	var (
		turnsJSON []byte
		sess      Session
	)
	err := s.pool.QueryRow(ctx, query, id, now).Scan(
		&sess.ID, &turnsJSON, &sess.CreatedAt, &sess.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(turnsJSON) > 0 {
		if err := json.Unmarshal(turnsJSON, &sess.Turns); err != nil {
			return nil, fmt.Errorf("decode turns: %w", err)
		}
	}
	return &sess, nil
}

func (s *PostgresStore) AppendTurn(ctx context.Context, id string, turn Turn) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !isSafeSessionID(id) {
		return fmt.Errorf("invalid session ID")
	}
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now()
	}

	turnJSON, err := json.Marshal(turn)
	if err != nil {
		return fmt.Errorf("encode turn: %w", err)
	}

	// Upsert keeps the append atomic: jsonb || preserves insertion order.
	query := fmt.Sprintf(`
INSERT INTO %s (id, turns, created_at, updated_at)
VALUES ($1, jsonb_build_array($2::jsonb), $3, $3)
ON CONFLICT (id) DO UPDATE
SET turns = %s.turns || $2::jsonb, updated_at = $3
`, sessionTable, sessionTable)

	_, err = s.pool.Exec(ctx, query, id, turnJSON, time.Now())
	return err
}

func (s *PostgresStore) History(ctx context.Context, id string) ([]Turn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !isSafeSessionID(id) {
		return nil, fmt.Errorf("invalid session ID")
	}

	query := fmt.Sprintf(`SELECT turns FROM %s WHERE id = $1`, sessionTable)

	var turnsJSON []byte
	if err := s.pool.QueryRow(ctx, query, id).Scan(&turnsJSON); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}

	var turns []Turn
	if len(turnsJSON) > 0 {
		if err := json.Unmarshal(turnsJSON, &turns); err != nil {
			return nil, fmt.Errorf("decode turns: %w", err)
		}
	}
	return turns, nil
}

func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !isSafeSessionID(id) {
		return nil
	}
	query := fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, sessionTable)
	if _, err := s.pool.Exec(ctx, query, id); err != nil {
		return err
	}
	return nil
}

func (s *PostgresStore) ListActive(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	query := fmt.Sprintf(`SELECT id FROM %s ORDER BY updated_at DESC`, sessionTable)

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Close releases the connection pool.
func (s *PostgresStore) Close() error {
	if s != nil && s.pool != nil {
		s.pool.Close()
	}
	return nil
}
