package session

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const sessionKeyPrefix = "session:"

// RedisOptions configures the Redis-backed store.
type RedisOptions struct {
	Addr       string
	Password   string
	DB         int
	TTLSeconds int
}

// RedisStore keeps each session as a JSON value under a prefixed key.
// Appends go through WATCH/MULTI so concurrent turns for the same session
// never lose history.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore creates a Redis-backed session store.
func NewRedisStore(opts RedisOptions) *RedisStore {
	ttl := time.Duration(opts.TTLSeconds) * time.Second
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	return &RedisStore{client: client, ttl: ttl}
}

func (s *RedisStore) key(id string) string {
	return sessionKeyPrefix + id
}

func (s *RedisStore) load(ctx context.Context, id string) (*Session, error) {
	val, err := s.client.Get(ctx, s.key(id)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}
	var sess Session
	if err := json.Unmarshal([]byte(val), &sess); err != nil {
		return nil, err
	}
	return &sess, nil
}

func (s *RedisStore) GetOrCreate(ctx context.Context, id string) (*Session, error) {
	sess, err := s.load(ctx, id)
	if err == nil {
		return sess, nil
	}
	if !errors.Is(err, ErrSessionNotFound) {
		return nil, err
	}

	now := time.Now()
	fresh := &Session{ID: id, CreatedAt: now, UpdatedAt: now}
	val, err := json.Marshal(fresh)
	if err != nil {
		return nil, err
	}
	// SETNX keeps concurrent first access from minting two sessions.
	created, err := s.client.SetNX(ctx, s.key(id), val, s.ttl).Result()
	if err != nil {
		return nil, err
	}
	if created {
		return fresh, nil
	}
	return s.load(ctx, id)
}

func (s *RedisStore) AppendTurn(ctx context.Context, id string, turn Turn) error {
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now()
	}
	key := s.key(id)

	appendTxn := func(tx *redis.Tx) error {
		sess := &Session{ID: id, CreatedAt: time.Now()}
		val, err := tx.Get(ctx, key).Result()
		switch {
		case errors.Is(err, redis.Nil):
			// First turn creates the session.
		case err != nil:
			return err
		default:
			if err := json.Unmarshal([]byte(val), sess); err != nil {
				return err
			}
		}

		sess.Turns = append(sess.Turns, turn)
		sess.UpdatedAt = time.Now()

		encoded, err := json.Marshal(sess)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, encoded, s.ttl)
			return nil
		})
		return err
	}

	for i := 0; i < 5; i++ {
		err := s.client.Watch(ctx, appendTxn, key)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
	}
	return redis.TxFailedErr
}

func (s *RedisStore) History(ctx context.Context, id string) ([]Turn, error) {
	sess, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	return sess.Turns, nil
}

func (s *RedisStore) Delete(ctx context.Context, id string) error {
	return s.client.Del(ctx, s.key(id)).Err()
}

func (s *RedisStore) ListActive(ctx context.Context) ([]string, error) {
	var (
		ids    []string
		cursor uint64
	)
	for {
		keys, next, err := s.client.Scan(ctx, cursor, sessionKeyPrefix+"*", 100).Result()
		if err != nil {
			return nil, err
		}
		for _, key := range keys {
			ids = append(ids, key[len(sessionKeyPrefix):])
		}
		cursor = next
		if cursor == 0 {
			return ids, nil
		}
	}
}

// Close closes the underlying client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
