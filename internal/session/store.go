package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Namespace selects one of the three record kinds kept per visitor.
type Namespace string

const (
	NamespaceEntry     Namespace = "entry"
	NamespaceContext   Namespace = "data"
	NamespaceConnected Namespace = "connected"
)

// Store is the durable source of truth for handoff state. The poller and
// timeout manager hold only in-memory handles derived from it, so the whole
// bridge must be reconstructible from the store after a restart.
type Store interface {
	PutEntry(ctx context.Context, e Entry) error
	GetEntry(ctx context.Context, visitorID string) (*Entry, error)

	PutContext(ctx context.Context, c Context) error
	GetContext(ctx context.Context, visitorID string) (*Context, error)

	PutConnected(ctx context.Context, m ConnectedMarker) error

	// Expire applies a TTL independently of the preceding put.
	Expire(ctx context.Context, ns Namespace, visitorID string, ttl time.Duration) error

	Delete(ctx context.Context, ns Namespace, visitorID string) error

	// DeleteAll removes all three records for a visitor. Each delete is
	// attempted even if an earlier one fails; the combined error is
	// returned for logging.
	DeleteAll(ctx context.Context, visitorID string) error

	// ListEntryIDs enumerates visitors with a persisted active session.
	// Used exclusively at startup to resume polling.
	ListEntryIDs(ctx context.Context) ([]string, error)

	Ping(ctx context.Context) error
	Close() error
}

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// RedisStore is the Redis-backed Store implementation.
type RedisStore struct {
	client *redis.Client
	logger zerolog.Logger
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(cfg RedisConfig, logger zerolog.Logger) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	logger.Info().Str("addr", cfg.Addr).Int("db", cfg.DB).Msg("connected to session store")

	return &RedisStore{
		client: client,
		logger: logger.With().Str("component", "sessionstore").Logger(),
	}, nil
}

// NewRedisStoreFromClient wraps an existing client (tests).
func NewRedisStoreFromClient(client *redis.Client, logger zerolog.Logger) *RedisStore {
	return &RedisStore{
		client: client,
		logger: logger.With().Str("component", "sessionstore").Logger(),
	}
}

func key(ns Namespace, visitorID string) string {
	return string(ns) + ":" + visitorID
}

func (s *RedisStore) put(ctx context.Context, ns Namespace, visitorID string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s record: %w", ns, err)
	}
	if err := s.client.Set(ctx, key(ns, visitorID), data, 0).Err(); err != nil {
		return fmt.Errorf("store put %s: %w", key(ns, visitorID), err)
	}
	return nil
}

func (s *RedisStore) get(ctx context.Context, ns Namespace, visitorID string, out any) (bool, error) {
	raw, err := s.client.Get(ctx, key(ns, visitorID)).Bytes()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("store get %s: %w", key(ns, visitorID), err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, fmt.Errorf("decode %s record: %w", ns, err)
	}
	return true, nil
}

func (s *RedisStore) PutEntry(ctx context.Context, e Entry) error {
	return s.put(ctx, NamespaceEntry, e.VisitorID, e)
}

func (s *RedisStore) GetEntry(ctx context.Context, visitorID string) (*Entry, error) {
	var e Entry
	ok, err := s.get(ctx, NamespaceEntry, visitorID, &e)
	if err != nil || !ok {
		return nil, err
	}
	return &e, nil
}

func (s *RedisStore) PutContext(ctx context.Context, c Context) error {
	return s.put(ctx, NamespaceContext, c.VisitorID, c)
}

func (s *RedisStore) GetContext(ctx context.Context, visitorID string) (*Context, error) {
	var c Context
	ok, err := s.get(ctx, NamespaceContext, visitorID, &c)
	if err != nil || !ok {
		return nil, err
	}
	return &c, nil
}

func (s *RedisStore) PutConnected(ctx context.Context, m ConnectedMarker) error {
	return s.put(ctx, NamespaceConnected, m.VisitorID, m)
}

func (s *RedisStore) Expire(ctx context.Context, ns Namespace, visitorID string, ttl time.Duration) error {
	if err := s.client.Expire(ctx, key(ns, visitorID), ttl).Err(); err != nil {
		return fmt.Errorf("store expire %s: %w", key(ns, visitorID), err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, ns Namespace, visitorID string) error {
	if err := s.client.Del(ctx, key(ns, visitorID)).Err(); err != nil {
		return fmt.Errorf("store delete %s: %w", key(ns, visitorID), err)
	}
	return nil
}

func (s *RedisStore) DeleteAll(ctx context.Context, visitorID string) error {
	var errs []error
	for _, ns := range []Namespace{NamespaceEntry, NamespaceContext, NamespaceConnected} {
		if err := s.Delete(ctx, ns, visitorID); err != nil {
			s.logger.Warn().Err(err).
				Str("visitor_id", visitorID).
				Str("namespace", string(ns)).
				Msg("teardown delete failed, continuing")
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *RedisStore) ListEntryIDs(ctx context.Context) ([]string, error) {
	prefix := string(NamespaceEntry) + ":"
	var ids []string

	iter := s.client.Scan(ctx, 0, prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		ids = append(ids, iter.Val()[len(prefix):])
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("store scan entries: %w", err)
	}
	return ids, nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
