package state

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

type ValkeyOptions struct {
	Address   string
	Password  string
	DB        int
	OpTimeout time.Duration
}

// ValkeyStore talks to Redis or Valkey. One client is shared for the life of
// the process.
type ValkeyStore struct {
	client    *redis.Client
	opTimeout time.Duration
}

// NewValkeyStore connects and pings the server before returning.
func NewValkeyStore(opts ValkeyOptions) (*ValkeyStore, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:        opts.Address,
		Password:    opts.Password,
		DB:          opts.DB,
		DialTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("%w: failed to connect to valkey: %w", ErrStoreUnavailable, err)
	}

	return NewValkeyStoreFromClient(rdb, opts.OpTimeout), nil
}

// NewValkeyStoreFromClient wraps an existing client without pinging it.
func NewValkeyStoreFromClient(rdb *redis.Client, opTimeout time.Duration) *ValkeyStore {
	if opTimeout <= 0 {
		opTimeout = 2 * time.Second
	}
	return &ValkeyStore{client: rdb, opTimeout: opTimeout}
}

func (s *ValkeyStore) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.opTimeout)
}

func (s *ValkeyStore) Exists(ctx context.Context, key string) (bool, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	n, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("%w: exists %s: %w", ErrStoreUnavailable, key, err)
	}
	return n > 0, nil
}

func (s *ValkeyStore) SetWithExpiry(ctx context.Context, key, value string, ttl time.Duration) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if err := s.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("%w: set %s: %w", ErrStoreUnavailable, key, err)
	}
	return nil
}

func (s *ValkeyStore) AddMembers(ctx context.Context, setKey string, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if err := s.client.SAdd(ctx, setKey, toArgs(ids)...).Err(); err != nil {
		return fmt.Errorf("%w: sadd %s: %w", ErrStoreUnavailable, setKey, err)
	}
	return nil
}

func (s *ValkeyStore) Members(ctx context.Context, setKey string) (map[string]struct{}, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	m, err := s.client.SMembersMap(ctx, setKey).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: smembers %s: %w", ErrStoreUnavailable, setKey, err)
	}
	return m, nil
}

func (s *ValkeyStore) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("%w: del %v: %w", ErrStoreUnavailable, keys, err)
	}
	return nil
}

// Reseed runs DEL, SADD and SET EX inside MULTI/EXEC.
func (s *ValkeyStore) Reseed(ctx context.Context, setKey, markerKey string, ids []string, ttl time.Duration) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, setKey)
		if len(ids) > 0 {
			pipe.SAdd(ctx, setKey, toArgs(ids)...)
		}
		pipe.Set(ctx, markerKey, "1", ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: reseed %s: %w", ErrStoreUnavailable, setKey, err)
	}
	return nil
}

func (s *ValkeyStore) Ping(ctx context.Context) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: ping: %w", ErrStoreUnavailable, err)
	}
	return nil
}

func (s *ValkeyStore) Close() error {
	return s.client.Close()
}

func toArgs(ids []string) []interface{} {
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}
