package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"

	"prodvault/types"

	"github.com/redis/go-redis/v9"
)

// RedisConfig holds connection settings for the Redis-backed KV store.
type RedisConfig struct {
	Addr     string
	Username string
	Password string
	DB       int
}

// NewRedisClient connects and pings a Redis server.
func NewRedisClient(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Username: cfg.Username,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("%w: redis ping %s: %v", types.ErrStorage, cfg.Addr, err)
	}
	return client, nil
}

// RedisKV implements KVStore on a Redis server. CompareAndSwap uses a
// WATCH transaction so a concurrent writer fails the swap instead of being
// silently overwritten.
type RedisKV struct {
	rdb *redis.Client
}

// NewRedisKV wraps an already-connected client.
func NewRedisKV(rdb *redis.Client) *RedisKV {
	return &RedisKV{rdb: rdb}
}

func (s *RedisKV) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := s.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, wrapErr(err, "get", key)
	}
	return val, true, nil
}

func (s *RedisKV) Put(ctx context.Context, key string, value []byte) error {
	if err := s.rdb.Set(ctx, key, value, 0).Err(); err != nil {
		return wrapErr(err, "put", key)
	}
	return nil
}

func (s *RedisKV) PutIfAbsent(ctx context.Context, key string, value []byte) (bool, error) {
	claimed, err := s.rdb.SetNX(ctx, key, value, 0).Result()
	if err != nil {
		return false, wrapErr(err, "putifabsent", key)
	}
	return claimed, nil
}

var errSwapMismatch = errors.New("cas mismatch")

func (s *RedisKV) CompareAndSwap(ctx context.Context, key string, old, new []byte) (bool, error) {
	err := s.rdb.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return errSwapMismatch
		}
		if err != nil {
			return err
		}
		if !bytes.Equal(cur, old) {
			return errSwapMismatch
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, new, 0)
			return nil
		})
		return err
	}, key)

	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, errSwapMismatch), errors.Is(err, redis.TxFailedErr):
		return false, nil
	default:
		return false, wrapErr(err, "cas", key)
	}
}

func (s *RedisKV) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	iter := s.rdb.Scan(ctx, 0, prefix+"*", 500).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, wrapErr(err, "list", prefix)
	}
	// SCAN order is unspecified; keep listings deterministic for callers.
	sort.Strings(keys)
	return keys, nil
}
