package guard

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// FilterConfig configures the RedisBloom-backed fingerprint filter.
type FilterConfig struct {
	// Client is a connected Redis client, shared with the KV store.
	Client *redis.Client
	// Key is the redis key holding the bloom filter.
	Key string
	// TTL slides forward on each add so the filter stays warm while the
	// catalog is being written.
	TTL time.Duration
	// Capacity sets the initial BF.RESERVE capacity (number of items).
	Capacity int
	// ErrorRate sets the desired false positive probability.
	ErrorRate float64
	// NonScaling adds the BF.RESERVE NONSCALING flag.
	NonScaling bool
}

const (
	defaultFilterKey       = "prodvault:fp:bloom"
	defaultFilterTTL       = 7 * 24 * time.Hour
	defaultFilterCapacity  = 100000
	defaultFilterErrorRate = 0.001
	filterCallTimeout      = 5 * time.Second
)

// FingerprintFilter is a RedisBloom wrapper over collision hashes. It is an
// advisory fast path: a miss means the hash was definitely never added, so
// the upsert can skip the exact index read. The conditional index write
// remains the arbiter of who inserts.
type FingerprintFilter struct {
	client *redis.Client
	key    string
	ttl    time.Duration
}

// NewFingerprintFilter wraps a connected client. If the filter key does not
// exist yet, BF.RESERVE is attempted with the configured capacity and error
// rate; failure is non-fatal since BF.ADD can auto-create the filter.
func NewFingerprintFilter(cfg FilterConfig) (*FingerprintFilter, error) {
	if cfg.Client == nil {
		return nil, fmt.Errorf("fingerprint filter: redis client is required")
	}
	applyFilterDefaults(&cfg)

	ctx, cancel := context.WithTimeout(context.Background(), filterCallTimeout)
	defer cancel()

	exists, err := cfg.Client.Exists(ctx, cfg.Key).Result()
	if err == nil && exists == 0 {
		args := []interface{}{"BF.RESERVE", cfg.Key, fmt.Sprintf("%f", cfg.ErrorRate), cfg.Capacity}
		if cfg.NonScaling {
			args = append(args, "NONSCALING")
		}
		_ = cfg.Client.Do(ctx, args...).Err()
	}

	return &FingerprintFilter{client: cfg.Client, key: cfg.Key, ttl: cfg.TTL}, nil
}

func applyFilterDefaults(cfg *FilterConfig) {
	if cfg.Key == "" {
		cfg.Key = defaultFilterKey
	}
	if cfg.TTL <= 0 {
		cfg.TTL = defaultFilterTTL
	}
	if cfg.Capacity <= 0 {
		cfg.Capacity = defaultFilterCapacity
	}
	if cfg.ErrorRate <= 0 {
		cfg.ErrorRate = defaultFilterErrorRate
	}
}

// Exists checks filter membership with BF.EXISTS.
func (f *FingerprintFilter) Exists(ctx context.Context, hash string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, filterCallTimeout)
	defer cancel()

	res, err := f.client.Do(ctx, "BF.EXISTS", f.key, hash).Result()
	if err != nil {
		return false, err
	}
	switch v := res.(type) {
	case int64:
		return v == 1, nil
	case string:
		return v == "1", nil
	default:
		return false, fmt.Errorf("unexpected BF.EXISTS response type %T: %v", res, res)
	}
}

// Add inserts the hash with BF.ADD and slides the TTL forward so the filter
// remains active for ttl after the most recent insertion.
func (f *FingerprintFilter) Add(ctx context.Context, hash string) error {
	ctx, cancel := context.WithTimeout(ctx, filterCallTimeout)
	defer cancel()

	if err := f.client.Do(ctx, "BF.ADD", f.key, hash).Err(); err != nil {
		return err
	}
	return f.client.Expire(ctx, f.key, f.ttl).Err()
}
