package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	seqerr "github.com/logflow/seqmine/pkg/errors"
)

// RedisConfig configures the Redis checkpoint backend.
type RedisConfig struct {
	// Address is the Redis server address (e.g., "localhost:6379")
	Address  string
	Password string
	Database int

	// Prefix is prepended to all snapshot keys.
	Prefix string

	// TTL is the time-to-live for snapshot keys (0 = no expiration)
	TTL time.Duration

	// Timeout for Redis operations
	Timeout time.Duration

	PoolSize     int
	MinIdleConns int
}

// DefaultRedisConfig returns sensible defaults.
func DefaultRedisConfig(address string) RedisConfig {
	return RedisConfig{
		Address:      address,
		Prefix:       "seqmine:snapshots:",
		TTL:          24 * time.Hour,
		Timeout:      5 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	}
}

// RedisBackend stores snapshots in Redis. Each run keeps an index set of its
// snapshot IDs so listing a run avoids a keyspace scan.
type RedisBackend struct {
	cfg    RedisConfig
	client *redis.Client
}

// NewRedisBackend connects and pings the server.
func NewRedisBackend(ctx context.Context, cfg RedisConfig) (*RedisBackend, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.Database,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		ReadTimeout:  cfg.Timeout,
		WriteTimeout: cfg.Timeout,
	})
	b := &RedisBackend{cfg: cfg, client: client}
	if err := b.Ping(ctx); err != nil {
		client.Close()
		return nil, seqerr.Wrap(err, seqerr.CodeBackend, "connecting to redis").WithContext("address", cfg.Address)
	}
	return b, nil
}

func (b *RedisBackend) key(id string) string {
	return b.cfg.Prefix + id
}

func (b *RedisBackend) runIndexKey(runID string) string {
	return b.cfg.Prefix + "index:run:" + runID
}

func (b *RedisBackend) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if b.cfg.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, b.cfg.Timeout)
}

// Save stores the snapshot and indexes it under its run.
func (b *RedisBackend) Save(ctx context.Context, s *Snapshot) error {
	ctx, cancel := b.withTimeout(ctx)
	defer cancel()

	data, err := json.Marshal(s)
	if err != nil {
		return seqerr.Wrap(err, seqerr.CodeWriteFailed, "encoding snapshot")
	}
	pipe := b.client.TxPipeline()
	pipe.Set(ctx, b.key(s.ID), data, b.cfg.TTL)
	pipe.SAdd(ctx, b.runIndexKey(s.RunID), s.ID)
	if b.cfg.TTL > 0 {
		pipe.Expire(ctx, b.runIndexKey(s.RunID), b.cfg.TTL)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return seqerr.Wrap(err, seqerr.CodeBackend, "saving snapshot to redis").WithContext("id", s.ID)
	}
	return nil
}

// Load retrieves a snapshot.
func (b *RedisBackend) Load(ctx context.Context, id string) (*Snapshot, error) {
	ctx, cancel := b.withTimeout(ctx)
	defer cancel()

	data, err := b.client.Get(ctx, b.key(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, seqerr.Wrap(err, seqerr.CodeBackend, "loading snapshot from redis").WithContext("id", id)
	}
	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, seqerr.Wrap(err, seqerr.CodeReadFailed, "decoding snapshot").WithContext("id", id)
	}
	return &s, nil
}

// Delete removes a snapshot and its index entry.
func (b *RedisBackend) Delete(ctx context.Context, id string) error {
	s, err := b.Load(ctx, id)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}

	ctx, cancel := b.withTimeout(ctx)
	defer cancel()
	pipe := b.client.TxPipeline()
	pipe.Del(ctx, b.key(id))
	if s != nil {
		pipe.SRem(ctx, b.runIndexKey(s.RunID), id)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return seqerr.Wrap(err, seqerr.CodeBackend, "deleting snapshot from redis").WithContext("id", id)
	}
	return nil
}

// List returns the snapshots whose ID starts with prefix. A prefix of the
// form "<run>." reads the run index; anything else scans keys.
func (b *RedisBackend) List(ctx context.Context, prefix string) ([]*Snapshot, error) {
	ids, err := b.listIDs(ctx, prefix)
	if err != nil {
		return nil, err
	}
	var out []*Snapshot
	for _, id := range ids {
		if !strings.HasPrefix(id, prefix) {
			continue
		}
		s, err := b.Load(ctx, id)
		if err != nil {
			continue // expired between listing and loading
		}
		out = append(out, s)
	}
	sortSnapshots(out)
	return out, nil
}

func (b *RedisBackend) listIDs(ctx context.Context, prefix string) ([]string, error) {
	ctx, cancel := b.withTimeout(ctx)
	defer cancel()

	if run, ok := strings.CutSuffix(prefix, "."); ok && run != "" && !strings.Contains(run, ".") {
		ids, err := b.client.SMembers(ctx, b.runIndexKey(run)).Result()
		if err != nil {
			return nil, seqerr.Wrap(err, seqerr.CodeBackend, "reading run index").WithContext("run", run)
		}
		return ids, nil
	}

	var ids []string
	iter := b.client.Scan(ctx, 0, b.cfg.Prefix+prefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		if strings.HasPrefix(key, b.cfg.Prefix+"index:") {
			continue
		}
		ids = append(ids, strings.TrimPrefix(key, b.cfg.Prefix))
	}
	if err := iter.Err(); err != nil {
		return nil, seqerr.Wrap(err, seqerr.CodeBackend, "scanning snapshot keys")
	}
	return ids, nil
}

// Name returns "redis".
func (b *RedisBackend) Name() string {
	return "redis"
}

// Ping checks the Redis connection.
func (b *RedisBackend) Ping(ctx context.Context) error {
	ctx, cancel := b.withTimeout(ctx)
	defer cancel()
	return b.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (b *RedisBackend) Close() error {
	return b.client.Close()
}
