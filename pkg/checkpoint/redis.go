package checkpoint

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisKeyPrefix namespaces depvet records inside a shared Redis instance.
const redisKeyPrefix = "depvet:ckpt:"

// RedisStore is a Redis-backed checkpoint store for multi-instance
// deployments. SET is atomic per key, which satisfies the per-fingerprint
// upsert guarantee without any locking.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// RedisConfig configures a RedisStore.
type RedisConfig struct {
	Addr     string        // host:port (default "localhost:6379")
	Password string        // optional
	DB       int           // redis database number
	TTL      time.Duration // optional expiry; 0 keeps records until explicit cleanup
}

// NewRedisStore creates a Redis-backed store and verifies connectivity.
func NewRedisStore(ctx context.Context, cfg RedisConfig) (*RedisStore, error) {
	if cfg.Addr == "" {
		cfg.Addr = "localhost:6379"
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, storageErr(err, "connect to redis at %s", cfg.Addr)
	}
	return &RedisStore{client: client, ttl: cfg.TTL}, nil
}

// Get retrieves a record by key. Absent records return (nil, nil).
func (s *RedisStore) Get(ctx context.Context, key Key) (*Record, error) {
	data, err := s.client.Get(ctx, redisKeyPrefix+key.String()).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, storageErr(err, "get checkpoint %s", key)
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, storageErr(err, "decode checkpoint %s", key)
	}
	return &rec, nil
}

// Put upserts a record.
func (s *RedisStore) Put(ctx context.Context, record *Record) error {
	data, err := json.Marshal(record)
	if err != nil {
		return storageErr(err, "encode checkpoint %s", record.Key)
	}
	if err := s.client.Set(ctx, redisKeyPrefix+record.Key.String(), data, s.ttl).Err(); err != nil {
		return storageErr(err, "put checkpoint %s", record.Key)
	}
	return nil
}

// Scan returns an iterator over all records for a stage across pipeline
// versions, backed by incremental SCAN so large stores are not loaded at once.
func (s *RedisStore) Scan(ctx context.Context, stageID string) (Iterator, error) {
	pattern := redisKeyPrefix + "*/" + stageID + "/*"
	return &redisIterator{store: s, scan: s.client.Scan(ctx, 0, pattern, 100).Iterator()}, nil
}

// Close releases the underlying Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

type redisIterator struct {
	store *RedisStore
	scan  *redis.ScanIterator
}

func (it *redisIterator) Next(ctx context.Context) (*Record, error) {
	for it.scan.Next(ctx) {
		data, err := it.store.client.Get(ctx, it.scan.Val()).Bytes()
		if err == redis.Nil {
			continue // expired between SCAN and GET
		}
		if err != nil {
			return nil, storageErr(err, "read scanned checkpoint %s", it.scan.Val())
		}
		var rec Record
		if err := json.Unmarshal(data, &rec); err != nil {
			continue
		}
		return &rec, nil
	}
	if err := it.scan.Err(); err != nil {
		return nil, storageErr(err, "scan checkpoints")
	}
	return nil, nil
}

func (it *redisIterator) Close() error { return nil }

// Ensure RedisStore implements Store.
var _ Store = (*RedisStore)(nil)
