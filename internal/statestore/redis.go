package statestore

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrNotFound is returned by Get when the key has never been written.
var ErrNotFound = errors.New("statestore: key not found")

const notifPrefix = "vcomp:checkpoint:update:"

// RedisStore is the Redis-backed Store. Values live in hashes with a
// version field so concurrent writers cannot silently clobber a
// checkpoint, and every write publishes an Update notification.
type RedisStore struct {
	mu      sync.Mutex
	client  *redis.Client
	options *redis.Options
	logger  *log.Logger
}

// NewRedisStore connects to Redis with the given options.
func NewRedisStore(opts *redis.Options, logger *log.Logger) *RedisStore {
	if logger == nil {
		logger = log.Default()
	}
	return &RedisStore{
		client:  redis.NewClient(opts),
		options: opts,
		logger:  logger,
	}
}

// ensureConnection pings Redis and reconnects if needed.
func (s *RedisStore) ensureConnection(ctx context.Context) {
	if err := s.client.Ping(ctx).Err(); err != nil {
		s.logger.Println("statestore reconnecting to Redis", err)
		s.client = redis.NewClient(s.options)
	}
}

// Put stores a value with optional TTL and returns the new version.
func (s *RedisStore) Put(ctx context.Context, key string, value any, ttl time.Duration) (int64, error) {
	s.ensureConnection(ctx)
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(value)
	if err != nil {
		return 0, err
	}
	var ver int64 = 1
	err = s.client.Watch(ctx, func(tx *redis.Tx) error {
		cur, _ := tx.HGet(ctx, key, "version").Int64()
		ver = cur + 1
		pipe := tx.TxPipeline()
		pipe.HSet(ctx, key, "value", data, "version", ver)
		if ttl > 0 {
			pipe.Expire(ctx, key, ttl)
		}
		_, err := pipe.Exec(ctx)
		return err
	}, key)
	if err != nil {
		return 0, err
	}
	s.notify(ctx, key, value)
	return ver, nil
}

// Get unmarshals the stored value into out and returns its version.
func (s *RedisStore) Get(ctx context.Context, key string, out any) (int64, error) {
	s.ensureConnection(ctx)
	res, err := s.client.HGetAll(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	if len(res) == 0 {
		return 0, ErrNotFound
	}
	if out != nil {
		if err := json.Unmarshal([]byte(res["value"]), out); err != nil {
			return 0, err
		}
	}
	return parseVersion(res["version"])
}

func parseVersion(s string) (int64, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.ParseInt(s, 10, 64)
}

// Txn writes multiple keys atomically, bumping each key's version.
func (s *RedisStore) Txn(ctx context.Context, values map[string]any, ttl time.Duration) error {
	s.ensureConnection(ctx)
	s.mu.Lock()
	defer s.mu.Unlock()

	pipe := s.client.TxPipeline()
	for k, v := range values {
		data, err := json.Marshal(v)
		if err != nil {
			return err
		}
		pipe.HIncrBy(ctx, k, "version", 1)
		pipe.HSet(ctx, k, "value", data)
		if ttl > 0 {
			pipe.Expire(ctx, k, ttl)
		}
		payload, _ := json.Marshal(Update{Key: k, Value: v})
		pipe.Publish(ctx, notifPrefix+k, payload)
	}
	_, err := pipe.Exec(ctx)
	return err
}

// Watch subscribes to update notifications matching a key pattern.
// The channel closes when ctx is cancelled.
func (s *RedisStore) Watch(ctx context.Context, pattern string) (<-chan Update, error) {
	s.ensureConnection(ctx)
	pubsub := s.client.PSubscribe(ctx, notifPrefix+pattern)
	ch := make(chan Update)
	go func() {
		defer close(ch)
		defer pubsub.Close()
		for {
			msg, err := pubsub.ReceiveMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				s.logger.Println("statestore watch error", err)
				time.Sleep(time.Second)
				continue
			}
			var upd Update
			if err := json.Unmarshal([]byte(msg.Payload), &upd); err == nil {
				ch <- upd
			}
		}
	}()
	return ch, nil
}

// Delete removes a key.
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	s.ensureConnection(ctx)
	return s.client.Del(ctx, key).Err()
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) notify(ctx context.Context, key string, value any) {
	payload, err := json.Marshal(Update{Key: key, Value: value})
	if err != nil {
		return
	}
	s.client.Publish(ctx, notifPrefix+key, payload)
}

var _ Store = (*RedisStore)(nil)
