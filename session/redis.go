package session

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStorage keeps one session namespace as four string keys:
// <prefix><namespace>:<key>. All keys share a sliding TTL.
type RedisStorage struct {
	client    redis.UniversalClient
	prefix    string
	namespace string
	ttl       time.Duration
}

// NewRedisStorage creates a Redis storage for the given namespace.
// A zero ttl keeps keys until they are cleared.
func NewRedisStorage(client redis.UniversalClient, prefix, namespace string, ttl time.Duration) *RedisStorage {
	return &RedisStorage{
		client:    client,
		prefix:    prefix,
		namespace: namespace,
		ttl:       ttl,
	}
}

// RedisStorageFactory returns a StorageFactory sharing one client.
func RedisStorageFactory(client redis.UniversalClient, prefix string, ttl time.Duration) StorageFactory {
	return func(namespace string) Storage {
		return NewRedisStorage(client, prefix, namespace, ttl)
	}
}

func (s *RedisStorage) key(k string) string {
	return s.prefix + s.namespace + ":" + k
}

func (s *RedisStorage) keys() []string {
	out := make([]string, len(StorageKeys))
	for i, k := range StorageKeys {
		out[i] = s.key(k)
	}
	return out
}

func (s *RedisStorage) Load(ctx context.Context) (map[string]string, error) {
	vals, err := s.client.MGet(ctx, s.keys()...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis mget: %w", err)
	}
	out := make(map[string]string, len(StorageKeys))
	for i, v := range vals {
		if str, ok := v.(string); ok {
			out[StorageKeys[i]] = str
		}
	}
	return out, nil
}

func (s *RedisStorage) Save(ctx context.Context, values map[string]string) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.keys()...)
		for _, k := range StorageKeys {
			v, ok := values[k]
			if !ok {
				continue
			}
			pipe.Set(ctx, s.key(k), v, s.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis save session: %w", err)
	}
	return nil
}

func (s *RedisStorage) Clear(ctx context.Context) error {
	if err := s.client.Del(ctx, s.keys()...).Err(); err != nil {
		return fmt.Errorf("redis clear session: %w", err)
	}
	return nil
}
