package markers

import (
	"context"
	"errors"
	"fmt"
	"time"

	backend "github.com/redis/go-redis/v9"
)

const (
	defaultRedisPrefixConstant        = "devsetup:marker:"
	redisGetErrorTemplateConstant     = "unable to read marker %s from redis: %w"
	redisPutErrorTemplateConstant     = "unable to write marker %s to redis: %w"
	redisClientMissingMessageConstant = "redis client not configured"
)

// ErrRedisClientNotConfigured indicates a RedisStore built without a client.
var ErrRedisClientNotConfigured = errors.New(redisClientMissingMessageConstant)

// RedisOption customizes a RedisStore.
type RedisOption func(*RedisStore)

// WithPrefix sets the key prefix.
func WithPrefix(prefix string) RedisOption {
	return func(store *RedisStore) {
		if len(prefix) > 0 {
			store.prefix = prefix
		}
	}
}

// WithTTL expires markers after ttl; zero keeps them forever.
func WithTTL(ttl time.Duration) RedisOption {
	return func(store *RedisStore) {
		store.ttl = ttl
	}
}

// RedisStore keeps markers in redis so several machines can share them.
type RedisStore struct {
	client *backend.Client
	prefix string
	ttl    time.Duration
}

// NewRedisStore connects to address.
func NewRedisStore(address string, password string, database int, options ...RedisOption) *RedisStore {
	client := backend.NewClient(&backend.Options{
		Addr:     address,
		Password: password,
		DB:       database,
	})
	return newRedisStore(client, options)
}

// NewRedisStoreFromClient wraps an existing client.
func NewRedisStoreFromClient(client *backend.Client, options ...RedisOption) (*RedisStore, error) {
	if client == nil {
		return nil, ErrRedisClientNotConfigured
	}
	return newRedisStore(client, options), nil
}

func newRedisStore(client *backend.Client, options []RedisOption) *RedisStore {
	store := &RedisStore{client: client, prefix: defaultRedisPrefixConstant}
	for _, option := range options {
		if option != nil {
			option(store)
		}
	}
	return store
}

func (store *RedisStore) key(markerKey string) string {
	return store.prefix + markerKey
}

// Get returns the stored value.
func (store *RedisStore) Get(executionContext context.Context, key string) (string, bool, error) {
	normalizedKey, keyError := normalizeKey(key)
	if keyError != nil {
		return "", false, keyError
	}
	value, getError := store.client.Get(executionContext, store.key(normalizedKey)).Result()
	if getError != nil {
		if errors.Is(getError, backend.Nil) {
			return "", false, nil
		}
		return "", false, fmt.Errorf(redisGetErrorTemplateConstant, normalizedKey, getError)
	}
	return value, true, nil
}

// Put stores the value.
func (store *RedisStore) Put(executionContext context.Context, key string, value string) error {
	normalizedKey, keyError := normalizeKey(key)
	if keyError != nil {
		return keyError
	}
	if setError := store.client.Set(executionContext, store.key(normalizedKey), value, store.ttl).Err(); setError != nil {
		return fmt.Errorf(redisPutErrorTemplateConstant, normalizedKey, setError)
	}
	return nil
}

// Close releases the client.
func (store *RedisStore) Close() error {
	return store.client.Close()
}
