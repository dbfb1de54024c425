package markers

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
)

const (
	doneKeySuffixConstant             = ".done"
	doneValueConstant                 = "true"
	emptyKeyMessageConstant           = "marker key must not be empty"
	storeNotConfiguredMessageConstant = "marker store not configured"
)

var (
	// ErrEmptyKey indicates a marker operation without a key.
	ErrEmptyKey = errors.New(emptyKeyMessageConstant)
	// ErrStoreNotConfigured indicates a probe was asked to consult a nil store.
	ErrStoreNotConfigured = errors.New(storeNotConfiguredMessageConstant)
)

// Store persists idempotency markers across runs.
type Store interface {
	Get(executionContext context.Context, key string) (string, bool, error)
	Put(executionContext context.Context, key string, value string) error
}

// DoneKey returns the completion flag key for a task identity.
func DoneKey(identity string) string {
	return identity + doneKeySuffixConstant
}

func normalizeKey(key string) (string, error) {
	trimmed := strings.TrimSpace(key)
	if len(trimmed) == 0 {
		return "", ErrEmptyKey
	}
	return trimmed, nil
}

// MemoryStore keeps markers in process memory.
type MemoryStore struct {
	mutex  sync.RWMutex
	values map[string]string
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: map[string]string{}}
}

// Get returns the stored value.
func (store *MemoryStore) Get(executionContext context.Context, key string) (string, bool, error) {
	normalizedKey, keyError := normalizeKey(key)
	if keyError != nil {
		return "", false, keyError
	}
	store.mutex.RLock()
	defer store.mutex.RUnlock()
	value, found := store.values[normalizedKey]
	return value, found, nil
}

// Put stores the value.
func (store *MemoryStore) Put(executionContext context.Context, key string, value string) error {
	normalizedKey, keyError := normalizeKey(key)
	if keyError != nil {
		return keyError
	}
	store.mutex.Lock()
	defer store.mutex.Unlock()
	store.values[normalizedKey] = value
	return nil
}

// Keys lists stored keys in sorted order.
func (store *MemoryStore) Keys() []string {
	store.mutex.RLock()
	defer store.mutex.RUnlock()
	keys := make([]string, 0, len(store.values))
	for key := range store.values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
