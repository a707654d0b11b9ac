package session

import (
	"context"
	"maps"
	"sync"
)

// Keys of the durable client storage. The store reads them at startup and
// writes or clears them on login, refresh and logout.
const (
	KeyToken        = "token"
	KeyRefreshToken = "refreshToken"
	KeyUser         = "user"
	KeyUserStatus   = "userStatus"
)

// StorageKeys lists every key owned by the session store.
var StorageKeys = []string{KeyToken, KeyRefreshToken, KeyUser, KeyUserStatus}

// Storage is durable client storage for one session namespace.
// Save replaces the whole key space; keys missing from values are removed.
type Storage interface {
	Load(ctx context.Context) (map[string]string, error)
	Save(ctx context.Context, values map[string]string) error
	Clear(ctx context.Context) error
}

// StorageFactory opens the storage namespace for a browser session id.
type StorageFactory func(namespace string) Storage

// MemoryStorage keeps the key space in process memory. It backs anonymous
// visitors and tests.
type MemoryStorage struct {
	mu     sync.Mutex
	values map[string]string
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{values: map[string]string{}}
}

func (m *MemoryStorage) Load(_ context.Context) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return maps.Clone(m.values), nil
}

func (m *MemoryStorage) Save(_ context.Context, values map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values = maps.Clone(values)
	return nil
}

func (m *MemoryStorage) Clear(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values = map[string]string{}
	return nil
}

// MemoryStorageFactory keeps one MemoryStorage per namespace for the life of
// the process, so evicted stores can be restored.
func MemoryStorageFactory() StorageFactory {
	var mu sync.Mutex
	spaces := map[string]*MemoryStorage{}
	return func(namespace string) Storage {
		mu.Lock()
		defer mu.Unlock()
		s, ok := spaces[namespace]
		if !ok {
			s = NewMemoryStorage()
			spaces[namespace] = s
		}
		return s
	}
}
