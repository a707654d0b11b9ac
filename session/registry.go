package session

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Registry hands out one Store per browser session id, restoring it from
// storage on first use.
type Registry struct {
	mu      sync.Mutex
	stores  map[string]*registryEntry
	factory StorageFactory
	logger  *slog.Logger
	now     func() time.Time
}

type registryEntry struct {
	store    *Store
	lastUsed time.Time
}

func NewRegistry(factory StorageFactory, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		stores:  map[string]*registryEntry{},
		factory: factory,
		logger:  logger,
		now:     time.Now,
	}
}

// Open returns the store for sid, restoring it from storage if it is not
// already resident.
func (r *Registry) Open(ctx context.Context, sid string) (*Store, error) {
	r.mu.Lock()
	if e, ok := r.stores[sid]; ok {
		e.lastUsed = r.now()
		r.mu.Unlock()
		return e.store, nil
	}
	r.mu.Unlock()

	st := NewStore(r.factory(sid), r.logger.With(slog.String("sid", sid)))
	if err := st.Restore(ctx); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	// Another request may have restored the same sid meanwhile.
	if e, ok := r.stores[sid]; ok {
		e.lastUsed = r.now()
		return e.store, nil
	}
	r.stores[sid] = &registryEntry{store: st, lastUsed: r.now()}
	return st, nil
}

// Anonymous returns a throwaway empty store for visitors without a session id.
func (r *Registry) Anonymous() *Store {
	return NewStore(NewMemoryStorage(), r.logger)
}

// Forget drops the resident store for sid. Stored keys are left alone.
func (r *Registry) Forget(sid string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.stores, sid)
}

// Sweep evicts stores idle for longer than maxIdle and reports how many
// were dropped. Evicted sessions are restored from storage on next use.
func (r *Registry) Sweep(maxIdle time.Duration) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	cutoff := r.now().Add(-maxIdle)
	n := 0
	for sid, e := range r.stores {
		if e.lastUsed.Before(cutoff) {
			delete(r.stores, sid)
			n++
		}
	}
	return n
}

// Len reports the number of resident stores.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.stores)
}
