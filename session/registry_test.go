package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryFactory struct {
	mu     sync.Mutex
	spaces map[string]*MemoryStorage
	opened int
}

func (f *memoryFactory) open(ns string) Storage {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opened++
	if f.spaces == nil {
		f.spaces = map[string]*MemoryStorage{}
	}
	if _, ok := f.spaces[ns]; !ok {
		f.spaces[ns] = NewMemoryStorage()
	}
	return f.spaces[ns]
}

func TestRegistry_OpenRestoresFromStorage(t *testing.T) {
	ctx := context.Background()
	f := &memoryFactory{}
	sess := testSession(t, RoleVolunteer, time.Hour)
	require.NoError(t, NewStore(f.open("sid-1"), nil).Login(ctx, sess))

	reg := NewRegistry(f.open, nil)
	st, err := reg.Open(ctx, "sid-1")
	require.NoError(t, err)
	assert.Equal(t, "u-1", st.Snapshot().CurrentUser.ID)

	again, err := reg.Open(ctx, "sid-1")
	require.NoError(t, err)
	assert.Same(t, st, again)
	assert.Equal(t, 1, reg.Len())

	other, err := reg.Open(ctx, "sid-2")
	require.NoError(t, err)
	assert.False(t, other.Snapshot().Authenticated())
	assert.Equal(t, 2, reg.Len())
}

func TestRegistry_ConcurrentOpenSharesStore(t *testing.T) {
	reg := NewRegistry((&memoryFactory{}).open, nil)
	var wg sync.WaitGroup
	stores := make([]*Store, 8)
	for i := range stores {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			st, err := reg.Open(context.Background(), "sid")
			assert.NoError(t, err)
			stores[i] = st
		}(i)
	}
	wg.Wait()
	for _, st := range stores {
		assert.Same(t, stores[0], st)
	}
}

func TestRegistry_OpenPropagatesStorageError(t *testing.T) {
	reg := NewRegistry(func(string) Storage { return brokenStorage{} }, nil)
	_, err := reg.Open(context.Background(), "sid")
	require.Error(t, err)
	assert.Zero(t, reg.Len())
}

func TestRegistry_SweepAndForget(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	reg := NewRegistry((&memoryFactory{}).open, nil)
	reg.now = func() time.Time { return now }

	_, err := reg.Open(ctx, "old")
	require.NoError(t, err)
	now = now.Add(time.Hour)
	_, err = reg.Open(ctx, "fresh")
	require.NoError(t, err)

	assert.Equal(t, 1, reg.Sweep(30*time.Minute))
	assert.Equal(t, 1, reg.Len())

	reg.Forget("fresh")
	assert.Zero(t, reg.Len())
}

func TestRegistry_AnonymousIsIsolated(t *testing.T) {
	reg := NewRegistry((&memoryFactory{}).open, nil)
	a := reg.Anonymous()
	require.NoError(t, a.Login(context.Background(), testSession(t, RoleAdmin, time.Hour)))
	assert.False(t, reg.Anonymous().Snapshot().Authenticated())
	assert.Zero(t, reg.Len())
}

type brokenStorage struct{}

func (brokenStorage) Load(context.Context) (map[string]string, error) {
	return nil, errors.New("connection refused")
}
func (brokenStorage) Save(context.Context, map[string]string) error { return nil }
func (brokenStorage) Clear(context.Context) error                   { return nil }

func TestMemoryStorageFactory_SharesNamespaces(t *testing.T) {
	ctx := context.Background()
	factory := MemoryStorageFactory()
	require.NoError(t, factory("a").Save(ctx, map[string]string{KeyToken: "t"}))

	got, err := factory("a").Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "t", got[KeyToken])

	other, err := factory("b").Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, other)
}
