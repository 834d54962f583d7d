package store_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmcdole/shelf/internal/cache"
	"github.com/mmcdole/shelf/internal/domain"
	"github.com/mmcdole/shelf/internal/store"
)

// memDB is a map-backed local database.
type memDB struct {
	mu   sync.Mutex
	data map[string]string
}

func newMemDB() *memDB { return &memDB{data: make(map[string]string)} }

func (m *memDB) source() *store.Observed[string, string] {
	return store.NewObserved[string, string](
		func(_ context.Context, key string) (string, bool, error) {
			m.mu.Lock()
			defer m.mu.Unlock()
			v, ok := m.data[key]
			return v, ok, nil
		},
		func(_ context.Context, key, value string) error {
			m.mu.Lock()
			defer m.mu.Unlock()
			m.data[key] = value
			return nil
		},
		func(_ context.Context, key string) error {
			m.mu.Lock()
			defer m.mu.Unlock()
			delete(m.data, key)
			return nil
		},
		nil,
	)
}

func newStore(t *testing.T, fetch store.Fetcher[string, string], src store.SourceOfTruth[string, string]) *store.Store[string, string] {
	t.Helper()
	s, err := store.New(fetch, src, store.Config[string]{Name: "test", Cache: cache.Config{MaxEntries: 16}})
	require.NoError(t, err)
	return s
}

func next[V any](t *testing.T, ch <-chan store.Response[V]) store.Response[V] {
	t.Helper()
	select {
	case r, ok := <-ch:
		require.True(t, ok, "stream closed early")
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for response")
		return store.Response[V]{}
	}
}

func TestStore_GetSingleFlight(t *testing.T) {
	var calls atomic.Int32
	release := make(chan struct{})
	fetch := func(ctx context.Context, key string) (string, error) {
		calls.Add(1)
		<-release
		return "value-" + key, nil
	}
	s := newStore(t, fetch, newMemDB().source())

	const n = 20
	var wg sync.WaitGroup
	results := make([]string, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = s.Get(context.Background(), "k")
		}(i)
	}

	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load(), "concurrent gets must share one fetch")
	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, "value-k", results[i])
	}
}

func TestStore_StreamStaleWhileRevalidate(t *testing.T) {
	db := newMemDB()
	db.data["k"] = "v1"
	proceed := make(chan struct{})
	fetch := func(ctx context.Context, key string) (string, error) {
		<-proceed
		return "v2", nil
	}
	s := newStore(t, fetch, db.source())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := s.Stream(ctx, "k", true)

	assert.Equal(t, store.ResponseLoading, next(t, ch).Kind)

	r := next(t, ch)
	require.Equal(t, store.ResponseData, r.Kind)
	assert.Equal(t, "v1", r.Value)
	assert.Equal(t, store.OriginSourceOfTruth, r.Origin)

	close(proceed)

	r = next(t, ch)
	require.Equal(t, store.ResponseData, r.Kind)
	assert.Equal(t, "v2", r.Value)
	assert.Equal(t, store.OriginFetcher, r.Origin)
}

func TestStore_StreamFetchesWhenEmpty(t *testing.T) {
	var calls atomic.Int32
	fetch := func(ctx context.Context, key string) (string, error) {
		calls.Add(1)
		return "fetched", nil
	}
	s := newStore(t, fetch, newMemDB().source())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := s.Stream(ctx, "k", false)

	assert.Equal(t, store.ResponseLoading, next(t, ch).Kind)
	r := next(t, ch)
	require.Equal(t, store.ResponseData, r.Kind)
	assert.Equal(t, "fetched", r.Value)
	assert.Equal(t, int32(1), calls.Load())
}

func TestStore_StreamSkipsFetchWhenStored(t *testing.T) {
	db := newMemDB()
	db.data["k"] = "stored"
	var calls atomic.Int32
	fetch := func(ctx context.Context, key string) (string, error) {
		calls.Add(1)
		return "fetched", nil
	}
	s := newStore(t, fetch, db.source())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := s.Stream(ctx, "k", false)

	assert.Equal(t, store.ResponseLoading, next(t, ch).Kind)
	r := next(t, ch)
	assert.Equal(t, "stored", r.Value)

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(0), calls.Load())
}

func TestStore_FetchErrorKeepsLastGoodValue(t *testing.T) {
	db := newMemDB()
	db.data["k"] = "v1"
	boom := errors.New("boom")
	fetch := func(ctx context.Context, key string) (string, error) {
		return "", boom
	}
	s := newStore(t, fetch, db.source())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := s.Stream(ctx, "k", true)

	var kinds []store.ResponseKind
	var gotErr error
	for len(kinds) < 3 {
		r := next(t, ch)
		kinds = append(kinds, r.Kind)
		if r.Kind == store.ResponseError {
			gotErr = r.Err
		}
	}
	assert.Contains(t, kinds, store.ResponseData)
	assert.ErrorIs(t, gotErr, boom)

	v, err := s.Get(context.Background(), "k")
	require.NoError(t, err)
	assert.Equal(t, "v1", v, "errors must not clear the cache")
}

func TestStore_MemoryHitEmitsCacheOrigin(t *testing.T) {
	db := newMemDB()
	db.data["k"] = "v1"
	s := newStore(t, func(ctx context.Context, key string) (string, error) { return "", errors.New("offline") }, db.source())

	_, err := s.Get(context.Background(), "k")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r := next(t, s.Stream(ctx, "k", false))
	require.Equal(t, store.ResponseData, r.Kind)
	assert.Equal(t, store.OriginCache, r.Origin)
}

func TestStore_NoNewData(t *testing.T) {
	fetch := func(ctx context.Context, key string) (string, error) {
		return "", store.ErrNoNewData
	}
	s := newStore(t, fetch, newMemDB().source())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := s.Stream(ctx, "k", false)
	assert.Equal(t, store.ResponseLoading, next(t, ch).Kind)
	assert.Equal(t, store.ResponseNoNewData, next(t, ch).Kind)

	_, err := s.Get(context.Background(), "k")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestStore_ClearEvictsBothTiers(t *testing.T) {
	db := newMemDB()
	var calls atomic.Int32
	fetch := func(ctx context.Context, key string) (string, error) {
		calls.Add(1)
		return "v", nil
	}
	s := newStore(t, fetch, db.source())

	_, err := s.Get(context.Background(), "k")
	require.NoError(t, err)
	_, err = s.Get(context.Background(), "k")
	require.NoError(t, err)
	assert.Equal(t, int32(1), calls.Load())

	require.NoError(t, s.Clear(context.Background(), "k"))
	db.mu.Lock()
	_, stored := db.data["k"]
	db.mu.Unlock()
	assert.False(t, stored)

	_, err = s.Get(context.Background(), "k")
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestStore_CancelDoesNotAbortSharedFetch(t *testing.T) {
	release := make(chan struct{})
	var fetchErr atomic.Value
	fetch := func(ctx context.Context, key string) (string, error) {
		<-release
		if err := ctx.Err(); err != nil {
			fetchErr.Store(err)
			return "", err
		}
		return "shared", nil
	}
	s := newStore(t, fetch, newMemDB().source())

	ctx1, cancel1 := context.WithCancel(context.Background())
	ch1 := s.Stream(ctx1, "k", true)
	assert.Equal(t, store.ResponseLoading, next(t, ch1).Kind)

	ctx2, cancel2 := context.WithCancel(context.Background())
	defer cancel2()
	ch2 := s.Stream(ctx2, "k", true)
	assert.Equal(t, store.ResponseLoading, next(t, ch2).Kind)

	cancel1()
	close(release)

	r := next(t, ch2)
	require.Equal(t, store.ResponseData, r.Kind)
	assert.Equal(t, "shared", r.Value)
	assert.Nil(t, fetchErr.Load())
}

func TestNew_RequiresCollaborators(t *testing.T) {
	_, err := store.New[string, string](nil, newMemDB().source(), store.Config[string]{Cache: cache.Config{MaxEntries: 1}})
	assert.Error(t, err)

	fetch := func(ctx context.Context, key string) (string, error) { return "", nil }
	_, err = store.New[string, string](fetch, nil, store.Config[string]{Cache: cache.Config{MaxEntries: 1}})
	assert.Error(t, err)
}

func TestStore_PurgeDropsMemoryTier(t *testing.T) {
	db := newMemDB()
	fetch := func(ctx context.Context, key string) (string, error) {
		return "fetched", nil
	}
	s := newStore(t, fetch, db.source())

	_, err := s.Get(context.Background(), "k")
	require.NoError(t, err)

	// Rewrite the database behind the store's back.
	db.mu.Lock()
	db.data["k"] = "rewritten"
	db.mu.Unlock()

	v, err := s.Get(context.Background(), "k")
	require.NoError(t, err)
	assert.Equal(t, "fetched", v)

	s.Purge()
	v, err = s.Get(context.Background(), "k")
	require.NoError(t, err)
	assert.Equal(t, "rewritten", v)
}

func TestStore_SourceChangesEvictMemory(t *testing.T) {
	db := newMemDB()
	src := db.source()
	fetch := func(ctx context.Context, key string) (string, error) {
		return "fetched", nil
	}
	s := newStore(t, fetch, src)
	ctx := context.Background()

	v, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "fetched", v)

	require.NoError(t, src.Write(ctx, "k", "local"))
	v, err = s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "local", v)

	db.mu.Lock()
	db.data["k"] = "committed"
	db.mu.Unlock()
	src.Changed("k")
	v, err = s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "committed", v)

	db.mu.Lock()
	db.data["k"] = "reloaded"
	db.mu.Unlock()
	src.ChangedAll()
	v, err = s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "reloaded", v)
}

func TestStore_FreshDoesNotJoinPlainFetch(t *testing.T) {
	release := make(chan struct{})
	var calls atomic.Int32
	fetch := func(ctx context.Context, key string) (string, error) {
		n := calls.Add(1)
		<-release
		return fmt.Sprintf("v%d", n), nil
	}
	s := newStore(t, fetch, newMemDB().source())
	ctx := context.Background()

	getDone := make(chan error, 1)
	go func() {
		_, err := s.Get(ctx, "k")
		getDone <- err
	}()
	require.Eventually(t, func() bool { return calls.Load() == 1 }, 2*time.Second, 5*time.Millisecond)

	freshDone := make(chan error, 1)
	go func() {
		_, err := s.Fresh(ctx, "k")
		freshDone <- err
	}()
	require.Eventually(t, func() bool { return calls.Load() == 2 }, 2*time.Second, 5*time.Millisecond)

	close(release)
	require.NoError(t, <-getDone)
	require.NoError(t, <-freshDone)
	assert.Equal(t, int32(2), calls.Load())
}
