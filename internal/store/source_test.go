package store_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmcdole/shelf/internal/store"
)

func nextSnap(t *testing.T, ch <-chan store.Snapshot[string]) store.Snapshot[string] {
	t.Helper()
	select {
	case s, ok := <-ch:
		require.True(t, ok, "stream closed early")
		return s
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for snapshot")
		return store.Snapshot[string]{}
	}
}

func TestObserved_ReadReplaysThenFollows(t *testing.T) {
	src := newMemDB().source()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := src.Read(ctx, "k")
	assert.False(t, nextSnap(t, ch).Found)

	require.NoError(t, src.Write(ctx, "k", "a"))
	s := nextSnap(t, ch)
	assert.True(t, s.Found)
	assert.Equal(t, "a", s.Value)

	// A new subscriber sees the latest value immediately.
	late := src.Read(ctx, "k")
	assert.Equal(t, "a", nextSnap(t, late).Value)

	require.NoError(t, src.Delete(ctx, "k"))
	assert.False(t, nextSnap(t, ch).Found)
	assert.False(t, nextSnap(t, late).Found)
}

func TestObserved_SlowReaderCoalesces(t *testing.T) {
	src := newMemDB().source()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := src.Read(ctx, "k")
	nextSnap(t, ch)

	for _, v := range []string{"1", "2", "3"} {
		require.NoError(t, src.Write(ctx, "k", v))
	}

	// Writers never block on the reader; the reader catches up to the newest value.
	require.Eventually(t, func() bool {
		select {
		case s := <-ch:
			return s.Value == "3"
		default:
			return false
		}
	}, time.Second, time.Millisecond)
}

func TestObserved_ReadStopsOnCancel(t *testing.T) {
	src := newMemDB().source()
	ctx, cancel := context.WithCancel(context.Background())
	ch := src.Read(ctx, "k")
	nextSnap(t, ch)
	cancel()

	select {
	case _, ok := <-ch:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("stream did not close")
	}
}

func TestObserved_SameKeyWritesSerialize(t *testing.T) {
	var mu sync.Mutex
	inFlight, maxInFlight := 0, 0
	src := store.NewObserved[string, int](
		func(context.Context, string) (int, bool, error) { return 0, false, nil },
		func(context.Context, string, int) error {
			mu.Lock()
			inFlight++
			if inFlight > maxInFlight {
				maxInFlight = inFlight
			}
			mu.Unlock()
			time.Sleep(time.Millisecond)
			mu.Lock()
			inFlight--
			mu.Unlock()
			return nil
		},
		func(context.Context, string) error { return nil },
		nil,
	)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = src.Write(context.Background(), "same", i)
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 1, maxInFlight)
}

func TestNotifier_ChangedAll(t *testing.T) {
	n := store.NewNotifier[string]()
	a := n.Subscribe("a")
	b := n.Subscribe("b")
	defer a.Close()
	defer b.Close()

	n.PublishAll(store.OriginSourceOfTruth)

	for _, sub := range []*store.Subscription[string]{a, b} {
		select {
		case o := <-sub.C():
			assert.Equal(t, store.OriginSourceOfTruth, o)
		case <-time.After(time.Second):
			t.Fatal("missing signal")
		}
	}
}
