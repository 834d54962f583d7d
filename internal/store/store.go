// Package store serves keyed values from memory, the local database and the
// media server, in that order, with at most one fetch in flight per key.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/singleflight"

	"github.com/mmcdole/shelf/internal/cache"
	"github.com/mmcdole/shelf/internal/domain"
	"github.com/mmcdole/shelf/internal/logging"
)

// Config holds Store options.
type Config[K comparable] struct {
	Name   string       // Used in log lines
	Cache  cache.Config // In-memory tier bounds
	Logger *slog.Logger

	// KeyFunc renders a key for single-flight grouping. Defaults to fmt.Sprint.
	KeyFunc func(K) string
}

// Store orchestrates a Fetcher, a SourceOfTruth and an in-memory cache.
//
// Every value a reader sees comes out of the SourceOfTruth read stream (or the
// memory copy of an earlier emission). Fetched values are written through the
// SourceOfTruth and never emitted directly, so readers are never shown data
// that failed to persist.
type Store[K comparable, V any] struct {
	name    string
	fetch   Fetcher[K, V]
	source  SourceOfTruth[K, V]
	memory  *cache.Keyed[K, V]
	flights singleflight.Group
	keyFunc func(K) string
	logger  *slog.Logger
}

// New creates a Store.
func New[K comparable, V any](fetch Fetcher[K, V], source SourceOfTruth[K, V], cfg Config[K]) (*Store[K, V], error) {
	if fetch == nil {
		return nil, fmt.Errorf("fetcher is required")
	}
	if source == nil {
		return nil, fmt.Errorf("source of truth is required")
	}
	memory, err := cache.NewKeyed[K, V](cfg.Cache)
	if err != nil {
		return nil, fmt.Errorf("create memory cache: %w", err)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	keyFunc := cfg.KeyFunc
	if keyFunc == nil {
		keyFunc = func(k K) string { return fmt.Sprint(k) }
	}
	s := &Store[K, V]{
		name:    cfg.Name,
		fetch:   fetch,
		source:  source,
		memory:  memory,
		keyFunc: keyFunc,
		logger:  logging.ForStore(logger, cfg.Name),
	}
	if r, ok := source.(Reporter[K]); ok {
		r.OnChange(s.forget)
	}
	return s, nil
}

// forget drops memory copies the SourceOfTruth reported as changed.
func (s *Store[K, V]) forget(key K, all bool) {
	if all {
		s.memory.Purge()
		return
	}
	s.memory.Remove(key)
}

// Stream emits responses for key until ctx is done:
//
//   - Loading first if nothing is cached in memory, otherwise the cached Data
//   - Data for every value the SourceOfTruth holds or later receives
//   - NoNewData or Error when a fetch finds nothing or fails
//
// A fetch is started when requireRefresh is set or the SourceOfTruth is empty.
// Errors never clear the last emitted Data. Cancelling ctx stops the stream
// but does not cancel a fetch shared with other callers.
func (s *Store[K, V]) Stream(ctx context.Context, key K, requireRefresh bool) <-chan Response[V] {
	out := make(chan Response[V])
	go s.run(ctx, key, requireRefresh, out)
	return out
}

func (s *Store[K, V]) run(ctx context.Context, key K, requireRefresh bool, out chan<- Response[V]) {
	defer close(out)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	emit := func(r Response[V]) bool {
		select {
		case out <- r:
			return true
		case <-ctx.Done():
			return false
		}
	}

	if v, ok := s.memory.Get(key); ok {
		if !emit(Data(v, OriginCache)) {
			return
		}
	} else if !emit(Loading[V]()) {
		return
	}

	snapshots := s.source.Read(ctx, key)

	var fetched <-chan singleflight.Result
	launched := false
	if requireRefresh {
		fetched = s.launch(ctx, key, true)
		launched = true
	}

	first := true
	for {
		select {
		case <-ctx.Done():
			return

		case snap, ok := <-snapshots:
			if !ok {
				return
			}
			switch {
			case snap.Err != nil:
				if !emit(Failed[V](fmt.Errorf("%w: read %v: %w", domain.ErrStorage, key, snap.Err))) {
					return
				}
			case snap.Found:
				s.memory.Put(key, snap.Value)
				if !emit(Data(snap.Value, snap.Origin)) {
					return
				}
			default:
				s.memory.Remove(key)
			}
			if first && !snap.Found && !launched {
				fetched = s.launch(ctx, key, false)
				launched = true
			}
			first = false

		case res := <-fetched:
			fetched = nil
			switch {
			case res.Err == nil:
				// The SourceOfTruth stream carries the new value.
			case errors.Is(res.Err, ErrNoNewData):
				if !emit(NoNewData[V]()) {
					return
				}
			default:
				if !emit(Failed[V](res.Err)) {
					return
				}
			}
		}
	}
}

// Get returns the value for key from memory, the SourceOfTruth, or a fetch,
// in that order. It returns domain.ErrNotFound if none has it.
func (s *Store[K, V]) Get(ctx context.Context, key K) (V, error) {
	var zero V
	if v, ok := s.memory.Get(key); ok {
		return v, nil
	}

	snap, err := s.readOnce(ctx, key)
	if err != nil {
		return zero, err
	}
	if snap.Found {
		s.memory.Put(key, snap.Value)
		return snap.Value, nil
	}

	select {
	case res := <-s.launch(ctx, key, false):
		if res.Err != nil {
			if errors.Is(res.Err, ErrNoNewData) {
				return zero, fmt.Errorf("%w: %v", domain.ErrNotFound, key)
			}
			return zero, res.Err
		}
	case <-ctx.Done():
		return zero, ctx.Err()
	}

	snap, err = s.readOnce(ctx, key)
	if err != nil {
		return zero, err
	}
	if !snap.Found {
		return zero, fmt.Errorf("%w: %v", domain.ErrNotFound, key)
	}
	s.memory.Put(key, snap.Value)
	return snap.Value, nil
}

// Fresh fetches key even if a value is cached, waits for it to be persisted,
// and returns the persisted value.
func (s *Store[K, V]) Fresh(ctx context.Context, key K) (V, error) {
	var zero V
	select {
	case res := <-s.launch(ctx, key, true):
		if res.Err != nil && !errors.Is(res.Err, ErrNoNewData) {
			return zero, res.Err
		}
	case <-ctx.Done():
		return zero, ctx.Err()
	}
	snap, err := s.readOnce(ctx, key)
	if err != nil {
		return zero, err
	}
	if !snap.Found {
		return zero, fmt.Errorf("%w: %v", domain.ErrNotFound, key)
	}
	s.memory.Put(key, snap.Value)
	return snap.Value, nil
}

// Clear evicts key from memory and from the SourceOfTruth.
func (s *Store[K, V]) Clear(ctx context.Context, key K) error {
	s.memory.Remove(key)
	if err := s.source.Delete(ctx, key); err != nil {
		return fmt.Errorf("%w: delete %v: %w", domain.ErrStorage, key, err)
	}
	s.logger.Debug("cleared", "key", key)
	return nil
}

// Purge empties the memory tier. Use it after the SourceOfTruth was wiped
// without reporting the change.
func (s *Store[K, V]) Purge() {
	s.memory.Purge()
}

// launch joins or starts the fetch for key. The fetch runs detached from ctx
// so one caller giving up does not fail the others. Forced fetches only join
// other forced fetches: a plain flight may skip the network.
func (s *Store[K, V]) launch(ctx context.Context, key K, force bool) <-chan singleflight.Result {
	detached := context.WithoutCancel(ctx)
	flight := s.keyFunc(key)
	if force {
		flight += "\x00force"
	}
	return s.flights.DoChan(flight, func() (any, error) {
		return nil, s.fetchAndWrite(detached, key, force)
	})
}

func (s *Store[K, V]) fetchAndWrite(ctx context.Context, key K, force bool) error {
	if !force {
		// Another flight may have finished between the caller's read and
		// this one starting.
		if snap, err := s.readOnce(ctx, key); err == nil && snap.Found {
			return nil
		}
	}

	s.logger.Debug("fetching", "key", key, "force", force)
	v, err := s.fetch(ctx, key)
	if err != nil {
		if errors.Is(err, ErrNoNewData) {
			s.logger.Debug("no new data", "key", key)
		} else {
			s.logger.Warn("fetch failed", "key", key, "error", err)
		}
		return err
	}

	if err := s.source.Write(withOrigin(ctx, OriginFetcher), key, v); err != nil {
		return fmt.Errorf("%w: write %v: %w", domain.ErrStorage, key, err)
	}
	return nil
}

func (s *Store[K, V]) readOnce(ctx context.Context, key K) (Snapshot[V], error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	select {
	case snap, ok := <-s.source.Read(ctx, key):
		if !ok {
			return Snapshot[V]{}, ctx.Err()
		}
		if snap.Err != nil {
			return snap, fmt.Errorf("%w: read %v: %w", domain.ErrStorage, key, snap.Err)
		}
		return snap, nil
	case <-ctx.Done():
		return Snapshot[V]{}, ctx.Err()
	}
}
