package store

import (
	"context"
	"log/slog"
	"sync"
)

// Snapshot is one emission of a SourceOfTruth read stream.
type Snapshot[V any] struct {
	Value  V
	Found  bool
	Err    error
	Origin Origin // what caused the change: OriginSourceOfTruth or OriginFetcher
}

// SourceOfTruth is the durable tier behind a Store.
type SourceOfTruth[K comparable, V any] interface {
	// Read streams the current value, then again after every change, until
	// ctx is done. Re-subscribing yields the latest value immediately.
	Read(ctx context.Context, key K) <-chan Snapshot[V]

	// Write persists value. Writes for the same key are serialized.
	Write(ctx context.Context, key K, value V) error

	// Delete removes key.
	Delete(ctx context.Context, key K) error
}

// Reader loads the persisted value for key. ok is false when absent.
type Reader[K comparable, V any] func(ctx context.Context, key K) (value V, ok bool, err error)

// Writer persists value for key.
type Writer[K comparable, V any] func(ctx context.Context, key K, value V) error

// Deleter removes key.
type Deleter[K comparable] func(ctx context.Context, key K) error

// ChangeFunc is called after the persisted value of key changed. all is set
// when every key may have changed.
type ChangeFunc[K comparable] func(key K, all bool)

// Reporter is a SourceOfTruth that reports changes, including ones made
// without going through Write. Store registers with it to drop stale memory
// copies.
type Reporter[K comparable] interface {
	OnChange(fn ChangeFunc[K])
}

// Observed turns plain local read/write/delete functions into a
// SourceOfTruth: same-key writes are serialized and every completed write or
// delete re-emits the latest value to all readers of that key.
type Observed[K comparable, V any] struct {
	read   Reader[K, V]
	write  Writer[K, V]
	delete Deleter[K]
	notify *Notifier[K]
	locks  keyLocks[K]
	logger *slog.Logger

	mu        sync.RWMutex
	listeners []ChangeFunc[K]
}

// NewObserved wraps read, write and del. A nil logger uses slog.Default().
func NewObserved[K comparable, V any](read Reader[K, V], write Writer[K, V], del Deleter[K], logger *slog.Logger) *Observed[K, V] {
	if logger == nil {
		logger = slog.Default()
	}
	return &Observed[K, V]{
		read:   read,
		write:  write,
		delete: del,
		notify: NewNotifier[K](),
		locks:  keyLocks[K]{locks: make(map[K]*keyLock)},
		logger: logger,
	}
}

func (o *Observed[K, V]) Read(ctx context.Context, key K) <-chan Snapshot[V] {
	out := make(chan Snapshot[V])
	// Subscribe before the first read so no change can slip in between.
	sub := o.notify.Subscribe(key)

	go func() {
		defer close(out)
		defer sub.Close()

		origin := OriginSourceOfTruth
		for {
			value, ok, err := o.read(ctx, key)
			if ctx.Err() != nil {
				return
			}
			select {
			case out <- Snapshot[V]{Value: value, Found: ok, Err: err, Origin: origin}:
			case <-ctx.Done():
				return
			}
			select {
			case origin = <-sub.C():
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// Write persists value and notifies readers. The write itself is not
// cancelled with ctx once started.
func (o *Observed[K, V]) Write(ctx context.Context, key K, value V) error {
	unlock := o.locks.lock(key)
	err := o.write(context.WithoutCancel(ctx), key, value)
	unlock()
	if err != nil {
		o.logger.Error("source of truth write failed", "key", key, "error", err)
		return err
	}
	o.changed(key, false)
	o.notify.Publish(key, originFromContext(ctx))
	return nil
}

func (o *Observed[K, V]) Delete(ctx context.Context, key K) error {
	unlock := o.locks.lock(key)
	err := o.delete(context.WithoutCancel(ctx), key)
	unlock()
	if err != nil {
		o.logger.Error("source of truth delete failed", "key", key, "error", err)
		return err
	}
	o.changed(key, false)
	o.notify.Publish(key, OriginSourceOfTruth)
	return nil
}

// Changed tells readers of key to reload, for writes that bypassed Write
// (e.g. a page commit that touched the same rows).
func (o *Observed[K, V]) Changed(key K) {
	o.changed(key, false)
	o.notify.Publish(key, OriginSourceOfTruth)
}

// ChangedAll tells every reader to reload.
func (o *Observed[K, V]) ChangedAll() {
	var zero K
	o.changed(zero, true)
	o.notify.PublishAll(OriginSourceOfTruth)
}

// OnChange registers fn. Listeners run synchronously, before readers are
// signalled.
func (o *Observed[K, V]) OnChange(fn ChangeFunc[K]) {
	o.mu.Lock()
	o.listeners = append(o.listeners, fn)
	o.mu.Unlock()
}

func (o *Observed[K, V]) changed(key K, all bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	for _, fn := range o.listeners {
		fn(key, all)
	}
}

// keyLocks hands out one mutex per key, dropped when no longer held.
type keyLocks[K comparable] struct {
	mu    sync.Mutex
	locks map[K]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

func (l *keyLocks[K]) lock(key K) (unlock func()) {
	l.mu.Lock()
	kl, ok := l.locks[key]
	if !ok {
		kl = &keyLock{}
		l.locks[key] = kl
	}
	kl.refs++
	l.mu.Unlock()

	kl.mu.Lock()
	return func() {
		kl.mu.Unlock()
		l.mu.Lock()
		kl.refs--
		if kl.refs == 0 {
			delete(l.locks, key)
		}
		l.mu.Unlock()
	}
}

type originKey struct{}

// withOrigin tags writes made on behalf of a fetch.
func withOrigin(ctx context.Context, origin Origin) context.Context {
	return context.WithValue(ctx, originKey{}, origin)
}

func originFromContext(ctx context.Context) Origin {
	if o, ok := ctx.Value(originKey{}).(Origin); ok {
		return o
	}
	return OriginSourceOfTruth
}
