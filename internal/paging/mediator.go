// Package paging mirrors paginated server collections into the local page
// ledger and decides when a cached list is stale enough to refetch.
package paging

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/mmcdole/shelf/internal/domain"
	"github.com/mmcdole/shelf/internal/logging"
	"github.com/mmcdole/shelf/internal/store"
)

const (
	defaultPageSize = 50
	firstPage       = 0
)

// PageFetcher fetches one page of a query. It performs exactly one request.
type PageFetcher[T domain.Entity] func(ctx context.Context, q domain.QueryKey, page, limit int) (domain.PageResult[T], error)

// Config holds mediator options.
type Config struct {
	MaxCacheAge time.Duration // Initialize refreshes lists older than this
	PageSize    int
	Origin      domain.Origin // Origin of entities written by this mediator
	Clock       clockwork.Clock
	Logger      *slog.Logger

	// Notifier is signalled with the query key after every commit. Mediators
	// of one registry share it so invalidation can reach every watcher.
	Notifier *store.Notifier[string]
}

// Mediator drives one paginated query.
type Mediator[T domain.Entity] struct {
	query  domain.QueryKey
	key    string
	fetch  PageFetcher[T]
	ledger Ledger[T]

	maxAge   time.Duration
	pageSize int
	origin   domain.Origin
	clock    clockwork.Clock
	notify   *store.Notifier[string]
	logger   *slog.Logger

	mu    sync.Mutex
	state State
}

// New creates a mediator for query.
func New[T domain.Entity](query domain.QueryKey, fetch PageFetcher[T], ledger Ledger[T], cfg Config) *Mediator[T] {
	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	clock := cfg.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	notify := cfg.Notifier
	if notify == nil {
		notify = store.NewNotifier[string]()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	key := query.String()
	return &Mediator[T]{
		query:    query,
		key:      key,
		fetch:    fetch,
		ledger:   ledger,
		maxAge:   cfg.MaxCacheAge,
		pageSize: pageSize,
		origin:   cfg.Origin,
		clock:    clock,
		notify:   notify,
		logger:   logging.ForQuery(logger, key),
	}
}

// Key returns the rendered query key.
func (m *Mediator[T]) Key() string { return m.key }

// State returns the current lifecycle state.
func (m *Mediator[T]) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Mediator[T]) setState(s State) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}

// Initialize decides whether the cached list is stale. It returns
// LaunchInitialRefresh when nothing is cached or the oldest cached page is
// older than the max cache age.
func (m *Mediator[T]) Initialize(ctx context.Context) (InitializeAction, error) {
	m.setState(StateInitializing)
	defer m.setState(StateIdle)

	pages, err := m.ledger.Pages(ctx, m.key)
	if err != nil {
		return LaunchInitialRefresh, fmt.Errorf("%w: read pages: %w", domain.ErrStorage, err)
	}
	marker, ok := oldest(pages)
	if !ok {
		m.logger.Debug("no cached pages")
		return LaunchInitialRefresh, nil
	}
	elapsed := m.clock.Since(marker)
	if elapsed > m.maxAge {
		m.logger.Debug("cache stale", "age", elapsed, "maxAge", m.maxAge)
		return LaunchInitialRefresh, nil
	}
	m.logger.Debug("cache fresh", "age", elapsed)
	return SkipInitialRefresh, nil
}

// Load performs one load of type t.
//
// PREPEND always ends pagination. REFRESH fetches the first page and
// replaces every cached page of the query. APPEND fetches the next page
// recorded in the ledger, or ends pagination if there is none. On failure
// the ledger is left untouched.
func (m *Mediator[T]) Load(ctx context.Context, t LoadType, st PagingState) LoadResult {
	res, _, _ := m.load(ctx, t, st)
	return res
}

func (m *Mediator[T]) load(ctx context.Context, t LoadType, st PagingState) (LoadResult, int, int) {
	var page int
	switch t {
	case LoadPrepend:
		return Success(true), 0, 0
	case LoadRefresh:
		m.setState(StateRefreshing)
		page = firstPage
	case LoadAppend:
		m.setState(StateAppending)
		pages, err := m.ledger.Pages(ctx, m.key)
		if err != nil {
			return m.fail(t, fmt.Errorf("%w: read pages: %w", domain.ErrStorage, err)), 0, 0
		}
		lp, ok := last(pages)
		if !ok || lp.NextPage == nil {
			m.setState(StateIdle)
			return Success(true), 0, 0
		}
		page = *lp.NextPage
	default:
		return Failure(fmt.Errorf("unknown load type %v", t)), 0, 0
	}

	limit := m.pageSize
	if st.PageSize > 0 {
		limit = st.PageSize
	}

	result, err := m.fetch(ctx, m.query, page, limit)
	if err != nil {
		return m.fail(t, err), 0, 0
	}

	commit := Commit[T]{
		QueryKey:  m.key,
		LibraryID: m.query.LibraryID,
		UserID:    m.query.UserID,
		Refresh:   t == LoadRefresh,
		Page:      page,
		NextPage:  result.NextPage,
		Total:     result.Total,
		Entities:  result.Data,
		Origin:    m.origin,
		UpdatedAt: m.clock.Now(),
	}
	// A started commit runs to completion even if the caller goes away.
	if err := m.ledger.Commit(context.WithoutCancel(ctx), commit); err != nil {
		return m.fail(t, fmt.Errorf("%w: commit page %d: %w", domain.ErrStorage, page, err)), 0, 0
	}

	m.setState(StateIdle)
	m.notify.Publish(m.key, store.OriginFetcher)
	m.logger.Debug("loaded page", "type", t, "page", page, "count", len(result.Data), "total", result.Total)
	return Success(result.NextPage == nil), len(result.Data), result.Total
}

func (m *Mediator[T]) fail(t LoadType, err error) LoadResult {
	m.setState(StateError)
	m.logger.Warn("load failed", "type", t, "error", err)
	return Failure(err)
}

// LoadAll refreshes the query and appends until the last page.
func (m *Mediator[T]) LoadAll(ctx context.Context, onProgress domain.ProgressFunc) (int, error) {
	loaded := 0
	t := LoadRefresh
	for {
		if err := ctx.Err(); err != nil {
			return loaded, err
		}
		res, n, total := m.load(ctx, t, PagingState{})
		if res.Err != nil {
			return loaded, res.Err
		}
		loaded += n
		if onProgress != nil {
			onProgress(loaded, total)
		}
		if res.EndOfPagination {
			return loaded, nil
		}
		t = LoadAppend
	}
}

// Sync refreshes the whole query if Initialize says it is stale, otherwise
// it reports the cached count.
func (m *Mediator[T]) Sync(ctx context.Context, onProgress domain.ProgressFunc) (domain.SyncResult, error) {
	action, err := m.Initialize(ctx)
	if err != nil {
		return domain.SyncResult{}, err
	}
	if action == SkipInitialRefresh {
		entries, err := m.ledger.Entries(ctx, m.key)
		if err != nil {
			return domain.SyncResult{}, fmt.Errorf("%w: read entries: %w", domain.ErrStorage, err)
		}
		return domain.SyncResult{QueryKey: m.key, FromCache: true, Count: len(entries)}, nil
	}
	n, err := m.LoadAll(ctx, onProgress)
	if err != nil {
		return domain.SyncResult{}, err
	}
	return domain.SyncResult{QueryKey: m.key, Count: n}, nil
}

// Snapshot returns the cached list in page and position order.
func (m *Mediator[T]) Snapshot(ctx context.Context) (Listing[T], error) {
	pages, err := m.ledger.Pages(ctx, m.key)
	if err != nil {
		return Listing[T]{}, fmt.Errorf("%w: read pages: %w", domain.ErrStorage, err)
	}
	items, err := m.ledger.Entries(ctx, m.key)
	if err != nil {
		return Listing[T]{}, fmt.Errorf("%w: read entries: %w", domain.ErrStorage, err)
	}
	l := Listing[T]{Items: items, Pages: len(pages)}
	if lp, ok := last(pages); ok {
		l.Total = lp.Total
		l.EndOfPagination = lp.NextPage == nil
	}
	return l, nil
}

// Watch emits the cached list now and after every change until ctx is done.
func (m *Mediator[T]) Watch(ctx context.Context) <-chan Listing[T] {
	out := make(chan Listing[T])
	sub := m.notify.Subscribe(m.key)
	go func() {
		defer close(out)
		defer sub.Close()
		for {
			l, err := m.Snapshot(ctx)
			if err != nil {
				m.logger.Error("watch snapshot failed", "error", err)
			} else {
				select {
				case out <- l:
				case <-ctx.Done():
					return
				}
			}
			select {
			case <-sub.C():
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// Invalidate drops the cached pages of the query; entities stay. The next
// Initialize will ask for a refresh.
func (m *Mediator[T]) Invalidate(ctx context.Context) error {
	if err := m.ledger.DeletePages(context.WithoutCancel(ctx), m.key); err != nil {
		return fmt.Errorf("%w: delete pages: %w", domain.ErrStorage, err)
	}
	m.notify.Publish(m.key, store.OriginSourceOfTruth)
	m.logger.Info("invalidated list cache")
	return nil
}
