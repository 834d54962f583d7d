// Package library wires the media server client, the local database and the
// caching layers into the lists and stores the rest of the client reads.
package library

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/mmcdole/shelf/internal/cache"
	"github.com/mmcdole/shelf/internal/config"
	"github.com/mmcdole/shelf/internal/domain"
	"github.com/mmcdole/shelf/internal/paging"
	"github.com/mmcdole/shelf/internal/search"
	"github.com/mmcdole/shelf/internal/storage"
	"github.com/mmcdole/shelf/internal/store"
)

// Client is the remote surface the registry fetches from.
type Client interface {
	domain.LibraryRepository
	domain.SearchRepository
	domain.MetadataRepository
}

// Deps are the collaborators of a Registry.
type Deps struct {
	Client Client
	DB     storage.Backend
	Clock  clockwork.Clock // Defaults to the real clock
	Config *config.Config  // Defaults to config.DefaultConfig()
	Logger *slog.Logger
}

// Registry hands out mediators and stores for one signed-in user. Mediators
// are memoised per rendered query key, so two views of the same list share
// one instance and one notification stream.
type Registry struct {
	client Client
	db     storage.Backend
	clock  clockwork.Clock
	cfg    *config.Config
	logger *slog.Logger
	userID string
	notify *store.Notifier[string]

	items       *storage.Collection[domain.LibraryItem]
	authors     *storage.Collection[domain.Author]
	series      *storage.Collection[domain.Series]
	collections *storage.Collection[domain.Collection]
	progress    *storage.Collection[domain.MediaProgress]
	libraries   *storage.Collection[domain.LibraryList]

	itemSource      *store.Observed[string, domain.LibraryItem]
	progressSource  *store.Observed[domain.ProgressKey, domain.MediaProgress]
	librariesSource *store.Observed[string, []domain.Library]

	itemStore      *store.Store[string, domain.LibraryItem]
	progressStore  *store.Store[domain.ProgressKey, domain.MediaProgress]
	librariesStore *store.Store[string, []domain.Library]

	mu                  sync.Mutex
	itemMediators       map[string]*paging.Mediator[domain.LibraryItem]
	authorMediators     map[string]*paging.Mediator[domain.Author]
	seriesMediators     map[string]*paging.Mediator[domain.Series]
	collectionMediators map[string]*paging.Mediator[domain.Collection]
}

// New creates a Registry.
func New(deps Deps) (*Registry, error) {
	if deps.Client == nil {
		return nil, fmt.Errorf("client is required")
	}
	if deps.DB == nil {
		return nil, fmt.Errorf("database is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	cfg := deps.Config
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := &Registry{
		client:              deps.Client,
		db:                  deps.DB,
		clock:               clock,
		cfg:                 cfg,
		logger:              logger,
		userID:              cfg.Server.UserID,
		notify:              store.NewNotifier[string](),
		items:               storage.NewCollection(deps.DB, storage.Items, clock),
		authors:             storage.NewCollection(deps.DB, storage.Authors, clock),
		series:              storage.NewCollection(deps.DB, storage.Series, clock),
		collections:         storage.NewCollection(deps.DB, storage.Collections, clock),
		progress:            storage.NewCollection(deps.DB, storage.Progress, clock),
		libraries:           storage.NewCollection(deps.DB, storage.Libraries, clock),
		itemMediators:       make(map[string]*paging.Mediator[domain.LibraryItem]),
		authorMediators:     make(map[string]*paging.Mediator[domain.Author]),
		seriesMediators:     make(map[string]*paging.Mediator[domain.Series]),
		collectionMediators: make(map[string]*paging.Mediator[domain.Collection]),
	}
	if err := r.buildStores(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Registry) cacheConfig() cache.Config {
	return cache.Config{
		MaxEntries: r.cfg.Cache.MaxEntries,
		TTL:        r.cfg.Cache.EntryTTL,
		Clock:      r.clock,
	}
}

func (r *Registry) buildStores() error {
	var err error

	r.itemSource = store.NewObserved(
		r.items.Get,
		func(ctx context.Context, _ string, v domain.LibraryItem) error {
			return r.items.Put(ctx, v, domain.OriginDetail)
		},
		r.items.Delete,
		r.logger,
	)
	r.itemStore, err = store.New(r.client.GetItem, r.itemSource, store.Config[string]{
		Name:   "items",
		Cache:  r.cacheConfig(),
		Logger: r.logger,
	})
	if err != nil {
		return fmt.Errorf("create item store: %w", err)
	}

	r.progressSource = store.NewObserved(
		func(ctx context.Context, k domain.ProgressKey) (domain.MediaProgress, bool, error) {
			return r.progress.Get(ctx, k.String())
		},
		func(ctx context.Context, _ domain.ProgressKey, v domain.MediaProgress) error {
			return r.progress.Put(ctx, v, domain.OriginDetail)
		},
		func(ctx context.Context, k domain.ProgressKey) error {
			return r.progress.Delete(ctx, k.String())
		},
		r.logger,
	)
	r.progressStore, err = store.New(r.fetchProgress, r.progressSource, store.Config[domain.ProgressKey]{
		Name:    "progress",
		Cache:   r.cacheConfig(),
		Logger:  r.logger,
		KeyFunc: domain.ProgressKey.String,
	})
	if err != nil {
		return fmt.Errorf("create progress store: %w", err)
	}

	r.librariesSource = store.NewObserved(
		func(ctx context.Context, user string) ([]domain.Library, bool, error) {
			list, ok, err := r.libraries.Get(ctx, user)
			return list.Libraries, ok, err
		},
		func(ctx context.Context, user string, libs []domain.Library) error {
			return r.libraries.Put(ctx, domain.LibraryList{UserID: user, Libraries: libs}, domain.OriginDetail)
		},
		r.libraries.Delete,
		r.logger,
	)
	r.librariesStore, err = store.New(
		func(ctx context.Context, _ string) ([]domain.Library, error) {
			return r.client.GetLibraries(ctx)
		},
		r.librariesSource,
		store.Config[string]{Name: "libraries", Cache: r.cacheConfig(), Logger: r.logger},
	)
	if err != nil {
		return fmt.Errorf("create libraries store: %w", err)
	}
	return nil
}

// fetchProgress treats a missing server record as nothing new, so local
// progress written before the first sync survives.
func (r *Registry) fetchProgress(ctx context.Context, key domain.ProgressKey) (domain.MediaProgress, error) {
	p, err := r.client.GetProgress(ctx, key)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return p, store.ErrNoNewData
		}
		return p, err
	}
	return p, nil
}

// UserID returns the user every list is scoped to.
func (r *Registry) UserID() string { return r.userID }

// scope fills in the user and default library and pins the kind segment.
func (r *Registry) scope(q domain.QueryKey, kind string) domain.QueryKey {
	if q.UserID == "" {
		q.UserID = r.userID
	}
	if q.LibraryID == "" && kind != domain.KindInProgress {
		q.LibraryID = r.cfg.Server.LibraryID
	}
	q.Kind = kind
	return q
}

func (r *Registry) pagingConfig(maxAge time.Duration, origin domain.Origin) paging.Config {
	return paging.Config{
		MaxCacheAge: maxAge,
		PageSize:    r.cfg.Sync.PageSize,
		Origin:      origin,
		Clock:       r.clock,
		Logger:      r.logger,
		Notifier:    r.notify,
	}
}

// reportingLedger tells a SourceOfTruth which entities a page commit touched,
// so stores serving them by id drop their memory copies.
type reportingLedger[T domain.Entity] struct {
	paging.Ledger[T]
	touched func(T) []string
	changed func(id string)
}

func (l reportingLedger[T]) Commit(ctx context.Context, c paging.Commit[T]) error {
	if err := l.Ledger.Commit(ctx, c); err != nil {
		return err
	}
	for _, e := range c.Entities {
		for _, id := range l.touched(e) {
			l.changed(id)
		}
	}
	return nil
}

func (r *Registry) itemLedger() paging.Ledger[domain.LibraryItem] {
	return reportingLedger[domain.LibraryItem]{
		Ledger:  r.items,
		touched: func(it domain.LibraryItem) []string { return []string{it.ID} },
		changed: r.itemSource.Changed,
	}
}

// collectionLedger reports member books, which a commit stores as items.
func (r *Registry) collectionLedger() paging.Ledger[domain.Collection] {
	return reportingLedger[domain.Collection]{
		Ledger: r.collections,
		touched: func(c domain.Collection) []string {
			ids := make([]string, len(c.Books))
			for i, b := range c.Books {
				ids[i] = b.ID
			}
			return ids
		},
		changed: r.itemSource.Changed,
	}
}

func memo[T domain.Entity](mu *sync.Mutex, m map[string]*paging.Mediator[T], key string, build func() *paging.Mediator[T]) *paging.Mediator[T] {
	mu.Lock()
	defer mu.Unlock()
	if md, ok := m[key]; ok {
		return md
	}
	md := build()
	m[key] = md
	return md
}

// Items returns the mediator for a library item listing.
func (r *Registry) Items(q domain.QueryKey) *paging.Mediator[domain.LibraryItem] {
	q = r.scope(q, domain.KindItems)
	return memo(&r.mu, r.itemMediators, q.String(), func() *paging.Mediator[domain.LibraryItem] {
		return paging.New(q, r.client.GetItems, r.itemLedger(),
			r.pagingConfig(r.cfg.Sync.MaxAge.Items, domain.OriginPage))
	})
}

// Authors returns the mediator for a library's authors.
func (r *Registry) Authors(q domain.QueryKey) *paging.Mediator[domain.Author] {
	q = r.scope(q, domain.KindAuthors)
	return memo(&r.mu, r.authorMediators, q.String(), func() *paging.Mediator[domain.Author] {
		return paging.New(q, r.client.GetAuthors, paging.Ledger[domain.Author](r.authors),
			r.pagingConfig(r.cfg.Sync.MaxAge.Authors, domain.OriginPage))
	})
}

// Series returns the mediator for a library's series.
func (r *Registry) Series(q domain.QueryKey) *paging.Mediator[domain.Series] {
	q = r.scope(q, domain.KindSeries)
	return memo(&r.mu, r.seriesMediators, q.String(), func() *paging.Mediator[domain.Series] {
		return paging.New(q, r.client.GetSeries, paging.Ledger[domain.Series](r.series),
			r.pagingConfig(r.cfg.Sync.MaxAge.Series, domain.OriginPage))
	})
}

// Collections returns the mediator for a library's collections. Member
// books are stored alongside as library items.
func (r *Registry) Collections(q domain.QueryKey) *paging.Mediator[domain.Collection] {
	q = r.scope(q, domain.KindCollections)
	return memo(&r.mu, r.collectionMediators, q.String(), func() *paging.Mediator[domain.Collection] {
		return paging.New(q, r.client.GetCollections, r.collectionLedger(),
			r.pagingConfig(r.cfg.Sync.MaxAge.Collections, domain.OriginPage))
	})
}

// Search returns the mediator for a server-side search. Results arrive as a
// single page, ranked so the closest titles come first.
func (r *Registry) Search(q domain.QueryKey) *paging.Mediator[domain.LibraryItem] {
	q = r.scope(q, domain.KindSearch)
	fetch := func(ctx context.Context, q domain.QueryKey, page, limit int) (domain.PageResult[domain.LibraryItem], error) {
		res, err := r.client.Search(ctx, q, limit)
		if err != nil {
			return res, err
		}
		res.Data = search.Rank(q.Search, res.Data)
		res.Page = page
		res.NextPage = nil
		return res, nil
	}
	return memo(&r.mu, r.itemMediators, q.String(), func() *paging.Mediator[domain.LibraryItem] {
		return paging.New(q, fetch, r.itemLedger(),
			r.pagingConfig(r.cfg.Sync.MaxAge.Search, domain.OriginSearch))
	})
}

// InProgress returns the mediator for user's continue-listening list. An
// empty user means the signed-in one.
func (r *Registry) InProgress(user string) *paging.Mediator[domain.LibraryItem] {
	q := r.scope(domain.QueryKey{UserID: user}, domain.KindInProgress)
	fetch := func(ctx context.Context, _ domain.QueryKey, page, _ int) (domain.PageResult[domain.LibraryItem], error) {
		items, err := r.client.GetItemsInProgress(ctx)
		if err != nil {
			return domain.PageResult[domain.LibraryItem]{}, err
		}
		return domain.PageResult[domain.LibraryItem]{Data: items, Page: page, Total: len(items)}, nil
	}
	return memo(&r.mu, r.itemMediators, q.String(), func() *paging.Mediator[domain.LibraryItem] {
		return paging.New(q, fetch, r.itemLedger(),
			r.pagingConfig(r.cfg.Sync.MaxAge.Progress, domain.OriginPage))
	})
}

// ItemStore serves fully expanded library items by id.
func (r *Registry) ItemStore() *store.Store[string, domain.LibraryItem] { return r.itemStore }

// ProgressStore serves the user's progress by item or episode.
func (r *Registry) ProgressStore() *store.Store[domain.ProgressKey, domain.MediaProgress] {
	return r.progressStore
}

// LibrariesStore serves the library list keyed by user id.
func (r *Registry) LibrariesStore() *store.Store[string, []domain.Library] { return r.librariesStore }

// UpdateProgress records a local progress change. The record keeps its own
// LastUpdate (stamped now if unset), so an older server copy fetched later
// does not replace it. Item-level progress is also patched onto the cached
// item.
func (r *Registry) UpdateProgress(ctx context.Context, p domain.MediaProgress) error {
	if p.LibraryItemID == "" {
		return fmt.Errorf("progress has no library item id")
	}
	if p.LastUpdate == 0 {
		p.LastUpdate = r.clock.Now().UnixMilli()
	}
	if err := r.progressSource.Write(ctx, p.Key(), p); err != nil {
		return fmt.Errorf("%w: write progress: %w", domain.ErrStorage, err)
	}
	if p.EpisodeID != "" {
		return nil
	}

	item, ok, err := r.items.Get(ctx, p.LibraryItemID)
	if err != nil {
		return fmt.Errorf("%w: read item %s: %w", domain.ErrStorage, p.LibraryItemID, err)
	}
	if !ok {
		return nil
	}
	item.Progress = &p
	// Lowest origin: only the progress can change, never the stored content.
	if err := r.items.Put(ctx, item, domain.OriginMembership); err != nil {
		return fmt.Errorf("%w: patch item %s: %w", domain.ErrStorage, item.ID, err)
	}
	r.itemSource.Changed(item.ID)
	r.notify.PublishAll(store.OriginSourceOfTruth)
	r.logger.Debug("updated progress", "item", p.LibraryItemID, "progress", p.Progress)
	return nil
}

// InvalidateLibrary drops every cached list of libID for the user. Entities
// stay, so detail reads keep working offline.
func (r *Registry) InvalidateLibrary(ctx context.Context, libID string) error {
	prefix := domain.QueryKey{UserID: r.userID, LibraryID: libID}.String() + "::"
	if err := storage.InvalidatePrefix(ctx, r.db, prefix); err != nil {
		return fmt.Errorf("%w: invalidate library %s: %w", domain.ErrStorage, libID, err)
	}
	r.notify.PublishAll(store.OriginSourceOfTruth)
	r.logger.Info("invalidated library", "libID", libID)
	return nil
}

// InvalidateAll drops every cached list.
func (r *Registry) InvalidateAll(ctx context.Context) error {
	if err := storage.InvalidatePrefix(ctx, r.db, ""); err != nil {
		return fmt.Errorf("%w: invalidate all: %w", domain.ErrStorage, err)
	}
	r.notify.PublishAll(store.OriginSourceOfTruth)
	r.logger.Info("invalidated all lists")
	return nil
}

// Purge empties the local database. The stores drop their memory tier when
// their sources report the change.
func (r *Registry) Purge(ctx context.Context) error {
	if err := r.db.Purge(ctx); err != nil {
		return fmt.Errorf("%w: purge: %w", domain.ErrStorage, err)
	}
	r.itemSource.ChangedAll()
	r.progressSource.ChangedAll()
	r.librariesSource.ChangedAll()
	r.notify.PublishAll(store.OriginSourceOfTruth)
	r.logger.Info("purged local cache")
	return nil
}
