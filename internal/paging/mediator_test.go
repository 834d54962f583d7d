package paging_test

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmcdole/shelf/internal/domain"
	"github.com/mmcdole/shelf/internal/paging"
	"github.com/mmcdole/shelf/internal/storage"
	"github.com/mmcdole/shelf/internal/storage/boltdb"
)

var errServer = errors.New("server unavailable")

// fakeServer serves a fixed list in pages and records requested page indexes.
type fakeServer struct {
	mu    sync.Mutex
	items []domain.LibraryItem
	calls []int
	fail  error
}

func (s *fakeServer) fetch(_ context.Context, _ domain.QueryKey, page, limit int) (domain.PageResult[domain.LibraryItem], error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, page)
	if s.fail != nil {
		return domain.PageResult[domain.LibraryItem]{}, s.fail
	}
	start := page * limit
	end := min(start+limit, len(s.items))
	if start > end {
		start = end
	}
	return domain.PageResult[domain.LibraryItem]{
		Data:     s.items[start:end],
		Page:     page,
		NextPage: domain.NextPageFor(page, limit, len(s.items)),
		Total:    len(s.items),
	}, nil
}

func (s *fakeServer) requested() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int(nil), s.calls...)
}

type fixture struct {
	server   *fakeServer
	clock    *clockwork.FakeClock
	ledger   *storage.Collection[domain.LibraryItem]
	db       storage.Backend
	mediator *paging.Mediator[domain.LibraryItem]
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := boltdb.OpenFile(filepath.Join(t.TempDir(), boltdb.FileName))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	clock := clockwork.NewFakeClockAt(time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC))
	server := &fakeServer{items: []domain.LibraryItem{
		{ID: "a", Title: "Anathem"},
		{ID: "b", Title: "Babel"},
		{ID: "c", Title: "Circe"},
	}}
	ledger := storage.NewCollection(db, storage.Items, clock)
	query := domain.QueryKey{UserID: "u1", LibraryID: "lib1", Sort: "title"}
	m := paging.New(query, server.fetch, ledger, paging.Config{
		MaxCacheAge: time.Hour,
		PageSize:    2,
		Origin:      domain.OriginPage,
		Clock:       clock,
	})
	return &fixture{server: server, clock: clock, ledger: ledger, db: db, mediator: m}
}

func (f *fixture) joins(t *testing.T, pageID int64) []domain.PageJoin {
	t.Helper()
	var out []domain.PageJoin
	require.NoError(t, f.db.View(context.Background(), func(tx storage.Tx) error {
		var err error
		out, err = tx.Joins(pageID)
		return err
	}))
	return out
}

func TestMediatorRefreshThenAppend(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	m := f.mediator
	assert.Equal(t, "u1::lib1::sort=title", m.Key())

	action, err := m.Initialize(ctx)
	require.NoError(t, err)
	assert.Equal(t, paging.LaunchInitialRefresh, action)

	res := m.Load(ctx, paging.LoadRefresh, paging.PagingState{})
	require.True(t, res.OK())
	assert.False(t, res.EndOfPagination)

	pages, err := f.ledger.Pages(ctx, m.Key())
	require.NoError(t, err)
	require.Len(t, pages, 1)
	require.NotNil(t, pages[0].NextPage)
	assert.Equal(t, 1, *pages[0].NextPage)
	js := f.joins(t, pages[0].ID)
	require.Len(t, js, 2)
	assert.Equal(t, 0, js[0].Position)
	assert.Equal(t, 1, js[1].Position)

	res = m.Load(ctx, paging.LoadAppend, paging.PagingState{})
	require.True(t, res.OK())
	assert.True(t, res.EndOfPagination)

	pages, err = f.ledger.Pages(ctx, m.Key())
	require.NoError(t, err)
	require.Len(t, pages, 2)
	assert.Nil(t, pages[1].NextPage)
	assert.Len(t, f.joins(t, pages[1].ID), 1)

	// Nothing left to append.
	res = m.Load(ctx, paging.LoadAppend, paging.PagingState{})
	require.True(t, res.OK())
	assert.True(t, res.EndOfPagination)
	assert.Equal(t, []int{0, 1}, f.server.requested())

	action, err = m.Initialize(ctx)
	require.NoError(t, err)
	assert.Equal(t, paging.SkipInitialRefresh, action)
	assert.Equal(t, paging.StateIdle, m.State())
}

func TestMediatorInitializeHonorsMaxAge(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	m := f.mediator

	require.True(t, m.Load(ctx, paging.LoadRefresh, paging.PagingState{}).OK())

	f.clock.Advance(59 * time.Minute)
	action, err := m.Initialize(ctx)
	require.NoError(t, err)
	assert.Equal(t, paging.SkipInitialRefresh, action)

	f.clock.Advance(2 * time.Minute)
	action, err = m.Initialize(ctx)
	require.NoError(t, err)
	assert.Equal(t, paging.LaunchInitialRefresh, action)
}

func TestMediatorStalenessUsesOldestPage(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	m := f.mediator

	require.True(t, m.Load(ctx, paging.LoadRefresh, paging.PagingState{}).OK())
	f.clock.Advance(50 * time.Minute)
	require.True(t, m.Load(ctx, paging.LoadAppend, paging.PagingState{}).OK())
	f.clock.Advance(20 * time.Minute)

	action, err := m.Initialize(ctx)
	require.NoError(t, err)
	assert.Equal(t, paging.LaunchInitialRefresh, action)
}

func TestMediatorPrependEndsPagination(t *testing.T) {
	f := newFixture(t)
	res := f.mediator.Load(context.Background(), paging.LoadPrepend, paging.PagingState{})
	require.True(t, res.OK())
	assert.True(t, res.EndOfPagination)
	assert.Empty(t, f.server.requested())
}

func TestMediatorFailureLeavesLedgerUntouched(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	m := f.mediator
	require.NoError(t, func() error { _, err := m.LoadAll(ctx, nil); return err }())

	f.server.fail = errServer
	res := m.Load(ctx, paging.LoadRefresh, paging.PagingState{})
	require.ErrorIs(t, res.Err, errServer)
	assert.Equal(t, paging.StateError, m.State())

	listing, err := m.Snapshot(ctx)
	require.NoError(t, err)
	assert.Len(t, listing.Items, 3)
	assert.Equal(t, 2, listing.Pages)
	assert.True(t, listing.EndOfPagination)
}

func TestMediatorRefreshSupersedesPages(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	m := f.mediator
	_, err := m.LoadAll(ctx, nil)
	require.NoError(t, err)

	f.server.items = f.server.items[:1]
	require.True(t, m.Load(ctx, paging.LoadRefresh, paging.PagingState{}).OK())

	listing, err := m.Snapshot(ctx)
	require.NoError(t, err)
	require.Len(t, listing.Items, 1)
	assert.Equal(t, "a", listing.Items[0].ID)
	assert.Equal(t, 1, listing.Pages)
	assert.Equal(t, 1, listing.Total)
}

func TestMediatorEmptyRefreshRecordsPage(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	m := f.mediator
	_, err := m.LoadAll(ctx, nil)
	require.NoError(t, err)

	f.server.items = nil
	res := m.Load(ctx, paging.LoadRefresh, paging.PagingState{})
	require.True(t, res.OK())
	assert.True(t, res.EndOfPagination)

	pages, err := f.ledger.Pages(ctx, m.Key())
	require.NoError(t, err)
	require.Len(t, pages, 1, "an empty result is still a fetched page")
	assert.Empty(t, f.joins(t, pages[0].ID))

	action, err := m.Initialize(ctx)
	require.NoError(t, err)
	assert.Equal(t, paging.SkipInitialRefresh, action)
}

func TestMediatorPageSizeOverride(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	res := f.mediator.Load(ctx, paging.LoadRefresh, paging.PagingState{PageSize: 10})
	require.True(t, res.OK())
	assert.True(t, res.EndOfPagination)

	listing, err := f.mediator.Snapshot(ctx)
	require.NoError(t, err)
	assert.Len(t, listing.Items, 3)
}

func TestMediatorLoadAllReportsProgress(t *testing.T) {
	f := newFixture(t)
	var reports [][2]int
	n, err := f.mediator.LoadAll(context.Background(), func(loaded, total int) {
		reports = append(reports, [2]int{loaded, total})
	})
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, [][2]int{{2, 3}, {3, 3}}, reports)
}

func TestMediatorSync(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	m := f.mediator

	res, err := m.Sync(ctx, nil)
	require.NoError(t, err)
	assert.False(t, res.FromCache)
	assert.Equal(t, 3, res.Count)
	assert.Equal(t, m.Key(), res.QueryKey)

	res, err = m.Sync(ctx, nil)
	require.NoError(t, err)
	assert.True(t, res.FromCache)
	assert.Equal(t, 3, res.Count)
	assert.Equal(t, []int{0, 1}, f.server.requested())
}

func TestMediatorInvalidate(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	m := f.mediator
	_, err := m.LoadAll(ctx, nil)
	require.NoError(t, err)

	require.NoError(t, m.Invalidate(ctx))
	action, err := m.Initialize(ctx)
	require.NoError(t, err)
	assert.Equal(t, paging.LaunchInitialRefresh, action)

	_, ok, err := f.ledger.Get(ctx, "a")
	require.NoError(t, err)
	assert.True(t, ok, "entities outlive their pages")
}

func TestMediatorWatch(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	updates := f.mediator.Watch(ctx)
	first := <-updates
	assert.Empty(t, first.Items)

	require.True(t, f.mediator.Load(ctx, paging.LoadRefresh, paging.PagingState{}).OK())
	select {
	case l := <-updates:
		assert.Len(t, l.Items, 2)
		assert.False(t, l.EndOfPagination)
	case <-time.After(2 * time.Second):
		t.Fatal("no update after load")
	}

	cancel()
	for range updates {
	}
}
