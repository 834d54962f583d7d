// Package storagetest holds the conformance suite every storage driver runs.
package storagetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmcdole/shelf/internal/domain"
	"github.com/mmcdole/shelf/internal/paging"
	"github.com/mmcdole/shelf/internal/storage"
)

// Opener returns a fresh, empty backend. The suite closes it.
type Opener func(t *testing.T) storage.Backend

var errInjected = errors.New("injected failure")

const query = "u1::lib1::items::sort=title"

func intPtr(i int) *int { return &i }

func item(id, title string) domain.LibraryItem {
	return domain.LibraryItem{ID: id, LibraryID: "lib1", Title: title}
}

func commit(page int, next *int, refresh bool, items ...domain.LibraryItem) paging.Commit[domain.LibraryItem] {
	return paging.Commit[domain.LibraryItem]{
		QueryKey:  query,
		LibraryID: "lib1",
		UserID:    "u1",
		Refresh:   refresh,
		Page:      page,
		NextPage:  next,
		Total:     3,
		Entities:  items,
		Origin:    domain.OriginPage,
		UpdatedAt: time.UnixMilli(1_700_000_000_000),
	}
}

func joins(t *testing.T, db storage.Backend, pageID int64) []domain.PageJoin {
	t.Helper()
	var out []domain.PageJoin
	require.NoError(t, db.View(context.Background(), func(tx storage.Tx) error {
		var err error
		out, err = tx.Joins(pageID)
		return err
	}))
	return out
}

func record(t *testing.T, db storage.Backend, kind, id string) *storage.Record {
	t.Helper()
	var out *storage.Record
	require.NoError(t, db.View(context.Background(), func(tx storage.Tx) error {
		var err error
		out, err = tx.GetRecord(kind, id)
		return err
	}))
	return out
}

// Run exercises a driver against the shared storage contract.
func Run(t *testing.T, open Opener) {
	ctx := context.Background()
	clock := clockwork.NewFakeClockAt(time.UnixMilli(1_700_000_000_000))

	setup := func(t *testing.T) (storage.Backend, *storage.Collection[domain.LibraryItem]) {
		db := open(t)
		t.Cleanup(func() { _ = db.Close() })
		return db, storage.NewCollection(db, storage.Items, clock)
	}

	t.Run("refresh then append builds ordered ledger", func(t *testing.T) {
		db, items := setup(t)

		require.NoError(t, items.Commit(ctx, commit(0, intPtr(1), true, item("a", "A"), item("b", "B"))))
		pages, err := items.Pages(ctx, query)
		require.NoError(t, err)
		require.Len(t, pages, 1)
		assert.Equal(t, 0, pages[0].Index)
		require.NotNil(t, pages[0].NextPage)
		assert.Equal(t, 1, *pages[0].NextPage)
		assert.Equal(t, "lib1", pages[0].LibraryID)
		assert.Equal(t, "u1", pages[0].UserID)
		assert.Equal(t, int64(1_700_000_000_000), pages[0].UpdatedAt.UnixMilli())

		js := joins(t, db, pages[0].ID)
		require.Len(t, js, 2)
		assert.Equal(t, "a", js[0].EntityID)
		assert.Equal(t, 0, js[0].Position)
		assert.Equal(t, "b", js[1].EntityID)
		assert.Equal(t, 1, js[1].Position)

		require.NoError(t, items.Commit(ctx, commit(1, nil, false, item("c", "C"))))
		pages, err = items.Pages(ctx, query)
		require.NoError(t, err)
		require.Len(t, pages, 2)
		assert.Equal(t, 1, pages[1].Index)
		assert.Nil(t, pages[1].NextPage)
		assert.NotEqual(t, pages[0].ID, pages[1].ID)
		assert.Len(t, joins(t, db, pages[1].ID), 1)

		entries, err := items.Entries(ctx, query)
		require.NoError(t, err)
		require.Len(t, entries, 3)
		assert.Equal(t, []string{"a", "b", "c"}, []string{entries[0].ID, entries[1].ID, entries[2].ID})
	})

	t.Run("refresh supersedes earlier pages but keeps entities", func(t *testing.T) {
		_, items := setup(t)

		require.NoError(t, items.Commit(ctx, commit(0, intPtr(1), true, item("a", "A"), item("b", "B"))))
		require.NoError(t, items.Commit(ctx, commit(1, nil, false, item("c", "C"))))
		require.NoError(t, items.Commit(ctx, commit(0, nil, true, item("d", "D"))))

		pages, err := items.Pages(ctx, query)
		require.NoError(t, err)
		require.Len(t, pages, 1)

		entries, err := items.Entries(ctx, query)
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, "d", entries[0].ID)

		_, ok, err := items.Get(ctx, "c")
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("reinserting a page index replaces it", func(t *testing.T) {
		db, items := setup(t)

		require.NoError(t, items.Commit(ctx, commit(0, intPtr(1), true, item("a", "A"))))
		require.NoError(t, items.Commit(ctx, commit(0, intPtr(1), false, item("b", "B"))))

		pages, err := items.Pages(ctx, query)
		require.NoError(t, err)
		require.Len(t, pages, 1)
		js := joins(t, db, pages[0].ID)
		require.Len(t, js, 1)
		assert.Equal(t, "b", js[0].EntityID)
	})

	t.Run("duplicate ids within a page are joined once", func(t *testing.T) {
		db, items := setup(t)

		require.NoError(t, items.Commit(ctx, commit(0, nil, true, item("a", "A"), item("b", "B"), item("a", "A"), item("c", "C"))))
		pages, err := items.Pages(ctx, query)
		require.NoError(t, err)
		require.Len(t, pages, 1)

		js := joins(t, db, pages[0].ID)
		require.Len(t, js, 3)
		for i, want := range []string{"a", "b", "c"} {
			assert.Equal(t, want, js[i].EntityID)
			assert.Equal(t, i, js[i].Position)
		}
	})

	t.Run("entries shared across pages are listed once", func(t *testing.T) {
		_, items := setup(t)

		require.NoError(t, items.Commit(ctx, commit(0, intPtr(1), true, item("a", "A"), item("b", "B"))))
		require.NoError(t, items.Commit(ctx, commit(1, nil, false, item("b", "B"), item("c", "C"))))

		entries, err := items.Entries(ctx, query)
		require.NoError(t, err)
		require.Len(t, entries, 3)
	})

	t.Run("failed commit writes nothing", func(t *testing.T) {
		db, items := setup(t)
		require.NoError(t, items.Commit(ctx, commit(0, intPtr(1), true, item("a", "A"), item("b", "B"))))

		broken := storage.NewCollection[domain.LibraryItem](&failingBackend{Backend: db, joinsBeforeFailure: 1}, storage.Items, clock)
		err := broken.Commit(ctx, commit(0, nil, true, item("x", "X"), item("y", "Y")))
		require.ErrorIs(t, err, errInjected)

		pages, err := items.Pages(ctx, query)
		require.NoError(t, err)
		require.Len(t, pages, 1)
		require.NotNil(t, pages[0].NextPage)

		entries, err := items.Entries(ctx, query)
		require.NoError(t, err)
		require.Len(t, entries, 2)
		assert.Equal(t, "a", entries[0].ID)

		_, ok, err := items.Get(ctx, "x")
		require.NoError(t, err)
		assert.False(t, ok, "entity upsert must roll back with the page")
	})

	t.Run("upsert is idempotent", func(t *testing.T) {
		db, items := setup(t)
		it := item("a", "A")
		it.Genres = []string{"fantasy"}

		require.NoError(t, items.Put(ctx, it, domain.OriginPage))
		first := record(t, db, storage.Items.Name, "a")
		require.NotNil(t, first)

		clock.Advance(time.Second)
		require.NoError(t, items.Put(ctx, it, domain.OriginPage))
		second := record(t, db, storage.Items.Name, "a")
		require.NotNil(t, second)

		assert.JSONEq(t, string(first.Data), string(second.Data))
		assert.Equal(t, first.Origin, second.Origin)
		assert.Greater(t, second.UpdatedAt, first.UpdatedAt)
	})

	t.Run("lower origin does not overwrite richer content", func(t *testing.T) {
		db, items := setup(t)
		full := item("a", "Full Title")
		full.Description = "long blurb"
		require.NoError(t, items.Put(ctx, full, domain.OriginDetail))

		require.NoError(t, items.Put(ctx, item("a", "Sparse"), domain.OriginSearch))
		got, ok, err := items.Get(ctx, "a")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, "Full Title", got.Title)
		assert.Equal(t, "long blurb", got.Description)
		assert.Equal(t, domain.OriginDetail, record(t, db, storage.Items.Name, "a").Origin)

		require.NoError(t, items.Put(ctx, item("a", "Renamed"), domain.OriginDetail))
		got, _, err = items.Get(ctx, "a")
		require.NoError(t, err)
		assert.Equal(t, "Renamed", got.Title)
		assert.Empty(t, got.Description)
	})

	t.Run("newer progress survives any origin", func(t *testing.T) {
		_, items := setup(t)
		detail := item("a", "A")
		detail.Progress = &domain.MediaProgress{LibraryItemID: "a", CurrentTime: 10, LastUpdate: 100}
		require.NoError(t, items.Put(ctx, detail, domain.OriginDetail))

		page := item("a", "A")
		page.Progress = &domain.MediaProgress{LibraryItemID: "a", CurrentTime: 50, LastUpdate: 200}
		require.NoError(t, items.Put(ctx, page, domain.OriginPage))

		got, _, err := items.Get(ctx, "a")
		require.NoError(t, err)
		require.NotNil(t, got.Progress)
		assert.Equal(t, 50.0, got.Progress.CurrentTime)

		stale := item("a", "A")
		stale.Progress = &domain.MediaProgress{LibraryItemID: "a", CurrentTime: 5, LastUpdate: 150}
		require.NoError(t, items.Put(ctx, stale, domain.OriginDetail))

		got, _, err = items.Get(ctx, "a")
		require.NoError(t, err)
		assert.Equal(t, 50.0, got.Progress.CurrentTime)

		bare := item("a", "A")
		require.NoError(t, items.Put(ctx, bare, domain.OriginDetail))
		got, _, err = items.Get(ctx, "a")
		require.NoError(t, err)
		require.NotNil(t, got.Progress, "a missing progress never erases a stored one")
	})

	t.Run("collection members are stored insert-or-ignore", func(t *testing.T) {
		db, items := setup(t)
		collections := storage.NewCollection(db, storage.Collections, clock)

		require.NoError(t, items.Put(ctx, item("a", "Known"), domain.OriginDetail))
		col := domain.Collection{
			ID:      "col1",
			Name:    "Favorites",
			BookIDs: []string{"a", "b"},
			Books:   []domain.LibraryItem{item("a", "Member copy"), item("b", "New")},
		}
		require.NoError(t, collections.Commit(ctx, paging.Commit[domain.Collection]{
			QueryKey: "u1::lib1::collections",
			Entities: []domain.Collection{col},
			Origin:   domain.OriginPage,
		}))

		a, _, err := items.Get(ctx, "a")
		require.NoError(t, err)
		assert.Equal(t, "Known", a.Title)

		b, ok, err := items.Get(ctx, "b")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, "New", b.Title)
		assert.Equal(t, domain.OriginMembership, record(t, db, storage.Items.Name, "b").Origin)

		got, ok, err := collections.Get(ctx, "col1")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, []string{"a", "b"}, got.BookIDs)
	})

	t.Run("invalidate prefix drops only matching pages", func(t *testing.T) {
		db, items := setup(t)
		require.NoError(t, items.Commit(ctx, commit(0, nil, true, item("a", "A"))))
		other := commit(0, nil, true, item("b", "B"))
		other.QueryKey = "u1::lib2::items"
		other.LibraryID = "lib2"
		require.NoError(t, items.Commit(ctx, other))

		require.NoError(t, storage.InvalidatePrefix(ctx, db, "u1::lib1::"))

		pages, err := items.Pages(ctx, query)
		require.NoError(t, err)
		assert.Empty(t, pages)
		pages, err = items.Pages(ctx, "u1::lib2::items")
		require.NoError(t, err)
		assert.Len(t, pages, 1)

		_, ok, err := items.Get(ctx, "a")
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("delete pages keeps other queries", func(t *testing.T) {
		_, items := setup(t)
		require.NoError(t, items.Commit(ctx, commit(0, nil, true, item("a", "A"))))
		other := commit(0, nil, true, item("b", "B"))
		other.QueryKey = query + "::desc"
		require.NoError(t, items.Commit(ctx, other))

		require.NoError(t, items.DeletePages(ctx, query))
		pages, err := items.Pages(ctx, query)
		require.NoError(t, err)
		assert.Empty(t, pages)
		pages, err = items.Pages(ctx, query+"::desc")
		require.NoError(t, err)
		assert.Len(t, pages, 1)
	})

	t.Run("purge removes everything", func(t *testing.T) {
		db, items := setup(t)
		require.NoError(t, items.Commit(ctx, commit(0, nil, true, item("a", "A"))))

		require.NoError(t, db.Purge(ctx))
		pages, err := items.Pages(ctx, query)
		require.NoError(t, err)
		assert.Empty(t, pages)
		_, ok, err := items.Get(ctx, "a")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("entity without id is rejected", func(t *testing.T) {
		_, items := setup(t)
		err := items.Put(ctx, domain.LibraryItem{Title: "nameless"}, domain.OriginPage)
		require.ErrorIs(t, err, storage.ErrMissingID)
	})

	t.Run("delete removes entity", func(t *testing.T) {
		_, items := setup(t)
		require.NoError(t, items.Put(ctx, item("a", "A"), domain.OriginPage))
		require.NoError(t, items.Delete(ctx, "a"))
		_, ok, err := items.Get(ctx, "a")
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

// failingBackend fails InsertJoin after joinsBeforeFailure successful calls.
type failingBackend struct {
	storage.Backend
	joinsBeforeFailure int
}

func (f *failingBackend) Update(ctx context.Context, fn func(storage.Tx) error) error {
	return f.Backend.Update(ctx, func(tx storage.Tx) error {
		return fn(&failingTx{Tx: tx, remaining: f.joinsBeforeFailure})
	})
}

type failingTx struct {
	storage.Tx
	remaining int
}

func (t *failingTx) InsertJoin(j domain.PageJoin) error {
	if t.remaining == 0 {
		return errInjected
	}
	t.remaining--
	return t.Tx.InsertJoin(j)
}
