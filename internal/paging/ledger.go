package paging

import (
	"context"
	"time"

	"github.com/mmcdole/shelf/internal/domain"
)

// Commit is everything one successful page load writes. A Ledger applies it
// in a single transaction:
//
//  1. if Refresh, delete every page and join of QueryKey
//  2. upsert Entities with Origin
//  3. insert the page row
//  4. insert one join per entity at its position in the page
type Commit[T domain.Entity] struct {
	QueryKey  string
	LibraryID string
	UserID    string
	Refresh   bool
	Page      int
	NextPage  *int
	Total     int
	Entities  []T
	Origin    domain.Origin
	UpdatedAt time.Time
}

// Ledger is the durable page/join ledger of one entity kind.
type Ledger[T domain.Entity] interface {
	// Commit applies c atomically. On error nothing is written.
	Commit(ctx context.Context, c Commit[T]) error

	// Pages returns the cached pages of query ordered by index.
	Pages(ctx context.Context, query string) ([]domain.Page, error)

	// Entries returns the joined entities of query in page then position order.
	Entries(ctx context.Context, query string) ([]T, error)

	// DeletePages removes every page and join of query; entities stay.
	DeletePages(ctx context.Context, query string) error
}

// oldest returns the staleness marker: the oldest UpdatedAt of pages.
func oldest(pages []domain.Page) (time.Time, bool) {
	if len(pages) == 0 {
		return time.Time{}, false
	}
	t := pages[0].UpdatedAt
	for _, p := range pages[1:] {
		if p.UpdatedAt.Before(t) {
			t = p.UpdatedAt
		}
	}
	return t, true
}

// last returns the page with the highest index.
func last(pages []domain.Page) (domain.Page, bool) {
	if len(pages) == 0 {
		return domain.Page{}, false
	}
	p := pages[0]
	for _, q := range pages[1:] {
		if q.Index > p.Index {
			p = q
		}
	}
	return p, true
}
