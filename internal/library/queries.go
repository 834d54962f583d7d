package library

import (
	"context"
	"fmt"

	"github.com/mmcdole/shelf/internal/domain"
	"github.com/mmcdole/shelf/internal/search"
)

// The methods in this file only read the local database.

// CachedLibraries returns the stored library list. ok is false if the
// libraries were never fetched.
func (r *Registry) CachedLibraries(ctx context.Context) (libs []domain.Library, ok bool, err error) {
	list, ok, err := r.libraries.Get(ctx, r.userID)
	if err != nil {
		return nil, false, fmt.Errorf("%w: read libraries: %w", domain.ErrStorage, err)
	}
	return list.Libraries, ok, nil
}

// CachedItem returns a stored item without fetching it.
func (r *Registry) CachedItem(ctx context.Context, itemID string) (domain.LibraryItem, bool, error) {
	item, ok, err := r.items.Get(ctx, itemID)
	if err != nil {
		return item, false, fmt.Errorf("%w: read item %s: %w", domain.ErrStorage, itemID, err)
	}
	return item, ok, nil
}

// CachedItems returns the stored default listing of libID.
func (r *Registry) CachedItems(ctx context.Context, libID string) ([]domain.LibraryItem, error) {
	l, err := r.Items(domain.QueryKey{LibraryID: libID}).Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return l.Items, nil
}

// Find fuzzy-matches query against the cached items of libID.
func (r *Registry) Find(ctx context.Context, libID, query string) ([]search.Result, error) {
	items, err := r.CachedItems(ctx, libID)
	if err != nil {
		return nil, err
	}
	return search.FilterLocal(query, items), nil
}
