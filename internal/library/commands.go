package library

import (
	"context"

	"github.com/mmcdole/shelf/internal/domain"
)

// The methods in this file hit the network.

// FetchLibraries refetches the user's libraries and returns the stored list.
func (r *Registry) FetchLibraries(ctx context.Context) ([]domain.Library, error) {
	libs, err := r.librariesStore.Fresh(ctx, r.userID)
	if err != nil {
		r.logger.Error("failed to fetch libraries", "error", err)
		return nil, err
	}
	r.logger.Debug("fetched libraries", "count", len(libs))
	return libs, nil
}

// SyncLibrary brings every list of libID up to date, skipping lists that are
// still fresh. onProgress is called after every page of every list that has
// to be fetched.
func (r *Registry) SyncLibrary(ctx context.Context, libID string, onProgress domain.ProgressFunc) ([]domain.SyncResult, error) {
	q := domain.QueryKey{LibraryID: libID}
	syncs := []func(context.Context, domain.ProgressFunc) (domain.SyncResult, error){
		r.Items(q).Sync,
		r.Authors(q).Sync,
		r.Series(q).Sync,
		r.Collections(q).Sync,
	}

	results := make([]domain.SyncResult, 0, len(syncs))
	for _, run := range syncs {
		res, err := run(ctx, onProgress)
		if err != nil {
			r.logger.Error("library sync failed", "libID", libID, "error", err)
			return results, err
		}
		r.logger.Debug("synced list", "query", res.QueryKey, "fromCache", res.FromCache, "count", res.Count)
		results = append(results, res)
	}
	return results, nil
}

// RefreshItem refetches one item in full, including the user's progress.
func (r *Registry) RefreshItem(ctx context.Context, itemID string) (domain.LibraryItem, error) {
	return r.itemStore.Fresh(ctx, itemID)
}

// RefreshProgress refetches the user's progress for key. A server without a
// record leaves the local one, if any, in place.
func (r *Registry) RefreshProgress(ctx context.Context, key domain.ProgressKey) (domain.MediaProgress, error) {
	return r.progressStore.Fresh(ctx, key)
}
