package domain

// ProgressFunc reports download progress during a full sync.
// Called after every page: (50, 500), (100, 500), ...
type ProgressFunc func(loaded, total int)

// SyncResult summarizes what happened during a sync operation.
type SyncResult struct {
	QueryKey  string // Which listing this result is for
	FromCache bool   // true if cache was fresh (no network fetch)
	Count     int    // total items after sync
}
