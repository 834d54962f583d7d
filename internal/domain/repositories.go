package domain

import (
	"context"
)

// LibraryRepository provides paged access to library collections.
// Each call performs exactly one network request; retries are the caller's business.
type LibraryRepository interface {
	// GetLibraries returns all libraries visible to the user
	GetLibraries(ctx context.Context) ([]Library, error)

	// GetItems returns one page of library items for the query
	GetItems(ctx context.Context, q QueryKey, page, limit int) (PageResult[LibraryItem], error)

	// GetAuthors returns one page of authors for the query
	GetAuthors(ctx context.Context, q QueryKey, page, limit int) (PageResult[Author], error)

	// GetSeries returns one page of series for the query
	GetSeries(ctx context.Context, q QueryKey, page, limit int) (PageResult[Series], error)

	// GetCollections returns one page of collections, members expanded
	GetCollections(ctx context.Context, q QueryKey, page, limit int) (PageResult[Collection], error)
}

// SearchRepository provides server-side search
type SearchRepository interface {
	// Search returns matching books in a library as a single page
	Search(ctx context.Context, q QueryKey, limit int) (PageResult[LibraryItem], error)
}

// MetadataRepository provides item detail and listening progress
type MetadataRepository interface {
	// GetItem returns the fully expanded item including the user's progress
	GetItem(ctx context.Context, itemID string) (LibraryItem, error)

	// GetProgress returns the user's progress for an item or episode
	GetProgress(ctx context.Context, key ProgressKey) (MediaProgress, error)

	// GetItemsInProgress returns the user's continue-listening list
	GetItemsInProgress(ctx context.Context) ([]LibraryItem, error)
}

// AuthResult contains the result of a successful authentication
type AuthResult struct {
	Token    string // Access token for API calls
	UserID   string // User identifier
	Username string // Display username
}

// AuthFlow authenticates against a media server.
type AuthFlow interface {
	// Run executes the authentication flow and returns credentials.
	Run(ctx context.Context, serverURL string) (*AuthResult, error)
}
