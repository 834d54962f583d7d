// Package mediaserver builds the media server client and login flow from
// configuration.
package mediaserver

import (
	"fmt"
	"log/slog"

	"github.com/mmcdole/shelf/internal/config"
	"github.com/mmcdole/shelf/internal/domain"
	"github.com/mmcdole/shelf/internal/mediaserver/abs"
)

// MediaSource combines all repository interfaces a media server backend must implement.
type MediaSource interface {
	domain.LibraryRepository  // Browsing: GetLibraries, GetItems, GetAuthors, GetSeries, GetCollections
	domain.MetadataRepository // Detail: GetItem, GetProgress, GetItemsInProgress
	domain.SearchRepository   // Search within one library
}

var _ MediaSource = (*abs.Client)(nil)

// NewClient creates the MediaSource for the configured server.
func NewClient(cfg *config.Config, logger *slog.Logger) (MediaSource, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}
	if cfg.Server.URL == "" {
		return nil, fmt.Errorf("server URL is required")
	}
	if cfg.Server.Token == "" {
		return nil, fmt.Errorf("server token is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return abs.NewClient(cfg.Server.URL, cfg.Server.Token, logger), nil
}
