// Package storage persists entities and the page ledger. Drivers implement
// the byte-level Backend; Collection layers the upsert policy and the page
// commit on top so every driver behaves the same.
package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"

	"github.com/mmcdole/shelf/internal/domain"
)

// Record is the persisted envelope of one entity.
type Record struct {
	Origin    domain.Origin   `json:"origin"`
	UpdatedAt int64           `json:"updatedAt"` // Unix millis of the last write
	Data      json.RawMessage `json:"data"`
}

// Backend is implemented by each storage driver.
type Backend interface {
	// View runs fn in a read-only transaction.
	View(ctx context.Context, fn func(Tx) error) error

	// Update runs fn in a read-write transaction. If fn returns an error
	// nothing it did is kept.
	Update(ctx context.Context, fn func(Tx) error) error

	// Purge deletes every entity, page and join.
	Purge(ctx context.Context) error

	Close() error
}

// Tx is one driver transaction.
type Tx interface {
	// GetRecord returns nil when kind/id is absent.
	GetRecord(kind, id string) (*Record, error)
	PutRecord(kind, id string, r Record) error
	DeleteRecord(kind, id string) error

	// Pages returns the pages of query ordered by index.
	Pages(query string) ([]domain.Page, error)

	// InsertPage stores p and returns its id. A page with the same query and
	// index is replaced along with its joins.
	InsertPage(p domain.Page) (int64, error)

	// DeletePages removes the pages and joins of query.
	DeletePages(query string) error

	// DeletePagesPrefix removes the pages and joins of every query starting
	// with prefix. An empty prefix removes all pages.
	DeletePagesPrefix(prefix string) error

	// InsertJoin stores j. (page id, entity id) is unique.
	InsertJoin(j domain.PageJoin) error

	// Joins returns the joins of a page ordered by position.
	Joins(pageID int64) ([]domain.PageJoin, error)
}

// HashServerURL names the per-server database directory so that switching
// servers never mixes data.
func HashServerURL(serverURL string) string {
	normalized := strings.TrimRight(strings.ToLower(serverURL), "/")
	hash := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(hash[:6])
}
