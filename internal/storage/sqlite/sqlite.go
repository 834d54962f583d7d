// Package sqlite is the SQLite storage driver.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	"github.com/mmcdole/shelf/internal/domain"
	"github.com/mmcdole/shelf/internal/storage"
	"github.com/mmcdole/shelf/internal/storage/sqlite/migrations"
)

// FileName is the database file inside the per-server directory.
const FileName = "shelf.sqlite"

// ErrDuplicateJoin is returned when an entity is joined twice to one page.
var ErrDuplicateJoin = errors.New("entity already joined to page")

// Store is a storage.Backend over one SQLite file.
type Store struct {
	sqlDB *sql.DB
}

var _ storage.Backend = (*Store)(nil)

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// OpenDir opens the database for serverURL under baseDir.
func OpenDir(baseDir, serverURL string) (*Store, error) {
	dir := baseDir
	if serverURL != "" {
		dir = filepath.Join(baseDir, storage.HashServerURL(serverURL))
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	return Open(filepath.Join(dir, FileName))
}

// Open opens a SQLite store at path and applies embedded migrations.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	cleanPath := filepath.Clean(path)
	dsn := "file:" + cleanPath +
		"?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// One writer at a time; also keeps a single view of the file per handle.
	sqlDB.SetMaxOpenConns(1)
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := applyMigrations(context.Background(), sqlDB, migrations.FS); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{sqlDB: sqlDB}, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

func (s *Store) View(ctx context.Context, fn func(storage.Tx) error) error {
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin read: %w", err)
	}
	defer func() { _ = tx.Rollback() }()
	return fn(&txn{ctx: ctx, tx: tx})
}

func (s *Store) Update(ctx context.Context, fn func(storage.Tx) error) error {
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin write: %w", err)
	}
	if err := fn(&txn{ctx: ctx, tx: tx}); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Purge deletes every entity, page and join.
func (s *Store) Purge(ctx context.Context) error {
	return s.Update(ctx, func(t storage.Tx) error {
		tx := t.(*txn)
		for _, stmt := range []string{"DELETE FROM page_join", "DELETE FROM page", "DELETE FROM entity"} {
			if _, err := tx.tx.ExecContext(tx.ctx, stmt); err != nil {
				return err
			}
		}
		return nil
	})
}

type txn struct {
	ctx context.Context
	tx  *sql.Tx
}

func (t *txn) GetRecord(kind, id string) (*storage.Record, error) {
	var (
		r    storage.Record
		data []byte
	)
	err := t.tx.QueryRowContext(t.ctx,
		`SELECT origin, data, updated_at FROM entity WHERE kind = ? AND id = ?`,
		kind, id,
	).Scan(&r.Origin, &data, &r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get %s %s: %w", kind, id, err)
	}
	r.Data = data
	return &r, nil
}

func (t *txn) PutRecord(kind, id string, r storage.Record) error {
	_, err := t.tx.ExecContext(t.ctx,
		`INSERT INTO entity (kind, id, origin, data, updated_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (kind, id) DO UPDATE SET
		   origin = excluded.origin,
		   data = excluded.data,
		   updated_at = excluded.updated_at`,
		kind, id, int(r.Origin), []byte(r.Data), r.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("put %s %s: %w", kind, id, err)
	}
	return nil
}

func (t *txn) DeleteRecord(kind, id string) error {
	if _, err := t.tx.ExecContext(t.ctx, `DELETE FROM entity WHERE kind = ? AND id = ?`, kind, id); err != nil {
		return fmt.Errorf("delete %s %s: %w", kind, id, err)
	}
	return nil
}

func (t *txn) Pages(query string) ([]domain.Page, error) {
	rows, err := t.tx.QueryContext(t.ctx,
		`SELECT id, page_index, next_page, total, library_id, user_id, updated_at
		 FROM page WHERE query_key = ? ORDER BY page_index`,
		query,
	)
	if err != nil {
		return nil, fmt.Errorf("query pages: %w", err)
	}
	defer rows.Close()

	var pages []domain.Page
	for rows.Next() {
		var (
			p       domain.Page
			next    sql.NullInt64
			updated int64
		)
		if err := rows.Scan(&p.ID, &p.Index, &next, &p.Total, &p.LibraryID, &p.UserID, &updated); err != nil {
			return nil, fmt.Errorf("scan page: %w", err)
		}
		p.QueryKey = query
		if next.Valid {
			n := int(next.Int64)
			p.NextPage = &n
		}
		p.UpdatedAt = fromMillis(updated)
		pages = append(pages, p)
	}
	return pages, rows.Err()
}

func (t *txn) InsertPage(p domain.Page) (int64, error) {
	if _, err := t.tx.ExecContext(t.ctx,
		`DELETE FROM page_join WHERE page_id IN (
		   SELECT id FROM page WHERE query_key = ? AND page_index = ? AND library_id = ? AND user_id = ?)`,
		p.QueryKey, p.Index, p.LibraryID, p.UserID,
	); err != nil {
		return 0, fmt.Errorf("replace page joins: %w", err)
	}
	if _, err := t.tx.ExecContext(t.ctx,
		`DELETE FROM page WHERE query_key = ? AND page_index = ? AND library_id = ? AND user_id = ?`,
		p.QueryKey, p.Index, p.LibraryID, p.UserID,
	); err != nil {
		return 0, fmt.Errorf("replace page: %w", err)
	}

	var next sql.NullInt64
	if p.NextPage != nil {
		next = sql.NullInt64{Int64: int64(*p.NextPage), Valid: true}
	}
	res, err := t.tx.ExecContext(t.ctx,
		`INSERT INTO page (query_key, page_index, next_page, total, library_id, user_id, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		p.QueryKey, p.Index, next, p.Total, p.LibraryID, p.UserID, toMillis(p.UpdatedAt),
	)
	if err != nil {
		return 0, fmt.Errorf("insert page: %w", err)
	}
	return res.LastInsertId()
}

func (t *txn) DeletePages(query string) error {
	if _, err := t.tx.ExecContext(t.ctx,
		`DELETE FROM page_join WHERE page_id IN (SELECT id FROM page WHERE query_key = ?)`, query,
	); err != nil {
		return fmt.Errorf("delete joins: %w", err)
	}
	if _, err := t.tx.ExecContext(t.ctx, `DELETE FROM page WHERE query_key = ?`, query); err != nil {
		return fmt.Errorf("delete pages: %w", err)
	}
	return nil
}

func (t *txn) DeletePagesPrefix(prefix string) error {
	const match = `substr(query_key, 1, length(?1)) = ?1`
	if _, err := t.tx.ExecContext(t.ctx,
		`DELETE FROM page_join WHERE page_id IN (SELECT id FROM page WHERE `+match+`)`, prefix,
	); err != nil {
		return fmt.Errorf("delete joins: %w", err)
	}
	if _, err := t.tx.ExecContext(t.ctx, `DELETE FROM page WHERE `+match, prefix); err != nil {
		return fmt.Errorf("delete pages: %w", err)
	}
	return nil
}

func (t *txn) InsertJoin(j domain.PageJoin) error {
	_, err := t.tx.ExecContext(t.ctx,
		`INSERT INTO page_join (page_id, entity_id, position) VALUES (?, ?, ?)`,
		j.PageID, j.EntityID, j.Position,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: %s on page %d", ErrDuplicateJoin, j.EntityID, j.PageID)
	}
	if err != nil {
		return fmt.Errorf("insert join: %w", err)
	}
	return nil
}

func (t *txn) Joins(pageID int64) ([]domain.PageJoin, error) {
	rows, err := t.tx.QueryContext(t.ctx,
		`SELECT entity_id, position FROM page_join WHERE page_id = ? ORDER BY position`, pageID,
	)
	if err != nil {
		return nil, fmt.Errorf("query joins: %w", err)
	}
	defer rows.Close()

	var joins []domain.PageJoin
	for rows.Next() {
		j := domain.PageJoin{PageID: pageID}
		if err := rows.Scan(&j.EntityID, &j.Position); err != nil {
			return nil, fmt.Errorf("scan join: %w", err)
		}
		joins = append(joins, j)
	}
	return joins, rows.Err()
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}
