// Package boltdb is the bbolt storage driver.
package boltdb

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/mmcdole/shelf/internal/domain"
	"github.com/mmcdole/shelf/internal/storage"
)

// FileName is the database file inside the per-server directory.
const FileName = "shelf.db"

// Bucket names
var (
	bucketEntities = []byte("entities") // kind:id -> storage.Record
	bucketPages    = []byte("pages")    // query\x00index -> pageRow
	bucketJoins    = []byte("joins")    // pageID|position -> entity id
)

const querySep = 0x00

type pageRow struct {
	ID        int64  `json:"id"`
	Index     int    `json:"index"`
	NextPage  *int   `json:"nextPage,omitempty"`
	Total     int    `json:"total"`
	LibraryID string `json:"libraryId"`
	UserID    string `json:"userId"`
	UpdatedAt int64  `json:"updatedAt"`
}

// DB is a storage.Backend over one bbolt file.
type DB struct {
	db *bolt.DB
}

var _ storage.Backend = (*DB)(nil)

// Open opens the database for serverURL under baseDir, creating it as needed.
func Open(baseDir, serverURL string) (*DB, error) {
	dir := baseDir
	if serverURL != "" {
		dir = filepath.Join(baseDir, storage.HashServerURL(serverURL))
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	return OpenFile(filepath.Join(dir, FileName))
}

// OpenFile opens the database at path.
func OpenFile(path string) (*DB, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketEntities, bucketPages, bucketJoins} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &DB{db: db}, nil
}

func (d *DB) Close() error {
	return d.db.Close()
}

func (d *DB) View(ctx context.Context, fn func(storage.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return d.db.View(func(tx *bolt.Tx) error {
		return fn(&txn{tx: tx})
	})
}

func (d *DB) Update(ctx context.Context, fn func(storage.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return d.db.Update(func(tx *bolt.Tx) error {
		return fn(&txn{tx: tx})
	})
}

// Purge deletes every entity, page and join.
func (d *DB) Purge(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return d.db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketEntities, bucketPages, bucketJoins} {
			if err := tx.DeleteBucket(bucket); err != nil && err != bolt.ErrBucketNotFound {
				return err
			}
			if _, err := tx.CreateBucket(bucket); err != nil {
				return err
			}
		}
		return nil
	})
}

type txn struct {
	tx *bolt.Tx
}

func entityKey(kind, id string) []byte {
	return []byte(kind + ":" + id)
}

func pagePrefix(query string) []byte {
	return append([]byte(query), querySep)
}

func pageKey(query string, index int) []byte {
	return binary.BigEndian.AppendUint64(pagePrefix(query), uint64(index))
}

func joinPrefix(pageID int64) []byte {
	return binary.BigEndian.AppendUint64(nil, uint64(pageID))
}

func joinKey(pageID int64, position int) []byte {
	return binary.BigEndian.AppendUint32(joinPrefix(pageID), uint32(position))
}

func (t *txn) GetRecord(kind, id string) (*storage.Record, error) {
	v := t.tx.Bucket(bucketEntities).Get(entityKey(kind, id))
	if v == nil {
		return nil, nil
	}
	var r storage.Record
	if err := json.Unmarshal(v, &r); err != nil {
		return nil, fmt.Errorf("decode record %s:%s: %w", kind, id, err)
	}
	return &r, nil
}

func (t *txn) PutRecord(kind, id string, r storage.Record) error {
	data, err := json.Marshal(r)
	if err != nil {
		return err
	}
	return t.tx.Bucket(bucketEntities).Put(entityKey(kind, id), data)
}

func (t *txn) DeleteRecord(kind, id string) error {
	return t.tx.Bucket(bucketEntities).Delete(entityKey(kind, id))
}

func (t *txn) Pages(query string) ([]domain.Page, error) {
	var pages []domain.Page
	prefix := pagePrefix(query)
	c := t.tx.Bucket(bucketPages).Cursor()
	for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
		var row pageRow
		if err := json.Unmarshal(v, &row); err != nil {
			return nil, fmt.Errorf("decode page %q: %w", k, err)
		}
		pages = append(pages, domain.Page{
			ID:        row.ID,
			QueryKey:  query,
			Index:     row.Index,
			NextPage:  row.NextPage,
			Total:     row.Total,
			LibraryID: row.LibraryID,
			UserID:    row.UserID,
			UpdatedAt: time.UnixMilli(row.UpdatedAt),
		})
	}
	return pages, nil
}

func (t *txn) InsertPage(p domain.Page) (int64, error) {
	b := t.tx.Bucket(bucketPages)
	key := pageKey(p.QueryKey, p.Index)
	if v := b.Get(key); v != nil {
		var old pageRow
		if err := json.Unmarshal(v, &old); err != nil {
			return 0, fmt.Errorf("decode page %q: %w", key, err)
		}
		if err := t.deleteJoins(old.ID); err != nil {
			return 0, err
		}
	}

	seq, err := b.NextSequence()
	if err != nil {
		return 0, err
	}
	row := pageRow{
		ID:        int64(seq),
		Index:     p.Index,
		NextPage:  p.NextPage,
		Total:     p.Total,
		LibraryID: p.LibraryID,
		UserID:    p.UserID,
		UpdatedAt: p.UpdatedAt.UnixMilli(),
	}
	data, err := json.Marshal(row)
	if err != nil {
		return 0, err
	}
	if err := b.Put(key, data); err != nil {
		return 0, err
	}
	return row.ID, nil
}

func (t *txn) DeletePages(query string) error {
	return t.deletePages(pagePrefix(query))
}

func (t *txn) DeletePagesPrefix(prefix string) error {
	return t.deletePages([]byte(prefix))
}

func (t *txn) deletePages(prefix []byte) error {
	b := t.tx.Bucket(bucketPages)
	c := b.Cursor()
	// Deleting through the cursor keeps it positioned on the next key.
	k, v := c.Seek(prefix)
	for k != nil && bytes.HasPrefix(k, prefix) {
		var row pageRow
		if err := json.Unmarshal(v, &row); err != nil {
			return fmt.Errorf("decode page %q: %w", k, err)
		}
		if err := t.deleteJoins(row.ID); err != nil {
			return err
		}
		if err := c.Delete(); err != nil {
			return err
		}
		k, v = c.Seek(prefix)
	}
	return nil
}

func (t *txn) deleteJoins(pageID int64) error {
	prefix := joinPrefix(pageID)
	c := t.tx.Bucket(bucketJoins).Cursor()
	for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Seek(prefix) {
		if err := c.Delete(); err != nil {
			return err
		}
	}
	return nil
}

func (t *txn) InsertJoin(j domain.PageJoin) error {
	b := t.tx.Bucket(bucketJoins)
	prefix := joinPrefix(j.PageID)
	c := b.Cursor()
	for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
		if string(v) == j.EntityID {
			return fmt.Errorf("entity %s already joined to page %d", j.EntityID, j.PageID)
		}
	}
	return b.Put(joinKey(j.PageID, j.Position), []byte(j.EntityID))
}

func (t *txn) Joins(pageID int64) ([]domain.PageJoin, error) {
	var joins []domain.PageJoin
	prefix := joinPrefix(pageID)
	c := t.tx.Bucket(bucketJoins).Cursor()
	for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
		joins = append(joins, domain.PageJoin{
			PageID:   pageID,
			EntityID: string(v),
			Position: int(binary.BigEndian.Uint32(k[len(prefix):])),
		})
	}
	return joins, nil
}
