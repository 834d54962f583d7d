package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jonboulle/clockwork"

	"github.com/mmcdole/shelf/internal/domain"
	"github.com/mmcdole/shelf/internal/paging"
)

// ErrMissingID is returned when an entity without an id is written.
var ErrMissingID = errors.New("entity id is required")

// Collection is the persisted set of one entity kind plus its page ledger.
// It implements paging.Ledger.
type Collection[T domain.Entity] struct {
	db    Backend
	kind  Kind[T]
	clock clockwork.Clock
}

var _ paging.Ledger[domain.Author] = (*Collection[domain.Author])(nil)

// NewCollection binds kind to db. A nil clock uses the real clock.
func NewCollection[T domain.Entity](db Backend, kind Kind[T], clock clockwork.Clock) *Collection[T] {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Collection[T]{db: db, kind: kind, clock: clock}
}

// Kind returns the kind name.
func (c *Collection[T]) Kind() string { return c.kind.Name }

// Get returns the entity with id. ok is false when it is absent.
func (c *Collection[T]) Get(ctx context.Context, id string) (T, bool, error) {
	var (
		v  T
		ok bool
	)
	err := c.db.View(ctx, func(tx Tx) error {
		rec, err := tx.GetRecord(c.kind.Name, id)
		if err != nil || rec == nil {
			return err
		}
		if err := json.Unmarshal(rec.Data, &v); err != nil {
			return fmt.Errorf("decode %s %s: %w", c.kind.Name, id, err)
		}
		ok = true
		return nil
	})
	return v, ok, err
}

// Put upserts e under the origin policy of its kind.
func (c *Collection[T]) Put(ctx context.Context, e T, origin domain.Origin) error {
	now := c.clock.Now().UnixMilli()
	return c.db.Update(ctx, func(tx Tx) error {
		return c.put(tx, e, origin, now)
	})
}

// PutAll upserts every entity in one transaction.
func (c *Collection[T]) PutAll(ctx context.Context, es []T, origin domain.Origin) error {
	now := c.clock.Now().UnixMilli()
	return c.db.Update(ctx, func(tx Tx) error {
		for _, e := range es {
			if err := c.put(tx, e, origin, now); err != nil {
				return err
			}
		}
		return nil
	})
}

// Delete removes the entity with id. Joins referencing it are left for the
// next refresh of their query.
func (c *Collection[T]) Delete(ctx context.Context, id string) error {
	return c.db.Update(ctx, func(tx Tx) error {
		return tx.DeleteRecord(c.kind.Name, id)
	})
}

func (c *Collection[T]) put(tx Tx, e T, origin domain.Origin, now int64) error {
	id := e.GetID()
	if id == "" {
		return fmt.Errorf("put %s: %w", c.kind.Name, ErrMissingID)
	}
	stored, err := tx.GetRecord(c.kind.Name, id)
	if err != nil {
		return err
	}
	value, keptOrigin, err := Resolve(c.kind, stored, e, origin)
	if err != nil {
		return err
	}
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s %s: %w", c.kind.Name, id, err)
	}
	if err := tx.PutRecord(c.kind.Name, id, Record{Origin: keptOrigin, UpdatedAt: now, Data: data}); err != nil {
		return err
	}

	if c.kind.Related == nil {
		return nil
	}
	for _, r := range c.kind.Related(e) {
		if err := putIfAbsent(tx, r, now); err != nil {
			return err
		}
	}
	return nil
}

func putIfAbsent(tx Tx, r Related, now int64) error {
	id := r.Entity.GetID()
	if id == "" {
		return fmt.Errorf("put %s: %w", r.Kind, ErrMissingID)
	}
	existing, err := tx.GetRecord(r.Kind, id)
	if err != nil || existing != nil {
		return err
	}
	data, err := json.Marshal(r.Entity)
	if err != nil {
		return fmt.Errorf("encode %s %s: %w", r.Kind, id, err)
	}
	return tx.PutRecord(r.Kind, id, Record{Origin: domain.OriginMembership, UpdatedAt: now, Data: data})
}

// Commit applies one page load in a single transaction. An entity repeated
// within the page is joined once, at its first position.
func (c *Collection[T]) Commit(ctx context.Context, cm paging.Commit[T]) error {
	if cm.QueryKey == "" {
		return errors.New("commit: query key is required")
	}
	updated := cm.UpdatedAt
	if updated.IsZero() {
		updated = c.clock.Now()
	}
	now := updated.UnixMilli()

	return c.db.Update(ctx, func(tx Tx) error {
		if cm.Refresh {
			if err := tx.DeletePages(cm.QueryKey); err != nil {
				return fmt.Errorf("delete pages: %w", err)
			}
		}
		for _, e := range cm.Entities {
			if err := c.put(tx, e, cm.Origin, now); err != nil {
				return err
			}
		}
		pageID, err := tx.InsertPage(domain.Page{
			QueryKey:  cm.QueryKey,
			Index:     cm.Page,
			NextPage:  cm.NextPage,
			Total:     cm.Total,
			LibraryID: cm.LibraryID,
			UserID:    cm.UserID,
			UpdatedAt: updated,
		})
		if err != nil {
			return fmt.Errorf("insert page %d: %w", cm.Page, err)
		}

		seen := make(map[string]bool, len(cm.Entities))
		pos := 0
		for _, e := range cm.Entities {
			id := e.GetID()
			if seen[id] {
				continue
			}
			seen[id] = true
			if err := tx.InsertJoin(domain.PageJoin{PageID: pageID, EntityID: id, Position: pos}); err != nil {
				return fmt.Errorf("insert join %s: %w", id, err)
			}
			pos++
		}
		return nil
	})
}

// Pages returns the cached pages of query ordered by index.
func (c *Collection[T]) Pages(ctx context.Context, query string) ([]domain.Page, error) {
	var pages []domain.Page
	err := c.db.View(ctx, func(tx Tx) error {
		var err error
		pages, err = tx.Pages(query)
		return err
	})
	return pages, err
}

// Entries returns the joined entities of query in page then position order.
// An entity joined on several pages is listed once.
func (c *Collection[T]) Entries(ctx context.Context, query string) ([]T, error) {
	var out []T
	err := c.db.View(ctx, func(tx Tx) error {
		pages, err := tx.Pages(query)
		if err != nil {
			return err
		}
		seen := make(map[string]bool)
		for _, p := range pages {
			joins, err := tx.Joins(p.ID)
			if err != nil {
				return err
			}
			for _, j := range joins {
				if seen[j.EntityID] {
					continue
				}
				seen[j.EntityID] = true
				rec, err := tx.GetRecord(c.kind.Name, j.EntityID)
				if err != nil {
					return err
				}
				if rec == nil {
					continue
				}
				var v T
				if err := json.Unmarshal(rec.Data, &v); err != nil {
					return fmt.Errorf("decode %s %s: %w", c.kind.Name, j.EntityID, err)
				}
				out = append(out, v)
			}
		}
		return nil
	})
	return out, err
}

// DeletePages removes every page and join of query.
func (c *Collection[T]) DeletePages(ctx context.Context, query string) error {
	return c.db.Update(ctx, func(tx Tx) error {
		return tx.DeletePages(query)
	})
}

// InvalidatePrefix removes the pages of every query starting with prefix.
// Entities stay.
func InvalidatePrefix(ctx context.Context, db Backend, prefix string) error {
	return db.Update(ctx, func(tx Tx) error {
		return tx.DeletePagesPrefix(prefix)
	})
}
