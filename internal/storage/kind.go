package storage

import (
	"encoding/json"
	"fmt"

	"github.com/mmcdole/shelf/internal/domain"
)

// Kind describes how one entity type is persisted.
type Kind[T domain.Entity] struct {
	Name string

	// Merge reconciles versioned sub-records of other into kept, which is
	// the record whose content won by origin. Nil keeps kept unchanged.
	Merge func(kept, other T) T

	// Related lists secondary records that travel with an entity. They are
	// written insert-or-ignore with OriginMembership.
	Related func(T) []Related
}

// Related is a secondary record of another kind.
type Related struct {
	Kind   string
	Entity domain.Entity
}

// Resolve applies the upsert policy to incoming against the stored record:
//
//   - nothing stored: incoming is written as is
//   - origin >= stored origin: incoming content replaces the stored content
//   - origin < stored origin: the stored content is kept
//
// In the last two cases Merge then reconciles versioned fields from the
// losing side. It returns the value to persist and its origin.
func Resolve[T domain.Entity](kind Kind[T], stored *Record, incoming T, origin domain.Origin) (T, domain.Origin, error) {
	if stored == nil {
		return incoming, origin, nil
	}
	var current T
	if err := json.Unmarshal(stored.Data, &current); err != nil {
		return incoming, origin, fmt.Errorf("decode stored %s: %w", kind.Name, err)
	}

	kept, other, keptOrigin := incoming, current, origin
	if origin < stored.Origin {
		kept, other, keptOrigin = current, incoming, stored.Origin
	}
	if kind.Merge != nil {
		kept = kind.Merge(kept, other)
	}
	return kept, keptOrigin, nil
}
