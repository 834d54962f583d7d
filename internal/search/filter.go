// Package search matches library items locally: fuzzy filtering of cached
// lists and ranking of server search results.
package search

import (
	"strings"

	"github.com/sahilm/fuzzy"

	"github.com/mmcdole/shelf/internal/domain"
)

// Result is a filtered item with match metadata for highlighting.
type Result struct {
	Item           domain.LibraryItem
	MatchedIndexes []int // Positions in Index.String(i) that matched
	Score          int   // Higher is better
}

// Index implements fuzzy.Source over library items. Each entry is the
// lowercase "title author" line so either can be typed.
type Index struct {
	items []domain.LibraryItem
	lines []string
	seen  map[string]bool
}

// String returns the searchable line at i (implements fuzzy.Source)
func (idx *Index) String(i int) string { return idx.lines[i] }

// Len returns the number of items (implements fuzzy.Source)
func (idx *Index) Len() int { return len(idx.items) }

// NewIndex builds an index over items.
func NewIndex(items []domain.LibraryItem) *Index {
	idx := &Index{seen: make(map[string]bool, len(items))}
	idx.Add(items...)
	return idx
}

// Add indexes items, skipping ids already present.
func (idx *Index) Add(items ...domain.LibraryItem) int {
	added := 0
	for _, it := range items {
		if idx.seen[it.ID] {
			continue
		}
		idx.seen[it.ID] = true
		idx.items = append(idx.items, it)
		idx.lines = append(idx.lines, searchLine(it))
		added++
	}
	return added
}

func searchLine(it domain.LibraryItem) string {
	line := it.Title
	if it.AuthorName != "" {
		line += " " + it.AuthorName
	}
	return strings.ToLower(line)
}

// Filter returns the items matching query, best first.
func (idx *Index) Filter(query string) []Result {
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" || idx.Len() == 0 {
		return nil
	}
	matches := fuzzy.FindFrom(query, idx)
	results := make([]Result, len(matches))
	for i, m := range matches {
		results[i] = Result{
			Item:           idx.items[m.Index],
			MatchedIndexes: m.MatchedIndexes,
			Score:          m.Score,
		}
	}
	return results
}

// FilterLocal fuzzy-filters already cached items without touching the network.
func FilterLocal(query string, items []domain.LibraryItem) []Result {
	return NewIndex(items).Filter(query)
}
