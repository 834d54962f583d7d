package search

import (
	"sort"
	"strings"

	"github.com/lithammer/fuzzysearch/fuzzy"

	"github.com/mmcdole/shelf/internal/domain"
)

// Rank orders server search results so exact and near title matches come
// first. Items that tie keep the server's order.
func Rank(query string, items []domain.LibraryItem) []domain.LibraryItem {
	if len(items) == 0 {
		return items
	}
	query = strings.ToLower(strings.TrimSpace(query))

	type rankedItem struct {
		item  domain.LibraryItem
		score int
	}
	ranked := make([]rankedItem, 0, len(items))
	for _, it := range items {
		ranked = append(ranked, rankedItem{item: it, score: matchScore(strings.ToLower(it.Title), query)})
	}

	// Lower score is better
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].score < ranked[j].score
	})

	out := make([]domain.LibraryItem, len(ranked))
	for i, r := range ranked {
		out[i] = r.item
	}
	return out
}

// matchScore scores title against query. Lower is better.
func matchScore(title, query string) int {
	switch {
	case title == query:
		return 0
	case strings.HasPrefix(title, query):
		return 10
	case strings.Contains(title, query):
		return 50
	default:
		return 100 + fuzzy.LevenshteinDistance(query, title)
	}
}

// Offline matches query against cached titles when server search is
// unavailable. Matching ignores case and diacritics; results are ordered by
// edit distance.
func Offline(query string, items []domain.LibraryItem) []domain.LibraryItem {
	query = strings.TrimSpace(query)
	if query == "" || len(items) == 0 {
		return nil
	}

	titles := make([]string, len(items))
	for i, it := range items {
		titles[i] = it.Title
	}
	matches := fuzzy.RankFindNormalizedFold(query, titles)
	sort.Stable(matches)

	out := make([]domain.LibraryItem, 0, len(matches))
	for _, m := range matches {
		out = append(out, items[m.OriginalIndex])
	}
	return out
}
