package domain

import "time"

// Origin ranks how complete a persisted record is. A stored record is only
// replaced by an incoming one of equal or higher origin.
type Origin int

const (
	OriginMembership Origin = iota // Secondary record (collection member)
	OriginSearch                   // Search result, sparse fields
	OriginPage                     // Listing page
	OriginDetail                   // Full item fetch
)

func (o Origin) String() string {
	switch o {
	case OriginMembership:
		return "membership"
	case OriginSearch:
		return "search"
	case OriginPage:
		return "page"
	case OriginDetail:
		return "detail"
	default:
		return "unknown"
	}
}

// Page is one fetched page of a paginated query.
type Page struct {
	ID        int64
	QueryKey  string
	Index     int
	NextPage  *int // nil when this is the last page
	Total     int
	LibraryID string
	UserID    string
	UpdatedAt time.Time
}

// PageJoin places an entity at a position within a page.
type PageJoin struct {
	PageID   int64
	EntityID string
	Position int
}

// PageResult is one page as returned by a remote collection endpoint.
type PageResult[T any] struct {
	Data     []T
	Page     int
	NextPage *int
	Total    int
}

// NextPageFor computes the next page index for a page of size limit out of
// total, or nil if page is the last one.
func NextPageFor(page, limit, total int) *int {
	if limit <= 0 || (page+1)*limit >= total {
		return nil
	}
	next := page + 1
	return &next
}
