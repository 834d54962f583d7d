package domain

import (
	"encoding/base64"
	"net/url"
	"strconv"
	"strings"
)

// Collection kinds used as the Kind segment of a QueryKey.
const (
	KindItems       = "items"
	KindAuthors     = "authors"
	KindSeries      = "series"
	KindCollections = "collections"
	KindSearch      = "search"
	KindInProgress  = "in-progress"
)

// Filter narrows a library listing, e.g. {Group: "authors", Value: authorID}.
type Filter struct {
	Group string
	Value string
}

// IsZero reports whether no filter is set.
func (f Filter) IsZero() bool { return f.Group == "" }

// Encode renders the filter as the server expects it: the group, a dot, and
// the URL-escaped base64 of the value.
func (f Filter) Encode() string {
	if f.IsZero() {
		return ""
	}
	if f.Value == "" {
		return f.Group
	}
	return f.Group + "." + url.QueryEscape(base64.StdEncoding.EncodeToString([]byte(f.Value)))
}

// ParseFilter parses "group=value" as typed on the command line.
func ParseFilter(s string) Filter {
	group, value, _ := strings.Cut(strings.TrimSpace(s), "=")
	return Filter{Group: group, Value: value}
}

// QueryKey identifies one paginated query shape.
type QueryKey struct {
	UserID    string
	LibraryID string
	Kind      string
	Filter    Filter
	Sort      string
	Desc      bool
	Search    string
}

// String renders the key as a stable string. Segments appear in a fixed
// order, empty ones are omitted and free-form values are escaped, so distinct
// shapes never collide:
//
//	u1::lib1::sort=title
//	u1::lib1::items::filter=authors.YTE%3D::sort=media.metadata.title::desc
func (q QueryKey) String() string {
	parts := []string{url.QueryEscape(q.UserID), url.QueryEscape(q.LibraryID)}
	if q.Kind != "" {
		parts = append(parts, q.Kind)
	}
	if !q.Filter.IsZero() {
		parts = append(parts, "filter="+q.Filter.Encode())
	}
	if q.Search != "" {
		parts = append(parts, "q="+url.QueryEscape(q.Search))
	}
	if q.Sort != "" {
		parts = append(parts, "sort="+url.QueryEscape(q.Sort))
	}
	if q.Desc {
		parts = append(parts, "desc")
	}
	return strings.Join(parts, "::")
}

// Params returns the remote query parameters for page.
func (q QueryKey) Params(page, limit int) url.Values {
	v := url.Values{}
	v.Set("page", strconv.Itoa(page))
	if limit > 0 {
		v.Set("limit", strconv.Itoa(limit))
	}
	if q.Sort != "" {
		v.Set("sort", q.Sort)
	}
	if q.Desc {
		v.Set("desc", "1")
	}
	switch {
	case q.Filter.IsZero():
	case q.Filter.Value == "":
		v.Set("filter", q.Filter.Group)
	default:
		// url.Values escapes the base64 payload.
		v.Set("filter", q.Filter.Group+"."+base64.StdEncoding.EncodeToString([]byte(q.Filter.Value)))
	}
	return v
}
