package paging

import "fmt"

// LoadType is the direction of a load.
type LoadType int

const (
	LoadRefresh LoadType = iota
	LoadPrepend
	LoadAppend
)

func (t LoadType) String() string {
	switch t {
	case LoadRefresh:
		return "refresh"
	case LoadPrepend:
		return "prepend"
	case LoadAppend:
		return "append"
	default:
		return fmt.Sprintf("LoadType(%d)", int(t))
	}
}

// InitializeAction is the decision taken by Initialize.
type InitializeAction int

const (
	SkipInitialRefresh InitializeAction = iota
	LaunchInitialRefresh
)

func (a InitializeAction) String() string {
	if a == LaunchInitialRefresh {
		return "launch-initial-refresh"
	}
	return "skip-initial-refresh"
}

// State is the mediator's lifecycle state.
type State int

const (
	StateIdle State = iota
	StateInitializing
	StateRefreshing
	StateAppending
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateInitializing:
		return "initializing"
	case StateRefreshing:
		return "refreshing"
	case StateAppending:
		return "appending"
	case StateError:
		return "error"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// PagingState describes the consumer's view at the time of a load.
type PagingState struct {
	// PageSize overrides the mediator's page size when > 0.
	PageSize int
}

// LoadResult is the outcome of Load: success with an end-of-pagination flag,
// or an error.
type LoadResult struct {
	EndOfPagination bool
	Err             error
}

// Success builds a successful result.
func Success(endOfPagination bool) LoadResult { return LoadResult{EndOfPagination: endOfPagination} }

// Failure builds an error result.
func Failure(err error) LoadResult { return LoadResult{Err: err} }

// OK reports whether the load succeeded.
func (r LoadResult) OK() bool { return r.Err == nil }

// Listing is the cached list of a query.
type Listing[T any] struct {
	Items           []T
	Total           int
	Pages           int
	EndOfPagination bool
}
