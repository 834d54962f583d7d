package store

import (
	"context"
	"errors"
)

// ErrNoNewData is returned by a Fetcher when the server has nothing newer
// than what the caller may already hold. The Store reports it as NoNewData
// rather than as an error.
var ErrNoNewData = errors.New("no new data")

// Fetcher performs exactly one remote read for key. It does not retry and does
// not cache; failures are returned, and the Store decides what to do with them.
type Fetcher[K comparable, V any] func(ctx context.Context, key K) (V, error)

// Origin says where a Data response came from.
type Origin int

const (
	OriginCache Origin = iota
	OriginSourceOfTruth
	OriginFetcher
)

func (o Origin) String() string {
	switch o {
	case OriginCache:
		return "cache"
	case OriginSourceOfTruth:
		return "source-of-truth"
	case OriginFetcher:
		return "fetcher"
	default:
		return "unknown"
	}
}

// ResponseKind discriminates Response.
type ResponseKind int

const (
	ResponseLoading ResponseKind = iota
	ResponseData
	ResponseNoNewData
	ResponseError
)

func (k ResponseKind) String() string {
	switch k {
	case ResponseLoading:
		return "loading"
	case ResponseData:
		return "data"
	case ResponseNoNewData:
		return "no-new-data"
	case ResponseError:
		return "error"
	default:
		return "unknown"
	}
}

// Response is one emission of Store.Stream.
type Response[V any] struct {
	Kind   ResponseKind
	Value  V      // set for ResponseData
	Origin Origin // set for ResponseData
	Err    error  // set for ResponseError
}

// Loading builds a loading response.
func Loading[V any]() Response[V] { return Response[V]{Kind: ResponseLoading} }

// Data builds a data response.
func Data[V any](v V, origin Origin) Response[V] {
	return Response[V]{Kind: ResponseData, Value: v, Origin: origin}
}

// NoNewData builds a no-new-data response.
func NoNewData[V any]() Response[V] { return Response[V]{Kind: ResponseNoNewData} }

// Failed builds an error response.
func Failed[V any](err error) Response[V] { return Response[V]{Kind: ResponseError, Err: err} }
