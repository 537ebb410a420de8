// Package readstore implements the ReadStore module (§4.8): the read
// pipeline composing MemoryCache, SourceOfTruth, FreshnessValidator,
// SingleFlight, KeyMutex, and Fetcher into a reactive per-key stream
// of typed domain values.
package readstore

import "time"

// Origin reports which layer produced a Data emission (§3 invariant
// 4).
type Origin int

const (
	OriginMemory Origin = iota
	OriginSoT
	OriginNetwork
)

func (o Origin) String() string {
	switch o {
	case OriginMemory:
		return "memory"
	case OriginSoT:
		return "sot"
	case OriginNetwork:
		return "network"
	default:
		return "unknown"
	}
}

// ResultKind discriminates the StoreResult variants (§3).
type ResultKind int

const (
	ResultLoading ResultKind = iota
	ResultData
	ResultError
)

// StoreResult is the value emitted to stream subscribers (§3).
type StoreResult[V any] struct {
	Kind ResultKind

	// Loading
	FromCache bool

	// Data
	Value  V
	Origin Origin
	Age    time.Duration

	// Error
	Err         error
	ServedStale bool
}

// Loading constructs a Loading result.
func Loading[V any](fromCache bool) StoreResult[V] {
	return StoreResult[V]{Kind: ResultLoading, FromCache: fromCache}
}

// Data constructs a Data result.
func Data[V any](value V, origin Origin, age time.Duration) StoreResult[V] {
	return StoreResult[V]{Kind: ResultData, Value: value, Origin: origin, Age: age}
}

// ErrorResult constructs an Error result.
func ErrorResult[V any](err error, servedStale bool) StoreResult[V] {
	return StoreResult[V]{Kind: ResultError, Err: err, ServedStale: servedStale}
}
