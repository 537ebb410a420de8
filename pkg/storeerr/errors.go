// Package storeerr implements the ErrorKind taxonomy of the
// read-and-mutate store core's error handling design: a closed set of
// failure categories, each with a static retryability default, wrapped
// in a concrete error type that composes with stdlib errors.Is/As.
package storeerr

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Kind classifies a failure the way the error mapper (§6) is expected
// to: raw transport/persistence errors come in, a Kind goes out.
type Kind int

const (
	KindUnknown Kind = iota
	KindNetworkTimeout
	KindNetworkNoConnection
	KindNetworkHTTP
	KindNetworkDNS
	KindNetworkTLS
	KindPersistenceRead
	KindPersistenceWrite
	KindPersistenceDelete
	KindPersistenceDiskFull
	KindPersistencePermissionDenied
	KindPersistenceTransactionConflict
	KindPersistenceDatabaseLocked
	KindValidation
	KindNotFound
	KindSerialization
	KindConfiguration
	KindRateLimited
)

func (k Kind) String() string {
	switch k {
	case KindNetworkTimeout:
		return "network.timeout"
	case KindNetworkNoConnection:
		return "network.no_connection"
	case KindNetworkHTTP:
		return "network.http"
	case KindNetworkDNS:
		return "network.dns"
	case KindNetworkTLS:
		return "network.tls"
	case KindPersistenceRead:
		return "persistence.read"
	case KindPersistenceWrite:
		return "persistence.write"
	case KindPersistenceDelete:
		return "persistence.delete"
	case KindPersistenceDiskFull:
		return "persistence.disk_full"
	case KindPersistencePermissionDenied:
		return "persistence.permission_denied"
	case KindPersistenceTransactionConflict:
		return "persistence.transaction_conflict"
	case KindPersistenceDatabaseLocked:
		return "persistence.database_locked"
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindSerialization:
		return "serialization"
	case KindConfiguration:
		return "configuration"
	case KindRateLimited:
		return "rate_limited"
	default:
		return "unknown"
	}
}

// retryableDefaults implements the §7 retryability table. HTTP status
// retryability is resolved separately in NewHTTP since it depends on
// the status code, not just the Kind.
var retryableDefaults = map[Kind]bool{
	KindNetworkTimeout:                 true,
	KindNetworkNoConnection:            true,
	KindNetworkDNS:                     true,
	KindNetworkTLS:                     false,
	KindPersistenceRead:                false,
	KindPersistenceWrite:               false,
	KindPersistenceDelete:              false,
	KindPersistenceDiskFull:            false,
	KindPersistencePermissionDenied:    false,
	KindPersistenceTransactionConflict: true,
	KindPersistenceDatabaseLocked:      true,
	KindValidation:                     false,
	KindNotFound:                       false,
	KindSerialization:                  false,
	KindConfiguration:                  false,
	KindRateLimited:                    true,
	KindUnknown:                        true,
}

// StoreError is the concrete error type carried through the pipeline.
// It always wraps a cause (if one exists) and reports its own
// retryability per the §7 defaults, unless overridden at construction
// (used for HTTP status-dependent retryability).
type StoreError struct {
	Kind       Kind
	Msg        string
	Cause      error
	Status     int           // set for KindNetworkHTTP
	RetryAfter time.Duration // set for KindRateLimited when known
	retryable  *bool
}

func (e *StoreError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *StoreError) Unwrap() error { return e.Cause }

// Retryable reports whether the operation that produced this error is
// safe to retry per the §7 defaults table.
func (e *StoreError) Retryable() bool {
	if e.retryable != nil {
		return *e.retryable
	}
	if e.Kind == KindNetworkHTTP {
		return isRetryableHTTPStatus(e.Status)
	}
	return retryableDefaults[e.Kind]
}

func isRetryableHTTPStatus(status int) bool {
	switch status {
	case 408, 429:
		return true
	}
	if status >= 500 {
		return true
	}
	return false
}

func override(b bool) *bool { return &b }

// New constructs a StoreError of the given kind wrapping cause, using
// the §7 default retryability for that kind.
func New(kind Kind, msg string, cause error) *StoreError {
	return &StoreError{Kind: kind, Msg: msg, Cause: cause}
}

// NewHTTP constructs a KindNetworkHTTP error whose retryability is
// derived from the status code (5xx, 408, 429 retryable; other 4xx not).
func NewHTTP(status int, msg string, cause error) *StoreError {
	return &StoreError{Kind: KindNetworkHTTP, Msg: msg, Cause: cause, Status: status}
}

// NewRateLimited constructs a KindRateLimited error, optionally
// carrying a server-advised retry-after duration.
func NewRateLimited(retryAfter time.Duration, msg string, cause error) *StoreError {
	return &StoreError{Kind: KindRateLimited, Msg: msg, Cause: cause, RetryAfter: retryAfter, retryable: override(true)}
}

// NotFound constructs a KindNotFound error for the given key
// description.
func NotFound(keyDesc string) *StoreError {
	return &StoreError{Kind: KindNotFound, Msg: fmt.Sprintf("key not found: %s", keyDesc), retryable: override(false)}
}

// IsCancellation reports whether err is context cancellation or
// deadline-exceeded. The propagation policy (§7) requires these never
// be caught as StoreError; every boundary must check this first and
// re-raise unchanged.
func IsCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
