package platform

import (
	"errors"
	"fmt"
)

var (
	// ErrNoShops is returned when a run is requested with no shops configured.
	ErrNoShops = errors.New("no shops configured for run")
	// ErrNotFound is returned by storage lookups when no row matches.
	ErrNotFound = errors.New("not found")
	// ErrShopInactive is returned when a run is requested for a disabled shop.
	ErrShopInactive = errors.New("shop is not active")
)

// AdapterErrorKind classifies unit-level adapter failures.
type AdapterErrorKind string

// Adapter error kinds.
const (
	AdapterKindTransport AdapterErrorKind = "transport"
	AdapterKindConfig    AdapterErrorKind = "config"
	AdapterKindTimeout   AdapterErrorKind = "timeout"
	AdapterKindRateLimit AdapterErrorKind = "rate_limit"
	AdapterKindStorage   AdapterErrorKind = "storage"
)

// AdapterError is a unit-level failure: the whole (shop, category) fetch is
// terminated for this run. Only transport-kind errors are retryable.
type AdapterError struct {
	Shop string
	Kind AdapterErrorKind
	Err  error
}

func (e *AdapterError) Error() string {
	return fmt.Sprintf("adapter %s failed (%s): %v", e.Shop, e.Kind, e.Err)
}

func (e *AdapterError) Unwrap() error { return e.Err }

// Retryable reports whether the orchestrator may retry the whole unit.
func (e *AdapterError) Retryable() bool { return e.Kind == AdapterKindTransport }

// NewAdapterError returns a new AdapterError.
func NewAdapterError(shop string, kind AdapterErrorKind, err error) *AdapterError {
	return &AdapterError{Shop: shop, Kind: kind, Err: err}
}

// ItemError is an item-level failure: the single listing is skipped and
// counted, the fetch continues. Item errors are never retried.
type ItemError struct {
	ExternalID string
	Err        error
}

func (e *ItemError) Error() string {
	if e.ExternalID == "" {
		return fmt.Sprintf("item failed: %v", e.Err)
	}
	return fmt.Sprintf("item %s failed: %v", e.ExternalID, e.Err)
}

func (e *ItemError) Unwrap() error { return e.Err }

// NewItemError returns a new ItemError.
func NewItemError(externalID string, err error) *ItemError {
	return &ItemError{ExternalID: externalID, Err: err}
}

// NormalizationError is returned when a raw listing can't be turned into a
// canonical deal. It is item-level by definition.
type NormalizationError struct {
	Field string
	Err   error
}

func (e *NormalizationError) Error() string {
	return fmt.Sprintf("can't normalize field %q: %v", e.Field, e.Err)
}

func (e *NormalizationError) Unwrap() error { return e.Err }

// StorageError wraps a transient infrastructure failure of the persistence
// layer. Callers may retry it with backoff.
type StorageError struct {
	Err error
}

func (e *StorageError) Error() string { return fmt.Sprintf("storage failed: %v", e.Err) }

func (e *StorageError) Unwrap() error { return e.Err }

// ConstraintError wraps an invariant violation reported by the persistence
// layer, e.g. a dangling reference. Not retryable, treated as item failure.
type ConstraintError struct {
	Err error
}

func (e *ConstraintError) Error() string { return fmt.Sprintf("constraint violated: %v", e.Err) }

func (e *ConstraintError) Unwrap() error { return e.Err }

// IsTransient reports whether err is a retryable storage failure.
func IsTransient(err error) bool {
	var storageErr *StorageError
	return errors.As(err, &storageErr)
}
