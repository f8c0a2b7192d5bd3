package sap

import (
	"errors"
	"fmt"
)

// Category classifies a forwarding failure. Retryability is a property of
// the category, not of individual errors.
type Category int

const (
	CategoryNetworkOffline Category = iota
	CategoryNetworkTimeout
	CategoryServerUnavailable
	CategoryAuthentication
	CategoryRateLimited
	CategoryValidation
	CategoryUnknown
)

func (c Category) String() string {
	switch c {
	case CategoryNetworkOffline:
		return "network_offline"
	case CategoryNetworkTimeout:
		return "network_timeout"
	case CategoryServerUnavailable:
		return "server_unavailable"
	case CategoryAuthentication:
		return "authentication"
	case CategoryRateLimited:
		return "rate_limited"
	case CategoryValidation:
		return "validation"
	default:
		return "unknown"
	}
}

// IsRetryable reports whether failures of this category are worth retrying.
// Validation and authentication failures will not heal on their own.
func (c Category) IsRetryable() bool {
	switch c {
	case CategoryNetworkOffline, CategoryNetworkTimeout, CategoryServerUnavailable, CategoryRateLimited:
		return true
	default:
		return false
	}
}

// Error is a categorized forwarding failure.
type Error struct {
	Category   Category
	Message    string
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("sap %s (status %d): %s", e.Category, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("sap %s: %s", e.Category, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// IsRetryable reports whether the failure's category is retryable.
func (e *Error) IsRetryable() bool { return e.Category.IsRetryable() }

// Categorize extracts the category from an error, defaulting to Unknown.
func Categorize(err error) Category {
	var sapErr *Error
	if errors.As(err, &sapErr) {
		return sapErr.Category
	}
	return CategoryUnknown
}

func newError(category Category, message string) *Error {
	return &Error{Category: category, Message: message}
}
