package dispatch

import (
	"errors"
	"fmt"
)

// Stable failure categories surfaced by the dispatch loop.
const (
	CategoryTransport = "transport_error"
	CategoryHandler   = "handler_error"
	CategoryConfig    = "config_error"
)

// Error is a categorized dispatch failure. The category is stable and
// drives retry policy; the detail and wrapped cause are for logs.
type Error struct {
	Category string
	Detail   string
	Err      error
}

func (e *Error) Error() string {
	switch {
	case e == nil:
		return ""
	case e.Detail == "" && e.Err == nil:
		return e.Category
	case e.Err == nil:
		return fmt.Sprintf("%s: %s", e.Category, e.Detail)
	case e.Detail == "":
		return fmt.Sprintf("%s: %v", e.Category, e.Err)
	default:
		return fmt.Sprintf("%s: %s: %v", e.Category, e.Detail, e.Err)
	}
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// TransportError wraps a network or platform failure.
func TransportError(detail string, err error) error {
	return &Error{Category: CategoryTransport, Detail: detail, Err: err}
}

// HandlerError wraps an application logic fault raised by a handler.
func HandlerError(detail string, err error) error {
	return &Error{Category: CategoryHandler, Detail: detail, Err: err}
}

// ConfigError wraps an unrecoverable configuration failure.
func ConfigError(detail string, err error) error {
	return &Error{Category: CategoryConfig, Detail: detail, Err: err}
}

// Category extracts the stable category from an error chain, or ""
// for uncategorized errors.
func Category(err error) string {
	if err == nil {
		return ""
	}

	var categorized *Error
	if errors.As(err, &categorized) {
		return categorized.Category
	}

	return ""
}

// IsTransport reports whether the error chain contains a transport failure.
func IsTransport(err error) bool {
	return Category(err) == CategoryTransport
}
