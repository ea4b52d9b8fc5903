package audit

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrDisabled is returned by query/cleanup paths while audit logging
	// is globally disabled. Capture paths never return it; they no-op.
	ErrDisabled = errors.New("audit logging is disabled")

	// ErrTimeout is returned when a query deadline expires. Callers get
	// this instead of a partial page.
	ErrTimeout = errors.New("audit query deadline exceeded")
)

// ValidationError reports malformed or unsafe filter input. Fields maps
// each rejected parameter name to the reason it was rejected, so callers
// can identify exactly which parameter failed.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return "invalid filter"
	}
	names := make([]string, 0, len(e.Fields))
	for name := range e.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, fmt.Sprintf("%s: %s", name, e.Fields[name]))
	}
	return "invalid filter: " + strings.Join(parts, "; ")
}

// NotFoundError reports a single-record lookup miss.
type NotFoundError struct {
	ID int64
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("audit record %d not found", e.ID)
}

// StoreError wraps a persistence failure. Capture retries these
// internally; query paths surface them.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("audit store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// IsValidation reports whether err is a filter validation failure.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsNotFound reports whether err is a single-record lookup miss.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}
