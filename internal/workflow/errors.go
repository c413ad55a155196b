package workflow

import (
	"errors"
	"fmt"
	"net/mail"
	"sort"
	"strings"

	"github.com/iliyamo/property-listing-api/internal/repository"
)

var (
	// ErrAuthorization is returned when the actor lacks the role or status
	// an operation requires, or acts on something it is not attached to.
	ErrAuthorization = errors.New("not authorized")
	// ErrStateTransition is returned when the current workflow state does
	// not permit the requested change.
	ErrStateTransition = errors.New("invalid state transition")
	// ErrTimeout is returned when one attempt exceeds the operation budget.
	ErrTimeout = errors.New("operation timed out")

	// Storage errors surface unchanged so callers only need this package.
	ErrNotFound       = repository.ErrNotFound
	ErrDuplicateKey   = repository.ErrDuplicateKey
	ErrForeignKey     = repository.ErrForeignKey
	ErrCheckViolation = repository.ErrCheckViolation
	ErrTransient      = repository.ErrTransient
)

// ValidationError reports input that failed shape or range checks.  Fields
// maps the offending input field to a short message.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// invalid builds a single-field ValidationError.
func invalid(field, msg string) error {
	return &ValidationError{Fields: map[string]string{field: msg}}
}

// checker accumulates field errors.
type checker struct {
	fields map[string]string
}

func (c *checker) require(ok bool, field, msg string) {
	if ok {
		return
	}
	if c.fields == nil {
		c.fields = map[string]string{}
	}
	if _, seen := c.fields[field]; !seen {
		c.fields[field] = msg
	}
}

func (c *checker) err() error {
	if len(c.fields) == 0 {
		return nil
	}
	return &ValidationError{Fields: c.fields}
}

// validEmail accepts a bare addr-spec: no display name, no angle brackets.
func validEmail(s string) bool {
	s = strings.TrimSpace(s)
	addr, err := mail.ParseAddress(s)
	return err == nil && addr.Name == "" && addr.Address == s
}

func notAuthorized(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrAuthorization, fmt.Sprintf(format, args...))
}

func badTransition(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrStateTransition, fmt.Sprintf(format, args...))
}

// outcome is the metrics label for err.
func outcome(err error) string {
	var ve *ValidationError
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &ve):
		return "validation"
	case errors.Is(err, ErrAuthorization):
		return "authorization"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrDuplicateKey), errors.Is(err, ErrStateTransition):
		return "conflict"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrTransient):
		return "transient"
	}
	return "error"
}
