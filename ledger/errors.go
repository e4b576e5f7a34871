/*
errors.go - Centralized error types for the ledger engine

ERROR CATEGORIES:
  1. Not found   - supplier, procurement or entry missing (never retried)
  2. Validation  - malformed input, rejected before any write
  3. Conflict    - storage contention; retried with backoff, then surfaced

USAGE:
  if ledger.IsNotFound(err) { ... 404 ... }
  if ledger.IsClientError(err) { ... 400 ... }

Partial writes are not part of the taxonomy: every operation commits all
of its writes in a single transaction or none of them.
*/
package ledger

import (
	"errors"
	"fmt"
	"strings"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrNotFound is returned when a referenced record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrValidation is returned when input is rejected before any write.
	ErrValidation = errors.New("validation failed")

	// ErrConcurrentModification is returned when the store detects a
	// conflicting concurrent write. Safe to retry.
	ErrConcurrentModification = errors.New("concurrent modification detected")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// NotFoundError names the missing record.
type NotFoundError struct {
	Resource string // "supplier", "procurement", "ledger entry"
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Resource, e.ID)
}

func (e *NotFoundError) Unwrap() error {
	return ErrNotFound
}

// SupplierNotFound builds a NotFoundError for a supplier.
func SupplierNotFound(id SupplierID) error {
	return &NotFoundError{Resource: "supplier", ID: string(id)}
}

// ProcurementNotFound builds a NotFoundError for a procurement.
func ProcurementNotFound(id ProcurementID) error {
	return &NotFoundError{Resource: "procurement", ID: string(id)}
}

// EntryNotFound builds a NotFoundError for a ledger entry.
func EntryNotFound(id EntryID) error {
	return &NotFoundError{Resource: "ledger entry", ID: string(id)}
}

// FieldError is one rejected input field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError lists every rejected field of an input.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		parts[i] = f.Field + ": " + f.Message
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

func invalid(field, message string) error {
	return &ValidationError{Fields: []FieldError{{Field: field, Message: message}}}
}

// ConflictError is returned once transaction retries are exhausted.
type ConflictError struct {
	Op       string
	Attempts int
	Err      error
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s: gave up after %d attempts: %v", e.Op, e.Attempts, e.Err)
}

func (e *ConflictError) Unwrap() error {
	return ErrConcurrentModification
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	var conflict *ConflictError
	if errors.As(err, &conflict) {
		return false
	}
	return errors.Is(err, ErrConcurrentModification)
}

// IsConflict returns true for contention errors, exhausted or not.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConcurrentModification)
}

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation)
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
