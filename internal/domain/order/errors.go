package order

import (
	"fmt"
	"strings"

	"github.com/go-faster/errors"
)

// Sentinel errors returned by Repository implementations.
var (
	ErrNotFound                = errors.New("order not found")
	ErrDuplicateIdempotencyKey = errors.New("idempotency key already used")
	ErrReferenceConflict       = errors.New("provider reference already set")
)

// ValidationError reports bad client input. Nothing was written.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// LedgerError wraps a storage failure. OrderID is set when the order may
// already exist so it can be reconciled by hand.
type LedgerError struct {
	Op      string
	OrderID string
	Err     error
}

func (e *LedgerError) Error() string {
	if e.OrderID == "" {
		return fmt.Sprintf("ledger %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("ledger %s (order %s): %v", e.Op, e.OrderID, e.Err)
}

func (e *LedgerError) Unwrap() error { return e.Err }

// NotFoundError indicates a confirmation whose correlation key matched no order.
type NotFoundError struct {
	Provider Provider
	Key      string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("no %s order for %q", e.Provider, e.Key)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// ConflictError indicates a confirmation that contradicts the ledger, such as
// a charged amount that differs from the order total.
type ConflictError struct {
	OrderID string
	Reasons []string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("order %s: confirmation mismatch: %s", e.OrderID, strings.Join(e.Reasons, "; "))
}
