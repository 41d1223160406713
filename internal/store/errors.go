package store

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrInsufficientStock  = errors.New("insufficient stock")
	ErrInvalidTransaction = errors.New("invalid transaction")
	ErrInvariantViolation = errors.New("invariant violation")
)

// NotFoundError reports an absent item, sale, customer or supplier.
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("%s not found", e.Entity)
	}
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrInvalidTransaction }

type InsufficientStockError struct {
	ItemID    string
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for item %s: requested %d, available %d", e.ItemID, e.Requested, e.Available)
}

func (e *InsufficientStockError) Unwrap() error { return ErrInsufficientStock }

// InvariantViolationError signals a broken ledger chain. It is never expected
// while appends are serialized per customer and must be treated as a bug.
type InvariantViolationError struct {
	CustomerID string
	Seq        int64
	Detail     string
}

func (e *InvariantViolationError) Error() string {
	return fmt.Sprintf("ledger invariant violated for customer %s at seq %d: %s", e.CustomerID, e.Seq, e.Detail)
}

func (e *InvariantViolationError) Unwrap() error { return ErrInvariantViolation }

func NotFound(entity string, id string) error {
	return &NotFoundError{Entity: entity, ID: id}
}

func Invalid(field string, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}
