package shared

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrValidation indicates malformed input rejected before any transaction.
	ErrValidation = errors.New("validation failed")
	// ErrInvalidTransition indicates a workflow action not allowed from the current status.
	ErrInvalidTransition = errors.New("invalid state transition")
	// ErrInsufficientStock indicates a movement would drive stock below zero.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrStaleAdjustment indicates stock drifted since an adjustment snapshot was taken.
	ErrStaleAdjustment = errors.New("stale adjustment")
	// ErrConcurrencyConflict indicates a concurrent writer won the race.
	ErrConcurrencyConflict = errors.New("concurrency conflict")
	// ErrUnauthenticated indicates missing actor or tenant scope.
	ErrUnauthenticated = errors.New("actor and tenant required")
)

// DetailError carries the offending item or field of a rejected operation.
// It unwraps to one of the sentinel kinds above.
type DetailError struct {
	Kind       error
	Field      string
	Item       int
	ProductID  int64
	LocationID int64
	Message    string
}

func (e *DetailError) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.Error())
	if e.Item > 0 {
		fmt.Fprintf(&b, ": item %d", e.Item)
	}
	if e.Field != "" {
		fmt.Fprintf(&b, ": %s", e.Field)
	}
	if e.Message != "" {
		fmt.Fprintf(&b, ": %s", e.Message)
	}
	return b.String()
}

func (e *DetailError) Unwrap() error {
	return e.Kind
}

// Invalid builds a validation error for a request field.
func Invalid(field, message string) error {
	return &DetailError{Kind: ErrValidation, Field: field, Message: message}
}

// InvalidItem builds a validation error for a field of the n-th (1-based) item.
func InvalidItem(item int, field, message string) error {
	return &DetailError{Kind: ErrValidation, Item: item, Field: field, Message: message}
}

// InsufficientStock reports the line that could not cover a decrease.
func InsufficientStock(item int, productID, locationID, available, requested int64) error {
	return &DetailError{
		Kind:       ErrInsufficientStock,
		Item:       item,
		Field:      "quantity",
		ProductID:  productID,
		LocationID: locationID,
		Message:    fmt.Sprintf("available %d, requested %d", available, requested),
	}
}

// StaleStock reports a snapshot that no longer matches the ledger.
func StaleStock(item int, productID, locationID, snapshot, current int64) error {
	return &DetailError{
		Kind:       ErrStaleAdjustment,
		Item:       item,
		Field:      "current_stock",
		ProductID:  productID,
		LocationID: locationID,
		Message:    fmt.Sprintf("snapshot %d, current %d", snapshot, current),
	}
}

// Transition reports a status change not permitted by a workflow.
func Transition(entity, from, to string) error {
	return &DetailError{Kind: ErrInvalidTransition, Field: "status", Message: fmt.Sprintf("%s cannot move from %s to %s", entity, from, to)}
}

// WithItem stamps the item position on a DetailError produced deeper in the stack.
func WithItem(err error, item int) error {
	var detail *DetailError
	if errors.As(err, &detail) && detail.Item == 0 {
		copied := *detail
		copied.Item = item
		return &copied
	}
	return err
}

// TranslateDBError maps PostgreSQL serialization and deadlock failures to ErrConcurrencyConflict.
func TranslateDBError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01":
			return fmt.Errorf("%w: %s", ErrConcurrencyConflict, pgErr.Message)
		}
	}
	return err
}

// UserSafeMessage returns a message that can be shown to API clients.
func UserSafeMessage(err error) string {
	var detail *DetailError
	if errors.As(err, &detail) {
		return detail.Error()
	}
	for _, known := range []error{ErrNotFound, ErrValidation, ErrInvalidTransition, ErrInsufficientStock, ErrStaleAdjustment, ErrConcurrencyConflict, ErrIdempotencyConflict, ErrUnauthenticated} {
		if errors.Is(err, known) {
			return err.Error()
		}
	}
	return "internal error"
}
