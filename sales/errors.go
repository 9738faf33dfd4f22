/*
errors.go - Error types for the sale ledger

PURPOSE:
  All error types in one place. Store implementations return these so the
  HTTP layer can map them to status codes without knowing the backend.

ERROR CATEGORIES:
  1. Not found - client, variant, sale, product
  2. Validation - bad input, overpayment, insufficient stock
  3. State - operation not allowed in the sale's current status
  4. Store - uniqueness and optimistic-lock conflicts

USAGE:
  if errors.Is(err, sales.ErrInsufficientStock) {
      var stockErr *sales.InsufficientStockError
      errors.As(err, &stockErr)
      // stockErr.SKU, stockErr.Available
  }

SEE ALSO:
  - ledger.go: Returns these errors
  - api/handlers.go: Maps them to HTTP status codes
*/
package sales

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrNotFound is returned when a referenced row doesn't exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput is returned for malformed requests (empty items, zero quantity).
	ErrInvalidInput = errors.New("invalid input")

	// ErrInvalidPayment is returned when a paid amount breaks the 0 <= paid <= total rule.
	ErrInvalidPayment = errors.New("invalid payment")

	// ErrInsufficientStock is returned when a variant can't cover the requested quantity.
	ErrInsufficientStock = errors.New("insufficient stock")

	// ErrExceedsDebt is returned when a payment is larger than what is owed.
	ErrExceedsDebt = errors.New("payment exceeds remaining debt")

	// ErrInvalidState is returned when the sale's status forbids the operation.
	ErrInvalidState = errors.New("invalid sale state")

	// ErrDuplicateReceipt is returned by stores when a receipt number is taken.
	ErrDuplicateReceipt = errors.New("duplicate receipt number")

	// ErrDuplicatePhone is returned when a client phone is already registered.
	ErrDuplicatePhone = errors.New("phone already registered")

	// ErrDuplicateSKU is returned when a product or variant SKU is taken.
	ErrDuplicateSKU = errors.New("sku already exists")

	// ErrConcurrentModification is returned when a guarded update lost a race.
	ErrConcurrentModification = errors.New("concurrent modification detected")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// Entity names used in NotFoundError.
const (
	EntityClient  = "Client"
	EntityVariant = "Product variant"
	EntityProduct = "Product"
	EntitySale    = "Sale"
)

// NotFoundError names the missing entity and its id.
type NotFoundError struct {
	Entity string
	ID     int64
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s with ID %d not found", e.Entity, e.ID)
}

func (e *NotFoundError) Unwrap() error {
	return ErrNotFound
}

// InsufficientStockError names the variant that couldn't be fulfilled.
type InsufficientStockError struct {
	VariantID int64
	SKU       string
	Available int
	Requested int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product variant %s: available %d, requested %d",
		e.SKU, e.Available, e.Requested)
}

func (e *InsufficientStockError) Unwrap() error {
	return ErrInsufficientStock
}

// ExceedsDebtError carries what was actually owed.
type ExceedsDebtError struct {
	Remaining decimal.Decimal
	Requested decimal.Decimal
}

func (e *ExceedsDebtError) Error() string {
	return fmt.Sprintf("payment amount exceeds remaining debt. Remaining debt: %s", e.Remaining.StringFixed(2))
}

func (e *ExceedsDebtError) Unwrap() error {
	return ErrExceedsDebt
}

// InvalidStateError explains why the status forbids the operation.
type InvalidStateError struct {
	Status Status
	Reason string
}

func (e *InvalidStateError) Error() string {
	return e.Reason
}

func (e *InvalidStateError) Unwrap() error {
	return ErrInvalidState
}

func invalidInput(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

func invalidPayment(reason string) error {
	return fmt.Errorf("%w: %s", ErrInvalidPayment, reason)
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if rerunning the whole transaction might succeed.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification) ||
		errors.Is(err, ErrDuplicateReceipt)
}

// IsClientError returns true if the error is due to invalid caller input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrInvalidPayment) ||
		errors.Is(err, ErrInsufficientStock) ||
		errors.Is(err, ErrExceedsDebt)
}

// IsConflict returns true if the request clashes with current state.
func IsConflict(err error) bool {
	return errors.Is(err, ErrInvalidState) ||
		errors.Is(err, ErrDuplicatePhone) ||
		errors.Is(err, ErrDuplicateSKU) ||
		errors.Is(err, ErrDuplicateReceipt) ||
		errors.Is(err, ErrConcurrentModification)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
