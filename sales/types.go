/*
Package sales implements the sale and client-debt ledger of the store back office.

PURPOSE:
  A sale moves stock out of the catalog, creates receivables when it is not
  fully paid, and leaves an auditable trail in the transaction log. Debt
  payments and cancellations reconcile against that same trail. This package
  owns the rules; persistence is behind the Store interface.

KEY CONCEPTS IN THIS FILE (types.go):
  - Money: decimal.Decimal everywhere, never float
  - Sale / SaleItem: a receipt and its immutable line items
  - Client: a customer with a running aggregate debt
  - Variant: a sellable stock-keeping unit (product + color + size)
  - Transaction: an append-only money movement record

STATUS MACHINE:
  pending --(create, paid=0)-------------> debt
  pending --(create, 0<paid<total)-------> partially_paid
  pending --(create, paid=total)---------> completed
  debt / partially_paid --(pay, partial)-> partially_paid
  debt / partially_paid --(pay, full)----> completed
  debt / partially_paid / completed --(cancel)--> cancelled (terminal)

SEE ALSO:
  - ledger.go: Operations that move sales through the status machine
  - store.go: Persistence interface
  - history.go: Debt history replay
*/
package sales

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// ENUMERATIONS
// =============================================================================

// Status is the payment state of a sale.
type Status string

const (
	StatusPending       Status = "pending"
	StatusDebt          Status = "debt"
	StatusPartiallyPaid Status = "partially_paid"
	StatusCompleted     Status = "completed"
	StatusCancelled     Status = "cancelled"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusDebt, StatusPartiallyPaid, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// HasDebt reports whether a sale in this status still owes money.
func (s Status) HasDebt() bool {
	return s == StatusDebt || s == StatusPartiallyPaid
}

// PaymentMethod is how the paid portion of a sale was settled.
type PaymentMethod string

const (
	PaymentCash     PaymentMethod = "cash"
	PaymentCard     PaymentMethod = "card"
	PaymentTransfer PaymentMethod = "transfer"
)

func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentCash, PaymentCard, PaymentTransfer:
		return true
	}
	return false
}

// TransactionType classifies an entry in the transaction log.
type TransactionType string

const (
	TxSale        TransactionType = "sale"
	TxDebtPayment TransactionType = "debt_payment"
	TxRefund      TransactionType = "refund"
	TxPurchase    TransactionType = "purchase"
	TxExpense     TransactionType = "expense"
)

// =============================================================================
// STATUS DERIVATION
// =============================================================================

// DeriveStatus maps paid/total to a payment status.
// Callers guarantee 0 <= paid <= total.
func DeriveStatus(paid, total decimal.Decimal) Status {
	switch {
	case paid.GreaterThanOrEqual(total):
		return StatusCompleted
	case paid.IsZero():
		return StatusDebt
	default:
		return StatusPartiallyPaid
	}
}

// =============================================================================
// CATALOG
// =============================================================================

// Product groups variants that differ only by color and size.
type Product struct {
	ID        int64
	SKU       string
	Name      string
	Brand     string
	Season    string
	Category  string
	IsActive  bool
	CreatedAt time.Time
}

// Variant is the unit that carries stock.
type Variant struct {
	ID            int64
	ProductID     int64
	SKU           string
	Color         string
	Size          string
	Price         decimal.Decimal
	CostPrice     *decimal.Decimal
	StockQuantity int
	MinStockLevel int
	IsActive      bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// LowStock reports whether the variant is at or below its reorder level.
func (v Variant) LowStock() bool {
	return v.StockQuantity <= v.MinStockLevel
}

// =============================================================================
// CLIENTS
// =============================================================================

// Client is a customer. DebtAmount is the aggregate outstanding balance and
// equals the sum of (total - paid) across the client's non-cancelled sales.
type Client struct {
	ID         int64
	FirstName  string
	LastName   string
	Phone      string
	Address    string
	Notes      string
	DebtAmount decimal.Decimal
	IsActive   bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (c Client) FullName() string {
	if c.LastName == "" {
		return c.FirstName
	}
	return c.FirstName + " " + c.LastName
}

// =============================================================================
// SALES
// =============================================================================

// Sale is one receipt. PaidAmount only grows and never exceeds TotalAmount.
type Sale struct {
	ID            int64
	ReceiptNumber string
	ClientID      *int64
	TotalAmount   decimal.Decimal
	PaidAmount    decimal.Decimal
	PaymentMethod PaymentMethod
	Status        Status
	Notes         string
	UserID        int64
	CreatedAt     time.Time
	UpdatedAt     time.Time
	Items         []SaleItem
}

// Outstanding is what the client still owes on this sale.
func (s Sale) Outstanding() decimal.Decimal {
	return s.TotalAmount.Sub(s.PaidAmount)
}

// SaleItem is an immutable line. UnitPrice is a snapshot taken at sale time.
type SaleItem struct {
	ID         int64
	SaleID     int64
	VariantID  int64
	Quantity   int
	UnitPrice  decimal.Decimal
	TotalPrice decimal.Decimal
	CreatedAt  time.Time
}

// =============================================================================
// TRANSACTION LOG
// =============================================================================

// Transaction is an append-only money movement. Amount is positive for
// inflows and negative for refunds.
type Transaction struct {
	ID          int64
	Type        TransactionType
	Amount      decimal.Decimal
	SaleID      *int64
	ClientID    *int64
	UserID      int64
	Description string
	Reference   string
	CreatedAt   time.Time
}

// =============================================================================
// QUERIES
// =============================================================================

// SaleFilter narrows ListSales. Zero values mean "no constraint".
// Size <= 0 returns every matching row.
type SaleFilter struct {
	ClientID      *int64
	PaymentMethod PaymentMethod
	Status        Status
	Start         *time.Time
	End           *time.Time
	Page          int
	Size          int
}

// Offset is the row offset for the requested page (pages are 1-based).
func (f SaleFilter) Offset() int {
	if f.Page <= 1 || f.Size <= 0 {
		return 0
	}
	return (f.Page - 1) * f.Size
}

// ClientFilter narrows ListClients.
type ClientFilter struct {
	Search  string // matches first/last name or phone
	HasDebt bool
	Page    int
	Size    int
}

func (f ClientFilter) Offset() int {
	if f.Page <= 1 || f.Size <= 0 {
		return 0
	}
	return (f.Page - 1) * f.Size
}

// VariantFilter narrows ListVariants.
type VariantFilter struct {
	ProductID *int64
	LowStock  bool
}

// Page is a slice of results plus pagination info.
type Page[T any] struct {
	Items []T
	Page  int
	Size  int
	Total int
}

// Pages is the number of pages for Total at Size.
func (p Page[T]) Pages() int {
	if p.Size <= 0 {
		if p.Total > 0 {
			return 1
		}
		return 0
	}
	return (p.Total + p.Size - 1) / p.Size
}
