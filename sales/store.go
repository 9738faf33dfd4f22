/*
store.go - Persistence interface for the sale ledger

PURPOSE:
  Defines the boundary between ledger rules and the database. The ledger
  never issues a read-modify-write without a guard: every mutating method
  is conditional and fails instead of silently overwriting.

KEY INTERFACES:
  Store:    Reads and guarded writes used by the ledger
  TxStore:  Store + WithTx for atomic multi-row operations
  Catalog:  Product/variant management (back-office CRUD)
  Clients:  Client registry (back-office CRUD)

GUARDED WRITES:
  DecrementStock:    fails with InsufficientStockError unless stock >= qty
  UpdateSalePayment: fails with ErrConcurrentModification unless paid/status match
  UpdateSaleStatus:  fails with ErrConcurrentModification unless status matches
  AdjustClientDebt:  fails with ErrConcurrentModification unless debt matches

APPEND-ONLY CONTRACT:
  Transactions have AppendTransaction and read methods only.
  Corrections are written as new (refund) rows.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: SQLite, default backend
  - store/postgres/postgres.go: PostgreSQL
  - sales/store/memory.go: In-memory for tests

SEE ALSO:
  - ledger.go: Uses TxStore
*/
package sales

import (
	"context"

	"github.com/shopspring/decimal"
)

// =============================================================================
// STORE - Ledger persistence
// =============================================================================

// Store is what the ledger needs from persistence.
type Store interface {
	// GetVariant returns NotFoundError{EntityVariant} when missing.
	GetVariant(ctx context.Context, id int64) (*Variant, error)

	// DecrementStock subtracts qty only if stock_quantity >= qty.
	DecrementStock(ctx context.Context, variantID int64, qty int) error

	// IncrementStock adds qty back (cancellation, restock).
	IncrementStock(ctx context.Context, variantID int64, qty int) error

	// GetClient returns NotFoundError{EntityClient} when missing.
	GetClient(ctx context.Context, id int64) (*Client, error)

	// AdjustClientDebt sets debt_amount to next if it currently equals expected.
	AdjustClientDebt(ctx context.Context, clientID int64, expected, next decimal.Decimal) error

	// InsertSale persists the sale and its items, filling in IDs and timestamps.
	// Returns ErrDuplicateReceipt if the receipt number is taken.
	InsertSale(ctx context.Context, sale *Sale) error

	// GetSale returns the sale with its items.
	GetSale(ctx context.Context, id int64) (*Sale, error)

	// UpdateSalePayment moves paid/status forward if they still match expected.
	UpdateSalePayment(ctx context.Context, saleID int64, expectedPaid, paid decimal.Decimal, expectedStatus, status Status) error

	// UpdateSaleStatus changes status if it still equals expected.
	UpdateSaleStatus(ctx context.Context, saleID int64, expected, next Status) error

	// ListSales returns sales newest first with the total match count.
	ListSales(ctx context.Context, filter SaleFilter) ([]Sale, int, error)

	// OutstandingSales returns the client's debt/partially_paid sales, oldest first.
	OutstandingSales(ctx context.Context, clientID int64) ([]Sale, error)

	// AppendTransaction writes a log entry, filling in ID and CreatedAt.
	AppendTransaction(ctx context.Context, tx *Transaction) error

	// ClientTransactions returns the client's log entries oldest first.
	ClientTransactions(ctx context.Context, clientID int64) ([]Transaction, error)
}

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, every write made through the given Store is rolled back.
	WithTx(ctx context.Context, fn func(Store) error) error
}

// =============================================================================
// BACK-OFFICE REGISTRIES
// =============================================================================

// Catalog manages products and variants.
type Catalog interface {
	CreateProduct(ctx context.Context, p *Product) error
	GetProduct(ctx context.Context, id int64) (*Product, error)
	ListProducts(ctx context.Context) ([]Product, error)
	CreateVariant(ctx context.Context, v *Variant) error
	GetVariant(ctx context.Context, id int64) (*Variant, error)
	ListVariants(ctx context.Context, filter VariantFilter) ([]Variant, error)
	IncrementStock(ctx context.Context, variantID int64, qty int) error
	DecrementStock(ctx context.Context, variantID int64, qty int) error
}

// Clients manages the client registry. UpdateClient never touches DebtAmount.
type Clients interface {
	CreateClient(ctx context.Context, c *Client) error
	GetClient(ctx context.Context, id int64) (*Client, error)
	UpdateClient(ctx context.Context, c *Client) error
	ListClients(ctx context.Context, filter ClientFilter) ([]Client, int, error)
}
