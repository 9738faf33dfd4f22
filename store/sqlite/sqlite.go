/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Implements sales.TxStore, sales.Catalog, sales.Clients and auth.UserStore
  on SQLite. This is the default backend for single-shop deployments and
  for tests (":memory:").

INTERFACES IMPLEMENTED:
  sales.TxStore:   Ledger persistence with WithTx
  sales.Catalog:   Products and variants
  sales.Clients:   Client registry
  auth.UserStore:  Back-office users

GUARDED WRITES:
  Every ledger write is a conditional UPDATE; zero affected rows means the
  guard failed:
    UPDATE product_variants SET stock_quantity = stock_quantity - ?
     WHERE id = ? AND stock_quantity >= ?
  so stock can never go negative even if two sales race.

MONEY:
  Amounts are stored as TEXT in canonical decimal form (decimal.String()).
  decimal.Decimal implements sql.Scanner/driver.Valuer so no float ever
  touches a money column.

TIMESTAMPS:
  UTC, fixed-width layout (timeLayout) so text ordering equals time ordering.

KEY TABLES:
  products, product_variants: Catalog and stock
  clients:                    Registry with aggregate debt_amount
  sales, sale_items:          Receipts and immutable lines
  transactions:               Append-only money log
  users:                      Back-office accounts

CONCURRENCY:
  WithTx serialises writers with a mutex (SQLite allows one writer).
  Reads run concurrently under WAL.

USAGE:
  store, err := sqlite.New("./data/retail.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  ledger := sales.NewLedger(store)

SEE ALSO:
  - sales/store.go: Interface definitions
  - store/postgres/postgres.go: PostgreSQL implementation
  - sales/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"github.com/warp/retail-engine/auth"
	"github.com/warp/retail-engine/sales"
)

const timeLayout = "2006-01-02 15:04:05.000000"

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// conn holds every query; Store runs it on the pool, WithTx on a *sql.Tx.
type conn struct {
	q querier
}

// Store implements all storage interfaces using SQLite.
type Store struct {
	conn
	db *sql.DB
	mu sync.Mutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		// each pooled connection would otherwise get its own empty database
		db.SetMaxOpenConns(1)
	}

	store := &Store{conn: conn{q: db}, db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS products (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		sku TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL,
		brand TEXT NOT NULL DEFAULT '',
		season TEXT NOT NULL DEFAULT '',
		category TEXT NOT NULL DEFAULT '',
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS product_variants (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		product_id INTEGER NOT NULL REFERENCES products(id),
		sku TEXT NOT NULL UNIQUE,
		color TEXT NOT NULL DEFAULT '',
		size TEXT NOT NULL DEFAULT '',
		price TEXT NOT NULL,
		cost_price TEXT,
		stock_quantity INTEGER NOT NULL DEFAULT 0 CHECK (stock_quantity >= 0),
		min_stock_level INTEGER NOT NULL DEFAULT 0,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_variants_product
		ON product_variants(product_id);

	CREATE TABLE IF NOT EXISTS clients (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		first_name TEXT NOT NULL,
		last_name TEXT NOT NULL DEFAULT '',
		phone TEXT,
		address TEXT NOT NULL DEFAULT '',
		notes TEXT NOT NULL DEFAULT '',
		debt_amount TEXT NOT NULL DEFAULT '0',
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_clients_phone
		ON clients(phone) WHERE phone IS NOT NULL;

	CREATE TABLE IF NOT EXISTS sales (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		receipt_number TEXT NOT NULL UNIQUE,
		client_id INTEGER REFERENCES clients(id),
		total_amount TEXT NOT NULL,
		paid_amount TEXT NOT NULL,
		payment_method TEXT NOT NULL,
		status TEXT NOT NULL,
		notes TEXT NOT NULL DEFAULT '',
		user_id INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_sales_client_status
		ON sales(client_id, status);
	CREATE INDEX IF NOT EXISTS idx_sales_created_at
		ON sales(created_at DESC);

	CREATE TABLE IF NOT EXISTS sale_items (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		sale_id INTEGER NOT NULL REFERENCES sales(id),
		variant_id INTEGER NOT NULL REFERENCES product_variants(id),
		quantity INTEGER NOT NULL CHECK (quantity > 0),
		unit_price TEXT NOT NULL,
		total_price TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_sale_items_sale
		ON sale_items(sale_id);

	-- Append-only: nothing in this package updates or deletes rows here
	CREATE TABLE IF NOT EXISTS transactions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		tx_type TEXT NOT NULL,
		amount TEXT NOT NULL,
		sale_id INTEGER REFERENCES sales(id),
		client_id INTEGER REFERENCES clients(id),
		user_id INTEGER NOT NULL DEFAULT 0,
		description TEXT NOT NULL DEFAULT '',
		reference TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_transactions_client_created
		ON transactions(client_id, created_at, id);

	CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		username TEXT NOT NULL UNIQUE,
		full_name TEXT NOT NULL DEFAULT '',
		password_hash TEXT NOT NULL,
		role TEXT NOT NULL,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TEXT NOT NULL
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// TRANSACTIONAL STORE (sales.TxStore interface)
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(store sales.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&conn{q: sqlTx}); err != nil {
		return err
	}

	return sqlTx.Commit()
}

// Reset deletes all business data (demo scenarios). Users are kept.
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, table := range []string{"transactions", "sale_items", "sales", "clients", "product_variants", "products"} {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("failed to reset %s: %w", table, err)
		}
	}
	_, err := s.db.ExecContext(ctx, "DELETE FROM sqlite_sequence WHERE name != 'users'")
	return err
}

// =============================================================================
// CATALOG
// =============================================================================

const variantColumns = `id, product_id, sku, color, size, price, cost_price,
	stock_quantity, min_stock_level, is_active, created_at, updated_at`

func (c *conn) CreateProduct(ctx context.Context, p *sales.Product) error {
	now := stamp(p.CreatedAt)
	res, err := c.q.ExecContext(ctx, `
		INSERT INTO products (sku, name, brand, season, category, is_active, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		p.SKU, p.Name, p.Brand, p.Season, p.Category, p.IsActive, formatTime(now))
	if err != nil {
		if isUniqueConstraintError(err) {
			return sales.ErrDuplicateSKU
		}
		return fmt.Errorf("failed to insert product: %w", err)
	}
	p.ID, _ = res.LastInsertId()
	p.CreatedAt = now
	return nil
}

func (c *conn) GetProduct(ctx context.Context, id int64) (*sales.Product, error) {
	var (
		p         sales.Product
		createdAt string
	)
	err := c.q.QueryRowContext(ctx, `
		SELECT id, sku, name, brand, season, category, is_active, created_at
		FROM products WHERE id = ?`, id).
		Scan(&p.ID, &p.SKU, &p.Name, &p.Brand, &p.Season, &p.Category, &p.IsActive, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &sales.NotFoundError{Entity: sales.EntityProduct, ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get product: %w", err)
	}
	p.CreatedAt = parseTime(createdAt)
	return &p, nil
}

func (c *conn) ListProducts(ctx context.Context) ([]sales.Product, error) {
	rows, err := c.q.QueryContext(ctx, `
		SELECT id, sku, name, brand, season, category, is_active, created_at
		FROM products ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list products: %w", err)
	}
	defer rows.Close()

	var out []sales.Product
	for rows.Next() {
		var (
			p         sales.Product
			createdAt string
		)
		if err := rows.Scan(&p.ID, &p.SKU, &p.Name, &p.Brand, &p.Season, &p.Category, &p.IsActive, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan product: %w", err)
		}
		p.CreatedAt = parseTime(createdAt)
		out = append(out, p)
	}
	return out, rows.Err()
}

func (c *conn) CreateVariant(ctx context.Context, v *sales.Variant) error {
	if _, err := c.GetProduct(ctx, v.ProductID); err != nil {
		return err
	}
	now := stamp(v.CreatedAt)
	var cost any
	if v.CostPrice != nil {
		cost = v.CostPrice.String()
	}
	res, err := c.q.ExecContext(ctx, `
		INSERT INTO product_variants
		(product_id, sku, color, size, price, cost_price, stock_quantity, min_stock_level, is_active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		v.ProductID, v.SKU, v.Color, v.Size, v.Price.String(), cost,
		v.StockQuantity, v.MinStockLevel, v.IsActive, formatTime(now), formatTime(now))
	if err != nil {
		if isUniqueConstraintError(err) {
			return sales.ErrDuplicateSKU
		}
		return fmt.Errorf("failed to insert variant: %w", err)
	}
	v.ID, _ = res.LastInsertId()
	v.CreatedAt, v.UpdatedAt = now, now
	return nil
}

func (c *conn) GetVariant(ctx context.Context, id int64) (*sales.Variant, error) {
	rows, err := c.q.QueryContext(ctx, "SELECT "+variantColumns+" FROM product_variants WHERE id = ?", id)
	if err != nil {
		return nil, fmt.Errorf("failed to get variant: %w", err)
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, &sales.NotFoundError{Entity: sales.EntityVariant, ID: id}
	}
	v, err := scanVariant(rows)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func (c *conn) ListVariants(ctx context.Context, f sales.VariantFilter) ([]sales.Variant, error) {
	var (
		where []string
		args  []any
	)
	if f.ProductID != nil {
		where = append(where, "product_id = ?")
		args = append(args, *f.ProductID)
	}
	if f.LowStock {
		where = append(where, "stock_quantity <= min_stock_level")
	}
	query := "SELECT " + variantColumns + " FROM product_variants" + whereClause(where) + " ORDER BY id"

	rows, err := c.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list variants: %w", err)
	}
	defer rows.Close()

	var out []sales.Variant
	for rows.Next() {
		v, err := scanVariant(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func scanVariant(rows *sql.Rows) (sales.Variant, error) {
	var (
		v         sales.Variant
		cost      decimal.NullDecimal
		createdAt string
		updatedAt string
	)
	err := rows.Scan(&v.ID, &v.ProductID, &v.SKU, &v.Color, &v.Size, &v.Price, &cost,
		&v.StockQuantity, &v.MinStockLevel, &v.IsActive, &createdAt, &updatedAt)
	if err != nil {
		return v, fmt.Errorf("failed to scan variant: %w", err)
	}
	if cost.Valid {
		v.CostPrice = &cost.Decimal
	}
	v.CreatedAt = parseTime(createdAt)
	v.UpdatedAt = parseTime(updatedAt)
	return v, nil
}

// DecrementStock subtracts qty only when enough stock remains.
func (c *conn) DecrementStock(ctx context.Context, variantID int64, qty int) error {
	res, err := c.q.ExecContext(ctx, `
		UPDATE product_variants
		SET stock_quantity = stock_quantity - ?, updated_at = ?
		WHERE id = ? AND stock_quantity >= ?`,
		qty, formatTime(time.Now().UTC()), variantID, qty)
	if err != nil {
		return fmt.Errorf("failed to decrement stock: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return nil
	}

	v, err := c.GetVariant(ctx, variantID)
	if err != nil {
		return err
	}
	return &sales.InsufficientStockError{VariantID: v.ID, SKU: v.SKU, Available: v.StockQuantity, Requested: qty}
}

func (c *conn) IncrementStock(ctx context.Context, variantID int64, qty int) error {
	res, err := c.q.ExecContext(ctx, `
		UPDATE product_variants
		SET stock_quantity = stock_quantity + ?, updated_at = ?
		WHERE id = ?`,
		qty, formatTime(time.Now().UTC()), variantID)
	if err != nil {
		return fmt.Errorf("failed to increment stock: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &sales.NotFoundError{Entity: sales.EntityVariant, ID: variantID}
	}
	return nil
}

// =============================================================================
// CLIENTS
// =============================================================================

const clientColumns = `id, first_name, last_name, phone, address, notes,
	debt_amount, is_active, created_at, updated_at`

func (c *conn) CreateClient(ctx context.Context, cl *sales.Client) error {
	now := stamp(cl.CreatedAt)
	res, err := c.q.ExecContext(ctx, `
		INSERT INTO clients (first_name, last_name, phone, address, notes, debt_amount, is_active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		cl.FirstName, cl.LastName, nullString(cl.Phone), cl.Address, cl.Notes,
		cl.DebtAmount.String(), cl.IsActive, formatTime(now), formatTime(now))
	if err != nil {
		if isUniqueConstraintError(err) {
			return sales.ErrDuplicatePhone
		}
		return fmt.Errorf("failed to insert client: %w", err)
	}
	cl.ID, _ = res.LastInsertId()
	cl.CreatedAt, cl.UpdatedAt = now, now
	return nil
}

func (c *conn) GetClient(ctx context.Context, id int64) (*sales.Client, error) {
	rows, err := c.q.QueryContext(ctx, "SELECT "+clientColumns+" FROM clients WHERE id = ?", id)
	if err != nil {
		return nil, fmt.Errorf("failed to get client: %w", err)
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, &sales.NotFoundError{Entity: sales.EntityClient, ID: id}
	}
	cl, err := scanClient(rows)
	if err != nil {
		return nil, err
	}
	return &cl, nil
}

// UpdateClient rewrites profile fields. debt_amount is owned by the ledger.
func (c *conn) UpdateClient(ctx context.Context, cl *sales.Client) error {
	now := time.Now().UTC()
	res, err := c.q.ExecContext(ctx, `
		UPDATE clients
		SET first_name = ?, last_name = ?, phone = ?, address = ?, notes = ?, is_active = ?, updated_at = ?
		WHERE id = ?`,
		cl.FirstName, cl.LastName, nullString(cl.Phone), cl.Address, cl.Notes, cl.IsActive, formatTime(now), cl.ID)
	if err != nil {
		if isUniqueConstraintError(err) {
			return sales.ErrDuplicatePhone
		}
		return fmt.Errorf("failed to update client: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &sales.NotFoundError{Entity: sales.EntityClient, ID: cl.ID}
	}
	fresh, err := c.GetClient(ctx, cl.ID)
	if err != nil {
		return err
	}
	*cl = *fresh
	return nil
}

func (c *conn) ListClients(ctx context.Context, f sales.ClientFilter) ([]sales.Client, int, error) {
	var (
		where []string
		args  []any
	)
	if f.Search != "" {
		like := "%" + strings.ToLower(f.Search) + "%"
		where = append(where, "(LOWER(first_name || ' ' || last_name) LIKE ? OR phone LIKE ?)")
		args = append(args, like, like)
	}
	if f.HasDebt {
		where = append(where, "CAST(debt_amount AS REAL) > 0")
	}
	w := whereClause(where)

	var total int
	if err := c.q.QueryRowContext(ctx, "SELECT COUNT(*) FROM clients"+w, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count clients: %w", err)
	}

	query := "SELECT " + clientColumns + " FROM clients" + w + " ORDER BY id" + limitClause(f.Size, f.Offset())
	rows, err := c.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list clients: %w", err)
	}
	defer rows.Close()

	var out []sales.Client
	for rows.Next() {
		cl, err := scanClient(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, cl)
	}
	return out, total, rows.Err()
}

func scanClient(rows *sql.Rows) (sales.Client, error) {
	var (
		cl        sales.Client
		phone     sql.NullString
		createdAt string
		updatedAt string
	)
	err := rows.Scan(&cl.ID, &cl.FirstName, &cl.LastName, &phone, &cl.Address, &cl.Notes,
		&cl.DebtAmount, &cl.IsActive, &createdAt, &updatedAt)
	if err != nil {
		return cl, fmt.Errorf("failed to scan client: %w", err)
	}
	cl.Phone = phone.String
	cl.CreatedAt = parseTime(createdAt)
	cl.UpdatedAt = parseTime(updatedAt)
	return cl, nil
}

// AdjustClientDebt is a compare-and-swap on debt_amount.
func (c *conn) AdjustClientDebt(ctx context.Context, clientID int64, expected, next decimal.Decimal) error {
	res, err := c.q.ExecContext(ctx, `
		UPDATE clients SET debt_amount = ?, updated_at = ?
		WHERE id = ? AND debt_amount = ?`,
		next.String(), formatTime(time.Now().UTC()), clientID, expected.String())
	if err != nil {
		return fmt.Errorf("failed to adjust client debt: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return nil
	}
	if _, err := c.GetClient(ctx, clientID); err != nil {
		return err
	}
	return sales.ErrConcurrentModification
}

// =============================================================================
// SALES
// =============================================================================

const saleColumns = `id, receipt_number, client_id, total_amount, paid_amount,
	payment_method, status, notes, user_id, created_at, updated_at`

func (c *conn) InsertSale(ctx context.Context, sale *sales.Sale) error {
	sale.CreatedAt = stamp(sale.CreatedAt)
	sale.UpdatedAt = stamp(sale.UpdatedAt)

	res, err := c.q.ExecContext(ctx, `
		INSERT INTO sales (receipt_number, client_id, total_amount, paid_amount,
			payment_method, status, notes, user_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sale.ReceiptNumber, nullInt(sale.ClientID), sale.TotalAmount.String(), sale.PaidAmount.String(),
		sale.PaymentMethod, sale.Status, sale.Notes, sale.UserID,
		formatTime(sale.CreatedAt), formatTime(sale.UpdatedAt))
	if err != nil {
		if isUniqueConstraintError(err) {
			return sales.ErrDuplicateReceipt
		}
		return fmt.Errorf("failed to insert sale: %w", err)
	}
	sale.ID, _ = res.LastInsertId()

	for i := range sale.Items {
		item := &sale.Items[i]
		item.SaleID = sale.ID
		item.CreatedAt = stamp(item.CreatedAt)
		res, err := c.q.ExecContext(ctx, `
			INSERT INTO sale_items (sale_id, variant_id, quantity, unit_price, total_price, created_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			item.SaleID, item.VariantID, item.Quantity, item.UnitPrice.String(), item.TotalPrice.String(),
			formatTime(item.CreatedAt))
		if err != nil {
			return fmt.Errorf("failed to insert sale item: %w", err)
		}
		item.ID, _ = res.LastInsertId()
	}
	return nil
}

func (c *conn) GetSale(ctx context.Context, id int64) (*sales.Sale, error) {
	list, err := c.querySales(ctx, "SELECT "+saleColumns+" FROM sales WHERE id = ?", id)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, &sales.NotFoundError{Entity: sales.EntitySale, ID: id}
	}
	if err := c.attachItems(ctx, list); err != nil {
		return nil, err
	}
	return &list[0], nil
}

func (c *conn) UpdateSalePayment(ctx context.Context, saleID int64, expectedPaid, paid decimal.Decimal, expectedStatus, status sales.Status) error {
	res, err := c.q.ExecContext(ctx, `
		UPDATE sales SET paid_amount = ?, status = ?, updated_at = ?
		WHERE id = ? AND paid_amount = ? AND status = ?`,
		paid.String(), status, formatTime(time.Now().UTC()), saleID, expectedPaid.String(), expectedStatus)
	if err != nil {
		return fmt.Errorf("failed to update sale payment: %w", err)
	}
	return c.guardResult(ctx, res, saleID)
}

func (c *conn) UpdateSaleStatus(ctx context.Context, saleID int64, expected, next sales.Status) error {
	res, err := c.q.ExecContext(ctx, `
		UPDATE sales SET status = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		next, formatTime(time.Now().UTC()), saleID, expected)
	if err != nil {
		return fmt.Errorf("failed to update sale status: %w", err)
	}
	return c.guardResult(ctx, res, saleID)
}

// guardResult turns a zero-row guarded update into NotFound or ConcurrentModification.
func (c *conn) guardResult(ctx context.Context, res sql.Result, saleID int64) error {
	if n, _ := res.RowsAffected(); n == 1 {
		return nil
	}
	var exists int
	err := c.q.QueryRowContext(ctx, "SELECT COUNT(*) FROM sales WHERE id = ?", saleID).Scan(&exists)
	if err != nil {
		return err
	}
	if exists == 0 {
		return &sales.NotFoundError{Entity: sales.EntitySale, ID: saleID}
	}
	return sales.ErrConcurrentModification
}

func (c *conn) ListSales(ctx context.Context, f sales.SaleFilter) ([]sales.Sale, int, error) {
	var (
		where []string
		args  []any
	)
	if f.ClientID != nil {
		where = append(where, "client_id = ?")
		args = append(args, *f.ClientID)
	}
	if f.PaymentMethod != "" {
		where = append(where, "payment_method = ?")
		args = append(args, f.PaymentMethod)
	}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, f.Status)
	}
	if f.Start != nil {
		where = append(where, "created_at >= ?")
		args = append(args, formatTime(f.Start.UTC()))
	}
	if f.End != nil {
		where = append(where, "created_at <= ?")
		args = append(args, formatTime(f.End.UTC()))
	}
	w := whereClause(where)

	var total int
	if err := c.q.QueryRowContext(ctx, "SELECT COUNT(*) FROM sales"+w, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count sales: %w", err)
	}

	query := "SELECT " + saleColumns + " FROM sales" + w +
		" ORDER BY created_at DESC, id DESC" + limitClause(f.Size, f.Offset())
	list, err := c.querySales(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	if err := c.attachItems(ctx, list); err != nil {
		return nil, 0, err
	}
	return list, total, nil
}

func (c *conn) OutstandingSales(ctx context.Context, clientID int64) ([]sales.Sale, error) {
	list, err := c.querySales(ctx, "SELECT "+saleColumns+` FROM sales
		WHERE client_id = ? AND status IN (?, ?)
		ORDER BY created_at ASC, id ASC`,
		clientID, sales.StatusDebt, sales.StatusPartiallyPaid)
	if err != nil {
		return nil, err
	}
	if err := c.attachItems(ctx, list); err != nil {
		return nil, err
	}
	return list, nil
}

func (c *conn) querySales(ctx context.Context, query string, args ...any) ([]sales.Sale, error) {
	rows, err := c.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query sales: %w", err)
	}
	defer rows.Close()

	var out []sales.Sale
	for rows.Next() {
		var (
			s         sales.Sale
			clientID  sql.NullInt64
			createdAt string
			updatedAt string
		)
		err := rows.Scan(&s.ID, &s.ReceiptNumber, &clientID, &s.TotalAmount, &s.PaidAmount,
			&s.PaymentMethod, &s.Status, &s.Notes, &s.UserID, &createdAt, &updatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan sale: %w", err)
		}
		if clientID.Valid {
			id := clientID.Int64
			s.ClientID = &id
		}
		s.CreatedAt = parseTime(createdAt)
		s.UpdatedAt = parseTime(updatedAt)
		out = append(out, s)
	}
	return out, rows.Err()
}

// attachItems loads items for every sale in one query.
func (c *conn) attachItems(ctx context.Context, list []sales.Sale) error {
	if len(list) == 0 {
		return nil
	}
	ids := make([]any, len(list))
	index := make(map[int64]int, len(list))
	for i, s := range list {
		ids[i] = s.ID
		index[s.ID] = i
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")

	rows, err := c.q.QueryContext(ctx, `
		SELECT id, sale_id, variant_id, quantity, unit_price, total_price, created_at
		FROM sale_items WHERE sale_id IN (`+placeholders+`) ORDER BY id`, ids...)
	if err != nil {
		return fmt.Errorf("failed to query sale items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			item      sales.SaleItem
			createdAt string
		)
		if err := rows.Scan(&item.ID, &item.SaleID, &item.VariantID, &item.Quantity,
			&item.UnitPrice, &item.TotalPrice, &createdAt); err != nil {
			return fmt.Errorf("failed to scan sale item: %w", err)
		}
		item.CreatedAt = parseTime(createdAt)
		i := index[item.SaleID]
		list[i].Items = append(list[i].Items, item)
	}
	return rows.Err()
}

// =============================================================================
// TRANSACTION LOG
// =============================================================================

func (c *conn) AppendTransaction(ctx context.Context, tx *sales.Transaction) error {
	tx.CreatedAt = stamp(tx.CreatedAt)
	res, err := c.q.ExecContext(ctx, `
		INSERT INTO transactions (tx_type, amount, sale_id, client_id, user_id, description, reference, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		tx.Type, tx.Amount.String(), nullInt(tx.SaleID), nullInt(tx.ClientID), tx.UserID,
		tx.Description, tx.Reference, formatTime(tx.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to append transaction: %w", err)
	}
	tx.ID, _ = res.LastInsertId()
	return nil
}

func (c *conn) ClientTransactions(ctx context.Context, clientID int64) ([]sales.Transaction, error) {
	rows, err := c.q.QueryContext(ctx, `
		SELECT id, tx_type, amount, sale_id, client_id, user_id, description, reference, created_at
		FROM transactions
		WHERE client_id = ?
		ORDER BY created_at ASC, id ASC`, clientID)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	var out []sales.Transaction
	for rows.Next() {
		var (
			tx        sales.Transaction
			saleID    sql.NullInt64
			cID       sql.NullInt64
			createdAt string
		)
		if err := rows.Scan(&tx.ID, &tx.Type, &tx.Amount, &saleID, &cID, &tx.UserID,
			&tx.Description, &tx.Reference, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		tx.SaleID = ptrInt(saleID)
		tx.ClientID = ptrInt(cID)
		tx.CreatedAt = parseTime(createdAt)
		out = append(out, tx)
	}
	return out, rows.Err()
}

// =============================================================================
// USERS (auth.UserStore interface)
// =============================================================================

func (c *conn) CreateUser(ctx context.Context, u *auth.User) error {
	now := stamp(u.CreatedAt)
	res, err := c.q.ExecContext(ctx, `
		INSERT INTO users (username, full_name, password_hash, role, is_active, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		u.Username, u.FullName, u.PasswordHash, u.Role, u.IsActive, formatTime(now))
	if err != nil {
		if isUniqueConstraintError(err) {
			return auth.ErrDuplicateUsername
		}
		return fmt.Errorf("failed to insert user: %w", err)
	}
	u.ID, _ = res.LastInsertId()
	u.CreatedAt = now
	return nil
}

func (c *conn) GetUser(ctx context.Context, id int64) (*auth.User, error) {
	return c.getUser(ctx, "id = ?", id)
}

func (c *conn) GetUserByUsername(ctx context.Context, username string) (*auth.User, error) {
	return c.getUser(ctx, "username = ?", username)
}

func (c *conn) getUser(ctx context.Context, cond string, arg any) (*auth.User, error) {
	var (
		u         auth.User
		createdAt string
	)
	err := c.q.QueryRowContext(ctx, `
		SELECT id, username, full_name, password_hash, role, is_active, created_at
		FROM users WHERE `+cond, arg).
		Scan(&u.ID, &u.Username, &u.FullName, &u.PasswordHash, &u.Role, &u.IsActive, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	u.CreatedAt = parseTime(createdAt)
	return &u, nil
}

func (c *conn) CountUsers(ctx context.Context) (int, error) {
	var n int
	err := c.q.QueryRowContext(ctx, "SELECT COUNT(*) FROM users").Scan(&n)
	return n, err
}

// Helper functions

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, _ := time.ParseInLocation(timeLayout, s, time.UTC)
	return t
}

func stamp(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t.UTC()
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullInt(p *int64) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *p, Valid: true}
}

func ptrInt(n sql.NullInt64) *int64 {
	if !n.Valid {
		return nil
	}
	v := n.Int64
	return &v
}

func whereClause(conds []string) string {
	if len(conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(conds, " AND ")
}

func limitClause(size, offset int) string {
	if size <= 0 {
		return ""
	}
	return fmt.Sprintf(" LIMIT %d OFFSET %d", size, offset)
}

func isUniqueConstraintError(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	return false
}
