/*
ledger.go - Sale ledger operations

PURPOSE:
  The Ledger applies the business rules for creating sales, paying debt and
  cancelling. Every operation runs inside one TxStore.WithTx call, so either
  all of its rows change or none do.

CRITICAL INVARIANTS:
  1. paid_amount <= total_amount on every sale, and it never decreases
  2. stock_quantity >= 0 on every variant, enforced by guarded decrements
  3. client.debt_amount == sum of outstanding on the client's live sales
  4. The transaction log is append-only; cancellations write refunds

DEBT LEDGERS:
  A sale's outstanding amount and the client's aggregate debt move together.
  Sale-level payments reduce both. Client-level payments are allocated
  onto the client's outstanding sales oldest first; any remainder not
  backed by a sale (imported balances) is logged without a sale link.

LOCK ORDER:
  Inside a transaction rows are read (and on PostgreSQL locked) in one
  order: client, then sales, then variants by ascending id.

RETRIES:
  A lost guard (ErrConcurrentModification) or a receipt collision
  (ErrDuplicateReceipt) reruns the whole transaction, up to maxTxAttempts.
  Receipt numbers are regenerated on each attempt.

MONEY:
  Amounts carry at most two decimal places, matching the NUMERIC(12,2)
  columns. Finer amounts are rejected instead of being rounded by the
  database.

SEE ALSO:
  - store.go: Persistence interface
  - history.go: Debt history replay
  - api/handlers.go: HTTP surface
*/
package sales

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	maxTxAttempts = 5

	// MoneyScale is the number of decimal places stored for money.
	MoneyScale = 2

	DefaultPageSize = 10
	MaxPageSize     = 100
)

// =============================================================================
// LEDGER
// =============================================================================

// Ledger runs sale operations against a TxStore.
type Ledger struct {
	store    TxStore
	receipts ReceiptGenerator
	now      func() time.Time
	logger   *zap.Logger
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithClock overrides time.Now (tests).
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// WithReceiptGenerator overrides receipt number generation.
func WithReceiptGenerator(g ReceiptGenerator) Option {
	return func(l *Ledger) { l.receipts = g }
}

// WithLogger attaches a zap logger.
func WithLogger(logger *zap.Logger) Option {
	return func(l *Ledger) { l.logger = logger }
}

// NewLedger creates a ledger over the given store.
func NewLedger(store TxStore, opts ...Option) *Ledger {
	l := &Ledger{
		store:    store,
		receipts: NewReceiptNumber,
		now:      func() time.Time { return time.Now().UTC() },
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// inTx runs fn in a store transaction and reruns it while the failure is
// retryable. fn must not keep state between attempts.
func (l *Ledger) inTx(ctx context.Context, op string, fn func(Store) error) error {
	var err error
	for attempt := 1; attempt <= maxTxAttempts; attempt++ {
		err = l.store.WithTx(ctx, fn)
		if !IsRetryable(err) || ctx.Err() != nil {
			return err
		}
		l.logger.Warn("transaction conflict, retrying",
			zap.String("op", op),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
	}
	return err
}

// reduceDebt lowers the client's debt by amount. A result below zero means
// the aggregate had already drifted; it is clamped and logged.
func (l *Ledger) reduceDebt(ctx context.Context, s Store, client *Client, amount decimal.Decimal) error {
	next := client.DebtAmount.Sub(amount)
	if next.IsNegative() {
		l.logger.Warn("client debt below sale outstanding, clamping to zero",
			zap.Int64("client_id", client.ID),
			zap.String("debt", client.DebtAmount.String()),
			zap.String("reduction", amount.String()),
		)
		next = decimal.Zero
	}
	return s.AdjustClientDebt(ctx, client.ID, client.DebtAmount, next)
}

// HasMoneyScale reports whether d fits in MoneyScale decimal places.
func HasMoneyScale(d decimal.Decimal) bool {
	return d.Equal(d.Round(MoneyScale))
}

// =============================================================================
// CREATE SALE
// =============================================================================

// SaleItemInput is one requested line.
type SaleItemInput struct {
	VariantID int64
	Quantity  int
	UnitPrice decimal.Decimal
}

// CreateSaleInput is everything needed to ring up a sale.
type CreateSaleInput struct {
	ClientID      *int64
	PaymentMethod PaymentMethod
	PaidAmount    decimal.Decimal
	Notes         string
	UserID        int64
	Items         []SaleItemInput
}

func (in CreateSaleInput) validate() error {
	if len(in.Items) == 0 {
		return invalidInput("sale must have at least one item")
	}
	if !in.PaymentMethod.Valid() {
		return invalidInput("unknown payment method %q", in.PaymentMethod)
	}
	if in.PaidAmount.IsNegative() {
		return invalidPayment("paid amount cannot be negative")
	}
	if !HasMoneyScale(in.PaidAmount) {
		return invalidInput("paid amount cannot have more than %d decimal places", MoneyScale)
	}
	for i, item := range in.Items {
		if item.Quantity <= 0 {
			return invalidInput("item %d: quantity must be positive", i)
		}
		if item.UnitPrice.IsNegative() {
			return invalidInput("item %d: unit price cannot be negative", i)
		}
		if !HasMoneyScale(item.UnitPrice) {
			return invalidInput("item %d: unit price cannot have more than %d decimal places", i, MoneyScale)
		}
	}
	return nil
}

// CreateSale validates the request, then atomically inserts the sale, takes
// the stock, books any unpaid remainder as client debt and logs the payment.
//
// Validation is fail-fast in this order: client, variants, stock, payment.
func (l *Ledger) CreateSale(ctx context.Context, in CreateSaleInput) (*Sale, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	var sale *Sale
	err := l.inTx(ctx, "create_sale", func(s Store) error {
		var txErr error
		sale, txErr = l.createSale(ctx, s, in)
		return txErr
	})
	if err != nil {
		return nil, err
	}

	l.logger.Info("sale created",
		zap.Int64("sale_id", sale.ID),
		zap.String("receipt", sale.ReceiptNumber),
		zap.String("total", sale.TotalAmount.String()),
		zap.String("status", string(sale.Status)),
	)
	return sale, nil
}

func (l *Ledger) createSale(ctx context.Context, s Store, in CreateSaleInput) (*Sale, error) {
	var client *Client
	if in.ClientID != nil {
		c, err := s.GetClient(ctx, *in.ClientID)
		if err != nil {
			return nil, err
		}
		client = c
	}

	// Variants are read in ascending id order. Missing ones are reported
	// in request order below.
	variants := make(map[int64]*Variant, len(in.Items))
	missing := make(map[int64]error)
	for _, vid := range variantIDs(in.Items) {
		v, err := s.GetVariant(ctx, vid)
		if err != nil {
			if !IsNotFound(err) {
				return nil, err
			}
			missing[vid] = err
			continue
		}
		variants[vid] = v
	}

	// Repeated variants are checked against their summed quantity.
	requested := make(map[int64]int, len(in.Items))
	for _, item := range in.Items {
		if err, ok := missing[item.VariantID]; ok {
			return nil, err
		}
		v := variants[item.VariantID]
		requested[item.VariantID] += item.Quantity
		if v.StockQuantity < requested[item.VariantID] {
			return nil, &InsufficientStockError{
				VariantID: v.ID,
				SKU:       v.SKU,
				Available: v.StockQuantity,
				Requested: requested[item.VariantID],
			}
		}
	}

	now := l.now()
	total := decimal.Zero
	items := make([]SaleItem, len(in.Items))
	for i, item := range in.Items {
		line := item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity)))
		items[i] = SaleItem{
			VariantID:  item.VariantID,
			Quantity:   item.Quantity,
			UnitPrice:  item.UnitPrice,
			TotalPrice: line,
			CreatedAt:  now,
		}
		total = total.Add(line)
	}

	if in.PaidAmount.GreaterThan(total) {
		return nil, invalidPayment("paid amount cannot exceed total amount")
	}
	outstanding := total.Sub(in.PaidAmount)
	if outstanding.IsPositive() && client == nil {
		return nil, invalidPayment("a sale with unpaid balance requires a client")
	}

	sale := &Sale{
		ReceiptNumber: l.receipts(now),
		ClientID:      in.ClientID,
		TotalAmount:   total,
		PaidAmount:    in.PaidAmount,
		PaymentMethod: in.PaymentMethod,
		Status:        DeriveStatus(in.PaidAmount, total),
		Notes:         in.Notes,
		UserID:        in.UserID,
		CreatedAt:     now,
		UpdatedAt:     now,
		Items:         items,
	}
	if err := s.InsertSale(ctx, sale); err != nil {
		return nil, err
	}

	for _, vid := range variantIDs(in.Items) {
		if err := s.DecrementStock(ctx, vid, requested[vid]); err != nil {
			return nil, err
		}
	}

	if outstanding.IsPositive() {
		if err := s.AdjustClientDebt(ctx, client.ID, client.DebtAmount, client.DebtAmount.Add(outstanding)); err != nil {
			return nil, err
		}
	}

	if in.PaidAmount.IsPositive() {
		saleID := sale.ID
		if err := s.AppendTransaction(ctx, &Transaction{
			Type:        TxSale,
			Amount:      in.PaidAmount,
			SaleID:      &saleID,
			ClientID:    in.ClientID,
			UserID:      in.UserID,
			Description: fmt.Sprintf("Sale %s", sale.ReceiptNumber),
			CreatedAt:   now,
		}); err != nil {
			return nil, err
		}
	}

	return sale, nil
}

// variantIDs returns the distinct variant ids of items in ascending order.
func variantIDs(items []SaleItemInput) []int64 {
	seen := make(map[int64]bool, len(items))
	ids := make([]int64, 0, len(items))
	for _, item := range items {
		if !seen[item.VariantID] {
			seen[item.VariantID] = true
			ids = append(ids, item.VariantID)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// lockSale reads the sale inside s, taking the client row first when the
// sale has one. The client id is looked up outside the transaction; it
// never changes once a sale exists.
func (l *Ledger) lockSale(ctx context.Context, s Store, saleID int64, clientID *int64) (*Sale, *Client, error) {
	var client *Client
	if clientID != nil {
		c, err := s.GetClient(ctx, *clientID)
		if err != nil {
			return nil, nil, err
		}
		client = c
	}
	sale, err := s.GetSale(ctx, saleID)
	if err != nil {
		return nil, nil, err
	}
	return sale, client, nil
}

// =============================================================================
// DEBT PAYMENT - Sale level
// =============================================================================

// PayDebt applies a payment against one sale's outstanding balance and
// reduces the client's aggregate debt by the same amount.
func (l *Ledger) PayDebt(ctx context.Context, saleID int64, amount decimal.Decimal, userID int64) (*Sale, error) {
	if !amount.IsPositive() {
		return nil, invalidPayment("payment amount must be positive")
	}
	if !HasMoneyScale(amount) {
		return nil, invalidInput("payment amount cannot have more than %d decimal places", MoneyScale)
	}
	ref, err := l.store.GetSale(ctx, saleID)
	if err != nil {
		return nil, err
	}

	var sale *Sale
	err = l.inTx(ctx, "pay_debt", func(s Store) error {
		current, client, err := l.lockSale(ctx, s, saleID, ref.ClientID)
		if err != nil {
			return err
		}
		switch current.Status {
		case StatusCancelled:
			return &InvalidStateError{Status: current.Status, Reason: "cannot pay debt for cancelled sale"}
		case StatusCompleted:
			return &InvalidStateError{Status: current.Status, Reason: "sale is already fully paid"}
		}

		remaining := current.Outstanding()
		if amount.GreaterThan(remaining) {
			return &ExceedsDebtError{Remaining: remaining, Requested: amount}
		}

		now := l.now()
		if err := l.applyPayment(ctx, s, current, amount, userID, now); err != nil {
			return err
		}

		if client != nil {
			if err := l.reduceDebt(ctx, s, client, amount); err != nil {
				return err
			}
		}
		sale = current
		return nil
	})
	if err != nil {
		return nil, err
	}

	l.logger.Info("debt payment applied",
		zap.Int64("sale_id", sale.ID),
		zap.String("amount", amount.String()),
		zap.String("status", string(sale.Status)),
	)
	return sale, nil
}

// applyPayment advances paid/status on sale (in place) and logs a debt_payment.
func (l *Ledger) applyPayment(ctx context.Context, s Store, sale *Sale, amount decimal.Decimal, userID int64, now time.Time) error {
	paid := sale.PaidAmount.Add(amount)
	status := DeriveStatus(paid, sale.TotalAmount)
	if err := s.UpdateSalePayment(ctx, sale.ID, sale.PaidAmount, paid, sale.Status, status); err != nil {
		return err
	}
	sale.PaidAmount = paid
	sale.Status = status
	sale.UpdatedAt = now

	saleID := sale.ID
	return s.AppendTransaction(ctx, &Transaction{
		Type:        TxDebtPayment,
		Amount:      amount,
		SaleID:      &saleID,
		ClientID:    sale.ClientID,
		UserID:      userID,
		Description: fmt.Sprintf("Debt payment for sale %s", sale.ReceiptNumber),
		CreatedAt:   now,
	})
}

// =============================================================================
// DEBT PAYMENT - Client level
// =============================================================================

// Allocation is the part of a client payment applied to one sale.
type Allocation struct {
	SaleID        int64
	ReceiptNumber string
	Amount        decimal.Decimal
	Status        Status
}

// ClientPayment is the result of PayClientDebt.
type ClientPayment struct {
	ClientID      int64
	PaymentAmount decimal.Decimal
	NewDebtAmount decimal.Decimal
	Allocations   []Allocation
	Unallocated   decimal.Decimal
}

// PayClientDebt takes a lump-sum payment from a client and settles their
// outstanding sales oldest first.
func (l *Ledger) PayClientDebt(ctx context.Context, clientID int64, amount decimal.Decimal, userID int64) (*ClientPayment, error) {
	if !amount.IsPositive() {
		return nil, invalidPayment("payment amount must be positive")
	}
	if !HasMoneyScale(amount) {
		return nil, invalidInput("payment amount cannot have more than %d decimal places", MoneyScale)
	}

	var result *ClientPayment
	err := l.inTx(ctx, "pay_client_debt", func(s Store) error {
		client, err := s.GetClient(ctx, clientID)
		if err != nil {
			return err
		}
		if amount.GreaterThan(client.DebtAmount) {
			return &ExceedsDebtError{Remaining: client.DebtAmount, Requested: amount}
		}

		outstanding, err := s.OutstandingSales(ctx, clientID)
		if err != nil {
			return err
		}

		now := l.now()
		left := amount
		res := &ClientPayment{ClientID: clientID, PaymentAmount: amount}
		for i := range outstanding {
			if !left.IsPositive() {
				break
			}
			sale := &outstanding[i]
			part := decimal.Min(left, sale.Outstanding())
			if !part.IsPositive() {
				continue
			}
			if err := l.applyPayment(ctx, s, sale, part, userID, now); err != nil {
				return err
			}
			res.Allocations = append(res.Allocations, Allocation{
				SaleID:        sale.ID,
				ReceiptNumber: sale.ReceiptNumber,
				Amount:        part,
				Status:        sale.Status,
			})
			left = left.Sub(part)
		}

		if left.IsPositive() {
			cid := clientID
			if err := s.AppendTransaction(ctx, &Transaction{
				Type:        TxDebtPayment,
				Amount:      left,
				ClientID:    &cid,
				UserID:      userID,
				Description: fmt.Sprintf("Debt payment of %s", left.StringFixed(2)),
				CreatedAt:   now,
			}); err != nil {
				return err
			}
		}

		next := client.DebtAmount.Sub(amount)
		if err := s.AdjustClientDebt(ctx, clientID, client.DebtAmount, next); err != nil {
			return err
		}
		res.NewDebtAmount = next
		res.Unallocated = left
		result = res
		return nil
	})
	if err != nil {
		return nil, err
	}

	l.logger.Info("client debt payment applied",
		zap.Int64("client_id", clientID),
		zap.String("amount", amount.String()),
		zap.Int("sales_touched", len(result.Allocations)),
		zap.String("new_debt", result.NewDebtAmount.String()),
	)
	return result, nil
}

// =============================================================================
// CANCELLATION
// =============================================================================

// CancelSale marks the sale cancelled, returns its stock, logs a refund of
// the full total and drops the sale's unpaid portion from the client's debt.
func (l *Ledger) CancelSale(ctx context.Context, saleID int64, userID int64) (*Sale, error) {
	ref, err := l.store.GetSale(ctx, saleID)
	if err != nil {
		return nil, err
	}

	var sale *Sale
	err = l.inTx(ctx, "cancel_sale", func(s Store) error {
		current, client, err := l.lockSale(ctx, s, saleID, ref.ClientID)
		if err != nil {
			return err
		}
		if current.Status == StatusCancelled {
			return &InvalidStateError{Status: current.Status, Reason: "sale is already cancelled"}
		}

		if err := s.UpdateSaleStatus(ctx, current.ID, current.Status, StatusCancelled); err != nil {
			return err
		}

		returned := make([]SaleItemInput, len(current.Items))
		qty := make(map[int64]int, len(current.Items))
		for i, item := range current.Items {
			returned[i] = SaleItemInput{VariantID: item.VariantID}
			qty[item.VariantID] += item.Quantity
		}
		for _, vid := range variantIDs(returned) {
			if err := s.IncrementStock(ctx, vid, qty[vid]); err != nil {
				return err
			}
		}

		now := l.now()
		id := current.ID
		if err := s.AppendTransaction(ctx, &Transaction{
			Type:        TxRefund,
			Amount:      current.TotalAmount.Neg(),
			SaleID:      &id,
			ClientID:    current.ClientID,
			UserID:      userID,
			Description: fmt.Sprintf("Refund for cancelled sale %s", current.ReceiptNumber),
			Reference:   "REF-" + current.ReceiptNumber,
			CreatedAt:   now,
		}); err != nil {
			return err
		}

		if outstanding := current.Outstanding(); client != nil && outstanding.IsPositive() {
			if err := l.reduceDebt(ctx, s, client, outstanding); err != nil {
				return err
			}
		}

		current.Status = StatusCancelled
		current.UpdatedAt = now
		sale = current
		return nil
	})
	if err != nil {
		return nil, err
	}

	l.logger.Info("sale cancelled",
		zap.Int64("sale_id", sale.ID),
		zap.String("receipt", sale.ReceiptNumber),
	)
	return sale, nil
}

// =============================================================================
// READS
// =============================================================================

// GetSale returns one sale with items.
func (l *Ledger) GetSale(ctx context.Context, id int64) (*Sale, error) {
	return l.store.GetSale(ctx, id)
}

// ListSales returns one page of sales, newest first.
func (l *Ledger) ListSales(ctx context.Context, filter SaleFilter) (Page[Sale], error) {
	if filter.Page < 1 {
		filter.Page = 1
	}
	if filter.Size <= 0 {
		filter.Size = DefaultPageSize
	}
	if filter.Size > MaxPageSize {
		filter.Size = MaxPageSize
	}
	items, total, err := l.store.ListSales(ctx, filter)
	if err != nil {
		return Page[Sale]{}, err
	}
	return Page[Sale]{Items: items, Page: filter.Page, Size: filter.Size, Total: total}, nil
}

// ClientDebts returns the client's sales that still owe money, newest first.
func (l *Ledger) ClientDebts(ctx context.Context, clientID int64) ([]Sale, error) {
	if _, err := l.store.GetClient(ctx, clientID); err != nil {
		return nil, err
	}
	outstanding, err := l.store.OutstandingSales(ctx, clientID)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(outstanding)-1; i < j; i, j = i+1, j-1 {
		outstanding[i], outstanding[j] = outstanding[j], outstanding[i]
	}
	return outstanding, nil
}

// Stats summarises non-cancelled sales.
type Stats struct {
	TotalSales     int
	TotalRevenue   decimal.Decimal
	AvgOrderValue  decimal.Decimal
	CompletedSales int
}

// SalesStats computes totals over sales created in [start, end].
// Cancelled sales are excluded.
func (l *Ledger) SalesStats(ctx context.Context, start, end *time.Time) (*Stats, error) {
	rows, _, err := l.store.ListSales(ctx, SaleFilter{Start: start, End: end})
	if err != nil {
		return nil, err
	}
	st := &Stats{TotalRevenue: decimal.Zero, AvgOrderValue: decimal.Zero}
	for _, sale := range rows {
		if sale.Status == StatusCancelled {
			continue
		}
		st.TotalSales++
		st.TotalRevenue = st.TotalRevenue.Add(sale.TotalAmount)
		if sale.Status == StatusCompleted {
			st.CompletedSales++
		}
	}
	if st.TotalSales > 0 {
		st.AvgOrderValue = st.TotalRevenue.Div(decimal.NewFromInt(int64(st.TotalSales))).Round(2)
	}
	return st, nil
}
