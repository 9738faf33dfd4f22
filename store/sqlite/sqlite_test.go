package sqlite_test

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/retail-engine/auth"
	"github.com/warp/retail-engine/sales"
	"github.com/warp/retail-engine/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestStore(t *testing.T) *sqlite.Store {
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func seedVariant(t *testing.T, store *sqlite.Store, sku string, stock int) *sales.Variant {
	ctx := context.Background()
	p := &sales.Product{SKU: "P-" + sku, Name: "Jacket", Brand: "North", IsActive: true}
	require.NoError(t, store.CreateProduct(ctx, p))
	cost := decimal.RequireFromString("40.25")
	v := &sales.Variant{
		ProductID:     p.ID,
		SKU:           sku,
		Color:         "red",
		Size:          "L",
		Price:         decimal.RequireFromString("99.90"),
		CostPrice:     &cost,
		StockQuantity: stock,
		MinStockLevel: 2,
		IsActive:      true,
	}
	require.NoError(t, store.CreateVariant(ctx, v))
	return v
}

func seedClient(t *testing.T, store *sqlite.Store, phone string) *sales.Client {
	c := &sales.Client{FirstName: "Ann", LastName: "Lee", Phone: phone, IsActive: true}
	require.NoError(t, store.CreateClient(context.Background(), c))
	return c
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// =============================================================================
// CATALOG
// =============================================================================

func TestVariant_RoundTrip(t *testing.T) {
	store := newTestStore(t)
	v := seedVariant(t, store, "JKT-RED-L", 5)

	got, err := store.GetVariant(context.Background(), v.ID)
	require.NoError(t, err)
	assert.Equal(t, "JKT-RED-L", got.SKU)
	assert.True(t, got.Price.Equal(dec("99.90")))
	require.NotNil(t, got.CostPrice)
	assert.True(t, got.CostPrice.Equal(dec("40.25")))
	assert.Equal(t, 5, got.StockQuantity)
}

func TestVariant_DuplicateSKU(t *testing.T) {
	store := newTestStore(t)
	v := seedVariant(t, store, "DUP", 1)

	err := store.CreateVariant(context.Background(), &sales.Variant{ProductID: v.ProductID, SKU: "DUP", Price: dec("1")})
	assert.ErrorIs(t, err, sales.ErrDuplicateSKU)
}

func TestListVariants_LowStock(t *testing.T) {
	store := newTestStore(t)
	seedVariant(t, store, "A", 10)
	low := seedVariant(t, store, "B", 2)

	out, err := store.ListVariants(context.Background(), sales.VariantFilter{LowStock: true})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, low.ID, out[0].ID)
}

func TestDecrementStock_Guarded(t *testing.T) {
	// GIVEN: Variant with stock 3
	store := newTestStore(t)
	ctx := context.Background()
	v := seedVariant(t, store, "G", 3)

	// WHEN: Taking 2 then 2 again
	require.NoError(t, store.DecrementStock(ctx, v.ID, 2))
	err := store.DecrementStock(ctx, v.ID, 2)

	// THEN: Second is refused and stock stays at 1
	var stockErr *sales.InsufficientStockError
	require.ErrorAs(t, err, &stockErr)
	assert.Equal(t, 1, stockErr.Available)
	got, err := store.GetVariant(ctx, v.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.StockQuantity)

	assert.True(t, sales.IsNotFound(store.DecrementStock(ctx, 999, 1)))
}

// =============================================================================
// CLIENTS
// =============================================================================

func TestClient_PhoneUniqueAndDebtCAS(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	c := seedClient(t, store, "+998901112233")

	err := store.CreateClient(ctx, &sales.Client{FirstName: "Bo", Phone: "+998901112233"})
	assert.ErrorIs(t, err, sales.ErrDuplicatePhone)

	// Clients without phone don't collide.
	require.NoError(t, store.CreateClient(ctx, &sales.Client{FirstName: "No"}))
	require.NoError(t, store.CreateClient(ctx, &sales.Client{FirstName: "Phone"}))

	require.NoError(t, store.AdjustClientDebt(ctx, c.ID, decimal.Zero, dec("120.50")))
	err = store.AdjustClientDebt(ctx, c.ID, decimal.Zero, dec("1"))
	assert.ErrorIs(t, err, sales.ErrConcurrentModification)

	got, err := store.GetClient(ctx, c.ID)
	require.NoError(t, err)
	assert.True(t, got.DebtAmount.Equal(dec("120.50")))
}

func TestUpdateClient_KeepsDebt(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	c := seedClient(t, store, "+1")
	require.NoError(t, store.AdjustClientDebt(ctx, c.ID, decimal.Zero, dec("50")))

	upd := &sales.Client{ID: c.ID, FirstName: "Anna", Phone: "+2", DebtAmount: decimal.Zero, IsActive: true}
	require.NoError(t, store.UpdateClient(ctx, upd))

	assert.Equal(t, "Anna", upd.FirstName)
	assert.True(t, upd.DebtAmount.Equal(dec("50")))

	page, total, err := store.ListClients(ctx, sales.ClientFilter{HasDebt: true})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, c.ID, page[0].ID)

	_, total, err = store.ListClients(ctx, sales.ClientFilter{Search: "ann"})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

func TestWithTx_RollsBackOnError(t *testing.T) {
	// GIVEN: Variant stock 5
	store := newTestStore(t)
	ctx := context.Background()
	v := seedVariant(t, store, "TX", 5)
	boom := errors.New("boom")

	// WHEN: A transaction decrements, inserts a sale, then fails
	err := store.WithTx(ctx, func(s sales.Store) error {
		require.NoError(t, s.DecrementStock(ctx, v.ID, 5))
		require.NoError(t, s.InsertSale(ctx, &sales.Sale{
			ReceiptNumber: "RCP-20250101-ROLLBACK",
			TotalAmount:   dec("10"),
			PaidAmount:    dec("10"),
			PaymentMethod: sales.PaymentCash,
			Status:        sales.StatusCompleted,
		}))
		return boom
	})

	// THEN: Nothing persisted
	assert.ErrorIs(t, err, boom)
	got, err := store.GetVariant(ctx, v.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, got.StockQuantity)
	_, total, err := store.ListSales(ctx, sales.SaleFilter{})
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestInsertSale_DuplicateReceipt(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	sale := func() *sales.Sale {
		return &sales.Sale{
			ReceiptNumber: "RCP-20250101-SAME0000",
			TotalAmount:   dec("1"),
			PaidAmount:    dec("1"),
			PaymentMethod: sales.PaymentCash,
			Status:        sales.StatusCompleted,
		}
	}
	require.NoError(t, store.InsertSale(ctx, sale()))
	assert.ErrorIs(t, store.InsertSale(ctx, sale()), sales.ErrDuplicateReceipt)
}

func TestSalePayment_CAS(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	v := seedVariant(t, store, "CAS", 5)
	s := &sales.Sale{
		ReceiptNumber: "RCP-20250101-CAS00000",
		TotalAmount:   dec("300"),
		PaidAmount:    dec("100"),
		PaymentMethod: sales.PaymentCard,
		Status:        sales.StatusPartiallyPaid,
		Items: []sales.SaleItem{
			{VariantID: v.ID, Quantity: 3, UnitPrice: dec("100"), TotalPrice: dec("300")},
		},
	}
	require.NoError(t, store.InsertSale(ctx, s))
	require.NotZero(t, s.Items[0].ID)

	require.NoError(t, store.UpdateSalePayment(ctx, s.ID, dec("100"), dec("300"), sales.StatusPartiallyPaid, sales.StatusCompleted))
	err := store.UpdateSalePayment(ctx, s.ID, dec("100"), dec("200"), sales.StatusPartiallyPaid, sales.StatusPartiallyPaid)
	assert.ErrorIs(t, err, sales.ErrConcurrentModification)

	err = store.UpdateSaleStatus(ctx, 999, sales.StatusDebt, sales.StatusCancelled)
	assert.True(t, sales.IsNotFound(err))

	got, err := store.GetSale(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, sales.StatusCompleted, got.Status)
	require.Len(t, got.Items, 1)
	assert.True(t, got.Items[0].TotalPrice.Equal(dec("300")))
}

// =============================================================================
// LEDGER ON SQLITE
// =============================================================================

func TestLedger_EndToEnd(t *testing.T) {
	// GIVEN: Variant stock 10, client with no debt
	store := newTestStore(t)
	ctx := context.Background()
	ledger := sales.NewLedger(store)
	v := seedVariant(t, store, "E2E", 10)
	c := seedClient(t, store, "+7")
	clientID := c.ID

	// WHEN: 3x1000 + 1x500, 2000 paid; then the rest paid; then cancelled
	sale, err := ledger.CreateSale(ctx, sales.CreateSaleInput{
		ClientID:      &clientID,
		PaymentMethod: sales.PaymentCash,
		PaidAmount:    dec("2000"),
		UserID:        1,
		Items: []sales.SaleItemInput{
			{VariantID: v.ID, Quantity: 3, UnitPrice: dec("1000")},
			{VariantID: v.ID, Quantity: 1, UnitPrice: dec("500")},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, sales.StatusPartiallyPaid, sale.Status)

	debts, err := ledger.ClientDebts(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, debts, 1)

	paid, err := ledger.PayDebt(ctx, sale.ID, dec("1500"), 1)
	require.NoError(t, err)
	assert.Equal(t, sales.StatusCompleted, paid.Status)

	_, err = ledger.PayDebt(ctx, sale.ID, dec("1"), 1)
	assert.ErrorIs(t, err, sales.ErrInvalidState)

	_, err = ledger.CancelSale(ctx, sale.ID, 1)
	require.NoError(t, err)

	// THEN: Stock restored, debt zero, history sale/payment/refund
	got, err := store.GetVariant(ctx, v.ID)
	require.NoError(t, err)
	assert.Equal(t, 10, got.StockQuantity)

	cl, err := store.GetClient(ctx, c.ID)
	require.NoError(t, err)
	assert.True(t, cl.DebtAmount.IsZero())

	history, err := ledger.DebtHistory(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, sales.TxSale, history[0].Type)
	assert.Equal(t, sales.TxDebtPayment, history[1].Type)
	assert.Equal(t, sales.TxRefund, history[2].Type)
	assert.True(t, history[2].Balance.Equal(dec("500")))
}

func TestLedger_ConcurrentSalesOnFile(t *testing.T) {
	// GIVEN: A file-backed store with stock 3
	store, err := sqlite.New(filepath.Join(t.TempDir(), "retail.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	ledger := sales.NewLedger(store)
	v := seedVariant(t, store, "RACE", 3)

	// WHEN: 10 concurrent single-unit sales
	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_, err := ledger.CreateSale(ctx, sales.CreateSaleInput{
				PaymentMethod: sales.PaymentCash,
				PaidAmount:    dec("99.90"),
				Items:         []sales.SaleItemInput{{VariantID: v.ID, Quantity: 1, UnitPrice: dec("99.90")}},
			})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	// THEN: 3 succeed, the rest are stock errors, stock is 0
	ok := 0
	for err := range errs {
		if err == nil {
			ok++
			continue
		}
		assert.ErrorIs(t, err, sales.ErrInsufficientStock)
	}
	assert.Equal(t, 3, ok)
	got, err := store.GetVariant(context.Background(), v.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.StockQuantity)
}

// =============================================================================
// USERS
// =============================================================================

func TestUsers(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	n, err := store.CountUsers(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	u := &auth.User{Username: "admin", PasswordHash: "x", Role: auth.RoleAdmin, IsActive: true}
	require.NoError(t, store.CreateUser(ctx, u))
	assert.ErrorIs(t, store.CreateUser(ctx, &auth.User{Username: "admin", PasswordHash: "y", Role: auth.RoleCashier}), auth.ErrDuplicateUsername)

	got, err := store.GetUserByUsername(ctx, "admin")
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)
	assert.Equal(t, auth.RoleAdmin, got.Role)

	_, err = store.GetUser(ctx, 404)
	assert.ErrorIs(t, err, auth.ErrUserNotFound)
}

func TestReset_KeepsUsers(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedVariant(t, store, "R", 1)
	require.NoError(t, store.CreateUser(ctx, &auth.User{Username: "u", PasswordHash: "h", Role: auth.RoleCashier}))

	require.NoError(t, store.Reset(ctx))

	products, err := store.ListProducts(ctx)
	require.NoError(t, err)
	assert.Empty(t, products)
	n, err := store.CountUsers(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
