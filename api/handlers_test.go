/*
handlers_test.go - HTTP tests for the sale, client and catalog endpoints

Tests drive the full router (auth, middleware, envelope) against an
in-memory SQLite store.
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/retail-engine/auth"
	"github.com/warp/retail-engine/metrics"
	"github.com/warp/retail-engine/sales"
	"github.com/warp/retail-engine/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

type testServer struct {
	handler *Handler
	router  *chi.Mux
	store   *sqlite.Store
	token   string
}

func setupTestServer(t *testing.T) *testServer {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	ctx := context.Background()
	authSvc := auth.NewService(store, auth.NewTokenManager("test-secret", time.Hour, "retail-engine"), nil)
	require.NoError(t, authSvc.EnsureAdmin(ctx, "admin", "admin123"))

	h := NewHandler(store, sales.NewLedger(store), authSvc, metrics.New("test"), nil)
	ts := &testServer{handler: h, router: NewRouter(h, RouterOptions{}), store: store}
	ts.token = ts.login(t, "admin", "admin123")
	return ts
}

func (ts *testServer) login(t *testing.T, username, password string) string {
	t.Helper()
	rec := ts.do(t, http.MethodPost, "/api/auth/login", LoginRequest{Username: username, Password: password}, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var env struct {
		Data TokenDTO `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	return env.Data.AccessToken
}

func (ts *testServer) do(t *testing.T, method, path string, body any, token string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	return rec
}

// call performs an authenticated request and decodes the envelope's data into out.
func (ts *testServer) call(t *testing.T, method, path string, body, out any) (int, Envelope) {
	t.Helper()
	rec := ts.do(t, method, path, body, ts.token)
	var raw struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data"`
		Message string          `json:"message"`
		Errors  []string        `json:"errors"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &raw), rec.Body.String())
	if out != nil && len(raw.Data) > 0 {
		require.NoError(t, json.Unmarshal(raw.Data, out))
	}
	return rec.Code, Envelope{Success: raw.Success, Message: raw.Message, Errors: raw.Errors}
}

func (ts *testServer) seedVariant(t *testing.T, sku string, stock int, price string) VariantDTO {
	t.Helper()
	var p ProductDTO
	code, _ := ts.call(t, http.MethodPost, "/api/products", CreateProductRequest{SKU: "P-" + sku, Name: "Jacket"}, &p)
	require.Equal(t, http.StatusCreated, code)

	var v VariantDTO
	code, _ = ts.call(t, http.MethodPost, "/api/variants", CreateVariantRequest{
		ProductID: p.ID, SKU: sku, Price: decimal.RequireFromString(price), StockQuantity: stock, MinStockLevel: 1,
	}, &v)
	require.Equal(t, http.StatusCreated, code)
	return v
}

func (ts *testServer) seedClient(t *testing.T, name, phone string) ClientDTO {
	t.Helper()
	var c ClientDTO
	code, _ := ts.call(t, http.MethodPost, "/api/clients", ClientRequest{FirstName: name, Phone: phone}, &c)
	require.Equal(t, http.StatusCreated, code)
	return c
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// =============================================================================
// AUTH
// =============================================================================

func TestAPI_RequiresToken(t *testing.T) {
	ts := setupTestServer(t)

	rec := ts.do(t, http.MethodGet, "/api/sales", nil, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = ts.do(t, http.MethodGet, "/health", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/auth/login", LoginRequest{Username: "admin", Password: "wrong"}, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	var me UserDTO
	code, _ := ts.call(t, http.MethodGet, "/api/auth/me", nil, &me)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, auth.RoleAdmin, me.Role)
}

func TestAPI_LoginSetsCookie(t *testing.T) {
	ts := setupTestServer(t)
	rec := ts.do(t, http.MethodPost, "/api/auth/login", LoginRequest{Username: "admin", Password: "admin123"}, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var cookie *http.Cookie
	for _, c := range rec.Result().Cookies() {
		if c.Name == auth.CookieName {
			cookie = c
		}
	}
	require.NotNil(t, cookie)
	assert.True(t, cookie.HttpOnly)

	req := httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
	req.AddCookie(cookie)
	rec = httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAPI_CashierCannotEditCatalog(t *testing.T) {
	ts := setupTestServer(t)
	hash, err := auth.HashPassword("till")
	require.NoError(t, err)
	require.NoError(t, ts.store.CreateUser(context.Background(), &auth.User{
		Username: "cashier", PasswordHash: hash, Role: auth.RoleCashier, IsActive: true,
	}))
	token := ts.login(t, "cashier", "till")

	rec := ts.do(t, http.MethodPost, "/api/products", CreateProductRequest{SKU: "X", Name: "X"}, token)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/products", nil, token)
	assert.Equal(t, http.StatusOK, rec.Code)
}

// =============================================================================
// SALES
// =============================================================================

func TestAPI_SaleLifecycle(t *testing.T) {
	// GIVEN: A jacket variant with stock 10 and a client
	ts := setupTestServer(t)
	v := ts.seedVariant(t, "JKT-BLK-M", 10, "1000")
	c := ts.seedClient(t, "Aziza", "+998900000001")

	// WHEN: Selling 3x1000 + 1x500 with 2000 paid
	var sale SaleDTO
	code, env := ts.call(t, http.MethodPost, "/api/sales", CreateSaleRequest{
		ClientID:      &c.ID,
		PaymentMethod: "cash",
		PaidAmount:    dec("2000"),
		Items: []SaleItemRequest{
			{VariantID: v.ID, Quantity: 3, UnitPrice: dec("1000")},
			{VariantID: v.ID, Quantity: 1, UnitPrice: dec("500")},
		},
	}, &sale)

	// THEN: 201, partially paid, debt 1500
	require.Equal(t, http.StatusCreated, code, env.Message)
	assert.True(t, env.Success)
	assert.Equal(t, "partially_paid", sale.Status)
	assert.True(t, sale.TotalAmount.Equal(dec("3500")))
	assert.True(t, sale.DebtAmount.Equal(dec("1500")))
	assert.Regexp(t, `^RCP-\d{8}-[A-Z0-9]{8}$`, sale.ReceiptNumber)

	var client ClientDTO
	ts.call(t, http.MethodGet, fmt.Sprintf("/api/clients/%d", c.ID), nil, &client)
	assert.True(t, client.DebtAmount.Equal(dec("1500")))

	var debts []SaleDTO
	code, _ = ts.call(t, http.MethodGet, fmt.Sprintf("/api/sales/client/%d/debts", c.ID), nil, &debts)
	require.Equal(t, http.StatusOK, code)
	require.Len(t, debts, 1)

	// WHEN: Paying the remaining 1500
	code, _ = ts.call(t, http.MethodPost, fmt.Sprintf("/api/sales/%d/pay-debt", sale.ID), PayDebtRequest{PaymentAmount: dec("1500")}, &sale)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "completed", sale.Status)

	// THEN: A further payment is a conflict
	code, env = ts.call(t, http.MethodPost, fmt.Sprintf("/api/sales/%d/pay-debt", sale.ID), PayDebtRequest{PaymentAmount: dec("1")}, nil)
	assert.Equal(t, http.StatusConflict, code)
	assert.False(t, env.Success)
	assert.Equal(t, "sale is already fully paid", env.Message)

	// WHEN: Cancelling, then cancelling again
	code, _ = ts.call(t, http.MethodPatch, fmt.Sprintf("/api/sales/%d/cancel", sale.ID), nil, &sale)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "cancelled", sale.Status)
	code, _ = ts.call(t, http.MethodPatch, fmt.Sprintf("/api/sales/%d/cancel", sale.ID), nil, nil)
	assert.Equal(t, http.StatusConflict, code)

	// THEN: Stock is back and history ends with the refund
	var got VariantDTO
	ts.call(t, http.MethodGet, fmt.Sprintf("/api/variants/%d", v.ID), nil, &got)
	assert.Equal(t, 10, got.StockQuantity)

	var history []DebtHistoryDTO
	code, _ = ts.call(t, http.MethodGet, fmt.Sprintf("/api/sales/client/%d/debt-history", c.ID), nil, &history)
	require.Equal(t, http.StatusOK, code)
	require.Len(t, history, 3)
	assert.Equal(t, "refund", history[2].Type)
	assert.True(t, history[1].Balance.Equal(dec("500")))
}

func TestAPI_CreateSaleWireFormat(t *testing.T) {
	// GIVEN: A variant and a client
	ts := setupTestServer(t)
	v := ts.seedVariant(t, "WIRE", 5, "250")
	c := ts.seedClient(t, "Wire", "+998900000099")

	// WHEN: Posting a hand-written body with numeric and string amounts
	body := json.RawMessage(fmt.Sprintf(`{
		"client_id": %d,
		"payment_method": "card",
		"paid_amount": 100,
		"items": [
			{"product_variant_id": %d, "quantity": 2, "unit_price": "250.00"}
		]
	}`, c.ID, v.ID))
	rec := ts.do(t, http.MethodPost, "/api/sales", body, ts.token)

	// THEN: The sale is created and items echo the same key
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var env struct {
		Data struct {
			TotalAmount string           `json:"total_amount"`
			DebtAmount  string           `json:"debt_amount"`
			Items       []map[string]any `json:"items"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	assert.Equal(t, "500", env.Data.TotalAmount)
	assert.Equal(t, "400", env.Data.DebtAmount)
	require.Len(t, env.Data.Items, 1)
	assert.EqualValues(t, v.ID, env.Data.Items[0]["product_variant_id"])

	// AND: Sub-cent prices are rejected
	body = json.RawMessage(fmt.Sprintf(`{"payment_method": "cash", "paid_amount": 0.999,
		"items": [{"product_variant_id": %d, "quantity": 3, "unit_price": 0.333}]}`, v.ID))
	rec = ts.do(t, http.MethodPost, "/api/sales", body, ts.token)
	assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
}

func TestAPI_CreateSaleErrors(t *testing.T) {
	ts := setupTestServer(t)
	v := ts.seedVariant(t, "TEE", 2, "500")

	tests := []struct {
		name    string
		req     CreateSaleRequest
		status  int
		message string
	}{
		{
			name:    "insufficient stock",
			req:     CreateSaleRequest{PaymentMethod: "cash", PaidAmount: dec("2500"), Items: []SaleItemRequest{{VariantID: v.ID, Quantity: 5, UnitPrice: dec("500")}}},
			status:  http.StatusBadRequest,
			message: "insufficient stock for product variant TEE",
		},
		{
			name:    "unknown variant",
			req:     CreateSaleRequest{PaymentMethod: "cash", Items: []SaleItemRequest{{VariantID: 999, Quantity: 1, UnitPrice: dec("1")}}},
			status:  http.StatusNotFound,
			message: "Product variant with ID 999 not found",
		},
		{
			name:    "unknown client",
			req:     CreateSaleRequest{ClientID: ptr(int64(77)), PaymentMethod: "cash", Items: []SaleItemRequest{{VariantID: v.ID, Quantity: 1, UnitPrice: dec("500")}}},
			status:  http.StatusNotFound,
			message: "Client with ID 77 not found",
		},
		{
			name:    "overpayment",
			req:     CreateSaleRequest{PaymentMethod: "cash", PaidAmount: dec("501"), Items: []SaleItemRequest{{VariantID: v.ID, Quantity: 1, UnitPrice: dec("500")}}},
			status:  http.StatusBadRequest,
			message: "paid amount cannot exceed total amount",
		},
		{
			name:   "no items",
			req:    CreateSaleRequest{PaymentMethod: "cash"},
			status: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, env := ts.call(t, http.MethodPost, "/api/sales", tt.req, nil)
			assert.Equal(t, tt.status, code)
			assert.False(t, env.Success)
			if tt.message != "" {
				assert.Contains(t, env.Message, tt.message)
			}
		})
	}

	// Stock untouched by every failure above
	var got VariantDTO
	ts.call(t, http.MethodGet, fmt.Sprintf("/api/variants/%d", v.ID), nil, &got)
	assert.Equal(t, 2, got.StockQuantity)
}

func TestAPI_PayDebtExceeds(t *testing.T) {
	ts := setupTestServer(t)
	v := ts.seedVariant(t, "JNS", 5, "750")
	c := ts.seedClient(t, "Bekzod", "+998900000002")

	var sale SaleDTO
	code, _ := ts.call(t, http.MethodPost, "/api/sales", CreateSaleRequest{
		ClientID: &c.ID, PaymentMethod: "card", PaidAmount: dec("0"),
		Items: []SaleItemRequest{{VariantID: v.ID, Quantity: 1, UnitPrice: dec("750")}},
	}, &sale)
	require.Equal(t, http.StatusCreated, code)
	assert.Equal(t, "debt", sale.Status)

	code, env := ts.call(t, http.MethodPost, fmt.Sprintf("/api/sales/%d/pay-debt", sale.ID), PayDebtRequest{PaymentAmount: dec("800")}, nil)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Contains(t, env.Message, "Remaining debt: 750.00")

	code, _ = ts.call(t, http.MethodPost, "/api/sales/999/pay-debt", PayDebtRequest{PaymentAmount: dec("1")}, nil)
	assert.Equal(t, http.StatusNotFound, code)

	rec := ts.do(t, http.MethodPost, "/api/sales/abc/pay-debt", PayDebtRequest{PaymentAmount: dec("1")}, ts.token)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAPI_ClientDebtPayment(t *testing.T) {
	// GIVEN: Two unpaid sales of 750 and 500
	ts := setupTestServer(t)
	jeans := ts.seedVariant(t, "JNS-32", 5, "750")
	tee := ts.seedVariant(t, "TEE-S", 5, "500")
	c := ts.seedClient(t, "Farrukh", "+998900000004")
	for _, v := range []VariantDTO{jeans, tee} {
		code, _ := ts.call(t, http.MethodPost, "/api/sales", CreateSaleRequest{
			ClientID: &c.ID, PaymentMethod: "cash", PaidAmount: dec("0"),
			Items: []SaleItemRequest{{VariantID: v.ID, Quantity: 1, UnitPrice: v.Price}},
		}, nil)
		require.Equal(t, http.StatusCreated, code)
	}

	// WHEN: Paying 1000 at client level
	var res ClientPaymentDTO
	code, _ := ts.call(t, http.MethodPost, "/api/sales/debt-payment", ClientDebtPaymentRequest{ClientID: c.ID, PaymentAmount: dec("1000")}, &res)

	// THEN: The older sale is cleared, 250 lands on the newer one
	require.Equal(t, http.StatusOK, code)
	require.Len(t, res.Allocations, 2)
	assert.Equal(t, "completed", res.Allocations[0].Status)
	assert.True(t, res.Allocations[1].Amount.Equal(dec("250")))
	assert.True(t, res.NewDebtAmount.Equal(dec("250")))

	code, _ = ts.call(t, http.MethodPost, "/api/sales/debt-payment", ClientDebtPaymentRequest{ClientID: c.ID, PaymentAmount: dec("251")}, nil)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestAPI_ListSalesAndStats(t *testing.T) {
	ts := setupTestServer(t)
	v := ts.seedVariant(t, "SOCK", 50, "100")
	for i := 0; i < 12; i++ {
		method := "cash"
		if i%3 == 0 {
			method = "card"
		}
		code, _ := ts.call(t, http.MethodPost, "/api/sales", CreateSaleRequest{
			PaymentMethod: method, PaidAmount: dec("100"),
			Items: []SaleItemRequest{{VariantID: v.ID, Quantity: 1, UnitPrice: dec("100")}},
		}, nil)
		require.Equal(t, http.StatusCreated, code)
	}

	var page ListDTO[SaleDTO]
	code, _ := ts.call(t, http.MethodGet, "/api/sales?page=2&size=5", nil, &page)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, page.Items, 5)
	assert.Equal(t, PaginationDTO{Page: 2, Size: 5, Total: 12, Pages: 3}, page.Pagination)

	code, _ = ts.call(t, http.MethodGet, "/api/sales?payment_method=card", nil, &page)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 4, page.Pagination.Total)

	code, _ = ts.call(t, http.MethodGet, "/api/sales?status=bogus", nil, nil)
	assert.Equal(t, http.StatusBadRequest, code)

	var stats StatsDTO
	code, _ = ts.call(t, http.MethodGet, "/api/sales/stats", nil, &stats)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 12, stats.TotalSales)
	assert.True(t, stats.TotalRevenue.Equal(dec("1200")))
	assert.True(t, stats.AvgOrderValue.Equal(dec("100")))

	code, _ = ts.call(t, http.MethodGet, "/api/sales/stats?start_date=not-a-date", nil, nil)
	assert.Equal(t, http.StatusBadRequest, code)
}

// =============================================================================
// CATALOG AND CLIENTS
// =============================================================================

func TestAPI_StockAdjustmentAndLowStock(t *testing.T) {
	ts := setupTestServer(t)
	v := ts.seedVariant(t, "CAP", 3, "50")

	var got VariantDTO
	code, _ := ts.call(t, http.MethodPost, fmt.Sprintf("/api/variants/%d/stock", v.ID), StockAdjustmentRequest{Delta: -2}, &got)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 1, got.StockQuantity)
	assert.True(t, got.LowStock)

	code, _ = ts.call(t, http.MethodPost, fmt.Sprintf("/api/variants/%d/stock", v.ID), StockAdjustmentRequest{Delta: -5}, nil)
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = ts.call(t, http.MethodPost, fmt.Sprintf("/api/variants/%d/stock", v.ID), StockAdjustmentRequest{Delta: 0}, nil)
	assert.Equal(t, http.StatusBadRequest, code)

	var low []VariantDTO
	code, _ = ts.call(t, http.MethodGet, "/api/variants?low_stock=true", nil, &low)
	require.Equal(t, http.StatusOK, code)
	require.Len(t, low, 1)
	assert.Equal(t, v.ID, low[0].ID)
}

func TestAPI_Clients(t *testing.T) {
	ts := setupTestServer(t)
	c := ts.seedClient(t, "Dilnoza", "+998900000003")

	code, _ := ts.call(t, http.MethodPost, "/api/clients", ClientRequest{FirstName: "Other", Phone: "+998900000003"}, nil)
	assert.Equal(t, http.StatusConflict, code)

	code, _ = ts.call(t, http.MethodPost, "/api/clients", ClientRequest{}, nil)
	assert.Equal(t, http.StatusBadRequest, code)

	var updated ClientDTO
	code, _ = ts.call(t, http.MethodPut, fmt.Sprintf("/api/clients/%d", c.ID), ClientRequest{FirstName: "Dilnoza", LastName: "R.", Phone: "+998900000003"}, &updated)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "Dilnoza R.", updated.FullName)
	assert.True(t, updated.DebtAmount.IsZero())

	var page ListDTO[ClientDTO]
	code, _ = ts.call(t, http.MethodGet, "/api/clients?search=diln", nil, &page)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 1, page.Pagination.Total)

	code, _ = ts.call(t, http.MethodGet, "/api/clients/999", nil, nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestErrorStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{&sales.NotFoundError{Entity: sales.EntitySale, ID: 1}, http.StatusNotFound},
		{&sales.InsufficientStockError{VariantID: 1}, http.StatusBadRequest},
		{&sales.ExceedsDebtError{}, http.StatusBadRequest},
		{&sales.InvalidStateError{Status: sales.StatusCancelled}, http.StatusConflict},
		{sales.ErrConcurrentModification, http.StatusConflict},
		{sales.ErrDuplicatePhone, http.StatusConflict},
		{auth.ErrInvalidCredentials, http.StatusUnauthorized},
		{fmt.Errorf("disk on fire"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, errorStatus(tt.err), tt.err.Error())
	}
}

func ptr[T any](v T) *T { return &v }
