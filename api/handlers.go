/*
handlers.go - HTTP API handlers for the retail back office

PURPOSE:
  Exposes the sale ledger, catalog and client book via REST API. Handles
  HTTP request/response and JSON serialization, and delegates to the
  sales package for every rule.

ENDPOINTS:
  Sales:
    POST   /api/sales                          Create sale
    GET    /api/sales                          List sales (filters, pages)
    GET    /api/sales/stats                    Totals over a date range
    GET    /api/sales/{id}                     Sale with items
    POST   /api/sales/{id}/pay-debt            Pay against one sale
    PATCH  /api/sales/{id}/cancel              Cancel, restock, refund
    POST   /api/sales/debt-payment             Client-level payment
    GET    /api/sales/client/{id}/debt-history Running debt balance
    GET    /api/sales/client/{id}/debts        Sales still owing

  Clients, products, variants: see server.go

ERROR HANDLING:
  Errors are returned in the envelope with an HTTP status taken from the
  sales error category:
  - 400: Invalid input, invalid payment, insufficient stock, exceeds debt
  - 404: Resource not found
  - 409: Invalid state, duplicates, lost concurrent update
  - 500: Anything else (details logged, not returned)

SEE ALSO:
  - dto.go: Request/response data structures
  - handlers_catalog.go: Products, variants, clients
  - handlers_auth.go: Login/logout
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/warp/retail-engine/auth"
	"github.com/warp/retail-engine/logger"
	"github.com/warp/retail-engine/metrics"
	"github.com/warp/retail-engine/sales"
	"go.uber.org/zap"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Store is everything the handlers need from a backend. Both store/sqlite
// and store/postgres satisfy it.
type Store interface {
	sales.TxStore
	sales.Catalog
	sales.Clients
	Ping(ctx context.Context) error
	Reset(ctx context.Context) error
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store   Store
	Ledger  *sales.Ledger
	Auth    *auth.Service
	Metrics *metrics.Metrics
	Logger  *zap.Logger

	// SecureCookies marks the auth cookie Secure (production behind TLS).
	SecureCookies bool

	// Track currently loaded scenario. scenarioMu also serialises
	// loads and resets.
	scenarioMu      sync.Mutex
	currentScenario string
}

// NewHandler creates a handler. metrics and logger may be nil.
func NewHandler(store Store, ledger *sales.Ledger, authSvc *auth.Service, m *metrics.Metrics, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	if m == nil {
		m = metrics.New("retail")
	}
	return &Handler{Store: store, Ledger: ledger, Auth: authSvc, Metrics: m, Logger: log}
}

// =============================================================================
// SALE HANDLERS
// =============================================================================

// CreateSale rings up a sale.
func (h *Handler) CreateSale(w http.ResponseWriter, r *http.Request) {
	var req CreateSaleRequest
	if !decode(w, r, &req) {
		return
	}

	in := sales.CreateSaleInput{
		ClientID:      req.ClientID,
		PaymentMethod: sales.PaymentMethod(req.PaymentMethod),
		PaidAmount:    req.PaidAmount,
		Notes:         req.Notes,
		UserID:        auth.UserIDFromContext(r.Context()),
		Items:         make([]sales.SaleItemInput, len(req.Items)),
	}
	for i, it := range req.Items {
		in.Items[i] = sales.SaleItemInput{VariantID: it.VariantID, Quantity: it.Quantity, UnitPrice: it.UnitPrice}
	}

	sale, err := h.Ledger.CreateSale(r.Context(), in)
	if err != nil {
		if errors.Is(err, sales.ErrInsufficientStock) {
			h.Metrics.StockRejections.Inc()
		}
		h.writeError(w, r, err)
		return
	}

	h.Metrics.SalesCreated.WithLabelValues(string(sale.Status)).Inc()
	h.Metrics.SaleRevenue.Add(sale.TotalAmount.InexactFloat64())
	writeJSON(w, http.StatusCreated, toSaleDTO(*sale), "Sale created successfully")
}

// ListSales returns one page of sales, newest first.
func (h *Handler) ListSales(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := sales.SaleFilter{
		PaymentMethod: sales.PaymentMethod(q.Get("payment_method")),
		Status:        sales.Status(q.Get("status")),
	}
	var err error
	if filter.ClientID, err = optionalID(q.Get("client_id")); err != nil {
		h.writeError(w, r, err)
		return
	}
	if filter.Start, filter.End, err = dateRange(q.Get("start_date"), q.Get("end_date")); err != nil {
		h.writeError(w, r, err)
		return
	}
	if filter.Status != "" && !filter.Status.Valid() {
		h.writeError(w, r, fmt.Errorf("%w: unknown status %q", sales.ErrInvalidInput, filter.Status))
		return
	}
	filter.Page, filter.Size = pageParams(r)

	page, err := h.Ledger.ListSales(r.Context(), filter)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toList(page, toSaleDTO), "")
}

// SalesStats summarises sales in an optional date range.
func (h *Handler) SalesStats(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	start, end, err := dateRange(q.Get("start_date"), q.Get("end_date"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	st, err := h.Ledger.SalesStats(r.Context(), start, end)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, StatsDTO{
		TotalSales:     st.TotalSales,
		TotalRevenue:   st.TotalRevenue,
		AvgOrderValue:  st.AvgOrderValue,
		CompletedSales: st.CompletedSales,
	}, "")
}

// GetSale returns one sale with its items.
func (h *Handler) GetSale(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	sale, err := h.Ledger.GetSale(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSaleDTO(*sale), "")
}

// PayDebt applies a payment to one sale.
func (h *Handler) PayDebt(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	var req PayDebtRequest
	if !decode(w, r, &req) {
		return
	}

	sale, err := h.Ledger.PayDebt(r.Context(), id, req.PaymentAmount, auth.UserIDFromContext(r.Context()))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.Metrics.DebtPayments.WithLabelValues("sale").Inc()
	h.Metrics.DebtCollected.Add(req.PaymentAmount.InexactFloat64())
	writeJSON(w, http.StatusOK, toSaleDTO(*sale), "Debt payment successful")
}

// CancelSale cancels a sale and returns its stock.
func (h *Handler) CancelSale(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	sale, err := h.Ledger.CancelSale(r.Context(), id, auth.UserIDFromContext(r.Context()))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.Metrics.SalesCancelled.Inc()
	writeJSON(w, http.StatusOK, toSaleDTO(*sale), "Sale cancelled successfully")
}

// PayClientDebt takes a lump sum from a client and settles oldest sales first.
func (h *Handler) PayClientDebt(w http.ResponseWriter, r *http.Request) {
	var req ClientDebtPaymentRequest
	if !decode(w, r, &req) {
		return
	}

	res, err := h.Ledger.PayClientDebt(r.Context(), req.ClientID, req.PaymentAmount, auth.UserIDFromContext(r.Context()))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.Metrics.DebtPayments.WithLabelValues("client").Inc()
	h.Metrics.DebtCollected.Add(req.PaymentAmount.InexactFloat64())
	writeJSON(w, http.StatusOK, toClientPaymentDTO(res), "Debt payment successful")
}

// ClientDebtHistory replays the client's money movements with a running balance.
func (h *Handler) ClientDebtHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	entries, err := h.Ledger.DebtHistory(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	out := make([]DebtHistoryDTO, len(entries))
	for i, e := range entries {
		out[i] = DebtHistoryDTO{ID: e.TransactionID, Type: string(e.Type), Amount: e.Amount, Balance: e.Balance, CreatedAt: e.CreatedAt}
	}
	writeJSON(w, http.StatusOK, out, "")
}

// ClientDebts lists the client's sales that still owe money.
func (h *Handler) ClientDebts(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	list, err := h.Ledger.ClientDebts(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSaleDTOs(list), "")
}

// Health reports liveness and database reachability.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.Ping(r.Context()); err != nil {
		h.Logger.Error("health check failed", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"}, "database unreachable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"}, "")
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(Envelope{Success: status < 400, Data: data, Message: message})
}

func writeFailure(w http.ResponseWriter, status int, message string, details ...string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(Envelope{Success: false, Message: message, Errors: details})
}

// errorStatus maps a domain error to its HTTP status.
func errorStatus(err error) int {
	switch {
	case sales.IsNotFound(err), errors.Is(err, auth.ErrUserNotFound):
		return http.StatusNotFound
	case sales.IsClientError(err):
		return http.StatusBadRequest
	case sales.IsConflict(err), errors.Is(err, auth.ErrDuplicateUsername):
		return http.StatusConflict
	case errors.Is(err, auth.ErrInvalidCredentials), errors.Is(err, auth.ErrInvalidToken):
		return http.StatusUnauthorized
	case errors.Is(err, auth.ErrInactiveUser):
		return http.StatusForbidden
	}
	return http.StatusInternalServerError
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := errorStatus(err)
	if status == http.StatusInternalServerError {
		logger.FromContext(r.Context(), h.Logger).Error("request failed",
			zap.String("path", r.URL.Path), zap.Error(err))
		writeFailure(w, status, "Internal server error")
		return
	}
	writeFailure(w, status, errorMessage(err))
}

// errorMessage is the human text for a client-facing error. Structured
// errors carry their own wording; wrapped sentinels keep the detail.
func errorMessage(err error) string {
	var (
		nf    *sales.NotFoundError
		stock *sales.InsufficientStockError
		debt  *sales.ExceedsDebtError
		state *sales.InvalidStateError
	)
	switch {
	case errors.As(err, &nf):
		return nf.Error()
	case errors.As(err, &stock):
		return stock.Error()
	case errors.As(err, &debt):
		return debt.Error()
	case errors.As(err, &state):
		return state.Error()
	}
	return err.Error()
}

// decode reads a JSON body, writing a 400 on failure.
func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeFailure(w, http.StatusBadRequest, "Invalid request body", err.Error())
		return false
	}
	return true
}

func (h *Handler) pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeFailure(w, http.StatusBadRequest, "Invalid ID")
		return 0, false
	}
	return id, true
}

func optionalID(raw string) (*int64, error) {
	if raw == "" {
		return nil, nil
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid id %q", sales.ErrInvalidInput, raw)
	}
	return &id, nil
}

// dateRange parses YYYY-MM-DD (or RFC3339) bounds. A date-only end bound
// covers the whole day.
func dateRange(startRaw, endRaw string) (*time.Time, *time.Time, error) {
	start, _, err := parseDate(startRaw)
	if err != nil {
		return nil, nil, err
	}
	end, dateOnly, err := parseDate(endRaw)
	if err != nil {
		return nil, nil, err
	}
	if end != nil && dateOnly {
		e := end.Add(24*time.Hour - time.Microsecond)
		end = &e
	}
	return start, end, nil
}

func parseDate(raw string) (*time.Time, bool, error) {
	if raw == "" {
		return nil, false, nil
	}
	if t, err := time.Parse("2006-01-02", raw); err == nil {
		return &t, true, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, false, fmt.Errorf("%w: invalid date %q (use YYYY-MM-DD)", sales.ErrInvalidInput, raw)
	}
	t = t.UTC()
	return &t, false, nil
}

func pageParams(r *http.Request) (page, size int) {
	q := r.URL.Query()
	page, _ = strconv.Atoi(q.Get("page"))
	size, _ = strconv.Atoi(q.Get("size"))
	if page < 1 {
		page = 1
	}
	if size < 1 {
		size = sales.DefaultPageSize
	}
	if size > sales.MaxPageSize {
		size = sales.MaxPageSize
	}
	return page, size
}
