package api

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/warp/retail-engine/sales"
)

// =============================================================================
// PRODUCT HANDLERS
// =============================================================================

func (h *Handler) ListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.Store.ListProducts(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	out := make([]ProductDTO, len(products))
	for i, p := range products {
		out[i] = toProductDTO(p)
	}
	writeJSON(w, http.StatusOK, out, "")
}

func (h *Handler) GetProduct(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	p, err := h.Store.GetProduct(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toProductDTO(*p), "")
}

func (h *Handler) CreateProduct(w http.ResponseWriter, r *http.Request) {
	var req CreateProductRequest
	if !decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.SKU) == "" || strings.TrimSpace(req.Name) == "" {
		writeFailure(w, http.StatusBadRequest, "sku and name are required")
		return
	}
	p := &sales.Product{SKU: req.SKU, Name: req.Name, Brand: req.Brand, Season: req.Season,
		Category: req.Category, IsActive: true}
	if err := h.Store.CreateProduct(r.Context(), p); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toProductDTO(*p), "Product created successfully")
}

// =============================================================================
// VARIANT HANDLERS
// =============================================================================

// ListVariants supports ?product_id= and ?low_stock=true.
func (h *Handler) ListVariants(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	productID, err := optionalID(q.Get("product_id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	lowStock, _ := strconv.ParseBool(q.Get("low_stock"))

	variants, err := h.Store.ListVariants(r.Context(), sales.VariantFilter{ProductID: productID, LowStock: lowStock})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	out := make([]VariantDTO, len(variants))
	for i, v := range variants {
		out[i] = toVariantDTO(v)
	}
	writeJSON(w, http.StatusOK, out, "")
}

func (h *Handler) GetVariant(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	v, err := h.Store.GetVariant(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toVariantDTO(*v), "")
}

func (h *Handler) CreateVariant(w http.ResponseWriter, r *http.Request) {
	var req CreateVariantRequest
	if !decode(w, r, &req) {
		return
	}
	var problems []string
	if strings.TrimSpace(req.SKU) == "" {
		problems = append(problems, "sku is required")
	}
	if req.Price.IsNegative() {
		problems = append(problems, "price cannot be negative")
	}
	if !sales.HasMoneyScale(req.Price) {
		problems = append(problems, "price cannot have more than 2 decimal places")
	}
	if req.StockQuantity < 0 {
		problems = append(problems, "stock_quantity cannot be negative")
	}
	if len(problems) > 0 {
		writeFailure(w, http.StatusBadRequest, "Validation failed", problems...)
		return
	}

	v := &sales.Variant{
		ProductID:     req.ProductID,
		SKU:           req.SKU,
		Color:         req.Color,
		Size:          req.Size,
		Price:         req.Price,
		CostPrice:     req.CostPrice,
		StockQuantity: req.StockQuantity,
		MinStockLevel: req.MinStockLevel,
		IsActive:      true,
	}
	if err := h.Store.CreateVariant(r.Context(), v); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toVariantDTO(*v), "Variant created successfully")
}

// AdjustStock applies a manual delta to a variant's stock. Decrements use
// the same guard as sales, so stock never goes negative.
func (h *Handler) AdjustStock(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	var req StockAdjustmentRequest
	if !decode(w, r, &req) {
		return
	}

	var err error
	switch {
	case req.Delta > 0:
		err = h.Store.IncrementStock(r.Context(), id, req.Delta)
	case req.Delta < 0:
		err = h.Store.DecrementStock(r.Context(), id, -req.Delta)
	default:
		err = fmt.Errorf("%w: delta must not be zero", sales.ErrInvalidInput)
	}
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	v, err := h.Store.GetVariant(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toVariantDTO(*v), "Stock updated")
}

// =============================================================================
// CLIENT HANDLERS
// =============================================================================

// ListClients supports ?search=, ?has_debt=true and paging.
func (h *Handler) ListClients(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	hasDebt, _ := strconv.ParseBool(q.Get("has_debt"))
	page, size := pageParams(r)
	filter := sales.ClientFilter{Search: strings.TrimSpace(q.Get("search")), HasDebt: hasDebt, Page: page, Size: size}

	items, total, err := h.Store.ListClients(r.Context(), filter)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toList(sales.Page[sales.Client]{Items: items, Page: page, Size: size, Total: total}, toClientDTO), "")
}

func (h *Handler) GetClient(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	c, err := h.Store.GetClient(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toClientDTO(*c), "")
}

func (h *Handler) CreateClient(w http.ResponseWriter, r *http.Request) {
	var req ClientRequest
	if !decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.FirstName) == "" {
		writeFailure(w, http.StatusBadRequest, "first_name is required")
		return
	}
	c := &sales.Client{
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Phone:     strings.TrimSpace(req.Phone),
		Address:   req.Address,
		Notes:     req.Notes,
		IsActive:  req.IsActive == nil || *req.IsActive,
	}
	if err := h.Store.CreateClient(r.Context(), c); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toClientDTO(*c), "Client created successfully")
}

// UpdateClient replaces the client's contact fields. Debt is untouched.
func (h *Handler) UpdateClient(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	var req ClientRequest
	if !decode(w, r, &req) {
		return
	}

	current, err := h.Store.GetClient(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if req.FirstName != "" {
		current.FirstName = req.FirstName
	}
	current.LastName = req.LastName
	current.Phone = strings.TrimSpace(req.Phone)
	current.Address = req.Address
	current.Notes = req.Notes
	if req.IsActive != nil {
		current.IsActive = *req.IsActive
	}

	if err := h.Store.UpdateClient(r.Context(), current); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toClientDTO(*current), "Client updated successfully")
}
