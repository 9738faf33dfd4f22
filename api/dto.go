/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  JSON shapes for the HTTP API, kept apart from the sales domain types so
  column or field renames don't leak to clients.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

MONEY:
  decimal.Decimal marshals as a JSON string ("1500.00" style) and accepts
  either a JSON number or string on input.

ENVELOPE:
  Every response is wrapped: {"success", "data", "message", "errors"}.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/retail-engine/auth"
	"github.com/warp/retail-engine/sales"
)

// Envelope wraps every response body.
type Envelope struct {
	Success bool     `json:"success"`
	Data    any      `json:"data,omitempty"`
	Message string   `json:"message,omitempty"`
	Errors  []string `json:"errors,omitempty"`
}

// PaginationDTO accompanies list responses.
type PaginationDTO struct {
	Page  int `json:"page"`
	Size  int `json:"size"`
	Total int `json:"total"`
	Pages int `json:"pages"`
}

// ListDTO is a page of items.
type ListDTO[T any] struct {
	Items      []T           `json:"items"`
	Pagination PaginationDTO `json:"pagination"`
}

func toList[S, T any](p sales.Page[S], conv func(S) T) ListDTO[T] {
	items := make([]T, len(p.Items))
	for i, s := range p.Items {
		items[i] = conv(s)
	}
	return ListDTO[T]{
		Items:      items,
		Pagination: PaginationDTO{Page: p.Page, Size: p.Size, Total: p.Total, Pages: p.Pages()},
	}
}

// =============================================================================
// AUTH
// =============================================================================

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type TokenDTO struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ExpiresAt   time.Time `json:"expires_at"`
	User        UserDTO   `json:"user"`
}

type UserDTO struct {
	ID       int64     `json:"id"`
	Username string    `json:"username"`
	FullName string    `json:"full_name"`
	Role     auth.Role `json:"role"`
	IsActive bool      `json:"is_active"`
}

func toUserDTO(u *auth.User) UserDTO {
	return UserDTO{ID: u.ID, Username: u.Username, FullName: u.FullName, Role: u.Role, IsActive: u.IsActive}
}

// =============================================================================
// CATALOG
// =============================================================================

type ProductDTO struct {
	ID        int64     `json:"id"`
	SKU       string    `json:"sku"`
	Name      string    `json:"name"`
	Brand     string    `json:"brand,omitempty"`
	Season    string    `json:"season,omitempty"`
	Category  string    `json:"category,omitempty"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
}

type CreateProductRequest struct {
	SKU      string `json:"sku"`
	Name     string `json:"name"`
	Brand    string `json:"brand"`
	Season   string `json:"season"`
	Category string `json:"category"`
}

func toProductDTO(p sales.Product) ProductDTO {
	return ProductDTO{ID: p.ID, SKU: p.SKU, Name: p.Name, Brand: p.Brand, Season: p.Season,
		Category: p.Category, IsActive: p.IsActive, CreatedAt: p.CreatedAt}
}

type VariantDTO struct {
	ID            int64            `json:"id"`
	ProductID     int64            `json:"product_id"`
	SKU           string           `json:"sku"`
	Color         string           `json:"color,omitempty"`
	Size          string           `json:"size,omitempty"`
	Price         decimal.Decimal  `json:"price"`
	CostPrice     *decimal.Decimal `json:"cost_price,omitempty"`
	StockQuantity int              `json:"stock_quantity"`
	MinStockLevel int              `json:"min_stock_level"`
	LowStock      bool             `json:"low_stock"`
	IsActive      bool             `json:"is_active"`
}

type CreateVariantRequest struct {
	ProductID     int64            `json:"product_id"`
	SKU           string           `json:"sku"`
	Color         string           `json:"color"`
	Size          string           `json:"size"`
	Price         decimal.Decimal  `json:"price"`
	CostPrice     *decimal.Decimal `json:"cost_price"`
	StockQuantity int              `json:"stock_quantity"`
	MinStockLevel int              `json:"min_stock_level"`
}

// StockAdjustmentRequest is a manual correction: positive for a delivery,
// negative for a write-off.
type StockAdjustmentRequest struct {
	Delta int `json:"delta"`
}

func toVariantDTO(v sales.Variant) VariantDTO {
	return VariantDTO{ID: v.ID, ProductID: v.ProductID, SKU: v.SKU, Color: v.Color, Size: v.Size,
		Price: v.Price, CostPrice: v.CostPrice, StockQuantity: v.StockQuantity,
		MinStockLevel: v.MinStockLevel, LowStock: v.LowStock(), IsActive: v.IsActive}
}

// =============================================================================
// CLIENTS
// =============================================================================

type ClientDTO struct {
	ID         int64           `json:"id"`
	FirstName  string          `json:"first_name"`
	LastName   string          `json:"last_name"`
	FullName   string          `json:"full_name"`
	Phone      string          `json:"phone,omitempty"`
	Address    string          `json:"address,omitempty"`
	Notes      string          `json:"notes,omitempty"`
	DebtAmount decimal.Decimal `json:"debt_amount"`
	IsActive   bool            `json:"is_active"`
	CreatedAt  time.Time       `json:"created_at"`
}

// ClientRequest is used for both create and update. Debt is never accepted
// from the caller; it only moves through sales and payments.
type ClientRequest struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Phone     string `json:"phone"`
	Address   string `json:"address"`
	Notes     string `json:"notes"`
	IsActive  *bool  `json:"is_active"`
}

func toClientDTO(c sales.Client) ClientDTO {
	return ClientDTO{ID: c.ID, FirstName: c.FirstName, LastName: c.LastName, FullName: c.FullName(),
		Phone: c.Phone, Address: c.Address, Notes: c.Notes, DebtAmount: c.DebtAmount,
		IsActive: c.IsActive, CreatedAt: c.CreatedAt}
}

// =============================================================================
// SALES
// =============================================================================

type SaleItemRequest struct {
	VariantID int64           `json:"product_variant_id"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

type CreateSaleRequest struct {
	ClientID      *int64            `json:"client_id"`
	PaymentMethod string            `json:"payment_method"`
	PaidAmount    decimal.Decimal   `json:"paid_amount"`
	Notes         string            `json:"notes"`
	Items         []SaleItemRequest `json:"items"`
}

type PayDebtRequest struct {
	PaymentAmount decimal.Decimal `json:"payment_amount"`
}

type ClientDebtPaymentRequest struct {
	ClientID      int64           `json:"client_id"`
	PaymentAmount decimal.Decimal `json:"payment_amount"`
}

type SaleItemDTO struct {
	ID         int64           `json:"id"`
	VariantID  int64           `json:"product_variant_id"`
	Quantity   int             `json:"quantity"`
	UnitPrice  decimal.Decimal `json:"unit_price"`
	TotalPrice decimal.Decimal `json:"total_price"`
}

type SaleDTO struct {
	ID            int64           `json:"id"`
	ReceiptNumber string          `json:"receipt_number"`
	ClientID      *int64          `json:"client_id"`
	TotalAmount   decimal.Decimal `json:"total_amount"`
	PaidAmount    decimal.Decimal `json:"paid_amount"`
	DebtAmount    decimal.Decimal `json:"debt_amount"`
	PaymentMethod string          `json:"payment_method"`
	Status        string          `json:"status"`
	Notes         string          `json:"notes,omitempty"`
	UserID        int64           `json:"user_id"`
	CreatedAt     time.Time       `json:"created_at"`
	Items         []SaleItemDTO   `json:"items"`
}

func toSaleDTO(s sales.Sale) SaleDTO {
	items := make([]SaleItemDTO, len(s.Items))
	for i, it := range s.Items {
		items[i] = SaleItemDTO{ID: it.ID, VariantID: it.VariantID, Quantity: it.Quantity,
			UnitPrice: it.UnitPrice, TotalPrice: it.TotalPrice}
	}
	return SaleDTO{
		ID:            s.ID,
		ReceiptNumber: s.ReceiptNumber,
		ClientID:      s.ClientID,
		TotalAmount:   s.TotalAmount,
		PaidAmount:    s.PaidAmount,
		DebtAmount:    s.Outstanding(),
		PaymentMethod: string(s.PaymentMethod),
		Status:        string(s.Status),
		Notes:         s.Notes,
		UserID:        s.UserID,
		CreatedAt:     s.CreatedAt,
		Items:         items,
	}
}

func toSaleDTOs(list []sales.Sale) []SaleDTO {
	out := make([]SaleDTO, len(list))
	for i, s := range list {
		out[i] = toSaleDTO(s)
	}
	return out
}

type AllocationDTO struct {
	SaleID        int64           `json:"sale_id"`
	ReceiptNumber string          `json:"receipt_number"`
	Amount        decimal.Decimal `json:"amount"`
	Status        string          `json:"status"`
}

type ClientPaymentDTO struct {
	ClientID      int64           `json:"client_id"`
	PaymentAmount decimal.Decimal `json:"payment_amount"`
	NewDebtAmount decimal.Decimal `json:"new_debt_amount"`
	Allocations   []AllocationDTO `json:"allocations"`
	Unallocated   decimal.Decimal `json:"unallocated"`
}

func toClientPaymentDTO(p *sales.ClientPayment) ClientPaymentDTO {
	allocs := make([]AllocationDTO, len(p.Allocations))
	for i, a := range p.Allocations {
		allocs[i] = AllocationDTO{SaleID: a.SaleID, ReceiptNumber: a.ReceiptNumber, Amount: a.Amount, Status: string(a.Status)}
	}
	return ClientPaymentDTO{ClientID: p.ClientID, PaymentAmount: p.PaymentAmount,
		NewDebtAmount: p.NewDebtAmount, Allocations: allocs, Unallocated: p.Unallocated}
}

type DebtHistoryDTO struct {
	ID        int64           `json:"id"`
	Type      string          `json:"type"`
	Amount    decimal.Decimal `json:"amount"`
	Balance   decimal.Decimal `json:"balance"`
	CreatedAt time.Time       `json:"created_at"`
}

type StatsDTO struct {
	TotalSales     int             `json:"total_sales"`
	TotalRevenue   decimal.Decimal `json:"total_revenue"`
	AvgOrderValue  decimal.Decimal `json:"avg_order_value"`
	CompletedSales int             `json:"completed_sales"`
}

// =============================================================================
// SCENARIOS
// =============================================================================

type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}
