// Package store provides an in-memory sales.TxStore.
package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/retail-engine/sales"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory implements sales.TxStore, sales.Catalog and sales.Clients.
// WithTx works on a copy of the data and swaps it in on success.
type Memory struct {
	mu sync.Mutex
	st *state
}

type state struct {
	seq      map[string]int64
	products map[int64]sales.Product
	variants map[int64]sales.Variant
	clients  map[int64]sales.Client
	sales    map[int64]sales.Sale
	txs      []sales.Transaction
}

func NewMemory() *Memory {
	return &Memory{st: &state{
		seq:      make(map[string]int64),
		products: make(map[int64]sales.Product),
		variants: make(map[int64]sales.Variant),
		clients:  make(map[int64]sales.Client),
		sales:    make(map[int64]sales.Sale),
	}}
}

func (st *state) clone() *state {
	c := &state{
		seq:      make(map[string]int64, len(st.seq)),
		products: make(map[int64]sales.Product, len(st.products)),
		variants: make(map[int64]sales.Variant, len(st.variants)),
		clients:  make(map[int64]sales.Client, len(st.clients)),
		sales:    make(map[int64]sales.Sale, len(st.sales)),
		txs:      make([]sales.Transaction, len(st.txs)),
	}
	for k, v := range st.seq {
		c.seq[k] = v
	}
	for k, v := range st.products {
		c.products[k] = v
	}
	for k, v := range st.variants {
		c.variants[k] = v
	}
	for k, v := range st.clients {
		c.clients[k] = v
	}
	for k, v := range st.sales {
		c.sales[k] = copySale(v)
	}
	copy(c.txs, st.txs)
	return c
}

func (st *state) next(table string) int64 {
	st.seq[table]++
	return st.seq[table]
}

func copySale(s sales.Sale) sales.Sale {
	s.Items = append([]sales.SaleItem(nil), s.Items...)
	return s
}

func stamp(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx runs fn against a private copy; the copy replaces the live data
// only when fn returns nil.
func (m *Memory) WithTx(_ context.Context, fn func(sales.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	draft := m.st.clone()
	if err := fn(draft); err != nil {
		return err
	}
	m.st = draft
	return nil
}

func (m *Memory) locked(fn func(st *state) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn(m.st)
}

// =============================================================================
// sales.Store (locked wrappers)
// =============================================================================

func (m *Memory) GetVariant(ctx context.Context, id int64) (v *sales.Variant, err error) {
	err = m.locked(func(st *state) error { v, err = st.GetVariant(ctx, id); return err })
	return v, err
}

func (m *Memory) DecrementStock(ctx context.Context, variantID int64, qty int) error {
	return m.locked(func(st *state) error { return st.DecrementStock(ctx, variantID, qty) })
}

func (m *Memory) IncrementStock(ctx context.Context, variantID int64, qty int) error {
	return m.locked(func(st *state) error { return st.IncrementStock(ctx, variantID, qty) })
}

func (m *Memory) GetClient(ctx context.Context, id int64) (c *sales.Client, err error) {
	err = m.locked(func(st *state) error { c, err = st.GetClient(ctx, id); return err })
	return c, err
}

func (m *Memory) AdjustClientDebt(ctx context.Context, clientID int64, expected, next decimal.Decimal) error {
	return m.locked(func(st *state) error { return st.AdjustClientDebt(ctx, clientID, expected, next) })
}

func (m *Memory) InsertSale(ctx context.Context, sale *sales.Sale) error {
	return m.locked(func(st *state) error { return st.InsertSale(ctx, sale) })
}

func (m *Memory) GetSale(ctx context.Context, id int64) (s *sales.Sale, err error) {
	err = m.locked(func(st *state) error { s, err = st.GetSale(ctx, id); return err })
	return s, err
}

func (m *Memory) UpdateSalePayment(ctx context.Context, saleID int64, expectedPaid, paid decimal.Decimal, expectedStatus, status sales.Status) error {
	return m.locked(func(st *state) error {
		return st.UpdateSalePayment(ctx, saleID, expectedPaid, paid, expectedStatus, status)
	})
}

func (m *Memory) UpdateSaleStatus(ctx context.Context, saleID int64, expected, next sales.Status) error {
	return m.locked(func(st *state) error { return st.UpdateSaleStatus(ctx, saleID, expected, next) })
}

func (m *Memory) ListSales(ctx context.Context, filter sales.SaleFilter) (out []sales.Sale, total int, err error) {
	err = m.locked(func(st *state) error { out, total, err = st.ListSales(ctx, filter); return err })
	return out, total, err
}

func (m *Memory) OutstandingSales(ctx context.Context, clientID int64) (out []sales.Sale, err error) {
	err = m.locked(func(st *state) error { out, err = st.OutstandingSales(ctx, clientID); return err })
	return out, err
}

func (m *Memory) AppendTransaction(ctx context.Context, tx *sales.Transaction) error {
	return m.locked(func(st *state) error { return st.AppendTransaction(ctx, tx) })
}

func (m *Memory) ClientTransactions(ctx context.Context, clientID int64) (out []sales.Transaction, err error) {
	err = m.locked(func(st *state) error { out, err = st.ClientTransactions(ctx, clientID); return err })
	return out, err
}

// =============================================================================
// sales.Catalog / sales.Clients (locked wrappers)
// =============================================================================

func (m *Memory) CreateProduct(_ context.Context, p *sales.Product) error {
	return m.locked(func(st *state) error {
		for _, existing := range st.products {
			if existing.SKU == p.SKU {
				return sales.ErrDuplicateSKU
			}
		}
		p.ID = st.next("products")
		p.CreatedAt = stamp(p.CreatedAt)
		st.products[p.ID] = *p
		return nil
	})
}

func (m *Memory) GetProduct(_ context.Context, id int64) (*sales.Product, error) {
	var out *sales.Product
	err := m.locked(func(st *state) error {
		p, ok := st.products[id]
		if !ok {
			return &sales.NotFoundError{Entity: sales.EntityProduct, ID: id}
		}
		out = &p
		return nil
	})
	return out, err
}

func (m *Memory) ListProducts(_ context.Context) ([]sales.Product, error) {
	var out []sales.Product
	err := m.locked(func(st *state) error {
		for _, p := range st.products {
			out = append(out, p)
		}
		sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
		return nil
	})
	return out, err
}

func (m *Memory) CreateVariant(_ context.Context, v *sales.Variant) error {
	return m.locked(func(st *state) error {
		if _, ok := st.products[v.ProductID]; !ok {
			return &sales.NotFoundError{Entity: sales.EntityProduct, ID: v.ProductID}
		}
		for _, existing := range st.variants {
			if existing.SKU == v.SKU {
				return sales.ErrDuplicateSKU
			}
		}
		v.ID = st.next("variants")
		v.CreatedAt = stamp(v.CreatedAt)
		v.UpdatedAt = v.CreatedAt
		st.variants[v.ID] = *v
		return nil
	})
}

func (m *Memory) ListVariants(_ context.Context, filter sales.VariantFilter) ([]sales.Variant, error) {
	var out []sales.Variant
	err := m.locked(func(st *state) error {
		for _, v := range st.variants {
			if filter.ProductID != nil && v.ProductID != *filter.ProductID {
				continue
			}
			if filter.LowStock && !v.LowStock() {
				continue
			}
			out = append(out, v)
		}
		sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
		return nil
	})
	return out, err
}

func (m *Memory) CreateClient(_ context.Context, c *sales.Client) error {
	return m.locked(func(st *state) error {
		if c.Phone != "" {
			for _, existing := range st.clients {
				if existing.Phone == c.Phone {
					return sales.ErrDuplicatePhone
				}
			}
		}
		c.ID = st.next("clients")
		c.CreatedAt = stamp(c.CreatedAt)
		c.UpdatedAt = c.CreatedAt
		st.clients[c.ID] = *c
		return nil
	})
}

func (m *Memory) UpdateClient(_ context.Context, c *sales.Client) error {
	return m.locked(func(st *state) error {
		existing, ok := st.clients[c.ID]
		if !ok {
			return &sales.NotFoundError{Entity: sales.EntityClient, ID: c.ID}
		}
		if c.Phone != "" {
			for id, other := range st.clients {
				if id != c.ID && other.Phone == c.Phone {
					return sales.ErrDuplicatePhone
				}
			}
		}
		c.DebtAmount = existing.DebtAmount
		c.CreatedAt = existing.CreatedAt
		c.UpdatedAt = time.Now().UTC()
		st.clients[c.ID] = *c
		return nil
	})
}

func (m *Memory) ListClients(_ context.Context, filter sales.ClientFilter) ([]sales.Client, int, error) {
	var out []sales.Client
	err := m.locked(func(st *state) error {
		q := strings.ToLower(filter.Search)
		for _, c := range st.clients {
			if filter.HasDebt && !c.DebtAmount.IsPositive() {
				continue
			}
			if q != "" && !strings.Contains(strings.ToLower(c.FirstName+" "+c.LastName+" "+c.Phone), q) {
				continue
			}
			out = append(out, c)
		}
		sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
		return nil
	})
	total := len(out)
	return paginate(out, filter.Offset(), filter.Size), total, err
}

// =============================================================================
// state implements sales.Store without locking (used directly inside WithTx)
// =============================================================================

func (st *state) GetVariant(_ context.Context, id int64) (*sales.Variant, error) {
	v, ok := st.variants[id]
	if !ok {
		return nil, &sales.NotFoundError{Entity: sales.EntityVariant, ID: id}
	}
	return &v, nil
}

func (st *state) DecrementStock(_ context.Context, variantID int64, qty int) error {
	v, ok := st.variants[variantID]
	if !ok {
		return &sales.NotFoundError{Entity: sales.EntityVariant, ID: variantID}
	}
	if v.StockQuantity < qty {
		return &sales.InsufficientStockError{VariantID: v.ID, SKU: v.SKU, Available: v.StockQuantity, Requested: qty}
	}
	v.StockQuantity -= qty
	v.UpdatedAt = time.Now().UTC()
	st.variants[variantID] = v
	return nil
}

func (st *state) IncrementStock(_ context.Context, variantID int64, qty int) error {
	v, ok := st.variants[variantID]
	if !ok {
		return &sales.NotFoundError{Entity: sales.EntityVariant, ID: variantID}
	}
	v.StockQuantity += qty
	v.UpdatedAt = time.Now().UTC()
	st.variants[variantID] = v
	return nil
}

func (st *state) GetClient(_ context.Context, id int64) (*sales.Client, error) {
	c, ok := st.clients[id]
	if !ok {
		return nil, &sales.NotFoundError{Entity: sales.EntityClient, ID: id}
	}
	return &c, nil
}

func (st *state) AdjustClientDebt(_ context.Context, clientID int64, expected, next decimal.Decimal) error {
	c, ok := st.clients[clientID]
	if !ok {
		return &sales.NotFoundError{Entity: sales.EntityClient, ID: clientID}
	}
	if !c.DebtAmount.Equal(expected) {
		return sales.ErrConcurrentModification
	}
	c.DebtAmount = next
	c.UpdatedAt = time.Now().UTC()
	st.clients[clientID] = c
	return nil
}

func (st *state) InsertSale(_ context.Context, sale *sales.Sale) error {
	for _, existing := range st.sales {
		if existing.ReceiptNumber == sale.ReceiptNumber {
			return sales.ErrDuplicateReceipt
		}
	}
	sale.ID = st.next("sales")
	sale.CreatedAt = stamp(sale.CreatedAt)
	sale.UpdatedAt = stamp(sale.UpdatedAt)
	for i := range sale.Items {
		sale.Items[i].ID = st.next("sale_items")
		sale.Items[i].SaleID = sale.ID
		sale.Items[i].CreatedAt = stamp(sale.Items[i].CreatedAt)
	}
	st.sales[sale.ID] = copySale(*sale)
	return nil
}

func (st *state) GetSale(_ context.Context, id int64) (*sales.Sale, error) {
	s, ok := st.sales[id]
	if !ok {
		return nil, &sales.NotFoundError{Entity: sales.EntitySale, ID: id}
	}
	s = copySale(s)
	return &s, nil
}

func (st *state) UpdateSalePayment(_ context.Context, saleID int64, expectedPaid, paid decimal.Decimal, expectedStatus, status sales.Status) error {
	s, ok := st.sales[saleID]
	if !ok {
		return &sales.NotFoundError{Entity: sales.EntitySale, ID: saleID}
	}
	if !s.PaidAmount.Equal(expectedPaid) || s.Status != expectedStatus {
		return sales.ErrConcurrentModification
	}
	s.PaidAmount = paid
	s.Status = status
	s.UpdatedAt = time.Now().UTC()
	st.sales[saleID] = s
	return nil
}

func (st *state) UpdateSaleStatus(_ context.Context, saleID int64, expected, next sales.Status) error {
	s, ok := st.sales[saleID]
	if !ok {
		return &sales.NotFoundError{Entity: sales.EntitySale, ID: saleID}
	}
	if s.Status != expected {
		return sales.ErrConcurrentModification
	}
	s.Status = next
	s.UpdatedAt = time.Now().UTC()
	st.sales[saleID] = s
	return nil
}

func (st *state) ListSales(_ context.Context, f sales.SaleFilter) ([]sales.Sale, int, error) {
	var out []sales.Sale
	for _, s := range st.sales {
		if f.ClientID != nil && (s.ClientID == nil || *s.ClientID != *f.ClientID) {
			continue
		}
		if f.PaymentMethod != "" && s.PaymentMethod != f.PaymentMethod {
			continue
		}
		if f.Status != "" && s.Status != f.Status {
			continue
		}
		if f.Start != nil && s.CreatedAt.Before(*f.Start) {
			continue
		}
		if f.End != nil && s.CreatedAt.After(*f.End) {
			continue
		}
		out = append(out, copySale(s))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	total := len(out)
	return paginate(out, f.Offset(), f.Size), total, nil
}

func (st *state) OutstandingSales(_ context.Context, clientID int64) ([]sales.Sale, error) {
	var out []sales.Sale
	for _, s := range st.sales {
		if s.ClientID != nil && *s.ClientID == clientID && s.Status.HasDebt() {
			out = append(out, copySale(s))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (st *state) AppendTransaction(_ context.Context, tx *sales.Transaction) error {
	tx.ID = st.next("transactions")
	tx.CreatedAt = stamp(tx.CreatedAt)
	st.txs = append(st.txs, *tx)
	return nil
}

func (st *state) ClientTransactions(_ context.Context, clientID int64) ([]sales.Transaction, error) {
	var out []sales.Transaction
	for _, tx := range st.txs {
		if tx.ClientID != nil && *tx.ClientID == clientID {
			out = append(out, tx)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func paginate[T any](items []T, offset, size int) []T {
	if size <= 0 {
		return items
	}
	if offset >= len(items) {
		return []T{}
	}
	end := offset + size
	if end > len(items) {
		end = len(items)
	}
	return items[offset:end]
}
