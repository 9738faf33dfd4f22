/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:
	Pre-built data sets that populate the store with a realistic shop:
	a catalog, a client book, and sales in every status.

AVAILABLE SCENARIOS:
	boutique:     Catalog and clients only, no sales
	debt-book:    Clients with partially paid and unpaid sales, one
	              settled with a client-level payment
	cancellations: A completed sale and a debt sale, both cancelled

HOW SCENARIOS WORK:
 1. Reset database (users are kept)
 2. Create products and variants
 3. Create clients
 4. Ring up sales and payments through the Ledger, so every invariant
    holds exactly as it would at the till

USAGE VIA API:
	POST /api/scenarios/load
	{"scenario_id": "debt-book"}

NOTE:
	Scenarios reset the database. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: Handler
  - sales/ledger.go: Operations the loaders drive
*/
package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/shopspring/decimal"
	"github.com/warp/retail-engine/auth"
	"github.com/warp/retail-engine/sales"
	"go.uber.org/zap"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "boutique",
		Name:        "Boutique",
		Description: "Three products in several sizes and colours, four clients, no sales",
	},
	{
		ID:          "debt-book",
		Name:        "Debt Book",
		Description: "Clients buying on credit, partial payments and a lump-sum settlement",
	},
	{
		ID:          "cancellations",
		Name:        "Cancellations",
		Description: "A completed sale and an unpaid sale, both cancelled with stock returned",
	},
}

type scenarioLoader func(h *Handler, ctx context.Context, userID int64) error

var scenarioLoaders = map[string]scenarioLoader{
	"boutique":      (*Handler).loadBoutiqueScenario,
	"debt-book":     (*Handler).loadDebtBookScenario,
	"cancellations": (*Handler).loadCancellationsScenario,
}

// =============================================================================
// HANDLERS
// =============================================================================

func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios, "")
}

func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.scenarioMu.Lock()
	current := h.currentScenario
	h.scenarioMu.Unlock()

	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s, "")
			return
		}
	}
	writeJSON(w, http.StatusOK, nil, "No scenario loaded")
}

func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if !decode(w, r, &req) {
		return
	}
	load, ok := scenarioLoaders[req.ScenarioID]
	if !ok {
		writeFailure(w, http.StatusBadRequest, fmt.Sprintf("Unknown scenario: %s", req.ScenarioID))
		return
	}

	h.scenarioMu.Lock()
	defer h.scenarioMu.Unlock()

	ctx := r.Context()
	if err := h.Store.Reset(ctx); err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := load(h, ctx, auth.UserIDFromContext(ctx)); err != nil {
		h.writeError(w, r, fmt.Errorf("load scenario %s: %w", req.ScenarioID, err))
		return
	}

	h.currentScenario = req.ScenarioID
	h.Logger.Info("scenario loaded", zap.String("scenario", req.ScenarioID))
	writeJSON(w, http.StatusOK, map[string]string{"scenario_id": req.ScenarioID}, "Scenario loaded successfully")
}

func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	h.scenarioMu.Lock()
	defer h.scenarioMu.Unlock()

	if err := h.Store.Reset(r.Context()); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.currentScenario = ""
	writeJSON(w, http.StatusOK, nil, "Database reset")
}

// =============================================================================
// LOADERS
// =============================================================================

type demoVariant struct {
	sku, color, size string
	price            string
	stock, min       int
}

type demoProduct struct {
	sku, name, brand, season, category string
	variants                           []demoVariant
}

var boutiqueCatalog = []demoProduct{
	{
		sku: "JKT-100", name: "Wool Jacket", brand: "Nordwind", season: "FW", category: "Outerwear",
		variants: []demoVariant{
			{"JKT-100-BLK-M", "black", "M", "1000.00", 6, 2},
			{"JKT-100-BLK-L", "black", "L", "1000.00", 4, 2},
			{"JKT-100-NVY-M", "navy", "M", "1000.00", 1, 2},
		},
	},
	{
		sku: "TSH-200", name: "Cotton Tee", brand: "Basic", season: "SS", category: "Tops",
		variants: []demoVariant{
			{"TSH-200-WHT-S", "white", "S", "500.00", 20, 5},
			{"TSH-200-WHT-M", "white", "M", "500.00", 25, 5},
		},
	},
	{
		sku: "JNS-300", name: "Slim Jeans", brand: "Indigo", season: "ALL", category: "Bottoms",
		variants: []demoVariant{
			{"JNS-300-32", "blue", "32", "750.00", 10, 3},
			{"JNS-300-34", "blue", "34", "750.00", 0, 3},
		},
	},
}

var boutiqueClients = []sales.Client{
	{FirstName: "Aziza", LastName: "Karimova", Phone: "+998901110001", IsActive: true},
	{FirstName: "Bekzod", LastName: "Tursunov", Phone: "+998901110002", IsActive: true},
	{FirstName: "Dilnoza", LastName: "Rahimova", Phone: "+998901110003", IsActive: true},
	{FirstName: "Farrukh", LastName: "Aliyev", Phone: "+998901110004", IsActive: true},
}

// seedBoutique creates the shared catalog and client book, returning
// variants by SKU and clients in creation order.
func (h *Handler) seedBoutique(ctx context.Context) (map[string]*sales.Variant, []*sales.Client, error) {
	variants := make(map[string]*sales.Variant)
	for _, dp := range boutiqueCatalog {
		p := &sales.Product{SKU: dp.sku, Name: dp.name, Brand: dp.brand, Season: dp.season, Category: dp.category, IsActive: true}
		if err := h.Store.CreateProduct(ctx, p); err != nil {
			return nil, nil, err
		}
		for _, dv := range dp.variants {
			v := &sales.Variant{
				ProductID:     p.ID,
				SKU:           dv.sku,
				Color:         dv.color,
				Size:          dv.size,
				Price:         decimal.RequireFromString(dv.price),
				StockQuantity: dv.stock,
				MinStockLevel: dv.min,
				IsActive:      true,
			}
			if err := h.Store.CreateVariant(ctx, v); err != nil {
				return nil, nil, err
			}
			variants[v.SKU] = v
		}
	}

	clients := make([]*sales.Client, 0, len(boutiqueClients))
	for _, tmpl := range boutiqueClients {
		c := tmpl
		if err := h.Store.CreateClient(ctx, &c); err != nil {
			return nil, nil, err
		}
		clients = append(clients, &c)
	}
	return variants, clients, nil
}

func (h *Handler) loadBoutiqueScenario(ctx context.Context, _ int64) error {
	_, _, err := h.seedBoutique(ctx)
	return err
}

func (h *Handler) loadDebtBookScenario(ctx context.Context, userID int64) error {
	variants, clients, err := h.seedBoutique(ctx)
	if err != nil {
		return err
	}

	line := func(sku string, qty int) sales.SaleItemInput {
		v := variants[sku]
		return sales.SaleItemInput{VariantID: v.ID, Quantity: qty, UnitPrice: v.Price}
	}
	sell := func(client *sales.Client, paid string, items ...sales.SaleItemInput) (*sales.Sale, error) {
		return h.Ledger.CreateSale(ctx, sales.CreateSaleInput{
			ClientID:      &client.ID,
			PaymentMethod: sales.PaymentCash,
			PaidAmount:    decimal.RequireFromString(paid),
			UserID:        userID,
			Items:         items,
		})
	}

	// Aziza: 3 jackets + 1 tee (3500), pays 2000 now and 500 later.
	first, err := sell(clients[0], "2000", line("JKT-100-BLK-M", 3), line("TSH-200-WHT-M", 1))
	if err != nil {
		return err
	}
	if _, err := h.Ledger.PayDebt(ctx, first.ID, decimal.RequireFromString("500"), userID); err != nil {
		return err
	}

	// Bekzod: two unpaid sales, then a lump sum that clears the older one.
	if _, err := sell(clients[1], "0", line("JNS-300-32", 2)); err != nil {
		return err
	}
	if _, err := sell(clients[1], "0", line("TSH-200-WHT-S", 1)); err != nil {
		return err
	}
	if _, err := h.Ledger.PayClientDebt(ctx, clients[1].ID, decimal.RequireFromString("1700"), userID); err != nil {
		return err
	}

	// Dilnoza: paid in full by card.
	_, err = h.Ledger.CreateSale(ctx, sales.CreateSaleInput{
		ClientID:      &clients[2].ID,
		PaymentMethod: sales.PaymentCard,
		PaidAmount:    decimal.RequireFromString("1000"),
		UserID:        userID,
		Items:         []sales.SaleItemInput{line("JKT-100-BLK-L", 1)},
	})
	return err
}

func (h *Handler) loadCancellationsScenario(ctx context.Context, userID int64) error {
	variants, clients, err := h.seedBoutique(ctx)
	if err != nil {
		return err
	}
	tee := variants["TSH-200-WHT-S"]
	jacket := variants["JKT-100-BLK-L"]

	completed, err := h.Ledger.CreateSale(ctx, sales.CreateSaleInput{
		PaymentMethod: sales.PaymentCash,
		PaidAmount:    decimal.RequireFromString("2000"),
		UserID:        userID,
		Items:         []sales.SaleItemInput{{VariantID: tee.ID, Quantity: 4, UnitPrice: tee.Price}},
	})
	if err != nil {
		return err
	}
	owing, err := h.Ledger.CreateSale(ctx, sales.CreateSaleInput{
		ClientID:      &clients[3].ID,
		PaymentMethod: sales.PaymentTransfer,
		PaidAmount:    decimal.Zero,
		UserID:        userID,
		Items:         []sales.SaleItemInput{{VariantID: jacket.ID, Quantity: 1, UnitPrice: jacket.Price}},
	})
	if err != nil {
		return err
	}

	for _, id := range []int64{completed.ID, owing.ID} {
		if _, err := h.Ledger.CancelSale(ctx, id, userID); err != nil {
			return err
		}
	}
	return nil
}
