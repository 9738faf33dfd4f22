/*
scheduler.go - Periodic debt audit and low-stock scan

PURPOSE:
  Runs in the background and checks that every client's recorded debt
  equals what their open sales still owe, and counts variants at or below
  their reorder level. Results go to the log and to Prometheus gauges.

DESIGN:
  - One goroutine driven by a ticker, plus an immediate run on Start
  - Drift is only reported unless Fix is set, because balances imported
    without a backing sale legitimately show as positive drift
  - A failure on one client is logged and the sweep continues

CONFIGURATION:
  - CheckInterval: How often to run (AUDIT_INTERVAL, default 1 hour)
  - Enabled: Whether the scheduler starts at all
  - Fix: Rewrite drifted debt to the recomputed value (AUDIT_FIX)

USAGE:
  scheduler := NewAuditScheduler(store, ledger, metrics, logger)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - sales/audit.go: AuditClientDebt
*/
package api

import (
	"context"
	"sync"
	"time"

	"github.com/warp/retail-engine/metrics"
	"github.com/warp/retail-engine/sales"
	"go.uber.org/zap"
)

// AuditReport summarises one sweep.
type AuditReport struct {
	ClientsChecked int
	Drifted        []sales.DebtAudit
	Failed         int
	LowStock       []sales.Variant
}

// AuditScheduler periodically audits client debt and stock levels.
type AuditScheduler struct {
	Store         Store
	Ledger        *sales.Ledger
	Metrics       *metrics.Metrics
	Logger        *zap.Logger
	CheckInterval time.Duration
	Enabled       bool
	Fix           bool

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewAuditScheduler creates a scheduler with a one hour interval.
func NewAuditScheduler(store Store, ledger *sales.Ledger, m *metrics.Metrics, log *zap.Logger) *AuditScheduler {
	if log == nil {
		log = zap.NewNop()
	}
	return &AuditScheduler{
		Store:         store,
		Ledger:        ledger,
		Metrics:       m,
		Logger:        log.Named("audit"),
		CheckInterval: time.Hour,
		Enabled:       true,
	}
}

// Start begins the scheduler.
func (s *AuditScheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.Enabled || s.CheckInterval <= 0 {
		s.Logger.Info("scheduler disabled, not starting")
		return
	}
	if s.ticker != nil {
		return
	}

	s.ticker = time.NewTicker(s.CheckInterval)
	s.stop = make(chan struct{})
	s.wg.Add(1)
	go s.run(s.ticker, s.stop)

	s.Logger.Info("scheduler started", zap.Duration("interval", s.CheckInterval), zap.Bool("fix", s.Fix))
}

// Stop stops the scheduler and waits for an in-flight sweep.
func (s *AuditScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ticker != nil {
		s.ticker.Stop()
		close(s.stop)
		s.wg.Wait()
		s.ticker = nil
		s.Logger.Info("scheduler stopped")
	}
}

func (s *AuditScheduler) run(ticker *time.Ticker, stop <-chan struct{}) {
	defer s.wg.Done()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-stop:
			cancel()
		case <-ctx.Done():
		}
	}()

	// Run immediately on start
	s.RunNow(ctx)

	for {
		select {
		case <-ticker.C:
			s.RunNow(ctx)
		case <-stop:
			return
		}
	}
}

// RunNow performs one sweep synchronously.
func (s *AuditScheduler) RunNow(ctx context.Context) AuditReport {
	var report AuditReport

	clients, _, err := s.Store.ListClients(ctx, sales.ClientFilter{})
	if err != nil {
		s.Logger.Error("listing clients", zap.Error(err))
		return report
	}

	for _, c := range clients {
		if ctx.Err() != nil {
			return report
		}
		audit, err := s.Ledger.AuditClientDebt(ctx, c.ID, s.Fix)
		if err != nil {
			report.Failed++
			s.Logger.Error("auditing client", zap.Int64("client_id", c.ID), zap.Error(err))
			continue
		}
		report.ClientsChecked++
		if !audit.Consistent() {
			report.Drifted = append(report.Drifted, *audit)
		}
	}

	low, err := s.Store.ListVariants(ctx, sales.VariantFilter{LowStock: true})
	if err != nil {
		s.Logger.Error("scanning low stock", zap.Error(err))
	} else {
		report.LowStock = low
		for _, v := range low {
			s.Logger.Debug("low stock", zap.String("sku", v.SKU), zap.Int("stock", v.StockQuantity), zap.Int("min", v.MinStockLevel))
		}
	}

	if s.Metrics != nil {
		s.Metrics.DebtDrift.Set(float64(len(report.Drifted)))
		s.Metrics.LowStockVariants.Set(float64(len(report.LowStock)))
	}

	s.Logger.Info("audit completed",
		zap.Int("clients", report.ClientsChecked),
		zap.Int("drifted", len(report.Drifted)),
		zap.Int("failed", report.Failed),
		zap.Int("low_stock", len(report.LowStock)),
	)
	return report
}

// NextRunTime returns when the next scheduled sweep will occur.
func (s *AuditScheduler) NextRunTime() time.Time {
	return time.Now().Add(s.CheckInterval)
}
