package sales

import (
	"context"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// DebtAudit compares a client's recorded debt with the sum of what their
// live sales still owe. Drift = Recorded - Outstanding. A positive drift is
// expected for balances imported without a backing sale.
type DebtAudit struct {
	ClientID    int64
	Recorded    decimal.Decimal
	Outstanding decimal.Decimal
	Drift       decimal.Decimal
	Fixed       bool
}

func (a DebtAudit) Consistent() bool {
	return a.Drift.IsZero()
}

// AuditClientDebt recomputes the client's outstanding total. With fix set,
// a drifted debt_amount is rewritten to the recomputed value.
func (l *Ledger) AuditClientDebt(ctx context.Context, clientID int64, fix bool) (*DebtAudit, error) {
	var audit *DebtAudit
	err := l.inTx(ctx, "audit_client_debt", func(s Store) error {
		client, err := s.GetClient(ctx, clientID)
		if err != nil {
			return err
		}
		open, err := s.OutstandingSales(ctx, clientID)
		if err != nil {
			return err
		}
		sum := decimal.Zero
		for _, sale := range open {
			sum = sum.Add(sale.Outstanding())
		}

		a := &DebtAudit{
			ClientID:    clientID,
			Recorded:    client.DebtAmount,
			Outstanding: sum,
			Drift:       client.DebtAmount.Sub(sum),
		}
		if fix && !a.Consistent() {
			if err := s.AdjustClientDebt(ctx, clientID, client.DebtAmount, sum); err != nil {
				return err
			}
			a.Fixed = true
		}
		audit = a
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !audit.Consistent() {
		l.logger.Warn("client debt drift",
			zap.Int64("client_id", clientID),
			zap.String("recorded", audit.Recorded.String()),
			zap.String("outstanding", audit.Outstanding.String()),
			zap.Bool("fixed", audit.Fixed),
		)
	}
	return audit, nil
}
