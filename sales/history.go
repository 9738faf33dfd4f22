package sales

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// DebtHistoryEntry is one row of a client's debt history with the running
// balance after it.
type DebtHistoryEntry struct {
	TransactionID int64
	Type          TransactionType
	Amount        decimal.Decimal
	Balance       decimal.Decimal
	CreatedAt     time.Time
}

// DebtHistory replays the client's transactions oldest first. Sales add to
// the balance, debt payments subtract, anything else leaves it unchanged.
func (l *Ledger) DebtHistory(ctx context.Context, clientID int64) ([]DebtHistoryEntry, error) {
	if _, err := l.store.GetClient(ctx, clientID); err != nil {
		return nil, err
	}
	txs, err := l.store.ClientTransactions(ctx, clientID)
	if err != nil {
		return nil, err
	}
	return ReplayDebt(txs), nil
}

// ReplayDebt computes running balances over txs in the given order.
func ReplayDebt(txs []Transaction) []DebtHistoryEntry {
	out := make([]DebtHistoryEntry, 0, len(txs))
	balance := decimal.Zero
	for _, tx := range txs {
		switch tx.Type {
		case TxSale:
			balance = balance.Add(tx.Amount)
		case TxDebtPayment:
			balance = balance.Sub(tx.Amount)
		}
		out = append(out, DebtHistoryEntry{
			TransactionID: tx.ID,
			Type:          tx.Type,
			Amount:        tx.Amount,
			Balance:       balance,
			CreatedAt:     tx.CreatedAt,
		})
	}
	return out
}
