package sales_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/retail-engine/sales"
)

func TestDebtHistory_RunningBalance(t *testing.T) {
	// GIVEN: Sale paid 2000 of 3500, then a 1000 debt payment, then a cancelled sale
	f := newFixture(t)
	ctx := context.Background()
	v := f.variant(t, "V", 20, "500")
	c := f.client(t, "gina")

	first, err := f.ledger.CreateSale(ctx, sales.CreateSaleInput{
		ClientID:      id(c.ID),
		PaymentMethod: sales.PaymentCash,
		PaidAmount:    dec("2000"),
		Items:         []sales.SaleItemInput{{VariantID: v.ID, Quantity: 7, UnitPrice: dec("500")}},
	})
	require.NoError(t, err)
	_, err = f.ledger.PayDebt(ctx, first.ID, dec("1000"), 1)
	require.NoError(t, err)
	second, err := f.ledger.CreateSale(ctx, sales.CreateSaleInput{
		ClientID:      id(c.ID),
		PaymentMethod: sales.PaymentCash,
		PaidAmount:    dec("500"),
		Items:         []sales.SaleItemInput{{VariantID: v.ID, Quantity: 1, UnitPrice: dec("500")}},
	})
	require.NoError(t, err)
	_, err = f.ledger.CancelSale(ctx, second.ID, 1)
	require.NoError(t, err)

	// WHEN: Reading history
	history, err := f.ledger.DebtHistory(ctx, c.ID)
	require.NoError(t, err)

	// THEN: sale +2000, payment -1000, sale +500, refund leaves balance
	require.Len(t, history, 4)
	want := []struct {
		typ     sales.TransactionType
		balance string
	}{
		{sales.TxSale, "2000"},
		{sales.TxDebtPayment, "1000"},
		{sales.TxSale, "1500"},
		{sales.TxRefund, "1500"},
	}
	for i, w := range want {
		assert.Equal(t, w.typ, history[i].Type, "entry %d", i)
		assert.True(t, history[i].Balance.Equal(dec(w.balance)), "entry %d balance %s", i, history[i].Balance)
	}
	for i := 1; i < len(history); i++ {
		assert.False(t, history[i].CreatedAt.Before(history[i-1].CreatedAt), "ascending order")
	}
}

func TestDebtHistory_UnknownClient(t *testing.T) {
	f := newFixture(t)
	_, err := f.ledger.DebtHistory(context.Background(), 77)
	assert.True(t, sales.IsNotFound(err))
}

func TestDebtHistory_EmptyForNewClient(t *testing.T) {
	f := newFixture(t)
	c := f.client(t, "hana")

	history, err := f.ledger.DebtHistory(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestReplayDebt_BalanceIsSalesMinusPayments(t *testing.T) {
	txs := []sales.Transaction{
		{ID: 1, Type: sales.TxSale, Amount: dec("100")},
		{ID: 2, Type: sales.TxDebtPayment, Amount: dec("30")},
		{ID: 3, Type: sales.TxExpense, Amount: dec("999")},
		{ID: 4, Type: sales.TxSale, Amount: dec("20.5")},
	}

	out := sales.ReplayDebt(txs)

	require.Len(t, out, 4)
	assert.True(t, out[3].Balance.Equal(dec("90.5")))
	assert.True(t, out[2].Balance.Equal(out[1].Balance))
}
