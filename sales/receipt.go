package sales

import (
	"crypto/rand"
	"math/big"
	"time"
)

const (
	receiptPrefix   = "RCP"
	receiptAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	receiptRandLen  = 8
)

// ReceiptGenerator returns a receipt number for a sale created at t.
type ReceiptGenerator func(t time.Time) string

// NewReceiptNumber formats RCP-YYYYMMDD-XXXXXXXX with 8 random [A-Z0-9] characters.
// Uniqueness is enforced by the store; CreateSale retries on collision.
func NewReceiptNumber(t time.Time) string {
	buf := make([]byte, receiptRandLen)
	max := big.NewInt(int64(len(receiptAlphabet)))
	for i := range buf {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			// crypto/rand never fails on supported platforms
			panic(err)
		}
		buf[i] = receiptAlphabet[n.Int64()]
	}
	return receiptPrefix + "-" + t.Format("20060102") + "-" + string(buf)
}
