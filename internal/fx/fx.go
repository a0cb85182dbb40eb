// Package fx normalizes ledger amounts to EUR. Conversion is a collaborator
// of the sync engine, consumed through the Converter interface; the engine
// only ever asks for one amount at a time, after reconciliation.
package fx

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Converter turns an amount in a source currency into EUR.
type Converter interface {
	Convert(ctx context.Context, amount decimal.Decimal, currency string, date time.Time) (decimal.Decimal, error)
}

// Fixed converts with a static table of EUR rates (units of currency per one
// EUR). EUR itself always converts as identity. Useful in tests and as an
// offline fallback.
type Fixed struct {
	Rates map[string]decimal.Decimal
}

// NewFixed builds a Fixed converter from per-EUR rates.
func NewFixed(rates map[string]decimal.Decimal) *Fixed {
	return &Fixed{Rates: rates}
}

func (f *Fixed) Convert(_ context.Context, amount decimal.Decimal, currency string, _ time.Time) (decimal.Decimal, error) {
	if currency == "EUR" {
		return amount, nil
	}
	rate, ok := f.Rates[currency]
	if !ok || rate.IsZero() {
		return decimal.Decimal{}, fmt.Errorf("no EUR rate for %s", currency)
	}
	return amount.DivRound(rate, 4), nil
}
