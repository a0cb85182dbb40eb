package importer

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dvloznov/budget-sync/internal/ledger"
)

// PayPalCSV parses a PayPal activity export. PayPal assigns every
// transaction a stable code, which is used as the ledger id directly
// instead of a content hash.
type PayPalCSV struct{}

func (p *PayPalCSV) Name() string { return "paypal-csv" }

const paypalAccount = "PayPal"

func (p *PayPalCSV) Import(r *bytes.Reader) ([]ledger.Item, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		return nil, ErrFormat
	}
	cols := columnIndex(header)
	dateCol, okDate := cols["date"]
	idCol, okID := cols["transaction id"]
	grossCol, okGross := cols["gross"]
	if !okDate || !okID || !okGross {
		return nil, ErrFormat
	}
	timeCol, hasTime := cols["time"]
	nameCol, hasName := cols["name"]
	typeCol, hasType := cols["type"]
	currencyCol, hasCurrency := cols["currency"]

	var items []ledger.Item
	for line := 2; ; line++ {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("PayPalCSV.Import: line %d: %w", line, err)
		}

		dt, ok := parsePayPalDatetime(record[dateCol], field(record, timeCol, hasTime))
		if !ok {
			return nil, fmt.Errorf("PayPalCSV.Import: line %d: unparseable date %q", line, record[dateCol])
		}
		amount, err := decimal.NewFromString(normalizeAmount(record[grossCol]))
		if err != nil {
			return nil, fmt.Errorf("PayPalCSV.Import: line %d: gross %q: %w", line, record[grossCol], err)
		}

		currency := "EUR"
		if hasCurrency && record[currencyCol] != "" {
			currency = strings.ToUpper(record[currencyCol])
		}
		description := field(record, nameCol, hasName)
		if description == "" {
			description = field(record, typeCol, hasType)
		}

		typ := ledger.TypeExpense
		switch {
		case strings.Contains(strings.ToLower(field(record, typeCol, hasType)), "transfer"):
			typ = ledger.TypeTransfer
		case amount.IsPositive():
			typ = ledger.TypeIncome
		}

		items = append(items, ledger.Item{
			TxID:        record[idCol],
			TxDatetime:  dt,
			Amount:      amount,
			Currency:    currency,
			Description: description,
			Account:     paypalAccount,
			Type:        typ,
		})
	}
	return items, nil
}

func field(record []string, i int, ok bool) string {
	if !ok || i >= len(record) {
		return ""
	}
	return record[i]
}

func parsePayPalDatetime(date, clock string) (time.Time, bool) {
	date = strings.TrimSpace(date)
	clock = strings.TrimSpace(clock)
	if clock != "" {
		if dt, err := time.ParseInLocation("02/01/2006 15:04:05", date+" "+clock, time.UTC); err == nil {
			return dt, true
		}
	}
	return parseBankDate(date)
}
