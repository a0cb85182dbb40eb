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

// BankCSV parses a generic bank export: a header row naming at least date,
// amount and description columns, one transaction per row. Transaction ids
// are derived from the row content, so two exports overlapping in time
// deduplicate cleanly.
type BankCSV struct {
	// Account is stamped on every item unless the export carries its own
	// account column.
	Account string
}

func (b *BankCSV) Name() string { return "bank-csv" }

var bankDateLayouts = []string{
	"2006-01-02",
	"02/01/2006",
	"02.01.2006",
	"2006-01-02T15:04:05",
}

func (b *BankCSV) Import(r *bytes.Reader) ([]ledger.Item, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		return nil, ErrFormat
	}
	cols := columnIndex(header)
	dateCol, okDate := cols["date"]
	amountCol, okAmount := cols["amount"]
	descCol, okDesc := cols["description"]
	if !okDate || !okAmount || !okDesc {
		return nil, ErrFormat
	}
	currencyCol, hasCurrency := cols["currency"]
	accountCol, hasAccount := cols["account"]

	var items []ledger.Item
	for line := 2; ; line++ {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("BankCSV.Import: line %d: %w", line, err)
		}

		dt, ok := parseBankDate(record[dateCol])
		if !ok {
			return nil, fmt.Errorf("BankCSV.Import: line %d: unparseable date %q", line, record[dateCol])
		}
		amount, err := decimal.NewFromString(normalizeAmount(record[amountCol]))
		if err != nil {
			return nil, fmt.Errorf("BankCSV.Import: line %d: amount %q: %w", line, record[amountCol], err)
		}

		account := b.Account
		if hasAccount && record[accountCol] != "" {
			account = record[accountCol]
		}
		currency := "EUR"
		if hasCurrency && record[currencyCol] != "" {
			currency = strings.ToUpper(record[currencyCol])
		}
		description := record[descCol]

		typ := ledger.TypeExpense
		if amount.IsPositive() {
			typ = ledger.TypeIncome
		}

		items = append(items, ledger.Item{
			TxID:        ledger.DeriveTxID(account, dt, amount, description),
			TxDatetime:  dt,
			Amount:      amount,
			Currency:    currency,
			Description: description,
			Account:     account,
			Type:        typ,
		})
	}
	return items, nil
}

// columnIndex maps lowercased, trimmed header names to their positions.
func columnIndex(header []string) map[string]int {
	cols := make(map[string]int, len(header))
	for i, name := range header {
		cols[strings.ToLower(strings.TrimSpace(name))] = i
	}
	return cols
}

func parseBankDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range bankDateLayouts {
		if dt, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return dt, true
		}
	}
	return time.Time{}, false
}

// normalizeAmount strips thousands separators and turns a decimal comma into
// a decimal point, covering the common continental export variants.
func normalizeAmount(s string) string {
	s = strings.TrimSpace(s)
	if strings.Contains(s, ",") && strings.Contains(s, ".") {
		// "1.234,56" style: dot separates thousands.
		s = strings.ReplaceAll(s, ".", "")
	}
	return strings.ReplaceAll(s, ",", ".")
}
