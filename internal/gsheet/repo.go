package gsheet

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dvloznov/budget-sync/internal/ledger"
	"github.com/dvloznov/budget-sync/internal/logger"
)

// sheetPrefix names month partitions: one sheet per month, "ledger YYYY-MM".
const sheetPrefix = "ledger "

// dataRange addresses every possible data row of a partition, header excluded.
const dataRange = "2:9999"

// serialEpoch is the spreadsheet day-zero: serial date n means n days after
// 1899-12-30.
var serialEpoch = time.Date(1899, 12, 30, 0, 0, 0, 0, time.UTC)

// monthRange builds an A1 reference inside a month's partition, or the bare
// partition name when ref is empty.
func monthRange(month, ref string) string {
	name := sheetPrefix + month
	if ref == "" {
		return name
	}
	return fmt.Sprintf("'%s'!%s", name, ref)
}

// LedgerRepo reads and writes ledger items against month partitions of one
// spreadsheet. The partition list is cached for the life of the repo, which
// callers scope to a single sync invocation; do not assume freshness across
// long-lived instances.
type LedgerRepo struct {
	conn   *Connection
	header []string

	months       []string
	monthsCached bool
}

// NewLedgerRepo builds a repo over an open connection.
func NewLedgerRepo(conn *Connection) *LedgerRepo {
	return &LedgerRepo{conn: conn, header: ledger.Header()}
}

// Months lists the months that have a remote partition, ascending.
func (r *LedgerRepo) Months(ctx context.Context) ([]string, error) {
	if r.monthsCached {
		return r.months, nil
	}
	titles, err := r.conn.SheetTitles(ctx)
	if err != nil {
		return nil, err
	}
	var months []string
	for _, title := range titles {
		if strings.HasPrefix(title, sheetPrefix) {
			months = append(months, strings.TrimPrefix(title, sheetPrefix))
		}
	}
	sort.Strings(months)
	r.months = months
	r.monthsCached = true
	return months, nil
}

// clearMonth leaves the partition with a header and an empty body, creating
// the sheet when needed. Both paths end in the same post-state, so a replace
// is idempotent.
func (r *LedgerRepo) clearMonth(ctx context.Context, month string) error {
	months, err := r.Months(ctx)
	if err != nil {
		return err
	}
	exists := false
	for _, m := range months {
		if m == month {
			exists = true
			break
		}
	}

	if !exists {
		if err := r.conn.AddSheet(ctx, monthRange(month, "")); err != nil {
			return err
		}
		r.months = append(r.months, month)
		sort.Strings(r.months)
	} else {
		r.conn.Clear(monthRange(month, "1:9999"))
	}

	headerRow := make([]any, len(r.header))
	for i, h := range r.header {
		headerRow[i] = h
	}
	r.conn.Update(monthRange(month, "1:1"), [][]any{headerRow})
	return nil
}

// ReplaceMonthData queues a wholesale rewrite of the month's partition:
// clear (or create), header, then every given item. The caller flushes.
func (r *LedgerRepo) ReplaceMonthData(ctx context.Context, month string, items []ledger.Item) error {
	if err := r.clearMonth(ctx, month); err != nil {
		return err
	}
	if len(items) == 0 {
		return nil
	}
	rows := make([][]any, len(items))
	for i, item := range items {
		rows[i] = r.itemToRow(item)
	}
	r.conn.Append(monthRange(month, "2:2"), rows)
	return nil
}

// UpdateMonthData merges items into the month's partition keyed by tx id:
// remote rows the caller holds no opinion about survive, remote order is
// preserved, new items land at the end.
func (r *LedgerRepo) UpdateMonthData(ctx context.Context, month string, items []ledger.Item) error {
	existing, err := r.MonthData(ctx, month)
	if err != nil {
		return err
	}

	index := make(map[string]int, len(existing))
	merged := make([]ledger.Item, len(existing))
	copy(merged, existing)
	for i, item := range existing {
		index[item.TxID] = i
	}
	for _, item := range items {
		if i, ok := index[item.TxID]; ok {
			merged[i] = item
		} else {
			index[item.TxID] = len(merged)
			merged = append(merged, item)
		}
	}
	return r.ReplaceMonthData(ctx, month, merged)
}

// MonthData fetches and parses the month's remote rows. A month with no
// partition reads as empty.
func (r *LedgerRepo) MonthData(ctx context.Context, month string) ([]ledger.Item, error) {
	months, err := r.Months(ctx)
	if err != nil {
		return nil, err
	}
	found := false
	for _, m := range months {
		if m == month {
			found = true
			break
		}
	}
	if !found {
		return nil, nil
	}

	values, err := r.conn.Values(ctx, monthRange(month, dataRange))
	if err != nil {
		return nil, err
	}

	log := logger.FromContext(ctx)
	items := make([]ledger.Item, 0, len(values))
	for n, row := range values {
		item, err := r.itemFromRow(row)
		if err != nil {
			return nil, fmt.Errorf("month %s row %d: %w", month, n+2, err)
		}
		if item.TxDatetime.IsZero() {
			// Never drop a row over an unparseable date; it still carries
			// the user's edits.
			log.Warn().
				Str("month", month).
				Int("row", n+2).
				Str("tx_id", item.TxID).
				Msg("Remote row has an unparseable tx_datetime")
		}
		items = append(items, item)
	}
	return items, nil
}

func (r *LedgerRepo) itemToRow(item ledger.Item) []any {
	overlay := item.Augmented
	if overlay == nil {
		overlay = &ledger.AugmentedData{}
	}
	amountEUR := ""
	if overlay.AmountEUR.Valid {
		amountEUR = overlay.AmountEUR.Decimal.String()
	}
	return []any{
		item.TxID,
		item.TxDatetime.Format("2006-01-02T15:04:05"),
		item.Amount.String(),
		item.Currency,
		item.Description,
		item.Account,
		string(item.Type),
		amountEUR,
		overlay.Counterparty,
		overlay.Category,
		overlay.SubCategory,
		overlay.EventName,
	}
}

func (r *LedgerRepo) itemFromRow(row []any) (ledger.Item, error) {
	cell := func(i int) string {
		if i >= len(row) {
			return ""
		}
		return cellString(row[i])
	}

	// Columns follow the canonical header order.
	item := ledger.Item{
		TxID:        cell(0),
		Currency:    cell(3),
		Description: cell(4),
		Account:     cell(5),
		Type:        ledger.ItemType(cell(6)),
	}
	if item.TxID == "" {
		return ledger.Item{}, fmt.Errorf("missing tx_id")
	}

	item.TxDatetime, _ = parseSheetTime(cell(1))

	amount, err := decimal.NewFromString(cell(2))
	if err != nil {
		return ledger.Item{}, fmt.Errorf("bad amount %q: %w", cell(2), err)
	}
	item.Amount = amount

	overlay := ledger.AugmentedData{
		TxID:         item.TxID,
		Counterparty: cell(8),
		Category:     cell(9),
		SubCategory:  cell(10),
		EventName:    cell(11),
	}
	if raw := cell(7); raw != "" {
		eur, err := decimal.NewFromString(raw)
		if err != nil {
			return ledger.Item{}, fmt.Errorf("bad amount_eur %q: %w", raw, err)
		}
		overlay.AmountEUR = decimal.NullDecimal{Decimal: eur, Valid: true}
	}
	if !overlay.Empty() {
		item.Augmented = &overlay
	}
	return item, nil
}

// parseSheetTime decodes a remote timestamp cell. Spreadsheet serial numbers
// (day counts since 1899-12-30, with a day fraction) are tried first, then
// ISO-8601 forms. The boolean reports success; on failure the caller keeps
// the row with a zero time rather than dropping it.
func parseSheetTime(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	if serial, err := strconv.ParseFloat(s, 64); err == nil {
		days := int(serial)
		frac := serial - float64(days)
		t := serialEpoch.AddDate(0, 0, days).
			Add(time.Duration(frac * 24 * float64(time.Hour)))
		return t.Round(time.Second), true
	}
	for _, layout := range []string{
		"2006-01-02T15:04:05",
		time.RFC3339,
		"2006-01-02 15:04:05",
		"2006-01-02",
	} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// cellString renders a raw cell value. Numeric cells arrive as float64 from
// the API's JSON decoding.
func cellString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", t)
	}
}
