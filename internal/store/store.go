// Package store is the durable local home for ledger items and their
// classification overlay, backed by an embedded sqlite database.
//
// Every public method runs inside one transaction: a batch either fully
// commits or fully rolls back. The store is single-user: it opens a single
// connection and takes no locks, exactly one synchronization call owns it
// at a time.
package store

import (
	"context"
	"database/sql"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"github.com/dvloznov/budget-sync/internal/ledger"
)

// ErrDuplicateItem is returned by Insert with the Raise policy when a tx id
// already exists. The whole batch is rolled back.
var ErrDuplicateItem = errors.New("duplicate ledger item")

// DuplicatePolicy selects the behavior when an inserted tx id already exists.
type DuplicatePolicy string

const (
	// Raise fails the whole batch on any collision.
	Raise DuplicatePolicy = "raise"
	// Replace overwrites colliding rows fully and clears their dirty flag;
	// used when the remote is authoritative (pull).
	Replace DuplicatePolicy = "replace"
	// Skip inserts only new rows, marked dirty, and leaves colliding rows
	// untouched; used on import, where the local copy must win.
	Skip DuplicatePolicy = "skip"
)

// timeLayout is the stored timestamp format. ISO, seconds precision, no zone,
// so sqlite's strftime can bucket rows by month.
const timeLayout = "2006-01-02T15:04:05"

// Store wraps the sqlite database.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database at path and applies pending
// migrations. Use ":memory:" for an ephemeral store.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// One connection: transactions never contend, and an in-memory database
	// is not silently duplicated across pool connections.
	db.SetMaxOpenConns(1)
	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating db: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Insert writes a batch of ledger items under the given duplicate policy.
// Overlays attached to the items are applied in the same transaction.
func (s *Store) Insert(ctx context.Context, items []ledger.Item, policy DuplicatePolicy) error {
	if len(items) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("insert: begin: %w", err)
	}
	defer tx.Rollback()

	if policy == Raise {
		existing, err := existingIDs(ctx, tx, items)
		if err != nil {
			return fmt.Errorf("insert: %w", err)
		}
		if len(existing) > 0 {
			return fmt.Errorf("insert: tx_id %s: %w", existing[0], ErrDuplicateItem)
		}
	}

	var stmt string
	switch policy {
	case Raise:
		stmt = `INSERT INTO ledger_items
			(tx_id, tx_datetime, amount, currency, description, account, ledger_item_type, to_sync)
			VALUES (?, ?, ?, ?, ?, ?, ?, 1)`
	case Replace:
		stmt = `INSERT OR REPLACE INTO ledger_items
			(tx_id, tx_datetime, amount, currency, description, account, ledger_item_type, to_sync)
			VALUES (?, ?, ?, ?, ?, ?, ?, 0)`
	case Skip:
		stmt = `INSERT OR IGNORE INTO ledger_items
			(tx_id, tx_datetime, amount, currency, description, account, ledger_item_type, to_sync)
			VALUES (?, ?, ?, ?, ?, ?, ?, 1)`
	default:
		return fmt.Errorf("insert: unknown duplicate policy %q", policy)
	}

	var overlays []ledger.AugmentedData
	for _, item := range items {
		_, err := tx.ExecContext(ctx, stmt,
			item.TxID,
			item.TxDatetime.Format(timeLayout),
			item.Amount.String(),
			item.Currency,
			item.Description,
			item.Account,
			string(item.Type),
		)
		if err != nil {
			return fmt.Errorf("insert: tx_id %s: %w", item.TxID, err)
		}
		if !item.Augmented.Empty() {
			overlay := *item.Augmented
			overlay.TxID = item.TxID
			overlays = append(overlays, overlay)
		}
	}

	if err := setAugmentedData(ctx, tx, overlays); err != nil {
		return fmt.Errorf("insert: %w", err)
	}
	return tx.Commit()
}

// SetAugmentedData applies classification overlays: the row is created if
// absent, then every non-empty field is set, last writer wins per field.
// Unset fields never revert a present value (merge-only).
func (s *Store) SetAugmentedData(ctx context.Context, overlays []ledger.AugmentedData) error {
	if len(overlays) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("set augmented data: begin: %w", err)
	}
	defer tx.Rollback()
	if err := setAugmentedData(ctx, tx, overlays); err != nil {
		return fmt.Errorf("set augmented data: %w", err)
	}
	return tx.Commit()
}

func setAugmentedData(ctx context.Context, tx *sql.Tx, overlays []ledger.AugmentedData) error {
	for _, o := range overlays {
		if o.Empty() {
			continue
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO augmented_data (tx_id) VALUES (?)`, o.TxID); err != nil {
			return fmt.Errorf("creating overlay row %s: %w", o.TxID, err)
		}

		set := make([]string, 0, 5)
		args := make([]any, 0, 6)
		if o.AmountEUR.Valid {
			set = append(set, "amount_eur = ?")
			args = append(args, o.AmountEUR.Decimal.String())
		}
		if o.Counterparty != "" {
			set = append(set, "counterparty = ?")
			args = append(args, o.Counterparty)
		}
		if o.Category != "" {
			set = append(set, "category = ?")
			args = append(args, o.Category)
		}
		if o.SubCategory != "" {
			set = append(set, "sub_category = ?")
			args = append(args, o.SubCategory)
		}
		if o.EventName != "" {
			set = append(set, "event_name = ?")
			args = append(args, o.EventName)
		}
		args = append(args, o.TxID)

		stmt := "UPDATE augmented_data SET " + strings.Join(set, ", ") + " WHERE tx_id = ?"
		if _, err := tx.ExecContext(ctx, stmt, args...); err != nil {
			return fmt.Errorf("updating overlay %s: %w", o.TxID, err)
		}
	}
	return nil
}

// MonthData returns all items whose tx_datetime falls in the given
// "YYYY-MM" month, ordered by timestamp.
func (s *Store) MonthData(ctx context.Context, month string) ([]ledger.Item, error) {
	items, err := s.Filter(ctx, Gte("tx_datetime", month+"-01"))
	if err != nil {
		return nil, err
	}
	out := items[:0]
	for _, item := range items {
		if item.Month() == month {
			out = append(out, item)
		}
	}
	return out, nil
}

// MonthBatch is one month's worth of items, for the push path.
type MonthBatch struct {
	Month string
	Items []ledger.Item
}

// UpdatedDataByMonth returns all dirty items grouped by month, months in
// ascending order.
func (s *Store) UpdatedDataByMonth(ctx context.Context) ([]MonthBatch, error) {
	items, err := s.Filter(ctx, Eq("to_sync", true))
	if err != nil {
		return nil, err
	}
	byMonth := make(map[string][]ledger.Item)
	for _, item := range items {
		byMonth[item.Month()] = append(byMonth[item.Month()], item)
	}
	months := make([]string, 0, len(byMonth))
	for m := range byMonth {
		months = append(months, m)
	}
	sort.Strings(months)

	batches := make([]MonthBatch, 0, len(months))
	for _, m := range months {
		batches = append(batches, MonthBatch{Month: m, Items: byMonth[m]})
	}
	return batches, nil
}

// MarkMonthSynced clears the dirty flag for every item in the month. Call it
// only after a confirmed push of that month.
func (s *Store) MarkMonthSynced(ctx context.Context, month string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE ledger_items SET to_sync = 0 WHERE strftime('%Y-%m', tx_datetime) = ?`, month)
	if err != nil {
		return fmt.Errorf("mark month %s synced: %w", month, err)
	}
	return nil
}

// Months lists every month present in the store, ascending.
func (s *Store) Months(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT strftime('%Y-%m', tx_datetime) FROM ledger_items ORDER BY 1`)
	if err != nil {
		return nil, fmt.Errorf("listing months: %w", err)
	}
	defer rows.Close()

	var months []string
	for rows.Next() {
		var m string
		if err := rows.Scan(&m); err != nil {
			return nil, fmt.Errorf("listing months: %w", err)
		}
		months = append(months, m)
	}
	return months, rows.Err()
}

// Delete removes the given tx ids and their overlays.
func (s *Store) Delete(ctx context.Context, txIDs []string) error {
	if len(txIDs) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("delete: begin: %w", err)
	}
	defer tx.Rollback()

	for _, id := range txIDs {
		if _, err := tx.ExecContext(ctx, `DELETE FROM augmented_data WHERE tx_id = ?`, id); err != nil {
			return fmt.Errorf("delete overlay %s: %w", id, err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM ledger_items WHERE tx_id = ?`, id); err != nil {
			return fmt.Errorf("delete item %s: %w", id, err)
		}
	}
	return tx.Commit()
}

// Dump writes the full contents of a table to w as CSV, header first.
// For backup and audit; not part of the sync protocol.
func (s *Store) Dump(ctx context.Context, w io.Writer, table string) error {
	switch table {
	case "ledger_items", "augmented_data":
	default:
		return fmt.Errorf("dump: unknown table %q", table)
	}

	rows, err := s.db.QueryContext(ctx, "SELECT * FROM "+table)
	if err != nil {
		return fmt.Errorf("dump %s: %w", table, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return fmt.Errorf("dump %s: %w", table, err)
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(cols); err != nil {
		return fmt.Errorf("dump %s: %w", table, err)
	}

	vals := make([]sql.NullString, len(cols))
	ptrs := make([]any, len(cols))
	for i := range vals {
		ptrs[i] = &vals[i]
	}
	record := make([]string, len(cols))
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return fmt.Errorf("dump %s: %w", table, err)
		}
		for i, v := range vals {
			record[i] = v.String
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("dump %s: %w", table, err)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("dump %s: %w", table, err)
	}
	cw.Flush()
	return cw.Error()
}

func existingIDs(ctx context.Context, tx *sql.Tx, items []ledger.Item) ([]string, error) {
	placeholders := make([]string, len(items))
	args := make([]any, len(items))
	for i, item := range items {
		placeholders[i] = "?"
		args[i] = item.TxID
	}
	rows, err := tx.QueryContext(ctx,
		"SELECT tx_id FROM ledger_items WHERE tx_id IN ("+strings.Join(placeholders, ", ")+")",
		args...)
	if err != nil {
		return nil, fmt.Errorf("checking existing ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("checking existing ids: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// scanItem maps one joined row (ledger_items left join augmented_data) to a
// canonical item.
func scanItem(rows *sql.Rows) (ledger.Item, error) {
	var (
		item         ledger.Item
		dt, amount   string
		itemType     string
		toSync       int
		amountEUR    sql.NullString
		counterparty sql.NullString
		category     sql.NullString
		subCategory  sql.NullString
		eventName    sql.NullString
	)
	err := rows.Scan(
		&item.TxID, &dt, &amount, &item.Currency, &item.Description,
		&item.Account, &itemType, &toSync,
		&amountEUR, &counterparty, &category, &subCategory, &eventName,
	)
	if err != nil {
		return ledger.Item{}, fmt.Errorf("scanning item: %w", err)
	}

	item.TxDatetime, err = time.Parse(timeLayout, dt)
	if err != nil {
		return ledger.Item{}, fmt.Errorf("item %s: bad tx_datetime %q: %w", item.TxID, dt, err)
	}
	item.Amount, err = decimal.NewFromString(amount)
	if err != nil {
		return ledger.Item{}, fmt.Errorf("item %s: bad amount %q: %w", item.TxID, amount, err)
	}
	item.Type = ledger.ItemType(itemType)
	item.ToSync = toSync != 0

	overlay := ledger.AugmentedData{
		TxID:         item.TxID,
		Counterparty: counterparty.String,
		Category:     category.String,
		SubCategory:  subCategory.String,
		EventName:    eventName.String,
	}
	if amountEUR.Valid && amountEUR.String != "" {
		eur, err := decimal.NewFromString(amountEUR.String)
		if err != nil {
			return ledger.Item{}, fmt.Errorf("item %s: bad amount_eur %q: %w", item.TxID, amountEUR.String, err)
		}
		overlay.AmountEUR = decimal.NullDecimal{Decimal: eur, Valid: true}
	}
	if !overlay.Empty() {
		item.Augmented = &overlay
	}
	return item, nil
}
