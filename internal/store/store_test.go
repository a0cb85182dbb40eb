package store

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dvloznov/budget-sync/internal/ledger"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testItem(account, description string, day int, amount string) ledger.Item {
	dt := time.Date(2023, 2, day, 0, 0, 0, 0, time.UTC)
	amt := decimal.RequireFromString(amount)
	return ledger.Item{
		TxID:        ledger.DeriveTxID(account, dt, amt, description),
		TxDatetime:  dt,
		Amount:      amt,
		Currency:    "EUR",
		Description: description,
		Account:     account,
		Type:        ledger.TypeExpense,
	}
}

func TestInsertSkipIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// The same CSV row imported twice must leave exactly one dirty row.
	item := testItem("Bank", "Groceries", 18, "-50.92")
	for i := 0; i < 2; i++ {
		if err := s.Insert(ctx, []ledger.Item{item}, Skip); err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
	}

	items, err := s.Filter(ctx)
	if err != nil {
		t.Fatalf("filter: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("expected 1 row after double import, got %d", len(items))
	}
	if !items[0].ToSync {
		t.Errorf("imported row should be marked dirty")
	}
	if !items[0].Amount.Equal(decimal.RequireFromString("-50.92")) {
		t.Errorf("amount round-trip failed: %s", items[0].Amount)
	}
}

func TestInsertSkipKeepsLocalEdits(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	item := testItem("Bank", "Groceries", 18, "-50.92")
	if err := s.Insert(ctx, []ledger.Item{item}, Skip); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := s.SetAugmentedData(ctx, []ledger.AugmentedData{{TxID: item.TxID, Category: "Food"}}); err != nil {
		t.Fatalf("set augmented: %v", err)
	}

	// A re-import of the same source row must not disturb the local copy.
	if err := s.Insert(ctx, []ledger.Item{item}, Skip); err != nil {
		t.Fatalf("re-insert: %v", err)
	}

	items, err := s.Filter(ctx)
	if err != nil {
		t.Fatalf("filter: %v", err)
	}
	if items[0].Augmented == nil || items[0].Augmented.Category != "Food" {
		t.Errorf("re-import clobbered augmentation: %+v", items[0].Augmented)
	}
}

func TestInsertRaiseOnDuplicate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	item := testItem("Bank", "Groceries", 18, "-50.92")
	if err := s.Insert(ctx, []ledger.Item{item}, Raise); err != nil {
		t.Fatalf("first insert: %v", err)
	}

	other := testItem("Bank", "Rent", 19, "-900.00")
	err := s.Insert(ctx, []ledger.Item{other, item}, Raise)
	if !errors.Is(err, ErrDuplicateItem) {
		t.Fatalf("expected ErrDuplicateItem, got %v", err)
	}

	// The collision must not leave partial rows: "Rent" rolls back too.
	items, err := s.Filter(ctx)
	if err != nil {
		t.Fatalf("filter: %v", err)
	}
	if len(items) != 1 {
		t.Errorf("expected 1 row after failed batch, got %d", len(items))
	}
}

func TestInsertReplaceOverwritesAndClearsDirty(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	item := testItem("Bank", "Groceries", 18, "-50.92")
	if err := s.Insert(ctx, []ledger.Item{item}, Skip); err != nil {
		t.Fatalf("insert: %v", err)
	}

	edited := item
	edited.Description = "Groceries (edited remotely)"
	if err := s.Insert(ctx, []ledger.Item{edited}, Replace); err != nil {
		t.Fatalf("replace: %v", err)
	}

	items, err := s.Filter(ctx)
	if err != nil {
		t.Fatalf("filter: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("expected 1 row, got %d", len(items))
	}
	if items[0].Description != "Groceries (edited remotely)" {
		t.Errorf("replace did not overwrite: %q", items[0].Description)
	}
	if items[0].ToSync {
		t.Errorf("replaced row should not be dirty: the remote is authoritative")
	}
}

func TestSetAugmentedDataMergeOnly(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	item := testItem("Bank", "Groceries", 18, "-50.92")
	if err := s.Insert(ctx, []ledger.Item{item}, Skip); err != nil {
		t.Fatalf("insert: %v", err)
	}

	set := func(o ledger.AugmentedData) {
		t.Helper()
		o.TxID = item.TxID
		if err := s.SetAugmentedData(ctx, []ledger.AugmentedData{o}); err != nil {
			t.Fatalf("set augmented: %v", err)
		}
	}
	get := func() *ledger.AugmentedData {
		t.Helper()
		items, err := s.Filter(ctx)
		if err != nil {
			t.Fatalf("filter: %v", err)
		}
		return items[0].Augmented
	}

	set(ledger.AugmentedData{Category: "Food"})
	if got := get(); got.Category != "Food" {
		t.Fatalf("category not set: %+v", got)
	}

	// An overlay with only a counterparty must not disturb category.
	set(ledger.AugmentedData{Counterparty: "Tesco"})
	if got := get(); got.Category != "Food" || got.Counterparty != "Tesco" {
		t.Errorf("field-level merge broke: %+v", got)
	}

	// A non-empty category replaces the present one.
	set(ledger.AugmentedData{Category: "Transport"})
	if got := get(); got.Category != "Transport" {
		t.Errorf("category not replaced: %+v", got)
	}

	// An entirely empty overlay is logically absent and a no-op.
	set(ledger.AugmentedData{})
	if got := get(); got.Category != "Transport" || got.Counterparty != "Tesco" {
		t.Errorf("empty overlay reverted fields: %+v", got)
	}
}

func TestMonthDataAndDirtyGrouping(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	feb := testItem("Bank", "Groceries", 18, "-50.92")
	mar := feb
	mar.TxDatetime = time.Date(2023, 3, 2, 0, 0, 0, 0, time.UTC)
	mar.TxID = ledger.DeriveTxID(mar.Account, mar.TxDatetime, mar.Amount, mar.Description)
	if err := s.Insert(ctx, []ledger.Item{feb, mar}, Skip); err != nil {
		t.Fatalf("insert: %v", err)
	}

	got, err := s.MonthData(ctx, "2023-02")
	if err != nil {
		t.Fatalf("month data: %v", err)
	}
	if len(got) != 1 || got[0].TxID != feb.TxID {
		t.Fatalf("expected only the February row, got %d rows", len(got))
	}

	if err := s.MarkMonthSynced(ctx, "2023-02"); err != nil {
		t.Fatalf("mark synced: %v", err)
	}
	batches, err := s.UpdatedDataByMonth(ctx)
	if err != nil {
		t.Fatalf("updated data: %v", err)
	}
	if len(batches) != 1 || batches[0].Month != "2023-03" {
		t.Fatalf("expected only 2023-03 dirty, got %+v", batches)
	}

	months, err := s.Months(ctx)
	if err != nil {
		t.Fatalf("months: %v", err)
	}
	if len(months) != 2 || months[0] != "2023-02" || months[1] != "2023-03" {
		t.Errorf("months listing wrong: %v", months)
	}
}

func TestFilterPredicates(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a := testItem("Bank", "Groceries", 10, "-10.00")
	b := testItem("Wallet", "Coffee", 20, "-2.50")
	if err := s.Insert(ctx, []ledger.Item{a, b}, Skip); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := s.SetAugmentedData(ctx, []ledger.AugmentedData{{TxID: a.TxID, Category: "Food"}}); err != nil {
		t.Fatalf("set augmented: %v", err)
	}

	tests := []struct {
		name  string
		preds []Predicate
		want  []string
	}{
		{"eq account", []Predicate{Eq("account", "Bank")}, []string{a.TxID}},
		{"gte datetime", []Predicate{Gte("tx_datetime", "2023-02-15")}, []string{b.TxID}},
		{"category unset", []Predicate{IsNull("category", true)}, []string{b.TxID}},
		{"category set", []Predicate{IsNull("category", false)}, []string{a.TxID}},
		{"conjunction", []Predicate{Eq("account", "Bank"), IsNull("category", true)}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			items, err := s.Filter(ctx, tt.preds...)
			if err != nil {
				t.Fatalf("filter: %v", err)
			}
			if len(items) != len(tt.want) {
				t.Fatalf("got %d rows, want %d", len(items), len(tt.want))
			}
			for i := range tt.want {
				if items[i].TxID != tt.want[i] {
					t.Errorf("row %d: got %s, want %s", i, items[i].TxID, tt.want[i])
				}
			}
		})
	}

	if _, err := s.Filter(ctx, Eq("no_such_field", 1)); err == nil {
		t.Errorf("expected an error for an unknown filter field")
	}
}

func TestDelete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	item := testItem("Bank", "Groceries", 18, "-50.92")
	if err := s.Insert(ctx, []ledger.Item{item}, Skip); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := s.SetAugmentedData(ctx, []ledger.AugmentedData{{TxID: item.TxID, Category: "Food"}}); err != nil {
		t.Fatalf("set augmented: %v", err)
	}

	if err := s.Delete(ctx, []string{item.TxID}); err != nil {
		t.Fatalf("delete: %v", err)
	}
	items, err := s.Filter(ctx)
	if err != nil {
		t.Fatalf("filter: %v", err)
	}
	if len(items) != 0 {
		t.Errorf("expected empty store after delete, got %d rows", len(items))
	}
}

func TestDump(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	item := testItem("Bank", "Groceries", 18, "-50.92")
	if err := s.Insert(ctx, []ledger.Item{item}, Skip); err != nil {
		t.Fatalf("insert: %v", err)
	}

	var buf bytes.Buffer
	if err := s.Dump(ctx, &buf, "ledger_items"); err != nil {
		t.Fatalf("dump: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected header plus one row, got %d lines", len(lines))
	}
	if !strings.HasPrefix(lines[0], "tx_id,") {
		t.Errorf("unexpected header: %s", lines[0])
	}
	if !strings.Contains(lines[1], item.TxID) {
		t.Errorf("row is missing the tx id: %s", lines[1])
	}

	if err := s.Dump(ctx, &buf, "sqlite_master"); err == nil {
		t.Errorf("expected an error for a non-whitelisted table")
	}
}

func TestMigrationsApplyOnce(t *testing.T) {
	s := newTestStore(t)

	var version int
	if err := s.db.QueryRow(`PRAGMA user_version`).Scan(&version); err != nil {
		t.Fatalf("reading version: %v", err)
	}
	if version != migrations[len(migrations)-1].version {
		t.Fatalf("expected schema version %d, got %d", migrations[len(migrations)-1].version, version)
	}

	// Re-running against an up-to-date database must be a no-op, not a
	// "table already exists" failure.
	if err := migrate(s.db); err != nil {
		t.Fatalf("re-migrating: %v", err)
	}
}
