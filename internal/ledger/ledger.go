// Package ledger defines the canonical transaction model shared by the local
// store, the remote gateway and the importers, together with the deterministic
// transaction identity scheme that makes re-imports idempotent.
package ledger

import (
	"crypto/sha1"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ItemType classifies a ledger item.
type ItemType string

const (
	TypeTransfer ItemType = "transfer"
	TypeExpense  ItemType = "expense"
	TypeIncome   ItemType = "income"
)

// Item is one canonical financial event.
type Item struct {
	TxID        string          // primary key, see DeriveTxID
	TxDatetime  time.Time       // when the event was recorded by the source
	Amount      decimal.Decimal // signed, negative = outflow
	Currency    string          // three-letter code
	Description string          // source text, verbatim
	Account     string          // source account or wallet name
	Type        ItemType

	// ToSync marks an item that has not yet been reflected remotely.
	// Set on import and local update, cleared after a confirmed push.
	ToSync bool

	// Augmented is the optional classification overlay. Nil until the first
	// non-empty augmentation is written.
	Augmented *AugmentedData
}

// Month returns the item's calendar month as "YYYY-MM".
func (i Item) Month() string {
	return MonthOf(i.TxDatetime)
}

// AugmentedData is the mutable overlay keyed by transaction id. Empty string
// and an invalid AmountEUR mean "unset"; writers only ever fill or replace
// fields with non-empty values, never revert a present value to empty.
type AugmentedData struct {
	TxID         string
	AmountEUR    decimal.NullDecimal
	Counterparty string
	Category     string
	SubCategory  string
	EventName    string
}

// Empty reports whether every overlay field is unset. An empty overlay is
// logically absent.
func (a *AugmentedData) Empty() bool {
	if a == nil {
		return true
	}
	return !a.AmountEUR.Valid &&
		a.Counterparty == "" &&
		a.Category == "" &&
		a.SubCategory == "" &&
		a.EventName == ""
}

// Merge fills a's fields from o, non-empty fields of o winning per field.
func (a *AugmentedData) Merge(o *AugmentedData) {
	if o == nil {
		return
	}
	if o.AmountEUR.Valid {
		a.AmountEUR = o.AmountEUR
	}
	if o.Counterparty != "" {
		a.Counterparty = o.Counterparty
	}
	if o.Category != "" {
		a.Category = o.Category
	}
	if o.SubCategory != "" {
		a.SubCategory = o.SubCategory
	}
	if o.EventName != "" {
		a.EventName = o.EventName
	}
}

// txIDTimeLayout fixes the timestamp rendering inside the identity hash.
// Seconds precision, no zone: identical inputs must hash identically across
// processes regardless of locale or monotonic clock noise.
const txIDTimeLayout = "2006-01-02T15:04:05"

// DeriveTxID computes the stable identity of a transaction from its source
// fields. The amount is rendered with exactly two decimals and no thousands
// separators, and the description is used verbatim: trimming it would fork
// the identity of rows re-exported with whitespace drift.
//
// Sources that expose a natively unique transaction code should use that code
// as the TxID instead; a provider id is a more reliable identity than a hash.
func DeriveTxID(account string, dt time.Time, amount decimal.Decimal, description string) string {
	payload := account + "|" + dt.Format(txIDTimeLayout) + "|" + amount.StringFixed(2) + "|" + description
	return fmt.Sprintf("%x", sha1.Sum([]byte(payload)))
}

// Header is the canonical column order of a remote month partition. Row 1 of
// every partition carries exactly these names.
func Header() []string {
	return []string{
		"tx_id",
		"tx_datetime",
		"amount",
		"currency",
		"description",
		"account",
		"ledger_item_type",
		"amount_eur",
		"counterparty",
		"category",
		"sub_category",
		"event_name",
	}
}
