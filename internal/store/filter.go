package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dvloznov/budget-sync/internal/ledger"
)

// op is a filter comparison operator.
type op int

const (
	opEq op = iota
	opGte
	opIsNull
)

// Predicate is one field condition; Filter combines predicates as a
// conjunction. Fields are checked against a whitelist, so a predicate over an
// unknown field fails the query instead of producing malformed SQL.
type Predicate struct {
	field string
	op    op
	value any
}

// Eq matches rows whose field equals value.
func Eq(field string, value any) Predicate {
	return Predicate{field: field, op: opEq, value: value}
}

// Gte matches rows whose field is greater than or equal to value.
func Gte(field string, value any) Predicate {
	return Predicate{field: field, op: opGte, value: value}
}

// IsNull matches rows whose field is null (or not null, with null=false).
func IsNull(field string, null bool) Predicate {
	return Predicate{field: field, op: opIsNull, value: null}
}

// filterColumns maps predicate field names to their qualified columns in the
// joined query.
var filterColumns = map[string]string{
	"tx_id":            "li.tx_id",
	"tx_datetime":      "li.tx_datetime",
	"amount":           "li.amount",
	"currency":         "li.currency",
	"description":      "li.description",
	"account":          "li.account",
	"ledger_item_type": "li.ledger_item_type",
	"to_sync":          "li.to_sync",
	"amount_eur":       "ad.amount_eur",
	"counterparty":     "ad.counterparty",
	"category":         "ad.category",
	"sub_category":     "ad.sub_category",
	"event_name":       "ad.event_name",
}

const filterQuery = `
	SELECT li.tx_id, li.tx_datetime, li.amount, li.currency, li.description,
	       li.account, li.ledger_item_type, li.to_sync,
	       ad.amount_eur, ad.counterparty, ad.category, ad.sub_category, ad.event_name
	FROM ledger_items li
	LEFT JOIN augmented_data ad ON ad.tx_id = li.tx_id`

// Filter returns every item matching all the given predicates, ordered by
// timestamp. With no predicates it returns the whole store.
func (s *Store) Filter(ctx context.Context, preds ...Predicate) ([]ledger.Item, error) {
	conds := []string{"1 = 1"}
	var args []any
	for _, p := range preds {
		col, ok := filterColumns[p.field]
		if !ok {
			return nil, fmt.Errorf("filter: unknown field %q", p.field)
		}
		switch p.op {
		case opEq:
			conds = append(conds, col+" = ?")
			args = append(args, bindValue(p.value))
		case opGte:
			conds = append(conds, col+" >= ?")
			args = append(args, bindValue(p.value))
		case opIsNull:
			if null, _ := p.value.(bool); null {
				conds = append(conds, col+" IS NULL")
			} else {
				conds = append(conds, col+" IS NOT NULL")
			}
		}
	}

	query := filterQuery + "\n\tWHERE " + strings.Join(conds, " AND ") + "\n\tORDER BY li.tx_datetime, li.tx_id"
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("filter: %w", err)
	}
	defer rows.Close()

	var items []ledger.Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("filter: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// bindValue converts model types to their stored representation.
func bindValue(v any) any {
	switch t := v.(type) {
	case time.Time:
		return t.Format(timeLayout)
	case decimal.Decimal:
		return t.String()
	case ledger.ItemType:
		return string(t)
	case bool:
		if t {
			return 1
		}
		return 0
	default:
		return v
	}
}
