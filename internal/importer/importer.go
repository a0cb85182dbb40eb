// Package importer turns bank export files into canonical ledger items.
//
// Each source format is an Importer. ImportFiles tries the registered
// importers in order against every file and stores whatever the first
// matching importer produced. Unknown formats are reported, not fatal.
package importer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/dvloznov/budget-sync/internal/ledger"
	"github.com/dvloznov/budget-sync/internal/logger"
	"github.com/dvloznov/budget-sync/internal/store"
)

// ErrFormat is returned by an Importer that does not recognize the input.
// ImportFiles treats it as "try the next importer", any other error aborts.
var ErrFormat = errors.New("unrecognized input format")

// Importer parses one source format into ledger items.
type Importer interface {
	// Name identifies the importer in logs and CLI output.
	Name() string
	// Import parses the full input. It returns ErrFormat when the input is
	// not in this importer's format.
	Import(r *bytes.Reader) ([]ledger.Item, error)
}

// Registry returns the known importers in matching order. More specific
// formats come first so the generic CSV importer cannot shadow them.
func Registry(account string) []Importer {
	return []Importer{
		&PayPalCSV{},
		&BankCSV{Account: account},
	}
}

// ImportFiles parses every path with the first importer that accepts it and
// stores the items with the SKIP duplicate policy, so re-importing the same
// export is harmless. When months is non-empty, items outside those months
// are dropped before storing. It returns the number of items handed to the
// store.
func ImportFiles(ctx context.Context, st *store.Store, importers []Importer, paths []string, months []string) (int, error) {
	log := logger.FromContext(ctx)

	monthSet := make(map[string]bool, len(months))
	for _, m := range months {
		monthSet[m] = true
	}

	total := 0
	for _, path := range paths {
		raw, err := os.ReadFile(path)
		if err != nil {
			return total, fmt.Errorf("ImportFiles: %w", err)
		}

		items, name, err := parseWithAny(importers, raw)
		if err != nil {
			if errors.Is(err, ErrFormat) {
				log.Warn().Str("path", path).Msg("no importer recognized the file, skipping")
				continue
			}
			return total, fmt.Errorf("ImportFiles: parsing %s: %w", path, err)
		}

		if len(monthSet) > 0 {
			kept := items[:0]
			for _, item := range items {
				if monthSet[item.Month()] {
					kept = append(kept, item)
				}
			}
			items = kept
		}

		if err := st.Insert(ctx, items, store.Skip); err != nil {
			return total, fmt.Errorf("ImportFiles: storing %s: %w", path, err)
		}
		total += len(items)

		log.Info().
			Str("path", path).
			Str("importer", name).
			Int("items", len(items)).
			Msg("imported file")
	}
	return total, nil
}

func parseWithAny(importers []Importer, raw []byte) ([]ledger.Item, string, error) {
	for _, imp := range importers {
		items, err := imp.Import(bytes.NewReader(raw))
		if err == nil {
			return items, imp.Name(), nil
		}
		if !errors.Is(err, ErrFormat) {
			return nil, imp.Name(), err
		}
	}
	return nil, "", ErrFormat
}
