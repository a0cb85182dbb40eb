// Package classify guesses augmentation fields for ledger items that a
// human has not categorized yet. Guesses are merge-only overlays: they never
// overwrite values already present in the store.
package classify

import (
	"context"
	"fmt"
	"strings"

	"github.com/dvloznov/budget-sync/internal/ledger"
)

// Classifier guesses augmentation fields from an item's raw attributes.
type Classifier interface {
	// Name identifies the classifier in logs and CLI output.
	Name() string
	// Train fits the classifier on items whose augmentation is already
	// known. Items without a category are ignored.
	Train(items []ledger.Item) error
	// Guess returns a merge-only overlay for the item. An empty overlay
	// means the classifier has no opinion.
	Guess(ctx context.Context, item ledger.Item) (ledger.AugmentedData, error)
}

// Registry maps classifier names to constructors requiring no state.
// Stateful classifiers (Bayes with a model file, Gemini with credentials)
// are built by the caller and looked up by Name.
func Registry(classifiers ...Classifier) map[string]Classifier {
	reg := make(map[string]Classifier, len(classifiers))
	for _, c := range classifiers {
		reg[c.Name()] = c
	}
	return reg
}

// Lookup returns the named classifier or an error listing the known names.
func Lookup(reg map[string]Classifier, name string) (Classifier, error) {
	if c, ok := reg[name]; ok {
		return c, nil
	}
	names := make([]string, 0, len(reg))
	for n := range reg {
		names = append(names, n)
	}
	return nil, fmt.Errorf("Lookup: unknown classifier %q (have: %s)", name, strings.Join(names, ", "))
}

// tokenize splits an item's textual attributes into lowercased words for
// the statistical classifiers.
func tokenize(item ledger.Item) []string {
	raw := strings.Fields(strings.ToLower(item.Description + " " + item.Account))
	tokens := raw[:0]
	for _, w := range raw {
		w = strings.Trim(w, ".,;:!?()[]\"'")
		if w != "" {
			tokens = append(tokens, w)
		}
	}
	return tokens
}
