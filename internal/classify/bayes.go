package classify

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/jbrukh/bayesian"

	"github.com/dvloznov/budget-sync/internal/ledger"
)

// Bayes is a naive-Bayes classifier over transaction descriptions. It
// trains one model per target field, so a learned counterparty does not
// influence category scores and vice versa.
type Bayes struct {
	// Dir holds the persisted models, one file per field.
	Dir string

	category     *bayesian.Classifier
	counterparty *bayesian.Classifier
}

func NewBayes(dir string) *Bayes {
	return &Bayes{Dir: dir}
}

func (b *Bayes) Name() string { return "bayes" }

const (
	categoryModel     = "category.model"
	counterpartyModel = "counterparty.model"
)

// Train fits both field models on the already-categorized items and writes
// them to Dir. A field with fewer than two distinct values cannot be
// modeled and is skipped.
func (b *Bayes) Train(items []ledger.Item) error {
	b.category = trainField(items, func(a *ledger.AugmentedData) string { return a.Category })
	b.counterparty = trainField(items, func(a *ledger.AugmentedData) string { return a.Counterparty })
	if b.category == nil && b.counterparty == nil {
		return fmt.Errorf("Bayes.Train: need items with at least two distinct categories or counterparties")
	}
	return b.save()
}

func trainField(items []ledger.Item, value func(*ledger.AugmentedData) string) *bayesian.Classifier {
	byClass := make(map[string][][]string)
	for _, item := range items {
		if item.Augmented == nil {
			continue
		}
		v := value(item.Augmented)
		if v == "" {
			continue
		}
		byClass[v] = append(byClass[v], tokenize(item))
	}
	if len(byClass) < 2 {
		return nil
	}

	names := make([]string, 0, len(byClass))
	for name := range byClass {
		names = append(names, name)
	}
	sort.Strings(names)

	classes := make([]bayesian.Class, len(names))
	for i, name := range names {
		classes[i] = bayesian.Class(name)
	}
	clf := bayesian.NewClassifier(classes...)
	for _, name := range names {
		for _, tokens := range byClass[name] {
			clf.Learn(tokens, bayesian.Class(name))
		}
	}
	return clf
}

// Guess scores the item against both models. Ambiguous scores (a tie for
// the best class) produce no guess for that field.
func (b *Bayes) Guess(_ context.Context, item ledger.Item) (ledger.AugmentedData, error) {
	if b.category == nil && b.counterparty == nil {
		if err := b.load(); err != nil {
			return ledger.AugmentedData{}, fmt.Errorf("Bayes.Guess: %w", err)
		}
	}

	tokens := tokenize(item)
	overlay := ledger.AugmentedData{TxID: item.TxID}
	overlay.Category = guessField(b.category, tokens)
	overlay.Counterparty = guessField(b.counterparty, tokens)
	return overlay, nil
}

func guessField(clf *bayesian.Classifier, tokens []string) string {
	if clf == nil || len(tokens) == 0 {
		return ""
	}
	_, inx, strict := clf.LogScores(tokens)
	if !strict {
		return ""
	}
	return string(clf.Classes[inx])
}

func (b *Bayes) save() error {
	if err := os.MkdirAll(b.Dir, 0o755); err != nil {
		return fmt.Errorf("Bayes.save: %w", err)
	}
	for _, m := range []struct {
		clf  *bayesian.Classifier
		file string
	}{
		{b.category, categoryModel},
		{b.counterparty, counterpartyModel},
	} {
		if m.clf == nil {
			continue
		}
		if err := m.clf.WriteToFile(filepath.Join(b.Dir, m.file)); err != nil {
			return fmt.Errorf("Bayes.save: %s: %w", m.file, err)
		}
	}
	return nil
}

func (b *Bayes) load() error {
	loaded := 0
	if clf, err := bayesian.NewClassifierFromFile(filepath.Join(b.Dir, categoryModel)); err == nil {
		b.category = clf
		loaded++
	}
	if clf, err := bayesian.NewClassifierFromFile(filepath.Join(b.Dir, counterpartyModel)); err == nil {
		b.counterparty = clf
		loaded++
	}
	if loaded == 0 {
		return fmt.Errorf("no trained models in %s, run train first", b.Dir)
	}
	return nil
}
