package classify

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dvloznov/budget-sync/internal/ledger"
)

func trainedItem(description, category, counterparty string) ledger.Item {
	dt := time.Date(2023, 2, 1, 0, 0, 0, 0, time.UTC)
	amt := decimal.NewFromInt(-10)
	item := ledger.Item{
		TxID:        ledger.DeriveTxID("Bank", dt, amt, description),
		TxDatetime:  dt,
		Amount:      amt,
		Currency:    "EUR",
		Description: description,
		Account:     "Bank",
		Type:        ledger.TypeExpense,
	}
	item.Augmented = &ledger.AugmentedData{
		TxID:         item.TxID,
		Category:     category,
		Counterparty: counterparty,
	}
	return item
}

func trainingSet() []ledger.Item {
	return []ledger.Item{
		trainedItem("TESCO STORES 3029", "Food", "Tesco"),
		trainedItem("TESCO EXPRESS LONDON", "Food", "Tesco"),
		trainedItem("SAINSBURYS S/MKT", "Food", "Sainsburys"),
		trainedItem("TFL TRAVEL CHARGE", "Transport", "TfL"),
		trainedItem("TFL TRAVEL CH", "Transport", "TfL"),
		trainedItem("UBER TRIP HELP.UBER.COM", "Transport", "Uber"),
	}
}

func TestBayesGuessesTrainedFields(t *testing.T) {
	b := NewBayes(t.TempDir())
	if err := b.Train(trainingSet()); err != nil {
		t.Fatalf("train: %v", err)
	}

	query := trainedItem("TESCO STORES 1771", "", "")
	query.Augmented = nil
	overlay, err := b.Guess(context.Background(), query)
	if err != nil {
		t.Fatalf("guess: %v", err)
	}
	if overlay.TxID != query.TxID {
		t.Errorf("overlay carries wrong tx id: %q", overlay.TxID)
	}
	if overlay.Category != "Food" {
		t.Errorf("category = %q, want Food", overlay.Category)
	}
	if overlay.Counterparty != "Tesco" {
		t.Errorf("counterparty = %q, want Tesco", overlay.Counterparty)
	}
}

func TestBayesModelRoundTripsThroughDisk(t *testing.T) {
	dir := t.TempDir()
	trainer := NewBayes(dir)
	if err := trainer.Train(trainingSet()); err != nil {
		t.Fatalf("train: %v", err)
	}

	// A fresh instance must lazily load the persisted models.
	fresh := NewBayes(dir)
	query := trainedItem("UBER TRIP", "", "")
	query.Augmented = nil
	overlay, err := fresh.Guess(context.Background(), query)
	if err != nil {
		t.Fatalf("guess after reload: %v", err)
	}
	if overlay.Category != "Transport" {
		t.Errorf("category after reload = %q, want Transport", overlay.Category)
	}
}

func TestBayesTrainRejectsSingleClass(t *testing.T) {
	b := NewBayes(t.TempDir())
	err := b.Train([]ledger.Item{
		trainedItem("TESCO", "Food", ""),
		trainedItem("SAINSBURYS", "Food", ""),
	})
	if err == nil {
		t.Fatal("expected an error for a single-class training set")
	}
}

func TestGeminiTrainCollectsVocabulary(t *testing.T) {
	g := NewGemini()
	if err := g.Train(trainingSet()); err != nil {
		t.Fatalf("train: %v", err)
	}
	want := []string{"Food", "Transport"}
	if len(g.categories) != len(want) {
		t.Fatalf("categories = %v", g.categories)
	}
	for i, c := range want {
		if g.categories[i] != c {
			t.Errorf("categories[%d] = %q, want %q", i, g.categories[i], c)
		}
	}
}

func TestCleanModelJSON(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{`{"category": "Food", "counterparty": "Tesco"}`, `{"category": "Food", "counterparty": "Tesco"}`},
		{"```json\n{\"category\": \"Food\"}\n```", `{"category": "Food"}`},
		{"Sure! Here is the JSON:\n{\"category\": \"Food\"}\nHope this helps.", `{"category": "Food"}`},
	}
	for _, c := range cases {
		if got := cleanModelJSON(c.in); got != c.want {
			t.Errorf("cleanModelJSON(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestRegistryLookup(t *testing.T) {
	reg := Registry(NewBayes(t.TempDir()), NewGemini())
	if _, err := Lookup(reg, "bayes"); err != nil {
		t.Errorf("bayes not registered: %v", err)
	}
	if _, err := Lookup(reg, "oracle"); err == nil {
		t.Error("expected an error for an unknown classifier")
	}
}
