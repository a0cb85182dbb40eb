package classify

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"google.golang.org/genai"

	"github.com/dvloznov/budget-sync/internal/ledger"
)

// GeminiModelName is the model used for category guessing.
const GeminiModelName = "gemini-2.5-flash"

// Gemini asks a Gemini model to pick a category and counterparty for a
// transaction. Training only collects the known category vocabulary; the
// model itself is not fine-tuned.
type Gemini struct {
	categories []string
}

func NewGemini() *Gemini {
	return &Gemini{}
}

func (g *Gemini) Name() string { return "gemini" }

// Train records the distinct categories seen in the items. Guesses are
// constrained to this vocabulary so the model cannot invent new buckets.
func (g *Gemini) Train(items []ledger.Item) error {
	seen := make(map[string]bool)
	for _, item := range items {
		if item.Augmented != nil && item.Augmented.Category != "" {
			seen[item.Augmented.Category] = true
		}
	}
	if len(seen) == 0 {
		return fmt.Errorf("Gemini.Train: no categorized items to build a vocabulary from")
	}
	g.categories = g.categories[:0]
	for c := range seen {
		g.categories = append(g.categories, c)
	}
	sort.Strings(g.categories)
	return nil
}

type geminiGuess struct {
	Category     string `json:"category"`
	Counterparty string `json:"counterparty"`
}

func (g *Gemini) Guess(ctx context.Context, item ledger.Item) (ledger.AugmentedData, error) {
	if len(g.categories) == 0 {
		return ledger.AugmentedData{}, fmt.Errorf("Gemini.Guess: no category vocabulary, run train first")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		HTTPOptions: genai.HTTPOptions{APIVersion: "v1"},
	})
	if err != nil {
		return ledger.AugmentedData{}, fmt.Errorf("Gemini.Guess: create genai client: %w", err)
	}

	prompt := "You are a personal finance categorizer.\n\n" +
		"Pick the best category for the transaction below. You MUST pick one of:\n" +
		strings.Join(g.categories, ", ") + "\n\n" +
		"Transaction:\n" +
		"- description: " + item.Description + "\n" +
		"- account: " + item.Account + "\n" +
		"- amount: " + item.Amount.StringFixed(2) + " " + item.Currency + "\n\n" +
		"Also extract the merchant or counterparty name from the description if present.\n" +
		"Output STRICT JSON only, no Markdown, shaped as:\n" +
		"{\"category\": string, \"counterparty\": string or \"\"}\n"

	contents := []*genai.Content{
		{
			Role:  "user",
			Parts: []*genai.Part{{Text: prompt}},
		},
	}

	resp, err := client.Models.GenerateContent(ctx, GeminiModelName, contents, nil)
	if err != nil {
		return ledger.AugmentedData{}, fmt.Errorf("Gemini.Guess: generate content: %w", err)
	}
	raw := resp.Text()
	if raw == "" {
		return ledger.AugmentedData{}, fmt.Errorf("Gemini.Guess: empty response from model")
	}

	var guess geminiGuess
	if err := json.Unmarshal([]byte(cleanModelJSON(raw)), &guess); err != nil {
		return ledger.AugmentedData{}, fmt.Errorf("Gemini.Guess: unmarshal response: %w\nraw response: %s", err, raw)
	}

	overlay := ledger.AugmentedData{TxID: item.TxID, Counterparty: guess.Counterparty}
	// Reject hallucinated categories.
	for _, c := range g.categories {
		if c == guess.Category {
			overlay.Category = c
			break
		}
	}
	return overlay, nil
}

// cleanModelJSON strips Markdown fences and surrounding prose the model may
// emit despite the instructions.
func cleanModelJSON(raw string) string {
	s := strings.TrimSpace(raw)

	if strings.HasPrefix(s, "```") {
		if idx := strings.Index(s, "\n"); idx != -1 {
			s = s[idx+1:]
		} else {
			return s
		}
		s = strings.TrimSpace(s)
	}
	if idx := strings.LastIndex(s, "```"); idx != -1 {
		s = s[:idx]
	}
	s = strings.TrimSpace(s)

	if start := strings.Index(s, "{"); start != -1 {
		if end := strings.LastIndex(s, "}"); end != -1 && end > start {
			s = s[start : end+1]
		}
	}
	return strings.TrimSpace(s)
}
