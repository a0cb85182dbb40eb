package fx

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
)

// ecbDailyURL serves the ECB euro foreign exchange reference rates, one XML
// document updated every working day around 16:00 CET.
const ecbDailyURL = "https://www.ecb.europa.eu/stats/eurofxref/eurofxref-daily.xml"

// ECB converts using the ECB daily reference rates, fetched once per
// converter instance and cached in memory. The reference feed carries only
// the latest day, so historical dates convert at the latest rate; good
// enough for review-time normalization, not for accounting.
type ECB struct {
	client *http.Client
	url    string

	rates map[string]decimal.Decimal
	day   string
}

// NewECB builds a converter over the public ECB feed.
func NewECB(client *http.Client) *ECB {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &ECB{client: client, url: ecbDailyURL}
}

func (e *ECB) Convert(ctx context.Context, amount decimal.Decimal, currency string, _ time.Time) (decimal.Decimal, error) {
	if currency == "EUR" {
		return amount, nil
	}
	if e.rates == nil {
		if err := e.fetch(ctx); err != nil {
			return decimal.Decimal{}, err
		}
	}
	rate, ok := e.rates[currency]
	if !ok || rate.IsZero() {
		return decimal.Decimal{}, fmt.Errorf("ecb: no EUR rate for %s", currency)
	}
	return amount.DivRound(rate, 4), nil
}

// ecbEnvelope mirrors the feed's gesmes envelope, one Cube per currency.
type ecbEnvelope struct {
	Cube struct {
		Day struct {
			Time  string `xml:"time,attr"`
			Rates []struct {
				Currency string `xml:"currency,attr"`
				Rate     string `xml:"rate,attr"`
			} `xml:"Cube"`
		} `xml:"Cube"`
	} `xml:"Cube"`
}

func (e *ECB) fetch(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.url, nil)
	if err != nil {
		return fmt.Errorf("ecb: building request: %w", err)
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("ecb: fetching rates: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ecb: fetching rates: status %s", resp.Status)
	}

	rates, day, err := parseECB(resp.Body)
	if err != nil {
		return err
	}
	e.rates, e.day = rates, day
	return nil
}

func parseECB(r io.Reader) (map[string]decimal.Decimal, string, error) {
	var env ecbEnvelope
	if err := xml.NewDecoder(r).Decode(&env); err != nil {
		return nil, "", fmt.Errorf("ecb: decoding feed: %w", err)
	}
	rates := make(map[string]decimal.Decimal, len(env.Cube.Day.Rates))
	for _, cube := range env.Cube.Day.Rates {
		rate, err := decimal.NewFromString(cube.Rate)
		if err != nil {
			return nil, "", fmt.Errorf("ecb: bad rate %q for %s: %w", cube.Rate, cube.Currency, err)
		}
		rates[cube.Currency] = rate
	}
	if len(rates) == 0 {
		return nil, "", fmt.Errorf("ecb: feed carried no rates")
	}
	return rates, env.Cube.Day.Time, nil
}
