// Package pricefeed consumes the external spot gold price. The engine never
// discovers prices itself; it reads a USD-per-gram quote from an HTTP source
// and keeps the last good value for pricing and conversions.
package pricefeed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// GramsPerTroyOunce converts ounce quotes to gram quotes
var GramsPerTroyOunce = decimal.RequireFromString("31.1034768")

// ErrNoPrice is returned when no usable quote is available
var ErrNoPrice = errors.New("no spot price available")

// Rate is one spot quote
type Rate struct {
	USDPerGram decimal.Decimal `json:"usd_per_gram"`
	Source     string          `json:"source"`
	FetchedAt  time.Time       `json:"fetched_at"`
}

// Source fetches a fresh quote
type Source interface {
	Fetch(ctx context.Context) (Rate, error)
}

// HTTPSource reads a JSON quote from a URL. Either field may be present;
// usd_per_gram wins when both are.
type HTTPSource struct {
	URL    string
	client *http.Client
}

type quoteBody struct {
	USDPerGram  decimal.NullDecimal `json:"usd_per_gram"`
	USDPerOunce decimal.NullDecimal `json:"usd_per_ounce"`
}

// NewHTTPSource returns a source with a 10s client timeout
func NewHTTPSource(url string) *HTTPSource {
	return &HTTPSource{URL: url, client: &http.Client{Timeout: 10 * time.Second}}
}

// Fetch implements Source
func (s *HTTPSource) Fetch(ctx context.Context) (Rate, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.URL, nil)
	if err != nil {
		return Rate{}, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := s.client.Do(req)
	if err != nil {
		return Rate{}, fmt.Errorf("price feed: %w", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if resp.StatusCode != http.StatusOK {
		return Rate{}, fmt.Errorf("price feed: %d %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	var q quoteBody
	if err := json.Unmarshal(body, &q); err != nil {
		return Rate{}, fmt.Errorf("price feed: decode: %w", err)
	}
	var perGram decimal.Decimal
	switch {
	case q.USDPerGram.Valid:
		perGram = q.USDPerGram.Decimal
	case q.USDPerOunce.Valid:
		perGram = q.USDPerOunce.Decimal.DivRound(GramsPerTroyOunce, 6)
	default:
		return Rate{}, fmt.Errorf("price feed: %w: response has no price field", ErrNoPrice)
	}
	if !perGram.IsPositive() {
		return Rate{}, fmt.Errorf("price feed: %w: non-positive price %s", ErrNoPrice, perGram)
	}
	return Rate{USDPerGram: perGram, Source: s.URL, FetchedAt: time.Now().UTC()}, nil
}

// Static always returns the same price. Used by tests and when no feed URL is configured.
type Static struct {
	Price decimal.Decimal
}

// Fetch implements Source
func (s Static) Fetch(context.Context) (Rate, error) {
	if !s.Price.IsPositive() {
		return Rate{}, ErrNoPrice
	}
	return Rate{USDPerGram: s.Price, Source: "static", FetchedAt: time.Now().UTC()}, nil
}
