package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const (
	latestPath  = "/prices/latest"
	historyPath = "/prices/history"
	dateLayout  = "2006-01-02"
)

// FeedOptions parameterise the HTTP fuel price feed.
type FeedOptions struct {
	BaseURL   string
	APIKey    string
	Source    string
	Timeout   time.Duration
	UserAgent string
}

// Feed fetches diesel prices from a JSON HTTP API.
type Feed struct {
	opts    FeedOptions
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
}

// NewFeed constructs a feed fetcher.
func NewFeed(opts FeedOptions, logger zerolog.Logger) *Feed {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if opts.Source == "" {
		opts.Source = "feed"
	}

	return &Feed{
		opts:    opts,
		logger:  logger.With().Str("component", "fuel_feed").Logger(),
		client:  &http.Client{Timeout: timeout},
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
	}
}

// FetchLatest returns the most recent price published for region.
func (f *Feed) FetchLatest(ctx context.Context, region, currency string) (FuelPrice, error) {
	q := url.Values{}
	q.Set("region", region)
	q.Set("currency", currency)

	payload, err := f.get(ctx, latestPath, q)
	if err != nil {
		return FuelPrice{}, err
	}

	var rec priceRecord
	if err := json.Unmarshal(payload, &rec); err != nil {
		return FuelPrice{}, fmt.Errorf("decode latest price: %w", err)
	}
	price, err := f.toFuelPrice(rec, region, currency)
	if err != nil {
		return FuelPrice{}, err
	}
	price.Raw = json.RawMessage(payload)
	return price, nil
}

// FetchHistory returns the prices published with from <= date < to, oldest first.
func (f *Feed) FetchHistory(ctx context.Context, region, currency string, from, to time.Time) ([]FuelPrice, error) {
	if !from.Before(to) {
		return nil, errors.New("history range is empty")
	}
	q := url.Values{}
	q.Set("region", region)
	q.Set("currency", currency)
	q.Set("from", from.UTC().Format(dateLayout))
	q.Set("to", to.UTC().Format(dateLayout))

	payload, err := f.get(ctx, historyPath, q)
	if err != nil {
		return nil, err
	}

	var res historyResponse
	if err := json.Unmarshal(payload, &res); err != nil {
		return nil, fmt.Errorf("decode price history: %w", err)
	}

	prices := make([]FuelPrice, 0, len(res.Prices))
	for _, rec := range res.Prices {
		price, err := f.toFuelPrice(rec, region, currency)
		if err != nil {
			return nil, err
		}
		if price.Date.Before(from) || !price.Date.Before(to) {
			continue
		}
		raw, err := json.Marshal(rec)
		if err != nil {
			return nil, err
		}
		price.Raw = raw
		prices = append(prices, price)
	}
	f.logger.Debug().Str("region", region).Int("prices", len(prices)).Msg("fetched price history")
	return prices, nil
}

func (f *Feed) get(ctx context.Context, path string, q url.Values) ([]byte, error) {
	if f.baseURL == "" {
		return nil, errors.New("fuel feed base url not configured")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.baseURL+path+"?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(f.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	} else {
		req.Header.Set("User-Agent", "freightctl/1.0")
	}
	if f.opts.APIKey != "" {
		req.Header.Set("X-API-Key", f.opts.APIKey)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, parseHTTPError(resp.StatusCode, payload)
	}
	return payload, nil
}

func (f *Feed) toFuelPrice(rec priceRecord, region, currency string) (FuelPrice, error) {
	date, err := time.Parse(dateLayout, rec.Date)
	if err != nil {
		return FuelPrice{}, fmt.Errorf("parse price date %q: %w", rec.Date, err)
	}
	price, err := decimal.NewFromString(rec.Price)
	if err != nil {
		return FuelPrice{}, fmt.Errorf("parse price: %w", err)
	}
	if !price.IsPositive() {
		return FuelPrice{}, fmt.Errorf("feed returned non-positive price %s", price)
	}

	if rec.Region != "" && !strings.EqualFold(rec.Region, region) {
		return FuelPrice{}, fmt.Errorf("feed returned region %q, asked for %q", rec.Region, region)
	}
	if rec.Currency != "" && !strings.EqualFold(rec.Currency, currency) {
		return FuelPrice{}, fmt.Errorf("feed returned currency %q, asked for %q", rec.Currency, currency)
	}

	source := rec.Source
	if source == "" {
		source = f.opts.Source
	}
	return FuelPrice{
		Date:     date,
		Region:   region,
		Currency: strings.ToUpper(currency),
		Source:   source,
		Price:    price,
		Official: rec.Official,
	}, nil
}

type priceRecord struct {
	Date     string `json:"date"`
	Region   string `json:"region,omitempty"`
	Currency string `json:"currency,omitempty"`
	Price    string `json:"price"`
	Source   string `json:"source,omitempty"`
	Official bool   `json:"official"`
}

type historyResponse struct {
	Prices []priceRecord `json:"prices"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func parseHTTPError(status int, payload []byte) error {
	var apiErr errorResponse
	if err := json.Unmarshal(payload, &apiErr); err == nil {
		if apiErr.Message != "" {
			return fmt.Errorf("fuel feed error (%d): %s", status, apiErr.Message)
		}
		if apiErr.Error != "" {
			return fmt.Errorf("fuel feed error (%d): %s", status, apiErr.Error)
		}
	}
	if len(payload) > 0 {
		return fmt.Errorf("fuel feed error (%d): %s", status, strings.TrimSpace(string(payload)))
	}
	return fmt.Errorf("fuel feed error (%d)", status)
}

var _ FuelPriceFetcher = (*Feed)(nil)
