// Package pricing provides month-end price and FX lookups for valuation
package pricing

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/bobmcallan/realperf/internal/common"
	"github.com/bobmcallan/realperf/internal/interfaces"
	"github.com/bobmcallan/realperf/internal/models"
)

// flexFloat64 handles JSON values that may be either a number or a string.
type flexFloat64 float64

func (f *flexFloat64) UnmarshalJSON(data []byte) error {
	var num float64
	if err := json.Unmarshal(data, &num); err == nil {
		*f = flexFloat64(num)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		if s == "" || s == "N/A" {
			*f = 0
			return nil
		}
		num, err := strconv.ParseFloat(s, 64)
		if err != nil {
			*f = 0
			return nil
		}
		*f = flexFloat64(num)
		return nil
	}
	return fmt.Errorf("cannot unmarshal %s into float64", string(data))
}

const (
	DefaultBaseURL   = "https://eodhd.com/api"
	DefaultTimeout   = 30 * time.Second
	DefaultRateLimit = 10 // requests per second

	// DefaultLookback is how far before a month end a close may be taken
	// from (weekends, holidays).
	DefaultLookback = 7 * 24 * time.Hour
)

// Client fetches end-of-day closes over HTTP and implements PriceLookup
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *common.Logger
	limiter    *rate.Limiter
	lookback   time.Duration
	symbolMap  func(string) string
}

// ClientOption configures the client
type ClientOption func(*Client)

// WithBaseURL sets the base URL
func WithBaseURL(baseURL string) ClientOption {
	return func(c *Client) {
		c.baseURL = baseURL
	}
}

// WithLogger sets the logger
func WithLogger(logger *common.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithRateLimit sets the rate limit
func WithRateLimit(requestsPerSecond int) ClientOption {
	return func(c *Client) {
		if requestsPerSecond > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), requestsPerSecond)
		}
	}
}

// WithTimeout sets the HTTP timeout
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.httpClient.Timeout = timeout
	}
}

// WithLookback sets how many days before the requested date a close is accepted
func WithLookback(d time.Duration) ClientOption {
	return func(c *Client) {
		c.lookback = d
	}
}

// WithSymbolMap translates canonical symbols into vendor tickers
// (for example "AAPL" to "AAPL.US").
func WithSymbolMap(fn func(string) string) ClientOption {
	return func(c *Client) {
		c.symbolMap = fn
	}
}

// NewClient creates a new EOD price client
func NewClient(apiKey string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: DefaultBaseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		limiter:  rate.NewLimiter(rate.Limit(DefaultRateLimit), DefaultRateLimit),
		logger:   common.NewSilentLogger(),
		lookback: DefaultLookback,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// APIError represents an API error
type APIError struct {
	StatusCode int
	Message    string
	Endpoint   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("price API error: %s (status: %d, endpoint: %s)", e.Message, e.StatusCode, e.Endpoint)
}

// get performs a rate-limited GET request
func (c *Client) get(ctx context.Context, path string, params url.Values, result interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}

	if params == nil {
		params = url.Values{}
	}
	params.Set("api_token", c.apiKey)
	params.Set("fmt", "json")

	reqURL := fmt.Sprintf("%s%s?%s", c.baseURL, path, params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	c.logger.Debug().Str("url", c.baseURL+path).Msg("Price API request")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return &APIError{
			StatusCode: resp.StatusCode,
			Message:    string(body),
			Endpoint:   path,
		}
	}

	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	return nil
}

// Bar is one daily close.
type Bar struct {
	Date  time.Time
	Close float64
}

// GetEOD retrieves daily closes in ascending date order
func (c *Client) GetEOD(ctx context.Context, ticker string, opts ...interfaces.EODOption) ([]Bar, error) {
	params := &interfaces.EODParams{
		Order: "a",
	}
	for _, opt := range opts {
		opt(params)
	}

	urlParams := url.Values{}
	urlParams.Set("period", "d")
	urlParams.Set("order", params.Order)
	if !params.From.IsZero() {
		urlParams.Set("from", params.From.Format("2006-01-02"))
	}
	if !params.To.IsZero() {
		urlParams.Set("to", params.To.Format("2006-01-02"))
	}

	var raw []eodBarResponse
	if err := c.get(ctx, "/eod/"+url.PathEscape(ticker), urlParams, &raw); err != nil {
		return nil, err
	}

	bars := make([]Bar, 0, len(raw))
	for _, b := range raw {
		date, err := time.Parse("2006-01-02", b.Date)
		if err != nil {
			continue
		}
		px := float64(b.AdjustedClose)
		if px == 0 {
			px = float64(b.Close)
		}
		bars = append(bars, Bar{Date: date, Close: px})
	}
	return bars, nil
}

// eodBarResponse represents the API response for EOD data
type eodBarResponse struct {
	Date          string      `json:"date"`
	Close         flexFloat64 `json:"close"`
	AdjustedClose flexFloat64 `json:"adjusted_close"`
}

// Price returns the last close on or before date within the lookback window.
func (c *Client) Price(ctx context.Context, symbol string, date time.Time) (float64, error) {
	ticker := symbol
	if c.symbolMap != nil {
		ticker = c.symbolMap(symbol)
	}
	date = models.DateOnly(date)
	bars, err := c.GetEOD(ctx, ticker, interfaces.WithDateRange(date.Add(-c.lookback), date))
	if err != nil {
		return 0, err
	}
	for i := len(bars) - 1; i >= 0; i-- {
		if !bars[i].Date.After(date) && bars[i].Close > 0 {
			return bars[i].Close, nil
		}
	}
	return 0, fmt.Errorf("%s on %s: %w", symbol, date.Format("2006-01-02"), models.ErrPriceNotFound)
}
