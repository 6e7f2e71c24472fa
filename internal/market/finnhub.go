package market

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/atmx/trading-sim/internal/model"
)

const (
	DefaultFinnhubURL = "https://finnhub.io/api/v1"
	DefaultTimeout    = 5 * time.Second
	DefaultRateLimit  = 25 // requests per second
)

// APIError is a non-200 response from the quote endpoint.
type APIError struct {
	StatusCode int
	Message    string
	Symbol     string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("finnhub: status %d for %s: %s", e.StatusCode, e.Symbol, e.Message)
}

// FinnhubClient quotes symbols from the Finnhub REST API. Stock tickers
// (AAPL) and exchange pairs (BINANCE:BTCUSDT) are both accepted.
type FinnhubClient struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	log        zerolog.Logger
}

// ClientOption configures the client
type ClientOption func(*FinnhubClient)

// WithBaseURL sets the base URL
func WithBaseURL(baseURL string) ClientOption {
	return func(c *FinnhubClient) {
		c.baseURL = baseURL
	}
}

// WithTimeout sets the HTTP timeout
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *FinnhubClient) {
		c.httpClient.Timeout = timeout
	}
}

// WithRateLimit sets the rate limit
func WithRateLimit(requestsPerSecond float64) ClientOption {
	return func(c *FinnhubClient) {
		burst := int(requestsPerSecond)
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), burst)
	}
}

// WithLogger sets the logger
func WithLogger(log zerolog.Logger) ClientOption {
	return func(c *FinnhubClient) {
		c.log = log
	}
}

// NewFinnhubClient creates a client authenticating with apiKey.
func NewFinnhubClient(apiKey string, opts ...ClientOption) *FinnhubClient {
	c := &FinnhubClient{
		apiKey:  apiKey,
		baseURL: DefaultFinnhubURL,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		limiter: rate.NewLimiter(rate.Limit(DefaultRateLimit), DefaultRateLimit),
		log:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// quoteResponse is the subset of /quote we read. "c" is the current price;
// Finnhub answers 0 for symbols it does not know.
type quoteResponse struct {
	Current decimal.NullDecimal `json:"c"`
}

// Quote returns the current price of symbol. Errors wrap
// model.ErrExternalSource; a missing or non-positive price also wraps
// ErrUnavailable.
func (c *FinnhubClient) Quote(ctx context.Context, symbol string) (decimal.Decimal, error) {
	price, err := c.quote(ctx, symbol)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %s: %w", model.ErrExternalSource, symbol, err)
	}
	return price, nil
}

func (c *FinnhubClient) quote(ctx context.Context, symbol string) (decimal.Decimal, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return decimal.Zero, fmt.Errorf("rate limit wait: %w", err)
	}

	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("token", c.apiKey)
	reqURL := c.baseURL + "/quote?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	elapsed := time.Since(start)
	if err != nil {
		c.log.Debug().Err(err).Str("symbol", symbol).Dur("elapsed", elapsed).Msg("quote request failed")
		return decimal.Zero, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return decimal.Zero, &APIError{StatusCode: resp.StatusCode, Message: string(body), Symbol: symbol}
	}

	var q quoteResponse
	if err := json.NewDecoder(resp.Body).Decode(&q); err != nil {
		return decimal.Zero, fmt.Errorf("failed to decode response: %w", err)
	}
	if !q.Current.Valid || !q.Current.Decimal.IsPositive() {
		return decimal.Zero, ErrUnavailable
	}

	c.log.Debug().Str("symbol", symbol).Str("price", q.Current.Decimal.String()).Dur("elapsed", elapsed).Msg("quote")
	return q.Current.Decimal, nil
}
