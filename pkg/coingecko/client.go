package coingecko

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	DefaultBaseURL         = "https://api.coingecko.com/api/v3"
	DefaultAPIKeyHeader    = "x-cg-demo-api-key"
	DefaultVSCurrency      = "usd"
	DefaultMarketsPageSize = 250
	DefaultMinHourlyDays   = 2
	DefaultMaxHourlyDays   = 90

	defaultHTTPTimeout = 30 * time.Second

	marketsEndpoint = "coins/markets"
	chartEndpoint   = "coins/%s/market_chart"
	rangeEndpoint   = "coins/%s/market_chart/range"
)

type Client struct {
	apiKey        string
	apiKeyHeader  string
	baseURL       string
	vsCurrency    string
	pageSize      int
	minHourlyDays int
	maxHourlyDays int
	retry         RetryPolicy
	httpClient    *http.Client
	logger        logrus.FieldLogger
	now           func() time.Time
}

// Option configures a Client.
type Option func(*Client)

func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		if baseURL != "" {
			c.baseURL = strings.TrimRight(baseURL, "/")
		}
	}
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithAPIKeyHeader selects the header carrying the API key
// (x-cg-pro-api-key for paid plans).
func WithAPIKeyHeader(header string) Option {
	return func(c *Client) {
		if header != "" {
			c.apiKeyHeader = header
		}
	}
}

func WithVSCurrency(vs string) Option {
	return func(c *Client) {
		if vs != "" {
			c.vsCurrency = strings.ToLower(vs)
		}
	}
}

// WithMarketsPageSize sets the per-call cap on ids sent to /coins/markets.
func WithMarketsPageSize(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.pageSize = n
		}
	}
}

// WithHourlyLimits sets the day range in which the provider answers with
// hourly samples.
func WithHourlyLimits(minDays, maxDays int) Option {
	return func(c *Client) {
		if minDays > 0 && maxDays >= minDays {
			c.minHourlyDays = minDays
			c.maxHourlyDays = maxDays
		}
	}
}

func WithRetryPolicy(p RetryPolicy) Option {
	return func(c *Client) {
		c.retry = p.withDefaults()
	}
}

// WithClock replaces time.Now for window trimming.
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		if now != nil {
			c.now = now
		}
	}
}

func NewClient(apiKey string, logger logrus.FieldLogger, opts ...Option) *Client {
	if logger == nil {
		logger = logrus.New()
	}
	c := &Client{
		apiKey:        apiKey,
		apiKeyHeader:  DefaultAPIKeyHeader,
		baseURL:       DefaultBaseURL,
		vsCurrency:    DefaultVSCurrency,
		pageSize:      DefaultMarketsPageSize,
		minHourlyDays: DefaultMinHourlyDays,
		maxHourlyDays: DefaultMaxHourlyDays,
		retry:         DefaultRetryPolicy(),
		httpClient:    &http.Client{Timeout: defaultHTTPTimeout},
		logger:        logger,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// MaxHourlyDays is the longest window a single chart call answers hourly.
func (c *Client) MaxHourlyDays() int {
	return c.maxHourlyDays
}

// get performs a GET with retries and decodes the JSON body into out.
func (c *Client) get(ctx context.Context, what, path string, query url.Values, out interface{}) error {
	return c.withRetry(ctx, what, func() error {
		return c.getOnce(ctx, path, query, out)
	})
}

func (c *Client) getOnce(ctx context.Context, path string, query url.Values, out interface{}) error {
	u := c.baseURL + "/" + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return &APIError{Kind: KindFatal, Message: "build request", Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set(c.apiKeyHeader, c.apiKey)
	}

	c.logger.Debugf("Fetching data from URL: %s", u)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &APIError{Kind: KindTransient, Message: "http request", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return &APIError{Kind: KindTransient, StatusCode: resp.StatusCode, Message: "read body", Err: err}
	}

	if err := classifyResponse(resp.StatusCode, body); err != nil {
		return err
	}

	if err := json.Unmarshal(body, out); err != nil {
		return &APIError{Kind: KindFatal, StatusCode: resp.StatusCode, Message: "unexpected payload shape", Err: err}
	}

	c.logger.Debugf("Successfully fetched data from URL: %s", u)
	return nil
}
