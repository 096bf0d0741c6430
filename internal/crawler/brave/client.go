// Package brave implements crawler.SearchFetcher on top of the Brave web
// search API.
package brave

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/spigell/job-crawler/internal/budget"
	"github.com/spigell/job-crawler/internal/logger"
	"github.com/spigell/job-crawler/internal/utils"

	"github.com/mitchellh/mapstructure"
	"go.uber.org/zap"
)

const (
	apiURL    = "https://api.search.brave.com/res/v1/web/search"
	userAgent = "spigell/job-crawler (spigelly@gmail.com)"

	defaultResultsPerQuery = 10
	defaultTimeout         = 30 * time.Second
	defaultRequestDelay    = time.Second
	defaultMaxAttempts     = 3
	defaultRetryDelay      = time.Second
)

// Config holds the search provider settings.
type Config struct {
	APIKey          string
	Endpoint        string
	ResultsPerQuery int
	Timeout         time.Duration
	// RequestDelay is waited out before every search request to stay
	// polite with the provider.
	RequestDelay time.Duration
}

type Client struct {
	token        string
	budget       *budget.EffortBudget
	logger       *zap.Logger
	results      int
	requestDelay time.Duration
	retryDelay   time.Duration
	maxAttempts  int

	HTTPClient *http.Client
	UserAgent  string
	APIURL     string
}

func New(cfg *Config, b *budget.EffortBudget, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}

	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = apiURL
	}
	results := cfg.ResultsPerQuery
	if results <= 0 {
		results = defaultResultsPerQuery
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	requestDelay := cfg.RequestDelay
	if requestDelay <= 0 {
		requestDelay = defaultRequestDelay
	}

	return &Client{
		token:        cfg.APIKey,
		budget:       b,
		logger:       logger.WithSearchFields(log, "brave"),
		results:      results,
		requestDelay: requestDelay,
		retryDelay:   defaultRetryDelay,
		maxAttempts:  defaultMaxAttempts,
		APIURL:       endpoint,
		HTTPClient: &http.Client{
			Timeout: timeout,
		},
		UserAgent: userAgent,
	}
}

// Search returns candidate URLs for the query. The search budget is checked
// up front but charged only when the provider actually returns results, so
// empty or failed searches stay free.
func (c *Client) Search(ctx context.Context, query string) ([]string, error) {
	if !c.budget.CanSearch() {
		return nil, &budget.ExceededError{Resource: budget.ResourceSearchIterations}
	}

	if err := utils.WaitFor(ctx, c.requestDelay); err != nil {
		return nil, err
	}

	urls := c.searchWithRetries(ctx, query)
	if len(urls) > 0 {
		c.budget.RecordSearchIteration()
	}

	c.logger.Debug("search finished",
		zap.String("query", query),
		zap.Int("urls", len(urls)),
		zap.Int("search_iterations_used", c.budget.SearchIterationsUsed()),
	)

	return urls, nil
}

func (c *Client) searchWithRetries(ctx context.Context, query string) []string {
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		urls, err := c.search(ctx, query)
		if err == nil {
			return urls
		}

		c.logger.Warn("search request failed",
			zap.String("query", query),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)

		if attempt == c.maxAttempts {
			break
		}

		delay := c.retryDelay
		if isRateLimited(err) {
			// Back off harder when the provider is throttling us.
			delay = time.Duration(attempt) * c.retryDelay
		}
		if waitErr := utils.WaitFor(ctx, delay); waitErr != nil {
			break
		}
	}

	return nil
}

func (c *Client) search(ctx context.Context, query string) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.APIURL, nil)
	if err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Set("q", query)
	q.Set("count", strconv.Itoa(c.results))
	req.URL.RawQuery = q.Encode()

	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.UserAgent)
	if c.token != "" {
		req.Header.Set("X-Subscription-Token", c.token)
	}

	c.logger.Debug("make request", zap.String("url", req.URL.String()))

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, errRateLimited
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("bad status: %s", resp.Status)
	}

	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, err
	}

	return extractURLs(body)
}

type searchResult struct {
	URL string `json:"url"`
}

// extractURLs pulls web.results[].url out of the loosely typed API response.
func extractURLs(body map[string]any) ([]string, error) {
	web, ok := body["web"].(map[string]any)
	if !ok {
		return nil, nil
	}

	var results []searchResult
	cfg := &mapstructure.DecoderConfig{
		Metadata: nil,
		Result:   &results,
		TagName:  "json",
	}
	decoder, err := mapstructure.NewDecoder(cfg)
	if err != nil {
		return nil, err
	}
	if err := decoder.Decode(web["results"]); err != nil {
		return nil, fmt.Errorf("decode search results: %w", err)
	}

	urls := make([]string, 0, len(results))
	for _, r := range results {
		if r.URL != "" {
			urls = append(urls, r.URL)
		}
	}

	return urls, nil
}

var errRateLimited = fmt.Errorf("rate limited: %s", http.StatusText(http.StatusTooManyRequests))

func isRateLimited(err error) bool {
	return err == errRateLimited
}
