package adapters

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ChainHTTPConfig holds configuration for the HTTP options data provider.
type ChainHTTPConfig struct {
	BaseURL            string
	APIKey             string
	RateLimitPerMinute int
	DailyCap           int
	TimeoutMs          int
	MaxRetries         int
	BackoffBaseMs      int
	CacheTTLSeconds    int
}

// ChainHTTPAdapter talks to an options data REST API. It implements
// UnderlyingQuotes, ChainProvider and ContractQuotes with rate limiting, a
// daily request budget, retries with backoff, and a short TTL cache so one
// selection pass does not hammer the provider.
type ChainHTTPAdapter struct {
	baseURL     string
	apiKey      string
	httpClient  *http.Client
	rateLimiter *rate.Limiter
	config      ChainHTTPConfig

	cache *responseCache

	mu              sync.Mutex
	requestsToday   int
	budgetResetTime time.Time
}

type responseCache struct {
	mu      sync.Mutex
	entries map[string]*respCacheEntry
	ttl     time.Duration
}

type respCacheEntry struct {
	body      []byte
	fetchedAt time.Time
}

func NewChainHTTPAdapter(config ChainHTTPConfig) (*ChainHTTPAdapter, error) {
	if config.BaseURL == "" {
		return nil, fmt.Errorf("chain provider base URL is required")
	}
	if config.RateLimitPerMinute <= 0 {
		config.RateLimitPerMinute = 60
	}
	if config.DailyCap <= 0 {
		config.DailyCap = 5000
	}
	if config.TimeoutMs <= 0 {
		config.TimeoutMs = 5000
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = 3
	}
	if config.BackoffBaseMs <= 0 {
		config.BackoffBaseMs = 100
	}
	if config.CacheTTLSeconds <= 0 {
		config.CacheTTLSeconds = 5
	}

	return &ChainHTTPAdapter{
		baseURL: strings.TrimRight(config.BaseURL, "/"),
		apiKey:  config.APIKey,
		httpClient: &http.Client{
			Timeout: time.Duration(config.TimeoutMs) * time.Millisecond,
		},
		rateLimiter: rate.NewLimiter(rate.Limit(float64(config.RateLimitPerMinute)/60), 1),
		config:      config,
		cache: &responseCache{
			entries: map[string]*respCacheEntry{},
			ttl:     time.Duration(config.CacheTTLSeconds) * time.Second,
		},
		budgetResetTime: time.Now().Add(24 * time.Hour),
	}, nil
}

type wireQuote struct {
	Symbol string  `json:"symbol"`
	Bid    float64 `json:"bid"`
	Ask    float64 `json:"ask"`
	Last   float64 `json:"last"`
}

type wireChain struct {
	Contracts []struct {
		Symbol     string  `json:"symbol"`
		Underlying string  `json:"underlying"`
		Right      string  `json:"right"`
		Strike     float64 `json:"strike"`
		Expiry     string  `json:"expiry"` // YYYY-MM-DD
	} `json:"contracts"`
}

type wireContractQuote struct {
	Price   float64 `json:"price"`
	Bid     float64 `json:"bid"`
	Ask     float64 `json:"ask"`
	Delta   float64 `json:"delta"`
	HasData bool    `json:"has_data"`
}

// GetQuote fetches an underlying quote. A response served from the TTL cache
// carries its age in StalenessMs.
func (a *ChainHTTPAdapter) GetQuote(ctx context.Context, symbol string) (*Quote, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return nil, NewBadSymbolError(symbol, "empty symbol")
	}

	body, age, err := a.get(ctx, symbol, "/quote", url.Values{"symbol": {symbol}})
	if err != nil {
		return nil, err
	}
	var wq wireQuote
	if err := json.Unmarshal(body, &wq); err != nil {
		return nil, NewProviderError(symbol, "malformed quote response", err)
	}
	quote := &Quote{
		Symbol:      symbol,
		Bid:         wq.Bid,
		Ask:         wq.Ask,
		Last:        wq.Last,
		Timestamp:   time.Now().Add(-age),
		Session:     "UNKNOWN",
		Source:      "chainhttp",
		StalenessMs: age.Milliseconds(),
	}
	if err := ValidateQuote(quote); err != nil {
		return nil, NewProviderError(symbol, "invalid quote", err)
	}
	return quote, nil
}

func (a *ChainHTTPAdapter) Close() error { return nil }

// ListContracts fetches the listed contracts for an underlying.
func (a *ChainHTTPAdapter) ListContracts(ctx context.Context, underlying string, asOf time.Time) ([]Contract, error) {
	underlying = strings.ToUpper(strings.TrimSpace(underlying))
	body, _, err := a.get(ctx, underlying, "/chain", url.Values{"symbol": {underlying}})
	if err != nil {
		return nil, err
	}
	var wc wireChain
	if err := json.Unmarshal(body, &wc); err != nil {
		return nil, NewProviderError(underlying, "malformed chain response", err)
	}

	var out []Contract
	for _, c := range wc.Contracts {
		expiry, err := time.Parse("2006-01-02", c.Expiry)
		if err != nil {
			continue // malformed row, skip rather than fail the chain
		}
		right := OptionRight(strings.ToLower(c.Right))
		if right != RightCall && right != RightPut {
			continue
		}
		out = append(out, Contract{
			Symbol:     c.Symbol,
			Underlying: underlying,
			Right:      right,
			Strike:     c.Strike,
			Expiry:     expiry,
		})
	}
	return out, nil
}

// LiveQuote fetches the live snapshot for one contract.
func (a *ChainHTTPAdapter) LiveQuote(ctx context.Context, contractSymbol string) (ContractQuote, error) {
	body, _, err := a.get(ctx, contractSymbol, "/contract", url.Values{"symbol": {contractSymbol}})
	if err != nil {
		return ContractQuote{}, err
	}
	var wq wireContractQuote
	if err := json.Unmarshal(body, &wq); err != nil {
		return ContractQuote{}, NewProviderError(contractSymbol, "malformed contract response", err)
	}
	return ContractQuote{
		Price:   wq.Price,
		Bid:     wq.Bid,
		Ask:     wq.Ask,
		Delta:   wq.Delta,
		HasData: wq.HasData,
	}, nil
}

// get performs a cached, rate-limited, budgeted GET with retries. The
// returned duration is the age of a cache-served response, 0 for a fresh one.
func (a *ChainHTTPAdapter) get(ctx context.Context, symbol, path string, params url.Values) ([]byte, time.Duration, error) {
	requestURL := a.baseURL + path + "?" + params.Encode()

	if body, age := a.cache.lookup(requestURL); body != nil {
		return body, age, nil
	}

	if !a.consumeBudget() {
		return nil, 0, NewRateLimitError(symbol, "daily request budget exceeded")
	}
	if err := a.rateLimiter.Wait(ctx); err != nil {
		return nil, 0, NewNetworkError(symbol, "rate limit wait cancelled", err)
	}

	var lastErr error
	for attempt := 0; attempt < a.config.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(a.config.BackoffBaseMs*(1<<attempt)) * time.Millisecond
			select {
			case <-ctx.Done():
				return nil, 0, NewNetworkError(symbol, "cancelled during backoff", ctx.Err())
			case <-time.After(backoff):
			}
		}

		req, err := http.NewRequestWithContext(ctx, "GET", requestURL, nil)
		if err != nil {
			return nil, 0, NewNetworkError(symbol, "failed to create request", err)
		}
		if a.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+a.apiKey)
		}
		req.Header.Set("Accept", "application/json")

		resp, err := a.httpClient.Do(req)
		if err != nil {
			lastErr = NewNetworkError(symbol, "request failed", err)
			continue
		}

		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = NewNetworkError(symbol, "failed to read response", err)
			continue
		}

		switch {
		case resp.StatusCode == http.StatusOK:
			a.cache.put(requestURL, body)
			return body, 0, nil
		case resp.StatusCode == http.StatusTooManyRequests:
			lastErr = NewRateLimitError(symbol, "provider rate limited")
			continue
		case resp.StatusCode >= 500:
			lastErr = NewProviderError(symbol, fmt.Sprintf("server error %d", resp.StatusCode), nil)
			continue
		default:
			return nil, 0, NewProviderError(symbol, fmt.Sprintf("unexpected status %d", resp.StatusCode), nil)
		}
	}
	return nil, 0, lastErr
}

func (a *ChainHTTPAdapter) consumeBudget() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	now := time.Now()
	if now.After(a.budgetResetTime) {
		a.requestsToday = 0
		a.budgetResetTime = now.Add(24 * time.Hour)
	}
	if a.requestsToday >= a.config.DailyCap {
		return false
	}
	a.requestsToday++
	return true
}

func (c *responseCache) lookup(key string) ([]byte, time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[key]
	if !ok {
		return nil, 0
	}
	age := time.Since(entry.fetchedAt)
	if age > c.ttl {
		return nil, 0
	}
	return entry.body, age
}

func (c *responseCache) put(key string, body []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = &respCacheEntry{body: body, fetchedAt: time.Now()}
}
