package adapters

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// UnderlyingQuotes provides market data for underlying instruments.
type UnderlyingQuotes interface {
	GetQuote(ctx context.Context, symbol string) (*Quote, error)
	Close() error
}

// Quote represents normalized underlying market data from any provider
type Quote struct {
	Symbol      string    `json:"symbol"`       // Normalized symbol (uppercase)
	Bid         float64   `json:"bid"`          // Best bid price
	Ask         float64   `json:"ask"`          // Best ask price
	Last        float64   `json:"last"`         // Last traded price
	Timestamp   time.Time `json:"timestamp"`    // Quote timestamp from provider
	Session     string    `json:"session"`      // "PRE"|"RTH"|"POST"|"CLOSED"|"UNKNOWN"
	Source      string    `json:"source"`       // "chainhttp"|"mock"|"sim"
	StalenessMs int64     `json:"staleness_ms"` // Age in milliseconds at retrieval time
}

// ValidateQuote performs quote validation with fail-closed behavior
func ValidateQuote(quote *Quote) error {
	if quote == nil {
		return fmt.Errorf("quote is nil")
	}

	quote.Symbol = strings.ToUpper(strings.TrimSpace(quote.Symbol))
	if quote.Symbol == "" {
		return fmt.Errorf("empty symbol")
	}

	// Price validation (fail-closed: reject invalid prices)
	if quote.Bid <= 0 || quote.Ask <= 0 || quote.Last <= 0 {
		return fmt.Errorf("invalid quote prices: bid=%.4f ask=%.4f last=%.4f",
			quote.Bid, quote.Ask, quote.Last)
	}

	if quote.Ask < quote.Bid {
		return fmt.Errorf("invalid spread: ask(%.4f) < bid(%.4f)", quote.Ask, quote.Bid)
	}

	now := time.Now()
	if quote.Timestamp.After(now.Add(5 * time.Minute)) {
		return fmt.Errorf("quote timestamp too far in future: %v", quote.Timestamp)
	}

	return nil
}

// IsStale checks if quote exceeds staleness threshold
func (q *Quote) IsStale(maxAgeMs int64) bool {
	return q.StalenessMs > maxAgeMs
}

// SpreadBps calculates bid-ask spread in basis points
func (q *Quote) SpreadBps() float64 {
	if q.Bid <= 0 {
		return 0
	}
	return ((q.Ask - q.Bid) / q.Bid) * 10000
}

// QuoteError represents different types of quote fetch errors
type QuoteError struct {
	Type    string // "network", "rate_limit", "provider_error", "bad_symbol", "stale"
	Symbol  string
	Message string
	Cause   error
}

func (e *QuoteError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s error for %s: %s (%v)", e.Type, e.Symbol, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s error for %s: %s", e.Type, e.Symbol, e.Message)
}

// Common error constructors
func NewNetworkError(symbol, message string, cause error) *QuoteError {
	return &QuoteError{Type: "network", Symbol: symbol, Message: message, Cause: cause}
}

func NewRateLimitError(symbol, message string) *QuoteError {
	return &QuoteError{Type: "rate_limit", Symbol: symbol, Message: message}
}

func NewProviderError(symbol, message string, cause error) *QuoteError {
	return &QuoteError{Type: "provider_error", Symbol: symbol, Message: message, Cause: cause}
}

func NewBadSymbolError(symbol, message string) *QuoteError {
	return &QuoteError{Type: "bad_symbol", Symbol: symbol, Message: message}
}
