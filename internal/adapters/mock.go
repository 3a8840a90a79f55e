package adapters

import (
	"context"
	"strings"
	"time"
)

// MockUnderlyingQuotes returns fixed quotes per symbol, for tests.
type MockUnderlyingQuotes struct {
	Quotes map[string]*Quote
	Err    error
}

func NewMockUnderlyingQuotes() *MockUnderlyingQuotes {
	return &MockUnderlyingQuotes{Quotes: map[string]*Quote{}}
}

// SetLast registers a symbol trading at the given last price.
func (m *MockUnderlyingQuotes) SetLast(symbol string, last float64) {
	symbol = strings.ToUpper(symbol)
	m.Quotes[symbol] = &Quote{
		Symbol:    symbol,
		Bid:       last - 0.05,
		Ask:       last + 0.05,
		Last:      last,
		Timestamp: time.Now(),
		Session:   "RTH",
		Source:    "mock",
	}
}

func (m *MockUnderlyingQuotes) GetQuote(ctx context.Context, symbol string) (*Quote, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	q, ok := m.Quotes[strings.ToUpper(symbol)]
	if !ok {
		return nil, NewBadSymbolError(symbol, "not in mock")
	}
	return q, nil
}

func (m *MockUnderlyingQuotes) Close() error { return nil }

// MockChain serves a fixed contract list.
type MockChain struct {
	Contracts []Contract
	Err       error
}

func (m *MockChain) ListContracts(ctx context.Context, underlying string, asOf time.Time) ([]Contract, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	var out []Contract
	for _, c := range m.Contracts {
		if c.Underlying == underlying {
			out = append(out, c)
		}
	}
	return out, nil
}

// MockContractQuotes serves fixed contract snapshots. Absent symbols answer
// with an empty (HasData=false) quote, like a listed-but-unquoted contract.
type MockContractQuotes struct {
	Quotes map[string]ContractQuote
	Err    error
}

func NewMockContractQuotes() *MockContractQuotes {
	return &MockContractQuotes{Quotes: map[string]ContractQuote{}}
}

func (m *MockContractQuotes) LiveQuote(ctx context.Context, contractSymbol string) (ContractQuote, error) {
	if m.Err != nil {
		return ContractQuote{}, m.Err
	}
	return m.Quotes[contractSymbol], nil
}

// MockExecutor records submissions and can be scripted to reject.
type MockExecutor struct {
	RejectWith  string // non-empty rejects every submit with this reason
	SubmitErr   error
	Buys        []Contract
	Liquidated  []string
	LastReasons []string
}

func (m *MockExecutor) SubmitBuy(ctx context.Context, contract Contract, qty int) (OrderResult, error) {
	if m.SubmitErr != nil {
		return OrderResult{}, m.SubmitErr
	}
	if m.RejectWith != "" {
		return OrderResult{Accepted: false, Reason: m.RejectWith}, nil
	}
	m.Buys = append(m.Buys, contract)
	return OrderResult{Accepted: true, OrderID: "mock-order"}, nil
}

func (m *MockExecutor) Liquidate(ctx context.Context, contractSymbol, reason string) error {
	m.Liquidated = append(m.Liquidated, contractSymbol)
	m.LastReasons = append(m.LastReasons, reason)
	return nil
}

// MockHoldings reports membership of a set of confirmed contracts.
type MockHoldings struct {
	Held map[string]bool
}

func NewMockHoldings() *MockHoldings {
	return &MockHoldings{Held: map[string]bool{}}
}

func (m *MockHoldings) Invested(contractSymbol string) bool {
	return m.Held[contractSymbol]
}

// MockSession reports a single open/closed flag for every symbol.
type MockSession struct {
	Open bool
}

func (m *MockSession) IsSessionOpen(symbol string) bool { return m.Open }
