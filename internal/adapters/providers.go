package adapters

import (
	"context"
	"fmt"
	"time"
)

// OptionRight is the contract side, lowercased on the wire.
type OptionRight string

const (
	RightCall OptionRight = "call"
	RightPut  OptionRight = "put"
)

// Contract is one listed option contract as of a chain snapshot. Contracts are
// fetched fresh per selection; nothing here is cached across decisions.
// Shape follows the option-chain models used by the data providers.
type Contract struct {
	Symbol     string      `json:"symbol"`     // OCC-style contract symbol
	Underlying string      `json:"underlying"` // Underlying ticker
	Right      OptionRight `json:"right"`
	Strike     float64     `json:"strike"`
	Expiry     time.Time   `json:"expiry"` // Date component only is meaningful
}

// ContractQuote is the live snapshot for one contract. HasData=false means the
// contract is listed but carries no quote yet; callers skip it rather than fail.
type ContractQuote struct {
	Price   float64 `json:"price"`
	Bid     float64 `json:"bid"`
	Ask     float64 `json:"ask"`
	Delta   float64 `json:"delta"`
	HasData bool    `json:"has_data"`
}

// ChainProvider lists the contracts available for an underlying as of a point
// in time.
type ChainProvider interface {
	ListContracts(ctx context.Context, underlying string, asOf time.Time) ([]Contract, error)
}

// ContractQuotes provides live quotes and greeks for individual contracts.
type ContractQuotes interface {
	LiveQuote(ctx context.Context, contractSymbol string) (ContractQuote, error)
}

// OrderResult is the synchronous outcome of an order submission. Fills arrive
// later through the fill notification path.
type OrderResult struct {
	Accepted bool
	OrderID  string
	Reason   string
}

// OrderExecutor routes orders to the brokerage (or its paper stand-in).
type OrderExecutor interface {
	SubmitBuy(ctx context.Context, contract Contract, qty int) (OrderResult, error)
	Liquidate(ctx context.Context, contractSymbol, reason string) error
}

// Invested reports whether a submitted position is confirmed filled at the
// brokerage. There is a window between submission and fill where a contract is
// tracked but not yet invested.
type Holdings interface {
	Invested(contractSymbol string) bool
}

// SessionOracle answers whether the exchange session for a symbol is open.
type SessionOracle interface {
	IsSessionOpen(symbol string) bool
}

// DaysToExpiry returns whole calendar days between now's date and the
// contract's expiry date, in the given location.
func (c Contract) DaysToExpiry(now time.Time, loc *time.Location) int {
	if loc == nil {
		loc = time.UTC
	}
	y1, m1, d1 := now.In(loc).Date()
	y2, m2, d2 := c.Expiry.In(loc).Date()
	a := time.Date(y1, m1, d1, 0, 0, 0, 0, time.UTC)
	b := time.Date(y2, m2, d2, 0, 0, 0, 0, time.UTC)
	return int(b.Sub(a).Hours() / 24)
}

func (c Contract) String() string {
	return fmt.Sprintf("%s %s %s %.2f %s", c.Underlying, c.Expiry.Format("2006-01-02"), c.Right, c.Strike, c.Symbol)
}
