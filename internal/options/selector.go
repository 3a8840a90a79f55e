package options

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/optionsignal/trading-engine/internal/adapters"
	"github.com/optionsignal/trading-engine/internal/observ"
)

// Selector picks the single contract best matching the target DTE and target
// delta for an underlying, skipping contracts without live quotes or greeks.
type Selector struct {
	underlying adapters.UnderlyingQuotes
	chain      adapters.ChainProvider
	quotes     adapters.ContractQuotes

	targetDTE   int
	targetDelta float64 // compared against |delta|
}

func NewSelector(underlying adapters.UnderlyingQuotes, chain adapters.ChainProvider, quotes adapters.ContractQuotes, targetDTE int, targetDelta float64) *Selector {
	return &Selector{
		underlying:  underlying,
		chain:       chain,
		quotes:      quotes,
		targetDTE:   targetDTE,
		targetDelta: math.Abs(targetDelta),
	}
}

// maxSpotAgeMs is the oldest underlying print a selection may ladder
// strikes around.
const maxSpotAgeMs = 30_000

// Select returns the best contract for the underlying and right as of now, or
// nil if nothing tradable matches. Partially populated chains (contracts
// listed without quotes or greeks) are tolerated by skipping candidates.
func (s *Selector) Select(ctx context.Context, underlying string, right adapters.OptionRight, now time.Time) (*adapters.Contract, error) {
	start := time.Now()
	defer func() {
		observ.RecordDuration("selector_select", time.Since(start), map[string]string{"underlying": underlying})
	}()

	quote, err := s.underlying.GetQuote(ctx, underlying)
	if err != nil {
		return nil, err
	}
	if quote.IsStale(maxSpotAgeMs) {
		observ.IncCounter("selector_skips_total", map[string]string{"underlying": underlying, "reason": "stale_underlying_quote"})
		return nil, nil
	}
	spot := quote.Last
	if spot <= 0 {
		observ.IncCounter("selector_skips_total", map[string]string{"underlying": underlying, "reason": "no_underlying_price"})
		return nil, nil
	}

	contracts, err := s.chain.ListContracts(ctx, underlying, now)
	if err != nil {
		return nil, err
	}
	var sided []adapters.Contract
	for _, c := range contracts {
		if c.Right == right {
			sided = append(sided, c)
		}
	}
	if len(sided) == 0 {
		observ.IncCounter("selector_skips_total", map[string]string{"underlying": underlying, "reason": "empty_chain"})
		return nil, nil
	}

	expiry, ok := s.nearestExpiry(sided, now)
	if !ok {
		return nil, nil
	}

	var candidates []adapters.Contract
	for _, c := range sided {
		if sameDate(c.Expiry, expiry) {
			candidates = append(candidates, c)
		}
	}

	best := s.nearestDelta(ctx, candidates, spot)
	if best == nil {
		observ.IncCounter("selector_skips_total", map[string]string{"underlying": underlying, "reason": "no_liquid_candidate"})
		return nil, nil
	}

	observ.Log("contract_selected", map[string]any{
		"underlying": underlying,
		"contract":   best.Symbol,
		"expiry":     best.Expiry.Format("2006-01-02"),
		"strike":     best.Strike,
		"right":      string(best.Right),
	})
	return best, nil
}

// nearestExpiry picks the distinct expiry minimizing |DTE - target|, earlier
// calendar date winning ties.
func (s *Selector) nearestExpiry(contracts []adapters.Contract, now time.Time) (time.Time, bool) {
	seen := map[string]time.Time{}
	for _, c := range contracts {
		seen[c.Expiry.Format("2006-01-02")] = c.Expiry
	}
	if len(seen) == 0 {
		return time.Time{}, false
	}

	expiries := make([]time.Time, 0, len(seen))
	for _, e := range seen {
		expiries = append(expiries, e)
	}
	sort.Slice(expiries, func(i, j int) bool { return expiries[i].Before(expiries[j]) })

	var best time.Time
	bestDist := math.MaxInt64
	for _, e := range expiries {
		dte := (adapters.Contract{Expiry: e}).DaysToExpiry(now, time.UTC)
		dist := dte - s.targetDTE
		if dist < 0 {
			dist = -dist
		}
		// Strict less-than: ascending order makes the earlier date win ties.
		if dist < bestDist {
			bestDist = dist
			best = e
		}
	}
	return best, true
}

// nearestDelta walks candidates in order of strike distance from spot and
// keeps the liquid one whose |delta| is closest to target. The traversal
// order is only a tie-break: on equal delta distance the first seen, i.e. the
// strike nearest the underlying, wins.
func (s *Selector) nearestDelta(ctx context.Context, candidates []adapters.Contract, spot float64) *adapters.Contract {
	sort.SliceStable(candidates, func(i, j int) bool {
		return math.Abs(candidates[i].Strike-spot) < math.Abs(candidates[j].Strike-spot)
	})

	var best *adapters.Contract
	bestDist := math.Inf(1)
	for i := range candidates {
		c := candidates[i]
		q, err := s.quotes.LiveQuote(ctx, c.Symbol)
		if err != nil || !q.HasData {
			continue
		}
		if q.Price <= 0 || q.Bid <= 0 || q.Ask <= 0 {
			continue // illiquid
		}
		if q.Delta == 0 {
			continue // listed but greeks not populated yet
		}
		dist := math.Abs(math.Abs(q.Delta) - s.targetDelta)
		if dist < bestDist {
			bestDist = dist
			best = &c
		}
	}
	return best
}

func sameDate(a, b time.Time) bool {
	ay, am, ad := a.UTC().Date()
	by, bm, bd := b.UTC().Date()
	return ay == by && am == bm && ad == bd
}
