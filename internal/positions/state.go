package positions

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/optionsignal/trading-engine/internal/observ"
	"github.com/optionsignal/trading-engine/internal/signals"
)

// InstrumentState is the per-underlying decision state. ActiveKind reflects
// the intended stance; the brokerage fill may still be pending while
// OpenContract is set.
type InstrumentState struct {
	Ticker             string       `json:"ticker"`
	LastSignalNanos    int64        `json:"last_signal_nanos"` // 0 before the first consumed signal
	ActiveKind         signals.Kind `json:"active_kind,omitempty"`
	OpenContract       string       `json:"open_contract,omitempty"` // contract symbol, "" when flat
	AverageEntryPrice  float64      `json:"average_entry_price"`
	QuantityFilled     int          `json:"quantity_filled"`
	LastExitReason     string       `json:"last_exit_reason,omitempty"`
	LastTradeAt        string       `json:"last_trade_at,omitempty"`
}

// AccountingError reports degenerate fill math; the caller falls back to the
// raw fill price and keeps running.
type AccountingError struct {
	Ticker   string
	Contract string
	Detail   string
}

func (e *AccountingError) Error() string {
	return fmt.Sprintf("fill accounting for %s (%s): %s", e.Ticker, e.Contract, e.Detail)
}

// Registry owns one InstrumentState per traded underlying. States are created
// once at setup and never destroyed during a run.
type Registry struct {
	mu        sync.RWMutex
	states    map[string]*InstrumentState
	statePath string // optional JSON snapshot target, "" disables
}

// NewRegistry creates states for every ticker in the universe.
func NewRegistry(tickers []string, statePath string) *Registry {
	r := &Registry{
		states:    make(map[string]*InstrumentState, len(tickers)),
		statePath: statePath,
	}
	for _, t := range tickers {
		r.states[t] = &InstrumentState{Ticker: t}
	}
	return r
}

// Get returns the state for a ticker, or nil for unknown instruments.
func (r *Registry) Get(ticker string) *InstrumentState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.states[ticker]
}

// Tickers returns the registered universe.
func (r *Registry) Tickers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.states))
	for t := range r.states {
		out = append(out, t)
	}
	return out
}

// MarkSignal records a signal as consumed regardless of whether it traded.
func (r *Registry) MarkSignal(ticker string, nanos int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if st := r.states[ticker]; st != nil {
		st.LastSignalNanos = nanos
	}
}

// Open records the intended stance and tracked contract after an accepted buy.
// Average entry stays 0 until the first fill arrives.
func (r *Registry) Open(ticker string, kind signals.Kind, contractSymbol string, now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st := r.states[ticker]
	if st == nil {
		return
	}
	st.ActiveKind = kind
	st.OpenContract = contractSymbol
	st.AverageEntryPrice = 0
	st.QuantityFilled = 0
	st.LastTradeAt = now.UTC().Format(time.RFC3339)
}

// Reset clears stance, contract, and entry accounting. Used on liquidation,
// order rejection, and failed reselection.
func (r *Registry) Reset(ticker, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st := r.states[ticker]
	if st == nil {
		return
	}
	st.ActiveKind = ""
	st.OpenContract = ""
	st.AverageEntryPrice = 0
	st.QuantityFilled = 0
	st.LastExitReason = reason
}

// ApplyFill consumes a fill notification and maintains the volume-weighted
// average entry price. Fills for other contracts and sell fills are ignored;
// the position is being closed on sells, not re-priced.
func (r *Registry) ApplyFill(ticker, contractSymbol, side string, fillQty int, fillPrice float64, totalQtyAfter int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	st := r.states[ticker]
	if st == nil {
		return nil
	}
	if st.OpenContract == "" || st.OpenContract != contractSymbol {
		return nil
	}
	if side != "BUY" {
		return nil
	}

	if totalQtyAfter == 0 {
		st.AverageEntryPrice = fillPrice
		st.QuantityFilled = fillQty
		observ.IncCounter("accounting_errors_total", map[string]string{"ticker": ticker})
		return &AccountingError{
			Ticker:   ticker,
			Contract: contractSymbol,
			Detail:   fmt.Sprintf("total quantity after fill is 0 (fill qty %d @ %.4f)", fillQty, fillPrice),
		}
	}

	qtyBefore := totalQtyAfter - fillQty
	st.AverageEntryPrice = (st.AverageEntryPrice*float64(qtyBefore) + fillPrice*float64(fillQty)) / float64(totalQtyAfter)
	st.QuantityFilled = totalQtyAfter
	observ.Log("fill_applied", map[string]any{
		"ticker":    ticker,
		"contract":  contractSymbol,
		"fill_qty":  fillQty,
		"price":     fillPrice,
		"avg_entry": st.AverageEntryPrice,
	})
	return nil
}

// Snapshot atomically writes the full state map as JSON (temp file + rename).
// A "" statePath disables persistence; the engine never reads this back
// mid-run, it exists for operator inspection after a run.
func (r *Registry) Snapshot() error {
	if r.statePath == "" {
		return nil
	}
	r.mu.RLock()
	data, err := json.MarshalIndent(r.states, "", "  ")
	r.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("marshal instrument state: %w", err)
	}

	tempPath := r.statePath + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return fmt.Errorf("write instrument state: %w", err)
	}
	if err := os.Rename(tempPath, r.statePath); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("rename instrument state: %w", err)
	}
	return nil
}
