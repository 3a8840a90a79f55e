package risk

import (
	"context"
	"time"

	"github.com/optionsignal/trading-engine/internal/adapters"
	"github.com/optionsignal/trading-engine/internal/observ"
	"github.com/optionsignal/trading-engine/internal/positions"
)

// ExitConfig holds the percentage thresholds against average entry price.
// Zero disables that side.
type ExitConfig struct {
	TakeProfitPct float64
	StopLossPct   float64
}

// ExitTrigger records why a position should be closed.
type ExitTrigger struct {
	Ticker       string    `json:"ticker"`
	Contract     string    `json:"contract"`
	TriggerType  string    `json:"trigger_type"` // "take_profit" or "stop_loss"
	TriggerPrice float64   `json:"trigger_price"`
	CurrentPrice float64   `json:"current_price"`
	EntryPrice   float64   `json:"entry_price"`
	TimestampUTC time.Time `json:"timestamp_utc"`
}

// ExitMonitor evaluates take-profit/stop-loss thresholds against live
// contract prices. Take-profit is checked first; at most one trigger per
// instrument per market-data cycle.
type ExitMonitor struct {
	cfg    ExitConfig
	quotes adapters.ContractQuotes
}

func NewExitMonitor(cfg ExitConfig, quotes adapters.ContractQuotes) *ExitMonitor {
	return &ExitMonitor{cfg: cfg, quotes: quotes}
}

// Check returns a trigger when the open position crossed a threshold, nil
// otherwise. Positions without a recorded entry price are skipped: the buy
// fill has not landed yet, so there is nothing to measure against.
func (m *ExitMonitor) Check(ctx context.Context, st *positions.InstrumentState, invested bool, now time.Time) (*ExitTrigger, error) {
	if st == nil || st.OpenContract == "" || !invested {
		return nil, nil
	}
	entry := st.AverageEntryPrice
	if entry <= 0 {
		return nil, nil
	}

	quote, err := m.quotes.LiveQuote(ctx, st.OpenContract)
	if err != nil {
		return nil, err
	}
	if !quote.HasData || quote.Price <= 0 {
		return nil, nil
	}
	current := quote.Price

	if m.cfg.TakeProfitPct > 0 {
		tpPrice := entry * (1 + m.cfg.TakeProfitPct)
		if current >= tpPrice {
			observ.IncCounter("exit_triggers_total", map[string]string{"ticker": st.Ticker, "type": "take_profit"})
			return &ExitTrigger{
				Ticker:       st.Ticker,
				Contract:     st.OpenContract,
				TriggerType:  "take_profit",
				TriggerPrice: tpPrice,
				CurrentPrice: current,
				EntryPrice:   entry,
				TimestampUTC: now.UTC(),
			}, nil
		}
	}

	if m.cfg.StopLossPct > 0 {
		slPrice := entry * (1 - m.cfg.StopLossPct)
		if current <= slPrice {
			observ.IncCounter("exit_triggers_total", map[string]string{"ticker": st.Ticker, "type": "stop_loss"})
			return &ExitTrigger{
				Ticker:       st.Ticker,
				Contract:     st.OpenContract,
				TriggerType:  "stop_loss",
				TriggerPrice: slPrice,
				CurrentPrice: current,
				EntryPrice:   entry,
				TimestampUTC: now.UTC(),
			}, nil
		}
	}

	return nil, nil
}
