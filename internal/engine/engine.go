package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/optionsignal/trading-engine/internal/adapters"
	"github.com/optionsignal/trading-engine/internal/observ"
	"github.com/optionsignal/trading-engine/internal/options"
	"github.com/optionsignal/trading-engine/internal/outbox"
	"github.com/optionsignal/trading-engine/internal/positions"
	"github.com/optionsignal/trading-engine/internal/risk"
	"github.com/optionsignal/trading-engine/internal/signals"
)

// ErrNoTradableInstruments means every instrument in the signal universe
// failed setup. Fatal: there is nothing to run against.
var ErrNoTradableInstruments = errors.New("no tradable instruments after setup")

// TimestampComparisonError reports an event instant that could not be reduced
// to epoch nanoseconds. The affected instrument's event is skipped for the
// cycle; siblings keep processing.
type TimestampComparisonError struct {
	Ticker string
	Detail string
}

func (e *TimestampComparisonError) Error() string {
	return fmt.Sprintf("timestamp comparison for %s: %s", e.Ticker, e.Detail)
}

// Engine is the signal-to-position decision core. It reacts to three event
// kinds delivered sequentially by the host: the daily pre-market scan, market
// data updates, and fill notifications. Event handlers never block.
type Engine struct {
	store    *signals.Store
	registry *positions.Registry
	selector *options.Selector
	executor adapters.OrderExecutor
	holdings adapters.Holdings
	session  adapters.SessionOracle
	exits    *risk.ExitMonitor
	journal  *outbox.Outbox // nil disables journaling

	ready bool
}

func New(store *signals.Store, registry *positions.Registry, selector *options.Selector, executor adapters.OrderExecutor, holdings adapters.Holdings, session adapters.SessionOracle, exits *risk.ExitMonitor, journal *outbox.Outbox) *Engine {
	return &Engine{
		store:    store,
		registry: registry,
		selector: selector,
		executor: executor,
		holdings: holdings,
		session:  session,
		exits:    exits,
		journal:  journal,
	}
}

// SetReady ends the warm-up phase. Until then every event is suppressed.
func (e *Engine) SetReady(ready bool) {
	e.ready = ready
	observ.Log("engine_ready", map[string]any{"ready": ready})
}

// PreMarketScan runs once per day at the configured local exchange time. It
// hands each instrument its latest unconsumed signal strictly before now.
func (e *Engine) PreMarketScan(ctx context.Context, now time.Time) {
	if !e.ready {
		return
	}
	nowNanos, err := toNanos(now)
	if err != nil {
		observ.LogError("premarket_scan_skipped", err, nil)
		return
	}
	for _, ticker := range e.registry.Tickers() {
		st := e.registry.Get(ticker)
		sig, ok := e.store.LatestBefore(ticker, st.LastSignalNanos, nowNanos, false)
		if !ok {
			continue
		}
		if err := e.OnSignal(ctx, ticker, sig.Kind, sig.Nanos, now); err != nil {
			observ.LogError("signal_failed", err, map[string]any{"ticker": ticker, "scan": "premarket"})
		}
	}
}

// OnMarketData runs once per market-data update during session hours. Each
// instrument first consumes any pending signal, then has its exit thresholds
// evaluated; at most one liquidation per instrument per cycle.
func (e *Engine) OnMarketData(ctx context.Context, now time.Time) {
	if !e.ready {
		return
	}
	nowNanos, err := toNanos(now)
	if err != nil {
		observ.LogError("marketdata_skipped", err, nil)
		return
	}
	for _, ticker := range e.registry.Tickers() {
		if !e.session.IsSessionOpen(ticker) {
			continue
		}
		st := e.registry.Get(ticker)

		if sig, ok := e.store.LatestBefore(ticker, st.LastSignalNanos, nowNanos, true); ok {
			if err := e.OnSignal(ctx, ticker, sig.Kind, sig.Nanos, now); err != nil {
				observ.LogError("signal_failed", err, map[string]any{"ticker": ticker, "scan": "intraday"})
				continue
			}
		}

		trigger, err := e.exits.Check(ctx, st, e.invested(st), now)
		if err != nil {
			observ.LogError("exit_check_failed", err, map[string]any{"ticker": ticker})
			continue
		}
		if trigger != nil {
			observ.Log("exit_triggered", map[string]any{
				"ticker":   ticker,
				"contract": trigger.Contract,
				"type":     trigger.TriggerType,
				"entry":    trigger.EntryPrice,
				"current":  trigger.CurrentPrice,
				"target":   trigger.TriggerPrice,
			})
			e.liquidate(ctx, ticker, st.OpenContract, trigger.TriggerType, now)
		}
	}

	open := 0
	for _, ticker := range e.registry.Tickers() {
		if st := e.registry.Get(ticker); st != nil && st.OpenContract != "" {
			open++
		}
	}
	observ.SetGauge("open_positions", float64(open), nil)
}

// OnSignal applies one signal to one instrument. The signal is marked
// consumed whether or not a trade results, so it is never reprocessed.
func (e *Engine) OnSignal(ctx context.Context, ticker string, kind signals.Kind, signalNanos int64, now time.Time) error {
	st := e.registry.Get(ticker)
	if st == nil {
		return nil
	}
	if signalNanos <= 0 {
		return &TimestampComparisonError{Ticker: ticker, Detail: fmt.Sprintf("signal instant %d not representable as epoch nanos", signalNanos)}
	}
	if st.LastSignalNanos != 0 && signalNanos <= st.LastSignalNanos {
		return nil // already consumed
	}
	e.registry.MarkSignal(ticker, signalNanos)
	observ.IncCounter("signals_processed_total", map[string]string{"ticker": ticker, "kind": string(kind)})

	if st.ActiveKind == kind && e.invested(st) {
		observ.Log("signal_noop", map[string]any{"ticker": ticker, "kind": string(kind), "contract": st.OpenContract})
		return nil
	}

	// A stance change does not wait for liquidation confirmation before the
	// replacement buy; the old and new contract can briefly coexist.
	if st.OpenContract != "" {
		e.liquidate(ctx, ticker, st.OpenContract, "reversal", now)
	}

	contract, err := e.selector.Select(ctx, ticker, right(kind), now)
	if err != nil {
		e.registry.Reset(ticker, "selector_error")
		return fmt.Errorf("select contract for %s: %w", ticker, err)
	}
	if contract == nil {
		e.registry.Reset(ticker, "no_contract")
		observ.Log("no_contract", map[string]any{"ticker": ticker, "kind": string(kind)})
		return nil
	}

	res, err := e.executor.SubmitBuy(ctx, *contract, 1)
	if err != nil {
		e.registry.Reset(ticker, "order_error")
		return fmt.Errorf("submit buy for %s: %w", ticker, err)
	}
	if !res.Accepted {
		e.registry.Reset(ticker, "order_rejected")
		observ.IncCounter("orders_rejected_total", map[string]string{"ticker": ticker})
		observ.Log("order_rejected", map[string]any{"ticker": ticker, "contract": contract.Symbol, "reason": res.Reason})
		return nil
	}

	e.registry.Open(ticker, kind, contract.Symbol, now)
	observ.IncCounter("orders_submitted_total", map[string]string{"ticker": ticker, "side": "BUY"})
	e.journalOrder(outbox.Order{
		ID:        orderID(res.OrderID),
		Ticker:    ticker,
		Contract:  contract.Symbol,
		Side:      "BUY",
		Qty:       1,
		Reason:    "signal",
		Timestamp: now.UTC(),
		Status:    "accepted",
	})
	return nil
}

// OnFill consumes an asynchronous fill notification.
func (e *Engine) OnFill(ticker, contractSymbol, side string, fillQty int, fillPrice float64, totalQtyAfter int) {
	err := e.registry.ApplyFill(ticker, contractSymbol, side, fillQty, fillPrice, totalQtyAfter)
	if err != nil {
		var acctErr *positions.AccountingError
		if errors.As(err, &acctErr) {
			observ.LogError("accounting_error", err, map[string]any{"ticker": ticker})
			return
		}
		observ.LogError("fill_failed", err, map[string]any{"ticker": ticker})
	}
}

// OnLiquidateConfirmed handles the broker's confirmation that a position is
// closed. Always clears stance, contract, and entry accounting.
func (e *Engine) OnLiquidateConfirmed(ticker string) {
	e.registry.Reset(ticker, "liquidated")
	observ.Log("liquidation_confirmed", map[string]any{"ticker": ticker})
}

// liquidate requests closure of the tracked contract and resets instrument
// state without waiting for confirmation.
func (e *Engine) liquidate(ctx context.Context, ticker, contractSymbol, reason string, now time.Time) {
	if err := e.executor.Liquidate(ctx, contractSymbol, reason); err != nil {
		observ.LogError("liquidate_failed", err, map[string]any{"ticker": ticker, "contract": contractSymbol})
	}
	observ.IncCounter("orders_submitted_total", map[string]string{"ticker": ticker, "side": "SELL"})
	e.journalOrder(outbox.Order{
		ID:        orderID(""),
		Ticker:    ticker,
		Contract:  contractSymbol,
		Side:      "SELL",
		Qty:       1,
		Reason:    reason,
		Timestamp: now.UTC(),
		Status:    "accepted",
	})
	e.registry.Reset(ticker, reason)
}

func (e *Engine) invested(st *positions.InstrumentState) bool {
	if st == nil || st.OpenContract == "" || e.holdings == nil {
		return false
	}
	return e.holdings.Invested(st.OpenContract)
}

func (e *Engine) journalOrder(order outbox.Order) {
	if e.journal == nil {
		return
	}
	if err := e.journal.WriteOrder(order); err != nil {
		observ.LogError("journal_write_failed", err, map[string]any{"ticker": order.Ticker})
	}
}

func right(kind signals.Kind) adapters.OptionRight {
	if kind == signals.KindPut {
		return adapters.RightPut
	}
	return adapters.RightCall
}

func orderID(fromExecutor string) string {
	if fromExecutor != "" {
		return fromExecutor
	}
	return uuid.New().String()
}

func toNanos(t time.Time) (int64, error) {
	if t.IsZero() {
		return 0, &TimestampComparisonError{Detail: "zero event instant"}
	}
	return t.UTC().UnixNano(), nil
}
