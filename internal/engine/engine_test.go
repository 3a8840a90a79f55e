package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/optionsignal/trading-engine/internal/adapters"
	"github.com/optionsignal/trading-engine/internal/observ"
	"github.com/optionsignal/trading-engine/internal/options"
	"github.com/optionsignal/trading-engine/internal/positions"
	"github.com/optionsignal/trading-engine/internal/risk"
	"github.com/optionsignal/trading-engine/internal/signals"
)

type world struct {
	eng      *Engine
	registry *positions.Registry
	chain    *adapters.MockChain
	cquotes  *adapters.MockContractQuotes
	executor *adapters.MockExecutor
	holdings *adapters.MockHoldings
	session  *adapters.MockSession
}

var t0 = time.Date(2026, 1, 5, 9, 31, 0, 0, time.UTC)

func newWorld(t *testing.T, csv string, tp, sl float64) *world {
	t.Helper()
	store, err := signals.Load([]byte(csv))
	require.NoError(t, err)

	underlying := adapters.NewMockUnderlyingQuotes()
	underlying.SetLast("AAPL", 100)

	w := &world{
		chain:    &adapters.MockChain{},
		cquotes:  adapters.NewMockContractQuotes(),
		executor: &adapters.MockExecutor{},
		holdings: adapters.NewMockHoldings(),
		session:  &adapters.MockSession{Open: true},
	}
	w.registry = positions.NewRegistry(store.Tickers(), "")
	selector := options.NewSelector(underlying, w.chain, w.cquotes, 0, 0.70)
	exits := risk.NewExitMonitor(risk.ExitConfig{TakeProfitPct: tp, StopLossPct: sl}, w.cquotes)
	w.eng = New(store, w.registry, selector, w.executor, w.holdings, w.session, exits, nil)
	w.eng.SetReady(true)
	return w
}

func (w *world) listContract(symbol string, right adapters.OptionRight, strike, price, delta float64, expiry time.Time) {
	w.chain.Contracts = append(w.chain.Contracts, adapters.Contract{
		Symbol:     symbol,
		Underlying: "AAPL",
		Right:      right,
		Strike:     strike,
		Expiry:     expiry,
	})
	w.cquotes.Quotes[symbol] = adapters.ContractQuote{
		Price: price, Bid: price * 0.98, Ask: price * 1.02, Delta: delta, HasData: true,
	}
}

const oneSignal = "timestamp,ticker,signaltype\n2026-01-05T09:31:00Z,AAPL,Call\n"

func TestOnSignal_OpensPosition(t *testing.T) {
	w := newWorld(t, oneSignal, 1.0, 0)
	w.listContract("C", adapters.RightCall, 100, 1.50, 0.70, t0)

	require.NoError(t, w.eng.OnSignal(context.Background(), "AAPL", signals.KindCall, t0.UnixNano(), t0))

	st := w.registry.Get("AAPL")
	assert.Equal(t, signals.KindCall, st.ActiveKind)
	assert.Equal(t, "C", st.OpenContract)
	assert.Equal(t, t0.UnixNano(), st.LastSignalNanos)
	assert.Len(t, w.executor.Buys, 1)
	assert.Empty(t, w.executor.Liquidated)
}

func TestOnSignal_IdempotentConsumption(t *testing.T) {
	w := newWorld(t, oneSignal, 1.0, 0)
	w.listContract("C", adapters.RightCall, 100, 1.50, 0.70, t0)

	require.NoError(t, w.eng.OnSignal(context.Background(), "AAPL", signals.KindCall, t0.UnixNano(), t0))
	require.NoError(t, w.eng.OnSignal(context.Background(), "AAPL", signals.KindCall, t0.UnixNano(), t0))

	assert.Len(t, w.executor.Buys, 1, "replayed signal must not resubmit")
	assert.Empty(t, w.executor.Liquidated, "replayed signal must not liquidate")
}

func TestOnSignal_SameStanceInvestedIsNoop(t *testing.T) {
	w := newWorld(t, oneSignal, 1.0, 0)
	w.listContract("C", adapters.RightCall, 100, 1.50, 0.70, t0)

	require.NoError(t, w.eng.OnSignal(context.Background(), "AAPL", signals.KindCall, t0.UnixNano(), t0))
	w.holdings.Held["C"] = true

	later := t0.Add(time.Hour)
	require.NoError(t, w.eng.OnSignal(context.Background(), "AAPL", signals.KindCall, later.UnixNano(), later))

	assert.Len(t, w.executor.Buys, 1)
	assert.Empty(t, w.executor.Liquidated)
	assert.Equal(t, later.UnixNano(), w.registry.Get("AAPL").LastSignalNanos, "signal still marked consumed")
}

func TestOnSignal_SameStanceUnfilledReenters(t *testing.T) {
	// The tracked contract was never confirmed invested, so a repeat signal
	// replaces it rather than trusting the pending order.
	w := newWorld(t, oneSignal, 1.0, 0)
	w.listContract("C", adapters.RightCall, 100, 1.50, 0.70, t0)

	require.NoError(t, w.eng.OnSignal(context.Background(), "AAPL", signals.KindCall, t0.UnixNano(), t0))
	later := t0.Add(time.Hour)
	require.NoError(t, w.eng.OnSignal(context.Background(), "AAPL", signals.KindCall, later.UnixNano(), later))

	assert.Equal(t, []string{"C"}, w.executor.Liquidated)
	assert.Len(t, w.executor.Buys, 2)
}

func TestOnSignal_ReversalLiquidatesThenOpens(t *testing.T) {
	w := newWorld(t, oneSignal, 1.0, 0)
	w.listContract("C", adapters.RightCall, 100, 1.50, 0.70, t0)
	w.listContract("P", adapters.RightPut, 100, 1.40, -0.70, t0)

	require.NoError(t, w.eng.OnSignal(context.Background(), "AAPL", signals.KindCall, t0.UnixNano(), t0))
	w.holdings.Held["C"] = true

	later := t0.Add(time.Hour)
	require.NoError(t, w.eng.OnSignal(context.Background(), "AAPL", signals.KindPut, later.UnixNano(), later))

	assert.Equal(t, []string{"C"}, w.executor.Liquidated)
	require.Len(t, w.executor.Buys, 2)
	assert.Equal(t, "P", w.executor.Buys[1].Symbol)
	st := w.registry.Get("AAPL")
	assert.Equal(t, signals.KindPut, st.ActiveKind)
	assert.Equal(t, "P", st.OpenContract)
}

func TestOnSignal_RejectionResetsState(t *testing.T) {
	w := newWorld(t, oneSignal, 1.0, 0)
	w.listContract("C", adapters.RightCall, 100, 1.50, 0.70, t0)
	w.executor.RejectWith = "insufficient margin"

	require.NoError(t, w.eng.OnSignal(context.Background(), "AAPL", signals.KindCall, t0.UnixNano(), t0))

	st := w.registry.Get("AAPL")
	assert.Empty(t, st.ActiveKind, "rejected order must not record a stance")
	assert.Empty(t, st.OpenContract)
	assert.Equal(t, t0.UnixNano(), st.LastSignalNanos, "signal still consumed")
}

func TestOnSignal_NoContractResetsState(t *testing.T) {
	w := newWorld(t, oneSignal, 1.0, 0) // empty chain

	require.NoError(t, w.eng.OnSignal(context.Background(), "AAPL", signals.KindCall, t0.UnixNano(), t0))

	st := w.registry.Get("AAPL")
	assert.Empty(t, st.ActiveKind)
	assert.Empty(t, st.OpenContract)
	assert.Equal(t, t0.UnixNano(), st.LastSignalNanos)
}

func TestOnSignal_BadInstant(t *testing.T) {
	w := newWorld(t, oneSignal, 1.0, 0)
	err := w.eng.OnSignal(context.Background(), "AAPL", signals.KindCall, 0, t0)
	var tce *TimestampComparisonError
	require.ErrorAs(t, err, &tce)
}

func TestEndToEnd_SignalFillTakeProfit(t *testing.T) {
	w := newWorld(t, oneSignal, 1.0, 0)
	w.listContract("C", adapters.RightCall, 100, 1.50, 0.70, t0)

	// Intraday scan consumes the 09:31 signal.
	tick1 := t0.Add(time.Minute)
	w.eng.OnMarketData(context.Background(), tick1)
	st := w.registry.Get("AAPL")
	require.Equal(t, "C", st.OpenContract)
	assert.Equal(t, 1.0, observ.GaugeValue("open_positions", nil))

	// Fill lands and the position is confirmed.
	w.eng.OnFill("AAPL", "C", "BUY", 1, 1.50, 1)
	w.holdings.Held["C"] = true
	assert.InDelta(t, 1.50, st.AverageEntryPrice, 1e-9)

	// Price doubles: tp_pct=1.0 targets 3.00.
	w.cquotes.Quotes["C"] = adapters.ContractQuote{Price: 3.00, Bid: 2.95, Ask: 3.05, Delta: 0.9, HasData: true}
	w.eng.OnMarketData(context.Background(), tick1.Add(time.Minute))

	assert.Equal(t, []string{"C"}, w.executor.Liquidated)
	st = w.registry.Get("AAPL")
	assert.Empty(t, st.OpenContract, "state must return to idle")
	assert.Empty(t, st.ActiveKind)
	assert.Zero(t, st.AverageEntryPrice)
	assert.Equal(t, 0.0, observ.GaugeValue("open_positions", nil))
}

func TestOnMarketData_SuppressedDuringWarmupAndClosedSession(t *testing.T) {
	w := newWorld(t, oneSignal, 1.0, 0)
	w.listContract("C", adapters.RightCall, 100, 1.50, 0.70, t0)

	w.eng.SetReady(false)
	w.eng.OnMarketData(context.Background(), t0.Add(time.Minute))
	assert.Empty(t, w.executor.Buys, "warm-up must suppress events")

	w.eng.SetReady(true)
	w.session.Open = false
	w.eng.OnMarketData(context.Background(), t0.Add(time.Minute))
	assert.Empty(t, w.executor.Buys, "closed session must suppress intraday processing")
}

func TestPreMarketScan_StrictlyBeforeNow(t *testing.T) {
	w := newWorld(t, oneSignal, 1.0, 0)
	w.listContract("C", adapters.RightCall, 100, 1.50, 0.70, t0)

	// Scan exactly at the signal instant: strict < excludes it.
	w.eng.PreMarketScan(context.Background(), t0)
	assert.Empty(t, w.executor.Buys)

	// Next day's scan picks it up.
	w.eng.PreMarketScan(context.Background(), t0.AddDate(0, 0, 1))
	assert.Len(t, w.executor.Buys, 1)
}

func TestOnLiquidateConfirmed_AlwaysClears(t *testing.T) {
	w := newWorld(t, oneSignal, 1.0, 0)
	w.listContract("C", adapters.RightCall, 100, 1.50, 0.70, t0)
	require.NoError(t, w.eng.OnSignal(context.Background(), "AAPL", signals.KindCall, t0.UnixNano(), t0))
	w.eng.OnFill("AAPL", "C", "BUY", 1, 1.50, 1)

	w.eng.OnLiquidateConfirmed("AAPL")

	st := w.registry.Get("AAPL")
	assert.Empty(t, st.ActiveKind)
	assert.Empty(t, st.OpenContract)
	assert.Zero(t, st.AverageEntryPrice)
}
