package main

import (
	"context"
	"flag"
	"fmt"
	"hash/fnv"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/optionsignal/trading-engine/internal/adapters"
	"github.com/optionsignal/trading-engine/internal/config"
	"github.com/optionsignal/trading-engine/internal/engine"
	"github.com/optionsignal/trading-engine/internal/observ"
	"github.com/optionsignal/trading-engine/internal/options"
	"github.com/optionsignal/trading-engine/internal/outbox"
	"github.com/optionsignal/trading-engine/internal/positions"
	"github.com/optionsignal/trading-engine/internal/risk"
	"github.com/optionsignal/trading-engine/internal/signals"
)

// version is stamped at build time via -ldflags "-X main.version=...".
var version = "dev"

func main() {
	observ.SetVersion(version)
	var (
		configPath  = flag.String("config", "config/config.yaml", "path to yaml config")
		days        = flag.Int("days", 5, "number of simulated trading days")
		ticksPerDay = flag.Int("ticks", 390, "market data updates per session")
		seed        = flag.Int64("seed", 42, "sim price seed")
		metricsAddr = flag.String("metrics-addr", "", "serve /metrics and /healthz when set, e.g. :8090")
	)
	flag.Parse()
	log.SetFlags(0)

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	raw, err := os.ReadFile(cfg.Signals.Path)
	if err != nil {
		log.Fatalf("read signal feed: %v", err)
	}
	store, err := signals.Load(raw)
	if err != nil {
		// LoadError and ErrNoValidSignals are both fatal: nothing to trade on.
		log.Fatalf("signal feed: %v", err)
	}

	if *metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", observ.Handler())
		mux.Handle("/healthz", observ.Health())
		go func() {
			if err := http.ListenAndServe(*metricsAddr, mux); err != nil {
				observ.LogError("metrics_server_failed", err, nil)
			}
		}()
	}

	loc, err := time.LoadLocation(cfg.Session.Exchange)
	if err != nil {
		log.Fatalf("exchange timezone %q: %v", cfg.Session.Exchange, err)
	}
	scanHour, scanMinute, err := parseHHMM(cfg.Session.PreMarketScanHHMM)
	if err != nil {
		log.Fatalf("premarket scan time: %v", err)
	}

	ctx := context.Background()

	// Market data comes from the HTTP chain provider when configured,
	// otherwise from the built-in simulator.
	var (
		quotes  adapters.UnderlyingQuotes
		chain   adapters.ChainProvider
		cquotes adapters.ContractQuotes
	)
	if cfg.Chain.BaseURL != "" {
		httpChain, err := adapters.NewChainHTTPAdapter(adapters.ChainHTTPConfig{
			BaseURL:            cfg.Chain.BaseURL,
			APIKey:             cfg.Chain.APIKey,
			RateLimitPerMinute: cfg.Chain.RateLimitPerMinute,
			DailyCap:           cfg.Chain.DailyCap,
			TimeoutMs:          cfg.Chain.TimeoutMs,
			MaxRetries:         cfg.Chain.MaxRetries,
			BackoffBaseMs:      cfg.Chain.BackoffBaseMs,
			CacheTTLSeconds:    cfg.Chain.CacheTTLSeconds,
		})
		if err != nil {
			log.Fatalf("chain provider: %v", err)
		}
		quotes, chain, cquotes = httpChain, httpChain, httpChain
	} else {
		simQuotes := adapters.NewSimQuotesAdapter(*seed)
		for _, ticker := range store.Tickers() {
			simQuotes.AddSymbol(ticker, simBasePrice(ticker), 0.03)
		}
		simChain := adapters.NewSimChain(simQuotes, []int{cfg.Strategy.TargetDTE, cfg.Strategy.TargetDTE + 2, cfg.Strategy.TargetDTE + 7})
		quotes, chain, cquotes = simQuotes, simChain, simChain
	}

	// Instruments whose underlying cannot be quoted fail setup and are dropped.
	var tradable []string
	for _, ticker := range store.Tickers() {
		if _, err := quotes.GetQuote(ctx, ticker); err != nil {
			observ.LogError("instrument_setup_failed", err, map[string]any{"ticker": ticker})
			continue
		}
		tradable = append(tradable, ticker)
	}
	if len(tradable) == 0 {
		log.Fatalf("%v", engine.ErrNoTradableInstruments)
	}

	fillSim := outbox.NewFillSimulator(cfg.Paper.LatencyMsMin, cfg.Paper.LatencyMsMax, cfg.Paper.SlippageBpsMin, cfg.Paper.SlippageBpsMax)
	executor := adapters.NewSimExecutor(cquotes, fillSim)
	session := adapters.NewSimSession()

	journal, err := outbox.New(cfg.Paper.OutboxPath)
	if err != nil {
		log.Fatalf("outbox: %v", err)
	}

	registry := positions.NewRegistry(tradable, cfg.StatePath)
	selector := options.NewSelector(quotes, chain, cquotes, cfg.Strategy.TargetDTE, cfg.Strategy.TargetDelta)
	exits := risk.NewExitMonitor(risk.ExitConfig{
		TakeProfitPct: cfg.Strategy.TakeProfitPct,
		StopLossPct:   cfg.Strategy.StopLossPct,
	}, cquotes)

	eng := engine.New(store, registry, selector, executor, executor, session, exits, journal)
	eng.SetReady(true)

	observ.Log("run_started", map[string]any{
		"mode":         cfg.TradingMode,
		"instruments":  len(tradable),
		"days":         *days,
		"target_dte":   cfg.Strategy.TargetDTE,
		"target_delta": cfg.Strategy.TargetDelta,
	})

	// Replay clock: one pre-market scan per day at the configured local time,
	// then evenly spaced market data updates through a 6.5 hour session.
	day := nextWeekday(time.Now().In(loc))
	sessionLen := time.Duration(6.5 * float64(time.Hour))
	for d := 0; d < *days; d++ {
		scanAt := time.Date(day.Year(), day.Month(), day.Day(), scanHour, scanMinute, 0, 0, loc)
		eng.PreMarketScan(ctx, scanAt)
		deliverFills(eng, executor, journal)

		tickGap := sessionLen / time.Duration(*ticksPerDay)
		now := scanAt
		for i := 0; i < *ticksPerDay; i++ {
			now = now.Add(tickGap)
			eng.OnMarketData(ctx, now)
			deliverFills(eng, executor, journal)
		}

		day = nextWeekday(day.AddDate(0, 0, 1))
	}

	if err := registry.Snapshot(); err != nil {
		observ.LogError("state_snapshot_failed", err, nil)
	}

	fmt.Printf("run complete: %d signals processed, %d orders submitted, %d rejected\n",
		signalsCount(tradable),
		ordersCount(tradable, "BUY")+ordersCount(tradable, "SELL"),
		rejectedCount(tradable))
}

// deliverFills drains the paper executor's queue into the engine's fill
// handler and the journal, preserving delivery order.
func deliverFills(eng *engine.Engine, executor *adapters.SimExecutor, journal *outbox.Outbox) {
	for _, fill := range executor.DrainFills() {
		eng.OnFill(fill.Ticker, fill.Contract, fill.Side, fill.Quantity, fill.Price, executor.TotalAfter(fill.Contract))
		if err := journal.WriteFill(fill); err != nil {
			observ.LogError("journal_write_failed", err, map[string]any{"ticker": fill.Ticker})
		}
	}
}

func ordersCount(tickers []string, side string) int64 {
	var n int64
	for _, t := range tickers {
		n += observ.CounterValue("orders_submitted_total", map[string]string{"ticker": t, "side": side})
	}
	return n
}

func rejectedCount(tickers []string) int64 {
	var n int64
	for _, t := range tickers {
		n += observ.CounterValue("orders_rejected_total", map[string]string{"ticker": t})
	}
	return n
}

func signalsCount(tickers []string) int64 {
	var n int64
	for _, t := range tickers {
		for _, kind := range []string{"Call", "Put"} {
			n += observ.CounterValue("signals_processed_total", map[string]string{"ticker": t, "kind": kind})
		}
	}
	return n
}

// simBasePrice derives a stable per-ticker base price so runs are
// reproducible without fixture files.
func simBasePrice(ticker string) float64 {
	h := fnv.New32a()
	h.Write([]byte(ticker))
	return 20 + float64(h.Sum32()%48000)/100 // $20 .. $500
}

func nextWeekday(t time.Time) time.Time {
	for t.Weekday() == time.Saturday || t.Weekday() == time.Sunday {
		t = t.AddDate(0, 0, 1)
	}
	return t
}

func parseHHMM(s string) (int, int, error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("want HH:MM, got %q", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, 0, fmt.Errorf("bad hour in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, 0, fmt.Errorf("bad minute in %q", s)
	}
	return h, m, nil
}
