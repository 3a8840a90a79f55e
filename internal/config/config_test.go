package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, "signals:\n  path: data/signals.csv\n")
	c, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if c.TradingMode != "paper" {
		t.Errorf("trading_mode = %q, want paper", c.TradingMode)
	}
	if c.Strategy.TargetDTE != 0 {
		t.Errorf("target_dte = %d, want 0 (same-day expiry)", c.Strategy.TargetDTE)
	}
	if c.Strategy.TargetDelta != 0.70 {
		t.Errorf("target_delta = %v, want 0.70", c.Strategy.TargetDelta)
	}
	if c.Strategy.TakeProfitPct != 1.0 {
		t.Errorf("take_profit_pct = %v, want 1.0", c.Strategy.TakeProfitPct)
	}
	if c.Strategy.StopLossPct != 0 {
		t.Errorf("stop_loss_pct = %v, want 0 (disabled)", c.Strategy.StopLossPct)
	}
	if c.Session.Exchange != "America/New_York" {
		t.Errorf("exchange = %q", c.Session.Exchange)
	}
	if c.Session.PreMarketScanHHMM != "09:31" {
		t.Errorf("premarket_scan_hhmm = %q", c.Session.PreMarketScanHHMM)
	}
	if c.Paper.LatencyMsMax != 2000 || c.Paper.SlippageBpsMax != 5 {
		t.Errorf("paper defaults = %+v", c.Paper)
	}
	if c.Chain.RateLimitPerMinute != 60 || c.Chain.DailyCap != 5000 {
		t.Errorf("chain defaults = %+v", c.Chain)
	}
}

func TestLoad_ExplicitValuesKept(t *testing.T) {
	path := writeConfig(t, `
trading_mode: dry-run
strategy:
  target_dte: 7
  target_delta: 0.30
  take_profit_pct: 0.5
  stop_loss_pct: 0.25
`)
	c, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.Strategy.TargetDTE != 7 || c.Strategy.TargetDelta != 0.30 {
		t.Errorf("strategy = %+v", c.Strategy)
	}
	if c.Strategy.TakeProfitPct != 0.5 || c.Strategy.StopLossPct != 0.25 {
		t.Errorf("exit thresholds = %+v", c.Strategy)
	}
	if c.TradingMode != "dry-run" {
		t.Errorf("trading_mode = %q", c.TradingMode)
	}
}

func TestLoad_ExplicitZeroSurvives(t *testing.T) {
	// Zero means "disabled" for these fields, so writing it out must not be
	// rewritten to the default.
	path := writeConfig(t, `
strategy:
  target_delta: 0
  take_profit_pct: 0
  stop_loss_pct: 0.5
paper:
  latency_ms_min: 0
  slippage_bps_min: 0
`)
	c, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.Strategy.TakeProfitPct != 0 {
		t.Errorf("explicit take_profit_pct: 0 should disable TP, got %v", c.Strategy.TakeProfitPct)
	}
	if c.Strategy.TargetDelta != 0 {
		t.Errorf("explicit target_delta: 0 should survive, got %v", c.Strategy.TargetDelta)
	}
	if c.Strategy.StopLossPct != 0.5 {
		t.Errorf("stop_loss_pct = %v, want 0.5", c.Strategy.StopLossPct)
	}
	if c.Paper.LatencyMsMin != 0 || c.Paper.SlippageBpsMin != 0 {
		t.Errorf("explicit zero paper minimums should survive, got %+v", c.Paper)
	}
	// Absent keys still default.
	if c.Paper.LatencyMsMax != 2000 {
		t.Errorf("latency_ms_max = %d, want default 2000", c.Paper.LatencyMsMax)
	}
}

func TestLoad_RejectsInvertedPaperBounds(t *testing.T) {
	path := writeConfig(t, "paper:\n  latency_ms_min: 500\n  latency_ms_max: 200\n")
	if _, err := Load(path); err == nil {
		t.Fatal("latency_ms_max < latency_ms_min should fail validation")
	}

	path = writeConfig(t, "paper:\n  slippage_bps_min: 50\n  slippage_bps_max: 5\n")
	if _, err := Load(path); err == nil {
		t.Fatal("slippage_bps_max < slippage_bps_min should fail validation")
	}
}

func TestLoad_RejectsNegativeThresholds(t *testing.T) {
	path := writeConfig(t, "strategy:\n  stop_loss_pct: -0.1\n")
	if _, err := Load(path); err == nil {
		t.Fatal("negative stop_loss_pct should fail validation")
	}
}

func TestLoad_RejectsUnknownMode(t *testing.T) {
	path := writeConfig(t, "trading_mode: yolo\n")
	if _, err := Load(path); err == nil {
		t.Fatal("unknown trading_mode should fail validation")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("missing config file should error")
	}
}
