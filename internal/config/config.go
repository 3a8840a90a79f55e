package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type Strategy struct {
	TargetDTE     int     `yaml:"target_dte"`      // calendar days to expiry to aim for
	TargetDelta   float64 `yaml:"target_delta"`    // matched against |delta|
	TakeProfitPct float64 `yaml:"take_profit_pct"` // 0 disables
	StopLossPct   float64 `yaml:"stop_loss_pct"`   // 0 disables
}

type Signals struct {
	Path string `yaml:"path"`
}

type Session struct {
	Exchange          string `yaml:"exchange"`            // tz database name, e.g. America/New_York
	PreMarketScanHHMM string `yaml:"premarket_scan_hhmm"` // daily scan trigger, local exchange time
}

type Paper struct {
	OutboxPath     string `yaml:"outbox_path"`
	LatencyMsMin   int    `yaml:"latency_ms_min"`
	LatencyMsMax   int    `yaml:"latency_ms_max"`
	SlippageBpsMin int    `yaml:"slippage_bps_min"`
	SlippageBpsMax int    `yaml:"slippage_bps_max"`
}

type Chain struct {
	BaseURL            string `yaml:"base_url"`
	APIKey             string `yaml:"api_key"`
	RateLimitPerMinute int    `yaml:"rate_limit_per_minute"`
	DailyCap           int    `yaml:"daily_cap"`
	TimeoutMs          int    `yaml:"timeout_ms"`
	MaxRetries         int    `yaml:"max_retries"`
	BackoffBaseMs      int    `yaml:"backoff_base_ms"`
	CacheTTLSeconds    int    `yaml:"cache_ttl_seconds"`
}

type Root struct {
	TradingMode string   `yaml:"trading_mode"` // paper | live | dry-run
	Strategy    Strategy `yaml:"strategy"`
	Signals     Signals  `yaml:"signals"`
	Session     Session  `yaml:"session"`
	Paper       Paper    `yaml:"paper"`
	Chain       Chain    `yaml:"chain"`
	StatePath   string   `yaml:"state_path"`
}

// Defaults is the baseline configuration. Load unmarshals the file over it,
// so a key absent from the file keeps its default while an explicit zero in
// the file survives. That distinction matters for the strategy scalars and
// the paper bounds, where zero means "disabled", not "unset".
func Defaults() Root {
	return Root{
		Strategy: Strategy{
			TargetDelta:   0.70,
			TakeProfitPct: 1.0,
			// TargetDTE and StopLossPct are 0 on purpose: same-day expiry, no stop.
		},
		Paper: Paper{
			LatencyMsMin:   100,
			LatencyMsMax:   2000,
			SlippageBpsMin: 1,
			SlippageBpsMax: 5,
		},
	}
}

func Load(path string) (Root, error) {
	c := Defaults()
	b, err := os.ReadFile(path)
	if err != nil {
		return c, err
	}
	if err := yaml.Unmarshal(b, &c); err != nil {
		return c, err
	}
	ApplyDefaults(&c)
	if err := Validate(c); err != nil {
		return c, err
	}
	return c, nil
}

// ApplyDefaults fills the gaps where the zero value is never a meaningful
// setting (empty strings, zero caps). Zero-meaningful fields live in
// Defaults instead.
func ApplyDefaults(c *Root) {
	if c.TradingMode == "" {
		c.TradingMode = "paper"
	}
	if c.Signals.Path == "" {
		c.Signals.Path = "data/signals.csv"
	}
	if c.Session.Exchange == "" {
		c.Session.Exchange = "America/New_York"
	}
	if c.Session.PreMarketScanHHMM == "" {
		c.Session.PreMarketScanHHMM = "09:31"
	}
	if c.Paper.OutboxPath == "" {
		c.Paper.OutboxPath = "data/outbox.jsonl"
	}

	if c.Chain.RateLimitPerMinute == 0 {
		c.Chain.RateLimitPerMinute = 60
	}
	if c.Chain.DailyCap == 0 {
		c.Chain.DailyCap = 5000
	}
	if c.Chain.TimeoutMs == 0 {
		c.Chain.TimeoutMs = 5000
	}
	if c.Chain.MaxRetries == 0 {
		c.Chain.MaxRetries = 3
	}
	if c.Chain.BackoffBaseMs == 0 {
		c.Chain.BackoffBaseMs = 100
	}
	if c.Chain.CacheTTLSeconds == 0 {
		c.Chain.CacheTTLSeconds = 5
	}

	if c.StatePath == "" {
		c.StatePath = "data/state.json"
	}
}

func Validate(c Root) error {
	if c.Strategy.TargetDTE < 0 {
		return fmt.Errorf("strategy.target_dte must be >= 0, got %d", c.Strategy.TargetDTE)
	}
	if c.Strategy.TargetDelta < 0 {
		return fmt.Errorf("strategy.target_delta must be >= 0, got %v", c.Strategy.TargetDelta)
	}
	if c.Strategy.TakeProfitPct < 0 {
		return fmt.Errorf("strategy.take_profit_pct must be >= 0, got %v", c.Strategy.TakeProfitPct)
	}
	if c.Strategy.StopLossPct < 0 {
		return fmt.Errorf("strategy.stop_loss_pct must be >= 0, got %v", c.Strategy.StopLossPct)
	}
	if c.Paper.LatencyMsMin < 0 || c.Paper.SlippageBpsMin < 0 {
		return fmt.Errorf("paper latency/slippage minimums must be >= 0")
	}
	if c.Paper.LatencyMsMax < c.Paper.LatencyMsMin {
		return fmt.Errorf("paper.latency_ms_max (%d) < paper.latency_ms_min (%d)", c.Paper.LatencyMsMax, c.Paper.LatencyMsMin)
	}
	if c.Paper.SlippageBpsMax < c.Paper.SlippageBpsMin {
		return fmt.Errorf("paper.slippage_bps_max (%d) < paper.slippage_bps_min (%d)", c.Paper.SlippageBpsMax, c.Paper.SlippageBpsMin)
	}
	switch c.TradingMode {
	case "paper", "live", "dry-run":
	default:
		return fmt.Errorf("trading_mode must be paper|live|dry-run, got %q", c.TradingMode)
	}
	return nil
}
