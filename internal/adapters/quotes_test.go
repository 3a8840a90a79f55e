package adapters

import (
	"context"
	"testing"
	"time"

	"github.com/optionsignal/trading-engine/internal/outbox"
)

func TestValidateQuote(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name    string
		quote   *Quote
		wantErr bool
	}{
		{
			name: "valid quote",
			quote: &Quote{
				Symbol:    "AAPL",
				Bid:       100.50,
				Ask:       100.55,
				Last:      100.52,
				Timestamp: now.Add(-30 * time.Second),
				Session:   "RTH",
				Source:    "mock",
			},
			wantErr: false,
		},
		{
			name:    "nil quote",
			quote:   nil,
			wantErr: true,
		},
		{
			name: "empty symbol",
			quote: &Quote{
				Symbol: "",
				Bid:    100.50,
				Ask:    100.55,
			},
			wantErr: true,
		},
		{
			name: "invalid prices",
			quote: &Quote{
				Symbol: "AAPL",
				Bid:    -1.0,
				Ask:    100.55,
			},
			wantErr: true,
		},
		{
			name: "ask less than bid",
			quote: &Quote{
				Symbol: "AAPL",
				Bid:    100.55,
				Ask:    100.50,
				Last:   100.52,
			},
			wantErr: true,
		},
		{
			name: "future timestamp",
			quote: &Quote{
				Symbol:    "AAPL",
				Bid:       100.50,
				Ask:       100.55,
				Last:      100.52,
				Timestamp: now.Add(10 * time.Minute),
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateQuote(tt.quote)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateQuote() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestQuoteSpreadBps(t *testing.T) {
	quote := &Quote{
		Bid: 100.00,
		Ask: 100.10,
	}

	expectedSpread := 10.0 // 0.10/100.00 * 10000 = 10 bps
	actualSpread := quote.SpreadBps()

	if abs(actualSpread-expectedSpread) > 0.001 {
		t.Errorf("SpreadBps() = %v, want %v", actualSpread, expectedSpread)
	}
}

func TestSimQuotesAdapter(t *testing.T) {
	adapter := NewSimQuotesAdapter(1)
	adapter.AddSymbol("AAPL", 185.0, 0.02)
	ctx := context.Background()

	t.Run("get simulated quote", func(t *testing.T) {
		quote, err := adapter.GetQuote(ctx, "AAPL")
		if err != nil {
			t.Fatalf("GetQuote() error = %v", err)
		}

		if quote.Symbol != "AAPL" {
			t.Errorf("Symbol = %v, want AAPL", quote.Symbol)
		}
		if quote.Source != "sim" {
			t.Errorf("Source = %v, want sim", quote.Source)
		}
		if err := ValidateQuote(quote); err != nil {
			t.Errorf("Invalid simulated quote: %v", err)
		}
		if quote.Ask <= quote.Bid {
			t.Error("Simulated quote has invalid spread")
		}
	})

	t.Run("prices walk but stay bounded", func(t *testing.T) {
		quote1, _ := adapter.GetQuote(ctx, "AAPL")
		quote2, _ := adapter.GetQuote(ctx, "AAPL")

		priceDiff := abs(quote1.Last - quote2.Last)
		maxExpectedMove := quote1.Last * 0.1
		if priceDiff > maxExpectedMove {
			t.Errorf("Price moved too much: %.2f -> %.2f", quote1.Last, quote2.Last)
		}
	})

	t.Run("unknown symbol", func(t *testing.T) {
		_, err := adapter.GetQuote(ctx, "NOPE")
		if err == nil {
			t.Error("Expected error for unregistered symbol")
		}
	})
}

func TestSimChain(t *testing.T) {
	underlying := NewSimQuotesAdapter(7)
	underlying.AddSymbol("MSFT", 400.0, 0.0) // zero vol keeps spot predictable
	chain := NewSimChain(underlying, []int{0, 7})
	ctx := context.Background()
	now := time.Date(2026, 1, 5, 15, 0, 0, 0, time.UTC)

	contracts, err := chain.ListContracts(ctx, "MSFT", now)
	if err != nil {
		t.Fatalf("ListContracts() error = %v", err)
	}
	// 11 strikes, 2 rights, 2 expiries.
	if len(contracts) != 44 {
		t.Fatalf("got %d contracts, want 44", len(contracts))
	}

	var itmCall, itmPut Contract
	for _, c := range contracts {
		if c.Right == RightCall && c.Strike < 390 {
			itmCall = c
		}
		if c.Right == RightPut && c.Strike > 410 {
			itmPut = c
		}
	}
	if itmCall.Symbol == "" || itmPut.Symbol == "" {
		t.Fatal("expected in-the-money strikes on both sides")
	}

	t.Run("call delta positive and ITM-heavy", func(t *testing.T) {
		cq, err := chain.LiveQuote(ctx, itmCall.Symbol)
		if err != nil {
			t.Fatalf("LiveQuote() error = %v", err)
		}
		if !cq.HasData || cq.Price <= 0 {
			t.Fatalf("expected priced quote, got %+v", cq)
		}
		if cq.Delta <= 0.5 {
			t.Errorf("ITM call delta = %v, want > 0.5", cq.Delta)
		}
	})

	t.Run("put delta negative", func(t *testing.T) {
		cq, err := chain.LiveQuote(ctx, itmPut.Symbol)
		if err != nil {
			t.Fatalf("LiveQuote() error = %v", err)
		}
		if cq.Delta >= 0 {
			t.Errorf("put delta = %v, want negative", cq.Delta)
		}
	})

	t.Run("unlisted contract answers empty", func(t *testing.T) {
		cq, err := chain.LiveQuote(ctx, "MSFT260109C00999000")
		if err != nil {
			t.Fatalf("LiveQuote() error = %v", err)
		}
		if cq.HasData {
			t.Error("unlisted contract should have no data")
		}
	})

	t.Run("warmup suppresses quotes then clears", func(t *testing.T) {
		chain.SetWarmup(itmCall.Symbol, 2)
		for i := 0; i < 2; i++ {
			cq, _ := chain.LiveQuote(ctx, itmCall.Symbol)
			if cq.HasData {
				t.Fatalf("lookup %d during warmup should be empty", i+1)
			}
		}
		cq, _ := chain.LiveQuote(ctx, itmCall.Symbol)
		if !cq.HasData {
			t.Error("quote should return after warmup")
		}
	})
}

func TestSimExecutorFillLifecycle(t *testing.T) {
	underlying := NewSimQuotesAdapter(3)
	underlying.AddSymbol("NVDA", 120.0, 0.0)
	chain := NewSimChain(underlying, []int{0})
	ctx := context.Background()

	contracts, err := chain.ListContracts(ctx, "NVDA", time.Now().UTC())
	if err != nil {
		t.Fatalf("ListContracts() error = %v", err)
	}
	contract := contracts[0]

	exec := NewSimExecutor(chain, outbox.NewFillSimulator(0, 0, 0, 0))
	res, err := exec.SubmitBuy(ctx, contract, 1)
	if err != nil {
		t.Fatalf("SubmitBuy() error = %v", err)
	}
	if !res.Accepted || res.OrderID == "" {
		t.Fatalf("expected accepted order with ID, got %+v", res)
	}
	if exec.Invested(contract.Symbol) {
		t.Error("holding must not be confirmed before the fill is drained")
	}

	fills := exec.DrainFills()
	if len(fills) != 1 || fills[0].Side != "BUY" {
		t.Fatalf("fills = %+v, want one BUY", fills)
	}
	if !exec.Invested(contract.Symbol) {
		t.Error("holding should be confirmed after draining the buy fill")
	}
	if exec.TotalAfter(contract.Symbol) != 1 {
		t.Errorf("TotalAfter = %d, want 1", exec.TotalAfter(contract.Symbol))
	}

	if err := exec.Liquidate(ctx, contract.Symbol, "take_profit"); err != nil {
		t.Fatalf("Liquidate() error = %v", err)
	}
	fills = exec.DrainFills()
	if len(fills) != 1 || fills[0].Side != "SELL" {
		t.Fatalf("fills = %+v, want one SELL", fills)
	}
	if exec.Invested(contract.Symbol) {
		t.Error("holding should clear after liquidation")
	}
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}
