package outbox

import (
	"math/rand"
	"time"
)

// FillSimulator produces paper fills with configurable latency and slippage.
type FillSimulator struct {
	latencyMsMin   int
	latencyMsMax   int
	slippageBpsMin int
	slippageBpsMax int
}

// NewFillSimulator normalizes the ranges: negative minimums become 0 and an
// inverted range collapses to its minimum, so a bad range degrades to a
// constant instead of panicking on the first fill.
func NewFillSimulator(latencyMsMin, latencyMsMax, slippageBpsMin, slippageBpsMax int) *FillSimulator {
	if latencyMsMin < 0 {
		latencyMsMin = 0
	}
	if slippageBpsMin < 0 {
		slippageBpsMin = 0
	}
	if latencyMsMax < latencyMsMin {
		latencyMsMax = latencyMsMin
	}
	if slippageBpsMax < slippageBpsMin {
		slippageBpsMax = slippageBpsMin
	}
	return &FillSimulator{
		latencyMsMin:   latencyMsMin,
		latencyMsMax:   latencyMsMax,
		slippageBpsMin: slippageBpsMin,
		slippageBpsMax: slippageBpsMax,
	}
}

// SimulateFill fills the whole order at the market price adjusted by random
// slippage, buys slipping up and sells slipping down.
func (fs *FillSimulator) SimulateFill(order Order, marketPrice float64) (Fill, time.Duration) {
	latencyMs := fs.latencyMsMin + rand.Intn(fs.latencyMsMax-fs.latencyMsMin+1)
	slippageBps := fs.slippageBpsMin + rand.Intn(fs.slippageBpsMax-fs.slippageBpsMin+1)

	slippageMultiplier := 1.0 + float64(slippageBps)/10000.0
	price := marketPrice
	switch order.Side {
	case "BUY":
		price *= slippageMultiplier
	case "SELL":
		price /= slippageMultiplier
	}

	fill := Fill{
		OrderID:     order.ID,
		Ticker:      order.Ticker,
		Contract:    order.Contract,
		Quantity:    order.Qty,
		Price:       price,
		Side:        order.Side,
		Timestamp:   time.Now().UTC().Add(time.Duration(latencyMs) * time.Millisecond),
		LatencyMs:   latencyMs,
		SlippageBps: slippageBps,
	}

	return fill, time.Duration(latencyMs) * time.Millisecond
}
