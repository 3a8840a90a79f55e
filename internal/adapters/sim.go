package adapters

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/optionsignal/trading-engine/internal/outbox"
)

// SimQuotesAdapter provides simulated underlying quotes with a random walk.
type SimQuotesAdapter struct {
	mu         sync.Mutex
	baseQuotes map[string]*baseQuote
	random     *rand.Rand
}

type baseQuote struct {
	Symbol     string
	BasePrice  float64
	Volatility float64 // Daily volatility as decimal (e.g., 0.02 for 2%)
}

// NewSimQuotesAdapter creates a sim adapter. A fixed seed keeps paper runs
// reproducible.
func NewSimQuotesAdapter(seed int64) *SimQuotesAdapter {
	return &SimQuotesAdapter{
		baseQuotes: map[string]*baseQuote{},
		random:     rand.New(rand.NewSource(seed)),
	}
}

// AddSymbol registers an underlying for simulation.
func (s *SimQuotesAdapter) AddSymbol(symbol string, basePrice, volatility float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	s.baseQuotes[symbol] = &baseQuote{Symbol: symbol, BasePrice: basePrice, Volatility: volatility}
}

// GetQuote generates a quote with a small random walk step around the base
// price, moving the base so paths drift like real intraday prints.
func (s *SimQuotesAdapter) GetQuote(ctx context.Context, symbol string) (*Quote, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	base, exists := s.baseQuotes[symbol]
	if !exists {
		return nil, NewBadSymbolError(symbol, "symbol not supported by sim adapter")
	}

	// Per-minute step from daily volatility over a 390-minute session.
	minuteVol := base.Volatility / math.Sqrt(390)
	base.BasePrice *= 1 + s.random.NormFloat64()*minuteVol
	price := base.BasePrice

	spreadPct := 0.0001 + s.random.Float64()*0.0004
	halfSpread := price * spreadPct / 2

	return &Quote{
		Symbol:    symbol,
		Bid:       roundToTick(price - halfSpread),
		Ask:       roundToTick(price + halfSpread),
		Last:      roundToTick(price),
		Timestamp: time.Now(),
		Session:   "RTH",
		Source:    "sim",
	}, nil
}

func (s *SimQuotesAdapter) Close() error { return nil }

func roundToTick(price float64) float64 {
	return math.Round(price*100) / 100
}

// SimChain synthesizes an option chain around the current underlying price
// and prices each contract with intrinsic value plus decaying time value. It
// implements both ChainProvider and ContractQuotes.
type SimChain struct {
	mu             sync.Mutex
	underlying     *SimQuotesAdapter
	expiryOffsets  []int   // calendar-day offsets from now
	strikeStepPct  float64 // spacing between strikes as fraction of spot
	strikesPerSide int
	contracts      map[string]Contract // symbol -> contract from the last listing
	warmup         map[string]int      // symbols quoted empty for their first N lookups
}

func NewSimChain(underlying *SimQuotesAdapter, expiryOffsets []int) *SimChain {
	if len(expiryOffsets) == 0 {
		expiryOffsets = []int{0, 2, 7}
	}
	return &SimChain{
		underlying:     underlying,
		expiryOffsets:  expiryOffsets,
		strikeStepPct:  0.01,
		strikesPerSide: 5,
		contracts:      map[string]Contract{},
		warmup:         map[string]int{},
	}
}

// ListContracts generates both rights at every configured expiry, strikes
// laddered around spot.
func (c *SimChain) ListContracts(ctx context.Context, underlying string, asOf time.Time) ([]Contract, error) {
	quote, err := c.underlying.GetQuote(ctx, underlying)
	if err != nil {
		return nil, err
	}
	spot := quote.Last

	c.mu.Lock()
	defer c.mu.Unlock()

	var out []Contract
	for _, offset := range c.expiryOffsets {
		expiry := asOf.UTC().AddDate(0, 0, offset)
		for i := -c.strikesPerSide; i <= c.strikesPerSide; i++ {
			strike := roundToTick(spot * (1 + float64(i)*c.strikeStepPct))
			for _, right := range []OptionRight{RightCall, RightPut} {
				contract := Contract{
					Symbol:     occSymbol(underlying, expiry, right, strike),
					Underlying: underlying,
					Right:      right,
					Strike:     strike,
					Expiry:     expiry,
				}
				c.contracts[contract.Symbol] = contract
				out = append(out, contract)
			}
		}
	}
	return out, nil
}

// LiveQuote prices a previously listed contract off the current spot.
func (c *SimChain) LiveQuote(ctx context.Context, contractSymbol string) (ContractQuote, error) {
	c.mu.Lock()
	contract, ok := c.contracts[contractSymbol]
	if remaining := c.warmup[contractSymbol]; ok && remaining > 0 {
		c.warmup[contractSymbol] = remaining - 1
		c.mu.Unlock()
		return ContractQuote{}, nil
	}
	c.mu.Unlock()
	if !ok {
		return ContractQuote{}, nil
	}

	quote, err := c.underlying.GetQuote(ctx, contract.Underlying)
	if err != nil {
		return ContractQuote{}, err
	}
	spot := quote.Last

	intrinsic := spot - contract.Strike
	if contract.Right == RightPut {
		intrinsic = contract.Strike - spot
	}
	if intrinsic < 0 {
		intrinsic = 0
	}
	dte := contract.DaysToExpiry(time.Now(), time.UTC)
	if dte < 0 {
		return ContractQuote{}, nil // expired
	}
	timeValue := spot * 0.004 * math.Sqrt(float64(dte)+0.5)
	price := math.Max(0.01, roundToTick(intrinsic+timeValue))

	return ContractQuote{
		Price:   price,
		Bid:     math.Max(0.01, roundToTick(price*0.98)),
		Ask:     roundToTick(price * 1.02),
		Delta:   simDelta(contract.Right, spot, contract.Strike),
		HasData: true,
	}, nil
}

// SetWarmup makes a contract answer with empty quotes for its next n
// lookups, emulating listed-but-not-yet-quoted chain entries.
func (c *SimChain) SetWarmup(contractSymbol string, n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.warmup[contractSymbol] = n
}

// simDelta maps moneyness to a delta-like value with a logistic curve:
// deep ITM approaches 1, ATM near 0.5, deep OTM approaches 0. Puts negative.
func simDelta(right OptionRight, spot, strike float64) float64 {
	moneyness := (spot - strike) / spot
	if right == RightPut {
		moneyness = -moneyness
	}
	d := 1 / (1 + math.Exp(-moneyness*60))
	if right == RightPut {
		return -d
	}
	return d
}

func occSymbol(underlying string, expiry time.Time, right OptionRight, strike float64) string {
	r := "C"
	if right == RightPut {
		r = "P"
	}
	return fmt.Sprintf("%s%s%s%08d", strings.ToUpper(underlying), expiry.Format("060102"), r, int64(strike*1000))
}

// SimExecutor accepts every order and produces paper fills through the fill
// simulator. Fills queue until the host drains them, modeling the async
// window between submission and confirmation.
type SimExecutor struct {
	mu       sync.Mutex
	quotes   ContractQuotes
	fillSim  *outbox.FillSimulator
	pending  []outbox.Fill
	invested map[string]int // contract symbol -> filled qty
	tickerOf map[string]string
}

func NewSimExecutor(quotes ContractQuotes, fillSim *outbox.FillSimulator) *SimExecutor {
	return &SimExecutor{
		quotes:   quotes,
		fillSim:  fillSim,
		invested: map[string]int{},
		tickerOf: map[string]string{},
	}
}

func (x *SimExecutor) SubmitBuy(ctx context.Context, contract Contract, qty int) (OrderResult, error) {
	quote, err := x.quotes.LiveQuote(ctx, contract.Symbol)
	if err != nil {
		return OrderResult{}, err
	}
	if !quote.HasData || quote.Ask <= 0 {
		return OrderResult{Accepted: false, Reason: "no market for contract"}, nil
	}

	order := outbox.Order{
		ID:       uuid.New().String(),
		Ticker:   contract.Underlying,
		Contract: contract.Symbol,
		Side:     "BUY",
		Qty:      qty,
	}
	fill, _ := x.fillSim.SimulateFill(order, quote.Ask)

	x.mu.Lock()
	x.pending = append(x.pending, fill)
	x.tickerOf[contract.Symbol] = contract.Underlying
	x.mu.Unlock()

	return OrderResult{Accepted: true, OrderID: order.ID}, nil
}

func (x *SimExecutor) Liquidate(ctx context.Context, contractSymbol, reason string) error {
	x.mu.Lock()
	qty := x.invested[contractSymbol]
	ticker := x.tickerOf[contractSymbol]
	delete(x.invested, contractSymbol)
	x.mu.Unlock()
	if qty == 0 {
		return nil // nothing confirmed at the broker yet
	}

	quote, err := x.quotes.LiveQuote(ctx, contractSymbol)
	if err != nil {
		return err
	}
	price := quote.Bid
	if price <= 0 {
		price = quote.Price
	}

	order := outbox.Order{
		ID:       uuid.New().String(),
		Ticker:   ticker,
		Contract: contractSymbol,
		Side:     "SELL",
		Qty:      qty,
		Reason:   reason,
	}
	fill, _ := x.fillSim.SimulateFill(order, price)

	x.mu.Lock()
	x.pending = append(x.pending, fill)
	x.mu.Unlock()
	return nil
}

// DrainFills returns queued fills in order and marks buys as invested. The
// host forwards each to the engine's fill handler.
func (x *SimExecutor) DrainFills() []outbox.Fill {
	x.mu.Lock()
	defer x.mu.Unlock()
	fills := x.pending
	x.pending = nil
	for _, f := range fills {
		if f.Side == "BUY" {
			x.invested[f.Contract] += f.Quantity
		}
	}
	return fills
}

// Invested reports confirmed holdings.
func (x *SimExecutor) Invested(contractSymbol string) bool {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.invested[contractSymbol] > 0
}

// TotalAfter returns the confirmed quantity for a contract, for fill
// notifications.
func (x *SimExecutor) TotalAfter(contractSymbol string) int {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.invested[contractSymbol]
}

// SimSession reports every symbol's session as open unless closed explicitly.
type SimSession struct {
	mu     sync.Mutex
	closed map[string]bool
}

func NewSimSession() *SimSession {
	return &SimSession{closed: map[string]bool{}}
}

func (s *SimSession) IsSessionOpen(symbol string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closed[symbol]
}

func (s *SimSession) SetClosed(symbol string, closed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed[symbol] = closed
}
