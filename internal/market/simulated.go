package market

import (
	"context"
	"math/rand/v2"
	"sync"

	"github.com/shopspring/decimal"
)

// SimulatedSource is an offline PriceSource producing a bounded random walk
// per symbol. Unknown symbols start at 100.
type SimulatedSource struct {
	mu     sync.Mutex
	prices map[string]decimal.Decimal
	step   float64 // max relative move per quote
	rng    *rand.Rand
}

// DefaultSimulatedPrices are starting points for the seeded catalog.
var DefaultSimulatedPrices = map[string]string{
	"AAPL":             "190",
	"TSLA":             "780",
	"SPY":              "520",
	"MSFT":             "420",
	"AMZN":             "180",
	"BINANCE:BTCUSDT":  "52000",
	"BINANCE:ETHUSDT":  "3100",
	"BINANCE:SOLUSDT":  "150",
	"BINANCE:DOGEUSDT": "0.15",
	"BINANCE:ATOMUSDT": "9",
}

// NewSimulatedSource creates a walk that moves each price by up to step
// (e.g. 0.02 for ±2%) per quote.
func NewSimulatedSource(seed uint64, step float64) *SimulatedSource {
	prices := make(map[string]decimal.Decimal, len(DefaultSimulatedPrices))
	for sym, p := range DefaultSimulatedPrices {
		prices[sym] = decimal.RequireFromString(p)
	}
	return &SimulatedSource{
		prices: prices,
		step:   step,
		rng:    rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}
}

// Quote advances and returns the symbol's price.
func (s *SimulatedSource) Quote(ctx context.Context, symbol string) (decimal.Decimal, error) {
	if err := ctx.Err(); err != nil {
		return decimal.Zero, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.prices[symbol]
	if !ok {
		p = decimal.NewFromInt(100)
	}
	move := (s.rng.Float64()*2 - 1) * s.step
	next := p.Mul(decimal.NewFromFloat(1 + move)).Round(8)
	if !next.IsPositive() {
		next = p
	}
	s.prices[symbol] = next
	return next, nil
}
