// Package notify turns price updates into alerts and keeps the alert feed.
package notify

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/atmx/trading-sim/internal/events"
)

// Rule inspects a price update and returns an alert message when it matches.
type Rule interface {
	Name() string
	Evaluate(ev events.PriceUpdated, price decimal.Decimal) (string, bool)
}

// PriceAbove matches any asset priced above Threshold.
type PriceAbove struct {
	Threshold decimal.Decimal
}

func (r PriceAbove) Name() string { return "price_above_" + r.Threshold.String() }

func (r PriceAbove) Evaluate(ev events.PriceUpdated, price decimal.Decimal) (string, bool) {
	if !price.GreaterThan(r.Threshold) {
		return "", false
	}
	return fmt.Sprintf("Price of %s exceeded %s USD (now $%s)", ev.Symbol, r.Threshold, price), true
}

// SymbolAbove matches one symbol priced above Threshold.
type SymbolAbove struct {
	Symbol    string
	Label     string
	Threshold decimal.Decimal
}

func (r SymbolAbove) Name() string { return r.Symbol + "_above_" + r.Threshold.String() }

func (r SymbolAbove) Evaluate(ev events.PriceUpdated, price decimal.Decimal) (string, bool) {
	if ev.Symbol != r.Symbol || !price.GreaterThan(r.Threshold) {
		return "", false
	}
	return fmt.Sprintf("%s rose above $%s! Current price: $%s", label(r.Label, ev), r.Threshold, price), true
}

// SymbolBelow matches one symbol priced below Threshold.
type SymbolBelow struct {
	Symbol    string
	Label     string
	Threshold decimal.Decimal
}

func (r SymbolBelow) Name() string { return r.Symbol + "_below_" + r.Threshold.String() }

func (r SymbolBelow) Evaluate(ev events.PriceUpdated, price decimal.Decimal) (string, bool) {
	if ev.Symbol != r.Symbol || !price.LessThan(r.Threshold) {
		return "", false
	}
	return fmt.Sprintf("%s fell below $%s! Current price: $%s", label(r.Label, ev), r.Threshold, price), true
}

func label(l string, ev events.PriceUpdated) string {
	if l != "" {
		return l
	}
	return ev.Symbol
}

// DefaultRules is the built-in alert set.
func DefaultRules() []Rule {
	return []Rule{
		PriceAbove{Threshold: decimal.NewFromInt(1000)},
		SymbolAbove{Symbol: "TSLA", Label: "Tesla", Threshold: decimal.NewFromInt(800)},
		SymbolBelow{Symbol: "BINANCE:BTCUSDT", Label: "Bitcoin", Threshold: decimal.NewFromInt(50000)},
	}
}
