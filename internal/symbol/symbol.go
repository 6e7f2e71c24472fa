// Package symbol parses and validates market symbols as quoted by the price
// source: plain tickers (AAPL, BRK.B) and exchange-qualified pairs
// (BINANCE:BTCUSDT).
package symbol

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// Known exchange prefixes.
const (
	ExchangeBinance  = "BINANCE"
	ExchangeCoinbase = "COINBASE"
	ExchangeKraken   = "KRAKEN"
	ExchangeOanda    = "OANDA"
)

var validExchanges = map[string]bool{
	ExchangeBinance:  true,
	ExchangeCoinbase: true,
	ExchangeKraken:   true,
	ExchangeOanda:    true,
}

// symbolRegex matches: [{EXCHANGE}:]{CODE}
// Examples: AAPL, BRK.B, BINANCE:BTCUSDT, OANDA:EUR_USD
var symbolRegex = regexp.MustCompile(
	`^(?:([A-Z]+):)?([A-Z0-9][A-Z0-9._\-]{0,19})$`,
)

var (
	ErrInvalidSymbol   = errors.New("symbol: invalid format")
	ErrUnknownExchange = errors.New("symbol: unsupported exchange")
)

// Symbol is a parsed market symbol.
type Symbol struct {
	Raw      string `json:"symbol"`
	Exchange string `json:"exchange,omitempty"` // empty for plain tickers
	Code     string `json:"code"`
}

// IsPair reports whether the symbol is exchange-qualified.
func (s Symbol) IsPair() bool {
	return s.Exchange != ""
}

// Parse normalizes (trim, upper-case) and validates a symbol string.
func Parse(raw string) (*Symbol, error) {
	norm := strings.ToUpper(strings.TrimSpace(raw))
	matches := symbolRegex.FindStringSubmatch(norm)
	if matches == nil {
		return nil, fmt.Errorf("%w: %q (expected TICKER or EXCHANGE:PAIR)", ErrInvalidSymbol, raw)
	}

	exchange, code := matches[1], matches[2]
	if exchange != "" && !validExchanges[exchange] {
		return nil, fmt.Errorf("%w: %s", ErrUnknownExchange, exchange)
	}

	return &Symbol{Raw: norm, Exchange: exchange, Code: code}, nil
}
