// Package market provides external price sources for the ingestion job.
package market

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

// ErrUnavailable means the source has no current price for the symbol.
var ErrUnavailable = errors.New("price unavailable")

// PriceSource quotes the last trade price of a symbol.
type PriceSource interface {
	Quote(ctx context.Context, symbol string) (decimal.Decimal, error)
}
