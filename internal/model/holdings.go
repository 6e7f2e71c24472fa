package model

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Holdings maps asset ID to owned quantity. A stored quantity is always
// strictly positive; an asset that is no longer owned has no key.
type Holdings map[string]decimal.Decimal

// Add merges qty into the existing quantity, creating the entry if absent.
func (h Holdings) Add(assetID string, qty decimal.Decimal) error {
	if !qty.IsPositive() {
		return fmt.Errorf("%w: quantity must be positive, got %s", ErrInvalidArgument, qty)
	}
	h[assetID] = h[assetID].Add(qty)
	return nil
}

// Remove subtracts qty. If nothing would remain the key is deleted.
func (h Holdings) Remove(assetID string, qty decimal.Decimal) error {
	if !qty.IsPositive() {
		return fmt.Errorf("%w: quantity must be positive, got %s", ErrInvalidArgument, qty)
	}
	owned := h[assetID]
	if owned.LessThan(qty) {
		return fmt.Errorf("%w: asset %s owned %s, requested %s", ErrInsufficientHoldings, assetID, owned, qty)
	}
	rest := owned.Sub(qty)
	if rest.IsPositive() {
		h[assetID] = rest
		return nil
	}
	delete(h, assetID)
	return nil
}

// Quantity returns the owned quantity, zero if absent.
func (h Holdings) Quantity(assetID string) decimal.Decimal {
	return h[assetID]
}

// Clone returns an independent copy.
func (h Holdings) Clone() Holdings {
	out := make(Holdings, len(h))
	for k, v := range h {
		out[k] = v
	}
	return out
}
