// Package events defines the topics and payloads exchanged over the bus.
// Payloads are msgpack encoded; decimals travel as strings.
package events

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/vmihailenco/msgpack/v5"
)

// Topics
const (
	TopicPriceUpdated      = "price.updated"
	TopicNotificationAlert = "notification.alert"
)

// PriceUpdated is published once per asset that received a price in an
// ingestion cycle.
type PriceUpdated struct {
	AssetID   string    `msgpack:"asset_id" json:"asset_id"`
	Symbol    string    `msgpack:"symbol" json:"symbol"`
	Name      string    `msgpack:"name" json:"name"`
	Price     string    `msgpack:"price" json:"price"`
	Timestamp time.Time `msgpack:"ts" json:"timestamp"`
}

// NewPriceUpdated builds the event for an asset at price.
func NewPriceUpdated(assetID, symbol, name string, price decimal.Decimal, ts time.Time) PriceUpdated {
	return PriceUpdated{
		AssetID:   assetID,
		Symbol:    symbol,
		Name:      name,
		Price:     price.String(),
		Timestamp: ts,
	}
}

// PriceDecimal parses Price.
func (e PriceUpdated) PriceDecimal() (decimal.Decimal, error) {
	return decimal.NewFromString(e.Price)
}

// Alert is a human-readable notification produced by an alert rule.
type Alert struct {
	Message   string    `msgpack:"message" json:"message"`
	Rule      string    `msgpack:"rule" json:"rule"`
	AssetID   string    `msgpack:"asset_id" json:"asset_id"`
	Symbol    string    `msgpack:"symbol" json:"symbol"`
	Price     string    `msgpack:"price" json:"price"`
	Timestamp time.Time `msgpack:"ts" json:"timestamp"`
}

// Encode serializes an event payload.
func Encode(v any) ([]byte, error) {
	b, err := msgpack.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode event: %w", err)
	}
	return b, nil
}

// DecodePriceUpdated parses a price.updated payload.
func DecodePriceUpdated(b []byte) (PriceUpdated, error) {
	var e PriceUpdated
	if err := msgpack.Unmarshal(b, &e); err != nil {
		return e, fmt.Errorf("decode %s: %w", TopicPriceUpdated, err)
	}
	if _, err := e.PriceDecimal(); err != nil {
		return e, fmt.Errorf("decode %s: bad price %q: %w", TopicPriceUpdated, e.Price, err)
	}
	return e, nil
}

// DecodeAlert parses a notification.alert payload.
func DecodeAlert(b []byte) (Alert, error) {
	var a Alert
	if err := msgpack.Unmarshal(b, &a); err != nil {
		return a, fmt.Errorf("decode %s: %w", TopicNotificationAlert, err)
	}
	return a, nil
}
