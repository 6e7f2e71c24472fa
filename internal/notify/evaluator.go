package notify

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/atmx/trading-sim/internal/bus"
	"github.com/atmx/trading-sim/internal/events"
)

// EvaluatorGroup is the consumer group of the alert evaluator.
const EvaluatorGroup = "alert-rules"

// AlertEvaluator applies rules to price.updated events and publishes
// notification.alert for each match. It keeps no state between events.
type AlertEvaluator struct {
	rules []Rule
	bus   bus.Bus
	log   zerolog.Logger
}

// NewAlertEvaluator creates an evaluator publishing on b.
func NewAlertEvaluator(rules []Rule, b bus.Bus, log zerolog.Logger) *AlertEvaluator {
	return &AlertEvaluator{
		rules: rules,
		bus:   b,
		log:   log.With().Str("component", "alerts").Logger(),
	}
}

// Subscribe attaches the evaluator to price.updated.
func (e *AlertEvaluator) Subscribe() error {
	return e.bus.Subscribe(events.TopicPriceUpdated, EvaluatorGroup, e.Handle)
}

// Handle is the bus handler. Any error nacks the message.
func (e *AlertEvaluator) Handle(ctx context.Context, msg bus.Message) error {
	ev, err := events.DecodePriceUpdated(msg.Payload)
	if err != nil {
		return err
	}
	price, _ := ev.PriceDecimal()

	for _, rule := range e.rules {
		text, ok := rule.Evaluate(ev, price)
		if !ok {
			continue
		}
		payload, err := events.Encode(events.Alert{
			Message:   text,
			Rule:      rule.Name(),
			AssetID:   ev.AssetID,
			Symbol:    ev.Symbol,
			Price:     ev.Price,
			Timestamp: ev.Timestamp,
		})
		if err != nil {
			return err
		}
		if err := e.bus.Publish(ctx, events.TopicNotificationAlert, payload); err != nil {
			return fmt.Errorf("publish alert %s: %w", rule.Name(), err)
		}
		e.log.Info().Str("rule", rule.Name()).Str("symbol", ev.Symbol).Str("price", ev.Price).Msg("alert raised")
	}
	return nil
}
