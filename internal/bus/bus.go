// Package bus is a topic/subscription message bus with at-least-once
// delivery. Each (topic, group) subscription receives every message
// published to the topic. A handler that returns an error (or panics)
// negatively acknowledges the message: it is redelivered once, then dropped
// with a logged error.
package bus

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	ErrQueueFull = errors.New("bus: subscription queue full")
	ErrClosed    = errors.New("bus: closed")
)

// MaxAttempts is the number of deliveries a message gets before it is dropped.
const MaxAttempts = 2

// Message is one delivery of a published payload.
type Message struct {
	ID          string    `msgpack:"id"`
	Topic       string    `msgpack:"topic"`
	Payload     []byte    `msgpack:"payload"`
	Attempt     int       `msgpack:"attempt"` // 0 on first delivery
	PublishedAt time.Time `msgpack:"published_at"`
}

// Handler processes a message. A non-nil error is a nack.
type Handler func(ctx context.Context, msg Message) error

// Bus publishes payloads to topics and dispatches them to subscribers.
type Bus interface {
	Publish(ctx context.Context, topic string, payload []byte) error
	// Subscribe registers handler under a consumer group. Groups are
	// independent; each sees every message of the topic.
	Subscribe(topic, group string, handler Handler) error
	Close() error
}

// outcome labels for metrics.BusDeliveries
const (
	outcomeOK      = "ok"
	outcomeRetried = "retried"
	outcomeDropped = "dropped"
)

// invoke calls h, turning a panic into an error.
func invoke(ctx context.Context, h Handler, msg Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h(ctx, msg)
}
