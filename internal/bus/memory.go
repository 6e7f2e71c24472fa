package bus

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/atmx/trading-sim/internal/metrics"
)

// queue is a bounded, non-blocking message queue.
type queue struct {
	mu     sync.RWMutex
	ch     chan Message
	closed bool
}

func newQueue(capacity int) *queue {
	if capacity <= 0 {
		capacity = 1
	}
	return &queue{ch: make(chan Message, capacity)}
}

// tryPublish enqueues a message without blocking.
func (q *queue) tryPublish(m Message) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrClosed
	}
	select {
	case q.ch <- m:
		return nil
	default:
		return ErrQueueFull
	}
}

func (q *queue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.ch)
	}
}

type subscription struct {
	topic   string
	group   string
	handler Handler
	queue   *queue
}

// MemoryBus is an in-process Bus. Messages live only as long as the process.
type MemoryBus struct {
	log      zerolog.Logger
	capacity int

	mu     sync.RWMutex
	subs   map[string][]*subscription
	closed bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewMemoryBus creates a bus whose subscriptions buffer up to capacity
// messages each.
func NewMemoryBus(capacity int, log zerolog.Logger) *MemoryBus {
	ctx, cancel := context.WithCancel(context.Background())
	return &MemoryBus{
		log:      log.With().Str("component", "bus").Logger(),
		capacity: capacity,
		subs:     make(map[string][]*subscription),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Publish fans payload out to every subscription of topic. A full
// subscription queue drops the message for that subscription only.
func (b *MemoryBus) Publish(_ context.Context, topic string, payload []byte) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}

	msg := Message{
		ID:          uuid.NewString(),
		Topic:       topic,
		Payload:     payload,
		PublishedAt: time.Now().UTC(),
	}
	var errs []error
	for _, sub := range b.subs[topic] {
		if err := sub.queue.tryPublish(msg); err != nil {
			metrics.BusDeliveries.WithLabelValues(topic, outcomeDropped).Inc()
			b.log.Error().Err(err).Str("topic", topic).Str("group", sub.group).Msg("publish dropped")
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Subscribe starts a consumer goroutine for (topic, group).
func (b *MemoryBus) Subscribe(topic, group string, handler Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}

	sub := &subscription{topic: topic, group: group, handler: handler, queue: newQueue(b.capacity)}
	b.subs[topic] = append(b.subs[topic], sub)

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.consume(sub)
	}()
	return nil
}

// consume runs until the queue is closed and drained.
func (b *MemoryBus) consume(sub *subscription) {
	for msg := range sub.queue.ch {
		b.deliver(sub, msg)
	}
}

func (b *MemoryBus) deliver(sub *subscription, msg Message) {
	err := invoke(b.ctx, sub.handler, msg)
	if err == nil {
		metrics.BusDeliveries.WithLabelValues(sub.topic, outcomeOK).Inc()
		return
	}

	log := b.log.With().
		Str("topic", sub.topic).
		Str("group", sub.group).
		Str("message_id", msg.ID).
		Int("attempt", msg.Attempt).
		Logger()

	if msg.Attempt+1 < MaxAttempts {
		msg.Attempt++
		if qerr := sub.queue.tryPublish(msg); qerr == nil {
			metrics.BusDeliveries.WithLabelValues(sub.topic, outcomeRetried).Inc()
			log.Warn().Err(err).Msg("handler failed, redelivering")
			return
		}
	}
	metrics.BusDeliveries.WithLabelValues(sub.topic, outcomeDropped).Inc()
	log.Error().Err(err).Msg("handler failed, message dropped")
}

// Close stops accepting messages, lets subscribers drain what is queued and
// waits for them to finish.
func (b *MemoryBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	for _, subs := range b.subs {
		for _, sub := range subs {
			sub.queue.close()
		}
	}
	b.mu.Unlock()

	b.wg.Wait()
	b.cancel()
	return nil
}
