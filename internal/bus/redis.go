package bus

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/atmx/trading-sim/internal/metrics"
)

const (
	streamPrefix = "bus:"
	envField     = "env"
	readCount    = 16
	readBlock    = 2 * time.Second
	retryBackoff = time.Second
)

// RedisBus is a durable Bus on Redis Streams. Each topic is a stream and
// each subscription group a consumer group, so a message stays pending until
// its handler acknowledges it and survives a consumer restart.
type RedisBus struct {
	rdb      *redis.Client
	log      zerolog.Logger
	consumer string

	mu     sync.Mutex
	closed bool
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRedisBus creates a bus on rdb. The client is owned by the caller.
func NewRedisBus(rdb *redis.Client, log zerolog.Logger) *RedisBus {
	ctx, cancel := context.WithCancel(context.Background())
	consumer, err := os.Hostname()
	if err != nil || consumer == "" {
		consumer = uuid.NewString()
	}
	return &RedisBus{
		rdb:      rdb,
		log:      log.With().Str("component", "bus").Str("backend", "redis").Logger(),
		consumer: consumer,
		ctx:      ctx,
		cancel:   cancel,
	}
}

func streamKey(topic string) string { return streamPrefix + topic }

// Publish appends the payload to the topic's stream.
func (b *RedisBus) Publish(ctx context.Context, topic string, payload []byte) error {
	msg := Message{
		ID:          uuid.NewString(),
		Topic:       topic,
		Payload:     payload,
		PublishedAt: time.Now().UTC(),
	}
	env, err := msgpack.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	err = b.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: streamKey(topic),
		Values: map[string]any{envField: env},
	}).Err()
	if err != nil {
		return fmt.Errorf("xadd %s: %w", topic, err)
	}
	return nil
}

// Subscribe creates the consumer group if needed and starts reading.
// A new group starts at the end of the stream.
func (b *RedisBus) Subscribe(topic, group string, handler Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}

	stream := streamKey(topic)
	err := b.rdb.XGroupCreateMkStream(b.ctx, stream, group, "$").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create group %s on %s: %w", group, stream, err)
	}

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.consume(topic, group, handler)
	}()
	return nil
}

func (b *RedisBus) consume(topic, group string, handler Handler) {
	stream := streamKey(topic)
	log := b.log.With().Str("topic", topic).Str("group", group).Logger()

	// attempts counts failed deliveries per stream entry. A nacked entry is
	// left pending and re-read from ID 0 on the next pass; entries pending
	// from before a restart count as already delivered once.
	attempts := make(map[string]int)
	restart := true
	cursor := "0"
	for b.ctx.Err() == nil {
		res, err := b.rdb.XReadGroup(b.ctx, &redis.XReadGroupArgs{
			Group:    group,
			Consumer: b.consumer,
			Streams:  []string{stream, cursor},
			Count:    readCount,
			Block:    readBlock,
		}).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if b.ctx.Err() != nil {
				return
			}
			log.Error().Err(err).Msg("xreadgroup failed")
			select {
			case <-b.ctx.Done():
				return
			case <-time.After(retryBackoff):
			}
			continue
		}

		n, nacked := 0, false
		for _, s := range res {
			for _, xm := range s.Messages {
				n++
				if restart {
					if _, seen := attempts[xm.ID]; !seen {
						attempts[xm.ID] = 1
					}
				}
				if !b.process(log, stream, group, handler, xm, attempts) {
					nacked = true
				}
			}
		}
		switch {
		case nacked:
			cursor = "0"
		case cursor == "0" && n < readCount:
			cursor = ">"
			restart = false
		}
	}
}

// process delivers one entry and reports whether it was acknowledged.
func (b *RedisBus) process(log zerolog.Logger, stream, group string, handler Handler, xm redis.XMessage, attempts map[string]int) bool {
	ack := func() {
		delete(attempts, xm.ID)
		if err := b.rdb.XAck(b.ctx, stream, group, xm.ID).Err(); err != nil {
			log.Error().Err(err).Str("stream_id", xm.ID).Msg("xack failed")
		}
	}

	raw, _ := xm.Values[envField].(string)
	var msg Message
	if err := msgpack.Unmarshal([]byte(raw), &msg); err != nil {
		log.Error().Err(err).Str("stream_id", xm.ID).Msg("undecodable message dropped")
		ack()
		return true
	}
	msg.Attempt = attempts[xm.ID]

	err := invoke(b.ctx, handler, msg)
	if err == nil {
		metrics.BusDeliveries.WithLabelValues(msg.Topic, outcomeOK).Inc()
		ack()
		return true
	}
	if b.ctx.Err() != nil {
		// Shutting down: leave it pending for the next run.
		return true
	}

	l := log.With().Str("message_id", msg.ID).Int("attempt", msg.Attempt).Logger()
	if msg.Attempt+1 < MaxAttempts {
		attempts[xm.ID] = msg.Attempt + 1
		metrics.BusDeliveries.WithLabelValues(msg.Topic, outcomeRetried).Inc()
		l.Warn().Err(err).Msg("handler failed, redelivering")
		return false
	}
	metrics.BusDeliveries.WithLabelValues(msg.Topic, outcomeDropped).Inc()
	l.Error().Err(err).Msg("handler failed, message dropped")
	ack()
	return true
}

// Close stops all consumers. Unacked messages stay pending in Redis.
func (b *RedisBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	b.cancel()
	b.wg.Wait()
	return nil
}
