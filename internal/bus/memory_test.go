package bus

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu   sync.Mutex
	msgs []Message
}

func (r *recorder) handle(_ context.Context, m Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, m)
	return nil
}

func (r *recorder) payloads() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.msgs))
	for i, m := range r.msgs {
		out[i] = string(m.Payload)
	}
	return out
}

func TestMemoryBus_FanOutToGroups(t *testing.T) {
	b := NewMemoryBus(16, zerolog.Nop())
	var alerts, feed, other recorder
	require.NoError(t, b.Subscribe("price.updated", "alerts", alerts.handle))
	require.NoError(t, b.Subscribe("price.updated", "ws", feed.handle))
	require.NoError(t, b.Subscribe("notification.alert", "feed", other.handle))

	ctx := context.Background()
	require.NoError(t, b.Publish(ctx, "price.updated", []byte("a")))
	require.NoError(t, b.Publish(ctx, "price.updated", []byte("b")))
	require.NoError(t, b.Close())

	assert.Equal(t, []string{"a", "b"}, alerts.payloads())
	assert.Equal(t, []string{"a", "b"}, feed.payloads())
	assert.Empty(t, other.payloads())
}

func TestMemoryBus_RetriesOnceThenDrops(t *testing.T) {
	b := NewMemoryBus(16, zerolog.Nop())
	var calls atomic.Int32
	var attempts []int
	var mu sync.Mutex
	require.NoError(t, b.Subscribe("t", "g", func(_ context.Context, m Message) error {
		calls.Add(1)
		mu.Lock()
		attempts = append(attempts, m.Attempt)
		mu.Unlock()
		return errors.New("poison")
	}))

	require.NoError(t, b.Publish(context.Background(), "t", []byte("x")))
	require.Eventually(t, func() bool { return calls.Load() == MaxAttempts }, time.Second, 5*time.Millisecond)
	require.NoError(t, b.Close())

	assert.Equal(t, int32(MaxAttempts), calls.Load())
	mu.Lock()
	assert.Equal(t, []int{0, 1}, attempts)
	mu.Unlock()
}

func TestMemoryBus_RedeliversAfterTransientFailure(t *testing.T) {
	b := NewMemoryBus(16, zerolog.Nop())
	var calls atomic.Int32
	var done recorder
	require.NoError(t, b.Subscribe("t", "g", func(ctx context.Context, m Message) error {
		if calls.Add(1) == 1 {
			return errors.New("transient")
		}
		return done.handle(ctx, m)
	}))

	require.NoError(t, b.Publish(context.Background(), "t", []byte("x")))
	require.Eventually(t, func() bool { return len(done.payloads()) == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, b.Close())
	assert.Equal(t, int32(2), calls.Load())
}

func TestMemoryBus_PanicIsNack(t *testing.T) {
	b := NewMemoryBus(16, zerolog.Nop())
	var calls atomic.Int32
	require.NoError(t, b.Subscribe("t", "g", func(context.Context, Message) error {
		calls.Add(1)
		panic("boom")
	}))
	var survivor recorder
	require.NoError(t, b.Subscribe("t", "other", survivor.handle))

	require.NoError(t, b.Publish(context.Background(), "t", []byte("x")))
	require.Eventually(t, func() bool { return calls.Load() == MaxAttempts }, time.Second, 5*time.Millisecond)
	require.NoError(t, b.Close())
	assert.Equal(t, []string{"x"}, survivor.payloads())
}

func TestMemoryBus_FullQueueDropsForThatSubscriber(t *testing.T) {
	b := NewMemoryBus(1, zerolog.Nop())
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	require.NoError(t, b.Subscribe("t", "slow", func(context.Context, Message) error {
		select {
		case started <- struct{}{}:
		default:
		}
		<-release
		return nil
	}))

	ctx := context.Background()
	require.NoError(t, b.Publish(ctx, "t", []byte("1")))
	<-started
	require.NoError(t, b.Publish(ctx, "t", []byte("2")))
	assert.ErrorIs(t, b.Publish(ctx, "t", []byte("3")), ErrQueueFull)

	close(release)
	require.NoError(t, b.Close())
}

func TestMemoryBus_Closed(t *testing.T) {
	b := NewMemoryBus(4, zerolog.Nop())
	require.NoError(t, b.Close())
	require.NoError(t, b.Close())

	assert.ErrorIs(t, b.Publish(context.Background(), "t", nil), ErrClosed)
	assert.ErrorIs(t, b.Subscribe("t", "g", func(context.Context, Message) error { return nil }), ErrClosed)
}
