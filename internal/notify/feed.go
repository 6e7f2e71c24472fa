package notify

import (
	"context"
	"sync"
	"time"

	"github.com/atmx/trading-sim/internal/bus"
	"github.com/atmx/trading-sim/internal/events"
	"github.com/atmx/trading-sim/internal/metrics"
	"github.com/atmx/trading-sim/internal/model"
)

// FeedGroup is the consumer group of the notification feed.
const FeedGroup = "notification-feed"

// Feed is the process-wide list of alert messages in arrival order. It is
// consumed as a whole: List reads everything, Clear empties it.
type Feed struct {
	mu    sync.Mutex
	items []model.Notification
	limit int
	now   func() time.Time
}

// NewFeed creates a feed keeping at most limit messages (oldest dropped);
// limit <= 0 means unbounded.
func NewFeed(limit int) *Feed {
	return &Feed{limit: limit, now: func() time.Time { return time.Now().UTC() }}
}

// Subscribe attaches the feed to notification.alert.
func (f *Feed) Subscribe(b bus.Bus) error {
	return b.Subscribe(events.TopicNotificationAlert, FeedGroup, f.Handle)
}

// Handle is the bus handler.
func (f *Feed) Handle(_ context.Context, msg bus.Message) error {
	alert, err := events.DecodeAlert(msg.Payload)
	if err != nil {
		return err
	}
	f.Append(alert.Message)
	return nil
}

// Append adds a message.
func (f *Feed) Append(message string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items = append(f.items, model.Notification{Message: message, ReceivedAt: f.now()})
	if f.limit > 0 && len(f.items) > f.limit {
		f.items = append([]model.Notification(nil), f.items[len(f.items)-f.limit:]...)
	}
	metrics.NotificationFeedSize.Set(float64(len(f.items)))
}

// List returns all messages, oldest first.
func (f *Feed) List() []model.Notification {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]model.Notification, len(f.items))
	copy(out, f.items)
	return out
}

// Clear empties the feed.
func (f *Feed) Clear() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items = nil
	metrics.NotificationFeedSize.Set(0)
}
