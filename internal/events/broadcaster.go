// ABOUTME: In-memory fan-out broadcaster for the real-time demo event feed
// ABOUTME: Stamps events with server time and delivers them to all subscribers

package events

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	// subscriberBufferSize is the channel buffer for each subscriber.
	subscriberBufferSize = 64
)

// Event type constants. The spellings are part of the wire contract with the
// demo UI, which switches on the raw type string.
const (
	TypeWebhookReceived   = "WEBHOOK_RECEIVED"
	TypeAnalyzingChanges  = "ANALYZING_CHANGES"
	TypeCommitting        = "COMMITTING"
	TypeCommitted         = "COMMITTED"
	TypeDeploymentStarted = "DEPLOYMENT_STARTED"
	TypeNoUpdatesNeeded   = "NO_UPDATES_NEEDED"
	TypeReviewCreated     = "REVIEW_CREATED"
	TypeReviewUpdated     = "REVIEW_UPDATED"
	TypeReviewMerged      = "REVIEW_MERGED"
	TypeGapsFixed         = "GAPS_FIXED"
	TypeResetComplete     = "RESET_COMPLETE"
	TypeAccessLevelSet    = "ACCESS_LEVEL_CHANGED"
	TypeCodePushed        = "CODE_PUSHED"
)

// Event is a single broadcast record. Every event carries at least a type and
// a server-stamped timestamp; Data holds type-specific payload fields.
type Event struct {
	Type      string         `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
}

// Broadcaster provides in-memory pub/sub for demo events. Subscribers receive
// events as they are published. There is no persistence and no replay:
// subscribers joining late miss prior events.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[string]chan *Event
	logger      *slog.Logger
}

// NewBroadcaster creates a broadcaster. Pass nil logger for default.
func NewBroadcaster(logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{
		subscribers: make(map[string]chan *Event),
		logger:      logger.With("component", "broadcaster"),
	}
}

// Subscribe registers a subscriber on the event feed. Returns a channel that
// receives events and a subscription ID for later unsubscription. The
// subscription is automatically cleaned up when ctx is cancelled.
func (b *Broadcaster) Subscribe(ctx context.Context) (<-chan *Event, string) {
	subID := uuid.New().String()
	ch := make(chan *Event, subscriberBufferSize)

	b.mu.Lock()
	b.subscribers[subID] = ch
	b.mu.Unlock()

	b.logger.Debug("subscriber added", "sub_id", subID)

	// Auto-cleanup on context cancellation
	go func() {
		<-ctx.Done()
		b.Unsubscribe(subID)
	}()

	return ch, subID
}

// Publish stamps an event with the current time and sends it to every
// subscriber. Non-blocking: events are dropped for subscribers whose
// channels are full.
func (b *Broadcaster) Publish(eventType string, data map[string]any) {
	event := &Event{
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}

	// Sends happen under the read lock so Unsubscribe cannot close a channel
	// mid-send. Sends never block, so the lock is held only briefly.
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subscribers {
		select {
		case ch <- event:
			// Sent
		default:
			// Subscriber channel full — drop event for this subscriber
			b.logger.Debug("dropped event for slow subscriber", "type", eventType)
		}
	}
}

// Unsubscribe removes a subscription and closes its channel.
func (b *Broadcaster) Unsubscribe(subID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch, exists := b.subscribers[subID]
	if !exists {
		return
	}

	delete(b.subscribers, subID)
	close(ch)

	b.logger.Debug("subscriber removed", "sub_id", subID)
}

// Close shuts down the broadcaster and closes all subscriber channels.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for subID, ch := range b.subscribers {
		close(ch)
		delete(b.subscribers, subID)
	}

	b.logger.Debug("broadcaster closed")
}
