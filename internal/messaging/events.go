package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/lilofinance/usermanager/internal/metrics"
)

// EventType names a user lifecycle transition.
type EventType string

// Lifecycle event types.
const (
	EventUserCreated     EventType = "user.created"
	EventUserUpdated     EventType = "user.updated"
	EventUserDeleted     EventType = "user.deleted"
	EventPasswordChanged EventType = "user.password_changed"
)

// PublishTimeout bounds a single asynchronous publish.
const PublishTimeout = 5 * time.Second

// Event is the wire format of a lifecycle event. It never carries
// credentials.
type Event struct {
	ID         string    `json:"id"`
	Type       EventType `json:"type"`
	UserID     string    `json:"user_id"`
	OccurredAt time.Time `json:"occurred_at"`
}

// NewEvent builds an event with a fresh id.
func NewEvent(eventType EventType, userID string, now time.Time) Event {
	return Event{
		ID:         ulid.Make().String(),
		Type:       eventType,
		UserID:     userID,
		OccurredAt: now.UTC(),
	}
}

// Encode serializes the event as JSON.
func (e Event) Encode() (string, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return "", fmt.Errorf("marshal event: %w", err)
	}
	return string(data), nil
}

// DecodeEvent parses an event produced by Encode.
func DecodeEvent(raw string) (Event, error) {
	var e Event
	if err := json.Unmarshal([]byte(raw), &e); err != nil {
		return Event{}, fmt.Errorf("unmarshal event: %w", err)
	}
	if e.Type == "" || e.UserID == "" {
		return Event{}, fmt.Errorf("event missing type or user_id")
	}
	return e, nil
}

// EventPublisher emits lifecycle events without blocking the caller.
type EventPublisher interface {
	PublishAsync(event Event)
}

// Producer is implemented by Messenger.
type Producer interface {
	Produce(ctx context.Context, key, value string) error
}

// KafkaPublisher publishes events keyed by user id so that events for one
// user stay ordered within a partition.
type KafkaPublisher struct {
	producer Producer
	logger   *slog.Logger
	metrics  metrics.Recorder
	timeout  time.Duration
	wg       sync.WaitGroup
}

// NewKafkaPublisher creates a publisher over producer.
func NewKafkaPublisher(producer Producer, logger *slog.Logger, recorder metrics.Recorder) *KafkaPublisher {
	if recorder == nil {
		recorder = metrics.NewNoop()
	}
	return &KafkaPublisher{
		producer: producer,
		logger:   logger.With("component", "messaging.publisher"),
		metrics:  recorder,
		timeout:  PublishTimeout,
	}
}

// Publish writes the event synchronously.
func (p *KafkaPublisher) Publish(ctx context.Context, event Event) error {
	value, err := event.Encode()
	if err != nil {
		return err
	}
	if err := p.producer.Produce(ctx, event.UserID, value); err != nil {
		return fmt.Errorf("produce %s: %w", event.Type, err)
	}
	return nil
}

// PublishAsync publishes without blocking the caller.
// Errors are logged and counted, never returned.
func (p *KafkaPublisher) PublishAsync(event Event) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
		defer cancel()

		if err := p.Publish(ctx, event); err != nil {
			p.logger.Warn("failed to publish lifecycle event",
				"event_type", event.Type,
				"user_id", event.UserID,
				"error", err,
			)
			p.metrics.IncEventPublished(metrics.PublishDropped)
			return
		}

		p.logger.Debug("lifecycle event published",
			"event_type", event.Type,
			"event_id", event.ID,
		)
		p.metrics.IncEventPublished(metrics.PublishSuccess)
	}()
}

// Shutdown waits for in-flight publishes or until ctx is done.
func (p *KafkaPublisher) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// NoopPublisher discards events. It is used when no broker is configured.
type NoopPublisher struct{}

// PublishAsync is a no-op.
func (NoopPublisher) PublishAsync(Event) {}
