package progress

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/google/uuid"

	"letterlab-backend/internal/shared/telemetry"
)

const topic = "letterlab.progress"

// Publisher records progress events without blocking the caller on storage.
type Publisher interface {
	Publish(ctx context.Context, name, sessionID string, details map[string]any)
}

// Bus is an in-process event bus backed by a watermill gochannel. A single
// subscriber goroutine persists events.
type Bus struct {
	pubSub *gochannel.GoChannel
	repo   Repo
	done   chan struct{}
	once   sync.Once
}

// NewBus subscribes the persister before returning so no event is dropped.
func NewBus(repo Repo) (*Bus, error) {
	pubSub := gochannel.NewGoChannel(
		gochannel.Config{OutputChannelBuffer: 256},
		watermill.NopLogger{},
	)
	messages, err := pubSub.Subscribe(context.Background(), topic)
	if err != nil {
		return nil, err
	}
	b := &Bus{pubSub: pubSub, repo: repo, done: make(chan struct{})}
	go b.consume(messages)
	return b, nil
}

// Publish enqueues an event. Failures are logged, never returned.
func (b *Bus) Publish(ctx context.Context, name, sessionID string, details map[string]any) {
	evt := Event{
		ID:        uuid.NewString(),
		EventName: name,
		SessionID: sessionID,
		Timestamp: time.Now().UTC(),
		Details:   details,
	}
	payload, err := json.Marshal(evt)
	if err != nil {
		telemetry.Warn("progress.encode_failed", map[string]any{"event": name, "error": err.Error()})
		return
	}
	msg := message.NewMessage(evt.ID, payload)
	if err := b.pubSub.Publish(topic, msg); err != nil {
		telemetry.Warn("progress.publish_failed", map[string]any{"event": name, "error": err.Error()})
	}
}

func (b *Bus) consume(messages <-chan *message.Message) {
	defer close(b.done)
	for msg := range messages {
		var evt Event
		if err := json.Unmarshal(msg.Payload, &evt); err != nil {
			telemetry.Warn("progress.decode_failed", map[string]any{"error": err.Error()})
			msg.Ack()
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := b.repo.Insert(ctx, evt)
		cancel()
		if err != nil {
			telemetry.Error("progress.persist_failed", map[string]any{
				"event":      evt.EventName,
				"session_id": evt.SessionID,
				"error":      err.Error(),
			})
		}
		msg.Ack()
	}
}

// Ping reports whether the bus still accepts events.
func (b *Bus) Ping(ctx context.Context) error {
	select {
	case <-b.done:
		return errBusClosed
	default:
		return nil
	}
}

// Close stops the bus and waits for the persister to exit.
func (b *Bus) Close() error {
	var err error
	b.once.Do(func() {
		err = b.pubSub.Close()
		<-b.done
	})
	return err
}

// NopPublisher discards events.
type NopPublisher struct{}

func (NopPublisher) Publish(ctx context.Context, name, sessionID string, details map[string]any) {}
