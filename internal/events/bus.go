// Package events fans controller notifications out to any number of
// subscribers over an in-process watermill pub/sub.
package events

import (
	"context"
	"encoding/json"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/google/uuid"
	"github.com/omochice/chatstream/internal/chat"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// Topic carries every chat event.
const Topic = "chat.events"

const connectionBuffer = 16

// Kind discriminates Event payloads.
type Kind string

const (
	KindTranscript Kind = "transcript"
	KindPartial    Kind = "partial"
	KindConnection Kind = "connection"
	KindAborted    Kind = "aborted"
)

// Event is the JSON payload published on Topic.
type Event struct {
	Kind      Kind        `json:"kind"`
	Entry     *chat.Entry `json:"entry,omitempty"`
	Partial   string      `json:"partial,omitempty"`
	Connected bool        `json:"connected"`
	Reason    string      `json:"reason,omitempty"`
}

// Bus implements chat.Observer by publishing Events. Publish blocks until
// every subscriber has acked, so all subscribers observe emit order.
type Bus struct {
	pubsub *gochannel.GoChannel
	logger zerolog.Logger
}

var _ chat.Observer = (*Bus)(nil)

// NewBus creates a Bus.
func NewBus(logger zerolog.Logger) *Bus {
	logger = logger.With().Str("component", "events").Logger()
	pubsub := gochannel.NewGoChannel(gochannel.Config{
		BlockPublishUntilSubscriberAck: true,
	}, NewLoggerAdapter(logger))
	return &Bus{pubsub: pubsub, logger: logger}
}

func (b *Bus) TranscriptAppended(entry chat.Entry) {
	b.publish(Event{Kind: KindTranscript, Entry: &entry})
}

func (b *Bus) PartialUpdated(text string) {
	b.publish(Event{Kind: KindPartial, Partial: text})
}

func (b *Bus) ConnectionChanged(connected bool) {
	b.publish(Event{Kind: KindConnection, Connected: connected})
}

func (b *Bus) TurnAborted(reason chat.AbortReason, partial string) {
	b.publish(Event{Kind: KindAborted, Reason: reason.String(), Partial: partial})
}

func (b *Bus) publish(ev Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		b.logger.Error().Err(err).Str("kind", string(ev.Kind)).Msg("failed to encode event")
		return
	}
	msg := message.NewMessage(uuid.NewString(), payload)
	msg.Metadata.Set("kind", string(ev.Kind))
	if err := b.pubsub.Publish(Topic, msg); err != nil {
		b.logger.Warn().Err(err).Str("kind", string(ev.Kind)).Msg("failed to publish event")
	}
}

// Subscribe returns every event published after the call, in order. The
// channel closes when ctx ends or the bus closes. The caller must keep
// draining it: an unread event holds up the publisher.
func (b *Bus) Subscribe(ctx context.Context) (<-chan Event, error) {
	msgs, err := b.pubsub.Subscribe(ctx, Topic)
	if err != nil {
		return nil, errors.Wrap(err, "failed to subscribe to chat events")
	}

	out := make(chan Event)
	go func() {
		defer close(out)
		for msg := range msgs {
			var ev Event
			if err := json.Unmarshal(msg.Payload, &ev); err != nil {
				b.logger.Warn().Err(err).Str("message_uuid", msg.UUID).Msg("failed to decode event")
				msg.Ack()
				continue
			}
			select {
			case out <- ev:
				msg.Ack()
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// SubscribeConnection returns connection flips only. Events are acked on
// receipt, so a slow reader never holds up the publisher; when the buffer is
// full the oldest flip is dropped.
func (b *Bus) SubscribeConnection(ctx context.Context) (<-chan bool, error) {
	msgs, err := b.pubsub.Subscribe(ctx, Topic)
	if err != nil {
		return nil, errors.Wrap(err, "failed to subscribe to connection events")
	}

	out := make(chan bool, connectionBuffer)
	go func() {
		defer close(out)
		for msg := range msgs {
			msg.Ack()
			if msg.Metadata.Get("kind") != string(KindConnection) {
				continue
			}
			var ev Event
			if err := json.Unmarshal(msg.Payload, &ev); err != nil {
				b.logger.Warn().Err(err).Str("message_uuid", msg.UUID).Msg("failed to decode event")
				continue
			}
			select {
			case out <- ev.Connected:
			default:
				select {
				case <-out:
				default:
				}
				out <- ev.Connected
			}
		}
	}()
	return out, nil
}

// Close stops the bus and closes all subscriber channels.
func (b *Bus) Close() error {
	return b.pubsub.Close()
}
