// Package events fans tree changes out over an in-process watermill pub/sub.
//
// Every event is published twice: on the shared AllTopic, where router
// handlers pick it up, and on the per-conversation topic that streaming
// clients subscribe to. Nothing is persisted; subscribers only see events
// published after they subscribed.
//
// Publishing blocks until every subscriber of a topic has acknowledged the
// event, so each subscriber sees the events of a conversation in the order
// the manager committed them.
package events

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/go-go-golems/conflict-sim/pkg/conversation"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const (
	AllTopic                = "conversations"
	conversationTopicPrefix = "conversation."
	eventTypeKey            = "event_type"
	subscriberBuffer        = 64
)

func TopicFor(treeID string) string {
	return conversationTopicPrefix + treeID
}

// Bus is a conversation.EventSink backed by a watermill go channel.
type Bus struct {
	logger watermill.LoggerAdapter
	pubSub *gochannel.GoChannel
	router *message.Router

	mu sync.Mutex
}

var _ conversation.EventSink = (*Bus)(nil)

type BusOption func(*Bus)

func WithLogger(logger watermill.LoggerAdapter) BusOption {
	return func(b *Bus) {
		b.logger = logger
	}
}

func NewBus(options ...BusOption) (*Bus, error) {
	ret := &Bus{
		logger: watermill.NopLogger{},
	}
	for _, o := range options {
		o(ret)
	}

	ret.pubSub = gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer:            subscriberBuffer,
		BlockPublishUntilSubscriberAck: true,
	}, ret.logger)

	router, err := message.NewRouter(message.RouterConfig{}, ret.logger)
	if err != nil {
		return nil, errors.Wrap(err, "could not create event router")
	}
	ret.router = router

	return ret, nil
}

// HandleTreeEvent publishes the event. Publishing never fails the mutation
// that caused it, errors are logged.
func (b *Bus) HandleTreeEvent(event conversation.TreeEvent) {
	if err := b.Publish(event); err != nil {
		log.Warn().Err(err).Str("tree_id", event.TreeID).Str("event", string(event.Type)).Msg("failed to publish tree event")
	}
}

func (b *Bus) Publish(event conversation.TreeEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	// both topics see concurrent publishers in the same order
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, topic := range []string{AllTopic, TopicFor(event.TreeID)} {
		msg := message.NewMessage(watermill.NewUUID(), payload)
		msg.Metadata.Set(eventTypeKey, string(event.Type))
		if err := b.pubSub.Publish(topic, msg); err != nil {
			return errors.Wrapf(err, "could not publish to %s", topic)
		}
	}
	return nil
}

// Subscribe streams the events of one conversation until ctx is done. An
// event is acknowledged once it sits in the returned channel; when the
// channel buffer is full, publishers wait for the reader.
func (b *Bus) Subscribe(ctx context.Context, treeID string) (<-chan conversation.TreeEvent, error) {
	messages, err := b.pubSub.Subscribe(ctx, TopicFor(treeID))
	if err != nil {
		return nil, errors.Wrapf(err, "could not subscribe to %s", treeID)
	}

	out := make(chan conversation.TreeEvent, subscriberBuffer)
	go func() {
		defer close(out)
		for msg := range messages {
			event, err := decode(msg)
			if err != nil {
				log.Warn().Err(err).Str("message_id", msg.UUID).Msg("dropping undecodable tree event")
				msg.Ack()
				continue
			}
			select {
			case out <- event:
				msg.Ack()
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func decode(msg *message.Message) (conversation.TreeEvent, error) {
	var event conversation.TreeEvent
	if err := json.Unmarshal(msg.Payload, &event); err != nil {
		return conversation.TreeEvent{}, err
	}
	return event, nil
}

// AddHandler registers f for every event on AllTopic. Handlers must be added
// before Run. Handler errors are logged and the event is not redelivered.
func (b *Bus) AddHandler(name string, f func(conversation.TreeEvent) error) {
	b.router.AddNoPublisherHandler(name, AllTopic, b.pubSub, func(msg *message.Message) error {
		event, err := decode(msg)
		if err != nil {
			log.Warn().Err(err).Str("handler", name).Msg("dropping undecodable tree event")
			return nil
		}
		if err := f(event); err != nil {
			log.Warn().Err(err).Str("handler", name).Str("tree_id", event.TreeID).Msg("tree event handler failed")
		}
		return nil
	})
}

// Run blocks while the router dispatches to handlers.
func (b *Bus) Run(ctx context.Context) error {
	return b.router.Run(ctx)
}

func (b *Bus) Running() chan struct{} {
	return b.router.Running()
}

func (b *Bus) Close() error {
	var ret error
	if err := b.router.Close(); err != nil {
		log.Error().Err(err).Msg("failed to close event router")
		ret = err
	}
	if err := b.pubSub.Close(); err != nil {
		log.Error().Err(err).Msg("failed to close event pubsub")
		ret = err
	}
	return ret
}

// LogHandler writes every tree event to the debug log.
func LogHandler(event conversation.TreeEvent) error {
	log.Debug().
		Str("tree_id", event.TreeID).
		Str("node_id", event.NodeID).
		Str("event", string(event.Type)).
		Msg("tree event")
	return nil
}
