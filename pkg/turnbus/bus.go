package turnbus

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	rstream "github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/catalog-chat/pkg/events"
)

// Topic carries every relayed event of every turn.
const Topic = "catalog-chat.turns"

// Source says which generator produced an event.
type Source string

const (
	SourceUpstream Source = "upstream"
	SourceLocal    Source = "local"
)

// TurnEvent is the bus envelope of one relayed StreamEvent. Seq is 1-based
// within a turn; the terminal event's Seq is the turn's event count.
//
// An Aborted envelope closes a turn that ended without a terminal event, e.g.
// after a client disconnect. It carries no event and its Seq is the number of
// events relayed before the abort. It never reaches a client.
type TurnEvent struct {
	ThreadID string             `json:"thread_id"`
	TurnID   string             `json:"turn_id"`
	Seq      int                `json:"seq"`
	Source   Source             `json:"source"`
	Aborted  bool               `json:"aborted,omitempty"`
	Event    events.StreamEvent `json:"event"`
}

// Bus publishes TurnEvents on a watermill transport: an in-process GoChannel,
// or Redis Streams when enabled.
type Bus struct {
	settings   Settings
	publisher  message.Publisher
	subscriber message.Subscriber
	redis      *redis.Client
	wlogger    watermill.LoggerAdapter
}

func New(s Settings) (*Bus, error) {
	s = s.withDefaults()
	wlogger := NewWatermillLogger(log.Logger)
	b := &Bus{
		settings: s,
		wlogger:  wlogger,
	}

	if !s.Enabled {
		gc := gochannel.NewGoChannel(gochannel.Config{
			OutputChannelBuffer: 256,
		}, wlogger)
		b.publisher = gc
		b.subscriber = gc
		return b, nil
	}

	b.redis = redis.NewClient(&redis.Options{Addr: s.Addr})
	marshaler := rstream.DefaultMarshallerUnmarshaller{}

	pub, err := rstream.NewPublisher(rstream.PublisherConfig{
		Client:     b.redis,
		Marshaller: marshaler,
	}, wlogger)
	if err != nil {
		_ = b.redis.Close()
		return nil, errors.Wrap(err, "turnbus: redis publisher")
	}
	sub, err := rstream.NewSubscriber(rstream.SubscriberConfig{
		Client:        b.redis,
		Unmarshaller:  marshaler,
		ConsumerGroup: s.Group,
		Consumer:      s.Consumer,
	}, wlogger)
	if err != nil {
		_ = pub.Close()
		_ = b.redis.Close()
		return nil, errors.Wrap(err, "turnbus: redis subscriber")
	}
	b.publisher = pub
	b.subscriber = sub
	return b, nil
}

func (b *Bus) Settings() Settings { return b.settings }

// Publish sends one envelope. On the in-process transport this never waits
// for subscribers.
func (b *Bus) Publish(te TurnEvent) error {
	if b == nil || b.publisher == nil {
		return errors.New("turnbus: not initialized")
	}
	payload, err := json.Marshal(te)
	if err != nil {
		return errors.Wrap(err, "turnbus: marshal turn event")
	}
	msg := message.NewMessage(uuid.NewString(), payload)
	msg.Metadata.Set("thread_id", te.ThreadID)
	msg.Metadata.Set("turn_id", te.TurnID)
	msg.Metadata.Set("seq", strconv.Itoa(te.Seq))
	msg.Metadata.Set("source", string(te.Source))
	msg.Metadata.Set("event_type", string(te.Event.Type))
	if te.Aborted {
		msg.Metadata.Set("aborted", "true")
	}
	return b.publisher.Publish(Topic, msg)
}

// Subscribe returns the turn topic's message channel. With Redis the consumer
// group is created at the stream tail first so a new group does not replay history.
func (b *Bus) Subscribe(ctx context.Context) (<-chan *message.Message, error) {
	if b == nil || b.subscriber == nil {
		return nil, errors.New("turnbus: not initialized")
	}
	if b.redis != nil {
		if err := EnsureGroupAtTail(ctx, b.redis, Topic, b.settings.Group); err != nil {
			return nil, errors.Wrap(err, "turnbus: ensure consumer group")
		}
	}
	return b.subscriber.Subscribe(ctx, Topic)
}

func (b *Bus) Close() error {
	if b == nil {
		return nil
	}
	var errs []string
	if b.publisher != nil {
		if err := b.publisher.Close(); err != nil {
			errs = append(errs, err.Error())
		}
	}
	if b.subscriber != nil && any(b.subscriber) != any(b.publisher) {
		if err := b.subscriber.Close(); err != nil {
			errs = append(errs, err.Error())
		}
	}
	if b.redis != nil {
		if err := b.redis.Close(); err != nil {
			errs = append(errs, err.Error())
		}
	}
	if len(errs) > 0 {
		return errors.Errorf("turnbus: close: %s", strings.Join(errs, "; "))
	}
	return nil
}

// EnsureGroupAtTail creates the consumer group for stream at the tail ($) if it doesn't exist.
func EnsureGroupAtTail(ctx context.Context, client *redis.Client, stream, group string) error {
	err := client.XGroupCreateMkStream(ctx, stream, group, "$").Err()
	if err != nil {
		// Ignore BUSYGROUP errors (group already exists)
		if strings.Contains(err.Error(), "BUSYGROUP") {
			return nil
		}
		return err
	}
	log.Info().Str("component", "turnbus").Str("stream", stream).Str("group", group).Msg("created redis consumer group at $ (tail)")
	return nil
}
