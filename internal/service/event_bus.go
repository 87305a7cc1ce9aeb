package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/labguard/labguard-api/internal/dto"
	"github.com/labguard/labguard-api/internal/observability"
)

const eventBufferSize = 16

// Channel names used by the pipeline.
const InstructorChannel = "instructor:all"

// SessionChannel returns the per-lab-session observer channel name.
func SessionChannel(sessionID uint) string {
	return fmt.Sprintf("lab-session:%d", sessionID)
}

// EventBus publishes integrity events to channel observers. Delivery is
// best-effort and at-most-once within a connection; instructor UIs reconcile
// via polling, so loss on disconnect is acceptable. Ordering is preserved per
// publisher within a channel.
type EventBus interface {
	Publish(ctx context.Context, channel string, eventType string, payload map[string]interface{})
	Subscribe(channel string) (<-chan dto.IntegrityEvent, func())
	Start(ctx context.Context)
}

type eventBus struct {
	redis       *redis.Client
	redisStream string
	nats        *nats.Conn
	natsSubject string
	logger      zerolog.Logger
	broker      *eventBroker
	nodeID      string
}

type eventEnvelope struct {
	Source string             `json:"source"`
	Event  dto.IntegrityEvent `json:"event"`
	SentAt time.Time          `json:"sent_at"`
}

type eventBroker struct {
	mu          sync.RWMutex
	subscribers map[string]map[chan dto.IntegrityEvent]struct{}
}

// NewEventBus constructs an event bus. Both the redis client and the NATS
// connection are optional; without them events stay in-process.
func NewEventBus(redisClient *redis.Client, natsConn *nats.Conn, logger zerolog.Logger) EventBus {
	return &eventBus{
		redis:       redisClient,
		redisStream: "labguard:events",
		nats:        natsConn,
		natsSubject: "labguard.events",
		logger:      logger.With().Str("component", "event_bus").Logger(),
		broker: &eventBroker{
			subscribers: make(map[string]map[chan dto.IntegrityEvent]struct{}),
		},
		nodeID: uuid.NewString(),
	}
}

func (b *eventBus) Start(ctx context.Context) {
	if b.redis != nil {
		go b.consumeRedis(ctx)
	}
	if b.nats != nil {
		b.consumeNATS(ctx)
	}
}

func (b *eventBus) Publish(ctx context.Context, channel string, eventType string, payload map[string]interface{}) {
	event := dto.IntegrityEvent{
		ID:        uuid.NewString(),
		Type:      eventType,
		Channel:   channel,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	}

	observability.EventsPublished().WithLabelValues(channelKind(channel), eventType).Inc()
	b.broker.broadcast(channel, event)

	if err := b.fanOut(ctx, event); err != nil {
		b.logger.Warn().Err(err).Str("channel", channel).Msg("failed to fan out event")
	}
}

func (b *eventBus) Subscribe(channel string) (<-chan dto.IntegrityEvent, func()) {
	ch := make(chan dto.IntegrityEvent, eventBufferSize)
	b.broker.subscribe(channel, ch)
	observability.StreamClientsActive().Inc()

	cleanup := func() {
		if b.broker.unsubscribe(channel, ch) {
			observability.StreamClientsActive().Dec()
		}
	}
	return ch, cleanup
}

func (b *eventBus) fanOut(ctx context.Context, event dto.IntegrityEvent) error {
	envelope := eventEnvelope{Source: b.nodeID, Event: event, SentAt: time.Now().UTC()}
	payload, err := json.Marshal(envelope)
	if err != nil {
		return err
	}

	if b.redis != nil {
		if err := b.redis.Publish(ctx, b.redisStream, payload).Err(); err != nil {
			return err
		}
	}
	if b.nats != nil {
		if err := b.nats.Publish(b.natsSubject, payload); err != nil {
			return err
		}
	}
	return nil
}

func (b *eventBus) consumeRedis(ctx context.Context) {
	pubsub := b.redis.Subscribe(ctx, b.redisStream)
	defer func() { _ = pubsub.Close() }()

	for {
		msg, err := pubsub.ReceiveMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			b.logger.Error().Err(err).Msg("event bus redis subscription closed")
			return
		}
		b.handleEnvelope([]byte(msg.Payload))
	}
}

func (b *eventBus) consumeNATS(ctx context.Context) {
	sub, err := b.nats.QueueSubscribe(b.natsSubject, "labguard-events", func(msg *nats.Msg) {
		b.handleEnvelope(msg.Data)
	})
	if err != nil {
		b.logger.Error().Err(err).Msg("failed to subscribe to nats events subject")
		return
	}

	go func() {
		<-ctx.Done()
		if err := sub.Drain(); err != nil {
			b.logger.Warn().Err(err).Msg("failed to drain nats event subscription")
		}
	}()
}

func (b *eventBus) handleEnvelope(payload []byte) {
	var envelope eventEnvelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		b.logger.Warn().Err(err).Msg("invalid event envelope")
		return
	}
	if envelope.Source == b.nodeID {
		return
	}
	b.broker.broadcast(envelope.Event.Channel, envelope.Event)
}

func channelKind(channel string) string {
	if strings.HasPrefix(channel, "lab-session:") {
		return "lab-session"
	}
	return channel
}

func (k *eventBroker) subscribe(channel string, ch chan dto.IntegrityEvent) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if _, exists := k.subscribers[channel]; !exists {
		k.subscribers[channel] = make(map[chan dto.IntegrityEvent]struct{})
	}
	k.subscribers[channel][ch] = struct{}{}
}

// unsubscribe removes and closes the channel. It reports whether the channel
// was still subscribed, so repeated cleanup calls are harmless.
func (k *eventBroker) unsubscribe(channel string, ch chan dto.IntegrityEvent) bool {
	k.mu.Lock()
	defer k.mu.Unlock()

	subscribers, ok := k.subscribers[channel]
	if !ok {
		return false
	}
	if _, subscribed := subscribers[ch]; !subscribed {
		return false
	}

	delete(subscribers, ch)
	close(ch)
	if len(subscribers) == 0 {
		delete(k.subscribers, channel)
	}
	return true
}

func (k *eventBroker) broadcast(channel string, event dto.IntegrityEvent) {
	k.mu.RLock()
	defer k.mu.RUnlock()

	for ch := range k.subscribers[channel] {
		select {
		case ch <- event:
		default:
		}
	}
}
