package redis

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"live-quiz-service/internal/app"
	"live-quiz-service/internal/domain"
	"live-quiz-service/internal/infra/memory"
)

const eventsPattern = "quiz:*:events"

// publishScript numbers and publishes an event in one step, so the channel
// carries envelopes in seq order no matter how many instances publish.
// ARGV[1] and ARGV[2] are the encoded envelope split around its seq value.
var publishScript = redis.NewScript(`
local seq = redis.call('INCR', KEYS[1])
if tonumber(ARGV[3]) > 0 then
	redis.call('EXPIRE', KEYS[1], ARGV[3])
end
redis.call('PUBLISH', KEYS[2], ARGV[1] .. seq .. ARGV[2])
return seq
`)

var seqPlaceholder = []byte(`"seq":0`)

// EventBus routes session events through Redis Pub/Sub so every instance's
// subscribers see the same stream. A script increments the session counter and
// publishes atomically, which keeps seq monotonic on the wire across instances.
//
//	INCR    quiz:{sessionID}:seq
//	PUBLISH quiz:{sessionID}:events {envelope}
type EventBus struct {
	client *redis.Client
	local  *memory.Hub
	ttl    time.Duration
	log    *zap.Logger

	once   sync.Once
	pubsub *redis.PubSub
	done   chan struct{}
}

var _ app.EventBus = (*EventBus)(nil)

// NewEventBus wraps a local hub. ttl bounds how long an idle session's counter survives.
func NewEventBus(client *redis.Client, local *memory.Hub, ttl time.Duration, log *zap.Logger) *EventBus {
	if log == nil {
		log = zap.NewNop()
	}
	return &EventBus{
		client: client,
		local:  local,
		ttl:    ttl,
		log:    log,
		done:   make(chan struct{}),
	}
}

// Start subscribes to every session channel and relays messages to the local hub
// until ctx is cancelled or Close is called. It returns once the subscription is confirmed.
func (b *EventBus) Start(ctx context.Context) error {
	pubsub := b.client.PSubscribe(ctx, eventsPattern)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return fmt.Errorf("psubscribe %s: %w", eventsPattern, err)
	}
	b.pubsub = pubsub

	go func() {
		defer close(b.done)
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				b.once.Do(func() { _ = pubsub.Close() })
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				b.relay(msg)
			}
		}
	}()
	return nil
}

// Close stops relaying and waits for the relay goroutine. It is safe after
// the Start context was cancelled and on a bus that never started.
func (b *EventBus) Close() error {
	if b.pubsub == nil {
		return nil
	}
	var err error
	b.once.Do(func() { err = b.pubsub.Close() })
	<-b.done
	return err
}

func (b *EventBus) Publish(ctx context.Context, env domain.Envelope) error {
	env.Seq = 0
	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", env.Event.Type(), err)
	}
	// session_id is encoded before seq, and quotes inside it are escaped
	i := bytes.Index(payload, seqPlaceholder)
	if i < 0 {
		return errors.New("encoded envelope has no seq field")
	}
	prefix := payload[:i+len(seqPlaceholder)-1]
	suffix := payload[i+len(seqPlaceholder):]

	keys := []string{b.seqKey(env.SessionID), b.channel(env.SessionID)}
	ttl := int(b.ttl / time.Second)
	if err := publishScript.Run(ctx, b.client, keys, prefix, suffix, ttl).Err(); err != nil {
		return fmt.Errorf("publish %s event: %w", env.Event.Type(), err)
	}
	return nil
}

// Subscribe attaches to the local hub, which receives everything relayed from Redis.
func (b *EventBus) Subscribe(ctx context.Context, sessionID string) (<-chan domain.Envelope, func(), error) {
	return b.local.Subscribe(ctx, sessionID)
}

func (b *EventBus) relay(msg *redis.Message) {
	var env domain.Envelope
	if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
		b.log.Warn("discarding undecodable event", zap.String("channel", msg.Channel), zap.Error(err))
		return
	}
	if want := sessionFromChannel(msg.Channel); want != "" && env.SessionID != want {
		b.log.Warn("event routed to wrong channel", zap.String("channel", msg.Channel), zap.String("session_id", env.SessionID))
		return
	}
	b.local.Deliver(env)
}

func (b *EventBus) channel(sessionID string) string {
	return "quiz:" + sessionID + ":events"
}

func (b *EventBus) seqKey(sessionID string) string {
	return "quiz:" + sessionID + ":seq"
}

func sessionFromChannel(channel string) string {
	id, ok := strings.CutPrefix(channel, "quiz:")
	if !ok {
		return ""
	}
	id, ok = strings.CutSuffix(id, ":events")
	if !ok {
		return ""
	}
	return id
}
