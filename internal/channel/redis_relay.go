package channel

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"doctrack/pkg/domain"
)

const defaultRelayChannel = "doctrack:channel"

// relayEnvelope is the wire form carried over Redis pub/sub.
type relayEnvelope struct {
	Topic string          `json:"topic"`
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// RedisRelay implements Publisher over Redis pub/sub so that every process
// instance delivers to its own local hub. Each publish goes through Redis;
// the subscription loop feeds it back into the hub, including on the
// publishing instance itself.
type RedisRelay struct {
	hub     *Hub
	client  *redis.Client
	channel string
}

// NewRedisRelay connects to Redis and wraps the local hub.
func NewRedisRelay(addr, password, channelName string, hub *Hub) (*RedisRelay, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil, errors.New("relay redis addr required")
	}
	if hub == nil {
		return nil, errors.New("relay requires a hub")
	}
	channelName = strings.TrimSpace(channelName)
	if channelName == "" {
		channelName = defaultRelayChannel
	}
	return &RedisRelay{
		hub:     hub,
		client:  redis.NewClient(&redis.Options{Addr: addr, Password: password}),
		channel: channelName,
	}, nil
}

// Run subscribes and forwards relayed events into the local hub until the
// context is cancelled.
func (r *RedisRelay) Run(ctx context.Context) error {
	sub := r.client.Subscribe(ctx, r.channel)
	defer sub.Close()

	// Confirm the subscription before reporting ready.
	if _, err := sub.Receive(ctx); err != nil {
		return err
	}

	messages := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-messages:
			if !ok {
				return errors.New("relay subscription closed")
			}
			var env relayEnvelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				slog.Warn("relay dropped malformed envelope", "err", err)
				continue
			}
			r.hub.Publish(env.Topic, env.Event, json.RawMessage(env.Data))
		}
	}
}

// PublishToUser relays an event to a user topic across all instances.
func (r *RedisRelay) PublishToUser(userID, event string, data any) {
	r.publish(UserTopic(userID), event, data)
}

// PublishToRole relays an event to a role topic across all instances.
func (r *RedisRelay) PublishToRole(role domain.UserRole, event string, data any) {
	r.publish(RoleTopic(role), event, data)
}

func (r *RedisRelay) publish(topic, event string, data any) {
	raw, err := json.Marshal(data)
	if err != nil {
		slog.Warn("relay publish marshal failed", "topic", topic, "event", event, "err", err)
		return
	}
	payload, err := json.Marshal(relayEnvelope{Topic: topic, Event: event, Data: raw})
	if err != nil {
		slog.Warn("relay envelope marshal failed", "topic", topic, "event", event, "err", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := r.client.Publish(ctx, r.channel, payload).Err(); err != nil {
		slog.Warn("relay publish failed", "topic", topic, "event", event, "err", err)
	}
}
