package push

import (
	"context"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisPublisher publishes events on Redis pub/sub so every node can forward
// them to its own sockets through a Relay.
type RedisPublisher struct {
	client *redis.Client
	prefix string
}

// NewRedisPublisher publishes on "<prefix><channel>".
func NewRedisPublisher(client *redis.Client, prefix string) *RedisPublisher {
	return &RedisPublisher{client: client, prefix: prefix}
}

func (p *RedisPublisher) Publish(ctx context.Context, channel string, event Event) error {
	payload, err := encode(event)
	if err != nil {
		return err
	}
	if err := p.client.Publish(ctx, p.prefix+channel, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish to redis: %w", err)
	}
	return nil
}

// Relay subscribes to all user channels on Redis and hands each payload to
// the local websocket hub.
type Relay struct {
	client *redis.Client
	prefix string
	hub    LocalSender
	logger *zap.Logger
}

func NewRelay(client *redis.Client, prefix string, hub LocalSender, logger *zap.Logger) *Relay {
	return &Relay{client: client, prefix: prefix, hub: hub, logger: logger.Named("push.relay")}
}

// Run forwards messages until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	sub := r.client.PSubscribe(ctx, r.prefix+userChannelPrefix+"*")
	defer func() {
		_ = sub.Close()
	}()

	// Wait for the subscription to be confirmed so nothing published after
	// Run starts is missed.
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			channel, _ := strings.CutPrefix(msg.Channel, r.prefix)
			userID, found := userFromChannel(channel)
			if !found {
				r.logger.Debug("ignoring message on unexpected channel", zap.String("channel", msg.Channel))
				continue
			}
			r.hub.Send(userID, []byte(msg.Payload))
		}
	}
}
