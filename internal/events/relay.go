package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RelayMessage — уже сериализованное событие, отправленное другим процессом.
type RelayMessage struct {
	Origin         string          `json:"origin"`
	OrganizationID uint            `json:"organizationId"`
	Data           json.RawMessage `json:"data"`
}

// Relay разносит события между процессами, у каждого из которых свои
// websocket-сессии.
type Relay interface {
	Publish(ctx context.Context, msg RelayMessage) error
	// Subscribe блокируется до отмены ctx.
	Subscribe(ctx context.Context, handle func(RelayMessage)) error
}

type RedisRelay struct {
	client  redis.UniversalClient
	channel string
	logger  *zap.Logger
}

func NewRedisRelay(client redis.UniversalClient, channel string, logger *zap.Logger) *RedisRelay {
	return &RedisRelay{client: client, channel: channel, logger: logger.Named("relay")}
}

func (r *RedisRelay) Publish(ctx context.Context, msg RelayMessage) error {
	raw, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal relay message: %w", err)
	}
	return r.client.Publish(ctx, r.channel, raw).Err()
}

func (r *RedisRelay) Subscribe(ctx context.Context, handle func(RelayMessage)) error {
	pubsub := r.client.Subscribe(ctx, r.channel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("subscribe %s: %w", r.channel, err)
	}
	r.logger.Info("relay subscribed", zap.String("channel", r.channel))

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case m, ok := <-ch:
			if !ok {
				return nil
			}
			var msg RelayMessage
			if err := json.Unmarshal([]byte(m.Payload), &msg); err != nil {
				r.logger.Warn("bad relay payload", zap.Error(err))
				continue
			}
			handle(msg)
		}
	}
}
