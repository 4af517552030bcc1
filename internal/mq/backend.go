package mq

import (
	"context"
	"fmt"

	"github.com/bidhouse/apiserver/config"
)

// NewBackend builds the broker selected by cfg.Backend. It returns a nil
// Backend for config.MQNone.
func NewBackend(ctx context.Context, cfg config.MQConfig) (Backend, error) {
	switch cfg.Backend {
	case config.MQNone, "":
		return nil, nil
	case config.MQRabbitMQ:
		return NewRabbitMQClient(cfg.RabbitMQ)
	case config.MQPubSub:
		client, err := NewPubSubClient(ctx, cfg.PubSub)
		if err != nil {
			return nil, err
		}
		if _, err := client.topic(ctx, cfg.Channel); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("prepare pubsub topic %s: %w", cfg.Channel, err)
		}
		return client, nil
	default:
		return nil, fmt.Errorf("unknown mq backend %q", cfg.Backend)
	}
}
