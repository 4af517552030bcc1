package services

import (
	"context"

	"github.com/bidhouse/apiserver/internal/mq"
	"go.uber.org/zap"
)

// EventPublisher publishes domain events. *mq.Publisher satisfies it.
type EventPublisher interface {
	Publish(ctx context.Context, event mq.Event) (string, error)
}

// publish sends event; failures are logged, not returned.
func publish(ctx context.Context, events EventPublisher, logger *zap.Logger, event mq.Event) {
	if events == nil {
		return
	}
	if _, err := events.Publish(ctx, event); err != nil {
		logger.Warn("publish event failed",
			zap.String("type", event.Type),
			zap.Int64("auction_id", event.AuctionID),
			zap.Error(err),
		)
	}
}
