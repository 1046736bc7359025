package redis

import (
	"context"
	"encoding/json"
	"fmt"

	redis "github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/selivandex/crypto-index/pkg/logger"
	"github.com/selivandex/crypto-index/pkg/models"
)

// Publisher sends committed index ticks to a Redis pub/sub channel.
type Publisher struct {
	rdb     *redis.Client
	channel string
}

// NewPublisher creates a publisher for one channel.
func NewPublisher(rdb *redis.Client, channel string) *Publisher {
	return &Publisher{rdb: rdb, channel: channel}
}

// Publish marshals the tick as JSON and publishes it.
func (p *Publisher) Publish(ctx context.Context, tick *models.IndexTick) error {
	payload, err := json.Marshal(tick)
	if err != nil {
		return fmt.Errorf("failed to encode index tick: %w", err)
	}

	if err := p.rdb.Publish(ctx, p.channel, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish index tick: %w", err)
	}

	logger.Debug("index tick published",
		zap.String("channel", p.channel),
		zap.String("index", tick.AssetPair),
		zap.String("value", tick.Bid.String()),
	)
	return nil
}
