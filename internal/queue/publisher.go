package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Publisher adds events to a stream.
type Publisher interface {
	// Publish returns the message ID assigned by Redis.
	Publish(ctx context.Context, stream string, event PortfolioEvent) (messageID string, err error)
}

// RedisPublisher implements Publisher using Redis Streams.
type RedisPublisher struct {
	client *redis.Client
	maxLen int64
	log    *zap.Logger
}

// NewPublisher creates a Publisher that trims the stream to roughly maxLen
// entries. maxLen <= 0 disables trimming.
func NewPublisher(client *redis.Client, maxLen int64, log *zap.Logger) *RedisPublisher {
	return &RedisPublisher{client: client, maxLen: maxLen, log: log.Named("publisher")}
}

// Publish adds an event to the stream using XADD with an auto-generated ID.
func (p *RedisPublisher) Publish(ctx context.Context, stream string, event PortfolioEvent) (string, error) {
	startTime := time.Now()

	values, err := event.ToMap()
	if err != nil {
		return "", fmt.Errorf("serialize event: %w", err)
	}

	args := &redis.XAddArgs{
		Stream: stream,
		Values: values,
	}
	if p.maxLen > 0 {
		args.MaxLen = p.maxLen
		args.Approx = true
	}

	messageID, err := p.client.XAdd(ctx, args).Result()
	if err != nil {
		p.log.Warn("publish failed", zap.String("stream", stream), zap.String("type", event.Type), zap.Error(err))
		return "", fmt.Errorf("xadd to stream: %w", err)
	}

	p.log.Debug("publish ok",
		zap.String("stream", stream),
		zap.String("type", event.Type),
		zap.String("portfolio_id", event.PortfolioID),
		zap.String("msg_id", messageID),
		zap.Duration("duration", time.Since(startTime)))

	return messageID, nil
}
