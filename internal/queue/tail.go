package queue

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Tailer follows a stream from its current end without a consumer group.
// Every tail sees every event.
type Tailer interface {
	Tail(ctx context.Context, stream string) (<-chan PortfolioEvent, error)
}

// RedisTailer implements Tailer with XREAD BLOCK.
type RedisTailer struct {
	client *redis.Client
	block  time.Duration
	log    *zap.Logger
}

func NewTailer(client *redis.Client, block time.Duration, log *zap.Logger) *RedisTailer {
	if block <= 0 {
		block = 5 * time.Second
	}
	return &RedisTailer{client: client, block: block, log: log.Named("tail")}
}

// Tail starts after the newest entry present at call time. Read failures are
// retried with exponential backoff; the returned channel closes when ctx is
// done or the stream stays unreadable past the backoff limit.
func (t *RedisTailer) Tail(ctx context.Context, stream string) (<-chan PortfolioEvent, error) {
	lastID := "0-0"
	latest, err := t.client.XRevRangeN(ctx, stream, "+", "-", 1).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}
	if len(latest) > 0 {
		lastID = latest[0].ID
	}

	out := make(chan PortfolioEvent, 16)
	go func() {
		defer close(out)
		eb := backoff.NewExponentialBackOff()
		eb.MaxElapsedTime = 30 * time.Second
		retry := backoff.WithContext(eb, ctx)
		for {
			streams, err := t.client.XRead(ctx, &redis.XReadArgs{
				Streams: []string{stream, lastID},
				Block:   t.block,
				Count:   64,
			}).Result()
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, redis.Nil) {
				continue
			}
			if err != nil {
				wait := retry.NextBackOff()
				if wait == backoff.Stop {
					t.log.Error("tail gave up", zap.String("stream", stream), zap.Error(err))
					return
				}
				t.log.Warn("tail read failed", zap.String("stream", stream), zap.Duration("backoff", wait), zap.Error(err))
				select {
				case <-time.After(wait):
				case <-ctx.Done():
					return
				}
				continue
			}
			retry.Reset()
			for _, s := range streams {
				for _, msg := range s.Messages {
					lastID = msg.ID
					event, err := ParsePortfolioEvent(msg.Values)
					if err != nil {
						continue
					}
					select {
					case out <- event:
					case <-ctx.Done():
						return
					}
				}
			}
		}
	}()
	return out, nil
}
