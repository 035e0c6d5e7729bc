package repository

import (
	"context"

	"go.uber.org/zap"

	"chippo_portfolio/internal/queue"
)

// notifier publishes change events after commit. A failed publish is logged
// and swallowed: the write already happened, only live refresh is lost.
type notifier struct {
	events queue.Publisher
	log    *zap.Logger
}

func (n notifier) notify(ctx context.Context, event queue.PortfolioEvent) {
	if n.events == nil {
		return
	}
	if _, err := n.events.Publish(ctx, queue.StreamPortfolios, event); err != nil {
		n.log.Warn("change event not published",
			zap.String("type", event.Type),
			zap.String("portfolio_id", event.PortfolioID),
			zap.Error(err))
	}
}
