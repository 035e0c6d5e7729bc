package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"chippo_portfolio/internal/blob"
	"chippo_portfolio/internal/model"
	"chippo_portfolio/internal/queue"
)

// DefaultMaxRetries bounds the retries of one blob or store call.
const DefaultMaxRetries = 3

// PortfolioStore is what the worker needs from the portfolio store.
type PortfolioStore interface {
	GetByID(ctx context.Context, id string) (*model.Portfolio, error)
	Update(ctx context.Context, id string, u model.PortfolioUpdate) error
}

// Handler renders thumbnails and removes blobs that portfolio changes leave
// behind.
type Handler struct {
	portfolios PortfolioStore
	blobs      blob.Store
	log        *zap.Logger
	maxRetries uint64

	// initialInterval is the first retry delay; zero keeps the backoff default.
	initialInterval time.Duration
}

func NewHandler(portfolios PortfolioStore, blobs blob.Store, log *zap.Logger) *Handler {
	return &Handler{
		portfolios: portfolios,
		blobs:      blobs,
		log:        log.Named("worker"),
		maxRetries: DefaultMaxRetries,
	}
}

// HandleEvent routes an event to the appropriate handler based on type.
// Counter events only matter to live subscriptions and are skipped.
func (h *Handler) HandleEvent(ctx context.Context, event queue.PortfolioEvent) error {
	start := time.Now()
	var err error

	switch event.Type {
	case queue.EventPortfolioCreated:
		err = h.ensureThumbnail(ctx, event.PortfolioID)
	case queue.EventPortfolioUpdated:
		h.removeBlobs(ctx, event.ImageRefs)
		err = h.ensureThumbnail(ctx, event.PortfolioID)
	case queue.EventPortfolioDeleted:
		h.removeBlobs(ctx, append(event.ImageRefs, blob.ThumbnailKey(event.PortfolioID)))
	case queue.EventPortfolioViewed, queue.EventLikeChanged, queue.EventCommentChanged:
		return nil
	default:
		return fmt.Errorf("unknown event type: %s", event.Type)
	}

	if err != nil {
		h.log.Error("event failed",
			zap.String("type", event.Type),
			zap.String("portfolio_id", event.PortfolioID),
			zap.Duration("duration", time.Since(start)),
			zap.Error(err))
		return err
	}
	h.log.Debug("event handled",
		zap.String("type", event.Type),
		zap.String("portfolio_id", event.PortfolioID),
		zap.Duration("duration", time.Since(start)))
	return nil
}

// ensureThumbnail renders the card thumbnail from the cover image when the
// portfolio has none. Writing it back fires another update event, which
// finds the thumbnail set and stops.
func (h *Handler) ensureThumbnail(ctx context.Context, portfolioID string) error {
	p, err := h.portfolios.GetByID(ctx, portfolioID)
	if errors.Is(err, model.ErrPortfolioNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("get portfolio: %w", err)
	}
	if p.ThumbnailURL != "" || len(p.Images) == 0 {
		return nil
	}

	var data []byte
	err = h.retry(ctx, "get cover", func() error {
		var err error
		data, err = h.blobs.Get(ctx, p.Images[0].Ref)
		if errors.Is(err, blob.ErrNotFound) {
			return backoff.Permanent(err)
		}
		return err
	})
	if errors.Is(err, blob.ErrNotFound) {
		h.log.Warn("cover image missing", zap.String("portfolio_id", portfolioID), zap.String("ref", p.Images[0].Ref))
		return nil
	}
	if err != nil {
		return err
	}

	thumb, err := blob.Thumbnail(data)
	if err != nil {
		return fmt.Errorf("render thumbnail: %w", err)
	}

	var img model.Image
	err = h.retry(ctx, "put thumbnail", func() error {
		var err error
		img, err = h.blobs.Put(ctx, blob.ThumbnailKey(portfolioID), thumb, model.ContentTypeJPEG)
		return err
	})
	if err != nil {
		return err
	}

	err = h.retry(ctx, "set thumbnail", func() error {
		err := h.portfolios.Update(ctx, portfolioID, model.PortfolioUpdate{ThumbnailURL: &img.URL})
		if errors.Is(err, model.ErrPortfolioNotFound) {
			return backoff.Permanent(err)
		}
		return err
	})
	if errors.Is(err, model.ErrPortfolioNotFound) {
		// Deleted meanwhile; its delete event may already have run.
		h.removeBlobs(ctx, []string{img.Ref})
		return nil
	}
	if err != nil {
		return err
	}

	h.log.Info("thumbnail rendered", zap.String("portfolio_id", portfolioID), zap.String("url", img.URL))
	return nil
}

// removeBlobs deletes refs one by one. A failure is logged and the rest
// still go.
func (h *Handler) removeBlobs(ctx context.Context, refs []string) {
	for _, ref := range refs {
		if ref == "" {
			continue
		}
		err := h.retry(ctx, "delete blob", func() error {
			return h.blobs.Delete(ctx, ref)
		})
		if err != nil {
			h.log.Warn("failed to delete blob", zap.String("ref", ref), zap.Error(err))
		}
	}
}

func (h *Handler) retry(ctx context.Context, op string, fn func() error) error {
	b := backoff.NewExponentialBackOff()
	if h.initialInterval > 0 {
		b.InitialInterval = h.initialInterval
	}
	return backoff.RetryNotify(fn,
		backoff.WithContext(backoff.WithMaxRetries(b, h.maxRetries), ctx),
		func(err error, d time.Duration) {
			h.log.Warn("attempt failed", zap.String("op", op), zap.Error(err), zap.Duration("backoff", d))
		})
}
