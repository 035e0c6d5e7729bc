package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"chippo_portfolio/internal/blob"
	"chippo_portfolio/internal/model"
)

// MediaService moves portfolio images in and out of blob storage.
type MediaService struct {
	store blob.Store
	log   *zap.Logger
	now   func() time.Time
}

func NewMediaService(store blob.Store, log *zap.Logger) *MediaService {
	return &MediaService{store: store, log: log.Named("media"), now: time.Now}
}

// Upload checks and stores every file under the author's folder, keeping the
// input order. If any file fails, the ones already stored are removed.
func (s *MediaService) Upload(ctx context.Context, authorID string, files []model.ImageUpload) ([]model.Image, error) {
	for _, f := range files {
		if int64(len(f.Data)) > model.MaxImageSizeBytes {
			return nil, model.ErrFileTooLarge
		}
	}

	images := make([]model.Image, len(files))
	var (
		mu     sync.Mutex
		stored []string
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, f := range files {
		g.Go(func() error {
			contentType, err := blob.CheckImage(f.Data, f.ContentType)
			if err != nil {
				return err
			}
			key := blob.PortfolioKey(authorID, fmt.Sprintf("%d_%s", i, f.Name), s.now())
			img, err := s.store.Put(gctx, key, f.Data, contentType)
			if err != nil {
				return err
			}
			mu.Lock()
			stored = append(stored, img.Ref)
			mu.Unlock()
			images[i] = img
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		s.Remove(context.WithoutCancel(ctx), stored)
		return nil, err
	}
	return images, nil
}

// Remove deletes refs, logging failures. Missing blobs are fine.
func (s *MediaService) Remove(ctx context.Context, refs []string) {
	for _, ref := range refs {
		if ref == "" {
			continue
		}
		if err := s.store.Delete(ctx, ref); err != nil {
			s.log.Warn("failed to delete blob", zap.String("ref", ref), zap.Error(err))
		}
	}
}
