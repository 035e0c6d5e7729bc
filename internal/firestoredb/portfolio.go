package firestoredb

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"cloud.google.com/go/firestore"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"chippo_portfolio/internal/model"
	"chippo_portfolio/internal/queue"
	"chippo_portfolio/internal/repository"
)

var (
	_ repository.PortfolioRepository = (*PortfolioStore)(nil)
	_ repository.LikeRepository      = (*LikeStore)(nil)
	_ repository.CommentRepository   = (*CommentStore)(nil)
)

// PortfolioStore keeps portfolios in the "portfolios" collection, with
// likes and comments as subcollections of each document. Lifecycle changes
// are published to events so the media worker sees them; live queries use
// Firestore listeners directly.
type PortfolioStore struct {
	client *firestore.Client
	events queue.Publisher
	log    *zap.Logger
}

func NewPortfolioStore(client *firestore.Client, events queue.Publisher, log *zap.Logger) *PortfolioStore {
	return &PortfolioStore{client: client, events: events, log: log.Named("firestore_portfolios")}
}

func (s *PortfolioStore) notify(ctx context.Context, event queue.PortfolioEvent) {
	if s.events == nil {
		return
	}
	if _, err := s.events.Publish(ctx, queue.StreamPortfolios, event); err != nil {
		s.log.Warn("change event not published", zap.String("type", event.Type), zap.Error(err))
	}
}

func (s *PortfolioStore) col() *firestore.CollectionRef {
	return s.client.Collection(colPortfolios)
}

func isNotFound(err error) bool {
	return status.Code(err) == codes.NotFound
}

// Subscribe runs a real-time listener. The "all" query is ordered by the
// backend; a category query carries only the equality filter, so no
// composite index is needed.
func (s *PortfolioStore) Subscribe(ctx context.Context, q model.FeedQuery) (<-chan model.Snapshot, error) {
	query := s.col().Query
	if q.Category != model.CategoryAll && q.Category != "" {
		query = query.Where(fieldCategory, "==", string(q.Category))
	}
	if q.OrderByCreated {
		query = query.OrderBy(fieldCreatedAt, firestore.Desc)
	}

	it := query.Snapshots(ctx)
	out := make(chan model.Snapshot, 1)
	go func() {
		defer close(out)
		defer it.Stop()
		for {
			qs, err := it.Next()
			if ctx.Err() != nil {
				return
			}
			var snap model.Snapshot
			if err != nil {
				snap.Err = fmt.Errorf("portfolio listener: %w", err)
			} else {
				snap.Portfolios, snap.Err = readPortfolios(qs.Documents)
			}
			select {
			case out <- snap:
			case <-ctx.Done():
				return
			}
			if snap.Err != nil {
				return
			}
		}
	}()
	return out, nil
}

type docIterator interface {
	GetAll() ([]*firestore.DocumentSnapshot, error)
}

func readPortfolios(it docIterator) ([]model.Portfolio, error) {
	docs, err := it.GetAll()
	if err != nil {
		return nil, fmt.Errorf("read portfolios: %w", err)
	}
	list := make([]model.Portfolio, 0, len(docs))
	for _, doc := range docs {
		var d portfolioDoc
		if err := doc.DataTo(&d); err != nil {
			return nil, fmt.Errorf("decode portfolio %s: %w", doc.Ref.ID, err)
		}
		list = append(list, d.toModel(doc.Ref.ID))
	}
	return list, nil
}

func (s *PortfolioStore) GetByID(ctx context.Context, id string) (*model.Portfolio, error) {
	if id == "" {
		return nil, model.ErrPortfolioNotFound
	}
	doc, err := s.col().Doc(id).Get(ctx)
	if isNotFound(err) {
		return nil, model.ErrPortfolioNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get portfolio: %w", err)
	}
	var d portfolioDoc
	if err := doc.DataTo(&d); err != nil {
		return nil, fmt.Errorf("decode portfolio: %w", err)
	}
	p := d.toModel(doc.Ref.ID)
	return &p, nil
}

func (s *PortfolioStore) Create(ctx context.Context, p *model.Portfolio) (string, error) {
	ref := s.col().NewDoc()
	if p.ID != "" {
		ref = s.col().Doc(p.ID)
	}
	wr, err := ref.Create(ctx, newPortfolioDoc(p))
	if err != nil {
		return "", fmt.Errorf("create portfolio: %w", err)
	}
	p.ID = ref.ID
	p.Views, p.Likes, p.CommentsCount = 0, 0, 0
	p.CreatedAt, p.UpdatedAt = wr.UpdateTime, wr.UpdateTime

	s.notify(ctx, queue.NewPortfolioCreatedEvent(p))
	return p.ID, nil
}

func (s *PortfolioStore) Update(ctx context.Context, id string, u model.PortfolioUpdate) error {
	prev, err := s.GetByID(ctx, id)
	if err != nil {
		return err
	}

	var updates []firestore.Update
	if u.Title != nil {
		updates = append(updates, firestore.Update{Path: "title", Value: *u.Title})
	}
	if u.Description != nil {
		updates = append(updates, firestore.Update{Path: "description", Value: *u.Description})
	}
	if u.Category != nil {
		updates = append(updates, firestore.Update{Path: fieldCategory, Value: string(*u.Category)})
	}
	if u.Tags != nil {
		updates = append(updates, firestore.Update{Path: "tags", Value: u.Tags})
	}
	if u.Images != nil {
		urls, refs := splitImages(u.Images)
		updates = append(updates,
			firestore.Update{Path: "images", Value: urls},
			firestore.Update{Path: "imageRefs", Value: refs})
	}
	if u.ThumbnailURL != nil {
		updates = append(updates, firestore.Update{Path: "thumbnailUrl", Value: *u.ThumbnailURL})
	}
	if u.Edits() {
		updates = append(updates, firestore.Update{Path: fieldUpdatedAt, Value: firestore.ServerTimestamp})
	}
	if len(updates) == 0 {
		return nil
	}

	_, err = s.col().Doc(id).Update(ctx, updates)
	if isNotFound(err) {
		return model.ErrPortfolioNotFound
	}
	if err != nil {
		return fmt.Errorf("update portfolio: %w", err)
	}

	var removed []string
	if u.Images != nil {
		keep := make(map[string]struct{}, len(u.Images))
		for _, img := range u.Images {
			keep[img.Ref] = struct{}{}
		}
		for _, ref := range prev.ImageRefs() {
			if _, ok := keep[ref]; !ok {
				removed = append(removed, ref)
			}
		}
	}
	current := *prev
	if u.Category != nil {
		current.Category = *u.Category
	}
	s.notify(ctx, queue.NewPortfolioUpdatedEvent(&current, prev.Category, removed))
	return nil
}

// Delete removes the likes and comments subcollections with a BulkWriter,
// then the document itself.
func (s *PortfolioStore) Delete(ctx context.Context, id string) error {
	p, err := s.GetByID(ctx, id)
	if err != nil {
		return err
	}
	ref := s.col().Doc(id)

	bw := s.client.BulkWriter(ctx)
	var jobs []*firestore.BulkWriterJob
	for _, sub := range []string{colLikes, colComments} {
		docs, err := ref.Collection(sub).Documents(ctx).GetAll()
		if err != nil {
			bw.End()
			return fmt.Errorf("list %s: %w", sub, err)
		}
		for _, doc := range docs {
			job, err := bw.Delete(doc.Ref)
			if err != nil {
				bw.End()
				return fmt.Errorf("queue delete %s: %w", doc.Ref.Path, err)
			}
			jobs = append(jobs, job)
		}
	}
	bw.End()

	var errs []error
	for _, job := range jobs {
		if _, err := job.Results(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("delete subcollections: %w", errors.Join(errs...))
	}

	if _, err := ref.Delete(ctx); err != nil {
		return fmt.Errorf("delete portfolio: %w", err)
	}
	s.log.Info("portfolio deleted", zap.String("portfolio_id", id), zap.Int("children", len(jobs)))
	s.notify(ctx, queue.NewPortfolioDeletedEvent(p))
	return nil
}

// ListByAuthor filters on the author only and orders here, which keeps the
// query off composite indexes.
func (s *PortfolioStore) ListByAuthor(ctx context.Context, authorID string) ([]model.Portfolio, error) {
	list, err := readPortfolios(s.col().Where(fieldAuthorID, "==", authorID).Documents(ctx))
	if err != nil {
		return nil, err
	}
	sort.SliceStable(list, func(i, j int) bool {
		return list[i].CreatedAt.After(list[j].CreatedAt)
	})
	return list, nil
}

func (s *PortfolioStore) ListRecent(ctx context.Context, limit int) ([]model.Portfolio, error) {
	list, err := readPortfolios(s.col().OrderBy(fieldCreatedAt, firestore.Desc).Limit(limit).Documents(ctx))
	if err != nil {
		return nil, err
	}
	withImages := list[:0]
	for _, p := range list {
		if len(p.Images) > 0 {
			withImages = append(withImages, p)
		}
	}
	return withImages, nil
}

func (s *PortfolioStore) SetViews(ctx context.Context, id string, views int) error {
	_, err := s.col().Doc(id).Update(ctx, []firestore.Update{{Path: fieldViews, Value: views}})
	if isNotFound(err) {
		return model.ErrPortfolioNotFound
	}
	if err != nil {
		return fmt.Errorf("set views: %w", err)
	}
	return nil
}
