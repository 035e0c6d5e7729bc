package service

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strings"

	"go.uber.org/zap"

	"chippo_portfolio/internal/model"
	"chippo_portfolio/internal/repository"
)

// featuredPool bounds the featured draw to the newest portfolios with images.
// Older portfolios are never featured.
const featuredPool = 100

type PortfolioService struct {
	repo  repository.PortfolioRepository
	media *MediaService
	log   *zap.Logger
}

func NewPortfolioService(repo repository.PortfolioRepository, media *MediaService, log *zap.Logger) *PortfolioService {
	return &PortfolioService{repo: repo, media: media, log: log.Named("portfolio")}
}

// Create uploads the images and stores a new portfolio with zeroed counters.
// A portfolio without images is rejected before anything is uploaded.
func (s *PortfolioService) Create(ctx context.Context, author model.SessionUser, req *model.CreatePortfolioRequest) (*model.Portfolio, error) {
	if len(req.Images) == 0 {
		return nil, model.ErrNoImages
	}
	if len(req.Images) > model.MaxPortfolioImages {
		return nil, model.ErrTooManyImages
	}
	fields, err := cleanFields(req.Title, req.Description, req.Category, req.Tags)
	if err != nil {
		return nil, err
	}

	images, err := s.media.Upload(ctx, author.ID, req.Images)
	if err != nil {
		return nil, err
	}

	p := &model.Portfolio{
		Title:        fields.title,
		Description:  fields.description,
		Category:     fields.category,
		Tags:         fields.tags,
		Images:       images,
		AuthorID:     author.ID,
		AuthorName:   author.Name(),
		AuthorAvatar: author.AvatarURL,
	}
	id, err := s.repo.Create(ctx, p)
	if err != nil {
		s.media.Remove(context.WithoutCancel(ctx), refsOf(images))
		return nil, fmt.Errorf("create portfolio: %w", err)
	}
	s.log.Info("portfolio created", zap.String("portfolio_id", id), zap.String("author_id", author.ID), zap.Int("images", len(images)))

	return s.repo.GetByID(ctx, id)
}

// Update edits the author's own portfolio. Kept images stay in their given
// order with new uploads appended; the result must still hold an image.
func (s *PortfolioService) Update(ctx context.Context, author model.SessionUser, id string, req *model.UpdatePortfolioRequest) (*model.Portfolio, error) {
	current, err := s.owned(ctx, author, id)
	if err != nil {
		return nil, err
	}

	byRef := make(map[string]model.Image, len(current.Images))
	for _, img := range current.Images {
		byRef[img.Ref] = img
	}
	kept := make([]model.Image, 0, len(req.KeepImages))
	for _, ref := range req.KeepImages {
		if img, ok := byRef[ref]; ok {
			kept = append(kept, img)
			delete(byRef, ref)
		}
	}

	total := len(kept) + len(req.NewImages)
	if total == 0 {
		return nil, model.ErrNoImages
	}
	if total > model.MaxPortfolioImages {
		return nil, model.ErrTooManyImages
	}
	fields, err := cleanFields(req.Title, req.Description, req.Category, req.Tags)
	if err != nil {
		return nil, err
	}

	uploaded, err := s.media.Upload(ctx, author.ID, req.NewImages)
	if err != nil {
		return nil, err
	}
	images := append(kept, uploaded...)

	u := model.PortfolioUpdate{
		Title:       &fields.title,
		Description: &fields.description,
		Category:    &fields.category,
		Tags:        fields.tags,
		Images:      images,
	}
	// A new cover needs a new thumbnail; the worker renders it.
	if len(current.Images) == 0 || images[0].Ref != current.Images[0].Ref {
		empty := ""
		u.ThumbnailURL = &empty
	}
	if err := s.repo.Update(ctx, id, u); err != nil {
		s.media.Remove(context.WithoutCancel(ctx), refsOf(uploaded))
		return nil, fmt.Errorf("update portfolio: %w", err)
	}

	return s.repo.GetByID(ctx, id)
}

// Delete removes the author's own portfolio. confirmed must carry the
// author's explicit confirmation. Stored images are cleaned up by the worker.
func (s *PortfolioService) Delete(ctx context.Context, author model.SessionUser, id string, confirmed bool) error {
	if !confirmed {
		return model.ErrDeleteNotConfirmed
	}
	if _, err := s.owned(ctx, author, id); err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.log.Info("portfolio deleted", zap.String("portfolio_id", id), zap.String("author_id", author.ID))
	return nil
}

func (s *PortfolioService) GetByID(ctx context.Context, id string) (*model.Portfolio, error) {
	return s.repo.GetByID(ctx, id)
}

// Profile lists the user's portfolios newest first with summed counters.
func (s *PortfolioService) Profile(ctx context.Context, userID string) (*model.ProfileResponse, error) {
	list, err := s.repo.ListByAuthor(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list portfolios: %w", err)
	}
	resp := &model.ProfileResponse{Portfolios: list}
	if resp.Portfolios == nil {
		resp.Portfolios = []model.Portfolio{}
	}
	for _, p := range list {
		resp.Stats.TotalViews += p.Views
		resp.Stats.TotalLikes += p.Likes
		resp.Stats.TotalComments += p.CommentsCount
	}
	return resp, nil
}

// Featured picks a random handful of recent portfolios for the landing page.
func (s *PortfolioService) Featured(ctx context.Context) ([]model.Portfolio, error) {
	list, err := s.repo.ListRecent(ctx, featuredPool)
	if err != nil {
		return nil, fmt.Errorf("list recent portfolios: %w", err)
	}
	rand.Shuffle(len(list), func(i, j int) { list[i], list[j] = list[j], list[i] })
	if len(list) > model.FeaturedCount {
		list = list[:model.FeaturedCount]
	}
	if list == nil {
		list = []model.Portfolio{}
	}
	return list, nil
}

func (s *PortfolioService) owned(ctx context.Context, author model.SessionUser, id string) (*model.Portfolio, error) {
	p, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.AuthorID != author.ID {
		return nil, model.ErrNotPortfolioOwner
	}
	return p, nil
}

type portfolioFields struct {
	title       string
	description string
	category    model.Category
	tags        []string
}

func cleanFields(title, description, category string, tags []string) (portfolioFields, error) {
	f := portfolioFields{
		title:       strings.TrimSpace(title),
		description: strings.TrimSpace(description),
		tags:        cleanTags(tags),
	}
	if f.title == "" {
		return f, model.ErrTitleRequired
	}
	if err := model.Validate(struct {
		Title       string   `validate:"max=100"`
		Description string   `validate:"required,max=5000"`
		Tags        []string `validate:"max=20,dive,max=30"`
	}{f.title, f.description, f.tags}); err != nil {
		return f, err
	}
	c, err := model.ParseCategory(category)
	if err != nil {
		return f, err
	}
	f.category = c
	return f, nil
}

// cleanTags trims, drops blanks and removes duplicates, keeping first
// occurrences in order.
func cleanTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	seen := make(map[string]struct{}, len(tags))
	for _, t := range tags {
		t = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(t), "#"))
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

func refsOf(images []model.Image) []string {
	refs := make([]string, 0, len(images))
	for _, img := range images {
		refs = append(refs, img.Ref)
	}
	return refs
}
