// Package interaction drives one open portfolio: view counting, like
// toggling and the comment thread.
package interaction

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"chippo_portfolio/internal/identity"
	"chippo_portfolio/internal/metrics"
	"chippo_portfolio/internal/model"
	"chippo_portfolio/internal/repository"
)

// PortfolioStore is the part of the portfolio store a controller reads and
// writes.
type PortfolioStore interface {
	GetByID(ctx context.Context, id string) (*model.Portfolio, error)
	SetViews(ctx context.Context, id string, views int) error
}

// Deps are shared by every controller of a process.
type Deps struct {
	Portfolios PortfolioStore
	Likes      repository.LikeRepository
	Comments   repository.CommentRepository
	Session    identity.Accessor
	// Locks serializes like writes per (portfolio, user) across controllers.
	Locks   *KeyedMutex
	Log     *zap.Logger
	Metrics *metrics.Metrics
}

// View is the rendered state of an open portfolio.
type View struct {
	Portfolio *model.Portfolio `json:"portfolio"`
	Like      model.LikeState  `json:"like"`
	Comments  []model.Comment  `json:"comments"`
	Viewed    bool             `json:"viewed"`
}

// Controller owns the state of one open portfolio for one viewer. Comments
// are fetched once on Load and reconciled locally after each write.
type Controller struct {
	id   string
	deps Deps
	log  *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	portfolio *model.Portfolio
	comments  []model.Comment
	like      model.LikeState
	confirmed model.LikeState
	likeSeq   uint64
	viewed    bool
	closed    bool
	unsubAuth func()
	changed   chan struct{}

	// lastToggle closes when the latest toggle's store call is done.
	lastToggle chan struct{}
}

func New(portfolioID string, deps Deps) *Controller {
	if deps.Locks == nil {
		deps.Locks = NewKeyedMutex()
	}
	log := deps.Log
	if log == nil {
		log = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Controller{
		id:      portfolioID,
		deps:    deps,
		log:     log.Named("interaction").With(zap.String("portfolio_id", portfolioID)),
		ctx:     ctx,
		cancel:  cancel,
		changed: make(chan struct{}, 1),
	}
}

// Changed signals when the like state moves on its own schedule: a toggle
// going pending or a re-check after sign-in landing. Signals coalesce; read
// View for the current state. It closes on Close.
func (c *Controller) Changed() <-chan struct{} {
	return c.changed
}

// Load fetches the portfolio, its comments and the viewer's like status.
func (c *Controller) Load(ctx context.Context) (View, error) {
	p, err := c.deps.Portfolios.GetByID(ctx, c.id)
	if err != nil {
		return View{}, err
	}
	comments, err := c.deps.Comments.ListByPortfolio(ctx, c.id)
	if err != nil {
		return View{}, err
	}

	liked := false
	if u, ok := c.currentUser(); ok {
		if liked, err = c.deps.Likes.Exists(ctx, c.id, u.ID); err != nil {
			return View{}, err
		}
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return View{}, context.Canceled
	}
	c.portfolio = p
	c.comments = comments
	c.confirmed = model.LikeState{Liked: liked, Count: p.Likes, Phase: model.LikeConfirmed}
	c.like = c.confirmed
	if c.unsubAuth == nil && c.deps.Session != nil {
		c.unsubAuth = c.deps.Session.OnAuthStateChange(c.onAuthChange)
	}
	v := c.viewLocked()
	c.mu.Unlock()
	return v, nil
}

func (c *Controller) View() View {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.viewLocked()
}

// RecordView makes one increment attempt per controller. The flag is set
// before the attempt, so a failed write is not retried.
func (c *Controller) RecordView(ctx context.Context) error {
	c.mu.Lock()
	if c.portfolio == nil {
		c.mu.Unlock()
		return model.ErrNotLoaded
	}
	if c.viewed {
		c.mu.Unlock()
		return nil
	}
	c.viewed = true
	c.mu.Unlock()

	current, err := c.deps.Portfolios.GetByID(ctx, c.id)
	if err != nil {
		return err
	}
	views := current.Views + 1
	if err := c.deps.Portfolios.SetViews(ctx, c.id, views); err != nil {
		c.log.Warn("view increment failed", zap.Error(err))
		return err
	}
	c.deps.Metrics.ViewIncremented()

	c.mu.Lock()
	if c.portfolio != nil {
		c.portfolio.Views = views
	}
	c.mu.Unlock()
	return nil
}

// ToggleLike flips the like state immediately and then asks the store for
// the flipped state. The store call runs under the (portfolio, user) lock.
// On success the displayed state becomes the store's answer; on failure it
// rolls back to the last confirmed state.
func (c *Controller) ToggleLike(ctx context.Context) (model.LikeState, error) {
	u, ok := c.currentUser()
	if !ok {
		return c.View().Like, model.ErrUnauthenticated
	}

	c.mu.Lock()
	if c.portfolio == nil {
		c.mu.Unlock()
		return model.LikeState{}, model.ErrNotLoaded
	}
	want := !c.like.Liked
	c.likeSeq++
	seq := c.likeSeq
	count := c.like.Count + 1
	if !want {
		count = max(c.like.Count-1, 0)
	}
	c.like = model.LikeState{Liked: want, Count: count, Phase: model.LikePending}
	c.notifyLocked()
	prev := c.lastToggle
	done := make(chan struct{})
	c.lastToggle = done
	c.mu.Unlock()
	defer close(done)

	res, err := c.setLike(ctx, prev, u.ID, want)

	c.mu.Lock()
	if err == nil {
		c.confirmed = model.LikeState{Liked: res.Liked, Count: res.Likes, Phase: model.LikeConfirmed}
		if c.portfolio != nil {
			c.portfolio.Likes = res.Likes
		}
	}
	if seq == c.likeSeq {
		if err != nil {
			c.like = c.confirmed
			c.like.Phase = model.LikeRolledBack
		} else {
			c.like = c.confirmed
		}
	}
	state := c.like
	c.mu.Unlock()

	if err != nil {
		c.deps.Metrics.LikeToggled(string(model.LikeRolledBack))
		c.log.Warn("like toggle rolled back", zap.String("user_id", u.ID), zap.Error(err))
		return state, err
	}
	c.deps.Metrics.LikeToggled(string(model.LikeConfirmed))
	return state, nil
}

// setLike writes after the previous toggle of this controller so intents
// reach the store in the order they were made.
func (c *Controller) setLike(ctx context.Context, prev <-chan struct{}, userID string, want bool) (model.LikeResult, error) {
	if prev != nil {
		select {
		case <-prev:
		case <-ctx.Done():
			return model.LikeResult{}, ctx.Err()
		}
	}
	unlock := c.deps.Locks.Lock(c.id + "/" + userID)
	defer unlock()
	return c.deps.Likes.Set(ctx, c.id, userID, want)
}

// AddComment stores a comment by the signed-in user and puts it at the top
// of the local thread.
func (c *Controller) AddComment(ctx context.Context, content string) (*model.Comment, error) {
	u, ok := c.currentUser()
	if !ok {
		return nil, model.ErrUnauthenticated
	}
	content, err := cleanContent(content)
	if err != nil {
		return nil, err
	}
	if !c.loaded() {
		return nil, model.ErrNotLoaded
	}

	created, err := c.deps.Comments.Create(ctx, &model.Comment{
		PortfolioID:  c.id,
		Content:      content,
		AuthorID:     u.ID,
		AuthorName:   u.Name(),
		AuthorAvatar: u.AvatarURL,
	})
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.comments = append([]model.Comment{*created}, c.comments...)
	if c.portfolio != nil {
		c.portfolio.CommentsCount++
		created.IsPortfolioAuthor = created.AuthorID == c.portfolio.AuthorID
	}
	c.mu.Unlock()
	return created, nil
}

// EditComment replaces the content of the viewer's own comment.
func (c *Controller) EditComment(ctx context.Context, commentID, content string) (*model.Comment, error) {
	u, ok := c.currentUser()
	if !ok {
		return nil, model.ErrUnauthenticated
	}
	content, err := cleanContent(content)
	if err != nil {
		return nil, err
	}
	if err := c.checkOwner(commentID, u.ID); err != nil {
		return nil, err
	}

	updated, err := c.deps.Comments.Update(ctx, c.id, commentID, u.ID, content)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	for i := range c.comments {
		if c.comments[i].ID == commentID {
			c.comments[i].Content = updated.Content
			c.comments[i].UpdatedAt = updated.UpdatedAt
			if c.comments[i].UpdatedAt == nil {
				now := time.Now().UTC()
				c.comments[i].UpdatedAt = &now
			}
			break
		}
	}
	c.mu.Unlock()
	return updated, nil
}

// DeleteComment removes the viewer's own comment. confirmed must carry the
// user's explicit confirmation.
func (c *Controller) DeleteComment(ctx context.Context, commentID string, confirmed bool) error {
	u, ok := c.currentUser()
	if !ok {
		return model.ErrUnauthenticated
	}
	if !confirmed {
		return model.ErrDeleteNotConfirmed
	}
	if err := c.checkOwner(commentID, u.ID); err != nil {
		return err
	}

	if err := c.deps.Comments.Delete(ctx, c.id, commentID, u.ID); err != nil {
		return err
	}

	c.mu.Lock()
	for i := range c.comments {
		if c.comments[i].ID == commentID {
			c.comments = append(c.comments[:i], c.comments[i+1:]...)
			break
		}
	}
	if c.portfolio != nil && c.portfolio.CommentsCount > 0 {
		c.portfolio.CommentsCount--
	}
	c.mu.Unlock()
	return nil
}

// Close stops auth tracking and cancels background re-checks. Nothing is
// applied to the controller afterwards.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	unsub := c.unsubAuth
	close(c.changed)
	c.mu.Unlock()

	c.cancel()
	if unsub != nil {
		unsub()
	}
}

// onAuthChange re-reads the like status for the new viewer. A toggle still
// in flight for the previous viewer no longer owns the displayed state.
func (c *Controller) onAuthChange(u model.SessionUser, signedIn bool) {
	c.mu.Lock()
	if c.closed || c.portfolio == nil {
		c.mu.Unlock()
		return
	}
	c.likeSeq++
	seq := c.likeSeq
	if !signedIn {
		c.confirmed = model.LikeState{Liked: false, Count: c.confirmed.Count, Phase: model.LikeConfirmed}
		c.like = c.confirmed
		c.notifyLocked()
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	go func() {
		ctx, cancel := context.WithTimeout(c.ctx, 10*time.Second)
		defer cancel()
		liked, err := c.deps.Likes.Exists(ctx, c.id, u.ID)
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				c.log.Warn("like re-check failed", zap.String("user_id", u.ID), zap.Error(err))
			}
			return
		}

		c.mu.Lock()
		defer c.mu.Unlock()
		if c.closed || seq != c.likeSeq {
			return
		}
		c.confirmed = model.LikeState{Liked: liked, Count: c.confirmed.Count, Phase: model.LikeConfirmed}
		c.like = c.confirmed
		c.notifyLocked()
	}()
}

func (c *Controller) notifyLocked() {
	if c.closed {
		return
	}
	select {
	case c.changed <- struct{}{}:
	default:
	}
}

func (c *Controller) currentUser() (model.SessionUser, bool) {
	if c.deps.Session == nil {
		return model.SessionUser{}, false
	}
	return c.deps.Session.CurrentUser()
}

func (c *Controller) loaded() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.portfolio != nil
}

// checkOwner rejects edits of comments the viewer did not write before any
// store round trip.
func (c *Controller) checkOwner(commentID, userID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.portfolio == nil {
		return model.ErrNotLoaded
	}
	for _, cm := range c.comments {
		if cm.ID == commentID {
			if cm.AuthorID != userID {
				return model.ErrNotCommentOwner
			}
			return nil
		}
	}
	return model.ErrCommentNotFound
}

func (c *Controller) viewLocked() View {
	v := View{Like: c.like, Viewed: c.viewed, Comments: make([]model.Comment, len(c.comments))}
	copy(v.Comments, c.comments)
	if c.portfolio != nil {
		p := *c.portfolio
		v.Portfolio = &p
		for i := range v.Comments {
			v.Comments[i].IsPortfolioAuthor = v.Comments[i].AuthorID == p.AuthorID
		}
	}
	return v
}

func cleanContent(content string) (string, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return "", model.ErrContentRequired
	}
	if utf8.RuneCountInString(content) > model.MaxCommentLength {
		return "", model.ErrContentTooLong
	}
	return content, nil
}
