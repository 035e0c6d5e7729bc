package repository

import (
	"context"

	"chippo_portfolio/internal/model"
)

// PortfolioRepository is the portfolio store. Both the Postgres
// implementation here and the Firestore one satisfy it.
type PortfolioRepository interface {
	// Subscribe delivers a full snapshot now and again after every change
	// that can affect the query. The channel closes when ctx is done; a
	// snapshot carrying Err is the last one sent.
	Subscribe(ctx context.Context, q model.FeedQuery) (<-chan model.Snapshot, error)
	GetByID(ctx context.Context, id string) (*model.Portfolio, error)
	// Create stores p with zeroed counters and returns the new ID.
	Create(ctx context.Context, p *model.Portfolio) (string, error)
	Update(ctx context.Context, id string, u model.PortfolioUpdate) error
	// Delete removes the portfolio with its likes and comments.
	Delete(ctx context.Context, id string) error
	ListByAuthor(ctx context.Context, authorID string) ([]model.Portfolio, error)
	// ListRecent returns up to limit of the newest portfolios that have images.
	ListRecent(ctx context.Context, limit int) ([]model.Portfolio, error)
	SetViews(ctx context.Context, id string, views int) error
}

type LikeRepository interface {
	Exists(ctx context.Context, portfolioID, userID string) (bool, error)
	// Set moves the like record to the wanted state and adjusts the counter
	// in one atomic step. Asking for the current state changes nothing.
	Set(ctx context.Context, portfolioID, userID string, liked bool) (model.LikeResult, error)
}

type CommentRepository interface {
	// ListByPortfolio returns comments newest first.
	ListByPortfolio(ctx context.Context, portfolioID string) ([]model.Comment, error)
	// Create stores the comment and increments the portfolio's comment count.
	Create(ctx context.Context, c *model.Comment) (*model.Comment, error)
	// Update changes the content. Only the author can update.
	Update(ctx context.Context, portfolioID, commentID, authorID, content string) (*model.Comment, error)
	// Delete removes the comment and decrements the count. Only the author can delete.
	Delete(ctx context.Context, portfolioID, commentID, authorID string) error
}

type UserRepository interface {
	Create(ctx context.Context, user *model.User) error
	GetByID(ctx context.Context, id string) (*model.User, error)
	GetByEmail(ctx context.Context, email string) (*model.User, error)
	ExistsByEmail(ctx context.Context, email string) (bool, error)
}
