package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"chippo_portfolio/internal/model"
	"chippo_portfolio/internal/queue"
)

const commentColumns = `id, portfolio_id, content, author_id, author_name, author_avatar, created_at, updated_at`

type commentRepository struct {
	db *sqlx.DB
	notifier
}

func NewCommentRepository(db *sqlx.DB, events queue.Publisher, log *zap.Logger) CommentRepository {
	return &commentRepository{db: db, notifier: notifier{events: events, log: log.Named("comment_repo")}}
}

func (r *commentRepository) ListByPortfolio(ctx context.Context, portfolioID string) ([]model.Comment, error) {
	if _, err := uuid.Parse(portfolioID); err != nil {
		return nil, model.ErrPortfolioNotFound
	}
	comments := []model.Comment{}
	err := r.db.SelectContext(ctx, &comments, `
		SELECT `+commentColumns+`
		FROM portfolio_comments
		WHERE portfolio_id = $1
		ORDER BY created_at DESC, id DESC
	`, portfolioID)
	if err != nil {
		return nil, fmt.Errorf("get comments: %w", err)
	}
	return comments, nil
}

// Create inserts a comment and bumps the counter in one transaction.
func (r *commentRepository) Create(ctx context.Context, c *model.Comment) (*model.Comment, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	category, err := lockPortfolio(ctx, tx, c.PortfolioID)
	if err != nil {
		return nil, err
	}

	var created model.Comment
	err = tx.GetContext(ctx, &created, `
		INSERT INTO portfolio_comments (id, portfolio_id, content, author_id, author_name, author_avatar)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING `+commentColumns,
		uuid.NewString(), c.PortfolioID, c.Content, c.AuthorID, c.AuthorName, c.AuthorAvatar)
	if err != nil {
		return nil, fmt.Errorf("insert comment: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `UPDATE portfolios SET comments_count = comments_count + 1 WHERE id = $1`, c.PortfolioID); err != nil {
		return nil, fmt.Errorf("update comment count: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}

	r.notify(ctx, queue.NewCounterEvent(queue.EventCommentChanged, c.PortfolioID, category))
	return &created, nil
}

// Update changes a comment's content. Only the owner can update.
func (r *commentRepository) Update(ctx context.Context, portfolioID, commentID, authorID, content string) (*model.Comment, error) {
	if _, err := uuid.Parse(commentID); err != nil {
		return nil, model.ErrCommentNotFound
	}

	var comment model.Comment
	err := r.db.GetContext(ctx, &comment, `
		UPDATE portfolio_comments
		SET content = $1, updated_at = NOW()
		WHERE id = $2 AND portfolio_id = $3 AND author_id = $4
		RETURNING `+commentColumns,
		content, commentID, portfolioID, authorID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, r.missingOrForeign(ctx, portfolioID, commentID)
	}
	if err != nil {
		return nil, fmt.Errorf("update comment: %w", err)
	}
	return &comment, nil
}

// Delete removes a comment and decrements the counter. Only the owner can delete.
func (r *commentRepository) Delete(ctx context.Context, portfolioID, commentID, authorID string) error {
	if _, err := uuid.Parse(commentID); err != nil {
		return model.ErrCommentNotFound
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	category, err := lockPortfolio(ctx, tx, portfolioID)
	if err != nil {
		return err
	}

	var owner string
	err = tx.GetContext(ctx, &owner,
		`SELECT author_id FROM portfolio_comments WHERE id = $1 AND portfolio_id = $2`, commentID, portfolioID)
	if errors.Is(err, sql.ErrNoRows) {
		return model.ErrCommentNotFound
	}
	if err != nil {
		return fmt.Errorf("get comment: %w", err)
	}
	if owner != authorID {
		return model.ErrNotCommentOwner
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM portfolio_comments WHERE id = $1`, commentID); err != nil {
		return fmt.Errorf("delete comment: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE portfolios SET comments_count = comments_count - 1 WHERE id = $1`, portfolioID); err != nil {
		return fmt.Errorf("update comment count: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	r.notify(ctx, queue.NewCounterEvent(queue.EventCommentChanged, portfolioID, category))
	return nil
}

// missingOrForeign tells a missing comment apart from someone else's.
func (r *commentRepository) missingOrForeign(ctx context.Context, portfolioID, commentID string) error {
	var exists bool
	err := r.db.GetContext(ctx, &exists,
		`SELECT EXISTS(SELECT 1 FROM portfolio_comments WHERE id = $1 AND portfolio_id = $2)`, commentID, portfolioID)
	if err != nil {
		return fmt.Errorf("check comment: %w", err)
	}
	if exists {
		return model.ErrNotCommentOwner
	}
	return model.ErrCommentNotFound
}
