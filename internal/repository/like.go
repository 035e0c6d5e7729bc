package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"chippo_portfolio/internal/model"
	"chippo_portfolio/internal/queue"
)

type likeRepository struct {
	db *sqlx.DB
	notifier
}

func NewLikeRepository(db *sqlx.DB, events queue.Publisher, log *zap.Logger) LikeRepository {
	return &likeRepository{db: db, notifier: notifier{events: events, log: log.Named("like_repo")}}
}

func (r *likeRepository) Exists(ctx context.Context, portfolioID, userID string) (bool, error) {
	if _, err := uuid.Parse(portfolioID); err != nil {
		return false, nil
	}
	var exists bool
	err := r.db.GetContext(ctx, &exists,
		`SELECT EXISTS(SELECT 1 FROM portfolio_likes WHERE portfolio_id = $1 AND user_id = $2)`,
		portfolioID, userID)
	if err != nil {
		return false, fmt.Errorf("check like: %w", err)
	}
	return exists, nil
}

// Set locks the portfolio row, so concurrent toggles on the same portfolio
// serialize and the record and counter always move together.
func (r *likeRepository) Set(ctx context.Context, portfolioID, userID string, liked bool) (model.LikeResult, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return model.LikeResult{}, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	category, err := lockPortfolio(ctx, tx, portfolioID)
	if err != nil {
		return model.LikeResult{}, err
	}

	var exists bool
	err = tx.GetContext(ctx, &exists,
		`SELECT EXISTS(SELECT 1 FROM portfolio_likes WHERE portfolio_id = $1 AND user_id = $2)`,
		portfolioID, userID)
	if err != nil {
		return model.LikeResult{}, fmt.Errorf("check like: %w", err)
	}

	res := model.LikeResult{Liked: liked}
	if exists == liked {
		if err := tx.GetContext(ctx, &res.Likes, `SELECT likes FROM portfolios WHERE id = $1`, portfolioID); err != nil {
			return model.LikeResult{}, fmt.Errorf("get like count: %w", err)
		}
		return res, tx.Commit()
	}

	delta := 1
	if liked {
		_, err = tx.ExecContext(ctx, `INSERT INTO portfolio_likes (portfolio_id, user_id) VALUES ($1, $2)`, portfolioID, userID)
	} else {
		delta = -1
		_, err = tx.ExecContext(ctx, `DELETE FROM portfolio_likes WHERE portfolio_id = $1 AND user_id = $2`, portfolioID, userID)
	}
	if err != nil {
		return model.LikeResult{}, fmt.Errorf("write like: %w", err)
	}

	err = tx.GetContext(ctx, &res.Likes,
		`UPDATE portfolios SET likes = likes + $1 WHERE id = $2 RETURNING likes`, delta, portfolioID)
	if err != nil {
		return model.LikeResult{}, fmt.Errorf("update like count: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return model.LikeResult{}, fmt.Errorf("commit transaction: %w", err)
	}
	res.Changed = true

	r.notify(ctx, queue.NewCounterEvent(queue.EventLikeChanged, portfolioID, category))
	return res, nil
}
