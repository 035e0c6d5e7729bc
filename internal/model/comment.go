package model

import (
	"errors"
	"time"
)

// Comment represents a comment on a portfolio.
type Comment struct {
	ID           string     `db:"id" json:"id"`
	PortfolioID  string     `db:"portfolio_id" json:"portfolio_id"`
	Content      string     `db:"content" json:"content"`
	AuthorID     string     `db:"author_id" json:"author_id"`
	AuthorName   string     `db:"author_name" json:"author_name"`
	AuthorAvatar string     `db:"author_avatar" json:"author_avatar,omitempty"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt    *time.Time `db:"updated_at" json:"updated_at,omitempty"`

	// IsPortfolioAuthor is set for display when the commenter wrote the portfolio.
	IsPortfolioAuthor bool `db:"-" json:"is_portfolio_author"`
}

// Edited reports whether the comment was changed after it was posted.
func (c Comment) Edited() bool {
	return c.UpdatedAt != nil
}

// CreateCommentRequest is the request body for creating a comment.
type CreateCommentRequest struct {
	Content string `json:"content"`
}

// UpdateCommentRequest is the request body for updating a comment.
type UpdateCommentRequest struct {
	Content string `json:"content"`
}

// Comment constraints
const (
	MaxCommentLength = 1000
)

// Comment errors
var (
	ErrCommentNotFound    = errors.New("comment not found")
	ErrNotCommentOwner    = errors.New("not the owner of this comment")
	ErrContentRequired    = errors.New("comment content is required")
	ErrContentTooLong     = errors.New("comment content too long")
	ErrDeleteNotConfirmed = errors.New("deletion was not confirmed")
)
