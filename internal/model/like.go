package model

import "time"

// LikeRecord marks that a user liked a portfolio. At most one exists per
// (portfolio, user) pair.
type LikeRecord struct {
	PortfolioID string    `db:"portfolio_id" json:"portfolio_id"`
	UserID      string    `db:"user_id" json:"user_id"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// LikeResult is the store's answer to a like or unlike: the resulting status,
// the portfolio's counter after the write, and whether anything changed.
type LikeResult struct {
	Liked   bool
	Likes   int
	Changed bool
}

// LikePhase tracks where the displayed like state is relative to the store.
type LikePhase string

const (
	LikeConfirmed  LikePhase = "confirmed"
	LikePending    LikePhase = "pending"
	LikeRolledBack LikePhase = "rolled_back"
)

// LikeState is the viewer's like status and the displayed counter.
type LikeState struct {
	Liked bool      `json:"liked"`
	Count int       `json:"count"`
	Phase LikePhase `json:"phase"`
}
