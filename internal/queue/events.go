package queue

import (
	"encoding/json"
	"fmt"
	"time"

	"chippo_portfolio/internal/model"
)

// Event types for the portfolio stream
const (
	EventPortfolioCreated = "portfolio_created"
	EventPortfolioUpdated = "portfolio_updated"
	EventPortfolioDeleted = "portfolio_deleted"
	EventPortfolioViewed  = "portfolio_viewed"
	EventLikeChanged      = "like_changed"
	EventCommentChanged   = "comment_changed"
)

// Stream names
const (
	StreamPortfolios = "stream:portfolios"
)

// Consumer group for the media worker
const (
	ConsumerGroupMedia = "media_workers"
)

// PortfolioEvent is published after every committed portfolio mutation.
// Live subscriptions use it to decide whether to re-query; the media worker
// uses it for thumbnails and blob cleanup.
type PortfolioEvent struct {
	Type        string `json:"type"`
	Timestamp   int64  `json:"timestamp"`
	PortfolioID string `json:"portfolio_id"`
	AuthorID    string `json:"author_id,omitempty"`

	// Category after the change, and before it when an edit moved the portfolio.
	Category     model.Category `json:"category,omitempty"`
	PrevCategory model.Category `json:"prev_category,omitempty"`

	// ImageRefs lists blob references: the images to thumbnail on create,
	// the images to remove on delete or edit.
	ImageRefs []string `json:"image_refs,omitempty"`
}

func newEvent(typ string, p *model.Portfolio) PortfolioEvent {
	return PortfolioEvent{
		Type:        typ,
		Timestamp:   time.Now().Unix(),
		PortfolioID: p.ID,
		AuthorID:    p.AuthorID,
		Category:    p.Category,
	}
}

// NewPortfolioCreatedEvent asks the worker to render a thumbnail of the cover.
func NewPortfolioCreatedEvent(p *model.Portfolio) PortfolioEvent {
	e := newEvent(EventPortfolioCreated, p)
	e.ImageRefs = p.ImageRefs()
	return e
}

// NewPortfolioUpdatedEvent carries the previous category and the refs of
// images the edit dropped.
func NewPortfolioUpdatedEvent(p *model.Portfolio, prev model.Category, removed []string) PortfolioEvent {
	e := newEvent(EventPortfolioUpdated, p)
	if prev != p.Category {
		e.PrevCategory = prev
	}
	e.ImageRefs = removed
	return e
}

// NewPortfolioDeletedEvent asks the worker to remove every stored image.
func NewPortfolioDeletedEvent(p *model.Portfolio) PortfolioEvent {
	e := newEvent(EventPortfolioDeleted, p)
	e.ImageRefs = p.ImageRefs()
	return e
}

// NewCounterEvent reports a change to views, likes or comments.
func NewCounterEvent(typ, portfolioID string, category model.Category) PortfolioEvent {
	return PortfolioEvent{
		Type:        typ,
		Timestamp:   time.Now().Unix(),
		PortfolioID: portfolioID,
		Category:    category,
	}
}

// Affects reports whether the event can change the result of q.
func (e PortfolioEvent) Affects(q model.FeedQuery) bool {
	if e.Category == "" {
		return true
	}
	return q.Matches(e.Category) || (e.PrevCategory != "" && q.Matches(e.PrevCategory))
}

// ToMap converts the event to a map for Redis XADD.
func (e PortfolioEvent) ToMap() (map[string]interface{}, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("marshal event: %w", err)
	}
	return map[string]interface{}{
		"type": e.Type,
		"data": string(data),
	}, nil
}

// ParsePortfolioEvent parses an event from Redis stream message values.
func ParsePortfolioEvent(values map[string]interface{}) (PortfolioEvent, error) {
	data, ok := values["data"].(string)
	if !ok {
		return PortfolioEvent{}, fmt.Errorf("missing or invalid 'data' field")
	}

	var event PortfolioEvent
	if err := json.Unmarshal([]byte(data), &event); err != nil {
		return PortfolioEvent{}, fmt.Errorf("unmarshal event: %w", err)
	}
	return event, nil
}
