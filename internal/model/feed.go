package model

// FeedQuery describes a live portfolio query. Only the "all" query asks the
// backend for creation-time ordering; category queries carry just the
// equality filter.
type FeedQuery struct {
	Category       Category
	OrderByCreated bool
}

// QueryFor builds the backend query for a feed filter.
func QueryFor(filter Category) FeedQuery {
	if filter == CategoryAll || filter == "" {
		return FeedQuery{Category: CategoryAll, OrderByCreated: true}
	}
	return FeedQuery{Category: filter}
}

// Matches reports whether a portfolio in category c belongs to the query.
func (q FeedQuery) Matches(c Category) bool {
	return q.Category == CategoryAll || q.Category == c
}

// Snapshot is one complete result set delivered by a live subscription.
// A snapshot with Err set carries no portfolios.
type Snapshot struct {
	Portfolios []Portfolio
	Err        error
}
