package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"go.uber.org/zap"

	"chippo_portfolio/internal/model"
	"chippo_portfolio/internal/queue"
)

// ErrSubscriptionLost is delivered when the change stream stops before the
// subscriber cancelled.
var ErrSubscriptionLost = errors.New("portfolio change stream closed")

const portfolioColumns = `id, title, description, category, tags, thumbnail_url,
	author_id, author_name, author_avatar, views, likes, comments_count, created_at, updated_at`

type portfolioRow struct {
	ID            string         `db:"id"`
	Title         string         `db:"title"`
	Description   string         `db:"description"`
	Category      string         `db:"category"`
	Tags          pq.StringArray `db:"tags"`
	ThumbnailURL  string         `db:"thumbnail_url"`
	AuthorID      string         `db:"author_id"`
	AuthorName    string         `db:"author_name"`
	AuthorAvatar  string         `db:"author_avatar"`
	Views         int            `db:"views"`
	Likes         int            `db:"likes"`
	CommentsCount int            `db:"comments_count"`
	CreatedAt     time.Time      `db:"created_at"`
	UpdatedAt     time.Time      `db:"updated_at"`
}

func (row portfolioRow) toModel() model.Portfolio {
	return model.Portfolio{
		ID:            row.ID,
		Title:         row.Title,
		Description:   row.Description,
		Category:      model.Category(row.Category),
		Tags:          []string(row.Tags),
		ThumbnailURL:  row.ThumbnailURL,
		AuthorID:      row.AuthorID,
		AuthorName:    row.AuthorName,
		AuthorAvatar:  row.AuthorAvatar,
		Views:         row.Views,
		Likes:         row.Likes,
		CommentsCount: row.CommentsCount,
		CreatedAt:     row.CreatedAt,
		UpdatedAt:     row.UpdatedAt,
	}
}

type imageRow struct {
	PortfolioID string `db:"portfolio_id"`
	Position    int    `db:"position"`
	Ref         string `db:"ref"`
	URL         string `db:"url"`
}

type portfolioRepository struct {
	db   *sqlx.DB
	tail queue.Tailer
	notifier
}

// NewPortfolioRepository returns the Postgres store. Live queries follow the
// portfolio event stream through tail, and every mutation is published to events.
func NewPortfolioRepository(db *sqlx.DB, events queue.Publisher, tail queue.Tailer, log *zap.Logger) PortfolioRepository {
	return &portfolioRepository{
		db:       db,
		tail:     tail,
		notifier: notifier{events: events, log: log.Named("portfolio_repo")},
	}
}

// Subscribe tails the event stream first, then runs the initial query, so a
// change committed in between still triggers a refresh.
func (r *portfolioRepository) Subscribe(ctx context.Context, q model.FeedQuery) (<-chan model.Snapshot, error) {
	if r.tail == nil {
		return nil, errors.New("live queries need an event stream")
	}
	events, err := r.tail.Tail(ctx, queue.StreamPortfolios)
	if err != nil {
		return nil, fmt.Errorf("tail portfolio stream: %w", err)
	}

	out := make(chan model.Snapshot, 1)
	go func() {
		defer close(out)
		if !r.emit(ctx, out, q) {
			return
		}
		for {
			select {
			case <-ctx.Done():
				return
			case e, ok := <-events:
				if !ok {
					if ctx.Err() == nil {
						select {
						case out <- model.Snapshot{Err: ErrSubscriptionLost}:
						case <-ctx.Done():
						}
					}
					return
				}
				if !e.Affects(q) {
					continue
				}
				if !r.emit(ctx, out, q) {
					return
				}
			}
		}
	}()
	return out, nil
}

// emit runs q and sends the result. It reports false when the subscription
// should end.
func (r *portfolioRepository) emit(ctx context.Context, out chan<- model.Snapshot, q model.FeedQuery) bool {
	list, err := r.query(ctx, q)
	if ctx.Err() != nil {
		return false
	}
	snap := model.Snapshot{Portfolios: list}
	if err != nil {
		snap = model.Snapshot{Err: err}
	}
	select {
	case out <- snap:
	case <-ctx.Done():
		return false
	}
	return err == nil
}

// query mirrors the live query shape: the "all" feed is ordered by the
// database, a category feed is filtered only.
func (r *portfolioRepository) query(ctx context.Context, q model.FeedQuery) ([]model.Portfolio, error) {
	query := `SELECT ` + portfolioColumns + ` FROM portfolios`
	var args []interface{}
	if q.Category != model.CategoryAll && q.Category != "" {
		query += ` WHERE category = $1`
		args = append(args, string(q.Category))
	}
	if q.OrderByCreated {
		query += ` ORDER BY created_at DESC, id DESC`
	}
	return r.selectPortfolios(ctx, query, args...)
}

func (r *portfolioRepository) selectPortfolios(ctx context.Context, query string, args ...interface{}) ([]model.Portfolio, error) {
	var rows []portfolioRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("select portfolios: %w", err)
	}

	portfolios := make([]model.Portfolio, len(rows))
	ids := make([]string, len(rows))
	for i, row := range rows {
		portfolios[i] = row.toModel()
		ids[i] = row.ID
	}

	images, err := r.getImages(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range portfolios {
		portfolios[i].Images = images[portfolios[i].ID]
	}
	return portfolios, nil
}

func (r *portfolioRepository) GetByID(ctx context.Context, id string) (*model.Portfolio, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, model.ErrPortfolioNotFound
	}

	var row portfolioRow
	err := r.db.GetContext(ctx, &row, `SELECT `+portfolioColumns+` FROM portfolios WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrPortfolioNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get portfolio: %w", err)
	}

	images, err := r.getImages(ctx, []string{id})
	if err != nil {
		return nil, err
	}
	p := row.toModel()
	p.Images = images[id]
	return &p, nil
}

// Create inserts the portfolio and its images in a transaction.
func (r *portfolioRepository) Create(ctx context.Context, p *model.Portfolio) (string, error) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.Tags == nil {
		p.Tags = []string{}
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	err = tx.QueryRowxContext(ctx, `
		INSERT INTO portfolios (id, title, description, category, tags, thumbnail_url,
			author_id, author_name, author_avatar, views, likes, comments_count)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 0, 0, 0)
		RETURNING created_at, updated_at
	`, p.ID, p.Title, p.Description, string(p.Category), pq.Array(p.Tags), p.ThumbnailURL,
		p.AuthorID, p.AuthorName, p.AuthorAvatar,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return "", fmt.Errorf("insert portfolio: %w", err)
	}

	if err := insertImages(ctx, tx, p.ID, p.Images); err != nil {
		return "", err
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit transaction: %w", err)
	}
	p.Views, p.Likes, p.CommentsCount = 0, 0, 0

	r.notify(ctx, queue.NewPortfolioCreatedEvent(p))
	return p.ID, nil
}

func (r *portfolioRepository) Update(ctx context.Context, id string, u model.PortfolioUpdate) error {
	if _, err := uuid.Parse(id); err != nil {
		return model.ErrPortfolioNotFound
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	var row portfolioRow
	err = tx.GetContext(ctx, &row, `SELECT `+portfolioColumns+` FROM portfolios WHERE id = $1 FOR UPDATE`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return model.ErrPortfolioNotFound
	}
	if err != nil {
		return fmt.Errorf("lock portfolio: %w", err)
	}

	var sets []string
	var args []interface{}
	set := func(column string, v interface{}) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	if u.Title != nil {
		set("title", *u.Title)
	}
	if u.Description != nil {
		set("description", *u.Description)
	}
	if u.Category != nil {
		set("category", string(*u.Category))
	}
	if u.Tags != nil {
		set("tags", pq.Array(u.Tags))
	}
	if u.ThumbnailURL != nil {
		set("thumbnail_url", *u.ThumbnailURL)
	}
	if u.Edits() {
		sets = append(sets, "updated_at = NOW()")
	}

	if len(sets) > 0 {
		args = append(args, id)
		query := fmt.Sprintf(`UPDATE portfolios SET %s WHERE id = $%d`, strings.Join(sets, ", "), len(args))
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("update portfolio: %w", err)
		}
	}

	var removed []string
	if u.Images != nil {
		var old []imageRow
		if err := tx.SelectContext(ctx, &old, `SELECT portfolio_id, position, ref, url FROM portfolio_images WHERE portfolio_id = $1`, id); err != nil {
			return fmt.Errorf("get images: %w", err)
		}
		keep := make(map[string]struct{}, len(u.Images))
		for _, img := range u.Images {
			keep[img.Ref] = struct{}{}
		}
		for _, img := range old {
			if _, ok := keep[img.Ref]; !ok {
				removed = append(removed, img.Ref)
			}
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM portfolio_images WHERE portfolio_id = $1`, id); err != nil {
			return fmt.Errorf("clear images: %w", err)
		}
		if err := insertImages(ctx, tx, id, u.Images); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	current := row.toModel()
	if u.Category != nil {
		current.Category = *u.Category
	}
	r.notify(ctx, queue.NewPortfolioUpdatedEvent(&current, model.Category(row.Category), removed))
	return nil
}

// Delete removes the portfolio. Images, likes and comments go with it via
// ON DELETE CASCADE.
func (r *portfolioRepository) Delete(ctx context.Context, id string) error {
	p, err := r.GetByID(ctx, id)
	if err != nil {
		return err
	}

	result, err := r.db.ExecContext(ctx, `DELETE FROM portfolios WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete portfolio: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		return model.ErrPortfolioNotFound
	}

	r.notify(ctx, queue.NewPortfolioDeletedEvent(p))
	return nil
}

func (r *portfolioRepository) ListByAuthor(ctx context.Context, authorID string) ([]model.Portfolio, error) {
	return r.selectPortfolios(ctx, `
		SELECT `+portfolioColumns+` FROM portfolios
		WHERE author_id = $1
		ORDER BY created_at DESC, id DESC
	`, authorID)
}

func (r *portfolioRepository) ListRecent(ctx context.Context, limit int) ([]model.Portfolio, error) {
	return r.selectPortfolios(ctx, `
		SELECT `+portfolioColumns+` FROM portfolios p
		WHERE EXISTS (SELECT 1 FROM portfolio_images i WHERE i.portfolio_id = p.id)
		ORDER BY created_at DESC, id DESC
		LIMIT $1
	`, limit)
}

// SetViews overwrites the view counter. It does not touch updated_at.
func (r *portfolioRepository) SetViews(ctx context.Context, id string, views int) error {
	if _, err := uuid.Parse(id); err != nil {
		return model.ErrPortfolioNotFound
	}

	var category string
	err := r.db.GetContext(ctx, &category, `UPDATE portfolios SET views = $1 WHERE id = $2 RETURNING category`, views, id)
	if errors.Is(err, sql.ErrNoRows) {
		return model.ErrPortfolioNotFound
	}
	if err != nil {
		return fmt.Errorf("set views: %w", err)
	}

	r.notify(ctx, queue.NewCounterEvent(queue.EventPortfolioViewed, id, model.Category(category)))
	return nil
}

func insertImages(ctx context.Context, tx *sqlx.Tx, portfolioID string, images []model.Image) error {
	for i, img := range images {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO portfolio_images (portfolio_id, position, ref, url)
			VALUES ($1, $2, $3, $4)
		`, portfolioID, i, img.Ref, img.URL)
		if err != nil {
			return fmt.Errorf("insert image %d: %w", i, err)
		}
	}
	return nil
}

// getImages fetches images for many portfolios in one query, grouped by
// portfolio and ordered by position.
func (r *portfolioRepository) getImages(ctx context.Context, ids []string) (map[string][]model.Image, error) {
	result := make(map[string][]model.Image)
	if len(ids) == 0 {
		return result, nil
	}

	var rows []imageRow
	err := r.db.SelectContext(ctx, &rows, `
		SELECT portfolio_id, position, ref, url
		FROM portfolio_images
		WHERE portfolio_id = ANY($1)
		ORDER BY portfolio_id, position
	`, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("get portfolio images: %w", err)
	}

	for _, row := range rows {
		result[row.PortfolioID] = append(result[row.PortfolioID], model.Image{Ref: row.Ref, URL: row.URL})
	}
	return result, nil
}

// lockPortfolio takes a row lock on the portfolio and returns its category.
func lockPortfolio(ctx context.Context, tx *sqlx.Tx, id string) (model.Category, error) {
	if _, err := uuid.Parse(id); err != nil {
		return "", model.ErrPortfolioNotFound
	}
	var category string
	err := tx.GetContext(ctx, &category, `SELECT category FROM portfolios WHERE id = $1 FOR UPDATE`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", model.ErrPortfolioNotFound
	}
	if err != nil {
		return "", fmt.Errorf("lock portfolio: %w", err)
	}
	return model.Category(category), nil
}
