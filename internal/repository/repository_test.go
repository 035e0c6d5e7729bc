package repository

import (
	"context"
	"os"
	"sync"
	"testing"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"chippo_portfolio/internal/database"
	"chippo_portfolio/internal/model"
	"chippo_portfolio/internal/queue"
)

// =============================================================================
// Integration Test Setup
// =============================================================================

// setupTestDB connects to TEST_DATABASE_URL and applies the migrations.
// Tests skip when no database is reachable.
func setupTestDB(t *testing.T) *sqlx.DB {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set, skipping test")
	}

	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		t.Skipf("Postgres not available, skipping test: %v", err)
	}
	if err := database.Migrate(db, zap.NewNop()); err != nil {
		db.Close()
		t.Fatalf("Failed to migrate: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// recordingPublisher keeps every published event in memory.
type recordingPublisher struct {
	mu     sync.Mutex
	events []queue.PortfolioEvent
}

func (p *recordingPublisher) Publish(ctx context.Context, stream string, event queue.PortfolioEvent) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return "0-1", nil
}

func (p *recordingPublisher) count(typ string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, e := range p.events {
		if e.Type == typ {
			n++
		}
	}
	return n
}

// createTestPortfolio inserts a portfolio and removes it (with its likes and
// comments) when the test ends.
func createTestPortfolio(t *testing.T, db *sqlx.DB) string {
	t.Helper()
	repo := NewPortfolioRepository(db, nil, nil, zap.NewNop())
	id, err := repo.Create(context.Background(), &model.Portfolio{
		Title:       "Demo",
		Description: "integration fixture",
		Category:    model.CategoryDesign,
		Tags:        []string{"react"},
		AuthorID:    "author-1",
		AuthorName:  "Author",
		Images:      []model.Image{{Ref: "portfolios/author-1/a.png", URL: "https://cdn.example.com/a.png"}},
	})
	if err != nil {
		t.Fatalf("Failed to create portfolio: %v", err)
	}
	t.Cleanup(func() {
		db.Exec(`DELETE FROM portfolios WHERE id = $1`, id)
	})
	return id
}

type counters struct {
	Likes         int `db:"likes"`
	CommentsCount int `db:"comments_count"`
}

func readCounters(t *testing.T, db *sqlx.DB, id string) counters {
	t.Helper()
	var c counters
	if err := db.Get(&c, `SELECT likes, comments_count FROM portfolios WHERE id = $1`, id); err != nil {
		t.Fatalf("Failed to read counters: %v", err)
	}
	return c
}

func countRows(t *testing.T, db *sqlx.DB, query string, args ...interface{}) int {
	t.Helper()
	var n int
	if err := db.Get(&n, query, args...); err != nil {
		t.Fatalf("Failed to count rows: %v", err)
	}
	return n
}
