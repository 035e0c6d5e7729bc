package worker

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"chippo_portfolio/internal/blob"
	"chippo_portfolio/internal/model"
	"chippo_portfolio/internal/queue"
)

// =============================================================================
// Mock Implementations
// =============================================================================

type mockStore struct {
	mu         sync.Mutex
	portfolios map[string]*model.Portfolio
	updates    int
}

func newMockStore(ps ...*model.Portfolio) *mockStore {
	m := &mockStore{portfolios: make(map[string]*model.Portfolio)}
	for _, p := range ps {
		m.portfolios[p.ID] = p
	}
	return m
}

func (m *mockStore) GetByID(ctx context.Context, id string) (*model.Portfolio, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.portfolios[id]
	if !ok {
		return nil, model.ErrPortfolioNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *mockStore) Update(ctx context.Context, id string, u model.PortfolioUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.portfolios[id]
	if !ok {
		return model.ErrPortfolioNotFound
	}
	m.updates++
	if u.ThumbnailURL != nil {
		p.ThumbnailURL = *u.ThumbnailURL
	}
	return nil
}

type mockBlobs struct {
	mu       sync.Mutex
	objects  map[string][]byte
	getFails int
}

func newMockBlobs() *mockBlobs {
	return &mockBlobs{objects: make(map[string][]byte)}
}

func (b *mockBlobs) Put(ctx context.Context, key string, data []byte, contentType string) (model.Image, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.objects[key] = data
	return model.Image{Ref: key, URL: "https://cdn.example.com/" + key}, nil
}

func (b *mockBlobs) Get(ctx context.Context, ref string) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.getFails > 0 {
		b.getFails--
		return nil, errors.New("temporary failure")
	}
	data, ok := b.objects[ref]
	if !ok {
		return nil, blob.ErrNotFound
	}
	return data, nil
}

func (b *mockBlobs) Delete(ctx context.Context, ref string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.objects, ref)
	return nil
}

func (b *mockBlobs) has(key string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.objects[key]
	return ok
}

// =============================================================================
// Test Helpers
// =============================================================================

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 80, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func newTestHandler(store PortfolioStore, blobs blob.Store) *Handler {
	h := NewHandler(store, blobs, zap.NewNop())
	h.initialInterval = time.Millisecond
	return h
}

func withCover(id, ref string) *model.Portfolio {
	return &model.Portfolio{
		ID:       id,
		Category: model.CategoryDesign,
		Images:   []model.Image{{Ref: ref, URL: "https://cdn.example.com/" + ref}},
	}
}

// =============================================================================
// Handler Tests
// =============================================================================

func TestHandler_CreatedRendersThumbnail(t *testing.T) {
	// ARRANGE
	blobs := newMockBlobs()
	blobs.objects["portfolios/u1/1_cover.png"] = pngBytes(t, 1200, 800)
	store := newMockStore(withCover("p1", "portfolios/u1/1_cover.png"))
	h := newTestHandler(store, blobs)

	// ACT
	err := h.HandleEvent(context.Background(), queue.PortfolioEvent{Type: queue.EventPortfolioCreated, PortfolioID: "p1"})

	// ASSERT
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	key := blob.ThumbnailKey("p1")
	if !blobs.has(key) {
		t.Fatalf("thumbnail %s not stored", key)
	}
	p, _ := store.GetByID(context.Background(), "p1")
	if p.ThumbnailURL != "https://cdn.example.com/"+key {
		t.Errorf("thumbnail_url = %q", p.ThumbnailURL)
	}

	thumb, _ := blobs.Get(context.Background(), key)
	cfg, _, err := image.DecodeConfig(bytes.NewReader(thumb))
	if err != nil {
		t.Fatalf("decode thumbnail: %v", err)
	}
	if cfg.Width != model.ThumbnailWidth || cfg.Height != model.ThumbnailHeight {
		t.Errorf("thumbnail is %dx%d", cfg.Width, cfg.Height)
	}
}

func TestHandler_ExistingThumbnailIsKept(t *testing.T) {
	blobs := newMockBlobs()
	p := withCover("p1", "portfolios/u1/1_cover.png")
	p.ThumbnailURL = "https://cdn.example.com/thumbnails/p1.jpg"
	store := newMockStore(p)
	h := newTestHandler(store, blobs)

	err := h.HandleEvent(context.Background(), queue.PortfolioEvent{Type: queue.EventPortfolioUpdated, PortfolioID: "p1"})

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if store.updates != 0 {
		t.Errorf("store updated %d times, want 0", store.updates)
	}
}

func TestHandler_RetriesTransientReads(t *testing.T) {
	blobs := newMockBlobs()
	blobs.objects["portfolios/u1/1_cover.png"] = pngBytes(t, 64, 64)
	blobs.getFails = 2
	store := newMockStore(withCover("p1", "portfolios/u1/1_cover.png"))
	h := newTestHandler(store, blobs)

	err := h.HandleEvent(context.Background(), queue.PortfolioEvent{Type: queue.EventPortfolioCreated, PortfolioID: "p1"})

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !blobs.has(blob.ThumbnailKey("p1")) {
		t.Error("thumbnail should be stored after retries")
	}
}

func TestHandler_MissingCoverIsSkipped(t *testing.T) {
	store := newMockStore(withCover("p1", "portfolios/u1/gone.png"))
	h := newTestHandler(store, newMockBlobs())

	err := h.HandleEvent(context.Background(), queue.PortfolioEvent{Type: queue.EventPortfolioCreated, PortfolioID: "p1"})

	if err != nil {
		t.Errorf("missing cover should not fail the event: %v", err)
	}
}

func TestHandler_DeletedPortfolioIsSkipped(t *testing.T) {
	h := newTestHandler(newMockStore(), newMockBlobs())

	err := h.HandleEvent(context.Background(), queue.PortfolioEvent{Type: queue.EventPortfolioCreated, PortfolioID: "gone"})

	if err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestHandler_DeleteRemovesImagesAndThumbnail(t *testing.T) {
	blobs := newMockBlobs()
	blobs.objects["portfolios/u1/a.png"] = []byte("a")
	blobs.objects["portfolios/u1/b.png"] = []byte("b")
	blobs.objects[blob.ThumbnailKey("p1")] = []byte("t")
	blobs.objects["portfolios/u1/other.png"] = []byte("o")
	h := newTestHandler(newMockStore(), blobs)

	err := h.HandleEvent(context.Background(), queue.PortfolioEvent{
		Type:        queue.EventPortfolioDeleted,
		PortfolioID: "p1",
		ImageRefs:   []string{"portfolios/u1/a.png", "portfolios/u1/b.png"},
	})

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, key := range []string{"portfolios/u1/a.png", "portfolios/u1/b.png", blob.ThumbnailKey("p1")} {
		if blobs.has(key) {
			t.Errorf("%s should be deleted", key)
		}
	}
	if !blobs.has("portfolios/u1/other.png") {
		t.Error("unrelated blob was deleted")
	}
}

func TestHandler_EventTypes(t *testing.T) {
	h := newTestHandler(newMockStore(), newMockBlobs())

	tests := []struct {
		typ     string
		wantErr bool
	}{
		{queue.EventPortfolioViewed, false},
		{queue.EventLikeChanged, false},
		{queue.EventCommentChanged, false},
		{"post_created", true},
	}
	for _, tt := range tests {
		t.Run(tt.typ, func(t *testing.T) {
			err := h.HandleEvent(context.Background(), queue.PortfolioEvent{Type: tt.typ, PortfolioID: "p1"})
			if (err != nil) != tt.wantErr {
				t.Errorf("err = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

// =============================================================================
// Manager Tests
// =============================================================================

type mockConsumer struct {
	mu      sync.Mutex
	pending []queue.Message
	fresh   []queue.Message
	acked   []string
	groups  int
}

func (c *mockConsumer) EnsureGroup(ctx context.Context, stream, group string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.groups++
	return nil
}

func (c *mockConsumer) Read(ctx context.Context, stream, group, consumer string, count int64, block time.Duration) ([]queue.Message, error) {
	c.mu.Lock()
	msgs := c.fresh
	c.fresh = nil
	c.mu.Unlock()
	if len(msgs) == 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(10 * time.Millisecond):
		}
	}
	return msgs, nil
}

func (c *mockConsumer) ReadPending(ctx context.Context, stream, group, consumer string, count int64) ([]queue.Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	msgs := c.pending
	c.pending = nil
	return msgs, nil
}

func (c *mockConsumer) Ack(ctx context.Context, stream, group string, ids ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.acked = append(c.acked, ids...)
	return nil
}

func (c *mockConsumer) ackedCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.acked)
}

func TestManager_ProcessesPendingThenNew(t *testing.T) {
	// ARRANGE
	blobs := newMockBlobs()
	blobs.objects["old.png"] = []byte("x")
	blobs.objects["new.png"] = []byte("y")
	consumer := &mockConsumer{
		pending: []queue.Message{{ID: "1-0", Event: queue.PortfolioEvent{Type: queue.EventPortfolioDeleted, PortfolioID: "a", ImageRefs: []string{"old.png"}}}},
		fresh: []queue.Message{
			{ID: "2-0", Event: queue.PortfolioEvent{Type: queue.EventPortfolioDeleted, PortfolioID: "b", ImageRefs: []string{"new.png"}}},
			{ID: "3-0", Event: queue.PortfolioEvent{Type: "bogus"}},
		},
	}
	m := NewManager(consumer, newTestHandler(newMockStore(), blobs), ManagerConfig{WorkerCount: 1}, zap.NewNop())

	// ACT
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for consumer.ackedCount() < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	m.Stop()

	// ASSERT: failed events are acked too
	if got := consumer.ackedCount(); got != 3 {
		t.Errorf("acked %d messages, want 3", got)
	}
	if blobs.has("old.png") || blobs.has("new.png") {
		t.Error("blobs should be deleted")
	}
	if consumer.groups != 1 {
		t.Errorf("EnsureGroup called %d times", consumer.groups)
	}
}

// =============================================================================
// Integration Tests
// =============================================================================

func setupTestRedis(t *testing.T) *redis.Client {
	redisURL := os.Getenv("TEST_REDIS_URL")
	if redisURL == "" {
		redisURL = "redis://localhost:6379"
	}

	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		t.Fatalf("Failed to parse Redis URL: %v", err)
	}

	// Use DB 1 for testing to avoid conflicts with dev data
	opts.DB = 1

	client := redis.NewClient(opts)
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("Redis not available, skipping test: %v", err)
	}
	client.FlushDB(ctx)
	return client
}

func cleanupTestRedis(client *redis.Client) {
	client.FlushDB(context.Background())
	client.Close()
}

// TestStreamDeleteCleansBlobs publishes a delete event through Redis and
// waits for the worker group to remove the blobs.
func TestStreamDeleteCleansBlobs(t *testing.T) {
	client := setupTestRedis(t)
	defer cleanupTestRedis(client)

	ctx := context.Background()
	blobs := newMockBlobs()
	blobs.objects["portfolios/u1/a.png"] = []byte("a")

	publisher := queue.NewPublisher(client, 1000, zap.NewNop())
	consumer := queue.NewConsumer(client, zap.NewNop())
	m := NewManager(consumer, newTestHandler(newMockStore(), blobs), ManagerConfig{WorkerCount: 2, BlockTimeout: 100 * time.Millisecond}, zap.NewNop())
	if err := m.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer m.Stop()

	p := &model.Portfolio{ID: "p1", Images: []model.Image{{Ref: "portfolios/u1/a.png"}}}
	if _, err := publisher.Publish(ctx, queue.StreamPortfolios, queue.NewPortfolioDeletedEvent(p)); err != nil {
		t.Fatalf("publish: %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for blobs.has("portfolios/u1/a.png") && time.Now().Before(deadline) {
		time.Sleep(20 * time.Millisecond)
	}
	if blobs.has("portfolios/u1/a.png") {
		t.Error("blob should be deleted by the worker")
	}
}
