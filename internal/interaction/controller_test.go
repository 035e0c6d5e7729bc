package interaction

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chippo_portfolio/internal/identity"
	"chippo_portfolio/internal/model"
)

// =============================================================================
// Fakes
// =============================================================================

type fakeStore struct {
	mu         sync.Mutex
	portfolios map[string]*model.Portfolio
	likes      map[string]bool
	comments   map[string][]model.Comment
	nextID     int

	setErr      error
	setGate     chan struct{}
	setDelay    time.Duration
	inFlight    int
	maxInFlight int
	setViews    int
}

func newFakeStore(ps ...model.Portfolio) *fakeStore {
	f := &fakeStore{
		portfolios: make(map[string]*model.Portfolio),
		likes:      make(map[string]bool),
		comments:   make(map[string][]model.Comment),
	}
	for i := range ps {
		p := ps[i]
		f.portfolios[p.ID] = &p
	}
	return f
}

func (f *fakeStore) GetByID(_ context.Context, id string) (*model.Portfolio, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.portfolios[id]
	if !ok {
		return nil, model.ErrPortfolioNotFound
	}
	cp := *p
	return &cp, nil
}

func (f *fakeStore) SetViews(_ context.Context, id string, views int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.setViews++
	f.portfolios[id].Views = views
	return nil
}

func (f *fakeStore) Exists(_ context.Context, pid, uid string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.likes[pid+"/"+uid], nil
}

func (f *fakeStore) Set(_ context.Context, pid, uid string, liked bool) (model.LikeResult, error) {
	f.mu.Lock()
	f.inFlight++
	f.maxInFlight = max(f.maxInFlight, f.inFlight)
	gate, delay, setErr := f.setGate, f.setDelay, f.setErr
	f.mu.Unlock()

	if gate != nil {
		<-gate
	}
	time.Sleep(delay)

	f.mu.Lock()
	defer f.mu.Unlock()
	f.inFlight--
	if setErr != nil {
		return model.LikeResult{}, setErr
	}
	key := pid + "/" + uid
	p := f.portfolios[pid]
	if f.likes[key] == liked {
		return model.LikeResult{Liked: liked, Likes: p.Likes}, nil
	}
	if liked {
		f.likes[key] = true
		p.Likes++
	} else {
		delete(f.likes, key)
		p.Likes--
	}
	return model.LikeResult{Liked: liked, Likes: p.Likes, Changed: true}, nil
}

func (f *fakeStore) records(pid string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for k := range f.likes {
		if strings.HasPrefix(k, pid+"/") {
			n++
		}
	}
	return n
}

func (f *fakeStore) ListByPortfolio(_ context.Context, pid string) ([]model.Comment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.Comment(nil), f.comments[pid]...), nil
}

func (f *fakeStore) Create(_ context.Context, c *model.Comment) (*model.Comment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	cp := *c
	cp.ID = fmt.Sprintf("c%d", f.nextID)
	cp.CreatedAt = time.Now().UTC()
	f.comments[c.PortfolioID] = append([]model.Comment{cp}, f.comments[c.PortfolioID]...)
	f.portfolios[c.PortfolioID].CommentsCount++
	return &cp, nil
}

func (f *fakeStore) Update(_ context.Context, pid, cid, authorID, content string) (*model.Comment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, c := range f.comments[pid] {
		if c.ID != cid {
			continue
		}
		if c.AuthorID != authorID {
			return nil, model.ErrNotCommentOwner
		}
		now := time.Now().UTC()
		f.comments[pid][i].Content = content
		f.comments[pid][i].UpdatedAt = &now
		cp := f.comments[pid][i]
		return &cp, nil
	}
	return nil, model.ErrCommentNotFound
}

func (f *fakeStore) Delete(_ context.Context, pid, cid, authorID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, c := range f.comments[pid] {
		if c.ID != cid {
			continue
		}
		if c.AuthorID != authorID {
			return model.ErrNotCommentOwner
		}
		f.comments[pid] = append(f.comments[pid][:i], f.comments[pid][i+1:]...)
		f.portfolios[pid].CommentsCount--
		return nil
	}
	return model.ErrCommentNotFound
}

// =============================================================================
// Helpers
// =============================================================================

var (
	author = model.SessionUser{ID: "author", DisplayName: "Author"}
	userA  = model.SessionUser{ID: "user-a", DisplayName: "A"}
)

func setup(t *testing.T, store *fakeStore, session *identity.Session, locks *KeyedMutex) *Controller {
	t.Helper()
	c := New("p1", Deps{
		Portfolios: store,
		Likes:      store,
		Comments:   store,
		Session:    session,
		Locks:      locks,
	})
	_, err := c.Load(context.Background())
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c
}

func demo() model.Portfolio {
	return model.Portfolio{ID: "p1", Title: "Demo", Category: model.CategoryDesign, AuthorID: author.ID}
}

func signedIn(u model.SessionUser) *identity.Session {
	s := identity.NewSession(nil)
	s.SignInAs(u)
	return s
}

// =============================================================================
// Load / RecordView
// =============================================================================

func TestController_LoadMissingPortfolio(t *testing.T) {
	c := New("missing", Deps{Portfolios: newFakeStore(), Likes: newFakeStore(), Comments: newFakeStore()})
	defer c.Close()

	_, err := c.Load(context.Background())

	assert.ErrorIs(t, err, model.ErrPortfolioNotFound)
}

func TestController_RecordViewBeforeLoad(t *testing.T) {
	store := newFakeStore(demo())
	c := New("p1", Deps{Portfolios: store, Likes: store, Comments: store})
	defer c.Close()

	err := c.RecordView(context.Background())

	assert.ErrorIs(t, err, model.ErrNotLoaded)
	assert.Zero(t, store.setViews)
}

func TestController_RecordViewOncePerSession(t *testing.T) {
	// ARRANGE
	store := newFakeStore(demo())
	c := setup(t, store, identity.NewSession(nil), nil)

	// ACT: repeated renders
	for i := 0; i < 5; i++ {
		require.NoError(t, c.RecordView(context.Background()))
	}

	// ASSERT
	assert.Equal(t, 1, store.setViews)
	p, _ := store.GetByID(context.Background(), "p1")
	assert.Equal(t, 1, p.Views)
	v := c.View()
	assert.True(t, v.Viewed)
	assert.Equal(t, 1, v.Portfolio.Views)
}

func TestController_RecordViewConcurrentRenders(t *testing.T) {
	store := newFakeStore(demo())
	c := setup(t, store, identity.NewSession(nil), nil)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = c.RecordView(context.Background())
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, store.setViews)
}

// =============================================================================
// ToggleLike
// =============================================================================

func TestController_ToggleLikeRequiresSignIn(t *testing.T) {
	store := newFakeStore(demo())
	c := setup(t, store, identity.NewSession(nil), nil)

	state, err := c.ToggleLike(context.Background())

	assert.ErrorIs(t, err, model.ErrUnauthenticated)
	assert.False(t, state.Liked)
	assert.Zero(t, store.records("p1"))
}

func TestController_ToggleLikeCreatesRecord(t *testing.T) {
	// ARRANGE
	store := newFakeStore(demo())
	c := setup(t, store, signedIn(userA), nil)

	// ACT
	state, err := c.ToggleLike(context.Background())

	// ASSERT
	require.NoError(t, err)
	assert.Equal(t, model.LikeState{Liked: true, Count: 1, Phase: model.LikeConfirmed}, state)
	assert.Equal(t, 1, store.records("p1"))
	assert.Equal(t, 1, c.View().Portfolio.Likes)
}

func TestController_ToggleLikeAgainRemovesRecord(t *testing.T) {
	store := newFakeStore(demo())
	c := setup(t, store, signedIn(userA), nil)

	_, err := c.ToggleLike(context.Background())
	require.NoError(t, err)
	state, err := c.ToggleLike(context.Background())

	require.NoError(t, err)
	assert.False(t, state.Liked)
	assert.Zero(t, state.Count)
	assert.Zero(t, store.records("p1"))
}

func TestController_ToggleLikeShowsIntentBeforeStoreAnswers(t *testing.T) {
	// ARRANGE
	store := newFakeStore(demo())
	store.setGate = make(chan struct{})
	c := setup(t, store, signedIn(userA), nil)

	// ACT
	done := make(chan model.LikeState, 1)
	go func() {
		s, _ := c.ToggleLike(context.Background())
		done <- s
	}()

	// ASSERT: pending state is visible while the store call blocks
	assert.Eventually(t, func() bool {
		l := c.View().Like
		return l.Liked && l.Count == 1 && l.Phase == model.LikePending
	}, time.Second, 5*time.Millisecond)

	close(store.setGate)
	final := <-done
	assert.Equal(t, model.LikeConfirmed, final.Phase)
	assert.True(t, final.Liked)
}

func TestController_ToggleLikeRollsBackOnFailure(t *testing.T) {
	// ARRANGE
	p := demo()
	p.Likes = 4
	store := newFakeStore(p)
	store.setErr = errors.New("unavailable")
	c := setup(t, store, signedIn(userA), nil)

	// ACT
	state, err := c.ToggleLike(context.Background())

	// ASSERT
	require.Error(t, err)
	assert.Equal(t, model.LikeState{Liked: false, Count: 4, Phase: model.LikeRolledBack}, state)
	assert.Equal(t, state, c.View().Like)
}

func TestController_DoubleToggleIsNetZero(t *testing.T) {
	p := demo()
	p.Likes = 3
	store := newFakeStore(p)
	c := setup(t, store, signedIn(userA), nil)
	before := c.View().Like

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = c.ToggleLike(context.Background())
		}()
	}
	wg.Wait()

	after := c.View().Like
	assert.Equal(t, before.Liked, after.Liked)
	assert.Equal(t, before.Count, after.Count)
	assert.Zero(t, store.records("p1"))
	got, _ := store.GetByID(context.Background(), "p1")
	assert.Equal(t, 3, got.Likes)
}

func TestController_ConcurrentLikesFromSameUserKeepOneRecord(t *testing.T) {
	// ARRANGE: two open views of the same portfolio by the same user
	store := newFakeStore(demo())
	store.setDelay = 5 * time.Millisecond
	locks := NewKeyedMutex()
	session := signedIn(userA)
	first := setup(t, store, session, locks)
	second := setup(t, store, session, locks)

	// ACT
	var wg sync.WaitGroup
	for _, c := range []*Controller{first, second} {
		wg.Add(1)
		go func(c *Controller) {
			defer wg.Done()
			_, err := c.ToggleLike(context.Background())
			assert.NoError(t, err)
		}(c)
	}
	wg.Wait()

	// ASSERT
	assert.Equal(t, 1, store.records("p1"))
	got, _ := store.GetByID(context.Background(), "p1")
	assert.Equal(t, 1, got.Likes)
	assert.Equal(t, 1, store.maxInFlight)
	assert.Zero(t, locks.size())
}

func TestController_LikeRecheckedOnSignIn(t *testing.T) {
	// ARRANGE
	store := newFakeStore(demo())
	store.likes["p1/"+userA.ID] = true
	session := identity.NewSession(nil)
	c := setup(t, store, session, nil)
	require.False(t, c.View().Like.Liked)

	// ACT
	session.SignInAs(userA)

	// ASSERT
	select {
	case <-c.Changed():
	case <-time.After(time.Second):
		t.Fatal("no change signalled")
	}
	assert.True(t, c.View().Like.Liked)

	session.SignOut()
	assert.False(t, c.View().Like.Liked)
}

// =============================================================================
// Comments
// =============================================================================

func TestController_AddCommentGoesOnTop(t *testing.T) {
	// ARRANGE
	store := newFakeStore(demo())
	store.comments["p1"] = []model.Comment{{ID: "old", PortfolioID: "p1", Content: "first", AuthorID: author.ID}}
	c := setup(t, store, signedIn(userA), nil)

	// ACT
	created, err := c.AddComment(context.Background(), "  Nice work ")

	// ASSERT
	require.NoError(t, err)
	assert.Equal(t, "Nice work", created.Content)
	assert.Equal(t, "A", created.AuthorName)
	assert.False(t, created.IsPortfolioAuthor)

	v := c.View()
	require.Len(t, v.Comments, 2)
	assert.Equal(t, created.ID, v.Comments[0].ID)
	assert.True(t, v.Comments[1].IsPortfolioAuthor)
	assert.Equal(t, 1, v.Portfolio.CommentsCount)
}

func TestController_AddThenDeleteRestoresCount(t *testing.T) {
	p := demo()
	p.CommentsCount = 2
	store := newFakeStore(p)
	c := setup(t, store, signedIn(userA), nil)

	created, err := c.AddComment(context.Background(), "hello")
	require.NoError(t, err)
	require.NoError(t, c.DeleteComment(context.Background(), created.ID, true))

	assert.Equal(t, 2, c.View().Portfolio.CommentsCount)
	got, _ := store.GetByID(context.Background(), "p1")
	assert.Equal(t, 2, got.CommentsCount)
	assert.Empty(t, c.View().Comments)
}

func TestController_CommentValidation(t *testing.T) {
	store := newFakeStore(demo())
	c := setup(t, store, signedIn(userA), nil)

	tests := []struct {
		name    string
		content string
		wantErr error
	}{
		{"blank", "   ", model.ErrContentRequired},
		{"too long", strings.Repeat("가", model.MaxCommentLength+1), model.ErrContentTooLong},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.AddComment(context.Background(), tt.content)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	_, err := c.AddComment(context.Background(), strings.Repeat("가", model.MaxCommentLength))
	assert.NoError(t, err)
}

func TestController_CommentRequiresSignIn(t *testing.T) {
	store := newFakeStore(demo())
	c := setup(t, store, identity.NewSession(nil), nil)

	_, err := c.AddComment(context.Background(), "hi")

	assert.ErrorIs(t, err, model.ErrUnauthenticated)
}

func TestController_EditOwnCommentOnly(t *testing.T) {
	store := newFakeStore(demo())
	store.comments["p1"] = []model.Comment{{ID: "theirs", PortfolioID: "p1", Content: "x", AuthorID: author.ID}}
	c := setup(t, store, signedIn(userA), nil)

	_, err := c.EditComment(context.Background(), "theirs", "changed")
	assert.ErrorIs(t, err, model.ErrNotCommentOwner)

	mine, err := c.AddComment(context.Background(), "draft")
	require.NoError(t, err)
	updated, err := c.EditComment(context.Background(), mine.ID, "final")
	require.NoError(t, err)
	assert.Equal(t, "final", updated.Content)

	v := c.View()
	assert.Equal(t, "final", v.Comments[0].Content)
	assert.True(t, v.Comments[0].Edited())
}

func TestController_DeleteNeedsConfirmation(t *testing.T) {
	store := newFakeStore(demo())
	c := setup(t, store, signedIn(userA), nil)
	created, err := c.AddComment(context.Background(), "hello")
	require.NoError(t, err)

	err = c.DeleteComment(context.Background(), created.ID, false)

	assert.ErrorIs(t, err, model.ErrDeleteNotConfirmed)
	assert.Len(t, c.View().Comments, 1)
}

func TestController_CloseEndsChangeSignal(t *testing.T) {
	store := newFakeStore(demo())
	c := New("p1", Deps{Portfolios: store, Likes: store, Comments: store, Session: identity.NewSession(nil)})
	_, err := c.Load(context.Background())
	require.NoError(t, err)

	c.Close()
	c.Close()

	_, open := <-c.Changed()
	assert.False(t, open)
}
