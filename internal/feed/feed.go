// Package feed keeps a live, category-filtered, creation-ordered view of
// portfolios for one viewer.
package feed

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"chippo_portfolio/internal/identity"
	"chippo_portfolio/internal/metrics"
	"chippo_portfolio/internal/model"
)

// ErrClosed is returned by operations on a closed Synchronizer.
var ErrClosed = errors.New("feed closed")

// Subscriber opens live portfolio queries.
type Subscriber interface {
	Subscribe(ctx context.Context, q model.FeedQuery) (<-chan model.Snapshot, error)
}

// Preloader settles a batch of image loads.
type Preloader interface {
	Wait(ctx context.Context, urls []string) error
}

// State is what the presentation layer renders.
type State struct {
	Filter     model.Category     `json:"filter"`
	Search     string             `json:"search"`
	Portfolios []model.Portfolio  `json:"portfolios"`
	Total      int                `json:"total"`
	Ready      bool               `json:"ready"`
	Failed     bool               `json:"failed"`
	Viewer     *model.SessionUser `json:"viewer,omitempty"`
}

// Options tunes a Synchronizer. Zero values are usable.
type Options struct {
	// MinDisplay is the least time the loading state stays visible after a
	// subscription starts.
	MinDisplay time.Duration
	Log        *zap.Logger
	Metrics    *metrics.Metrics
}

// Synchronizer owns one live subscription at a time. Every snapshot fully
// replaces the working set once its images have settled.
type Synchronizer struct {
	repo    Subscriber
	gate    Preloader
	session identity.Accessor
	opts    Options
	log     *zap.Logger

	root       context.Context
	rootCancel context.CancelFunc
	unsubAuth  func()

	// switchMu serializes filter switches end to end.
	switchMu sync.Mutex

	mu       sync.Mutex
	gen      uint64
	cancel   context.CancelFunc
	done     chan struct{}
	filter   model.Category
	search   string
	working  []model.Portfolio
	ready    bool
	failed   bool
	closed   bool
	watchers map[int]chan State
	nextID   int
}

func New(repo Subscriber, gate Preloader, session identity.Accessor, opts Options) *Synchronizer {
	log := opts.Log
	if log == nil {
		log = zap.NewNop()
	}
	root, cancel := context.WithCancel(context.Background())
	s := &Synchronizer{
		repo:       repo,
		gate:       gate,
		session:    session,
		opts:       opts,
		log:        log.Named("feed"),
		root:       root,
		rootCancel: cancel,
		filter:     model.CategoryAll,
		watchers:   make(map[int]chan State),
	}
	if session != nil {
		s.unsubAuth = session.OnAuthStateChange(func(model.SessionUser, bool) {
			s.mu.Lock()
			s.publishLocked()
			s.mu.Unlock()
		})
	}
	return s
}

// SetCategory tears down the current subscription, waits for it to stop,
// then subscribes to filter. Snapshots from the old subscription are never
// applied once this has been called.
func (s *Synchronizer) SetCategory(filter model.Category) error {
	s.switchMu.Lock()
	defer s.switchMu.Unlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.gen++
	gen := s.gen
	prevCancel, prevDone := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.filter = filter
	s.working = nil
	s.ready = false
	s.failed = false
	s.publishLocked()
	s.mu.Unlock()

	if prevCancel != nil {
		prevCancel()
		<-prevDone
	}

	ctx, cancel := context.WithCancel(s.root)
	started := time.Now()
	snapshots, err := s.repo.Subscribe(ctx, model.QueryFor(filter))
	if err != nil {
		cancel()
		s.log.Warn("subscribe failed", zap.String("filter", string(filter)), zap.Error(err))
		s.fail(gen)
		return err
	}

	done := make(chan struct{})
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		cancel()
		return ErrClosed
	}
	s.cancel, s.done = cancel, done
	s.mu.Unlock()

	go s.run(ctx, gen, filter, snapshots, started, done)
	return nil
}

// SetSearch changes the in-memory text filter. It never re-queries.
func (s *Synchronizer) SetSearch(term string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.search = term
	s.publishLocked()
}

func (s *Synchronizer) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stateLocked()
}

// Watch delivers the latest State after every change. Slow readers only
// ever see the newest state. Call cancel to stop watching.
func (s *Synchronizer) Watch() (<-chan State, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch := make(chan State, 1)
	if s.closed {
		close(ch)
		return ch, func() {}
	}
	id := s.nextID
	s.nextID++
	s.watchers[id] = ch
	ch <- s.stateLocked()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if w, ok := s.watchers[id]; ok {
				delete(s.watchers, id)
				close(w)
			}
		})
	}
}

// Close cancels the subscription and any preload in flight, and closes
// every watcher.
func (s *Synchronizer) Close() {
	s.switchMu.Lock()
	defer s.switchMu.Unlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.gen++
	done := s.done
	for id, w := range s.watchers {
		delete(s.watchers, id)
		close(w)
	}
	s.mu.Unlock()

	if s.unsubAuth != nil {
		s.unsubAuth()
	}
	s.rootCancel()
	if done != nil {
		<-done
	}
}

func (s *Synchronizer) run(ctx context.Context, gen uint64, filter model.Category, snapshots <-chan model.Snapshot, started time.Time, done chan struct{}) {
	defer close(done)
	first := true
	// URLs already preloaded by this subscription; a new filter starts empty.
	settled := make(map[string]struct{})
	for {
		var snap model.Snapshot
		var ok bool
		select {
		case <-ctx.Done():
			return
		case snap, ok = <-snapshots:
			if !ok {
				return
			}
		}

		if snap.Err != nil {
			s.log.Warn("subscription failed", zap.String("filter", string(filter)), zap.Error(snap.Err))
			s.fail(gen)
			return
		}

		list := Normalize(model.QueryFor(filter), snap.Portfolios)
		if fresh := unsettled(PreloadURLs(list), settled); len(fresh) > 0 {
			if err := s.gate.Wait(ctx, fresh); err != nil {
				return
			}
			for _, u := range fresh {
				settled[u] = struct{}{}
			}
		}

		if first {
			first = false
			if wait := s.opts.MinDisplay - time.Since(started); wait > 0 {
				t := time.NewTimer(wait)
				select {
				case <-t.C:
				case <-ctx.Done():
					t.Stop()
					return
				}
			}
		}

		if !s.apply(gen, list) {
			s.opts.Metrics.SnapshotStale()
			return
		}
		s.opts.Metrics.SnapshotApplied()
	}
}

// apply swaps in a new working set if gen is still current.
func (s *Synchronizer) apply(gen uint64, list []model.Portfolio) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen || s.closed {
		return false
	}
	s.working = list
	s.ready = true
	s.failed = false
	s.publishLocked()
	return true
}

// fail degrades to an empty, error-flagged list.
func (s *Synchronizer) fail(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen || s.closed {
		return
	}
	s.working = nil
	s.ready = true
	s.failed = true
	s.publishLocked()
}

func (s *Synchronizer) stateLocked() State {
	st := State{
		Filter:     s.filter,
		Search:     s.search,
		Portfolios: Search(s.working, s.search),
		Total:      len(s.working),
		Ready:      s.ready,
		Failed:     s.failed,
	}
	if s.session != nil {
		if u, ok := s.session.CurrentUser(); ok {
			st.Viewer = &u
		}
	}
	return st
}

func (s *Synchronizer) publishLocked() {
	if len(s.watchers) == 0 {
		return
	}
	st := s.stateLocked()
	for _, w := range s.watchers {
		select {
		case <-w:
		default:
		}
		w <- st
	}
}

// Normalize de-duplicates by ID, converts timestamps to UTC and orders by
// creation time, newest first. Results the backend already ordered are left
// as delivered; anything else is sorted here, so every filter converges on
// the same order.
func Normalize(q model.FeedQuery, in []model.Portfolio) []model.Portfolio {
	seen := make(map[string]struct{}, len(in))
	out := make([]model.Portfolio, 0, len(in))
	for _, p := range in {
		if _, dup := seen[p.ID]; dup {
			continue
		}
		seen[p.ID] = struct{}{}
		p.CreatedAt = p.CreatedAt.UTC()
		p.UpdatedAt = p.UpdatedAt.UTC()
		out = append(out, p)
	}

	newestFirst := func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) }
	if !q.OrderByCreated || !sort.SliceIsSorted(out, newestFirst) {
		sort.SliceStable(out, newestFirst)
	}
	return out
}

// PreloadURLs lists the card images of every portfolio.
func PreloadURLs(list []model.Portfolio) []string {
	var urls []string
	for _, p := range list {
		urls = append(urls, p.PreloadURLs()...)
	}
	return urls
}

// unsettled drops URLs present in settled and repeats within urls.
func unsettled(urls []string, settled map[string]struct{}) []string {
	var out []string
	seen := make(map[string]struct{}, len(urls))
	for _, u := range urls {
		if _, ok := settled[u]; ok {
			continue
		}
		if _, ok := seen[u]; ok {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	return out
}

// Search keeps portfolios whose title or author name contains term,
// ignoring case. A blank term keeps everything.
func Search(list []model.Portfolio, term string) []model.Portfolio {
	term = strings.ToLower(strings.TrimSpace(term))
	if term == "" {
		return append([]model.Portfolio{}, list...)
	}
	out := []model.Portfolio{}
	for _, p := range list {
		if strings.Contains(strings.ToLower(p.Title), term) ||
			strings.Contains(strings.ToLower(p.AuthorName), term) {
			out = append(out, p)
		}
	}
	return out
}
