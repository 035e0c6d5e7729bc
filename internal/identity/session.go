package identity

import (
	"context"
	"sync"

	"chippo_portfolio/internal/model"
)

// Accessor exposes the current viewer to the feed and interaction layers.
type Accessor interface {
	CurrentUser() (model.SessionUser, bool)
	// OnAuthStateChange registers fn for every sign-in and sign-out and
	// returns a function that removes it.
	OnAuthStateChange(fn func(user model.SessionUser, signedIn bool)) (unsubscribe func())
}

// Session holds the signed-in state of one client connection.
type Session struct {
	verifier Verifier

	mu        sync.RWMutex
	user      model.SessionUser
	signedIn  bool
	nextID    int
	listeners map[int]func(model.SessionUser, bool)
}

func NewSession(verifier Verifier) *Session {
	return &Session{verifier: verifier, listeners: make(map[int]func(model.SessionUser, bool))}
}

func (s *Session) CurrentUser() (model.SessionUser, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.user, s.signedIn
}

func (s *Session) OnAuthStateChange(fn func(model.SessionUser, bool)) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.listeners, id)
			s.mu.Unlock()
		})
	}
}

// SignIn verifies token and makes its owner the current user. On failure the
// previous state is kept.
func (s *Session) SignIn(ctx context.Context, token string) (model.SessionUser, error) {
	u, err := s.verifier.Verify(ctx, token)
	if err != nil {
		return model.SessionUser{}, err
	}
	s.set(u, true)
	return u, nil
}

// SignInAs sets the current user directly, for callers that already verified
// the identity.
func (s *Session) SignInAs(u model.SessionUser) {
	s.set(u, true)
}

func (s *Session) SignOut() {
	s.set(model.SessionUser{}, false)
}

// set updates the state and notifies listeners outside the lock. A repeat
// of the same state notifies nobody.
func (s *Session) set(u model.SessionUser, signedIn bool) {
	s.mu.Lock()
	if s.signedIn == signedIn && s.user == u {
		s.mu.Unlock()
		return
	}
	s.user, s.signedIn = u, signedIn
	fns := make([]func(model.SessionUser, bool), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(u, signedIn)
	}
}
