package handler

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"chippo_portfolio/internal/feed"
	"chippo_portfolio/internal/identity"
	"chippo_portfolio/internal/interaction"
	"chippo_portfolio/internal/metrics"
	"chippo_portfolio/internal/model"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	maxFrameSize   = 64 << 10
	outboundBuffer = 32
)

// Client frame types
const (
	frameAuth          = "auth"
	frameSignOut       = "signout"
	frameCategory      = "category"
	frameSearch        = "search"
	frameOpen          = "open"
	frameClose         = "close"
	frameView          = "view"
	frameLike          = "like"
	frameComment       = "comment"
	frameEditComment   = "edit_comment"
	frameDeleteComment = "delete_comment"
)

// Server frame types
const (
	frameFeed    = "feed"
	frameDetail  = "detail"
	frameSession = "session"
	frameError   = "error"
)

type clientFrame struct {
	Type        string `json:"type"`
	Token       string `json:"token,omitempty"`
	Category    string `json:"category,omitempty"`
	Query       string `json:"query,omitempty"`
	PortfolioID string `json:"portfolio_id,omitempty"`
	CommentID   string `json:"comment_id,omitempty"`
	Content     string `json:"content,omitempty"`
	Confirmed   bool   `json:"confirmed,omitempty"`
}

type serverFrame struct {
	Type    string             `json:"type"`
	State   *feed.State        `json:"state,omitempty"`
	Detail  *interaction.View  `json:"detail,omitempty"`
	User    *model.SessionUser `json:"user,omitempty"`
	Code    string             `json:"code,omitempty"`
	Message string             `json:"message,omitempty"`
}

// LiveConfig holds the dependencies of the live session endpoint.
type LiveConfig struct {
	Feeds        feed.Subscriber
	Gate         feed.Preloader
	Verifier     identity.Verifier
	Interactions interaction.Deps
	MinDisplay   time.Duration
	Metrics      *metrics.Metrics
	Log          *zap.Logger
}

// LiveHandler serves GET /live. One websocket connection is one view
// session: its own signed-in state, feed synchronizer and at most one open
// portfolio.
type LiveHandler struct {
	cfg      LiveConfig
	log      *zap.Logger
	upgrader websocket.Upgrader
}

func NewLiveHandler(cfg LiveConfig) *LiveHandler {
	return &LiveHandler{
		cfg: cfg,
		log: cfg.Log.Named("live"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

func (h *LiveHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("upgrade failed", zap.Error(err))
		return
	}
	h.cfg.Metrics.SessionOpened()
	defer h.cfg.Metrics.SessionClosed()

	s := h.newSession(conn)
	s.run()
}

type liveSession struct {
	h       *LiveHandler
	conn    *websocket.Conn
	log     *zap.Logger
	ctx     context.Context
	cancel  context.CancelFunc
	session *identity.Session
	feed    *feed.Synchronizer
	out     chan serverFrame
	wg      sync.WaitGroup

	mu   sync.Mutex
	ctrl *interaction.Controller
}

func (h *LiveHandler) newSession(conn *websocket.Conn) *liveSession {
	ctx, cancel := context.WithCancel(context.Background())
	session := identity.NewSession(h.cfg.Verifier)
	return &liveSession{
		h:       h,
		conn:    conn,
		log:     h.log.With(zap.String("remote", conn.RemoteAddr().String())),
		ctx:     ctx,
		cancel:  cancel,
		session: session,
		feed: feed.New(h.cfg.Feeds, h.cfg.Gate, session, feed.Options{
			MinDisplay: h.cfg.MinDisplay,
			Log:        h.cfg.Log,
			Metrics:    h.cfg.Metrics,
		}),
		out: make(chan serverFrame, outboundBuffer),
	}
}

// run blocks until the client goes away, then tears everything down: the
// open controller, the feed subscription with its preloads, and the writer.
func (s *liveSession) run() {
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		s.writeLoop()
	}()

	updates, stop := s.feed.Watch()
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for st := range updates {
			s.send(serverFrame{Type: frameFeed, State: &st})
		}
	}()

	if err := s.feed.SetCategory(model.CategoryAll); err != nil {
		s.sendError(err)
	}

	s.readLoop()

	s.cancel()
	s.closeController()
	stop()
	s.feed.Close()
	s.wg.Wait()
	<-writerDone
	s.conn.Close()
	s.log.Debug("live session closed")
}

func (s *liveSession) readLoop() {
	s.conn.SetReadLimit(maxFrameSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var f clientFrame
		if err := s.conn.ReadJSON(&f); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.Debug("read failed", zap.Error(err))
			}
			return
		}
		s.handle(f)
	}
}

func (s *liveSession) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			_ = s.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			return
		case f := <-s.out:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteJSON(f); err != nil {
				s.log.Debug("write failed", zap.Error(err))
				s.cancel()
				s.conn.Close()
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.cancel()
				s.conn.Close()
				return
			}
		}
	}
}

func (s *liveSession) handle(f clientFrame) {
	ctx := s.ctx
	switch f.Type {
	case frameAuth:
		u, err := s.session.SignIn(ctx, f.Token)
		if err != nil {
			s.sendError(err)
			return
		}
		s.send(serverFrame{Type: frameSession, User: &u})
	case frameSignOut:
		s.session.SignOut()
		s.send(serverFrame{Type: frameSession})
	case frameCategory:
		c, err := model.ParseFilter(f.Category)
		if err != nil {
			s.sendError(err)
			return
		}
		if err := s.feed.SetCategory(c); err != nil {
			s.sendError(err)
		}
	case frameSearch:
		s.feed.SetSearch(f.Query)
	case frameOpen:
		s.open(f.PortfolioID)
	case frameClose:
		s.closeController()
	case frameView:
		s.withController(func(c *interaction.Controller) error {
			return c.RecordView(ctx)
		})
	case frameLike:
		c := s.controller()
		if c == nil {
			s.sendError(model.ErrNotLoaded)
			return
		}
		// Toggles run off the read loop so the pending state reaches the
		// client before the store answers.
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if _, err := c.ToggleLike(ctx); err != nil {
				s.sendError(err)
			}
			s.sendDetail(c)
		}()
	case frameComment:
		s.withController(func(c *interaction.Controller) error {
			_, err := c.AddComment(ctx, f.Content)
			return err
		})
	case frameEditComment:
		s.withController(func(c *interaction.Controller) error {
			_, err := c.EditComment(ctx, f.CommentID, f.Content)
			return err
		})
	case frameDeleteComment:
		s.withController(func(c *interaction.Controller) error {
			return c.DeleteComment(ctx, f.CommentID, f.Confirmed)
		})
	default:
		s.send(serverFrame{Type: frameError, Code: model.KindValidation.String(), Message: "unknown frame type: " + f.Type})
	}
}

// open replaces the open portfolio, loads it and counts the view.
func (s *liveSession) open(id string) {
	s.closeController()

	deps := s.h.cfg.Interactions
	deps.Session = s.session
	c := interaction.New(id, deps)
	if _, err := c.Load(s.ctx); err != nil {
		c.Close()
		s.sendError(err)
		return
	}

	s.mu.Lock()
	s.ctrl = c
	s.mu.Unlock()

	if err := c.RecordView(s.ctx); err != nil {
		s.log.Warn("record view failed", zap.String("portfolio_id", id), zap.Error(err))
	}
	s.sendDetail(c)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for range c.Changed() {
			s.sendDetail(c)
		}
	}()
}

func (s *liveSession) controller() *interaction.Controller {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ctrl
}

func (s *liveSession) closeController() {
	s.mu.Lock()
	c := s.ctrl
	s.ctrl = nil
	s.mu.Unlock()
	if c != nil {
		c.Close()
	}
}

// withController runs fn on the open portfolio and pushes the new detail.
func (s *liveSession) withController(fn func(c *interaction.Controller) error) {
	c := s.controller()
	if c == nil {
		s.sendError(model.ErrNotLoaded)
		return
	}
	if err := fn(c); err != nil {
		s.sendError(err)
		return
	}
	s.sendDetail(c)
}

func (s *liveSession) sendDetail(c *interaction.Controller) {
	if s.controller() != c {
		return
	}
	v := c.View()
	s.send(serverFrame{Type: frameDetail, Detail: &v})
}

func (s *liveSession) sendError(err error) {
	kind := model.Kind(err)
	msg := err.Error()
	if kind == model.KindRemote {
		s.log.Error("live operation failed", zap.Error(err))
		msg = "Something went wrong, please try again"
	}
	s.send(serverFrame{Type: frameError, Code: kind.String(), Message: msg})
}

func (s *liveSession) send(f serverFrame) {
	select {
	case s.out <- f:
	case <-s.ctx.Done():
	}
}
