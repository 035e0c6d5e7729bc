package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"chippo_portfolio/internal/httputil"
	"chippo_portfolio/internal/identity"
	"chippo_portfolio/internal/interaction"
	"chippo_portfolio/internal/model"
	"chippo_portfolio/internal/transport/http/middleware"
)

// InteractionHandler serves the detail page over REST. Every request is its
// own view session backed by a short-lived controller.
type InteractionHandler struct {
	deps interaction.Deps
	log  *zap.Logger
}

// NewInteractionHandler takes the shared controller dependencies; the
// session is filled in per request.
func NewInteractionHandler(deps interaction.Deps, log *zap.Logger) *InteractionHandler {
	return &InteractionHandler{deps: deps, log: log.Named("interaction_handler")}
}

// Get returns the portfolio with its comments and like state, counting one view.
// GET /portfolios/{id}
func (h *InteractionHandler) Get(w http.ResponseWriter, r *http.Request) {
	c, ok := h.open(w, r)
	if !ok {
		return
	}
	defer c.Close()

	if err := c.RecordView(r.Context()); err != nil {
		h.log.Warn("record view failed", zap.String("portfolio_id", chi.URLParam(r, "id")), zap.Error(err))
	}
	httputil.WriteJSON(w, http.StatusOK, c.View())
}

// Comments lists comments newest first.
// GET /portfolios/{id}/comments
func (h *InteractionHandler) Comments(w http.ResponseWriter, r *http.Request) {
	c, ok := h.open(w, r)
	if !ok {
		return
	}
	defer c.Close()

	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{"comments": c.View().Comments})
}

// ToggleLike flips the caller's like.
// POST /portfolios/{id}/like
func (h *InteractionHandler) ToggleLike(w http.ResponseWriter, r *http.Request) {
	c, ok := h.open(w, r)
	if !ok {
		return
	}
	defer c.Close()

	state, err := c.ToggleLike(r.Context())
	if err != nil {
		h.fail(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, state)
}

// AddComment posts a comment as the caller.
// POST /portfolios/{id}/comments
func (h *InteractionHandler) AddComment(w http.ResponseWriter, r *http.Request) {
	var req model.CreateCommentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteBadRequest(w, "Invalid request body")
		return
	}
	c, ok := h.open(w, r)
	if !ok {
		return
	}
	defer c.Close()

	created, err := c.AddComment(r.Context(), req.Content)
	if err != nil {
		h.fail(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, created)
}

// EditComment changes the caller's own comment.
// PATCH /portfolios/{id}/comments/{commentID}
func (h *InteractionHandler) EditComment(w http.ResponseWriter, r *http.Request) {
	var req model.UpdateCommentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteBadRequest(w, "Invalid request body")
		return
	}
	c, ok := h.open(w, r)
	if !ok {
		return
	}
	defer c.Close()

	updated, err := c.EditComment(r.Context(), chi.URLParam(r, "commentID"), req.Content)
	if err != nil {
		h.fail(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, updated)
}

// DeleteComment removes the caller's own comment; ?confirm=true is required.
// DELETE /portfolios/{id}/comments/{commentID}
func (h *InteractionHandler) DeleteComment(w http.ResponseWriter, r *http.Request) {
	c, ok := h.open(w, r)
	if !ok {
		return
	}
	defer c.Close()

	confirmed := r.URL.Query().Get("confirm") == "true"
	if err := c.DeleteComment(r.Context(), chi.URLParam(r, "commentID"), confirmed); err != nil {
		h.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// open builds a controller for the request's viewer and loads the portfolio.
func (h *InteractionHandler) open(w http.ResponseWriter, r *http.Request) (*interaction.Controller, bool) {
	session := identity.NewSession(nil)
	if u, ok := middleware.UserFromContext(r.Context()); ok {
		session.SignInAs(u)
	}
	deps := h.deps
	deps.Session = session

	c := interaction.New(chi.URLParam(r, "id"), deps)
	if _, err := c.Load(r.Context()); err != nil {
		c.Close()
		h.fail(w, err)
		return nil, false
	}
	return c, true
}

func (h *InteractionHandler) fail(w http.ResponseWriter, err error) {
	if model.Kind(err) == model.KindRemote {
		h.log.Error("request failed", zap.Error(err))
	}
	httputil.WriteDomainError(w, err)
}
