package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"chippo_portfolio/internal/httputil"
	"chippo_portfolio/internal/model"
	"chippo_portfolio/internal/service"
	"chippo_portfolio/internal/transport/http/middleware"
)

// AuthHandler groups auth-related HTTP endpoints and their dependencies.
type AuthHandler struct {
	userService *service.UserService
	authService *service.AuthService
	log         *zap.Logger
}

func NewAuthHandler(userService *service.UserService, authService *service.AuthService, log *zap.Logger) *AuthHandler {
	return &AuthHandler{
		userService: userService,
		authService: authService,
		log:         log.Named("auth"),
	}
}

// Register creates a local account and signs it in.
// POST /auth/register
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req model.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteBadRequest(w, "Invalid request body")
		return
	}

	user, err := h.userService.Register(r.Context(), &req)
	if err != nil {
		h.fail(w, "register failed", err)
		return
	}

	resp, err := h.authService.Issue(user)
	if err != nil {
		h.fail(w, "issue token failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, resp)
}

// Login handles user login
// POST /auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req model.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := model.Validate(&req); err != nil {
		httputil.WriteDomainError(w, err)
		return
	}

	user, err := h.userService.Login(r.Context(), &req)
	if err != nil {
		if errors.Is(err, model.ErrInvalidCredentials) {
			httputil.WriteUnauthorized(w, "Invalid email or password")
			return
		}
		h.fail(w, "login failed", err)
		return
	}

	resp, err := h.authService.Issue(user)
	if err != nil {
		h.fail(w, "issue token failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

// Me returns the currently authenticated user. Users signed in through
// Firebase have no local record and get their token identity back.
// GET /me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	session, ok := middleware.UserFromContext(r.Context())
	if !ok {
		httputil.WriteUnauthorized(w, "Not authenticated")
		return
	}
	if h.userService == nil {
		httputil.WriteJSON(w, http.StatusOK, session)
		return
	}

	user, err := h.userService.GetByID(r.Context(), session.ID)
	if errors.Is(err, model.ErrUserNotFound) {
		httputil.WriteJSON(w, http.StatusOK, session)
		return
	}
	if err != nil {
		h.fail(w, "get user failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, user)
}

func (h *AuthHandler) fail(w http.ResponseWriter, msg string, err error) {
	if model.Kind(err) == model.KindRemote {
		h.log.Error(msg, zap.Error(err))
	}
	httputil.WriteDomainError(w, err)
}
