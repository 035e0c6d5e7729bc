package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"chippo_portfolio/internal/handler"
	"chippo_portfolio/internal/httputil"
	"chippo_portfolio/internal/identity"
	"chippo_portfolio/internal/metrics"
	authmw "chippo_portfolio/internal/transport/http/middleware"
)

// RouterConfig holds the dependencies needed to create routes
type RouterConfig struct {
	// AuthHandler is nil when local accounts are disabled.
	AuthHandler        *handler.AuthHandler
	PortfolioHandler   *handler.PortfolioHandler
	InteractionHandler *handler.InteractionHandler
	LiveHandler        *handler.LiveHandler
	Verifier           identity.Verifier
	Metrics            *metrics.Metrics
	Gatherer           prometheus.Gatherer
	Log                *zap.Logger
}

// NewRouter creates and configures a new Chi router with all route groups
func NewRouter(cfg RouterConfig) chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(authmw.RequestLogger(cfg.Log))
	r.Use(middleware.Recoverer)
	r.Use(cfg.Metrics.Middleware)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if cfg.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
	}

	// Public routes - no authentication required
	if cfg.AuthHandler != nil {
		r.Route("/auth", func(r chi.Router) {
			r.Post("/register", cfg.AuthHandler.Register)
			r.Post("/login", cfg.AuthHandler.Login)
		})
	}
	r.Get("/featured", cfg.PortfolioHandler.Featured)

	// The live session authenticates with an auth frame after connecting.
	r.Handle("/live", cfg.LiveHandler)

	// Public portfolio endpoints with optional authentication
	r.Group(func(r chi.Router) {
		r.Use(authmw.OptionalAuthMiddleware(cfg.Verifier))
		r.Get("/portfolios/{id}", cfg.InteractionHandler.Get)
		r.Get("/portfolios/{id}/comments", cfg.InteractionHandler.Comments)
	})

	// Protected routes - require authentication
	r.Group(func(r chi.Router) {
		r.Use(authmw.AuthMiddleware(cfg.Verifier))

		r.Get("/me", cfg.meHandler())
		r.Get("/me/portfolios", cfg.PortfolioHandler.Mine)

		r.Post("/portfolios", cfg.PortfolioHandler.Create)
		r.Put("/portfolios/{id}", cfg.PortfolioHandler.Update)
		r.Delete("/portfolios/{id}", cfg.PortfolioHandler.Delete)

		r.Post("/portfolios/{id}/like", cfg.InteractionHandler.ToggleLike)
		r.Post("/portfolios/{id}/comments", cfg.InteractionHandler.AddComment)
		r.Patch("/portfolios/{id}/comments/{commentID}", cfg.InteractionHandler.EditComment)
		r.Delete("/portfolios/{id}/comments/{commentID}", cfg.InteractionHandler.DeleteComment)
	})

	return r
}

// meHandler answers from the token alone when local accounts are disabled.
func (cfg RouterConfig) meHandler() http.HandlerFunc {
	if cfg.AuthHandler != nil {
		return cfg.AuthHandler.Me
	}
	return func(w http.ResponseWriter, r *http.Request) {
		u, ok := authmw.UserFromContext(r.Context())
		if !ok {
			httputil.WriteUnauthorized(w, "Not authenticated")
			return
		}
		httputil.WriteJSON(w, http.StatusOK, u)
	}
}
