package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/agora-forum/agora/internal/auth"
	"github.com/agora-forum/agora/internal/authority"
	"github.com/agora-forum/agora/internal/discipline"
	"github.com/agora-forum/agora/internal/forum"
	"github.com/agora-forum/agora/internal/observability"
	"github.com/agora-forum/agora/internal/platform/httpx"
	"github.com/agora-forum/agora/internal/shared"
	"github.com/agora-forum/agora/internal/users"
	"github.com/agora-forum/agora/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger            *slog.Logger
	Config            *Config
	SessionManager    *shared.SessionManager
	CSRFManager       *shared.CSRFManager
	AuthHandler       *auth.Handler
	UsersHandler      *users.Handler
	DisciplineHandler *discipline.Handler
	ForumHandler      *forum.Handler
	JobHandler        *jobs.Handler
	UserMiddleware    users.Middleware
	Metrics           *observability.Metrics
}

// NewRouter constructs the chi.Router with application defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:         params.Logger,
		Config:         params.Config,
		SessionManager: params.SessionManager,
		CSRFManager:    params.CSRFManager,
		Metrics:        params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)
	r.Use(params.UserMiddleware.LoadUser)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	// JSON clients fetch their CSRF token here before state-changing calls.
	r.Get("/csrf", func(w http.ResponseWriter, r *http.Request) {
		sess := shared.SessionFromContext(r.Context())
		token, err := params.CSRFManager.EnsureToken(r.Context(), sess)
		if err != nil {
			params.Logger.Error("issue csrf token", slog.Any("error", err))
			httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
			return
		}
		httpx.JSON(w, http.StatusOK, map[string]string{"csrf_token": token})
	})

	r.Route("/auth", params.AuthHandler.MountRoutes)

	params.UsersHandler.MountPublicRoutes(r)
	params.ForumHandler.MountPublicRoutes(r)

	r.Group(func(r chi.Router) {
		r.Use(params.UserMiddleware.RequireAuthenticated)
		params.UsersHandler.MountAccountRoutes(r)
		params.ForumHandler.MountAuthenticatedRoutes(r)
	})

	r.Group(func(r chi.Router) {
		r.Use(params.UserMiddleware.RequireRank(authority.RoleModerator))
		params.ForumHandler.MountModerationRoutes(r)
		params.DisciplineHandler.MountRoutes(r)
	})

	r.Group(func(r chi.Router) {
		r.Use(params.UserMiddleware.RequireRank(authority.RoleAdministrator))
		params.UsersHandler.MountRankRoutes(r)
		if params.JobHandler != nil {
			r.Route("/jobs", params.JobHandler.MountRoutes)
		}
	})

	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	return r
}
