package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"github.com/vidshare/backend/internal/authz"
	"github.com/vidshare/backend/internal/middleware"
	"github.com/vidshare/backend/internal/models"
)

// Dependencies aggregates collaborators required by HTTP handlers.
type Dependencies struct {
	Auth        AuthService
	Videos      VideoService
	Gate        Authorizer
	Health      HealthChecker
	AuthLimiter middleware.RateLimiter
	Logger      *slog.Logger
	CORSOrigins []string
	// TransferTimeout bounds a single upload or download in place of the
	// server's shorter request timeouts. Zero keeps the server's.
	TransferTimeout time.Duration
}

// Route binds a handler to a method, pattern and authorization policy.
type Route struct {
	Method      string
	Pattern     string
	Policy      authz.Policy
	RateLimited bool
	Handler     http.HandlerFunc
}

// Routes is the full route table. Every route carries an explicit policy.
func Routes(deps Dependencies) []Route {
	health := HealthHandler{DB: deps.Health}
	authH := AuthHandler{Auth: deps.Auth}
	videoH := VideoHandler{Videos: deps.Videos, TransferTimeout: deps.TransferTimeout}

	public := authz.Policy{Public: true}
	protected := authz.Policy{}
	adminOnly := authz.Policy{Roles: []models.Role{models.RoleAdmin}}

	return []Route{
		{Method: http.MethodGet, Pattern: "/healthz", Policy: public, Handler: health.Handle},
		{Method: http.MethodPost, Pattern: "/api/auth/signup", Policy: public, RateLimited: true, Handler: authH.Signup},
		{Method: http.MethodPost, Pattern: "/api/auth/signin", Policy: public, RateLimited: true, Handler: authH.Signin},
		{Method: http.MethodPost, Pattern: "/api/auth/refresh", Policy: authz.Policy{RefreshOnly: true}, RateLimited: true, Handler: authH.Refresh},
		{Method: http.MethodPost, Pattern: "/api/auth/signout", Policy: protected, Handler: authH.Signout},
		{Method: http.MethodGet, Pattern: "/api/accounts/me", Policy: protected, Handler: authH.Me},
		{Method: http.MethodGet, Pattern: "/api/accounts", Policy: adminOnly, Handler: authH.ListAccounts},
		{Method: http.MethodPost, Pattern: "/api/videos", Policy: protected, Handler: videoH.Upload},
		{Method: http.MethodGet, Pattern: "/api/videos", Policy: protected, Handler: videoH.List},
		{Method: http.MethodGet, Pattern: "/api/videos/{id}", Policy: protected, Handler: videoH.Get},
		{Method: http.MethodGet, Pattern: "/api/videos/{id}/download", Policy: protected, Handler: videoH.Download},
	}
}

// NewRouter builds the HTTP handler: request logging, CORS, then per-route
// rate limiting and authorization.
func NewRouter(deps Dependencies) http.Handler {
	if deps.Gate == nil {
		panic("handlers: authorization gate must not be nil")
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestLogger(deps.Logger))
	if len(deps.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: deps.CORSOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Authorization", "Content-Type", middleware.RequestIDHeader},
			ExposedHeaders: []string{middleware.RequestIDHeader, "X-Download-Count"},
			MaxAge:         300,
		}))
	}

	for _, route := range Routes(deps) {
		h := deps.Gate.Require(route.Policy, denyRequest)(route.Handler)
		if route.RateLimited {
			h = middleware.RateLimit(deps.AuthLimiter, "auth")(h)
		}
		r.Method(route.Method, route.Pattern, h)
	}

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		respondJSON(r.Context(), w, http.StatusNotFound, map[string]string{"error": "not found"})
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		respondJSON(r.Context(), w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
	})

	return r
}
