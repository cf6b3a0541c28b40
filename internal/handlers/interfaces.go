package handlers

import (
	"context"
	"io"
	"net/http"

	"github.com/vidshare/backend/internal/auth"
	"github.com/vidshare/backend/internal/authz"
	"github.com/vidshare/backend/internal/models"
	"github.com/vidshare/backend/internal/videos"
)

// AuthService captures the account operations behind the auth endpoints.
type AuthService interface {
	Signup(ctx context.Context, email, password string) (auth.SignupResult, error)
	Signin(ctx context.Context, email, password string) (models.TokenPair, error)
	Refresh(ctx context.Context, presented, subjectID string) (models.TokenPair, error)
	Signout(ctx context.Context, accountID string) error
	Account(ctx context.Context, id string) (models.Account, error)
	Accounts(ctx context.Context) ([]models.Account, error)
}

// VideoService captures ingestion and retrieval of uploaded videos.
type VideoService interface {
	Ingest(ctx context.Context, upload videos.Upload) (models.Video, error)
	Get(ctx context.Context, id string) (models.Video, error)
	List(ctx context.Context, ownerID string) ([]models.Video, error)
	Download(ctx context.Context, id string) (models.Video, io.ReadCloser, error)
	MaxUploadBytes() int64
}

// Authorizer wraps handlers with a route policy check.
type Authorizer interface {
	Require(policy authz.Policy, deny authz.DenyFunc) func(http.Handler) http.Handler
}

// HealthChecker reports whether a dependency is reachable.
type HealthChecker interface {
	Ping(ctx context.Context) error
}
