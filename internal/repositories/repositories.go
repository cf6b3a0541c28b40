package repositories

import (
	"context"

	"github.com/vidshare/backend/internal/db"
	"github.com/vidshare/backend/internal/models"
)

// AccountRepository defines the data access contract for accounts.
type AccountRepository interface {
	Create(ctx context.Context, account models.Account) error
	FindByEmail(ctx context.Context, email string) (models.Account, error)
	FindByID(ctx context.Context, id string) (models.Account, error)
	List(ctx context.Context) ([]models.Account, error)
}

// CredentialRepository persists the single refresh credential per account.
type CredentialRepository interface {
	// Upsert replaces the account's credential, creating it if absent.
	Upsert(ctx context.Context, credential models.RefreshCredential) error
	FindByToken(ctx context.Context, token string) (models.RefreshCredential, error)
	// Rotate swaps the stored token only while it still equals previousToken.
	Rotate(ctx context.Context, previousToken string, next models.RefreshCredential) error
	Delete(ctx context.Context, accountID string) error
}

// VideoRepository exposes data access for uploaded videos.
type VideoRepository interface {
	Create(ctx context.Context, video models.Video) error
	FindByID(ctx context.Context, id string) (models.Video, error)
	ListByOwner(ctx context.Context, ownerID string) ([]models.Video, error)
	IncrementDownloads(ctx context.Context, id string) (int64, error)
}

// Stores bundles the repositories bound to a single Querier, either the pool
// or an open transaction.
type Stores struct {
	Accounts    AccountRepository
	Credentials CredentialRepository
	Videos      VideoRepository
}

// Bind returns PostgreSQL repositories issuing statements through q.
func Bind(q db.Querier) Stores {
	return Stores{
		Accounts:    NewPostgresAccountRepository(q),
		Credentials: NewPostgresCredentialRepository(q),
		Videos:      NewPostgresVideoRepository(q),
	}
}
