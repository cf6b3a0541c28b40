package repositories

import (
	"context"
	"errors"
	"fmt"

	"github.com/vidshare/backend/internal/db"
	"github.com/vidshare/backend/internal/models"
)

// PostgresAccountRepository provides PostgreSQL-backed persistence for accounts.
type PostgresAccountRepository struct {
	q db.Querier
}

// NewPostgresAccountRepository constructs an account repository backed by PostgreSQL.
func NewPostgresAccountRepository(q db.Querier) *PostgresAccountRepository {
	return &PostgresAccountRepository{q: q}
}

// Create persists a new account record.
func (r *PostgresAccountRepository) Create(ctx context.Context, account models.Account) error {
	role := account.Role
	if role == "" {
		role = models.RoleStandard
	}

	_, err := r.q.Exec(ctx, `
        INSERT INTO accounts (id, email, password_hash, role, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6)
    `, account.ID, account.Email, account.PasswordHash, string(role), account.CreatedAt, account.UpdatedAt)
	if err != nil {
		if errors.Is(translate(err), ErrConflict) {
			return ErrConflict
		}
		return fmt.Errorf("insert account: %w", err)
	}

	return nil
}

// FindByEmail fetches an account by its email address.
func (r *PostgresAccountRepository) FindByEmail(ctx context.Context, email string) (models.Account, error) {
	row := r.q.QueryRow(ctx, `
        SELECT id, email, password_hash, role, created_at, updated_at
        FROM accounts
        WHERE email = $1
    `, email)
	return scanAccount(row, "select account by email")
}

// FindByID fetches an account by its identifier.
func (r *PostgresAccountRepository) FindByID(ctx context.Context, id string) (models.Account, error) {
	row := r.q.QueryRow(ctx, `
        SELECT id, email, password_hash, role, created_at, updated_at
        FROM accounts
        WHERE id = $1
    `, id)
	return scanAccount(row, "select account by id")
}

// List returns every account ordered by creation time.
func (r *PostgresAccountRepository) List(ctx context.Context) ([]models.Account, error) {
	rows, err := r.q.Query(ctx, `
        SELECT id, email, password_hash, role, created_at, updated_at
        FROM accounts
        ORDER BY created_at ASC
    `)
	if err != nil {
		return nil, fmt.Errorf("query accounts: %w", err)
	}
	defer rows.Close()

	var accounts []models.Account
	for rows.Next() {
		account, err := scanAccount(rows, "scan account")
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, account)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate accounts: %w", err)
	}

	return accounts, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAccount(row scanner, op string) (models.Account, error) {
	var (
		account models.Account
		role    string
	)
	if err := row.Scan(&account.ID, &account.Email, &account.PasswordHash, &role, &account.CreatedAt, &account.UpdatedAt); err != nil {
		if errors.Is(translate(err), ErrNotFound) {
			return models.Account{}, ErrNotFound
		}
		return models.Account{}, fmt.Errorf("%s: %w", op, err)
	}
	account.Role = models.Role(role)
	account.CreatedAt = account.CreatedAt.UTC()
	account.UpdatedAt = account.UpdatedAt.UTC()
	return account, nil
}

// PostgresCredentialRepository persists refresh credentials to PostgreSQL.
// account_id is the primary key, so an account never holds more than one row.
type PostgresCredentialRepository struct {
	q db.Querier
}

// NewPostgresCredentialRepository constructs a credential store backed by PostgreSQL.
func NewPostgresCredentialRepository(q db.Querier) *PostgresCredentialRepository {
	return &PostgresCredentialRepository{q: q}
}

// Upsert stores or replaces the account's refresh credential.
func (r *PostgresCredentialRepository) Upsert(ctx context.Context, credential models.RefreshCredential) error {
	_, err := r.q.Exec(ctx, `
        INSERT INTO refresh_credentials (account_id, token, expires_at, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $4)
        ON CONFLICT (account_id)
        DO UPDATE SET token = EXCLUDED.token, expires_at = EXCLUDED.expires_at, updated_at = EXCLUDED.updated_at
    `, credential.AccountID, credential.Token, credential.ExpiresAt.UTC(), credential.UpdatedAt.UTC())
	if err != nil {
		switch translated := translate(err); {
		case errors.Is(translated, ErrNotFound), errors.Is(translated, ErrConflict):
			return translated
		}
		return fmt.Errorf("upsert refresh credential: %w", err)
	}

	return nil
}

// FindByToken loads a credential by its current token value.
func (r *PostgresCredentialRepository) FindByToken(ctx context.Context, token string) (models.RefreshCredential, error) {
	row := r.q.QueryRow(ctx, `
        SELECT account_id, token, expires_at, created_at, updated_at
        FROM refresh_credentials
        WHERE token = $1
    `, token)

	var credential models.RefreshCredential
	if err := row.Scan(&credential.AccountID, &credential.Token, &credential.ExpiresAt, &credential.CreatedAt, &credential.UpdatedAt); err != nil {
		if errors.Is(translate(err), ErrNotFound) {
			return models.RefreshCredential{}, ErrNotFound
		}
		return models.RefreshCredential{}, fmt.Errorf("select refresh credential: %w", err)
	}

	credential.ExpiresAt = credential.ExpiresAt.UTC()
	credential.CreatedAt = credential.CreatedAt.UTC()
	credential.UpdatedAt = credential.UpdatedAt.UTC()
	return credential, nil
}

// Rotate replaces previousToken with next.Token. Concurrent rotations of the
// same token race on the WHERE clause and only one of them matches.
func (r *PostgresCredentialRepository) Rotate(ctx context.Context, previousToken string, next models.RefreshCredential) error {
	tag, err := r.q.Exec(ctx, `
        UPDATE refresh_credentials
        SET token = $3, expires_at = $4, updated_at = $5
        WHERE account_id = $1 AND token = $2
    `, next.AccountID, previousToken, next.Token, next.ExpiresAt.UTC(), next.UpdatedAt.UTC())
	if err != nil {
		if errors.Is(translate(err), ErrConflict) {
			return ErrConflict
		}
		return fmt.Errorf("rotate refresh credential: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	return nil
}

// Delete removes the account's refresh credential.
func (r *PostgresCredentialRepository) Delete(ctx context.Context, accountID string) error {
	tag, err := r.q.Exec(ctx, `
        DELETE FROM refresh_credentials
        WHERE account_id = $1
    `, accountID)
	if err != nil {
		return fmt.Errorf("delete refresh credential: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	return nil
}

// PostgresVideoRepository provides PostgreSQL-backed persistence for videos.
type PostgresVideoRepository struct {
	q db.Querier
}

// NewPostgresVideoRepository constructs a video repository backed by PostgreSQL.
func NewPostgresVideoRepository(q db.Querier) *PostgresVideoRepository {
	return &PostgresVideoRepository{q: q}
}

// Create stores a new video record. A missing owner surfaces as ErrNotFound.
func (r *PostgresVideoRepository) Create(ctx context.Context, video models.Video) error {
	_, err := r.q.Exec(ctx, `
        INSERT INTO videos (id, owner_id, title, content_type, extension, size_bytes, storage_key, download_count, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, 0, $8)
    `, video.ID, video.OwnerID, video.Title, video.ContentType, video.Extension, video.SizeBytes, video.StorageKey, video.CreatedAt)
	if err != nil {
		switch translated := translate(err); {
		case errors.Is(translated, ErrNotFound), errors.Is(translated, ErrConflict):
			return translated
		}
		return fmt.Errorf("insert video: %w", err)
	}

	return nil
}

// FindByID fetches a single video.
func (r *PostgresVideoRepository) FindByID(ctx context.Context, id string) (models.Video, error) {
	row := r.q.QueryRow(ctx, `
        SELECT id, owner_id, title, content_type, extension, size_bytes, storage_key, download_count, created_at
        FROM videos
        WHERE id = $1
    `, id)
	return scanVideo(row, "select video")
}

// ListByOwner returns the owner's videos, newest first.
func (r *PostgresVideoRepository) ListByOwner(ctx context.Context, ownerID string) ([]models.Video, error) {
	rows, err := r.q.Query(ctx, `
        SELECT id, owner_id, title, content_type, extension, size_bytes, storage_key, download_count, created_at
        FROM videos
        WHERE owner_id = $1
        ORDER BY created_at DESC
        LIMIT 100
    `, ownerID)
	if err != nil {
		return nil, fmt.Errorf("query videos: %w", err)
	}
	defer rows.Close()

	var videos []models.Video
	for rows.Next() {
		video, err := scanVideo(rows, "scan video")
		if err != nil {
			return nil, err
		}
		videos = append(videos, video)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate videos: %w", err)
	}

	return videos, nil
}

// IncrementDownloads bumps the download counter and returns the new value.
func (r *PostgresVideoRepository) IncrementDownloads(ctx context.Context, id string) (int64, error) {
	var count int64
	err := r.q.QueryRow(ctx, `
        UPDATE videos
        SET download_count = download_count + 1
        WHERE id = $1
        RETURNING download_count
    `, id).Scan(&count)
	if err != nil {
		if errors.Is(translate(err), ErrNotFound) {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("increment video downloads: %w", err)
	}
	return count, nil
}

func scanVideo(row scanner, op string) (models.Video, error) {
	var video models.Video
	if err := row.Scan(&video.ID, &video.OwnerID, &video.Title, &video.ContentType, &video.Extension, &video.SizeBytes, &video.StorageKey, &video.DownloadCount, &video.CreatedAt); err != nil {
		if errors.Is(translate(err), ErrNotFound) {
			return models.Video{}, ErrNotFound
		}
		return models.Video{}, fmt.Errorf("%s: %w", op, err)
	}
	video.CreatedAt = video.CreatedAt.UTC()
	return video, nil
}

var _ AccountRepository = (*PostgresAccountRepository)(nil)
var _ CredentialRepository = (*PostgresCredentialRepository)(nil)
var _ VideoRepository = (*PostgresVideoRepository)(nil)
