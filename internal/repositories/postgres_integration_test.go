package repositories

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/cockroachdb/cockroach-go/v2/testserver"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vidshare/backend/internal/db"
	"github.com/vidshare/backend/internal/events"
	"github.com/vidshare/backend/internal/models"
	"github.com/vidshare/backend/internal/txn"
)

var testPool *db.PgxPool

func TestMain(m *testing.M) {
	server, err := testserver.NewTestServer()
	if err != nil {
		fmt.Fprintf(os.Stderr, "start cockroach test server: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, server.PGURL().String())
	if err != nil {
		fmt.Fprintf(os.Stderr, "connect to cockroach test server: %v\n", err)
		server.Stop()
		os.Exit(1)
	}

	if err := applyMigrations(ctx, pool); err != nil {
		fmt.Fprintf(os.Stderr, "apply migrations: %v\n", err)
		pool.Close()
		server.Stop()
		os.Exit(1)
	}

	testPool = db.Wrap(pool)

	code := m.Run()

	pool.Close()
	server.Stop()

	os.Exit(code)
}

func TestPostgresAccountRepository_CreateAndFind(t *testing.T) {
	ctx := context.Background()
	resetDatabase(t)

	repo := NewPostgresAccountRepository(testPool)

	account := models.Account{
		ID:           uuid.NewString(),
		Email:        "alice@example.com",
		PasswordHash: "secret-hash",
		CreatedAt:    time.Now().UTC().Truncate(time.Millisecond),
		UpdatedAt:    time.Now().UTC().Truncate(time.Millisecond),
	}

	if err := repo.Create(ctx, account); err != nil {
		t.Fatalf("create account: %v", err)
	}

	dup := account
	dup.ID = uuid.NewString()
	if err := repo.Create(ctx, dup); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict when creating duplicate email, got %v", err)
	}

	fetched, err := repo.FindByEmail(ctx, account.Email)
	if err != nil {
		t.Fatalf("find by email: %v", err)
	}
	if fetched.ID != account.ID || fetched.PasswordHash != account.PasswordHash || fetched.Role != models.RoleStandard {
		t.Fatalf("unexpected account fetched: %+v", fetched)
	}

	byID, err := repo.FindByID(ctx, account.ID)
	if err != nil {
		t.Fatalf("find by id: %v", err)
	}
	if byID.Email != account.Email {
		t.Fatalf("unexpected account fetched by id: %+v", byID)
	}

	if _, err := repo.FindByEmail(ctx, "missing@example.com"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for missing email, got %v", err)
	}

	all, err := repo.List(ctx)
	if err != nil {
		t.Fatalf("list accounts: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("expected 1 account got %d", len(all))
	}
}

func TestPostgresCredentialRepository_SingleRowPerAccount(t *testing.T) {
	ctx := context.Background()
	resetDatabase(t)

	owner := createTestAccount(t, "owner@example.com")
	repo := NewPostgresCredentialRepository(testPool)

	var last string
	for i := 0; i < 3; i++ {
		last = uuid.NewString()
		err := repo.Upsert(ctx, models.RefreshCredential{
			AccountID: owner.ID,
			Token:     last,
			ExpiresAt: time.Now().UTC().Add(time.Hour),
			UpdatedAt: time.Now().UTC(),
		})
		if err != nil {
			t.Fatalf("upsert %d: %v", i, err)
		}
	}

	if got := countCredentials(t, owner.ID); got != 1 {
		t.Fatalf("expected exactly one credential row got %d", got)
	}

	stored, err := repo.FindByToken(ctx, last)
	if err != nil {
		t.Fatalf("find by token: %v", err)
	}
	if stored.AccountID != owner.ID {
		t.Fatalf("unexpected credential: %+v", stored)
	}

	next := models.RefreshCredential{AccountID: owner.ID, Token: uuid.NewString(), ExpiresAt: time.Now().UTC().Add(time.Hour), UpdatedAt: time.Now().UTC()}
	if err := repo.Rotate(ctx, last, next); err != nil {
		t.Fatalf("rotate: %v", err)
	}
	if err := repo.Rotate(ctx, last, next); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected stale rotation to fail with ErrNotFound got %v", err)
	}
	if _, err := repo.FindByToken(ctx, last); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected rotated token to be gone got %v", err)
	}

	if err := repo.Upsert(ctx, models.RefreshCredential{AccountID: uuid.NewString(), Token: uuid.NewString(), ExpiresAt: time.Now().UTC(), UpdatedAt: time.Now().UTC()}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown account got %v", err)
	}

	if err := repo.Delete(ctx, owner.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := repo.Delete(ctx, owner.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound deleting twice got %v", err)
	}
}

func TestPostgresVideoRepository_CreateListAndCount(t *testing.T) {
	ctx := context.Background()
	resetDatabase(t)

	owner := createTestAccount(t, "uploader@example.com")
	other := createTestAccount(t, "other@example.com")
	repo := NewPostgresVideoRepository(testPool)

	base := time.Now().UTC().Add(-time.Hour)
	older := newTestVideo(owner.ID, base)
	newer := newTestVideo(owner.ID, base.Add(time.Minute))
	foreign := newTestVideo(other.ID, base.Add(2*time.Minute))

	for _, video := range []models.Video{older, newer, foreign} {
		if err := repo.Create(ctx, video); err != nil {
			t.Fatalf("create video %s: %v", video.ID, err)
		}
	}

	if err := repo.Create(ctx, newTestVideo(uuid.NewString(), base)); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for missing owner got %v", err)
	}

	listed, err := repo.ListByOwner(ctx, owner.ID)
	if err != nil {
		t.Fatalf("list by owner: %v", err)
	}
	if len(listed) != 2 || listed[0].ID != newer.ID || listed[1].ID != older.ID {
		t.Fatalf("unexpected listing: %+v", listed)
	}

	fetched, err := repo.FindByID(ctx, older.ID)
	if err != nil {
		t.Fatalf("find video: %v", err)
	}
	if fetched.DownloadCount != 0 {
		t.Fatalf("expected zero downloads got %d", fetched.DownloadCount)
	}

	count, err := repo.IncrementDownloads(ctx, older.ID)
	if err != nil {
		t.Fatalf("increment: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected download count 1 got %d", count)
	}

	if _, err := repo.IncrementDownloads(ctx, uuid.NewString()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound incrementing missing video got %v", err)
	}
}

func TestExecutorRollsBackAgainstDatabase(t *testing.T) {
	ctx := context.Background()
	resetDatabase(t)

	var published []events.Event
	sink := events.SinkFunc(func(_ context.Context, event events.Event) error {
		published = append(published, event)
		return nil
	})
	executor := txn.New(testPool, Bind, sink, txn.Config{})

	stepErr := errors.New("blob store unavailable")
	account := models.Account{ID: uuid.NewString(), Email: "rollback@example.com", PasswordHash: "hash", CreatedAt: time.Now().UTC(), UpdatedAt: time.Now().UTC()}

	err := executor.Run(ctx, func(ctx context.Context, stores Stores, out *txn.Outbox) error {
		if err := stores.Accounts.Create(ctx, account); err != nil {
			return err
		}
		if err := stores.Videos.Create(ctx, newTestVideo(account.ID, time.Now().UTC())); err != nil {
			return err
		}
		out.Emit(events.Event{Type: events.TypeVideoIngested})
		return stepErr
	})
	if err != stepErr {
		t.Fatalf("expected step error unchanged got %v", err)
	}
	if len(published) != 0 {
		t.Fatalf("expected no published events got %+v", published)
	}

	accounts := NewPostgresAccountRepository(testPool)
	if _, err := accounts.FindByEmail(ctx, account.Email); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected account insert to be rolled back got %v", err)
	}

	err = executor.Run(ctx, func(ctx context.Context, stores Stores, out *txn.Outbox) error {
		out.Emit(events.Event{Type: events.TypeAccountCreated, AggregateID: account.ID})
		return stores.Accounts.Create(ctx, account)
	})
	if err != nil {
		t.Fatalf("commit run: %v", err)
	}
	if _, err := accounts.FindByEmail(ctx, account.Email); err != nil {
		t.Fatalf("expected committed account got %v", err)
	}
	if len(published) != 1 || published[0].AggregateID != account.ID {
		t.Fatalf("expected one event after commit got %+v", published)
	}

	if stat := testPool.Stat(); stat.AcquiredConns() != 0 {
		t.Fatalf("expected all connections released, %d still acquired", stat.AcquiredConns())
	}
}

func applyMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	migrationsDir := filepath.Join("..", "..", "migrations")
	entries, err := os.ReadDir(migrationsDir)
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".sql" {
			continue
		}
		contents, err := os.ReadFile(filepath.Join(migrationsDir, entry.Name()))
		if err != nil {
			return fmt.Errorf("read migration %s: %w", entry.Name(), err)
		}

		if _, err := pool.Exec(ctx, string(contents)); err != nil {
			return fmt.Errorf("apply migration %s: %w", entry.Name(), err)
		}
	}

	return nil
}

func resetDatabase(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	conn, err := testPool.Pool.Acquire(ctx)
	if err != nil {
		t.Fatalf("acquire connection: %v", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "TRUNCATE TABLE videos, refresh_credentials, accounts CASCADE"); err != nil {
		t.Fatalf("truncate tables: %v", err)
	}
}

func createTestAccount(t *testing.T, email string) models.Account {
	t.Helper()
	account := models.Account{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: "password-hash",
		Role:         models.RoleStandard,
		CreatedAt:    time.Now().UTC(),
		UpdatedAt:    time.Now().UTC(),
	}
	if err := NewPostgresAccountRepository(testPool).Create(context.Background(), account); err != nil {
		t.Fatalf("create test account: %v", err)
	}
	return account
}

func newTestVideo(ownerID string, createdAt time.Time) models.Video {
	id := uuid.NewString()
	return models.Video{
		ID:          id,
		OwnerID:     ownerID,
		Title:       "clip " + id[:8],
		ContentType: "video/mp4",
		Extension:   ".mp4",
		SizeBytes:   1024,
		StorageKey:  id + ".mp4",
		CreatedAt:   createdAt,
	}
}

func countCredentials(t *testing.T, accountID string) int {
	t.Helper()
	var count int
	if err := testPool.QueryRow(context.Background(), `SELECT count(*) FROM refresh_credentials WHERE account_id = $1`, accountID).Scan(&count); err != nil {
		t.Fatalf("count credentials: %v", err)
	}
	return count
}
