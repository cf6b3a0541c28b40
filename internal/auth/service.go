package auth

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/vidshare/backend/internal/events"
	"github.com/vidshare/backend/internal/logging"
	"github.com/vidshare/backend/internal/models"
	"github.com/vidshare/backend/internal/repositories"
	"github.com/vidshare/backend/internal/token"
	"github.com/vidshare/backend/internal/txn"
)

var (
	// ErrDuplicateAccount indicates an account already exists for the email.
	ErrDuplicateAccount = errors.New("account already exists")
	// ErrInvalidCredentials is returned for both unknown emails and wrong passwords.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrInvalidRefreshToken covers never-issued, rotated, revoked and expired refresh tokens.
	ErrInvalidRefreshToken = errors.New("invalid refresh token")
	// ErrAccountNotFound indicates the requested account does not exist.
	ErrAccountNotFound = errors.New("account not found")

	// ErrInvalidEmail indicates the signup email does not parse as an address.
	ErrInvalidEmail = errors.New("invalid email address")
	// ErrPasswordTooShort indicates the password is under MinPasswordLength.
	ErrPasswordTooShort = errors.New("password must be at least 8 characters")
	// ErrPasswordMismatch indicates the password confirmation differs.
	ErrPasswordMismatch = errors.New("passwords do not match")
)

// MinPasswordLength is the shortest password Signup accepts.
const MinPasswordLength = 8

// Config controls token lifetimes and hashing cost.
type Config struct {
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	BcryptCost int
	Now        func() time.Time
}

// Service implements signup, signin, refresh and signout.
type Service struct {
	executor *txn.Executor[repositories.Stores]
	stores   repositories.Stores
	codec    *token.Codec

	accessTTL  time.Duration
	refreshTTL time.Duration
	cost       int
	now        func() time.Time
}

// NewService constructs a Service. stores are used for non-transactional
// reads and single-statement writes; executor runs signup.
func NewService(executor *txn.Executor[repositories.Stores], stores repositories.Stores, codec *token.Codec, cfg Config) *Service {
	if executor == nil || codec == nil {
		panic("auth: executor and codec must not be nil")
	}
	if cfg.AccessTTL <= 0 {
		cfg.AccessTTL = 24 * time.Hour
	}
	if cfg.RefreshTTL <= 0 {
		cfg.RefreshTTL = 30 * 24 * time.Hour
	}
	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = bcrypt.DefaultCost
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}
	return &Service{
		executor:   executor,
		stores:     stores,
		codec:      codec,
		accessTTL:  cfg.AccessTTL,
		refreshTTL: cfg.RefreshTTL,
		cost:       cfg.BcryptCost,
		now:        cfg.Now,
	}
}

// SignupResult is returned once the new account has durably committed.
type SignupResult struct {
	AccountID string
	Tokens    models.TokenPair
}

// NormalizeEmail lower-cases and trims an address for storage and lookup.
func NormalizeEmail(email string) string {
	return strings.TrimSpace(strings.ToLower(email))
}

// Signup creates an account and its first refresh credential in one
// transaction. Tokens are only returned after commit.
func (s *Service) Signup(ctx context.Context, email, password string) (SignupResult, error) {
	ctx, span := logging.StartSpan(ctx, "auth.signup")
	defer span.End()

	email = NormalizeEmail(email)
	if _, err := mail.ParseAddress(email); err != nil || email == "" {
		return SignupResult{}, ErrInvalidEmail
	}
	if len(password) < MinPasswordLength {
		return SignupResult{}, ErrPasswordTooShort
	}

	return txn.Do(ctx, s.executor, func(ctx context.Context, stores repositories.Stores, out *txn.Outbox) (SignupResult, error) {
		if _, err := stores.Accounts.FindByEmail(ctx, email); err == nil {
			return SignupResult{}, ErrDuplicateAccount
		} else if !errors.Is(err, repositories.ErrNotFound) {
			return SignupResult{}, fmt.Errorf("check existing account: %w", err)
		}

		hashed, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
		if err != nil {
			return SignupResult{}, fmt.Errorf("hash password: %w", err)
		}

		now := s.now()
		account := models.Account{
			ID:           uuid.NewString(),
			Email:        email,
			PasswordHash: string(hashed),
			Role:         models.RoleStandard,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if err := stores.Accounts.Create(ctx, account); err != nil {
			if errors.Is(err, repositories.ErrConflict) {
				return SignupResult{}, ErrDuplicateAccount
			}
			return SignupResult{}, fmt.Errorf("create account: %w", err)
		}

		tokens, credential, err := s.issue(account.ID, now)
		if err != nil {
			return SignupResult{}, err
		}
		if err := stores.Credentials.Upsert(ctx, credential); err != nil {
			return SignupResult{}, fmt.Errorf("store refresh credential: %w", err)
		}

		out.Emit(events.Event{
			Type:        events.TypeAccountCreated,
			AggregateID: account.ID,
			Attributes:  map[string]string{"email": account.Email},
		})
		return SignupResult{AccountID: account.ID, Tokens: tokens}, nil
	})
}

// Signin verifies the password and replaces the account's refresh credential.
func (s *Service) Signin(ctx context.Context, email, password string) (models.TokenPair, error) {
	ctx, span := logging.StartSpan(ctx, "auth.signin")
	defer span.End()
	logger := logging.FromContext(ctx)

	email = NormalizeEmail(email)
	if email == "" || password == "" {
		return models.TokenPair{}, ErrInvalidCredentials
	}

	account, err := s.stores.Accounts.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			logger.Warn("signin unknown email")
			return models.TokenPair{}, ErrInvalidCredentials
		}
		return models.TokenPair{}, fmt.Errorf("lookup account: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(password)); err != nil {
		logger.Warn("signin password mismatch", "account_id", account.ID)
		return models.TokenPair{}, ErrInvalidCredentials
	}

	tokens, credential, err := s.issue(account.ID, s.now())
	if err != nil {
		return models.TokenPair{}, err
	}
	if err := s.stores.Credentials.Upsert(ctx, credential); err != nil {
		return models.TokenPair{}, fmt.Errorf("store refresh credential: %w", err)
	}

	return tokens, nil
}

// Refresh rotates the refresh credential. The presented token must be the
// one currently stored for subjectID and must not have expired.
func (s *Service) Refresh(ctx context.Context, presented, subjectID string) (models.TokenPair, error) {
	ctx, span := logging.StartSpan(ctx, "auth.refresh")
	defer span.End()
	logger := logging.FromContext(ctx)

	if presented == "" || subjectID == "" {
		return models.TokenPair{}, ErrInvalidRefreshToken
	}

	credential, err := s.stores.Credentials.FindByToken(ctx, presented)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			logger.Warn("refresh token not recognised", "account_id", subjectID)
			return models.TokenPair{}, ErrInvalidRefreshToken
		}
		return models.TokenPair{}, fmt.Errorf("lookup refresh credential: %w", err)
	}

	if credential.AccountID != subjectID {
		logger.Warn("refresh token subject mismatch", "account_id", subjectID)
		return models.TokenPair{}, ErrInvalidRefreshToken
	}

	now := s.now()
	if !now.Before(credential.ExpiresAt) {
		return models.TokenPair{}, ErrInvalidRefreshToken
	}

	tokens, next, err := s.issue(subjectID, now)
	if err != nil {
		return models.TokenPair{}, err
	}
	if err := s.stores.Credentials.Rotate(ctx, presented, next); err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			// Lost a race with a concurrent rotation of the same token.
			return models.TokenPair{}, ErrInvalidRefreshToken
		}
		return models.TokenPair{}, fmt.Errorf("rotate refresh credential: %w", err)
	}

	return tokens, nil
}

// Signout revokes the account's refresh credential. It is idempotent.
func (s *Service) Signout(ctx context.Context, accountID string) error {
	if err := s.stores.Credentials.Delete(ctx, accountID); err != nil && !errors.Is(err, repositories.ErrNotFound) {
		return fmt.Errorf("revoke refresh credential: %w", err)
	}
	return nil
}

// Account returns the account for id.
func (s *Service) Account(ctx context.Context, id string) (models.Account, error) {
	account, err := s.stores.Accounts.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return models.Account{}, ErrAccountNotFound
		}
		return models.Account{}, fmt.Errorf("lookup account: %w", err)
	}
	return account, nil
}

// Accounts lists every account.
func (s *Service) Accounts(ctx context.Context) ([]models.Account, error) {
	accounts, err := s.stores.Accounts.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	return accounts, nil
}

func (s *Service) issue(accountID string, now time.Time) (models.TokenPair, models.RefreshCredential, error) {
	access, err := s.codec.Issue(accountID, token.KindAccess, s.accessTTL)
	if err != nil {
		return models.TokenPair{}, models.RefreshCredential{}, fmt.Errorf("issue access token: %w", err)
	}
	refresh, err := s.codec.Issue(accountID, token.KindRefresh, s.refreshTTL)
	if err != nil {
		return models.TokenPair{}, models.RefreshCredential{}, fmt.Errorf("issue refresh token: %w", err)
	}
	credential := models.RefreshCredential{
		AccountID: accountID,
		Token:     refresh,
		ExpiresAt: now.Add(s.refreshTTL),
		UpdatedAt: now,
	}
	return models.TokenPair{AccessToken: access, RefreshToken: refresh}, credential, nil
}
