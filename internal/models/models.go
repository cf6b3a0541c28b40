package models

import "time"

// Role is the privilege level granted to an account.
type Role string

const (
	RoleStandard Role = "standard"
	RoleAdmin    Role = "admin"
)

// Account represents an identity within the vidshare platform. PasswordHash
// never leaves the service layer.
type Account struct {
	ID           string
	Email        string
	PasswordHash string
	Role         Role
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// RefreshCredential is the single live refresh token held for an account.
type RefreshCredential struct {
	AccountID string
	Token     string
	ExpiresAt time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Video describes an uploaded asset. The bytes live in the blob store under
// StorageKey; OwnerID is the only link back to the uploading account.
type Video struct {
	ID            string
	OwnerID       string
	Title         string
	ContentType   string
	Extension     string
	SizeBytes     int64
	StorageKey    string
	DownloadCount int64
	CreatedAt     time.Time
}

// TokenPair groups the bearer credentials issued to authenticated accounts.
type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}
