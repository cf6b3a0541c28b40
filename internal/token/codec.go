package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Kind distinguishes short-lived access tokens from refresh tokens.
type Kind string

const (
	KindAccess  Kind = "access"
	KindRefresh Kind = "refresh"
)

// MinSecretLength is the shortest signing secret NewCodec accepts.
const MinSecretLength = 32

var (
	// ErrSecretTooShort indicates the configured signing secret is unusable.
	ErrSecretTooShort = errors.New("token signing secret too short")
	// ErrExpired is returned for a well-formed, correctly signed token past its expiry.
	ErrExpired = errors.New("token expired")
	// ErrInvalid covers malformed tokens, bad signatures and unknown kinds.
	ErrInvalid = errors.New("token invalid")
)

// Claims is the signed payload: sub, tokenType, iat, exp and a unique jti.
type Claims struct {
	TokenType Kind `json:"tokenType"`
	jwt.RegisteredClaims
}

// Payload is the decoded view of a token handed to callers.
type Payload struct {
	SubjectID string
	Kind      Kind
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Codec issues and decodes HS256 bearer tokens with a single shared secret.
// It is immutable after construction and safe for concurrent use.
type Codec struct {
	secret []byte
	now    func() time.Time
}

// NewCodec constructs a Codec. now may be nil to use the wall clock.
func NewCodec(secret string, now func() time.Time) (*Codec, error) {
	if len(secret) < MinSecretLength {
		return nil, ErrSecretTooShort
	}
	if now == nil {
		now = time.Now
	}
	return &Codec{secret: []byte(secret), now: now}, nil
}

// Issue signs a token of the given kind for subjectID valid for ttl.
func (c *Codec) Issue(subjectID string, kind Kind, ttl time.Duration) (string, error) {
	if subjectID == "" {
		return "", errors.New("token subject must be provided")
	}
	if kind != KindAccess && kind != KindRefresh {
		return "", fmt.Errorf("unknown token kind %q", kind)
	}

	now := c.now()
	claims := Claims{
		TokenType: kind,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subjectID,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Decode verifies signature and expiry. An expired but otherwise valid token
// yields its payload together with ErrExpired.
func (c *Codec) Decode(tokenString string) (Payload, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(tokenString, &claims, c.key,
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(c.now),
		jwt.WithExpirationRequired(),
	)
	if errors.Is(err, jwt.ErrTokenExpired) {
		// expiry must only be reported for a genuinely signed token
		if _, sigErr := jwt.ParseWithClaims(tokenString, &Claims{}, c.key,
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithoutClaimsValidation(),
		); sigErr != nil {
			return Payload{}, fmt.Errorf("%w: %v", ErrInvalid, sigErr)
		}
	}

	payload := Payload{SubjectID: claims.Subject, Kind: claims.TokenType}
	if claims.IssuedAt != nil {
		payload.IssuedAt = claims.IssuedAt.Time
	}
	if claims.ExpiresAt != nil {
		payload.ExpiresAt = claims.ExpiresAt.Time
	}

	switch {
	case err == nil:
	case errors.Is(err, jwt.ErrTokenExpired):
		return payload, ErrExpired
	default:
		return Payload{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	if payload.SubjectID == "" || (payload.Kind != KindAccess && payload.Kind != KindRefresh) {
		return Payload{}, ErrInvalid
	}
	return payload, nil
}

func (c *Codec) key(*jwt.Token) (interface{}, error) {
	return c.secret, nil
}
