// Package authz decides, per request, whether a caller may reach a route.
package authz

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"strings"

	"github.com/vidshare/backend/internal/logging"
	"github.com/vidshare/backend/internal/models"
	"github.com/vidshare/backend/internal/token"
)

var (
	// ErrUnauthenticated covers a missing, malformed or unverifiable bearer
	// token and failed privilege lookups.
	ErrUnauthenticated = errors.New("authentication required")
	// ErrTokenExpired indicates a correctly signed token past its expiry.
	ErrTokenExpired = errors.New("token expired")
	// ErrAccessTokenRequired rejects refresh tokens presented to ordinary routes.
	ErrAccessTokenRequired = errors.New("access token required")
	// ErrRefreshTokenRequired rejects access tokens presented to the refresh route.
	ErrRefreshTokenRequired = errors.New("refresh token required")
	// ErrRoleDenied indicates an identified caller lacking the route's role.
	ErrRoleDenied = errors.New("insufficient privileges")
)

// State is the outcome of a gate decision.
type State int

const (
	StateUnchecked State = iota
	StatePublicAllowed
	StateTokenMissing
	StateTokenInvalid
	StateKindMismatch
	StateRoleDenied
	StateAllowed
)

func (s State) String() string {
	switch s {
	case StateUnchecked:
		return "unchecked"
	case StatePublicAllowed:
		return "public_allowed"
	case StateTokenMissing:
		return "token_missing"
	case StateTokenInvalid:
		return "token_invalid"
	case StateKindMismatch:
		return "kind_mismatch"
	case StateRoleDenied:
		return "role_denied"
	case StateAllowed:
		return "allowed"
	default:
		return "unknown"
	}
}

// Policy is a route's authorization requirement.
type Policy struct {
	// Public routes skip token inspection entirely.
	Public bool
	// RefreshOnly marks the refresh endpoint, which accepts only refresh tokens.
	RefreshOnly bool
	// Roles, when non-empty, restricts the route to accounts holding one of them.
	Roles []models.Role
}

// Decision records the terminal state reached and, when allowed, the subject.
type Decision struct {
	State     State
	SubjectID string
	Err       error
}

// Allowed reports whether the request may proceed.
func (d Decision) Allowed() bool {
	return d.State == StatePublicAllowed || d.State == StateAllowed
}

// TokenDecoder verifies bearer tokens.
type TokenDecoder interface {
	Decode(tokenString string) (token.Payload, error)
}

// PrivilegeLookup resolves an account's current role.
type PrivilegeLookup interface {
	Role(ctx context.Context, accountID string) (models.Role, error)
}

// Gate evaluates policies against request credentials. It holds no mutable
// state and is safe for concurrent use.
type Gate struct {
	tokens     TokenDecoder
	privileges PrivilegeLookup
}

// NewGate constructs a Gate. privileges may be nil when no route declares roles.
func NewGate(tokens TokenDecoder, privileges PrivilegeLookup) *Gate {
	if tokens == nil {
		panic("authz: token decoder must not be nil")
	}
	return &Gate{tokens: tokens, privileges: privileges}
}

// Decide runs the decision sequence for one request given the raw
// Authorization header value.
func (g *Gate) Decide(ctx context.Context, policy Policy, authorization string) Decision {
	if policy.Public {
		return Decision{State: StatePublicAllowed}
	}

	raw, ok := bearerToken(authorization)
	if !ok {
		return Decision{State: StateTokenMissing, Err: ErrUnauthenticated}
	}

	payload, err := g.tokens.Decode(raw)
	if err != nil {
		if errors.Is(err, token.ErrExpired) {
			return Decision{State: StateTokenInvalid, Err: ErrTokenExpired}
		}
		return Decision{State: StateTokenInvalid, Err: ErrUnauthenticated}
	}

	switch {
	case policy.RefreshOnly && payload.Kind != token.KindRefresh:
		return Decision{State: StateKindMismatch, Err: ErrRefreshTokenRequired}
	case !policy.RefreshOnly && payload.Kind != token.KindAccess:
		return Decision{State: StateKindMismatch, Err: ErrAccessTokenRequired}
	}

	if len(policy.Roles) > 0 {
		if g.privileges == nil {
			return Decision{State: StateTokenInvalid, Err: ErrUnauthenticated}
		}
		role, err := g.privileges.Role(ctx, payload.SubjectID)
		if err != nil {
			logging.FromContext(ctx).Warn("privilege lookup failed", "account_id", payload.SubjectID, "error", err)
			return Decision{State: StateTokenInvalid, Err: ErrUnauthenticated}
		}
		if !slices.Contains(policy.Roles, role) {
			return Decision{State: StateRoleDenied, SubjectID: payload.SubjectID, Err: ErrRoleDenied}
		}
	}

	return Decision{State: StateAllowed, SubjectID: payload.SubjectID}
}

// DenyFunc writes the rejection for a denied request.
type DenyFunc func(w http.ResponseWriter, r *http.Request, err error)

// Require wraps next so it only runs when policy admits the request. The
// verified subject id is attached to the request context.
func (g *Gate) Require(policy Policy, deny DenyFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			decision := g.Decide(ctx, policy, r.Header.Get("Authorization"))
			if !decision.Allowed() {
				logging.FromContext(ctx).Warn("request denied",
					slog.String("decision", decision.State.String()),
					slog.String("reason", decision.Err.Error()),
				)
				deny(w, r, decision.Err)
				return
			}

			if decision.SubjectID != "" {
				ctx = WithSubject(ctx, decision.SubjectID)
				ctx = logging.With(ctx, slog.String("account_id", decision.SubjectID))
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(header string) (string, bool) {
	scheme, value, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	value = strings.TrimSpace(value)
	if value == "" {
		return "", false
	}
	return value, true
}

type subjectKey struct{}

// WithSubject stores the authenticated account id on the context.
func WithSubject(ctx context.Context, accountID string) context.Context {
	return context.WithValue(ctx, subjectKey{}, accountID)
}

// SubjectFromContext returns the authenticated account id, if any.
func SubjectFromContext(ctx context.Context) (string, bool) {
	accountID, ok := ctx.Value(subjectKey{}).(string)
	return accountID, ok && accountID != ""
}
