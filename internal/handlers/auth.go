package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/vidshare/backend/internal/auth"
	"github.com/vidshare/backend/internal/authz"
	"github.com/vidshare/backend/internal/models"
)

// AuthHandler implements the signup, signin, refresh and signout endpoints.
type AuthHandler struct {
	Auth AuthService
}

type signupRequest struct {
	Email           string `json:"email"`
	Password        string `json:"password"`
	PasswordConfirm string `json:"passwordConfirm"`
}

type signupResponse struct {
	ID           string `json:"id"`
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

type signinRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Signup handles POST /api/auth/signup.
func (h AuthHandler) Signup(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req signupRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(ctx, w, err)
		return
	}
	if req.Password != req.PasswordConfirm {
		writeError(ctx, w, auth.ErrPasswordMismatch)
		return
	}

	result, err := h.Auth.Signup(ctx, req.Email, req.Password)
	if err != nil {
		writeError(ctx, w, err)
		return
	}

	respondJSON(ctx, w, http.StatusCreated, signupResponse{
		ID:           result.AccountID,
		AccessToken:  result.Tokens.AccessToken,
		RefreshToken: result.Tokens.RefreshToken,
	})
}

// Signin handles POST /api/auth/signin.
func (h AuthHandler) Signin(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req signinRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(ctx, w, err)
		return
	}

	tokens, err := h.Auth.Signin(ctx, req.Email, req.Password)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	respondJSON(ctx, w, http.StatusOK, tokens)
}

// Refresh handles POST /api/auth/refresh. The gate has already verified the
// bearer token is a refresh token; the service cross-checks it against the
// stored credential.
func (h AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	subject, ok := authz.SubjectFromContext(ctx)
	if !ok {
		writeError(ctx, w, authz.ErrUnauthenticated)
		return
	}
	presented := bearerValue(r)

	tokens, err := h.Auth.Refresh(ctx, presented, subject)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	respondJSON(ctx, w, http.StatusOK, tokens)
}

// Signout handles POST /api/auth/signout.
func (h AuthHandler) Signout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	subject, ok := authz.SubjectFromContext(ctx)
	if !ok {
		writeError(ctx, w, authz.ErrUnauthenticated)
		return
	}
	if err := h.Auth.Signout(ctx, subject); err != nil {
		writeError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type accountResponse struct {
	ID        string      `json:"id"`
	Email     string      `json:"email"`
	Role      models.Role `json:"role"`
	CreatedAt time.Time   `json:"createdAt"`
}

func newAccountResponse(account models.Account) accountResponse {
	return accountResponse{ID: account.ID, Email: account.Email, Role: account.Role, CreatedAt: account.CreatedAt}
}

// Me handles GET /api/accounts/me.
func (h AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	subject, ok := authz.SubjectFromContext(ctx)
	if !ok {
		writeError(ctx, w, authz.ErrUnauthenticated)
		return
	}
	account, err := h.Auth.Account(ctx, subject)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	respondJSON(ctx, w, http.StatusOK, newAccountResponse(account))
}

// ListAccounts handles GET /api/accounts (admin only).
func (h AuthHandler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	accounts, err := h.Auth.Accounts(ctx)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	out := make([]accountResponse, 0, len(accounts))
	for _, account := range accounts {
		out = append(out, newAccountResponse(account))
	}
	respondJSON(ctx, w, http.StatusOK, map[string]any{"accounts": out})
}

func bearerValue(r *http.Request) string {
	_, value, _ := strings.Cut(strings.TrimSpace(r.Header.Get("Authorization")), " ")
	return strings.TrimSpace(value)
}
