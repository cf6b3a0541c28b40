package authz

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/vidshare/backend/internal/models"
	"github.com/vidshare/backend/internal/token"
)

const testSecret = "0123456789abcdef0123456789abcdef"

type stubPrivileges struct {
	roles map[string]models.Role
	err   error
	calls int
}

func (s *stubPrivileges) Role(_ context.Context, accountID string) (models.Role, error) {
	s.calls++
	if s.err != nil {
		return "", s.err
	}
	role, ok := s.roles[accountID]
	if !ok {
		return "", errors.New("account not found")
	}
	return role, nil
}

func newCodec(t *testing.T, now func() time.Time) *token.Codec {
	t.Helper()
	codec, err := token.NewCodec(testSecret, now)
	if err != nil {
		t.Fatalf("codec: %v", err)
	}
	return codec
}

func issue(t *testing.T, codec *token.Codec, subject string, kind token.Kind) string {
	t.Helper()
	raw, err := codec.Issue(subject, kind, time.Hour)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	return "Bearer " + raw
}

func TestGateDecide(t *testing.T) {
	codec := newCodec(t, nil)
	privileges := &stubPrivileges{roles: map[string]models.Role{
		"admin-1": models.RoleAdmin,
		"user-1":  models.RoleStandard,
	}}
	gate := NewGate(codec, privileges)

	access := issue(t, codec, "user-1", token.KindAccess)
	refresh := issue(t, codec, "user-1", token.KindRefresh)
	adminAccess := issue(t, codec, "admin-1", token.KindAccess)

	otherCodec, err := token.NewCodec("ffffffffffffffffffffffffffffffff", nil)
	if err != nil {
		t.Fatalf("codec: %v", err)
	}
	forged := issue(t, otherCodec, "user-1", token.KindAccess)

	expiredCodec := newCodec(t, func() time.Time { return time.Now().Add(-2 * time.Hour) })
	expired := issue(t, expiredCodec, "user-1", token.KindAccess)

	protected := Policy{}
	refreshRoute := Policy{RefreshOnly: true}
	adminRoute := Policy{Roles: []models.Role{models.RoleAdmin}}

	tests := []struct {
		name        string
		policy      Policy
		header      string
		wantState   State
		wantErr     error
		wantSubject string
	}{
		{name: "public without header", policy: Policy{Public: true}, wantState: StatePublicAllowed},
		{name: "public ignores garbage header", policy: Policy{Public: true}, header: "Bearer junk", wantState: StatePublicAllowed},
		{name: "missing header", policy: protected, wantState: StateTokenMissing, wantErr: ErrUnauthenticated},
		{name: "wrong scheme", policy: protected, header: "Basic dXNlcjpwYXNz", wantState: StateTokenMissing, wantErr: ErrUnauthenticated},
		{name: "empty bearer", policy: protected, header: "Bearer   ", wantState: StateTokenMissing, wantErr: ErrUnauthenticated},
		{name: "garbage token", policy: protected, header: "Bearer not.a.token", wantState: StateTokenInvalid, wantErr: ErrUnauthenticated},
		{name: "foreign signature", policy: protected, header: forged, wantState: StateTokenInvalid, wantErr: ErrUnauthenticated},
		{name: "expired", policy: protected, header: expired, wantState: StateTokenInvalid, wantErr: ErrTokenExpired},
		{name: "access on protected", policy: protected, header: access, wantState: StateAllowed, wantSubject: "user-1"},
		{name: "lower-case scheme", policy: protected, header: "bearer " + access[len("Bearer "):], wantState: StateAllowed, wantSubject: "user-1"},
		{name: "refresh on protected", policy: protected, header: refresh, wantState: StateKindMismatch, wantErr: ErrAccessTokenRequired},
		{name: "refresh on refresh route", policy: refreshRoute, header: refresh, wantState: StateAllowed, wantSubject: "user-1"},
		{name: "access on refresh route", policy: refreshRoute, header: access, wantState: StateKindMismatch, wantErr: ErrRefreshTokenRequired},
		{name: "standard on admin route", policy: adminRoute, header: access, wantState: StateRoleDenied, wantErr: ErrRoleDenied},
		{name: "admin on admin route", policy: adminRoute, header: adminAccess, wantState: StateAllowed, wantSubject: "admin-1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			decision := gate.Decide(context.Background(), tt.policy, tt.header)
			if decision.State != tt.wantState {
				t.Fatalf("expected state %s got %s", tt.wantState, decision.State)
			}
			if !errors.Is(decision.Err, tt.wantErr) {
				t.Fatalf("expected error %v got %v", tt.wantErr, decision.Err)
			}
			if tt.wantSubject != "" && decision.SubjectID != tt.wantSubject {
				t.Fatalf("expected subject %q got %q", tt.wantSubject, decision.SubjectID)
			}
		})
	}
}

func TestGateSkipsPrivilegeLookupWithoutRoles(t *testing.T) {
	codec := newCodec(t, nil)
	privileges := &stubPrivileges{}
	gate := NewGate(codec, privileges)

	decision := gate.Decide(context.Background(), Policy{}, issue(t, codec, "user-1", token.KindAccess))
	if !decision.Allowed() {
		t.Fatalf("expected allowed got %s", decision.State)
	}
	if privileges.calls != 0 {
		t.Fatalf("expected no privilege lookups got %d", privileges.calls)
	}
}

func TestGatePrivilegeLookupFailureIsUnauthenticated(t *testing.T) {
	codec := newCodec(t, nil)
	gate := NewGate(codec, &stubPrivileges{err: errors.New("database down")})

	decision := gate.Decide(context.Background(), Policy{Roles: []models.Role{models.RoleAdmin}}, issue(t, codec, "admin-1", token.KindAccess))
	if decision.Allowed() || !errors.Is(decision.Err, ErrUnauthenticated) {
		t.Fatalf("expected lookup failure to deny as unauthenticated got %+v", decision)
	}

	gate = NewGate(codec, nil)
	decision = gate.Decide(context.Background(), Policy{Roles: []models.Role{models.RoleAdmin}}, issue(t, codec, "admin-1", token.KindAccess))
	if decision.Allowed() || !errors.Is(decision.Err, ErrUnauthenticated) {
		t.Fatalf("expected missing lookup to deny got %+v", decision)
	}
}

func TestRequireAttachesSubjectAndDenies(t *testing.T) {
	codec := newCodec(t, nil)
	gate := NewGate(codec, nil)

	var denied error
	deny := func(w http.ResponseWriter, _ *http.Request, err error) {
		denied = err
		w.WriteHeader(http.StatusUnauthorized)
	}

	var subject string
	handler := gate.Require(Policy{}, deny)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		subject, _ = SubjectFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/videos", nil)
	req.Header.Set("Authorization", issue(t, codec, "user-1", token.KindAccess))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent || subject != "user-1" {
		t.Fatalf("expected handler to run with subject, status=%d subject=%q", rec.Code, subject)
	}

	subject = ""
	req = httptest.NewRequest(http.MethodGet, "/api/videos", nil)
	req.Header.Set("Authorization", issue(t, codec, "user-1", token.KindRefresh))
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized || !errors.Is(denied, ErrAccessTokenRequired) {
		t.Fatalf("expected refresh token denied, status=%d err=%v", rec.Code, denied)
	}
	if subject != "" {
		t.Fatal("handler must not run for a denied request")
	}
}

func TestSubjectFromContextEmpty(t *testing.T) {
	if _, ok := SubjectFromContext(context.Background()); ok {
		t.Fatal("expected no subject on a bare context")
	}
}
