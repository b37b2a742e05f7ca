package mw

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/humatest"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/jmylchreest/autoindex-api/internal/auth"
	"github.com/jmylchreest/autoindex-api/internal/logging"
)

// fakeVerifier accepts tokens present in its map.
type fakeVerifier map[string]*auth.ClerkClaims

func (f fakeVerifier) VerifyToken(token string) (*auth.ClerkClaims, error) {
	if c, ok := f[token]; ok {
		return c, nil
	}
	return nil, auth.ErrInvalidToken
}

var testVerifier = fakeVerifier{
	"user-token":  {UserID: "user_1", Email: "a@example.com"},
	"admin-token": {UserID: "user_2", PublicMetadata: map[string]any{"role": "admin"}},
	"no-sub":      {},
}

type whoamiOutput struct {
	Body struct {
		UserID    string `json:"user_id"`
		Admin     bool   `json:"admin"`
		LogUserID string `json:"log_user_id"`
	}
}

func whoami(ctx context.Context, _ *struct{}) (*whoamiOutput, error) {
	out := &whoamiOutput{}
	if c := GetUserClaims(ctx); c != nil {
		out.Body.UserID = c.UserID
		out.Body.Admin = c.Admin
	}
	out.Body.LogUserID = logging.GetUserID(ctx)
	return out, nil
}

func newAuthAPI(t *testing.T) humatest.TestAPI {
	t.Helper()
	_, api := humatest.New(t)
	api.UseMiddleware(HumaAuth(api, HumaAuthConfig{Verifier: testVerifier}))

	PublicGet(api, "/public", whoami)
	ProtectedGet(api, "/me", whoami)
	ProtectedGet(api, "/admin", whoami, WithAdmin())
	return api
}

// ========================================
// HumaAuth Tests
// ========================================

func TestHumaAuth(t *testing.T) {
	tests := []struct {
		name       string
		path       string
		header     string
		wantStatus int
	}{
		{"public without token", "/public", "", http.StatusOK},
		{"protected without token", "/me", "", http.StatusUnauthorized},
		{"protected with invalid token", "/me", "Authorization: Bearer nope", http.StatusUnauthorized},
		{"protected with token missing subject", "/me", "Authorization: Bearer no-sub", http.StatusUnauthorized},
		{"protected with valid token", "/me", "Authorization: Bearer user-token", http.StatusOK},
		{"bare token accepted", "/me", "Authorization: user-token", http.StatusOK},
		{"admin route as user", "/admin", "Authorization: Bearer user-token", http.StatusForbidden},
		{"admin route as admin", "/admin", "Authorization: Bearer admin-token", http.StatusOK},
	}

	api := newAuthAPI(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var args []any
			if tt.header != "" {
				args = append(args, tt.header)
			}
			resp := api.Get(tt.path, args...)
			if resp.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d (body %s)", resp.Code, tt.wantStatus, resp.Body.String())
			}
		})
	}
}

func TestHumaAuth_ClaimsOnContext(t *testing.T) {
	api := newAuthAPI(t)

	resp := api.Get("/me", "Authorization: Bearer user-token")
	if resp.Code != http.StatusOK {
		t.Fatalf("status = %d", resp.Code)
	}
	body := resp.Body.String()
	for _, want := range []string{`"user_id":"user_1"`, `"log_user_id":"user_1"`, `"admin":false`} {
		if !strings.Contains(body, want) {
			t.Errorf("body %s missing %s", body, want)
		}
	}
}

func TestHumaAuth_NilVerifierRejects(t *testing.T) {
	_, api := humatest.New(t)
	api.UseMiddleware(HumaAuth(api, HumaAuthConfig{}))
	ProtectedGet(api, "/me", whoami)

	if resp := api.Get("/me", "Authorization: Bearer user-token"); resp.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", resp.Code)
	}
}

func TestRegisterOptions(t *testing.T) {
	op := huma.Operation{}
	for _, opt := range []OperationOption{
		WithTags("Sites"),
		WithSummary("List sites"),
		WithDescription("desc"),
		WithOperationID("listSites"),
		WithStatus(http.StatusAccepted),
		WithAdmin(),
		WithHidden(),
	} {
		opt(&op)
	}

	if len(op.Tags) != 1 || op.Summary != "List sites" || op.OperationID != "listSites" || op.Description != "desc" {
		t.Errorf("operation = %+v", op)
	}
	if op.DefaultStatus != http.StatusAccepted || !op.Hidden || !requiresAdmin(&op) {
		t.Errorf("status/hidden/admin not applied: %+v", op)
	}
}

// ========================================
// Claims helpers
// ========================================

func TestGetUserClaims(t *testing.T) {
	if GetUserClaims(context.Background()) != nil {
		t.Error("expected nil claims on empty context")
	}
	ctx := WithUserClaims(context.Background(), &UserClaims{UserID: "user_1"})
	if c := GetUserClaims(ctx); c == nil || c.UserID != "user_1" {
		t.Errorf("claims = %+v", c)
	}
}

func TestValidateClerkToken(t *testing.T) {
	claims, err := validateClerkToken(testVerifier, "admin-token")
	if err != nil {
		t.Fatalf("validateClerkToken: %v", err)
	}
	if claims.UserID != "user_2" || !claims.Admin {
		t.Errorf("claims = %+v", claims)
	}

	if _, err := validateClerkToken(testVerifier, ""); !errors.Is(err, auth.ErrInvalidToken) {
		t.Errorf("empty token err = %v", err)
	}
	if _, err := validateClerkToken(testVerifier, "no-sub"); !errors.Is(err, auth.ErrMissingClaims) {
		t.Errorf("missing sub err = %v", err)
	}
}

func TestBearerToken(t *testing.T) {
	tests := map[string]string{
		"Bearer abc":  "abc",
		"abc":         "abc",
		"Bearer  abc": "abc",
		"":            "",
	}
	for in, want := range tests {
		if got := bearerToken(in); got != want {
			t.Errorf("bearerToken(%q) = %q, want %q", in, got, want)
		}
	}
}

// ========================================
// LogContext Tests
// ========================================

func TestLogContext(t *testing.T) {
	var got string
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = logging.GetRequestID(r.Context())
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	LogContext()(inner).ServeHTTP(httptest.NewRecorder(), req)
	if got != "" {
		t.Errorf("request id = %q without RequestID middleware", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(middleware.RequestIDHeader, "req-123")
	middleware.RequestID(LogContext()(inner)).ServeHTTP(httptest.NewRecorder(), req)
	if got != "req-123" {
		t.Errorf("request id = %q, want req-123", got)
	}
}

func TestIdentifyUser(t *testing.T) {
	tests := []struct {
		name   string
		header string
		want   string
	}{
		{"valid token", "Bearer user-token", "user_1"},
		{"invalid token", "Bearer nope", ""},
		{"no header", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got string
			h := IdentifyUser(testVerifier)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if c := GetUserClaims(r.Context()); c != nil {
					got = c.UserID
				}
				w.WriteHeader(http.StatusOK)
			}))

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			if rec.Code != http.StatusOK {
				t.Errorf("status = %d, want 200", rec.Code)
			}
			if got != tt.want {
				t.Errorf("user = %q, want %q", got, tt.want)
			}
		})
	}
}
