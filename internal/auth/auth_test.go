package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ========================================
// ClerkClaims Tests
// ========================================

func TestClerkClaims_IsAdmin(t *testing.T) {
	tests := []struct {
		name     string
		metadata map[string]any
		expected bool
	}{
		{"admin role", map[string]any{"role": "admin"}, true},
		{"other role", map[string]any{"role": "member"}, false},
		{"wrong type", map[string]any{"role": 1}, false},
		{"no metadata", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &ClerkClaims{PublicMetadata: tt.metadata}
			if got := c.IsAdmin(); got != tt.expected {
				t.Errorf("IsAdmin() = %v, want %v", got, tt.expected)
			}
		})
	}
}

// ========================================
// ClerkVerifier Tests
// ========================================

func TestNewClerkVerifier(t *testing.T) {
	tests := []struct {
		name           string
		issuer         string
		expectedIssuer string
		expectedJWKS   string
	}{
		{
			"normal issuer",
			"https://clerk.example.com",
			"https://clerk.example.com",
			"https://clerk.example.com/.well-known/jwks.json",
		},
		{
			"issuer with trailing slash",
			"https://clerk.example.com/",
			"https://clerk.example.com",
			"https://clerk.example.com/.well-known/jwks.json",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := NewClerkVerifier(tt.issuer)
			if v.issuer != tt.expectedIssuer {
				t.Errorf("issuer = %q, want %q", v.issuer, tt.expectedIssuer)
			}
			if v.jwksURL != tt.expectedJWKS {
				t.Errorf("jwksURL = %q, want %q", v.jwksURL, tt.expectedJWKS)
			}
		})
	}
}

func newJWKSServer(t *testing.T, key *rsa.PrivateKey) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"keys": []map[string]string{{
				"kid": "k1",
				"kty": "RSA",
				"use": "sig",
				"n":   base64.RawURLEncoding.EncodeToString(key.N.Bytes()),
				"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.E)).Bytes()),
			}},
		})
	}))
}

func signToken(t *testing.T, key *rsa.PrivateKey, claims jwt.MapClaims) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tok.Header["kid"] = "k1"
	s, err := tok.SignedString(key)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return s
}

func TestClerkVerifier_VerifyToken(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	srv := newJWKSServer(t, key)
	defer srv.Close()

	v := NewClerkVerifier(srv.URL)
	now := time.Now()

	tests := []struct {
		name    string
		claims  jwt.MapClaims
		wantErr error
	}{
		{
			"valid",
			jwt.MapClaims{"sub": "user_1", "iss": srv.URL, "exp": now.Add(time.Hour).Unix()},
			nil,
		},
		{
			"expired",
			jwt.MapClaims{"sub": "user_1", "iss": srv.URL, "exp": now.Add(-time.Hour).Unix()},
			ErrTokenExpired,
		},
		{
			"wrong issuer",
			jwt.MapClaims{"sub": "user_1", "iss": "https://evil.example", "exp": now.Add(time.Hour).Unix()},
			ErrInvalidToken,
		},
		{
			"missing subject",
			jwt.MapClaims{"iss": srv.URL, "exp": now.Add(time.Hour).Unix()},
			ErrMissingClaims,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			claims, err := v.VerifyToken(signToken(t, key, tt.claims))
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if claims.UserID != "user_1" {
				t.Errorf("UserID = %q", claims.UserID)
			}
		})
	}
}

func TestClerkVerifier_Garbage(t *testing.T) {
	v := NewClerkVerifier("https://clerk.example.com")
	if _, err := v.VerifyToken("not.a.jwt"); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("err = %v, want ErrInvalidToken", err)
	}
}

// ========================================
// Context Functions Tests
// ========================================

func TestGetClaimsFromContext(t *testing.T) {
	t.Run("with claims", func(t *testing.T) {
		expected := &ClerkClaims{UserID: "user_123", Email: "test@example.com"}
		ctx := context.WithValue(context.Background(), ClerkClaimsKey, expected)

		got := GetClaimsFromContext(ctx)
		if got == nil || got.UserID != expected.UserID {
			t.Fatalf("got %+v", got)
		}
	})

	t.Run("without claims", func(t *testing.T) {
		if got := GetClaimsFromContext(context.Background()); got != nil {
			t.Errorf("expected nil, got %+v", got)
		}
	})

	t.Run("wrong type in context", func(t *testing.T) {
		ctx := context.WithValue(context.Background(), ClerkClaimsKey, "not a claims struct")
		if got := GetClaimsFromContext(ctx); got != nil {
			t.Errorf("expected nil for wrong type, got %+v", got)
		}
	})
}

// ========================================
// Backend Client Tests
// ========================================

func TestClerkBackendClient_GetOAuthAccessToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer sk_test" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		switch r.URL.Path {
		case "/users/user_1/oauth_access_tokens/oauth_google":
			_, _ = w.Write([]byte(`[{"token":"ya29.abc","provider":"oauth_google"}]`))
		case "/users/user_2/oauth_access_tokens/oauth_google":
			_, _ = w.Write([]byte(`[]`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c := NewClerkBackendClient("sk_test", WithBaseURL(srv.URL))

	tok, err := c.GetOAuthAccessToken(context.Background(), "user_1", OAuthProviderGoogle)
	if err != nil || tok != "ya29.abc" {
		t.Errorf("user_1: tok=%q err=%v", tok, err)
	}
	tok, err = c.GetOAuthAccessToken(context.Background(), "user_2", OAuthProviderGoogle)
	if err != nil || tok != "" {
		t.Errorf("user_2: tok=%q err=%v", tok, err)
	}
	tok, err = c.GetOAuthAccessToken(context.Background(), "user_3", OAuthProviderGoogle)
	if err != nil || tok != "" {
		t.Errorf("user_3: tok=%q err=%v", tok, err)
	}

	bad := NewClerkBackendClient("wrong", WithBaseURL(srv.URL))
	if _, err := bad.GetOAuthAccessToken(context.Background(), "user_1", OAuthProviderGoogle); err == nil {
		t.Error("expected error for unauthorized client")
	}
}

func TestClerkBackendClient_GetUser(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/users/user_1" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte(`{"id":"user_1","primary_email_address_id":"e2","email_addresses":[
			{"id":"e1","email_address":"old@example.com"},
			{"id":"e2","email_address":"main@example.com"}]}`))
	}))
	defer srv.Close()

	c := NewClerkBackendClient("sk_test", WithBaseURL(srv.URL))
	u, err := c.GetUser(context.Background(), "user_1")
	if err != nil {
		t.Fatalf("GetUser: %v", err)
	}
	if u.PrimaryEmail() != "main@example.com" {
		t.Errorf("PrimaryEmail = %q", u.PrimaryEmail())
	}

	missing, err := c.GetUser(context.Background(), "user_x")
	if err != nil || missing != nil {
		t.Errorf("missing user: %+v, %v", missing, err)
	}
}

// ========================================
// GoogleTokenSource Tests
// ========================================

type fakeFetcher struct {
	token string
	err   error
	calls int
}

func (f *fakeFetcher) GetOAuthAccessToken(ctx context.Context, userID, provider string) (string, error) {
	f.calls++
	return f.token, f.err
}

func TestGoogleTokenSource_Caches(t *testing.T) {
	f := &fakeFetcher{token: "tok"}
	s := NewGoogleTokenSource(f, time.Minute, nil)
	now := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	for range 3 {
		tok, err := s.Token(context.Background(), "user_1")
		if err != nil || tok != "tok" {
			t.Fatalf("Token = %q, %v", tok, err)
		}
	}
	if f.calls != 1 {
		t.Errorf("fetcher calls = %d, want 1", f.calls)
	}

	now = now.Add(2 * time.Minute)
	_, _ = s.Token(context.Background(), "user_1")
	if f.calls != 2 {
		t.Errorf("fetcher calls after expiry = %d, want 2", f.calls)
	}

	s.Invalidate("user_1")
	if s.Size() != 0 {
		t.Errorf("Size = %d after Invalidate", s.Size())
	}
}

func TestGoogleTokenSource_Errors(t *testing.T) {
	tests := []struct {
		name    string
		fetcher *fakeFetcher
	}{
		{"fetch error", &fakeFetcher{err: errors.New("boom")}},
		{"no connection", &fakeFetcher{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewGoogleTokenSource(tt.fetcher, 0, nil)
			_, err := s.Token(context.Background(), "user_1")
			if !errors.Is(err, ErrTokenUnavailable) {
				t.Fatalf("err = %v, want ErrTokenUnavailable", err)
			}
			var te *TokenError
			if !errors.As(err, &te) || te.UserID != "user_1" {
				t.Errorf("expected *TokenError for user_1, got %v", err)
			}
			if s.Size() != 0 {
				t.Error("failures must not be cached")
			}
		})
	}
}
