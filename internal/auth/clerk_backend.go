package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

const clerkAPIBaseURL = "https://api.clerk.com/v1"

// OAuthProviderGoogle is Clerk's identifier for Google social connections.
const OAuthProviderGoogle = "oauth_google"

// ClerkBackendClient provides access to Clerk's Backend API.
type ClerkBackendClient struct {
	secretKey  string
	baseURL    string
	httpClient *http.Client
}

// BackendOption customises a ClerkBackendClient.
type BackendOption func(*ClerkBackendClient)

// WithBaseURL overrides the Clerk API base URL.
func WithBaseURL(baseURL string) BackendOption {
	return func(c *ClerkBackendClient) { c.baseURL = baseURL }
}

// NewClerkBackendClient creates a new Clerk Backend API client.
func NewClerkBackendClient(secretKey string, opts ...BackendOption) *ClerkBackendClient {
	c := &ClerkBackendClient{
		secretKey: secretKey,
		baseURL:   clerkAPIBaseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// OAuthAccessToken is a provider access token Clerk holds for a user.
type OAuthAccessToken struct {
	Token    string   `json:"token"`
	Provider string   `json:"provider"`
	Scopes   []string `json:"scopes,omitempty"`
}

// GetOAuthAccessToken fetches the user's current access token for a social
// provider. Clerk refreshes the underlying token on our behalf. Returns an
// empty string if the user has not connected the provider.
func (c *ClerkBackendClient) GetOAuthAccessToken(ctx context.Context, userID, provider string) (string, error) {
	if userID == "" {
		return "", fmt.Errorf("user ID is required")
	}

	var tokens []OAuthAccessToken
	found, err := c.get(ctx, "/users/"+url.PathEscape(userID)+"/oauth_access_tokens/"+provider, &tokens)
	if err != nil || !found {
		return "", err
	}
	for _, t := range tokens {
		if t.Token != "" {
			return t.Token, nil
		}
	}
	return "", nil
}

// ClerkUser is the subset of the Clerk user object used for notifications.
type ClerkUser struct {
	ID                    string `json:"id"`
	PrimaryEmailAddressID string `json:"primary_email_address_id"`
	EmailAddresses        []struct {
		ID           string `json:"id"`
		EmailAddress string `json:"email_address"`
	} `json:"email_addresses"`
}

// PrimaryEmail returns the user's primary email address, if any.
func (u *ClerkUser) PrimaryEmail() string {
	for _, e := range u.EmailAddresses {
		if e.ID == u.PrimaryEmailAddressID {
			return e.EmailAddress
		}
	}
	if len(u.EmailAddresses) > 0 {
		return u.EmailAddresses[0].EmailAddress
	}
	return ""
}

// GetUser fetches a user. Returns nil if the user does not exist.
func (c *ClerkBackendClient) GetUser(ctx context.Context, userID string) (*ClerkUser, error) {
	var user ClerkUser
	found, err := c.get(ctx, "/users/"+url.PathEscape(userID), &user)
	if err != nil || !found {
		return nil, err
	}
	return &user, nil
}

func (c *ClerkBackendClient) get(ctx context.Context, path string, out any) (bool, error) {
	if c.secretKey == "" {
		return false, fmt.Errorf("clerk secret key not configured")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return false, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+c.secretKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("failed to call clerk: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotFound {
		return false, nil
	}

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return false, fmt.Errorf("clerk API returned status %d: %s", resp.StatusCode, string(body))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return false, fmt.Errorf("failed to decode response: %w", err)
	}
	return true, nil
}
