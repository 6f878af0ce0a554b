package bitable

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// renewMargin is the safety window before token expiry within which the
// cached tenant token is considered stale. Refreshing slightly early is
// harmless; refreshes are idempotent.
const renewMargin = 5 * time.Minute

// TokenCache holds one tenant access token with its expiry. It is shared
// across the process and refreshed lazily.
type TokenCache struct {
	mu        sync.Mutex
	token     string
	expiresAt time.Time
	margin    time.Duration
}

// NewTokenCache creates an empty cache with the default renewal margin.
func NewTokenCache() *TokenCache {
	return &TokenCache{margin: renewMargin}
}

// ExpiringSoon reports whether the cached token is absent or within the
// renewal margin of its expiry at the given instant.
func (tc *TokenCache) ExpiringSoon(now time.Time) bool {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	return tc.token == "" || !now.Add(tc.margin).Before(tc.expiresAt)
}

// Get returns the cached token, or "" when a refresh is needed.
func (tc *TokenCache) Get(now time.Time) string {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	if tc.token == "" || !now.Add(tc.margin).Before(tc.expiresAt) {
		return ""
	}
	return tc.token
}

// Put stores a freshly fetched token with its lifetime.
func (tc *TokenCache) Put(token string, ttl time.Duration, now time.Time) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.token = token
	tc.expiresAt = now.Add(ttl)
}

// tokenSource yields a bearer token for one request.
type tokenSource interface {
	Token(ctx context.Context) (string, error)
}

// staticSource is a caller-supplied token, used by the pass-through HTTP
// endpoints where the user brings their own access token.
type staticSource string

func (s staticSource) Token(context.Context) (string, error) {
	if s == "" {
		return "", fmt.Errorf("bitable: missing access token")
	}
	return string(s), nil
}

// tenantSource fetches and caches the app's tenant access token.
type tenantSource struct {
	client *Client
	cache  *TokenCache
}

func (ts *tenantSource) Token(ctx context.Context) (string, error) {
	now := time.Now()
	if tok := ts.cache.Get(now); tok != "" {
		return tok, nil
	}
	tok, ttl, err := ts.client.fetchTenantToken(ctx)
	if err != nil {
		return "", err
	}
	ts.cache.Put(tok, ttl, now)
	return tok, nil
}

type tenantTokenResponse struct {
	Code              int    `json:"code"`
	Msg               string `json:"msg"`
	TenantAccessToken string `json:"tenant_access_token"`
	Expire            int    `json:"expire"` // seconds
}

// fetchTenantToken exchanges the app credentials for a tenant token.
func (c *Client) fetchTenantToken(ctx context.Context) (string, time.Duration, error) {
	body := map[string]string{
		"app_id":     c.cfg.AppID,
		"app_secret": c.cfg.AppSecret,
	}
	var resp tenantTokenResponse
	if err := c.postRaw(ctx, "/auth/v3/tenant_access_token/internal", body, &resp); err != nil {
		return "", 0, fmt.Errorf("bitable: tenant token: %w", err)
	}
	if resp.Code != 0 {
		return "", 0, &APIError{Code: resp.Code, Msg: resp.Msg}
	}
	return resp.TenantAccessToken, time.Duration(resp.Expire) * time.Second, nil
}

// OAuthToken is the result of an authorization-code exchange.
type OAuthToken struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
}

// ExchangeCode trades an OAuth authorization code for a user access token.
// The token endpoint is unauthenticated and answers with a flat body, not
// the data envelope.
func (c *Client) ExchangeCode(ctx context.Context, code string) (OAuthToken, error) {
	body := map[string]string{
		"code":          code,
		"grant_type":    "authorization_code",
		"client_id":     c.cfg.AppID,
		"client_secret": c.cfg.AppSecret,
		"redirect_uri":  c.cfg.RedirectURI,
	}
	var resp struct {
		Code int    `json:"code"`
		Msg  string `json:"error_description"`
		OAuthToken
	}
	if err := c.postRaw(ctx, "/authen/v2/oauth/token", body, &resp); err != nil {
		return OAuthToken{}, fmt.Errorf("bitable: exchange code: %w", err)
	}
	if resp.Code != 0 {
		return OAuthToken{}, &APIError{Code: resp.Code, Msg: resp.Msg}
	}
	return resp.OAuthToken, nil
}

// UserInfo holds the identity behind a user access token.
type UserInfo struct {
	Name      string `json:"name"`
	OpenID    string `json:"open_id"`
	AvatarURL string `json:"avatar_url"`
}

// FetchUserInfo resolves the user behind a user access token.
func (c *Client) FetchUserInfo(ctx context.Context, userToken string) (UserInfo, error) {
	var info UserInfo
	cc := c.WithAccessToken(userToken)
	if err := cc.do(ctx, "GET", "/authen/v1/user_info", nil, &info); err != nil {
		return UserInfo{}, fmt.Errorf("bitable: user info: %w", err)
	}
	return info, nil
}
