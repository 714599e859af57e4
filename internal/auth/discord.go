// Package auth implements C9 (Discord identity exchange) and C10
// (session token verification). It follows the same http.Client-plus-
// context idiom as internal/upstream and internal/notify/resend.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ErrAccessDenied is returned when the exchanged identity is not a
// member of the required guild, or lacks a qualifying role.
var ErrAccessDenied = errors.New("auth: access denied")

const (
	discordTokenURL = "https://discord.com/api/oauth2/token"
	discordAPIBase  = "https://discord.com/api/v10"
)

// discordTokenURLOverride and discordAPIBaseOverride let tests redirect
// the client at a local server; empty (the default) has no effect.
var (
	discordTokenURLOverride string
	discordAPIBaseOverride  string
)

func tokenURL() string {
	if discordTokenURLOverride != "" {
		return discordTokenURLOverride
	}
	return discordTokenURL
}

func apiBase() string {
	if discordAPIBaseOverride != "" {
		return discordAPIBaseOverride
	}
	return discordAPIBase
}

// DiscordClient talks to Discord's OAuth2 and REST APIs.
type DiscordClient struct {
	httpClient   *http.Client
	clientID     string
	clientSecret string
}

// NewDiscordClient builds a DiscordClient for the given OAuth2 app credentials.
func NewDiscordClient(clientID, clientSecret string) *DiscordClient {
	return &DiscordClient{
		httpClient:   &http.Client{Timeout: 10 * time.Second},
		clientID:     clientID,
		clientSecret: clientSecret,
	}
}

// DiscordProfile is the subset of /users/@me that identity exchange needs.
type DiscordProfile struct {
	ID         string `json:"id"`
	Username   string `json:"username"`
	GlobalName string `json:"global_name"`
	Avatar     string `json:"avatar"`
}

// ExchangeCode trades an OAuth2 authorization code for an access token.
func (c *DiscordClient) ExchangeCode(ctx context.Context, code, redirectURI string) (string, error) {
	form := url.Values{
		"client_id":     {c.clientID},
		"client_secret": {c.clientSecret},
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"redirect_uri":  {redirectURI},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenURL(), strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("auth: building token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("auth: token exchange request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("auth: token exchange returned status %d", resp.StatusCode)
	}

	var decoded struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", fmt.Errorf("auth: decoding token response: %w", err)
	}
	return decoded.AccessToken, nil
}

// CurrentUser fetches the authenticated user's profile.
func (c *DiscordClient) CurrentUser(ctx context.Context, accessToken string) (DiscordProfile, error) {
	var profile DiscordProfile
	err := c.getJSON(ctx, apiBase()+"/users/@me", accessToken, &profile)
	return profile, err
}

// GuildRoles fetches the caller's roles within guildID, treating a 404
// response as "not a member" and returning ErrAccessDenied rather than
// a generic HTTP error.
func (c *DiscordClient) GuildRoles(ctx context.Context, accessToken, guildID string) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/users/@me/guilds/%s/member", apiBase(), guildID), nil)
	if err != nil {
		return nil, fmt.Errorf("auth: building guild member request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("auth: guild member request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrAccessDenied
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("auth: guild member request returned status %d", resp.StatusCode)
	}

	var decoded struct {
		Roles []string `json:"roles"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("auth: decoding guild member response: %w", err)
	}
	return decoded.Roles, nil
}

func (c *DiscordClient) getJSON(ctx context.Context, url, accessToken string, dest any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("auth: building request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("auth: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("auth: request to %s returned status %d", url, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(dest)
}
