package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"

	"github.com/majeggstics/snapshotd/internal/models"
)

// RoleSet is the collection of Discord role IDs that grant access,
// per spec.md §4.9 step 4.
type RoleSet struct {
	Guild     string
	MajRole   string
	YCRole    string
	AdminRole string
}

// Exchanger ties the Discord client, required role set, and JWT
// signing secret together to produce session tokens (C9).
type Exchanger struct {
	discord     *DiscordClient
	roles       RoleSet
	jwtSecret   []byte
	supabaseURL string
	sessionTTL  time.Duration
}

// NewExchanger builds an Exchanger.
func NewExchanger(discord *DiscordClient, roles RoleSet, jwtSecret []byte, supabaseURL string, sessionTTL time.Duration) *Exchanger {
	return &Exchanger{discord: discord, roles: roles, jwtSecret: jwtSecret, supabaseURL: supabaseURL, sessionTTL: sessionTTL}
}

// SessionResult is what a successful exchange returns.
type SessionResult struct {
	Token       string
	Profile     DiscordProfile
	AccessLevel models.AccessLevel
	ExpiresAt   time.Time
}

// sessionClaims is the claim set minted per spec.md §4.9 step 5.
type sessionClaims struct {
	jwt.RegisteredClaims
	Role         string         `json:"role"`
	Email        string         `json:"email"`
	Phone        string         `json:"phone"`
	DiscordID    string         `json:"discord_id"`
	AccessLevel  string         `json:"access_level"`
	AppMetadata  map[string]any `json:"app_metadata"`
	UserMetadata map[string]any `json:"user_metadata"`
}

// Exchange performs the full C9 flow: code → access token → profile →
// guild role check → signed session token.
func (e *Exchanger) Exchange(ctx context.Context, code, redirectURI string) (SessionResult, error) {
	accessToken, err := e.discord.ExchangeCode(ctx, code, redirectURI)
	if err != nil {
		return SessionResult{}, fmt.Errorf("auth: code exchange: %w", err)
	}

	profile, err := e.discord.CurrentUser(ctx, accessToken)
	if err != nil {
		return SessionResult{}, fmt.Errorf("auth: fetching profile: %w", err)
	}

	roles, err := e.discord.GuildRoles(ctx, accessToken, e.roles.Guild)
	if err != nil {
		if errors.Is(err, ErrAccessDenied) {
			return SessionResult{}, ErrAccessDenied
		}
		return SessionResult{}, fmt.Errorf("auth: checking guild membership: %w", err)
	}

	has := func(role string) bool {
		if role == "" {
			return false
		}
		for _, r := range roles {
			if r == role {
				return true
			}
		}
		return false
	}

	if !has(e.roles.MajRole) && !has(e.roles.YCRole) {
		return SessionResult{}, ErrAccessDenied
	}

	accessLevel := models.AccessUser
	if has(e.roles.YCRole) || has(e.roles.AdminRole) {
		accessLevel = models.AccessAdmin
	}

	now := time.Now().UTC()
	expiresAt := now.Add(e.sessionTTL)

	claims := sessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    e.supabaseURL + "/auth/v1",
			Subject:   profile.ID,
			Audience:  jwt.ClaimStrings{"authenticated"},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		Role:        "authenticated",
		Email:       "",
		Phone:       "",
		DiscordID:   profile.ID,
		AccessLevel: string(accessLevel),
		AppMetadata: map[string]any{
			"provider":  "discord",
			"providers": []string{"discord"},
		},
		UserMetadata: map[string]any{
			"username":    profile.Username,
			"global_name": profile.GlobalName,
			"avatar":      profile.Avatar,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(e.jwtSecret)
	if err != nil {
		return SessionResult{}, fmt.Errorf("auth: signing session token: %w", err)
	}

	return SessionResult{
		Token:       signed,
		Profile:     profile,
		AccessLevel: accessLevel,
		ExpiresAt:   expiresAt,
	}, nil
}
