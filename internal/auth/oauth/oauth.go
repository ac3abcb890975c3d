// Package oauth exchanges Google authorization codes for verified
// email addresses.
package oauth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	apperrors "github.com/louisbranch/fortress/internal/platform/errors"
)

// Config holds Google OAuth client settings. The flow is disabled when
// no client is configured.
type Config struct {
	GoogleClientID     string `env:"FORTRESS_OAUTH_GOOGLE_CLIENT_ID"`
	GoogleClientSecret string `env:"FORTRESS_OAUTH_GOOGLE_CLIENT_SECRET"`
	GoogleRedirectURL  string `env:"FORTRESS_OAUTH_GOOGLE_REDIRECT_URL" envDefault:"http://localhost:8086/auth/oauth/google/callback"`
}

// Enabled reports whether a Google client is configured.
func (c Config) Enabled() bool {
	return c.GoogleClientID != "" && c.GoogleClientSecret != ""
}

// Provider redeems an upstream authorization for an email identity.
type Provider interface {
	AuthURL(state string) string
	Exchange(ctx context.Context, code string) (email string, err error)
}

// GoogleProvider implements Provider against Google's OAuth endpoints.
type GoogleProvider struct {
	config *oauth2.Config

	// userinfoURL is the fallback identity endpoint when the token
	// response carries no usable ID token.
	userinfoURL string
}

// NewGoogleProvider builds a provider from config.
func NewGoogleProvider(config Config) *GoogleProvider {
	return &GoogleProvider{
		config: &oauth2.Config{
			ClientID:     config.GoogleClientID,
			ClientSecret: config.GoogleClientSecret,
			RedirectURL:  config.GoogleRedirectURL,
			Scopes: []string{
				"https://www.googleapis.com/auth/userinfo.email",
				"https://www.googleapis.com/auth/userinfo.profile",
			},
			Endpoint: google.Endpoint,
		},
		userinfoURL: "https://openidconnect.googleapis.com/v1/userinfo",
	}
}

// AuthURL returns the consent page URL carrying the CSRF state.
func (p *GoogleProvider) AuthURL(state string) string {
	return p.config.AuthCodeURL(state)
}

// Exchange redeems the authorization code and extracts a verified
// email. The ID token riding on the token response is preferred; the
// userinfo endpoint is the fallback. An email Google has not verified
// is rejected rather than trusted.
func (p *GoogleProvider) Exchange(ctx context.Context, code string) (string, error) {
	token, err := p.config.Exchange(ctx, code)
	if err != nil {
		return "", apperrors.Wrap(apperrors.CodeUpstreamFailure, "authorization code exchange failed", err)
	}

	if email, ok := emailFromIDToken(token); ok {
		return email, nil
	}

	email, verified, err := p.fetchUserinfo(ctx, token)
	if err != nil {
		return "", err
	}
	if email == "" || !verified {
		return "", apperrors.New(apperrors.CodeUpstreamFailure, "provider did not supply a verified email")
	}
	return email, nil
}

// emailFromIDToken pulls a verified email out of the OIDC ID token.
// The token arrives over the code exchange's TLS channel straight from
// Google, so its claims are read without signature verification.
func emailFromIDToken(token *oauth2.Token) (string, bool) {
	idToken, ok := token.Extra("id_token").(string)
	if !ok || idToken == "" {
		return "", false
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(idToken, claims); err != nil {
		return "", false
	}

	email, _ := claims["email"].(string)
	if email == "" || !verifiedClaim(claims["email_verified"]) {
		return "", false
	}
	return email, true
}

// verifiedClaim tolerates both the boolean and string forms Google has
// used for email_verified.
func verifiedClaim(value any) bool {
	switch v := value.(type) {
	case bool:
		return v
	case string:
		return v == "true"
	default:
		return false
	}
}

func (p *GoogleProvider) fetchUserinfo(ctx context.Context, token *oauth2.Token) (string, bool, error) {
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, p.userinfoURL, nil)
	if err != nil {
		return "", false, fmt.Errorf("build userinfo request: %w", err)
	}

	response, err := p.config.Client(ctx, token).Do(request)
	if err != nil {
		return "", false, apperrors.Wrap(apperrors.CodeUpstreamFailure, "userinfo request failed", err)
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		return "", false, apperrors.New(apperrors.CodeUpstreamFailure, fmt.Sprintf("userinfo returned status %d", response.StatusCode))
	}

	var payload struct {
		Email         string `json:"email"`
		EmailVerified bool   `json:"email_verified"`
	}
	if err := json.NewDecoder(response.Body).Decode(&payload); err != nil {
		return "", false, apperrors.Wrap(apperrors.CodeUpstreamFailure, "decode userinfo response", err)
	}
	return payload.Email, payload.EmailVerified, nil
}
