// Package token holds the single current OAuth credential for the
// Atlassian connection and its durable storage contract.
package token

import (
	"context"
	"time"
)

// Credential is an OAuth 2.0 credential as stored. ExpiresAt is always an
// absolute UTC instant; a nil ExpiresAt means the credential never expires.
type Credential struct {
	AccessToken  string     `json:"access_token"`
	RefreshToken string     `json:"refresh_token,omitempty"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
}

// Expired reports whether the credential is past its expiry at the given
// instant. Credentials without an expiry never expire.
func (c Credential) Expired(now time.Time) bool {
	if c.ExpiresAt == nil {
		return false
	}
	return now.After(*c.ExpiresAt)
}

// FromOAuthResponse builds a credential from a token endpoint response,
// converting the relative expires_in into an absolute instant. A missing or
// zero expires_in falls back to one hour, matching the authorization
// server's default.
func FromOAuthResponse(accessToken, refreshToken string, expiresIn int64, now time.Time) Credential {
	if expiresIn <= 0 {
		expiresIn = 3600
	}
	expiresAt := now.UTC().Add(time.Duration(expiresIn) * time.Second)
	return Credential{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresAt:    &expiresAt,
	}
}

// Store persists the current credential. Save overwrites; Get returns
// (nil, nil) when no credential is stored.
type Store interface {
	Save(ctx context.Context, cred Credential) error
	Get(ctx context.Context) (*Credential, error)
	Clear(ctx context.Context) error
}
