package models

import (
	"time"

	"golang.org/x/oauth2"
)

// Credential is the OAuth token material held for one provider.
// ExpiresAt is an estimate; a 401 from the provider is what actually marks
// the access token as stale.
type Credential struct {
	Provider     Provider  `json:"provider"`
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	TokenType    string    `json:"token_type,omitempty"`
	ExpiresAt    time.Time `json:"expires_at,omitempty"`
}

// CredentialFromToken captures an oauth2 token for storage.
func CredentialFromToken(p Provider, tok *oauth2.Token) *Credential {
	return &Credential{
		Provider:     p,
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.TokenType,
		ExpiresAt:    tok.Expiry,
	}
}

// Token converts the credential back into an oauth2 token.
func (c *Credential) Token() *oauth2.Token {
	return &oauth2.Token{
		AccessToken:  c.AccessToken,
		RefreshToken: c.RefreshToken,
		TokenType:    c.TokenType,
		Expiry:       c.ExpiresAt,
	}
}

// Expired reports whether the estimated expiry has passed.
func (c *Credential) Expired(now time.Time) bool {
	return !c.ExpiresAt.IsZero() && !now.Before(c.ExpiresAt)
}
