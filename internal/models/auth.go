package models

import "time"

// TwoFactorProvider identifies a second-factor method.
type TwoFactorProvider int

const (
	TwoFactorAuthenticator TwoFactorProvider = 0
	TwoFactorEmail         TwoFactorProvider = 1
	TwoFactorRemember      TwoFactorProvider = 5
)

// TokenInfo is the decoded state of the current access token.
type TokenInfo struct {
	UserID    string    `json:"user_id"`
	Email     string    `json:"email"`
	Name      string    `json:"name,omitempty"`
	Premium   bool      `json:"premium"`
	ExpiresAt time.Time `json:"expires_at"`
}

// IsExpired checks if the token has expired.
func (t *TokenInfo) IsExpired() bool {
	return time.Now().After(t.ExpiresAt)
}

// SecondsRemaining returns the seconds left before expiry, never negative.
func (t *TokenInfo) SecondsRemaining() int {
	d := time.Until(t.ExpiresAt)
	if d < 0 {
		return 0
	}
	return int(d.Seconds())
}
