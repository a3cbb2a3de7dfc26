package domain

import "time"

const ProviderUberEats = "UberEats"

type AccessToken struct {
	Provider  string    `json:"provider"`
	Token     string    `json:"access_token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// ValidAt reports whether the token can still be used at now. ExpiresAt already
// has the refresh margin subtracted.
func (t AccessToken) ValidAt(now time.Time) bool {
	return t.Token != "" && now.Before(t.ExpiresAt)
}
