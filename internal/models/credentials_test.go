package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func bundleWith(now time.Time, expiries map[string]time.Duration) *CredentialBundle {
	b := &CredentialBundle{AccountID: "acc"}
	for name, in := range expiries {
		c := Cookie{Name: name, Value: "v"}
		if in == 0 {
			c.Expires = -1
			c.Session = true
		} else {
			c.Expires = float64(now.Add(in).Unix())
		}
		b.Cookies = append(b.Cookies, c)
	}
	return b
}

func TestValidateBundle(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name       string
		bundle     *CredentialBundle
		wantUsable bool
	}{
		{"nil bundle", nil, false},
		{"empty bundle", &CredentialBundle{}, false},
		{"all valid", bundleWith(now, map[string]time.Duration{"li_at": 48 * time.Hour, "li_rm": 48 * time.Hour, "JSESSIONID": 48 * time.Hour}), true},
		{"session cookies count as valid", bundleWith(now, map[string]time.Duration{"li_at": 48 * time.Hour, "li_rm": 0, "JSESSIONID": 0}), true},
		{"expiring soon still usable", bundleWith(now, map[string]time.Duration{"li_at": 10 * time.Minute, "li_rm": 48 * time.Hour, "JSESSIONID": 0}), true},
		{"one expired", bundleWith(now, map[string]time.Duration{"li_at": -time.Minute, "li_rm": 48 * time.Hour, "JSESSIONID": 0}), false},
		{"one missing", bundleWith(now, map[string]time.Duration{"li_at": 48 * time.Hour, "JSESSIONID": 0}), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ValidateBundle(tt.bundle, now, time.Hour)
			assert.Equal(t, tt.wantUsable, result.Usable)
			assert.Len(t, result.Checks, len(CriticalCookies))
		})
	}
}

func TestValidateBundle_States(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	bundle := bundleWith(now, map[string]time.Duration{"li_at": 10 * time.Minute, "li_rm": -time.Second})

	result := ValidateBundle(bundle, now, time.Hour)

	states := map[string]CookieState{}
	for _, c := range result.Checks {
		states[c.Name] = c.State
	}
	assert.Equal(t, CookieExpiringSoon, states["li_at"])
	assert.Equal(t, CookieExpired, states["li_rm"])
	assert.Equal(t, CookieMissing, states["JSESSIONID"])
}

func TestValidateBundle_ZeroExpiryIsNotExpired(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	bundle := &CredentialBundle{AccountID: "primary", Cookies: []Cookie{
		{Name: "li_at", Value: "a", Expires: 0},
		{Name: "li_rm", Value: "b", Expires: -1},
		{Name: "JSESSIONID", Value: "c", Expires: float64(now.Add(48 * time.Hour).Unix())},
	}}

	result := ValidateBundle(bundle, now, time.Hour)
	assert.True(t, result.Usable)
	for _, c := range result.Checks {
		assert.Equal(t, CookieValid, c.State, c.Name)
	}
	assert.True(t, bundle.Cookies[0].ExpiresAt().IsZero())
}
