package models

import "time"

// Cookie is one entry of a credential bundle. Expires is unix seconds, -1 for a session cookie.
type Cookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain"`
	Path     string  `json:"path"`
	Expires  float64 `json:"expires"`
	HTTPOnly bool    `json:"httpOnly"`
	Secure   bool    `json:"secure"`
	SameSite string  `json:"sameSite,omitempty"`
	Session  bool    `json:"session"`
}

// IsSession reports whether the cookie carries no expiry: a session cookie, or one
// exported with expires 0 or -1
func (c Cookie) IsSession() bool {
	return c.Session || c.Expires <= 0
}

// ExpiresAt returns the expiry time; zero for session cookies
func (c Cookie) ExpiresAt() time.Time {
	if c.IsSession() {
		return time.Time{}
	}
	sec := int64(c.Expires)
	nsec := int64((c.Expires - float64(sec)) * float64(time.Second))
	return time.Unix(sec, nsec)
}

// CredentialBundle is the persisted cookie set of one account, replaced wholesale on refresh.
type CredentialBundle struct {
	AccountID string    `json:"accountId" badgerhold:"key"`
	Cookies   []Cookie  `json:"cookies"`
	SavedAt   time.Time `json:"savedAt"`
}

// Cookie returns the named entry
func (b *CredentialBundle) Cookie(name string) (Cookie, bool) {
	if b == nil {
		return Cookie{}, false
	}
	for _, c := range b.Cookies {
		if c.Name == name {
			return c, true
		}
	}
	return Cookie{}, false
}

// CriticalCookies are the session markers a bundle must carry to be reusable.
var CriticalCookies = []string{"li_at", "li_rm", "JSESSIONID"}

// CookieState is the freshness classification of one critical cookie
type CookieState string

const (
	CookieValid        CookieState = "valid"
	CookieExpiringSoon CookieState = "expiring_soon"
	CookieExpired      CookieState = "expired"
	CookieMissing      CookieState = "missing"
)

// CookieCheck is the validation result of one critical cookie
type CookieCheck struct {
	Name      string
	State     CookieState
	ExpiresIn time.Duration // Zero for session cookies
}

// BundleValidation summarises whether a bundle can be reused
type BundleValidation struct {
	Usable bool
	Checks []CookieCheck
}

// ValidateBundle classifies every critical cookie relative to now. Missing or expired
// entries make the bundle unusable; entries expiring within horizon stay valid but are
// reported as expiring soon. A usable bundle has at least one confirmed valid entry.
func ValidateBundle(bundle *CredentialBundle, now time.Time, horizon time.Duration) BundleValidation {
	result := BundleValidation{}
	if bundle == nil || len(bundle.Cookies) == 0 {
		for _, name := range CriticalCookies {
			result.Checks = append(result.Checks, CookieCheck{Name: name, State: CookieMissing})
		}
		return result
	}

	blocked := false
	valid := 0
	for _, name := range CriticalCookies {
		check := CookieCheck{Name: name}
		cookie, ok := bundle.Cookie(name)
		switch {
		case !ok:
			check.State = CookieMissing
			blocked = true
		case cookie.IsSession():
			check.State = CookieValid
			valid++
		default:
			remaining := cookie.ExpiresAt().Sub(now)
			check.ExpiresIn = remaining
			switch {
			case remaining <= 0:
				check.State = CookieExpired
				blocked = true
			case remaining < horizon:
				check.State = CookieExpiringSoon
				valid++
			default:
				check.State = CookieValid
				valid++
			}
		}
		result.Checks = append(result.Checks, check)
	}

	result.Usable = !blocked && valid > 0
	return result
}
