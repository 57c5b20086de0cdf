package auth

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Profile is the identity attached to a session. Role and TenantID are
// authoritative for authorization. Role is an open enumeration supplied by
// the provider.
type Profile struct {
	UID      string `json:"uid"`
	Username string `json:"username"`
	Email    string `json:"email,omitempty"`
	Role     string `json:"role"`
	TenantID string `json:"tenantId"`
}

// Validate checks the fields every session needs.
func (p Profile) Validate() error {
	if p.UID == "" && p.Username == "" {
		return fmt.Errorf("profile has neither uid nor username")
	}
	if p.Role == "" {
		return fmt.Errorf("profile has no role")
	}
	return nil
}

// DisplayName returns the username, falling back to the email and uid.
func (p Profile) DisplayName() string {
	switch {
	case p.Username != "":
		return p.Username
	case p.Email != "":
		return p.Email
	default:
		return p.UID
	}
}

// Session is the authenticated identity of this client.
type Session struct {
	Token   string
	Profile Profile
}

func decodeProfile(raw json.RawMessage) (Profile, error) {
	var p Profile
	if err := json.Unmarshal(raw, &p); err != nil {
		return Profile{}, err
	}
	if err := p.Validate(); err != nil {
		return Profile{}, err
	}
	return p, nil
}

// TokenExpiry returns the exp claim when token happens to be a JWT. The
// signature is not checked and the result is only suitable for display.
func TokenExpiry(token string) (time.Time, bool) {
	if strings.Count(token, ".") != 2 {
		return time.Time{}, false
	}

	parsed, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		return time.Time{}, false
	}

	exp, err := parsed.Claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}

// Redact shortens a token for logs: only the last four characters survive.
func Redact(token string) string {
	if len(token) <= 4 {
		return "****"
	}
	return "…" + token[len(token)-4:]
}
