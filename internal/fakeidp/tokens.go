package fakeidp

import (
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"

	"github.com/felixgeelhaar/kbadmin/internal/metrics"
)

// RenewalHeader carries a renewed token on protected responses.
const RenewalHeader = "X-New-Token"

// Claims is the token payload.
type Claims struct {
	UID      string `json:"uid"`
	Username string `json:"username"`
	Email    string `json:"email,omitempty"`
	OrgID    string `json:"org_id"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

func (c *Claims) user() User {
	return User{UID: c.UID, Username: c.Username, Email: c.Email, OrgID: c.OrgID, Role: c.Role}
}

// IssueToken signs a token for u.
func (s *Server) IssueToken(u User) (string, error) {
	now := s.clock()
	claims := Claims{
		UID:      u.UID,
		Username: u.Username,
		Email:    u.Email,
		OrgID:    u.OrgID,
		Role:     u.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   u.Username,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.cfg.TokenTTL)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(s.cfg.Secret))
}

func (s *Server) issue(u User, reason string) (string, error) {
	token, err := s.IssueToken(u)
	if err == nil {
		s.metrics.TokensIssued.WithLabelValues(reason).Inc()
	}
	return token, err
}

// parseToken validates signature and expiry against the server clock.
func (s *Server) parseToken(raw string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return []byte(s.cfg.Secret), nil
	}, jwt.WithTimeFunc(s.clock), jwt.WithExpirationRequired())
	if err != nil {
		return nil, err
	}
	return claims, nil
}

const userKey = "user"

// authenticate rejects requests without a valid bearer token and attaches a
// renewed token when the presented one is close to expiry.
func (s *Server) authenticate(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		header := c.Request().Header.Get(echo.HeaderAuthorization)
		raw := strings.TrimPrefix(header, "Bearer ")
		if header == "" || raw == header {
			return echo.NewHTTPError(http.StatusUnauthorized, "Not authenticated")
		}

		claims, err := s.parseToken(raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusUnauthorized, "Invalid or expired token")
		}

		if s.cfg.RefreshWithin > 0 && remaining(claims, s.clock()) < s.cfg.RefreshWithin {
			renewed, err := s.issue(claims.user(), metrics.ReasonRenewal)
			if err != nil {
				return err
			}
			c.Response().Header().Set(RenewalHeader, renewed)
			c.Response().Header().Set("Access-Control-Expose-Headers", RenewalHeader)
		}

		c.Set(userKey, claims)
		return next(c)
	}
}

// requireRole answers 403 unless the caller has one of roles.
func requireRole(roles ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			claims := c.Get(userKey).(*Claims)
			for _, r := range roles {
				if claims.Role == r {
					return next(c)
				}
			}
			return echo.NewHTTPError(http.StatusForbidden, "Your role does not have permission to access this resource.")
		}
	}
}

func remaining(c *Claims, now time.Time) time.Duration {
	if c.ExpiresAt == nil {
		return 0
	}
	return c.ExpiresAt.Sub(now)
}
