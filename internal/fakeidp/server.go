// Package fakeidp is an in-memory identity provider speaking the same
// contract as the production admin backend. It backs local development
// (cmd/fake-idp) and the client tests.
package fakeidp

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/crypto/bcrypt"

	"github.com/felixgeelhaar/kbadmin/internal/log"
	"github.com/felixgeelhaar/kbadmin/internal/metrics"
)

// Config tunes token issuing.
type Config struct {
	// Secret signs tokens (HS256).
	Secret string
	// TokenTTL is the lifetime of an issued token.
	TokenTTL time.Duration
	// RefreshWithin makes protected endpoints return a renewed token once
	// less than this much lifetime remains. Zero disables sliding renewal.
	RefreshWithin time.Duration
	// BcryptCost is the password hashing cost.
	BcryptCost int
}

// DefaultConfig mirrors the backend defaults: one hour tokens renewed during
// their last fifteen minutes.
func DefaultConfig() Config {
	return Config{
		Secret:        "fake-idp-development-secret",
		TokenTTL:      time.Hour,
		RefreshWithin: 15 * time.Minute,
		BcryptCost:    bcrypt.MinCost,
	}
}

// User is an account known to the provider.
type User struct {
	UID      string
	Username string
	Email    string
	OrgID    string
	Role     string
}

type account struct {
	User
	hash []byte
}

// Server is the fake identity provider.
type Server struct {
	cfg    Config
	echo   *echo.Echo
	logger *log.Logger
	now    func() time.Time

	registry *prometheus.Registry
	metrics  *metrics.Metrics

	mu       sync.RWMutex
	accounts map[string]*account // by uid
	orgs     map[string]string   // org id -> name
}

// New creates a provider with no accounts.
func New(cfg Config, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.Nop()
	}
	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = bcrypt.DefaultCost
	}

	reg, m := metrics.NewRegistry()
	s := &Server{
		cfg:      cfg,
		registry: reg,
		metrics:  m,
		logger:   logger.Component("fake-idp"),
		now:      time.Now,
		accounts: make(map[string]*account),
		orgs:     make(map[string]string),
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = &requestValidator{v: validator.New()}
	e.HTTPErrorHandler = s.handleError
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(s.observe)
	s.echo = e
	s.routes()
	return s
}

// SetClock overrides the time source used for token issuing and checks.
func (s *Server) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *Server) clock() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.now()
}

// Metrics returns the provider's counters.
func (s *Server) Metrics() *metrics.Metrics {
	return s.metrics
}

// observe records request latency per route template.
func (s *Server) observe(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		err := next(c)
		if err != nil {
			c.Error(err)
		}
		s.metrics.RequestDuration.
			WithLabelValues(c.Request().Method, c.Path(), strconv.Itoa(c.Response().Status)).
			Observe(time.Since(start).Seconds())
		return err
	}
}

// Handler returns the HTTP handler, e.g. for httptest.NewServer.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start serves on addr until Shutdown.
func (s *Server) Start(addr string) error {
	s.logger.Info("fake identity provider listening", "addr", addr)
	if err := s.echo.Start(addr); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// AddUser seeds an account. The organisation is created when missing.
func (s *Server) AddUser(u User, password string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cfg.BcryptCost)
	if err != nil {
		return err
	}
	if u.UID == "" {
		u.UID = u.Username
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[u.UID] = &account{User: u, hash: hash}
	if _, ok := s.orgs[u.OrgID]; !ok {
		s.orgs[u.OrgID] = u.OrgID
	}
	return nil
}

// lookup finds an account by email, uid or username.
func (s *Server) lookup(identifier string) (*account, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if strings.Contains(identifier, "@") {
		for _, a := range s.accounts {
			if strings.EqualFold(a.Email, identifier) {
				return a, true
			}
		}
		return nil, false
	}

	if a, ok := s.accounts[identifier]; ok {
		return a, true
	}
	for _, a := range s.accounts {
		if a.Username == identifier {
			return a, true
		}
	}
	return nil, false
}

// requestValidator adapts go-playground/validator to echo.
type requestValidator struct {
	v *validator.Validate
}

func (rv *requestValidator) Validate(i any) error {
	return rv.v.Struct(i)
}

// handleError renders every error as {"detail": message}.
func (s *Server) handleError(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	code := http.StatusInternalServerError
	msg := "Internal server error"
	if he, ok := err.(*echo.HTTPError); ok {
		code = he.Code
		if m, ok := he.Message.(string); ok {
			msg = m
		} else {
			msg = http.StatusText(code)
		}
	} else {
		s.logger.WithError(err).Error("unhandled error", "path", c.Path())
	}

	if code == http.StatusUnauthorized || code == http.StatusForbidden {
		s.metrics.Rejections.WithLabelValues(strconv.Itoa(code), c.Path()).Inc()
	}
	if code == http.StatusUnauthorized {
		c.Response().Header().Set(echo.HeaderWWWAuthenticate, "Bearer")
	}
	if err := c.JSON(code, map[string]string{"detail": msg}); err != nil {
		s.logger.WithError(err).Warn("writing error response")
	}
}

func bcryptMismatch(hash []byte, password string) bool {
	return bcrypt.CompareHashAndPassword(hash, []byte(password)) != nil
}
