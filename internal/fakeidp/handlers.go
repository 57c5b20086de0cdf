package fakeidp

import (
	"net/http"
	"regexp"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/felixgeelhaar/kbadmin/internal/metrics"
)

func (s *Server) routes() {
	s.echo.GET("/metrics", echo.WrapHandler(metrics.HandlerFor(s.registry)))

	api := s.echo.Group("/api/v1")

	authg := api.Group("/auth")
	authg.POST("/login", s.login)
	authg.POST("/register", s.register)
	authg.POST("/logout", s.logout)
	authg.GET("/check-org-id", s.checkOrgID)
	authg.POST("/refresh", s.refresh, s.authenticate)
	authg.GET("/me", s.me, s.authenticate)

	// Sample admin API used to exercise renewal and rejection.
	api.GET("/documents", s.documents, s.authenticate)
	api.GET("/queries", s.documents, s.authenticate)
	api.GET("/users", s.users, s.authenticate, requireRole("superuser"))
}

type loginRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type registerRequest struct {
	Email            string `json:"email" validate:"required,email,max=254"`
	Password         string `json:"password" validate:"required,min=8,max=200"`
	OrganisationID   string `json:"organisation_id" validate:"required,min=3,max=50"`
	OrganisationName string `json:"organisation_name" validate:"required,max=200"`
	Username         string `json:"username"`
}

type userResponse struct {
	UID      string `json:"uid"`
	Username string `json:"username"`
	Email    string `json:"email,omitempty"`
	OrgID    string `json:"org_id"`
	Role     string `json:"role"`
	Token    string `json:"token,omitempty"`
}

func toResponse(u User, token string) userResponse {
	return userResponse{UID: u.UID, Username: u.Username, Email: u.Email, OrgID: u.OrgID, Role: u.Role, Token: token}
}

func (s *Server) login(c echo.Context) error {
	var req loginRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid input")
	}

	identifier := req.Email
	if identifier == "" {
		identifier = req.Username
	}
	if identifier == "" || len(identifier) > 254 || req.Password == "" || len(req.Password) > 200 {
		s.metrics.LoginAttempts.WithLabelValues("invalid_input").Inc()
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid input")
	}

	acct, ok := s.lookup(identifier)
	if !ok || bcryptMismatch(acct.hash, req.Password) {
		s.logger.Debug("login rejected", "identifier", identifier)
		s.metrics.LoginAttempts.WithLabelValues("invalid_credentials").Inc()
		return echo.NewHTTPError(http.StatusUnauthorized, "Invalid credentials")
	}

	token, err := s.issue(acct.User, metrics.ReasonLogin)
	if err != nil {
		return err
	}
	s.metrics.LoginAttempts.WithLabelValues("success").Inc()
	s.logger.Info("login", "uid", acct.UID, "org", acct.OrgID)
	return c.JSON(http.StatusOK, map[string]any{
		"status":  "success",
		"message": "Login successful",
		"user":    toResponse(acct.User, token),
	})
}

var orgIDFormat = regexp.MustCompile(`^[a-z0-9_-]+$`)

func (s *Server) register(c echo.Context) error {
	var req registerRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid input")
	}
	req.Email = strings.TrimSpace(req.Email)
	req.OrganisationID = strings.ToLower(strings.TrimSpace(req.OrganisationID))
	req.OrganisationName = strings.TrimSpace(req.OrganisationName)
	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" {
		req.Username = req.OrganisationID
	}

	if err := c.Validate(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, registrationMessage(err))
	}
	if !orgIDFormat.MatchString(req.OrganisationID) {
		return echo.NewHTTPError(http.StatusBadRequest,
			"Organisation ID can only contain lowercase letters, numbers, hyphens, and underscores")
	}

	s.mu.RLock()
	_, orgTaken := s.orgs[req.OrganisationID]
	s.mu.RUnlock()
	if orgTaken {
		return echo.NewHTTPError(http.StatusConflict, "Organisation ID already taken")
	}
	if _, emailTaken := s.lookup(req.Email); emailTaken {
		return echo.NewHTTPError(http.StatusConflict, "Email already registered")
	}

	u := User{
		UID:      req.OrganisationID,
		Username: req.Username,
		Email:    req.Email,
		OrgID:    req.OrganisationID,
		Role:     "superuser",
	}
	if err := s.AddUser(u, req.Password); err != nil {
		return err
	}
	s.mu.Lock()
	s.orgs[req.OrganisationID] = req.OrganisationName
	s.mu.Unlock()

	token, err := s.issue(u, metrics.ReasonRegister)
	if err != nil {
		return err
	}
	s.logger.Info("registered organisation", "org", u.OrgID)
	return c.JSON(http.StatusOK, map[string]any{
		"status":  "success",
		"message": "Registration successful",
		"user":    toResponse(u, token),
	})
}

func registrationMessage(err error) string {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "'Email'"):
		return "Invalid email address"
	case strings.Contains(msg, "'Password'"):
		return "Password must be at least 8 characters"
	case strings.Contains(msg, "'OrganisationID'"):
		return "Organisation ID must be 3-50 characters"
	case strings.Contains(msg, "'OrganisationName'"):
		return "Organisation name is required"
	default:
		return "Invalid input"
	}
}

func (s *Server) logout(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "success", "message": "Logged out successfully"})
}

func (s *Server) checkOrgID(c echo.Context) error {
	orgID := c.QueryParam("org_id")
	if len(orgID) < 3 {
		return echo.NewHTTPError(http.StatusBadRequest, "Organisation ID must be at least 3 characters")
	}
	if !orgIDFormat.MatchString(strings.ToLower(orgID)) {
		return echo.NewHTTPError(http.StatusBadRequest,
			"Organisation ID can only contain letters, numbers, hyphens, and underscores")
	}

	s.mu.RLock()
	_, taken := s.orgs[orgID]
	s.mu.RUnlock()
	return c.JSON(http.StatusOK, map[string]any{"available": !taken, "org_id": orgID})
}

func (s *Server) refresh(c echo.Context) error {
	claims := c.Get(userKey).(*Claims)
	token, err := s.issue(claims.user(), metrics.ReasonRefresh)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "success", "token": token})
}

func (s *Server) me(c echo.Context) error {
	claims := c.Get(userKey).(*Claims)
	u := claims.user()
	superuser := u.Role == "superuser"
	return c.JSON(http.StatusOK, map[string]any{
		"status": "success",
		"user": map[string]any{
			"uid":          u.UID,
			"username":     u.Username,
			"email":        u.Email,
			"org_id":       u.OrgID,
			"role":         u.Role,
			"can_write":    superuser || u.Role == "admin",
			"can_read":     true,
			"is_superuser": superuser,
		},
	})
}

func (s *Server) documents(c echo.Context) error {
	claims := c.Get(userKey).(*Claims)
	return c.JSON(http.StatusOK, map[string]any{
		"org_id": claims.OrgID,
		"items":  []string{},
	})
}

func (s *Server) users(c echo.Context) error {
	claims := c.Get(userKey).(*Claims)

	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []userResponse
	for _, a := range s.accounts {
		if a.OrgID == claims.OrgID {
			out = append(out, toResponse(a.User, ""))
		}
	}
	return c.JSON(http.StatusOK, map[string]any{"users": out})
}
