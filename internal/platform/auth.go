package platform

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"net/url"
	"reflect"
	"regexp"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/felixgeelhaar/kbadmin/internal/auth"
	"github.com/felixgeelhaar/kbadmin/internal/errors"
)

// ResultCode classifies an unsuccessful login or registration.
type ResultCode string

const (
	CodeInvalidCredentials ResultCode = "invalid_credentials"
	CodeEmailTaken         ResultCode = "email_taken"
	CodeOrgIDTaken         ResultCode = "org_id_taken"
	CodeInvalidInput       ResultCode = "invalid_input"
	CodeRateLimited        ResultCode = "rate_limited"
	CodeProviderError      ResultCode = "provider_error"
)

// Result is the outcome of Login or Register. Expected rejections are
// results, not errors; Field names the input the rejection belongs to.
type Result struct {
	Success   bool
	Session   auth.Session
	ErrorCode ResultCode
	Field     string
	Detail    string
}

func failure(code ResultCode, field, detail string) Result {
	return Result{ErrorCode: code, Field: field, Detail: detail}
}

// Err converts a failed result into a coded error, nil on success.
func (r Result) Err() error {
	if r.Success {
		return nil
	}

	switch r.ErrorCode {
	case CodeInvalidCredentials:
		return errors.New(errors.ErrCodeInvalidCredentials, "invalid credentials").
			WithSuggestion("Check your username or email and password")
	case CodeEmailTaken:
		return errors.New(errors.ErrCodeConflict, "email already registered").
			WithSuggestions("Use a different email", "Log in with 'kbadmin login' instead")
	case CodeOrgIDTaken:
		return errors.New(errors.ErrCodeConflict, "organisation id already taken").
			WithSuggestion("Choose another organisation id")
	case CodeInvalidInput:
		msg := r.Detail
		if r.Field != "" {
			msg = fmt.Sprintf("%s: %s", r.Field, r.Detail)
		}
		return errors.New(errors.ErrCodeInvalidInput, msg)
	case CodeRateLimited:
		return errors.New(errors.ErrCodeProviderRejected, "too many attempts").
			WithSuggestion("Wait a minute and try again")
	default:
		return errors.New(errors.ErrCodeProviderRejected, "identity provider error: "+r.Detail)
	}
}

// LoginRequest represents a login request. Exactly one of Username and
// Email is sent.
type LoginRequest struct {
	Username string `json:"username,omitempty"`
	Email    string `json:"email,omitempty"`
	Password string `json:"password"`
}

// Registration creates a tenant together with its first (superuser) account.
type Registration struct {
	Email            string `json:"email" validate:"required,email,max=254"`
	Password         string `json:"password" validate:"required,min=8,max=200"`
	OrganisationID   string `json:"organisation_id" validate:"required,min=3,max=50,orgid"`
	OrganisationName string `json:"organisation_name" validate:"required,min=1,max=200"`
	Username         string `json:"username,omitempty" validate:"omitempty,max=254"`
}

// Normalize trims the input, lower-cases the organisation id and defaults
// the username to it.
func (r Registration) Normalize() Registration {
	r.Email = strings.TrimSpace(r.Email)
	r.OrganisationID = strings.ToLower(strings.TrimSpace(r.OrganisationID))
	r.OrganisationName = strings.TrimSpace(r.OrganisationName)
	r.Username = strings.TrimSpace(r.Username)
	if r.Username == "" {
		r.Username = r.OrganisationID
	}
	return r
}

var orgIDPattern = regexp.MustCompile(`^[a-z0-9_-]+$`)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		return name
	})
	_ = v.RegisterValidation("orgid", func(fl validator.FieldLevel) bool { //nolint:errcheck // static tag
		return orgIDPattern.MatchString(fl.Field().String())
	})
	return v
}

// Validate checks a normalized registration and reports the first offending
// field as a result.
func (r Registration) Validate() (Result, bool) {
	err := validate.Struct(r)
	if err == nil {
		return Result{}, true
	}

	var verrs validator.ValidationErrors
	if !stderrors.As(err, &verrs) || len(verrs) == 0 {
		return failure(CodeInvalidInput, "", err.Error()), false
	}

	fe := verrs[0]
	return failure(CodeInvalidInput, fe.Field(), validationMessage(fe)), false
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email address"
	case "min":
		return "must be at least " + fe.Param() + " characters"
	case "max":
		return "must be at most " + fe.Param() + " characters"
	case "orgid":
		return "may only contain lowercase letters, numbers, hyphens and underscores"
	default:
		return "is invalid"
	}
}

// wireUser is the provider's user object.
type wireUser struct {
	UID      string `json:"uid"`
	Username string `json:"username"`
	Email    string `json:"email"`
	OrgID    string `json:"org_id"`
	Role     string `json:"role"`
	Token    string `json:"token"`
}

func (u wireUser) profile() auth.Profile {
	return auth.Profile{
		UID:      u.UID,
		Username: u.Username,
		Email:    u.Email,
		Role:     u.Role,
		TenantID: u.OrgID,
	}
}

type authResponse struct {
	Status  string   `json:"status"`
	Message string   `json:"message"`
	User    wireUser `json:"user"`
}

// Login exchanges an identifier (username, organisation id or email) and a
// password for a session. The caller establishes the session.
func (c *Client) Login(ctx context.Context, identifier, password string) (Result, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return failure(CodeInvalidInput, "username", "is required"), nil
	}
	if password == "" {
		return failure(CodeInvalidInput, "password", "is required"), nil
	}

	req := LoginRequest{Password: password}
	if strings.Contains(identifier, "@") {
		req.Email = identifier
	} else {
		req.Username = identifier
	}

	rep, err := c.doRequest(ctx, modeAnonymous, http.MethodPost, "/auth/login", req)
	if err != nil {
		return Result{}, err
	}

	res := c.sessionResult(rep)
	c.logger.Info("login", "identifier", identifier, "success", res.Success, "code", string(res.ErrorCode))
	return res, nil
}

// Register creates a new organisation and its superuser, returning a session
// for immediate login. Input is validated before anything is sent.
func (c *Client) Register(ctx context.Context, reg Registration) (Result, error) {
	reg = reg.Normalize()
	if res, ok := reg.Validate(); !ok {
		return res, nil
	}

	rep, err := c.doRequest(ctx, modeAnonymous, http.MethodPost, "/auth/register", reg)
	if err != nil {
		return Result{}, err
	}

	res := c.sessionResult(rep)
	c.logger.Info("register", "organisation", reg.OrganisationID, "success", res.Success, "code", string(res.ErrorCode))
	return res, nil
}

func (c *Client) sessionResult(rep reply) Result {
	if rep.violation != nil {
		return failure(CodeProviderError, "", rep.violation.Error())
	}

	msg := detail(rep.body)
	switch {
	case rep.ok():
	case rep.status == http.StatusUnauthorized:
		return failure(CodeInvalidCredentials, "password", msg)
	case rep.status == http.StatusConflict:
		if field := fieldForDetail(msg); field == "email" {
			return failure(CodeEmailTaken, field, msg)
		}
		return failure(CodeOrgIDTaken, "organisation_id", msg)
	case rep.status == http.StatusBadRequest, rep.status == http.StatusUnprocessableEntity:
		return failure(CodeInvalidInput, fieldForDetail(msg), msg)
	case rep.status == http.StatusTooManyRequests:
		return failure(CodeRateLimited, "", msg)
	default:
		return failure(CodeProviderError, "", fmt.Sprintf("status %d: %s", rep.status, msg))
	}

	var body authResponse
	if err := decodeJSON(rep, &body); err != nil {
		return failure(CodeProviderError, "", err.Error())
	}

	sess := auth.Session{Token: body.User.Token, Profile: body.User.profile()}
	if sess.Token == "" {
		return failure(CodeProviderError, "", "provider response carries no token")
	}
	if err := sess.Profile.Validate(); err != nil {
		return failure(CodeProviderError, "", err.Error())
	}
	return Result{Success: true, Session: sess}
}

// fieldForDetail attributes a provider message to a form field.
func fieldForDetail(msg string) string {
	m := strings.ToLower(msg)
	switch {
	case strings.Contains(m, "email"):
		return "email"
	case strings.Contains(m, "password"):
		return "password"
	case strings.Contains(m, "organisation id"), strings.Contains(m, "org_id"), strings.Contains(m, "organisation_id"):
		return "organisation_id"
	case strings.Contains(m, "organisation name"), strings.Contains(m, "organisation_name"):
		return "organisation_name"
	default:
		return ""
	}
}

const logoutTimeout = 5 * time.Second

// Logout notifies the provider that the session ends. It never fails: the
// outcome is logged and dropped.
func (c *Client) Logout(ctx context.Context) {
	if !c.store.IsAuthenticated() {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, logoutTimeout)
	defer cancel()

	rep, err := c.doRequest(ctx, modeBestEffort, http.MethodPost, "/auth/logout", nil)
	if err != nil {
		c.logger.WithError(err).Debug("logout notification failed")
		return
	}
	if !rep.ok() {
		c.logger.Debug("logout notification rejected", "status", rep.status)
	}
}

// SignOut notifies the provider and then destroys the local session
// regardless of the outcome. It reports whether a session was torn down.
func (c *Client) SignOut(ctx context.Context) bool {
	c.Logout(ctx)
	return c.store.Destroy()
}

type meResponse struct {
	Status string `json:"status"`
	User   struct {
		wireUser
		CanWrite    bool `json:"can_write"`
		CanRead     bool `json:"can_read"`
		IsSuperuser bool `json:"is_superuser"`
	} `json:"user"`
}

// Me fetches the profile the provider associates with the current token.
func (c *Client) Me(ctx context.Context) (auth.Profile, error) {
	if !c.store.IsAuthenticated() {
		return auth.Profile{}, errors.NewNotAuthenticatedError()
	}

	rep, err := c.doRequest(ctx, modeSession, http.MethodGet, "/auth/me", nil)
	if err != nil {
		return auth.Profile{}, err
	}
	if err := c.rejection(rep); err != nil {
		return auth.Profile{}, err
	}

	var body meResponse
	if err := decodeJSON(rep, &body); err != nil {
		return auth.Profile{}, err
	}
	return body.User.profile(), nil
}

type refreshResponse struct {
	Status string `json:"status"`
	Token  string `json:"token"`
}

// Refresh asks the provider for a new token and renews the session with it.
// It reports whether the stored token changed.
func (c *Client) Refresh(ctx context.Context) (bool, error) {
	if !c.store.IsAuthenticated() {
		return false, errors.NewNotAuthenticatedError()
	}
	epoch := c.store.Epoch()

	rep, err := c.doRequest(ctx, modeSession, http.MethodPost, "/auth/refresh", nil)
	if err != nil {
		return false, err
	}
	if err := c.rejection(rep); err != nil {
		return false, err
	}

	var body refreshResponse
	if err := decodeJSON(rep, &body); err != nil {
		return false, err
	}
	if body.Token == "" {
		return false, errors.New(errors.ErrCodeProviderResponse, "refresh response carries no token")
	}
	return c.store.RenewAt(epoch, body.Token)
}

type checkOrgIDResponse struct {
	Available bool   `json:"available"`
	OrgID     string `json:"org_id"`
}

// CheckOrgID reports whether an organisation id is still free.
func (c *Client) CheckOrgID(ctx context.Context, orgID string) (bool, error) {
	orgID = strings.ToLower(strings.TrimSpace(orgID))

	rep, err := c.doRequest(ctx, modeAnonymous, http.MethodGet, "/auth/check-org-id?"+url.Values{"org_id": {orgID}}.Encode(), nil)
	if err != nil {
		return false, err
	}
	if rep.violation != nil {
		return false, rep.violation
	}
	switch {
	case rep.ok():
	case rep.status == http.StatusBadRequest:
		return false, errors.New(errors.ErrCodeInvalidInput, detail(rep.body))
	default:
		return false, errors.New(errors.ErrCodeProviderResponse,
			fmt.Sprintf("provider returned status %d: %s", rep.status, detail(rep.body)))
	}

	var body checkOrgIDResponse
	if err := decodeJSON(rep, &body); err != nil {
		return false, err
	}
	return body.Available, nil
}
