package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
)

// ErrorCode represents a unique error identifier
type ErrorCode string

// Error categories
const (
	// Authentication errors (AUTH-001 to AUTH-099)
	ErrCodeInvalidCredentials ErrorCode = "AUTH-001"
	ErrCodeConflict           ErrorCode = "AUTH-002"
	ErrCodeSessionExpired     ErrorCode = "AUTH-003"
	ErrCodeNotAuthenticated   ErrorCode = "AUTH-004"
	ErrCodeInvalidInput       ErrorCode = "AUTH-005"
	ErrCodeProviderRejected   ErrorCode = "AUTH-006"

	// Transport errors (NET-001 to NET-099)
	ErrCodeProviderUnreachable ErrorCode = "NET-001"
	ErrCodeProviderResponse    ErrorCode = "NET-002"
	ErrCodeContractViolation   ErrorCode = "NET-003"

	// Storage errors (STORE-001 to STORE-099)
	ErrCodeStorageRead    ErrorCode = "STORE-001"
	ErrCodeStorageWrite   ErrorCode = "STORE-002"
	ErrCodeStorageCorrupt ErrorCode = "STORE-003"
	ErrCodeStorageSeal    ErrorCode = "STORE-004"

	// Configuration errors (CFG-001 to CFG-099)
	ErrCodeConfigLoad    ErrorCode = "CFG-001"
	ErrCodeConfigInvalid ErrorCode = "CFG-002"

	// Authorization errors (POLICY-001 to POLICY-099)
	ErrCodePolicyLoad    ErrorCode = "POLICY-001"
	ErrCodePolicyDenied  ErrorCode = "POLICY-002"
	ErrCodeRouteNotFound ErrorCode = "POLICY-003"
)

// ConsoleError represents an error with a code, suggestions and an optional cause
type ConsoleError struct {
	Code        ErrorCode
	Message     string
	Suggestions []string
	Cause       error
}

// Error implements the error interface
func (e *ConsoleError) Error() string {
	var b strings.Builder

	b.WriteString(fmt.Sprintf("[%s] %s", e.Code, e.Message))

	if e.Cause != nil {
		b.WriteString(fmt.Sprintf(": %v", e.Cause))
	}

	if len(e.Suggestions) > 0 {
		b.WriteString("\n\nSuggestions:")
		for _, suggestion := range e.Suggestions {
			b.WriteString(fmt.Sprintf("\n  • %s", suggestion))
		}
	}

	return b.String()
}

// Unwrap implements error unwrapping for errors.Is and errors.As
func (e *ConsoleError) Unwrap() error {
	return e.Cause
}

// New creates a new ConsoleError
func New(code ErrorCode, message string) *ConsoleError {
	return &ConsoleError{
		Code:    code,
		Message: message,
	}
}

// Wrap creates a new ConsoleError wrapping an existing error
func Wrap(code ErrorCode, message string, cause error) *ConsoleError {
	return &ConsoleError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// WithSuggestion adds a suggestion to the error
func (e *ConsoleError) WithSuggestion(suggestion string) *ConsoleError {
	e.Suggestions = append(e.Suggestions, suggestion)
	return e
}

// WithSuggestions adds multiple suggestions to the error
func (e *ConsoleError) WithSuggestions(suggestions ...string) *ConsoleError {
	e.Suggestions = append(e.Suggestions, suggestions...)
	return e
}

// CodeOf returns the code of the first ConsoleError in err's chain, or "".
func CodeOf(err error) ErrorCode {
	var ce *ConsoleError
	if stderrors.As(err, &ce) {
		return ce.Code
	}
	return ""
}

// HasCode reports whether err carries the given code anywhere in its chain.
func HasCode(err error, code ErrorCode) bool {
	return CodeOf(err) == code
}

// Family returns the prefix of a code, e.g. "AUTH" for "AUTH-003".
func (c ErrorCode) Family() string {
	if i := strings.IndexByte(string(c), '-'); i > 0 {
		return string(c[:i])
	}
	return string(c)
}

// NewProviderUnreachableError creates a transport failure error. It is kept
// distinct from credential errors so the UI says "try again", not "fix input".
func NewProviderUnreachableError(url string, cause error) *ConsoleError {
	return Wrap(ErrCodeProviderUnreachable, fmt.Sprintf("identity provider unreachable: %s", url), cause).
		WithSuggestion("Check your network connection and try again").
		WithSuggestion("Verify provider.url (KBADMIN_PROVIDER_URL) points at the admin backend")
}

// NewNotAuthenticatedError creates an error for commands that need a session
func NewNotAuthenticatedError() *ConsoleError {
	return New(ErrCodeNotAuthenticated, "not logged in").
		WithSuggestion("Run 'kbadmin login' to authenticate")
}

// NewSessionExpiredError creates an error reported after a forced logout
func NewSessionExpiredError() *ConsoleError {
	return New(ErrCodeSessionExpired, "session expired").
		WithSuggestion("Run 'kbadmin login' to sign in again")
}

// NewPolicyDeniedError creates an authorization denial error
func NewPolicyDeniedError(role, resource string) *ConsoleError {
	return New(ErrCodePolicyDenied, fmt.Sprintf("role %q is not permitted to access %q", role, resource)).
		WithSuggestion("Ask a superuser of your organisation for access")
}

// NewConfigInvalidError creates a configuration validation error
func NewConfigInvalidError(key, reason string) *ConsoleError {
	return New(ErrCodeConfigInvalid, fmt.Sprintf("invalid configuration %s: %s", key, reason)).
		WithSuggestion("Check ~/.config/kbadmin/config.yaml and KBADMIN_* environment variables")
}
