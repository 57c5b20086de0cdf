package exitcode

import (
	"os"
	"strings"

	"github.com/felixgeelhaar/kbadmin/internal/errors"
)

// Exit codes for consistent error handling across the CLI
const (
	// Success indicates successful execution
	Success = 0

	// GeneralError indicates a general error condition
	GeneralError = 1

	// UsageError indicates invalid command usage or configuration
	UsageError = 2

	// PolicyDenied indicates the role table refused the requested surface
	PolicyDenied = 3

	// StorageError indicates the session tiers could not be read or written
	StorageError = 4

	// AuthError indicates an authentication failure or an expired session
	AuthError = 5

	// NetworkError indicates the identity provider could not be reached
	NetworkError = 6

	// Interrupted indicates the command was cancelled by a signal
	Interrupted = 130
)

// Exit terminates the program with the given exit code
func Exit(code int) {
	os.Exit(code)
}

// ExitWithError exits with an appropriate code based on error type
func ExitWithError(err error) {
	if err == nil {
		Exit(Success)
		return
	}

	Exit(DetermineExitCode(err))
}

// DetermineExitCode maps an error to an exit code. Coded errors are
// classified by family; anything else falls back to cobra's usage messages.
func DetermineExitCode(err error) int {
	if err == nil {
		return Success
	}

	switch errors.CodeOf(err).Family() {
	case "AUTH":
		return AuthError
	case "NET":
		return NetworkError
	case "CFG":
		return UsageError
	case "POLICY":
		return PolicyDenied
	case "STORE":
		return StorageError
	}

	errMsg := strings.ToLower(err.Error())
	for _, marker := range []string{"invalid flag", "unknown command", "unknown flag", "required flag", "accepts ", "arg(s)"} {
		if strings.Contains(errMsg, marker) {
			return UsageError
		}
	}

	return GeneralError
}

// GetExitCodeDescription returns a human-readable description of an exit code
func GetExitCodeDescription(code int) string {
	switch code {
	case Success:
		return "Success"
	case GeneralError:
		return "General error"
	case UsageError:
		return "Usage error (invalid flags, arguments or configuration)"
	case PolicyDenied:
		return "Access denied by policy"
	case StorageError:
		return "Session storage error"
	case AuthError:
		return "Authentication error"
	case NetworkError:
		return "Network error"
	case Interrupted:
		return "Interrupted"
	default:
		return "Unknown error"
	}
}
