package console

import (
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/huh"
)

// Credentials is what the login form collects.
type Credentials struct {
	Identifier string
	Password   string
	Remember   bool
}

// PromptForCredentials asks for whatever part of c is still empty. The
// remember choice is asked only when askRemember is set.
func PromptForCredentials(c Credentials, askRemember bool) (Credentials, error) {
	var fields []huh.Field

	if c.Identifier == "" {
		fields = append(fields, huh.NewInput().
			Title("Username or email").
			Placeholder("admin1 or admin@example.com").
			Value(&c.Identifier).
			Validate(required("username or email")))
	}
	if c.Password == "" {
		fields = append(fields, huh.NewInput().
			Title("Password").
			EchoMode(huh.EchoModePassword).
			Value(&c.Password).
			Validate(required("password")))
	}
	if askRemember {
		fields = append(fields, huh.NewConfirm().
			Title("Remember me on this machine?").
			Value(&c.Remember))
	}
	if len(fields) == 0 {
		return c, nil
	}

	if err := huh.NewForm(huh.NewGroup(fields...)).Run(); err != nil {
		return c, fmt.Errorf("prompt failed: %w", err)
	}
	c.Identifier = strings.TrimSpace(c.Identifier)
	return c, nil
}

// PromptForString displays an interactive prompt and returns the user's input
func PromptForString(title, placeholder string, secret bool) (string, error) {
	var value string

	input := huh.NewInput().
		Title(title).
		Placeholder(placeholder).
		Value(&value).
		Validate(required(strings.ToLower(title)))
	if secret {
		input = input.EchoMode(huh.EchoModePassword)
	}

	if err := huh.NewForm(huh.NewGroup(input)).Run(); err != nil {
		return "", fmt.Errorf("prompt failed: %w", err)
	}
	return strings.TrimSpace(value), nil
}

func required(what string) func(string) error {
	return func(s string) error {
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("%s is required", what)
		}
		return nil
	}
}

// IsInteractive returns true if stdin is a terminal (not piped)
func IsInteractive() bool {
	fileInfo, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return (fileInfo.Mode() & os.ModeCharDevice) != 0
}

// ShouldPrompt returns true if prompts should be shown based on environment.
// Prompts are disabled in CI environments or when stdin is not a terminal.
func ShouldPrompt() bool {
	for _, envVar := range []string{"CI", "GITHUB_ACTIONS", "GITLAB_CI", "JENKINS_URL", "BUILDKITE"} {
		if os.Getenv(envVar) != "" {
			return false
		}
	}
	return IsInteractive()
}
