package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/felixgeelhaar/kbadmin/internal/errors"
	"github.com/felixgeelhaar/kbadmin/internal/exitcode"
	"github.com/felixgeelhaar/kbadmin/internal/fakeidp"
)

type cli struct {
	idp        *fakeidp.Server
	server     *httptest.Server
	dir        string
	configPath string
}

func newCLI(t *testing.T, extra string) *cli {
	t.Helper()
	t.Setenv("CI", "1")

	cfg := fakeidp.DefaultConfig()
	cfg.RefreshWithin = 0
	idp := fakeidp.New(cfg, nil)
	require.NoError(t, idp.AddUser(fakeidp.User{
		UID: "admin1", Username: "admin1", Email: "admin@acme.test", OrgID: "acme", Role: "admin",
	}, "correct"))
	require.NoError(t, idp.AddUser(fakeidp.User{
		UID: "acme_helper", Username: "helper", Email: "helper@acme.test", OrgID: "acme", Role: "assistant",
	}, "helper-pass"))

	server := httptest.NewServer(idp.Handler())
	t.Cleanup(server.Close)

	dir := t.TempDir()
	c := &cli{idp: idp, server: server, dir: dir, configPath: filepath.Join(dir, "config.yaml")}
	c.writeConfig(t, "shell-1", extra)
	return c
}

// writeConfig points the CLI at the fake provider; scope stands in for the
// terminal session.
func (c *cli) writeConfig(t *testing.T, scope, extra string) {
	t.Helper()
	body := fmt.Sprintf(`provider:
  url: %s
  timeout: 5s
  strict_contract: true
storage:
  durable_dir: %s
  ephemeral_dir: %s
  scope: %s
log:
  level: error
%s`, c.server.URL, filepath.Join(c.dir, "durable"), filepath.Join(c.dir, "ephemeral"), scope, extra)
	require.NoError(t, os.WriteFile(c.configPath, []byte(body), 0o600))
}

func (c *cli) run(args ...string) (string, error) {
	cmd := NewRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--config", c.configPath}, args...))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func (c *cli) mustRun(t *testing.T, args ...string) string {
	t.Helper()
	out, err := c.run(args...)
	require.NoError(t, err, out)
	return out
}

func (c *cli) status(t *testing.T) StatusReport {
	t.Helper()
	var r StatusReport
	require.NoError(t, json.Unmarshal([]byte(c.mustRun(t, "status", "-o", "json")), &r))
	return r
}

func TestLoginThenStatus(t *testing.T) {
	c := newCLI(t, "")

	out := c.mustRun(t, "login", "--username", "admin1", "--password", "correct")
	assert.Contains(t, out, "Logged in as admin1")

	r := c.status(t)
	assert.True(t, r.Authenticated)
	assert.Equal(t, "admin", r.Role)
	assert.Equal(t, "acme", r.Organisation)
	assert.False(t, r.Remembered)
	assert.NotNil(t, r.ExpiresAt)
	assert.Contains(t, r.Surfaces, "/archive")
	assert.NotContains(t, r.Surfaces, "/users")
	assert.NotContains(t, r.Token, ".", "token is redacted")
}

func TestLoginByEmail(t *testing.T) {
	c := newCLI(t, "")

	c.mustRun(t, "login", "--email", "helper@acme.test", "--password", "helper-pass")

	assert.Equal(t, "assistant", c.status(t).Role)
}

func TestLoginWrongPassword(t *testing.T) {
	c := newCLI(t, "")

	_, err := c.run("login", "--username", "admin1", "--password", "wrong")

	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeInvalidCredentials, errors.CodeOf(err))
	assert.Equal(t, exitcode.AuthError, exitcode.DetermineExitCode(err))
	assert.False(t, c.status(t).Authenticated)
}

func TestLoginMissingPasswordWithoutTerminal(t *testing.T) {
	c := newCLI(t, "")
	t.Setenv(PasswordEnv, "")

	_, err := c.run("login", "--username", "admin1")

	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeInvalidInput, errors.CodeOf(err))
}

func TestLoginPasswordFromEnv(t *testing.T) {
	c := newCLI(t, "")
	t.Setenv(PasswordEnv, "correct")

	c.mustRun(t, "login", "--username", "admin1")

	assert.True(t, c.status(t).Authenticated)
}

func TestSessionScopedToTerminalUnlessRemembered(t *testing.T) {
	c := newCLI(t, "")
	c.mustRun(t, "login", "--username", "admin1", "--password", "correct")

	c.writeConfig(t, "shell-2", "")
	assert.False(t, c.status(t).Authenticated, "a new terminal session starts signed out")

	c.mustRun(t, "login", "--username", "admin1", "--password", "correct", "--remember")
	c.writeConfig(t, "shell-3", "")

	r := c.status(t)
	assert.True(t, r.Authenticated, "remembered sessions survive into new terminal sessions")
	assert.True(t, r.Remembered)
}

func TestLogout(t *testing.T) {
	c := newCLI(t, "")
	c.mustRun(t, "login", "--username", "admin1", "--password", "correct", "--remember")

	out := c.mustRun(t, "logout")
	assert.Contains(t, out, "Logged out admin1")

	c.writeConfig(t, "shell-2", "")
	assert.False(t, c.status(t).Authenticated, "logout clears the remembered tier too")

	out = c.mustRun(t, "logout")
	assert.Contains(t, out, "Not logged in")
}

func TestStatusVerify(t *testing.T) {
	c := newCLI(t, "")
	c.mustRun(t, "login", "--username", "admin1", "--password", "correct")

	var r StatusReport
	out := c.mustRun(t, "status", "--verify", "-o", "json")
	require.NoError(t, json.Unmarshal([]byte(out), &r))
	require.NotNil(t, r.Verified)
	assert.True(t, *r.Verified)
}

func TestStatusRefresh(t *testing.T) {
	c := newCLI(t, "")
	c.mustRun(t, "login", "--username", "admin1", "--password", "correct", "--remember")
	before := c.status(t)
	c.idp.SetClock(func() time.Time { return time.Now().Add(time.Minute) })

	var r StatusReport
	out := c.mustRun(t, "status", "--refresh", "-o", "json")
	require.NoError(t, json.Unmarshal([]byte(out), &r))
	require.NotNil(t, r.Refreshed)
	assert.True(t, *r.Refreshed)
	assert.NotEqual(t, before.Token, r.Token)
	assert.Equal(t, 1.0, testutil.ToFloat64(c.idp.Metrics().TokensIssued.WithLabelValues("refresh")))

	// A new terminal restores the refreshed token from the durable tier.
	c.writeConfig(t, "shell-2", "")
	assert.Equal(t, r.Token, c.status(t).Token)
}

func TestStatusRefreshExpiredSession(t *testing.T) {
	c := newCLI(t, "")
	c.mustRun(t, "login", "--username", "admin1", "--password", "correct")
	c.idp.SetClock(func() time.Time { return time.Now().Add(2 * time.Hour) })

	_, err := c.run("status", "--refresh")

	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeSessionExpired, errors.CodeOf(err))
	assert.False(t, c.status(t).Authenticated)
}

func TestStatusVerifyExpiredSession(t *testing.T) {
	c := newCLI(t, "")
	c.mustRun(t, "login", "--username", "admin1", "--password", "correct")
	c.idp.SetClock(func() time.Time { return time.Now().Add(2 * time.Hour) })

	out, err := c.run("status", "--verify")

	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeSessionExpired, errors.CodeOf(err))
	assert.Contains(t, out, "Not logged in")
	assert.False(t, c.status(t).Authenticated, "the rejected session is gone")
}

func TestStatusYAML(t *testing.T) {
	c := newCLI(t, "")

	out := c.mustRun(t, "status", "-o", "yaml")

	var r map[string]any
	require.NoError(t, yaml.Unmarshal([]byte(out), &r))
	assert.Equal(t, false, r["authenticated"])
}

func TestStatusUnknownFormat(t *testing.T) {
	c := newCLI(t, "")

	_, err := c.run("status", "-o", "xml")
	require.Error(t, err)
}

func TestOpen(t *testing.T) {
	c := newCLI(t, "")

	_, err := c.run("open", "/kb")
	require.Error(t, err)
	assert.Equal(t, exitcode.AuthError, exitcode.DetermineExitCode(err), "signed out users are sent to login")

	c.mustRun(t, "login", "--username", "helper", "--password", "helper-pass")

	out := c.mustRun(t, "open", "/kb")
	assert.Contains(t, out, "/kb")

	_, err = c.run("open", "/archive")
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodePolicyDenied, errors.CodeOf(err))
	assert.Equal(t, exitcode.PolicyDenied, exitcode.DetermineExitCode(err))

	_, err = c.run("open", "/nowhere")
	assert.Equal(t, errors.ErrCodeRouteNotFound, errors.CodeOf(err))

	out = c.mustRun(t, "open")
	assert.Contains(t, out, "/queries")
	assert.NotContains(t, out, "/archive")
}

func TestAPI(t *testing.T) {
	c := newCLI(t, "")

	_, err := c.run("api", "GET", "/documents")
	assert.Equal(t, errors.ErrCodeNotAuthenticated, errors.CodeOf(err))

	c.mustRun(t, "login", "--username", "admin1", "--password", "correct")
	out := c.mustRun(t, "api", "GET", "/documents")
	assert.Contains(t, out, `"org_id":"acme"`)
}

func TestAPIForbiddenExpiresSession(t *testing.T) {
	c := newCLI(t, "")
	c.mustRun(t, "login", "--username", "admin1", "--password", "correct")

	_, err := c.run("api", "GET", "/users")

	assert.Equal(t, errors.ErrCodeSessionExpired, errors.CodeOf(err))
	assert.False(t, c.status(t).Authenticated)
}

func TestAPIForbiddenKeepsSessionWhenConfigured(t *testing.T) {
	c := newCLI(t, "")
	cfg, err := os.ReadFile(c.configPath)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(c.configPath, bytes.Replace(cfg, []byte("  strict_contract: true\n"),
		[]byte("  strict_contract: true\n  expire_on_forbidden: false\n"), 1), 0o600))
	c.mustRun(t, "login", "--username", "admin1", "--password", "correct")

	_, err = c.run("api", "GET", "/users")

	assert.Equal(t, errors.ErrCodeProviderRejected, errors.CodeOf(err))
	assert.True(t, c.status(t).Authenticated)
}

func TestRegister(t *testing.T) {
	c := newCLI(t, "")

	out := c.mustRun(t, "register", "--email", "owner@globex.test", "--password", "long-enough",
		"--org-id", "Globex", "--org-name", "Globex Corp")
	assert.Contains(t, out, "Registered Globex Corp")

	r := c.status(t)
	assert.Equal(t, "superuser", r.Role)
	assert.Equal(t, "globex", r.Organisation)
	assert.Contains(t, r.Surfaces, "/users")
}

func TestRegisterTakenOrgID(t *testing.T) {
	c := newCLI(t, "")

	_, err := c.run("register", "--email", "new@acme.test", "--password", "long-enough",
		"--org-id", "acme", "--org-name", "Acme again")

	assert.Equal(t, errors.ErrCodeConflict, errors.CodeOf(err))
	assert.False(t, c.status(t).Authenticated)
}

func TestRegisterInvalidInput(t *testing.T) {
	c := newCLI(t, "")

	_, err := c.run("register", "--email", "not-an-email", "--password", "long-enough",
		"--org-id", "ok-org", "--org-name", "Org")

	assert.Equal(t, errors.ErrCodeInvalidInput, errors.CodeOf(err))
}

func TestPolicyFile(t *testing.T) {
	c := newCLI(t, "")
	policyPath := filepath.Join(c.dir, "policy.yaml")
	require.NoError(t, os.WriteFile(policyPath, []byte("roles:\n  admin: [dashboard]\n"), 0o600))
	c.writeConfig(t, "shell-1", "policy:\n  file: "+policyPath+"\n")

	out := c.mustRun(t, "policy")
	assert.Contains(t, out, "dashboard")
	assert.NotContains(t, out, "assistant")

	c.mustRun(t, "login", "--username", "admin1", "--password", "correct")
	_, err := c.run("open", "/kb")
	assert.Equal(t, errors.ErrCodePolicyDenied, errors.CodeOf(err))
}

func TestBadConfig(t *testing.T) {
	c := newCLI(t, "")
	require.NoError(t, os.WriteFile(c.configPath, []byte("provider:\n  url: not a url\n"), 0o600))

	_, err := c.run("status")

	assert.Equal(t, errors.ErrCodeConfigInvalid, errors.CodeOf(err))
	assert.Equal(t, exitcode.UsageError, exitcode.DetermineExitCode(err))
}

func TestUnknownCommand(t *testing.T) {
	c := newCLI(t, "")

	_, err := c.run("frobnicate")

	require.Error(t, err)
	assert.Equal(t, exitcode.UsageError, exitcode.DetermineExitCode(err))
}

func TestDoctor(t *testing.T) {
	c := newCLI(t, "")

	var r DoctorReport
	out := c.mustRun(t, "doctor", "-o", "json")
	require.NoError(t, json.Unmarshal([]byte(out), &r))

	assert.Equal(t, "degraded", string(r.Status), "signed out is degraded, not unhealthy")
	assert.Equal(t, "healthy", string(r.Checks["identity-provider"].Status))
	assert.Equal(t, "healthy", string(r.Checks["ephemeral-tier"].Status))
	assert.Equal(t, "healthy", string(r.Checks["durable-tier"].Status))
	assert.Equal(t, "degraded", string(r.Checks["session"].Status))

	c.mustRun(t, "login", "--username", "admin1", "--password", "correct")
	out = c.mustRun(t, "doctor")
	assert.Contains(t, out, "Overall: healthy")
}

func TestDoctorProviderDown(t *testing.T) {
	c := newCLI(t, "")
	c.server.Close()

	_, err := c.run("doctor")

	assert.Equal(t, errors.ErrCodeProviderUnreachable, errors.CodeOf(err))
	assert.Equal(t, exitcode.NetworkError, exitcode.DetermineExitCode(err))
}

func TestVersion(t *testing.T) {
	c := newCLI(t, "")

	out := c.mustRun(t, "version")
	assert.Contains(t, out, "kbadmin")
}
