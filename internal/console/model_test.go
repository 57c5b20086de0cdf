package console

import (
	"context"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felixgeelhaar/kbadmin/internal/auth"
	"github.com/felixgeelhaar/kbadmin/internal/authz"
	"github.com/felixgeelhaar/kbadmin/internal/errors"
	"github.com/felixgeelhaar/kbadmin/internal/platform"
	"github.com/felixgeelhaar/kbadmin/internal/storage"
)

type fakeAuthenticator struct {
	result   platform.Result
	err      error
	signOut  func() bool
	me       func() error
	attempts []string
	verified int
}

func (f *fakeAuthenticator) Login(_ context.Context, identifier, _ string) (platform.Result, error) {
	f.attempts = append(f.attempts, identifier)
	return f.result, f.err
}

func (f *fakeAuthenticator) Me(context.Context) (auth.Profile, error) {
	f.verified++
	if f.me != nil {
		return auth.Profile{}, f.me()
	}
	return auth.Profile{}, nil
}

func (f *fakeAuthenticator) SignOut(context.Context) bool {
	if f.signOut != nil {
		return f.signOut()
	}
	return false
}

type fixture struct {
	store  *auth.Store
	expiry *auth.ExpirationBroadcaster
	client *fakeAuthenticator
	model  Model
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	adapter := storage.NewAdapter("test", storage.NewMemoryBackend(), storage.NewMemoryBackend())
	store := auth.NewStore(adapter, nil)
	expiry := auth.NewExpirationBroadcaster(store, nil)
	client := &fakeAuthenticator{}
	guard := authz.NewGuard(authz.DefaultPolicy(), authz.DefaultRoutes(), store, nil)

	return &fixture{
		store:  store,
		expiry: expiry,
		client: client,
		model:  NewModel(ctx, store, expiry, client, guard, nil),
	}
}

func session(role string) auth.Session {
	return auth.Session{
		Token:   "tok-" + role,
		Profile: auth.Profile{UID: "u-" + role, Username: role + "1", Role: role, TenantID: "acme"},
	}
}

func update(t *testing.T, m Model, msg tea.Msg) (Model, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	model, ok := next.(Model)
	require.True(t, ok)
	return model, cmd
}

func paths(routes []authz.Route) []string {
	out := make([]string, len(routes))
	for i, r := range routes {
		out[i] = r.Path
	}
	return out
}

func TestStartsLoading(t *testing.T) {
	f := newFixture(t)

	assert.Equal(t, ScreenLoading, f.model.Screen())
	assert.Contains(t, f.model.View(), "Restoring session")
}

func TestReadyWithoutSessionShowsLogin(t *testing.T) {
	f := newFixture(t)
	f.store.Initialize(context.Background())

	m, _ := update(t, f.model, readyMsg{})

	assert.Equal(t, ScreenLogin, m.Screen())
	assert.Contains(t, m.View(), "Remember me")
}

func TestInitializeCommandRestoresSession(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.store.Establish(session("assistant"), false))

	msg := f.model.initialize()()
	m, _ := update(t, f.model, msg)

	assert.Equal(t, ScreenMenu, m.Screen())
	assert.Equal(t, []string{"/dashboard", "/kb", "/queries", "/settings"}, paths(m.Menu()))
}

func TestLoginSuccessEstablishesSession(t *testing.T) {
	f := newFixture(t)
	f.store.Initialize(context.Background())
	m, _ := update(t, f.model, readyMsg{})

	m.inputs[0].SetValue("admin1")
	m.inputs[1].SetValue("correct")
	m.remember = true
	f.client.result = platform.Result{Success: true, Session: session("admin")}

	next, cmd := m.submitLogin()
	require.NotNil(t, cmd)
	submitted := next.(Model)
	assert.True(t, submitted.busy)

	done, _ := update(t, submitted, loginDoneMsg{result: f.client.result, remember: true})

	assert.Equal(t, ScreenMenu, done.Screen())
	assert.True(t, f.store.IsAuthenticated())
	assert.True(t, f.store.Remembered())
	assert.NotContains(t, paths(done.Menu()), "/users")
	assert.Contains(t, paths(done.Menu()), "/archive")
}

func TestLoginRejectedStaysOnLogin(t *testing.T) {
	f := newFixture(t)
	f.store.Initialize(context.Background())
	m, _ := update(t, f.model, readyMsg{})
	m.inputs[1].SetValue("wrong")

	m, _ = update(t, m, loginDoneMsg{result: platform.Result{ErrorCode: platform.CodeInvalidCredentials, Field: "password"}})

	assert.Equal(t, ScreenLogin, m.Screen())
	assert.False(t, f.store.IsAuthenticated())
	assert.Empty(t, m.inputs[1].Value())
	assert.Contains(t, m.View(), "Invalid username or password")
}

func TestExpirationReturnsToLogin(t *testing.T) {
	f := newFixture(t)
	f.store.Initialize(context.Background())
	require.NoError(t, f.store.Establish(session("superuser"), true))
	m, _ := update(t, f.model, readyMsg{})
	require.Equal(t, ScreenMenu, m.Screen())
	assert.Contains(t, paths(m.Menu()), "/users")

	require.True(t, f.expiry.Emit(f.store.Epoch()))
	msg := m.listen()()
	require.IsType(t, expiredMsg{}, msg)

	m, cmd := update(t, m, msg)

	assert.Equal(t, ScreenLogin, m.Screen())
	assert.Equal(t, ExpiredNotice, m.Notice())
	assert.Empty(t, m.Menu())
	assert.False(t, f.store.IsAuthenticated())
	assert.NotNil(t, cmd, "listening resumes after an expiration")
}

func TestMenuNavigationChecksGuard(t *testing.T) {
	f := newFixture(t)
	f.store.Initialize(context.Background())
	require.NoError(t, f.store.Establish(session("admin"), false))
	m, _ := update(t, f.model, readyMsg{})

	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyDown})
	m, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	require.NotNil(t, cmd)
	assert.True(t, m.busy)
	assert.Contains(t, m.View(), "Opening /kb")

	d := f.model.guard.Check("/kb")
	m, _ = update(t, m, m.open(d)())

	assert.Equal(t, 1, f.client.verified)
	assert.False(t, m.busy)
	assert.Equal(t, authz.OutcomeAllow, m.opened.Outcome)
	assert.Equal(t, "/kb", m.opened.Path)
	assert.Contains(t, m.View(), "Opened /kb")
}

func TestOpeningSurfaceWithRejectedSessionReturnsToLogin(t *testing.T) {
	f := newFixture(t)
	f.store.Initialize(context.Background())
	require.NoError(t, f.store.Establish(session("admin"), false))
	f.client.me = func() error {
		f.expiry.Emit(f.store.Epoch())
		return errors.NewSessionExpiredError()
	}
	m, _ := update(t, f.model, readyMsg{})

	m, _ = update(t, m, m.open(f.model.guard.Check("/dashboard"))())

	assert.Equal(t, ScreenLogin, m.Screen())
	assert.Equal(t, ExpiredNotice, m.Notice())
	assert.False(t, f.store.IsAuthenticated())
}

func TestOpeningSurfaceWhileProviderUnreachable(t *testing.T) {
	f := newFixture(t)
	f.store.Initialize(context.Background())
	require.NoError(t, f.store.Establish(session("admin"), false))
	f.client.me = func() error {
		return errors.NewProviderUnreachableError("http://idp.test", context.DeadlineExceeded)
	}
	m, _ := update(t, f.model, readyMsg{})

	m, _ = update(t, m, m.open(f.model.guard.Check("/dashboard"))())

	assert.Equal(t, ScreenMenu, m.Screen())
	assert.Empty(t, m.opened.Path)
	assert.Contains(t, m.View(), "Cannot reach the identity provider")
}

func TestStoreStateChangeFollowsOutsideLogout(t *testing.T) {
	f := newFixture(t)
	f.store.Initialize(context.Background())
	require.NoError(t, f.store.Establish(session("admin"), false))
	m, _ := update(t, f.model, readyMsg{})
	require.Equal(t, ScreenMenu, m.Screen())

	f.store.Destroy()

	for {
		msg := m.watch()()
		require.IsType(t, stateMsg{}, msg)
		var cmd tea.Cmd
		m, cmd = update(t, m, msg)
		assert.NotNil(t, cmd, "watching resumes after every change")
		if !msg.(stateMsg).Authenticated {
			break
		}
	}

	assert.Equal(t, ScreenLogin, m.Screen())
	assert.Equal(t, "Signed out.", m.Notice())
}

func TestMenuLogout(t *testing.T) {
	f := newFixture(t)
	f.store.Initialize(context.Background())
	require.NoError(t, f.store.Establish(session("admin"), false))
	f.client.signOut = f.store.Destroy
	m, _ := update(t, f.model, readyMsg{})

	m, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("L")})
	require.NotNil(t, cmd)
	assert.True(t, m.busy)

	f.client.SignOut(context.Background())
	m, _ = update(t, m, signedOutMsg{})

	assert.Equal(t, ScreenLogin, m.Screen())
	assert.False(t, f.store.IsAuthenticated())
	assert.False(t, m.busy)
}

func TestQuit(t *testing.T) {
	f := newFixture(t)

	m, cmd := update(t, f.model, tea.KeyMsg{Type: tea.KeyCtrlC})

	assert.True(t, m.quitting)
	require.NotNil(t, cmd)
	assert.Equal(t, "", strings.TrimSpace(m.View()))
}
