// Package console is the interactive terminal front end: a login screen and
// a role-filtered navigation menu that fall back to login whenever the
// provider rejects the session.
package console

import (
	"context"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/felixgeelhaar/kbadmin/internal/auth"
	"github.com/felixgeelhaar/kbadmin/internal/authz"
	"github.com/felixgeelhaar/kbadmin/internal/errors"
	"github.com/felixgeelhaar/kbadmin/internal/log"
	"github.com/felixgeelhaar/kbadmin/internal/platform"
)

// Screen identifies what the console is showing.
type Screen int

const (
	// ScreenLoading is shown until the session store has been initialized.
	ScreenLoading Screen = iota
	// ScreenLogin collects credentials.
	ScreenLogin
	// ScreenMenu lists the surfaces the current role may open.
	ScreenMenu
)

// Authenticator is the part of platform.Client the console drives. Me is
// the authenticated call made when a surface opens, so renewals and
// rejections reach the session while the console runs.
type Authenticator interface {
	Login(ctx context.Context, identifier, password string) (platform.Result, error)
	Me(ctx context.Context) (auth.Profile, error)
	SignOut(ctx context.Context) bool
}

// ExpiredNotice is shown on the login screen after a forced logout.
const ExpiredNotice = "Your session has expired. Please sign in again."

type keyMap struct {
	Quit     key.Binding
	Next     key.Binding
	Submit   key.Binding
	Remember key.Binding
	Up       key.Binding
	Down     key.Binding
	Logout   key.Binding
}

var keys = keyMap{
	Quit:     key.NewBinding(key.WithKeys("ctrl+c"), key.WithHelp("ctrl+c", "quit")),
	Next:     key.NewBinding(key.WithKeys("tab", "shift+tab"), key.WithHelp("tab", "next field")),
	Submit:   key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "submit")),
	Remember: key.NewBinding(key.WithKeys("ctrl+r"), key.WithHelp("ctrl+r", "remember me")),
	Up:       key.NewBinding(key.WithKeys("up", "k"), key.WithHelp("↑/k", "up")),
	Down:     key.NewBinding(key.WithKeys("down", "j"), key.WithHelp("↓/j", "down")),
	Logout:   key.NewBinding(key.WithKeys("L"), key.WithHelp("L", "log out")),
}

// Messages

type readyMsg struct{}

type expiredMsg struct{}

type loginDoneMsg struct {
	result   platform.Result
	remember bool
	err      error
}

type signedOutMsg struct{}

type stateMsg auth.StateChange

type openedMsg struct {
	decision authz.Decision
	err      error
}

// Model is the bubbletea model of the console.
type Model struct {
	ctx     context.Context
	store   *auth.Store
	client  Authenticator
	guard   *authz.Guard
	expiry  <-chan auth.AuthEvent
	changes <-chan auth.StateChange
	logger  *log.Logger

	screen   Screen
	spinner  spinner.Model
	inputs   []textinput.Model
	focus    int
	remember bool
	busy     bool
	activity string

	menu   []authz.Route
	cursor int

	notice   string
	errMsg   string
	opened   authz.Decision
	width    int
	quitting bool

	styles Styles
}

// NewModel creates a console model. The expiration and state subscriptions
// live as long as ctx, which must be cancellable.
func NewModel(ctx context.Context, store *auth.Store, expiry *auth.ExpirationBroadcaster, client Authenticator, guard *authz.Guard, logger *log.Logger) Model {
	if logger == nil {
		logger = log.Nop()
	}

	sp := spinner.New()
	sp.Spinner = spinner.Dot

	identifier := textinput.New()
	identifier.Placeholder = "username or email"
	identifier.CharLimit = 254
	identifier.Focus()

	password := textinput.New()
	password.Placeholder = "password"
	password.EchoMode = textinput.EchoPassword
	password.EchoCharacter = '•'

	return Model{
		ctx:      ctx,
		store:    store,
		client:   client,
		guard:    guard,
		expiry:   expiry.Subscribe(ctx),
		changes:  store.Subscribe(ctx),
		logger:   logger.Component("console"),
		screen:   ScreenLoading,
		spinner:  sp,
		inputs:   []textinput.Model{identifier, password},
		remember: store.RememberPreference(),
		styles:   DefaultStyles(),
	}
}

// Init starts the spinner, initializes the store and listens for expiration.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.initialize(), m.listen(), m.watch(), textinput.Blink)
}

func (m Model) initialize() tea.Cmd {
	ctx, store := m.ctx, m.store
	return func() tea.Msg {
		store.Initialize(ctx)
		return readyMsg{}
	}
}

func (m Model) listen() tea.Cmd {
	ch := m.expiry
	return func() tea.Msg {
		if _, ok := <-ch; !ok {
			return nil
		}
		return expiredMsg{}
	}
}

func (m Model) watch() tea.Cmd {
	ch := m.changes
	return func() tea.Msg {
		change, ok := <-ch
		if !ok {
			return nil
		}
		return stateMsg(change)
	}
}

// open verifies the session with the provider before showing a surface.
func (m Model) open(d authz.Decision) tea.Cmd {
	ctx, client := m.ctx, m.client
	return func() tea.Msg {
		_, err := client.Me(ctx)
		return openedMsg{decision: d, err: err}
	}
}

// Update handles messages and updates the model state
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil

	case spinner.TickMsg:
		if m.screen != ScreenLoading && !m.busy {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case readyMsg:
		return m.syncScreen(), nil

	case expiredMsg:
		m.logger.Info("session expired, returning to login")
		m = m.toLogin(ExpiredNotice)
		return m, m.listen()

	case loginDoneMsg:
		return m.handleLogin(msg)

	case signedOutMsg:
		m.busy = false
		return m.toLogin("Signed out."), nil

	case stateMsg:
		return m.handleStateChange(msg)

	case openedMsg:
		return m.handleOpened(msg)

	case tea.KeyMsg:
		return m.handleKeyPress(msg)
	}

	return m, nil
}

// syncScreen moves to the screen the store's current state calls for.
func (m Model) syncScreen() Model {
	if m.store.Loading() {
		m.screen = ScreenLoading
		return m
	}
	sess, ok := m.store.Current()
	if !ok {
		m.screen = ScreenLogin
		return m
	}
	m.screen = ScreenMenu
	m.menu = m.guard.Menu(authz.Role(sess.Profile.Role))
	if m.cursor >= len(m.menu) {
		m.cursor = 0
	}
	return m
}

// handleStateChange follows transitions made outside the console's own
// commands, such as a rejected renewal or a logout in a running request.
func (m Model) handleStateChange(msg stateMsg) (tea.Model, tea.Cmd) {
	switch {
	case !msg.Authenticated && m.screen == ScreenMenu:
		notice := "Signed out."
		if msg.Reason == "expired" {
			notice = ExpiredNotice
		}
		m.busy = false
		m = m.toLogin(notice)
	case msg.Authenticated && m.screen == ScreenLogin && !m.busy && !m.store.Loading():
		m = m.syncScreen()
	}
	return m, m.watch()
}

func (m Model) handleOpened(msg openedMsg) (tea.Model, tea.Cmd) {
	m.busy = false

	switch {
	case msg.err == nil:
		m.opened = msg.decision
		m.errMsg = ""
	case !m.store.IsAuthenticated():
		return m.toLogin(ExpiredNotice), nil
	case errors.CodeOf(msg.err).Family() == "NET":
		m.errMsg = "Cannot reach the identity provider. Try again."
		m.logger.WithError(msg.err).Warn("opening surface failed", "path", msg.decision.Path)
	default:
		m.errMsg = "Could not open " + msg.decision.Path + "."
		m.logger.WithError(msg.err).Warn("opening surface failed", "path", msg.decision.Path)
	}
	return m, nil
}

func (m Model) toLogin(notice string) Model {
	m.screen = ScreenLogin
	m.notice = notice
	m.errMsg = ""
	m.menu = nil
	m.cursor = 0
	m.opened = authz.Decision{}
	m.inputs[1].SetValue("")
	m.focus = 0
	m.inputs[0].Focus()
	m.inputs[1].Blur()
	return m
}

func (m Model) handleKeyPress(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if key.Matches(msg, keys.Quit) {
		m.quitting = true
		return m, tea.Quit
	}
	if m.busy {
		return m, nil
	}

	switch m.screen {
	case ScreenLogin:
		return m.updateLogin(msg)
	case ScreenMenu:
		return m.updateMenu(msg)
	}
	return m, nil
}

func (m Model) updateLogin(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, keys.Next):
		m.inputs[m.focus].Blur()
		m.focus = (m.focus + 1) % len(m.inputs)
		return m, m.inputs[m.focus].Focus()

	case key.Matches(msg, keys.Remember):
		m.remember = !m.remember
		return m, nil

	case key.Matches(msg, keys.Submit):
		if m.focus == 0 && m.inputs[1].Value() == "" {
			m.inputs[0].Blur()
			m.focus = 1
			return m, m.inputs[1].Focus()
		}
		return m.submitLogin()
	}

	var cmd tea.Cmd
	m.inputs[m.focus], cmd = m.inputs[m.focus].Update(msg)
	return m, cmd
}

func (m Model) submitLogin() (tea.Model, tea.Cmd) {
	identifier, password, remember := m.inputs[0].Value(), m.inputs[1].Value(), m.remember
	ctx, client := m.ctx, m.client

	m.busy = true
	m.activity = "Signing in..."
	m.errMsg = ""
	return m, tea.Batch(m.spinner.Tick, func() tea.Msg {
		res, err := client.Login(ctx, identifier, password)
		return loginDoneMsg{result: res, remember: remember, err: err}
	})
}

func (m Model) handleLogin(msg loginDoneMsg) (tea.Model, tea.Cmd) {
	m.busy = false

	switch {
	case msg.err != nil:
		m.errMsg = "Cannot reach the identity provider. Try again."
		m.logger.WithError(msg.err).Warn("login failed")
		return m, nil
	case !msg.result.Success:
		m.errMsg = loginMessage(msg.result)
		m.inputs[1].SetValue("")
		return m, nil
	}

	if err := m.store.Establish(msg.result.Session, msg.remember); err != nil {
		m.errMsg = "Signed in, but the session could not be saved."
		m.logger.WithError(err).Error("establishing session failed")
		return m, nil
	}
	m.notice = ""
	m.inputs[1].SetValue("")
	return m.syncScreen(), nil
}

func loginMessage(r platform.Result) string {
	switch r.ErrorCode {
	case platform.CodeInvalidCredentials:
		return "Invalid username or password."
	case platform.CodeRateLimited:
		return "Too many attempts. Wait a minute and try again."
	case platform.CodeInvalidInput:
		if r.Field != "" {
			return r.Field + " " + r.Detail
		}
		return r.Detail
	default:
		return "The identity provider could not sign you in: " + r.Detail
	}
}

func (m Model) updateMenu(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, keys.Up):
		if m.cursor > 0 {
			m.cursor--
		}
	case key.Matches(msg, keys.Down):
		if m.cursor < len(m.menu)-1 {
			m.cursor++
		}
	case key.Matches(msg, keys.Submit):
		if len(m.menu) == 0 {
			return m, nil
		}
		d := m.guard.Check(m.menu[m.cursor].Path)
		switch {
		case d.Outcome == authz.OutcomeLogin:
			return m.toLogin(""), nil
		case !d.Allowed():
			m.opened = d
			return m, nil
		}
		m.busy = true
		m.activity = "Opening " + d.Path + "..."
		m.errMsg = ""
		return m, tea.Batch(m.spinner.Tick, m.open(d))
	case key.Matches(msg, keys.Logout):
		m.busy = true
		m.activity = "Signing out..."
		ctx, client := m.ctx, m.client
		return m, tea.Batch(m.spinner.Tick, func() tea.Msg {
			client.SignOut(ctx)
			return signedOutMsg{}
		})
	case msg.String() == "q":
		m.quitting = true
		return m, tea.Quit
	}
	return m, nil
}

// Screen returns the screen currently shown.
func (m Model) Screen() Screen {
	return m.screen
}

// Menu returns the menu entries currently shown.
func (m Model) Menu() []authz.Route {
	return append([]authz.Route(nil), m.menu...)
}

// Notice returns the informational line shown on the login screen.
func (m Model) Notice() string {
	return m.notice
}
