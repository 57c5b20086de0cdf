package console

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"

	"github.com/felixgeelhaar/kbadmin/internal/authz"
)

// View renders the console
func (m Model) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	b.WriteString(m.styles.Title.Render("Knowledge Base Admin"))
	b.WriteString("\n")

	switch m.screen {
	case ScreenLoading:
		b.WriteString(m.spinner.View() + " Restoring session...")
	case ScreenLogin:
		b.WriteString(m.renderLogin())
	case ScreenMenu:
		b.WriteString(m.renderMenu())
	}

	return b.String() + "\n"
}

func (m Model) renderLogin() string {
	var b strings.Builder

	if m.notice != "" {
		b.WriteString(m.styles.Warning.Render(m.notice))
		b.WriteString("\n\n")
	}

	b.WriteString(m.styles.Label.Render("Username") + m.inputs[0].View() + "\n")
	b.WriteString(m.styles.Label.Render("Password") + m.inputs[1].View() + "\n\n")

	check := "[ ]"
	if m.remember {
		check = "[x]"
	}
	b.WriteString(m.styles.Muted.Render(check + " Remember me"))
	b.WriteString("\n")

	if m.busy {
		b.WriteString("\n" + m.spinner.View() + " " + m.activity + "\n")
	}
	if m.errMsg != "" {
		b.WriteString("\n" + m.styles.Error.Render(m.errMsg) + "\n")
	}

	b.WriteString(m.renderHelp(keys.Next, keys.Remember, keys.Submit, keys.Quit))
	return b.String()
}

func (m Model) renderMenu() string {
	var b strings.Builder

	if sess, ok := m.store.Current(); ok {
		p := sess.Profile
		b.WriteString(m.styles.Subtitle.Render(fmt.Sprintf("%s · %s · %s", p.DisplayName(), p.Role, p.TenantID)))
		b.WriteString("\n\n")
	}

	if len(m.menu) == 0 {
		b.WriteString(m.styles.Muted.Render("Your role has no surfaces."))
		b.WriteString("\n")
	}
	for i, r := range m.menu {
		line := fmt.Sprintf("%-22s %s", r.Title, r.Path)
		if i == m.cursor {
			b.WriteString(m.styles.Selected.Render(line))
		} else {
			b.WriteString("  " + line)
		}
		b.WriteString("\n")
	}

	if m.opened.Path != "" {
		b.WriteString("\n")
		switch m.opened.Outcome {
		case authz.OutcomeAllow:
			b.WriteString(m.styles.Success.Render("Opened " + m.opened.Path))
		case authz.OutcomeUnauthorized:
			b.WriteString(m.styles.Error.Render("Not permitted: " + m.opened.Path))
		default:
			b.WriteString(m.styles.Muted.Render(m.opened.Outcome.String() + ": " + m.opened.Path))
		}
		b.WriteString("\n")
	}

	if m.busy {
		b.WriteString("\n" + m.spinner.View() + " " + m.activity + "\n")
	}
	if m.errMsg != "" {
		b.WriteString("\n" + m.styles.Error.Render(m.errMsg) + "\n")
	}

	b.WriteString(m.renderHelp(keys.Up, keys.Down, keys.Submit, keys.Logout, keys.Quit))
	return b.String()
}

func (m Model) renderHelp(bindings ...key.Binding) string {
	parts := make([]string, 0, len(bindings))
	for _, k := range bindings {
		h := k.Help()
		parts = append(parts, m.styles.Key.Render(h.Key)+" "+h.Desc)
	}
	return m.styles.Help.Render(strings.Join(parts, "  "))
}
