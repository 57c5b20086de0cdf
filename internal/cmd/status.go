package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/kbadmin/internal/auth"
	"github.com/felixgeelhaar/kbadmin/internal/authz"
	"github.com/felixgeelhaar/kbadmin/internal/console"
	"github.com/felixgeelhaar/kbadmin/internal/errors"
)

// StatusReport is what `kbadmin status` prints.
type StatusReport struct {
	Provider      string     `json:"provider" yaml:"provider"`
	Authenticated bool       `json:"authenticated" yaml:"authenticated"`
	Username      string     `json:"username,omitempty" yaml:"username,omitempty"`
	Email         string     `json:"email,omitempty" yaml:"email,omitempty"`
	Role          string     `json:"role,omitempty" yaml:"role,omitempty"`
	Organisation  string     `json:"organisation,omitempty" yaml:"organisation,omitempty"`
	Remembered    bool       `json:"remembered" yaml:"remembered"`
	Token         string     `json:"token,omitempty" yaml:"token,omitempty"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty" yaml:"expires_at,omitempty"`
	Verified      *bool      `json:"verified,omitempty" yaml:"verified,omitempty"`
	Refreshed     *bool      `json:"refreshed,omitempty" yaml:"refreshed,omitempty"`
	Surfaces      []string   `json:"surfaces,omitempty" yaml:"surfaces,omitempty"`
}

func newStatusReport(app *App) StatusReport {
	r := StatusReport{Provider: app.Client.BaseURL()}

	sess, ok := app.Store.Current()
	if !ok {
		return r
	}

	p := sess.Profile
	r.Authenticated = true
	r.Username = p.Username
	r.Email = p.Email
	r.Role = p.Role
	r.Organisation = p.TenantID
	r.Remembered = app.Store.Remembered()
	r.Token = auth.Redact(sess.Token)
	if exp, ok := auth.TokenExpiry(sess.Token); ok {
		r.ExpiresAt = &exp
	}
	for _, route := range app.Guard.Menu(authz.Role(p.Role)) {
		r.Surfaces = append(r.Surfaces, route.Path)
	}
	return r
}

// String renders the report for text output.
func (r StatusReport) String() string {
	styles := console.DefaultStyles()
	var b strings.Builder

	if !r.Authenticated {
		b.WriteString(styles.Warning.Render("Not logged in") + "\n")
		fmt.Fprintf(&b, "  Provider: %s\n", r.Provider)
		b.WriteString("  Use 'kbadmin login' to authenticate.\n")
		return b.String()
	}

	b.WriteString(styles.Success.Render("Logged in") + "\n")
	fmt.Fprintf(&b, "  Provider:     %s\n", r.Provider)
	fmt.Fprintf(&b, "  Username:     %s\n", r.Username)
	if r.Email != "" {
		fmt.Fprintf(&b, "  Email:        %s\n", r.Email)
	}
	fmt.Fprintf(&b, "  Role:         %s\n", r.Role)
	fmt.Fprintf(&b, "  Organisation: %s\n", r.Organisation)
	fmt.Fprintf(&b, "  Remembered:   %t\n", r.Remembered)
	fmt.Fprintf(&b, "  Token:        %s\n", r.Token)
	if r.ExpiresAt != nil {
		fmt.Fprintf(&b, "  Expires:      %s\n", r.ExpiresAt.Local().Format(time.RFC1123))
	}
	if r.Verified != nil {
		fmt.Fprintf(&b, "  Verified:     %t\n", *r.Verified)
	}
	if r.Refreshed != nil {
		fmt.Fprintf(&b, "  Refreshed:    %t\n", *r.Refreshed)
	}
	if len(r.Surfaces) > 0 {
		fmt.Fprintf(&b, "  Surfaces:     %s\n", strings.Join(r.Surfaces, ", "))
	}
	return b.String()
}

func newStatusCmd(o *rootOptions) *cobra.Command {
	var verify, refresh bool
	var format string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the current session",
		Long: `Show who is signed in, with which role and organisation, and which
console surfaces that role may open. --verify asks the provider to confirm
the session; a rejected session is removed. --refresh exchanges the token
for a fresh one ahead of expiry.

Examples:
  kbadmin status
  kbadmin status --verify -o json
  kbadmin status --refresh`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter, err := NewFormatter(format, cmd.OutOrStdout())
			if err != nil {
				return err
			}

			app, err := o.load(cmd)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			app.Start(ctx)

			var refreshed bool
			var callErr error
			if refresh && app.Store.IsAuthenticated() {
				refreshed, callErr = app.Client.Refresh(ctx)
			}
			if verify && callErr == nil && app.Store.IsAuthenticated() {
				_, callErr = app.Client.Me(ctx)
			}

			report := newStatusReport(app)
			if report.Authenticated {
				if refresh {
					report.Refreshed = &refreshed
				}
				if verify {
					ok := callErr == nil
					report.Verified = &ok
				}
			}
			if err := formatter.Format(report); err != nil {
				return err
			}

			if errors.HasCode(callErr, errors.ErrCodeSessionExpired) {
				return errors.NewSessionExpiredError()
			}
			return callErr
		},
	}

	cmd.Flags().BoolVar(&verify, "verify", false, "confirm the session with the provider")
	cmd.Flags().BoolVar(&refresh, "refresh", false, "renew the token now")
	cmd.Flags().StringVarP(&format, "output", "o", "text", "output format: text, json, yaml")

	return cmd
}
