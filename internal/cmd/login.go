package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/kbadmin/internal/console"
	"github.com/felixgeelhaar/kbadmin/internal/errors"
)

// PasswordEnv supplies the password to login and register without a flag.
const PasswordEnv = "KBADMIN_PASSWORD"

func newLoginCmd(o *rootOptions) *cobra.Command {
	var username, email, password string
	var remember bool

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in to the identity provider",
		Long: `Sign in with a username (or organisation id) or an email and a password.

Missing values are prompted for when stdin is a terminal. Without --remember
the session lasts until this terminal session ends.

Examples:
  kbadmin login --username admin1 --remember
  kbadmin login --email admin@example.com
  KBADMIN_PASSWORD=... kbadmin login --username admin1`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if username != "" && email != "" {
				return errors.New(errors.ErrCodeInvalidInput, "use either --username or --email, not both")
			}

			app, err := o.load(cmd)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			app.Start(ctx)

			creds := console.Credentials{
				Identifier: username + email,
				Password:   password,
				Remember:   remember,
			}
			if creds.Password == "" {
				creds.Password = os.Getenv(PasswordEnv)
			}
			if !cmd.Flags().Changed("remember") {
				creds.Remember = app.Store.RememberPreference()
			}

			if creds.Identifier == "" || creds.Password == "" {
				if !console.ShouldPrompt() {
					return errors.New(errors.ErrCodeInvalidInput, "--username or --email and --password are required").
						WithSuggestion("Pass the password via " + PasswordEnv + " in scripts")
				}
				creds, err = console.PromptForCredentials(creds, !cmd.Flags().Changed("remember"))
				if err != nil {
					return err
				}
			}

			res, err := app.Client.Login(ctx, creds.Identifier, creds.Password)
			if err != nil {
				return err
			}
			if !res.Success {
				return res.Err()
			}
			if err := app.Store.Establish(res.Session, creds.Remember); err != nil {
				return err
			}

			styles := console.DefaultStyles()
			p := res.Session.Profile
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, styles.Success.Render("✓ Logged in as "+p.DisplayName()))
			fmt.Fprintf(out, "  Role:         %s\n", p.Role)
			fmt.Fprintf(out, "  Organisation: %s\n", p.TenantID)
			if creds.Remember {
				fmt.Fprintln(out, styles.Muted.Render("  Remembered on this machine."))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&username, "username", "", "username or organisation id")
	cmd.Flags().StringVar(&email, "email", "", "email address")
	cmd.Flags().StringVar(&password, "password", "", "password (prefer "+PasswordEnv+" or the prompt)")
	cmd.Flags().BoolVar(&remember, "remember", false, "keep the session across reboots")

	return cmd
}
