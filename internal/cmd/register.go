package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/kbadmin/internal/console"
	"github.com/felixgeelhaar/kbadmin/internal/platform"
)

func newRegisterCmd(o *rootOptions) *cobra.Command {
	var reg platform.Registration
	var remember bool

	cmd := &cobra.Command{
		Use:   "register",
		Short: "Register a new organisation and its first administrator",
		Long: `Register a new organisation. The account created is the organisation's
superuser and is signed in immediately.

Examples:
  kbadmin register --email owner@acme.test --org-id acme --org-name "Acme Ltd"
  kbadmin register --email owner@acme.test --org-id acme --org-name Acme --username owner --remember`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := o.load(cmd)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			app.Start(ctx)

			if reg.Password == "" {
				reg.Password = os.Getenv(PasswordEnv)
			}
			if reg.Password == "" && console.ShouldPrompt() {
				if reg.Password, err = console.PromptForString("Password", "at least 8 characters", true); err != nil {
					return err
				}
			}

			reg = reg.Normalize()
			if res, ok := reg.Validate(); !ok {
				return res.Err()
			}

			available, err := app.Client.CheckOrgID(ctx, reg.OrganisationID)
			if err != nil {
				return err
			}
			if !available {
				return platform.Result{ErrorCode: platform.CodeOrgIDTaken, Field: "organisation_id"}.Err()
			}

			res, err := app.Client.Register(ctx, reg)
			if err != nil {
				return err
			}
			if !res.Success {
				return res.Err()
			}
			if err := app.Store.Establish(res.Session, remember); err != nil {
				return err
			}

			styles := console.DefaultStyles()
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, styles.Success.Render("✓ Registered "+reg.OrganisationName))
			fmt.Fprintf(out, "  Organisation: %s\n", res.Session.Profile.TenantID)
			fmt.Fprintf(out, "  Logged in as: %s (%s)\n", res.Session.Profile.DisplayName(), res.Session.Profile.Role)
			return nil
		},
	}

	cmd.Flags().StringVar(&reg.Email, "email", "", "email address (required)")
	cmd.Flags().StringVar(&reg.Password, "password", "", "password (prefer "+PasswordEnv+" or the prompt)")
	cmd.Flags().StringVar(&reg.OrganisationID, "org-id", "", "organisation id: 3-50 of a-z, 0-9, _ and - (required)")
	cmd.Flags().StringVar(&reg.OrganisationName, "org-name", "", "organisation display name (required)")
	cmd.Flags().StringVar(&reg.Username, "username", "", "username (defaults to the organisation id)")
	cmd.Flags().BoolVar(&remember, "remember", false, "keep the session across reboots")

	return cmd
}
