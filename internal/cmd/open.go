package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/kbadmin/internal/authz"
	"github.com/felixgeelhaar/kbadmin/internal/console"
)

func newOpenCmd(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "open [surface]",
		Short: "Check access to a console surface",
		Long: `Run the route guard for a console surface such as /kb or /users.
Without an argument, list the surfaces the current role may open.

Exit status 5 means you need to log in, 3 that your role may not open the
surface.

Examples:
  kbadmin open
  kbadmin open /archive`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := o.load(cmd)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			app.Start(ctx)

			styles := console.DefaultStyles()
			out := cmd.OutOrStdout()

			if len(args) == 0 {
				sess, ok := app.Store.Current()
				if !ok {
					return notLoggedIn()
				}
				for _, r := range app.Guard.Menu(authz.Role(sess.Profile.Role)) {
					fmt.Fprintf(out, "%-22s %s\n", r.Path, styles.Muted.Render(r.Title))
				}
				return nil
			}

			d, err := app.Guard.Await(ctx, args[0])
			if err != nil {
				return err
			}
			if !d.Allowed() {
				app.Logger.Debug("surface refused", "path", d.Path, "outcome", d.Outcome.String(), "redirect", d.Redirect)
				return d.Err()
			}

			fmt.Fprintln(out, styles.Success.Render(fmt.Sprintf("✓ %s", d.Path))+
				styles.Muted.Render(fmt.Sprintf(" (%s, role %s)", d.Resource, d.Role)))
			return nil
		},
	}
}
