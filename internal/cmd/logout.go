package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newLogoutCmd(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Sign out and forget the session",
		Long: `Notify the identity provider and remove the session from both the
terminal-session and the remembered tier. The local session is removed even
when the provider cannot be reached.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := o.load(cmd)
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			out := cmd.OutOrStdout()
			if !app.Start(ctx) {
				fmt.Fprintln(out, "Not logged in.")
				return nil
			}

			sess, _ := app.Store.Current()
			app.Client.SignOut(ctx)

			fmt.Fprintf(out, "Logged out %s.\n", sess.Profile.DisplayName())
			return nil
		},
	}
}
