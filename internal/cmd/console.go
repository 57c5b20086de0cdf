package cmd

import (
	"context"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/kbadmin/internal/console"
	"github.com/felixgeelhaar/kbadmin/internal/storage"
)

func newConsoleCmd(o *rootOptions) *cobra.Command {
	var isolated bool

	cmd := &cobra.Command{
		Use:   "console",
		Short: "Open the interactive admin console",
		Long: `Open the interactive console: sign in, pick a surface from the menu your
role allows, and get sent back to the login screen as soon as the provider
rejects the session.

--isolated keeps the terminal-session tier in memory, so the console neither
sees nor leaves behind a session for other commands in this shell.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if isolated {
				o.appOpts = append(o.appOpts, WithEphemeralBackend(storage.NewMemoryBackend()))
			}
			app, err := o.load(cmd)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			model := console.NewModel(ctx, app.Store, app.Expiry, app.Client, app.Guard, app.Logger)
			_, err = tea.NewProgram(model, tea.WithContext(ctx), tea.WithAltScreen()).Run()
			return err
		},
	}

	cmd.Flags().BoolVar(&isolated, "isolated", false, "keep the terminal-session tier in memory")

	return cmd
}
