package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/kbadmin/internal/config"
	"github.com/felixgeelhaar/kbadmin/internal/log"
)

var rootCmd = NewRootCmd()

// rootOptions carries persistent flags and the lazily wired App.
type rootOptions struct {
	configFile string
	logLevel   string
	appOpts    []AppOption
	app        *App
}

// NewRootCmd builds the kbadmin command tree.
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "kbadmin",
		Short: "Knowledge base admin console client",
		Long: `kbadmin signs administrators of a knowledge base into its identity
provider and keeps the session alive across commands.

Sessions are kept per terminal session and, with --remember, across reboots.
Every call to the admin API renews the session when the provider hands out a
fresh token; a rejected token logs you out everywhere at once.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&opts.configFile, "config", "", "config file (default is ~/.config/kbadmin/config.yaml)")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "override log.level (debug, info, warn, error)")

	cmd.AddCommand(
		newLoginCmd(opts),
		newRegisterCmd(opts),
		newLogoutCmd(opts),
		newStatusCmd(opts),
		newOpenCmd(opts),
		newAPICmd(opts),
		newPolicyCmd(opts),
		newConsoleCmd(opts),
		newDoctorCmd(opts),
		newVersionCmd(),
	)

	return cmd
}

// load reads the configuration and wires the App once per invocation.
func (o *rootOptions) load(cmd *cobra.Command) (*App, error) {
	if o.app != nil {
		return o.app, nil
	}

	cfg, err := config.Load(o.configFile)
	if err != nil {
		return nil, err
	}
	if o.logLevel != "" {
		cfg.Log.Level = o.logLevel
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}

	app, err := NewApp(cmd.Context(), cfg, o.appOpts...)
	if err != nil {
		return nil, err
	}
	log.SetDefaultLogger(app.Logger)

	o.app = app
	return app, nil
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

// ExecuteContext runs the root command with ctx
func ExecuteContext(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}
