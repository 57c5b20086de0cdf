// Command fake-idp runs an in-memory identity provider for local
// development of kbadmin.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/kbadmin/internal/fakeidp"
	"github.com/felixgeelhaar/kbadmin/internal/log"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newCommand() *cobra.Command {
	cfg := fakeidp.DefaultConfig()
	var (
		addr  string
		users []string
	)

	cmd := &cobra.Command{
		Use:   "fake-idp",
		Short: "Run a local identity provider for kbadmin development",
		Long: `Serves the admin backend authentication contract from memory.

Seed accounts with --user username:password:role:org (repeatable). Without
any, admin1:correct:admin:default and helper:helper-pass:assistant:default
are created. Prometheus metrics are served at /metrics.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := log.New(log.DevelopmentConfig())
			srv := fakeidp.New(cfg, logger)

			if len(users) == 0 {
				users = []string{"admin1:correct:admin:default", "helper:helper-pass:assistant:default"}
			}
			for _, spec := range users {
				u, password, err := parseUser(spec)
				if err != nil {
					return err
				}
				if err := srv.AddUser(u, password); err != nil {
					return err
				}
				logger.Info("seeded account", "username", u.Username, "role", u.Role, "org", u.OrgID)
			}

			errCh := make(chan error, 1)
			go func() { errCh <- srv.Start(addr) }()

			select {
			case err := <-errCh:
				return err
			case <-cmd.Context().Done():
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				return srv.Shutdown(shutdownCtx)
			}
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8000", "listen address")
	cmd.Flags().StringVar(&cfg.Secret, "secret", cfg.Secret, "token signing secret")
	cmd.Flags().DurationVar(&cfg.TokenTTL, "token-ttl", cfg.TokenTTL, "token lifetime")
	cmd.Flags().DurationVar(&cfg.RefreshWithin, "refresh-within", cfg.RefreshWithin, "renew tokens with less than this lifetime left (0 disables)")
	cmd.Flags().StringArrayVar(&users, "user", nil, "seed account username:password:role:org")
	return cmd
}

func parseUser(spec string) (fakeidp.User, string, error) {
	parts := strings.Split(spec, ":")
	if len(parts) != 4 {
		return fakeidp.User{}, "", fmt.Errorf("invalid --user %q: want username:password:role:org", spec)
	}
	username := parts[0]
	return fakeidp.User{
		UID:      username,
		Username: username,
		Role:     parts[2],
		OrgID:    parts[3],
	}, parts[1], nil
}
