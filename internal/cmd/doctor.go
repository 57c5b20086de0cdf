package cmd

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/kbadmin/internal/console"
	"github.com/felixgeelhaar/kbadmin/internal/errors"
	"github.com/felixgeelhaar/kbadmin/internal/health"
	"github.com/felixgeelhaar/kbadmin/internal/storage"
)

// DoctorReport is what `kbadmin doctor` prints.
type DoctorReport struct {
	Status health.Status             `json:"status" yaml:"status"`
	Checks map[string]*health.Result `json:"checks" yaml:"checks"`
}

// String renders the report for text output.
func (r DoctorReport) String() string {
	styles := console.DefaultStyles()
	var b strings.Builder

	names := make([]string, 0, len(r.Checks))
	for name := range r.Checks {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		res := r.Checks[name]
		icon := styles.Success.Render("✓")
		switch res.Status {
		case health.StatusDegraded:
			icon = styles.Warning.Render("!")
		case health.StatusUnhealthy:
			icon = styles.Error.Render("✗")
		}
		fmt.Fprintf(&b, "%s %-18s %s %s\n", icon, name, res.Message,
			styles.Muted.Render(fmt.Sprintf("(%s)", res.Latency.Round(time.Millisecond))))
	}
	fmt.Fprintf(&b, "\nOverall: %s\n", r.Status)
	return b.String()
}

func newDoctorCmd(o *rootOptions) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check the provider, session storage and role table",
		Long: `Run diagnostics: whether the identity provider answers within its
contract, whether both session tiers are writable, whether the role table
locks any role out, and whether this terminal session is signed in.

Exits non-zero when any check is unhealthy.`,
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

			m := health.NewManager().WithTimeout(app.Config.Provider.Timeout)
			m.AddChecker(health.ProviderChecker(app.Client))
			m.AddChecker(health.StorageChecker(storage.Ephemeral, app.Ephemeral))
			m.AddChecker(health.StorageChecker(storage.Durable, app.Durable))
			m.AddChecker(health.PolicyChecker(app.Guard.Policy()))
			m.AddChecker(health.SessionChecker(app.Store))

			results := m.Check(ctx)
			report := DoctorReport{Status: m.OverallStatus(results), Checks: results}
			if err := formatter.Format(report); err != nil {
				return err
			}

			unhealthy := func(name string) bool {
				res := results[name]
				return res != nil && res.Status == health.StatusUnhealthy
			}
			switch {
			case unhealthy("identity-provider"):
				return errors.NewProviderUnreachableError(app.Client.BaseURL(), fmt.Errorf("%s", results["identity-provider"].Message))
			case unhealthy("policy"):
				return errors.New(errors.ErrCodePolicyLoad, results["policy"].Message)
			case report.Status == health.StatusUnhealthy:
				return errors.New(errors.ErrCodeStorageWrite, "session storage is not writable").
					WithSuggestion("Check storage.durable_dir and storage.ephemeral_dir")
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&format, "output", "o", "text", "output format: text, json, yaml")

	return cmd
}
