package cmd

import (
	"sort"

	"github.com/spf13/cobra"
)

func newPolicyCmd(o *rootOptions) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "policy",
		Short: "Print the effective role table",
		Long: `Print the role table the route guard enforces: the built-in table or
the one loaded from policy.file. The YAML output is a valid policy file.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if format == "text" {
				format = "yaml"
			}
			formatter, err := NewFormatter(format, cmd.OutOrStdout())
			if err != nil {
				return err
			}

			app, err := o.load(cmd)
			if err != nil {
				return err
			}
			policy := app.Guard.Policy()

			if format == "yaml" {
				return formatter.Format(policy)
			}

			table := make(map[string][]string)
			for _, role := range policy.Roles() {
				var resources []string
				for _, r := range policy.Resources(role) {
					resources = append(resources, string(r))
				}
				sort.Strings(resources)
				table[string(role)] = resources
			}
			return formatter.Format(map[string]any{"roles": table})
		},
	}

	cmd.Flags().StringVarP(&format, "output", "o", "yaml", "output format: yaml, json")

	return cmd
}
