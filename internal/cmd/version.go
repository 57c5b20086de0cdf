package cmd

import (
	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/kbadmin/internal/version"
)

func newVersionCmd() *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter, err := NewFormatter(format, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			return formatter.Format(version.GetInfo())
		},
	}

	cmd.Flags().StringVarP(&format, "output", "o", "text", "output format: text, json, yaml")

	return cmd
}
