package version

import (
	"fmt"

	"github.com/spf13/cobra"
)

// AttachCobraVersionCommand attaches a `version` subcommand to the provided root command.
// By default it prints the full build info; --short prints the version alone.
func AttachCobraVersionCommand(root *cobra.Command) {
	var short bool

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information.",
		Long:  "Print the version of chart-publisher with the commit hash and build timestamp injected at build time.",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			if short {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), Short())
				return
			}

			_, _ = fmt.Fprintln(cmd.OutOrStdout(), Full())
		},
	}

	versionCmd.Flags().BoolVar(&short, "short", false, "print only the version number")
	root.AddCommand(versionCmd)
}
