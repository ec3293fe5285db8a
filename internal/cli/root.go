package cli

import (
	"github.com/spf13/cobra"
)

// NewRoot builds the conductor command tree: "run" launches the
// wrap/detect/forward/inject loop against a wrapped coding agent;
// "config" is a thin sibling for showing and validating configuration,
// and the version is printed by the root's --version flag.
func NewRoot(version string) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "conductor",
		Short:         "conductor: authorization mediator for an autonomous coding agent",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.Version = version
	cmd.SetVersionTemplate("conductor {{.Version}}\n")

	cmd.AddCommand(newRunCmd())
	cmd.AddCommand(newConfigCmd())

	return cmd
}
