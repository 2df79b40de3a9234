package cli

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/turtacn/MedPlan-Intelligence/internal/config"
)

// NewVersionCmd prints build information.
func NewVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			cliCtx, err := GetCLIContext(cmd)
			if err == nil && cliCtx.OutputFormat == OutputJSON {
				return printJSON(cmd.OutOrStdout(), map[string]string{
					"version":    config.Version,
					"git_commit": config.GitCommit,
					"build_date": config.BuildDate,
					"go_version": runtime.Version(),
				})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "medplan %s\n  commit: %s\n  built:  %s\n  go:     %s\n",
				config.Version, config.GitCommit, config.BuildDate, runtime.Version())
			return nil
		},
	}
}
