package cli

import (
	"github.com/spf13/cobra"

	"github.com/turtacn/MedPlan-Intelligence/internal/config"
	"github.com/turtacn/MedPlan-Intelligence/internal/intelligence/interaction_checker"
	"github.com/turtacn/MedPlan-Intelligence/pkg/errors"
)

// NewInteractionsCmd creates the interactions command. It needs only the
// contraindication table, so no oracle or cache is built.
func NewInteractionsCmd() *cobra.Command {
	var (
		meds       []string
		conditions []string
		allergies  []string
	)

	cmd := &cobra.Command{
		Use:     "interactions",
		Short:   "Check medications against the contraindication table",
		Example: `  medplan interactions --med Aspirin --med Warfarin --allergy NSAID`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(meds) == 0 {
				return errors.New(errors.ErrCodeInputValidation, "at least one --med is required")
			}
			cliCtx, err := GetCLIContext(cmd)
			if err != nil {
				return err
			}
			defer cliCtx.close()

			checker, err := newChecker(cliCtx.Config, cliCtx)
			if err != nil {
				return err
			}
			report := checker.Check(meds, conditions, allergies)

			if cliCtx.OutputFormat == OutputJSON {
				return printJSON(cmd.OutOrStdout(), report)
			}
			renderReport(cmd.OutOrStdout(), report)
			return nil
		},
	}

	f := cmd.Flags()
	f.StringSliceVarP(&meds, "med", "m", nil, "medication name, repeatable or comma-separated")
	f.StringSliceVar(&conditions, "condition", nil, "known condition, repeatable")
	f.StringSliceVar(&allergies, "allergy", nil, "known allergy, repeatable")
	return cmd
}

func newChecker(cfg *config.Config, cliCtx *CLIContext) (interaction_checker.Checker, error) {
	table, err := interaction_checker.LoadTableFile(cfg.Pipeline.InteractionTablePath)
	if err != nil {
		return nil, err
	}
	return interaction_checker.NewChecker(table, cliCtx.Logger), nil
}
