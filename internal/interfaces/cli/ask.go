package cli

import (
	"context"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/turtacn/MedPlan-Intelligence/internal/app"
	"github.com/turtacn/MedPlan-Intelligence/internal/application/prescription"
)

// NewAskCmd creates the ask command.
func NewAskCmd() *cobra.Command {
	var req prescription.AskRequest

	cmd := &cobra.Command{
		Use:     "ask",
		Short:   "Ask a question about a medicine",
		Example: `  medplan ask --question "Can I take this with milk?" --med Amoxicillin`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := req.Validate(); err != nil {
				return err
			}
			return runWithApp(cmd, func(ctx context.Context, cliCtx *CLIContext, a *app.App) error {
				resp, err := a.Ask.Ask(ctx, &req)
				if err != nil {
					return err
				}
				if cliCtx.OutputFormat == OutputJSON {
					return printJSON(cmd.OutOrStdout(), resp)
				}
				fmt.Fprintln(cmd.OutOrStdout(), resp.Answer)
				if resp.Cached {
					fmt.Fprintln(cmd.ErrOrStderr(), color.New(color.Faint).Sprint("(cached answer)"))
				}
				return nil
			})
		},
	}

	f := cmd.Flags()
	f.StringVarP(&req.Question, "question", "q", "", "the question")
	f.StringSliceVarP(&req.Medications, "med", "m", nil, "medication the question is about, repeatable")
	f.StringVar(&req.Context, "context", "", "extra context, such as age or condition")
	_ = cmd.MarkFlagRequired("question")
	return cmd
}
