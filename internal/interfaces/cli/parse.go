package cli

import (
	"context"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/turtacn/MedPlan-Intelligence/internal/app"
	"github.com/turtacn/MedPlan-Intelligence/internal/application/prescription"
	"github.com/turtacn/MedPlan-Intelligence/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/MedPlan-Intelligence/pkg/errors"
)

// maxInputBytes caps --file and --image reads.
const maxInputBytes = 20 << 20

// NewParseCmd creates the parse command.
func NewParseCmd() *cobra.Command {
	var (
		text       string
		file       string
		image      string
		lang       string
		useLLM     bool
		conditions []string
		allergies  []string
	)

	cmd := &cobra.Command{
		Use:   "parse",
		Short: "Extract a medication plan from prescription text or an image",
		Example: `  medplan parse --text "Tab Metformin 500mg BD after food x 30 days"
  medplan parse --file rx.txt --allergy penicillin -o json
  medplan parse --image rx.jpg --lang en`,
		RunE: func(cmd *cobra.Command, args []string) error {
			req := &prescription.ParseRequest{
				RawText:      text,
				LanguageHint: lang,
				Conditions:   conditions,
				Allergies:    allergies,
			}
			if cmd.Flags().Changed("llm") {
				req.UseLLM = &useLLM
			}

			var err error
			if file != "" {
				if req.RawText, err = readInput(cmd.InOrStdin(), file); err != nil {
					return err
				}
			}
			if image != "" {
				raw, err := readInput(cmd.InOrStdin(), image)
				if err != nil {
					return err
				}
				req.Image = []byte(raw)
			}
			if err := req.Validate(); err != nil {
				return err
			}

			return runWithApp(cmd, func(ctx context.Context, cliCtx *CLIContext, a *app.App) error {
				resp := a.Orchestrator.Process(ctx, req)
				cliCtx.Logger.Debug("parse finished",
					logging.String("request_id", resp.RequestID),
					logging.Int("medications", len(resp.Cards)))

				if cliCtx.OutputFormat == OutputJSON {
					if err := printJSON(cmd.OutOrStdout(), resp); err != nil {
						return err
					}
				} else {
					renderResponse(cmd.OutOrStdout(), resp)
				}
				return resp.Err()
			})
		},
	}

	f := cmd.Flags()
	f.StringVarP(&text, "text", "t", "", "prescription text")
	f.StringVarP(&file, "file", "f", "", "read prescription text from a file (- for stdin)")
	f.StringVarP(&image, "image", "i", "", "prescription image file (- for stdin)")
	f.StringVar(&lang, "lang", "", "language hint passed to OCR and the LLM parser")
	f.BoolVar(&useLLM, "llm", false, "parse with the LLM instead of rules (overrides config)")
	f.StringSliceVar(&conditions, "condition", nil, "known condition, repeatable")
	f.StringSliceVar(&allergies, "allergy", nil, "known allergy, repeatable")
	cmd.MarkFlagsMutuallyExclusive("text", "file")
	return cmd
}

// readInput reads path, or stdin when path is "-".
func readInput(stdin io.Reader, path string) (string, error) {
	var r io.Reader
	if path == "-" {
		r = stdin
	} else {
		f, err := os.Open(path)
		if err != nil {
			return "", errors.Wrap(err, errors.ErrCodeInputValidation, "cannot open input").WithDetail(path)
		}
		defer f.Close()
		r = f
	}
	data, err := io.ReadAll(io.LimitReader(r, maxInputBytes+1))
	if err != nil {
		return "", errors.Wrap(err, errors.ErrCodeInputValidation, "cannot read input").WithDetail(path)
	}
	if len(data) > maxInputBytes {
		return "", errors.Newf(errors.ErrCodeInputValidation, "input exceeds %d bytes", maxInputBytes).WithDetail(path)
	}
	return string(data), nil
}
