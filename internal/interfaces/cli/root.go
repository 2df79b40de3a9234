// Package cli implements the medplan command-line tool. Commands run the
// pipeline in-process against the same configuration the API server uses.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/turtacn/MedPlan-Intelligence/internal/app"
	"github.com/turtacn/MedPlan-Intelligence/internal/config"
	"github.com/turtacn/MedPlan-Intelligence/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/MedPlan-Intelligence/pkg/errors"
)

// Output formats accepted by --output.
const (
	OutputTable = "table"
	OutputJSON  = "json"
)

// cliContextKey is the context key for CLIContext.
type cliContextKey struct{}

// AppBuilder constructs the pipeline components. Tests substitute a stub.
type AppBuilder func(cfg *config.Config, logger logging.Logger, opts app.Options) (*app.App, error)

// RootOptions holds global CLI flags.
type RootOptions struct {
	ConfigPath   string
	LogLevel     string
	OutputFormat string
	Verbose      bool
	NoColor      bool
	Timeout      time.Duration
}

// CLIContext carries initialized dependencies through the command tree.
type CLIContext struct {
	Config       *config.Config
	Logger       logging.Logger
	OutputFormat string
	Verbose      bool
	Timeout      time.Duration

	build AppBuilder
	app   *app.App
}

// App builds the pipeline on first use. Commands that never touch it
// (version, migrate) skip oracle and cache setup.
func (c *CLIContext) App() (*app.App, error) {
	if c.app != nil {
		return c.app, nil
	}
	a, err := c.build(c.Config, c.Logger, app.Options{SkipMetrics: true, SkipEvents: true})
	if err != nil {
		return nil, err
	}
	c.app = a
	return a, nil
}

func (c *CLIContext) close() {
	if c.app != nil {
		c.app.Close()
		c.app = nil
	}
	_ = c.Logger.Sync()
}

// NewRootCommand creates the root command with every subcommand attached.
func NewRootCommand() *cobra.Command {
	return newRootCommand(app.New)
}

func newRootCommand(build AppBuilder) *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "medplan",
		Short: "MedPlan-Intelligence CLI: turn prescriptions into explained medication plans",
		Long: "medplan extracts structured medication plans from prescription text or images,\n" +
			"checks them for interactions, and explains every field it detected.",
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", config.Version, config.GitCommit, config.BuildDate),
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return persistentPreRun(cmd, opts, build)
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := cmd.PersistentFlags()
	pf.StringVarP(&opts.ConfigPath, "config", "c", "", "config file path (default: ./medplan.yaml)")
	pf.StringVar(&opts.LogLevel, "log-level", "warn", "log level (debug, info, warn, error)")
	pf.StringVarP(&opts.OutputFormat, "output", "o", OutputTable, "output format (table, json)")
	pf.BoolVarP(&opts.Verbose, "verbose", "v", false, "enable verbose output")
	pf.BoolVar(&opts.NoColor, "no-color", false, "disable colored output")
	pf.DurationVar(&opts.Timeout, "timeout", 5*time.Minute, "overall command timeout")

	cmd.AddCommand(
		NewParseCmd(),
		NewInteractionsCmd(),
		NewAskCmd(),
		NewMigrateCmd(),
		NewVersionCmd(),
	)
	return cmd
}

// persistentPreRun initializes config and logger, then stores CLIContext.
func persistentPreRun(cmd *cobra.Command, opts *RootOptions, build AppBuilder) error {
	switch strings.ToLower(opts.OutputFormat) {
	case OutputTable, OutputJSON:
	default:
		return errors.NewValidationError("output", fmt.Sprintf("%q is not one of table, json", opts.OutputFormat))
	}
	if opts.NoColor {
		color.NoColor = true
	}

	cfg, err := initConfig(cmd.ErrOrStderr(), opts)
	if err != nil {
		return fmt.Errorf("config initialization failed: %w", err)
	}

	logger, err := initLogger(opts)
	if err != nil {
		return fmt.Errorf("logger initialization failed: %w", err)
	}

	cliCtx := &CLIContext{
		Config:       cfg,
		Logger:       logger,
		OutputFormat: strings.ToLower(opts.OutputFormat),
		Verbose:      opts.Verbose,
		Timeout:      opts.Timeout,
		build:        build,
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	cmd.SetContext(context.WithValue(ctx, cliContextKey{}, cliCtx))
	return nil
}

// initConfig loads the first config file found, or defaults. Environment
// overrides apply either way.
func initConfig(stderr io.Writer, opts *RootOptions) (*config.Config, error) {
	if opts.ConfigPath != "" {
		return config.Load(opts.ConfigPath)
	}

	searchPaths := []string{"./medplan.yaml", "./configs/config.yaml"}
	if homeDir, err := os.UserHomeDir(); err == nil {
		searchPaths = append(searchPaths, filepath.Join(homeDir, ".medplan", "config.yaml"))
	}
	searchPaths = append(searchPaths, "/etc/medplan/config.yaml")

	for _, p := range searchPaths {
		if _, statErr := os.Stat(p); statErr == nil {
			return config.Load(p)
		}
	}

	if opts.Verbose {
		fmt.Fprintln(stderr, "no config file found, using defaults")
	}
	return config.LoadFromEnv()
}

// initLogger creates a console logger on stderr so stdout stays parseable.
func initLogger(opts *RootOptions) (logging.Logger, error) {
	level := logging.LevelWarn
	switch strings.ToLower(opts.LogLevel) {
	case logging.LevelDebug, logging.LevelInfo, logging.LevelWarn, logging.LevelError:
		level = strings.ToLower(opts.LogLevel)
	}
	if opts.Verbose {
		level = logging.LevelDebug
	}

	return logging.NewLogger(logging.LogConfig{
		Level:            level,
		Format:           "console",
		OutputPaths:      []string{"stderr"},
		ErrorOutputPaths: []string{"stderr"},
	})
}

// GetCLIContext extracts CLIContext from a cobra command's context.
func GetCLIContext(cmd *cobra.Command) (*CLIContext, error) {
	ctx := cmd.Context()
	if ctx == nil {
		return nil, errors.NewValidationError("context", "command context is nil")
	}
	cliCtx, ok := ctx.Value(cliContextKey{}).(*CLIContext)
	if !ok || cliCtx == nil {
		return nil, errors.NewValidationError("context", "CLIContext not found in command context")
	}
	return cliCtx, nil
}

// commandContext bounds a command by --timeout.
func commandContext(cmd *cobra.Command, cliCtx *CLIContext) (context.Context, context.CancelFunc) {
	if cliCtx.Timeout > 0 {
		return context.WithTimeout(cmd.Context(), cliCtx.Timeout)
	}
	return context.WithCancel(cmd.Context())
}

// runWithApp builds the pipeline, runs fn under --timeout and releases
// every resource afterwards, whether fn fails or not.
func runWithApp(cmd *cobra.Command, fn func(ctx context.Context, cliCtx *CLIContext, a *app.App) error) error {
	cliCtx, err := GetCLIContext(cmd)
	if err != nil {
		return err
	}
	defer cliCtx.close()

	a, err := cliCtx.App()
	if err != nil {
		return err
	}
	ctx, cancel := commandContext(cmd, cliCtx)
	defer cancel()
	return fn(ctx, cliCtx, a)
}

// Execute is the main entry point for the CLI application.
func Execute() error {
	rootCmd := NewRootCommand()
	if err := rootCmd.Execute(); err != nil {
		PrintError(rootCmd, err)
		return err
	}
	return nil
}

// printJSON outputs data as indented JSON.
func printJSON(w io.Writer, data interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(data)
}

// PrintError writes a formatted error message to stderr. Application errors
// show their user-facing message and code.
func PrintError(cmd *cobra.Command, err error) {
	if err == nil {
		return
	}
	var ae *errors.AppError
	if errors.As(err, &ae) {
		fmt.Fprintf(cmd.ErrOrStderr(), "%s %s [%s]\n", color.RedString("Error:"), ae.Message, ae.Code)
		if ae.Detail != "" {
			fmt.Fprintf(cmd.ErrOrStderr(), "  %s\n", ae.Detail)
		}
		return
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "%s %s\n", color.RedString("Error:"), err.Error())
}
