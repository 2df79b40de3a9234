package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/turtacn/MedPlan-Intelligence/internal/app"
	"github.com/turtacn/MedPlan-Intelligence/internal/infrastructure/database/postgres"
	"github.com/turtacn/MedPlan-Intelligence/pkg/errors"
)

// NewMigrateCmd creates the migrate command group for the drug_info schema.
func NewMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the drug information database schema",
	}

	var steps int
	down := &cobra.Command{
		Use:   "down",
		Short: "Roll back applied migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(cmd, func(mg *postgres.Migrator) error {
				if err := mg.Down(steps); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "rolled back %d migration(s)\n", steps)
				return nil
			})
		},
	}
	down.Flags().IntVar(&steps, "steps", 1, "number of migrations to roll back")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			RunE: func(cmd *cobra.Command, args []string) error {
				return withMigrator(cmd, func(mg *postgres.Migrator) error {
					if err := mg.Up(); err != nil {
						return err
					}
					fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
					return nil
				})
			},
		},
		down,
		&cobra.Command{
			Use:   "status",
			Short: "Show the current schema version",
			RunE: func(cmd *cobra.Command, args []string) error {
				return withMigrator(cmd, func(mg *postgres.Migrator) error {
					version, dirty, err := mg.Status()
					if err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "version: %d\ndirty: %t\n", version, dirty)
					if bundled, err := postgres.EmbeddedMigrations(); err == nil {
						fmt.Fprintf(cmd.OutOrStdout(), "bundled files: %d\n", len(bundled))
					}
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "force VERSION",
			Short: "Set the schema version without running migrations",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				version, err := strconv.Atoi(args[0])
				if err != nil {
					return errors.NewValidationError("version", "must be an integer")
				}
				return withMigrator(cmd, func(mg *postgres.Migrator) error {
					if err := mg.Force(version); err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "forced version %d\n", version)
					return nil
				})
			},
		},
	)
	return cmd
}

// withMigrator opens the configured database, runs fn and closes both the
// migrator and the pool.
func withMigrator(cmd *cobra.Command, fn func(mg *postgres.Migrator) error) error {
	cliCtx, err := GetCLIContext(cmd)
	if err != nil {
		return err
	}
	defer cliCtx.close()

	conn, err := postgres.NewConnection(app.PostgresConfig(cliCtx.Config.Database), cliCtx.Logger)
	if err != nil {
		return err
	}
	mg, err := postgres.NewMigrator(conn.DB(), cliCtx.Config.Database.MigrationPath, cliCtx.Logger)
	if err != nil {
		_ = conn.Close()
		return err
	}
	defer mg.Close()
	return fn(mg)
}
